//go:build cgo

package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/recnav/pkg/types"
)

func attachSQLite3(t *testing.T) *Backend {
	t.Helper()
	b := NewBackend(nil)
	cfg := types.DefaultConfig()
	cfg.Driver = types.DriverSQLite3
	cfg.Database = filepath.Join(t.TempDir(), "cgo", "recnav.db")
	require.NoError(t, b.Attach(cfg))
	t.Cleanup(func() { _ = b.Detach() })
	return b
}

func TestBackend_SQLite3Driver(t *testing.T) {
	b := attachSQLite3(t)
	m := itemsTable()
	require.NoError(t, b.CreateTable(m))

	_, err := b.Exec("INSERT INTO items (id, name, price, active, since) VALUES (1, 'bolt', 0.25, 1, '2024-01-15')")
	require.NoError(t, err)

	rows, err := b.Query("SELECT name, price, active, since FROM items WHERE id = 1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bolt", rows[0][0])
	assert.Equal(t, 0.25, rows[0][1])
	assert.Equal(t, int64(1), rows[0][2])
	assert.Equal(t, "2024-01-15", rows[0][3])

	next, err := b.NextSerial("items", "id")
	require.NoError(t, err)
	assert.Equal(t, int64(2), next)
}

func TestBackend_SQLite3Savepoints(t *testing.T) {
	b := attachSQLite3(t)
	require.NoError(t, b.CreateTable(itemsTable()))

	require.NoError(t, b.Begin())
	_, err := b.Exec("INSERT INTO items (id, name) VALUES (1, 'kept')")
	require.NoError(t, err)
	require.NoError(t, b.Savepoint("sv_inner"))
	_, err = b.Exec("INSERT INTO items (id, name) VALUES (2, 'dropped')")
	require.NoError(t, err)
	require.NoError(t, b.RollbackToSavepoint("sv_inner"))
	require.NoError(t, b.Commit())

	n, err := b.Count("SELECT COUNT(*) FROM items")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExportImportAcrossDrivers(t *testing.T) {
	src := attachTemp(t)
	m := itemsTable()
	require.NoError(t, src.CreateTable(m))
	_, err := src.Exec("INSERT INTO items (id, name, active) VALUES (1, 'bolt', 1), (2, 'nut', 0)")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "items.jsonl")
	_, err = src.Export(m, path)
	require.NoError(t, err)

	dst := attachSQLite3(t)
	require.NoError(t, dst.CreateTable(m))
	n, err := dst.Import(m, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := dst.Query("SELECT name, active FROM items ORDER BY id")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "nut", rows[1][0])
	assert.Equal(t, int64(0), rows[1][1])
}
