package txn

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/recnav/internal/sqlite"
	"github.com/mesh-intelligence/recnav/pkg/types"
)

// recordingConn logs every statement and fails on demand.
type recordingConn struct {
	calls []string
	fail  map[string]error
}

func (r *recordingConn) do(op string) error {
	r.calls = append(r.calls, op)
	return r.fail[op]
}

func (r *recordingConn) Begin() error { return r.do("begin") }
func (r *recordingConn) Commit() error { return r.do("commit") }
func (r *recordingConn) Rollback() error { return r.do("rollback") }
func (r *recordingConn) Savepoint(string) error { return r.do("savepoint") }
func (r *recordingConn) ReleaseSavepoint(string) error { return r.do("release") }
func (r *recordingConn) RollbackToSavepoint(string) error { return r.do("rollback_to") }

func TestNestedCommit(t *testing.T) {
	conn := &recordingConn{}
	c := New(conn, nil)
	parent := c.Scope("areas")
	child := c.Scope("modules")

	require.NoError(t, parent.Begin())
	require.NoError(t, child.Begin())
	assert.Equal(t, 2, c.Depth())
	assert.Equal(t, 1, child.Open())

	require.NoError(t, child.CommitOne())
	require.NoError(t, parent.CommitOne())
	assert.Zero(t, c.Depth())
	assert.Equal(t, []string{"begin", "savepoint", "release", "commit"}, conn.calls)
}

func TestNestedRollback(t *testing.T) {
	conn := &recordingConn{}
	c := New(conn, nil)
	s := c.Scope("areas")

	require.NoError(t, s.Begin())
	require.NoError(t, s.Begin())
	require.NoError(t, s.RollbackOne())
	require.NoError(t, s.RollbackOne())
	assert.Equal(t, []string{"begin", "savepoint", "rollback_to", "rollback"}, conn.calls)
}

func TestScopeCannotCloseForeignLevel(t *testing.T) {
	c := New(&recordingConn{}, nil)
	parent := c.Scope("areas")
	child := c.Scope("modules")
	stranger := c.Scope("users")

	require.NoError(t, parent.Begin())
	require.NoError(t, child.Begin())

	assert.ErrorIs(t, stranger.CommitOne(), types.ErrNoTransaction)
	assert.ErrorIs(t, parent.CommitOne(), types.ErrSavepointNotOwned, "parent level is below the child's")
	assert.ErrorIs(t, parent.RollbackOne(), types.ErrSavepointNotOwned)
	assert.Equal(t, 2, c.Depth(), "failed closes leave the stack untouched")

	require.NoError(t, child.RollbackOne())
	require.NoError(t, parent.RollbackOne())
}

func TestCommitFailureRollsBack(t *testing.T) {
	conn := &recordingConn{fail: map[string]error{"commit": errors.New("disk full")}}
	c := New(conn, nil)
	s := c.Scope("areas")

	require.NoError(t, s.Begin())
	err := s.CommitOne()
	assert.ErrorIs(t, err, types.ErrTransaction)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, []string{"begin", "commit", "rollback"}, conn.calls)
	assert.Zero(t, c.Depth())
	assert.Zero(t, s.Open())
}

func TestReleaseFailureRollsBackToSavepoint(t *testing.T) {
	conn := &recordingConn{fail: map[string]error{"release": errors.New("busy")}}
	c := New(conn, nil)
	s := c.Scope("areas")

	require.NoError(t, s.Begin())
	require.NoError(t, s.Begin())
	assert.ErrorIs(t, s.CommitOne(), types.ErrTransaction)
	assert.Equal(t, 1, c.Depth())
	assert.Equal(t, "rollback_to", conn.calls[len(conn.calls)-1])
	require.NoError(t, s.CommitOne())
}

func TestBeginFailureLeavesNoLevel(t *testing.T) {
	conn := &recordingConn{fail: map[string]error{"begin": errors.New("locked")}}
	c := New(conn, nil)
	s := c.Scope("areas")

	assert.ErrorIs(t, s.Begin(), types.ErrTransaction)
	assert.Zero(t, c.Depth())
	begins, closes := s.Balance()
	assert.Zero(t, begins)
	assert.Zero(t, closes)
}

func TestBalanceAndRollbackAll(t *testing.T) {
	c := New(&recordingConn{}, nil)
	s := c.Scope("areas")
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Begin())
	}
	require.NoError(t, s.CommitOne())
	require.NoError(t, s.RollbackAll())

	begins, closes := s.Balance()
	assert.Equal(t, 3, begins)
	assert.Equal(t, begins, closes)
	assert.Zero(t, c.Depth())
}

func TestSavepointNamesAreIdentifiers(t *testing.T) {
	name := savepointName()
	assert.True(t, strings.HasPrefix(name, "sv_"))
	assert.NotContains(t, name, "-")
	assert.NotEqual(t, name, savepointName())
}

func TestCoordinatorOnSQLite(t *testing.T) {
	b := sqlite.NewBackend(nil)
	cfg := types.DefaultConfig()
	cfg.Database = filepath.Join(t.TempDir(), "recnav.db")
	require.NoError(t, b.Attach(cfg))
	t.Cleanup(func() { _ = b.Detach() })
	_, err := b.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	c := New(b, nil)
	outer := c.Scope("outer")
	inner := c.Scope("inner")

	require.NoError(t, outer.Begin())
	_, err = b.Exec("INSERT INTO t (id) VALUES (1)")
	require.NoError(t, err)

	require.NoError(t, inner.Begin())
	_, err = b.Exec("INSERT INTO t (id) VALUES (2)")
	require.NoError(t, err)
	require.NoError(t, inner.RollbackOne())

	require.NoError(t, inner.Begin())
	_, err = b.Exec("INSERT INTO t (id) VALUES (3)")
	require.NoError(t, err)
	require.NoError(t, inner.CommitOne())
	require.NoError(t, outer.CommitOne())

	rows, err := b.Query("SELECT id FROM t ORDER BY id")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0][0])
	assert.Equal(t, int64(3), rows[1][0])
}
