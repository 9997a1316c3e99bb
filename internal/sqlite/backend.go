// Package sqlite implements the query and execution backend of the cursor
// engine on SQLite. All statements of a Backend run on one pinned
// connection so that transactions and savepoints opened by BEGIN and
// SAVEPOINT statements span every cursor of a session.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/recnav/internal/logging"
	"github.com/mesh-intelligence/recnav/pkg/types"
)

// Backend implements types.Conn on a SQLite database file.
type Backend struct {
	mu       sync.Mutex
	attached bool
	config   types.Config
	db       *sql.DB
	conn     *sql.Conn
	log      *slog.Logger
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend(log *slog.Logger) *Backend {
	if log == nil {
		log = logging.Discard()
	}
	return &Backend{log: log}
}

// Attach opens the database named by config, creating its directory when
// needed. Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(config.Database); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating database dir: %w", err)
		}
	}

	db, err := sql.Open(config.Driver, config.Database)
	if err != nil {
		return fmt.Errorf("opening %s database: %w", config.Driver, err)
	}
	conn, err := db.Conn(context.Background())
	if err != nil {
		db.Close()
		return fmt.Errorf("pinning connection: %w", err)
	}

	b.db = db
	b.conn = conn
	b.config = config
	b.attached = true
	b.log.Info("database attached", "driver", config.Driver, "path", config.Database)
	return nil
}

// Detach releases the connection and closes the database. Detach is
// idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	var firstErr error
	if err := b.conn.Close(); err != nil {
		firstErr = err
	}
	if err := b.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	b.conn = nil
	b.db = nil
	b.attached = false
	b.log.Info("database detached")
	return firstErr
}

// Query runs a statement and returns every result row.
func (b *Backend) Query(query string, args ...any) ([]types.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil, types.ErrBackendDetached
	}
	b.log.Debug("query", "sql", query)
	rows, err := b.conn.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	var out []types.Row
	for rows.Next() {
		row := make(types.Row, len(cols))
		ptrs := make([]any, len(cols))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		for i, v := range row {
			if raw, ok := v.([]byte); ok {
				row[i] = string(raw)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Exec runs a statement and returns the number of affected rows.
func (b *Backend) Exec(query string, args ...any) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return 0, types.ErrBackendDetached
	}
	b.log.Debug("exec", "sql", query)
	res, err := b.conn.ExecContext(context.Background(), query, args...)
	if err != nil {
		return 0, fmt.Errorf("exec %q: %w", query, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Count runs a statement returning a single integer.
func (b *Backend) Count(query string, args ...any) (int, error) {
	rows, err := b.Query(query, args...)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	n, err := types.CoerceType(types.TypeInt, rows[0][0])
	if err != nil {
		return 0, fmt.Errorf("count result: %w", err)
	}
	if n == nil {
		return 0, nil
	}
	return int(n.(int64)), nil
}

// NextSerial returns one more than the largest value of field in table.
func (b *Backend) NextSerial(table, field string) (int64, error) {
	n, err := b.Count(fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) + 1 FROM %s", field, table))
	if err != nil {
		return 0, fmt.Errorf("next serial %s.%s: %w", table, field, err)
	}
	return int64(n), nil
}

// Begin opens a real database transaction.
func (b *Backend) Begin() error {
	_, err := b.Exec("BEGIN")
	return err
}

// Commit commits the open transaction.
func (b *Backend) Commit() error {
	_, err := b.Exec("COMMIT")
	return err
}

// Rollback aborts the open transaction.
func (b *Backend) Rollback() error {
	_, err := b.Exec("ROLLBACK")
	return err
}

// Savepoint pushes a named savepoint.
func (b *Backend) Savepoint(name string) error {
	_, err := b.Exec("SAVEPOINT " + name)
	return err
}

// ReleaseSavepoint releases a named savepoint.
func (b *Backend) ReleaseSavepoint(name string) error {
	_, err := b.Exec("RELEASE SAVEPOINT " + name)
	return err
}

// RollbackToSavepoint discards the work done after a named savepoint. The
// savepoint itself is released afterwards so that nesting stays balanced.
func (b *Backend) RollbackToSavepoint(name string) error {
	if _, err := b.Exec("ROLLBACK TO SAVEPOINT " + name); err != nil {
		return err
	}
	_, err := b.Exec("RELEASE SAVEPOINT " + name)
	return err
}
