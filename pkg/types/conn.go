package types

// Row is one result row; values are positional in select-list order.
type Row []any

// Conn is the query and execution backend a cursor session runs on. The
// engine builds SELECT, INSERT, UPDATE, DELETE and COUNT statements itself
// and delegates dialect details (value literals, transaction statements,
// serial generation) to the Conn.
type Conn interface {
	// Query runs a statement and returns every result row.
	Query(query string, args ...any) ([]Row, error)

	// Exec runs a statement and returns the number of affected rows.
	Exec(query string, args ...any) (int64, error)

	// Count runs a statement returning a single integer, usually COUNT(*).
	Count(query string, args ...any) (int, error)

	// NextSerial returns the next value of a serial field.
	NextSerial(table, field string) (int64, error)

	// Begin opens a real database transaction.
	Begin() error
	// Commit commits the open transaction.
	Commit() error
	// Rollback aborts the open transaction.
	Rollback() error
	// Savepoint pushes a named savepoint inside the open transaction.
	Savepoint(name string) error
	// ReleaseSavepoint releases a named savepoint, keeping its work.
	ReleaseSavepoint(name string) error
	// RollbackToSavepoint discards the work done after a named savepoint.
	RollbackToSavepoint(name string) error

	// FormatValue renders v as an SQL literal for a field of type t. When
	// upper is true string literals are upper-cased.
	FormatValue(t FieldType, v any, upper bool) string

	// FormatAssign renders "field = literal", or "field IS NULL" when v is nil.
	FormatAssign(f *FieldMetadata, v any, upper bool) string
}
