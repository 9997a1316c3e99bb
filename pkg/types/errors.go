package types

import "errors"

// Cursor state errors. These are raised immediately and never retried.
var (
	ErrNoMetadata  = errors.New("cursor has no metadata")
	ErrNoBuffer    = errors.New("cursor has no buffer")
	ErrInvalidMode = errors.New("operation not allowed in the current access mode")
	ErrReadOnly    = errors.New("field is not writable")
	ErrCancelled   = errors.New("operation cancelled")
	ErrHookFailed  = errors.New("hook rejected the operation")
	ErrSessionDone = errors.New("session is closed")
)

// Query errors.
var (
	ErrInvalidSort = errors.New("invalid sort order")
)

// Value errors.
var (
	ErrCoerce = errors.New("value cannot be converted to the field type")
)

// Transaction errors. A failing commit or release is rolled back before the
// error reaches the caller.
var (
	ErrTransaction       = errors.New("transaction error")
	ErrNoTransaction     = errors.New("no transaction level is open")
	ErrSavepointNotOwned = errors.New("savepoint not owned by caller")
)

// Concurrency errors.
var (
	ErrConcurrentDelete = errors.New("record was deleted or expired concurrently")
)

// Row index errors.
var (
	ErrIndexExhausted = errors.New("row index source exhausted")
	ErrUnorderedIndex = errors.New("row index order is not comparable")
)

// ErrIntegrity matches every *IntegrityError through errors.Is.
var ErrIntegrity = errors.New("integrity violation")

// IntegrityError carries the aggregated, user-facing message produced by the
// integrity checker. The message lists every violation found, one per line.
type IntegrityError struct {
	Table   string
	Message string
}

func (e *IntegrityError) Error() string {
	return e.Table + ": integrity violation:" + e.Message
}

// Is makes errors.Is(err, ErrIntegrity) true for integrity errors.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// Backend lifecycle errors.
var (
	ErrBackendDetached = errors.New("backend is detached")
	ErrAlreadyAttached = errors.New("backend is already attached")
)
