package db

import "errors"

// Sentinel errors for database operations.
var (
	ErrKeyNotFound      = errors.New("db: key not found")
	ErrLockNotAcquired  = errors.New("db: lock held by another owner")
	ErrIndexNotFound    = errors.New("db: index not found")
	ErrInvalidQuery     = errors.New("db: invalid query")
	ErrUnexpectedFormat = errors.New("db: unexpected reply format")
)

// Op constants map to Valkey/Redis command names for error context.
const (
	OpSearch = "FT.SEARCH"
	OpGet    = "GET"
	OpSet    = "SET"
	OpDel    = "DEL"
	OpEval   = "EVAL"
	OpScan   = "SCAN"
)

// Error wraps an underlying error with the operation name for diagnostics.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
