package backend

import (
	"errors"
	"fmt"
)

var (
	ErrSchemaMismatch = errors.New("schema fingerprint mismatch")
	ErrKindMismatch   = errors.New("stored value kind does not match field")
	ErrClosed         = errors.New("backend closed")
)

// DataError reports a stored value that cannot be decoded.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		}
		return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
	}
	p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
	}
	return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
}

// SchemaMismatchError is returned by Open in strict mode when the database
// was written with a different schema.
type SchemaMismatchError struct {
	Stored uint64
	Actual uint64
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("%v: stored %016x, schema %016x", ErrSchemaMismatch, e.Stored, e.Actual)
}

func (e *SchemaMismatchError) Unwrap() error {
	return ErrSchemaMismatch
}
