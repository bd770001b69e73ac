package colcache

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	ErrSizeMismatch  = errors.New("size mismatch")
	ErrTypeMismatch  = errors.New("type mismatch")
	ErrNoCompute     = errors.New("no compute routine")
	ErrRecomputeLoop = errors.New("recompute did not converge")
	ErrNoBackend     = errors.New("no backend configured")
)

// SizeMismatchError is returned by batch writes whose ids and values differ
// in length. Nothing is written when it is returned.
type SizeMismatchError struct {
	Key    FieldKey
	IDs    int
	Values int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("%v: %v: %d ids, %d values", e.Key, ErrSizeMismatch, e.IDs, e.Values)
}

func (e *SizeMismatchError) Unwrap() error {
	return ErrSizeMismatch
}

// TypeMismatchError is returned when a column (or a schema-declared field) is
// accessed as a type other than the one it is bound to.
type TypeMismatchError struct {
	Key  FieldKey
	Want reflect.Type
	Got  reflect.Type
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%v: %v: column holds %v, accessed as %v", e.Key, ErrTypeMismatch, e.Want, e.Got)
}

func (e *TypeMismatchError) Unwrap() error {
	return ErrTypeMismatch
}

func typeMismatch(key FieldKey, want, got reflect.Type) error {
	return &TypeMismatchError{Key: key, Want: want, Got: got}
}

type FieldError struct {
	Model  *Model
	Field  *Field
	Record RecordID
	Msg    string
	Err    error
}

func fieldErrf(fld *Field, rec RecordID, err error, format string, args ...any) error {
	var model *Model
	if fld != nil {
		model = fld.model
	}
	return &FieldError{model, fld, rec, fmt.Sprintf(format, args...), err}
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func (e *FieldError) Error() string {
	var buf strings.Builder
	if e.Model != nil {
		buf.WriteString(e.Model.Name())
	}
	if e.Field != nil {
		buf.WriteByte('.')
		buf.WriteString(e.Field.Name())
	}
	if e.Record != 0 {
		fmt.Fprintf(&buf, "#%d", e.Record)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}
