package colcache

import (
	"context"
	"fmt"
)

type Op int

const (
	OpNone Op = 0
	OpPut  Op = 1
)

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpPut:
		return "put"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

// Change is one dirty value handed to a Backend on flush.
type Change struct {
	field  *Field
	op     Op
	record RecordID
	value  any
}

// PutChange describes storing v as the value of fld for record id.
func PutChange(fld *Field, id RecordID, v any) Change {
	return Change{field: fld, op: OpPut, record: id, value: v}
}

func (chg Change) Model() *Model {
	return chg.field.model
}
func (chg Change) Field() *Field {
	return chg.field
}
func (chg Change) Op() Op {
	return chg.op
}
func (chg Change) Record() RecordID {
	return chg.record
}
func (chg Change) Value() any {
	return chg.value
}

func (chg Change) String() string {
	return fmt.Sprintf("%s %v#%d = %v", chg.op, chg.field, chg.record, chg.value)
}

// Backend is the source of truth behind the cache. The cache never faults
// values in on its own; Env.Load asks the backend and bulk-loads the result.
//
// Fetch may be called concurrently for different fields of the same model.
type Backend interface {
	// Fetch returns the stored values of fld for ids. IDs without a stored
	// value are omitted. Values must have the field's Go type.
	Fetch(ctx context.Context, model *Model, fld *Field, ids []RecordID) (map[RecordID]any, error)

	// Persist stores all changes atomically.
	Persist(ctx context.Context, changes []Change) error
}
