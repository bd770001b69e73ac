package colcache

import (
	"reflect"
)

const DefaultInitialCapacity = 16

// anyColumn is the type-erased view of a *Column[T] used by the Store to keep
// columns of different types in one map.
type anyColumn interface {
	Key() FieldKey
	Kind() ValueKind
	Type() reflect.Type
	Len() int
	Cap() int
	Has(id RecordID) bool
	IDs() []RecordID

	getAny(id RecordID) (any, bool)
	setAny(id RecordID, v any) error
}

// Column holds the values of one field across the records of one model.
//
// Values live in a dense slice; index maps record IDs to slots. Slots are
// only ever appended, so a slot index stays valid for the column's lifetime.
// When the dense slice is full its capacity doubles.
type Column[T Value] struct {
	key    FieldKey
	values []T
	ids    []RecordID
	index  map[RecordID]int
	count  int
}

func newColumn[T Value](key FieldKey, initialCap int) *Column[T] {
	if initialCap <= 0 {
		initialCap = DefaultInitialCapacity
	}
	return &Column[T]{
		key:    key,
		values: make([]T, initialCap),
		ids:    make([]RecordID, initialCap),
		index:  make(map[RecordID]int, initialCap),
	}
}

func (col *Column[T]) Key() FieldKey      { return col.key }
func (col *Column[T]) Kind() ValueKind    { return kindOf[T]() }
func (col *Column[T]) Type() reflect.Type { return reflect.TypeFor[T]() }
func (col *Column[T]) Len() int           { return col.count }
func (col *Column[T]) Cap() int           { return len(col.values) }

func (col *Column[T]) Has(id RecordID) bool {
	_, found := col.index[id]
	return found
}

// Get returns the value stored for id, or the zero value of T.
func (col *Column[T]) Get(id RecordID) T {
	if slot, found := col.index[id]; found {
		return col.values[slot]
	}
	var zero T
	return zero
}

func (col *Column[T]) GetBatch(ids []RecordID) []T {
	result := make([]T, len(ids))
	for i, id := range ids {
		if slot, found := col.index[id]; found {
			result[i] = col.values[slot]
		}
	}
	return result
}

func (col *Column[T]) Set(id RecordID, v T) {
	if slot, found := col.index[id]; found {
		col.values[slot] = v
		return
	}
	if col.count == len(col.values) {
		col.grow()
	}
	slot := col.count
	col.values[slot] = v
	col.ids[slot] = id
	col.index[id] = slot
	col.count++
}

// SetBatch writes values[i] for ids[i] in order, so the last value wins for a
// repeated id. Nothing is written if the lengths differ.
func (col *Column[T]) SetBatch(ids []RecordID, values []T) error {
	if len(ids) != len(values) {
		return &SizeMismatchError{Key: col.key, IDs: len(ids), Values: len(values)}
	}
	for i, id := range ids {
		col.Set(id, values[i])
	}
	return nil
}

// IDs returns the record IDs present in the column, in slot order.
func (col *Column[T]) IDs() []RecordID {
	return append([]RecordID(nil), col.ids[:col.count]...)
}

func (col *Column[T]) grow() {
	n := 2 * len(col.values)
	if n == 0 {
		n = DefaultInitialCapacity
	}
	values := make([]T, n)
	copy(values, col.values[:col.count])
	ids := make([]RecordID, n)
	copy(ids, col.ids[:col.count])
	col.values, col.ids = values, ids
}

func (col *Column[T]) getAny(id RecordID) (any, bool) {
	slot, found := col.index[id]
	if !found {
		return nil, false
	}
	return col.values[slot], true
}

func (col *Column[T]) setAny(id RecordID, v any) error {
	tv, ok := v.(T)
	if !ok {
		return typeMismatch(col.key, col.Type(), reflect.TypeOf(v))
	}
	col.Set(id, tv)
	return nil
}
