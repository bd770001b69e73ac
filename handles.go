package colcache

import "strconv"

// ModelHandle identifies a model (entity type) within a Schema. Handles are
// assigned sequentially starting from 1; zero is never a valid handle.
type ModelHandle uint32

// FieldHandle identifies a field within its model. Like model handles, field
// handles start from 1 and are unique only within the owning model.
type FieldHandle uint32

// RecordID identifies a record within its model. IDs are supplied by callers;
// the cache never allocates them.
type RecordID uint64

// FieldKey is the (model, field) pair that names a column and a node of the
// dependency graph.
type FieldKey struct {
	Model ModelHandle
	Field FieldHandle
}

func (h ModelHandle) IsValid() bool { return h != 0 }
func (h FieldHandle) IsValid() bool { return h != 0 }

func (h ModelHandle) String() string {
	return "m" + strconv.FormatUint(uint64(h), 10)
}

func (h FieldHandle) String() string {
	return "f" + strconv.FormatUint(uint64(h), 10)
}

func (k FieldKey) String() string {
	return k.Model.String() + "." + k.Field.String()
}

// recordKey addresses one record of one model; dirty sets are keyed by it.
type recordKey struct {
	model ModelHandle
	id    RecordID
}
