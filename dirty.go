package colcache

import (
	"slices"

	"github.com/bits-and-blooms/bitset"
)

// Dirty tracking is orthogonal to staleness: dirty means "modified by the
// user, needs to be persisted", stale means "needs to be recomputed".

func (s *Store) MarkDirty(m ModelHandle, id RecordID, f FieldHandle) {
	rk := recordKey{m, id}
	bs := s.dirty[rk]
	if bs == nil {
		bs = bitset.New(uint(f) + 1)
		s.dirty[rk] = bs
	}
	bs.Set(uint(f))
}

func (s *Store) IsDirty(m ModelHandle, id RecordID, f FieldHandle) bool {
	bs := s.dirty[recordKey{m, id}]
	return bs != nil && bs.Test(uint(f))
}

// DirtyFields returns the dirty fields of a record in ascending order.
func (s *Store) DirtyFields(m ModelHandle, id RecordID) []FieldHandle {
	bs := s.dirty[recordKey{m, id}]
	if bs == nil {
		return nil
	}
	return bitsetFields(bs)
}

func (s *Store) ClearDirty(m ModelHandle, id RecordID) {
	delete(s.dirty, recordKey{m, id})
}

// ClearDirtyField unmarks a single field, dropping the record's dirty set
// once it becomes empty.
func (s *Store) ClearDirtyField(m ModelHandle, id RecordID, f FieldHandle) {
	rk := recordKey{m, id}
	bs := s.dirty[rk]
	if bs == nil {
		return
	}
	bs.Clear(uint(f))
	if bs.None() {
		delete(s.dirty, rk)
	}
}

// DirtyRecords returns the records of a model that have dirty fields, in
// ascending order.
func (s *Store) DirtyRecords(m ModelHandle) []RecordID {
	var ids []RecordID
	for rk := range s.dirty {
		if rk.model == m {
			ids = append(ids, rk.id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (s *Store) HasDirty() bool {
	return len(s.dirty) > 0
}

func bitsetFields(bs *bitset.BitSet) []FieldHandle {
	result := make([]FieldHandle, 0, bs.Count())
	for i, ok := bs.NextSet(0); ok; i, ok = bs.NextSet(i + 1) {
		result = append(result, FieldHandle(i))
	}
	return result
}
