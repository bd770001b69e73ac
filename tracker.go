package colcache

import (
	"iter"
	"maps"
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Pending names one stale cell.
type Pending struct {
	Model  ModelHandle
	Record RecordID
	Field  FieldHandle
}

// Tracker records which (model, record, field) cells are stale. A cell
// becomes stale when a field it depends on is reported modified, or when it
// is marked explicitly; it becomes clean again when cleared, normally right
// after its compute routine has stored a fresh value.
//
// The tracker knows nothing about compute routines: marking a field that
// nobody can compute is allowed.
//
// Tracker is not safe for concurrent use.
type Tracker struct {
	graph   *Graph
	pending map[ModelHandle]map[FieldHandle]*roaring64.Bitmap
}

// NewTracker returns a tracker that propagates modifications along graph.
// The graph is only read. A nil graph behaves like an empty one.
func NewTracker(graph *Graph) *Tracker {
	if graph == nil {
		graph = NewGraph()
	}
	return &Tracker{
		graph:   graph,
		pending: make(map[ModelHandle]map[FieldHandle]*roaring64.Bitmap),
	}
}

func (t *Tracker) Graph() *Graph {
	return t.graph
}

// Modified marks every direct dependent of (m, f) stale for record id. It is
// a no-op for a field without dependents.
func (t *Tracker) Modified(m ModelHandle, id RecordID, f FieldHandle) {
	for _, dep := range t.graph.Dependents(m, f) {
		t.bitmap(dep.Model, dep.Field, true).Add(uint64(id))
	}
}

func (t *Tracker) ModifiedRecords(m ModelHandle, ids []RecordID, f FieldHandle) {
	deps := t.graph.Dependents(m, f)
	if len(deps) == 0 || len(ids) == 0 {
		return
	}
	raw := recordIDsToUint64(ids)
	for _, dep := range deps {
		t.bitmap(dep.Model, dep.Field, true).AddMany(raw)
	}
}

func (t *Tracker) ModifiedFields(m ModelHandle, id RecordID, fs []FieldHandle) {
	for _, f := range fs {
		t.Modified(m, id, f)
	}
}

// MarkToRecompute marks (m, id, f) stale without consulting the graph.
func (t *Tracker) MarkToRecompute(m ModelHandle, id RecordID, f FieldHandle) {
	t.bitmap(m, f, true).Add(uint64(id))
}

func (t *Tracker) MarkRecordsToRecompute(m ModelHandle, ids []RecordID, f FieldHandle) {
	if len(ids) == 0 {
		return
	}
	t.bitmap(m, f, true).AddMany(recordIDsToUint64(ids))
}

func (t *Tracker) NeedsRecompute(m ModelHandle, id RecordID, f FieldHandle) bool {
	bm := t.bitmap(m, f, false)
	return bm != nil && bm.Contains(uint64(id))
}

// RecordsToRecompute yields the stale records of (m, f) in ascending order.
// It iterates over a snapshot, so the caller may clear cells while iterating.
func (t *Tracker) RecordsToRecompute(m ModelHandle, f FieldHandle) iter.Seq[RecordID] {
	bm := t.bitmap(m, f, false)
	var snapshot []uint64
	if bm != nil {
		snapshot = bm.ToArray()
	}
	return func(yield func(RecordID) bool) {
		for _, id := range snapshot {
			if !yield(RecordID(id)) {
				return
			}
		}
	}
}

// FieldsToRecompute returns the stale fields of a record in ascending order.
func (t *Tracker) FieldsToRecompute(m ModelHandle, id RecordID) []FieldHandle {
	var result []FieldHandle
	for f, bm := range t.pending[m] {
		if bm.Contains(uint64(id)) {
			result = append(result, f)
		}
	}
	slices.Sort(result)
	return result
}

// ClearRecompute marks (m, id, f) clean. Clearing a clean cell is a no-op.
func (t *Tracker) ClearRecompute(m ModelHandle, id RecordID, f FieldHandle) {
	bm := t.bitmap(m, f, false)
	if bm == nil {
		return
	}
	bm.Remove(uint64(id))
	if bm.IsEmpty() {
		t.drop(m, f)
	}
}

func (t *Tracker) clearRecords(m ModelHandle, ids []RecordID, f FieldHandle) {
	bm := t.bitmap(m, f, false)
	if bm == nil {
		return
	}
	for _, id := range ids {
		bm.Remove(uint64(id))
	}
	if bm.IsEmpty() {
		t.drop(m, f)
	}
}

// ClearRecord marks every field of a record clean.
func (t *Tracker) ClearRecord(m ModelHandle, id RecordID) {
	for f, bm := range t.pending[m] {
		bm.Remove(uint64(id))
		if bm.IsEmpty() {
			t.drop(m, f)
		}
	}
}

func (t *Tracker) ClearAll() {
	clear(t.pending)
}

func (t *Tracker) HasPendingRecompute() bool {
	return len(t.pending) > 0
}

// PendingCount returns the number of stale cells.
func (t *Tracker) PendingCount() int {
	var n uint64
	for _, byField := range t.pending {
		for _, bm := range byField {
			n += bm.GetCardinality()
		}
	}
	return int(n)
}

// AllPendingRecompute yields every stale cell ordered by model, field and
// record. Like RecordsToRecompute, it iterates over a snapshot.
func (t *Tracker) AllPendingRecompute() iter.Seq[Pending] {
	var snapshot []Pending
	for _, m := range slices.Sorted(maps.Keys(t.pending)) {
		byField := t.pending[m]
		for _, f := range slices.Sorted(maps.Keys(byField)) {
			for _, id := range byField[f].ToArray() {
				snapshot = append(snapshot, Pending{Model: m, Record: RecordID(id), Field: f})
			}
		}
	}
	return func(yield func(Pending) bool) {
		for _, p := range snapshot {
			if !yield(p) {
				return
			}
		}
	}
}

// pendingFields returns the keys of all fields that have stale records,
// ordered by model and field.
func (t *Tracker) pendingFields() []FieldKey {
	var keys []FieldKey
	for m, byField := range t.pending {
		for f := range byField {
			keys = append(keys, FieldKey{m, f})
		}
	}
	slices.SortFunc(keys, compareFieldKeys)
	return keys
}

func (t *Tracker) bitmap(m ModelHandle, f FieldHandle, create bool) *roaring64.Bitmap {
	byField := t.pending[m]
	if byField == nil {
		if !create {
			return nil
		}
		byField = make(map[FieldHandle]*roaring64.Bitmap)
		t.pending[m] = byField
	}
	bm := byField[f]
	if bm == nil && create {
		bm = roaring64.New()
		byField[f] = bm
	}
	return bm
}

func (t *Tracker) drop(m ModelHandle, f FieldHandle) {
	byField := t.pending[m]
	delete(byField, f)
	if len(byField) == 0 {
		delete(t.pending, m)
	}
}

func recordIDsToUint64(ids []RecordID) []uint64 {
	raw := make([]uint64, len(ids))
	for i, id := range ids {
		raw[i] = uint64(id)
	}
	return raw
}
