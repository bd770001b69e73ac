package colcache

import (
	"slices"
	"testing"
)

func newTestTracker() *Tracker {
	// (1,1) -> (1,3), (1,2) -> (1,3), (1,3) -> (1,4), (1,1) -> (2,1)
	return NewTracker(BuildGraph([]Edge{
		{FieldKey{1, 1}, FieldKey{1, 3}},
		{FieldKey{1, 2}, FieldKey{1, 3}},
		{FieldKey{1, 3}, FieldKey{1, 4}},
		{FieldKey{1, 1}, FieldKey{2, 1}},
	}))
}

func TestTrackerPropagatesOneHop(t *testing.T) {
	tr := newTestTracker()
	tr.Modified(1, 10, 1)

	if !tr.NeedsRecompute(1, 10, 3) || !tr.NeedsRecompute(2, 10, 1) {
		t.Errorf("** direct dependents not marked")
	}
	if tr.NeedsRecompute(1, 10, 4) {
		t.Errorf("** second-hop dependent marked")
	}
	if tr.NeedsRecompute(1, 11, 3) || tr.NeedsRecompute(1, 10, 1) {
		t.Errorf("** spurious staleness")
	}
	if tr.PendingCount() != 2 {
		t.Errorf("** PendingCount = %d, wanted 2", tr.PendingCount())
	}
}

func TestTrackerNoDependents(t *testing.T) {
	tr := newTestTracker()
	tr.Modified(1, 10, 4)
	tr.ModifiedRecords(3, []RecordID{1, 2}, 1)
	if tr.HasPendingRecompute() {
		t.Errorf("** modifying a field without dependents marked something")
	}
}

func TestTrackerRecordsToRecompute(t *testing.T) {
	tr := newTestTracker()
	tr.ModifiedRecords(1, []RecordID{30, 10, 20}, 2)
	tr.MarkToRecompute(1, 5, 3)

	var got []RecordID
	for id := range tr.RecordsToRecompute(1, 3) {
		got = append(got, id)
		tr.ClearRecompute(1, id, 3)
	}
	deepEqual(t, got, []RecordID{5, 10, 20, 30})
	if tr.HasPendingRecompute() {
		t.Errorf("** records left after clearing during iteration")
	}
	if ids := slices.Collect(tr.RecordsToRecompute(1, 3)); len(ids) != 0 {
		t.Errorf("** RecordsToRecompute after clear = %v", ids)
	}
}

func TestTrackerClear(t *testing.T) {
	tr := newTestTracker()
	tr.ClearRecompute(1, 1, 3)

	tr.ModifiedFields(1, 7, []FieldHandle{1, 3})
	deepEqual(t, tr.FieldsToRecompute(1, 7), []FieldHandle{3, 4})
	deepEqual(t, tr.FieldsToRecompute(2, 7), []FieldHandle{1})

	tr.ClearRecord(1, 7)
	if tr.FieldsToRecompute(1, 7) != nil {
		t.Errorf("** ClearRecord kept fields")
	}
	if !tr.NeedsRecompute(2, 7, 1) {
		t.Errorf("** ClearRecord cleared another model")
	}

	tr.MarkRecordsToRecompute(1, []RecordID{1, 2}, 4)
	tr.ClearAll()
	if tr.HasPendingRecompute() || tr.PendingCount() != 0 {
		t.Errorf("** ClearAll kept state")
	}
}

func TestTrackerAllPending(t *testing.T) {
	tr := newTestTracker()
	tr.MarkToRecompute(2, 3, 1)
	tr.MarkToRecompute(1, 9, 4)
	tr.MarkToRecompute(1, 2, 4)
	tr.MarkToRecompute(1, 5, 3)

	deepEqual(t, slices.Collect(tr.AllPendingRecompute()), []Pending{
		{Model: 1, Record: 5, Field: 3},
		{Model: 1, Record: 2, Field: 4},
		{Model: 1, Record: 9, Field: 4},
		{Model: 2, Record: 3, Field: 1},
	})
	deepEqual(t, tr.pendingFields(), []FieldKey{{1, 3}, {1, 4}, {2, 1}})
}

func TestTrackerNilGraph(t *testing.T) {
	tr := NewTracker(nil)
	tr.Modified(1, 1, 1)
	if tr.HasPendingRecompute() {
		t.Errorf("** empty graph propagated")
	}
	tr.MarkToRecompute(1, 1, 1)
	if !tr.NeedsRecompute(1, 1, 1) {
		t.Errorf("** MarkToRecompute ignored")
	}
}
