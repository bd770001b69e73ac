package colcache

import (
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpModelHeaders = DumpFlags(1 << iota)
	DumpValues
	DumpDirty
	DumpStale
	DumpStats

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the cache contents as text, ordered by model, field and
// record. Meant for tests and debugging.
func (env *Env) Dump(f DumpFlags) string {
	var buf strings.Builder
	for _, model := range env.schema.models {
		env.dumpModel(&buf, f, model)
	}
	if f.Contains(DumpStats) {
		s := env.stats.Snapshot()
		fmt.Fprintln(&buf, dumpSep1)
		fmt.Fprintf(&buf, "stats: writes = %d, bulk_loaded = %d, recomputes = %d, recomputed_records = %d, loads = %d, flushes = %d, flushed_values = %d\n",
			s.Writes, s.BulkLoaded, s.Recomputes, s.RecomputedRecords, s.Loads, s.Flushes, s.FlushedValues)
	}
	return buf.String()
}

func (env *Env) dumpModel(w *strings.Builder, f DumpFlags, model *Model) {
	if f.Contains(DumpModelHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d fields, %d dirty records)\n", model.name, len(model.fields), len(env.store.DirtyRecords(model.handle)))
	}
	if f.Contains(DumpValues) {
		for _, fld := range model.fields {
			env.store.dumpColumn(w, fld)
		}
	}
	if f.Contains(DumpDirty) {
		for _, id := range env.store.DirtyRecords(model.handle) {
			fmt.Fprintf(w, "%s#%d dirty: %s\n", model.name, id, fieldNames(model, env.store.DirtyFields(model.handle, id)))
		}
	}
	if f.Contains(DumpStale) {
		for _, fld := range model.fields {
			for id := range env.tracker.RecordsToRecompute(model.handle, fld.handle) {
				fmt.Fprintf(w, "%s#%d stale\n", fld, id)
			}
		}
	}
}

func (s *Store) dumpColumn(w *strings.Builder, fld *Field) {
	col := s.columns[fld.Key()]
	if col == nil {
		return
	}
	fmt.Fprintln(w, dumpSep2)
	fmt.Fprintf(w, "%s %v (%d/%d)\n", fld, col.Type(), col.Len(), col.Cap())
	ids := col.IDs()
	sortIDs(ids)
	for _, id := range ids {
		v, _ := col.getAny(id)
		fmt.Fprintf(w, "%s#%d = %v\n", fld, id, v)
	}
}

func fieldNames(model *Model, fs []FieldHandle) string {
	names := make([]string, len(fs))
	for i, f := range fs {
		if fld := model.Field(f); fld != nil {
			names[i] = fld.name
		} else {
			names[i] = f.String()
		}
	}
	return strings.Join(names, ", ")
}
