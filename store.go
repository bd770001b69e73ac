package colcache

import (
	"cmp"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"

	"github.com/bits-and-blooms/bitset"
)

type Options struct {
	// InitialColumnCapacity is the number of slots a new column starts with.
	// Defaults to DefaultInitialCapacity.
	InitialColumnCapacity int

	Logger  *slog.Logger
	Verbose bool

	// Stats receives activity counters. A private instance is used if nil.
	Stats *Stats
}

// Store is the single entry point for field values. It keeps one Column per
// (model, field) pair, created on first write, and the per-record sets of
// dirty (user-modified, not yet persisted) fields.
//
// A cache miss is not an error: reading a value that was never written or
// loaded yields the zero value of the requested type. Use HasValue to tell
// "loaded and zero" apart from "never loaded".
//
// Store is not safe for concurrent use.
type Store struct {
	schema     *Schema
	columns    map[FieldKey]anyColumn
	dirty      map[recordKey]*bitset.BitSet
	initialCap int
	logger     *slog.Logger
	verbose    bool
	stats      *Stats
}

// NewStore creates an empty store. The schema is optional; when given, typed
// access to a declared field is checked against the field's declared type
// even before the field's column exists.
func NewStore(schema *Schema, opt Options) *Store {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Stats == nil {
		opt.Stats = new(Stats)
	}
	if opt.InitialColumnCapacity <= 0 {
		opt.InitialColumnCapacity = DefaultInitialCapacity
	}
	return &Store{
		schema:     schema,
		columns:    make(map[FieldKey]anyColumn),
		dirty:      make(map[recordKey]*bitset.BitSet),
		initialCap: opt.InitialColumnCapacity,
		logger:     opt.Logger,
		verbose:    opt.Verbose,
		stats:      opt.Stats,
	}
}

func (s *Store) Schema() *Schema {
	return s.schema
}

func (s *Store) Stats() *Stats {
	return s.stats
}

func lookupColumn[T Value](s *Store, key FieldKey, create bool) (*Column[T], error) {
	if ac := s.columns[key]; ac != nil {
		col, ok := ac.(*Column[T])
		if !ok {
			return nil, typeMismatch(key, ac.Type(), reflect.TypeFor[T]())
		}
		return col, nil
	}
	if want := s.schema.fieldType(key); want != nil && want != reflect.TypeFor[T]() {
		return nil, typeMismatch(key, want, reflect.TypeFor[T]())
	}
	if !create {
		return nil, nil
	}
	col := newColumn[T](key, s.initialCap)
	s.addColumn(col)
	return col, nil
}

func (s *Store) addColumn(col anyColumn) {
	s.columns[col.Key()] = col
	if s.verbose {
		s.logger.Debug("colcache: column created", "key", col.Key(), "type", col.Type())
	}
}

// Get returns the value of field f of record id, or the zero value of T if
// nothing has been stored for it.
func Get[T Value](s *Store, m ModelHandle, id RecordID, f FieldHandle) (T, error) {
	var zero T
	col, err := lookupColumn[T](s, FieldKey{m, f}, false)
	if err != nil || col == nil {
		return zero, err
	}
	return col.Get(id), nil
}

// Set stores a user-initiated value and marks the field dirty for the record.
func Set[T Value](s *Store, m ModelHandle, id RecordID, f FieldHandle, v T) error {
	col, err := lookupColumn[T](s, FieldKey{m, f}, true)
	if err != nil {
		return err
	}
	col.Set(id, v)
	s.MarkDirty(m, id, f)
	s.stats.Writes.Add(1)
	return nil
}

// GetBatch returns values positionally matching ids. Absent values (and a
// missing column) yield zero values.
func GetBatch[T Value](s *Store, m ModelHandle, ids []RecordID, f FieldHandle) ([]T, error) {
	col, err := lookupColumn[T](s, FieldKey{m, f}, false)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return make([]T, len(ids)), nil
	}
	return col.GetBatch(ids), nil
}

// SetBatch is the batched form of Set. Nothing is written if len(ids) differs
// from len(values) or if the column is bound to another type.
func SetBatch[T Value](s *Store, m ModelHandle, ids []RecordID, values []T, f FieldHandle) error {
	key := FieldKey{m, f}
	if len(ids) != len(values) {
		return &SizeMismatchError{Key: key, IDs: len(ids), Values: len(values)}
	}
	col, err := lookupColumn[T](s, key, true)
	if err != nil {
		return err
	}
	for i, id := range ids {
		col.Set(id, values[i])
		s.MarkDirty(m, id, f)
	}
	s.stats.Writes.Add(uint64(len(ids)))
	return nil
}

// BulkLoad populates the cache from a trusted source. Loaded values are not
// marked dirty and do not trigger dependency propagation.
func BulkLoad[T Value](s *Store, m ModelHandle, f FieldHandle, values map[RecordID]T) error {
	col, err := lookupColumn[T](s, FieldKey{m, f}, true)
	if err != nil {
		return err
	}
	for _, id := range slices.Sorted(maps.Keys(values)) {
		col.Set(id, values[id])
	}
	s.stats.BulkLoaded.Add(uint64(len(values)))
	return nil
}

func (s *Store) HasValue(m ModelHandle, id RecordID, f FieldHandle) bool {
	col := s.columns[FieldKey{m, f}]
	return col != nil && col.Has(id)
}

// ColumnLen returns the number of records stored in the column, or 0 if the
// column does not exist.
func (s *Store) ColumnLen(m ModelHandle, f FieldHandle) int {
	if col := s.columns[FieldKey{m, f}]; col != nil {
		return col.Len()
	}
	return 0
}

// ColumnKeys returns the keys of all existing columns, ordered by model and
// field.
func (s *Store) ColumnKeys() []FieldKey {
	keys := slices.Collect(maps.Keys(s.columns))
	slices.SortFunc(keys, compareFieldKeys)
	return keys
}

// Clear drops all columns and all dirty state.
func (s *Store) Clear() {
	clear(s.columns)
	clear(s.dirty)
}

// ClearModel drops the columns and dirty state of one model.
func (s *Store) ClearModel(m ModelHandle) {
	for key := range s.columns {
		if key.Model == m {
			delete(s.columns, key)
		}
	}
	for rk := range s.dirty {
		if rk.model == m {
			delete(s.dirty, rk)
		}
	}
}

func (s *Store) getAny(key FieldKey, id RecordID) (any, bool) {
	col := s.columns[key]
	if col == nil {
		return nil, false
	}
	return col.getAny(id)
}

// bulkLoadAny is BulkLoad for callers that only know the field's type at run
// time (backends). Every value is type-checked before anything is written.
func (s *Store) bulkLoadAny(fld *Field, values map[RecordID]any) error {
	if err := s.checkLoad(fld, values); err != nil {
		return err
	}
	s.applyLoad(fld, values)
	return nil
}

// checkLoad verifies that values can be bulk-loaded into fld's column.
func (s *Store) checkLoad(fld *Field, values map[RecordID]any) error {
	key := fld.Key()
	if col := s.columns[key]; col != nil && col.Type() != fld.typ {
		return typeMismatch(key, col.Type(), fld.typ)
	}
	for _, id := range slices.Sorted(maps.Keys(values)) {
		if vt := reflect.TypeOf(values[id]); vt != fld.typ {
			return fieldErrf(fld, id, typeMismatch(key, fld.typ, vt), "cannot load value")
		}
	}
	return nil
}

// applyLoad writes values that passed checkLoad.
func (s *Store) applyLoad(fld *Field, values map[RecordID]any) {
	key := fld.Key()
	col := s.columns[key]
	if col == nil {
		col = fld.newColumn(key, s.initialCap)
		s.addColumn(col)
	}
	for _, id := range slices.Sorted(maps.Keys(values)) {
		if err := col.setAny(id, values[id]); err != nil {
			panic(fmt.Errorf("unreachable: %w", err))
		}
	}
	s.stats.BulkLoaded.Add(uint64(len(values)))
}

func compareFieldKeys(a, b FieldKey) int {
	if c := cmp.Compare(a.Model, b.Model); c != 0 {
		return c
	}
	return cmp.Compare(a.Field, b.Field)
}
