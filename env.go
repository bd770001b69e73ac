package colcache

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxSweepPasses  = 32
	DefaultLoadConcurrency = 4
)

type EnvOptions struct {
	Options

	// Backend is optional; without it Load fails and Flush only recomputes.
	Backend Backend

	// MaxSweepPasses bounds RecomputeAll, which otherwise never terminates
	// on a dependency cycle.
	MaxSweepPasses int

	// LoadConcurrency limits parallel Backend.Fetch calls made by Load.
	LoadConcurrency int
}

// Env is one unit of work over the cache: it owns a Store and a Tracker,
// propagates writes along the schema's dependency graph, recomputes stale
// computed fields on read, and moves values between the cache and a Backend.
//
// Like Store and Tracker, Env is not safe for concurrent use. Concurrent units
// of work each get their own Env; they may share the Schema and the Backend.
type Env struct {
	schema    *Schema
	store     *Store
	tracker   *Tracker
	backend   Backend
	logger    *slog.Logger
	verbose   bool
	stats     *Stats
	maxPasses int
	loadConc  int
	computing map[FieldKey]bool
}

func NewEnv(schema *Schema, opt EnvOptions) *Env {
	if schema == nil {
		panic("NewEnv: nil schema")
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Stats == nil {
		opt.Stats = new(Stats)
	}
	if opt.MaxSweepPasses <= 0 {
		opt.MaxSweepPasses = DefaultMaxSweepPasses
	}
	if opt.LoadConcurrency <= 0 {
		opt.LoadConcurrency = DefaultLoadConcurrency
	}
	graph := schema.Graph()
	env := &Env{
		schema:    schema,
		store:     NewStore(schema, opt.Options),
		tracker:   NewTracker(graph),
		backend:   opt.Backend,
		logger:    opt.Logger,
		verbose:   opt.Verbose,
		stats:     opt.Stats,
		maxPasses: opt.MaxSweepPasses,
		loadConc:  opt.LoadConcurrency,
		computing: make(map[FieldKey]bool),
	}
	for _, cycle := range graph.Cycles() {
		env.logger.Warn("colcache: dependency cycle", "fields", env.describeKeys(cycle))
	}
	return env
}

func (env *Env) Schema() *Schema   { return env.schema }
func (env *Env) Store() *Store     { return env.store }
func (env *Env) Tracker() *Tracker { return env.tracker }
func (env *Env) Backend() Backend  { return env.backend }
func (env *Env) Stats() *Stats     { return env.stats }

// Write stores a user value and marks the fields that depend on it stale.
func Write[T Value](env *Env, fld *Field, id RecordID, v T) error {
	env.checkField(fld)
	key := fld.Key()
	if err := Set(env.store, key.Model, id, key.Field, v); err != nil {
		return err
	}
	env.tracker.Modified(key.Model, id, key.Field)
	return nil
}

func WriteBatch[T Value](env *Env, fld *Field, ids []RecordID, values []T) error {
	env.checkField(fld)
	key := fld.Key()
	if err := SetBatch(env.store, key.Model, ids, values, key.Field); err != nil {
		return err
	}
	env.tracker.ModifiedRecords(key.Model, ids, key.Field)
	return nil
}

// Read returns the value of fld for id. A stale computed value is recomputed
// first.
func Read[T Value](env *Env, fld *Field, id RecordID) (T, error) {
	env.checkField(fld)
	if err := checkReadType[T](fld); err != nil {
		var zero T
		return zero, err
	}
	if err := env.ensureComputed(fld, []RecordID{id}); err != nil {
		var zero T
		return zero, err
	}
	key := fld.Key()
	return Get[T](env.store, key.Model, id, key.Field)
}

// ReadBatch is the batched form of Read; all stale ids are recomputed by a
// single call of the field's compute routine.
func ReadBatch[T Value](env *Env, fld *Field, ids []RecordID) ([]T, error) {
	env.checkField(fld)
	if err := checkReadType[T](fld); err != nil {
		return nil, err
	}
	if err := env.ensureComputed(fld, ids); err != nil {
		return nil, err
	}
	key := fld.Key()
	return GetBatch[T](env.store, key.Model, ids, key.Field)
}

// checkReadType runs before any recompute, so a mistyped read leaves the
// field stale.
func checkReadType[T Value](fld *Field) error {
	if got := reflect.TypeFor[T](); got != fld.typ {
		return typeMismatch(fld.Key(), fld.typ, got)
	}
	return nil
}

// Create seeds every computed field of a new record as stale, so the first
// read or flush computes it.
func (env *Env) Create(model *Model, id RecordID) {
	if model.schema != env.schema {
		panic(fmt.Errorf("Create: model %s belongs to another schema", model.name))
	}
	for _, fld := range model.fields {
		if fld.computed {
			env.tracker.MarkToRecompute(model.handle, id, fld.handle)
		}
	}
}

// Load fetches fields of model for ids from the backend and bulk-loads them.
// Fields are fetched concurrently; the results are applied to the cache on
// the calling goroutine. Values the unit of work has already modified (dirty)
// are kept rather than overwritten.
func (env *Env) Load(ctx context.Context, model *Model, fields []*Field, ids []RecordID) error {
	for _, fld := range fields {
		env.checkField(fld)
		if fld.model != model {
			panic(fmt.Errorf("Load: field %v does not belong to %s", fld, model.name))
		}
	}
	if env.backend == nil {
		return ErrNoBackend
	}
	if len(fields) == 0 || len(ids) == 0 {
		return nil
	}

	start := time.Now()
	results := make([]map[RecordID]any, len(fields))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(env.loadConc)
	for i, fld := range fields {
		g.Go(func() error {
			values, err := env.backend.Fetch(gctx, model, fld, ids)
			if err != nil {
				return fieldErrf(fld, 0, err, "fetch %d records", len(ids))
			}
			results[i] = values
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Nothing is applied unless every field's values fit.
	for i, fld := range fields {
		fresh := make(map[RecordID]any, len(results[i]))
		for id, v := range results[i] {
			if !env.store.IsDirty(model.handle, id, fld.handle) {
				fresh[id] = v
			}
		}
		if err := env.store.checkLoad(fld, fresh); err != nil {
			return err
		}
		results[i] = fresh
	}
	var loaded int
	for i, fld := range fields {
		env.store.applyLoad(fld, results[i])
		loaded += len(results[i])
	}
	env.stats.Loads.Add(1)
	env.logger.Debug("colcache: loaded", "model", model.name, "fields", len(fields), "records", len(ids), "values", loaded, "elapsed", time.Since(start))
	return nil
}

// DirtyChanges returns the dirty values of stored fields, ordered by model,
// record and field.
func (env *Env) DirtyChanges() []Change {
	var changes []Change
	for _, model := range env.schema.models {
		for _, id := range env.store.DirtyRecords(model.handle) {
			for _, f := range env.store.DirtyFields(model.handle, id) {
				fld := model.Field(f)
				if fld == nil || !fld.stored {
					continue
				}
				v, ok := env.store.getAny(fld.Key(), id)
				if !ok {
					continue
				}
				changes = append(changes, PutChange(fld, id, v))
			}
		}
	}
	return changes
}

// Flush recomputes everything that is stale, hands the dirty values to the
// backend and, once the backend accepts them, clears the dirty marks of the
// persisted cells.
func (env *Env) Flush(ctx context.Context) error {
	if err := env.RecomputeAll(); err != nil {
		return err
	}
	if env.backend == nil {
		return nil
	}
	changes := env.DirtyChanges()
	if len(changes) > 0 {
		start := time.Now()
		if err := env.backend.Persist(ctx, changes); err != nil {
			return fmt.Errorf("colcache: flush %d changes: %w", len(changes), err)
		}
		if env.verbose {
			env.logger.Info("colcache: flushed", "changes", len(changes), "elapsed", time.Since(start))
		}
	}
	for _, chg := range changes {
		key := chg.Field().Key()
		env.store.ClearDirtyField(key.Model, chg.Record(), key.Field)
	}
	// Non-stored fields are never persisted. Dirty marks without a cached
	// value stay until a value arrives.
	for _, model := range env.schema.models {
		for _, id := range env.store.DirtyRecords(model.handle) {
			for _, f := range env.store.DirtyFields(model.handle, id) {
				if fld := model.Field(f); fld == nil || !fld.stored {
					env.store.ClearDirtyField(model.handle, id, f)
				}
			}
		}
	}
	env.stats.Flushes.Add(1)
	env.stats.FlushedValues.Add(uint64(len(changes)))
	return nil
}

func (env *Env) checkField(fld *Field) {
	if fld == nil {
		panic("nil field")
	}
	if fld.model.schema != env.schema {
		panic(fmt.Errorf("field %v belongs to another schema", fld))
	}
}

func (env *Env) describeKeys(keys []FieldKey) string {
	names := make([]string, len(keys))
	for i, key := range keys {
		if fld := env.schema.FieldByKey(key); fld != nil {
			names[i] = fld.String()
		} else {
			names[i] = key.String()
		}
	}
	return strings.Join(names, ", ")
}
