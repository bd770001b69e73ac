package colcache

import (
	"fmt"
	"runtime/debug"
	"slices"
	"time"
)

// ComputeFunc recomputes a computed field for ids. It must store the fresh
// values with Write or WriteBatch; because those report the computed field as
// modified, fields that depend on it become stale in turn. The Env marks ids
// clean once the routine returns without error.
type ComputeFunc func(env *Env, ids []RecordID) error

// ensureComputed recomputes the stale subset of ids. A field whose compute
// routine is already running is not recomputed re-entrantly; the routine sees
// the cached value instead.
func (env *Env) ensureComputed(fld *Field, ids []RecordID) error {
	if !fld.computed || env.computing[fld.Key()] {
		return nil
	}
	var stale []RecordID
	for _, id := range uniqueIDs(ids) {
		if env.tracker.NeedsRecompute(fld.model.handle, id, fld.handle) {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return env.computeField(fld, stale)
}

// Recompute recomputes every stale record of fld.
func (env *Env) Recompute(fld *Field) error {
	env.checkField(fld)
	ids := slices.Collect(env.tracker.RecordsToRecompute(fld.model.handle, fld.handle))
	if len(ids) == 0 {
		return nil
	}
	return env.computeField(fld, ids)
}

// RecomputeAll sweeps until nothing is stale. Within a pass, fields are
// recomputed in dependency order, so an acyclic schema settles in one pass.
// It fails with ErrRecomputeLoop after MaxSweepPasses passes.
func (env *Env) RecomputeAll() error {
	for pass := 0; env.tracker.HasPendingRecompute(); pass++ {
		if pass >= env.maxPasses {
			return fmt.Errorf("%w after %d passes, %d cells still stale", ErrRecomputeLoop, pass, env.tracker.PendingCount())
		}
		keys := env.tracker.pendingFields()
		slices.SortStableFunc(keys, func(a, b FieldKey) int {
			return env.schema.computeRank(a) - env.schema.computeRank(b)
		})
		for _, key := range keys {
			fld := env.schema.FieldByKey(key)
			if fld == nil {
				return fmt.Errorf("%w: %v is not in the schema", ErrNoCompute, key)
			}
			ids := slices.Collect(env.tracker.RecordsToRecompute(key.Model, key.Field))
			if len(ids) == 0 {
				continue
			}
			if err := env.computeField(fld, ids); err != nil {
				return err
			}
		}
	}
	return nil
}

func (env *Env) computeField(fld *Field, ids []RecordID) error {
	if fld.compute == nil {
		return fieldErrf(fld, 0, ErrNoCompute, "cannot recompute %d records", len(ids))
	}
	key := fld.Key()
	start := time.Now()

	env.computing[key] = true
	err := safelyCompute(fld.compute, env, slices.Clone(ids))
	delete(env.computing, key)
	if err != nil {
		return fieldErrf(fld, 0, err, "compute %d records", len(ids))
	}

	env.tracker.clearRecords(key.Model, ids, key.Field)
	env.stats.Recomputes.Add(1)
	env.stats.RecomputedRecords.Add(uint64(len(ids)))
	env.logger.Debug("colcache: recomputed", "field", fld.String(), "records", len(ids), "elapsed", time.Since(start))
	return nil
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCompute(fn ComputeFunc, env *Env, ids []RecordID) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(env, ids)
}
