package colcache

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ok(t testing.TB, err error) {
	if err != nil {
		t.Helper()
		t.Fatalf("** %v", err)
	}
}

func isErr(t testing.TB, err, target error) {
	if !errors.Is(err, target) {
		t.Helper()
		t.Fatalf("** got error %v, wanted %v", err, target)
	}
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func panics(t testing.TB, substr string, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		p := recover()
		if p == nil {
			t.Fatalf("** did not panic, wanted panic containing %q", substr)
		}
		var msg string
		switch p := p.(type) {
		case error:
			msg = p.Error()
		case string:
			msg = p
		}
		if !strings.Contains(msg, substr) {
			t.Fatalf("** panicked with %q, wanted %q", msg, substr)
		}
	}()
	f()
}

var quietLogger = slog.New(slog.DiscardHandler)

// partnerSchema is a small res.partner-like schema:
//
//	name, is_company -> display_name -> search_name
type partnerSchema struct {
	*Schema
	partner     *Model
	name        *Field
	isCompany   *Field
	displayName *Field
	searchName  *Field
	age         *Field

	displayCalls [][]RecordID
	searchCalls  [][]RecordID
}

func newPartnerSchema() *partnerSchema {
	ps := &partnerSchema{Schema: NewSchema(SchemaOpts{})}
	ps.partner = ps.AddModel("res.partner")
	ps.name = AddField[string](ps.partner, "name")
	ps.isCompany = AddField[bool](ps.partner, "is_company")
	ps.displayName = AddField[string](ps.partner, "display_name", Computed, Stored, DependsOn(ps.name, ps.isCompany))
	ps.searchName = AddField[string](ps.partner, "search_name", Computed, DependsOn(ps.displayName))
	ps.age = AddField[int](ps.partner, "age")

	ps.SetCompute(ps.displayName, func(env *Env, ids []RecordID) error {
		ps.displayCalls = append(ps.displayCalls, ids)
		names, err := ReadBatch[string](env, ps.name, ids)
		if err != nil {
			return err
		}
		companies, err := ReadBatch[bool](env, ps.isCompany, ids)
		if err != nil {
			return err
		}
		for i := range names {
			if companies[i] {
				names[i] += " (company)"
			}
		}
		return WriteBatch(env, ps.displayName, ids, names)
	})
	ps.SetCompute(ps.searchName, func(env *Env, ids []RecordID) error {
		ps.searchCalls = append(ps.searchCalls, ids)
		for _, id := range ids {
			display, err := Read[string](env, ps.displayName, id)
			if err != nil {
				return err
			}
			if err := Write(env, ps.searchName, id, strings.ToLower(display)); err != nil {
				return err
			}
		}
		return nil
	})
	return ps
}

func (ps *partnerSchema) newEnv(backend Backend) *Env {
	return NewEnv(ps.Schema, EnvOptions{
		Options: Options{Logger: quietLogger},
		Backend: backend,
	})
}

// memBackend is a map-backed Backend.
type memBackend struct {
	mu        sync.Mutex
	values    map[FieldKey]map[RecordID]any
	persisted [][]Change
	fetches   int
	err       error
}

func newMemBackend() *memBackend {
	return &memBackend{values: make(map[FieldKey]map[RecordID]any)}
}

func (b *memBackend) put(fld *Field, id RecordID, v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.values[fld.Key()]
	if m == nil {
		m = make(map[RecordID]any)
		b.values[fld.Key()] = m
	}
	m[id] = v
}

func (b *memBackend) Fetch(ctx context.Context, model *Model, fld *Field, ids []RecordID) (map[RecordID]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	if b.err != nil {
		return nil, b.err
	}
	result := make(map[RecordID]any)
	for _, id := range ids {
		if v, found := b.values[fld.Key()][id]; found {
			result[id] = v
		}
	}
	return result, nil
}

func (b *memBackend) Persist(ctx context.Context, changes []Change) error {
	if b.err != nil {
		return b.err
	}
	b.persisted = append(b.persisted, slices.Clone(changes))
	for _, chg := range changes {
		b.put(chg.Field(), chg.Record(), chg.Value())
	}
	return nil
}

func (b *memBackend) keys() []FieldKey {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := slices.Collect(maps.Keys(b.values))
	slices.SortFunc(keys, compareFieldKeys)
	return keys
}
