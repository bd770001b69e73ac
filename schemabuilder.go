package colcache

import (
	"fmt"
	"reflect"
)

type fieldFlag int

const (
	// Computed marks a field whose value is produced by a compute routine.
	Computed = fieldFlag(1 << iota)
	// Stored makes a computed field persistent. Plain fields are always stored.
	Stored
)

type dependsOn []*Field

// DependsOn declares the fields whose modification makes the new (computed)
// field stale.
func DependsOn(sources ...*Field) any {
	return dependsOn(sources)
}

// AddField declares a field of model bound to the Go type T.
func AddField[T Value](model *Model, name string, opts ...any) *Field {
	if name == "" {
		panic(fmt.Errorf("%s: field name missing", model.name))
	}
	if model.fieldsByName[name] != nil {
		panic(fmt.Errorf("model %s already has field %s", model.name, name))
	}
	model.schema.ensureNotSealed()
	fld := &Field{
		model:  model,
		handle: FieldHandle(len(model.fields) + 1),
		name:   name,
		typ:    reflect.TypeFor[T](),
		kind:   kindOf[T](),
		stored: true,
		newColumn: func(key FieldKey, initialCap int) anyColumn {
			return newColumn[T](key, initialCap)
		},
	}

	var sources []*Field
	var explicitStored bool
	for _, opt := range opts {
		switch opt := opt.(type) {
		case fieldFlag:
			if opt&Computed != 0 {
				fld.computed = true
			}
			if opt&Stored != 0 {
				explicitStored = true
			}
		case dependsOn:
			sources = append(sources, opt...)
		default:
			panic(fmt.Errorf("invalid option %T %v", opt, opt))
		}
	}
	if fld.computed {
		fld.stored = explicitStored
	}
	if len(sources) > 0 && !fld.computed {
		panic(fmt.Errorf("%s.%s: DependsOn requires Computed", model.name, name))
	}

	model.fields = append(model.fields, fld)
	model.fieldsByName[name] = fld

	for _, src := range sources {
		model.schema.AddDependency(src, fld)
	}
	return fld
}
