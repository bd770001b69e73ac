package colcache

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Schema is the registry of models, fields and dependency edges. It is built
// once at startup and then shared, read-only, by any number of stores and
// environments.
type Schema struct {
	models       []*Model
	modelsByName map[string]*Model
	edges        []Edge
	edgeSet      map[Edge]struct{}

	sealOnce sync.Once
	sealed   atomic.Bool
	graph    *Graph
	rank     map[FieldKey]int
}

type SchemaOpts struct {
}

func NewSchema(opt SchemaOpts) *Schema {
	scm := &Schema{}
	scm.init()
	return scm
}

func (scm *Schema) init() {
	if scm.modelsByName == nil {
		scm.modelsByName = make(map[string]*Model)
		scm.edgeSet = make(map[Edge]struct{})
	}
}

func (scm *Schema) AddModel(name string) *Model {
	scm.init()
	scm.ensureNotSealed()
	if name == "" {
		panic("model name missing")
	}
	if scm.modelsByName[strings.ToLower(name)] != nil {
		panic(fmt.Errorf("model %s already defined", name))
	}
	model := &Model{
		schema:       scm,
		handle:       ModelHandle(len(scm.models) + 1),
		name:         name,
		fieldsByName: make(map[string]*Field),
	}
	scm.models = append(scm.models, model)
	scm.modelsByName[strings.ToLower(name)] = model
	return model
}

func (scm *Schema) Models() []*Model {
	return append([]*Model(nil), scm.models...)
}

func (scm *Schema) ModelNamed(name string) *Model {
	return scm.modelsByName[strings.ToLower(name)]
}

// Model returns the model with the given handle, or nil.
func (scm *Schema) Model(h ModelHandle) *Model {
	if scm == nil || h == 0 || int(h) > len(scm.models) {
		return nil
	}
	return scm.models[h-1]
}

func (scm *Schema) MustModel(h ModelHandle) *Model {
	model := scm.Model(h)
	if model == nil {
		panic(fmt.Errorf("model %v not found", h))
	}
	return model
}

// FieldByKey returns the field for the given key, or nil if either the model
// or the field is unknown.
func (scm *Schema) FieldByKey(key FieldKey) *Field {
	model := scm.Model(key.Model)
	if model == nil {
		return nil
	}
	return model.Field(key.Field)
}

// AddDependency declares that a change to source requires recomputing
// dependent. Declaring the same edge twice has no effect.
func (scm *Schema) AddDependency(source, dependent *Field) {
	if source == nil || dependent == nil {
		panic("AddDependency: nil field")
	}
	if source.model.schema != scm || dependent.model.schema != scm {
		panic(fmt.Errorf("AddDependency(%v, %v): field belongs to another schema", source, dependent))
	}
	if !dependent.computed {
		panic(fmt.Errorf("AddDependency(%v, %v): %v is not computed", source, dependent, dependent))
	}
	scm.ensureNotSealed()
	e := Edge{Source: source.Key(), Dependent: dependent.Key()}
	if _, found := scm.edgeSet[e]; found {
		return
	}
	scm.edgeSet[e] = struct{}{}
	scm.edges = append(scm.edges, e)
}

// SetCompute registers the routine that recomputes a computed field.
func (scm *Schema) SetCompute(fld *Field, fn ComputeFunc) {
	if fld == nil || fn == nil {
		panic("SetCompute: nil argument")
	}
	if !fld.computed {
		panic(fmt.Errorf("SetCompute(%v): field is not computed", fld))
	}
	if fld.compute != nil {
		panic(fmt.Errorf("SetCompute(%v): compute routine already set", fld))
	}
	fld.model.schema.ensureNotSealed()
	fld.compute = fn
}

func (scm *Schema) Edges() []Edge {
	return append([]Edge(nil), scm.edges...)
}

// BuildGraph returns a fresh dependency graph holding every declared edge.
func (scm *Schema) BuildGraph() *Graph {
	return BuildGraph(scm.edges)
}

// Graph returns the schema's shared dependency graph. The first call seals
// the schema: models, fields, edges and compute routines can no longer be
// added. The returned graph must be treated as read-only.
func (scm *Schema) Graph() *Graph {
	scm.sealOnce.Do(func() {
		scm.init()
		scm.graph = scm.BuildGraph()
		scm.rank = make(map[FieldKey]int)
		for i, key := range scm.graph.TopoOrder() {
			scm.rank[key] = i + 1
		}
		scm.sealed.Store(true)
	})
	return scm.graph
}

func (scm *Schema) IsSealed() bool {
	return scm.sealed.Load()
}

func (scm *Schema) ensureNotSealed() {
	if scm.sealed.Load() {
		panic("schema is sealed")
	}
}

// computeRank orders computed fields so that a field is recomputed after the
// fields it depends on. Fields outside the graph rank first.
func (scm *Schema) computeRank(key FieldKey) int {
	return scm.rank[key]
}

// Fingerprint hashes the shape of the schema (names, kinds, computed flags,
// edges). Two schemas with the same fingerprint assign the same handles to
// the same fields.
func (scm *Schema) Fingerprint() uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, model := range scm.models {
		d.WriteString(model.name)
		d.Write([]byte{0})
		for _, fld := range model.fields {
			d.WriteString(fld.name)
			d.Write([]byte{0, byte(fld.kind), boolByte(fld.computed), boolByte(fld.stored)})
		}
		d.Write([]byte{0xFF})
	}
	for _, e := range scm.edges {
		binary.BigEndian.PutUint32(buf[:4], uint32(e.Source.Model))
		binary.BigEndian.PutUint32(buf[4:], uint32(e.Source.Field))
		d.Write(buf[:])
		binary.BigEndian.PutUint32(buf[:4], uint32(e.Dependent.Model))
		binary.BigEndian.PutUint32(buf[4:], uint32(e.Dependent.Field))
		d.Write(buf[:])
	}
	return d.Sum64()
}

// fieldType returns the Go type a field is declared with, or nil if the
// schema does not know the field.
func (scm *Schema) fieldType(key FieldKey) reflect.Type {
	if scm == nil {
		return nil
	}
	if fld := scm.FieldByKey(key); fld != nil {
		return fld.typ
	}
	return nil
}

type Model struct {
	schema       *Schema
	handle       ModelHandle
	name         string
	fields       []*Field
	fieldsByName map[string]*Field
}

func (model *Model) Name() string {
	return model.name
}

func (model *Model) String() string {
	return model.name
}

func (model *Model) Handle() ModelHandle {
	return model.handle
}

func (model *Model) Schema() *Schema {
	return model.schema
}

func (model *Model) Fields() []*Field {
	return append([]*Field(nil), model.fields...)
}

func (model *Model) FieldNamed(name string) *Field {
	return model.fieldsByName[name]
}

func (model *Model) Field(h FieldHandle) *Field {
	if h == 0 || int(h) > len(model.fields) {
		return nil
	}
	return model.fields[h-1]
}

func (model *Model) MustFieldNamed(name string) *Field {
	fld := model.fieldsByName[name]
	if fld == nil {
		panic(fmt.Errorf("%s does not have field %s", model.name, name))
	}
	return fld
}

func (model *Model) ComputedFields() []*Field {
	var result []*Field
	for _, fld := range model.fields {
		if fld.computed {
			result = append(result, fld)
		}
	}
	return result
}

type Field struct {
	model     *Model
	handle    FieldHandle
	name      string
	typ       reflect.Type
	kind      ValueKind
	computed  bool
	stored    bool
	compute   ComputeFunc
	newColumn func(key FieldKey, initialCap int) anyColumn
}

func (fld *Field) Name() string         { return fld.name }
func (fld *Field) Handle() FieldHandle  { return fld.handle }
func (fld *Field) Model() *Model        { return fld.model }
func (fld *Field) Type() reflect.Type   { return fld.typ }
func (fld *Field) Kind() ValueKind      { return fld.kind }
func (fld *Field) IsComputed() bool     { return fld.computed }
func (fld *Field) IsStored() bool       { return fld.stored }
func (fld *Field) Compute() ComputeFunc { return fld.compute }

func (fld *Field) Key() FieldKey {
	return FieldKey{Model: fld.model.handle, Field: fld.handle}
}

func (fld *Field) String() string {
	return fld.model.name + "." + fld.name
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
