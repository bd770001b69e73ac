package colcache

import (
	"slices"
)

// Edge says that a change to Source requires recomputing Dependent.
type Edge struct {
	Source    FieldKey
	Dependent FieldKey
}

// Graph holds the direct dependency edges between fields. It is built once
// from the schema and is read-only afterwards, except for a full Reset.
//
// Dependents only returns direct out-edges. Multi-hop propagation happens
// because compute routines write their results through Env.Write, which in
// turn reports the computed field as modified.
type Graph struct {
	out   map[FieldKey][]FieldKey
	edges map[Edge]struct{}
	order []Edge
}

func NewGraph() *Graph {
	return &Graph{
		out:   make(map[FieldKey][]FieldKey),
		edges: make(map[Edge]struct{}),
	}
}

func BuildGraph(edges []Edge) *Graph {
	g := NewGraph()
	for _, e := range edges {
		g.RegisterDependency(e.Source, e.Dependent)
	}
	return g
}

// RegisterDependency adds an edge and reports whether it was new. Registering
// an existing edge has no effect.
func (g *Graph) RegisterDependency(source, dependent FieldKey) bool {
	e := Edge{source, dependent}
	if _, found := g.edges[e]; found {
		return false
	}
	g.edges[e] = struct{}{}
	g.order = append(g.order, e)
	g.out[source] = append(g.out[source], dependent)
	return true
}

// Dependents returns the fields that directly depend on (m, f), in the order
// the edges were registered. The returned slice must not be modified.
func (g *Graph) Dependents(m ModelHandle, f FieldHandle) []FieldKey {
	return g.out[FieldKey{m, f}]
}

func (g *Graph) HasDependents(m ModelHandle, f FieldHandle) bool {
	return len(g.out[FieldKey{m, f}]) > 0
}

func (g *Graph) EdgeCount() int {
	return len(g.order)
}

func (g *Graph) Edges() []Edge {
	return slices.Clone(g.order)
}

// Reset removes every edge, preparing the graph for a full rebuild.
func (g *Graph) Reset() {
	clear(g.out)
	clear(g.edges)
	g.order = nil
}

// Cycles returns the dependency cycles of the graph: every strongly connected
// component with more than one field, and every field that depends on itself.
// Cycles are legal, but a recompute sweep over a cycle never settles.
func (g *Graph) Cycles() [][]FieldKey {
	var (
		index   = 0
		stack   []FieldKey
		indices = make(map[FieldKey]int)
		lowlink = make(map[FieldKey]int)
		onStack = make(map[FieldKey]bool)
		cycles  [][]FieldKey
	)

	var strongConnect func(FieldKey)
	strongConnect = func(v FieldKey) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.out[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []FieldKey
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if len(scc) > 1 || g.hasSelfLoop(v) {
				slices.SortFunc(scc, compareFieldKeys)
				cycles = append(cycles, scc)
			}
		}
	}

	// deterministic traversal order
	for _, e := range g.order {
		if _, visited := indices[e.Source]; !visited {
			strongConnect(e.Source)
		}
	}
	return cycles
}

func (g *Graph) hasSelfLoop(k FieldKey) bool {
	return slices.Contains(g.out[k], k)
}

// TopoOrder returns every field that appears in an edge, sources before
// their dependents. Fields that sit on a cycle cannot be ordered and come
// last, in the order they were first registered.
func (g *Graph) TopoOrder() []FieldKey {
	var nodes []FieldKey
	seen := make(map[FieldKey]bool)
	inDegree := make(map[FieldKey]int)
	for _, e := range g.order {
		for _, k := range [2]FieldKey{e.Source, e.Dependent} {
			if !seen[k] {
				seen[k] = true
				nodes = append(nodes, k)
			}
		}
		inDegree[e.Dependent]++
	}

	result := make([]FieldKey, 0, len(nodes))
	done := make(map[FieldKey]bool, len(nodes))
	for progress := true; progress; {
		progress = false
		for _, k := range nodes {
			if done[k] || inDegree[k] > 0 {
				continue
			}
			done[k] = true
			result = append(result, k)
			for _, dep := range g.out[k] {
				inDegree[dep]--
			}
			progress = true
		}
	}
	for _, k := range nodes {
		if !done[k] {
			result = append(result, k)
		}
	}
	return result
}
