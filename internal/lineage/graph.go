package lineage

import (
	"strings"

	"github.com/leapstack-labs/leapplan/internal/dag"
	"github.com/leapstack-labs/leapplan/pkg/core"
)

// RefExtractor returns the column identifiers an expression reads.
// *pkg/lineage.Resolver implements it.
type RefExtractor interface {
	ExtractColumnRefs(expr, referenceTable string) []string
}

// ColumnNode is the data stored on every column node.
type ColumnNode struct {
	ID             core.ColumnID
	DataType       string
	Expression     string
	ReferenceTable string
	Description    string
}

// Edge is the annotation stored on every column edge.
type Edge struct {
	Kind core.TransformKind
	// Expression is the target column's expression, empty for direct copies.
	Expression string
}

// Graph is the column lineage graph. It is immutable after Build.
type Graph struct {
	reg  core.Registry
	deps *dag.DependencyGraph
	cols *dag.Graph
}

type upstreamRef struct {
	id   core.ColumnID
	kind core.TransformKind
}

// Build creates the column lineage graph for reg. deps must have been built
// from the same registry; it supplies direct predecessors for the implicit
// fallback and model-level answers.
func Build(reg core.Registry, deps *dag.DependencyGraph, refs RefExtractor) *Graph {
	g := &Graph{reg: reg, deps: deps, cols: dag.NewGraph()}

	names := reg.Names()
	for _, name := range names {
		for _, c := range reg[name].Columns {
			id := core.ColumnID{Model: name, Column: c.Name}
			g.cols.AddNode(id.String(), &ColumnNode{
				ID:             id,
				DataType:       c.DataType,
				Expression:     c.Expression,
				ReferenceTable: c.ReferenceTable,
				Description:    c.Description,
			})
		}
	}

	for _, name := range names {
		m := reg[name]
		for _, c := range m.Columns {
			target := core.ColumnID{Model: name, Column: c.Name}.String()
			for _, up := range g.traceColumn(m, c, refs) {
				_ = g.cols.AddEdgeWithData(up.id.String(), target, Edge{Kind: up.kind, Expression: c.Expression})
			}
		}
	}

	return g
}

// traceColumn derives the upstream columns of one column transformation.
func (g *Graph) traceColumn(m *core.Model, c core.ColumnTransformation, refs RefExtractor) []upstreamRef {
	var ups []upstreamRef

	if ref, ok := g.reg[c.ReferenceTable]; ok {
		if c.IsDirect() {
			if col, ok := matchColumn(ref, c.Name); ok {
				ups = append(ups, upstreamRef{core.ColumnID{Model: ref.Name, Column: col}, core.TransformDirect})
			}
		} else if refs != nil {
			for _, r := range refs.ExtractColumnRefs(c.Expression, c.ReferenceTable) {
				if col, ok := matchColumn(ref, r); ok {
					ups = append(ups, upstreamRef{core.ColumnID{Model: ref.Name, Column: col}, core.TransformExpression})
				}
			}
		}

		if m.HasCTE(c.ReferenceTable) {
			if col, ok := matchColumn(ref, c.Name); ok {
				ups = append(ups, upstreamRef{core.ColumnID{Model: ref.Name, Column: col}, core.TransformCTE})
			}
		}
	}

	if len(ups) == 0 && g.deps != nil {
		for _, pred := range g.deps.DirectPredecessors(m.Name) {
			if p, ok := g.reg[pred]; ok && p.HasColumn(c.Name) {
				ups = append(ups, upstreamRef{core.ColumnID{Model: pred, Column: c.Name}, core.TransformImplicit})
			}
		}
	}

	return ups
}

// matchColumn finds name among m's columns, exactly or else ignoring case,
// and returns the declared spelling.
func matchColumn(m *core.Model, name string) (string, bool) {
	if m.HasColumn(name) {
		return name, true
	}
	for _, c := range m.Columns {
		if strings.EqualFold(c.Name, name) {
			return c.Name, true
		}
	}
	return "", false
}

// ResolveModel returns the declared name of model, matched exactly or else
// ignoring case.
func (g *Graph) ResolveModel(model string) (string, bool) {
	if g.reg.Has(model) {
		return model, true
	}
	for _, name := range g.reg.Names() {
		if strings.EqualFold(name, model) {
			return name, true
		}
	}
	return "", false
}

// ResolveColumn returns the declared spelling of model.column. Both parts
// match exactly or else ignoring case.
func (g *Graph) ResolveColumn(model, column string) (core.ColumnID, bool) {
	name, ok := g.ResolveModel(model)
	if !ok {
		return core.ColumnID{}, false
	}
	col, ok := matchColumn(g.reg[name], column)
	if !ok {
		return core.ColumnID{}, false
	}
	return core.ColumnID{Model: name, Column: col}, true
}

// Registry returns the registry the graph was built from.
func (g *Graph) Registry() core.Registry {
	return g.reg
}

// Dependencies returns the model-level dependency graph.
func (g *Graph) Dependencies() *dag.DependencyGraph {
	return g.deps
}

// Columns returns the underlying column graph, keyed by "model.column".
func (g *Graph) Columns() *dag.Graph {
	return g.cols
}

// HasColumn reports whether id is a column node.
func (g *Graph) HasColumn(id core.ColumnID) bool {
	return g.cols.HasNode(id.String())
}

func (g *Graph) node(key string) *ColumnNode {
	n, ok := g.cols.GetNode(key)
	if !ok {
		return nil
	}
	return n.Data.(*ColumnNode)
}

func (g *Graph) edge(from, to string) Edge {
	data, _ := g.cols.EdgeData(from, to)
	e, _ := data.(Edge)
	return e
}

// HasCycle reports whether the column graph contains a cycle.
func (g *Graph) HasCycle() bool {
	has, _ := g.cols.HasCycle()
	return has
}

// FindCycles enumerates simple column cycles as lists of "model.column" keys.
func (g *Graph) FindCycles() [][]string {
	return g.cols.FindCycles(dag.MaxCycles)
}

// CycleError returns a *core.CycleError for the column graph, or nil when
// it is acyclic.
func (g *Graph) CycleError() error {
	if !g.HasCycle() {
		return nil
	}
	return &core.CycleError{Scope: "column", Cycles: g.FindCycles()}
}
