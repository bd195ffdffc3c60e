package dag

import (
	"errors"

	"github.com/leapstack-labs/leapplan/pkg/core"
)

// ExternalFunc reports whether a name refers to a table outside the managed
// model set. Such names never become nodes and never produce diagnostics.
type ExternalFunc func(name string) bool

// DependencyGraph is the model-level dependency graph of a registry.
type DependencyGraph struct {
	g   *Graph
	reg core.Registry
}

// Stats summarizes a dependency graph.
type Stats struct {
	Models    int  `json:"models"`
	Edges     int  `json:"edges"`
	Roots     int  `json:"roots"`
	Leaves    int  `json:"leaves"`
	Levels    int  `json:"levels"`
	HasCycles bool `json:"has_cycles"`
}

// Build creates the dependency graph for reg. Every model becomes a node; an
// edge dep -> model is added only when dep is itself a known model. Declared
// dependencies and CTEs that are neither models nor external are returned as
// StructuralErrors, collected across all models in name order.
func Build(reg core.Registry, isExternal ExternalFunc) (*DependencyGraph, []core.StructuralError) {
	if isExternal == nil {
		isExternal = func(string) bool { return false }
	}

	g := NewGraph()
	names := reg.Names()
	for _, name := range names {
		g.AddNode(name, reg[name])
	}

	var diags []core.StructuralError
	for _, name := range names {
		m := reg[name]
		reported := make(map[string]bool)

		for _, cte := range m.CTEs {
			if reg.Has(cte) {
				_ = g.AddEdge(cte, name)
				continue
			}
			if isExternal(cte) || reported[cte] {
				continue
			}
			reported[cte] = true
			diags = append(diags, core.StructuralError{Model: name, Missing: cte, Kind: core.MissingCTE})
		}

		for _, dep := range m.Dependencies() {
			if reg.Has(dep) {
				_ = g.AddEdge(dep, name)
				continue
			}
			if isExternal(dep) || reported[dep] {
				continue
			}
			reported[dep] = true
			diags = append(diags, core.StructuralError{Model: name, Missing: dep, Kind: core.MissingDependency})
		}
	}

	return &DependencyGraph{g: g, reg: reg}, diags
}

// Graph exposes the underlying generic graph.
func (d *DependencyGraph) Graph() *Graph {
	return d.g
}

// Registry returns the registry the graph was built from.
func (d *DependencyGraph) Registry() core.Registry {
	return d.reg
}

// Has reports whether name is a model node.
func (d *DependencyGraph) Has(name string) bool {
	return d.g.HasNode(name)
}

// Names returns all model names, sorted.
func (d *DependencyGraph) Names() []string {
	return d.g.NodeIDs()
}

// ExecutionOrder returns every model in a deterministic dependency-respecting
// order, or a *core.CycleError carrying the offending cycles.
func (d *DependencyGraph) ExecutionOrder() ([]string, error) {
	nodes, err := d.g.TopologicalSort()
	if err != nil {
		var cycleErr *core.CycleError
		if errors.As(err, &cycleErr) {
			cycleErr.Scope = "model"
		}
		return nil, err
	}
	order := make([]string, len(nodes))
	for i, n := range nodes {
		order[i] = n.ID
	}
	return order, nil
}

// ExecutionLevels groups models into levels that can be built in parallel.
func (d *DependencyGraph) ExecutionLevels() ([][]string, error) {
	levels, err := d.g.GetExecutionLevels()
	if err != nil {
		var cycleErr *core.CycleError
		if errors.As(err, &cycleErr) {
			cycleErr.Scope = "model"
		}
	}
	return levels, err
}

// Ancestors returns the transitive dependencies of name. Unknown names are
// treated as external leaves and yield an empty set.
func (d *DependencyGraph) Ancestors(name string) []string {
	return d.g.GetUpstreamNodes(name)
}

// Descendants returns the transitive dependents of name.
func (d *DependencyGraph) Descendants(name string) []string {
	return d.g.GetDownstreamNodes(name)
}

// DirectPredecessors returns the models name depends on directly.
func (d *DependencyGraph) DirectPredecessors(name string) []string {
	return d.g.GetParents(name)
}

// DirectSuccessors returns the models depending directly on name.
func (d *DependencyGraph) DirectSuccessors(name string) []string {
	return d.g.GetChildren(name)
}

// HasCycle reports whether any dependency cycle exists.
func (d *DependencyGraph) HasCycle() bool {
	has, _ := d.g.HasCycle()
	return has
}

// FindCycles enumerates simple dependency cycles for diagnostics.
func (d *DependencyGraph) FindCycles() [][]string {
	return d.g.FindCycles(MaxCycles)
}

// AffectedNodes returns the changed models plus everything downstream of them.
func (d *DependencyGraph) AffectedNodes(changed []string) []string {
	return d.g.GetAffectedNodes(changed)
}

// Subgraph restricts the graph to the given models.
func (d *DependencyGraph) Subgraph(names []string) *DependencyGraph {
	reg := make(core.Registry, len(names))
	for _, n := range names {
		if m, ok := d.reg[n]; ok {
			reg[n] = m
		}
	}
	return &DependencyGraph{g: d.g.Subgraph(names), reg: reg}
}

// Roots returns models with no model dependencies.
func (d *DependencyGraph) Roots() []string {
	return d.g.GetRoots()
}

// Leaves returns models nothing depends on.
func (d *DependencyGraph) Leaves() []string {
	return d.g.GetLeaves()
}

// Stats summarizes the graph.
func (d *DependencyGraph) Stats() Stats {
	s := Stats{
		Models: d.g.NodeCount(),
		Edges:  d.g.EdgeCount(),
		Roots:  len(d.g.GetRoots()),
		Leaves: len(d.g.GetLeaves()),
	}
	s.HasCycles = d.HasCycle()
	if !s.HasCycles {
		if levels, err := d.g.GetExecutionLevels(); err == nil {
			s.Levels = len(levels)
		}
	}
	return s
}

// DownstreamModels implements core.ImpactSource.
func (d *DependencyGraph) DownstreamModels(name string) []string {
	return d.Descendants(name)
}

// Capabilities implements core.ImpactSource. The dependency graph only knows
// about models.
func (d *DependencyGraph) Capabilities() core.LineageCapabilities {
	return core.LineageCapabilities{ModelDownstream: true}
}

var _ core.ImpactSource = (*DependencyGraph)(nil)
