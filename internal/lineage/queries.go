package lineage

import (
	"sort"

	"github.com/leapstack-labs/leapplan/pkg/core"
)

// CriticalDependents is the number of direct dependents from which an
// impacted model is flagged as critical.
const CriticalDependents = 3

// ColumnRef describes a neighbouring column in lineage results.
type ColumnRef struct {
	Model    string             `json:"model"`
	Column   string             `json:"column"`
	ColumnID string             `json:"column_id"`
	Kind     core.TransformKind `json:"transformation_type,omitempty"`
	// Expression is the expression of the edge's target column.
	Expression string `json:"expression,omitempty"`
}

// PathStep is one hop of a transformation path. The first step is the
// source column and carries no kind.
type PathStep struct {
	Step       int                `json:"step"`
	Model      string             `json:"model"`
	Column     string             `json:"column"`
	ColumnID   string             `json:"column_id"`
	Kind       core.TransformKind `json:"transformation_type,omitempty"`
	Expression string             `json:"expression,omitempty"`
}

// TransformationPath is the shortest path from a source column to the
// queried column.
type TransformationPath struct {
	Source string     `json:"source_column"`
	Steps  []PathStep `json:"path"`
}

// ColumnLineage is the detailed lineage of one column.
type ColumnLineage struct {
	ColumnID      string               `json:"column_id"`
	Found         bool                 `json:"found"`
	Upstream      []ColumnRef          `json:"upstream_columns"`
	Downstream    []ColumnRef          `json:"downstream_columns"`
	AllUpstream   []ColumnRef          `json:"all_upstream_columns"`
	AllDownstream []ColumnRef          `json:"all_downstream_columns"`
	Paths         []TransformationPath `json:"transformation_path"`
}

// DetailedLineage returns direct and transitive upstream and downstream
// columns, plus a transformation path from every source column (one with no
// upstream) that reaches the column. Unknown columns yield an empty result
// with Found false.
func (g *Graph) DetailedLineage(model, column string) ColumnLineage {
	key := g.columnKey(model, column)
	out := ColumnLineage{
		ColumnID:      key,
		Upstream:      []ColumnRef{},
		Downstream:    []ColumnRef{},
		AllUpstream:   []ColumnRef{},
		AllDownstream: []ColumnRef{},
		Paths:         []TransformationPath{},
	}
	if !g.cols.HasNode(key) {
		return out
	}
	out.Found = true

	for _, pred := range g.cols.GetParents(key) {
		out.Upstream = append(out.Upstream, g.ref(pred, g.edge(pred, key)))
	}
	for _, succ := range g.cols.GetChildren(key) {
		out.Downstream = append(out.Downstream, g.ref(succ, g.edge(key, succ)))
	}
	for _, id := range g.cols.GetUpstreamNodes(key) {
		if id != key {
			out.AllUpstream = append(out.AllUpstream, g.ref(id, Edge{}))
		}
	}
	for _, id := range g.cols.GetDownstreamNodes(key) {
		if id != key {
			out.AllDownstream = append(out.AllDownstream, g.ref(id, Edge{}))
		}
	}

	out.Paths = g.transformationPaths(key)
	return out
}

// columnKey is the node key of model.column in its declared spelling, or
// the key as given when no such column exists.
func (g *Graph) columnKey(model, column string) string {
	if id, ok := g.ResolveColumn(model, column); ok {
		return id.String()
	}
	return core.ColumnID{Model: model, Column: column}.String()
}

func (g *Graph) ref(key string, e Edge) ColumnRef {
	n := g.node(key)
	return ColumnRef{
		Model:      n.ID.Model,
		Column:     n.ID.Column,
		ColumnID:   key,
		Kind:       e.Kind,
		Expression: e.Expression,
	}
}

// transformationPaths finds, for each source column with a path to target,
// the shortest such path. Sources are visited in sorted order and children
// are explored in sorted order, so results are deterministic.
func (g *Graph) transformationPaths(target string) []TransformationPath {
	paths := []TransformationPath{}

	ancestors := make(map[string]bool)
	for _, id := range g.cols.GetUpstreamNodes(target) {
		ancestors[id] = true
	}
	ancestors[target] = true

	for _, id := range g.cols.NodeIDs() {
		if !ancestors[id] || g.cols.InDegree(id) != 0 {
			continue
		}
		nodes := g.shortestPath(id, target)
		if nodes == nil {
			continue
		}
		steps := make([]PathStep, len(nodes))
		for i, key := range nodes {
			n := g.node(key)
			steps[i] = PathStep{Step: i + 1, Model: n.ID.Model, Column: n.ID.Column, ColumnID: key}
			if i > 0 {
				e := g.edge(nodes[i-1], key)
				steps[i].Kind = e.Kind
				steps[i].Expression = e.Expression
			}
		}
		paths = append(paths, TransformationPath{Source: id, Steps: steps})
	}
	return paths
}

// shortestPath is a breadth-first search from -> to over column edges.
func (g *Graph) shortestPath(from, to string) []string {
	if from == to {
		return []string{from}
	}
	prev := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.cols.GetChildren(cur) {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == to {
				var path []string
				for n := to; n != from; n = prev[n] {
					path = append(path, n)
				}
				path = append(path, from)
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}

// ColumnImpact lists everything derived from one column.
type ColumnImpact struct {
	ColumnID             string              `json:"column_id"`
	ImpactedColumns      []ColumnRef         `json:"impacted_columns"`
	ImpactedModels       []string            `json:"impacted_models"`
	TotalImpactedColumns int                 `json:"total_impacted_columns"`
	ImpactByModel        map[string][]string `json:"impact_by_model"`
}

// ImpactAnalysis returns all transitive downstream columns of a column,
// grouped by owning model.
func (g *Graph) ImpactAnalysis(model, column string) ColumnImpact {
	key := g.columnKey(model, column)
	out := ColumnImpact{
		ColumnID:        key,
		ImpactedColumns: []ColumnRef{},
		ImpactedModels:  []string{},
		ImpactByModel:   map[string][]string{},
	}
	if !g.cols.HasNode(key) {
		return out
	}

	for _, id := range g.cols.GetDownstreamNodes(key) {
		if id == key {
			continue
		}
		r := g.ref(id, Edge{})
		out.ImpactedColumns = append(out.ImpactedColumns, r)
		if _, ok := out.ImpactByModel[r.Model]; !ok {
			out.ImpactedModels = append(out.ImpactedModels, r.Model)
		}
		out.ImpactByModel[r.Model] = append(out.ImpactByModel[r.Model], r.Column)
	}
	sort.Strings(out.ImpactedModels)
	out.TotalImpactedColumns = len(out.ImpactedColumns)
	return out
}

// ModelLineageInfo is the model-level lineage of one model.
type ModelLineageInfo struct {
	Model         string   `json:"model"`
	Upstream      []string `json:"upstream_models"`
	Downstream    []string `json:"downstream_models"`
	AllUpstream   []string `json:"all_upstream"`
	AllDownstream []string `json:"all_downstream"`
	// Depth is the longest of the shortest paths from any root model.
	Depth int `json:"lineage_depth"`
}

// ModelLineage returns direct and transitive model neighbours and the
// lineage depth of model.
func (g *Graph) ModelLineage(model string) ModelLineageInfo {
	if name, ok := g.ResolveModel(model); ok {
		model = name
	}
	out := ModelLineageInfo{
		Model:         model,
		Upstream:      []string{},
		Downstream:    []string{},
		AllUpstream:   []string{},
		AllDownstream: []string{},
	}
	if g.deps == nil || !g.deps.Has(model) {
		return out
	}
	out.Upstream = g.deps.DirectPredecessors(model)
	out.Downstream = g.deps.DirectSuccessors(model)
	out.AllUpstream = withoutSelf(g.deps.Ancestors(model), model)
	out.AllDownstream = withoutSelf(g.deps.Descendants(model), model)
	out.Depth = g.lineageDepth(model)
	return out
}

// lineageDepth walks upstream breadth-first; the depth is the largest
// distance at which a root model is met.
func (g *Graph) lineageDepth(model string) int {
	dist := map[string]int{model: 0}
	queue := []string{model}
	depth := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		parents := g.deps.DirectPredecessors(cur)
		if len(parents) == 0 && dist[cur] > depth {
			depth = dist[cur]
		}
		for _, p := range parents {
			if _, seen := dist[p]; !seen {
				dist[p] = dist[cur] + 1
				queue = append(queue, p)
			}
		}
	}
	return depth
}

// ModelImpactInfo describes what a change to a model affects.
type ModelImpactInfo struct {
	Model          string                  `json:"model"`
	ImpactedModels []string                `json:"impacted_models"`
	Total          int                     `json:"total_impacted_models"`
	ByLayer        map[core.Layer][]string `json:"impact_by_layer"`
	// Critical lists impacted models with at least CriticalDependents
	// direct dependents.
	Critical []string `json:"critical_models"`
}

// ModelImpact returns the models downstream of model grouped by layer.
func (g *Graph) ModelImpact(model string) ModelImpactInfo {
	if name, ok := g.ResolveModel(model); ok {
		model = name
	}
	out := ModelImpactInfo{
		Model:          model,
		ImpactedModels: []string{},
		ByLayer:        map[core.Layer][]string{},
		Critical:       []string{},
	}
	if !g.reg.Has(model) {
		return out
	}

	out.ImpactedModels = withoutSelf(g.DownstreamModels(model), model)
	for _, name := range out.ImpactedModels {
		m := g.reg[name]
		out.ByLayer[m.Layer] = append(out.ByLayer[m.Layer], name)
		if g.deps != nil && len(g.deps.DirectSuccessors(name)) >= CriticalDependents {
			out.Critical = append(out.Critical, name)
		}
	}
	out.Total = len(out.ImpactedModels)
	return out
}

// DownstreamModels implements core.ImpactSource: the union of the model
// graph's descendants and the owners of every column derived from one of
// the model's columns.
func (g *Graph) DownstreamModels(name string) []string {
	set := make(map[string]bool)
	if g.deps != nil {
		for _, d := range g.deps.Descendants(name) {
			set[d] = true
		}
	}
	if m, ok := g.reg[name]; ok {
		for _, c := range m.Columns {
			key := core.ColumnID{Model: name, Column: c.Name}.String()
			for _, id := range g.cols.GetDownstreamNodes(key) {
				set[g.node(id).ID.Model] = true
			}
		}
	}
	delete(set, name)

	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Capabilities implements core.ImpactSource.
func (g *Graph) Capabilities() core.LineageCapabilities {
	return core.LineageCapabilities{ColumnLevel: true, TransformPaths: true, ModelDownstream: true}
}

var _ core.ImpactSource = (*Graph)(nil)

func withoutSelf(names []string, self string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != self {
			out = append(out, n)
		}
	}
	return out
}
