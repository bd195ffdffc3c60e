package lineage

import (
	"sort"

	"github.com/leapstack-labs/leapplan/pkg/core"
)

// topN bounds the "most dependent" rankings.
const topN = 5

// ModelCount pairs a model with a count.
type ModelCount struct {
	Model string `json:"model"`
	Count int    `json:"count"`
}

// Stats summarizes both graph granularities.
type Stats struct {
	Models            int                        `json:"total_models"`
	Columns           int                        `json:"total_columns"`
	ModelDependencies int                        `json:"total_model_dependencies"`
	ColumnEdges       int                        `json:"total_column_dependencies"`
	EdgesByKind       map[core.TransformKind]int `json:"edges_by_kind"`
	SourceColumns     int                        `json:"source_columns"`
	NoDependencies    []string                   `json:"models_with_no_dependencies"`
	NoDependents      []string                   `json:"models_with_no_dependents"`
	MostDependent     []ModelCount               `json:"most_dependent_models"`
	MostDependedUpon  []ModelCount               `json:"most_depended_upon_models"`
}

// Stats computes graph statistics.
func (g *Graph) Stats() Stats {
	s := Stats{
		Models:         len(g.reg),
		Columns:        g.cols.NodeCount(),
		ColumnEdges:    g.cols.EdgeCount(),
		EdgesByKind:    map[core.TransformKind]int{},
		NoDependencies: []string{},
		NoDependents:   []string{},
	}

	for _, from := range g.cols.NodeIDs() {
		if g.cols.InDegree(from) == 0 {
			s.SourceColumns++
		}
		for _, to := range g.cols.GetChildren(from) {
			s.EdgesByKind[g.edge(from, to).Kind]++
		}
	}

	if g.deps == nil {
		return s
	}
	s.ModelDependencies = g.deps.Graph().EdgeCount()
	s.NoDependencies = g.deps.Roots()
	s.NoDependents = g.deps.Leaves()

	var in, out []ModelCount
	for _, name := range g.deps.Names() {
		in = append(in, ModelCount{name, len(g.deps.DirectPredecessors(name))})
		out = append(out, ModelCount{name, len(g.deps.DirectSuccessors(name))})
	}
	s.MostDependent = top(in)
	s.MostDependedUpon = top(out)
	return s
}

func top(counts []ModelCount) []ModelCount {
	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Count > counts[j].Count
	})
	if len(counts) > topN {
		counts = counts[:topN]
	}
	return counts
}

// LayerStat summarizes the models of one layer.
type LayerStat struct {
	ModelCount   int      `json:"model_count"`
	TotalColumns int      `json:"total_columns"`
	Models       []string `json:"models"`
}

// LayerStats groups models by layer.
func (g *Graph) LayerStats() map[core.Layer]LayerStat {
	out := make(map[core.Layer]LayerStat)
	for _, name := range g.reg.Names() {
		m := g.reg[name]
		st := out[m.Layer]
		st.ModelCount++
		st.TotalColumns += len(m.Columns)
		st.Models = append(st.Models, name)
		out[m.Layer] = st
	}
	return out
}
