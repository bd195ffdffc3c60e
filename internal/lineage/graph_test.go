package lineage

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapplan/internal/dag"
	resolver "github.com/leapstack-labs/leapplan/pkg/lineage"
	"github.com/leapstack-labs/leapplan/pkg/core"
)

func direct(name, ref string) core.ColumnTransformation {
	return core.ColumnTransformation{Name: name, ReferenceTable: ref}
}

func derived(name, ref, expr string) core.ColumnTransformation {
	return core.ColumnTransformation{Name: name, ReferenceTable: ref, Expression: expr}
}

// warehouse: raw_orders -> orders -> recent (CTE) -> summary -> report,
// with summary also reading orders directly.
func warehouse() core.Registry {
	return core.NewRegistry(
		&core.Model{
			Name: "raw_orders", Layer: core.LayerBronze, Kind: core.KindTable,
			Source: core.Source{BaseTable: "raw.orders"},
			Columns: []core.ColumnTransformation{
				direct("id", "raw.orders"),
				direct("amount", "raw.orders"),
				direct("customer_id", "raw.orders"),
				direct("status", "raw.orders"),
			},
		},
		&core.Model{
			Name: "orders", Layer: core.LayerSilver, Kind: core.KindTable,
			Source: core.Source{BaseTable: "raw_orders"},
			Columns: []core.ColumnTransformation{
				direct("id", "raw_orders"),
				derived("amount_usd", "raw_orders", "amount * 1.1"),
				{Name: "customer_id"},
				direct("Status", "raw_orders"),
			},
		},
		&core.Model{
			Name: "recent", Layer: core.LayerCTE, Kind: core.KindCTE,
			Source: core.Source{BaseTable: "orders"},
			Columns: []core.ColumnTransformation{
				direct("id", "orders"),
				direct("amount_usd", "orders"),
			},
		},
		&core.Model{
			Name: "summary", Layer: core.LayerGold, Kind: core.KindTable,
			Source: core.Source{BaseTable: "orders", DependsOn: []string{"recent"}},
			CTEs:   []string{"recent"},
			Columns: []core.ColumnTransformation{
				direct("id", "recent"),
				derived("amount_usd", "recent", "@fx()"),
				direct("customer_id", "orders"),
			},
		},
		&core.Model{
			Name: "report", Layer: core.LayerGold, Kind: core.KindView,
			Source: core.Source{BaseTable: "summary"},
			Columns: []core.ColumnTransformation{
				direct("id", "summary"),
				direct("customer_id", "summary"),
			},
		},
	)
}

func build(t *testing.T, reg core.Registry) *Graph {
	t.Helper()
	deps, diags := dag.Build(reg, resolver.ExternalTables{}.IsExternal)
	require.Empty(t, diags)
	return Build(reg, deps, resolver.NewResolver(resolver.Options{}))
}

func TestBuild_EdgeKinds(t *testing.T) {
	g := build(t, warehouse())

	tests := []struct {
		from, to string
		want     Edge
	}{
		{"raw_orders.id", "orders.id", Edge{Kind: core.TransformDirect}},
		{"raw_orders.amount", "orders.amount_usd", Edge{Kind: core.TransformExpression, Expression: "amount * 1.1"}},
		{"raw_orders.customer_id", "orders.customer_id", Edge{Kind: core.TransformImplicit}},
		{"raw_orders.status", "orders.Status", Edge{Kind: core.TransformDirect}},
		{"orders.id", "recent.id", Edge{Kind: core.TransformDirect}},
		{"recent.id", "summary.id", Edge{Kind: core.TransformDirect}},
		{"recent.amount_usd", "summary.amount_usd", Edge{Kind: core.TransformCTE, Expression: "@fx()"}},
		{"orders.customer_id", "summary.customer_id", Edge{Kind: core.TransformDirect}},
		{"summary.customer_id", "report.customer_id", Edge{Kind: core.TransformDirect}},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			_, ok := g.Columns().EdgeData(tt.from, tt.to)
			require.True(t, ok)
			assert.Equal(t, tt.want, g.edge(tt.from, tt.to))
		})
	}

	assert.Equal(t, 15, g.Columns().NodeCount())
	assert.Equal(t, 11, g.Columns().EdgeCount())
	assert.True(t, g.HasColumn(core.ColumnID{Model: "orders", Column: "Status"}))
	assert.False(t, g.HasColumn(core.ColumnID{Model: "orders", Column: "status"}))
}

func TestBuild_ExternalReferencesHaveNoUpstream(t *testing.T) {
	g := build(t, warehouse())
	for _, c := range []string{"id", "amount", "customer_id", "status"} {
		assert.Empty(t, g.Columns().GetParents("raw_orders."+c), c)
	}
}

func TestBuild_UnresolvedExpressionFallsBackToImplicit(t *testing.T) {
	reg := core.NewRegistry(
		&core.Model{Name: "a", Layer: core.LayerSilver, Kind: core.KindTable,
			Columns: []core.ColumnTransformation{{Name: "total"}}},
		&core.Model{Name: "b", Layer: core.LayerGold, Kind: core.KindTable,
			Source:  core.Source{BaseTable: "a"},
			Columns: []core.ColumnTransformation{derived("total", "a", "missing_col * 2")}},
	)
	g := build(t, reg)
	assert.Equal(t, Edge{Kind: core.TransformImplicit}, g.edge("a.total", "b.total"))
}

func TestDetailedLineage(t *testing.T) {
	g := build(t, warehouse())

	l := g.DetailedLineage("summary", "amount_usd")
	require.True(t, l.Found)
	assert.Equal(t, "summary.amount_usd", l.ColumnID)
	assert.Equal(t, []ColumnRef{{
		Model: "recent", Column: "amount_usd", ColumnID: "recent.amount_usd",
		Kind: core.TransformCTE, Expression: "@fx()",
	}}, l.Upstream)
	assert.Empty(t, l.Downstream)

	var ups []string
	for _, r := range l.AllUpstream {
		ups = append(ups, r.ColumnID)
	}
	assert.Equal(t, []string{"orders.amount_usd", "raw_orders.amount", "recent.amount_usd"}, ups)

	require.Len(t, l.Paths, 1)
	p := l.Paths[0]
	assert.Equal(t, "raw_orders.amount", p.Source)
	require.Len(t, p.Steps, 4)
	assert.Equal(t, PathStep{Step: 1, Model: "raw_orders", Column: "amount", ColumnID: "raw_orders.amount"}, p.Steps[0])
	assert.Equal(t, core.TransformExpression, p.Steps[1].Kind)
	assert.Equal(t, core.TransformDirect, p.Steps[2].Kind)
	assert.Equal(t, core.TransformCTE, p.Steps[3].Kind)
	assert.Equal(t, 4, p.Steps[3].Step)
}

func TestDetailedLineage_SourceColumnAndUnknown(t *testing.T) {
	g := build(t, warehouse())

	src := g.DetailedLineage("raw_orders", "id")
	require.True(t, src.Found)
	require.Len(t, src.Paths, 1)
	assert.Len(t, src.Paths[0].Steps, 1)
	assert.Len(t, src.AllDownstream, 4)

	missing := g.DetailedLineage("nope", "id")
	assert.False(t, missing.Found)
	assert.Empty(t, missing.Upstream)
	assert.Empty(t, missing.Paths)
}

func TestImpactAnalysis(t *testing.T) {
	g := build(t, warehouse())

	imp := g.ImpactAnalysis("raw_orders", "customer_id")
	assert.Equal(t, 3, imp.TotalImpactedColumns)
	assert.Equal(t, []string{"orders", "report", "summary"}, imp.ImpactedModels)
	assert.Equal(t, map[string][]string{
		"orders":  {"customer_id"},
		"report":  {"customer_id"},
		"summary": {"customer_id"},
	}, imp.ImpactByModel)

	none := g.ImpactAnalysis("report", "id")
	assert.Zero(t, none.TotalImpactedColumns)
	assert.Empty(t, none.ImpactedModels)
}

func TestModelLineage(t *testing.T) {
	g := build(t, warehouse())

	info := g.ModelLineage("summary")
	assert.Equal(t, []string{"orders", "recent"}, info.Upstream)
	assert.Equal(t, []string{"report"}, info.Downstream)
	assert.Equal(t, []string{"orders", "raw_orders", "recent"}, info.AllUpstream)
	assert.Equal(t, []string{"report"}, info.AllDownstream)
	assert.Equal(t, 2, info.Depth)

	assert.Zero(t, g.ModelLineage("raw_orders").Depth)
	assert.Empty(t, g.ModelLineage("ghost").AllUpstream)
}

func TestModelImpact(t *testing.T) {
	g := build(t, warehouse())

	imp := g.ModelImpact("orders")
	assert.Equal(t, []string{"recent", "report", "summary"}, imp.ImpactedModels)
	assert.Equal(t, 3, imp.Total)
	assert.Equal(t, []string{"recent"}, imp.ByLayer[core.LayerCTE])
	assert.Equal(t, []string{"report", "summary"}, imp.ByLayer[core.LayerGold])
	assert.Empty(t, imp.Critical)
}

func TestLookupsIgnoreCase(t *testing.T) {
	g := build(t, warehouse())

	name, ok := g.ResolveModel("Raw_Orders")
	require.True(t, ok)
	assert.Equal(t, "raw_orders", name)
	_, ok = g.ResolveModel("ghost")
	assert.False(t, ok)

	id, ok := g.ResolveColumn("ORDERS", "status")
	require.True(t, ok)
	assert.Equal(t, core.ColumnID{Model: "orders", Column: "Status"}, id)
	_, ok = g.ResolveColumn("orders", "missing")
	assert.False(t, ok)

	l := g.DetailedLineage("SUMMARY", "Amount_USD")
	require.True(t, l.Found)
	assert.Equal(t, "summary.amount_usd", l.ColumnID)

	imp := g.ImpactAnalysis("RAW_ORDERS", "Customer_ID")
	assert.Equal(t, 3, imp.TotalImpactedColumns)

	info := g.ModelLineage("Summary")
	assert.Equal(t, "summary", info.Model)
	assert.Equal(t, []string{"report"}, info.Downstream)
	assert.Equal(t, []string{"recent", "report", "summary"}, g.ModelImpact("ORDERS").ImpactedModels)
}

func TestModelImpact_Critical(t *testing.T) {
	models := []*core.Model{
		{Name: "root", Layer: core.LayerBronze, Kind: core.KindTable},
		{Name: "hub", Layer: core.LayerSilver, Kind: core.KindTable, Source: core.Source{BaseTable: "root"}},
	}
	for _, n := range []string{"d1", "d2", "d3"} {
		models = append(models, &core.Model{Name: n, Layer: core.LayerGold, Kind: core.KindView, Source: core.Source{BaseTable: "hub"}})
	}
	g := build(t, core.NewRegistry(models...))

	imp := g.ModelImpact("root")
	assert.Equal(t, 4, imp.Total)
	assert.Equal(t, []string{"hub"}, imp.Critical)
}

func TestDownstreamModels(t *testing.T) {
	g := build(t, warehouse())

	var src core.ImpactSource = g
	assert.Equal(t, []string{"orders", "recent", "report", "summary"}, src.DownstreamModels("raw_orders"))
	assert.Empty(t, src.DownstreamModels("report"))
	assert.Empty(t, src.DownstreamModels("ghost"))
	assert.True(t, src.Capabilities().ColumnLevel)
	assert.True(t, src.Capabilities().TransformPaths)
}

func TestColumnCycles(t *testing.T) {
	reg := core.NewRegistry(
		&core.Model{Name: "a", Layer: core.LayerSilver, Kind: core.KindTable,
			Source: core.Source{BaseTable: "b"}, Columns: []core.ColumnTransformation{direct("x", "b")}},
		&core.Model{Name: "b", Layer: core.LayerSilver, Kind: core.KindTable,
			Source: core.Source{BaseTable: "a"}, Columns: []core.ColumnTransformation{direct("x", "a")}},
	)
	g := build(t, reg)

	assert.True(t, g.HasCycle())
	assert.Equal(t, [][]string{{"a.x", "b.x"}}, g.FindCycles())

	var ce *core.CycleError
	require.True(t, errors.As(g.CycleError(), &ce))
	assert.Equal(t, "column", ce.Scope)

	assert.NoError(t, build(t, warehouse()).CycleError())
}

func TestStats(t *testing.T) {
	g := build(t, warehouse())
	s := g.Stats()

	assert.Equal(t, 5, s.Models)
	assert.Equal(t, 15, s.Columns)
	assert.Equal(t, 5, s.ModelDependencies)
	assert.Equal(t, 11, s.ColumnEdges)
	assert.Equal(t, map[core.TransformKind]int{
		core.TransformDirect:     8,
		core.TransformExpression: 1,
		core.TransformImplicit:   1,
		core.TransformCTE:        1,
	}, s.EdgesByKind)
	assert.Equal(t, 4, s.SourceColumns)
	assert.Equal(t, []string{"raw_orders"}, s.NoDependencies)
	assert.Equal(t, []string{"report"}, s.NoDependents)
	assert.Equal(t, ModelCount{"summary", 2}, s.MostDependent[0])
	assert.Equal(t, ModelCount{"orders", 2}, s.MostDependedUpon[0])

	layers := g.LayerStats()
	assert.Equal(t, LayerStat{ModelCount: 2, TotalColumns: 5, Models: []string{"report", "summary"}}, layers[core.LayerGold])
}

func TestExportJSON(t *testing.T) {
	g := build(t, warehouse())

	var buf bytes.Buffer
	require.NoError(t, g.ExportJSON(&buf))

	var doc Document
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Len(t, doc.Models.Nodes, 5)
	assert.Len(t, doc.Columns.Nodes, 15)
	assert.Len(t, doc.Columns.Edges, 11)
	assert.Contains(t, doc.Models.Edges, ModelEdge{Source: "recent", Target: "summary", Type: "cte"})
	assert.Contains(t, doc.Models.Edges, ModelEdge{Source: "orders", Target: "summary", Type: "dependency"})
	assert.Equal(t, 5, doc.Statistics.Models)
	assert.Contains(t, doc.Layers, core.LayerBronze)
}

func TestExportDOT(t *testing.T) {
	g := build(t, warehouse())

	var models bytes.Buffer
	require.NoError(t, g.ExportDOT(&models, DOTOptions{}))
	out := models.String()
	assert.Contains(t, out, "rankdir=LR;")
	assert.Contains(t, out, `"recent" -> "summary" [style=dashed, color=blue, label="CTE"];`)
	assert.Contains(t, out, `"orders" -> "summary";`)
	assert.Contains(t, out, `shape=diamond`)
	assert.Contains(t, out, `fillcolor="#FFD700"`)
	assert.Contains(t, out, "subgraph cluster_gold {")
	assert.NotContains(t, out, "cluster_bronze")

	var cols bytes.Buffer
	require.NoError(t, g.ExportDOT(&cols, DOTOptions{Columns: true}))
	assert.Contains(t, cols.String(), `"raw_orders.amount" -> "orders.amount_usd" [label="expression"];`)

	var focus bytes.Buffer
	require.NoError(t, g.ExportDOT(&focus, DOTOptions{Focus: "report", Depth: 1}))
	assert.Contains(t, focus.String(), "penwidth=3")
	assert.Contains(t, focus.String(), `"summary" -> "report";`)
	assert.NotContains(t, focus.String(), `"raw_orders" [`)
}
