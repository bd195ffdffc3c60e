// Package lineage builds the column-level lineage graph of a model registry.
//
// Nodes are (model, column) pairs, one per column transformation. An edge
// source -> target means the target's value is derived from the source, and
// carries a transformation kind:
//
//   - direct: the column is copied verbatim from its reference table
//   - expression: the column's expression reads the source column
//   - cte: the column matches a same-named column of a reusable subquery
//   - implicit: nothing else resolved, so a same-named column of a direct
//     model predecessor is assumed
//
// # Basic Usage
//
//	deps, _ := dag.Build(reg, ext.IsExternal)
//	g := lineage.Build(reg, deps, exprlineage.NewResolver(exprlineage.Options{}))
//
//	detail := g.DetailedLineage("order_facts", "total")
//	for _, p := range detail.Paths {
//	    fmt.Println(p.Source, len(p.Steps))
//	}
//
// The graph implements core.ImpactSource, so the planner can use it to find
// downstream models.
package lineage
