package lineage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapplan/pkg/core"
)

// ModelNode is a model in the exported document.
type ModelNode struct {
	ID          string     `json:"id"`
	Layer       core.Layer `json:"layer"`
	Kind        core.Kind  `json:"kind"`
	Owner       string     `json:"owner,omitempty"`
	Domain      string     `json:"domain,omitempty"`
	Description string     `json:"description,omitempty"`
	Columns     []string   `json:"columns"`
}

// ModelEdge is a model dependency in the exported document.
type ModelEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	// Type is "cte" when the dependency is one of the target's CTEs,
	// otherwise "dependency".
	Type string `json:"type"`
}

// ColumnNodeDoc is a column in the exported document.
type ColumnNodeDoc struct {
	ID             string `json:"id"`
	Model          string `json:"model"`
	Column         string `json:"column"`
	DataType       string `json:"data_type,omitempty"`
	Expression     string `json:"expression,omitempty"`
	ReferenceTable string `json:"reference_table,omitempty"`
	Description    string `json:"description,omitempty"`
}

// ColumnEdgeDoc is a column edge in the exported document.
type ColumnEdgeDoc struct {
	Source     string             `json:"source"`
	Target     string             `json:"target"`
	Kind       core.TransformKind `json:"transformation_type"`
	Expression string             `json:"expression,omitempty"`
}

// Document is the full export of both graphs.
type Document struct {
	Models struct {
		Nodes []ModelNode `json:"nodes"`
		Edges []ModelEdge `json:"edges"`
	} `json:"model_lineage"`
	Columns struct {
		Nodes []ColumnNodeDoc `json:"nodes"`
		Edges []ColumnEdgeDoc `json:"edges"`
	} `json:"column_lineage"`
	Statistics Stats                    `json:"statistics"`
	Layers     map[core.Layer]LayerStat `json:"layer_statistics"`
}

// Document builds the export document. Nodes and edges are sorted.
func (g *Graph) Document() Document {
	var doc Document
	doc.Models.Nodes = []ModelNode{}
	doc.Models.Edges = []ModelEdge{}
	doc.Columns.Nodes = []ColumnNodeDoc{}
	doc.Columns.Edges = []ColumnEdgeDoc{}

	for _, name := range g.reg.Names() {
		m := g.reg[name]
		doc.Models.Nodes = append(doc.Models.Nodes, ModelNode{
			ID:          name,
			Layer:       m.Layer,
			Kind:        m.Kind,
			Owner:       m.Owner,
			Domain:      m.Domain,
			Description: m.Description,
			Columns:     m.ColumnNames(),
		})
		if g.deps == nil {
			continue
		}
		for _, dep := range g.deps.DirectPredecessors(name) {
			doc.Models.Edges = append(doc.Models.Edges, ModelEdge{Source: dep, Target: name, Type: modelEdgeType(m, dep)})
		}
	}

	for _, key := range g.cols.NodeIDs() {
		n := g.node(key)
		doc.Columns.Nodes = append(doc.Columns.Nodes, ColumnNodeDoc{
			ID:             key,
			Model:          n.ID.Model,
			Column:         n.ID.Column,
			DataType:       n.DataType,
			Expression:     n.Expression,
			ReferenceTable: n.ReferenceTable,
			Description:    n.Description,
		})
		for _, child := range g.cols.GetChildren(key) {
			e := g.edge(key, child)
			doc.Columns.Edges = append(doc.Columns.Edges, ColumnEdgeDoc{Source: key, Target: child, Kind: e.Kind, Expression: e.Expression})
		}
	}

	doc.Statistics = g.Stats()
	doc.Layers = g.LayerStats()
	return doc
}

func modelEdgeType(m *core.Model, dep string) string {
	if m.HasCTE(dep) {
		return "cte"
	}
	return "dependency"
}

// ExportJSON writes the export document as indented JSON.
func (g *Graph) ExportJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(g.Document()); err != nil {
		return fmt.Errorf("encode lineage: %w", err)
	}
	return nil
}

// DOTOptions selects what ExportDOT draws.
type DOTOptions struct {
	// Columns draws the column graph instead of the model graph.
	Columns bool
	// Focus restricts the model graph to one model and its neighbours
	// within Depth hops. Ignored when Columns is set.
	Focus string
	Depth int
}

var layerColors = map[core.Layer]string{
	core.LayerBronze: "#87CEEB",
	core.LayerSilver: "#98FB98",
	core.LayerGold:   "#FFD700",
	core.LayerCTE:    "#D3D3D3",
}

var kindShapes = map[core.Kind]string{
	core.KindTable: "box",
	core.KindView:  "ellipse",
	core.KindCTE:   "diamond",
}

// ExportDOT writes a Graphviz rendering of the graph.
func (g *Graph) ExportDOT(w io.Writer, opts DOTOptions) error {
	bw := bufio.NewWriter(w)
	p := func(format string, args ...any) {
		fmt.Fprintf(bw, format+"\n", args...)
	}

	p("digraph lineage {")
	p("  rankdir=LR;")
	p(`  node [fontname="Arial", fontsize=10];`)
	p(`  edge [fontname="Arial", fontsize=8];`)

	if opts.Columns {
		for _, key := range g.cols.NodeIDs() {
			n := g.node(key)
			label := n.ID.Model + `\n` + n.ID.Column
			if n.DataType != "" {
				label += `\n(` + n.DataType + ")"
			}
			p(`  %s [label=%s, shape=oval];`, dotQuote(key), dotQuote(label))
		}
		for _, from := range g.cols.NodeIDs() {
			for _, to := range g.cols.GetChildren(from) {
				p(`  %s -> %s [label=%s];`, dotQuote(from), dotQuote(to), dotQuote(string(g.edge(from, to).Kind)))
			}
		}
		p("}")
		return bw.Flush()
	}

	include := g.focusSet(opts.Focus, opts.Depth)
	byLayer := make(map[core.Layer][]string)
	for _, name := range g.reg.Names() {
		if include != nil && !include[name] {
			continue
		}
		m := g.reg[name]
		color, ok := layerColors[m.Layer]
		if !ok {
			color = "#FFFFFF"
		}
		shape, ok := kindShapes[m.Kind]
		if !ok {
			shape = "box"
		}
		label := name + `\n(` + string(m.Layer) + ")"
		attrs := fmt.Sprintf("label=%s, shape=%s, style=filled, fillcolor=%s", dotQuote(label), shape, dotQuote(color))
		if name == opts.Focus {
			attrs += ", penwidth=3"
		}
		p("  %s [%s];", dotQuote(name), attrs)
		byLayer[m.Layer] = append(byLayer[m.Layer], name)
	}

	if g.deps != nil {
		for _, name := range g.reg.Names() {
			if include != nil && !include[name] {
				continue
			}
			for _, dep := range g.deps.DirectPredecessors(name) {
				if include != nil && !include[dep] {
					continue
				}
				if modelEdgeType(g.reg[name], dep) == "cte" {
					p(`  %s -> %s [style=dashed, color=blue, label="CTE"];`, dotQuote(dep), dotQuote(name))
				} else {
					p("  %s -> %s;", dotQuote(dep), dotQuote(name))
				}
			}
		}
	}

	layers := make([]string, 0, len(byLayer))
	for l := range byLayer {
		layers = append(layers, string(l))
	}
	sort.Strings(layers)
	for _, l := range layers {
		names := byLayer[core.Layer(l)]
		if len(names) < 2 {
			continue
		}
		p("  subgraph cluster_%s {", sanitizeID(l))
		p("    label=%s;", dotQuote(strings.ToUpper(l)+" LAYER"))
		for _, n := range names {
			p("    %s;", dotQuote(n))
		}
		p("  }")
	}

	p("}")
	return bw.Flush()
}

// focusSet returns the models within depth hops of focus, or nil for no
// restriction.
func (g *Graph) focusSet(focus string, depth int) map[string]bool {
	if focus == "" || g.deps == nil {
		return nil
	}
	if depth <= 0 {
		depth = 2
	}
	set := map[string]bool{focus: true}
	frontier := []string{focus}
	for i := 0; i < depth; i++ {
		var next []string
		for _, n := range frontier {
			for _, m := range append(g.deps.DirectPredecessors(n), g.deps.DirectSuccessors(n)...) {
				if !set[m] {
					set[m] = true
					next = append(next, m)
				}
			}
		}
		frontier = next
	}
	return set
}

func dotQuote(s string) string {
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func sanitizeID(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
