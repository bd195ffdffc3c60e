package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapplan/internal/cli/output"
	"github.com/leapstack-labs/leapplan/internal/dag"
	"github.com/leapstack-labs/leapplan/internal/lineage"
)

// GraphQuerier provides read-only access to DAG structure.
type GraphQuerier interface {
	DirectPredecessors(string) []string
	DirectSuccessors(string) []string
	Stats() dag.Stats
}

// DAGOutput is the JSON document of the dag command.
type DAGOutput struct {
	Levels      []DAGLevel `json:"levels"`
	TotalModels int        `json:"total_models"`
	TotalEdges  int        `json:"total_edges"`
}

// DAGLevel is one execution level.
type DAGLevel struct {
	Level  int       `json:"level"`
	Models []DAGNode `json:"models"`
}

// DAGNode is one model and its direct neighbours.
type DAGNode struct {
	Name      string   `json:"name"`
	DependsOn []string `json:"depends_on"`
	UsedBy    []string `json:"used_by"`
}

// NewDAGCommand creates the dag command.
func NewDAGCommand() *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Show the dependency graph",
		Long: `Display the dependency graph (DAG) of all models.

Models are grouped by execution level, showing which models can be rebuilt
in parallel and their dependency relationships.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format (agent-friendly)`,
		Example: `  # Show the DAG
  leapplan dag

  # Output as JSON
  leapplan dag --output json

  # Render with Graphviz
  leapplan dag --dot | dot -Tsvg > dag.svg`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDAG(cmd, dot)
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "Write the model graph in Graphviz DOT format")

	return cmd
}

func runDAG(cmd *cobra.Command, dot bool) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	eng := cmdCtx.Engine
	r := cmdCtx.Renderer

	if dot {
		return eng.Lineage().ExportDOT(r.Writer(), lineage.DOTOptions{})
	}

	graph := eng.Graph()
	levels, err := graph.ExecutionLevels()
	if err != nil {
		return fmt.Errorf("failed to get execution levels: %w", err)
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return dagJSON(r, graph, levels)
	case output.ModeMarkdown:
		dagMarkdown(r, graph, levels)
	default:
		dagText(r, graph, levels)
	}
	return nil
}

// dagText outputs DAG in styled text format.
func dagText(r *output.Renderer, graph GraphQuerier, levels [][]string) {
	styles := r.Styles()

	r.Header(1, "Dependency Graph")

	for i, level := range levels {
		r.Println(styles.Header2.Render(fmt.Sprintf("Level %d:", i)))
		for _, model := range level {
			deps := graph.DirectPredecessors(model)
			children := graph.DirectSuccessors(model)

			r.Printf("  %s\n", styles.ModelPath.Render(model))
			if len(deps) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("depends on:"), strings.Join(deps, ", "))
			}
			if len(children) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("used by:"), strings.Join(children, ", "))
			}
		}
		r.Println("")
	}

	stats := graph.Stats()
	r.Println(styles.Muted.Render(fmt.Sprintf("Total: %d models, %d dependencies", stats.Models, stats.Edges)))
}

// dagMarkdown outputs DAG in markdown format.
func dagMarkdown(r *output.Renderer, graph GraphQuerier, levels [][]string) {
	r.Println(output.FormatHeader(1, "Dependency Graph"))
	r.Println("")

	for i, level := range levels {
		levelName := fmt.Sprintf("Level %d", i)
		if i == 0 {
			levelName = "Level 0 (Sources)"
		}
		r.Println(output.FormatHeader(2, levelName))

		for _, model := range level {
			deps := graph.DirectPredecessors(model)
			children := graph.DirectSuccessors(model)

			r.Printf("- %s\n", model)
			if len(deps) > 0 {
				r.Printf("  - depends on: %s\n", strings.Join(deps, ", "))
			}
			if len(children) > 0 {
				r.Printf("  - used by: %s\n", strings.Join(children, ", "))
			}
		}
		r.Println("")
	}

	stats := graph.Stats()
	r.Println(output.FormatHeader(2, "Summary"))
	r.Println(output.FormatKeyValue("Total Models", fmt.Sprintf("%d", stats.Models)))
	r.Println(output.FormatKeyValue("Total Dependencies", fmt.Sprintf("%d", stats.Edges)))
}

// dagJSON outputs DAG in JSON format.
func dagJSON(r *output.Renderer, graph GraphQuerier, levels [][]string) error {
	stats := graph.Stats()
	doc := DAGOutput{
		Levels:      make([]DAGLevel, 0, len(levels)),
		TotalModels: stats.Models,
		TotalEdges:  stats.Edges,
	}

	for i, level := range levels {
		dagLevel := DAGLevel{
			Level:  i,
			Models: make([]DAGNode, 0, len(level)),
		}
		for _, model := range level {
			dagLevel.Models = append(dagLevel.Models, DAGNode{
				Name:      model,
				DependsOn: graph.DirectPredecessors(model),
				UsedBy:    graph.DirectSuccessors(model),
			})
		}
		doc.Levels = append(doc.Levels, dagLevel)
	}

	return r.JSON(doc)
}
