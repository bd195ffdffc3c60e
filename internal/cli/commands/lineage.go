package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapplan/internal/cli/output"
	"github.com/leapstack-labs/leapplan/internal/lineage"
)

// LineageOptions holds options for the lineage command.
type LineageOptions struct {
	Export  string
	Columns bool
	Focus   string
	Depth   int
	File    string
}

// NewLineageCommand creates the lineage command.
func NewLineageCommand() *cobra.Command {
	opts := &LineageOptions{}

	cmd := &cobra.Command{
		Use:   "lineage [model] [column]",
		Short: "Show model or column lineage",
		Long: `Display the upstream dependencies and downstream dependents of a model, or
the full derivation of one of its columns.

Without arguments, --export writes the whole lineage graph as JSON or as a
Graphviz DOT document.`,
		Example: `  # Model-level lineage
  leapplan lineage orders

  # Column-level lineage with transformation paths
  leapplan lineage summary total

  # Export the column graph for Graphviz
  leapplan lineage --export dot --columns | dot -Tsvg > lineage.svg

  # Export the neighbourhood of one model
  leapplan lineage --export dot --focus orders --depth 2`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLineage(cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Export, "export", "", "Export the lineage graph (json|dot)")
	cmd.Flags().BoolVar(&opts.Columns, "columns", false, "Draw column nodes in DOT exports")
	cmd.Flags().StringVar(&opts.Focus, "focus", "", "Restrict DOT exports to a model and its neighbours")
	cmd.Flags().IntVar(&opts.Depth, "depth", 1, "Neighbour depth used with --focus")
	cmd.Flags().StringVar(&opts.File, "file", "", "Write the export to a file instead of stdout")

	return cmd
}

func runLineage(cmd *cobra.Command, args []string, opts *LineageOptions) error {
	if opts.Export == "" && len(args) == 0 {
		return fmt.Errorf("a model is required unless --export is given")
	}

	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	eng := cmdCtx.Engine
	r := cmdCtx.Renderer

	if opts.Export != "" {
		return exportLineage(r.Writer(), eng.Lineage(), opts)
	}

	if len(args) == 2 {
		cl, err := eng.ColumnLineage(args[0], args[1])
		if err != nil {
			return err
		}
		switch r.EffectiveMode() {
		case output.ModeJSON:
			return r.JSON(cl)
		case output.ModeMarkdown:
			columnLineageMarkdown(r, cl)
		default:
			columnLineageText(r, cl)
		}
		return nil
	}

	ml, err := eng.ModelLineage(args[0])
	if err != nil {
		return err
	}
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(ml)
	case output.ModeMarkdown:
		modelLineageMarkdown(r, ml)
	default:
		modelLineageText(r, ml)
	}
	return nil
}

func exportLineage(stdout io.Writer, g *lineage.Graph, opts *LineageOptions) (err error) {
	w := stdout
	if opts.File != "" {
		f, ferr := os.Create(opts.File)
		if ferr != nil {
			return fmt.Errorf("failed to create %s: %w", opts.File, ferr)
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}

	switch strings.ToLower(opts.Export) {
	case "json":
		return g.ExportJSON(w)
	case "dot":
		if opts.Focus != "" && !g.Registry().Has(opts.Focus) {
			return fmt.Errorf("model %q not found", opts.Focus)
		}
		return g.ExportDOT(w, lineage.DOTOptions{
			Columns: opts.Columns,
			Focus:   opts.Focus,
			Depth:   opts.Depth,
		})
	default:
		return fmt.Errorf("unknown export format %q (expected json or dot)", opts.Export)
	}
}

func modelLineageText(r *output.Renderer, ml lineage.ModelLineageInfo) {
	styles := r.Styles()
	r.Header(1, "Lineage: "+ml.Model)

	printList := func(label string, items []string) {
		if len(items) == 0 {
			r.Printf("  %s %s\n", styles.Muted.Render(label), styles.Muted.Render("(none)"))
			return
		}
		r.Printf("  %s %s\n", styles.Muted.Render(label), strings.Join(items, ", "))
	}
	printList("upstream:", ml.Upstream)
	printList("downstream:", ml.Downstream)
	printList("all upstream:", ml.AllUpstream)
	printList("all downstream:", ml.AllDownstream)
	r.Println("")
	r.Println(styles.Muted.Render(fmt.Sprintf("Lineage depth: %d", ml.Depth)))
}

func modelLineageMarkdown(r *output.Renderer, ml lineage.ModelLineageInfo) {
	r.Println(output.FormatHeader(1, "Lineage: "+ml.Model))
	r.Println("")
	r.Println(output.FormatKeyValue("Lineage depth", fmt.Sprintf("%d", ml.Depth)))
	r.Println("")

	sections := []struct {
		title string
		items []string
	}{
		{"Upstream", ml.Upstream},
		{"Downstream", ml.Downstream},
		{"All Upstream", ml.AllUpstream},
		{"All Downstream", ml.AllDownstream},
	}
	for _, s := range sections {
		r.Println(output.FormatHeader(2, s.title))
		if len(s.items) == 0 {
			r.Println("_none_")
		} else {
			r.Printf("%s", output.FormatList(s.items))
		}
		r.Println("")
	}
}

func columnIDs(refs []lineage.ColumnRef) []string {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ColumnID)
	}
	return ids
}

func columnLineageText(r *output.Renderer, cl lineage.ColumnLineage) {
	styles := r.Styles()
	r.Header(1, "Column Lineage: "+cl.ColumnID)

	r.Println(styles.Header2.Render("Upstream:"))
	for _, ref := range cl.Upstream {
		line := "  " + styles.ModelPath.Render(ref.ColumnID)
		if ref.Kind != "" {
			line += " " + styles.Muted.Render("("+string(ref.Kind)+")")
		}
		r.Println(line)
	}
	r.Println(styles.Header2.Render("Downstream:"))
	for _, ref := range cl.Downstream {
		r.Println("  " + styles.ModelPath.Render(ref.ColumnID))
	}

	if len(cl.Paths) > 0 {
		r.Println("")
		r.Println(styles.Header2.Render("Transformation paths:"))
		for _, path := range cl.Paths {
			steps := make([]string, 0, len(path.Steps))
			for _, s := range path.Steps {
				steps = append(steps, s.ColumnID)
			}
			r.Println("  " + strings.Join(steps, " → "))
		}
	}

	r.Println("")
	r.Println(styles.Muted.Render(fmt.Sprintf("%d upstream, %d downstream columns in total",
		len(cl.AllUpstream), len(cl.AllDownstream))))
}

func columnLineageMarkdown(r *output.Renderer, cl lineage.ColumnLineage) {
	r.Println(output.FormatHeader(1, "Column Lineage: "+cl.ColumnID))
	r.Println("")

	r.Println(output.FormatHeader(2, "Upstream"))
	r.Printf("%s", output.FormatList(columnIDs(cl.Upstream)))
	r.Println("")
	r.Println(output.FormatHeader(2, "Downstream"))
	r.Printf("%s", output.FormatList(columnIDs(cl.Downstream)))
	r.Println("")

	if len(cl.Paths) > 0 {
		r.Println(output.FormatHeader(2, "Transformation Paths"))
		rows := make([][]string, 0, len(cl.Paths))
		for _, path := range cl.Paths {
			steps := make([]string, 0, len(path.Steps))
			for _, s := range path.Steps {
				steps = append(steps, s.ColumnID)
			}
			rows = append(rows, []string{path.Source, strings.Join(steps, " → ")})
		}
		r.Table([]string{"Source", "Path"}, rows)
	}
}
