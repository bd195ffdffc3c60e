package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapplan/internal/cli/output"
	"github.com/leapstack-labs/leapplan/internal/lineage"
	"github.com/leapstack-labs/leapplan/pkg/core"
)

// layerOrder is the display order of impacted layers.
var layerOrder = []core.Layer{core.LayerBronze, core.LayerSilver, core.LayerGold, core.LayerCTE}

// NewImpactCommand creates the impact command.
func NewImpactCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "impact <model> [column]",
		Short: "Show what a change would affect",
		Long: `Report every model downstream of a model, grouped by layer, and flag the
critical ones (models with many direct dependents).

With a column argument, report every column derived from it instead.`,
		Example: `  # Impact of changing a model
  leapplan impact orders

  # Impact of changing one column
  leapplan impact orders amount --output json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			column := ""
			if len(args) == 2 {
				column = args[1]
			}
			return runImpact(cmd, args[0], column)
		},
	}
}

func runImpact(cmd *cobra.Command, model, column string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	r := cmdCtx.Renderer
	impact, err := cmdCtx.Engine.Impact(model, column)
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(impact)
	}
	if impact.Column != nil {
		columnImpact(r, impact.Column)
		return nil
	}
	modelImpact(r, impact.Model)
	return nil
}

func modelImpact(r *output.Renderer, mi *lineage.ModelImpactInfo) {
	styles := r.Styles()
	markdown := r.EffectiveMode() == output.ModeMarkdown
	r.Header(1, "Impact: "+mi.Model)

	if mi.Total == 0 {
		r.Muted("No downstream models.")
		return
	}

	critical := make(map[string]bool, len(mi.Critical))
	for _, name := range mi.Critical {
		critical[name] = true
	}

	for _, layer := range layerOrder {
		models := mi.ByLayer[layer]
		if len(models) == 0 {
			continue
		}
		if markdown {
			r.Println(output.FormatHeader(2, fmt.Sprintf("%s (%d)", layer, len(models))))
		} else {
			r.Println(styles.Header2.Render(fmt.Sprintf("%s (%d):", layer, len(models))))
		}
		for _, name := range models {
			label := name
			if critical[name] {
				if markdown {
					label += " **critical**"
				} else {
					label = styles.ModelPath.Render(name) + " " + styles.Warning.Render("critical")
				}
			} else if !markdown {
				label = styles.ModelPath.Render(name)
			}
			if markdown {
				r.Printf("- %s\n", label)
			} else {
				r.Printf("  %s\n", label)
			}
		}
		r.Println("")
	}

	summary := fmt.Sprintf("%d impacted model(s), %d critical", mi.Total, len(mi.Critical))
	if markdown {
		r.Println(output.FormatKeyValue("Total", summary))
		return
	}
	r.Muted(summary)
}

func columnImpact(r *output.Renderer, ci *lineage.ColumnImpact) {
	r.Header(1, "Impact: "+ci.ColumnID)

	if ci.TotalImpactedColumns == 0 {
		r.Muted("No downstream columns.")
		return
	}

	models := make([]string, 0, len(ci.ImpactByModel))
	for m := range ci.ImpactByModel {
		models = append(models, m)
	}
	sort.Strings(models)

	rows := make([][]string, 0, len(models))
	for _, m := range models {
		rows = append(rows, []string{m, strings.Join(ci.ImpactByModel[m], ", ")})
	}
	r.Table([]string{"Model", "Columns"}, rows)

	summary := fmt.Sprintf("%d impacted column(s) across %d model(s)", ci.TotalImpactedColumns, len(ci.ImpactedModels))
	if r.EffectiveMode() == output.ModeMarkdown {
		r.Println("")
		r.Println(output.FormatKeyValue("Total", summary))
		return
	}
	r.Muted(summary)
}
