package commands

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapplan/internal/cli/output"
	"github.com/leapstack-labs/leapplan/internal/validate"
	"github.com/leapstack-labs/leapplan/pkg/core"
)

// ErrValidationFailed is returned when validation reports blocking problems.
var ErrValidationFailed = errors.New("validation failed")

// ValidateOptions holds options for the validate command.
type ValidateOptions struct {
	Model string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	opts := &ValidateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check model definitions for unresolved references",
		Long: `Check every model for unknown dependencies and CTEs, dependency cycles,
columns that read unknown tables or columns, and inconsistent grain, audit
and CTE declarations. All problems are reported in one pass.

Exits non-zero when any error-severity problem is found.`,
		Example: `  # Validate all models
  leapplan validate

  # Validate the column references of one model
  leapplan validate --model orders

  # Machine-readable report
  leapplan validate --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "Only check the column references of this model")

	return cmd
}

func runValidate(cmd *cobra.Command, opts *ValidateOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	r := cmdCtx.Renderer
	var report *validate.Report
	if opts.Model != "" {
		if !cmdCtx.Engine.Registry().Has(opts.Model) {
			return fmt.Errorf("model %q not found", opts.Model)
		}
		report = &validate.Report{
			Structural:   []core.StructuralError{},
			ColumnErrors: cmdCtx.Engine.Validator().ValidateModel(cmdCtx.Engine.Registry(), opts.Model),
			Cycles:       [][]string{},
			Findings:     []validate.Finding{},
		}
	} else {
		report, err = cmdCtx.Engine.Validate()
		if err != nil {
			return err
		}
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		err = r.JSON(validateJSON{OK: report.OK(), Summary: report.Summary(), Report: report})
	case output.ModeMarkdown:
		validateMarkdown(r, report)
	default:
		err = report.WriteText(r.Writer())
		if err == nil {
			validateVerdict(r, report)
		}
	}
	if err != nil {
		return err
	}

	if !report.OK() {
		return fmt.Errorf("%w: %d problem(s)", ErrValidationFailed, report.Count())
	}
	return nil
}

// validateVerdict closes the text report with one line per severity.
func validateVerdict(r *output.Renderer, report *validate.Report) {
	counts := map[core.Severity]int{
		core.SeverityError: len(report.Structural) + len(report.ColumnErrors) + len(report.Cycles),
	}
	for _, f := range report.Findings {
		counts[f.Severity]++
	}

	styles := r.Styles()
	for _, sev := range []core.Severity{core.SeverityError, core.SeverityWarning, core.SeverityInfo} {
		if counts[sev] == 0 {
			continue
		}
		r.Println(styles.Severity(sev).Render(fmt.Sprintf("%d %s(s)", counts[sev], sev)))
	}
}

type validateJSON struct {
	OK      bool             `json:"ok"`
	Summary map[string]int   `json:"summary"`
	Report  *validate.Report `json:"report"`
}

func validateMarkdown(r *output.Renderer, report *validate.Report) {
	r.Println(output.FormatHeader(1, "Validation Report"))
	r.Println("")
	if report.Count() == 0 {
		r.Println("No validation errors found.")
		return
	}

	if len(report.Structural) > 0 {
		r.Println(output.FormatHeader(2, "Structural Errors"))
		for _, se := range report.Structural {
			r.Printf("- %s\n", se.Error())
		}
		r.Println("")
	}

	if len(report.Cycles) > 0 {
		r.Println(output.FormatHeader(2, "Cycles"))
		for _, c := range report.Cycles {
			r.Printf("- %s -> %s\n", strings.Join(c, " -> "), c[0])
		}
		r.Println("")
	}

	if len(report.ColumnErrors) > 0 {
		r.Println(output.FormatHeader(2, "Column Reference Errors"))
		byModel := report.ByModel()
		models := make([]string, 0, len(byModel))
		for m := range byModel {
			models = append(models, m)
		}
		sort.Strings(models)
		for _, m := range models {
			r.Println(output.FormatHeader(3, m))
			for _, e := range byModel[m] {
				line := fmt.Sprintf("- `%s`: %s", e.ColumnName, e.Message)
				if e.Suggestion != "" {
					line += fmt.Sprintf(" (did you mean `%s`?)", e.Suggestion)
				}
				r.Println(line)
			}
			r.Println("")
		}
	}

	if len(report.Findings) > 0 {
		r.Println(output.FormatHeader(2, "Model Checks"))
		for _, f := range report.Findings {
			r.Printf("- **%s** `%s` %s: %s\n", f.Severity, f.RuleID, f.Model, f.Message)
		}
		r.Println("")
	}

	r.Println(output.FormatHeader(2, "Summary"))
	summary := report.Summary()
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r.Println(output.FormatKeyValue(k, fmt.Sprintf("%d", summary[k])))
	}
}
