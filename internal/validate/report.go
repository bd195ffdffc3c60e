package validate

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapplan/pkg/core"
)

// maxListedColumns caps the available-column hint in text reports.
const maxListedColumns = 10

// Finding is a model-level problem that is not a column reference error.
type Finding struct {
	RuleID   string        `json:"rule_id"`
	Model    string        `json:"model"`
	Severity core.Severity `json:"severity"`
	Message  string        `json:"message"`
}

// Report collects every diagnostic of one validation pass.
type Report struct {
	Structural   []core.StructuralError      `json:"structural_errors"`
	ColumnErrors []core.ColumnReferenceError `json:"column_errors"`
	Cycles       [][]string                  `json:"cycles"`
	Findings     []Finding                   `json:"findings"`
}

// OK reports whether the registry can be planned: no structural or column
// errors, no cycles and no error-severity findings.
func (r *Report) OK() bool {
	if len(r.Structural) > 0 || len(r.ColumnErrors) > 0 || len(r.Cycles) > 0 {
		return false
	}
	for _, f := range r.Findings {
		if f.Severity == core.SeverityError {
			return false
		}
	}
	return true
}

// ByModel groups column errors by owning model.
func (r *Report) ByModel() map[string][]core.ColumnReferenceError {
	out := make(map[string][]core.ColumnReferenceError)
	for _, e := range r.ColumnErrors {
		out[e.ModelName] = append(out[e.ModelName], e)
	}
	return out
}

// Summary counts diagnostics by category: column error type, "missing_"
// plus the structural kind, "cycle", and finding rule ID.
func (r *Report) Summary() map[string]int {
	out := make(map[string]int)
	for _, e := range r.ColumnErrors {
		out[string(e.ErrorType)]++
	}
	for _, e := range r.Structural {
		out["missing_"+string(e.Kind)]++
	}
	if len(r.Cycles) > 0 {
		out["cycle"] = len(r.Cycles)
	}
	for _, f := range r.Findings {
		out[f.RuleID]++
	}
	return out
}

// Count is the total number of diagnostics.
func (r *Report) Count() int {
	return len(r.Structural) + len(r.ColumnErrors) + len(r.Cycles) + len(r.Findings)
}

// WriteText writes a human-readable report.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder
	if r.Count() == 0 {
		b.WriteString("No validation errors found.\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	if len(r.Structural) > 0 {
		fmt.Fprintf(&b, "Structural errors (%d):\n", len(r.Structural))
		for _, e := range r.Structural {
			fmt.Fprintf(&b, "  - %s\n", e.Error())
		}
		b.WriteString("\n")
	}

	if len(r.Cycles) > 0 {
		fmt.Fprintf(&b, "Cycles (%d):\n", len(r.Cycles))
		for _, c := range r.Cycles {
			fmt.Fprintf(&b, "  - %s -> %s\n", strings.Join(c, " -> "), c[0])
		}
		b.WriteString("\n")
	}

	if len(r.ColumnErrors) > 0 {
		fmt.Fprintf(&b, "Column reference errors (%d):\n", len(r.ColumnErrors))
		byModel := r.ByModel()
		models := make([]string, 0, len(byModel))
		for name := range byModel {
			models = append(models, name)
		}
		sort.Strings(models)
		for _, name := range models {
			fmt.Fprintf(&b, "\nModel: %s\n", name)
			for _, e := range byModel[name] {
				fmt.Fprintf(&b, "  Column '%s': %s\n", e.ColumnName, e.Message)
				if n := len(e.AvailableColumns); n > maxListedColumns {
					fmt.Fprintf(&b, "    Available columns: %s... (+%d more)\n", strings.Join(e.AvailableColumns[:5], ", "), n-5)
				} else if n > 0 {
					fmt.Fprintf(&b, "    Available columns: %s\n", strings.Join(e.AvailableColumns, ", "))
				}
				if e.Suggestion != "" {
					fmt.Fprintf(&b, "    Suggestion: use '%s'\n", e.Suggestion)
				}
			}
		}
		b.WriteString("\n")
	}

	if len(r.Findings) > 0 {
		fmt.Fprintf(&b, "Model checks (%d):\n", len(r.Findings))
		for _, f := range r.Findings {
			fmt.Fprintf(&b, "  [%s] %s %s: %s\n", f.Severity, f.RuleID, f.Model, f.Message)
		}
		b.WriteString("\n")
	}

	summary := r.Summary()
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("Summary:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %d\n", k, summary[k])
	}

	_, err := io.WriteString(w, b.String())
	return err
}
