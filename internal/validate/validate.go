// Package validate checks a model registry for unresolved references and
// inconsistent declarations. Every check collects findings instead of
// stopping at the first problem, so one pass yields the complete list.
package validate

import (
	"fmt"
	"sort"

	"github.com/leapstack-labs/leapplan/internal/dag"
	"github.com/leapstack-labs/leapplan/pkg/core"
	"github.com/leapstack-labs/leapplan/pkg/lineage"
)

// Rule IDs for model-level findings.
const (
	RuleUndeclaredReference = "MV01" // column reads a model that is not a declared dependency
	RuleGrainColumn         = "MV02"
	RuleAuditColumn         = "MV03"
	RuleCTENotDependency    = "MV04"
	RuleDuplicateColumn     = "MV05"
)

var defaultSeverity = map[string]core.Severity{
	RuleUndeclaredReference: core.SeverityError,
	RuleGrainColumn:         core.SeverityError,
	RuleAuditColumn:         core.SeverityError,
	RuleCTENotDependency:    core.SeverityWarning,
	RuleDuplicateColumn:     core.SeverityError,
}

// Extractor pulls the column identifiers an expression reads.
// *lineage.Resolver implements it.
type Extractor interface {
	ExtractColumnRefs(expr, referenceTable string) []string
}

// Config configures a Validator. Zero values select the defaults.
type Config struct {
	Extractor Extractor
	External  lineage.ExternalTables
	// ColumnSuggester proposes replacements for unknown columns.
	ColumnSuggester lineage.Suggester
	// TableSuggester proposes replacements for unknown reference tables.
	TableSuggester lineage.Suggester

	DisabledRules     map[string]bool
	SeverityOverrides map[string]core.Severity
}

// Validator runs every check against a registry.
type Validator struct {
	refs      Extractor
	external  lineage.ExternalTables
	columns   lineage.Suggester
	tables    lineage.Suggester
	disabled  map[string]bool
	overrides map[string]core.Severity
}

// New creates a Validator.
func New(cfg Config) *Validator {
	v := &Validator{
		refs:      cfg.Extractor,
		external:  cfg.External,
		columns:   cfg.ColumnSuggester,
		tables:    cfg.TableSuggester,
		disabled:  cfg.DisabledRules,
		overrides: cfg.SeverityOverrides,
	}
	if v.refs == nil {
		v.refs = lineage.NewResolver(lineage.Options{})
	}
	if v.columns == nil {
		v.columns = lineage.Similarity{Threshold: lineage.ColumnSimilarityThreshold}
	}
	if v.tables == nil {
		v.tables = lineage.Similarity{Threshold: lineage.TableSimilarityThreshold}
	}
	return v
}

// Validate builds the dependency graph of reg and checks it.
func (v *Validator) Validate(reg core.Registry) *Report {
	deps, structural := dag.Build(reg, v.external.IsExternal)
	return v.ValidateGraph(deps, structural)
}

// ValidateGraph checks a registry whose dependency graph was already built.
// structural holds the diagnostics returned by dag.Build.
func (v *Validator) ValidateGraph(deps *dag.DependencyGraph, structural []core.StructuralError) *Report {
	reg := deps.Registry()
	r := &Report{
		Structural:   append([]core.StructuralError{}, structural...),
		ColumnErrors: []core.ColumnReferenceError{},
		Cycles:       deps.FindCycles(),
		Findings:     []Finding{},
	}
	if r.Cycles == nil {
		r.Cycles = [][]string{}
	}

	for _, name := range reg.Names() {
		m := reg[name]
		r.ColumnErrors = append(r.ColumnErrors, v.columnErrors(reg, m)...)
		r.Findings = append(r.Findings, v.modelFindings(reg, m)...)
	}
	return r
}

// ValidateModel checks the column references of a single model. An unknown
// name yields one MODEL_NOT_FOUND error.
func (v *Validator) ValidateModel(reg core.Registry, name string) []core.ColumnReferenceError {
	m, ok := reg.Get(name)
	if !ok {
		return []core.ColumnReferenceError{{
			ModelName: name,
			ErrorType: core.ModelNotFound,
			Message:   fmt.Sprintf("Model '%s' not found", name),
		}}
	}
	return v.columnErrors(reg, m)
}

func (v *Validator) columnErrors(reg core.Registry, m *core.Model) []core.ColumnReferenceError {
	var out []core.ColumnReferenceError
	for _, c := range m.Columns {
		ref := c.ReferenceTable
		if ref == "" || v.external.IsExternal(ref) {
			continue
		}

		target, ok := reg.Get(ref)
		if !ok {
			out = append(out, core.ColumnReferenceError{
				ModelName:      m.Name,
				ColumnName:     c.Name,
				ErrorType:      core.ReferenceTableNotFound,
				Message:        fmt.Sprintf("Referenced table '%s' not found", ref),
				ReferenceTable: ref,
				Suggestion:     v.tables.Suggest(ref, reg.Names()),
			})
			continue
		}

		available := target.ColumnNames()
		sort.Strings(available)
		for _, col := range v.referencedColumns(c) {
			if target.HasColumn(col) {
				continue
			}
			out = append(out, core.ColumnReferenceError{
				ModelName:        m.Name,
				ColumnName:       c.Name,
				ErrorType:        core.ColumnNotFound,
				Message:          fmt.Sprintf("Column '%s' not found in table '%s'", col, ref),
				ReferenceTable:   ref,
				ReferencedColumn: col,
				AvailableColumns: available,
				Suggestion:       v.columns.Suggest(col, available),
			})
		}
	}
	return out
}

// referencedColumns is the same-named column for a direct copy, otherwise
// whatever the expression reads.
func (v *Validator) referencedColumns(c core.ColumnTransformation) []string {
	if c.IsDirect() {
		return []string{c.Name}
	}
	return v.refs.ExtractColumnRefs(c.Expression, c.ReferenceTable)
}

func (v *Validator) modelFindings(reg core.Registry, m *core.Model) []Finding {
	var out []Finding
	add := func(rule, format string, args ...any) {
		if v.disabled[rule] {
			return
		}
		sev := defaultSeverity[rule]
		if o, ok := v.overrides[rule]; ok {
			sev = o
		}
		out = append(out, Finding{
			RuleID:   rule,
			Model:    m.Name,
			Severity: sev,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	declared := make(map[string]bool)
	for _, d := range m.Dependencies() {
		declared[d] = true
	}
	for _, cte := range m.CTEs {
		declared[cte] = true
	}

	seenRef := make(map[string]bool)
	seenCol := make(map[string]bool)
	for _, c := range m.Columns {
		if seenCol[c.Name] {
			add(RuleDuplicateColumn, "column '%s' is defined more than once", c.Name)
		}
		seenCol[c.Name] = true

		ref := c.ReferenceTable
		if ref == "" || declared[ref] || seenRef[ref] || v.external.IsExternal(ref) || !reg.Has(ref) {
			continue
		}
		seenRef[ref] = true
		add(RuleUndeclaredReference, "column '%s' references table '%s' which is not a declared dependency", c.Name, ref)
	}

	for _, g := range m.Grain {
		if !m.HasColumn(g) {
			add(RuleGrainColumn, "grain column '%s' not found in transformations", g)
		}
	}
	for _, a := range m.Audits {
		for _, col := range a.Columns {
			if !m.HasColumn(col) {
				add(RuleAuditColumn, "%s audit column '%s' not found in transformations", a.Type, col)
			}
		}
	}

	inDeps := make(map[string]bool)
	for _, d := range m.Source.DependsOn {
		inDeps[d] = true
	}
	for _, cte := range m.CTEs {
		if !inDeps[cte] {
			add(RuleCTENotDependency, "CTE '%s' is not listed in depends_on", cte)
		}
	}
	return out
}
