package core

import (
	"sort"
	"strings"
)

// Layer is the medallion layer a model belongs to.
type Layer string

// Layer constants.
const (
	LayerBronze Layer = "bronze"
	LayerSilver Layer = "silver"
	LayerGold   Layer = "gold"
	LayerCTE    Layer = "cte"
)

// Valid reports whether l is a known layer.
func (l Layer) Valid() bool {
	switch l {
	case LayerBronze, LayerSilver, LayerGold, LayerCTE:
		return true
	}
	return false
}

// Kind describes how a model is materialized.
type Kind string

// Kind constants.
const (
	KindTable Kind = "TABLE"
	KindView  Kind = "VIEW"
	KindCTE   Kind = "CTE"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTable, KindView, KindCTE:
		return true
	}
	return false
}

// RefreshFrequency is how often a model is expected to be rebuilt.
type RefreshFrequency string

// Refresh frequency constants.
const (
	RefreshHourly  RefreshFrequency = "hourly"
	RefreshDaily   RefreshFrequency = "daily"
	RefreshWeekly  RefreshFrequency = "weekly"
	RefreshMonthly RefreshFrequency = "monthly"
)

// AuditType identifies a data quality rule.
type AuditType string

// Audit type constants.
const (
	AuditNotNull           AuditType = "NOT_NULL"
	AuditPositiveValues    AuditType = "POSITIVE_VALUES"
	AuditUniqueCombination AuditType = "UNIQUE_COMBINATION"
	AuditAcceptedValues    AuditType = "ACCEPTED_VALUES"
)

// AuditRule is a data quality rule declared on a model.
type AuditRule struct {
	Type    AuditType
	Columns []string
	// Values is only used by ACCEPTED_VALUES.
	Values []string
}

// Source describes where a model reads from.
type Source struct {
	// BaseTable is the optional table the query selects FROM.
	BaseTable string
	// DependsOn lists other models or external tables this model reads.
	DependsOn []string
}

// FilterCondition is a WHERE predicate scoped to a reference table.
type FilterCondition struct {
	ReferenceTable string
	Condition      string
}

// ColumnTransformation defines a single output column of a model.
type ColumnTransformation struct {
	// Name is unique within the owning model.
	Name string
	// ReferenceTable is a model name or an external table.
	ReferenceTable string
	// Expression is opaque SQL text. Empty means the same-named column is
	// copied verbatim from ReferenceTable.
	Expression  string
	Description string
	DataType    string
	// Nullable is nil when the definition does not say; it is treated as true.
	Nullable *bool
}

// IsDirect reports whether the column is a verbatim copy of its reference column.
func (c ColumnTransformation) IsDirect() bool {
	return strings.TrimSpace(c.Expression) == ""
}

// IsNullable returns the effective nullability of the column.
func (c ColumnTransformation) IsNullable() bool {
	if c.Nullable == nil {
		return true
	}
	return *c.Nullable
}

// Model is a declaratively defined transformation producing one table, view
// or reusable subquery. Models are immutable for the duration of one run.
type Model struct {
	Name             string
	Description      string
	Layer            Layer
	Kind             Kind
	Owner            string
	Domain           string
	Tags             []string
	RefreshFrequency RefreshFrequency

	Source Source
	// CTEs names reusable subqueries referenced inline. Each must also appear
	// in Source.DependsOn.
	CTEs    []string
	Columns []ColumnTransformation
	Filters []FilterCondition
	GroupBy []string
	Having  []string
	Grain   []string
	Audits  []AuditRule

	// FilePath is the definition file the model was loaded from, if any.
	FilePath string
}

// ColumnNames returns the model's column names in declaration order.
func (m *Model) ColumnNames() []string {
	names := make([]string, 0, len(m.Columns))
	for _, c := range m.Columns {
		names = append(names, c.Name)
	}
	return names
}

// Column returns the named column.
func (m *Model) Column(name string) (ColumnTransformation, bool) {
	for _, c := range m.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnTransformation{}, false
}

// HasColumn reports whether the model declares the named column.
func (m *Model) HasColumn(name string) bool {
	_, ok := m.Column(name)
	return ok
}

// HasCTE reports whether name is one of the model's reusable subqueries.
func (m *Model) HasCTE(name string) bool {
	for _, c := range m.CTEs {
		if c == name {
			return true
		}
	}
	return false
}

// Dependencies returns the declared dependency names in declaration order,
// without duplicates. The base table counts as a dependency.
func (m *Model) Dependencies() []string {
	seen := make(map[string]struct{}, len(m.Source.DependsOn)+1)
	var deps []string
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		deps = append(deps, name)
	}
	add(m.Source.BaseTable)
	for _, d := range m.Source.DependsOn {
		add(d)
	}
	return deps
}

// Registry maps unique model names to their definitions. It is treated as an
// immutable snapshot for one run.
type Registry map[string]*Model

// NewRegistry builds a registry from a list of models. Later duplicates win.
func NewRegistry(models ...*Model) Registry {
	r := make(Registry, len(models))
	for _, m := range models {
		r[m.Name] = m
	}
	return r
}

// Names returns all model names in lexicographic order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the named model.
func (r Registry) Get(name string) (*Model, bool) {
	m, ok := r[name]
	return m, ok
}

// Has reports whether name is a known model.
func (r Registry) Has(name string) bool {
	_, ok := r[name]
	return ok
}
