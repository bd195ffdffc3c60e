package core

// ColumnID identifies a column node globally.
type ColumnID struct {
	Model  string `json:"model"`
	Column string `json:"column"`
}

// String returns the "model.column" form.
func (id ColumnID) String() string {
	return id.Model + "." + id.Column
}

// TransformKind tags a column lineage edge.
type TransformKind string

const (
	// TransformDirect means the column is copied verbatim.
	TransformDirect TransformKind = "direct"
	// TransformExpression means the column is derived from an expression.
	TransformExpression TransformKind = "expression"
	// TransformCTE means the column is matched through a reusable subquery.
	TransformCTE TransformKind = "cte"
	// TransformImplicit means the column was matched by name against an
	// upstream model because nothing else resolved it.
	TransformImplicit TransformKind = "implicit"
)

// LineageCapabilities describes what an impact source can answer.
type LineageCapabilities struct {
	ColumnLevel     bool `json:"column_level"`
	TransformPaths  bool `json:"transform_paths"`
	ModelDownstream bool `json:"model_downstream"`
}

// ImpactSource answers "which models are downstream of this one". Both the
// dependency graph and the column lineage graph implement it.
type ImpactSource interface {
	DownstreamModels(name string) []string
	Capabilities() LineageCapabilities
}
