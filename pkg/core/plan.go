package core

import "time"

// ChangeType classifies a model change.
type ChangeType string

// Change type constants.
const (
	ChangeNew              ChangeType = "NEW"
	ChangeDeleted          ChangeType = "DELETED"
	ChangeSchema           ChangeType = "SCHEMA_CHANGE"
	ChangeLogic            ChangeType = "LOGIC_CHANGE"
	ChangeDependency       ChangeType = "DEPENDENCY_CHANGE"
	ChangeMetadata         ChangeType = "METADATA_CHANGE"
	ChangeDownstreamUpdate ChangeType = "DOWNSTREAM_UPDATE"
)

// changeOrder fixes the order changes of one model are listed in.
var changeOrder = map[ChangeType]int{
	ChangeNew:              0,
	ChangeDeleted:          1,
	ChangeSchema:           2,
	ChangeLogic:            3,
	ChangeDependency:       4,
	ChangeMetadata:         5,
	ChangeDownstreamUpdate: 6,
}

// Rank returns the position of t in the canonical change ordering.
func (t ChangeType) Rank() int {
	if r, ok := changeOrder[t]; ok {
		return r
	}
	return len(changeOrder)
}

// ValueChange is a from/to pair.
type ValueChange[T any] struct {
	From T `json:"from"`
	To   T `json:"to"`
}

// ColumnModification describes a column present in both states whose
// descriptor differs.
type ColumnModification struct {
	Name           string               `json:"name"`
	TypeChange     *ValueChange[string] `json:"type_change,omitempty"`
	NullableChange *ValueChange[bool]   `json:"nullable_change,omitempty"`
	// DescriptionChanged is set when only the description differs.
	DescriptionChanged bool `json:"description_changed,omitempty"`
}

// ChangeDetails is the structured payload of a ModelChange. Only the fields
// relevant to the change type are populated.
type ChangeDetails struct {
	Reason              string               `json:"reason,omitempty"`
	AddedColumns        []string             `json:"added_columns,omitempty"`
	RemovedColumns      []string             `json:"removed_columns,omitempty"`
	ModifiedColumns     []ColumnModification `json:"modified_columns,omitempty"`
	AddedDependencies   []string             `json:"added_dependencies,omitempty"`
	RemovedDependencies []string             `json:"removed_dependencies,omitempty"`
	// UpstreamCauses lists the directly changed models a downstream update
	// is attributed to.
	UpstreamCauses []string `json:"upstream_causes,omitempty"`
}

// ModelChange is one change to one model.
type ModelChange struct {
	ModelName        string        `json:"model_name"`
	ChangeType       ChangeType    `json:"change_type"`
	Details          ChangeDetails `json:"details"`
	DirectlyModified bool          `json:"directly_modified"`
}

// PlanSummary counts changes by category.
type PlanSummary struct {
	New                int `json:"new"`
	Deleted            int `json:"deleted"`
	DirectlyModified   int `json:"directly_modified"`
	IndirectlyModified int `json:"indirectly_modified"`
	Total              int `json:"total"`
}

// PlanStatus is the lifecycle state of a plan.
type PlanStatus string

// Plan status constants.
const (
	PlanGenerated PlanStatus = "generated"
	PlanUpToDate  PlanStatus = "up_to_date"
	PlanApplied   PlanStatus = "applied"
)

// ExecutionPlan is the computed set of changes between a stored and the
// current state, with a dependency-respecting order over the changed models.
type ExecutionPlan struct {
	ID             string        `json:"id"`
	Environment    string        `json:"environment"`
	Changes        []ModelChange `json:"changes"`
	ExecutionOrder []string      `json:"execution_order"`
	Summary        PlanSummary   `json:"summary"`
	Status         PlanStatus    `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	// BaseRevision is the stored snapshot revision the plan was computed against.
	BaseRevision string `json:"base_revision,omitempty"`
}

// HasChanges reports whether the plan contains any change.
func (p *ExecutionPlan) HasChanges() bool {
	return len(p.Changes) > 0
}

// ChangesFor returns the changes recorded for one model.
func (p *ExecutionPlan) ChangesFor(model string) []ModelChange {
	var out []ModelChange
	for _, c := range p.Changes {
		if c.ModelName == model {
			out = append(out, c)
		}
	}
	return out
}
