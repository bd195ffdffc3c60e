package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEnvironmentNotFound is returned when an operation requires a stored
// snapshot for an environment that has never been applied.
var ErrEnvironmentNotFound = errors.New("environment not found")

// StructuralErrorKind tells which declaration a StructuralError is about.
type StructuralErrorKind string

// Structural error kinds.
const (
	MissingDependency StructuralErrorKind = "dependency"
	MissingCTE        StructuralErrorKind = "cte"
)

// StructuralError reports a declared dependency or reusable subquery that is
// neither a known model nor an external table. It is a diagnostic: building a
// graph collects these across all models and never stops at the first one.
type StructuralError struct {
	Model   string              `json:"model"`
	Missing string              `json:"missing"`
	Kind    StructuralErrorKind `json:"kind"`
}

func (e StructuralError) Error() string {
	if e.Kind == MissingCTE {
		return fmt.Sprintf("model %q references unknown CTE %q", e.Model, e.Missing)
	}
	return fmt.Sprintf("model %q depends on unknown model %q", e.Model, e.Missing)
}

// CycleError is returned when an order cannot be produced because the graph
// contains cycles. Cycles holds every cycle found, each listed once.
type CycleError struct {
	// Scope is "model" or "column".
	Scope  string
	Cycles [][]string
}

func (e *CycleError) Error() string {
	scope := e.Scope
	if scope == "" {
		scope = "model"
	}
	if len(e.Cycles) == 0 {
		return fmt.Sprintf("%s graph contains a cycle", scope)
	}
	parts := make([]string, 0, len(e.Cycles))
	for _, c := range e.Cycles {
		if len(c) == 0 {
			continue
		}
		parts = append(parts, strings.Join(append(append([]string{}, c...), c[0]), " -> "))
	}
	return fmt.Sprintf("%s graph contains %d cycle(s): %s", scope, len(e.Cycles), strings.Join(parts, "; "))
}

// ColumnErrorType classifies an unresolved column reference.
type ColumnErrorType string

// Column error types.
const (
	ModelNotFound          ColumnErrorType = "MODEL_NOT_FOUND"
	ReferenceTableNotFound ColumnErrorType = "REFERENCE_TABLE_NOT_FOUND"
	ColumnNotFound         ColumnErrorType = "COLUMN_NOT_FOUND"
)

// ColumnReferenceError is a column reference that could not be resolved.
// It never aborts a run.
type ColumnReferenceError struct {
	ModelName        string          `json:"model_name"`
	ColumnName       string          `json:"column_name"`
	ErrorType        ColumnErrorType `json:"error_type"`
	Message          string          `json:"message"`
	ReferenceTable   string          `json:"reference_table,omitempty"`
	ReferencedColumn string          `json:"referenced_column,omitempty"`
	AvailableColumns []string        `json:"available_columns,omitempty"`
	Suggestion       string          `json:"suggestion,omitempty"`
}

func (e ColumnReferenceError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s.%s: %s (did you mean %q?)", e.ModelName, e.ColumnName, e.Message, e.Suggestion)
	}
	return fmt.Sprintf("%s.%s: %s", e.ModelName, e.ColumnName, e.Message)
}

// PersistenceError wraps a fingerprint store failure.
type PersistenceError struct {
	// Op is "load", "save", "list" or "open".
	Op          string
	Environment string
	Backend     string
	Err         error
}

func (e *PersistenceError) Error() string {
	if e.Environment == "" {
		return fmt.Sprintf("%s state (%s): %v", e.Op, e.Backend, e.Err)
	}
	return fmt.Sprintf("%s state for environment %q (%s): %v", e.Op, e.Environment, e.Backend, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
