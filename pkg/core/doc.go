// Package core defines the shared language of the leapplan system.
//
// This package contains:
//   - Domain entities (Model, ColumnTransformation, Registry)
//   - Lineage vocabulary (ColumnID, TransformKind, LineageCapabilities)
//   - State vocabulary (Fingerprint, Snapshot, FingerprintStore)
//   - Plan vocabulary (ModelChange, ExecutionPlan, PlanSummary)
//   - Diagnostics (StructuralError, CycleError, ColumnReferenceError, PersistenceError)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
