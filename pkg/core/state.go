package core

import (
	"context"
	"sort"
	"time"
)

// ColumnDescriptor is the persisted shape of a column.
type ColumnDescriptor struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Nullable    bool   `json:"nullable" yaml:"nullable"`
	Description string `json:"description" yaml:"description"`
}

// Fingerprint summarizes one model for change detection.
type Fingerprint struct {
	SchemaHash   string             `json:"schema_hash" yaml:"schema_hash"`
	LogicHash    string             `json:"logic_hash" yaml:"logic_hash"`
	MetadataHash string             `json:"metadata_hash" yaml:"metadata_hash"`
	Dependencies []string           `json:"dependencies" yaml:"dependencies"`
	Layer        Layer              `json:"layer" yaml:"layer"`
	Kind         Kind               `json:"kind" yaml:"kind"`
	Columns      []ColumnDescriptor `json:"columns" yaml:"columns"`
}

// Snapshot is the full set of fingerprints recorded for an environment.
type Snapshot struct {
	Environment string
	// Revision changes on every save. Empty for a snapshot that was never saved.
	Revision string
	SavedAt  time.Time
	Models   map[string]Fingerprint
}

// NewSnapshot returns an empty snapshot for env.
func NewSnapshot(env string) *Snapshot {
	return &Snapshot{Environment: env, Models: make(map[string]Fingerprint)}
}

// Names returns the recorded model names in lexicographic order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Models))
	for name := range s.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsEmpty reports whether nothing has been recorded.
func (s *Snapshot) IsEmpty() bool {
	return s == nil || len(s.Models) == 0
}

// FingerprintStore persists snapshots keyed by environment.
//
// Load returns an empty snapshot, not an error, for an environment that has
// never been saved. Save must be atomic: on failure the previously stored
// snapshot stays intact. Failures are reported as *PersistenceError.
type FingerprintStore interface {
	Load(ctx context.Context, env string) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Environments(ctx context.Context) ([]string, error)
	Close() error
}
