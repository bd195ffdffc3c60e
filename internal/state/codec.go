package state

import (
	"bytes"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapplan/pkg/core"
)

// modelRecord is one model in a persisted document. Models are written as a
// sequence sorted by name so that two documents diff cleanly.
type modelRecord struct {
	Name             string `yaml:"name"`
	core.Fingerprint `yaml:",inline"`
}

type document struct {
	Environment string        `yaml:"environment"`
	Revision    string        `yaml:"revision"`
	SavedAt     time.Time     `yaml:"saved_at"`
	Models      []modelRecord `yaml:"models"`
}

func encodeSnapshot(snap *core.Snapshot) ([]byte, error) {
	doc := document{
		Environment: snap.Environment,
		Revision:    snap.Revision,
		SavedAt:     snap.SavedAt.UTC(),
		Models:      make([]modelRecord, 0, len(snap.Models)),
	}
	for _, name := range snap.Names() {
		fp := snap.Models[name]
		if fp.Dependencies == nil {
			fp.Dependencies = []string{}
		}
		if fp.Columns == nil {
			fp.Columns = []core.ColumnDescriptor{}
		}
		doc.Models = append(doc.Models, modelRecord{Name: name, Fingerprint: fp})
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeSnapshot(env string, data []byte) (*core.Snapshot, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if doc.Environment != "" && doc.Environment != env {
		return nil, fmt.Errorf("snapshot belongs to environment %q", doc.Environment)
	}

	snap := core.NewSnapshot(env)
	snap.Revision = doc.Revision
	snap.SavedAt = doc.SavedAt
	for _, rec := range doc.Models {
		if rec.Name == "" {
			return nil, fmt.Errorf("decode snapshot: model record without name")
		}
		snap.Models[rec.Name] = rec.Fingerprint
	}
	return snap, nil
}

var envPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidateEnvironment rejects names that cannot be used as a storage key.
func ValidateEnvironment(env string) error {
	if !envPattern.MatchString(env) {
		return fmt.Errorf("invalid environment name %q", env)
	}
	return nil
}

// stamp returns a copy of snap with a fresh revision and save time.
func stamp(snap *core.Snapshot) *core.Snapshot {
	out := *snap
	out.Revision = uuid.NewString()
	out.SavedAt = time.Now().UTC().Truncate(time.Millisecond)
	return &out
}

func persistErr(op, env, backend string, err error) error {
	return &core.PersistenceError{Op: op, Environment: env, Backend: backend, Err: err}
}
