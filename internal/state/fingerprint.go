// Package state computes model fingerprints and persists them per
// environment. Stores are interchangeable behind core.FingerprintStore:
// a directory of YAML documents, a SQL database (SQLite or PostgreSQL), or
// an S3-compatible bucket.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/leapstack-labs/leapplan/pkg/core"
)

// HashLength is the number of hex characters kept from each digest.
const HashLength = 16

type logicColumn struct {
	Name           string `json:"name"`
	Expression     string `json:"expression"`
	ReferenceTable string `json:"reference_table"`
}

type logicFilter struct {
	ReferenceTable string `json:"reference_table"`
	Condition      string `json:"condition"`
}

type logicDoc struct {
	Columns []logicColumn `json:"columns"`
	Filters []logicFilter `json:"filters"`
	GroupBy []string      `json:"group_by"`
	Having  []string      `json:"having"`
}

type metadataDoc struct {
	Layer       core.Layer `json:"layer"`
	Kind        core.Kind  `json:"kind"`
	Description string     `json:"description"`
	Tags        []string   `json:"tags"`
}

// Compute fingerprints a model. It is a pure function of the model: the
// order of columns, tags, filters and grouping keys does not affect any
// hash.
func Compute(m *core.Model) core.Fingerprint {
	cols := Columns(m)

	logic := logicDoc{
		Columns: make([]logicColumn, 0, len(m.Columns)),
		Filters: make([]logicFilter, 0, len(m.Filters)),
		GroupBy: sorted(m.GroupBy),
		Having:  sorted(m.Having),
	}
	for _, c := range m.Columns {
		logic.Columns = append(logic.Columns, logicColumn{Name: c.Name, Expression: c.Expression, ReferenceTable: c.ReferenceTable})
	}
	sort.Slice(logic.Columns, func(i, j int) bool { return logic.Columns[i].Name < logic.Columns[j].Name })
	for _, f := range m.Filters {
		logic.Filters = append(logic.Filters, logicFilter(f))
	}
	sort.Slice(logic.Filters, func(i, j int) bool {
		if logic.Filters[i].ReferenceTable != logic.Filters[j].ReferenceTable {
			return logic.Filters[i].ReferenceTable < logic.Filters[j].ReferenceTable
		}
		return logic.Filters[i].Condition < logic.Filters[j].Condition
	})

	meta := metadataDoc{
		Layer:       m.Layer,
		Kind:        m.Kind,
		Description: m.Description,
		Tags:        sorted(m.Tags),
	}

	schema := struct {
		Columns []core.ColumnDescriptor `json:"columns"`
	}{cols}

	return core.Fingerprint{
		SchemaHash:   digest(schema),
		LogicHash:    digest(logic),
		MetadataHash: digest(meta),
		Dependencies: sorted(m.Dependencies()),
		Layer:        m.Layer,
		Kind:         m.Kind,
		Columns:      cols,
	}
}

// ComputeAll fingerprints every model of a registry.
func ComputeAll(reg core.Registry) map[string]core.Fingerprint {
	out := make(map[string]core.Fingerprint, len(reg))
	for name, m := range reg {
		out[name] = Compute(m)
	}
	return out
}

// Snapshot fingerprints reg into a new, unsaved snapshot for env.
func Snapshot(env string, reg core.Registry) *core.Snapshot {
	snap := core.NewSnapshot(env)
	snap.Models = ComputeAll(reg)
	return snap
}

// Columns returns the persisted column descriptors of m, sorted by name.
func Columns(m *core.Model) []core.ColumnDescriptor {
	cols := make([]core.ColumnDescriptor, 0, len(m.Columns))
	for _, c := range m.Columns {
		cols = append(cols, core.ColumnDescriptor{
			Name:        c.Name,
			Type:        c.DataType,
			Nullable:    c.IsNullable(),
			Description: c.Description,
		})
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
	return cols
}

// digest hashes the canonical JSON form of v. Struct fields marshal in
// declaration order and every slice is sorted by the caller.
func digest(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// only plain strings, bools and slices reach here
		panic(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:HashLength]
}

func sorted(in []string) []string {
	out := append([]string{}, in...)
	sort.Strings(out)
	return out
}
