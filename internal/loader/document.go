// Package loader reads model definition files into a core.Registry.
//
// Each definition is a YAML document with a required model section and
// optional source, transformations, filters, ctes, aggregations, audits and
// grain sections. Files are decoded into generic maps first so that legacy
// shapes can be normalized before the strict decode into typed records.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapplan/pkg/core"
)

type modelSection struct {
	Name             string   `mapstructure:"name"`
	Description      string   `mapstructure:"description"`
	Layer            string   `mapstructure:"layer"`
	Kind             string   `mapstructure:"kind"`
	Owner            string   `mapstructure:"owner"`
	Domain           string   `mapstructure:"domain"`
	Tags             []string `mapstructure:"tags"`
	RefreshFrequency string   `mapstructure:"refresh_frequency"`
}

type sourceSection struct {
	BaseTable string   `mapstructure:"base_table"`
	DependsOn []string `mapstructure:"depends_on_tables"`
}

type columnSection struct {
	Name           string `mapstructure:"name"`
	ReferenceTable string `mapstructure:"reference_table"`
	Expression     string `mapstructure:"expression"`
	Description    string `mapstructure:"description"`
	DataType       string `mapstructure:"data_type"`
	Nullable       *bool  `mapstructure:"nullable"`
}

type filterSection struct {
	ReferenceTable string `mapstructure:"reference_table"`
	Condition      string `mapstructure:"condition"`
}

type auditSection struct {
	Type    string   `mapstructure:"type"`
	Columns []string `mapstructure:"columns"`
	Values  []string `mapstructure:"values"`
}

// document is the typed shape of a definition file after normalization.
// Relationships and optimization hints are accepted but not used.
type document struct {
	Model           modelSection  `mapstructure:"model"`
	Source          sourceSection `mapstructure:"source"`
	Transformations struct {
		Columns []columnSection `mapstructure:"columns"`
	} `mapstructure:"transformations"`
	Filters struct {
		WhereConditions []filterSection `mapstructure:"where_conditions"`
	} `mapstructure:"filters"`
	CTEs         []string `mapstructure:"ctes"`
	Aggregations struct {
		GroupBy []string `mapstructure:"group_by"`
		Having  []string `mapstructure:"having"`
	} `mapstructure:"aggregations"`
	Audits struct {
		Audits []auditSection `mapstructure:"audits"`
	} `mapstructure:"audits"`
	Grain         []string       `mapstructure:"grain"`
	Relationships map[string]any `mapstructure:"relationships"`
	Optimization  map[string]any `mapstructure:"optimization"`
}

// Parse decodes one definition. path is only used in error messages and
// recorded as the model's FilePath.
func Parse(data []byte, path string) (*core.Model, error) {
	var raw map[string]any
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &FileError{Path: path, Err: errors.New("empty document")}
		}
		return nil, &FileError{Path: path, Err: fmt.Errorf("invalid YAML: %w", err)}
	}
	if _, ok := raw["model"]; !ok {
		return nil, &FileError{Path: path, Err: errors.New("missing 'model' section")}
	}

	normalize(raw)

	var doc document
	md, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &doc,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	if err := md.Decode(raw); err != nil {
		return nil, &FileError{Path: path, Err: err}
	}

	m, err := doc.toModel()
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	m.FilePath = path
	return m, nil
}

// normalize rewrites legacy shapes in place: CTE references given as a
// mapping, a nested ctes.ctes list or a list of {name: ...} entries become a
// plain list of names, and source.depends_on is accepted for
// depends_on_tables.
func normalize(raw map[string]any) {
	if v, ok := raw["ctes"]; ok {
		raw["ctes"] = cteNames(v)
	}
	if src, ok := raw["source"].(map[string]any); ok {
		if v, ok := src["depends_on"]; ok {
			if _, dup := src["depends_on_tables"]; !dup {
				src["depends_on_tables"] = v
			}
			delete(src, "depends_on")
		}
	}
}

func cteNames(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t = strings.TrimSpace(t); t != "" {
			return []string{t}
		}
		return nil
	case []any:
		var out []string
		for _, item := range t {
			switch e := item.(type) {
			case string:
				out = append(out, e)
			case map[string]any:
				if name, ok := e["name"].(string); ok {
					out = append(out, name)
				}
			}
		}
		return out
	case map[string]any:
		if nested, ok := t["ctes"]; ok {
			return cteNames(nested)
		}
		names := make([]string, 0, len(t))
		for name := range t {
			names = append(names, name)
		}
		sort.Strings(names)
		return names
	}
	return nil
}

// toModel fills defaults and enforces the per-file invariants.
func (d *document) toModel() (*core.Model, error) {
	if strings.TrimSpace(d.Model.Name) == "" {
		return nil, errors.New("model.name is required")
	}

	layer := core.Layer(strings.ToLower(strings.TrimSpace(d.Model.Layer)))
	kind := core.Kind(strings.ToUpper(strings.TrimSpace(d.Model.Kind)))
	switch {
	case layer == "" && kind == core.KindCTE:
		layer = core.LayerCTE
	case layer == "":
		return nil, errors.New("model.layer is required")
	}
	if kind == "" {
		kind = core.KindTable
		if layer == core.LayerCTE {
			kind = core.KindCTE
		}
	}
	if !layer.Valid() {
		return nil, fmt.Errorf("model.layer %q is not one of bronze, silver, gold, cte", d.Model.Layer)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("model.kind %q is not one of TABLE, VIEW, CTE", d.Model.Kind)
	}

	refresh := core.RefreshFrequency(strings.ToLower(strings.TrimSpace(d.Model.RefreshFrequency)))
	switch refresh {
	case "", core.RefreshHourly, core.RefreshDaily, core.RefreshWeekly, core.RefreshMonthly:
	default:
		return nil, fmt.Errorf("model.refresh_frequency %q is not one of hourly, daily, weekly, monthly", d.Model.RefreshFrequency)
	}

	m := &core.Model{
		Name:             strings.TrimSpace(d.Model.Name),
		Description:      d.Model.Description,
		Layer:            layer,
		Kind:             kind,
		Owner:            d.Model.Owner,
		Domain:           d.Model.Domain,
		Tags:             nonNil(d.Model.Tags),
		RefreshFrequency: refresh,
		Source: core.Source{
			BaseTable: strings.TrimSpace(d.Source.BaseTable),
			DependsOn: nonNil(d.Source.DependsOn),
		},
		CTEs:    nonNil(d.CTEs),
		GroupBy: nonNil(d.Aggregations.GroupBy),
		Having:  nonNil(d.Aggregations.Having),
		Grain:   nonNil(d.Grain),
	}

	for i, c := range d.Transformations.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("transformations.columns[%d]: name is required", i)
		}
		m.Columns = append(m.Columns, core.ColumnTransformation{
			Name:           strings.TrimSpace(c.Name),
			ReferenceTable: strings.TrimSpace(c.ReferenceTable),
			Expression:     c.Expression,
			Description:    c.Description,
			DataType:       c.DataType,
			Nullable:       c.Nullable,
		})
	}
	for _, f := range d.Filters.WhereConditions {
		m.Filters = append(m.Filters, core.FilterCondition{ReferenceTable: f.ReferenceTable, Condition: f.Condition})
	}
	for i, a := range d.Audits.Audits {
		t := core.AuditType(strings.ToUpper(strings.TrimSpace(a.Type)))
		switch t {
		case core.AuditNotNull, core.AuditPositiveValues, core.AuditUniqueCombination, core.AuditAcceptedValues:
		default:
			return nil, fmt.Errorf("audits.audits[%d]: unknown audit type %q", i, a.Type)
		}
		m.Audits = append(m.Audits, core.AuditRule{Type: t, Columns: nonNil(a.Columns), Values: a.Values})
	}

	deps := make(map[string]bool, len(m.Source.DependsOn))
	for _, d := range m.Source.DependsOn {
		deps[d] = true
	}
	for _, cte := range m.CTEs {
		if !deps[cte] {
			return nil, fmt.Errorf("CTE '%s' must be listed in source.depends_on_tables", cte)
		}
	}
	return m, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
