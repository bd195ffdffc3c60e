package plan

import (
	"github.com/leapstack-labs/leapplan/pkg/core"
)

// Aspects of a model that can differ between two environments.
const (
	AspectSchema       = "schema"
	AspectLogic        = "logic"
	AspectMetadata     = "metadata"
	AspectDependencies = "dependencies"
)

var aspectOf = map[core.ChangeType]string{
	core.ChangeSchema:     AspectSchema,
	core.ChangeLogic:      AspectLogic,
	core.ChangeMetadata:   AspectMetadata,
	core.ChangeDependency: AspectDependencies,
}

var aspectOrder = []string{AspectSchema, AspectLogic, AspectMetadata, AspectDependencies}

// ModelDiff lists how one model recorded in both environments differs.
// Changes read as what applying the source would do to the target.
type ModelDiff struct {
	Model   string             `json:"model"`
	Aspects []string           `json:"aspects"`
	Changes []core.ModelChange `json:"changes"`
}

// Comparison is the difference between the stored state of two
// environments.
type Comparison struct {
	Source      string      `json:"source"`
	Target      string      `json:"target"`
	SourceOnly  []string    `json:"source_only"`
	TargetOnly  []string    `json:"target_only"`
	Common      []string    `json:"common"`
	Differences []ModelDiff `json:"differences"`
}

// Identical reports whether both environments record the same models with
// the same fingerprints.
func (c Comparison) Identical() bool {
	return len(c.SourceOnly) == 0 && len(c.TargetOnly) == 0 && len(c.Differences) == 0
}

// Compare diffs two snapshots. It runs the same detection as planning, with
// source in place of the current definitions and target as the stored
// state. All lists are sorted by model name.
func Compare(source, target *core.Snapshot) Comparison {
	c := Comparison{
		Source:      source.Environment,
		Target:      target.Environment,
		SourceOnly:  []string{},
		TargetOnly:  []string{},
		Common:      []string{},
		Differences: []ModelDiff{},
	}
	for _, name := range source.Names() {
		if _, ok := target.Models[name]; ok {
			c.Common = append(c.Common, name)
		}
	}

	byModel := make(map[string]*ModelDiff)
	var order []string
	for _, ch := range Detect(source.Models, target) {
		switch ch.ChangeType {
		case core.ChangeNew:
			c.SourceOnly = append(c.SourceOnly, ch.ModelName)
			continue
		case core.ChangeDeleted:
			c.TargetOnly = append(c.TargetOnly, ch.ModelName)
			continue
		}
		d, ok := byModel[ch.ModelName]
		if !ok {
			d = &ModelDiff{Model: ch.ModelName}
			byModel[ch.ModelName] = d
			order = append(order, ch.ModelName)
		}
		d.Changes = append(d.Changes, ch)
	}

	for _, name := range order {
		d := byModel[name]
		seen := make(map[string]bool, len(d.Changes))
		for _, ch := range d.Changes {
			seen[aspectOf[ch.ChangeType]] = true
		}
		for _, a := range aspectOrder {
			if seen[a] {
				d.Aspects = append(d.Aspects, a)
			}
		}
		c.Differences = append(c.Differences, *d)
	}
	return c
}
