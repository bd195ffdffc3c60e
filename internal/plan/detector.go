package plan

import (
	"sort"

	"github.com/leapstack-labs/leapplan/pkg/core"
)

// Change reasons.
const (
	ReasonAdded      = "Model added"
	ReasonRemoved    = "Model removed"
	ReasonSchema     = "Column schema modified"
	ReasonLogic      = "Transformation logic modified"
	ReasonDependency = "Upstream references changed"
	ReasonMetadata   = "Model metadata modified"
	ReasonUpstream   = "Upstream dependency changed"
)

// Detect compares current fingerprints against a stored snapshot. A model
// present on both sides may produce several changes, one per differing
// field. Changes are ordered by model name, then by change type rank.
func Detect(current map[string]core.Fingerprint, stored *core.Snapshot) []core.ModelChange {
	var previous map[string]core.Fingerprint
	if stored != nil {
		previous = stored.Models
	}

	changes := []core.ModelChange{}
	for name, fp := range current {
		old, ok := previous[name]
		if !ok {
			changes = append(changes, direct(name, core.ChangeNew, core.ChangeDetails{Reason: ReasonAdded}))
			continue
		}
		changes = append(changes, compare(name, fp, old)...)
	}
	for name := range previous {
		if _, ok := current[name]; !ok {
			changes = append(changes, direct(name, core.ChangeDeleted, core.ChangeDetails{Reason: ReasonRemoved}))
		}
	}

	sortChanges(changes)
	return changes
}

func compare(name string, cur, old core.Fingerprint) []core.ModelChange {
	var out []core.ModelChange

	if cur.SchemaHash != old.SchemaHash {
		d := schemaDetails(cur.Columns, old.Columns)
		d.Reason = ReasonSchema
		out = append(out, direct(name, core.ChangeSchema, d))
	}
	if cur.LogicHash != old.LogicHash {
		out = append(out, direct(name, core.ChangeLogic, core.ChangeDetails{Reason: ReasonLogic}))
	}
	added, removed := setDiff(cur.Dependencies, old.Dependencies)
	if len(added) > 0 || len(removed) > 0 {
		out = append(out, direct(name, core.ChangeDependency, core.ChangeDetails{
			Reason:              ReasonDependency,
			AddedDependencies:   added,
			RemovedDependencies: removed,
		}))
	}
	if cur.MetadataHash != old.MetadataHash {
		out = append(out, direct(name, core.ChangeMetadata, core.ChangeDetails{Reason: ReasonMetadata}))
	}
	return out
}

func direct(name string, t core.ChangeType, d core.ChangeDetails) core.ModelChange {
	return core.ModelChange{ModelName: name, ChangeType: t, Details: d, DirectlyModified: true}
}

// schemaDetails enumerates added, removed and modified columns.
func schemaDetails(cur, old []core.ColumnDescriptor) core.ChangeDetails {
	curByName := make(map[string]core.ColumnDescriptor, len(cur))
	curNames := make([]string, 0, len(cur))
	for _, c := range cur {
		curByName[c.Name] = c
		curNames = append(curNames, c.Name)
	}
	oldByName := make(map[string]core.ColumnDescriptor, len(old))
	oldNames := make([]string, 0, len(old))
	for _, c := range old {
		oldByName[c.Name] = c
		oldNames = append(oldNames, c.Name)
	}

	var d core.ChangeDetails
	d.AddedColumns, d.RemovedColumns = setDiff(curNames, oldNames)

	sort.Strings(curNames)
	for _, name := range curNames {
		was, ok := oldByName[name]
		if !ok {
			continue
		}
		is := curByName[name]
		if is == was {
			continue
		}
		mod := core.ColumnModification{Name: name}
		if is.Type != was.Type {
			mod.TypeChange = &core.ValueChange[string]{From: was.Type, To: is.Type}
		}
		if is.Nullable != was.Nullable {
			mod.NullableChange = &core.ValueChange[bool]{From: was.Nullable, To: is.Nullable}
		}
		if is.Description != was.Description {
			mod.DescriptionChanged = true
		}
		d.ModifiedColumns = append(d.ModifiedColumns, mod)
	}
	return d
}

// setDiff returns the sorted elements only in a and only in b.
func setDiff(a, b []string) (onlyA, onlyB []string) {
	inA := make(map[string]bool, len(a))
	for _, s := range a {
		inA[s] = true
	}
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	for s := range inA {
		if !inB[s] {
			onlyA = append(onlyA, s)
		}
	}
	for s := range inB {
		if !inA[s] {
			onlyB = append(onlyB, s)
		}
	}
	sort.Strings(onlyA)
	sort.Strings(onlyB)
	return onlyA, onlyB
}

func sortChanges(changes []core.ModelChange) {
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].ModelName != changes[j].ModelName {
			return changes[i].ModelName < changes[j].ModelName
		}
		return changes[i].ChangeType.Rank() < changes[j].ChangeType.Rank()
	})
}
