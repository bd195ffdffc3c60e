package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapplan/internal/cli/output"
	"github.com/leapstack-labs/leapplan/internal/plan"
	"github.com/leapstack-labs/leapplan/pkg/core"
)

// NewStateCommand creates the state command.
func NewStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect stored fingerprints",
		Long: `Inspect the fingerprints recorded by apply.

The state store holds one snapshot per environment. Every snapshot lists the
schema, logic and metadata hashes of each model as of the last apply.`,
	}

	cmd.AddCommand(newStateShowCommand(), newStateListCommand(), newStateDiffCommand())
	return cmd
}

// stateModel is one row of `state show`.
type stateModel struct {
	Name         string   `json:"name"`
	Layer        string   `json:"layer"`
	Kind         string   `json:"kind"`
	SchemaHash   string   `json:"schema_hash"`
	LogicHash    string   `json:"logic_hash"`
	MetadataHash string   `json:"metadata_hash"`
	Dependencies []string `json:"dependencies"`
	Columns      int      `json:"columns"`
}

// stateDocument is the JSON form of `state show`.
type stateDocument struct {
	Environment string       `json:"environment"`
	Revision    string       `json:"revision,omitempty"`
	SavedAt     *time.Time   `json:"saved_at,omitempty"`
	Models      []stateModel `json:"models"`
}

func newStateShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show [environment]",
		Short: "Show the fingerprints of an environment",
		Example: `  leapplan state show
  leapplan state show prod --output json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env := ""
			if len(args) == 1 {
				env = args[0]
			}
			return runStateShow(cmd, env)
		},
	}
}

func newStateListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List environments with stored fingerprints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStateList(cmd)
		},
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func stateDoc(snap *core.Snapshot) stateDocument {
	doc := stateDocument{
		Environment: snap.Environment,
		Revision:    snap.Revision,
		Models:      make([]stateModel, 0, len(snap.Models)),
	}
	if !snap.SavedAt.IsZero() {
		saved := snap.SavedAt
		doc.SavedAt = &saved
	}
	for _, name := range snap.Names() {
		fp := snap.Models[name]
		deps := fp.Dependencies
		if deps == nil {
			deps = []string{}
		}
		doc.Models = append(doc.Models, stateModel{
			Name:         name,
			Layer:        string(fp.Layer),
			Kind:         string(fp.Kind),
			SchemaHash:   fp.SchemaHash,
			LogicHash:    fp.LogicHash,
			MetadataHash: fp.MetadataHash,
			Dependencies: deps,
			Columns:      len(fp.Columns),
		})
	}
	return doc
}

func runStateShow(cmd *cobra.Command, env string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	r := cmdCtx.Renderer
	snap, err := cmdCtx.Engine.State(cmd.Context(), env)
	if err != nil {
		return err
	}
	doc := stateDoc(snap)

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(doc)
	}

	r.Header(1, "State: "+doc.Environment)
	if doc.SavedAt == nil {
		r.Muted("Nothing applied yet.")
		return nil
	}

	rows := make([][]string, 0, len(doc.Models))
	for _, m := range doc.Models {
		rows = append(rows, []string{
			m.Name, m.Layer, m.Kind,
			shortHash(m.SchemaHash), shortHash(m.LogicHash), shortHash(m.MetadataHash),
			strings.Join(m.Dependencies, ", "),
		})
	}
	r.Table([]string{"Model", "Layer", "Kind", "Schema", "Logic", "Metadata", "Depends On"}, rows)
	r.Println("")
	r.Muted(fmt.Sprintf("Revision %s saved %s", doc.Revision, doc.SavedAt.UTC().Format(time.RFC3339)))
	return nil
}

func runStateList(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	r := cmdCtx.Renderer
	envs, err := cmdCtx.Engine.Environments(cmd.Context())
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(envs)
	}
	if len(envs) == 0 {
		r.Muted("No environments recorded.")
		return nil
	}
	r.Header(1, "Environments")
	if r.EffectiveMode() == output.ModeMarkdown {
		r.Printf("%s", output.FormatList(envs))
		return nil
	}
	for _, env := range envs {
		r.Println("  " + env)
	}
	return nil
}

func newStateDiffCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <source> <target>",
		Short: "Compare the stored fingerprints of two environments",
		Example: `  leapplan state diff dev prod
  leapplan state diff dev prod --output json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStateDiff(cmd, args[0], args[1])
		},
	}
}

func runStateDiff(cmd *cobra.Command, source, target string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	r := cmdCtx.Renderer
	cmp, err := cmdCtx.Engine.CompareEnvironments(cmd.Context(), source, target)
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(cmp)
	}

	r.Header(1, fmt.Sprintf("State: %s vs %s", source, target))
	if cmp.Identical() {
		r.Muted(fmt.Sprintf("%s and %s record the same fingerprints.", source, target))
		return nil
	}

	rows := make([][]string, 0, len(cmp.SourceOnly)+len(cmp.TargetOnly)+len(cmp.Differences))
	for _, name := range cmp.SourceOnly {
		rows = append(rows, []string{name, "only in " + source})
	}
	for _, name := range cmp.TargetOnly {
		rows = append(rows, []string{name, "only in " + target})
	}
	for _, d := range cmp.Differences {
		rows = append(rows, []string{d.Model, strings.Join(d.Aspects, ", ")})
	}
	r.Table([]string{"Model", "Difference"}, rows)
	r.Println("")
	r.Muted(diffSummary(cmp))
	return nil
}

func diffSummary(cmp plan.Comparison) string {
	return fmt.Sprintf("%d only in %s, %d only in %s, %d differing, %d in common",
		len(cmp.SourceOnly), cmp.Source, len(cmp.TargetOnly), cmp.Target,
		len(cmp.Differences), len(cmp.Common))
}
