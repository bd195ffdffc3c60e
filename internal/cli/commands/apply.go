package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapplan/internal/plan"
	"github.com/leapstack-labs/leapplan/pkg/core"
)

// ApplyOptions holds options for the apply command.
type ApplyOptions struct {
	PlanFile string
	Format   string
}

// NewApplyCommand creates the apply command.
func NewApplyCommand() *cobra.Command {
	opts := &ApplyOptions{}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Record the current definitions as the environment's state",
		Long: `Generate a plan for the environment and store the current fingerprints,
so the next plan starts from here.

With --plan, a plan saved by 'leapplan plan --out' is applied instead. It is
refused when the stored state or the model definitions changed since it was
generated.`,
		Example: `  # Plan and apply the default environment
  leapplan apply

  # Apply a reviewed plan
  leapplan plan --env prod --out plan.json
  leapplan apply --plan plan.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApply(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.PlanFile, "plan", "", "Apply a plan saved with 'plan --out'")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Plan format (text|markdown|json|table); defaults to the output mode")

	return cmd
}

func runApply(cmd *cobra.Command, opts *ApplyOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	r := cmdCtx.Renderer
	format, err := planFormat(opts.Format, r)
	if err != nil {
		return err
	}

	env := cmdCtx.Cfg.Environment
	var saved *core.ExecutionPlan
	if opts.PlanFile != "" {
		saved, err = loadPlan(opts.PlanFile)
		if err != nil {
			return err
		}
		env = saved.Environment
	}

	p, err := cmdCtx.Engine.Plan(cmd.Context(), env)
	if err != nil {
		return err
	}
	if saved != nil {
		if err := matchSavedPlan(saved, p); err != nil {
			return err
		}
	}

	if err := plan.Render(r.Writer(), p, format); err != nil {
		return err
	}
	applied, err := cmdCtx.Engine.Apply(cmd.Context(), p)
	if err != nil {
		return err
	}

	if format == plan.FormatJSON {
		return nil
	}
	if applied.Status == core.PlanUpToDate {
		r.Muted(fmt.Sprintf("Environment %s is already up to date.", env))
		return nil
	}
	r.Success(fmt.Sprintf("Applied plan %s to %s (%d changes)", p.ID, env, p.Summary.Total))
	return nil
}

func loadPlan(path string) (*core.ExecutionPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	var p core.ExecutionPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan %s: %w", path, err)
	}
	if p.Environment == "" {
		return nil, fmt.Errorf("plan %s has no environment", path)
	}
	if p.Status == core.PlanApplied {
		return nil, plan.ErrAlreadyApplied
	}
	return &p, nil
}

// matchSavedPlan checks that a freshly generated plan describes the same
// work as a saved one.
func matchSavedPlan(saved, fresh *core.ExecutionPlan) error {
	if saved.BaseRevision != fresh.BaseRevision {
		return fmt.Errorf("%w: plan %s was generated against revision %q, found %q",
			plan.ErrStalePlan, saved.ID, saved.BaseRevision, fresh.BaseRevision)
	}
	if !slices.Equal(changeLabels(saved), changeLabels(fresh)) {
		return fmt.Errorf("model definitions changed since plan %s was generated; run 'leapplan plan' again", saved.ID)
	}
	return nil
}

func changeLabels(p *core.ExecutionPlan) []string {
	labels := make([]string, len(p.Changes))
	for i, c := range p.Changes {
		labels[i] = c.ModelName + ":" + string(c.ChangeType)
	}
	return labels
}
