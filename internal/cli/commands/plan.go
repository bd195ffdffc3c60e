package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapplan/internal/cli/output"
	"github.com/leapstack-labs/leapplan/internal/plan"
	"github.com/leapstack-labs/leapplan/pkg/core"
)

// PlanOptions holds options for the plan command.
type PlanOptions struct {
	Format string
	All    bool
	Watch  bool
	Out    string
}

// NewPlanCommand creates the plan command.
func NewPlanCommand() *cobra.Command {
	opts := &PlanOptions{}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what changed since the last apply",
		Long: `Compare the current model definitions with the fingerprints stored for an
environment and list every new, deleted, modified and downstream-affected
model together with the order in which they must be rebuilt.

Output adapts to environment:
  - Terminal: tree view
  - Piped/Scripted: Markdown format (agent-friendly)`,
		Example: `  # Plan the default environment
  leapplan plan

  # Plan production as a table
  leapplan plan --env prod --format table

  # Plan every configured environment
  leapplan plan --all

  # Save the plan for a later apply
  leapplan plan --out plan.json

  # Re-plan whenever a definition changes
  leapplan plan --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlan(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Plan format (text|markdown|json|table); defaults to the output mode")
	cmd.Flags().BoolVar(&opts.All, "all", false, "Plan every environment listed in the config")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Re-plan when model definitions change")
	cmd.Flags().StringVar(&opts.Out, "out", "", "Write the plan as JSON to this file")

	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "markdown", "json", "table"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// planFormat picks the plan rendering from the flag or the output mode.
func planFormat(flag string, r *output.Renderer) (plan.Format, error) {
	if flag != "" {
		return plan.ParseFormat(flag)
	}
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return plan.FormatJSON, nil
	case output.ModeMarkdown:
		return plan.FormatMarkdown, nil
	default:
		return plan.FormatText, nil
	}
}

func runPlan(cmd *cobra.Command, opts *PlanOptions) error {
	if opts.All && opts.Watch {
		return fmt.Errorf("--all and --watch cannot be combined")
	}
	if opts.All && opts.Out != "" {
		return fmt.Errorf("--all and --out cannot be combined")
	}

	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	format, err := planFormat(opts.Format, cmdCtx.Renderer)
	if err != nil {
		return err
	}

	if opts.All {
		envs := cmdCtx.Cfg.Environments
		if len(envs) == 0 {
			return fmt.Errorf("no environments configured; set 'environments' in leapplan.yaml")
		}
		plans, err := cmdCtx.Engine.PlanAll(cmd.Context(), envs)
		if err != nil {
			return err
		}
		return renderPlans(cmdCtx.Renderer.Writer(), plans, format)
	}

	if opts.Watch {
		return watchPlan(cmd, cmdCtx, format)
	}

	p, err := cmdCtx.Engine.Plan(cmd.Context(), cmdCtx.Cfg.Environment)
	if err != nil {
		return err
	}
	if err := plan.Render(cmdCtx.Renderer.Writer(), p, format); err != nil {
		return err
	}
	if opts.Out != "" {
		if err := savePlan(opts.Out, p); err != nil {
			return err
		}
		cmdCtx.Logger.Info("plan saved", "path", opts.Out, "plan_id", p.ID)
	}
	return nil
}

func renderPlans(w io.Writer, plans []*core.ExecutionPlan, format plan.Format) error {
	if format == plan.FormatJSON {
		r := output.NewRendererWithTTY(w, io.Discard, false, output.ModeJSON)
		return r.JSON(plans)
	}
	for i, p := range plans {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		if format != plan.FormatMarkdown {
			_, _ = fmt.Fprintf(w, "== %s ==\n", p.Environment)
		}
		if err := plan.Render(w, p, format); err != nil {
			return err
		}
	}
	return nil
}

func watchPlan(cmd *cobra.Command, cmdCtx *CommandContext, format plan.Format) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	r := cmdCtx.Renderer
	r.Muted(fmt.Sprintf("Watching %s for changes (Ctrl+C to stop)", cmdCtx.Cfg.ModelsDir))

	return cmdCtx.Engine.Watch(ctx, func(err error) {
		if err != nil {
			r.Error(err.Error())
			return
		}
		p, err := cmdCtx.Engine.Plan(context.WithoutCancel(ctx), cmdCtx.Cfg.Environment)
		if err != nil {
			r.Error(err.Error())
			return
		}
		if err := plan.Render(r.Writer(), p, format); err != nil {
			r.Error(err.Error())
		}
	})
}

func savePlan(path string, p *core.ExecutionPlan) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	if err := plan.WriteJSON(f, p); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write plan: %w", err)
	}
	return f.Close()
}
