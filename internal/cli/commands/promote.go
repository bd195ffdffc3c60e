package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapplan/internal/plan"
)

// PromoteOptions holds options for the promote command.
type PromoteOptions struct {
	Apply  bool
	Format string
}

// NewPromoteCommand creates the promote command.
func NewPromoteCommand() *cobra.Command {
	opts := &PromoteOptions{}

	cmd := &cobra.Command{
		Use:   "promote <source> <target>",
		Short: "Carry applied definitions from one environment to another",
		Long: `Plan the target environment against the current model definitions, which
must already be applied to the source environment.

The plan is only shown unless --apply is given.`,
		Example: `  # Preview what promoting dev to prod would change
  leapplan promote dev prod

  # Promote and record the new prod state
  leapplan promote dev prod --apply`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPromote(cmd, args[0], args[1], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "Apply the promotion plan to the target")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Plan format (text|markdown|json|table); defaults to the output mode")

	return cmd
}

func runPromote(cmd *cobra.Command, source, target string, opts *PromoteOptions) error {
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

	promo, err := cmdCtx.Engine.Promote(cmd.Context(), source, target, opts.Apply)
	if err != nil {
		return err
	}

	if format == plan.FormatJSON {
		return r.JSON(promo)
	}
	if err := plan.Render(r.Writer(), promo.Plan, format); err != nil {
		return err
	}

	switch {
	case promo.Plan.Summary.Total == 0:
		r.Muted(fmt.Sprintf("%s is already up to date with %s.", target, source))
	case promo.Applied == nil:
		r.Muted(fmt.Sprintf("Run with --apply to promote %s to %s.", source, target))
	default:
		r.Success(fmt.Sprintf("Promoted %s to %s (%d changes, revision %s)",
			source, target, promo.Plan.Summary.Total, shortHash(promo.Applied.Revision)))
	}
	return nil
}
