package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapplan/internal/cli/config"
	"github.com/leapstack-labs/leapplan/internal/cli/testutil"
	"github.com/leapstack-labs/leapplan/internal/engine"
	"github.com/leapstack-labs/leapplan/internal/lineage"
	"github.com/leapstack-labs/leapplan/internal/plan"
	"github.com/leapstack-labs/leapplan/pkg/core"
)

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		use   string
		flags []string
	}{
		{NewPlanCommand(), "plan", []string{"format", "all", "watch", "out"}},
		{NewApplyCommand(), "apply", []string{"plan", "format"}},
		{NewValidateCommand(), "validate", []string{"model"}},
		{NewDAGCommand(), "dag", []string{"dot"}},
		{NewLineageCommand(), "lineage [model] [column]", []string{"export", "columns", "focus", "depth", "file"}},
		{NewImpactCommand(), "impact <model> [column]", nil},
		{NewStateCommand(), "state", nil},
		{NewPromoteCommand(), "promote <source> <target>", []string{"apply", "format"}},
	}
	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			assert.Equal(t, tt.use, tt.cmd.Use)
			assert.NotEmpty(t, tt.cmd.Short, "Short should not be empty")
			for _, flag := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(flag), "flag %q should exist", flag)
			}
		})
	}

	state := NewStateCommand()
	var subs []string
	for _, c := range state.Commands() {
		subs = append(subs, c.Name())
	}
	assert.ElementsMatch(t, []string{"show", "list", "diff"}, subs)
}

// run loads the project configuration the way the root command does and
// executes cmd with args.
func run(t *testing.T, projectDir, mode string, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	config.ResetConfig()
	t.Cleanup(config.ResetConfig)

	flags := pflag.NewFlagSet("root", pflag.ContinueOnError)
	flags.String("project-dir", "", "")
	flags.String("output", "", "")
	require.NoError(t, flags.Parse([]string{"--project-dir", projectDir, "--output", mode}))
	_, err := config.Load("", flags)
	require.NoError(t, err)

	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err = cmd.Execute()
	return out.String(), err
}

func decode[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(s), &v), s)
	return v
}

func TestPlanAndApply(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	out, err := run(t, dir, "json", NewPlanCommand())
	require.NoError(t, err)
	p := decode[core.ExecutionPlan](t, out)
	assert.Equal(t, "dev", p.Environment)
	assert.Equal(t, core.PlanGenerated, p.Status)
	assert.Equal(t, 2, p.Summary.New)
	assert.Equal(t, []string{"orders", "customer_summary"}, p.ExecutionOrder)

	out, err = run(t, dir, "markdown", NewApplyCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "Applied plan")
	testutil.AssertNoANSI(t, out)

	out, err = run(t, dir, "json", NewPlanCommand())
	require.NoError(t, err)
	assert.Equal(t, core.PlanUpToDate, decode[core.ExecutionPlan](t, out).Status)

	out, err = run(t, dir, "markdown", NewApplyCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "already up to date")
}

func TestPlanAll(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	_, err := run(t, dir, "json", NewApplyCommand())
	require.NoError(t, err)

	out, err := run(t, dir, "json", NewPlanCommand(), "--all")
	require.NoError(t, err)
	plans := decode[[]core.ExecutionPlan](t, out)
	require.Len(t, plans, 2)
	assert.Equal(t, core.PlanUpToDate, plans[0].Status)
	assert.Equal(t, "prod", plans[1].Environment)
	assert.Equal(t, 2, plans[1].Summary.New)

	_, err = run(t, dir, "json", NewPlanCommand(), "--all", "--watch")
	assert.ErrorContains(t, err, "cannot be combined")
}

func TestApplySavedPlan(t *testing.T) {
	dir := testutil.SetupTestProject(t)
	planFile := filepath.Join(t.TempDir(), "plan.json")

	_, err := run(t, dir, "json", NewApplyCommand())
	require.NoError(t, err)
	_, err = run(t, dir, "text", NewPlanCommand(), "--out", planFile)
	require.NoError(t, err)
	require.FileExists(t, planFile)

	// Editing a model invalidates the saved plan.
	testutil.WriteFile(t, filepath.Join(dir, "models", "silver", "orders.yaml"),
		testutil.OrdersModel+"filters:\n  where_conditions:\n    - reference_table: raw.orders\n      condition: amount > 0\n")
	_, err = run(t, dir, "text", NewApplyCommand(), "--plan", planFile)
	assert.ErrorContains(t, err, "model definitions changed")

	_, err = run(t, dir, "text", NewPlanCommand(), "--out", planFile)
	require.NoError(t, err)
	out, err := run(t, dir, "markdown", NewApplyCommand(), "--plan", planFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Applied plan")

	// The state moved on since the plan was generated.
	_, err = run(t, dir, "text", NewApplyCommand(), "--plan", planFile)
	assert.ErrorIs(t, err, plan.ErrStalePlan)
}

func TestValidate(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	out, err := run(t, dir, "json", NewValidateCommand())
	require.NoError(t, err)
	doc := decode[map[string]any](t, out)
	assert.Equal(t, true, doc["ok"])

	testutil.WriteFile(t, filepath.Join(dir, "models", "gold", "customer_summary.yaml"),
		testutil.SummaryModel+"audits:\n  audits:\n    - type: NOT_NULL\n      columns: [total_amnt]\n")

	out, err = run(t, dir, "markdown", NewValidateCommand())
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Contains(t, out, "total_amnt")
	testutil.AssertValidMarkdown(t, out)

	_, err = run(t, dir, "json", NewValidateCommand(), "--model", "orders")
	assert.NoError(t, err)
}

func TestDAG(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	out, err := run(t, dir, "json", NewDAGCommand())
	require.NoError(t, err)
	doc := decode[DAGOutput](t, out)
	assert.Equal(t, 2, doc.TotalModels)
	assert.Equal(t, 1, doc.TotalEdges)
	require.Len(t, doc.Levels, 2)
	assert.Equal(t, "orders", doc.Levels[0].Models[0].Name)
	assert.Equal(t, []string{"customer_summary"}, doc.Levels[0].Models[0].UsedBy)

	out, err = run(t, dir, "markdown", NewDAGCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "## Level 0 (Sources)")
	assert.Contains(t, out, "- **Total Models:** 2")

	out, err = run(t, dir, "text", NewDAGCommand(), "--dot")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph lineage {")
}

func TestLineage(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	out, err := run(t, dir, "json", NewLineageCommand(), "customer_summary", "total_amount")
	require.NoError(t, err)
	cl := decode[lineage.ColumnLineage](t, out)
	require.Len(t, cl.Upstream, 1)
	assert.Equal(t, "orders.amount", cl.Upstream[0].ColumnID)

	out, err = run(t, dir, "json", NewLineageCommand(), "orders")
	require.NoError(t, err)
	ml := decode[lineage.ModelLineageInfo](t, out)
	assert.Equal(t, []string{"customer_summary"}, ml.Downstream)

	_, err = run(t, dir, "json", NewLineageCommand(), "ghost")
	assert.ErrorContains(t, err, `model "ghost" not found`)

	_, err = run(t, dir, "json", NewLineageCommand(), "orders", "ghost")
	assert.ErrorIs(t, err, engine.ErrColumnNotFound)

	_, err = run(t, dir, "json", NewLineageCommand())
	assert.Error(t, err)

	exported := filepath.Join(t.TempDir(), "lineage.json")
	_, err = run(t, dir, "text", NewLineageCommand(), "--export", "json", "--file", exported)
	require.NoError(t, err)
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Contains(t, string(data), "customer_summary")

	out, err = run(t, dir, "text", NewLineageCommand(), "--export", "dot", "--columns")
	require.NoError(t, err)
	assert.Contains(t, out, "orders.amount")

	_, err = run(t, dir, "text", NewLineageCommand(), "--export", "svg")
	assert.ErrorContains(t, err, "unknown export format")
}

func TestImpact(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	out, err := run(t, dir, "json", NewImpactCommand(), "orders")
	require.NoError(t, err)
	impact := decode[engine.Impact](t, out)
	require.NotNil(t, impact.Model)
	assert.Equal(t, []string{"customer_summary"}, impact.Model.ImpactedModels)

	out, err = run(t, dir, "json", NewImpactCommand(), "orders", "amount")
	require.NoError(t, err)
	impact = decode[engine.Impact](t, out)
	require.NotNil(t, impact.Column)
	assert.Equal(t, map[string][]string{"customer_summary": {"total_amount"}}, impact.Column.ImpactByModel)

	out, err = run(t, dir, "markdown", NewImpactCommand(), "orders")
	require.NoError(t, err)
	assert.Contains(t, out, "# Impact: orders")
	assert.Contains(t, out, "- customer_summary")
}

func TestState(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	out, err := run(t, dir, "json", NewStateCommand(), "list")
	require.NoError(t, err)
	assert.Equal(t, []string{}, decode[[]string](t, out))

	out, err = run(t, dir, "markdown", NewStateCommand(), "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing applied yet.")

	_, err = run(t, dir, "json", NewApplyCommand())
	require.NoError(t, err)

	out, err = run(t, dir, "json", NewStateCommand(), "list")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev"}, decode[[]string](t, out))

	out, err = run(t, dir, "json", NewStateCommand(), "show", "dev")
	require.NoError(t, err)
	doc := decode[stateDocument](t, out)
	assert.Equal(t, "dev", doc.Environment)
	assert.NotEmpty(t, doc.Revision)
	require.Len(t, doc.Models, 2)
	assert.Equal(t, "customer_summary", doc.Models[0].Name)
	assert.Equal(t, []string{"orders"}, doc.Models[0].Dependencies)
	assert.Equal(t, 3, doc.Models[1].Columns)

	out, err = run(t, dir, "markdown", NewStateCommand(), "show")
	require.NoError(t, err)
	assert.Contains(t, out, "| orders")
}

func TestStateDiffAndPromote(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	_, err := run(t, dir, "json", NewApplyCommand())
	require.NoError(t, err)

	_, err = run(t, dir, "json", NewStateCommand(), "diff", "dev", "prod")
	assert.ErrorIs(t, err, core.ErrEnvironmentNotFound)

	out, err := run(t, dir, "markdown", NewPromoteCommand(), "dev", "prod")
	require.NoError(t, err)
	assert.Contains(t, out, "Run with --apply")
	_, err = run(t, dir, "json", NewStateCommand(), "diff", "dev", "prod")
	assert.ErrorIs(t, err, core.ErrEnvironmentNotFound)

	out, err = run(t, dir, "json", NewPromoteCommand(), "dev", "prod", "--apply")
	require.NoError(t, err)
	promo := decode[engine.Promotion](t, out)
	assert.Equal(t, "prod", promo.Target)
	assert.Equal(t, 2, promo.Plan.Summary.New)
	require.NotNil(t, promo.Applied)
	assert.Equal(t, core.PlanApplied, promo.Applied.Status)

	out, err = run(t, dir, "json", NewStateCommand(), "diff", "dev", "prod")
	require.NoError(t, err)
	assert.True(t, decode[plan.Comparison](t, out).Identical())

	out, err = run(t, dir, "markdown", NewPromoteCommand(), "dev", "prod", "--apply")
	require.NoError(t, err)
	assert.Contains(t, out, "prod is already up to date with dev")

	testutil.WriteFile(t, filepath.Join(dir, "models", "silver", "orders.yaml"),
		testutil.OrdersModel+"filters:\n  where_conditions:\n    - reference_table: raw.orders\n      condition: amount > 0\n")

	_, err = run(t, dir, "json", NewPromoteCommand(), "dev", "prod")
	assert.ErrorIs(t, err, engine.ErrSourceNotCurrent)

	_, err = run(t, dir, "json", NewApplyCommand())
	require.NoError(t, err)

	out, err = run(t, dir, "json", NewStateCommand(), "diff", "dev", "prod")
	require.NoError(t, err)
	cmp := decode[plan.Comparison](t, out)
	require.Len(t, cmp.Differences, 1)
	assert.Equal(t, "orders", cmp.Differences[0].Model)
	assert.Equal(t, []string{plan.AspectLogic}, cmp.Differences[0].Aspects)

	out, err = run(t, dir, "markdown", NewStateCommand(), "diff", "dev", "prod")
	require.NoError(t, err)
	assert.Contains(t, out, "| orders")
	assert.Contains(t, out, "logic")
	testutil.AssertNoANSI(t, out)
}

func TestVersion(t *testing.T) {
	cmd := NewVersionCommand("1.2.3")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "leapplan v1.2.3")
}
