package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapplan/internal/loader"
	"github.com/leapstack-labs/leapplan/internal/plan"
	"github.com/leapstack-labs/leapplan/internal/testutil"
	"github.com/leapstack-labs/leapplan/internal/validate"
	"github.com/leapstack-labs/leapplan/pkg/core"
)

const ordersDef = `model:
  name: orders
  layer: silver
source:
  base_table: raw.orders
  depends_on_tables: [raw.orders]
transformations:
  columns:
    - name: id
      reference_table: raw.orders
    - name: amount
      reference_table: raw.orders
`

const summaryDef = `model:
  name: summary
  layer: gold
source:
  base_table: orders
  depends_on_tables: [orders]
transformations:
  columns:
    - name: id
      reference_table: orders
    - name: total
      reference_table: orders
      expression: SUM(amount)
grain: [id]
`

func writeModel(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newEngine(t *testing.T, models map[string]string) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range models {
		writeModel(t, dir, name, content)
	}
	e, err := New(context.Background(), Config{
		ModelsDir: dir,
		State:     filepath.Join(t.TempDir(), "state"),
		Logger:    testutil.NewTestLogger(t),
		Now:       func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, dir
}

func TestNew(t *testing.T) {
	e, _ := newEngine(t, nil)
	assert.Equal(t, "dev", e.Environment())
	assert.NotNil(t, e.Store())

	_, err := New(context.Background(), Config{Environment: "bad/env"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{State: "ftp://example.com/state"})
	assert.ErrorContains(t, err, "failed to open state store")
}

func TestEngine_QueriesBeforeDiscover(t *testing.T) {
	e, _ := newEngine(t, nil)

	assert.Nil(t, e.Registry())
	assert.Nil(t, e.Graph())
	assert.Nil(t, e.Lineage())

	_, err := e.Validate()
	assert.ErrorIs(t, err, ErrNotDiscovered)
	_, err = e.Plan(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotDiscovered)
	_, err = e.Impact("orders", "")
	assert.ErrorIs(t, err, ErrNotDiscovered)
}

func TestEngine_PlanApplyCycle(t *testing.T) {
	ctx := context.Background()
	e, dir := newEngine(t, map[string]string{"orders.yaml": ordersDef, "summary.yaml": summaryDef})
	require.NoError(t, e.Discover(ctx))
	assert.Equal(t, []string{"orders", "summary"}, e.Registry().Names())

	first, err := e.Plan(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "dev", first.Environment)
	assert.Equal(t, core.PlanGenerated, first.Status)
	assert.Equal(t, 2, first.Summary.New)
	assert.Equal(t, []string{"orders", "summary"}, first.ExecutionOrder)

	applied, err := e.Apply(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, core.PlanApplied, applied.Status)
	assert.Equal(t, core.PlanGenerated, first.Status)

	snap, err := e.State(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "summary"}, snap.Names())

	envs, err := e.Environments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev"}, envs)

	again, err := e.Plan(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, core.PlanUpToDate, again.Status)

	writeModel(t, dir, "orders.yaml", ordersDef+"filters:\n  where_conditions:\n    - reference_table: raw.orders\n      condition: amount > 0\n")
	require.NoError(t, e.Discover(ctx))

	changed, err := e.Plan(ctx, "")
	require.NoError(t, err)
	var labels []string
	for _, c := range changed.Changes {
		labels = append(labels, c.ModelName+":"+string(c.ChangeType))
	}
	assert.Equal(t, []string{"orders:LOGIC_CHANGE", "summary:DOWNSTREAM_UPDATE"}, labels)
}

func TestEngine_PlanAll(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, map[string]string{"orders.yaml": ordersDef})
	require.NoError(t, e.Discover(ctx))

	dev, err := e.Plan(ctx, "dev")
	require.NoError(t, err)
	_, err = e.Apply(ctx, dev)
	require.NoError(t, err)

	plans, err := e.PlanAll(ctx, []string{"dev", "prod"})
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, core.PlanUpToDate, plans[0].Status)
	assert.Equal(t, "prod", plans[1].Environment)
	assert.Equal(t, 1, plans[1].Summary.New)
}

func TestEngine_CompareAndPromote(t *testing.T) {
	ctx := context.Background()
	e, dir := newEngine(t, map[string]string{"orders.yaml": ordersDef, "summary.yaml": summaryDef})
	require.NoError(t, e.Discover(ctx))

	dev, err := e.Plan(ctx, "dev")
	require.NoError(t, err)
	_, err = e.Apply(ctx, dev)
	require.NoError(t, err)

	_, err = e.CompareEnvironments(ctx, "dev", "prod")
	assert.ErrorIs(t, err, core.ErrEnvironmentNotFound)
	_, err = e.Promote(ctx, "staging", "prod", true)
	assert.ErrorIs(t, err, core.ErrEnvironmentNotFound)
	_, err = e.Promote(ctx, "dev", "dev", true)
	assert.ErrorContains(t, err, "to itself")

	dry, err := e.Promote(ctx, "dev", "prod", false)
	require.NoError(t, err)
	assert.Nil(t, dry.Applied)
	assert.Equal(t, 2, dry.Plan.Summary.New)
	_, err = e.CompareEnvironments(ctx, "dev", "prod")
	assert.ErrorIs(t, err, core.ErrEnvironmentNotFound, "a dry run writes nothing")

	promoted, err := e.Promote(ctx, "dev", "prod", true)
	require.NoError(t, err)
	require.NotNil(t, promoted.Applied)
	assert.Equal(t, core.PlanApplied, promoted.Applied.Status)

	cmp, err := e.CompareEnvironments(ctx, "dev", "prod")
	require.NoError(t, err)
	assert.True(t, cmp.Identical())
	assert.Equal(t, []string{"orders", "summary"}, cmp.Common)

	writeModel(t, dir, "orders.yaml", ordersDef+"filters:\n  where_conditions:\n    - reference_table: raw.orders\n      condition: amount > 0\n")
	require.NoError(t, e.Discover(ctx))

	_, err = e.Promote(ctx, "dev", "prod", true)
	assert.ErrorIs(t, err, ErrSourceNotCurrent)

	dev, err = e.Plan(ctx, "dev")
	require.NoError(t, err)
	_, err = e.Apply(ctx, dev)
	require.NoError(t, err)

	cmp, err = e.CompareEnvironments(ctx, "dev", "prod")
	require.NoError(t, err)
	assert.Empty(t, cmp.SourceOnly)
	assert.Empty(t, cmp.TargetOnly)
	require.Len(t, cmp.Differences, 1)
	assert.Equal(t, "orders", cmp.Differences[0].Model)
	assert.Equal(t, []string{plan.AspectLogic}, cmp.Differences[0].Aspects)

	_, err = e.Promote(ctx, "dev", "prod", true)
	require.NoError(t, err)
	cmp, err = e.CompareEnvironments(ctx, "dev", "prod")
	require.NoError(t, err)
	assert.True(t, cmp.Identical())
}

func TestEngine_StructuralErrorsRefusePlanning(t *testing.T) {
	ctx := context.Background()
	broken := "model:\n  name: broken\n  layer: gold\nsource:\n  depends_on_tables: [ghost]\n"
	e, _ := newEngine(t, map[string]string{"orders.yaml": ordersDef, "broken.yaml": broken})
	require.NoError(t, e.Discover(ctx))

	_, err := e.Plan(ctx, "")
	var se StructuralErrors
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StructuralErrors{{Model: "broken", Missing: "ghost", Kind: core.MissingDependency}}, se)
	assert.Contains(t, err.Error(), "1 structural error(s)")

	_, err = e.PlanAll(ctx, []string{"dev"})
	assert.True(t, errors.As(err, &se))

	r, err := e.Validate()
	require.NoError(t, err)
	assert.False(t, r.OK())
	assert.Equal(t, []core.StructuralError(se), r.Structural)
}

func TestEngine_UseLogsStructuralErrors(t *testing.T) {
	logger, rec := testutil.NewRecordingLogger()
	e, err := New(context.Background(), Config{
		State:  filepath.Join(t.TempDir(), "state"),
		Logger: logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	reg := core.Registry{
		"broken": {Name: "broken", Layer: core.LayerGold, Kind: core.KindTable, Source: core.Source{DependsOn: []string{"ghost"}}},
	}
	require.NoError(t, e.Use(reg))

	assert.Equal(t, []string{"unresolved declaration"}, rec.Messages())
	assert.Equal(t, "broken", rec.Attr(0, "model"))
	assert.Equal(t, "ghost", rec.Attr(0, "missing"))
	assert.Len(t, e.StructuralErrors(), 1)
}

func TestEngine_DiscoverFailureKeepsPreviousRegistry(t *testing.T) {
	ctx := context.Background()
	e, dir := newEngine(t, map[string]string{"orders.yaml": ordersDef})
	require.NoError(t, e.Discover(ctx))

	writeModel(t, dir, "bad.yaml", "model: [")
	err := e.Discover(ctx)
	assert.ErrorContains(t, err, "failed to load models")
	assert.Equal(t, []string{"orders"}, e.Registry().Names())
}

func TestEngine_Validate(t *testing.T) {
	summary := summaryDef + "audits:\n  audits:\n    - type: NOT_NULL\n      columns: [totl]\n"
	e, _ := newEngine(t, map[string]string{"orders.yaml": ordersDef, "summary.yaml": summary})
	require.NoError(t, e.Discover(context.Background()))

	r, err := e.Validate()
	require.NoError(t, err)
	require.Len(t, r.Findings, 1)
	assert.Equal(t, validate.RuleAuditColumn, r.Findings[0].RuleID)
	assert.Empty(t, r.ColumnErrors)
}

func TestEngine_ValidatorHonoursConfig(t *testing.T) {
	typo := `model:
  name: summary
  layer: gold
source:
  depends_on_tables: [orders]
transformations:
  columns:
    - name: total
      reference_table: orders
      expression: AMOUNT
`
	e, _ := newEngine(t, map[string]string{"orders.yaml": ordersDef, "summary.yaml": typo})
	require.NoError(t, e.Discover(context.Background()))

	r, err := e.Validate()
	require.NoError(t, err)
	require.Len(t, r.ColumnErrors, 1)
	assert.Equal(t, "amount", r.ColumnErrors[0].Suggestion)

	e.cfg.Suggestions = "off"
	r, err = e.Validate()
	require.NoError(t, err)
	require.Len(t, r.ColumnErrors, 1)
	assert.Empty(t, r.ColumnErrors[0].Suggestion)
}

func TestEngine_LineageQueries(t *testing.T) {
	e, _ := newEngine(t, map[string]string{"orders.yaml": ordersDef, "summary.yaml": summaryDef})
	require.NoError(t, e.Discover(context.Background()))

	cl, err := e.ColumnLineage("summary", "total")
	require.NoError(t, err)
	require.Len(t, cl.Upstream, 1)
	assert.Equal(t, "orders.amount", cl.Upstream[0].ColumnID)

	folded, err := e.ColumnLineage("SUMMARY", "Total")
	require.NoError(t, err)
	assert.Equal(t, "summary.total", folded.ColumnID)
	assert.Equal(t, cl.Upstream, folded.Upstream)

	_, err = e.ColumnLineage("summary", "nope")
	assert.ErrorIs(t, err, ErrColumnNotFound)

	ml, err := e.ModelLineage("Summary")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, ml.Upstream)

	impact, err := e.Impact("orders", "")
	require.NoError(t, err)
	require.NotNil(t, impact.Model)
	assert.Nil(t, impact.Column)
	assert.Equal(t, []string{"summary"}, impact.Model.ImpactedModels)

	impact, err = e.Impact("Orders", "AMOUNT")
	require.NoError(t, err)
	require.NotNil(t, impact.Column)
	assert.Equal(t, []string{"summary"}, impact.Column.ImpactedModels)

	_, err = e.Impact("orders", "ghost")
	assert.ErrorIs(t, err, ErrColumnNotFound)
	_, err = e.Impact("ghost", "")
	assert.ErrorContains(t, err, `model "ghost" not found`)
}

func TestEngine_Watch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e, dir := newEngine(t, map[string]string{"orders.yaml": ordersDef})
	e.loader = loader.New(dir, loader.Options{Logger: testutil.NewTestLogger(t), Debounce: 50 * time.Millisecond})

	results := make(chan error, 4)
	go func() { _ = e.Watch(ctx, func(err error) { results <- err }) }()

	wait := func() error {
		t.Helper()
		select {
		case err := <-results:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for rediscovery")
			return nil
		}
	}

	require.NoError(t, wait())
	assert.Equal(t, []string{"orders"}, e.Registry().Names())

	writeModel(t, dir, "summary.yaml", summaryDef)
	require.NoError(t, wait())
	assert.Equal(t, []string{"orders", "summary"}, e.Registry().Names())
}
