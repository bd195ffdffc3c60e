// Package engine ties the loader, graphs, validator, planner and state store
// together for one project.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/leapstack-labs/leapplan/internal/dag"
	"github.com/leapstack-labs/leapplan/internal/lineage"
	"github.com/leapstack-labs/leapplan/internal/loader"
	"github.com/leapstack-labs/leapplan/internal/plan"
	"github.com/leapstack-labs/leapplan/internal/state"
	"github.com/leapstack-labs/leapplan/internal/validate"
	"github.com/leapstack-labs/leapplan/pkg/core"
	pkglineage "github.com/leapstack-labs/leapplan/pkg/lineage"
)

// ErrNotDiscovered is returned by queries issued before Discover.
var ErrNotDiscovered = errors.New("models not discovered yet")

// ErrColumnNotFound is returned by column queries for unknown columns.
var ErrColumnNotFound = errors.New("column not found")

// ErrSourceNotCurrent is returned by Promote when the source environment
// does not match the model definitions.
var ErrSourceNotCurrent = errors.New("source environment is not up to date")

// StructuralErrors is returned by Plan when declared dependencies or CTEs
// cannot be resolved. No plan is produced in that case.
type StructuralErrors []core.StructuralError

func (e StructuralErrors) Error() string {
	msgs := make([]string, len(e))
	for i, se := range e {
		msgs[i] = se.Error()
	}
	return fmt.Sprintf("%d structural error(s): %s", len(e), strings.Join(msgs, "; "))
}

// Config holds engine configuration.
type Config struct {
	ModelsDir string // Directory containing model definition files
	// State is the store location: a directory, file://, sqlite://,
	// postgres:// or s3:// URL. Empty means state.DefaultLocation.
	State       string
	Environment string // Default environment, "dev" when empty
	S3          state.S3Config

	ExternalPrefixes []string // Nil means the lineage defaults
	OpaquePrefixes   []string // Nil means the lineage defaults

	Suggestions         string  // similarity, exact or off
	SimilarityThreshold float64 // Zero means the per-kind defaults

	DisabledRules     map[string]bool
	SeverityOverrides map[string]core.Severity

	MaxParallel   int           // Bound for PlanAll; zero is unbounded
	WatchDebounce time.Duration // Quiet period before Watch rediscovers
	Logger        *slog.Logger

	// Store replaces the store opened from State.
	Store core.FingerprintStore
	// Now overrides the plan clock.
	Now func() time.Time
}

// Engine runs discovery, validation and planning for one models directory.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	store    *state.Locked
	loader   *loader.Loader
	resolver *pkglineage.Resolver
	external pkglineage.ExternalTables

	mu         sync.RWMutex
	reg        core.Registry
	deps       *dag.DependencyGraph
	structural []core.StructuralError
	lineage    *lineage.Graph
	planner    *plan.Generator
}

// New creates a new engine and opens its state store.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if err := state.ValidateEnvironment(cfg.Environment); err != nil {
		return nil, err
	}

	logger.Debug("initializing engine",
		"models_dir", cfg.ModelsDir,
		"state", cfg.State,
		"environment", cfg.Environment)

	var store *state.Locked
	if cfg.Store != nil {
		store = state.NewLocked(cfg.Store)
	} else {
		var err error
		store, err = state.Open(ctx, cfg.State, state.Options{S3: cfg.S3, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		loader:   loader.New(cfg.ModelsDir, loader.Options{Logger: logger, Debounce: cfg.WatchDebounce}),
		resolver: pkglineage.NewResolver(pkglineage.Options{OpaquePrefixes: cfg.OpaquePrefixes}),
		external: pkglineage.ExternalTables{Prefixes: cfg.ExternalPrefixes},
	}, nil
}

// Close releases the state store.
func (e *Engine) Close() error {
	e.logger.Debug("closing engine")
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("errors closing engine: %w", err)
	}
	return nil
}

// Environment returns the default environment.
func (e *Engine) Environment() string {
	return e.cfg.Environment
}

// Loader returns the models directory loader.
func (e *Engine) Loader() *loader.Loader {
	return e.loader
}

// Store returns the state store.
func (e *Engine) Store() core.FingerprintStore {
	return e.store
}

// Discover loads every definition and builds both graphs. Load failures
// leave the previously discovered registry in place.
func (e *Engine) Discover(ctx context.Context) error {
	start := time.Now()
	e.logger.Info("starting discovery", "models_dir", e.cfg.ModelsDir)

	reg, err := e.loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}
	if err := e.Use(reg); err != nil {
		return err
	}

	e.mu.RLock()
	stats := e.deps.Stats()
	structural := len(e.structural)
	e.mu.RUnlock()

	e.logger.Info("discovery completed",
		"models_total", stats.Models,
		"edges", stats.Edges,
		"structural_errors", structural,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Use installs reg as the current registry and rebuilds both graphs.
// Discover calls it after loading; it is exported for callers that build
// registries themselves.
func (e *Engine) Use(reg core.Registry) error {
	deps, structural := dag.Build(reg, e.external.IsExternal)
	graph := lineage.Build(reg, deps, e.resolver)

	planner, err := plan.NewGenerator(plan.Config{
		Registry:    reg,
		Order:       deps,
		Impact:      graph,
		Store:       e.store,
		Logger:      e.logger,
		Now:         e.cfg.Now,
		MaxParallel: e.cfg.MaxParallel,
	})
	if err != nil {
		return fmt.Errorf("failed to create planner: %w", err)
	}

	e.mu.Lock()
	e.reg = reg
	e.deps = deps
	e.structural = structural
	e.lineage = graph
	e.planner = planner
	e.mu.Unlock()

	for _, se := range structural {
		e.logger.Warn("unresolved declaration", "model", se.Model, "missing", se.Missing, "kind", string(se.Kind))
	}
	return nil
}

type discovered struct {
	reg        core.Registry
	deps       *dag.DependencyGraph
	structural []core.StructuralError
	lineage    *lineage.Graph
	planner    *plan.Generator
}

func (e *Engine) current() (discovered, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.reg == nil {
		return discovered{}, ErrNotDiscovered
	}
	return discovered{e.reg, e.deps, e.structural, e.lineage, e.planner}, nil
}

// Registry returns the discovered models, or nil before Discover.
func (e *Engine) Registry() core.Registry {
	d, _ := e.current()
	return d.reg
}

// Graph returns the model dependency graph, or nil before Discover.
func (e *Engine) Graph() *dag.DependencyGraph {
	d, _ := e.current()
	return d.deps
}

// Lineage returns the column lineage graph, or nil before Discover.
func (e *Engine) Lineage() *lineage.Graph {
	d, _ := e.current()
	return d.lineage
}

// StructuralErrors returns the unresolved declarations found by the last
// discovery.
func (e *Engine) StructuralErrors() []core.StructuralError {
	d, _ := e.current()
	return d.structural
}

// Validator returns a validator configured like the engine.
func (e *Engine) Validator() *validate.Validator {
	var columns, tables pkglineage.Suggester
	if e.cfg.Suggestions != "" || e.cfg.SimilarityThreshold > 0 {
		colThreshold, tableThreshold := pkglineage.ColumnSimilarityThreshold, pkglineage.TableSimilarityThreshold
		if e.cfg.SimilarityThreshold > 0 {
			colThreshold, tableThreshold = e.cfg.SimilarityThreshold, e.cfg.SimilarityThreshold
		}
		columns = pkglineage.NewSuggester(e.cfg.Suggestions, colThreshold)
		tables = pkglineage.NewSuggester(e.cfg.Suggestions, tableThreshold)
	}
	return validate.New(validate.Config{
		Extractor:         e.resolver,
		External:          e.external,
		ColumnSuggester:   columns,
		TableSuggester:    tables,
		DisabledRules:     e.cfg.DisabledRules,
		SeverityOverrides: e.cfg.SeverityOverrides,
	})
}

// Validate checks the discovered registry.
func (e *Engine) Validate() (*validate.Report, error) {
	d, err := e.current()
	if err != nil {
		return nil, err
	}
	return e.Validator().ValidateGraph(d.deps, d.structural), nil
}

func (e *Engine) env(env string) string {
	if env == "" {
		return e.cfg.Environment
	}
	return env
}

// Plan computes the execution plan for env, or the default environment
// when env is empty. Unresolved declarations refuse planning.
func (e *Engine) Plan(ctx context.Context, env string) (*core.ExecutionPlan, error) {
	d, err := e.current()
	if err != nil {
		return nil, err
	}
	if len(d.structural) > 0 {
		return nil, StructuralErrors(d.structural)
	}
	return d.planner.Generate(ctx, e.env(env))
}

// PlanAll plans several environments concurrently, in the order given.
func (e *Engine) PlanAll(ctx context.Context, envs []string) ([]*core.ExecutionPlan, error) {
	d, err := e.current()
	if err != nil {
		return nil, err
	}
	if len(d.structural) > 0 {
		return nil, StructuralErrors(d.structural)
	}
	return d.planner.GenerateAll(ctx, envs)
}

// Apply records the registry's fingerprints as the new state of the plan's
// environment.
func (e *Engine) Apply(ctx context.Context, p *core.ExecutionPlan) (plan.Applied, error) {
	d, err := e.current()
	if err != nil {
		return plan.Applied{}, err
	}
	return d.planner.Apply(ctx, p)
}

// State returns the stored snapshot of env, or of the default environment
// when env is empty.
func (e *Engine) State(ctx context.Context, env string) (*core.Snapshot, error) {
	env = e.env(env)
	snap, err := e.store.Load(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("failed to load state for %s: %w", env, err)
	}
	return snap, nil
}

// Environments lists the environments with stored state.
func (e *Engine) Environments(ctx context.Context) ([]string, error) {
	envs, err := e.store.Environments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	return envs, nil
}

// storedState loads env and fails with core.ErrEnvironmentNotFound when it
// has never been applied.
func (e *Engine) storedState(ctx context.Context, env string) (*core.Snapshot, error) {
	snap, err := e.State(ctx, env)
	if err != nil {
		return nil, err
	}
	if snap.Revision == "" {
		return nil, fmt.Errorf("%w: %s", core.ErrEnvironmentNotFound, env)
	}
	return snap, nil
}

// CompareEnvironments diffs the stored state of two environments. Both must
// have been applied at least once. It does not need discovered models.
func (e *Engine) CompareEnvironments(ctx context.Context, source, target string) (plan.Comparison, error) {
	src, err := e.storedState(ctx, source)
	if err != nil {
		return plan.Comparison{}, err
	}
	dst, err := e.storedState(ctx, target)
	if err != nil {
		return plan.Comparison{}, err
	}
	return plan.Compare(src, dst), nil
}

// Promotion is the outcome of Promote. Applied is nil when the plan was
// only computed.
type Promotion struct {
	Source  string              `json:"source"`
	Target  string              `json:"target"`
	Plan    *core.ExecutionPlan `json:"plan"`
	Applied *plan.Applied       `json:"applied,omitempty"`
}

// Promote plans the target environment against the current definitions,
// which must already be applied to source, and applies the plan when apply
// is set.
func (e *Engine) Promote(ctx context.Context, source, target string, apply bool) (*Promotion, error) {
	if source == target {
		return nil, fmt.Errorf("cannot promote %s to itself", source)
	}
	if _, err := e.storedState(ctx, source); err != nil {
		return nil, err
	}
	current, err := e.Plan(ctx, source)
	if err != nil {
		return nil, err
	}
	if current.Status != core.PlanUpToDate {
		return nil, fmt.Errorf("%w: %s has %d unapplied change(s); apply it before promoting",
			ErrSourceNotCurrent, source, current.Summary.Total)
	}

	p, err := e.Plan(ctx, target)
	if err != nil {
		return nil, err
	}
	out := &Promotion{Source: source, Target: target, Plan: p}
	e.logger.Info("promotion planned",
		"source", source, "target", target, "changes", p.Summary.Total)
	if !apply {
		return out, nil
	}

	applied, err := e.Apply(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("promote %s to %s: %w", source, target, err)
	}
	out.Applied = &applied
	return out, nil
}

// ColumnLineage returns the detailed lineage of model.column.
func (e *Engine) ColumnLineage(model, column string) (lineage.ColumnLineage, error) {
	d, err := e.current()
	if err != nil {
		return lineage.ColumnLineage{}, err
	}
	out := d.lineage.DetailedLineage(model, column)
	if !out.Found {
		return out, fmt.Errorf("%w: %s", ErrColumnNotFound, out.ColumnID)
	}
	return out, nil
}

// ModelLineage returns the model-level lineage of model.
func (e *Engine) ModelLineage(model string) (lineage.ModelLineageInfo, error) {
	d, err := e.current()
	if err != nil {
		return lineage.ModelLineageInfo{}, err
	}
	if _, ok := d.lineage.ResolveModel(model); !ok {
		return lineage.ModelLineageInfo{}, fmt.Errorf("model %q not found", model)
	}
	return d.lineage.ModelLineage(model), nil
}

// Impact is the answer to an impact query. Column is nil for model-level
// queries and Model is nil for column-level ones.
type Impact struct {
	Model  *lineage.ModelImpactInfo `json:"model,omitempty"`
	Column *lineage.ColumnImpact    `json:"column,omitempty"`
}

// Impact reports what a change to model, or to one of its columns when
// column is set, would affect.
func (e *Engine) Impact(model, column string) (Impact, error) {
	d, err := e.current()
	if err != nil {
		return Impact{}, err
	}
	if _, ok := d.lineage.ResolveModel(model); !ok {
		return Impact{}, fmt.Errorf("model %q not found", model)
	}
	if column == "" {
		mi := d.lineage.ModelImpact(model)
		return Impact{Model: &mi}, nil
	}
	if _, ok := d.lineage.ResolveColumn(model, column); !ok {
		return Impact{}, fmt.Errorf("%w: %s", ErrColumnNotFound, core.ColumnID{Model: model, Column: column})
	}
	ci := d.lineage.ImpactAnalysis(model, column)
	return Impact{Column: &ci}, nil
}

// Watch rediscovers the models directory on every change and calls fn
// after each attempt. It blocks until ctx is done.
func (e *Engine) Watch(ctx context.Context, fn func(error)) error {
	return e.loader.Watch(ctx, func(reg core.Registry, err error) {
		if err == nil {
			err = e.Use(reg)
		}
		if err != nil {
			e.logger.Warn("rediscovery failed", "error", err)
		}
		fn(err)
	})
}
