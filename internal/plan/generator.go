// Package plan detects changes between stored and current model
// fingerprints and turns them into ordered execution plans.
package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapplan/internal/state"
	"github.com/leapstack-labs/leapplan/pkg/core"
)

var (
	// ErrAlreadyApplied is returned for a plan whose status is already applied.
	ErrAlreadyApplied = errors.New("plan already applied")
	// ErrStalePlan is returned when the stored state changed after the plan
	// was generated.
	ErrStalePlan = errors.New("stored state changed since the plan was generated")
)

// Orderer produces a dependency-respecting order over all models.
// *dag.DependencyGraph implements it.
type Orderer interface {
	ExecutionOrder() ([]string, error)
}

// Updater is implemented by stores that can run a load-check-save sequence
// under a per-environment lock, such as *state.Locked.
type Updater interface {
	Update(ctx context.Context, env string, fn func(current *core.Snapshot) (*core.Snapshot, error)) error
}

// Config configures a Generator.
type Config struct {
	Registry core.Registry
	Order    Orderer
	// Impact answers which models sit downstream of a change. The column
	// lineage graph and the dependency graph both qualify.
	Impact core.ImpactSource
	Store  core.FingerprintStore
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// MaxParallel bounds GenerateAll. Zero means one goroutine per environment.
	MaxParallel int
}

// Generator computes and applies plans for one registry snapshot. It is
// safe for concurrent use across environments.
type Generator struct {
	reg         core.Registry
	order       Orderer
	impact      core.ImpactSource
	store       core.FingerprintStore
	logger      *slog.Logger
	now         func() time.Time
	maxParallel int

	once    sync.Once
	current map[string]core.Fingerprint
}

// NewGenerator validates cfg and returns a Generator.
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.Registry == nil {
		return nil, errors.New("plan: registry is required")
	}
	if cfg.Order == nil {
		return nil, errors.New("plan: execution order source is required")
	}
	if cfg.Impact == nil {
		return nil, errors.New("plan: impact source is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("plan: fingerprint store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Generator{
		reg:         cfg.Registry,
		order:       cfg.Order,
		impact:      cfg.Impact,
		store:       cfg.Store,
		logger:      logger,
		now:         now,
		maxParallel: cfg.MaxParallel,
	}, nil
}

// fingerprints computes the current fingerprints once.
func (g *Generator) fingerprints() map[string]core.Fingerprint {
	g.once.Do(func() {
		g.current = state.ComputeAll(g.reg)
	})
	return g.current
}

// Generate compares the registry with the stored snapshot of env.
func (g *Generator) Generate(ctx context.Context, env string) (*core.ExecutionPlan, error) {
	stored, err := g.store.Load(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("load state for %s: %w", env, err)
	}

	changes := Detect(g.fingerprints(), stored)
	changes = append(changes, g.downstream(changes)...)
	sortChanges(changes)

	order, err := g.executionOrder(changes)
	if err != nil {
		return nil, err
	}

	p := &core.ExecutionPlan{
		ID:             uuid.NewString(),
		Environment:    env,
		Changes:        changes,
		ExecutionOrder: order,
		Summary:        Summarize(changes),
		Status:         core.PlanGenerated,
		CreatedAt:      g.now().UTC(),
		BaseRevision:   stored.Revision,
	}
	if !p.HasChanges() {
		p.Status = core.PlanUpToDate
	}

	g.logger.Info("plan generated",
		slog.String("environment", env),
		slog.String("plan_id", p.ID),
		slog.String("status", string(p.Status)),
		slog.Int("direct", p.Summary.New+p.Summary.Deleted+p.Summary.DirectlyModified),
		slog.Int("indirect", p.Summary.IndirectlyModified))
	return p, nil
}

// downstream emits a DOWNSTREAM_UPDATE for every model downstream of a
// directly changed, non-deleted model that is not itself directly changed.
func (g *Generator) downstream(direct []core.ModelChange) []core.ModelChange {
	changed := make(map[string]bool)
	var sources []string
	for _, c := range direct {
		if !c.DirectlyModified || changed[c.ModelName] {
			continue
		}
		changed[c.ModelName] = true
		if c.ChangeType != core.ChangeDeleted {
			sources = append(sources, c.ModelName)
		}
	}
	sort.Strings(sources)

	causes := make(map[string][]string)
	for _, src := range sources {
		for _, d := range g.impact.DownstreamModels(src) {
			if changed[d] {
				continue
			}
			causes[d] = append(causes[d], src)
		}
	}

	out := make([]core.ModelChange, 0, len(causes))
	for name, srcs := range causes {
		out = append(out, core.ModelChange{
			ModelName:  name,
			ChangeType: core.ChangeDownstreamUpdate,
			Details: core.ChangeDetails{
				Reason:         ReasonUpstream,
				UpstreamCauses: srcs,
			},
			DirectlyModified: false,
		})
	}
	return out
}

// executionOrder filters the full topological order to changed, non-deleted
// models.
func (g *Generator) executionOrder(changes []core.ModelChange) ([]string, error) {
	members := make(map[string]bool)
	for _, c := range changes {
		if c.ChangeType != core.ChangeDeleted {
			members[c.ModelName] = true
		}
	}

	order := []string{}
	if len(members) == 0 {
		return order, nil
	}
	full, err := g.order.ExecutionOrder()
	if err != nil {
		return nil, fmt.Errorf("execution order: %w", err)
	}
	for _, name := range full {
		if members[name] {
			order = append(order, name)
		}
	}
	return order, nil
}

// Summarize counts changes by category. Each change counts once, so a
// model with two direct changes counts twice towards DirectlyModified.
func Summarize(changes []core.ModelChange) core.PlanSummary {
	s := core.PlanSummary{Total: len(changes)}
	for _, c := range changes {
		switch c.ChangeType {
		case core.ChangeNew:
			s.New++
		case core.ChangeDeleted:
			s.Deleted++
		case core.ChangeDownstreamUpdate:
			s.IndirectlyModified++
		default:
			s.DirectlyModified++
		}
	}
	return s
}

// Applied describes the outcome of Apply. Status is PlanApplied, or
// PlanUpToDate when there was nothing to write.
type Applied struct {
	Environment string          `json:"environment"`
	PlanID      string          `json:"plan_id"`
	Status      core.PlanStatus `json:"status"`
	Revision    string          `json:"revision,omitempty"`
	SavedAt     time.Time       `json:"saved_at,omitzero"`
}

// Apply persists the current fingerprints for the plan's environment. The
// plan itself is left untouched; the outcome is returned instead. An
// up-to-date plan is a no-op. When the store supports locked updates, the
// write is refused if the stored revision no longer matches the one the plan
// was computed against, so applying the same plan twice fails with
// ErrStalePlan.
func (g *Generator) Apply(ctx context.Context, p *core.ExecutionPlan) (Applied, error) {
	out := Applied{Environment: p.Environment, PlanID: p.ID, Status: p.Status}
	switch p.Status {
	case core.PlanApplied:
		return out, ErrAlreadyApplied
	case core.PlanUpToDate:
		g.logger.Info("plan up to date, nothing to apply", slog.String("environment", p.Environment))
		return out, nil
	}

	next := core.NewSnapshot(p.Environment)
	next.Models = g.fingerprints()

	var err error
	if u, ok := g.store.(Updater); ok {
		err = u.Update(ctx, p.Environment, func(current *core.Snapshot) (*core.Snapshot, error) {
			if current.Revision != p.BaseRevision {
				return nil, fmt.Errorf("%w: expected revision %q, found %q", ErrStalePlan, p.BaseRevision, current.Revision)
			}
			return next, nil
		})
	} else {
		err = g.store.Save(ctx, next)
	}
	if err != nil {
		return out, fmt.Errorf("apply plan %s: %w", p.ID, err)
	}

	out.Status = core.PlanApplied
	out.Revision = next.Revision
	out.SavedAt = next.SavedAt
	g.logger.Info("plan applied",
		slog.String("environment", p.Environment),
		slog.String("plan_id", p.ID),
		slog.String("revision", next.Revision))
	return out, nil
}

// GenerateAll plans several environments concurrently. Plans are returned
// in the order of envs; the first failure cancels the rest.
func (g *Generator) GenerateAll(ctx context.Context, envs []string) ([]*core.ExecutionPlan, error) {
	plans := make([]*core.ExecutionPlan, len(envs))
	eg, ctx := errgroup.WithContext(ctx)
	if g.maxParallel > 0 {
		eg.SetLimit(g.maxParallel)
	}
	for i, env := range envs {
		eg.Go(func() error {
			p, err := g.Generate(ctx, env)
			if err != nil {
				return fmt.Errorf("environment %s: %w", env, err)
			}
			plans[i] = p
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return plans, nil
}
