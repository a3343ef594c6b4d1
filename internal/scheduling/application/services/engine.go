package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/theatro/theatro/internal/scheduling/domain"
)

// EngineConfig aggregates the tuning knobs of a full engine run.
type EngineConfig struct {
	Weights   Weights
	Tabu      TabuConfig
	Check     CheckOptions
	Emergency EmergencyConfig
	// SoftTimeout bounds the search itself; expiry returns the best
	// solution found so far. HardTimeout bounds a whole run including
	// loading and persistence and is enforced by the caller's context.
	SoftTimeout time.Duration
	HardTimeout time.Duration
}

// DefaultEngineConfig returns the standard engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Weights:     DefaultWeights(),
		Tabu:        DefaultTabuConfig(),
		Check:       DefaultCheckOptions(),
		Emergency:   DefaultEmergencyConfig(),
		SoftTimeout: 30 * time.Second,
		HardTimeout: 120 * time.Second,
	}
}

// RunOverrides narrows a single run's search configuration. Nil fields
// keep the engine's configured value. The search is deterministic and
// carries no randomness, so there is no seed to override.
type RunOverrides struct {
	MaxIterations    *int
	TabuTenure       *int
	MaxNoImprovement *int
	Weights          *Weights
}

func (c EngineConfig) withOverrides(o RunOverrides) EngineConfig {
	if o.MaxIterations != nil {
		c.Tabu.MaxIterations = *o.MaxIterations
	}
	if o.TabuTenure != nil {
		c.Tabu.Tenure = *o.TabuTenure
	}
	if o.MaxNoImprovement != nil {
		c.Tabu.MaxNoImprovement = *o.MaxNoImprovement
	}
	if o.Weights != nil {
		c.Weights = *o.Weights
	}
	return c
}

// Engine is the facade over the scheduling core. It owns no state beyond
// configuration; every call builds its services over the given snapshot, so
// concurrent runs on different snapshots never share mutable state.
type Engine struct {
	config EngineConfig
	logger *slog.Logger
}

// NewEngine creates the engine facade.
func NewEngine(config EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{config: config, logger: logger}
}

// Config returns the engine's configuration.
func (e *Engine) Config() EngineConfig { return e.config }

type runParts struct {
	checker   *FeasibilityChecker
	builder   *ScheduleBuilder
	evaluator *Evaluator
	optimizer *TabuOptimizer
	emergency *EmergencyHandler
}

func (e *Engine) parts(snap *domain.Snapshot, config EngineConfig) runParts {
	checker := NewFeasibilityChecker(snap, config.Check, e.logger)
	builder := NewScheduleBuilder(snap, checker, e.logger)
	evaluator := NewEvaluator(snap, config.Weights)
	return runParts{
		checker:   checker,
		builder:   builder,
		evaluator: evaluator,
		optimizer: NewTabuOptimizer(snap, builder, checker, evaluator, config.Tabu, e.logger),
		emergency: NewEmergencyHandler(snap, builder, evaluator, config.Emergency, e.logger),
	}
}

// Optimize builds or improves the schedule for a snapshot. A nil or empty
// current solution triggers greedy construction first; otherwise the search
// starts from the persisted schedule. The soft timeout caps the search and
// returns the best solution found within it. Overrides apply to this run
// only.
func (e *Engine) Optimize(ctx context.Context, snap *domain.Snapshot, current *domain.Solution, overrides RunOverrides) (OptimizeResult, error) {
	config := e.config.withOverrides(overrides)
	p := e.parts(snap, config)

	initial := current
	if initial == nil || initial.AssignmentCount() == 0 {
		built, err := p.builder.InitialSolution()
		if err != nil {
			return OptimizeResult{}, err
		}
		initial = built
	}

	searchCtx := ctx
	if config.SoftTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, config.SoftTimeout)
		defer cancel()
	}
	return p.optimizer.Optimize(searchCtx, initial)
}

// InsertEmergency works an emergency into the current schedule. The
// emergency surgery must already be part of the snapshot.
func (e *Engine) InsertEmergency(ctx context.Context, snap *domain.Snapshot, emergency domain.Surgery, current *domain.Solution, now time.Time, opts EmergencyOptions) (EmergencyResult, error) {
	return e.parts(snap, e.config).emergency.Insert(ctx, emergency, current, now, opts)
}

// Validate checks an entire schedule against all constraints and rules.
func (e *Engine) Validate(snap *domain.Snapshot, sol *domain.Solution) (domain.ScheduleReport, error) {
	return e.parts(snap, e.config).checker.CheckSchedule(sol, snap.Date)
}
