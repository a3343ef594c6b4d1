package commands

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/theatro/theatro/internal/scheduling/application/services"
	"github.com/theatro/theatro/internal/scheduling/domain"
	sharedApplication "github.com/theatro/theatro/internal/shared/application"
	sharedDomain "github.com/theatro/theatro/internal/shared/domain"
	"github.com/theatro/theatro/internal/shared/infrastructure/outbox"
	"github.com/theatro/theatro/pkg/observability"
)

// conflictRetries bounds how often a run is replayed after losing an
// optimistic concurrency race.
const conflictRetries = 3

// OptimizeScheduleCommand requests an optimization run for a date.
type OptimizeScheduleCommand struct {
	Date    time.Time
	ActorID uuid.UUID

	// Overrides narrow this run's search configuration; unset fields fall
	// back to the engine defaults.
	Overrides services.RunOverrides

	// AcceptPartial commits the best-so-far schedule of a run that was cut
	// short by its time budget or by cancellation. Without it a cancelled
	// run returns its result but persists nothing.
	AcceptPartial bool
}

// OptimizeScheduleResult reports the outcome of a run. Persisted is false
// when a cancelled run's partial result was returned without committing.
type OptimizeScheduleResult struct {
	RunID           uuid.UUID
	Date            time.Time
	AssignedCount   int
	PendingCount    int
	Cost            float64
	Breakdown       services.Breakdown
	Iterations      int
	Improved        bool
	Cancelled       bool
	Persisted       bool
	ScheduleVersion int64
	Assignments     []domain.Assignment
	Pending         []uuid.UUID
	Duration        time.Duration
}

// OptimizeScheduleHandler handles the OptimizeScheduleCommand.
type OptimizeScheduleHandler struct {
	repo       domain.SchedulingRepository
	loader     *services.SnapshotLoader
	engine     *services.Engine
	gate       *services.RunGate
	outboxRepo outbox.Repository
	uow        sharedApplication.UnitOfWork
	logger     *slog.Logger
	metrics    observability.Metrics
}

// NewOptimizeScheduleHandler creates a new OptimizeScheduleHandler.
func NewOptimizeScheduleHandler(
	repo domain.SchedulingRepository,
	loader *services.SnapshotLoader,
	engine *services.Engine,
	gate *services.RunGate,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	logger *slog.Logger,
) *OptimizeScheduleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OptimizeScheduleHandler{
		repo:       repo,
		loader:     loader,
		engine:     engine,
		gate:       gate,
		outboxRepo: outboxRepo,
		uow:        uow,
		logger:     logger,
		metrics:    observability.NoopMetrics{},
	}
}

// WithMetrics replaces the handler's metrics collector.
func (h *OptimizeScheduleHandler) WithMetrics(m observability.Metrics) *OptimizeScheduleHandler {
	if m != nil {
		h.metrics = m
	}
	return h
}

// Handle executes the OptimizeScheduleCommand. A run that loses the
// optimistic concurrency race replays against fresh state a bounded number
// of times before surfacing ErrConflict.
func (h *OptimizeScheduleHandler) Handle(ctx context.Context, cmd OptimizeScheduleCommand) (*OptimizeScheduleResult, error) {
	release, err := h.gate.Acquire()
	if err != nil {
		h.metrics.Counter(observability.MetricRunsRejected, 1)
		return nil, err
	}
	defer release()
	h.metrics.Counter(observability.MetricRunsStarted, 1)

	if hard := h.engine.Config().HardTimeout; hard > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hard)
		defer cancel()
	}

	var result *OptimizeScheduleResult
	operation := func() error {
		run, err := h.runOnce(ctx, cmd)
		if err != nil {
			if errors.Is(err, domain.ErrConflict) {
				h.logger.Warn("optimization lost concurrency race, replaying",
					"date", cmd.Date.Format("2006-01-02"))
				return err
			}
			return backoff.Permanent(err)
		}
		result = run
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), conflictRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return result, nil
}

func (h *OptimizeScheduleHandler) runOnce(ctx context.Context, cmd OptimizeScheduleCommand) (*OptimizeScheduleResult, error) {
	start := time.Now()
	runID := uuid.New()

	loaded, err := h.loader.Load(ctx, cmd.Date)
	if err != nil {
		return nil, err
	}

	optimized, err := h.engine.Optimize(ctx, loaded.Snapshot, loaded.Current, cmd.Overrides)
	if err != nil {
		return nil, err
	}

	// A run cut short holds a partial result; it goes back to the caller
	// but is only committed on explicit request.
	if optimized.Cancelled && !cmd.AcceptPartial {
		h.logger.Warn("optimization cancelled, partial result not persisted",
			"run_id", runID,
			"date", cmd.Date.Format("2006-01-02"),
			"iterations", optimized.Iterations,
		)
		return &OptimizeScheduleResult{
			RunID:           runID,
			Date:            cmd.Date,
			AssignedCount:   optimized.Solution.AssignmentCount(),
			PendingCount:    optimized.Solution.PendingCount(),
			Cost:            optimized.Cost,
			Breakdown:       optimized.Breakdown,
			Iterations:      optimized.Iterations,
			Improved:        optimized.Improved,
			Cancelled:       true,
			Persisted:       false,
			ScheduleVersion: loaded.Version,
			Assignments:     optimized.Solution.Assignments(),
			Pending:         optimized.Solution.Pending(),
			Duration:        time.Since(start),
		}, nil
	}

	changes := buildChangeSet(cmd.Date, loaded.Current, optimized.Solution)

	var result *OptimizeScheduleResult
	err = sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		version, err := h.repo.PersistAssignments(txCtx, changes, loaded.Version)
		if err != nil {
			return err
		}

		event := domain.NewScheduleOptimized(
			runID, cmd.Date,
			optimized.Solution.AssignmentCount(), optimized.Solution.PendingCount(),
			optimized.Iterations, optimized.Solution.TotalSetupMinutes(),
			optimized.Cancelled, version,
		)
		sharedApplication.ApplyEventMetadata(
			[]sharedDomain.DomainEvent{&event},
			sharedApplication.NewEventMetadata(cmd.ActorID))
		msg, err := outbox.NewMessage(&event)
		if err != nil {
			return err
		}
		if err := h.outboxRepo.Save(txCtx, msg); err != nil {
			return err
		}

		result = &OptimizeScheduleResult{
			RunID:           runID,
			Date:            cmd.Date,
			AssignedCount:   optimized.Solution.AssignmentCount(),
			PendingCount:    optimized.Solution.PendingCount(),
			Cost:            optimized.Cost,
			Breakdown:       optimized.Breakdown,
			Iterations:      optimized.Iterations,
			Improved:        optimized.Improved,
			Cancelled:       optimized.Cancelled,
			Persisted:       true,
			ScheduleVersion: version,
			Assignments:     optimized.Solution.Assignments(),
			Pending:         optimized.Solution.Pending(),
			Duration:        time.Since(start),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.metrics.Counter(observability.MetricRunsCommitted, 1)
	h.metrics.Timing(observability.MetricRunDuration, result.Duration)
	h.metrics.Histogram(observability.MetricRunCost, result.Cost)
	h.metrics.Gauge(observability.MetricSurgeriesPlaced, float64(result.AssignedCount))
	h.metrics.Gauge(observability.MetricSurgeriesPending, float64(result.PendingCount))
	h.metrics.Gauge(observability.MetricSetupMinutes, float64(optimized.Solution.TotalSetupMinutes()))

	h.logger.Info("optimization run committed",
		"run_id", runID,
		"date", cmd.Date.Format("2006-01-02"),
		"assigned", result.AssignedCount,
		"pending", result.PendingCount,
		"cost", result.Cost,
		"iterations", result.Iterations,
		"cancelled", result.Cancelled,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// buildChangeSet diffs the persisted schedule against the engine's output.
func buildChangeSet(date time.Time, before, after *domain.Solution) domain.AssignmentChangeSet {
	placedAfter := make(map[uuid.UUID]bool, after.AssignmentCount())
	for _, a := range after.Assignments() {
		placedAfter[a.SurgeryID] = true
	}

	var removed []uuid.UUID
	if before != nil {
		for _, a := range before.Assignments() {
			if !placedAfter[a.SurgeryID] {
				removed = append(removed, a.SurgeryID)
			}
		}
	}

	return domain.AssignmentChangeSet{
		Date:       date,
		Upserts:    after.Assignments(),
		Unplaced:   after.Pending(),
		RemovedIDs: removed,
	}
}
