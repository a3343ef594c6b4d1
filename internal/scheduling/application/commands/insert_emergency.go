package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/theatro/theatro/internal/scheduling/application/services"
	"github.com/theatro/theatro/internal/scheduling/domain"
	sharedApplication "github.com/theatro/theatro/internal/shared/application"
	sharedDomain "github.com/theatro/theatro/internal/shared/domain"
	"github.com/theatro/theatro/internal/shared/infrastructure/outbox"
	"github.com/theatro/theatro/pkg/observability"
)

// InsertEmergencyCommand requests insertion of an arriving emergency into
// the live schedule for its arrival date. The Allow flags pick which rungs
// of the strategy ladder this request may use; fitting into an existing
// gap is always permitted.
type InsertEmergencyCommand struct {
	Surgery domain.Surgery
	Now     time.Time
	ActorID uuid.UUID

	AllowBumping     bool
	AllowOvertime    bool
	AllowBackupRooms bool
}

// InsertEmergencyResult reports how the emergency was handled.
type InsertEmergencyResult struct {
	RunID           uuid.UUID
	Strategy        services.EmergencyStrategy
	Assignment      *domain.Assignment
	BumpedIDs       []uuid.UUID
	DelayedIDs      []uuid.UUID
	WaitMinutes     int
	OvertimeMinutes float64
	DisruptionScore float64
	ManualReason    string
	ScheduleVersion int64
}

// InsertEmergencyHandler handles the InsertEmergencyCommand.
type InsertEmergencyHandler struct {
	repo       domain.SchedulingRepository
	loader     *services.SnapshotLoader
	engine     *services.Engine
	gate       *services.RunGate
	outboxRepo outbox.Repository
	uow        sharedApplication.UnitOfWork
	logger     *slog.Logger
	metrics    observability.Metrics
}

// NewInsertEmergencyHandler creates a new InsertEmergencyHandler.
func NewInsertEmergencyHandler(
	repo domain.SchedulingRepository,
	loader *services.SnapshotLoader,
	engine *services.Engine,
	gate *services.RunGate,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	logger *slog.Logger,
) *InsertEmergencyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InsertEmergencyHandler{
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
func (h *InsertEmergencyHandler) WithMetrics(m observability.Metrics) *InsertEmergencyHandler {
	if m != nil {
		h.metrics = m
	}
	return h
}

// Handle executes the InsertEmergencyCommand. A manual escalation commits
// nothing and returns StrategyManual; callers page a coordinator instead of
// treating it as a failure.
func (h *InsertEmergencyHandler) Handle(ctx context.Context, cmd InsertEmergencyCommand) (*InsertEmergencyResult, error) {
	if err := cmd.Surgery.Validate(); err != nil {
		return nil, err
	}
	if cmd.Now.IsZero() {
		cmd.Now = time.Now()
	}

	release, err := h.gate.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	runID := uuid.New()

	loaded, err := h.loader.Load(ctx, cmd.Now)
	if err != nil {
		return nil, err
	}

	// The arriving emergency is not part of the persisted snapshot yet.
	snap, err := snapshotWith(loaded.Snapshot, cmd.Surgery)
	if err != nil {
		return nil, err
	}

	inserted, err := h.engine.InsertEmergency(ctx, snap, cmd.Surgery, loaded.Current, cmd.Now, services.EmergencyOptions{
		AllowBumping:     cmd.AllowBumping,
		AllowOvertime:    cmd.AllowOvertime,
		AllowBackupRooms: cmd.AllowBackupRooms,
	})
	if err != nil {
		return nil, err
	}

	result := &InsertEmergencyResult{
		RunID:           runID,
		Strategy:        inserted.Strategy,
		Assignment:      inserted.Assignment,
		BumpedIDs:       inserted.BumpedIDs,
		DelayedIDs:      inserted.DelayedIDs,
		WaitMinutes:     inserted.WaitMinutes,
		OvertimeMinutes: inserted.OvertimeMinutes,
		DisruptionScore: inserted.DisruptionScore,
		ManualReason:    inserted.ManualReason,
		ScheduleVersion: loaded.Version,
	}

	if inserted.Strategy == services.StrategyManual {
		h.metrics.Counter(observability.MetricEmergencyEscalated, 1)
		h.logger.Warn("emergency escalated to manual handling",
			"surgery_id", cmd.Surgery.ID, "reason", inserted.ManualReason)
		return result, nil
	}

	changes := buildChangeSet(snap.Date, loaded.Current, inserted.Solution)

	err = sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		version, err := h.repo.PersistAssignments(txCtx, changes, loaded.Version)
		if err != nil {
			return err
		}
		result.ScheduleVersion = version

		events, err := h.buildEvents(runID, cmd, inserted, loaded.Current)
		if err != nil {
			return err
		}
		sharedApplication.ApplyEventMetadata(events, sharedApplication.NewEventMetadata(cmd.ActorID))

		msgs := make([]*outbox.Message, 0, len(events))
		for _, event := range events {
			msg, err := outbox.NewMessage(event)
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		return h.outboxRepo.SaveBatch(txCtx, msgs)
	})
	if err != nil {
		return nil, err
	}

	h.metrics.Counter(observability.MetricEmergencies, 1,
		observability.T("strategy", string(result.Strategy)))
	h.metrics.Counter(observability.MetricEmergencyBumps, int64(len(result.BumpedIDs)))
	h.metrics.Histogram(observability.MetricEmergencyWait, float64(result.WaitMinutes))
	if result.OvertimeMinutes > 0 {
		h.metrics.Gauge(observability.MetricOvertimeMinutes, result.OvertimeMinutes)
	}

	h.logger.Info("emergency committed",
		"run_id", runID,
		"surgery_id", cmd.Surgery.ID,
		"strategy", result.Strategy,
		"wait_minutes", result.WaitMinutes,
		"disruption", result.DisruptionScore,
		"version", result.ScheduleVersion,
	)
	return result, nil
}

func (h *InsertEmergencyHandler) buildEvents(runID uuid.UUID, cmd InsertEmergencyCommand, inserted services.EmergencyResult, before *domain.Solution) ([]sharedDomain.DomainEvent, error) {
	if inserted.Assignment == nil {
		return nil, fmt.Errorf("%w: committed strategy %s without assignment",
			domain.ErrInvariantViolation, inserted.Strategy)
	}
	a := inserted.Assignment

	events := []sharedDomain.DomainEvent{}
	insertedEvent := domain.NewEmergencyInserted(
		runID, cmd.Surgery.ID, a.RoomID,
		a.OperationStart, a.End,
		string(inserted.Strategy), inserted.BumpedIDs, inserted.DisruptionScore,
	)
	events = append(events, &insertedEvent)

	for _, bumpedID := range inserted.BumpedIDs {
		fromRoom := uuid.Nil
		if _, roomID, _, ok := before.Find(bumpedID); ok {
			fromRoom = roomID
		}
		rescheduled := false
		var newRoom *uuid.UUID
		var newStart *time.Time
		if na, roomID, _, ok := inserted.Solution.Find(bumpedID); ok {
			rescheduled = true
			newRoom = &roomID
			start := na.OperationStart
			newStart = &start
		}
		bumpedEvent := domain.NewSurgeryBumped(runID, bumpedID, fromRoom, rescheduled, newRoom, newStart)
		events = append(events, &bumpedEvent)
	}
	return events, nil
}

// snapshotWith rebuilds a snapshot with an extra surgery added.
func snapshotWith(snap *domain.Snapshot, extra domain.Surgery) (*domain.Snapshot, error) {
	surgeries := make([]domain.Surgery, 0, len(snap.Surgeries)+1)
	for _, s := range snap.Surgeries {
		surgeries = append(surgeries, s)
	}
	surgeries = append(surgeries, extra)

	rooms := make([]domain.OperatingRoom, 0, len(snap.Rooms))
	for _, r := range snap.Rooms {
		rooms = append(rooms, r)
	}
	types := make([]domain.SurgeryType, 0, len(snap.Types))
	for _, t := range snap.Types {
		types = append(types, t)
	}
	staff := make([]domain.Staff, 0, len(snap.Staff))
	for _, m := range snap.Staff {
		staff = append(staff, m)
	}
	equipment := make([]domain.Equipment, 0, len(snap.Equipment))
	for _, e := range snap.Equipment {
		equipment = append(equipment, e)
	}
	return domain.NewSnapshot(snap.Date, rooms, surgeries, types, staff, equipment, snap.SDST, snap.Rules)
}
