package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/theatro/theatro/internal/scheduling/application/services"
	"github.com/theatro/theatro/internal/scheduling/domain"
	"github.com/theatro/theatro/internal/scheduling/infrastructure/persistence"
	"github.com/theatro/theatro/internal/shared/infrastructure/outbox"
	"github.com/theatro/theatro/pkg/observability"
)

// passthroughUnitOfWork satisfies the unit of work contract without a
// database; commits and rollbacks are counted for assertions.
type passthroughUnitOfWork struct {
	commits   int
	rollbacks int
}

func (u *passthroughUnitOfWork) Begin(ctx context.Context) (context.Context, error) {
	return ctx, nil
}

func (u *passthroughUnitOfWork) Commit(context.Context) error {
	u.commits++
	return nil
}

func (u *passthroughUnitOfWork) Rollback(context.Context) error {
	u.rollbacks++
	return nil
}

// memoryOutbox collects staged messages in memory.
type memoryOutbox struct {
	mu       sync.Mutex
	messages []*outbox.Message
}

func (o *memoryOutbox) Save(_ context.Context, msg *outbox.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	return nil
}

func (o *memoryOutbox) SaveBatch(_ context.Context, msgs []*outbox.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msgs...)
	return nil
}

func (o *memoryOutbox) GetUnpublished(context.Context, int) ([]*outbox.Message, error) {
	return nil, nil
}

func (o *memoryOutbox) MarkPublished(context.Context, int64) error { return nil }

func (o *memoryOutbox) MarkFailed(context.Context, int64, string, time.Time) error { return nil }

func (o *memoryOutbox) DeleteOld(context.Context, int) (int64, error) { return 0, nil }

func (o *memoryOutbox) saved() []*outbox.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*outbox.Message(nil), o.messages...)
}

// conflictingRepo fails the first n persist calls with ErrConflict, then
// delegates. It simulates losing the optimistic concurrency race.
type conflictingRepo struct {
	domain.SchedulingRepository
	mu       sync.Mutex
	failures int
	calls    int
}

func (r *conflictingRepo) PersistAssignments(ctx context.Context, changes domain.AssignmentChangeSet, version int64) (int64, error) {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.failures
	r.mu.Unlock()
	if fail {
		return 0, fmt.Errorf("%w: injected", domain.ErrConflict)
	}
	return r.SchedulingRepository.PersistAssignments(ctx, changes, version)
}

var (
	testRoomID    = uuid.MustParse("0a000000-0000-0000-0000-000000000001")
	testTypeID    = uuid.MustParse("10000000-0000-0000-0000-000000000001")
	testSurgeryA  = uuid.MustParse("20000000-0000-0000-0000-000000000001")
	testSurgeryB  = uuid.MustParse("20000000-0000-0000-0000-000000000002")
	testEmergency = uuid.MustParse("20000000-0000-0000-0000-00000000000e")
	testActorID   = uuid.MustParse("30000000-0000-0000-0000-000000000001")
)

func testDate() time.Time {
	return time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
}

func seededRepo(t *testing.T, roomStatus domain.RoomStatus) *persistence.MemoryRepository {
	t.Helper()

	matrix, err := domain.NewSDSTMatrix([]domain.SDSTEntry{
		{FromTypeID: domain.NoneType, ToTypeID: testTypeID, Minutes: 15},
		{FromTypeID: testTypeID, ToTypeID: testTypeID, Minutes: 10},
	}, 30)
	require.NoError(t, err)

	repo := persistence.NewMemoryRepository()
	repo.Seed(
		[]domain.OperatingRoom{{
			ID:          testRoomID,
			Name:        "OR Alpha",
			Status:      roomStatus,
			OpenOffset:  8 * time.Hour,
			CloseOffset: 17 * time.Hour,
		}},
		[]domain.Surgery{
			{ID: testSurgeryA, TypeID: testTypeID, Duration: 90 * time.Minute, Status: domain.SurgeryStatusPending},
			{ID: testSurgeryB, TypeID: testTypeID, Duration: 60 * time.Minute, Status: domain.SurgeryStatusPending},
		},
		[]domain.SurgeryType{{ID: testTypeID, Code: "GEN", Name: "General"}},
		nil, nil,
		matrix,
		nil,
	)
	return repo
}

type handlerEnv struct {
	repo    domain.SchedulingRepository
	gate    *services.RunGate
	outbox  *memoryOutbox
	uow     *passthroughUnitOfWork
	metrics *observability.InMemoryMetrics
}

func newEnv(repo domain.SchedulingRepository) *handlerEnv {
	return &handlerEnv{
		repo:    repo,
		gate:    services.NewRunGate(2),
		outbox:  &memoryOutbox{},
		uow:     &passthroughUnitOfWork{},
		metrics: observability.NewInMemoryMetrics(),
	}
}

func (e *handlerEnv) optimizeHandler(t *testing.T) *OptimizeScheduleHandler {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	config := services.DefaultEngineConfig()
	config.Tabu.MaxIterations = 20
	config.SoftTimeout = 5 * time.Second
	config.HardTimeout = 10 * time.Second
	return NewOptimizeScheduleHandler(
		e.repo,
		services.NewSnapshotLoader(e.repo, logger),
		services.NewEngine(config, logger),
		e.gate,
		e.outbox,
		e.uow,
		logger,
	).WithMetrics(e.metrics)
}

// shortBudgetOptimizeHandler runs the search with a soft budget that
// expires immediately, so every run comes back cancelled.
func (e *handlerEnv) shortBudgetOptimizeHandler(t *testing.T) *OptimizeScheduleHandler {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	config := services.DefaultEngineConfig()
	config.SoftTimeout = time.Nanosecond
	config.HardTimeout = 10 * time.Second
	return NewOptimizeScheduleHandler(
		e.repo,
		services.NewSnapshotLoader(e.repo, logger),
		services.NewEngine(config, logger),
		e.gate,
		e.outbox,
		e.uow,
		logger,
	).WithMetrics(e.metrics)
}

func (e *handlerEnv) emergencyHandler(t *testing.T) *InsertEmergencyHandler {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	config := services.DefaultEngineConfig()
	config.SoftTimeout = 5 * time.Second
	return NewInsertEmergencyHandler(
		e.repo,
		services.NewSnapshotLoader(e.repo, logger),
		services.NewEngine(config, logger),
		e.gate,
		e.outbox,
		e.uow,
		logger,
	).WithMetrics(e.metrics)
}
