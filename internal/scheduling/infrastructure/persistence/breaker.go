package persistence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/theatro/theatro/internal/scheduling/domain"
)

// BreakerRepository wraps a SchedulingRepository with a circuit breaker so
// a struggling database sheds engine load fast instead of queueing runs
// behind timeouts. Domain-level outcomes (ErrConflict) do not trip it.
type BreakerRepository struct {
	inner   domain.SchedulingRepository
	breaker *gobreaker.CircuitBreaker[any]
}

// NewBreakerRepository wraps a repository with a circuit breaker.
func NewBreakerRepository(inner domain.SchedulingRepository, logger *slog.Logger) *BreakerRepository {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:    "scheduling-repository",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// A lost optimistic concurrency race is a healthy database.
			return err == nil || errors.Is(err, domain.ErrConflict)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("repository circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerRepository{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

func (r *BreakerRepository) execute(op string, fn func() (any, error)) (any, error) {
	result, err := r.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domain.NewRepositoryError(op, err)
	}
	return result, err
}

func (r *BreakerRepository) ListPendingSurgeries(ctx context.Context, dateRange domain.DateRange) ([]domain.Surgery, error) {
	result, err := r.execute("list pending surgeries", func() (any, error) {
		return r.inner.ListPendingSurgeries(ctx, dateRange)
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Surgery), nil
}

func (r *BreakerRepository) ListScheduledSurgeries(ctx context.Context, dateRange domain.DateRange) ([]domain.Surgery, error) {
	result, err := r.execute("list scheduled surgeries", func() (any, error) {
		return r.inner.ListScheduledSurgeries(ctx, dateRange)
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Surgery), nil
}

func (r *BreakerRepository) ListRoomsWithSchedules(ctx context.Context, dateRange domain.DateRange) ([]domain.RoomSchedule, error) {
	result, err := r.execute("list room schedules", func() (any, error) {
		return r.inner.ListRoomsWithSchedules(ctx, dateRange)
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.RoomSchedule), nil
}

func (r *BreakerRepository) LoadSDSTSnapshot(ctx context.Context) (*domain.SDSTMatrix, error) {
	result, err := r.execute("load sdst matrix", func() (any, error) {
		return r.inner.LoadSDSTSnapshot(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.SDSTMatrix), nil
}

func (r *BreakerRepository) LoadRuleSet(ctx context.Context) ([]domain.Rule, error) {
	result, err := r.execute("load rule set", func() (any, error) {
		return r.inner.LoadRuleSet(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Rule), nil
}

func (r *BreakerRepository) LoadStaffAndEquipment(ctx context.Context) ([]domain.Staff, []domain.Equipment, error) {
	type pair struct {
		staff     []domain.Staff
		equipment []domain.Equipment
	}
	result, err := r.execute("load staff and equipment", func() (any, error) {
		staff, equipment, err := r.inner.LoadStaffAndEquipment(ctx)
		return pair{staff: staff, equipment: equipment}, err
	})
	if err != nil {
		return nil, nil, err
	}
	p := result.(pair)
	return p.staff, p.equipment, nil
}

func (r *BreakerRepository) ListSurgeryTypes(ctx context.Context) ([]domain.SurgeryType, error) {
	result, err := r.execute("list surgery types", func() (any, error) {
		return r.inner.ListSurgeryTypes(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.SurgeryType), nil
}

func (r *BreakerRepository) ScheduleVersion(ctx context.Context, date time.Time) (int64, error) {
	result, err := r.execute("read schedule version", func() (any, error) {
		return r.inner.ScheduleVersion(ctx, date)
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

func (r *BreakerRepository) PersistAssignments(ctx context.Context, changes domain.AssignmentChangeSet, version int64) (int64, error) {
	result, err := r.execute("persist assignments", func() (any, error) {
		return r.inner.PersistAssignments(ctx, changes, version)
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

