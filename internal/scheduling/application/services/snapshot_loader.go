package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/theatro/theatro/internal/scheduling/domain"
)

// LoadedSchedule is the full state an engine run starts from: the world
// snapshot, the schedule as currently persisted, and its version token.
type LoadedSchedule struct {
	Snapshot *domain.Snapshot
	Current  *domain.Solution
	Version  int64
}

// SnapshotLoader assembles the per-run snapshot from the repository.
type SnapshotLoader struct {
	repo   domain.SchedulingRepository
	logger *slog.Logger
}

// NewSnapshotLoader creates a loader over a repository.
func NewSnapshotLoader(repo domain.SchedulingRepository, logger *slog.Logger) *SnapshotLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotLoader{repo: repo, logger: logger}
}

// Load reads everything an engine run needs for a date and freezes it into
// an immutable snapshot plus the current solution.
func (l *SnapshotLoader) Load(ctx context.Context, date time.Time) (*LoadedSchedule, error) {
	start := time.Now()
	dateRange := domain.DateRange{Start: date, End: date}

	pending, err := l.repo.ListPendingSurgeries(ctx, dateRange)
	if err != nil {
		return nil, domain.NewRepositoryError("list pending surgeries", err)
	}
	scheduled, err := l.repo.ListScheduledSurgeries(ctx, dateRange)
	if err != nil {
		return nil, domain.NewRepositoryError("list scheduled surgeries", err)
	}
	schedules, err := l.repo.ListRoomsWithSchedules(ctx, dateRange)
	if err != nil {
		return nil, domain.NewRepositoryError("list room schedules", err)
	}
	sdst, err := l.repo.LoadSDSTSnapshot(ctx)
	if err != nil {
		return nil, domain.NewRepositoryError("load sdst matrix", err)
	}
	rules, err := l.repo.LoadRuleSet(ctx)
	if err != nil {
		return nil, domain.NewRepositoryError("load rule set", err)
	}
	staff, equipment, err := l.repo.LoadStaffAndEquipment(ctx)
	if err != nil {
		return nil, domain.NewRepositoryError("load staff and equipment", err)
	}
	types, err := l.repo.ListSurgeryTypes(ctx)
	if err != nil {
		return nil, domain.NewRepositoryError("list surgery types", err)
	}
	version, err := l.repo.ScheduleVersion(ctx, date)
	if err != nil {
		return nil, domain.NewRepositoryError("read schedule version", err)
	}

	rooms := make([]domain.OperatingRoom, 0, len(schedules))
	for _, rs := range schedules {
		rooms = append(rooms, rs.Room)
	}

	surgeries := append(append([]domain.Surgery(nil), pending...), scheduled...)
	snap, err := domain.NewSnapshot(date, rooms, surgeries, types, staff, equipment, sdst, rules)
	if err != nil {
		return nil, err
	}

	current := domain.NewSolution(surgeryIDs(pending))
	for _, rs := range schedules {
		for _, a := range rs.Assignments {
			current.Place(a)
		}
	}

	l.logger.Debug("snapshot loaded",
		"date", date.Format("2006-01-02"),
		"rooms", len(rooms),
		"pending", len(pending),
		"scheduled", len(scheduled),
		"rules", len(rules),
		"version", version,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &LoadedSchedule{Snapshot: snap, Current: current, Version: version}, nil
}

func surgeryIDs(surgeries []domain.Surgery) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(surgeries))
	for _, s := range surgeries {
		ids = append(ids, s.ID)
	}
	return ids
}
