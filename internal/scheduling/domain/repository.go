package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RoomSchedule pairs a room with its already-persisted assignments.
type RoomSchedule struct {
	Room        OperatingRoom
	Assignments []Assignment
}

// AssignmentChangeSet is the unit the engine persists: the full set of
// assignments for a date plus the surgeries left pending. The facade
// persists a change set atomically or not at all.
type AssignmentChangeSet struct {
	Date       time.Time
	Upserts    []Assignment
	Unplaced   []uuid.UUID
	RemovedIDs []uuid.UUID
}

// SchedulingRepository is the persistence collaborator the engine consumes.
// Implementations own transactions; PersistAssignments resolves concurrent
// writers through optimistic concurrency on the version token and returns
// ErrConflict for the loser.
type SchedulingRepository interface {
	ListPendingSurgeries(ctx context.Context, dateRange DateRange) ([]Surgery, error)
	ListScheduledSurgeries(ctx context.Context, dateRange DateRange) ([]Surgery, error)
	ListRoomsWithSchedules(ctx context.Context, dateRange DateRange) ([]RoomSchedule, error)
	LoadSDSTSnapshot(ctx context.Context) (*SDSTMatrix, error)
	LoadRuleSet(ctx context.Context) ([]Rule, error)
	LoadStaffAndEquipment(ctx context.Context) ([]Staff, []Equipment, error)
	ListSurgeryTypes(ctx context.Context) ([]SurgeryType, error)

	// ScheduleVersion returns the current version token for a date.
	ScheduleVersion(ctx context.Context, date time.Time) (int64, error)

	// PersistAssignments commits a change set if version still matches,
	// returning the new version. Returns ErrConflict when a concurrent
	// writer won.
	PersistAssignments(ctx context.Context, changes AssignmentChangeSet, version int64) (int64, error)
}
