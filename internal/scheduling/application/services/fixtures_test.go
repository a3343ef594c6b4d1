package services

import (
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/theatro/theatro/internal/scheduling/domain"
)

// Fixed IDs keep tie-breaking deterministic across test runs.
var (
	roomAlphaID = uuid.MustParse("0a000000-0000-0000-0000-000000000001")
	roomBetaID  = uuid.MustParse("0b000000-0000-0000-0000-000000000002")
	roomGammaID = uuid.MustParse("0c000000-0000-0000-0000-000000000003")

	typeOrtho   = uuid.MustParse("10000000-0000-0000-0000-000000000001")
	typeCardiac = uuid.MustParse("10000000-0000-0000-0000-000000000002")
	typeGeneral = uuid.MustParse("10000000-0000-0000-0000-000000000003")

	surgeonLeeID  = uuid.MustParse("20000000-0000-0000-0000-000000000001")
	surgeonKimID  = uuid.MustParse("20000000-0000-0000-0000-000000000002")
	nurseParkID   = uuid.MustParse("20000000-0000-0000-0000-000000000003")
	cArmID        = uuid.MustParse("30000000-0000-0000-0000-000000000001")
	bypassPumpID  = uuid.MustParse("30000000-0000-0000-0000-000000000002")
)

func testDate() time.Time {
	return time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
}

func at(hour, minute int) time.Time {
	return testDate().Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func window(fromHour, fromMin, toHour, toMin int) domain.TimeRange {
	return domain.TimeRange{Start: at(fromHour, fromMin), End: at(toHour, toMin)}
}

type fixture struct {
	rooms     []domain.OperatingRoom
	surgeries []domain.Surgery
	staff     []domain.Staff
	equipment []domain.Equipment
	entries   []domain.SDSTEntry
	rules     []domain.Rule
	setupDflt int
}

// defaultFixture is two standard rooms open 08:00-17:00 with a small SDST
// matrix: same-type transitions are cheap, ortho<->cardiac are expensive.
func defaultFixture() fixture {
	return fixture{
		rooms: []domain.OperatingRoom{
			{ID: roomAlphaID, Name: "OR-A", Status: domain.RoomStatusActive, OpenOffset: 8 * time.Hour, CloseOffset: 17 * time.Hour},
			{ID: roomBetaID, Name: "OR-B", Status: domain.RoomStatusActive, OpenOffset: 8 * time.Hour, CloseOffset: 17 * time.Hour},
		},
		entries: []domain.SDSTEntry{
			{FromTypeID: domain.NoneType, ToTypeID: typeOrtho, Minutes: 15},
			{FromTypeID: domain.NoneType, ToTypeID: typeCardiac, Minutes: 20},
			{FromTypeID: domain.NoneType, ToTypeID: typeGeneral, Minutes: 10},
			{FromTypeID: typeOrtho, ToTypeID: typeOrtho, Minutes: 10},
			{FromTypeID: typeCardiac, ToTypeID: typeCardiac, Minutes: 15},
			{FromTypeID: typeOrtho, ToTypeID: typeCardiac, Minutes: 45},
			{FromTypeID: typeCardiac, ToTypeID: typeOrtho, Minutes: 40},
			{FromTypeID: typeGeneral, ToTypeID: typeGeneral, Minutes: 10},
		},
		setupDflt: 30,
	}
}

func (f fixture) snapshot(t *testing.T) *domain.Snapshot {
	t.Helper()
	types := []domain.SurgeryType{
		{ID: typeOrtho, Code: "ORTH", Name: "Orthopedic"},
		{ID: typeCardiac, Code: "CARD", Name: "Cardiac"},
		{ID: typeGeneral, Code: "GEN", Name: "General"},
	}
	sdst, err := domain.NewSDSTMatrix(f.entries, f.setupDflt)
	require.NoError(t, err)
	snap, err := domain.NewSnapshot(testDate(), f.rooms, f.surgeries, types, f.staff, f.equipment, sdst, f.rules)
	require.NoError(t, err)
	return snap
}

type engineParts struct {
	snap      *domain.Snapshot
	checker   *FeasibilityChecker
	builder   *ScheduleBuilder
	evaluator *Evaluator
}

func (f fixture) engine(t *testing.T, opts CheckOptions) engineParts {
	t.Helper()
	snap := f.snapshot(t)
	logger := slog.New(slog.DiscardHandler)
	checker := NewFeasibilityChecker(snap, opts, logger)
	return engineParts{
		snap:      snap,
		checker:   checker,
		builder:   NewScheduleBuilder(snap, checker, logger),
		evaluator: NewEvaluator(snap, DefaultWeights()),
	}
}

func surgery(id string, typeID uuid.UUID, minutes int) domain.Surgery {
	return domain.Surgery{
		ID:       uuid.MustParse(id),
		TypeID:   typeID,
		Duration: time.Duration(minutes) * time.Minute,
		Urgency:  domain.UrgencyScheduled,
		Priority: 1,
		Status:   domain.SurgeryStatusPending,
	}
}

func placementAt(s domain.Surgery, room domain.OperatingRoom, start time.Time, setupMinutes int) domain.Placement {
	return domain.Placement{Surgery: s, Room: room, SetupStart: start, SetupMinutes: setupMinutes}
}
