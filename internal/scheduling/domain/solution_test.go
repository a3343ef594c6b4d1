package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	solRoomA    = uuid.MustParse("0aaaaaaa-0000-0000-0000-000000000001")
	solRoomB    = uuid.MustParse("0aaaaaaa-0000-0000-0000-000000000002")
	solTypeID   = uuid.MustParse("10000000-0000-0000-0000-000000000001")
	solSurgeryA = uuid.MustParse("20000000-0000-0000-0000-000000000001")
	solSurgeryB = uuid.MustParse("20000000-0000-0000-0000-000000000002")
	solSurgeryC = uuid.MustParse("20000000-0000-0000-0000-000000000003")
)

func solutionDay() time.Time {
	return time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
}

// chainedAssignment builds an assignment whose operation follows its setup
// and whose end follows a 90 minute procedure.
func chainedAssignment(surgeryID, roomID uuid.UUID, setupStart time.Time, setupMinutes int) Assignment {
	opStart := setupStart.Add(time.Duration(setupMinutes) * time.Minute)
	return Assignment{
		SurgeryID:           surgeryID,
		RoomID:              roomID,
		SetupStart:          setupStart,
		OperationStart:      opStart,
		End:                 opStart.Add(90 * time.Minute),
		AppliedSetupMinutes: setupMinutes,
	}
}

func TestNewSolutionStartsAllPending(t *testing.T) {
	sol := NewSolution([]uuid.UUID{solSurgeryB, solSurgeryA})

	assert.Equal(t, 2, sol.PendingCount())
	assert.Equal(t, 0, sol.AssignmentCount())
	// Pending order is deterministic regardless of input order.
	assert.Equal(t, []uuid.UUID{solSurgeryA, solSurgeryB}, sol.Pending())
}

func TestPlaceMovesSurgeryOutOfPending(t *testing.T) {
	sol := NewSolution([]uuid.UUID{solSurgeryA, solSurgeryB})
	day := solutionDay()

	a := chainedAssignment(solSurgeryA, solRoomA, day.Add(8*time.Hour), 15)
	sol.Place(a)

	assert.Equal(t, 1, sol.PendingCount())
	assert.Equal(t, []uuid.UUID{solSurgeryB}, sol.Pending())
	assert.Equal(t, 1, sol.AssignmentCount())

	found, roomID, idx, ok := sol.Find(solSurgeryA)
	require.True(t, ok)
	assert.Equal(t, solRoomA, roomID)
	assert.Equal(t, 0, idx)
	assert.Equal(t, a, found)
}

func TestUnplaceReturnsSurgeryToPending(t *testing.T) {
	sol := NewSolution([]uuid.UUID{solSurgeryA})
	day := solutionDay()
	sol.Place(chainedAssignment(solSurgeryA, solRoomA, day.Add(8*time.Hour), 15))

	require.True(t, sol.Unplace(solSurgeryA))

	assert.Equal(t, 0, sol.AssignmentCount())
	assert.Equal(t, []uuid.UUID{solSurgeryA}, sol.Pending())
	assert.Empty(t, sol.RoomIDs(), "empty room sequences are dropped")

	assert.False(t, sol.Unplace(solSurgeryA), "unplacing twice is a no-op")
	assert.Equal(t, 1, sol.PendingCount())
}

func TestSetRoomSequenceSortsBySetupStart(t *testing.T) {
	sol := NewSolution(nil)
	day := solutionDay()

	late := chainedAssignment(solSurgeryB, solRoomA, day.Add(11*time.Hour), 10)
	early := chainedAssignment(solSurgeryA, solRoomA, day.Add(8*time.Hour), 15)
	sol.SetRoomSequence(solRoomA, []Assignment{late, early})

	seq := sol.RoomSequence(solRoomA)
	require.Len(t, seq, 2)
	assert.Equal(t, solSurgeryA, seq[0].SurgeryID)
	assert.Equal(t, solSurgeryB, seq[1].SurgeryID)
}

func TestAssignmentsOrderIsDeterministic(t *testing.T) {
	sol := NewSolution(nil)
	day := solutionDay()

	sol.SetRoomSequence(solRoomB, []Assignment{
		chainedAssignment(solSurgeryC, solRoomB, day.Add(9*time.Hour), 30),
	})
	sol.SetRoomSequence(solRoomA, []Assignment{
		chainedAssignment(solSurgeryA, solRoomA, day.Add(8*time.Hour), 15),
		chainedAssignment(solSurgeryB, solRoomA, day.Add(10*time.Hour), 10),
	})

	all := sol.Assignments()
	require.Len(t, all, 3)
	assert.Equal(t, solSurgeryA, all[0].SurgeryID)
	assert.Equal(t, solSurgeryB, all[1].SurgeryID)
	assert.Equal(t, solSurgeryC, all[2].SurgeryID)
	assert.Equal(t, []uuid.UUID{solRoomA, solRoomB}, sol.RoomIDs())
}

func TestCloneIsIndependent(t *testing.T) {
	sol := NewSolution([]uuid.UUID{solSurgeryB})
	day := solutionDay()
	sol.Place(chainedAssignment(solSurgeryA, solRoomA, day.Add(8*time.Hour), 15))

	clone := sol.Clone()
	clone.Place(chainedAssignment(solSurgeryB, solRoomA, day.Add(10*time.Hour), 10))
	require.True(t, clone.Unplace(solSurgeryA))

	// The original is untouched by moves on the clone.
	assert.Equal(t, 1, sol.AssignmentCount())
	assert.Equal(t, []uuid.UUID{solSurgeryB}, sol.Pending())
	_, _, _, ok := sol.Find(solSurgeryA)
	assert.True(t, ok)

	assert.Equal(t, 1, clone.AssignmentCount())
	assert.Equal(t, []uuid.UUID{solSurgeryA}, clone.Pending())
}

func TestMakespanSpansEarliestSetupToLatestEnd(t *testing.T) {
	sol := NewSolution(nil)
	day := solutionDay()

	assert.Equal(t, time.Duration(0), sol.Makespan())

	// Room A: 08:00 setup, ends 09:45. Room B: 09:00 setup, ends 10:45.
	sol.SetRoomSequence(solRoomA, []Assignment{
		chainedAssignment(solSurgeryA, solRoomA, day.Add(8*time.Hour), 15),
	})
	sol.SetRoomSequence(solRoomB, []Assignment{
		chainedAssignment(solSurgeryB, solRoomB, day.Add(9*time.Hour), 15),
	})

	assert.Equal(t, 2*time.Hour+45*time.Minute, sol.Makespan())
}

func TestTotalSetupMinutesSumsAcrossRooms(t *testing.T) {
	sol := NewSolution(nil)
	day := solutionDay()

	sol.SetRoomSequence(solRoomA, []Assignment{
		chainedAssignment(solSurgeryA, solRoomA, day.Add(8*time.Hour), 15),
		chainedAssignment(solSurgeryB, solRoomA, day.Add(10*time.Hour), 10),
	})
	sol.SetRoomSequence(solRoomB, []Assignment{
		chainedAssignment(solSurgeryC, solRoomB, day.Add(9*time.Hour), 30),
	})

	assert.Equal(t, 55, sol.TotalSetupMinutes())
}

func TestCheckInvariantsAcceptsChainedSequence(t *testing.T) {
	matrix, err := NewSDSTMatrix([]SDSTEntry{
		{FromTypeID: NoneType, ToTypeID: solTypeID, Minutes: 15},
		{FromTypeID: solTypeID, ToTypeID: solTypeID, Minutes: 10},
	}, 30)
	require.NoError(t, err)

	surgeries := map[uuid.UUID]Surgery{
		solSurgeryA: {ID: solSurgeryA, TypeID: solTypeID, Duration: 90 * time.Minute},
		solSurgeryB: {ID: solSurgeryB, TypeID: solTypeID, Duration: 90 * time.Minute},
	}

	day := solutionDay()
	sol := NewSolution(nil)
	first := chainedAssignment(solSurgeryA, solRoomA, day.Add(8*time.Hour), 15)
	second := chainedAssignment(solSurgeryB, solRoomA, first.End, 10)
	sol.SetRoomSequence(solRoomA, []Assignment{first, second})

	assert.NoError(t, sol.CheckInvariants(surgeries, matrix))
}

func TestCheckInvariantsRejectsWrongSetup(t *testing.T) {
	matrix, err := NewSDSTMatrix([]SDSTEntry{
		{FromTypeID: NoneType, ToTypeID: solTypeID, Minutes: 15},
	}, 30)
	require.NoError(t, err)

	surgeries := map[uuid.UUID]Surgery{
		solSurgeryA: {ID: solSurgeryA, TypeID: solTypeID, Duration: 90 * time.Minute},
	}

	day := solutionDay()
	sol := NewSolution(nil)
	// First of the sequence must carry the initial setup of 15, not 10.
	sol.SetRoomSequence(solRoomA, []Assignment{
		chainedAssignment(solSurgeryA, solRoomA, day.Add(8*time.Hour), 10),
	})

	err = sol.CheckInvariants(surgeries, matrix)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestCheckInvariantsRejectsOverlap(t *testing.T) {
	matrix, err := NewSDSTMatrix([]SDSTEntry{
		{FromTypeID: NoneType, ToTypeID: solTypeID, Minutes: 15},
		{FromTypeID: solTypeID, ToTypeID: solTypeID, Minutes: 10},
	}, 30)
	require.NoError(t, err)

	surgeries := map[uuid.UUID]Surgery{
		solSurgeryA: {ID: solSurgeryA, TypeID: solTypeID, Duration: 90 * time.Minute},
		solSurgeryB: {ID: solSurgeryB, TypeID: solTypeID, Duration: 90 * time.Minute},
	}

	day := solutionDay()
	sol := NewSolution(nil)
	first := chainedAssignment(solSurgeryA, solRoomA, day.Add(8*time.Hour), 15)
	// Second setup starts before the first assignment releases the room.
	second := chainedAssignment(solSurgeryB, solRoomA, first.End.Add(-30*time.Minute), 10)
	sol.SetRoomSequence(solRoomA, []Assignment{first, second})

	err = sol.CheckInvariants(surgeries, matrix)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestCheckInvariantsRejectsUnknownSurgery(t *testing.T) {
	matrix, err := NewSDSTMatrix(nil, 30)
	require.NoError(t, err)

	day := solutionDay()
	sol := NewSolution(nil)
	sol.SetRoomSequence(solRoomA, []Assignment{
		chainedAssignment(solSurgeryA, solRoomA, day.Add(8*time.Hour), 30),
	})

	err = sol.CheckInvariants(map[uuid.UUID]Surgery{}, matrix)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}
