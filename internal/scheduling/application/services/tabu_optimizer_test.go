package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theatro/theatro/internal/scheduling/domain"
)

func newOptimizer(t *testing.T, parts engineParts, config TabuConfig) *TabuOptimizer {
	t.Helper()
	return NewTabuOptimizer(parts.snap, parts.builder, parts.checker, parts.evaluator,
		config, slog.New(slog.DiscardHandler))
}

func TestOptimizeReducesSetupByGroupingTypes(t *testing.T) {
	f := defaultFixture()
	f.rooms = f.rooms[:1]
	o1 := surgery("40000000-0000-0000-0000-000000000001", typeOrtho, 60)
	c1 := surgery("40000000-0000-0000-0000-000000000002", typeCardiac, 60)
	o2 := surgery("40000000-0000-0000-0000-000000000003", typeOrtho, 60)
	c2 := surgery("40000000-0000-0000-0000-000000000004", typeCardiac, 60)
	f.surgeries = []domain.Surgery{o1, c1, o2, c2}
	parts := f.engine(t, DefaultCheckOptions())

	// Alternating types maximizes the expensive ortho<->cardiac changeovers.
	sol := domain.NewSolution(nil)
	_, err := parts.builder.RecomputeRoom(roomAlphaID, []uuid.UUID{o1.ID, c1.ID, o2.ID, c2.ID}, sol, time.Time{})
	require.NoError(t, err)
	initialCost := parts.evaluator.Cost(sol)

	optimizer := newOptimizer(t, parts, DefaultTabuConfig())
	result, err := optimizer.Optimize(context.Background(), sol)
	require.NoError(t, err)

	assert.True(t, result.Improved)
	assert.Less(t, result.Cost, initialCost)
	assert.Equal(t, 4, result.Solution.AssignmentCount())
	require.NoError(t, result.Solution.CheckInvariants(parts.snap.Surgeries, parts.snap.SDST))
}

func TestOptimizePlacesPendingSurgeries(t *testing.T) {
	f := defaultFixture()
	a := surgery("40000000-0000-0000-0000-000000000001", typeOrtho, 60)
	b := surgery("40000000-0000-0000-0000-000000000002", typeOrtho, 60)
	f.surgeries = []domain.Surgery{a, b}
	parts := f.engine(t, DefaultCheckOptions())

	sol := domain.NewSolution([]uuid.UUID{b.ID})
	sol.Place(placementAt(a, parts.snap.Rooms[roomAlphaID], at(8, 0), 15).ToAssignment())

	optimizer := newOptimizer(t, parts, DefaultTabuConfig())
	result, err := optimizer.Optimize(context.Background(), sol)
	require.NoError(t, err)

	assert.Zero(t, result.Solution.PendingCount())
	assert.Equal(t, 2, result.Solution.AssignmentCount())
}

func TestOptimizeIsDeterministic(t *testing.T) {
	f := defaultFixture()
	f.surgeries = []domain.Surgery{
		surgery("40000000-0000-0000-0000-000000000001", typeOrtho, 90),
		surgery("40000000-0000-0000-0000-000000000002", typeCardiac, 60),
		surgery("40000000-0000-0000-0000-000000000003", typeGeneral, 75),
		surgery("40000000-0000-0000-0000-000000000004", typeOrtho, 45),
	}
	parts := f.engine(t, DefaultCheckOptions())

	initial, err := parts.builder.InitialSolution()
	require.NoError(t, err)

	optimizer := newOptimizer(t, parts, DefaultTabuConfig())
	first, err := optimizer.Optimize(context.Background(), initial)
	require.NoError(t, err)
	second, err := optimizer.Optimize(context.Background(), initial)
	require.NoError(t, err)

	assert.Equal(t, first.Cost, second.Cost)
	assert.Equal(t, first.Solution.Assignments(), second.Solution.Assignments())
}

func TestOptimizeDoesNotMutateInput(t *testing.T) {
	f := defaultFixture()
	f.surgeries = []domain.Surgery{
		surgery("40000000-0000-0000-0000-000000000001", typeOrtho, 60),
		surgery("40000000-0000-0000-0000-000000000002", typeCardiac, 60),
	}
	parts := f.engine(t, DefaultCheckOptions())

	initial, err := parts.builder.InitialSolution()
	require.NoError(t, err)
	before := initial.Clone()

	optimizer := newOptimizer(t, parts, DefaultTabuConfig())
	_, err = optimizer.Optimize(context.Background(), initial)
	require.NoError(t, err)

	assert.Equal(t, before.Assignments(), initial.Assignments())
	assert.Equal(t, before.Pending(), initial.Pending())
}

func TestOptimizeStopsOnCancellation(t *testing.T) {
	f := defaultFixture()
	f.surgeries = []domain.Surgery{
		surgery("40000000-0000-0000-0000-000000000001", typeOrtho, 60),
		surgery("40000000-0000-0000-0000-000000000002", typeCardiac, 60),
	}
	parts := f.engine(t, DefaultCheckOptions())

	initial, err := parts.builder.InitialSolution()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	optimizer := newOptimizer(t, parts, DefaultTabuConfig())
	result, err := optimizer.Optimize(ctx, initial)
	require.NoError(t, err)

	assert.True(t, result.Cancelled)
	require.NotNil(t, result.Solution)
	assert.Equal(t, initial.Assignments(), result.Solution.Assignments())
}

func TestOptimizeHonorsIterationBudget(t *testing.T) {
	f := defaultFixture()
	f.surgeries = []domain.Surgery{
		surgery("40000000-0000-0000-0000-000000000001", typeOrtho, 60),
		surgery("40000000-0000-0000-0000-000000000002", typeCardiac, 60),
		surgery("40000000-0000-0000-0000-000000000003", typeGeneral, 60),
	}
	parts := f.engine(t, DefaultCheckOptions())

	initial, err := parts.builder.InitialSolution()
	require.NoError(t, err)

	config := DefaultTabuConfig()
	config.MaxIterations = 3
	optimizer := newOptimizer(t, parts, config)
	result, err := optimizer.Optimize(context.Background(), initial)
	require.NoError(t, err)

	assert.LessOrEqual(t, result.Iterations, 3)
}

func TestOptimizeEmptyScheduleReportsZeroIterations(t *testing.T) {
	f := defaultFixture()
	parts := f.engine(t, DefaultCheckOptions())

	optimizer := newOptimizer(t, parts, DefaultTabuConfig())
	result, err := optimizer.Optimize(context.Background(), domain.NewSolution(nil))
	require.NoError(t, err)

	assert.Zero(t, result.Iterations)
	assert.False(t, result.Cancelled)
	assert.Zero(t, result.Solution.AssignmentCount())
}

func TestRelocateInsertsAtEarliestFeasiblePosition(t *testing.T) {
	f := defaultFixture()
	o1 := surgery("40000000-0000-0000-0000-000000000001", typeOrtho, 60)
	c1 := surgery("40000000-0000-0000-0000-000000000002", typeCardiac, 60)
	c2 := surgery("40000000-0000-0000-0000-000000000003", typeCardiac, 60)
	f.surgeries = []domain.Surgery{o1, c1, c2}
	parts := f.engine(t, DefaultCheckOptions())

	sol := domain.NewSolution(nil)
	_, err := parts.builder.RecomputeRoom(roomAlphaID, []uuid.UUID{o1.ID}, sol, time.Time{})
	require.NoError(t, err)
	_, err = parts.builder.RecomputeRoom(roomBetaID, []uuid.UUID{c1.ID, c2.ID}, sol, time.Time{})
	require.NoError(t, err)

	moved, _, _, ok := sol.Find(o1.ID)
	require.True(t, ok)

	optimizer := newOptimizer(t, parts, DefaultTabuConfig())
	neighbor := optimizer.tryRelocate(sol, moved, roomBetaID)
	require.NotNil(t, neighbor)

	// The ortho case leads the cardiac pair instead of trailing it; the
	// front of the room is the earliest slot that stays feasible.
	seq := neighbor.RoomSequence(roomBetaID)
	require.Len(t, seq, 3)
	assert.Equal(t, o1.ID, seq[0].SurgeryID)
	assert.Empty(t, neighbor.RoomSequence(roomAlphaID))
	require.NoError(t, neighbor.CheckInvariants(parts.snap.Surgeries, parts.snap.SDST))
}

func TestOptimizeRejectsCorruptInitialSolution(t *testing.T) {
	f := defaultFixture()
	s := surgery("40000000-0000-0000-0000-000000000001", typeOrtho, 60)
	f.surgeries = []domain.Surgery{s}
	parts := f.engine(t, DefaultCheckOptions())

	bad := domain.NewSolution(nil)
	// Wrong setup minutes for the initial ortho transition.
	bad.Place(placementAt(s, parts.snap.Rooms[roomAlphaID], at(8, 0), 5).ToAssignment())

	optimizer := newOptimizer(t, parts, DefaultTabuConfig())
	_, err := optimizer.Optimize(context.Background(), bad)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}
