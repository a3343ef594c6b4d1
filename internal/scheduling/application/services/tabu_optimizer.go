package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/theatro/theatro/internal/scheduling/domain"
)

// TabuConfig controls the tabu search run.
type TabuConfig struct {
	Tenure           int
	MaxIterations    int
	MaxNoImprovement int
}

// DefaultTabuConfig returns the standard search parameters.
func DefaultTabuConfig() TabuConfig {
	return TabuConfig{
		Tenure:           10,
		MaxIterations:    100,
		MaxNoImprovement: 20,
	}
}

// OptimizeResult is the outcome of a tabu search run.
type OptimizeResult struct {
	Solution   *domain.Solution
	Cost       float64
	Breakdown  Breakdown
	Iterations int
	Improved   bool
	Cancelled  bool
	Duration   time.Duration
}

// moveKind names a neighborhood operator.
type moveKind string

const (
	moveSwap      moveKind = "swap"
	moveRelocate  moveKind = "relocate"
	moveShift     moveKind = "shift"
	movePlace     moveKind = "place"
	moveUnplace   moveKind = "unplace"
	noneMoveToken          = "-"
)

// candidate is one evaluated neighbor.
type candidate struct {
	solution      *domain.Solution
	cost          float64
	fingerprint   string
	destRoomSetup int
	order         int
}

// TabuOptimizer improves a schedule by tabu search over five neighborhood
// operators: swapping two assignments, relocating one to another room,
// shifting one within its room, placing a pending surgery, and unplacing an
// assignment. The search is deterministic: neighbors are generated in a
// fixed order and ties break on fingerprint, then destination room cost.
type TabuOptimizer struct {
	snap      *domain.Snapshot
	builder   *ScheduleBuilder
	checker   *FeasibilityChecker
	evaluator *Evaluator
	config    TabuConfig
	logger    *slog.Logger
}

// NewTabuOptimizer wires the search over a shared snapshot.
func NewTabuOptimizer(snap *domain.Snapshot, builder *ScheduleBuilder, checker *FeasibilityChecker, evaluator *Evaluator, config TabuConfig, logger *slog.Logger) *TabuOptimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TabuOptimizer{
		snap:      snap,
		builder:   builder,
		checker:   checker,
		evaluator: evaluator,
		config:    config,
		logger:    logger,
	}
}

// Optimize runs the search from an initial solution and returns the best
// schedule found. Cancellation stops the search and returns the best so
// far with Cancelled set; it is not an error.
func (o *TabuOptimizer) Optimize(ctx context.Context, initial *domain.Solution) (OptimizeResult, error) {
	start := time.Now()

	if err := initial.CheckInvariants(o.snap.Surgeries, o.snap.SDST); err != nil {
		return OptimizeResult{}, err
	}

	current := initial.Clone()
	best := initial.Clone()
	bestCost := o.evaluator.Cost(best)
	initialCost := bestCost

	// fingerprint -> iteration at which the move stops being tabu.
	tabu := make(map[string]int)
	noImprovement := 0
	iterations := 0
	cancelled := false

search:
	for iter := 0; iter < o.config.MaxIterations; iter++ {
		select {
		case <-ctx.Done():
			cancelled = true
			break search
		default:
		}

		chosen, ok := o.selectNeighbor(current, tabu, iter, bestCost)
		if !ok {
			o.logger.Debug("no admissible neighbor, search exhausted", "iteration", iter)
			break
		}
		// An iteration only counts once a move is taken; a schedule with no
		// neighborhood reports zero.
		iterations = iter + 1

		current = chosen.solution
		tabu[chosen.fingerprint] = iter + o.config.Tenure

		if chosen.cost < bestCost {
			best = chosen.solution.Clone()
			bestCost = chosen.cost
			noImprovement = 0
		} else {
			noImprovement++
			if noImprovement >= o.config.MaxNoImprovement {
				break
			}
		}
	}

	breakdown := o.evaluator.Breakdown(best)
	o.logger.Info("tabu search finished",
		"iterations", iterations,
		"initial_cost", initialCost,
		"best_cost", bestCost,
		"pending", best.PendingCount(),
		"cancelled", cancelled,
		"duration", time.Since(start),
	)

	return OptimizeResult{
		Solution:   best,
		Cost:       bestCost,
		Breakdown:  breakdown,
		Iterations: iterations,
		Improved:   bestCost < initialCost,
		Cancelled:  cancelled,
		Duration:   time.Since(start),
	}, nil
}

// selectNeighbor generates the full neighborhood of the current solution and
// picks the best admissible candidate. A tabu move is admissible only when
// it beats the best cost seen so far.
func (o *TabuOptimizer) selectNeighbor(current *domain.Solution, tabu map[string]int, iter int, bestCost float64) (candidate, bool) {
	var chosen candidate
	found := false

	consider := func(c candidate) {
		if expiry, isTabu := tabu[c.fingerprint]; isTabu && expiry > iter && c.cost >= bestCost {
			return
		}
		if !found || better(c, chosen) {
			chosen = c
			found = true
		}
	}

	order := 0
	emit := func(kind moveKind, a, b uuid.UUID, destRoom uuid.UUID, neighbor *domain.Solution) {
		if neighbor == nil {
			return
		}
		c := candidate{
			solution:      neighbor,
			cost:          o.evaluator.Cost(neighbor),
			fingerprint:   fingerprint(kind, a, b, destRoom),
			destRoomSetup: roomSetupMinutes(neighbor, destRoom),
			order:         order,
		}
		order++
		consider(c)
	}

	assignments := current.Assignments()

	for i, a := range assignments {
		for _, b := range assignments[i+1:] {
			emit(moveSwap, a.SurgeryID, b.SurgeryID, b.RoomID, o.trySwap(current, a, b))
		}
	}

	for _, a := range assignments {
		for _, roomID := range o.relocationTargets(a) {
			emit(moveRelocate, a.SurgeryID, uuid.Nil, roomID, o.tryRelocate(current, a, roomID))
		}
	}

	for _, a := range assignments {
		emit(moveShift, a.SurgeryID, uuid.Nil, a.RoomID, o.tryShift(current, a, -1))
		emit(moveShift, a.SurgeryID, uuid.Nil, a.RoomID, o.tryShift(current, a, +1))
	}

	for _, surgeryID := range current.Pending() {
		neighbor, roomID := o.tryPlacePending(current, surgeryID)
		emit(movePlace, surgeryID, uuid.Nil, roomID, neighbor)
	}

	for _, a := range assignments {
		emit(moveUnplace, a.SurgeryID, uuid.Nil, a.RoomID, o.tryUnplace(current, a))
	}

	return chosen, found
}

// better orders candidates by cost, then fingerprint, then destination room
// setup load, then generation order.
func better(a, b candidate) bool {
	if a.cost != b.cost {
		return a.cost < b.cost
	}
	if a.fingerprint != b.fingerprint {
		return a.fingerprint < b.fingerprint
	}
	if a.destRoomSetup != b.destRoomSetup {
		return a.destRoomSetup < b.destRoomSetup
	}
	return a.order < b.order
}

func fingerprint(kind moveKind, a, b uuid.UUID, room uuid.UUID) string {
	aTok, bTok, roomTok := noneMoveToken, noneMoveToken, noneMoveToken
	if a != uuid.Nil {
		aTok = a.String()
	}
	if b != uuid.Nil {
		bTok = b.String()
	}
	if room != uuid.Nil {
		roomTok = room.String()
	}
	return fmt.Sprintf("%s|%s|%s|%s", kind, aTok, bTok, roomTok)
}

func roomSetupMinutes(sol *domain.Solution, roomID uuid.UUID) int {
	total := 0
	for _, a := range sol.RoomSequence(roomID) {
		total += a.AppliedSetupMinutes
	}
	return total
}

// trySwap exchanges the positions of two assignments, across rooms or
// within one, and repairs the affected sequences.
func (o *TabuOptimizer) trySwap(current *domain.Solution, a, b domain.Assignment) *domain.Solution {
	return o.guarded(func() *domain.Solution {
		neighbor := current.Clone()

		orderA := surgeryOrder(neighbor, a.RoomID)
		if a.RoomID == b.RoomID {
			swapIDs(orderA, a.SurgeryID, b.SurgeryID)
			return o.repair(neighbor, map[uuid.UUID][]uuid.UUID{a.RoomID: orderA})
		}

		orderB := surgeryOrder(neighbor, b.RoomID)
		replaceID(orderA, a.SurgeryID, b.SurgeryID)
		replaceID(orderB, b.SurgeryID, a.SurgeryID)
		return o.repair(neighbor, map[uuid.UUID][]uuid.UUID{
			a.RoomID: orderA,
			b.RoomID: orderB,
		})
	})
}

// tryRelocate moves an assignment into another room at the earliest
// position whose repaired sequence stays feasible. Positions are tried
// front to back; compaction from the room open makes the first feasible
// position the earliest slot.
func (o *TabuOptimizer) tryRelocate(current *domain.Solution, a domain.Assignment, destRoom uuid.UUID) *domain.Solution {
	return o.guarded(func() *domain.Solution {
		positions := len(current.RoomSequence(destRoom)) + 1
		for pos := 0; pos < positions; pos++ {
			neighbor := current.Clone()
			srcOrder := removeID(surgeryOrder(neighbor, a.RoomID), a.SurgeryID)
			destOrder := insertAt(surgeryOrder(neighbor, destRoom), pos, a.SurgeryID)
			repaired := o.repair(neighbor, map[uuid.UUID][]uuid.UUID{
				a.RoomID: srcOrder,
				destRoom: destOrder,
			})
			if repaired == nil {
				continue
			}
			// Repair evicts past-close assignments; the move only stands if
			// the relocated surgery survived in the destination room.
			if _, roomID, _, ok := repaired.Find(a.SurgeryID); !ok || roomID != destRoom {
				continue
			}
			return repaired
		}
		return nil
	})
}

// tryShift moves an assignment one position earlier or later in its room.
func (o *TabuOptimizer) tryShift(current *domain.Solution, a domain.Assignment, direction int) *domain.Solution {
	return o.guarded(func() *domain.Solution {
		neighbor := current.Clone()

		order := surgeryOrder(neighbor, a.RoomID)
		idx := indexOf(order, a.SurgeryID)
		swapWith := idx + direction
		if idx < 0 || swapWith < 0 || swapWith >= len(order) {
			return nil
		}
		order[idx], order[swapWith] = order[swapWith], order[idx]
		return o.repair(neighbor, map[uuid.UUID][]uuid.UUID{a.RoomID: order})
	})
}

// tryPlacePending places a pending surgery at its best feasible slot.
func (o *TabuOptimizer) tryPlacePending(current *domain.Solution, surgeryID uuid.UUID) (*domain.Solution, uuid.UUID) {
	var roomID uuid.UUID
	neighbor := o.guarded(func() *domain.Solution {
		surgery, ok := o.snap.Surgery(surgeryID)
		if !ok {
			return nil
		}
		clone := current.Clone()
		p, ok := o.builder.bestPlacement(surgery, clone, o.snap.OperationalRooms())
		if !ok {
			return nil
		}
		roomID = p.Room.ID
		clone.Place(p.ToAssignment())
		return clone
	})
	return neighbor, roomID
}

// tryUnplace drops an assignment back to pending and compacts its room.
func (o *TabuOptimizer) tryUnplace(current *domain.Solution, a domain.Assignment) *domain.Solution {
	return o.guarded(func() *domain.Solution {
		neighbor := current.Clone()
		neighbor.Unplace(a.SurgeryID)
		return o.repair(neighbor, map[uuid.UUID][]uuid.UUID{
			a.RoomID: surgeryOrder(neighbor, a.RoomID),
		})
	})
}

// repair recomputes the touched rooms and verifies the neighbor. Rooms are
// rebuilt compactly from the room open; surgeries evicted past the window
// return to pending. Returns nil when the neighbor ends up infeasible.
func (o *TabuOptimizer) repair(neighbor *domain.Solution, orders map[uuid.UUID][]uuid.UUID) *domain.Solution {
	touched := make([]uuid.UUID, 0, len(orders))
	for roomID := range orders {
		touched = append(touched, roomID)
	}
	sortRoomIDs(touched)

	for _, roomID := range touched {
		if _, err := o.builder.RecomputeRoom(roomID, orders[roomID], neighbor, time.Time{}); err != nil {
			return nil
		}
	}
	if !o.feasibleRooms(neighbor, touched) {
		return nil
	}
	return neighbor
}

// feasibleRooms re-checks every assignment in the touched rooms against the
// rest of the schedule. Cross-room resource conflicts introduced by the
// move show up here.
func (o *TabuOptimizer) feasibleRooms(sol *domain.Solution, roomIDs []uuid.UUID) bool {
	for _, roomID := range roomIDs {
		room, ok := o.snap.Rooms[roomID]
		if !ok {
			return false
		}
		for _, a := range sol.RoomSequence(roomID) {
			surgery, ok := o.snap.Surgery(a.SurgeryID)
			if !ok {
				return false
			}
			rest := sol.Clone()
			rest.Unplace(a.SurgeryID)
			verdict, err := o.checker.Check(domain.Placement{
				Surgery:      surgery,
				Room:         room,
				SetupStart:   a.SetupStart,
				SetupMinutes: a.AppliedSetupMinutes,
			}, rest)
			if err != nil || !verdict.Feasible {
				return false
			}
		}
	}
	return true
}

// relocationTargets lists destination rooms for a relocation, all
// operational rooms except the current one, in deterministic order.
func (o *TabuOptimizer) relocationTargets(a domain.Assignment) []uuid.UUID {
	var targets []uuid.UUID
	for _, room := range o.snap.OperationalRooms() {
		if room.ID != a.RoomID {
			targets = append(targets, room.ID)
		}
	}
	return targets
}

// guarded runs a neighbor generator, turning a panic into a skipped
// neighbor. A malformed move must not take down the whole search.
func (o *TabuOptimizer) guarded(fn func() *domain.Solution) (neighbor *domain.Solution) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Debug("neighbor generation panicked, skipping", "panic", r)
			neighbor = nil
		}
	}()
	return fn()
}

func surgeryOrder(sol *domain.Solution, roomID uuid.UUID) []uuid.UUID {
	seq := sol.RoomSequence(roomID)
	order := make([]uuid.UUID, len(seq))
	for i, a := range seq {
		order[i] = a.SurgeryID
	}
	return order
}

func indexOf(ids []uuid.UUID, id uuid.UUID) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return -1
}

func swapIDs(ids []uuid.UUID, a, b uuid.UUID) {
	i, j := indexOf(ids, a), indexOf(ids, b)
	if i >= 0 && j >= 0 {
		ids[i], ids[j] = ids[j], ids[i]
	}
}

func replaceID(ids []uuid.UUID, old, new uuid.UUID) {
	if i := indexOf(ids, old); i >= 0 {
		ids[i] = new
	}
}

func insertAt(ids []uuid.UUID, pos int, id uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids)+1)
	out = append(out, ids[:pos]...)
	out = append(out, id)
	out = append(out, ids[pos:]...)
	return out
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	if i := indexOf(ids, id); i >= 0 {
		return append(ids[:i], ids[i+1:]...)
	}
	return ids
}

func sortRoomIDs(ids []uuid.UUID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j].String() < ids[j-1].String(); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}
