package services

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/theatro/theatro/internal/scheduling/domain"
)

// ScheduleBuilder constructs and repairs schedules over a run snapshot. It
// owns the greedy initial construction and the slot search primitives the
// optimizer's moves are built on.
type ScheduleBuilder struct {
	snap    *domain.Snapshot
	checker *FeasibilityChecker
	logger  *slog.Logger
}

// NewScheduleBuilder creates a builder sharing the checker's snapshot.
func NewScheduleBuilder(snap *domain.Snapshot, checker *FeasibilityChecker, logger *slog.Logger) *ScheduleBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleBuilder{snap: snap, checker: checker, logger: logger}
}

// InitialSolution builds a greedy feasible starting schedule. Surgeries are
// placed in priority order; whatever cannot be placed anywhere stays
// pending. The result is deterministic for a given snapshot.
func (b *ScheduleBuilder) InitialSolution() (*domain.Solution, error) {
	surgeries := b.orderedSurgeries()
	sol := domain.NewSolution(lo.Map(surgeries, func(s domain.Surgery, _ int) uuid.UUID {
		return s.ID
	}))

	rooms := b.snap.OperationalRooms()
	if len(rooms) == 0 {
		b.logger.Warn("no operational rooms, all surgeries stay pending",
			"pending", sol.PendingCount())
		return sol, nil
	}

	for _, surgery := range surgeries {
		best, ok := b.bestPlacement(surgery, sol, rooms)
		if !ok {
			b.logger.Debug("surgery unplaceable in initial construction",
				"surgery_id", surgery.ID, "urgency", surgery.Urgency.String())
			continue
		}
		sol.Place(best.ToAssignment())
	}

	if err := sol.CheckInvariants(b.snap.Surgeries, b.snap.SDST); err != nil {
		return nil, err
	}
	return sol, nil
}

// orderedSurgeries returns the snapshot's surgeries in placement order:
// urgency desc, priority desc, arrival asc, then id for determinism.
func (b *ScheduleBuilder) orderedSurgeries() []domain.Surgery {
	surgeries := lo.Values(b.snap.Surgeries)
	sort.Slice(surgeries, func(i, j int) bool {
		a, c := surgeries[i], surgeries[j]
		if a.Urgency != c.Urgency {
			return a.Urgency > c.Urgency
		}
		if a.Priority != c.Priority {
			return a.Priority > c.Priority
		}
		at, ct := arrivalOrZero(a), arrivalOrZero(c)
		if !at.Equal(ct) {
			return at.Before(ct)
		}
		return a.ID.String() < c.ID.String()
	})
	return surgeries
}

// bestPlacement finds the earliest feasible placement across all rooms,
// breaking start-time ties by lower room setup cost, then room id.
func (b *ScheduleBuilder) bestPlacement(surgery domain.Surgery, sol *domain.Solution, rooms []domain.OperatingRoom) (domain.Placement, bool) {
	var best domain.Placement
	bestSetup := 0
	found := false

	for _, room := range rooms {
		p, ok := b.NextAvailable(surgery, room, sol, room.Window(b.snap.Date).Start)
		if !ok {
			continue
		}
		switch {
		case !found:
			best, bestSetup, found = p, p.SetupMinutes, true
		case p.SetupStart.Before(best.SetupStart):
			best, bestSetup = p, p.SetupMinutes
		case p.SetupStart.Equal(best.SetupStart) && p.SetupMinutes < bestSetup:
			best, bestSetup = p, p.SetupMinutes
		case p.SetupStart.Equal(best.SetupStart) && p.SetupMinutes == bestSetup &&
			p.Room.ID.String() < best.Room.ID.String():
			best = p
		}
	}
	return best, found
}

// NextAvailable finds the earliest feasible placement of a surgery in a room
// at or after the given time, walking forward past each blocking conflict.
// Returns false when the room cannot host the surgery that day.
func (b *ScheduleBuilder) NextAvailable(surgery domain.Surgery, room domain.OperatingRoom, sol *domain.Solution, notBefore time.Time) (domain.Placement, bool) {
	window := room.Window(b.snap.Date)
	cursor := notBefore
	if cursor.Before(window.Start) {
		cursor = window.Start
	}

	// Bounded walk: each iteration either succeeds or jumps past a
	// conflicting interval, and a room day holds finitely many of those.
	for attempts := 0; attempts < 256; attempts++ {
		prevType, prevEnd := b.roomStateAt(room.ID, sol, cursor)
		if cursor.Before(prevEnd) {
			cursor = prevEnd
		}

		setup := b.snap.SDST.SetupMinutes(prevType, surgery.TypeID)
		p := domain.Placement{
			Surgery:      surgery,
			Room:         room,
			SetupStart:   cursor,
			SetupMinutes: setup,
		}
		if p.End().After(window.End) && !b.checker.opts.AllowOvertime {
			return domain.Placement{}, false
		}

		verdict, err := b.checker.Check(p, sol)
		if err != nil {
			b.logger.Error("placement check failed", "surgery_id", surgery.ID, "error", err)
			return domain.Placement{}, false
		}
		if verdict.Feasible {
			return p, true
		}

		next, ok := b.jumpPast(p, sol, verdict)
		if !ok || !next.After(cursor) {
			return domain.Placement{}, false
		}
		cursor = next
	}
	return domain.Placement{}, false
}

// roomStateAt returns the type and end of the assignment that precedes a
// candidate setup start in a room's sequence.
func (b *ScheduleBuilder) roomStateAt(roomID uuid.UUID, sol *domain.Solution, at time.Time) (uuid.UUID, time.Time) {
	prevType := domain.NoneType
	var prevEnd time.Time
	for _, a := range sol.RoomSequence(roomID) {
		if a.SetupStart.After(at) {
			break
		}
		if a.End.After(prevEnd) {
			prevEnd = a.End
			prevType = b.snap.TypeOf(a.SurgeryID)
		}
	}
	return prevType, prevEnd
}

// jumpPast derives the next start worth trying from the verdict's blocking
// violations. Violations with no time dimension (qualification, missing
// resources) cannot be fixed by waiting, so the search stops.
func (b *ScheduleBuilder) jumpPast(p domain.Placement, sol *domain.Solution, verdict domain.Verdict) (time.Time, bool) {
	interval := p.Interval()
	next := time.Time{}

	bump := func(t time.Time) {
		if t.After(next) {
			next = t
		}
	}

	for _, v := range verdict.Violations {
		switch v.Kind {
		case domain.ViolationRoomAvailability:
			if !p.Room.IsOperational() {
				return time.Time{}, false
			}
			for _, w := range p.Room.Maintenance {
				if w.Overlaps(interval) {
					bump(w.End)
				}
			}
			for _, a := range sol.RoomSequence(p.Room.ID) {
				if a.SurgeryID != p.Surgery.ID && a.Interval().Overlaps(interval) {
					bump(a.End)
				}
			}

		case domain.ViolationEquipmentAvailability:
			if v.EquipmentID == nil {
				return time.Time{}, false
			}
			equipment, ok := b.snap.Equipment[*v.EquipmentID]
			if !ok || !equipment.Available {
				return time.Time{}, false
			}
			jumped := false
			for _, w := range equipment.Maintenance {
				if w.Overlaps(interval) {
					bump(w.End)
					jumped = true
				}
			}
			for _, a := range sol.Assignments() {
				other, found := b.snap.Surgery(a.SurgeryID)
				if found && requiresEquipment(other, *v.EquipmentID) && a.Interval().Overlaps(interval) {
					bump(a.End)
					jumped = true
				}
			}
			if !jumped {
				return time.Time{}, false
			}

		case domain.ViolationSurgeonAvailability, domain.ViolationStaffAvailability:
			jumped := false
			for _, a := range sol.Assignments() {
				if a.SurgeryID != p.Surgery.ID && a.OperationInterval().Overlaps(p.OperationInterval()) {
					bump(a.End)
					jumped = true
				}
			}
			if !jumped {
				return time.Time{}, false
			}

		case domain.ViolationSetupTime:
			_, prevEnd := b.roomStateAt(p.Room.ID, sol, p.SetupStart)
			if prevEnd.After(p.SetupStart) {
				bump(prevEnd)
			} else {
				return time.Time{}, false
			}

		default:
			// Hours overruns, qualification failures, and critical custom
			// rules do not resolve later the same day.
			return time.Time{}, false
		}
	}

	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

// RecomputeRoom rebuilds a room's sequence timings after a structural change,
// keeping the surgery order but re-deriving setup minutes and start times.
// Assignments pushed past the window when overtime is off are returned as
// evicted; the caller decides whether to re-place or pend them.
func (b *ScheduleBuilder) RecomputeRoom(roomID uuid.UUID, order []uuid.UUID, sol *domain.Solution, notBefore time.Time) ([]uuid.UUID, error) {
	room, ok := b.snap.Rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown room %s", domain.ErrInvalidInput, roomID)
	}
	window := room.Window(b.snap.Date)

	cursor := window.Start
	if notBefore.After(cursor) {
		cursor = notBefore
	}

	prevType := domain.NoneType
	var seq []domain.Assignment
	var evicted []uuid.UUID

	for _, surgeryID := range order {
		surgery, found := b.snap.Surgery(surgeryID)
		if !found {
			return nil, fmt.Errorf("%w: unknown surgery %s", domain.ErrInvalidInput, surgeryID)
		}

		setup := b.snap.SDST.SetupMinutes(prevType, surgery.TypeID)
		p := domain.Placement{
			Surgery:      surgery,
			Room:         room,
			SetupStart:   cursor,
			SetupMinutes: setup,
		}
		if p.End().After(window.End) && !b.checker.opts.AllowOvertime {
			evicted = append(evicted, surgeryID)
			continue
		}

		a := p.ToAssignment()
		seq = append(seq, a)
		cursor = a.End
		prevType = surgery.TypeID
	}

	sol.SetRoomSequence(roomID, nil)
	for _, a := range seq {
		sol.Place(a)
	}
	for _, id := range evicted {
		sol.AddPending(id)
	}
	return evicted, nil
}

func arrivalOrZero(s domain.Surgery) time.Time {
	if s.ArrivalTime == nil {
		return time.Time{}
	}
	return *s.ArrivalTime
}
