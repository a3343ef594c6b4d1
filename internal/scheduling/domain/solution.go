package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Solution is a complete candidate schedule: per-room assignment sequences
// plus the surgeries that could not be placed. Solutions are values;
// neighborhood moves produce new solutions via Clone.
type Solution struct {
	// rooms maps room ID to its assignment sequence ordered by setup start.
	rooms map[uuid.UUID][]Assignment
	// pending holds the IDs of unplaced surgeries.
	pending []uuid.UUID
}

// NewSolution creates an empty solution with every surgery pending.
func NewSolution(pending []uuid.UUID) *Solution {
	p := make([]uuid.UUID, len(pending))
	copy(p, pending)
	sortIDs(p)
	return &Solution{
		rooms:   make(map[uuid.UUID][]Assignment),
		pending: p,
	}
}

// RoomSequence returns the assignment sequence of a room ordered by setup
// start. The returned slice must not be mutated.
func (s *Solution) RoomSequence(roomID uuid.UUID) []Assignment {
	return s.rooms[roomID]
}

// SetRoomSequence replaces a room's sequence. The sequence is re-sorted by
// setup start.
func (s *Solution) SetRoomSequence(roomID uuid.UUID, seq []Assignment) {
	if len(seq) == 0 {
		delete(s.rooms, roomID)
		return
	}
	sort.SliceStable(seq, func(i, j int) bool {
		return seq[i].SetupStart.Before(seq[j].SetupStart)
	})
	s.rooms[roomID] = seq
}

// RoomIDs returns the rooms that hold at least one assignment, in
// deterministic order.
func (s *Solution) RoomIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Assignments returns every assignment across all rooms in deterministic
// order (room ID, then setup start).
func (s *Solution) Assignments() []Assignment {
	var all []Assignment
	for _, roomID := range s.RoomIDs() {
		all = append(all, s.rooms[roomID]...)
	}
	return all
}

// Pending returns the unplaced surgery IDs in deterministic order.
func (s *Solution) Pending() []uuid.UUID {
	return s.pending
}

// PendingCount returns the number of unplaced surgeries.
func (s *Solution) PendingCount() int { return len(s.pending) }

// AssignmentCount returns the number of placed surgeries.
func (s *Solution) AssignmentCount() int {
	n := 0
	for _, seq := range s.rooms {
		n += len(seq)
	}
	return n
}

// Find locates the assignment for a surgery, returning its room and position.
func (s *Solution) Find(surgeryID uuid.UUID) (Assignment, uuid.UUID, int, bool) {
	for _, roomID := range s.RoomIDs() {
		for i, a := range s.rooms[roomID] {
			if a.SurgeryID == surgeryID {
				return a, roomID, i, true
			}
		}
	}
	return Assignment{}, uuid.Nil, 0, false
}

// Place appends an assignment to its room's sequence and drops the surgery
// from pending.
func (s *Solution) Place(a Assignment) {
	seq := append(append([]Assignment(nil), s.rooms[a.RoomID]...), a)
	s.SetRoomSequence(a.RoomID, seq)
	s.removePending(a.SurgeryID)
}

// Unplace removes a surgery's assignment and returns it to pending.
func (s *Solution) Unplace(surgeryID uuid.UUID) bool {
	_, roomID, idx, ok := s.Find(surgeryID)
	if !ok {
		return false
	}
	seq := s.rooms[roomID]
	next := append(append([]Assignment(nil), seq[:idx]...), seq[idx+1:]...)
	s.SetRoomSequence(roomID, next)
	s.AddPending(surgeryID)
	return true
}

// AddPending records a surgery as unplaced, keeping the list sorted.
func (s *Solution) AddPending(surgeryID uuid.UUID) {
	for _, id := range s.pending {
		if id == surgeryID {
			return
		}
	}
	s.pending = append(s.pending, surgeryID)
	sortIDs(s.pending)
}

func (s *Solution) removePending(surgeryID uuid.UUID) {
	for i, id := range s.pending {
		if id == surgeryID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// Clone returns a deep copy of the solution.
func (s *Solution) Clone() *Solution {
	c := &Solution{
		rooms:   make(map[uuid.UUID][]Assignment, len(s.rooms)),
		pending: append([]uuid.UUID(nil), s.pending...),
	}
	for roomID, seq := range s.rooms {
		c.rooms[roomID] = append([]Assignment(nil), seq...)
	}
	return c
}

// Makespan returns the span from the earliest setup start to the latest end,
// or zero when the solution is empty.
func (s *Solution) Makespan() time.Duration {
	var earliest, latest time.Time
	first := true
	for _, seq := range s.rooms {
		for _, a := range seq {
			if first || a.SetupStart.Before(earliest) {
				earliest = a.SetupStart
			}
			if first || a.End.After(latest) {
				latest = a.End
			}
			first = false
		}
	}
	if first {
		return 0
	}
	return latest.Sub(earliest)
}

// TotalSetupMinutes sums applied setup minutes across all assignments.
func (s *Solution) TotalSetupMinutes() int {
	total := 0
	for _, seq := range s.rooms {
		for _, a := range seq {
			total += a.AppliedSetupMinutes
		}
	}
	return total
}

// CheckInvariants verifies the structural invariants every valid solution
// must hold: non-overlapping room sequences with correct SDST chaining.
// Resource contention is the feasibility checker's concern.
func (s *Solution) CheckInvariants(surgeries map[uuid.UUID]Surgery, sdst *SDSTMatrix) error {
	for _, roomID := range s.RoomIDs() {
		seq := s.rooms[roomID]
		prevType := NoneType
		for i, a := range seq {
			surgery, ok := surgeries[a.SurgeryID]
			if !ok {
				return fmt.Errorf("%w: assignment references unknown surgery %s", ErrInvariantViolation, a.SurgeryID)
			}
			if err := a.Validate(surgery.Duration); err != nil {
				return err
			}
			wantSetup := sdst.SetupMinutes(prevType, surgery.TypeID)
			if a.AppliedSetupMinutes != wantSetup {
				return fmt.Errorf("%w: room %s position %d applied setup %d, want %d",
					ErrInvariantViolation, roomID, i, a.AppliedSetupMinutes, wantSetup)
			}
			if i > 0 && a.SetupStart.Before(seq[i-1].End) {
				return fmt.Errorf("%w: room %s position %d overlaps previous assignment",
					ErrInvariantViolation, roomID, i)
			}
			prevType = surgery.TypeID
		}
	}
	return nil
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
}
