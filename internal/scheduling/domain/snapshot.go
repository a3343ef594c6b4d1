package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Snapshot is the immutable per-run view of the scheduling world for a
// single day: catalogs, the SDST matrix, and the rule set. Snapshots are
// safe to share across readers; mutable search state is strictly per-run.
type Snapshot struct {
	Date      time.Time
	Rooms     map[uuid.UUID]OperatingRoom
	Surgeries map[uuid.UUID]Surgery
	Types     map[uuid.UUID]SurgeryType
	Staff     map[uuid.UUID]Staff
	Equipment map[uuid.UUID]Equipment
	SDST      *SDSTMatrix
	Rules     []Rule
}

// NewSnapshot builds a snapshot, validating the pieces the engine depends
// on. Surgeries with non-positive durations fail construction.
func NewSnapshot(
	date time.Time,
	rooms []OperatingRoom,
	surgeries []Surgery,
	types []SurgeryType,
	staff []Staff,
	equipment []Equipment,
	sdst *SDSTMatrix,
	rules []Rule,
) (*Snapshot, error) {
	if sdst == nil {
		return nil, fmt.Errorf("%w: nil SDST matrix", ErrInvalidInput)
	}

	snap := &Snapshot{
		Date:      truncateToDay(date),
		Rooms:     make(map[uuid.UUID]OperatingRoom, len(rooms)),
		Surgeries: make(map[uuid.UUID]Surgery, len(surgeries)),
		Types:     make(map[uuid.UUID]SurgeryType, len(types)),
		Staff:     make(map[uuid.UUID]Staff, len(staff)),
		Equipment: make(map[uuid.UUID]Equipment, len(equipment)),
		SDST:      sdst,
		Rules:     append([]Rule(nil), rules...),
	}
	for _, r := range rooms {
		snap.Rooms[r.ID] = r
	}
	for _, s := range surgeries {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("surgery %s: %w", s.ID, err)
		}
		snap.Surgeries[s.ID] = s
	}
	for _, t := range types {
		snap.Types[t.ID] = t
	}
	for _, m := range staff {
		snap.Staff[m.ID] = m
	}
	for _, e := range equipment {
		snap.Equipment[e.ID] = e
	}
	return snap, nil
}

// RoomList returns rooms in deterministic order by ID.
func (s *Snapshot) RoomList() []OperatingRoom {
	rooms := make([]OperatingRoom, 0, len(s.Rooms))
	for _, r := range s.Rooms {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].ID.String() < rooms[j].ID.String()
	})
	return rooms
}

// OperationalRooms returns active rooms in deterministic order.
func (s *Snapshot) OperationalRooms() []OperatingRoom {
	var rooms []OperatingRoom
	for _, r := range s.RoomList() {
		if r.IsOperational() {
			rooms = append(rooms, r)
		}
	}
	return rooms
}

// StaffWithRole returns staff members holding a role, in deterministic order.
func (s *Snapshot) StaffWithRole(role string) []Staff {
	var members []Staff
	for _, m := range s.Staff {
		if m.Role == role {
			members = append(members, m)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].ID.String() < members[j].ID.String()
	})
	return members
}

// Surgery returns a surgery from the catalog.
func (s *Snapshot) Surgery(id uuid.UUID) (Surgery, bool) {
	surgery, ok := s.Surgeries[id]
	return surgery, ok
}

// TypeOf returns the surgery type ID for a placed surgery, or NoneType when
// the surgery is unknown.
func (s *Snapshot) TypeOf(surgeryID uuid.UUID) uuid.UUID {
	if surgery, ok := s.Surgeries[surgeryID]; ok {
		return surgery.TypeID
	}
	return NoneType
}
