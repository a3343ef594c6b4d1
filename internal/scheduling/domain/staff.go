package domain

import (
	"time"

	"github.com/google/uuid"
)

// Staff roles the checker understands. Additional roles are free-form tags.
const (
	RoleSurgeon       = "surgeon"
	RoleAnesthetist   = "anesthetist"
	RoleScrubNurse    = "scrub_nurse"
	RoleCirculator    = "circulator"
)

// Staff is a member of the surgical staff. Read-only to the engine within a
// run.
type Staff struct {
	ID             uuid.UUID
	Name           string
	Role           string
	QualifiedTypes []uuid.UUID
	Availability   []TimeRange
	DailyHourCap   time.Duration
}

// QualifiedFor checks whether the staff member is qualified for a surgery
// type. An empty qualification set means unrestricted.
func (s Staff) QualifiedFor(typeID uuid.UUID) bool {
	if len(s.QualifiedTypes) == 0 {
		return true
	}
	for _, id := range s.QualifiedTypes {
		if id == typeID {
			return true
		}
	}
	return false
}

// AvailableDuring checks whether one of the availability windows fully covers
// the interval. An empty window list means always available.
func (s Staff) AvailableDuring(interval TimeRange) bool {
	if len(s.Availability) == 0 {
		return true
	}
	for _, w := range s.Availability {
		if w.Covers(interval) {
			return true
		}
	}
	return false
}
