package domain

import "github.com/google/uuid"

// Equipment is a schedulable resource with optional maintenance windows and
// a concurrent-usage cap. Read-only to the engine within a run.
type Equipment struct {
	ID             uuid.UUID
	Type           string
	Available      bool
	Maintenance    []TimeRange
	ConcurrencyCap int
	RoomID         *uuid.UUID
}

// UnderMaintenanceDuring checks whether a maintenance window overlaps the
// interval.
func (e Equipment) UnderMaintenanceDuring(interval TimeRange) bool {
	for _, w := range e.Maintenance {
		if w.Overlaps(interval) {
			return true
		}
	}
	return false
}

// EffectiveCap returns the concurrency cap, treating zero as one.
func (e Equipment) EffectiveCap() int {
	if e.ConcurrencyCap <= 0 {
		return 1
	}
	return e.ConcurrencyCap
}

// SurgeryType identifies a class of procedures for SDST lookups.
type SurgeryType struct {
	ID   uuid.UUID
	Code string
	Name string
}
