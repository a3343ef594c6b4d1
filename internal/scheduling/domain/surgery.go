package domain

import (
	"time"

	"github.com/google/uuid"
)

// UrgencyLevel classifies how soon a surgery must happen. Higher values are
// more urgent and sort first.
type UrgencyLevel int

const (
	UrgencyScheduled UrgencyLevel = iota
	UrgencySemiUrgent
	UrgencyUrgent
	UrgencyImmediate
)

// String returns the canonical name of the urgency level.
func (u UrgencyLevel) String() string {
	switch u {
	case UrgencyImmediate:
		return "immediate"
	case UrgencyUrgent:
		return "urgent"
	case UrgencySemiUrgent:
		return "semi_urgent"
	default:
		return "scheduled"
	}
}

// ParseUrgency maps a canonical name back to its level. Unknown names map to
// UrgencyScheduled.
func ParseUrgency(s string) UrgencyLevel {
	switch s {
	case "immediate":
		return UrgencyImmediate
	case "urgent":
		return UrgencyUrgent
	case "semi_urgent":
		return UrgencySemiUrgent
	default:
		return UrgencyScheduled
	}
}

// SurgeryStatus represents the lifecycle state of a surgery.
type SurgeryStatus string

const (
	SurgeryStatusPending    SurgeryStatus = "pending"
	SurgeryStatusScheduled  SurgeryStatus = "scheduled"
	SurgeryStatusInProgress SurgeryStatus = "in_progress"
	SurgeryStatusCompleted  SurgeryStatus = "completed"
	SurgeryStatusCancelled  SurgeryStatus = "cancelled"
)

// Surgery is a procedure waiting to be placed, or already placed, in an
// operating room. Within an optimization run surgeries are read-only
// snapshot records; only the engine mutates status and arrival.
type Surgery struct {
	ID              uuid.UUID
	TypeID          uuid.UUID
	Duration        time.Duration
	Urgency         UrgencyLevel
	Priority        int
	SurgeonID       *uuid.UUID
	EquipmentIDs    []uuid.UUID
	RequiredRoles   []string
	Status          SurgeryStatus
	ArrivalTime     *time.Time
	MaxWaitMinutes  *int
}

// Validate checks structural invariants of the record. A failure here is a
// programming error upstream, not a domain violation.
func (s Surgery) Validate() error {
	if s.ID == uuid.Nil {
		return ErrInvariantViolation
	}
	if s.Duration <= 0 {
		return ErrInvariantViolation
	}
	return nil
}

// IsEmergency returns true when the surgery arrived through the emergency
// path (arrival time set and urgency above scheduled).
func (s Surgery) IsEmergency() bool {
	return s.ArrivalTime != nil && s.Urgency > UrgencyScheduled
}
