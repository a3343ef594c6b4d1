package domain

import (
	"time"

	sharedDomain "github.com/theatro/theatro/internal/shared/domain"
	"github.com/google/uuid"
)

const (
	AggregateType = "Schedule"

	RoutingKeyScheduleOptimized = "scheduling.schedule.optimized"
	RoutingKeyEmergencyInserted = "scheduling.emergency.inserted"
	RoutingKeySurgeryBumped     = "scheduling.surgery.bumped"
)

// ScheduleOptimized is emitted when an optimization run commits.
type ScheduleOptimized struct {
	sharedDomain.BaseEvent
	Date            time.Time `json:"date"`
	AssignedCount   int       `json:"assigned_count"`
	PendingCount    int       `json:"pending_count"`
	Iterations      int       `json:"iterations"`
	TotalSetupMin   int       `json:"total_setup_minutes"`
	Cancelled       bool      `json:"cancelled"`
	ScheduleVersion int64     `json:"schedule_version"`
}

// NewScheduleOptimized creates a ScheduleOptimized event.
func NewScheduleOptimized(runID uuid.UUID, date time.Time, assigned, pending, iterations, totalSetup int, cancelled bool, version int64) ScheduleOptimized {
	return ScheduleOptimized{
		BaseEvent:       sharedDomain.NewBaseEvent(runID, AggregateType, RoutingKeyScheduleOptimized),
		Date:            date,
		AssignedCount:   assigned,
		PendingCount:    pending,
		Iterations:      iterations,
		TotalSetupMin:   totalSetup,
		Cancelled:       cancelled,
		ScheduleVersion: version,
	}
}

// EmergencyInserted is emitted when an emergency surgery is placed.
type EmergencyInserted struct {
	sharedDomain.BaseEvent
	SurgeryID       uuid.UUID   `json:"surgery_id"`
	RoomID          uuid.UUID   `json:"room_id"`
	ScheduledStart  time.Time   `json:"scheduled_start"`
	ScheduledEnd    time.Time   `json:"scheduled_end"`
	Strategy        string      `json:"strategy"`
	BumpedSurgeries []uuid.UUID `json:"bumped_surgeries"`
	DisruptionScore float64     `json:"disruption_score"`
}

// NewEmergencyInserted creates an EmergencyInserted event.
func NewEmergencyInserted(runID, surgeryID, roomID uuid.UUID, start, end time.Time, strategy string, bumped []uuid.UUID, disruption float64) EmergencyInserted {
	return EmergencyInserted{
		BaseEvent:       sharedDomain.NewBaseEvent(runID, AggregateType, RoutingKeyEmergencyInserted),
		SurgeryID:       surgeryID,
		RoomID:          roomID,
		ScheduledStart:  start,
		ScheduledEnd:    end,
		Strategy:        strategy,
		BumpedSurgeries: bumped,
		DisruptionScore: disruption,
	}
}

// SurgeryBumped is emitted for each surgery displaced by an emergency.
type SurgeryBumped struct {
	sharedDomain.BaseEvent
	SurgeryID    uuid.UUID  `json:"surgery_id"`
	FromRoomID   uuid.UUID  `json:"from_room_id"`
	Rescheduled  bool       `json:"rescheduled"`
	NewRoomID    *uuid.UUID `json:"new_room_id,omitempty"`
	NewStartTime *time.Time `json:"new_start_time,omitempty"`
}

// NewSurgeryBumped creates a SurgeryBumped event.
func NewSurgeryBumped(runID, surgeryID, fromRoomID uuid.UUID, rescheduled bool, newRoomID *uuid.UUID, newStart *time.Time) SurgeryBumped {
	return SurgeryBumped{
		BaseEvent:    sharedDomain.NewBaseEvent(runID, AggregateType, RoutingKeySurgeryBumped),
		SurgeryID:    surgeryID,
		FromRoomID:   fromRoomID,
		Rescheduled:  rescheduled,
		NewRoomID:    newRoomID,
		NewStartTime: newStart,
	}
}
