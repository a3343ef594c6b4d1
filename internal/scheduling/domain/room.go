package domain

import (
	"time"

	"github.com/google/uuid"
)

// RoomStatus represents the operational state of an operating room.
type RoomStatus string

const (
	RoomStatusActive      RoomStatus = "active"
	RoomStatusMaintenance RoomStatus = "maintenance"
	RoomStatusInactive    RoomStatus = "inactive"
)

// OperatingRoom is a room that surgeries are placed into. The resource
// catalog owns its lifetime; the engine treats it as read-only.
type OperatingRoom struct {
	ID             uuid.UUID
	Name           string
	Status         RoomStatus
	PrimaryService string
	// Daily operational window as offsets from midnight, e.g. 8h-17h.
	OpenOffset  time.Duration
	CloseOffset time.Duration
	Maintenance []TimeRange
}

// UnderMaintenanceDuring checks whether a maintenance window overlaps the
// interval.
func (r OperatingRoom) UnderMaintenanceDuring(interval TimeRange) bool {
	for _, w := range r.Maintenance {
		if w.Overlaps(interval) {
			return true
		}
	}
	return false
}

// Window materializes the operational window [open, close) for a date.
func (r OperatingRoom) Window(date time.Time) TimeRange {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	return TimeRange{Start: day.Add(r.OpenOffset), End: day.Add(r.CloseOffset)}
}

// IsOperational returns true when the room can accept placements.
func (r OperatingRoom) IsOperational() bool {
	return r.Status == RoomStatusActive
}
