package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Assignment places one surgery in one room at a specific time with a
// computed setup. It is an immutable value; moves replace it wholesale.
type Assignment struct {
	SurgeryID           uuid.UUID
	RoomID              uuid.UUID
	SetupStart          time.Time
	OperationStart      time.Time
	End                 time.Time
	AppliedSetupMinutes int
}

// Interval returns the full room occupation interval [setupStart, end).
func (a Assignment) Interval() TimeRange {
	return TimeRange{Start: a.SetupStart, End: a.End}
}

// OperationInterval returns the surgical interval [operationStart, end).
func (a Assignment) OperationInterval() TimeRange {
	return TimeRange{Start: a.OperationStart, End: a.End}
}

// Validate checks the internal timing invariants of the assignment against
// the surgery's duration.
func (a Assignment) Validate(duration time.Duration) error {
	if a.AppliedSetupMinutes < 0 {
		return fmt.Errorf("%w: negative applied setup", ErrInvariantViolation)
	}
	if !a.OperationStart.Equal(a.SetupStart.Add(time.Duration(a.AppliedSetupMinutes) * time.Minute)) {
		return fmt.Errorf("%w: operation start does not follow setup", ErrInvariantViolation)
	}
	if !a.End.Equal(a.OperationStart.Add(duration)) {
		return fmt.Errorf("%w: end does not follow operation start", ErrInvariantViolation)
	}
	return nil
}

// assignmentWire is the wire representation with ISO-8601 timestamps.
type assignmentWire struct {
	SurgeryID           uuid.UUID `json:"surgeryId"`
	RoomID              uuid.UUID `json:"roomId"`
	SetupStart          string    `json:"setupStart"`
	OperationStart      string    `json:"operationStart"`
	End                 string    `json:"end"`
	AppliedSetupMinutes int       `json:"appliedSetupMinutes"`
}

const wireTimeLayout = "2006-01-02T15:04:05"

// MarshalJSON renders the assignment in the wire format.
func (a Assignment) MarshalJSON() ([]byte, error) {
	return json.Marshal(assignmentWire{
		SurgeryID:           a.SurgeryID,
		RoomID:              a.RoomID,
		SetupStart:          a.SetupStart.Format(wireTimeLayout),
		OperationStart:      a.OperationStart.Format(wireTimeLayout),
		End:                 a.End.Format(wireTimeLayout),
		AppliedSetupMinutes: a.AppliedSetupMinutes,
	})
}

// UnmarshalJSON parses the wire format back into an assignment.
func (a *Assignment) UnmarshalJSON(data []byte) error {
	var w assignmentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	setupStart, err := time.ParseInLocation(wireTimeLayout, w.SetupStart, time.Local)
	if err != nil {
		return fmt.Errorf("parse setupStart: %w", err)
	}
	operationStart, err := time.ParseInLocation(wireTimeLayout, w.OperationStart, time.Local)
	if err != nil {
		return fmt.Errorf("parse operationStart: %w", err)
	}
	end, err := time.ParseInLocation(wireTimeLayout, w.End, time.Local)
	if err != nil {
		return fmt.Errorf("parse end: %w", err)
	}

	a.SurgeryID = w.SurgeryID
	a.RoomID = w.RoomID
	a.SetupStart = setupStart
	a.OperationStart = operationStart
	a.End = end
	a.AppliedSetupMinutes = w.AppliedSetupMinutes
	return nil
}
