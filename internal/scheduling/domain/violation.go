package domain

import (
	"time"

	"github.com/google/uuid"
)

// ViolationKind identifies which constraint a violation came from.
type ViolationKind string

const (
	ViolationRoomAvailability      ViolationKind = "room_availability"
	ViolationRoomHours             ViolationKind = "room_hours"
	ViolationEquipmentAvailability ViolationKind = "equipment_availability"
	ViolationSurgeonAvailability   ViolationKind = "surgeon_availability"
	ViolationStaffAvailability     ViolationKind = "staff_availability"
	ViolationQualification         ViolationKind = "qualification"
	ViolationSetupTime             ViolationKind = "setup_time"
	ViolationCustomRule            ViolationKind = "custom_rule"
)

// Violation is a structured constraint failure or warning.
type Violation struct {
	RuleID           string
	Kind             ViolationKind
	Severity         Severity
	Description      string
	SurgeryID        *uuid.UUID
	RoomID           *uuid.UUID
	EquipmentID      *uuid.UUID
	StaffID          *uuid.UUID
	SuggestedActions []string
}

// Verdict is the outcome of checking a single placement. Critical
// violations make the placement infeasible; lower severities are warnings.
type Verdict struct {
	Feasible   bool
	Violations []Violation
	Warnings   []Violation
}

// FeasibleVerdict returns a clean verdict.
func FeasibleVerdict() Verdict {
	return Verdict{Feasible: true}
}

// AddViolation records a violation, flipping feasibility for critical ones.
func (v *Verdict) AddViolation(violation Violation) {
	if violation.Severity == SeverityCritical {
		v.Feasible = false
		v.Violations = append(v.Violations, violation)
		return
	}
	v.Warnings = append(v.Warnings, violation)
}

// Merge folds another verdict into this one.
func (v *Verdict) Merge(other Verdict) {
	if !other.Feasible {
		v.Feasible = false
	}
	v.Violations = append(v.Violations, other.Violations...)
	v.Warnings = append(v.Warnings, other.Warnings...)
}

// ScheduleReport is the outcome of checking an entire schedule for a date.
type ScheduleReport struct {
	Date            time.Time
	CheckedCount    int
	Feasible        bool
	Violations      []Violation
	Warnings        []Violation
	CheckDuration   time.Duration
	Recommendations []string
}

// Placement is a candidate position for a surgery: the room, the setup
// start, and the setup minutes the SDST matrix prescribes for it.
type Placement struct {
	Surgery      Surgery
	Room         OperatingRoom
	SetupStart   time.Time
	SetupMinutes int
}

// OperationStart returns when the procedure itself begins.
func (p Placement) OperationStart() time.Time {
	return p.SetupStart.Add(time.Duration(p.SetupMinutes) * time.Minute)
}

// End returns when the room is released.
func (p Placement) End() time.Time {
	return p.OperationStart().Add(p.Surgery.Duration)
}

// Interval returns the full occupation interval [setupStart, end).
func (p Placement) Interval() TimeRange {
	return TimeRange{Start: p.SetupStart, End: p.End()}
}

// OperationInterval returns the surgical interval [operationStart, end).
func (p Placement) OperationInterval() TimeRange {
	return TimeRange{Start: p.OperationStart(), End: p.End()}
}

// ToAssignment freezes the placement into an assignment value.
func (p Placement) ToAssignment() Assignment {
	return Assignment{
		SurgeryID:           p.Surgery.ID,
		RoomID:              p.Room.ID,
		SetupStart:          p.SetupStart,
		OperationStart:      p.OperationStart(),
		End:                 p.End(),
		AppliedSetupMinutes: p.SetupMinutes,
	}
}
