package domain

import (
	"github.com/google/uuid"
)

// RuleKind tags the variant of a custom scheduling rule.
type RuleKind string

const (
	RuleKindTimeWindow          RuleKind = "time_window"
	RuleKindResourceRestriction RuleKind = "resource_restriction"
	RuleKindDurationBound       RuleKind = "duration_bound"
	RuleKindForbiddenTransition RuleKind = "forbidden_transition"
	RuleKindCustom              RuleKind = "custom"
)

// Severity orders rule violations. Critical violations block scheduling;
// the rest surface as warnings.
type Severity int

const (
	SeverityCritical Severity = iota
	SeverityHigh
	SeverityMedium
	SeverityLow
)

// String returns the canonical severity name.
func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParseSeverity maps a canonical name back to a severity. Unknown names map
// to SeverityLow.
func ParseSeverity(s string) Severity {
	switch s {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium":
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// RuleScope narrows a rule to specific surgery types, rooms, or surgeons.
// Empty slices mean the rule applies to all.
type RuleScope struct {
	SurgeryTypeIDs []uuid.UUID
	RoomIDs        []uuid.UUID
	SurgeonIDs     []uuid.UUID
}

// RuleParam is a tagged parameter value: exactly one field is set.
type RuleParam struct {
	Number *float64
	Text   *string
	Window *TimeRange
	IDs    []uuid.UUID
}

// NumberParam builds a numeric rule parameter.
func NumberParam(v float64) RuleParam { return RuleParam{Number: &v} }

// TextParam builds a string rule parameter.
func TextParam(v string) RuleParam { return RuleParam{Text: &v} }

// WindowParam builds an interval rule parameter.
func WindowParam(w TimeRange) RuleParam { return RuleParam{Window: &w} }

// IDListParam builds an id-list rule parameter.
func IDListParam(ids ...uuid.UUID) RuleParam { return RuleParam{IDs: ids} }

// Rule is a custom scheduling rule evaluated by the feasibility checker.
// Rules are data: the checker owns kind-specific evaluation.
type Rule struct {
	ID          string
	Kind        RuleKind
	Severity    Severity
	Scope       RuleScope
	Description string
	Params      map[string]RuleParam
}

// AppliesTo checks the rule scope against a placement.
func (r Rule) AppliesTo(p Placement) bool {
	if len(r.Scope.SurgeryTypeIDs) > 0 && !containsID(r.Scope.SurgeryTypeIDs, p.Surgery.TypeID) {
		return false
	}
	if len(r.Scope.RoomIDs) > 0 && !containsID(r.Scope.RoomIDs, p.Room.ID) {
		return false
	}
	if len(r.Scope.SurgeonIDs) > 0 {
		if p.Surgery.SurgeonID == nil || !containsID(r.Scope.SurgeonIDs, *p.Surgery.SurgeonID) {
			return false
		}
	}
	return true
}

// Param returns a named parameter and whether it exists.
func (r Rule) Param(name string) (RuleParam, bool) {
	p, ok := r.Params[name]
	return p, ok
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
