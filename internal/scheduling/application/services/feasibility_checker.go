package services

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/theatro/theatro/internal/scheduling/domain"
)

// CheckOptions tunes how the feasibility checker evaluates placements.
type CheckOptions struct {
	// FastFail stops rule evaluation at the first critical violation.
	FastFail bool
	// AllowOvertime downgrades past-close placements to a warning.
	AllowOvertime bool
	// EquipmentContentionFromSetup widens equipment contention to
	// [setupStart, end) instead of [operationStart, end).
	EquipmentContentionFromSetup bool
}

// DefaultCheckOptions returns the documented defaults.
func DefaultCheckOptions() CheckOptions {
	return CheckOptions{
		FastFail:                     false,
		AllowOvertime:                false,
		EquipmentContentionFromSetup: true,
	}
}

// CustomRuleFunc evaluates a custom-kind rule against a placement. A false
// result records a violation of the rule's severity.
type CustomRuleFunc func(p domain.Placement, sol *domain.Solution) bool

// FeasibilityChecker evaluates candidate placements against hard
// constraints and the configured rule set. It is read-only over the run
// snapshot and safe for concurrent use.
type FeasibilityChecker struct {
	snap        *domain.Snapshot
	opts        CheckOptions
	customRules map[string]CustomRuleFunc
	logger      *slog.Logger
}

// NewFeasibilityChecker creates a checker over a run snapshot.
func NewFeasibilityChecker(snap *domain.Snapshot, opts CheckOptions, logger *slog.Logger) *FeasibilityChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeasibilityChecker{
		snap:        snap,
		opts:        opts,
		customRules: make(map[string]CustomRuleFunc),
		logger:      logger,
	}
}

// RegisterCustomRule installs the evaluation function for a custom rule id.
func (c *FeasibilityChecker) RegisterCustomRule(ruleID string, fn CustomRuleFunc) {
	c.customRules[ruleID] = fn
}

// Check evaluates a placement against the built-in hard constraints and the
// rule set. Domain-level problems (missing resources, busy rooms) become
// violations, never errors; the returned error marks only malformed input,
// which is a bug upstream.
func (c *FeasibilityChecker) Check(p domain.Placement, sol *domain.Solution) (domain.Verdict, error) {
	if err := p.Surgery.Validate(); err != nil {
		return domain.Verdict{}, err
	}
	if p.SetupMinutes < 0 {
		return domain.Verdict{}, fmt.Errorf("%w: negative setup minutes", domain.ErrInvariantViolation)
	}

	verdict := domain.FeasibleVerdict()

	c.checkRoom(p, sol, &verdict)
	if c.shortCircuit(verdict) {
		return verdict, nil
	}
	c.checkRoomHours(p, &verdict)
	if c.shortCircuit(verdict) {
		return verdict, nil
	}
	c.checkEquipment(p, sol, &verdict)
	if c.shortCircuit(verdict) {
		return verdict, nil
	}
	c.checkSurgeon(p, sol, &verdict)
	if c.shortCircuit(verdict) {
		return verdict, nil
	}
	c.checkStaff(p, sol, &verdict)
	if c.shortCircuit(verdict) {
		return verdict, nil
	}
	c.checkSetupChain(p, sol, &verdict)
	if c.shortCircuit(verdict) {
		return verdict, nil
	}
	c.checkRules(p, sol, &verdict)

	return verdict, nil
}

// CheckSchedule evaluates every assignment of a solution for a date and
// aggregates the verdicts into a report.
func (c *FeasibilityChecker) CheckSchedule(sol *domain.Solution, date time.Time) (domain.ScheduleReport, error) {
	start := time.Now()
	report := domain.ScheduleReport{Date: date, Feasible: true}

	for _, roomID := range sol.RoomIDs() {
		room, ok := c.snap.Rooms[roomID]
		if !ok {
			return domain.ScheduleReport{}, fmt.Errorf("%w: assignment in unknown room %s", domain.ErrInvariantViolation, roomID)
		}
		for _, a := range sol.RoomSequence(roomID) {
			surgery, ok := c.snap.Surgery(a.SurgeryID)
			if !ok {
				return domain.ScheduleReport{}, fmt.Errorf("%w: assignment for unknown surgery %s", domain.ErrInvariantViolation, a.SurgeryID)
			}

			// Check each assignment as if it were being placed with the
			// rest of the schedule around it.
			rest := sol.Clone()
			rest.Unplace(a.SurgeryID)
			placement := domain.Placement{
				Surgery:      surgery,
				Room:         room,
				SetupStart:   a.SetupStart,
				SetupMinutes: a.AppliedSetupMinutes,
			}
			verdict, err := c.Check(placement, rest)
			if err != nil {
				return domain.ScheduleReport{}, err
			}
			report.CheckedCount++
			if !verdict.Feasible {
				report.Feasible = false
			}
			report.Violations = append(report.Violations, verdict.Violations...)
			report.Warnings = append(report.Warnings, verdict.Warnings...)
		}
	}

	for _, v := range report.Violations {
		report.Recommendations = append(report.Recommendations, v.SuggestedActions...)
	}
	report.CheckDuration = time.Since(start)
	return report, nil
}

func (c *FeasibilityChecker) shortCircuit(v domain.Verdict) bool {
	return c.opts.FastFail && !v.Feasible
}

// checkRoom covers room status, maintenance, and overlap with the room's
// existing sequence.
func (c *FeasibilityChecker) checkRoom(p domain.Placement, sol *domain.Solution, verdict *domain.Verdict) {
	interval := p.Interval()

	if !p.Room.IsOperational() {
		verdict.AddViolation(domain.Violation{
			Kind:        domain.ViolationRoomAvailability,
			Severity:    domain.SeverityCritical,
			Description: fmt.Sprintf("room %s is %s", p.Room.Name, p.Room.Status),
			SurgeryID:   ptr(p.Surgery.ID),
			RoomID:      ptr(p.Room.ID),
			SuggestedActions: []string{
				"pick an active room",
			},
		})
		return
	}

	if p.Room.UnderMaintenanceDuring(interval) {
		verdict.AddViolation(domain.Violation{
			Kind:        domain.ViolationRoomAvailability,
			Severity:    domain.SeverityCritical,
			Description: fmt.Sprintf("room %s under maintenance during placement", p.Room.Name),
			SurgeryID:   ptr(p.Surgery.ID),
			RoomID:      ptr(p.Room.ID),
		})
	}

	for _, a := range sol.RoomSequence(p.Room.ID) {
		if a.SurgeryID != p.Surgery.ID && a.Interval().Overlaps(interval) {
			verdict.AddViolation(domain.Violation{
				Kind:        domain.ViolationRoomAvailability,
				Severity:    domain.SeverityCritical,
				Description: fmt.Sprintf("room %s occupied by surgery %s", p.Room.Name, a.SurgeryID),
				SurgeryID:   ptr(p.Surgery.ID),
				RoomID:      ptr(p.Room.ID),
				SuggestedActions: []string{
					"shift the placement past the occupying assignment",
				},
			})
			return
		}
	}
}

// checkRoomHours enforces the operational window, downgrading an overrun of
// the close time to a warning when overtime is permitted.
func (c *FeasibilityChecker) checkRoomHours(p domain.Placement, verdict *domain.Verdict) {
	window := p.Room.Window(c.snap.Date)
	interval := p.Interval()

	if window.Covers(interval) {
		return
	}

	overrunOnly := !interval.Start.Before(window.Start) && interval.End.After(window.End)
	if overrunOnly && c.opts.AllowOvertime {
		verdict.AddViolation(domain.Violation{
			Kind:        domain.ViolationRoomHours,
			Severity:    domain.SeverityHigh,
			Description: fmt.Sprintf("placement runs %s past room close", interval.End.Sub(window.End)),
			SurgeryID:   ptr(p.Surgery.ID),
			RoomID:      ptr(p.Room.ID),
		})
		return
	}

	verdict.AddViolation(domain.Violation{
		Kind:        domain.ViolationRoomHours,
		Severity:    domain.SeverityCritical,
		Description: fmt.Sprintf("placement outside room hours [%s, %s)", window.Start.Format("15:04"), window.End.Format("15:04")),
		SurgeryID:   ptr(p.Surgery.ID),
		RoomID:      ptr(p.Room.ID),
		SuggestedActions: []string{
			"move the surgery within operational hours",
			"enable overtime for this run",
		},
	})
}

// checkEquipment enforces availability, maintenance windows, and the
// concurrency cap of every required equipment item.
func (c *FeasibilityChecker) checkEquipment(p domain.Placement, sol *domain.Solution, verdict *domain.Verdict) {
	contention := p.OperationInterval()
	if c.opts.EquipmentContentionFromSetup {
		contention = p.Interval()
	}

	for _, equipmentID := range p.Surgery.EquipmentIDs {
		equipment, ok := c.snap.Equipment[equipmentID]
		if !ok {
			verdict.AddViolation(domain.Violation{
				Kind:        domain.ViolationEquipmentAvailability,
				Severity:    domain.SeverityCritical,
				Description: fmt.Sprintf("required equipment %s not in catalog", equipmentID),
				SurgeryID:   ptr(p.Surgery.ID),
				EquipmentID: ptr(equipmentID),
			})
			continue
		}

		if !equipment.Available {
			verdict.AddViolation(domain.Violation{
				Kind:        domain.ViolationEquipmentAvailability,
				Severity:    domain.SeverityCritical,
				Description: fmt.Sprintf("equipment %s unavailable", equipment.Type),
				SurgeryID:   ptr(p.Surgery.ID),
				EquipmentID: ptr(equipmentID),
			})
			continue
		}

		if equipment.UnderMaintenanceDuring(contention) {
			verdict.AddViolation(domain.Violation{
				Kind:        domain.ViolationEquipmentAvailability,
				Severity:    domain.SeverityCritical,
				Description: fmt.Sprintf("equipment %s under maintenance during placement", equipment.Type),
				SurgeryID:   ptr(p.Surgery.ID),
				EquipmentID: ptr(equipmentID),
				SuggestedActions: []string{
					"schedule after the maintenance window",
				},
			})
			continue
		}

		if equipment.RoomID != nil && *equipment.RoomID != p.Room.ID {
			verdict.AddViolation(domain.Violation{
				Kind:        domain.ViolationEquipmentAvailability,
				Severity:    domain.SeverityCritical,
				Description: fmt.Sprintf("equipment %s is bound to another room", equipment.Type),
				SurgeryID:   ptr(p.Surgery.ID),
				EquipmentID: ptr(equipmentID),
				RoomID:      ptr(p.Room.ID),
			})
			continue
		}

		inUse := c.concurrentEquipmentUse(equipmentID, contention, sol, p.Surgery.ID)
		if inUse >= equipment.EffectiveCap() {
			verdict.AddViolation(domain.Violation{
				Kind:        domain.ViolationEquipmentAvailability,
				Severity:    domain.SeverityCritical,
				Description: fmt.Sprintf("equipment %s at concurrency cap (%d)", equipment.Type, equipment.EffectiveCap()),
				SurgeryID:   ptr(p.Surgery.ID),
				EquipmentID: ptr(equipmentID),
			})
		}
	}
}

func (c *FeasibilityChecker) concurrentEquipmentUse(equipmentID uuid.UUID, contention domain.TimeRange, sol *domain.Solution, excludeSurgery uuid.UUID) int {
	count := 0
	for _, a := range sol.Assignments() {
		if a.SurgeryID == excludeSurgery {
			continue
		}
		other, ok := c.snap.Surgery(a.SurgeryID)
		if !ok {
			continue
		}
		if !requiresEquipment(other, equipmentID) {
			continue
		}
		otherInterval := a.OperationInterval()
		if c.opts.EquipmentContentionFromSetup {
			otherInterval = a.Interval()
		}
		if otherInterval.Overlaps(contention) {
			count++
		}
	}
	return count
}

// checkSurgeon enforces the required surgeon's exclusivity, availability,
// qualification, and daily-hour cap. Setup time does not block the surgeon.
func (c *FeasibilityChecker) checkSurgeon(p domain.Placement, sol *domain.Solution, verdict *domain.Verdict) {
	if p.Surgery.SurgeonID == nil {
		return
	}
	surgeonID := *p.Surgery.SurgeonID
	operation := p.OperationInterval()

	surgeon, ok := c.snap.Staff[surgeonID]
	if !ok {
		verdict.AddViolation(domain.Violation{
			Kind:        domain.ViolationSurgeonAvailability,
			Severity:    domain.SeverityCritical,
			Description: fmt.Sprintf("required surgeon %s not in catalog", surgeonID),
			SurgeryID:   ptr(p.Surgery.ID),
			StaffID:     ptr(surgeonID),
		})
		return
	}

	if !surgeon.QualifiedFor(p.Surgery.TypeID) {
		verdict.AddViolation(domain.Violation{
			Kind:        domain.ViolationQualification,
			Severity:    domain.SeverityCritical,
			Description: fmt.Sprintf("surgeon %s not qualified for this surgery type", surgeon.Name),
			SurgeryID:   ptr(p.Surgery.ID),
			StaffID:     ptr(surgeonID),
			SuggestedActions: []string{
				"assign a qualified surgeon",
			},
		})
	}

	if !surgeon.AvailableDuring(operation) {
		verdict.AddViolation(domain.Violation{
			Kind:        domain.ViolationSurgeonAvailability,
			Severity:    domain.SeverityCritical,
			Description: fmt.Sprintf("surgeon %s unavailable during operation", surgeon.Name),
			SurgeryID:   ptr(p.Surgery.ID),
			StaffID:     ptr(surgeonID),
		})
	}

	busyMinutes := 0
	for _, a := range sol.Assignments() {
		if a.SurgeryID == p.Surgery.ID {
			continue
		}
		other, ok := c.snap.Surgery(a.SurgeryID)
		if !ok || other.SurgeonID == nil || *other.SurgeonID != surgeonID {
			continue
		}
		if a.OperationInterval().Overlaps(operation) {
			verdict.AddViolation(domain.Violation{
				Kind:        domain.ViolationSurgeonAvailability,
				Severity:    domain.SeverityCritical,
				Description: fmt.Sprintf("surgeon %s already operating on surgery %s", surgeon.Name, a.SurgeryID),
				SurgeryID:   ptr(p.Surgery.ID),
				StaffID:     ptr(surgeonID),
				SuggestedActions: []string{
					"shift the placement past the surgeon's other case",
				},
			})
			return
		}
		busyMinutes += int(a.OperationInterval().Duration().Minutes())
	}

	if surgeon.DailyHourCap > 0 {
		total := busyMinutes + int(operation.Duration().Minutes())
		if total > int(surgeon.DailyHourCap.Minutes()) {
			verdict.AddViolation(domain.Violation{
				Kind:        domain.ViolationSurgeonAvailability,
				Severity:    domain.SeverityCritical,
				Description: fmt.Sprintf("surgeon %s would exceed daily hour cap", surgeon.Name),
				SurgeryID:   ptr(p.Surgery.ID),
				StaffID:     ptr(surgeonID),
			})
		}
	}
}

// checkStaff verifies each required role has a free, available member for
// the operation interval.
func (c *FeasibilityChecker) checkStaff(p domain.Placement, sol *domain.Solution, verdict *domain.Verdict) {
	operation := p.OperationInterval()

	for _, role := range p.Surgery.RequiredRoles {
		members := c.snap.StaffWithRole(role)

		available := 0
		for _, m := range members {
			if m.AvailableDuring(operation) {
				available++
			}
		}
		if available == 0 {
			verdict.AddViolation(domain.Violation{
				Kind:        domain.ViolationStaffAvailability,
				Severity:    domain.SeverityCritical,
				Description: fmt.Sprintf("no %s available during operation", role),
				SurgeryID:   ptr(p.Surgery.ID),
			})
			continue
		}

		// Concurrent demand for the role across the rest of the schedule.
		busy := 0
		for _, a := range sol.Assignments() {
			if a.SurgeryID == p.Surgery.ID {
				continue
			}
			other, ok := c.snap.Surgery(a.SurgeryID)
			if !ok {
				continue
			}
			if requiresRole(other, role) && a.OperationInterval().Overlaps(operation) {
				busy++
			}
		}
		if busy >= available {
			verdict.AddViolation(domain.Violation{
				Kind:        domain.ViolationStaffAvailability,
				Severity:    domain.SeverityCritical,
				Description: fmt.Sprintf("all %d %s staff concurrently assigned", available, role),
				SurgeryID:   ptr(p.Surgery.ID),
				SuggestedActions: []string{
					"stagger surgeries requiring this role",
				},
			})
		}
	}
}

// checkSetupChain verifies the placement respects its predecessor: correct
// SDST minutes and no start before the predecessor releases the room.
func (c *FeasibilityChecker) checkSetupChain(p domain.Placement, sol *domain.Solution, verdict *domain.Verdict) {
	prevType := domain.NoneType
	var prevEnd time.Time

	for _, a := range sol.RoomSequence(p.Room.ID) {
		if a.SurgeryID == p.Surgery.ID {
			continue
		}
		if !a.SetupStart.After(p.SetupStart) && a.End.After(prevEnd) {
			prevEnd = a.End
			prevType = c.snap.TypeOf(a.SurgeryID)
		}
	}

	wantSetup := c.snap.SDST.SetupMinutes(prevType, p.Surgery.TypeID)
	if p.SetupMinutes != wantSetup {
		verdict.AddViolation(domain.Violation{
			Kind:        domain.ViolationSetupTime,
			Severity:    domain.SeverityCritical,
			Description: fmt.Sprintf("applied setup %dm, transition requires %dm", p.SetupMinutes, wantSetup),
			SurgeryID:   ptr(p.Surgery.ID),
			RoomID:      ptr(p.Room.ID),
		})
	}

	if !prevEnd.IsZero() && p.SetupStart.Before(prevEnd) {
		verdict.AddViolation(domain.Violation{
			Kind:        domain.ViolationSetupTime,
			Severity:    domain.SeverityCritical,
			Description: "setup starts before the previous surgery releases the room",
			SurgeryID:   ptr(p.Surgery.ID),
			RoomID:      ptr(p.Room.ID),
		})
	}
}

// checkRules evaluates the custom rule set in ascending severity order.
func (c *FeasibilityChecker) checkRules(p domain.Placement, sol *domain.Solution, verdict *domain.Verdict) {
	rules := append([]domain.Rule(nil), c.snap.Rules...)
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Severity < rules[j].Severity
	})

	for _, rule := range rules {
		if !rule.AppliesTo(p) {
			continue
		}
		if violated, description := c.evaluateRule(rule, p, sol); violated {
			verdict.AddViolation(domain.Violation{
				RuleID:      rule.ID,
				Kind:        domain.ViolationCustomRule,
				Severity:    rule.Severity,
				Description: description,
				SurgeryID:   ptr(p.Surgery.ID),
				RoomID:      ptr(p.Room.ID),
			})
			if c.opts.FastFail && rule.Severity == domain.SeverityCritical {
				return
			}
		}
	}
}

func (c *FeasibilityChecker) evaluateRule(rule domain.Rule, p domain.Placement, sol *domain.Solution) (bool, string) {
	switch rule.Kind {
	case domain.RuleKindTimeWindow:
		param, ok := rule.Param("window")
		if !ok || param.Window == nil {
			return false, ""
		}
		if !param.Window.Covers(p.OperationInterval()) {
			return true, fmt.Sprintf("rule %s: operation outside allowed window", rule.ID)
		}

	case domain.RuleKindResourceRestriction:
		if param, ok := rule.Param("allowed_rooms"); ok && len(param.IDs) > 0 {
			allowed := false
			for _, id := range param.IDs {
				if id == p.Room.ID {
					allowed = true
					break
				}
			}
			if !allowed {
				return true, fmt.Sprintf("rule %s: room not allowed for this surgery", rule.ID)
			}
		}
		if param, ok := rule.Param("forbidden_equipment"); ok {
			for _, forbidden := range param.IDs {
				if requiresEquipment(p.Surgery, forbidden) {
					return true, fmt.Sprintf("rule %s: surgery uses restricted equipment", rule.ID)
				}
			}
		}

	case domain.RuleKindDurationBound:
		minutes := p.Surgery.Duration.Minutes()
		if param, ok := rule.Param("max_minutes"); ok && param.Number != nil && minutes > *param.Number {
			return true, fmt.Sprintf("rule %s: duration %.0fm exceeds bound %.0fm", rule.ID, minutes, *param.Number)
		}
		if param, ok := rule.Param("min_minutes"); ok && param.Number != nil && minutes < *param.Number {
			return true, fmt.Sprintf("rule %s: duration %.0fm under bound %.0fm", rule.ID, minutes, *param.Number)
		}

	case domain.RuleKindForbiddenTransition:
		fromParam, okFrom := rule.Param("from_type")
		toParam, okTo := rule.Param("to_type")
		if !okFrom || !okTo || len(fromParam.IDs) == 0 || len(toParam.IDs) == 0 {
			return false, ""
		}
		prevType := c.predecessorType(p, sol)
		if prevType == domain.NoneType {
			return false, ""
		}
		if containsAny(fromParam.IDs, prevType) && containsAny(toParam.IDs, p.Surgery.TypeID) {
			return true, fmt.Sprintf("rule %s: forbidden type transition in room", rule.ID)
		}

	case domain.RuleKindCustom:
		fn, ok := c.customRules[rule.ID]
		if !ok {
			// Unregistered custom rules are inert rather than fatal.
			c.logger.Debug("custom rule has no registered evaluator", "rule_id", rule.ID)
			return false, ""
		}
		if !fn(p, sol) {
			description := rule.Description
			if description == "" {
				description = fmt.Sprintf("rule %s violated", rule.ID)
			}
			return true, description
		}
	}
	return false, ""
}

func (c *FeasibilityChecker) predecessorType(p domain.Placement, sol *domain.Solution) uuid.UUID {
	prevType := domain.NoneType
	var prevEnd time.Time
	for _, a := range sol.RoomSequence(p.Room.ID) {
		if a.SurgeryID == p.Surgery.ID {
			continue
		}
		if !a.SetupStart.After(p.SetupStart) && a.End.After(prevEnd) {
			prevEnd = a.End
			prevType = c.snap.TypeOf(a.SurgeryID)
		}
	}
	return prevType
}

func requiresEquipment(s domain.Surgery, equipmentID uuid.UUID) bool {
	for _, id := range s.EquipmentIDs {
		if id == equipmentID {
			return true
		}
	}
	return false
}

func requiresRole(s domain.Surgery, role string) bool {
	for _, r := range s.RequiredRoles {
		if r == role {
			return true
		}
	}
	return false
}

func containsAny(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func ptr(id uuid.UUID) *uuid.UUID { return &id }
