package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/theatro/theatro/internal/scheduling/domain"
)

// EmergencyStrategy names how an emergency was worked into the schedule.
type EmergencyStrategy string

const (
	StrategyGap        EmergencyStrategy = "gap"
	StrategyBackupRoom EmergencyStrategy = "backup_room"
	StrategyBump       EmergencyStrategy = "bump"
	StrategyOvertime   EmergencyStrategy = "overtime"
	StrategyManual     EmergencyStrategy = "manual"
)

// DisruptionWeights weigh the normalized components of the disruption
// score. They must sum to 1 for the score to stay within [0, 1].
type DisruptionWeights struct {
	Bumped   float64
	Overtime float64
	Wait     float64
}

// EmergencyConfig tunes the insertion ladder.
type EmergencyConfig struct {
	Disruption DisruptionWeights
	// CascadeIterations bounds the repair search after a bump.
	CascadeIterations int
}

// DefaultEmergencyConfig returns the standard insertion parameters.
func DefaultEmergencyConfig() EmergencyConfig {
	return EmergencyConfig{
		Disruption: DisruptionWeights{
			Bumped:   0.5,
			Overtime: 0.3,
			Wait:     0.2,
		},
		CascadeIterations: 25,
	}
}

// EmergencyOptions are the per-request switches on the insertion ladder.
// Fitting into an existing gap is always attempted; the more disruptive
// strategies run only when the request allows them.
type EmergencyOptions struct {
	AllowBumping     bool
	AllowOvertime    bool
	AllowBackupRooms bool
}

// DefaultEmergencyOptions permits every strategy.
func DefaultEmergencyOptions() EmergencyOptions {
	return EmergencyOptions{
		AllowBumping:     true,
		AllowOvertime:    true,
		AllowBackupRooms: true,
	}
}

// EmergencyResult describes how an emergency was inserted and what it cost
// the rest of the schedule.
type EmergencyResult struct {
	Solution        *domain.Solution
	Strategy        EmergencyStrategy
	Assignment      *domain.Assignment
	BumpedIDs       []uuid.UUID
	DelayedIDs      []uuid.UUID
	OvertimeMinutes float64
	DisruptionScore float64
	WaitMinutes     int
	ManualReason    string
}

// EmergencyHandler inserts an arriving emergency into a live schedule. It
// escalates through strategies in fixed order, from least to most
// disruptive: an existing gap, an unused room, bumping a lower-urgency
// case, overtime, and finally a manual escalation.
type EmergencyHandler struct {
	snap      *domain.Snapshot
	builder   *ScheduleBuilder
	evaluator *Evaluator
	config    EmergencyConfig

	// overtimeBuilder shares the snapshot but permits past-close placements.
	overtimeBuilder *ScheduleBuilder
	// cascade is a narrow-budget search used to repair the schedule after
	// a bump when a greedy replacement fails.
	cascade *TabuOptimizer

	logger *slog.Logger
}

// NewEmergencyHandler wires the ladder over a shared snapshot.
func NewEmergencyHandler(snap *domain.Snapshot, builder *ScheduleBuilder, evaluator *Evaluator, config EmergencyConfig, logger *slog.Logger) *EmergencyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	overtimeOpts := builder.checker.opts
	overtimeOpts.AllowOvertime = true
	overtimeChecker := NewFeasibilityChecker(snap, overtimeOpts, logger)
	cascadeConfig := TabuConfig{
		Tenure:           5,
		MaxIterations:    config.CascadeIterations,
		MaxNoImprovement: 5,
	}
	return &EmergencyHandler{
		snap:            snap,
		builder:         builder,
		evaluator:       evaluator,
		config:          config,
		overtimeBuilder: NewScheduleBuilder(snap, overtimeChecker, logger),
		cascade:         NewTabuOptimizer(snap, builder, builder.checker, evaluator, cascadeConfig, logger),
		logger:          logger,
	}
}

// MaxWaitMinutes returns how long a surgery of the given urgency may wait
// for its operation to begin.
func MaxWaitMinutes(s domain.Surgery) int {
	if s.MaxWaitMinutes != nil {
		return *s.MaxWaitMinutes
	}
	switch s.Urgency {
	case domain.UrgencyImmediate:
		return 15
	case domain.UrgencyUrgent:
		return 60
	case domain.UrgencySemiUrgent:
		return 240
	default:
		return 1440
	}
}

// Insert works an emergency into the schedule, trying each strategy in
// escalation order. The input solution is never mutated. When every
// automatic strategy fails, the result carries StrategyManual and the
// unmodified schedule; that is an outcome, not an error.
func (h *EmergencyHandler) Insert(ctx context.Context, emergency domain.Surgery, current *domain.Solution, now time.Time, opts EmergencyOptions) (EmergencyResult, error) {
	if err := emergency.Validate(); err != nil {
		return EmergencyResult{}, err
	}
	if !emergency.IsEmergency() {
		return EmergencyResult{}, fmt.Errorf("%w: surgery %s is not an emergency", domain.ErrInvalidInput, emergency.ID)
	}
	if err := ctx.Err(); err != nil {
		return EmergencyResult{}, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}

	deadline := now.Add(time.Duration(MaxWaitMinutes(emergency)) * time.Minute)

	type step struct {
		strategy EmergencyStrategy
		enabled  bool
		attempt  func() (EmergencyResult, bool)
	}
	ladder := []step{
		{StrategyGap, true, func() (EmergencyResult, bool) { return h.tryGap(emergency, current, now, deadline) }},
		{StrategyBackupRoom, opts.AllowBackupRooms, func() (EmergencyResult, bool) { return h.tryBackupRoom(emergency, current, now, deadline) }},
		{StrategyBump, opts.AllowBumping, func() (EmergencyResult, bool) { return h.tryBump(ctx, emergency, current, now, deadline) }},
		{StrategyOvertime, opts.AllowOvertime, func() (EmergencyResult, bool) { return h.tryOvertime(emergency, current, now, deadline) }},
	}

	for _, s := range ladder {
		if !s.enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return EmergencyResult{}, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
		}
		if result, ok := s.attempt(); ok {
			result.DisruptionScore = h.disruptionScore(result, emergency)
			h.logger.Info("emergency inserted",
				"surgery_id", emergency.ID,
				"strategy", result.Strategy,
				"wait_minutes", result.WaitMinutes,
				"bumped", len(result.BumpedIDs),
				"disruption", result.DisruptionScore,
			)
			return result, nil
		}
	}

	h.logger.Warn("emergency requires manual intervention",
		"surgery_id", emergency.ID,
		"urgency", emergency.Urgency.String(),
		"deadline", deadline,
	)
	return EmergencyResult{
		Solution:     current.Clone(),
		Strategy:     StrategyManual,
		ManualReason: fmt.Sprintf("no feasible placement before %s in any room, with or without bumping", deadline.Format("15:04")),
	}, nil
}

// tryGap looks for an existing gap in the rooms already carrying load.
func (h *EmergencyHandler) tryGap(emergency domain.Surgery, current *domain.Solution, now, deadline time.Time) (EmergencyResult, bool) {
	rooms := h.usedRooms(current, true)
	return h.placeIn(StrategyGap, emergency, current, rooms, h.builder, now, deadline)
}

// tryBackupRoom opens a room with no assignments yet.
func (h *EmergencyHandler) tryBackupRoom(emergency domain.Surgery, current *domain.Solution, now, deadline time.Time) (EmergencyResult, bool) {
	rooms := h.usedRooms(current, false)
	return h.placeIn(StrategyBackupRoom, emergency, current, rooms, h.builder, now, deadline)
}

// tryOvertime retries every room with the close-time constraint relaxed.
func (h *EmergencyHandler) tryOvertime(emergency domain.Surgery, current *domain.Solution, now, deadline time.Time) (EmergencyResult, bool) {
	result, ok := h.placeIn(StrategyOvertime, emergency, current, h.snap.OperationalRooms(), h.overtimeBuilder, now, deadline)
	if !ok {
		return EmergencyResult{}, false
	}
	result.OvertimeMinutes = h.overtimeMinutes(result.Solution)
	return result, true
}

// placeIn finds the earliest placement across candidate rooms meeting the
// deadline, without touching existing assignments.
func (h *EmergencyHandler) placeIn(strategy EmergencyStrategy, emergency domain.Surgery, current *domain.Solution, rooms []domain.OperatingRoom, builder *ScheduleBuilder, now, deadline time.Time) (EmergencyResult, bool) {
	var best domain.Placement
	found := false
	for _, room := range rooms {
		p, ok := builder.NextAvailable(emergency, room, current, now)
		if !ok || p.OperationStart().After(deadline) {
			continue
		}
		if !found || p.SetupStart.Before(best.SetupStart) ||
			(p.SetupStart.Equal(best.SetupStart) && p.Room.ID.String() < best.Room.ID.String()) {
			best = p
			found = true
		}
	}
	if !found {
		return EmergencyResult{}, false
	}

	solution := current.Clone()
	solution.AddPending(emergency.ID)
	a := best.ToAssignment()
	solution.Place(a)

	return EmergencyResult{
		Solution:    solution,
		Strategy:    strategy,
		Assignment:  &a,
		WaitMinutes: waitMinutes(now, a.OperationStart),
	}, true
}

// tryBump displaces the least-urgent overlapping case and reschedules it.
func (h *EmergencyHandler) tryBump(ctx context.Context, emergency domain.Surgery, current *domain.Solution, now, deadline time.Time) (EmergencyResult, bool) {
	victim, ok := h.pickVictim(emergency, current, now, deadline)
	if !ok {
		return EmergencyResult{}, false
	}

	solution := current.Clone()
	solution.Unplace(victim.SurgeryID)

	// The victim's neighbors keep their times; only the SDST chain around
	// the hole needs repair, which may push successors later.
	room, ok := h.snap.Rooms[victim.RoomID]
	if !ok {
		return EmergencyResult{}, false
	}
	if !h.repairRoomChain(room, solution) {
		return EmergencyResult{}, false
	}

	p, ok := h.builder.NextAvailable(emergency, room, solution, now)
	if !ok || p.OperationStart().After(deadline) {
		return EmergencyResult{}, false
	}
	solution.AddPending(emergency.ID)
	a := p.ToAssignment()
	solution.Place(a)
	if !h.repairRoomChain(room, solution) {
		return EmergencyResult{}, false
	}

	// Cascade: put the bumped case somewhere else if anywhere will take it,
	// first greedily, then with a narrow repair search. The victim counts
	// as bumped either way; the result records where it ended up.
	if victimSurgery, found := h.snap.Surgery(victim.SurgeryID); found {
		if rp, placed := h.builder.bestPlacement(victimSurgery, solution, h.snap.OperationalRooms()); placed {
			solution.Place(rp.ToAssignment())
		} else if repaired, rok := h.cascadeRepair(ctx, solution, emergency.ID, victim.SurgeryID, deadline); rok {
			solution = repaired
		}
	}

	result := EmergencyResult{
		Solution:    solution,
		Strategy:    StrategyBump,
		Assignment:  &a,
		BumpedIDs:   []uuid.UUID{victim.SurgeryID},
		DelayedIDs:  delayedSurgeries(current, solution, emergency.ID),
		WaitMinutes: waitMinutes(now, a.OperationStart),
	}
	return result, true
}

// repairRoomChain walks a room's sequence and fixes stale setup minutes and
// chain overlaps after a structural edit. Assignments never move earlier;
// ones pushed past the window return to pending. Returns false when the
// room ends up structurally unrepairable.
func (h *EmergencyHandler) repairRoomChain(room domain.OperatingRoom, sol *domain.Solution) bool {
	window := room.Window(h.snap.Date)
	allowOvertime := h.builder.checker.opts.AllowOvertime

	prevType := domain.NoneType
	var prevEnd time.Time
	var seq []domain.Assignment
	var evicted []uuid.UUID

	for _, a := range sol.RoomSequence(room.ID) {
		surgery, ok := h.snap.Surgery(a.SurgeryID)
		if !ok {
			return false
		}
		want := h.snap.SDST.SetupMinutes(prevType, surgery.TypeID)
		if a.AppliedSetupMinutes != want || a.SetupStart.Before(prevEnd) {
			setupStart := a.SetupStart
			if setupStart.Before(prevEnd) {
				setupStart = prevEnd
			}
			a = domain.Placement{
				Surgery:      surgery,
				Room:         room,
				SetupStart:   setupStart,
				SetupMinutes: want,
			}.ToAssignment()
		}
		if a.End.After(window.End) && !allowOvertime {
			evicted = append(evicted, a.SurgeryID)
			continue
		}
		seq = append(seq, a)
		prevEnd = a.End
		prevType = surgery.TypeID
	}

	sol.SetRoomSequence(room.ID, nil)
	for _, a := range seq {
		sol.Place(a)
	}
	for _, id := range evicted {
		sol.AddPending(id)
	}
	return true
}

// cascadeRepair runs the narrow search to find room for the bumped case.
// The repair only counts when the emergency keeps its deadline and the
// bumped surgery ends up placed.
func (h *EmergencyHandler) cascadeRepair(ctx context.Context, solution *domain.Solution, emergencyID, bumpedID uuid.UUID, deadline time.Time) (*domain.Solution, bool) {
	result, err := h.cascade.Optimize(ctx, solution)
	if err != nil {
		h.logger.Debug("cascade repair failed", "error", err)
		return nil, false
	}
	repaired := result.Solution
	e, _, _, ok := repaired.Find(emergencyID)
	if !ok || e.OperationStart.After(deadline) {
		return nil, false
	}
	if _, _, _, ok := repaired.Find(bumpedID); !ok {
		return nil, false
	}
	return repaired, true
}

// pickVictim chooses the bump target: the least urgent, then lowest
// priority, then latest-starting assignment overlapping the emergency's
// feasible window, and only ever a strictly less urgent case.
func (h *EmergencyHandler) pickVictim(emergency domain.Surgery, current *domain.Solution, now, deadline time.Time) (domain.Assignment, bool) {
	needWindow := domain.TimeRange{Start: now, End: deadline.Add(emergency.Duration)}

	var victim domain.Assignment
	var victimSurgery domain.Surgery
	found := false
	for _, a := range current.Assignments() {
		surgery, ok := h.snap.Surgery(a.SurgeryID)
		if !ok || surgery.Urgency >= emergency.Urgency {
			continue
		}
		if surgery.Status == domain.SurgeryStatusInProgress {
			continue
		}
		if !a.Interval().Overlaps(needWindow) {
			continue
		}
		if !found ||
			surgery.Urgency < victimSurgery.Urgency ||
			(surgery.Urgency == victimSurgery.Urgency && surgery.Priority < victimSurgery.Priority) ||
			(surgery.Urgency == victimSurgery.Urgency && surgery.Priority == victimSurgery.Priority &&
				a.OperationStart.After(victim.OperationStart)) {
			victim = a
			victimSurgery = surgery
			found = true
		}
	}
	return victim, found
}

// usedRooms splits operational rooms by whether they already hold
// assignments in the current solution.
func (h *EmergencyHandler) usedRooms(sol *domain.Solution, used bool) []domain.OperatingRoom {
	var rooms []domain.OperatingRoom
	for _, room := range h.snap.OperationalRooms() {
		hasLoad := len(sol.RoomSequence(room.ID)) > 0
		if hasLoad == used {
			rooms = append(rooms, room)
		}
	}
	return rooms
}

func (h *EmergencyHandler) overtimeMinutes(sol *domain.Solution) float64 {
	total := 0.0
	for _, roomID := range sol.RoomIDs() {
		room, ok := h.snap.Rooms[roomID]
		if !ok {
			continue
		}
		closeAt := room.Window(h.snap.Date).End
		for _, a := range sol.RoomSequence(roomID) {
			if a.End.After(closeAt) {
				total += a.End.Sub(closeAt).Minutes()
			}
		}
	}
	return total
}

// disruptionScore summarizes an insertion's fallout in [0, 1]: the share
// of scheduled cases bumped, overtime relative to the day's total room
// capacity, and the emergency's wait relative to its allowed maximum.
func (h *EmergencyHandler) disruptionScore(r EmergencyResult, emergency domain.Surgery) float64 {
	w := h.config.Disruption
	score := 0.0
	if total := r.Solution.AssignmentCount(); total > 0 {
		score += w.Bumped * clampRatio(float64(len(r.BumpedIDs)), float64(total))
	}
	if capacity := h.dailyCapacityMinutes(); capacity > 0 {
		score += w.Overtime * clampRatio(r.OvertimeMinutes, capacity)
	}
	if maxWait := MaxWaitMinutes(emergency); maxWait > 0 {
		score += w.Wait * clampRatio(float64(r.WaitMinutes), float64(maxWait))
	}
	return score
}

// dailyCapacityMinutes is the summed open-to-close span of every
// operational room on the snapshot date.
func (h *EmergencyHandler) dailyCapacityMinutes() float64 {
	total := 0.0
	for _, room := range h.snap.OperationalRooms() {
		w := room.Window(h.snap.Date)
		total += w.End.Sub(w.Start).Minutes()
	}
	return total
}

func clampRatio(a, b float64) float64 {
	r := a / b
	if r > 1 {
		return 1
	}
	if r < 0 {
		return 0
	}
	return r
}

// delayedSurgeries lists surgeries whose operation start moved later
// between two schedules.
func delayedSurgeries(before, after *domain.Solution, exclude uuid.UUID) []uuid.UUID {
	var delayed []uuid.UUID
	for _, a := range before.Assignments() {
		if a.SurgeryID == exclude {
			continue
		}
		b, _, _, ok := after.Find(a.SurgeryID)
		if ok && b.OperationStart.After(a.OperationStart) {
			delayed = append(delayed, a.SurgeryID)
		}
	}
	return delayed
}

func waitMinutes(now, operationStart time.Time) int {
	wait := operationStart.Sub(now)
	if wait < 0 {
		return 0
	}
	return int(wait.Minutes())
}
