package services

import (
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/theatro/theatro/internal/scheduling/domain"
)

// Weights are the objective coefficients. Zero disables a term.
type Weights struct {
	Makespan float64
	Idle     float64
	Overtime float64
	Setup    float64
	Priority float64
	Unplaced float64
}

// DefaultWeights returns the standard objective configuration.
func DefaultWeights() Weights {
	return Weights{
		Makespan: 1.0,
		Idle:     0.5,
		Overtime: 2.0,
		Setup:    1.0,
		Priority: 0.1,
		Unplaced: 10000,
	}
}

// Breakdown itemizes a solution's cost by objective term. All time terms
// are in minutes before weighting.
type Breakdown struct {
	MakespanMinutes float64
	IdleMinutes     float64
	OvertimeMinutes float64
	SetupMinutes    float64
	PriorityPenalty float64
	UnplacedPenalty float64
	Total           float64
}

// Evaluator scores solutions. Lower is better. Scoring is pure: the same
// snapshot and solution always produce the same cost, which the optimizer's
// deterministic tie-breaking depends on.
type Evaluator struct {
	snap    *domain.Snapshot
	weights Weights
}

// NewEvaluator creates an evaluator over a run snapshot.
func NewEvaluator(snap *domain.Snapshot, weights Weights) *Evaluator {
	return &Evaluator{snap: snap, weights: weights}
}

// Cost returns the weighted total cost of a solution.
func (e *Evaluator) Cost(sol *domain.Solution) float64 {
	return e.Breakdown(sol).Total
}

// Breakdown computes every objective term for a solution.
func (e *Evaluator) Breakdown(sol *domain.Solution) Breakdown {
	b := Breakdown{
		MakespanMinutes: sol.Makespan().Minutes(),
		SetupMinutes:    float64(sol.TotalSetupMinutes()),
	}

	for _, roomID := range sol.RoomIDs() {
		room, ok := e.snap.Rooms[roomID]
		if !ok {
			continue
		}
		window := room.Window(e.snap.Date)
		seq := sol.RoomSequence(roomID)

		for i, a := range seq {
			if i > 0 {
				gap := a.SetupStart.Sub(seq[i-1].End)
				if gap > 0 {
					b.IdleMinutes += gap.Minutes()
				}
			}
			b.PriorityPenalty += e.priorityPenalty(a, window)
		}

		// Overtime is how far the room runs past close, not a per-case sum.
		if last := len(seq) - 1; last >= 0 && seq[last].End.After(window.End) {
			b.OvertimeMinutes += seq[last].End.Sub(window.End).Minutes()
		}
	}

	b.UnplacedPenalty = lo.SumBy(sol.Pending(), func(id uuid.UUID) float64 {
		surgery, ok := e.snap.Surgery(id)
		if !ok {
			return 1
		}
		return urgencyWeight(surgery.Urgency)
	})

	b.Total = e.weights.Makespan*b.MakespanMinutes +
		e.weights.Idle*b.IdleMinutes +
		e.weights.Overtime*b.OvertimeMinutes +
		e.weights.Setup*b.SetupMinutes +
		e.weights.Priority*b.PriorityPenalty +
		e.weights.Unplaced*b.UnplacedPenalty
	return b
}

// priorityPenalty charges every minute between a surgery becoming ready
// and knife to skin, weighted by urgency. The clock starts at arrival for
// an emergency and at the room open for a scheduled case.
func (e *Evaluator) priorityPenalty(a domain.Assignment, window domain.TimeRange) float64 {
	surgery, ok := e.snap.Surgery(a.SurgeryID)
	if !ok {
		return 0
	}
	ready := window.Start
	if surgery.ArrivalTime != nil && surgery.ArrivalTime.After(ready) {
		ready = *surgery.ArrivalTime
	}
	delay := a.OperationStart.Sub(ready).Minutes()
	if delay <= 0 {
		return 0
	}
	return urgencyWeight(surgery.Urgency) * delay
}

// urgencyWeight doubles per urgency step so an emergency outweighs any
// combination of routine cases.
func urgencyWeight(u domain.UrgencyLevel) float64 {
	switch u {
	case domain.UrgencyImmediate:
		return 8
	case domain.UrgencyUrgent:
		return 4
	case domain.UrgencySemiUrgent:
		return 2
	default:
		return 1
	}
}
