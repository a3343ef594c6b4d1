package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/theatro/theatro/internal/scheduling/application/services"
)

const (
	// TypeScheduleOptimize is the task type for background optimization runs.
	TypeScheduleOptimize = "schedule:optimize"

	// QueueScheduling is the queue engine tasks are enqueued on.
	QueueScheduling = "scheduling"
)

// ScheduleOptimizePayload is the payload of a schedule:optimize task. The
// optional fields override the engine defaults for this run only.
type ScheduleOptimizePayload struct {
	Date    time.Time `json:"date"`
	ActorID uuid.UUID `json:"actor_id"`

	MaxIterations    *int              `json:"max_iterations,omitempty"`
	TabuTenure       *int              `json:"tabu_tenure,omitempty"`
	MaxNoImprovement *int              `json:"max_no_improvement,omitempty"`
	Weights          *services.Weights `json:"weights,omitempty"`
	AcceptPartial    bool              `json:"accept_partial,omitempty"`
}

// Overrides maps the payload's optional knobs onto run overrides.
func (p ScheduleOptimizePayload) Overrides() services.RunOverrides {
	return services.RunOverrides{
		MaxIterations:    p.MaxIterations,
		TabuTenure:       p.TabuTenure,
		MaxNoImprovement: p.MaxNoImprovement,
		Weights:          p.Weights,
	}
}

// NewScheduleOptimizeTask builds a task that optimizes one date's schedule.
func NewScheduleOptimizeTask(payload ScheduleOptimizePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeScheduleOptimize, data,
		asynq.Queue(QueueScheduling),
		asynq.MaxRetry(3),
		asynq.Timeout(3*time.Minute),
	), nil
}
