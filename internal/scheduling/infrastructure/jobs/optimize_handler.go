package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/theatro/theatro/internal/scheduling/application/commands"
	"github.com/theatro/theatro/internal/scheduling/domain"
	"github.com/theatro/theatro/pkg/observability"
)

// OptimizeTaskHandler runs optimization commands from the task queue.
type OptimizeTaskHandler struct {
	handler *commands.OptimizeScheduleHandler
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewOptimizeTaskHandler creates a new OptimizeTaskHandler.
func NewOptimizeTaskHandler(handler *commands.OptimizeScheduleHandler, logger *slog.Logger) *OptimizeTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OptimizeTaskHandler{
		handler: handler,
		logger:  logger,
		metrics: observability.NoopMetrics{},
	}
}

// WithMetrics replaces the handler's metrics collector.
func (h *OptimizeTaskHandler) WithMetrics(m observability.Metrics) *OptimizeTaskHandler {
	if m != nil {
		h.metrics = m
	}
	return h
}

// ProcessTask handles one schedule:optimize task. A full engine queue is
// retryable; bad payloads are not.
func (h *OptimizeTaskHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload ScheduleOptimizePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TypeScheduleOptimize, err, asynq.SkipRetry)
	}

	timer := observability.StartTimer(TypeScheduleOptimize).
		WithMetrics(h.metrics).
		WithTags(observability.T("queue", QueueScheduling))

	result, err := h.handler.Handle(ctx, commands.OptimizeScheduleCommand{
		Date:          payload.Date,
		ActorID:       payload.ActorID,
		Overrides:     payload.Overrides(),
		AcceptPartial: payload.AcceptPartial,
	})
	timer.StopWithError(err)
	if err != nil {
		if errors.Is(err, domain.ErrBusy) {
			h.logger.Info("engine queue full, task will retry",
				"date", payload.Date.Format("2006-01-02"))
			return err
		}
		if errors.Is(err, domain.ErrInvalidInput) {
			return fmt.Errorf("optimize %s: %v: %w",
				payload.Date.Format("2006-01-02"), err, asynq.SkipRetry)
		}
		return err
	}

	h.logger.Info("background optimization finished",
		"run_id", result.RunID,
		"date", payload.Date.Format("2006-01-02"),
		"assigned", result.AssignedCount,
		"pending", result.PendingCount,
		"cost", result.Cost,
		"persisted", result.Persisted,
	)
	return nil
}

// Mux returns an asynq mux with all scheduling task handlers registered.
func Mux(optimize *OptimizeTaskHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeScheduleOptimize, optimize.ProcessTask)
	return mux
}
