package queries

import (
	"context"
	"log/slog"
	"time"

	"github.com/theatro/theatro/internal/scheduling/application/services"
	"github.com/theatro/theatro/internal/scheduling/domain"
)

// ValidateScheduleQuery requests a feasibility report for a date's
// persisted schedule.
type ValidateScheduleQuery struct {
	Date time.Time
}

// ValidateScheduleHandler handles the ValidateScheduleQuery. It is
// read-only: nothing is locked and nothing is written.
type ValidateScheduleHandler struct {
	loader *services.SnapshotLoader
	engine *services.Engine
	logger *slog.Logger
}

// NewValidateScheduleHandler creates a new ValidateScheduleHandler.
func NewValidateScheduleHandler(loader *services.SnapshotLoader, engine *services.Engine, logger *slog.Logger) *ValidateScheduleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ValidateScheduleHandler{loader: loader, engine: engine, logger: logger}
}

// Handle executes the ValidateScheduleQuery.
func (h *ValidateScheduleHandler) Handle(ctx context.Context, query ValidateScheduleQuery) (*domain.ScheduleReport, error) {
	loaded, err := h.loader.Load(ctx, query.Date)
	if err != nil {
		return nil, err
	}

	report, err := h.engine.Validate(loaded.Snapshot, loaded.Current)
	if err != nil {
		return nil, err
	}

	h.logger.Info("schedule validated",
		"date", query.Date.Format("2006-01-02"),
		"checked", report.CheckedCount,
		"feasible", report.Feasible,
		"violations", len(report.Violations),
		"warnings", len(report.Warnings),
		"duration_ms", report.CheckDuration.Milliseconds(),
	)
	return &report, nil
}
