package cli

import (
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/theatro/theatro/internal/scheduling/application/commands"
	"github.com/theatro/theatro/internal/scheduling/application/queries"
)

// App holds the CLI application dependencies.
type App struct {
	// Schedule Command Handlers
	OptimizeScheduleHandler *commands.OptimizeScheduleHandler
	InsertEmergencyHandler  *commands.InsertEmergencyHandler

	// Schedule Query Handlers
	ValidateScheduleHandler *queries.ValidateScheduleHandler

	// TaskClient enqueues background optimization runs.
	TaskClient *asynq.Client

	// CurrentActorID identifies the operator behind CLI runs.
	CurrentActorID uuid.UUID
}

// app is the global CLI application instance
var app *App

// SetApp sets the global CLI application instance.
func SetApp(a *App) {
	app = a
}

// GetApp returns the global CLI application instance.
func GetApp() *App {
	return app
}
