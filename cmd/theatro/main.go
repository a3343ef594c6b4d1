package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/theatro/theatro/adapter/cli"
	"github.com/theatro/theatro/adapter/cli/schedule"
	"github.com/theatro/theatro/internal/app"
	"github.com/theatro/theatro/pkg/config"
	"github.com/theatro/theatro/pkg/observability"
)

func main() {
	// Setup logger
	logger := observability.LoggerFromEnv()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Warn("failed to load config, using development mode", "error", err)
		cfg = &config.Config{AppEnv: "development"}
	}

	// Update logger level based on config
	if cfg.IsDevelopment() {
		logger = observability.NewLogger(observability.LogConfig{
			Level:       observability.LogLevelDebug,
			Format:      observability.LogFormatText,
			ServiceName: "theatro",
		})
	}
	cli.SetLogger(logger)

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		if cfg.IsDevelopment() {
			// Commands degrade to a hint about starting services.
			logger.Warn("failed to initialize container, running in limited mode", "error", err)
		} else {
			logger.Error("failed to initialize container", "error", err)
			os.Exit(1)
		}
	} else {
		defer container.Close()

		if cfg.OutboxProcessorEnabled {
			if err := container.OutboxProcessor.Start(ctx); err != nil {
				logger.Warn("failed to start outbox processor", "error", err)
			}
		}

		actorID := uuid.Nil
		if raw := os.Getenv("THEATRO_ACTOR_ID"); raw != "" {
			if parsed, err := uuid.Parse(raw); err == nil {
				actorID = parsed
			}
		}

		cli.SetApp(&cli.App{
			OptimizeScheduleHandler: container.OptimizeScheduleHandler,
			InsertEmergencyHandler:  container.InsertEmergencyHandler,
			ValidateScheduleHandler: container.ValidateScheduleHandler,
			TaskClient:              container.TaskClient,
			CurrentActorID:          actorID,
		})
	}

	cli.AddCommand(schedule.Cmd)
	cli.ExecuteContext(ctx)
}
