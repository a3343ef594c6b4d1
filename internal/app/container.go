package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	scheduleCommands "github.com/theatro/theatro/internal/scheduling/application/commands"
	scheduleQueries "github.com/theatro/theatro/internal/scheduling/application/queries"
	"github.com/theatro/theatro/internal/scheduling/application/services"
	schedulingDomain "github.com/theatro/theatro/internal/scheduling/domain"
	schedulePersistence "github.com/theatro/theatro/internal/scheduling/infrastructure/persistence"
	sharedApplication "github.com/theatro/theatro/internal/shared/application"
	"github.com/theatro/theatro/internal/shared/infrastructure/eventbus"
	"github.com/theatro/theatro/internal/shared/infrastructure/outbox"
	sharedPersistence "github.com/theatro/theatro/internal/shared/infrastructure/persistence"
	"github.com/theatro/theatro/pkg/config"
	"github.com/theatro/theatro/pkg/observability"
)

// Container holds all application dependencies.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	// Database
	DB *pgxpool.Pool

	// Redis
	RedisClient *redis.Client

	// Repositories
	SchedulingRepo schedulingDomain.SchedulingRepository
	OutboxRepo     outbox.Repository

	// Publisher
	EventPublisher eventbus.Publisher

	// Unit of Work
	UnitOfWork sharedApplication.UnitOfWork

	// Engine
	Engine  *services.Engine
	RunGate *services.RunGate
	Loader  *services.SnapshotLoader

	// Command Handlers
	OptimizeScheduleHandler *scheduleCommands.OptimizeScheduleHandler
	InsertEmergencyHandler  *scheduleCommands.InsertEmergencyHandler

	// Query Handlers
	ValidateScheduleHandler *scheduleQueries.ValidateScheduleHandler

	// Background processing
	OutboxProcessor *outbox.Processor
	TaskClient      *asynq.Client

	// Observability
	Metrics *observability.InMemoryMetrics
	Health  *observability.HealthRegistry
}

// NewContainer wires all application dependencies.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)

	// Repository stack: postgres at the bottom, circuit breaker in the
	// middle, matrix cache on top.
	var repo schedulingDomain.SchedulingRepository
	repo = schedulePersistence.NewBreakerRepository(
		schedulePersistence.NewPostgresRepository(pool), logger)
	if cfg.SDSTCacheEnabled {
		repo = schedulePersistence.NewSDSTCache(repo, redisClient, logger)
	}

	outboxRepo := outbox.NewPostgresRepository(pool)
	uow := sharedPersistence.NewPostgresUnitOfWork(pool)

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, err
	}

	processor := outbox.NewProcessor(outboxRepo, publisher, outbox.ProcessorConfig{
		PollInterval:     cfg.OutboxPollInterval,
		BatchSize:        cfg.OutboxBatchSize,
		MaxRetries:       cfg.OutboxMaxRetries,
		RetryBackoffBase: outbox.DefaultProcessorConfig().RetryBackoffBase,
		RetryBackoffMax:  outbox.DefaultProcessorConfig().RetryBackoffMax,
	}, logger)

	metrics := observability.NewInMemoryMetrics()
	health := observability.NewHealthRegistry()
	health.Register("database", observability.DatabaseHealthChecker(pool.Ping))
	health.Register("redis", observability.RedisHealthChecker(func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}))

	engine := services.NewEngine(engineConfigFrom(cfg), logger)
	gate := services.NewRunGate(cfg.EngineRunQueueSize)
	loader := services.NewSnapshotLoader(repo, logger)

	taskClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisOpts.Addr,
		Username: redisOpts.Username,
		Password: redisOpts.Password,
		DB:       redisOpts.DB,
	})

	c := &Container{
		Config:          cfg,
		Logger:          logger,
		DB:              pool,
		RedisClient:     redisClient,
		SchedulingRepo:  repo,
		OutboxRepo:      outboxRepo,
		EventPublisher:  publisher,
		UnitOfWork:      uow,
		Engine:          engine,
		RunGate:         gate,
		Loader:          loader,
		OutboxProcessor: processor,
		TaskClient:      taskClient,
		Metrics:         metrics,
		Health:          health,
	}

	c.OptimizeScheduleHandler = scheduleCommands.NewOptimizeScheduleHandler(
		repo, loader, engine, gate, outboxRepo, uow, logger).WithMetrics(metrics)
	c.InsertEmergencyHandler = scheduleCommands.NewInsertEmergencyHandler(
		repo, loader, engine, gate, outboxRepo, uow, logger).WithMetrics(metrics)
	c.ValidateScheduleHandler = scheduleQueries.NewValidateScheduleHandler(
		loader, engine, logger)

	return c, nil
}

// Close releases all held connections.
func (c *Container) Close() {
	if c.OutboxProcessor != nil {
		c.OutboxProcessor.Stop()
	}
	if c.TaskClient != nil {
		if err := c.TaskClient.Close(); err != nil {
			c.Logger.Warn("failed to close task client", "error", err)
		}
	}
	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Warn("failed to close event publisher", "error", err)
		}
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("failed to close redis client", "error", err)
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
}

// newPublisher connects to RabbitMQ, falling back to a no-op publisher in
// development when the broker is unreachable.
func newPublisher(cfg *config.Config, logger *slog.Logger) (eventbus.Publisher, error) {
	publisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
	if err != nil {
		if cfg.IsDevelopment() {
			logger.Warn("rabbitmq unavailable, events will not be published", "error", err)
			return eventbus.NewNoopPublisher(logger), nil
		}
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	return publisher, nil
}

// engineConfigFrom maps environment configuration onto the engine knobs.
func engineConfigFrom(cfg *config.Config) services.EngineConfig {
	engineCfg := services.DefaultEngineConfig()
	engineCfg.SoftTimeout = cfg.EngineSoftTimeout
	engineCfg.HardTimeout = cfg.EngineHardTimeout
	engineCfg.Check.AllowOvertime = cfg.EngineAllowOvertime
	engineCfg.Tabu.Tenure = cfg.TabuTenure
	engineCfg.Tabu.MaxIterations = cfg.TabuMaxIterations
	engineCfg.Tabu.MaxNoImprovement = cfg.TabuMaxNoImprove
	engineCfg.Weights = services.Weights{
		Makespan: cfg.WeightMakespan,
		Idle:     cfg.WeightIdle,
		Overtime: cfg.WeightOvertime,
		Setup:    cfg.WeightSetup,
		Priority: cfg.WeightPriority,
		Unplaced: cfg.WeightUnplaced,
	}
	return engineCfg
}
