package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/theatro/theatro/internal/scheduling/domain"
)

const (
	sdstCacheKey = "theatro:sdst:matrix"
	sdstCacheTTL = 5 * time.Minute
)

// SDSTCache decorates a SchedulingRepository with a Redis cache for the
// setup time matrix. The matrix changes rarely but is read by every run;
// cache failures fall through to the database and never fail a run.
type SDSTCache struct {
	domain.SchedulingRepository
	client *redis.Client
	logger *slog.Logger
}

// NewSDSTCache wraps a repository with the matrix cache.
func NewSDSTCache(inner domain.SchedulingRepository, client *redis.Client, logger *slog.Logger) *SDSTCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SDSTCache{SchedulingRepository: inner, client: client, logger: logger}
}

type sdstCachePayload struct {
	DefaultMinutes int                `json:"default_minutes"`
	Entries        []domain.SDSTEntry `json:"entries"`
}

// LoadSDSTSnapshot serves the matrix from Redis when present, refreshing
// the cache on a miss.
func (c *SDSTCache) LoadSDSTSnapshot(ctx context.Context) (*domain.SDSTMatrix, error) {
	raw, err := c.client.Get(ctx, sdstCacheKey).Bytes()
	if err == nil {
		var payload sdstCachePayload
		if err := json.Unmarshal(raw, &payload); err == nil {
			matrix, err := domain.NewSDSTMatrix(payload.Entries, payload.DefaultMinutes)
			if err == nil {
				return matrix, nil
			}
			c.logger.Warn("cached sdst matrix invalid, reloading", "error", err)
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("sdst cache read failed, falling back to database", "error", err)
	}

	matrix, err := c.SchedulingRepository.LoadSDSTSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	payload := sdstCachePayload{
		DefaultMinutes: matrix.DefaultMinutes(),
		Entries:        matrix.Entries(),
	}
	if raw, err := json.Marshal(payload); err == nil {
		if err := c.client.Set(ctx, sdstCacheKey, raw, sdstCacheTTL).Err(); err != nil {
			c.logger.Warn("sdst cache write failed", "error", err)
		}
	}
	return matrix, nil
}

// Invalidate drops the cached matrix, for callers that just changed it.
func (c *SDSTCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, sdstCacheKey).Err()
}
