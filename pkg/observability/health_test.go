package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthRegistryAggregatesStatus(t *testing.T) {
	registry := NewHealthRegistry()
	registry.Register("database", DatabaseHealthChecker(func(context.Context) error {
		return nil
	}))
	registry.Register("redis", RedisHealthChecker(func(context.Context) error {
		return errors.New("connection refused")
	}))

	overall := registry.GetOverallHealth(context.Background())

	assert.Equal(t, HealthStatusDegraded, overall.Status)
	require.Len(t, overall.Checks, 2)
	assert.Equal(t, HealthStatusHealthy, overall.Checks["database"].Status)
	assert.Equal(t, HealthStatusDegraded, overall.Checks["redis"].Status)
	assert.Contains(t, overall.Checks["redis"].Message, "connection refused")
}

func TestHealthRegistryDatabaseFailureIsUnhealthy(t *testing.T) {
	registry := NewHealthRegistry()
	registry.Register("database", DatabaseHealthChecker(func(context.Context) error {
		return errors.New("no route to host")
	}))

	overall := registry.GetOverallHealth(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, overall.Status)
}

func TestHealthRegistryCheckOne(t *testing.T) {
	registry := NewHealthRegistry()
	registry.Register("database", DatabaseHealthChecker(func(context.Context) error {
		return nil
	}))

	result, ok := registry.CheckOne(context.Background(), "database")
	assert.True(t, ok)
	assert.Equal(t, HealthStatusHealthy, result.Status)
	assert.False(t, result.Timestamp.IsZero())

	_, ok = registry.CheckOne(context.Background(), "missing")
	assert.False(t, ok)
}

func TestHealthRegistryEmptyIsHealthy(t *testing.T) {
	registry := NewHealthRegistry()
	overall := registry.GetOverallHealth(context.Background())
	assert.Equal(t, HealthStatusHealthy, overall.Status)
	assert.Empty(t, overall.Checks)
}
