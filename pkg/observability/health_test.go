package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthyCheck(context.Context) HealthCheckResult {
	return HealthCheckResult{Status: HealthStatusHealthy}
}

func TestHealthRegistry_Check(t *testing.T) {
	r := NewHealthRegistry()
	r.Register("database", healthyCheck)
	r.Register("redis", func(context.Context) HealthCheckResult {
		return HealthCheckResult{Status: HealthStatusDegraded, Message: "slow"}
	})

	results := r.Check(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, HealthStatusHealthy, results["database"].Status)
	assert.Equal(t, HealthStatusDegraded, results["redis"].Status)
	assert.False(t, results["database"].Timestamp.IsZero())
}

func TestHealthRegistry_OverallReducesToWorstStatus(t *testing.T) {
	r := NewHealthRegistry()
	r.Register("database", healthyCheck)
	assert.Equal(t, HealthStatusHealthy, r.Overall(context.Background()).Status)

	r.Register("redis", func(context.Context) HealthCheckResult {
		return HealthCheckResult{Status: HealthStatusDegraded}
	})
	assert.Equal(t, HealthStatusDegraded, r.Overall(context.Background()).Status)

	r.Register("broker", func(context.Context) HealthCheckResult {
		return HealthCheckResult{Status: HealthStatusUnhealthy}
	})
	assert.Equal(t, HealthStatusUnhealthy, r.Overall(context.Background()).Status)
}

func TestHealthRegistry_EmptyIsHealthy(t *testing.T) {
	r := NewHealthRegistry()
	overall := r.Overall(context.Background())
	assert.Equal(t, HealthStatusHealthy, overall.Status)
	assert.Empty(t, overall.Checks)
}

func TestPingChecker(t *testing.T) {
	ok := PingChecker(func(context.Context) error { return nil }, HealthStatusUnhealthy)
	assert.Equal(t, HealthStatusHealthy, ok(context.Background()).Status)

	degraded := PingChecker(func(context.Context) error { return errors.New("dial refused") }, HealthStatusDegraded)
	result := degraded(context.Background())
	assert.Equal(t, HealthStatusDegraded, result.Status)
	assert.Equal(t, "dial refused", result.Message)
}
