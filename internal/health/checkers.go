package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// DatabaseHealthChecker checks PostgreSQL connectivity and pool pressure
type DatabaseHealthChecker struct {
	db       *sqlx.DB
	name     string
	critical bool
	timeout  time.Duration
}

// NewDatabaseHealthChecker creates a database health checker
func NewDatabaseHealthChecker(db *sqlx.DB, critical bool) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{
		db:       db,
		name:     "database",
		critical: critical,
		timeout:  5 * time.Second,
	}
}

func (c *DatabaseHealthChecker) Name() string           { return c.name }
func (c *DatabaseHealthChecker) IsCritical() bool       { return c.critical }
func (c *DatabaseHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	if c.db == nil {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  "database connection not configured",
		}
	}

	if err := c.db.PingContext(ctx); err != nil {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  fmt.Sprintf("ping failed: %v", err),
		}
	}

	stats := c.db.Stats()
	details := map[string]interface{}{
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
	}

	if stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "connection pool exhausted",
			Details: details,
		}
	}

	return CheckResult{
		Status:  StatusHealthy,
		Message: "Database responsive",
		Details: details,
	}
}

// RedisHealthChecker checks Redis connectivity
type RedisHealthChecker struct {
	client   redis.UniversalClient
	name     string
	critical bool
	timeout  time.Duration
}

// NewRedisHealthChecker creates a Redis health checker
func NewRedisHealthChecker(client redis.UniversalClient, critical bool) *RedisHealthChecker {
	return &RedisHealthChecker{
		client:   client,
		name:     "redis",
		critical: critical,
		timeout:  3 * time.Second,
	}
}

func (c *RedisHealthChecker) Name() string           { return c.name }
func (c *RedisHealthChecker) IsCritical() bool       { return c.critical }
func (c *RedisHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	if c.client == nil {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  "redis client not configured",
		}
	}

	if err := c.client.Ping(ctx).Err(); err != nil {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  fmt.Sprintf("ping failed: %v", err),
		}
	}

	return CheckResult{
		Status:  StatusHealthy,
		Message: "Redis responsive",
	}
}

// CustomHealthChecker wraps an arbitrary check function
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a checker from a function
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CustomHealthChecker{
		name:     name,
		critical: critical,
		timeout:  timeout,
		checkFn:  checkFn,
	}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	if c.checkFn == nil {
		return CheckResult{
			Status: StatusUnknown,
			Error:  "no check function provided",
		}
	}
	return c.checkFn(ctx)
}
