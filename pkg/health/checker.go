package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	redisclient "github.com/bunkmate/referral-service/pkg/redis"
)

// Checker is a health check function that returns an error if unhealthy
type Checker func() error

// CheckerConfig holds configuration for health checkers
type CheckerConfig struct {
	Timeout time.Duration
}

// DefaultCheckerConfig returns default configuration for health checkers
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{
		Timeout: 2 * time.Second,
	}
}

// PostgresChecker returns a health check function for the pgx pool
func PostgresChecker(pool *pgxpool.Pool) Checker {
	return PostgresCheckerWithConfig(pool, DefaultCheckerConfig())
}

// PostgresCheckerWithConfig returns a database health checker with custom configuration
func PostgresCheckerWithConfig(pool *pgxpool.Pool, cfg CheckerConfig) Checker {
	return func() error {
		if pool == nil {
			return fmt.Errorf("database pool is nil")
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		return nil
	}
}

// RedisChecker returns a health check function for Redis
func RedisChecker(client *redisclient.Client) Checker {
	return RedisCheckerWithConfig(client, DefaultCheckerConfig())
}

// RedisCheckerWithConfig returns a Redis health checker with custom configuration
func RedisCheckerWithConfig(client *redisclient.Client, cfg CheckerConfig) Checker {
	return func() error {
		if client == nil {
			return fmt.Errorf("redis client is nil")
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}

		return nil
	}
}

// HTTPEndpointChecker returns a health check function for an upstream
// HTTP dependency
func HTTPEndpointChecker(url string) Checker {
	return HTTPEndpointCheckerWithConfig(url, DefaultCheckerConfig())
}

// HTTPEndpointCheckerWithConfig returns an HTTP endpoint checker with custom configuration
func HTTPEndpointCheckerWithConfig(url string, cfg CheckerConfig) Checker {
	client := &http.Client{Timeout: cfg.Timeout}
	return func() error {
		resp, err := client.Get(url)
		if err != nil {
			return fmt.Errorf("endpoint unreachable: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
		}

		return nil
	}
}

// CachedChecker wraps a checker and caches its result briefly so probe
// storms don't hammer the dependency
type CachedChecker struct {
	checker     Checker
	cacheTTL    time.Duration
	mu          sync.Mutex
	lastErr     error
	lastChecked time.Time
}

// NewCachedChecker creates a cached wrapper around a checker
func NewCachedChecker(checker Checker, cacheTTL time.Duration) *CachedChecker {
	return &CachedChecker{checker: checker, cacheTTL: cacheTTL}
}

// Check runs the underlying checker, reusing a recent result when available
func (c *CachedChecker) Check() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastChecked.IsZero() && time.Since(c.lastChecked) < c.cacheTTL {
		return c.lastErr
	}

	c.lastErr = c.checker()
	c.lastChecked = time.Now()
	return c.lastErr
}

// LivenessHandler reports that the process is up
func LivenessHandler(serviceName, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "alive",
			"service": serviceName,
			"version": version,
		})
	}
}

// ReadinessHandler runs every dependency check and reports per-dependency
// status. Any failing check flips the response to 503.
func ReadinessHandler(serviceName, version string, checks map[string]Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		overall := "ready"
		results := make(map[string]string, len(checks))

		for name, check := range checks {
			if err := check(); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				overall = "not ready"
			} else {
				results[name] = "ok"
			}
		}

		c.JSON(status, gin.H{
			"status":  overall,
			"service": serviceName,
			"version": version,
			"checks":  results,
		})
	}
}
