package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bunkmate/referral-service/pkg/async"
	"github.com/bunkmate/referral-service/pkg/logger"
	redisclient "github.com/bunkmate/referral-service/pkg/redis"
)

// Manager handles caching operations with JSON serialization
type Manager struct {
	redis *redisclient.Client
}

// NewManager creates a new cache manager
func NewManager(redis *redisclient.Client) *Manager {
	return &Manager{redis: redis}
}

// Get retrieves a cached value and unmarshals it into result
func (m *Manager) Get(ctx context.Context, key string, result interface{}) error {
	data, err := m.redis.GetString(ctx, key)
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(data), result)
}

// Set marshals and caches a value with expiration
func (m *Manager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	return m.redis.SetWithExpiration(ctx, key, string(data), ttl)
}

// GetOrSet retrieves from cache or executes fn and caches the result.
// Analytics snapshots tolerate slightly stale reads, so the write-back
// happens off the request path.
func (m *Manager) GetOrSet(ctx context.Context, key string, ttl time.Duration, result interface{}, fn func() (interface{}, error)) error {
	if err := m.Get(ctx, key, result); err == nil {
		return nil
	}

	data, err := fn()
	if err != nil {
		return err
	}

	async.Go(ctx, "cache_writeback", func(taskCtx context.Context) {
		cacheCtx, cancel := context.WithTimeout(taskCtx, 5*time.Second)
		defer cancel()
		if err := m.Set(cacheCtx, key, data, ttl); err != nil {
			logger.WarnContext(cacheCtx, "failed to cache analytics snapshot",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	})

	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return json.Unmarshal(jsonData, result)
}

// Delete removes keys from cache
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	return m.redis.Delete(ctx, keys...)
}

// CacheKeys defines common cache key patterns
type CacheKeys struct{}

var Keys = CacheKeys{}

// Overview returns the cache key for the system overview snapshot
func (k CacheKeys) Overview() string {
	return "analytics:overview"
}

// Funnel returns the cache key for a program conversion funnel
func (k CacheKeys) Funnel(programID, rangeKey string) string {
	return fmt.Sprintf("analytics:funnel:%s:%s", programID, rangeKey)
}

// Leaderboard returns the cache key for the referrer leaderboard
func (k CacheKeys) Leaderboard(limit int) string {
	return fmt.Sprintf("analytics:leaderboard:%d", limit)
}

// Reconciliation returns the cache key for the financial reconciliation snapshot
func (k CacheKeys) Reconciliation() string {
	return "analytics:reconciliation"
}

// Trends returns the cache key for time-bucketed trends
func (k CacheKeys) Trends(bucket, rangeKey string) string {
	return fmt.Sprintf("analytics:trends:%s:%s", bucket, rangeKey)
}

// TTL defines common cache TTL durations
type CacheTTL struct{}

var TTL = CacheTTL{}

func (t CacheTTL) Short() time.Duration  { return 1 * time.Minute }
func (t CacheTTL) Medium() time.Duration { return 5 * time.Minute }
func (t CacheTTL) Long() time.Duration   { return 30 * time.Minute }
