package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bunkmate/referral-service/pkg/cache"
	"github.com/bunkmate/referral-service/pkg/common"
)

const maxLeaderboardLimit = 100

// AnalyticsRepository defines the read queries required by the service.
type AnalyticsRepository interface {
	GetOverview(ctx context.Context) (*Overview, error)
	GetFunnel(ctx context.Context, programID uuid.UUID, startDate, endDate time.Time) (*Funnel, error)
	GetLeaderboard(ctx context.Context, limit int) ([]*LeaderboardEntry, error)
	GetReconciliation(ctx context.Context) (*Reconciliation, error)
	GetTrends(ctx context.Context, bucket string, startDate, endDate time.Time) ([]*TrendPoint, error)
}

// Service handles analytics business logic. Snapshots are cached in Redis
// with a short TTL; a nil cache manager disables caching.
type Service struct {
	repo  AnalyticsRepository
	cache *cache.Manager
}

// NewService creates a new analytics service
func NewService(repo AnalyticsRepository, cacheManager *cache.Manager) *Service {
	return &Service{repo: repo, cache: cacheManager}
}

// GetOverview retrieves the headline snapshot
func (s *Service) GetOverview(ctx context.Context) (*Overview, error) {
	if s.cache == nil {
		return s.repo.GetOverview(ctx)
	}

	overview := &Overview{}
	err := s.cache.GetOrSet(ctx, cache.Keys.Overview(), cache.TTL.Short(), overview, func() (interface{}, error) {
		return s.repo.GetOverview(ctx)
	})
	if err != nil {
		return nil, err
	}
	return overview, nil
}

// GetFunnel retrieves a program's conversion funnel
func (s *Service) GetFunnel(ctx context.Context, programID uuid.UUID, startDate, endDate time.Time) (*Funnel, error) {
	if s.cache == nil {
		return s.repo.GetFunnel(ctx, programID, startDate, endDate)
	}

	funnel := &Funnel{}
	err := s.cache.GetOrSet(ctx, cache.Keys.Funnel(programID.String(), rangeKey(startDate, endDate)), cache.TTL.Short(), funnel, func() (interface{}, error) {
		return s.repo.GetFunnel(ctx, programID, startDate, endDate)
	})
	if err != nil {
		return nil, err
	}
	return funnel, nil
}

// GetLeaderboard retrieves the top referrers
func (s *Service) GetLeaderboard(ctx context.Context, limit int) ([]*LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > maxLeaderboardLimit {
		return nil, common.NewValidationError(fmt.Sprintf("leaderboard limit cannot exceed %d", maxLeaderboardLimit))
	}

	if s.cache == nil {
		return s.repo.GetLeaderboard(ctx, limit)
	}

	entries := []*LeaderboardEntry{}
	err := s.cache.GetOrSet(ctx, cache.Keys.Leaderboard(limit), cache.TTL.Short(), &entries, func() (interface{}, error) {
		return s.repo.GetLeaderboard(ctx, limit)
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// GetReconciliation retrieves the finance snapshot
func (s *Service) GetReconciliation(ctx context.Context) (*Reconciliation, error) {
	if s.cache == nil {
		return s.repo.GetReconciliation(ctx)
	}

	rec := &Reconciliation{}
	err := s.cache.GetOrSet(ctx, cache.Keys.Reconciliation(), cache.TTL.Short(), rec, func() (interface{}, error) {
		return s.repo.GetReconciliation(ctx)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetTrends retrieves time-bucketed referral activity
func (s *Service) GetTrends(ctx context.Context, bucket string, startDate, endDate time.Time) ([]*TrendPoint, error) {
	switch bucket {
	case BucketDay, BucketWeek, BucketMonth:
	case "":
		bucket = BucketDay
	default:
		return nil, common.NewValidationError("trend bucket must be day, week or month")
	}

	if s.cache == nil {
		return s.repo.GetTrends(ctx, bucket, startDate, endDate)
	}

	points := []*TrendPoint{}
	err := s.cache.GetOrSet(ctx, cache.Keys.Trends(bucket, rangeKey(startDate, endDate)), cache.TTL.Short(), &points, func() (interface{}, error) {
		return s.repo.GetTrends(ctx, bucket, startDate, endDate)
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}

func rangeKey(startDate, endDate time.Time) string {
	const layout = "20060102"
	return startDate.Format(layout) + "-" + endDate.Format(layout)
}
