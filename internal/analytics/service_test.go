package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/bunkmate/referral-service/pkg/common"
)

type mockAnalyticsRepository struct {
	mock.Mock
}

func (m *mockAnalyticsRepository) GetOverview(ctx context.Context) (*Overview, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Overview), args.Error(1)
}

func (m *mockAnalyticsRepository) GetFunnel(ctx context.Context, programID uuid.UUID, startDate, endDate time.Time) (*Funnel, error) {
	args := m.Called(ctx, programID, startDate, endDate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Funnel), args.Error(1)
}

func (m *mockAnalyticsRepository) GetLeaderboard(ctx context.Context, limit int) ([]*LeaderboardEntry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*LeaderboardEntry), args.Error(1)
}

func (m *mockAnalyticsRepository) GetReconciliation(ctx context.Context) (*Reconciliation, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Reconciliation), args.Error(1)
}

func (m *mockAnalyticsRepository) GetTrends(ctx context.Context, bucket string, startDate, endDate time.Time) ([]*TrendPoint, error) {
	args := m.Called(ctx, bucket, startDate, endDate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*TrendPoint), args.Error(1)
}

func TestGetOverviewPassesThroughWithoutCache(t *testing.T) {
	repo := new(mockAnalyticsRepository)
	service := NewService(repo, nil)

	snapshot := &Overview{
		Referrals:       map[string]int{"pending": 4, "completed": 9},
		TotalRewardsNet: 6300,
		GeneratedAt:     time.Now(),
	}
	repo.On("GetOverview", mock.Anything).Return(snapshot, nil).Once()

	result, err := service.GetOverview(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 9, result.Referrals["completed"])
	repo.AssertExpectations(t)
}

func TestGetLeaderboardDefaultsAndCapsLimit(t *testing.T) {
	repo := new(mockAnalyticsRepository)
	service := NewService(repo, nil)

	repo.On("GetLeaderboard", mock.Anything, 10).Return([]*LeaderboardEntry{}, nil).Once()

	_, err := service.GetLeaderboard(context.Background(), 0)
	assert.NoError(t, err)

	_, err = service.GetLeaderboard(context.Background(), maxLeaderboardLimit+1)
	assert.Error(t, err)
	var appErr *common.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, 400, appErr.Code)

	repo.AssertExpectations(t)
}

func TestGetTrendsValidatesBucket(t *testing.T) {
	repo := new(mockAnalyticsRepository)
	service := NewService(repo, nil)
	start := time.Now().AddDate(0, -1, 0)
	end := time.Now()

	repo.On("GetTrends", mock.Anything, BucketDay, start, end).Return([]*TrendPoint{}, nil).Once()

	// Empty bucket falls back to daily.
	_, err := service.GetTrends(context.Background(), "", start, end)
	assert.NoError(t, err)

	_, err = service.GetTrends(context.Background(), "hour", start, end)
	assert.Error(t, err)

	repo.AssertExpectations(t)
}

func TestGetFunnelComputesRates(t *testing.T) {
	repo := new(mockAnalyticsRepository)
	service := NewService(repo, nil)
	programID := uuid.New()
	start := time.Now().AddDate(0, -1, 0)
	end := time.Now()

	repo.On("GetFunnel", mock.Anything, programID, start, end).Return(&Funnel{
		ProgramID:      programID,
		Shares:         200,
		Clicks:         100,
		Registrations:  40,
		Bookings:       20,
		Completions:    15,
		ClickRate:      0.5,
		CompletionRate: 0.75,
	}, nil).Once()

	funnel, err := service.GetFunnel(context.Background(), programID, start, end)

	assert.NoError(t, err)
	assert.Equal(t, 0.5, funnel.ClickRate)
	assert.Equal(t, 0.75, funnel.CompletionRate)
}

func TestRateGuardsDivisionByZero(t *testing.T) {
	assert.Equal(t, 0.0, rate(5, 0))
	assert.Equal(t, 0.25, rate(1, 4))
}
