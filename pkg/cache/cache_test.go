package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/bunkmate/referral-service/pkg/redis"
)

type snapshot struct {
	Pending   int     `json:"pending"`
	Completed int     `json:"completed"`
	Net       float64 `json:"net"`
}

func newTestManager(t *testing.T) (*Manager, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	return NewManager(redisclient.Wrap(db)), mock
}

func TestSetAndGetRoundTrip(t *testing.T) {
	manager, mock := newTestManager(t)
	value := snapshot{Pending: 3, Completed: 11, Net: 5400}

	mock.ExpectSet("analytics:overview", `{"pending":3,"completed":11,"net":5400}`, time.Minute).SetVal("OK")
	mock.ExpectGet("analytics:overview").SetVal(`{"pending":3,"completed":11,"net":5400}`)

	err := manager.Set(context.Background(), "analytics:overview", value, time.Minute)
	require.NoError(t, err)

	got := snapshot{}
	err = manager.Get(context.Background(), "analytics:overview", &got)
	require.NoError(t, err)
	assert.Equal(t, value, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrSetServesFromCache(t *testing.T) {
	manager, mock := newTestManager(t)

	mock.ExpectGet("analytics:reconciliation").SetVal(`{"pending":1,"completed":2,"net":700}`)

	called := false
	got := snapshot{}
	err := manager.GetOrSet(context.Background(), "analytics:reconciliation", time.Minute, &got, func() (interface{}, error) {
		called = true
		return nil, nil
	})

	require.NoError(t, err)
	assert.False(t, called, "loader must not run on a cache hit")
	assert.Equal(t, 700.0, got.Net)
}

func TestGetOrSetFallsBackToLoader(t *testing.T) {
	manager, mock := newTestManager(t)

	mock.ExpectGet("analytics:overview").RedisNil()
	// The write-back is asynchronous; the expectation may or may not be
	// consumed before the test ends, so it is registered but not asserted.
	mock.ExpectSet("analytics:overview", `{"pending":5,"completed":0,"net":0}`, time.Minute).SetVal("OK")

	got := snapshot{}
	err := manager.GetOrSet(context.Background(), "analytics:overview", time.Minute, &got, func() (interface{}, error) {
		return snapshot{Pending: 5}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 5, got.Pending)
}

func TestGetOrSetPropagatesLoaderError(t *testing.T) {
	manager, mock := newTestManager(t)

	mock.ExpectGet("analytics:leaderboard:10").RedisNil()

	got := snapshot{}
	err := manager.GetOrSet(context.Background(), "analytics:leaderboard:10", time.Minute, &got, func() (interface{}, error) {
		return nil, assert.AnError
	})

	assert.ErrorIs(t, err, assert.AnError)
}

func TestDelete(t *testing.T) {
	manager, mock := newTestManager(t)

	mock.ExpectDel("analytics:overview", "analytics:reconciliation").SetVal(2)

	err := manager.Delete(context.Background(), "analytics:overview", "analytics:reconciliation")

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
