package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunkmate/referral-service/pkg/common"
	"github.com/bunkmate/referral-service/pkg/config"
)

func newTestClient(baseURL string) *Client {
	client := NewClient(&config.DirectoryConfig{BaseURL: baseURL, TimeoutSeconds: 2})
	client.retry.InitialBackoff = 0
	client.retry.EnableJitter = false
	return client
}

func TestResolveReturnsUser(t *testing.T) {
	userID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/users/"+userID.String(), r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": User{
				ID:       userID,
				FullName: "Asha Nair",
				Email:    "asha@example.com",
				Role:     "tenant",
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	user, err := client.Resolve(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "Asha Nair", user.FullName)
	assert.Equal(t, "tenant", user.Role)
}

func TestResolveMapsMissingUserToNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	user, err := client.Resolve(context.Background(), uuid.New())
	assert.Nil(t, user)
	assert.True(t, common.IsNotFound(err))
}

func TestResolveRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	userID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": User{ID: userID, FullName: "Ravi Iyer", Role: "tenant"},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	user, err := client.Resolve(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "Ravi Iyer", user.FullName)
	assert.Equal(t, int32(3), calls.Load())
}

func TestResolveDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Resolve(context.Background(), uuid.New())
	assert.True(t, common.IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load())
}
