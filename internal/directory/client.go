package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bunkmate/referral-service/pkg/common"
	"github.com/bunkmate/referral-service/pkg/config"
	"github.com/bunkmate/referral-service/pkg/logger"
	"github.com/bunkmate/referral-service/pkg/resilience"
)

// User is the directory's view of a platform user.
type User struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
	Email    string    `json:"email"`
	Phone    string    `json:"phone"`
	Role     string    `json:"role"`
}

// Resolver looks up users in the platform directory. Services depend on this
// interface so tests can substitute a fake.
type Resolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (*User, error)
}

// Client is the HTTP user-directory client. Lookups go through a bounded
// retry and a circuit breaker so a degraded directory cannot stall referral
// creation indefinitely.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

var _ Resolver = (*Client)(nil)

// NewClient creates a directory client from configuration
func NewClient(cfg *config.DirectoryConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	retryConfig := resilience.DefaultRetryConfig()
	retryConfig.MaxAttempts = 3
	retryConfig.RetryableChecker = func(err error) bool {
		if errors.Is(err, common.ErrNotFound) {
			return false
		}
		var statusErr *statusError
		if errors.As(err, &statusErr) {
			return resilience.IsRetryableHTTPStatus(statusErr.status)
		}
		return true
	}

	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker(resilience.Settings{
			Name:    "user-directory",
			Timeout: 30 * time.Second,
		}),
		retry: retryConfig,
	}
}

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("directory returned status %d", e.status)
}

// notFound lets a 404 pass through the breaker as a successful call, so
// lookups of unknown users cannot trip it.
type notFound struct{}

// Resolve fetches a user by ID. A directory 404 surfaces as the NotFound
// sentinel; callers creating referrals remap it to a validation failure.
func (c *Client) Resolve(ctx context.Context, userID uuid.UUID) (*User, error) {
	operation := func(ctx context.Context) (interface{}, error) {
		return c.fetch(ctx, userID)
	}

	result, err := c.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		res, err := resilience.Retry(ctx, c.retry, operation, "directory_resolve")
		if errors.Is(err, common.ErrNotFound) {
			return notFound{}, nil
		}
		return res, err
	})
	if err != nil {
		return nil, err
	}
	if _, missing := result.(notFound); missing {
		return nil, common.ErrNotFound
	}

	return result.(*User), nil
}

func (c *Client) fetch(ctx context.Context, userID uuid.UUID) (*User, error) {
	url := fmt.Sprintf("%s/v1/users/%s", c.baseURL, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		req.Header.Set("X-Request-ID", correlationID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return nil, common.ErrNotFound
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, &statusError{status: resp.StatusCode}
	}

	var envelope struct {
		Data *User `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode directory response: %w", err)
	}
	if envelope.Data == nil {
		return nil, common.ErrNotFound
	}

	return envelope.Data, nil
}
