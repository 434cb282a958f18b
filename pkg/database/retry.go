package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bunkmate/referral-service/pkg/resilience"
)

// RetryableExec executes a database command with bounded retries for
// transient failures. Conditional-update hot paths (code redemption, status
// transitions) funnel through here.
func RetryableExec(ctx context.Context, pool interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
}, name, query string, args ...interface{}) (pgconn.CommandTag, error) {
	config := redemptionRetryConfig()

	result, err := resilience.Retry(ctx, config, func(ctx context.Context) (interface{}, error) {
		return pool.Exec(ctx, query, args...)
	}, name)
	if err != nil {
		return pgconn.CommandTag{}, err
	}

	return result.(pgconn.CommandTag), nil
}

// RetryableQueryRow executes a single-row query with bounded retries.
func RetryableQueryRow[T any](ctx context.Context, pool interface {
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}, name, query string, args []interface{}, scanner func(pgx.Row) (T, error)) (T, error) {
	config := redemptionRetryConfig()

	result, err := resilience.Retry(ctx, config, func(ctx context.Context) (interface{}, error) {
		return scanner(pool.QueryRow(ctx, query, args...))
	}, name)
	if err != nil {
		return *new(T), err
	}

	return result.(T), nil
}

func redemptionRetryConfig() resilience.RetryConfig {
	config := resilience.DefaultRetryConfig()
	config.MaxAttempts = 3
	config.InitialBackoff = 50 * time.Millisecond
	config.MaxBackoff = 1 * time.Second
	config.RetryableChecker = IsRetryable
	return config
}

// IsRetryable determines whether a PostgreSQL error should be retried.
// Serialization failures and connection drops are; constraint violations
// never are, since retrying them cannot succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"53300", // too_many_connections
			"08000", "08003", "08006", // connection_exception
			"57P01", "57P03": // shutdown / cannot_connect_now
			return true
		}
		// Constraint violations, data exceptions and syntax errors are
		// deterministic failures.
		if strings.HasPrefix(pgErr.Code, "23") ||
			strings.HasPrefix(pgErr.Code, "22") ||
			strings.HasPrefix(pgErr.Code, "42") {
			return false
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"timeout",
		"server closed",
		"unexpected eof",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}

// IsUniqueViolation reports whether err is a unique-constraint violation,
// optionally on a specific constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
