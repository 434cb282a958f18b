package errors

import (
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/bunkmate/referral-service/pkg/common"
	"github.com/bunkmate/referral-service/pkg/config"
)

// InitSentry initializes the Sentry SDK from the service configuration.
func InitSentry(cfg *config.SentryConfig, serviceName string) error {
	if cfg.DSN == "" {
		return fmt.Errorf("sentry DSN is not configured")
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		ServerName:       serviceName,
		AttachStacktrace: true,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			if event.Level == sentry.LevelInfo || event.Level == sentry.LevelDebug {
				return nil
			}
			return event
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}

	return nil
}

// ShouldReport reports whether an error is worth sending to Sentry.
// Typed business errors (validation, conflict, not-found, business-rule)
// are expected outcomes, not defects.
func ShouldReport(err error) bool {
	if err == nil {
		return false
	}

	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr.Code >= 500
	}

	return true
}

// CaptureError sends an unexpected error to Sentry.
func CaptureError(err error) {
	if !ShouldReport(err) {
		return
	}
	sentry.CaptureException(err)
}

// Flush flushes the Sentry buffer
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}
