package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/tutorstack/tutorguard/internal/errclass"
	"github.com/tutorstack/tutorguard/internal/health"
)

// HealthReporter receives the outcome of database calls. *health.Registry
// satisfies it.
type HealthReporter interface {
	ReportSuccess(serviceID string, latency time.Duration)
	ReportFailure(serviceID string, message string)
}

// RetryConfig holds configuration for WithRetry.
type RetryConfig struct {
	// Operation names the call in logs and wrapped errors.
	Operation string

	// MaxRetries is the number of retries after the first attempt.
	// Default: 3
	MaxRetries uint64

	// InitialInterval is the first backoff interval.
	// Default: 100ms
	InitialInterval time.Duration

	// MaxInterval caps the backoff interval.
	// Default: 2 seconds
	MaxInterval time.Duration

	// Critical callers receive the final error. Otherwise it is logged and
	// swallowed.
	Critical bool

	// Health receives success and transient failure reports. Optional.
	Health HealthReporter

	// ServiceID is the health registry entry to report to.
	// Default: health.ServiceDatabase
	ServiceID string

	Logger zerolog.Logger
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig(logger zerolog.Logger) RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		ServiceID:       health.ServiceDatabase,
		Logger:          logger,
	}
}

// WithRetry runs op, retrying transient failures with exponential backoff.
// Non-transient errors stop immediately. Transient failures and successes are
// reported to cfg.Health.
func WithRetry(ctx context.Context, op func(ctx context.Context) error, cfg RetryConfig) error {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 2 * time.Second
	}
	if cfg.ServiceID == "" {
		cfg.ServiceID = health.ServiceDatabase
	}
	if cfg.Operation == "" {
		cfg.Operation = "database operation"
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval
	bo.MaxElapsedTime = 0

	var (
		attempts  int
		transient bool
	)
	start := time.Now()

	err := backoff.Retry(func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		transient = errclass.IsTransient(err)
		if !transient {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, cfg.MaxRetries), ctx))

	if err == nil {
		if cfg.Health != nil {
			cfg.Health.ReportSuccess(cfg.ServiceID, time.Since(start))
		}
		return nil
	}

	if transient && cfg.Health != nil {
		cfg.Health.ReportFailure(cfg.ServiceID, err.Error())
	}

	if cfg.Critical {
		return fmt.Errorf("%s: %w", cfg.Operation, err)
	}

	cfg.Logger.Warn().
		Err(err).
		Str("operation", cfg.Operation).
		Int("attempts", attempts).
		Bool("transient", transient).
		Msg("database operation failed")
	return nil
}
