// Package resilience wraps upstream HTTP calls with a circuit breaker and
// transient-failure retries, and mirrors breaker state onto service health.
package resilience

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/tutorstack/tutorguard/internal/health"
)

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the circuit breaker in logs.
	Name string

	// MaxRequests is the maximum number of requests allowed in half-open state.
	// Default: 1
	MaxRequests uint32

	// Interval is the cyclic period for clearing internal counts when closed.
	// Default: 0 (disabled)
	Interval time.Duration

	// Timeout is the period of open state before switching to half-open.
	// Default: 30 seconds
	Timeout time.Duration

	// ReadyToTrip determines when to trip the circuit breaker.
	// If nil, uses DefaultReadyToTrip.
	ReadyToTrip func(counts gobreaker.Counts) bool

	// OnStateChange is called when the circuit breaker state changes.
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultCircuitBreakerConfig returns the default breaker configuration.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: DefaultReadyToTrip,
	}
}

// DefaultReadyToTrip trips the breaker after 5 requests with a failure rate
// of 50% or more.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < 5 {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
}

// NewCircuitBreaker creates a circuit breaker from cfg.
func NewCircuitBreaker[T any](cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker[T] {
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = DefaultReadyToTrip
	}
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.MaxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.Timeout,
		ReadyToTrip:   cfg.ReadyToTrip,
		OnStateChange: cfg.OnStateChange,
	})
}

// HealthUpdater receives breaker transitions. *health.Registry satisfies it.
type HealthUpdater interface {
	UpdateHealth(serviceID string, status health.Status, latency *time.Duration, message string)
}

// ReportStateChanges returns an OnStateChange hook that marks serviceID as an
// outage while the breaker is open, degraded while half-open and operational
// once it closes.
func ReportStateChanges(h HealthUpdater, serviceID string, logger zerolog.Logger) func(string, gobreaker.State, gobreaker.State) {
	return func(name string, from, to gobreaker.State) {
		logger.Warn().
			Str("breaker", name).
			Str("service_id", serviceID).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker state changed")

		switch to {
		case gobreaker.StateOpen:
			h.UpdateHealth(serviceID, health.StatusOutage, nil, "circuit breaker open")
		case gobreaker.StateHalfOpen:
			h.UpdateHealth(serviceID, health.StatusDegraded, nil, "circuit breaker half-open")
		case gobreaker.StateClosed:
			h.UpdateHealth(serviceID, health.StatusOperational, nil, "")
		}
	}
}
