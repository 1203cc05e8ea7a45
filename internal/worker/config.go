// Package worker runs the background jobs of tutorguard: health-check sweeps
// over the upstream AI service and the platform's own dependencies, incident
// resolution and fallback digests, driven by Pub/Sub messages.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tutorstack/tutorguard/internal/health"
)

// HealthTarget is one dependency probed by the worker.
type HealthTarget struct {
	// ServiceID is the health registry key, e.g. health.ServiceAI.
	ServiceID string

	// Check probes the dependency.
	Check health.CheckFunc

	// Interval between scheduled checks. Zero uses SweepConfig.Interval.
	Interval time.Duration
}

// SweepConfig holds configuration for the health-check sweep.
type SweepConfig struct {
	Targets []HealthTarget

	// Concurrency is the number of checks run at once.
	// Default: 3
	Concurrency int

	// Interval is the default scheduling interval.
	// Default: 30 seconds
	Interval time.Duration
}

// DefaultSweepConfig returns the default sweep configuration for targets.
func DefaultSweepConfig(targets ...HealthTarget) SweepConfig {
	return SweepConfig{
		Targets:     targets,
		Concurrency: 3,
		Interval:    30 * time.Second,
	}
}

// HTTPDoer performs HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Pinger is implemented by database pools and redis clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RedisPinger adapts a go-redis client, whose Ping returns a command.
func RedisPinger(c redis.UniversalClient) Pinger {
	return PingFunc(func(ctx context.Context) error {
		return c.Ping(ctx).Err()
	})
}

// TargetsConfig describes the dependencies to probe. Nil dependencies are
// skipped.
type TargetsConfig struct {
	// AI probes GET {AIBaseURL}/models with AIKey when AIBaseURL is set.
	AIBaseURL string
	AIKey     string
	AIClient  HTTPDoer

	Database Pinger
	Cache    Pinger
}

// HealthTargets builds the health targets for the configured dependencies.
func HealthTargets(cfg TargetsConfig) []HealthTarget {
	var targets []HealthTarget
	if cfg.AIBaseURL != "" {
		client := cfg.AIClient
		if client == nil {
			client = http.DefaultClient
		}
		targets = append(targets, HealthTarget{
			ServiceID: health.ServiceAI,
			Check:     ModelsProbe(client, cfg.AIBaseURL, cfg.AIKey),
		})
	}
	if cfg.Database != nil {
		targets = append(targets, HealthTarget{
			ServiceID: health.ServiceDatabase,
			Check:     PingCheck("database", cfg.Database),
		})
	}
	if cfg.Cache != nil {
		targets = append(targets, HealthTarget{
			ServiceID: health.ServiceCache,
			Check:     PingCheck("cache", cfg.Cache),
		})
	}
	return targets
}

// ModelsProbe lists the models of an OpenAI-compatible API. Rate limiting
// reports the service as degraded; any other failure is an outage.
func ModelsProbe(client HTTPDoer, baseURL, apiKey string) health.CheckFunc {
	url := strings.TrimRight(baseURL, "/") + "/models"

	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("building models request: %w", err)
		}
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("listing models: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: models endpoint rate limited", health.ErrDegraded)
		default:
			return fmt.Errorf("models endpoint returned %d", resp.StatusCode)
		}
	}
}

// PingCheck wraps a Pinger as a health check.
func PingCheck(name string, p Pinger) health.CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("ping %s: %w", name, err)
		}
		return nil
	}
}

// ErrNoTargets is returned by a sweep with nothing to check.
var ErrNoTargets = errors.New("no health targets configured")
