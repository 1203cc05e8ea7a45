package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tutorstack/tutorguard/internal/health"
)

// Registry records health check outcomes.
type Registry interface {
	RunCheck(ctx context.Context, serviceID string, check health.CheckFunc) health.Status
	ScheduleHealthCheck(ctx context.Context, serviceID string, check health.CheckFunc, interval time.Duration) func()
}

// SweepJob runs every health target once, or schedules them.
type SweepJob struct {
	config   SweepConfig
	registry Registry
	logger   zerolog.Logger
	metrics  *SweepMetrics
}

// SweepMetrics tracks sweep outcomes.
type SweepMetrics struct {
	TotalRuns   atomic.Int64
	LastRunTime atomic.Int64
	Operational atomic.Int64
	Degraded    atomic.Int64
	Outages     atomic.Int64
}

// SweepJobConfig holds the dependencies of a SweepJob.
type SweepJobConfig struct {
	Config   SweepConfig
	Registry Registry
	Logger   zerolog.Logger
}

// NewSweepJob creates a sweep job.
func NewSweepJob(cfg SweepJobConfig) *SweepJob {
	if cfg.Config.Concurrency <= 0 {
		cfg.Config.Concurrency = 3
	}
	if cfg.Config.Interval <= 0 {
		cfg.Config.Interval = 30 * time.Second
	}

	return &SweepJob{
		config:   cfg.Config,
		registry: cfg.Registry,
		logger:   cfg.Logger.With().Str("component", "health_sweep").Logger(),
		metrics:  &SweepMetrics{},
	}
}

// SweepResult contains the outcome of one sweep.
type SweepResult struct {
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	Total       int
	Operational int
	Degraded    int
	Outages     int
	Statuses    map[string]health.Status
}

// Healthy reports whether no target is in an outage.
func (r *SweepResult) Healthy() bool {
	return r.Outages == 0
}

// Run checks every target once with bounded concurrency.
func (j *SweepJob) Run(ctx context.Context) *SweepResult {
	startTime := time.Now()
	targets := j.config.Targets
	result := &SweepResult{
		StartTime: startTime,
		Total:     len(targets),
		Statuses:  make(map[string]health.Status, len(targets)),
	}

	j.logger.Debug().
		Int("targets", len(targets)).
		Int("concurrency", j.config.Concurrency).
		Msg("starting health sweep")

	targetsChan := make(chan HealthTarget, len(targets))
	resultsChan := make(chan targetResult, len(targets))

	var wg sync.WaitGroup
	for range j.config.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.sweepWorker(ctx, targetsChan, resultsChan)
		}()
	}

	for _, t := range targets {
		targetsChan <- t
	}
	close(targetsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for tr := range resultsChan {
		result.Statuses[tr.serviceID] = tr.status
		switch tr.status {
		case health.StatusOperational:
			result.Operational++
		case health.StatusDegraded:
			result.Degraded++
		default:
			result.Outages++
		}
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)
	j.updateMetrics(result)

	event := j.logger.Info()
	if !result.Healthy() {
		event = j.logger.Warn()
	}
	event.
		Dur("duration", result.Duration).
		Int("operational", result.Operational).
		Int("degraded", result.Degraded).
		Int("outages", result.Outages).
		Msg("health sweep completed")

	return result
}

type targetResult struct {
	serviceID string
	status    health.Status
}

func (j *SweepJob) sweepWorker(ctx context.Context, targets <-chan HealthTarget, results chan<- targetResult) {
	for t := range targets {
		select {
		case <-ctx.Done():
			return
		default:
			results <- targetResult{
				serviceID: t.ServiceID,
				status:    j.registry.RunCheck(ctx, t.ServiceID, t.Check),
			}
		}
	}
}

// Schedule starts periodic checks of every target until ctx is done. The
// returned function cancels all schedules.
func (j *SweepJob) Schedule(ctx context.Context) func() {
	stops := make([]func(), 0, len(j.config.Targets))
	for _, t := range j.config.Targets {
		interval := t.Interval
		if interval <= 0 {
			interval = j.config.Interval
		}
		stops = append(stops, j.registry.ScheduleHealthCheck(ctx, t.ServiceID, t.Check, interval))
	}

	j.logger.Info().Int("targets", len(stops)).Dur("interval", j.config.Interval).Msg("health checks scheduled")

	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}

func (j *SweepJob) updateMetrics(result *SweepResult) {
	j.metrics.TotalRuns.Add(1)
	j.metrics.LastRunTime.Store(result.EndTime.Unix())
	j.metrics.Operational.Add(int64(result.Operational))
	j.metrics.Degraded.Add(int64(result.Degraded))
	j.metrics.Outages.Add(int64(result.Outages))
}

// Metrics returns the sweep metrics.
func (j *SweepJob) Metrics() *SweepMetrics {
	return j.metrics
}
