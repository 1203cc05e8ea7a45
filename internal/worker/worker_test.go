package worker_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorstack/tutorguard/internal/alerting"
	"github.com/tutorstack/tutorguard/internal/health"
	"github.com/tutorstack/tutorguard/internal/observability"
	"github.com/tutorstack/tutorguard/internal/trigger"
	"github.com/tutorstack/tutorguard/internal/worker"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newRegistry(t *testing.T) *health.Registry {
	t.Helper()
	r := health.NewRegistry(health.DefaultRegistryConfig(zerolog.Nop()))
	t.Cleanup(r.Stop)
	return r
}

func TestModelsProbe(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantErr    bool
		wantDegrad bool
	}{
		{"ok", http.StatusOK, false, false},
		{"rate limited", http.StatusTooManyRequests, true, true},
		{"unauthorized", http.StatusUnauthorized, true, false},
		{"server error", http.StatusBadGateway, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/models", r.URL.Path)
				assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := worker.ModelsProbe(srv.Client(), srv.URL+"/v1/", "sk-test")(context.Background())

			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantDegrad, errors.Is(err, health.ErrDegraded))
		})
	}
}

func TestHealthTargets(t *testing.T) {
	assert.Empty(t, worker.HealthTargets(worker.TargetsConfig{}))

	targets := worker.HealthTargets(worker.TargetsConfig{
		AIBaseURL: "https://api.example.com/v1",
		Database:  pinger{},
		Cache:     pinger{},
	})

	ids := make([]string, 0, len(targets))
	for _, target := range targets {
		ids = append(ids, target.ServiceID)
	}
	assert.Equal(t, []string{health.ServiceAI, health.ServiceDatabase, health.ServiceCache}, ids)
}

func TestSweepJob_Run(t *testing.T) {
	registry := newRegistry(t)
	job := worker.NewSweepJob(worker.SweepJobConfig{
		Config: worker.DefaultSweepConfig(
			worker.HealthTarget{ServiceID: health.ServiceDatabase, Check: worker.PingCheck("database", pinger{})},
			worker.HealthTarget{ServiceID: health.ServiceCache, Check: worker.PingCheck("cache", pinger{err: errors.New("connection refused")})},
			worker.HealthTarget{ServiceID: health.ServiceAI, Check: func(context.Context) error {
				return health.ErrDegraded
			}},
		),
		Registry: registry,
		Logger:   zerolog.Nop(),
	})

	result := job.Run(context.Background())

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 1, result.Operational)
	assert.Equal(t, 1, result.Degraded)
	assert.Equal(t, 1, result.Outages)
	assert.False(t, result.Healthy())
	assert.Equal(t, health.StatusOutage, registry.Status(health.ServiceCache))
	assert.Equal(t, health.StatusOperational, registry.Status(health.ServiceDatabase))
	assert.Equal(t, int64(1), job.Metrics().TotalRuns.Load())
}

func TestSweepJob_Schedule(t *testing.T) {
	registry := newRegistry(t)
	job := worker.NewSweepJob(worker.SweepJobConfig{
		Config: worker.SweepConfig{
			Targets:  []worker.HealthTarget{{ServiceID: health.ServiceDatabase, Check: worker.PingCheck("database", pinger{})}},
			Interval: time.Hour,
		},
		Registry: registry,
		Logger:   zerolog.Nop(),
	})

	stop := job.Schedule(context.Background())
	defer stop()

	assert.Eventually(t, func() bool {
		return registry.Status(health.ServiceDatabase) == health.StatusOperational
	}, time.Second, 10*time.Millisecond)
}

type jobsFixture struct {
	analyzer *trigger.Analyzer
	alerts   *alerting.Manager
	monitor  *observability.Monitor
	jobs     *worker.Jobs
}

func newJobsFixture(t *testing.T, targets ...worker.HealthTarget) *jobsFixture {
	t.Helper()
	logger := zerolog.Nop()

	analyzer := trigger.NewAnalyzer(trigger.AnalyzerConfig{Logger: logger})
	alerts := alerting.NewManager(alerting.DefaultManagerConfig(logger))
	monitorCfg := observability.DefaultMonitorConfig(logger)
	monitorCfg.Incidents = analyzer
	monitor := observability.NewMonitor(monitorCfg)

	sweep := worker.NewSweepJob(worker.SweepJobConfig{
		Config:   worker.DefaultSweepConfig(targets...),
		Registry: newRegistry(t),
		Logger:   logger,
	})

	return &jobsFixture{
		analyzer: analyzer,
		alerts:   alerts,
		monitor:  monitor,
		jobs: worker.NewJobs(worker.JobsConfig{
			Sweep:     sweep,
			Incidents: analyzer,
			Stats:     monitor,
			Alerts:    alerts,
			Logger:    logger,
		}),
	}
}

func TestJobs_HealthCheck(t *testing.T) {
	healthy := newJobsFixture(t, worker.HealthTarget{ServiceID: health.ServiceDatabase, Check: worker.PingCheck("database", pinger{})})
	assert.NoError(t, healthy.jobs.Handle(context.Background(), worker.JobMessage{JobType: worker.JobHealthCheck}))

	down := newJobsFixture(t, worker.HealthTarget{ServiceID: health.ServiceDatabase, Check: worker.PingCheck("database", pinger{err: errors.New("down")})})
	err := down.jobs.Handle(context.Background(), worker.JobMessage{JobType: worker.JobHealthCheck})
	require.Error(t, err)
	assert.NotErrorIs(t, err, worker.ErrInvalidJob)

	empty := newJobsFixture(t)
	err = empty.jobs.Handle(context.Background(), worker.JobMessage{JobType: worker.JobHealthCheck})
	assert.ErrorIs(t, err, worker.ErrNoTargets)
	assert.ErrorIs(t, err, worker.ErrInvalidJob)
}

func TestJobs_ResolveIncidents(t *testing.T) {
	tests := []struct {
		name         string
		msg          worker.JobMessage
		wantErr      error
		wantResolved int
	}{
		{"by trigger and subject", worker.JobMessage{Trigger: "timeout", Subject: "math"}, nil, 1},
		{"by subject", worker.JobMessage{Subject: "math"}, nil, 2},
		{"everything", worker.JobMessage{}, nil, 3},
		{"unknown trigger", worker.JobMessage{Trigger: "gremlins"}, worker.ErrInvalidJob, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newJobsFixture(t)
			f.analyzer.RecordFallback(trigger.Timeout, "timeout", trigger.Metadata{Subject: "math"})
			f.analyzer.RecordFallback(trigger.RateLimited, "429", trigger.Metadata{Subject: "math"})
			f.analyzer.RecordFallback(trigger.Timeout, "timeout", trigger.Metadata{Subject: "physics"})

			tt.msg.JobType = worker.JobResolveIncidents
			err := f.jobs.Handle(context.Background(), tt.msg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, f.analyzer.ActiveIncidents(), 3-tt.wantResolved)
		})
	}
}

func TestJobs_AlertDigest(t *testing.T) {
	f := newJobsFixture(t)
	f.monitor.RecordSuccess(100 * time.Millisecond)

	require.NoError(t, f.jobs.Handle(context.Background(), worker.JobMessage{JobType: worker.JobAlertDigest}))

	alerts := f.alerts.Alerts(alerting.Filter{Type: alerting.TypeFallbackDigest})
	require.Len(t, alerts, 1)
	assert.Equal(t, "worker", alerts[0].Source)
	assert.Equal(t, "1", alerts[0].Metadata["total_requests"])
}

func TestProcess(t *testing.T) {
	f := newJobsFixture(t, worker.HealthTarget{ServiceID: health.ServiceDatabase, Check: worker.PingCheck("database", pinger{err: errors.New("down")})})

	tests := []struct {
		name    string
		data    string
		wantAck bool
	}{
		{"malformed", `{"job_type":`, true},
		{"unknown job", `{"job_type":"provider_refresh"}`, true},
		{"successful job", `{"job_type":"alert_digest"}`, true},
		{"failed job is retried", `{"job_type":"health_check"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantAck, worker.Process(context.Background(), f.jobs, []byte(tt.data), zerolog.Nop()))
		})
	}
}

func TestPingFunc(t *testing.T) {
	calls := 0
	check := worker.PingCheck("cache", worker.PingFunc(func(context.Context) error {
		calls++
		return errors.New("connection refused")
	}))

	err := check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping cache")
	assert.Equal(t, 1, calls)
}
