package observability_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorstack/tutorguard/internal/alerting"
	"github.com/tutorstack/tutorguard/internal/fallback"
	"github.com/tutorstack/tutorguard/internal/health"
	"github.com/tutorstack/tutorguard/internal/observability"
	"github.com/tutorstack/tutorguard/internal/trigger"
)

type fakeSender struct {
	mu     sync.Mutex
	alerts []alerting.Alert
}

func (s *fakeSender) SendAlert(_ context.Context, a alerting.Alert) (alerting.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return alerting.Notification{ID: "n", Type: a.Type}, true
}

func (s *fakeSender) ofType(t alerting.Type) []alerting.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []alerting.Alert
	for _, a := range s.alerts {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

type fakeIncidents []trigger.Incident

func (f fakeIncidents) ActiveIncidents() []trigger.Incident { return f }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newMonitor(clock *fakeClock, sender observability.AlertSender) *observability.Monitor {
	cfg := observability.DefaultMonitorConfig(zerolog.Nop())
	cfg.Alerts = sender
	cfg.Now = clock.Now
	return observability.NewMonitor(cfg)
}

func event(t trigger.Trigger, sev trigger.Severity, subject string, count int) observability.Event {
	return observability.Event{
		Incident: trigger.Incident{
			ID:               "inc-" + string(t),
			Trigger:          t,
			Severity:         sev,
			Subject:          subject,
			Message:          "upstream failed",
			ResponseTime:     2 * time.Second,
			ConsecutiveCount: count,
		},
		Tier:        fallback.Tier2,
		ContentType: fallback.TypeStaticContent,
	}
}

func TestMonitor_Stats(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	cfg := observability.DefaultMonitorConfig(zerolog.Nop())
	cfg.Now = clock.Now
	cfg.Incidents = fakeIncidents{
		{Trigger: trigger.Timeout, Timestamp: clock.now.Add(-10 * time.Minute)},
		{Trigger: trigger.RateLimited, Timestamp: clock.now.Add(-2 * time.Hour)},
	}
	m := observability.NewMonitor(cfg)

	m.RecordSuccess(300 * time.Millisecond)
	m.RecordSuccess(500 * time.Millisecond)
	m.RecordFallback(context.Background(), event(trigger.Timeout, trigger.SeverityMinor, "math", 1))
	m.RecordFallback(context.Background(), event(trigger.Timeout, trigger.SeverityMinor, "math", 2))
	m.RecordFallback(context.Background(), event(trigger.RateLimited, trigger.SeverityMinor, "science", 1))

	s := m.Stats()
	assert.Equal(t, 5, s.TotalRequests)
	assert.Equal(t, 3, s.TotalFallbacks)
	assert.InDelta(t, 0.6, s.FallbackRate, 1e-9)
	assert.Equal(t, 2, s.ByTrigger[trigger.Timeout])
	assert.Equal(t, 1, s.ByTrigger[trigger.RateLimited])
	assert.Equal(t, 3, s.ByTier[fallback.Tier2])
	assert.Equal(t, 3, s.BySeverity[trigger.SeverityMinor])
	assert.Equal(t, 2, s.BySubject["math"])
	assert.Equal(t, 2*time.Second, s.AverageResponseTime)
	assert.Equal(t, 2, s.MaxConsecutiveCount)
	assert.Equal(t, 1, s.ActiveIncidentsLastHour)
}

func TestMonitor_EmptyStats(t *testing.T) {
	m := newMonitor(&fakeClock{now: time.Now()}, nil)

	s := m.Stats()
	assert.Zero(t, s.TotalRequests)
	assert.Zero(t, s.FallbackRate)
	assert.Zero(t, s.AverageResponseTime)
}

func TestMonitor_IncidentAlerts(t *testing.T) {
	tests := []struct {
		name      string
		severity  trigger.Severity
		wantAlert bool
		wantLevel alerting.Severity
	}{
		{"minor is not alerted", trigger.SeverityMinor, false, ""},
		{"moderate is not alerted", trigger.SeverityModerate, false, ""},
		{"major raises error", trigger.SeverityMajor, true, alerting.SeverityError},
		{"critical raises critical", trigger.SeverityCritical, true, alerting.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			m := newMonitor(&fakeClock{now: time.Now()}, sender)

			m.RecordFallback(context.Background(), event(trigger.APIUnavailable, tt.severity, "math", 4))

			got := sender.ofType(alerting.TypeFallbackIncident)
			if !tt.wantAlert {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.wantLevel, got[0].Severity)
			assert.Equal(t, "api_unavailable-math", got[0].Source)
			assert.Equal(t, "4", got[0].Metadata["consecutive_count"])
		})
	}
}

func TestMonitor_HighRateAlertNeedsSample(t *testing.T) {
	sender := &fakeSender{}
	m := newMonitor(&fakeClock{now: time.Now()}, sender)

	for i := 0; i < 5; i++ {
		m.RecordFallback(context.Background(), event(trigger.Timeout, trigger.SeverityMinor, "", 1))
	}
	assert.Empty(t, sender.ofType(alerting.TypeHighFallbackRate), "fewer than 10 requests")

	for i := 0; i < 5; i++ {
		m.RecordSuccess(time.Second)
	}
	m.RecordFallback(context.Background(), event(trigger.Timeout, trigger.SeverityMinor, "", 1))

	got := sender.ofType(alerting.TypeHighFallbackRate)
	require.Len(t, got, 1)
	assert.Equal(t, "fallback_monitor", got[0].Source)
	assert.Equal(t, alerting.SeverityWarning, got[0].Severity)
}

func TestMonitor_Trend(t *testing.T) {
	tests := []struct {
		name   string
		rates  [][2]int // {requests, fallbacks} per hour
		expect observability.Direction
	}{
		{"increasing", [][2]int{{10, 1}, {10, 1}, {10, 5}, {10, 6}}, observability.Increasing},
		{"decreasing", [][2]int{{10, 6}, {10, 5}, {10, 1}, {10, 1}}, observability.Decreasing},
		{"stable", [][2]int{{10, 2}, {10, 2}, {10, 2}, {10, 2}}, observability.Stable},
		{"single bucket", [][2]int{{10, 9}}, observability.Stable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Date(2024, 3, 1, 0, 5, 0, 0, time.UTC)}
			m := newMonitor(clock, nil)

			for _, hour := range tt.rates {
				for i := 0; i < hour[0]-hour[1]; i++ {
					m.RecordSuccess(time.Second)
				}
				for i := 0; i < hour[1]; i++ {
					m.RecordFallback(context.Background(), event(trigger.Timeout, trigger.SeverityMinor, "", 1))
				}
				clock.Advance(time.Hour)
			}

			report := m.Trend(observability.WindowHourly)
			assert.Equal(t, tt.expect, report.Direction)
			assert.Len(t, report.Buckets, len(tt.rates))

			daily := m.Trend(observability.WindowDaily)
			assert.Equal(t, observability.Stable, daily.Direction, "all hours fall in one day")
		})
	}
}

func TestMonitor_TrendKeepsRecentWindows(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	m := newMonitor(clock, nil)

	for i := 0; i < 60; i++ {
		if i > 0 {
			clock.Advance(time.Hour)
		}
		m.RecordSuccess(time.Second)
	}

	report := m.Trend(observability.WindowHourly)
	require.Len(t, report.Buckets, 48)
	assert.Equal(t, clock.Now().Add(-47*time.Hour), report.Buckets[0].Start)
	assert.Equal(t, clock.Now(), report.Buckets[47].Start)
}

func TestMonitor_TrendDropsExpiredWindows(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := newMonitor(clock, nil)

	m.RecordFallback(context.Background(), event(trigger.Timeout, trigger.SeverityMinor, "", 1))

	clock.Advance(49 * time.Hour)
	assert.Empty(t, m.Trend(observability.WindowHourly).Buckets)
	assert.Len(t, m.Trend(observability.WindowDaily).Buckets, 1, "still within 30 days")

	clock.Advance(60 * 24 * time.Hour)
	m.RecordSuccess(time.Second)

	for _, w := range []observability.Window{observability.WindowHourly, observability.WindowDaily} {
		report := m.Trend(w)
		require.Len(t, report.Buckets, 1, string(w))
		assert.Equal(t, 0, report.Buckets[0].Fallbacks)
		assert.Equal(t, observability.Stable, report.Direction)
	}
}

func TestMonitor_Recommendations(t *testing.T) {
	m := newMonitor(&fakeClock{now: time.Now()}, nil)

	recs := m.Recommendations()
	require.Len(t, recs, 3, "baseline only")
	for _, r := range recs {
		assert.Equal(t, "low", r.Priority)
	}

	for i := 0; i < 12; i++ {
		m.RecordFallback(context.Background(), event(trigger.RateLimited, trigger.SeverityMinor, "math", 1))
	}

	recs = m.Recommendations()
	require.Len(t, recs, 6)
	assert.Equal(t, "high", recs[0].Priority)
	assert.Equal(t, "Reduce rate_limited fallbacks", recs[1].Title)
	assert.Equal(t, "Enhance math fallback content", recs[2].Title)
}

func TestMonitor_WatchHealth(t *testing.T) {
	sender := &fakeSender{}
	m := newMonitor(&fakeClock{now: time.Now()}, sender)
	registry := health.NewRegistry(health.DefaultRegistryConfig(zerolog.Nop()))
	defer registry.Stop()

	stop := m.WatchHealth(registry)
	defer stop()

	for i := 0; i < 3; i++ {
		registry.ReportFailure(health.ServiceAI, "connection refused")
	}
	outages := sender.ofType(alerting.TypeServiceOutage)
	require.Len(t, outages, 1)
	assert.Equal(t, alerting.SeverityCritical, outages[0].Severity)
	assert.Equal(t, health.ServiceAI, outages[0].Source)
	assert.Equal(t, "3", outages[0].Metadata["consecutive_errors"])

	registry.ReportSuccess(health.ServiceAI, 100*time.Millisecond)
	recovered := sender.ofType(alerting.TypeServiceRecovered)
	require.Len(t, recovered, 1)
	assert.Equal(t, alerting.SeverityInfo, recovered[0].Severity)

	// degraded -> operational is not a recovery from outage
	registry.ReportFailure(health.ServiceDatabase, "slow")
	registry.ReportSuccess(health.ServiceDatabase, time.Millisecond)
	assert.Len(t, sender.ofType(alerting.TypeServiceRecovered), 1)
}

func TestMetrics_MirrorMonitor(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	cfg := observability.DefaultMonitorConfig(zerolog.Nop())
	cfg.Metrics = metrics
	cfg.Alerts = &fakeSender{}
	m := observability.NewMonitor(cfg)

	m.RecordSuccess(time.Second)
	m.RecordFallback(context.Background(), event(trigger.APIUnavailable, trigger.SeverityMajor, "math", 1))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[mf.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[mf.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, 2.0, values["tutorguard_ai_requests_total"])
	assert.Equal(t, 1.0, values["tutorguard_fallbacks_total"])
	assert.Equal(t, 1.0, values["tutorguard_alerts_total"])
	assert.InDelta(t, 0.5, values["tutorguard_fallback_rate"], 1e-9)

	_, err = observability.NewMetrics(reg)
	assert.Error(t, err, "duplicate registration")
}
