// Package observability records request outcomes, computes fallback
// statistics and trends, and raises alerts on fallback patterns.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tutorguard"

// Metrics are the Prometheus collectors mirrored from the monitor.
type Metrics struct {
	requests     *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	responseTime *prometheus.HistogramVec
	alerts       *prometheus.CounterVec
	activeRate   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_requests_total",
			Help:      "AI tutor requests by outcome.",
		}, []string{"outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Fallback responses by trigger, tier and severity.",
		}, []string{"trigger", "tier", "severity"}),
		responseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_response_seconds",
			Help:      "Upstream response time by outcome.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 20, 30},
		}, []string{"outcome"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised by type and whether they were delivered.",
		}, []string{"type", "delivered"}),
		activeRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fallback_rate",
			Help:      "Fraction of requests answered with fallback content.",
		}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.fallbacks, m.responseTime, m.alerts, m.activeRate} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observeSuccess(seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues("success").Inc()
	m.responseTime.WithLabelValues("success").Observe(seconds)
}

func (m *Metrics) observeFallback(trigger, tier, severity string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues("fallback").Inc()
	m.fallbacks.WithLabelValues(trigger, tier, severity).Inc()
	m.responseTime.WithLabelValues("fallback").Observe(seconds)
}

func (m *Metrics) observeAlert(alertType string, delivered bool) {
	if m == nil {
		return
	}
	d := "false"
	if delivered {
		d = "true"
	}
	m.alerts.WithLabelValues(alertType, d).Inc()
}

func (m *Metrics) setRate(rate float64) {
	if m == nil {
		return
	}
	m.activeRate.Set(rate)
}
