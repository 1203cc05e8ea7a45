package observability

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tutorstack/tutorguard/internal/alerting"
	"github.com/tutorstack/tutorguard/internal/fallback"
	"github.com/tutorstack/tutorguard/internal/health"
	"github.com/tutorstack/tutorguard/internal/trigger"
)

// AlertSender raises alerts. *alerting.Manager satisfies it.
type AlertSender interface {
	SendAlert(ctx context.Context, a alerting.Alert) (alerting.Notification, bool)
}

// IncidentSource lists active incidents. *trigger.Analyzer satisfies it.
type IncidentSource interface {
	ActiveIncidents() []trigger.Incident
}

// Event describes one fallback response.
type Event struct {
	Incident    trigger.Incident
	Tier        fallback.Tier
	ContentType fallback.ContentType
}

// Stats is a snapshot of the monitor's counters.
type Stats struct {
	TotalRequests           int                      `json:"totalRequests"`
	TotalFallbacks          int                      `json:"totalFallbacks"`
	FallbackRate            float64                  `json:"fallbackRate"`
	ByTrigger               map[trigger.Trigger]int  `json:"byTrigger"`
	ByTier                  map[fallback.Tier]int    `json:"byTier"`
	BySeverity              map[trigger.Severity]int `json:"bySeverity"`
	BySubject               map[string]int           `json:"bySubject"`
	AverageResponseTime     time.Duration            `json:"averageResponseTime"`
	MaxConsecutiveCount     int                      `json:"maxConsecutiveCount"`
	ActiveIncidentsLastHour int                      `json:"activeIncidentsLastHour"`
}

// MonitorConfig holds configuration for the monitor.
type MonitorConfig struct {
	// Alerts receives incident and rate alerts. Optional.
	Alerts AlertSender

	// Incidents is used for the active-incident count. Optional.
	Incidents IncidentSource

	// Metrics mirrors counters to Prometheus. Optional.
	Metrics *Metrics

	// HighRateThreshold is the fallback rate above which an alert is raised.
	// Default: 0.2
	HighRateThreshold float64

	// MinRequestsForRateAlert is the minimum sample size for a rate alert.
	// Default: 10
	MinRequestsForRateAlert int

	// HourlyWindows and DailyWindows bound the trend history.
	// Defaults: 48 and 30
	HourlyWindows int
	DailyWindows  int

	Logger zerolog.Logger

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// DefaultMonitorConfig returns the default monitor configuration.
func DefaultMonitorConfig(logger zerolog.Logger) MonitorConfig {
	return MonitorConfig{
		HighRateThreshold:       0.2,
		MinRequestsForRateAlert: 10,
		HourlyWindows:           48,
		DailyWindows:            30,
		Logger:                  logger,
		Now:                     time.Now,
	}
}

// Monitor aggregates request outcomes.
type Monitor struct {
	mu              sync.Mutex
	totalRequests   int
	totalFallbacks  int
	byTrigger       map[trigger.Trigger]int
	byTier          map[fallback.Tier]int
	bySeverity      map[trigger.Severity]int
	bySubject       map[string]int
	totalFallbackRT time.Duration
	maxConsecutive  int
	hourly          *windowSeries
	daily           *windowSeries

	config MonitorConfig
	logger zerolog.Logger
}

// NewMonitor creates a new monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.HighRateThreshold == 0 {
		cfg.HighRateThreshold = 0.2
	}
	if cfg.MinRequestsForRateAlert == 0 {
		cfg.MinRequestsForRateAlert = 10
	}
	if cfg.HourlyWindows <= 0 {
		cfg.HourlyWindows = 48
	}
	if cfg.DailyWindows <= 0 {
		cfg.DailyWindows = 30
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Monitor{
		byTrigger:  make(map[trigger.Trigger]int),
		byTier:     make(map[fallback.Tier]int),
		bySeverity: make(map[trigger.Severity]int),
		bySubject:  make(map[string]int),
		hourly:     newWindowSeries(time.Hour, cfg.HourlyWindows),
		daily:      newWindowSeries(24*time.Hour, cfg.DailyWindows),
		config:     cfg,
		logger:     cfg.Logger.With().Str("component", "fallback_monitor").Logger(),
	}
}

// RecordSuccess records a request answered by the upstream.
func (m *Monitor) RecordSuccess(responseTime time.Duration) {
	now := m.config.Now()

	m.mu.Lock()
	m.totalRequests++
	m.hourly.add(now, false)
	m.daily.add(now, false)
	rate := m.rateLocked()
	m.mu.Unlock()

	m.config.Metrics.observeSuccess(responseTime.Seconds())
	m.config.Metrics.setRate(rate)
}

// RecordFallback records a fallback response and raises alerts for major
// incidents and for a sustained high fallback rate.
func (m *Monitor) RecordFallback(ctx context.Context, e Event) {
	now := m.config.Now()
	inc := e.Incident

	m.mu.Lock()
	m.totalRequests++
	m.totalFallbacks++
	m.byTrigger[inc.Trigger]++
	m.byTier[e.Tier]++
	m.bySeverity[inc.Severity]++
	if inc.Subject != "" {
		m.bySubject[inc.Subject]++
	}
	m.totalFallbackRT += inc.ResponseTime
	if inc.ConsecutiveCount > m.maxConsecutive {
		m.maxConsecutive = inc.ConsecutiveCount
	}
	m.hourly.add(now, true)
	m.daily.add(now, true)
	rate := m.rateLocked()
	requests := m.totalRequests
	m.mu.Unlock()

	m.config.Metrics.observeFallback(string(inc.Trigger), string(e.Tier), string(inc.Severity), inc.ResponseTime.Seconds())
	m.config.Metrics.setRate(rate)

	if inc.Severity.AtLeastMajor() {
		m.alert(ctx, alerting.Alert{
			Type:     alerting.TypeFallbackIncident,
			Severity: alertSeverity(inc.Severity),
			Title:    fmt.Sprintf("Fallback incident: %s", inc.Trigger),
			Message:  fmt.Sprintf("%s (%d consecutive occurrences)", inc.Message, inc.ConsecutiveCount),
			Source:   inc.Key(),
			Metadata: map[string]string{
				"incident_id":       inc.ID,
				"trigger":           string(inc.Trigger),
				"subject":           inc.Subject,
				"tier":              string(e.Tier),
				"consecutive_count": strconv.Itoa(inc.ConsecutiveCount),
			},
		})
	}

	if rate > m.config.HighRateThreshold && requests >= m.config.MinRequestsForRateAlert {
		m.alert(ctx, alerting.Alert{
			Type:     alerting.TypeHighFallbackRate,
			Severity: alerting.SeverityWarning,
			Title:    "High fallback rate",
			Message:  fmt.Sprintf("%.1f%% of the last %d requests were answered with fallback content", rate*100, requests),
			Source:   "fallback_monitor",
			Metadata: map[string]string{"rate": strconv.FormatFloat(rate, 'f', 4, 64)},
		})
	}
}

func (m *Monitor) alert(ctx context.Context, a alerting.Alert) {
	if m.config.Alerts == nil {
		return
	}
	_, delivered := m.config.Alerts.SendAlert(ctx, a)
	m.config.Metrics.observeAlert(string(a.Type), delivered)
	if !delivered {
		m.logger.Debug().Str("alert_type", string(a.Type)).Str("source", a.Source).Msg("alert throttled")
	}
}

func alertSeverity(s trigger.Severity) alerting.Severity {
	switch s {
	case trigger.SeverityCritical:
		return alerting.SeverityCritical
	case trigger.SeverityMajor:
		return alerting.SeverityError
	case trigger.SeverityModerate:
		return alerting.SeverityWarning
	default:
		return alerting.SeverityInfo
	}
}

// WatchHealth raises service_outage and service_recovered alerts on status
// changes. The returned function stops watching.
func (m *Monitor) WatchHealth(registry *health.Registry) func() {
	return registry.Subscribe(func(serviceID string, from, to health.Status) {
		switch {
		case to == health.StatusOutage:
			h, _ := registry.GetHealth(serviceID)
			m.alert(context.Background(), alerting.Alert{
				Type:     alerting.TypeServiceOutage,
				Severity: alerting.SeverityCritical,
				Title:    fmt.Sprintf("Service outage: %s", serviceID),
				Message:  h.Message,
				Source:   serviceID,
				Metadata: map[string]string{"from": string(from), "consecutive_errors": strconv.Itoa(h.ConsecutiveErrors)},
			})
		case from == health.StatusOutage && to == health.StatusOperational:
			m.alert(context.Background(), alerting.Alert{
				Type:     alerting.TypeServiceRecovered,
				Severity: alerting.SeverityInfo,
				Title:    fmt.Sprintf("Service recovered: %s", serviceID),
				Message:  fmt.Sprintf("%s is operational again", serviceID),
				Source:   serviceID,
			})
		}
	})
}

func (m *Monitor) rateLocked() float64 {
	if m.totalRequests == 0 {
		return 0
	}
	return float64(m.totalFallbacks) / float64(m.totalRequests)
}

// Stats returns a snapshot of the counters.
func (m *Monitor) Stats() Stats {
	now := m.config.Now()

	m.mu.Lock()
	s := Stats{
		TotalRequests:       m.totalRequests,
		TotalFallbacks:      m.totalFallbacks,
		FallbackRate:        m.rateLocked(),
		ByTrigger:           maps.Clone(m.byTrigger),
		ByTier:              maps.Clone(m.byTier),
		BySeverity:          maps.Clone(m.bySeverity),
		BySubject:           maps.Clone(m.bySubject),
		MaxConsecutiveCount: m.maxConsecutive,
	}
	if m.totalFallbacks > 0 {
		s.AverageResponseTime = m.totalFallbackRT / time.Duration(m.totalFallbacks)
	}
	m.mu.Unlock()

	if m.config.Incidents != nil {
		for _, inc := range m.config.Incidents.ActiveIncidents() {
			if now.Sub(inc.Timestamp) <= time.Hour {
				s.ActiveIncidentsLastHour++
			}
		}
	}
	return s
}

// Recommendation is an actionable suggestion derived from the stats.
type Recommendation struct {
	Priority    string `json:"priority"`
	Category    string `json:"category"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

var baselineRecommendations = []Recommendation{
	{
		Priority:    "low",
		Category:    "content",
		Title:       "Review fallback content regularly",
		Description: "Keep subject and topic fallback content aligned with the current curriculum.",
	},
	{
		Priority:    "low",
		Category:    "monitoring",
		Title:       "Watch provider status",
		Description: "Subscribe to the AI provider's status page so outages are known before students report them.",
	},
	{
		Priority:    "low",
		Category:    "resilience",
		Title:       "Exercise failover",
		Description: "Periodically force fallback mode in a staging environment to verify every tier renders correctly.",
	},
}

// Recommendations derives suggestions from the current stats, followed by
// the baseline recommendations.
func (m *Monitor) Recommendations() []Recommendation {
	s := m.Stats()
	var out []Recommendation

	if s.FallbackRate > m.config.HighRateThreshold {
		out = append(out, Recommendation{
			Priority:    "high",
			Category:    "reliability",
			Title:       "Investigate elevated fallback rate",
			Description: fmt.Sprintf("%.1f%% of requests fell back. Check upstream health and recent deployments.", s.FallbackRate*100),
		})
	}

	triggers := make([]trigger.Trigger, 0, len(s.ByTrigger))
	for t := range s.ByTrigger {
		triggers = append(triggers, t)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	for _, t := range triggers {
		if n := s.ByTrigger[t]; n > 10 {
			out = append(out, Recommendation{
				Priority:    "medium",
				Category:    "trigger",
				Title:       fmt.Sprintf("Reduce %s fallbacks", t),
				Description: fmt.Sprintf("%d fallbacks were caused by %s. %s", n, t, triggerAdvice(t)),
			})
		}
	}

	subjects := make([]string, 0, len(s.BySubject))
	for subj := range s.BySubject {
		subjects = append(subjects, subj)
	}
	sort.Strings(subjects)
	for _, subj := range subjects {
		if n := s.BySubject[subj]; n > 5 {
			out = append(out, Recommendation{
				Priority:    "medium",
				Category:    "content",
				Title:       fmt.Sprintf("Enhance %s fallback content", subj),
				Description: fmt.Sprintf("%s triggered %d fallbacks. Add more topic-specific content for it.", subj, n),
			})
		}
	}

	return append(out, baselineRecommendations...)
}

func triggerAdvice(t trigger.Trigger) string {
	switch t {
	case trigger.RateLimited:
		return "Request a higher rate limit or add request queuing."
	case trigger.Timeout:
		return "Shorten prompts or raise the upstream timeout."
	case trigger.ContextExceeded:
		return "Trim conversation history before sending it upstream."
	case trigger.ContentFiltered:
		return "Review prompts that hit the content filter."
	case trigger.AuthenticationFailure:
		return "Rotate and verify the provider API key."
	case trigger.APIUnavailable, trigger.ModelOverloaded:
		return "Consider a secondary provider or model."
	case trigger.NetworkError:
		return "Check egress connectivity and DNS."
	default:
		return "Inspect recent incidents for a common cause."
	}
}
