package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/tutorstack/tutorguard/internal/alerting"
	"github.com/tutorstack/tutorguard/internal/observability"
	"github.com/tutorstack/tutorguard/internal/trigger"
)

// Job types.
const (
	JobHealthCheck      = "health_check"
	JobResolveIncidents = "resolve_incidents"
	JobAlertDigest      = "alert_digest"
)

// Job errors. Messages failing with these are not redelivered.
var (
	ErrUnknownJob = errors.New("unknown job type")
	ErrInvalidJob = errors.New("invalid job message")
)

// DefaultResolution is recorded on incidents resolved without a reason.
const DefaultResolution = "resolved by worker"

// JobMessage is the payload of a worker Pub/Sub message.
type JobMessage struct {
	JobType string `json:"job_type"`

	// Trigger and Subject select the incidents of a resolve_incidents job.
	// With neither set every active incident is resolved.
	Trigger    string `json:"trigger,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

// Incidents resolves fallback incidents.
type Incidents interface {
	ActiveIncidents() []trigger.Incident
	ResolveFallback(t trigger.Trigger, subject, resolution string) (trigger.Incident, bool)
	ResolveSubject(subject, resolution string) []trigger.Incident
}

// StatsSource reports fallback statistics.
type StatsSource interface {
	Stats() observability.Stats
}

// AlertSender sends alerts.
type AlertSender interface {
	SendAlert(ctx context.Context, a alerting.Alert) (alerting.Notification, bool)
}

// JobsConfig holds the dependencies of the job runner. Jobs whose
// dependency is nil fail with ErrUnknownJob.
type JobsConfig struct {
	Sweep     *SweepJob
	Incidents Incidents
	Stats     StatsSource
	Alerts    AlertSender
	Logger    zerolog.Logger
}

// Jobs runs worker jobs.
type Jobs struct {
	config JobsConfig
	logger zerolog.Logger
}

// NewJobs creates a job runner.
func NewJobs(cfg JobsConfig) *Jobs {
	return &Jobs{
		config: cfg,
		logger: cfg.Logger.With().Str("component", "worker_jobs").Logger(),
	}
}

// Handle runs the job described by msg.
func (j *Jobs) Handle(ctx context.Context, msg JobMessage) error {
	switch {
	case msg.JobType == JobHealthCheck && j.config.Sweep != nil:
		return j.healthCheck(ctx)
	case msg.JobType == JobResolveIncidents && j.config.Incidents != nil:
		return j.resolveIncidents(msg)
	case msg.JobType == JobAlertDigest && j.config.Stats != nil && j.config.Alerts != nil:
		return j.alertDigest(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}
}

func (j *Jobs) healthCheck(ctx context.Context) error {
	if len(j.config.Sweep.config.Targets) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidJob, ErrNoTargets)
	}

	result := j.config.Sweep.Run(ctx)
	if result.Outages > result.Operational+result.Degraded {
		return fmt.Errorf("too many health check failures: %d/%d", result.Outages, result.Total)
	}
	return nil
}

func (j *Jobs) resolveIncidents(msg JobMessage) error {
	resolution := msg.Resolution
	if resolution == "" {
		resolution = DefaultResolution
	}

	var resolved []trigger.Incident
	switch {
	case msg.Trigger != "":
		t, ok := trigger.Parse(msg.Trigger)
		if !ok {
			return fmt.Errorf("%w: unknown trigger %q", ErrInvalidJob, msg.Trigger)
		}
		if inc, ok := j.config.Incidents.ResolveFallback(t, msg.Subject, resolution); ok {
			resolved = append(resolved, inc)
		}
	case msg.Subject != "":
		resolved = j.config.Incidents.ResolveSubject(msg.Subject, resolution)
	default:
		for _, inc := range j.config.Incidents.ActiveIncidents() {
			if r, ok := j.config.Incidents.ResolveFallback(inc.Trigger, inc.Subject, resolution); ok {
				resolved = append(resolved, r)
			}
		}
	}

	j.logger.Info().
		Str("trigger", msg.Trigger).
		Str("subject", msg.Subject).
		Int("resolved", len(resolved)).
		Msg("incidents resolved")
	return nil
}

func (j *Jobs) alertDigest(ctx context.Context) error {
	s := j.config.Stats.Stats()

	severity := alerting.SeverityInfo
	if s.ActiveIncidentsLastHour > 0 {
		severity = alerting.SeverityWarning
	}

	meta := map[string]string{
		"total_requests":   strconv.Itoa(s.TotalRequests),
		"total_fallbacks":  strconv.Itoa(s.TotalFallbacks),
		"fallback_rate":    strconv.FormatFloat(s.FallbackRate, 'f', 4, 64),
		"active_incidents": strconv.Itoa(s.ActiveIncidentsLastHour),
	}
	if top := topTrigger(s.ByTrigger); top != "" {
		meta["top_trigger"] = string(top)
	}

	_, sent := j.config.Alerts.SendAlert(ctx, alerting.Alert{
		Type:     alerting.TypeFallbackDigest,
		Severity: severity,
		Title:    "Fallback digest",
		Message: fmt.Sprintf("%d requests, %d fallbacks (%.1f%%), %d active incidents in the last hour",
			s.TotalRequests, s.TotalFallbacks, s.FallbackRate*100, s.ActiveIncidentsLastHour),
		Source:   "worker",
		Metadata: meta,
	})
	if !sent {
		j.logger.Debug().Msg("fallback digest throttled")
	}
	return nil
}

// topTrigger returns the most frequent trigger, ties broken by name.
func topTrigger(counts map[trigger.Trigger]int) trigger.Trigger {
	keys := make([]trigger.Trigger, 0, len(counts))
	for t := range counts {
		keys = append(keys, t)
	}
	sort.Slice(keys, func(a, b int) bool {
		if counts[keys[a]] != counts[keys[b]] {
			return counts[keys[a]] > counts[keys[b]]
		}
		return keys[a] < keys[b]
	})
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}
