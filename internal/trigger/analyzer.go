package trigger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Incident is one fallback incident. At most one unresolved incident exists
// per key (trigger plus optional subject); repeats increment ConsecutiveCount.
type Incident struct {
	ID               string        `json:"id"`
	Trigger          Trigger       `json:"trigger"`
	Severity         Severity      `json:"severity"`
	ErrorCode        string        `json:"errorCode,omitempty"`
	ErrorCategory    string        `json:"errorCategory,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
	Message          string        `json:"message"`
	Subject          string        `json:"subject,omitempty"`
	Topic            string        `json:"topic,omitempty"`
	Query            string        `json:"query,omitempty"`
	ResponseTime     time.Duration `json:"responseTime,omitempty"`
	ConsecutiveCount int           `json:"consecutiveCount"`
	Resolved         bool          `json:"resolved"`
	ResolvedAt       *time.Time    `json:"resolvedAt,omitempty"`
	Resolution       string        `json:"resolution,omitempty"`
}

// Key returns the active-incident key of the incident.
func (i Incident) Key() string {
	return Key(i.Trigger, i.Subject)
}

// Key builds the active-incident key for a trigger and optional subject.
func Key(t Trigger, subject string) string {
	if subject == "" {
		return string(t)
	}
	return string(t) + "-" + subject
}

// Metadata describes the request that caused a fallback.
type Metadata struct {
	ErrorCode     string
	ErrorCategory string
	Subject       string
	Topic         string
	Query         string
	ResponseTime  time.Duration
}

// Listener is notified with a copy of every recorded or resolved incident.
type Listener func(Incident)

// HistorySink persists incident snapshots outside the process.
type HistorySink interface {
	AppendIncident(ctx context.Context, incident Incident) error
}

// AnalyzerConfig holds configuration for the analyzer.
type AnalyzerConfig struct {
	// MaxHistory caps the in-memory history. Zero keeps everything.
	MaxHistory int

	// Sink receives every snapshot appended to the history. Optional.
	Sink HistorySink

	// SinkTimeout bounds a single sink write.
	// Default: 2 seconds
	SinkTimeout time.Duration

	Logger zerolog.Logger

	// Now is the clock used for timestamps. Default: time.Now
	Now func() time.Time
}

// Analyzer records fallback incidents and keeps the active set and history.
type Analyzer struct {
	mu        sync.Mutex
	active    map[string]*Incident
	history   []Incident
	counts    map[Trigger]int
	listeners []Listener

	config AnalyzerConfig
	logger zerolog.Logger
}

// NewAnalyzer creates a new incident analyzer.
func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	if cfg.SinkTimeout == 0 {
		cfg.SinkTimeout = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Analyzer{
		active: make(map[string]*Incident),
		counts: make(map[Trigger]int),
		config: cfg,
		logger: cfg.Logger.With().Str("component", "trigger_analyzer").Logger(),
	}
}

// RecordFallback records an occurrence of trigger t. The active incident for
// the key is updated, or created with ConsecutiveCount 1. A snapshot of the
// result is appended to the history.
func (a *Analyzer) RecordFallback(t Trigger, message string, meta Metadata) Incident {
	now := a.config.Now()
	key := Key(t, meta.Subject)

	a.mu.Lock()
	inc, ok := a.active[key]
	if ok {
		inc.ConsecutiveCount++
		inc.Timestamp = now
		inc.Message = message
		inc.Severity = DetermineSeverity(t, inc.ConsecutiveCount)
		inc.ErrorCode = meta.ErrorCode
		inc.ErrorCategory = meta.ErrorCategory
		inc.Topic = meta.Topic
		inc.Query = meta.Query
		inc.ResponseTime = meta.ResponseTime
	} else {
		inc = &Incident{
			ID:               uuid.New().String(),
			Trigger:          t,
			Severity:         DetermineSeverity(t, 1),
			ErrorCode:        meta.ErrorCode,
			ErrorCategory:    meta.ErrorCategory,
			Timestamp:        now,
			Message:          message,
			Subject:          meta.Subject,
			Topic:            meta.Topic,
			Query:            meta.Query,
			ResponseTime:     meta.ResponseTime,
			ConsecutiveCount: 1,
		}
		a.active[key] = inc
	}
	a.counts[t]++

	snapshot := *inc
	a.appendHistoryLocked(snapshot)
	listeners := append([]Listener(nil), a.listeners...)
	a.mu.Unlock()

	a.logger.Warn().
		Str("incident_id", snapshot.ID).
		Str("trigger", string(t)).
		Str("severity", string(snapshot.Severity)).
		Str("subject", snapshot.Subject).
		Int("consecutive_count", snapshot.ConsecutiveCount).
		Msg("fallback recorded")

	a.persist(snapshot)
	a.dispatch(listeners, snapshot)

	return snapshot
}

// ResolveFallback resolves the active incident for trigger t and subject.
// It reports false, and changes nothing, if no such incident is active.
func (a *Analyzer) ResolveFallback(t Trigger, subject, resolution string) (Incident, bool) {
	a.mu.Lock()
	snapshot, ok := a.resolveLocked(Key(t, subject), resolution)
	listeners := append([]Listener(nil), a.listeners...)
	a.mu.Unlock()

	if !ok {
		return Incident{}, false
	}

	a.logger.Info().
		Str("incident_id", snapshot.ID).
		Str("trigger", string(t)).
		Str("subject", subject).
		Msg("incident resolved")

	a.persist(snapshot)
	a.dispatch(listeners, snapshot)
	return snapshot, true
}

// ResolveSubject resolves every active incident recorded for subject.
func (a *Analyzer) ResolveSubject(subject, resolution string) []Incident {
	a.mu.Lock()
	var resolved []Incident
	for key, inc := range a.active {
		if inc.Subject != subject {
			continue
		}
		if snapshot, ok := a.resolveLocked(key, resolution); ok {
			resolved = append(resolved, snapshot)
		}
	}
	listeners := append([]Listener(nil), a.listeners...)
	a.mu.Unlock()

	for _, snapshot := range resolved {
		a.persist(snapshot)
		a.dispatch(listeners, snapshot)
	}
	if len(resolved) > 0 {
		a.logger.Info().Str("subject", subject).Int("count", len(resolved)).Msg("incidents resolved")
	}
	return resolved
}

func (a *Analyzer) resolveLocked(key, resolution string) (Incident, bool) {
	inc, ok := a.active[key]
	if !ok {
		return Incident{}, false
	}

	now := a.config.Now()
	inc.Resolved = true
	inc.ResolvedAt = &now
	inc.Resolution = resolution
	delete(a.active, key)

	snapshot := *inc
	a.appendHistoryLocked(snapshot)
	return snapshot, true
}

func (a *Analyzer) appendHistoryLocked(snapshot Incident) {
	a.history = append(a.history, snapshot)
	if limit := a.config.MaxHistory; limit > 0 && len(a.history) > limit {
		a.history = append([]Incident(nil), a.history[len(a.history)-limit:]...)
	}
}

func (a *Analyzer) persist(snapshot Incident) {
	if a.config.Sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.config.SinkTimeout)
	defer cancel()

	if err := a.config.Sink.AppendIncident(ctx, snapshot); err != nil {
		a.logger.Error().Err(err).Str("incident_id", snapshot.ID).Msg("failed to persist incident")
	}
}

func (a *Analyzer) dispatch(listeners []Listener, snapshot Incident) {
	for _, fn := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					a.logger.Error().Str("panic", fmt.Sprint(rec)).Msg("incident listener panicked")
				}
			}()
			fn(snapshot)
		}()
	}
}

// Subscribe registers a listener for recorded and resolved incidents.
func (a *Analyzer) Subscribe(fn Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// ActiveIncidents returns the unresolved incidents, newest first.
func (a *Analyzer) ActiveIncidents() []Incident {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Incident, 0, len(a.active))
	for _, inc := range a.active {
		out = append(out, *inc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// ActiveIncident returns the unresolved incident for trigger t and subject.
func (a *Analyzer) ActiveIncident(t Trigger, subject string) (Incident, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	inc, ok := a.active[Key(t, subject)]
	if !ok {
		return Incident{}, false
	}
	return *inc, true
}

// History returns every recorded incident snapshot in order.
func (a *Analyzer) History() []Incident {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Incident(nil), a.history...)
}

// TriggerCounts returns how often each trigger has been recorded.
func (a *Analyzer) TriggerCounts() map[Trigger]int {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[Trigger]int, len(a.counts))
	for t, n := range a.counts {
		out[t] = n
	}
	return out
}
