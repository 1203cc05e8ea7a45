package alerting

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ManagerConfig holds configuration for the alert manager.
type ManagerConfig struct {
	Channels []Channel

	// Store persists notifications. Optional.
	Store AlertStore

	// ThrottleWindow is the window per (type, source) key.
	// Default: 5 minutes
	ThrottleWindow time.Duration

	// ThrottleLimit is the number of deliveries allowed per window.
	// Default: 3
	ThrottleLimit int

	// MaxAlerts bounds the in-memory notification log.
	// Default: 1000
	MaxAlerts int

	// DeliveryTimeout bounds each channel delivery.
	// Default: 10 seconds
	DeliveryTimeout time.Duration

	Logger zerolog.Logger

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// DefaultManagerConfig returns the default alert manager configuration.
func DefaultManagerConfig(logger zerolog.Logger) ManagerConfig {
	return ManagerConfig{
		ThrottleWindow:  5 * time.Minute,
		ThrottleLimit:   3,
		MaxAlerts:       1000,
		DeliveryTimeout: 10 * time.Second,
		Logger:          logger,
		Now:             time.Now,
	}
}

type throttleState struct {
	windowStart time.Time
	count       int
}

// Manager throttles alerts and fans them out to every channel.
type Manager struct {
	mu       sync.Mutex
	channels []Channel
	throttle map[string]*throttleState
	alerts   []Notification

	config ManagerConfig
	logger zerolog.Logger
}

// NewManager creates a new alert manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.ThrottleWindow == 0 {
		cfg.ThrottleWindow = 5 * time.Minute
	}
	if cfg.ThrottleLimit <= 0 {
		cfg.ThrottleLimit = 3
	}
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = 1000
	}
	if cfg.DeliveryTimeout == 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		channels: append([]Channel(nil), cfg.Channels...),
		throttle: make(map[string]*throttleState),
		config:   cfg,
		logger:   cfg.Logger.With().Str("component", "alert_manager").Logger(),
	}
}

// AddChannel registers another delivery channel.
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// SendAlert delivers a to every channel unless its (type, source) key is
// throttled. It reports whether the alert was sent. Channel failures are
// logged and never fail the call.
func (m *Manager) SendAlert(ctx context.Context, a Alert) (Notification, bool) {
	now := m.config.Now()
	key := string(a.Type) + "|" + a.Source

	m.mu.Lock()
	if !m.allowLocked(key, now) {
		m.mu.Unlock()
		m.logger.Debug().
			Str("alert_type", string(a.Type)).
			Str("source", a.Source).
			Msg("alert throttled")
		return Notification{}, false
	}

	n := Notification{
		ID:        uuid.New().String(),
		Type:      a.Type,
		Severity:  a.Severity,
		Title:     a.Title,
		Message:   a.Message,
		Timestamp: now,
		Source:    a.Source,
		Metadata:  maps.Clone(a.Metadata),
	}
	m.alerts = append(m.alerts, n)
	if len(m.alerts) > m.config.MaxAlerts {
		m.alerts = append([]Notification(nil), m.alerts[len(m.alerts)-m.config.MaxAlerts:]...)
	}
	channels := append([]Channel(nil), m.channels...)
	m.mu.Unlock()

	if m.config.Store != nil {
		if err := m.config.Store.SaveAlert(ctx, n); err != nil {
			m.logger.Error().Err(err).Str("alert_id", n.ID).Msg("failed to persist alert")
		}
	}

	for _, ch := range channels {
		m.deliver(ctx, ch, n)
	}

	return n, true
}

// allowLocked applies the per-key throttle: the first alert of a window
// resets the counter to 1, later ones are allowed until the limit.
func (m *Manager) allowLocked(key string, now time.Time) bool {
	st, ok := m.throttle[key]
	if !ok || now.Sub(st.windowStart) >= m.config.ThrottleWindow {
		m.throttle[key] = &throttleState{windowStart: now, count: 1}
		return true
	}
	if st.count < m.config.ThrottleLimit {
		st.count++
		return true
	}
	return false
}

// deliver sends n through ch. Errors and panics are logged so one channel
// cannot affect the others or the caller.
func (m *Manager) deliver(ctx context.Context, ch Channel, n Notification) {
	ctx, cancel := context.WithTimeout(ctx, m.config.DeliveryTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error().
				Interface("panic", rec).
				Str("channel", ch.Name()).
				Str("alert_id", n.ID).
				Msg("alert channel panicked")
		}
	}()

	if err := ch.Deliver(ctx, n); err != nil {
		m.logger.Error().
			Err(err).
			Str("channel", ch.Name()).
			Str("alert_id", n.ID).
			Str("alert_type", string(n.Type)).
			Msg("alert delivery failed")
	}
}

// Acknowledge marks an alert as acknowledged by the given user.
func (m *Manager) Acknowledge(ctx context.Context, id, by string) (Notification, error) {
	now := m.config.Now()

	m.mu.Lock()
	var found *Notification
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			found = &m.alerts[i]
			break
		}
	}
	if found == nil {
		m.mu.Unlock()
		return Notification{}, ErrAlertNotFound
	}
	found.Acknowledged = true
	found.AcknowledgedBy = by
	found.AcknowledgedAt = &now
	n := *found
	m.mu.Unlock()

	if m.config.Store != nil {
		if err := m.config.Store.AcknowledgeAlert(ctx, id, by, now); err != nil {
			m.logger.Error().Err(err).Str("alert_id", id).Msg("failed to persist acknowledgement")
		}
	}

	m.logger.Info().Str("alert_id", id).Str("acknowledged_by", by).Msg("alert acknowledged")
	return n, nil
}

// Alerts returns notifications matching f, newest first.
func (m *Manager) Alerts(f Filter) []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Notification
	for i := len(m.alerts) - 1; i >= 0; i-- {
		n := m.alerts[i]
		if !f.matches(n) {
			continue
		}
		n.Metadata = maps.Clone(n.Metadata)
		out = append(out, n)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}
