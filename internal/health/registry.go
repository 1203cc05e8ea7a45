package health

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RegistryConfig holds configuration for the health registry.
type RegistryConfig struct {
	// Services are registered with status unknown at construction.
	Services []string

	// OutageThreshold is the number of consecutive failures reported through
	// ReportFailure after which a service is marked as an outage.
	// Default: 3
	OutageThreshold int

	// CheckTimeout bounds every scheduled health check run.
	// Default: 5 seconds
	CheckTimeout time.Duration

	Logger zerolog.Logger

	// Now is the clock used for timestamps. Default: time.Now
	Now func() time.Time
}

// DefaultRegistryConfig returns the default configuration tracking the AI
// upstream, the database and the cache.
func DefaultRegistryConfig(logger zerolog.Logger) RegistryConfig {
	return RegistryConfig{
		Services:        []string{ServiceAI, ServiceDatabase, ServiceCache},
		OutageThreshold: 3,
		CheckTimeout:    5 * time.Second,
		Logger:          logger,
		Now:             time.Now,
	}
}

type subscription struct {
	id uint64
	fn Listener
}

// Registry is the single source of truth for service health.
type Registry struct {
	mu        sync.Mutex
	services  map[string]*ServiceHealth
	listeners []subscription
	nextSubID uint64

	schedMu   sync.Mutex
	schedules map[string]*schedule
	wg        sync.WaitGroup

	config RegistryConfig
	logger zerolog.Logger
}

// NewRegistry creates a registry with every configured service in status unknown.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.OutageThreshold <= 0 {
		cfg.OutageThreshold = 3
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := &Registry{
		services:  make(map[string]*ServiceHealth),
		schedules: make(map[string]*schedule),
		config:    cfg,
		logger:    cfg.Logger.With().Str("component", "health_registry").Logger(),
	}

	now := cfg.Now()
	for _, id := range cfg.Services {
		r.services[id] = &ServiceHealth{ServiceID: id, Status: StatusUnknown, LastChecked: now}
	}

	return r
}

// UpdateHealth overwrites the status of a service. Operational resets the
// consecutive error counter; every other status increments both counters.
// Subscribers are notified when the status changed.
func (r *Registry) UpdateHealth(serviceID string, status Status, latency *time.Duration, message string) {
	r.apply(serviceID, func(*ServiceHealth) (Status, *time.Duration, string) {
		return status, latency, message
	})
}

// ReportSuccess marks a service operational after a successful request.
func (r *Registry) ReportSuccess(serviceID string, latency time.Duration) {
	r.UpdateHealth(serviceID, StatusOperational, &latency, "")
}

// ReportFailure records a failed request. The service is degraded until its
// consecutive error count reaches the outage threshold.
func (r *Registry) ReportFailure(serviceID string, message string) {
	r.apply(serviceID, func(h *ServiceHealth) (Status, *time.Duration, string) {
		if h.ConsecutiveErrors+1 >= r.config.OutageThreshold {
			return StatusOutage, nil, message
		}
		return StatusDegraded, nil, message
	})
}

func (r *Registry) apply(serviceID string, decide func(*ServiceHealth) (Status, *time.Duration, string)) {
	r.mu.Lock()
	h, ok := r.services[serviceID]
	if !ok {
		h = &ServiceHealth{ServiceID: serviceID, Status: StatusUnknown}
		r.services[serviceID] = h
	}

	status, latency, message := decide(h)
	from := h.Status

	h.Status = status
	h.LastChecked = r.config.Now()
	h.Latency = latency
	h.Message = message
	if status == StatusOperational {
		h.ConsecutiveErrors = 0
	} else {
		h.ErrorCount++
		h.ConsecutiveErrors++
	}

	var listeners []subscription
	if from != status {
		listeners = append(listeners, r.listeners...)
	}
	r.mu.Unlock()

	if from != status {
		r.logger.Info().
			Str("service_id", serviceID).
			Str("from", string(from)).
			Str("to", string(status)).
			Str("message", message).
			Msg("service status changed")
	}

	for _, sub := range listeners {
		r.notify(sub.fn, serviceID, from, status)
	}
}

func (r *Registry) notify(fn Listener, serviceID string, from, to Status) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("service_id", serviceID).
				Str("panic", fmt.Sprint(rec)).
				Msg("health listener panicked")
		}
	}()
	fn(serviceID, from, to)
}

// GetHealth returns a copy of the health of one service.
func (r *Registry) GetHealth(serviceID string) (ServiceHealth, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.services[serviceID]
	if !ok {
		return ServiceHealth{}, false
	}
	return *h, true
}

// Status returns the status of a service, or unknown if it is not tracked.
func (r *Registry) Status(serviceID string) Status {
	if h, ok := r.GetHealth(serviceID); ok {
		return h.Status
	}
	return StatusUnknown
}

// All returns a copy of every tracked service ordered by ID.
func (r *Registry) All() []ServiceHealth {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ServiceHealth, 0, len(r.services))
	for _, h := range r.services {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}

// SystemHealth rolls every service up into the worst observed status.
func (r *Registry) SystemHealth() SystemHealth {
	services := r.All()

	worst := StatusUnknown
	for _, h := range services {
		if h.Status.rollupRank() > worst.rollupRank() {
			worst = h.Status
		}
	}

	return SystemHealth{
		Status:    worst,
		Services:  services,
		CheckedAt: r.config.Now(),
	}
}

// Subscribe registers fn for status changes and returns a function that
// removes it again.
func (r *Registry) Subscribe(fn Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSubID++
	id := r.nextSubID
	r.listeners = append(r.listeners, subscription{id: id, fn: fn})

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, sub := range r.listeners {
			if sub.id == id {
				r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
				return
			}
		}
	}
}
