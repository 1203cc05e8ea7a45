package featuregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tutorstack/tutorguard/internal/health"
)

// ErrUnknownFeature is returned for feature IDs the gate does not know.
var ErrUnknownFeature = errors.New("unknown feature")

// StatusSource provides service health. *health.Registry satisfies it.
type StatusSource interface {
	Status(serviceID string) health.Status
	Subscribe(fn health.Listener) func()
}

// ChangeListener is notified when a feature's derived state flips.
type ChangeListener func(featureID string, enabled bool)

// GateConfig holds configuration for the feature gate.
type GateConfig struct {
	// Features defaults to DefaultFeatures().
	Features []Feature

	Health StatusSource

	// Repository persists overrides. Optional.
	Repository OverrideRepository

	Logger zerolog.Logger
}

// FeatureState is the derived state of one feature.
type FeatureState struct {
	Feature      Feature      `json:"feature"`
	Enabled      bool         `json:"enabled"`
	ShowFallback bool         `json:"showFallback"`
	Override     *Override    `json:"override,omitempty"`
	Advisories   []Dependency `json:"advisories,omitempty"`
}

// Gate derives feature availability. Enabled state is never stored as the
// source of truth; it is recomputed on every query.
type Gate struct {
	mu        sync.RWMutex
	features  map[string]Feature
	order     []string
	overrides map[string]*Override
	last      map[string]bool
	listeners []ChangeListener

	health      StatusSource
	repo        OverrideRepository
	unsubscribe func()
	logger      zerolog.Logger
}

// NewGate creates a gate and subscribes it to health changes.
func NewGate(cfg GateConfig) *Gate {
	if cfg.Features == nil {
		cfg.Features = DefaultFeatures()
	}

	g := &Gate{
		features:  make(map[string]Feature, len(cfg.Features)),
		overrides: make(map[string]*Override),
		last:      make(map[string]bool, len(cfg.Features)),
		health:    cfg.Health,
		repo:      cfg.Repository,
		logger:    cfg.Logger.With().Str("component", "feature_gate").Logger(),
	}

	for _, f := range cfg.Features {
		g.features[f.ID] = f
		g.order = append(g.order, f.ID)
	}
	for _, id := range g.order {
		g.last[id] = g.evaluate(id)
	}

	if g.health != nil {
		g.unsubscribe = g.health.Subscribe(g.onStatusChange)
	}
	return g
}

// Close detaches the gate from health updates.
func (g *Gate) Close() {
	if g.unsubscribe != nil {
		g.unsubscribe()
	}
}

// IsEnabled reports whether a feature is available. An override wins;
// otherwise the feature must be statically enabled and every critical
// dependency must meet its required status. Unknown features are disabled.
func (g *Gate) IsEnabled(featureID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.evaluate(featureID)
}

// ShouldShowFallback reports whether the UI should show fallback content
// for a feature.
func (g *Gate) ShouldShowFallback(featureID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	f, ok := g.features[featureID]
	if !ok {
		return false
	}
	return !g.evaluate(featureID) && f.FallbackAllowed
}

// Advisories lists the non-critical dependencies of a feature that are
// below their required status.
func (g *Gate) Advisories(featureID string) []Dependency {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.advisories(featureID)
}

// Features returns the derived state of every feature in registration order.
func (g *Gate) Features() []FeatureState {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]FeatureState, 0, len(g.order))
	for _, id := range g.order {
		f := g.features[id]
		enabled := g.evaluate(id)
		state := FeatureState{
			Feature:      f,
			Enabled:      enabled,
			ShowFallback: !enabled && f.FallbackAllowed,
			Advisories:   g.advisories(id),
		}
		if o, ok := g.overrides[id]; ok {
			cp := *o
			state.Override = &cp
		}
		out = append(out, state)
	}
	return out
}

// OnChange registers a listener for enabled-state flips.
func (g *Gate) OnChange(fn ChangeListener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

// SetOverride forces a feature on or off and persists the override.
func (g *Gate) SetOverride(ctx context.Context, featureID string, value interface{}, reason, updatedBy string) (*Override, error) {
	g.mu.RLock()
	_, ok := g.features[featureID]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeature, featureID)
	}

	o := &Override{
		FeatureID: featureID,
		Value:     value,
		Reason:    reason,
		UpdatedBy: updatedBy,
		UpdatedAt: time.Now(),
	}
	if g.repo != nil {
		if err := g.repo.SetOverride(ctx, o); err != nil {
			return nil, fmt.Errorf("storing override: %w", err)
		}
	}

	g.mu.Lock()
	g.overrides[featureID] = o
	changes := g.refreshLocked([]string{featureID})
	listeners := append([]ChangeListener(nil), g.listeners...)
	g.mu.Unlock()

	g.logger.Info().
		Str("feature_id", featureID).
		Bool("enabled", o.Enabled(false)).
		Str("updated_by", updatedBy).
		Str("reason", reason).
		Msg("feature override set")

	g.dispatch(listeners, changes)
	cp := *o
	return &cp, nil
}

// ClearOverride removes the override of a feature.
func (g *Gate) ClearOverride(ctx context.Context, featureID string) error {
	g.mu.RLock()
	_, known := g.features[featureID]
	_, has := g.overrides[featureID]
	g.mu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownFeature, featureID)
	}
	if !has {
		return ErrOverrideNotFound
	}

	if g.repo != nil {
		if err := g.repo.DeleteOverride(ctx, featureID); err != nil {
			return fmt.Errorf("deleting override: %w", err)
		}
	}

	g.mu.Lock()
	delete(g.overrides, featureID)
	changes := g.refreshLocked([]string{featureID})
	listeners := append([]ChangeListener(nil), g.listeners...)
	g.mu.Unlock()

	g.logger.Info().Str("feature_id", featureID).Msg("feature override cleared")
	g.dispatch(listeners, changes)
	return nil
}

// LoadOverrides replaces the in-memory overrides with the repository's.
// Overrides for unknown features are ignored.
func (g *Gate) LoadOverrides(ctx context.Context) error {
	if g.repo == nil {
		return nil
	}

	stored, err := g.repo.GetOverrides(ctx)
	if err != nil {
		return fmt.Errorf("loading overrides: %w", err)
	}

	g.mu.Lock()
	g.overrides = make(map[string]*Override, len(stored))
	for id, o := range stored {
		if _, ok := g.features[id]; !ok {
			g.logger.Warn().Str("feature_id", id).Msg("ignoring override for unknown feature")
			continue
		}
		g.overrides[id] = o
	}
	changes := g.refreshLocked(g.order)
	listeners := append([]ChangeListener(nil), g.listeners...)
	g.mu.Unlock()

	g.logger.Info().Int("count", len(stored)).Msg("feature overrides loaded")
	g.dispatch(listeners, changes)
	return nil
}

func (g *Gate) onStatusChange(serviceID string, _, _ health.Status) {
	g.mu.Lock()
	var affected []string
	for _, id := range g.order {
		if g.features[id].dependsOn(serviceID) {
			affected = append(affected, id)
		}
	}
	changes := g.refreshLocked(affected)
	listeners := append([]ChangeListener(nil), g.listeners...)
	g.mu.Unlock()

	g.dispatch(listeners, changes)
}

type change struct {
	featureID string
	enabled   bool
}

// refreshLocked re-evaluates ids and returns the ones whose state flipped.
func (g *Gate) refreshLocked(ids []string) []change {
	var changes []change
	for _, id := range ids {
		enabled := g.evaluate(id)
		if enabled != g.last[id] {
			g.last[id] = enabled
			changes = append(changes, change{featureID: id, enabled: enabled})
		}
	}
	return changes
}

func (g *Gate) dispatch(listeners []ChangeListener, changes []change) {
	for _, c := range changes {
		g.logger.Info().Str("feature_id", c.featureID).Bool("enabled", c.enabled).Msg("feature state changed")
		for _, fn := range listeners {
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						g.logger.Error().Str("panic", fmt.Sprint(rec)).Msg("feature listener panicked")
					}
				}()
				fn(c.featureID, c.enabled)
			}()
		}
	}
}

func (g *Gate) evaluate(featureID string) bool {
	f, ok := g.features[featureID]
	if !ok {
		return false
	}
	if o, ok := g.overrides[featureID]; ok {
		return o.Enabled(f.StaticEnabled)
	}
	if !f.StaticEnabled {
		return false
	}
	for _, d := range f.Dependencies {
		if d.Critical && !satisfied(g.status(d.ServiceID), d.RequiredStatus) {
			return false
		}
	}
	return true
}

func (g *Gate) advisories(featureID string) []Dependency {
	f, ok := g.features[featureID]
	if !ok {
		return nil
	}
	var out []Dependency
	for _, d := range f.Dependencies {
		if !d.Critical && !satisfied(g.status(d.ServiceID), d.RequiredStatus) {
			out = append(out, d)
		}
	}
	return out
}

func (g *Gate) status(serviceID string) health.Status {
	if g.health == nil {
		return health.StatusUnknown
	}
	return g.health.Status(serviceID)
}
