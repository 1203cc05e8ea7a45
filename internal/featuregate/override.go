package featuregate

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"
)

// ErrOverrideNotFound is returned when a feature has no manual override.
var ErrOverrideNotFound = errors.New("feature override not found")

// Override is a manual on/off switch for a feature. Value is usually a bool;
// numbers are enabled when non-zero and strings are parsed with strconv.ParseBool.
type Override struct {
	FeatureID string      `json:"featureId"`
	Value     interface{} `json:"value"`
	Reason    string      `json:"reason,omitempty"`
	UpdatedBy string      `json:"updatedBy,omitempty"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Enabled interprets the override value, returning defaultValue when it
// cannot be interpreted.
func (o *Override) Enabled(defaultValue bool) bool {
	if o == nil {
		return defaultValue
	}
	switch v := o.Value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return defaultValue
		}
		return f != 0
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return defaultValue
		}
		return b
	default:
		return defaultValue
	}
}

// OverrideRepository stores feature overrides.
type OverrideRepository interface {
	// GetOverrides returns every stored override keyed by feature ID.
	GetOverrides(ctx context.Context) (map[string]*Override, error)

	// SetOverride creates or replaces the override for a feature.
	SetOverride(ctx context.Context, o *Override) error

	// DeleteOverride removes the override for a feature. Deleting a missing
	// override is not an error.
	DeleteOverride(ctx context.Context, featureID string) error
}

// InMemoryRepository is an in-process OverrideRepository.
type InMemoryRepository struct {
	mu        sync.RWMutex
	overrides map[string]*Override
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{overrides: make(map[string]*Override)}
}

// GetOverrides returns a copy of every stored override.
func (r *InMemoryRepository) GetOverrides(_ context.Context) (map[string]*Override, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*Override, len(r.overrides))
	for k, v := range r.overrides {
		o := *v
		out[k] = &o
	}
	return out, nil
}

// SetOverride stores o.
func (r *InMemoryRepository) SetOverride(_ context.Context, o *Override) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *o
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now()
	}
	r.overrides[o.FeatureID] = &stored
	return nil
}

// DeleteOverride removes the override for featureID.
func (r *InMemoryRepository) DeleteOverride(_ context.Context, featureID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.overrides, featureID)
	return nil
}

var _ OverrideRepository = (*InMemoryRepository)(nil)
