package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tutorstack/tutorguard/internal/featuregate"
)

// OverrideRepository is a PostgreSQL implementation of
// featuregate.OverrideRepository.
type OverrideRepository struct {
	db    Querier
	retry RetryConfig
}

// NewOverrideRepository creates a new override repository.
func NewOverrideRepository(db Querier, retry RetryConfig) *OverrideRepository {
	retry.Critical = true
	return &OverrideRepository{db: db, retry: retry}
}

// GetOverrides retrieves every stored override.
func (r *OverrideRepository) GetOverrides(ctx context.Context) (map[string]*featuregate.Override, error) {
	query := `
		SELECT feature_id, value, reason, updated_by, updated_at
		FROM feature_overrides
		ORDER BY feature_id
	`

	var overrides map[string]*featuregate.Override

	cfg := r.retry
	cfg.Operation = "load overrides"
	err := WithRetry(ctx, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		overrides = make(map[string]*featuregate.Override)
		for rows.Next() {
			var (
				o         featuregate.Override
				valueJSON []byte
			)
			if err := rows.Scan(&o.FeatureID, &valueJSON, &o.Reason, &o.UpdatedBy, &o.UpdatedAt); err != nil {
				return err
			}
			if err := json.Unmarshal(valueJSON, &o.Value); err != nil {
				return err
			}
			overrides[o.FeatureID] = &o
		}
		return rows.Err()
	}, cfg)
	if err != nil {
		return nil, err
	}
	return overrides, nil
}

// SetOverride creates or replaces the override for a feature.
func (r *OverrideRepository) SetOverride(ctx context.Context, o *featuregate.Override) error {
	query := `
		INSERT INTO feature_overrides (feature_id, value, reason, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (feature_id) DO UPDATE SET
			value = EXCLUDED.value,
			reason = EXCLUDED.reason,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
	`

	valueJSON, err := json.Marshal(o.Value)
	if err != nil {
		return err
	}
	updatedAt := o.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	cfg := r.retry
	cfg.Operation = "set override"
	return WithRetry(ctx, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, query, o.FeatureID, valueJSON, o.Reason, o.UpdatedBy, updatedAt)
		return err
	}, cfg)
}

// DeleteOverride removes the override for a feature.
func (r *OverrideRepository) DeleteOverride(ctx context.Context, featureID string) error {
	query := `DELETE FROM feature_overrides WHERE feature_id = $1`

	cfg := r.retry
	cfg.Operation = "delete override"
	return WithRetry(ctx, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, query, featureID)
		return err
	}, cfg)
}

var _ featuregate.OverrideRepository = (*OverrideRepository)(nil)
