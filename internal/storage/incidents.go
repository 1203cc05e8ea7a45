package storage

import (
	"context"

	"github.com/tutorstack/tutorguard/internal/trigger"
)

// IncidentStore appends incident snapshots to fallback_incidents.
type IncidentStore struct {
	db    Querier
	retry RetryConfig
}

// NewIncidentStore creates an incident store. Writes are non-critical:
// failures are logged and reported to the health registry.
func NewIncidentStore(db Querier, retry RetryConfig) *IncidentStore {
	retry.Operation = "append incident"
	retry.Critical = false
	return &IncidentStore{db: db, retry: retry}
}

// AppendIncident implements trigger.HistorySink.
func (s *IncidentStore) AppendIncident(ctx context.Context, inc trigger.Incident) error {
	query := `
		INSERT INTO fallback_incidents (
			id, trigger, severity, error_code, error_category, subject, topic, message,
			response_time_ms, consecutive_count, resolved, resolved_at, resolution, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	return WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, query,
			inc.ID,
			string(inc.Trigger),
			string(inc.Severity),
			inc.ErrorCode,
			inc.ErrorCategory,
			inc.Subject,
			inc.Topic,
			inc.Message,
			inc.ResponseTime.Milliseconds(),
			inc.ConsecutiveCount,
			inc.Resolved,
			inc.ResolvedAt,
			inc.Resolution,
			inc.Timestamp,
		)
		return err
	}, s.retry)
}

var _ trigger.HistorySink = (*IncidentStore)(nil)
