package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tutorstack/tutorguard/internal/alerting"
)

// AlertStore persists alert notifications to alert_notifications.
type AlertStore struct {
	db    Querier
	retry RetryConfig
}

// NewAlertStore creates an alert store.
func NewAlertStore(db Querier, retry RetryConfig) *AlertStore {
	return &AlertStore{db: db, retry: retry}
}

// SaveAlert implements alerting.AlertStore.
func (s *AlertStore) SaveAlert(ctx context.Context, n alerting.Notification) error {
	query := `
		INSERT INTO alert_notifications (
			id, type, severity, title, message, source, metadata, created_at, acknowledged
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return err
	}

	cfg := s.retry
	cfg.Operation = "save alert"
	cfg.Critical = true
	return WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, query,
			n.ID, string(n.Type), string(n.Severity), n.Title, n.Message, n.Source,
			metadata, n.Timestamp, n.Acknowledged,
		)
		return err
	}, cfg)
}

// AcknowledgeAlert implements alerting.AlertStore. It returns
// alerting.ErrAlertNotFound when no row matches id.
func (s *AlertStore) AcknowledgeAlert(ctx context.Context, id, by string, at time.Time) error {
	query := `
		UPDATE alert_notifications
		SET acknowledged = TRUE, acknowledged_by = $2, acknowledged_at = $3
		WHERE id = $1
	`

	cfg := s.retry
	cfg.Operation = "acknowledge alert"
	cfg.Critical = true

	var affected int64
	err := WithRetry(ctx, func(ctx context.Context) error {
		tag, err := s.db.Exec(ctx, query, id, by, at)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	}, cfg)
	if err != nil {
		return err
	}
	if affected == 0 {
		return alerting.ErrAlertNotFound
	}
	return nil
}

var _ alerting.AlertStore = (*AlertStore)(nil)
