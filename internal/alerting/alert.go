// Package alerting delivers throttled operational alerts to a set of channels.
package alerting

import (
	"context"
	"errors"
	"time"
)

// ErrAlertNotFound is returned when an alert ID is unknown.
var ErrAlertNotFound = errors.New("alert not found")

// Type classifies an alert.
type Type string

// Alert types.
const (
	TypeFallbackIncident Type = "fallback_incident"
	TypeHighFallbackRate Type = "high_fallback_rate"
	TypeServiceOutage    Type = "service_outage"
	TypeServiceRecovered Type = "service_recovered"
	TypeFallbackDigest   Type = "fallback_digest"
)

// Severity of an alert.
type Severity string

// Alert severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Alert is the input to SendAlert.
type Alert struct {
	Type     Type
	Severity Severity
	Title    string
	Message  string
	Source   string
	Metadata map[string]string
}

// Notification is a delivered alert.
type Notification struct {
	ID             string            `json:"id"`
	Type           Type              `json:"type"`
	Severity       Severity          `json:"severity"`
	Title          string            `json:"title"`
	Message        string            `json:"message"`
	Timestamp      time.Time         `json:"timestamp"`
	Source         string            `json:"source"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Acknowledged   bool              `json:"acknowledged"`
	AcknowledgedBy string            `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time        `json:"acknowledgedAt,omitempty"`
}

// Channel delivers notifications to one destination.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// AlertStore persists notifications and acknowledgements.
type AlertStore interface {
	SaveAlert(ctx context.Context, n Notification) error
	AcknowledgeAlert(ctx context.Context, id, by string, at time.Time) error
}

// Filter narrows Alerts results. Zero fields match everything.
type Filter struct {
	Type           Type
	Severity       Severity
	Source         string
	Unacknowledged bool
	Limit          int
}

func (f Filter) matches(n Notification) bool {
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	if f.Severity != "" && n.Severity != f.Severity {
		return false
	}
	if f.Source != "" && n.Source != f.Source {
		return false
	}
	if f.Unacknowledged && n.Acknowledged {
		return false
	}
	return true
}
