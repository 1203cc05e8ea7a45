// Package health tracks the status of upstream services (AI providers, the
// database, caches) and notifies subscribers when a status changes.
package health

import (
	"context"
	"errors"
	"time"
)

// Status is the health status of a service.
type Status string

// Service statuses.
const (
	StatusOperational Status = "operational"
	StatusDegraded    Status = "degraded"
	StatusOutage      Status = "outage"
	StatusUnknown     Status = "unknown"
	StatusMaintenance Status = "maintenance"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOperational, StatusDegraded, StatusOutage, StatusUnknown, StatusMaintenance:
		return true
	}
	return false
}

// rollupRank orders statuses for the system rollup; higher is worse.
func (s Status) rollupRank() int {
	switch s {
	case StatusOutage:
		return 4
	case StatusDegraded:
		return 3
	case StatusMaintenance:
		return 2
	case StatusOperational:
		return 1
	default:
		return 0
	}
}

// Well-known service identifiers.
const (
	ServiceAI       = "ai"
	ServiceDatabase = "database"
	ServiceCache    = "cache"
)

// ErrDegraded can be wrapped by a CheckFunc to report a degraded service
// instead of an outage.
var ErrDegraded = errors.New("service degraded")

// ServiceHealth is the last known health of one service.
type ServiceHealth struct {
	ServiceID         string         `json:"serviceId"`
	Status            Status         `json:"status"`
	LastChecked       time.Time      `json:"lastChecked"`
	Latency           *time.Duration `json:"latency,omitempty"`
	ErrorCount        int            `json:"errorCount"`
	ConsecutiveErrors int            `json:"consecutiveErrors"`
	Message           string         `json:"message,omitempty"`
}

// SystemHealth is the rollup of every tracked service.
type SystemHealth struct {
	Status    Status          `json:"status"`
	Services  []ServiceHealth `json:"services"`
	CheckedAt time.Time       `json:"checkedAt"`
}

// Listener is notified when a service changes status.
type Listener func(serviceID string, from, to Status)

// CheckFunc probes a service. A nil error means operational; an error
// wrapping ErrDegraded means degraded; any other error means outage.
type CheckFunc func(ctx context.Context) error
