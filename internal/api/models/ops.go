package models

import (
	"time"

	"github.com/tutorstack/tutorguard/internal/health"
)

// Liveness is the body of GET /v1/ops/health.
type Liveness struct {
	Status    string    `json:"status"`
	Time      time.Time `json:"time"`
	Version   string    `json:"version"`
	BuildTime string    `json:"buildTime,omitempty"`
}

// SystemStatus is the body of GET /v1/ops/status.
type SystemStatus struct {
	health.SystemHealth
	Time     time.Time              `json:"time"`
	Services []health.ServiceHealth `json:"services"`
	Upstream string                 `json:"upstream,omitempty"`
}
