package handler

import (
	"net/http"
	"time"

	"github.com/tutorstack/tutorguard/internal/api/models"
	"github.com/tutorstack/tutorguard/internal/api/response"
	"github.com/tutorstack/tutorguard/internal/health"
)

// HealthSource reports service health.
type HealthSource interface {
	SystemHealth() health.SystemHealth
	All() []health.ServiceHealth
}

// OpsHandler handles liveness and status endpoints.
type OpsHandler struct {
	health    HealthSource
	version   string
	buildTime string
	upstream  string
	now       func() time.Time
}

// NewOpsHandler creates an OpsHandler. upstream names the AI capability in
// use and is reported on the status endpoint.
func NewOpsHandler(h HealthSource, version, buildTime, upstream string) *OpsHandler {
	return &OpsHandler{
		health:    h,
		version:   version,
		buildTime: buildTime,
		upstream:  upstream,
		now:       time.Now,
	}
}

// Health handles GET /v1/ops/health. It reports the process is serving and
// never consults dependencies.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Liveness{
		Status:    "ok",
		Time:      h.now().UTC(),
		Version:   h.version,
		BuildTime: h.buildTime,
	})
}

// Status handles GET /v1/ops/status. The status code is always 200; clients
// read the rolled-up status from the body.
func (h *OpsHandler) Status(w http.ResponseWriter, r *http.Request) {
	services := h.health.All()
	if services == nil {
		services = []health.ServiceHealth{}
	}
	response.JSON(w, r, http.StatusOK, models.SystemStatus{
		SystemHealth: h.health.SystemHealth(),
		Time:         h.now().UTC(),
		Services:     services,
		Upstream:     h.upstream,
	})
}
