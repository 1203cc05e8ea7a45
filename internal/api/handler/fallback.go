package handler

import (
	"net/http"
	"strconv"

	"github.com/tutorstack/tutorguard/internal/api/models"
	"github.com/tutorstack/tutorguard/internal/api/response"
	"github.com/tutorstack/tutorguard/internal/observability"
	"github.com/tutorstack/tutorguard/internal/trigger"
)

// FallbackMonitor exposes fallback statistics.
type FallbackMonitor interface {
	Stats() observability.Stats
	Trend(window observability.Window) observability.TrendReport
	Recommendations() []observability.Recommendation
}

// IncidentSource exposes fallback incidents.
type IncidentSource interface {
	ActiveIncidents() []trigger.Incident
	History() []trigger.Incident
}

// FallbackHandler handles the fallback reporting endpoints.
type FallbackHandler struct {
	monitor   FallbackMonitor
	incidents IncidentSource
}

// NewFallbackHandler creates a FallbackHandler.
func NewFallbackHandler(monitor FallbackMonitor, incidents IncidentSource) *FallbackHandler {
	return &FallbackHandler{monitor: monitor, incidents: incidents}
}

// Stats handles GET /v1/fallback/stats.
func (h *FallbackHandler) Stats(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.monitor.Stats())
}

// Trend handles GET /v1/fallback/trend?window=hourly|daily.
func (h *FallbackHandler) Trend(w http.ResponseWriter, r *http.Request) {
	window := observability.Window(r.URL.Query().Get("window"))
	switch window {
	case "":
		window = observability.WindowHourly
	case observability.WindowHourly, observability.WindowDaily:
	default:
		response.BadRequest(w, r, "Invalid query parameter", []models.FieldError{{
			Field:   "window",
			Message: "must be one of: hourly daily",
			Code:    "oneof",
		}})
		return
	}
	response.JSON(w, r, http.StatusOK, h.monitor.Trend(window))
}

// Recommendations handles GET /v1/fallback/recommendations.
func (h *FallbackHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.NewList(h.monitor.Recommendations()))
}

// Incidents handles GET /v1/fallback/incidents. With active=true only
// unresolved incidents are listed; otherwise the recent history is.
func (h *FallbackHandler) Incidents(w http.ResponseWriter, r *http.Request) {
	active := false
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			response.BadRequest(w, r, "Invalid query parameter", []models.FieldError{{
				Field:   "active",
				Message: "must be a boolean",
				Code:    "boolean",
			}})
			return
		}
		active = b
	}

	var incidents []trigger.Incident
	if active {
		incidents = h.incidents.ActiveIncidents()
	} else {
		incidents = h.incidents.History()
	}
	response.JSON(w, r, http.StatusOK, models.NewList(incidents))
}
