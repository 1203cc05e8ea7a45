package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tutorstack/tutorguard/internal/alerting"
	"github.com/tutorstack/tutorguard/internal/api/models"
	"github.com/tutorstack/tutorguard/internal/api/response"
	"github.com/tutorstack/tutorguard/internal/trigger"
)

// AlertLog lists and acknowledges alerts.
type AlertLog interface {
	Alerts(f alerting.Filter) []alerting.Notification
	Acknowledge(ctx context.Context, id, by string) (alerting.Notification, error)
}

// IncidentResolver resolves fallback incidents.
type IncidentResolver interface {
	ResolveFallback(t trigger.Trigger, subject, resolution string) (trigger.Incident, bool)
	ResolveSubject(subject, resolution string) []trigger.Incident
}

// AdminHandler handles operator endpoints.
type AdminHandler struct {
	alerts    AlertLog
	incidents IncidentResolver
	logger    zerolog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(alerts AlertLog, incidents IncidentResolver, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		alerts:    alerts,
		incidents: incidents,
		logger:    logger.With().Str("handler", "admin").Logger(),
	}
}

// ListAlerts handles GET /v1/admin/alerts. Supported query parameters are
// type, severity, source, unacknowledged and limit.
func (h *AdminHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := alerting.Filter{
		Type:     alerting.Type(q.Get("type")),
		Severity: alerting.Severity(q.Get("severity")),
		Source:   q.Get("source"),
	}

	var errs []models.FieldError
	if v := q.Get("unacknowledged"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, models.FieldError{Field: "unacknowledged", Message: "must be a boolean", Code: "boolean"})
		}
		filter.Unacknowledged = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			errs = append(errs, models.FieldError{Field: "limit", Message: "must be between 1 and 1000", Code: "range"})
		}
		filter.Limit = n
	}
	if len(errs) > 0 {
		response.BadRequest(w, r, "Invalid query parameters", errs)
		return
	}

	response.JSON(w, r, http.StatusOK, models.NewList(h.alerts.Alerts(filter)))
}

// AckAlert handles POST /v1/admin/alerts/{id}/ack.
func (h *AdminHandler) AckAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")

	n, err := h.alerts.Acknowledge(r.Context(), alertID, GetOperator(r.Context()))
	if errors.Is(err, alerting.ErrAlertNotFound) {
		response.NotFound(w, r, "Alert "+alertID+" not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("alert_id", alertID).Msg("failed to acknowledge alert")
		response.InternalError(w, r, "Failed to acknowledge alert")
		return
	}

	response.JSON(w, r, http.StatusOK, n)
}

// ResolveIncident handles POST /v1/admin/incidents/resolve. With a trigger
// the matching incident is resolved; with only a subject every incident of
// that subject is.
func (h *AdminHandler) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	var body models.ResolveIncidentRequest
	if !response.Decode(w, r, &body) {
		return
	}

	resolution := body.Resolution + " (resolved by " + GetOperator(r.Context()) + ")"

	if body.Trigger == "" {
		if body.Subject == "" {
			response.BadRequest(w, r, "Either trigger or subject is required", []models.FieldError{{
				Field:   "trigger",
				Message: "is required",
				Code:    "required_without",
			}})
			return
		}
		resolved := h.incidents.ResolveSubject(body.Subject, resolution)
		if len(resolved) == 0 {
			response.NotFound(w, r, "No active incidents for subject "+body.Subject)
			return
		}
		response.JSON(w, r, http.StatusOK, models.NewList(resolved))
		return
	}

	if _, ok := trigger.Parse(string(body.Trigger)); !ok {
		response.BadRequest(w, r, "Unknown trigger", []models.FieldError{{
			Field:   "trigger",
			Message: "is not a known fallback trigger",
			Code:    "oneof",
		}})
		return
	}

	incident, ok := h.incidents.ResolveFallback(body.Trigger, body.Subject, resolution)
	if !ok {
		response.NotFound(w, r, "No active incident for "+trigger.Key(body.Trigger, body.Subject))
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewList([]trigger.Incident{incident}))
}
