package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tutorstack/tutorguard/internal/api/middleware"
	"github.com/tutorstack/tutorguard/internal/api/models"
	"github.com/tutorstack/tutorguard/internal/api/response"
	"github.com/tutorstack/tutorguard/internal/featuregate"
)

// FeatureGate exposes feature state and manual overrides.
type FeatureGate interface {
	Features() []featuregate.FeatureState
	SetOverride(ctx context.Context, featureID string, value interface{}, reason, updatedBy string) (*featuregate.Override, error)
	ClearOverride(ctx context.Context, featureID string) error
}

// FeaturesHandler handles feature state and override endpoints.
type FeaturesHandler struct {
	gate   FeatureGate
	logger zerolog.Logger
}

// NewFeaturesHandler creates a FeaturesHandler.
func NewFeaturesHandler(gate FeatureGate, logger zerolog.Logger) *FeaturesHandler {
	return &FeaturesHandler{
		gate:   gate,
		logger: logger.With().Str("handler", "features").Logger(),
	}
}

// List handles GET /v1/features.
func (h *FeaturesHandler) List(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.NewList(h.gate.Features()))
}

// SetOverride handles PUT /v1/admin/features/{id}/override.
func (h *FeaturesHandler) SetOverride(w http.ResponseWriter, r *http.Request) {
	featureID := chi.URLParam(r, "id")

	var body models.OverrideRequest
	if !response.Decode(w, r, &body) {
		return
	}

	value, ok := overrideValue(body.Value)
	if !ok {
		response.BadRequest(w, r, "Invalid override value", []models.FieldError{{
			Field:   "value",
			Message: "must be a boolean or a number between 0 and 100",
			Code:    "override_value",
		}})
		return
	}

	o, err := h.gate.SetOverride(r.Context(), featureID, value, body.Reason, GetOperator(r.Context()))
	if errors.Is(err, featuregate.ErrUnknownFeature) {
		response.NotFound(w, r, "Unknown feature "+featureID)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("feature_id", featureID).Msg("failed to set override")
		response.InternalError(w, r, "Failed to store override")
		return
	}

	response.JSON(w, r, http.StatusOK, o)
}

// ClearOverride handles DELETE /v1/admin/features/{id}/override.
func (h *FeaturesHandler) ClearOverride(w http.ResponseWriter, r *http.Request) {
	featureID := chi.URLParam(r, "id")

	err := h.gate.ClearOverride(r.Context(), featureID)
	if errors.Is(err, featuregate.ErrUnknownFeature) {
		response.NotFound(w, r, "Unknown feature "+featureID)
		return
	}
	if errors.Is(err, featuregate.ErrOverrideNotFound) {
		response.NotFound(w, r, "No override for feature "+featureID)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("feature_id", featureID).Msg("failed to clear override")
		response.InternalError(w, r, "Failed to clear override")
		return
	}

	response.NoContent(w, r)
}

// overrideValue accepts a JSON boolean or a number in [0, 100].
func overrideValue(raw json.RawMessage) (interface{}, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}

	switch val := v.(type) {
	case bool:
		return val, true
	case json.Number:
		f, err := val.Float64()
		if err != nil || f < 0 || f > 100 {
			return nil, false
		}
		return f, true
	default:
		return nil, false
	}
}

// GetOperator returns the authenticated operator of an admin request.
func GetOperator(ctx context.Context) string {
	return middleware.GetOperator(ctx)
}
