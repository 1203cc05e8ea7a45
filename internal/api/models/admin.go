package models

import (
	"encoding/json"

	"github.com/tutorstack/tutorguard/internal/trigger"
)

// OverrideRequest is the body of PUT /v1/admin/features/{id}/override.
// Value is a boolean or a percentage between 0 and 100.
type OverrideRequest struct {
	Value  json.RawMessage `json:"value" validate:"required"`
	Reason string          `json:"reason" validate:"required,max=500"`
}

// ResolveIncidentRequest is the body of POST /v1/admin/incidents/resolve.
type ResolveIncidentRequest struct {
	Trigger    trigger.Trigger `json:"trigger"`
	Subject    string          `json:"subject"`
	Resolution string          `json:"resolution" validate:"required,max=500"`
}

// ListResponse wraps a collection.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// NewList wraps items, rendering nil as an empty list.
func NewList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}
