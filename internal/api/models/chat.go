// Package models holds the request and response bodies of the HTTP API.
package models

import (
	"github.com/tutorstack/tutorguard/internal/capability"
	"github.com/tutorstack/tutorguard/internal/fallback"
	"github.com/tutorstack/tutorguard/internal/trigger"
)

// ChatRequest is the body of POST /v1/chat and /v1/chat/stream.
type ChatRequest struct {
	Subject   string               `json:"subject" validate:"max=64"`
	Topic     string               `json:"topic" validate:"max=64"`
	Query     string               `json:"query" validate:"required_without=Messages,max=4000"`
	Messages  []capability.Message `json:"messages" validate:"omitempty,max=50"`
	SessionID string               `json:"sessionId" validate:"max=128"`
	UserID    string               `json:"userId" validate:"max=128"`
	Offline   bool                 `json:"offline"`
	Feature   string               `json:"feature" validate:"omitempty,max=64"`
}

// ChatResponse is the envelope returned by POST /v1/chat.
type ChatResponse struct {
	Content        string               `json:"content"`
	IsFallback     bool                 `json:"isFallback"`
	Tier           fallback.Tier        `json:"tier,omitempty"`
	Trigger        trigger.Trigger      `json:"trigger,omitempty"`
	Type           fallback.ContentType `json:"type,omitempty"`
	Severity       trigger.Severity     `json:"severity,omitempty"`
	IncidentID     string               `json:"incidentId,omitempty"`
	Model          string               `json:"model,omitempty"`
	Metadata       map[string]string    `json:"metadata,omitempty"`
	ShowFallbackUI bool                 `json:"showFallbackUI"`
	DurationMS     int64                `json:"durationMs"`
}
