// Package handler implements the HTTP handlers of the tutorguard API.
package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/tutorstack/tutorguard/internal/api/middleware"
	"github.com/tutorstack/tutorguard/internal/api/models"
	"github.com/tutorstack/tutorguard/internal/api/response"
	"github.com/tutorstack/tutorguard/internal/featuregate"
	"github.com/tutorstack/tutorguard/internal/orchestrator"
)

// Tutor runs tutoring requests.
type Tutor interface {
	Handle(ctx context.Context, req orchestrator.Request) orchestrator.Response
	Stream(ctx context.Context, req orchestrator.Request, w io.Writer) (orchestrator.Response, error)
}

// Trailers describing a streamed reply. The outcome is only known once the
// body has been written.
const (
	TrailerFallback = "X-Tutor-Fallback"
	TrailerPartial  = "X-Tutor-Partial"
	TrailerTier     = "X-Tutor-Tier"
)

// ChatHandler handles tutoring requests.
type ChatHandler struct {
	tutor Tutor
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(tutor Tutor) *ChatHandler {
	return &ChatHandler{tutor: tutor}
}

// Chat handles POST /v1/chat.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var body models.ChatRequest
	if !response.Decode(w, r, &body) {
		return
	}

	resp := h.tutor.Handle(r.Context(), toRequest(r, body))
	response.JSON(w, r, http.StatusOK, models.ChatResponse{
		Content:        resp.Content,
		IsFallback:     resp.IsFallback,
		Tier:           resp.Tier,
		Trigger:        resp.Trigger,
		Type:           resp.Type,
		Severity:       resp.Severity,
		IncidentID:     resp.IncidentID,
		Model:          resp.Model,
		Metadata:       resp.Metadata,
		ShowFallbackUI: resp.ShowFallbackUI,
		DurationMS:     resp.Duration.Milliseconds(),
	})
}

// ChatStream handles POST /v1/chat/stream. The reply is streamed as plain
// text; fallback content replaces the reply when the upstream fails before
// sending anything.
func (h *ChatHandler) ChatStream(w http.ResponseWriter, r *http.Request) {
	var body models.ChatRequest
	if !response.Decode(w, r, &body) {
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Trailer", TrailerFallback+", "+TrailerPartial+", "+TrailerTier)
	if id := middleware.GetRequestID(r.Context()); id != "" {
		w.Header().Set("X-Request-Id", id)
	}

	req := toRequest(r, body)
	if req.Feature == "" {
		req.Feature = featuregate.FeatureAIStreaming
	}

	sw := &headerOnFirstWrite{ResponseWriter: w}
	resp, _ := h.tutor.Stream(r.Context(), req, sw)
	if !sw.started {
		w.WriteHeader(http.StatusOK)
	}

	w.Header().Set(TrailerFallback, strconv.FormatBool(resp.IsFallback))
	w.Header().Set(TrailerPartial, strconv.FormatBool(resp.Partial))
	if resp.Tier != "" {
		w.Header().Set(TrailerTier, string(resp.Tier))
	}
}

func toRequest(r *http.Request, body models.ChatRequest) orchestrator.Request {
	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = middleware.GetSessionID(r.Context())
	}
	return orchestrator.Request{
		Subject:   body.Subject,
		Topic:     body.Topic,
		Query:     body.Query,
		Messages:  body.Messages,
		SessionID: sessionID,
		UserID:    body.UserID,
		Offline:   body.Offline,
		Feature:   body.Feature,
	}
}

// headerOnFirstWrite commits the status line lazily so the stream can still
// be answered with fallback content when the upstream fails immediately.
type headerOnFirstWrite struct {
	http.ResponseWriter
	started bool
}

func (w *headerOnFirstWrite) Write(b []byte) (int, error) {
	if !w.started {
		w.started = true
		w.ResponseWriter.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher.
func (w *headerOnFirstWrite) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
