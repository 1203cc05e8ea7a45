// Package middleware provides the HTTP middleware of the tutorguard API.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Header names.
const (
	HeaderRequestID = "X-Request-Id"
	HeaderSessionID = "X-Session-Id"
)

type requestIDKey struct{}

type sessionIDKey struct{}

// RequestID propagates or generates a request ID and stores the tutoring
// session ID, when the client sends one, in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" || len(requestID) > 128 {
			requestID = "req_" + uuid.New().String()[:22]
		}
		w.Header().Set(HeaderRequestID, requestID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		if sessionID := r.Header.Get(HeaderSessionID); sessionID != "" {
			ctx = context.WithValue(ctx, sessionIDKey{}, sessionID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request ID from ctx.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GetSessionID returns the tutoring session ID from ctx.
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return id
	}
	return ""
}
