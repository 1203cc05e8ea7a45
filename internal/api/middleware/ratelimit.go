package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/tutorstack/tutorguard/internal/api/models"
)

// RateLimitConfig is a fixed-window request budget.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration
}

// Default budgets.
var (
	// ChatRateLimit bounds tutoring requests per session (30 req/min).
	ChatRateLimit = RateLimitConfig{RequestLimit: 30, WindowLength: time.Minute}

	// AdminRateLimit bounds admin requests per operator (60 req/min).
	AdminRateLimit = RateLimitConfig{RequestLimit: 60, WindowLength: time.Minute}

	// StandardRateLimit bounds read-only endpoints per client IP (100 req/min).
	StandardRateLimit = RateLimitConfig{RequestLimit: 100, WindowLength: time.Minute}
)

// RateLimitBySession limits requests per tutoring session. Requests without
// a session are limited per client IP.
func RateLimitBySession(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return limit(cfg, keyBySessionOrIP)
}

// RateLimitByOperator limits requests per authenticated operator, falling
// back to the client IP.
func RateLimitByOperator(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return limit(cfg, keyByOperatorOrIP)
}

// RateLimitByIP limits requests per client IP.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return limit(cfg, httprate.KeyByRealIP)
}

func limit(cfg RateLimitConfig, key httprate.KeyFunc) func(http.Handler) http.Handler {
	if cfg.RequestLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(rateLimitExceeded(cfg)),
	)
}

func keyBySessionOrIP(r *http.Request) (string, error) {
	if sessionID := GetSessionID(r.Context()); sessionID != "" {
		return "session:" + sessionID, nil
	}
	return httprate.KeyByRealIP(r)
}

func keyByOperatorOrIP(r *http.Request) (string, error) {
	if operator := GetOperator(r.Context()); operator != "" {
		return "operator:" + operator, nil
	}
	return httprate.KeyByRealIP(r)
}

func rateLimitExceeded(cfg RateLimitConfig) http.HandlerFunc {
	retryAfter := strconv.Itoa(int(cfg.WindowLength.Seconds()))
	return func(w http.ResponseWriter, r *http.Request) {
		problem := models.NewTooManyRequests(GetRequestID(r.Context()), "rate limit exceeded, please try again later")
		problem.Instance = r.URL.Path
		w.Header().Set("Retry-After", retryAfter)
		problem.Write(w)
	}
}
