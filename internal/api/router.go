// Package api provides the HTTP API for tutorguard.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tutorstack/tutorguard/internal/api/handler"
	"github.com/tutorstack/tutorguard/internal/api/middleware"
	"github.com/tutorstack/tutorguard/internal/api/models"
	"github.com/tutorstack/tutorguard/internal/api/response"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	RequireTLS  bool

	// Upstream names the AI capability, reported on /v1/ops/status.
	Upstream string

	Tutor     handler.Tutor
	Health    handler.HealthSource
	Monitor   handler.FallbackMonitor
	Incidents interface {
		handler.IncidentSource
		handler.IncidentResolver
	}
	Features handler.FeatureGate
	Alerts   handler.AlertLog

	// Tokens validates operator tokens. Admin routes are not mounted when
	// nil.
	Tokens middleware.TokenValidator

	// ChatRateLimit overrides middleware.ChatRateLimit when non-zero.
	ChatRateLimit middleware.RateLimitConfig

	// Gatherer serves /metrics. Default: prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer
}

// NewRouter creates a chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "tutorguard-api"
	}
	chatLimit := cfg.ChatRateLimit
	if chatLimit.RequestLimit == 0 {
		chatLimit = middleware.ChatRateLimit
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	// Order matters: the request ID must exist before tracing and logging.
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "No route for "+r.Method+" "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		p := models.NewProblem(models.ProblemTypeNotFound, "Method not allowed",
			http.StatusMethodNotAllowed, middleware.GetRequestID(r.Context()))
		response.Error(w, r, p.WithDetail(r.Method+" is not supported on "+r.URL.Path))
	})

	opsHandler := handler.NewOpsHandler(cfg.Health, cfg.Version, cfg.BuildTime, cfg.Upstream)
	chatHandler := handler.NewChatHandler(cfg.Tutor)
	fallbackHandler := handler.NewFallbackHandler(cfg.Monitor, cfg.Incidents)
	featuresHandler := handler.NewFeaturesHandler(cfg.Features, cfg.Logger)
	adminHandler := handler.NewAdminHandler(cfg.Alerts, cfg.Incidents, cfg.Logger)

	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)

	r.Get("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.Health)
			r.Get("/status", opsHandler.Status)
		})

		// Tutoring, limited per session
		r.Route("/chat", func(r chi.Router) {
			r.Use(middleware.RequireJSON)
			r.Use(middleware.RateLimitBySession(chatLimit))
			r.Post("/", chatHandler.Chat)
			r.Post("/stream", chatHandler.ChatStream)
		})

		r.Route("/fallback", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/stats", fallbackHandler.Stats)
			r.Get("/trend", fallbackHandler.Trend)
			r.Get("/recommendations", fallbackHandler.Recommendations)
			r.Get("/incidents", fallbackHandler.Incidents)
		})

		r.With(standardRateLimit).Get("/features", featuresHandler.List)

		if cfg.Tokens == nil {
			cfg.Logger.Warn().Msg("no operator token validator configured, admin API disabled")
			return
		}

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminAuth(cfg.Tokens))
			r.Use(middleware.RateLimitByOperator(middleware.AdminRateLimit))
			r.Use(middleware.RequireJSON)

			r.Route("/features/{id}/override", func(r chi.Router) {
				r.Put("/", featuresHandler.SetOverride)
				r.Delete("/", featuresHandler.ClearOverride)
			})
			r.Get("/alerts", adminHandler.ListAlerts)
			r.Post("/alerts/{id}/ack", adminHandler.AckAlert)
			r.Post("/incidents/resolve", adminHandler.ResolveIncident)
		})
	})

	return r
}
