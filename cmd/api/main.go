// Package main provides the entrypoint for the tutorguard API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tutorstack/tutorguard/internal/alerting"
	"github.com/tutorstack/tutorguard/internal/api"
	"github.com/tutorstack/tutorguard/internal/api/middleware"
	"github.com/tutorstack/tutorguard/internal/auth"
	"github.com/tutorstack/tutorguard/internal/capability"
	"github.com/tutorstack/tutorguard/internal/config"
	"github.com/tutorstack/tutorguard/internal/fallback"
	"github.com/tutorstack/tutorguard/internal/featuregate"
	"github.com/tutorstack/tutorguard/internal/health"
	"github.com/tutorstack/tutorguard/internal/observability"
	"github.com/tutorstack/tutorguard/internal/orchestrator"
	"github.com/tutorstack/tutorguard/internal/storage"
	"github.com/tutorstack/tutorguard/internal/telemetry"
	"github.com/tutorstack/tutorguard/internal/trigger"
	"github.com/tutorstack/tutorguard/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "tutorguard-api"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting tutorguard API")

	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTelEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	httpMetrics, err := middleware.NewMetrics(tp.Meter)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize HTTP metrics")
	}
	instruments, err := telemetry.NewInstruments(tp.Meter)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize request instruments")
	}
	fallbackMetrics, err := observability.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register fallback metrics")
	}

	registry := health.NewRegistry(health.DefaultRegistryConfig(log))
	defer registry.Stop()

	// Postgres is optional; without it incidents, alerts and overrides live
	// in memory only.
	var (
		incidentSink trigger.HistorySink
		alertStore   alerting.AlertStore
		overrides    featuregate.OverrideRepository = featuregate.NewInMemoryRepository()
		targets      worker.TargetsConfig
	)
	if cfg.DatabaseEnabled {
		pool, err := storage.Connect(ctx, cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		log.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Msg("database connected")

		retry := storage.DefaultRetryConfig(log)
		retry.Health = registry
		incidentSink = storage.NewIncidentStore(pool, retry)
		alertStore = storage.NewAlertStore(pool, retry)
		overrides = storage.NewOverrideRepository(pool, retry)
		targets.Database = pool
	}

	var redisClient alerting.RedisClient
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		redisClient = rdb
		targets.Cache = worker.RedisPinger(rdb)
	}

	channels, closeChannels, err := alerting.Channels(ctx, alerting.ChannelsConfig{
		WebhookURL:      cfg.AlertWebhookURL,
		PubSubProjectID: cfg.PubSub.ProjectID,
		PubSubTopic:     cfg.PubSub.AlertTopic,
		Redis:           redisClient,
		Email: alerting.EmailConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			To:       cfg.SMTP.To,
		},
		Logger: log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure alert channels")
	}
	defer func() { _ = closeChannels() }()

	alertCfg := alerting.DefaultManagerConfig(log)
	alertCfg.Channels = channels
	alertCfg.Store = alertStore
	alerts := alerting.NewManager(alertCfg)

	analyzer := trigger.NewAnalyzer(trigger.AnalyzerConfig{
		MaxHistory: 10000,
		Sink:       incidentSink,
		Logger:     log,
	})

	monitorCfg := observability.DefaultMonitorConfig(log)
	monitorCfg.Alerts = alerts
	monitorCfg.Incidents = analyzer
	monitorCfg.Metrics = fallbackMetrics
	monitor := observability.NewMonitor(monitorCfg)
	defer monitor.WatchHealth(registry)()

	gate := featuregate.NewGate(featuregate.GateConfig{
		Health:     registry,
		Repository: overrides,
		Logger:     log,
	})
	defer gate.Close()
	if err := gate.LoadOverrides(ctx); err != nil {
		log.Error().Err(err).Msg("failed to load feature overrides, starting without them")
	}

	catalog, err := loadCatalog(cfg.Fallback.CatalogPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load fallback catalog")
	}
	storeCfg := fallback.DefaultStoreConfig(log)
	storeCfg.CacheTTL = cfg.Fallback.CacheTTL
	storeCfg.MaxCacheSize = cfg.Fallback.CacheSize
	store := fallback.NewStoreFromCatalog(storeCfg, catalog)

	upstream, kind := capability.Select(capability.Config{
		Preview:    cfg.Preview,
		APIKey:     cfg.OpenAI.APIKey,
		Model:      cfg.OpenAI.Model,
		BaseURL:    cfg.OpenAI.BaseURL,
		Timeout:    cfg.UpstreamTimeout,
		MaxRetries: cfg.OpenAI.MaxRetries,
		Health:     registry,
		Logger:     log,
	})
	log.Info().Str("capability", string(kind)).Msg("upstream selected")

	if kind == capability.KindOpenAI {
		targets.AIBaseURL = cfg.OpenAI.BaseURL
		if targets.AIBaseURL == "" {
			targets.AIBaseURL = capability.DefaultBaseURL
		}
		targets.AIKey = cfg.OpenAI.APIKey
	}

	sweep := worker.NewSweepJob(worker.SweepJobConfig{
		Config: worker.SweepConfig{
			Targets:  worker.HealthTargets(targets),
			Interval: cfg.HealthCheckInterval,
		},
		Registry: registry,
		Logger:   log,
	})
	checkCtx, stopChecks := context.WithCancel(ctx)
	defer stopChecks()
	defer sweep.Schedule(checkCtx)()

	orch := orchestrator.New(orchestrator.Config{
		Capability:     upstream,
		Store:          store,
		Analyzer:       analyzer,
		Health:         registry,
		Monitor:        monitor,
		Gate:           gate,
		Instruments:    instruments,
		Tracer:         tp.Tracer,
		DefaultTimeout: cfg.UpstreamTimeout,
		Logger:         log,
	})

	// Jobs published to the subscription run against this process's state.
	if cfg.PubSub.Subscription != "" {
		jobs := worker.NewJobs(worker.JobsConfig{
			Sweep:     sweep,
			Incidents: analyzer,
			Stats:     monitor,
			Alerts:    alerts,
			Logger:    log,
		})
		handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.Subscription,
			Jobs:             jobs,
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub handler")
		}
		defer func() { _ = handler.Close() }()

		go func() {
			if err := handler.Start(checkCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("pubsub handler stopped")
			}
		}()
	}

	var tokens middleware.TokenValidator
	if cfg.AdminJWTSigningKey != "" {
		tokens = auth.NewTokenService(auth.TokenConfig{SigningKey: cfg.AdminJWTSigningKey})
	}

	router := api.NewRouter(api.RouterConfig{
		Version:       Version,
		BuildTime:     BuildTime,
		Logger:        log,
		ServiceName:   serviceName,
		Metrics:       httpMetrics,
		RequireTLS:    cfg.RequireTLS,
		Upstream:      upstream.Name(),
		Tutor:         orch,
		Health:        registry,
		Monitor:       monitor,
		Incidents:     analyzer,
		Features:      gate,
		Alerts:        alerts,
		Tokens:        tokens,
		ChatRateLimit: middleware.RateLimitConfig{RequestLimit: cfg.ChatRateLimit, WindowLength: time.Minute},
	})

	// Streamed replies can outlive the upstream timeout by the time it takes
	// to write them, so WriteTimeout leaves headroom.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.UpstreamTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func loadCatalog(path string) (*fallback.Catalog, error) {
	if path == "" {
		return fallback.DefaultCatalog()
	}
	return fallback.LoadCatalogFile(path)
}
