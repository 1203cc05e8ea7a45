// Package main provides the entrypoint for the tutorguard worker. The worker
// probes the AI service and the platform's dependencies on a schedule and
// raises alerts when their status changes, independently of the API
// instances. When PUBSUB_SUBSCRIPTION is set it also runs health_check jobs
// on demand.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tutorstack/tutorguard/internal/alerting"
	"github.com/tutorstack/tutorguard/internal/capability"
	"github.com/tutorstack/tutorguard/internal/config"
	"github.com/tutorstack/tutorguard/internal/health"
	"github.com/tutorstack/tutorguard/internal/observability"
	"github.com/tutorstack/tutorguard/internal/storage"
	"github.com/tutorstack/tutorguard/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "tutorguard-worker").
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting tutorguard worker")

	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := health.NewRegistry(health.DefaultRegistryConfig(log))
	defer registry.Stop()

	var targets worker.TargetsConfig
	if !cfg.Preview && cfg.OpenAI.APIKey != "" {
		targets.AIBaseURL = cfg.OpenAI.BaseURL
		if targets.AIBaseURL == "" {
			targets.AIBaseURL = capability.DefaultBaseURL
		}
		targets.AIKey = cfg.OpenAI.APIKey
	}

	var alertStore alerting.AlertStore
	if cfg.DatabaseEnabled {
		pool, err := storage.Connect(ctx, cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()

		retry := storage.DefaultRetryConfig(log)
		retry.Health = registry
		alertStore = storage.NewAlertStore(pool, retry)
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

	monitorCfg := observability.DefaultMonitorConfig(log)
	monitorCfg.Alerts = alerts
	monitor := observability.NewMonitor(monitorCfg)
	defer monitor.WatchHealth(registry)()

	sweepTargets := worker.HealthTargets(targets)
	if len(sweepTargets) == 0 {
		log.Warn().Msg("no health targets configured, the worker only serves /health")
	}
	sweep := worker.NewSweepJob(worker.SweepJobConfig{
		Config: worker.SweepConfig{
			Targets:  sweepTargets,
			Interval: cfg.HealthCheckInterval,
		},
		Registry: registry,
		Logger:   log,
	})

	port := cfg.Port
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		m := sweep.Metrics()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "healthy",
			"version":   Version,
			"system":    registry.SystemHealth().Status,
			"sweeps":    m.TotalRuns.Load(),
			"lastSweep": m.LastRunTime.Load(),
		})
	})

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if len(sweepTargets) == 0 {
			return nil
		}
		result := sweep.Run(gctx)
		log.Info().
			Int("operational", result.Operational).
			Int("degraded", result.Degraded).
			Int("outages", result.Outages).
			Msg("initial health sweep complete")

		stopSchedules := sweep.Schedule(gctx)
		<-gctx.Done()
		stopSchedules()
		return nil
	})

	if cfg.PubSub.Subscription != "" {
		jobs := worker.NewJobs(worker.JobsConfig{
			Sweep:  sweep,
			Alerts: alerts,
			Logger: log,
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

		g.Go(func() error {
			if err := handler.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("worker stopped with error")
	}

	log.Info().Msg("worker stopped")
}
