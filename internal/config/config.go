// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tutorstack/tutorguard/internal/storage"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
	EnvPreview     = "preview"
	EnvTest        = "test"
)

// OpenAIConfig configures the live upstream.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string `validate:"omitempty,url"`
	MaxRetries uint64 `validate:"lte=5"`
}

// FallbackConfig configures the fallback content store.
type FallbackConfig struct {
	CatalogPath string
	CacheTTL    time.Duration `validate:"gt=0"`
	CacheSize   int           `validate:"gt=0"`
}

// PubSubConfig configures Google Cloud Pub/Sub.
type PubSubConfig struct {
	ProjectID    string `validate:"required_with=AlertTopic Subscription"`
	AlertTopic   string
	Subscription string
}

// SMTPConfig configures the email alert channel.
type SMTPConfig struct {
	Host     string
	Port     int `validate:"gte=0,lte=65535"`
	Username string
	Password string
	From     string   `validate:"omitempty,email"`
	To       []string `validate:"dive,email"`
}

// Config is the service configuration.
type Config struct {
	Port        string `validate:"required,numeric"`
	Environment string `validate:"required,oneof=development staging production preview test"`

	// Preview forces the mock upstream.
	Preview bool

	OpenAI          OpenAIConfig
	UpstreamTimeout time.Duration `validate:"gt=0"`

	Fallback FallbackConfig

	DatabaseEnabled bool
	Database        storage.Config

	RedisAddr string `validate:"omitempty,hostname_port"`

	PubSub PubSubConfig

	AlertWebhookURL string `validate:"omitempty,url"`
	SMTP            SMTPConfig

	AdminJWTSigningKey string

	// RequireTLS rejects requests forwarded over plain HTTP.
	RequireTLS bool

	// ChatRateLimit is the number of chat requests allowed per session per minute.
	ChatRateLimit int `validate:"gte=0"`

	OTelEnabled  bool
	OTLPEndpoint string

	HealthCheckInterval time.Duration `validate:"gt=0"`
}

// Load reads the configuration from environment variables. Malformed
// numeric, boolean or duration values are reported together.
func Load() (Config, error) {
	p := &parser{}

	cfg := Config{
		Port:        getEnvOrDefault("APP_PORT", "8080"),
		Environment: getEnvOrDefault("APP_ENV", EnvDevelopment),
		Preview:     p.bool("PREVIEW_ENVIRONMENT", false),
		OpenAI: OpenAIConfig{
			APIKey:     os.Getenv("OPENAI_API_KEY"),
			Model:      os.Getenv("OPENAI_MODEL"),
			BaseURL:    os.Getenv("OPENAI_BASE_URL"),
			MaxRetries: uint64(p.int("OPENAI_MAX_RETRIES", 1)), //nolint:gosec // bounded by validation
		},
		UpstreamTimeout: p.duration("UPSTREAM_TIMEOUT", 20*time.Second),
		Fallback: FallbackConfig{
			CatalogPath: os.Getenv("FALLBACK_CATALOG_PATH"),
			CacheTTL:    p.duration("FALLBACK_CACHE_TTL", time.Hour),
			CacheSize:   p.int("FALLBACK_CACHE_SIZE", 1000),
		},
		DatabaseEnabled: p.bool("DB_ENABLED", false),
		Database:        storage.ConfigFromEnv(),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		PubSub: PubSubConfig{
			ProjectID:    os.Getenv("PUBSUB_PROJECT_ID"),
			AlertTopic:   os.Getenv("PUBSUB_ALERT_TOPIC"),
			Subscription: os.Getenv("PUBSUB_SUBSCRIPTION"),
		},
		AlertWebhookURL: os.Getenv("ALERT_WEBHOOK_URL"),
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     p.int("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
			To:       splitList(os.Getenv("SMTP_TO")),
		},
		AdminJWTSigningKey:  os.Getenv("ADMIN_JWT_SIGNING_KEY"),
		RequireTLS:          p.bool("REQUIRE_TLS", false),
		ChatRateLimit:       p.int("CHAT_RATE_LIMIT", 30),
		OTelEnabled:         p.bool("OTEL_ENABLED", false),
		OTLPEndpoint:        getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		HealthCheckInterval: p.duration("HEALTH_CHECK_INTERVAL", 30*time.Second),
	}

	if cfg.Environment == EnvPreview {
		cfg.Preview = true
	}

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Environment == EnvProduction && c.AdminJWTSigningKey == "" {
		return errors.New("invalid config: ADMIN_JWT_SIGNING_KEY is required in production")
	}
	if c.SMTP.Host != "" && (c.SMTP.From == "" || len(c.SMTP.To) == 0) {
		return errors.New("invalid config: SMTP_FROM and SMTP_TO are required when SMTP_HOST is set")
	}
	return nil
}

type parser struct {
	errs []error
}

func (p *parser) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
