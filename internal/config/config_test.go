package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorstack/tutorguard/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, config.EnvDevelopment, cfg.Environment)
	assert.Equal(t, 20*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, time.Hour, cfg.Fallback.CacheTTL)
	assert.Equal(t, 1000, cfg.Fallback.CacheSize)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
	assert.False(t, cfg.Preview)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("APP_ENV", "preview")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("UPSTREAM_TIMEOUT", "5s")
	t.Setenv("FALLBACK_CACHE_SIZE", "50")
	t.Setenv("SMTP_TO", "oncall@example.com, leads@example.com")
	t.Setenv("DB_ENABLED", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.Preview, "preview environment forces the mock")
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, 5*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, 50, cfg.Fallback.CacheSize)
	assert.Equal(t, []string{"oncall@example.com", "leads@example.com"}, cfg.SMTP.To)
	assert.True(t, cfg.DatabaseEnabled)
}

func TestLoad_MalformedValues(t *testing.T) {
	t.Setenv("UPSTREAM_TIMEOUT", "soon")
	t.Setenv("FALLBACK_CACHE_SIZE", "many")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UPSTREAM_TIMEOUT")
	assert.Contains(t, err.Error(), "FALLBACK_CACHE_SIZE")
}

func TestValidate(t *testing.T) {
	base := func() config.Config {
		cfg, err := config.Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{"defaults", func(*config.Config) {}, false},
		{"unknown environment", func(c *config.Config) { c.Environment = "qa" }, true},
		{"non-numeric port", func(c *config.Config) { c.Port = "http" }, true},
		{"zero cache size", func(c *config.Config) { c.Fallback.CacheSize = 0 }, true},
		{"bad webhook url", func(c *config.Config) { c.AlertWebhookURL = "not a url" }, true},
		{"topic without project", func(c *config.Config) { c.PubSub.AlertTopic = "alerts" }, true},
		{"topic with project", func(c *config.Config) { c.PubSub.AlertTopic = "alerts"; c.PubSub.ProjectID = "edu-prod" }, false},
		{"bad recipient", func(c *config.Config) { c.SMTP.To = []string{"nobody"} }, true},
		{"smtp host without recipients", func(c *config.Config) { c.SMTP.Host = "smtp.example.com" }, true},
		{"production needs signing key", func(c *config.Config) { c.Environment = config.EnvProduction }, true},
		{"production with signing key", func(c *config.Config) {
			c.Environment = config.EnvProduction
			c.AdminJWTSigningKey = "secret"
		}, false},
		{"redis address", func(c *config.Config) { c.RedisAddr = "localhost:6379" }, false},
		{"too many retries", func(c *config.Config) { c.OpenAI.MaxRetries = 10 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
