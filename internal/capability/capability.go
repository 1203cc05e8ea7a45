// Package capability defines the upstream text-generation contract used by
// the orchestrator and its mock and OpenAI-compatible implementations.
package capability

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/tutorstack/tutorguard/internal/health"
	"github.com/tutorstack/tutorguard/internal/provider/resilience"
)

// Capability generates tutoring replies from a conversation.
type Capability interface {
	// Name identifies the upstream in logs and responses.
	Name() string

	// Generate returns a complete reply.
	Generate(ctx context.Context, messages []Message, opts Options) (Result, error)

	// Stream returns the reply as a byte stream. Errors that occur after the
	// stream was opened surface from Read.
	Stream(ctx context.Context, messages []Message, opts Options) (io.ReadCloser, error)
}

// Options tunes a single generation.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float32
	Subject     string
	Topic       string
}

// Result is a generated reply.
type Result struct {
	Content          string            `json:"content"`
	Model            string            `json:"model,omitempty"`
	FinishReason     string            `json:"finishReason,omitempty"`
	PromptTokens     int               `json:"promptTokens,omitempty"`
	CompletionTokens int               `json:"completionTokens,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// UpstreamError is a normalised upstream failure.
type UpstreamError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Code != "":
		return fmt.Sprintf("upstream status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Message)
	default:
		return "upstream: " + e.Message
	}
}

// HTTPStatus returns the upstream HTTP status, or 0.
func (e *UpstreamError) HTTPStatus() int {
	return e.StatusCode
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Kind names a capability implementation.
type Kind string

// Capability kinds.
const (
	KindMock   Kind = "mock"
	KindOpenAI Kind = "openai"
)

// Config selects and configures the upstream capability.
type Config struct {
	// Preview marks a preview deployment, which always uses the mock.
	Preview bool

	APIKey  string
	Model   string
	BaseURL string

	// Timeout bounds a single upstream HTTP attempt.
	// Default: 30 seconds
	Timeout time.Duration

	// MaxRetries bounds transport retries of 5xx and network errors.
	// Zero disables retries.
	MaxRetries uint64

	// Health receives circuit breaker transitions for the AI service. Optional.
	Health resilience.HealthUpdater

	Logger zerolog.Logger
}

// Select returns the mock when running a preview or when no API key is
// configured, and the OpenAI-compatible capability otherwise.
func Select(cfg Config) (Capability, Kind) {
	if cfg.Preview || cfg.APIKey == "" {
		return NewMock(MockConfig{Logger: cfg.Logger}), KindMock
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientCfg := resilience.DefaultClientConfig("openai")
	clientCfg.Timeout = cfg.Timeout
	clientCfg.MaxRetries = cfg.MaxRetries
	clientCfg.NoRetry = cfg.MaxRetries == 0
	clientCfg.Logger = cfg.Logger
	if cfg.Health != nil {
		clientCfg.CircuitBreaker.OnStateChange = resilience.ReportStateChanges(cfg.Health, health.ServiceAI, cfg.Logger)
	}

	return NewOpenAI(OpenAIConfig{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		HTTPClient: resilience.NewClient(clientCfg),
		Logger:     cfg.Logger,
	}), KindOpenAI
}
