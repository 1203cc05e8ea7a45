package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

// LogChannel writes notifications to the structured log.
type LogChannel struct {
	logger zerolog.Logger
}

// NewLogChannel creates a log channel.
func NewLogChannel(logger zerolog.Logger) *LogChannel {
	return &LogChannel{logger: logger.With().Str("channel", "log").Logger()}
}

// Name implements Channel.
func (c *LogChannel) Name() string { return "log" }

// Deliver implements Channel.
func (c *LogChannel) Deliver(_ context.Context, n Notification) error {
	var event *zerolog.Event
	switch n.Severity {
	case SeverityCritical, SeverityError:
		event = c.logger.Error()
	case SeverityWarning:
		event = c.logger.Warn()
	default:
		event = c.logger.Info()
	}

	event.
		Str("alert_id", n.ID).
		Str("alert_type", string(n.Type)).
		Str("severity", string(n.Severity)).
		Str("source", n.Source).
		Str("title", n.Title).
		Msg(n.Message)
	return nil
}

// HTTPDoer sends HTTP requests. *http.Client and *resilience.Client satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookConfig holds configuration for a chat webhook channel.
type WebhookConfig struct {
	URL    string
	Client HTTPDoer
}

// WebhookChannel posts notifications to a chat webhook.
type WebhookChannel struct {
	url    string
	client HTTPDoer
}

// NewWebhookChannel creates a webhook channel. A nil client uses http.DefaultClient.
func NewWebhookChannel(cfg WebhookConfig) *WebhookChannel {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &WebhookChannel{url: cfg.URL, client: cfg.Client}
}

// Name implements Channel.
func (c *WebhookChannel) Name() string { return "webhook" }

type webhookPayload struct {
	Text  string       `json:"text"`
	Alert Notification `json:"alert"`
}

// Deliver implements Channel.
func (c *WebhookChannel) Deliver(ctx context.Context, n Notification) error {
	body, err := json.Marshal(webhookPayload{
		Text:  fmt.Sprintf("[%s] %s: %s", n.Severity, n.Title, n.Message),
		Alert: n,
	})
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
