package alerting

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// ChannelsConfig selects the delivery channels of a deployment. The log
// channel is always enabled; the others are enabled by their settings.
type ChannelsConfig struct {
	WebhookURL    string
	WebhookClient HTTPDoer

	PubSubProjectID string
	PubSubTopic     string

	// Redis enables the in-app channel.
	Redis RedisClient

	// Email is enabled when Email.Host is set.
	Email EmailConfig

	Logger zerolog.Logger
}

// Channels builds the configured channels. The returned function releases
// their resources.
func Channels(ctx context.Context, cfg ChannelsConfig) ([]Channel, func() error, error) {
	channels := []Channel{NewLogChannel(cfg.Logger)}
	closeFn := func() error { return nil }

	if cfg.WebhookURL != "" {
		channels = append(channels, NewWebhookChannel(WebhookConfig{URL: cfg.WebhookURL, Client: cfg.WebhookClient}))
	}
	if cfg.PubSubProjectID != "" && cfg.PubSubTopic != "" {
		pub, err := NewPubSubPublisher(ctx, cfg.PubSubProjectID, cfg.PubSubTopic)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub alert channel: %w", err)
		}
		channels = append(channels, NewPubSubChannel(pub))
		closeFn = pub.Close
	}
	if cfg.Redis != nil {
		channels = append(channels, NewRedisChannel(RedisConfig{Client: cfg.Redis}))
	}
	if cfg.Email.Host != "" {
		channels = append(channels, NewEmailChannel(cfg.Email))
	}

	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name())
	}
	cfg.Logger.Info().Strs("channels", names).Msg("alert channels configured")

	return channels, closeFn, nil
}
