package alerting

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
)

// Publisher publishes one message and waits for the server to accept it.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) error
}

// PubSubPublisher publishes to a Google Cloud Pub/Sub topic.
type PubSubPublisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	ownClient bool
}

// NewPubSubPublisher creates a publisher for topic in projectID.
func NewPubSubPublisher(ctx context.Context, projectID, topic string) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	return &PubSubPublisher{
		client:    client,
		publisher: client.Publisher(topic),
		ownClient: true,
	}, nil
}

// Publish implements Publisher.
func (p *PubSubPublisher) Publish(ctx context.Context, data []byte, attrs map[string]string) error {
	result := p.publisher.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publishing message: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the client.
func (p *PubSubPublisher) Close() error {
	p.publisher.Stop()
	if p.ownClient {
		return p.client.Close()
	}
	return nil
}

// PubSubChannel publishes notifications as JSON messages.
type PubSubChannel struct {
	publisher Publisher
}

// NewPubSubChannel creates a Pub/Sub channel.
func NewPubSubChannel(p Publisher) *PubSubChannel {
	return &PubSubChannel{publisher: p}
}

// Name implements Channel.
func (c *PubSubChannel) Name() string { return "pubsub" }

// Deliver implements Channel.
func (c *PubSubChannel) Deliver(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}
	return c.publisher.Publish(ctx, data, map[string]string{
		"alert_type": string(n.Type),
		"severity":   string(n.Severity),
		"source":     n.Source,
	})
}
