package alerting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Default in-app channel keys.
const (
	DefaultRedisChannel = "tutorguard:alerts"
	DefaultRedisListKey = "tutorguard:alerts:recent"
)

// RedisClient is the subset of go-redis used by the in-app channel.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
}

// RedisConfig holds configuration for the in-app channel.
type RedisConfig struct {
	Client RedisClient

	// Channel is the PUBLISH channel the web app listens on.
	Channel string

	// ListKey holds the most recent notifications for clients that connect late.
	ListKey string

	// MaxRecent caps the recent list.
	// Default: 100
	MaxRecent int64
}

// RedisChannel publishes notifications for in-app display.
type RedisChannel struct {
	client    RedisClient
	channel   string
	listKey   string
	maxRecent int64
}

// NewRedisChannel creates an in-app Redis channel.
func NewRedisChannel(cfg RedisConfig) *RedisChannel {
	if cfg.Channel == "" {
		cfg.Channel = DefaultRedisChannel
	}
	if cfg.ListKey == "" {
		cfg.ListKey = DefaultRedisListKey
	}
	if cfg.MaxRecent <= 0 {
		cfg.MaxRecent = 100
	}
	return &RedisChannel{
		client:    cfg.Client,
		channel:   cfg.Channel,
		listKey:   cfg.ListKey,
		maxRecent: cfg.MaxRecent,
	}
}

// Name implements Channel.
func (c *RedisChannel) Name() string { return "in_app" }

// Deliver implements Channel.
func (c *RedisChannel) Deliver(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}

	if err := c.client.Publish(ctx, c.channel, data).Err(); err != nil {
		return fmt.Errorf("publishing alert: %w", err)
	}
	if err := c.client.LPush(ctx, c.listKey, data).Err(); err != nil {
		return fmt.Errorf("storing recent alert: %w", err)
	}
	if err := c.client.LTrim(ctx, c.listKey, 0, c.maxRecent-1).Err(); err != nil {
		return fmt.Errorf("trimming recent alerts: %w", err)
	}
	return nil
}
