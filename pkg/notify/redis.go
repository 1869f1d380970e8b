// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes messages to Redis Pub/Sub.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Str("channel", cfg.Channel).
		Msg("redis notification publisher connected")

	return NewRedisPublisherFromClient(client, cfg.Channel), nil
}

// NewRedisPublisherFromClient wraps an existing client.
func NewRedisPublisherFromClient(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = defaultRedisChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Name() string {
	return "redis"
}

// ChannelFor returns the Pub/Sub channel a topic is published to.
func (p *RedisPublisher) ChannelFor(topic string) string {
	return fmt.Sprintf("%s:%s", p.channel, topic)
}

// Publish sends data to "{channel}:{topic}". The key is not used by Redis.
func (p *RedisPublisher) Publish(ctx context.Context, topic, _ string, data []byte) error {
	start := time.Now()
	channel := p.ChannelFor(topic)

	result := p.client.Publish(ctx, channel, data)
	if err := result.Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	DeliveryDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())

	logger.Debug().
		Str("channel", channel).
		Int64("subscribers", result.Val()).
		Msg("published notification to redis")
	return nil
}

func (p *RedisPublisher) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
