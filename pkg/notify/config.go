// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify publishes gateway notifications (pin outcomes, node
// lifecycle changes) to external systems. Delivery is best effort: failures
// are logged and counted, never returned to the operation that triggered
// the notification.
package notify

import (
	"time"
)

// Config holds notification configuration.
type Config struct {
	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Addr is the Redis server address (e.g., "localhost:6379").
	Addr string `mapstructure:"addr"`

	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// Channel is the Pub/Sub channel prefix. Messages are published to
	// "{channel}:{topic}".
	Channel string `mapstructure:"channel"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Enabled bool `mapstructure:"enabled"`

	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`

	// RequiredAcks: 0=none, 1=leader, -1=all (default: 1).
	RequiredAcks int `mapstructure:"required_acks"`

	// Compression: "none", "gzip", "snappy", "lz4", "zstd" (default: "snappy").
	Compression string `mapstructure:"compression"`

	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	TLS           bool `mapstructure:"tls"`
	TLSSkipVerify bool `mapstructure:"tls_skip_verify"`

	SASLEnabled bool `mapstructure:"sasl_enabled"`
	// SASLMechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
	SASLMechanism string `mapstructure:"sasl_mechanism"`
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`
}

const (
	defaultRedisChannel = "beegate"
	defaultKafkaTopic   = "beegate-events"
)

// DefaultConfig returns a Config with default values and all publishers off.
func DefaultConfig() Config {
	return Config{
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			Channel:      defaultRedisChannel,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:        defaultKafkaTopic,
			RequiredAcks: 1,
			Compression:  "snappy",
			BatchSize:    100,
			BatchTimeout: time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Validate applies defaults for unset or invalid values.
func (c *Config) Validate() {
	d := DefaultConfig()
	if c.Redis.Addr == "" {
		c.Redis.Addr = d.Redis.Addr
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = d.Redis.Channel
	}
	if c.Redis.DialTimeout <= 0 {
		c.Redis.DialTimeout = d.Redis.DialTimeout
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = d.Kafka.Topic
	}
	if c.Kafka.RequiredAcks < -1 || c.Kafka.RequiredAcks > 1 {
		c.Kafka.RequiredAcks = 1
	}
	if c.Kafka.Compression == "" {
		c.Kafka.Compression = d.Kafka.Compression
	}
	if c.Kafka.BatchSize <= 0 {
		c.Kafka.BatchSize = d.Kafka.BatchSize
	}
	if c.Kafka.BatchTimeout <= 0 {
		c.Kafka.BatchTimeout = d.Kafka.BatchTimeout
	}
	if c.Kafka.WriteTimeout <= 0 {
		c.Kafka.WriteTimeout = d.Kafka.WriteTimeout
	}
}

// HasPublishers returns true if at least one publisher is enabled.
func (c *Config) HasPublishers() bool {
	return c.Redis.Enabled || c.Kafka.Enabled
}
