// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/cache"
	"github.com/LeeDigitalWorks/beegate/pkg/chunkstore"
	"github.com/LeeDigitalWorks/beegate/pkg/compression"
	"github.com/LeeDigitalWorks/beegate/pkg/nodepool"
	"github.com/LeeDigitalWorks/beegate/pkg/notify"
	"github.com/LeeDigitalWorks/beegate/pkg/pin"
	"github.com/LeeDigitalWorks/beegate/pkg/storage/backend"
	"github.com/LeeDigitalWorks/beegate/pkg/store"

	"github.com/spf13/viper"
)

// Lock backends
const (
	LocksStore = "store"
	LocksRedis = "redis"
)

// Task queue backends
const (
	QueueMemory = "memory"
	QueueStore  = "store"
)

// Config is the complete gateway configuration.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	DebugAddr  string `mapstructure:"debug_addr"`

	Store store.Config `mapstructure:"store"`

	// AutoMigrate applies SQL migrations on startup.
	AutoMigrate bool `mapstructure:"auto_migrate"`

	// ChunkDir holds an embedded LevelDB chunk tier. Empty keeps chunks in
	// the record store.
	ChunkDir string `mapstructure:"chunk_dir"`

	// ChunkCompression encodes payloads in ChunkDir (none, s2, lz4, zstd).
	ChunkCompression string `mapstructure:"chunk_compression"`

	// Legacy is the read-only fallback tier. An empty type disables it.
	Legacy backend.Config `mapstructure:"legacy"`

	Locks   LockConfig              `mapstructure:"locks"`
	Nodes   nodepool.Config         `mapstructure:"nodes"`
	Chunks  chunkstore.Config       `mapstructure:"chunks"`
	Pins    pin.Config              `mapstructure:"pins"`
	Buckets cache.BucketUsageConfig `mapstructure:"buckets"`
	Notify  notify.Config           `mapstructure:"notify"`
	Tasks   TaskConfig              `mapstructure:"tasks"`
}

// LockConfig selects where resource leases live.
type LockConfig struct {
	Backend string          `mapstructure:"backend"`
	Redis   RedisLockConfig `mapstructure:"redis"`
}

type RedisLockConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// TaskConfig configures background work.
type TaskConfig struct {
	Queue             string        `mapstructure:"queue"`
	Concurrency       int           `mapstructure:"concurrency"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`

	// PendingScanInterval is how often pending pins are queued for
	// reconciliation. Zero disables the scan.
	PendingScanInterval time.Duration `mapstructure:"pending_scan_interval"`
	PendingScanLimit    int           `mapstructure:"pending_scan_limit"`

	// LockSweepInterval is how often expired leases are deleted.
	LockSweepInterval time.Duration `mapstructure:"lock_sweep_interval"`

	// Finished tasks older than RetainFinished are removed every
	// CleanupInterval.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	RetainFinished  time.Duration `mapstructure:"retain_finished"`

	StatsInterval time.Duration `mapstructure:"stats_interval"`

	// NodeResyncInterval is how often the pool is reloaded from the record
	// store, picking up node changes made by other processes.
	NodeResyncInterval time.Duration `mapstructure:"node_resync_interval"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr: ":8080",
		DebugAddr:  ":8085",
		Store: store.Config{
			Driver:          store.DriverMemory,
			MaxOpenConns:    store.DefaultMaxOpenConns,
			MaxIdleConns:    store.DefaultMaxIdleConns,
			ConnMaxLifetime: store.DefaultConnMaxLifetime,
			ConnMaxIdleTime: store.DefaultConnMaxIdleTime,
		},
		AutoMigrate:      true,
		ChunkCompression: string(compression.S2),
		Locks: LockConfig{
			Backend: LocksStore,
			Redis:   RedisLockConfig{Addr: "localhost:6379", Prefix: "beegate:lock:"},
		},
		Nodes:   nodepool.DefaultConfig(),
		Chunks:  chunkstore.DefaultConfig(),
		Pins:    pin.DefaultConfig(),
		Buckets: cache.BucketUsageConfig{TTL: cache.DefaultBucketUsageTTL},
		Notify:  notify.DefaultConfig(),
		Tasks: TaskConfig{
			Queue:               QueueMemory,
			Concurrency:         4,
			PollInterval:        time.Second,
			VisibilityTimeout:   5 * time.Minute,
			PendingScanInterval: time.Minute,
			PendingScanLimit:    100,
			LockSweepInterval:   5 * time.Minute,
			CleanupInterval:     time.Hour,
			RetainFinished:      24 * time.Hour,
			StatsInterval:       15 * time.Second,
			NodeResyncInterval:  30 * time.Second,
		},
	}
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case store.DriverMemory:
	case store.DriverPostgres, store.DriverMySQL:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the %s driver", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Locks.Backend {
	case LocksStore:
	case LocksRedis:
		if c.Locks.Redis.Addr == "" {
			return fmt.Errorf("locks.redis.addr is required for redis locks")
		}
	default:
		return fmt.Errorf("unknown lock backend %q", c.Locks.Backend)
	}

	switch c.Tasks.Queue {
	case QueueMemory:
	case QueueStore:
		if c.Store.Driver == store.DriverMemory {
			return fmt.Errorf("tasks.queue %q needs a sql store", QueueStore)
		}
	default:
		return fmt.Errorf("unknown task queue %q", c.Tasks.Queue)
	}

	if _, err := compression.ParseAlgorithm(c.ChunkCompression); err != nil {
		return fmt.Errorf("chunk_compression: %w", err)
	}

	if c.Pins.Policy.MaxMissing < 0 || c.Pins.Policy.MaxAttempts < 0 {
		return fmt.Errorf("pins.policy limits must not be negative")
	}
	return nil
}

// LoadConfig decodes v over the defaults and validates the result.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
