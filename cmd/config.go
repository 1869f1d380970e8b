// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"

	"github.com/LeeDigitalWorks/beegate/pkg/gateway"
	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/utils"

	"github.com/spf13/viper"
)

// configFlags maps persistent flags onto nested config keys so every
// subcommand sees the same overrides.
var configFlags = map[string]string{
	"store_driver":  "store.driver",
	"store_dsn":     "store.dsn",
	"auto_migrate":  "auto_migrate",
	"chunk_dir":     "chunk_dir",
	"locks_backend": "locks.backend",
	"redis_addr":    "locks.redis.addr",
	"tasks_queue":   "tasks.queue",
}

func init() {
	def := gateway.DefaultConfig()
	f := rootCmd.PersistentFlags()

	f.String("store_driver", string(def.Store.Driver), "Record store driver (memory, postgres, mysql)")
	f.String("store_dsn", "", "Record store DSN. Env: BEEGATE_STORE_DSN")
	f.Bool("auto_migrate", def.AutoMigrate, "Apply SQL migrations on startup")
	f.String("chunk_dir", "", "Directory for the embedded LevelDB chunk tier (empty keeps chunks in the record store)")
	f.String("locks_backend", def.Locks.Backend, "Lease backend (store, redis)")
	f.String("redis_addr", def.Locks.Redis.Addr, "Redis address for the redis lease backend")
	f.String("tasks_queue", def.Tasks.Queue, "Task queue backend (memory, store)")

	for flag, key := range configFlags {
		viper.BindPFlag(key, f.Lookup(flag))
	}
}

// loadGatewayConfig reads beegate.{yaml,toml,...} plus env and flag
// overrides. Invalid configuration is fatal.
func loadGatewayConfig() gateway.Config {
	utils.LoadConfiguration("beegate", false)
	cfg, err := gateway.LoadConfig(viper.GetViper())
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	return cfg
}

// openGateway builds the gateway for one-shot commands. Background work is
// not started; callers must Close it.
func openGateway(ctx context.Context) *gateway.Gateway {
	g, err := gateway.New(ctx, loadGatewayConfig())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize gateway")
	}
	return g
}
