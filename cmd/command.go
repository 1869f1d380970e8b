// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/utils"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "beegate",
	Short: "BeeGate - a gateway in front of a fleet of Swarm Bee nodes",
	Long: `BeeGate tracks a fleet of Bee nodes, forwards client traffic to healthy
ones, keeps pinned content complete and caches postage batch usage.`,
	PersistentPreRun: initializeLogging,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
	rootCmd.PersistentFlags().String("log_level", "", "Log level (debug, info, warn, error). Overrides LOG_LEVEL")
}

func initializeLogging(cmd *cobra.Command, args []string) {
	lvl, _ := cmd.Flags().GetString("log_level")
	if lvl == "" {
		return
	}
	level, err := zerolog.ParseLevel(lvl)
	if err != nil {
		logger.Warn().Err(err).Str("log_level", lvl).Msg("ignoring invalid log level")
		return
	}
	logger.SetLevel(level)
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
