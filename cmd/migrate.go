// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/LeeDigitalWorks/beegate/pkg/gateway"
	"github.com/LeeDigitalWorks/beegate/pkg/logger"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply record store migrations",
	Long:  `Apply pending SQL migrations to the configured postgres or mysql record store.`,
	Run:   runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	ctx, cancel := cmdContext()
	defer cancel()

	cfg := loadGatewayConfig()
	records, sqlStore, err := gateway.OpenStore(ctx, cfg.Store)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open record store")
	}
	defer records.Close()

	if sqlStore == nil {
		fmt.Printf("driver %q has no migrations\n", cfg.Store.Driver)
		return
	}
	if err := sqlStore.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
	fmt.Println("migrations applied")
}
