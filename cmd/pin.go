// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/LeeDigitalWorks/beegate/pkg/gateway"
	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Manage pinned content",
}

var pinAddCmd = &cobra.Command{
	Use:   "add <reference>",
	Short: "Pin a root reference",
	Long: `Record a pending pin on a root chunk reference. A running gateway
reconciles it in the background; --now reconciles it in this process.`,
	Args: cobra.ExactArgs(1),
	Run:  runPinAdd,
}

var pinStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show a pin",
	Args:  cobra.ExactArgs(1),
	Run:   runPinStatus,
}

var pinReconcileCmd = &cobra.Command{
	Use:   "reconcile <id>",
	Short: "Reconcile a pin now",
	Args:  cobra.ExactArgs(1),
	Run:   runPinReconcile,
}

var pinListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pins",
	Run:   runPinList,
}

func init() {
	rootCmd.AddCommand(pinCmd)
	pinCmd.AddCommand(pinAddCmd, pinStatusCmd, pinReconcileCmd, pinListCmd)

	pinAddCmd.Flags().Bool("now", false, "Reconcile immediately instead of leaving it to a running gateway")
	pinListCmd.Flags().String("state", "", "Only list pins in this state (pending, succeeded, failed)")
	pinListCmd.Flags().Int("limit", 100, "Maximum number of pins to list")
}

func printPin(p *types.Pin) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(gateway.NewPinView(p)); err != nil {
		logger.Fatal().Err(err).Msg("failed to encode pin")
	}
}

func runPinAdd(cmd *cobra.Command, args []string) {
	ref, err := types.ParseAddress(args[0])
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid reference")
	}
	ctx, cancel := cmdContext()
	defer cancel()

	g := openGateway(ctx)
	defer g.Close()

	p, err := g.Pins().CreatePin(ctx, ref)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create pin")
	}
	if now, _ := cmd.Flags().GetBool("now"); now {
		if err := g.LoadFleet(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to load nodes")
		}
		id := p.ID
		if p, err = g.Pins().Reconcile(ctx, id); err != nil {
			logger.Fatal().Err(err).Str("pin_id", id).Msg("reconciliation failed")
		}
	}
	printPin(p)
}

func runPinStatus(cmd *cobra.Command, args []string) {
	ctx, cancel := cmdContext()
	defer cancel()

	g := openGateway(ctx)
	defer g.Close()

	p, err := g.Pins().Get(ctx, args[0])
	if err != nil {
		logger.Fatal().Err(err).Str("pin_id", args[0]).Msg("failed to get pin")
	}
	printPin(p)
}

func runPinReconcile(cmd *cobra.Command, args []string) {
	ctx, cancel := cmdContext()
	defer cancel()

	g := openGateway(ctx)
	defer g.Close()

	if err := g.LoadFleet(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load nodes")
	}
	p, err := g.Pins().Reconcile(ctx, args[0])
	if err != nil {
		logger.Fatal().Err(err).Str("pin_id", args[0]).Msg("reconciliation failed")
	}
	printPin(p)
}

func runPinList(cmd *cobra.Command, args []string) {
	state, _ := cmd.Flags().GetString("state")
	limit, _ := cmd.Flags().GetInt("limit")
	ctx, cancel := cmdContext()
	defer cancel()

	g := openGateway(ctx)
	defer g.Close()

	pins, err := g.Pins().List(ctx, types.PinState(state), limit)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to list pins")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREFERENCE\tSTATE\tPINNED\tMISSING\tATTEMPTS\tUPDATED")
	fmt.Fprintln(w, "--\t---------\t-----\t------\t-------\t--------\t-------")
	for _, p := range pins {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			p.ID, p.Reference, p.State, p.PinnedCount, len(p.Missing), p.Attempts, humanize.Time(p.UpdatedAt))
	}
	w.Flush()
}
