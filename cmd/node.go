// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/gateway"
	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/nodepool"
	"github.com/LeeDigitalWorks/beegate/pkg/registry"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage registered Bee nodes",
	Long: `Register, update, remove and list the Bee nodes in the fleet.

With --gateway_url the change is applied through a running gateway's debug
server, and that gateway's pool reflects it before the command returns.
Without it the record store is written directly; running gateways pick the
change up on their next node resync (tasks.node_resync_interval, or SIGHUP).`,
}

var nodeAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a node",
	Run:   runNodeAdd,
}

var nodeUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change fields of a registered node",
	Args:  cobra.ExactArgs(1),
	Run:   runNodeUpdate,
}

var nodeRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a node from the fleet",
	Args:  cobra.ExactArgs(1),
	Run:   runNodeRemove,
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes with their current health",
	Run:   runNodeList,
}

func init() {
	rootCmd.AddCommand(nodeCmd)
	nodeCmd.AddCommand(nodeAddCmd, nodeUpdateCmd, nodeRemoveCmd, nodeListCmd)

	for _, c := range []*cobra.Command{nodeAddCmd, nodeUpdateCmd} {
		f := c.Flags()
		f.String("endpoint", "", "Bee API URL (e.g., http://bee-1:1633)")
		f.String("eth_address", "", "Node Ethereum address")
		f.String("overlay", "", "Node overlay address")
		f.String("public_key", "", "Node public key")
		f.String("pss_public_key", "", "Node PSS public key")
		f.Bool("batch_creation", false, "Allow buying postage batches through this node")
	}
	nodeListCmd.Flags().Bool("probe", true, "Probe every node before printing health")
	nodeCmd.PersistentFlags().String("gateway_url", "",
		"Debug server URL of a running gateway (e.g., http://localhost:8085). Env: BEEGATE_GATEWAY_URL")
	viper.BindEnv("gateway_url", "BEEGATE_GATEWAY_URL")
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}

// adminClient returns a client for the running gateway, or nil when the
// command should write the record store itself.
func adminClient(cmd *cobra.Command) *gateway.AdminClient {
	url := NewFlagLoader(cmd).String("gateway_url")
	if url == "" {
		return nil
	}
	return gateway.NewAdminClient(url, time.Minute)
}

func warnDirectWrite() {
	logger.Warn().Msg("no --gateway_url given: running gateways see this change after their next node resync")
}

func runNodeAdd(cmd *cobra.Command, args []string) {
	f := NewFlagLoader(cmd)
	ctx, cancel := cmdContext()
	defer cancel()

	spec := registry.NodeSpec{
		Endpoint:             f.String("endpoint"),
		EthAddress:           f.String("eth_address"),
		Overlay:              f.String("overlay"),
		PublicKey:            f.String("public_key"),
		PSSPublicKey:         f.String("pss_public_key"),
		BatchCreationEnabled: f.Bool("batch_creation"),
	}

	var rec *types.NodeRecord
	var err error
	if admin := adminClient(cmd); admin != nil {
		rec, err = admin.RegisterNode(ctx, spec)
	} else {
		g := openGateway(ctx)
		defer g.Close()
		rec, err = g.Registry().Register(ctx, spec)
		warnDirectWrite()
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to register node")
	}
	fmt.Printf("registered node %s (%s)\n", rec.ID, rec.Endpoint)
}

func runNodeUpdate(cmd *cobra.Command, args []string) {
	ctx, cancel := cmdContext()
	defer cancel()

	var u registry.NodeUpdate
	flags := cmd.Flags()
	str := func(name string) *string {
		if !flags.Changed(name) {
			return nil
		}
		v, _ := flags.GetString(name)
		return &v
	}
	u.Endpoint = str("endpoint")
	u.EthAddress = str("eth_address")
	u.Overlay = str("overlay")
	u.PublicKey = str("public_key")
	u.PSSPublicKey = str("pss_public_key")
	if flags.Changed("batch_creation") {
		v, _ := flags.GetBool("batch_creation")
		u.BatchCreationEnabled = &v
	}

	var rec *types.NodeRecord
	var err error
	if admin := adminClient(cmd); admin != nil {
		rec, err = admin.UpdateNode(ctx, args[0], u)
	} else {
		g := openGateway(ctx)
		defer g.Close()
		rec, err = g.Registry().Update(ctx, args[0], u)
		warnDirectWrite()
	}
	if err != nil {
		logger.Fatal().Err(err).Str("node_id", args[0]).Msg("failed to update node")
	}
	fmt.Printf("updated node %s (%s)\n", rec.ID, rec.Endpoint)
}

func runNodeRemove(cmd *cobra.Command, args []string) {
	ctx, cancel := cmdContext()
	defer cancel()

	var err error
	if admin := adminClient(cmd); admin != nil {
		err = admin.RemoveNode(ctx, args[0])
	} else {
		g := openGateway(ctx)
		defer g.Close()
		err = g.Registry().Remove(ctx, args[0])
		warnDirectWrite()
	}
	if err != nil {
		logger.Fatal().Err(err).Str("node_id", args[0]).Msg("failed to remove node")
	}
	fmt.Printf("removed node %s\n", args[0])
}

func runNodeList(cmd *cobra.Command, args []string) {
	ctx, cancel := cmdContext()
	defer cancel()

	var status []nodepool.NodeStatus
	if admin := adminClient(cmd); admin != nil {
		var err error
		if status, err = admin.NodeStatus(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to list nodes")
		}
	} else {
		g := openGateway(ctx)
		defer g.Close()

		probe, _ := cmd.Flags().GetBool("probe")
		var err error
		if probe {
			err = g.LoadFleet(ctx)
		} else {
			err = g.Pool().LoadAll(ctx)
		}
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load nodes")
		}
		status = g.Pool().Status()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENDPOINT\tALIVE\tBATCHES\tLAST HEARTBEAT\tLAST ERROR")
	fmt.Fprintln(w, "--\t--------\t-----\t-------\t--------------\t----------")
	for _, st := range status {
		lastHB := "never"
		if !st.Health.LastHeartbeatAt.IsZero() {
			lastHB = humanize.Time(st.Health.LastHeartbeatAt)
		}
		lastErr := "-"
		if n := len(st.Health.LastErrors); n > 0 {
			lastErr = st.Health.LastErrors[n-1]
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n",
			st.Record.ID,
			st.Record.Endpoint,
			st.Health.IsAlive,
			strings.Join(st.Batches, ","),
			lastHB,
			lastErr,
		)
	}
	w.Flush()
}
