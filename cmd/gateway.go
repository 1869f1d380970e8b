// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/debug"
	"github.com/LeeDigitalWorks/beegate/pkg/gateway"
	"github.com/LeeDigitalWorks/beegate/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the gateway server",
	Long: `Start the BeeGate server. It loads the node fleet, starts heartbeats, the
background task worker and the scheduler, and forwards client traffic to
healthy Bee nodes. Metrics, readiness, operator views and node administration
are served on the debug address. SIGHUP reloads the node set from the record
store.`,
	Run: runGateway,
}

func init() {
	rootCmd.AddCommand(gatewayCmd)

	def := gateway.DefaultConfig()
	f := gatewayCmd.Flags()
	f.String("listen_addr", def.ListenAddr, "Address for client traffic (host:port)")
	f.String("debug_addr", def.DebugAddr, "Address for metrics, readiness and debug views (host:port)")
	f.Duration("shutdown_timeout", 30*time.Second, "How long to drain in-flight requests on shutdown")

	viper.BindPFlag("listen_addr", f.Lookup("listen_addr"))
	viper.BindPFlag("debug_addr", f.Lookup("debug_addr"))
	viper.BindPFlag("shutdown_timeout", f.Lookup("shutdown_timeout"))
}

func runGateway(cmd *cobra.Command, args []string) {
	f := NewFlagLoader(cmd)
	debug.SetNotReady()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := openGateway(ctx)
	g.RegisterDebugHandlers()
	if err := g.Start(ctx); err != nil {
		g.Close()
		logger.Fatal().Err(err).Msg("failed to start gateway")
	}

	cfg := g.Config()
	httpServer := startHTTPServer(g.Handler(), cfg.ListenAddr)
	debugServer := startHTTPServer(debug.GetMux(), cfg.DebugAddr)

	debug.SetReady()
	logger.Info().Str("listen_addr", cfg.ListenAddr).Str("version", Version).Msg("gateway ready")

	waitForShutdown(func() {
		if err := g.ResyncNodes(ctx); err != nil {
			logger.Warn().Err(err).Msg("node resync on SIGHUP failed")
		}
	})

	debug.SetNotReady()
	shutdownCtx, stop := context.WithTimeout(context.Background(), f.Duration("shutdown_timeout"))
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown")
	}
	if err := debugServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("debug server shutdown")
	}
	cancel()
	if err := g.Close(); err != nil {
		logger.Error().Err(err).Msg("gateway shutdown")
	}
}

func startHTTPServer(handler http.Handler, addr string) *http.Server {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", addr).Msg("failed to create HTTP listener")
	}

	httpServer := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info().Str("http_addr", listener.Addr().String()).Msg("Starting HTTP server")
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()
	return httpServer
}

// waitForShutdown blocks until SIGINT or SIGTERM. SIGHUP calls reload and
// keeps waiting.
func waitForShutdown(reload func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM)
	defer signal.Stop(sigs)
	for sig := range sigs {
		if sig != syscall.SIGHUP {
			return
		}
		logger.Info().Msg("SIGHUP received, reloading nodes")
		reload()
	}
}
