// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/tomtom215/ward/internal/config"
	"github.com/tomtom215/ward/internal/logging"
	"github.com/tomtom215/ward/internal/server"
)

var (
	serveConfigPath  string
	serveAutoreload  bool
	serveMonitorAddr string
	serveMetricsAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the supervisor and run until interrupted",
	Long: `serve loads configuration, builds the worker module registry, forks the
first controller child, and runs until SIGINT or an unrecoverable error. A
watched file change triggers a clean restart of the controller child when
--autoreload is set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "path to config.yaml (overrides the default search path)")
	serveCmd.Flags().BoolVar(&serveAutoreload, "autoreload", false, "restart the controller child when a watched file changes")
	serveCmd.Flags().StringVar(&serveMonitorAddr, "monitor", "", "host:port for the TCP control/status listener")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "host:port for the Prometheus exposition/health HTTP server")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if serveConfigPath != "" {
		if err := os.Setenv(config.ConfigPathEnvVar, serveConfigPath); err != nil {
			return err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("autoreload") {
		cfg.Autoreload = serveAutoreload
	}
	if cmd.Flags().Changed("monitor") {
		cfg.Monitor = serveMonitorAddr
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = serveMetricsAddr
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	// ServerInstance installs its own SIGINT handler to drive the graceful
	// stop sequence (SPEC_FULL.md §4.5); this context only needs to stop the
	// monitor/metrics server and the outer reload loop at the same signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logging.Info().
		Bool("autoreload", cfg.Autoreload).
		Str("monitor", cfg.Monitor).
		Str("metrics_addr", cfg.MetricsAddr).
		Msg("starting ward")

	return server.Run(ctx, logging.Logger(), cfg)
}
