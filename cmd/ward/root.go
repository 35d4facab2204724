// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:          "ward",
	Short:        "ward supervises worker modules through a lifecycle state machine",
	Long:         `ward forks a controller process, drives its configured worker modules through a lifecycle state machine, and hot-reloads the whole tree when a watched file changes.`,
	SilenceUsage: true,
	Version:      version,
}

// Execute runs the root command; called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
