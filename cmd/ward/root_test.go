// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

package main

import "testing"

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "ward" {
		t.Errorf("Use = %q, want ward", rootCmd.Use)
	}
	if rootCmd.Short == "" {
		t.Error("expected a Short description")
	}
	if !rootCmd.SilenceUsage {
		t.Error("expected SilenceUsage to be true")
	}
}

func TestServeRegisteredAsSubcommand(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"serve"})
	if err != nil {
		t.Fatalf("Find(serve): %v", err)
	}
	if cmd.Name() != "serve" {
		t.Errorf("resolved command = %q, want serve", cmd.Name())
	}
}

func TestServeFlagsDefaults(t *testing.T) {
	for _, name := range []string{"config", "autoreload", "monitor", "metrics-addr"} {
		if serveCmd.Flags().Lookup(name) == nil {
			t.Errorf("serve is missing the --%s flag", name)
		}
	}
	if serveAutoreload {
		t.Error("autoreload should default to false")
	}
	if serveMonitorAddr != "" {
		t.Error("monitor should default to empty (disabled)")
	}
	if serveMetricsAddr != "" {
		t.Error("metrics-addr should default to empty (disabled)")
	}
}
