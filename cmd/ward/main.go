// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

// Package main is the entry point for the ward supervisor binary.
//
// ward drives a set of user-defined worker modules through a lifecycle
// state machine inside a forked controller child process, restarting that
// child on demand or when a filesystem change triggers a hot reload.
//
// # Application Architecture
//
// The parent process never runs worker code directly: it re-execs itself
// (this same binary, same argv, same environment) with CARTOSUP_CHILD set,
// and the child re-enters here through the same main() before cobra ever
// parses argv. The re-exec child path is checked first because the child's
// argv is a verbatim copy of the parent's and must never be re-interpreted
// as a fresh CLI invocation. Since the child inherits the parent's exact
// environment, it reloads configuration the same way the parent did —
// config.Load reads the identical SUPERVISOR_-prefixed variables and the
// same config file on disk — rather than needing a side channel.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, an optional config.yaml, then
// built-in defaults. See internal/config for the full key list.
package main

import (
	"context"
	"os"

	"github.com/tomtom215/ward/internal/config"
	"github.com/tomtom215/ward/internal/controller"
	"github.com/tomtom215/ward/internal/gateway"
	"github.com/tomtom215/ward/internal/logging"
)

func main() {
	if gateway.IsChild() {
		runChild()
		return
	}
	Execute()
}

// runChild is the forked controller's entry point.
func runChild() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("controller child failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Caller: cfg.Logging.Caller})

	err = gateway.RunChild(ctx, logging.Logger(), func(emit func(string, any)) gateway.ChildHandler {
		ctrl, ctrlErr := controller.New(logging.Logger(), gateway.EmitterFunc(emit), controller.Config{
			ModuleSpecs: cfg.Modules,
			ConfPath:    cfg.Conf,
		})
		if ctrlErr != nil {
			logging.Fatal().Err(ctrlErr).Msg("failed to construct controller")
		}
		go func() {
			if serveErr := ctrl.Serve(ctx); serveErr != nil {
				logging.Warn().Err(serveErr).Msg("controller supervisor tree exited")
			}
		}()
		return &gateway.ControllerHandler{C: ctrl, Autoreload: cfg.Autoreload}
	})
	if err != nil {
		logging.Error().Err(err).Msg("controller child exited with an error")
		os.Exit(1)
	}
}
