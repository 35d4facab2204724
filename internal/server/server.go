// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

// Package server implements the top-level reload loop (SPEC_FULL.md §4.6):
// it repeatedly constructs a ServerInstance until told to stop, keeping the
// optional monitor and metrics HTTP server running across every generation.
package server

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tomtom215/ward/internal/config"
	"github.com/tomtom215/ward/internal/metrics"
	"github.com/tomtom215/ward/internal/metricsserver"
	"github.com/tomtom215/ward/internal/monitor"
	"github.com/tomtom215/ward/internal/serverinstance"
)

// Run drives the supervisor for the life of the process: it starts the
// optional monitor and metrics server (both persist across reloads), then
// loops constructing a ServerInstance per reload generation until one
// reports Reload == false or fails outright.
func Run(ctx context.Context, logger zerolog.Logger, cfg *config.Config) error {
	var mon *monitor.Monitor
	if cfg.Monitor != "" {
		mon = monitor.New(logger)
		if err := mon.Listen(cfg.Monitor); err != nil {
			return fmt.Errorf("server: start monitor: %w", err)
		}
		go func() {
			if err := mon.Serve(ctx); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("monitor listener exited")
			}
		}()
		logger.Info().Str("addr", cfg.Monitor).Msg("monitor listening")
	}

	if cfg.MetricsAddr != "" {
		msrv := metricsserver.New(cfg.MetricsAddr, cfg.ShutdownTimeout)
		go func() {
			if err := msrv.Serve(ctx); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("metrics server exited")
			}
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		instance, err := serverinstance.New(logger, serverinstance.Config{
			Autoreload:  cfg.Autoreload,
			ConfPath:    cfg.Conf,
			ModuleSpecs: cfg.Modules,
		})
		if err != nil {
			return fmt.Errorf("server: spawn controller child: %w", err)
		}
		if mon != nil {
			mon.AttachInstance(instance)
		}

		result := instance.RunUntilStopped()
		if result.Err != nil {
			return fmt.Errorf("server: instance failed: %w", result.Err)
		}

		if mon != nil {
			if result.Reload {
				mon.AnnounceReloading()
			} else {
				mon.AnnounceShuttingDown()
			}
		}

		if !result.Reload {
			return nil
		}
		metrics.ObserveReload()
		logger.Info().Msg("reload requested; starting a new controller child")
	}
}
