// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

package controller

import (
	"context"
	"log/slog"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/tomtom215/ward/internal/logging"
)

// TreeConfig controls the internal supervisor tree's restart behavior.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig returns suture's own production defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// tree is the controller's own two-layer supervisor tree: io supervises
// whatever is registered through AddIOService, watch supervises the change
// detector's fsnotify sweep. The child's gateway pipe reader is not in the
// tree: gateway.RunChild serves the pipe itself. A panic or error in a
// supervised service is contained and retried with backoff instead of
// taking down the whole child process (SPEC_FULL.md §4.3).
type tree struct {
	root  *suture.Supervisor
	io    *suture.Supervisor
	watch *suture.Supervisor
}

func newTree(logger zerolog.Logger, cfg TreeConfig) *tree {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5.0
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30.0
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	slogger := logger.With().Str("component", "controller-tree").Logger()
	handler := &sutureslog.Handler{Logger: slog.New(logging.NewSlogHandlerWithLogger(slogger))}
	eventHook := handler.MustHook()

	rootSpec := suture.Spec{
		EventHook:        eventHook,
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	root := suture.New("ward-controller", rootSpec)
	io := suture.New("io", childSpec)
	watch := suture.New("watch", childSpec)
	root.Add(io)
	root.Add(watch)

	return &tree{root: root, io: io, watch: watch}
}

// AddIOService registers a service on the io layer.
func (t *tree) AddIOService(svc suture.Service) suture.ServiceToken {
	return t.io.Add(svc)
}

// AddWatchService registers the change detector's sweep loop.
func (t *tree) AddWatchService(svc suture.Service) suture.ServiceToken {
	return t.watch.Add(svc)
}

// ServeBackground starts the tree and returns its completion channel.
func (t *tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}
