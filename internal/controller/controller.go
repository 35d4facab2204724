// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

// Package controller implements the ServiceController: the per-child-process
// owner of every configured Service, the reload-triggering change detector,
// and the small supervisor tree that contains their background goroutines
// (SPEC_FULL.md §4.3, §4.7, §4.8).
package controller

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/ward/internal/changedetector"
	"github.com/tomtom215/ward/internal/registry"
	"github.com/tomtom215/ward/internal/service"
	"github.com/tomtom215/ward/internal/state"
)

// ErrReloadRequested is returned by Init when initial module load failed,
// autoreload is enabled, and a subsequent file change was observed.
var ErrReloadRequested = errors.New("controller: reload requested after initial load failure")

// EventEmitter delivers an event upward, across the gateway in production or
// directly to a test double. args is marshaled to JSON by the caller.
type EventEmitter interface {
	EmitEvent(name string, args any)
}

// StateEntry is one row of an ordered ServiceStates snapshot.
type StateEntry struct {
	Name  string      `json:"name"`
	State state.State `json:"state"`
}

// Config configures a Controller.
type Config struct {
	// ModuleSpecs is the configuration's `modules` list, each entry either a
	// bare module name or a `mod:a,b` subset selector (§10.2).
	ModuleSpecs []string
	// ConfPath is the configuration file path, observed by the change
	// detector whenever Init runs with autoreload enabled: after a
	// successful load, and as part of the §4.8 recovery path after a failed
	// one.
	ConfPath string
	// Gatherer overrides the change detector's periodic sweep interval.
	// Zero uses changedetector.DefaultGathererInterval.
	Gatherer time.Duration
	Tree     TreeConfig
}

// Controller owns every configured Service for one controller child process
// and aggregates their state into events delivered via an EventEmitter.
type Controller struct {
	emitter     EventEmitter
	logger      zerolog.Logger
	detector    *changedetector.Detector
	tree        *tree
	moduleSpecs []string
	confPath    string

	mu          sync.Mutex
	initialized bool
	initErr     error
	services    map[string]*service.Service
	order       []string

	reloadOnce sync.Once
}

// New constructs a Controller. Module workers are not built until the first
// Init/Start/Pause/Stop call (lazy initialization, §4.3).
func New(logger zerolog.Logger, emitter EventEmitter, cfg Config) (*Controller, error) {
	det, err := changedetector.New(logger, cfg.Gatherer)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		emitter:     emitter,
		logger:      logger.With().Str("component", "controller").Logger(),
		detector:    det,
		tree:        newTree(logger, cfg.Tree),
		moduleSpecs: cfg.ModuleSpecs,
		confPath:    cfg.ConfPath,
		services:    make(map[string]*service.Service),
	}
	det.AddCallback(c.onFileChanged)
	c.tree.AddWatchService(det)
	return c, nil
}

// AddIOService registers a service on the controller's io supervisor layer.
func (c *Controller) AddIOService(svc suture.Service) suture.ServiceToken {
	return c.tree.AddIOService(svc)
}

// Serve runs the controller's internal supervisor tree until ctx is
// canceled or a supervised service exhausts its restart budget.
func (c *Controller) Serve(ctx context.Context) error {
	return <-c.tree.ServeBackground(ctx)
}

// Init eagerly builds every configured Service, surfacing a module-load
// failure immediately rather than waiting for the first Start/Pause/Stop
// call. If the build succeeds and autoreload is true, the config path is
// observed so a later edit to it triggers a reload. If the build fails and
// autoreload is true, every file attributable
// to the failure (the config path, plus any path embedded in the error) is
// registered with the change detector and Init blocks until a change is
// observed, then returns ErrReloadRequested. With autoreload false, or once
// Init has already succeeded, the underlying error (if any) is returned
// as-is (SPEC_FULL.md §4.8).
func (c *Controller) Init(ctx context.Context, autoreload bool) error {
	err := c.ensureInitialized()
	if err == nil {
		if autoreload && c.confPath != "" {
			_ = c.detector.Observe(c.confPath, "")
		}
		return nil
	}
	if !autoreload {
		return err
	}

	if c.confPath != "" {
		_ = c.detector.Observe(c.confPath, "")
	}
	for _, p := range filesFromError(err) {
		_ = c.detector.Observe(p, "")
	}

	c.logger.Warn().Err(err).Msg("initial module load failed; waiting for a file change before reloading")
	if waitErr := c.detector.WaitForChange(ctx); waitErr != nil {
		return waitErr
	}
	return ErrReloadRequested
}

// filesFromError extracts file paths embedded in a wrapped *fs.PathError,
// the only structured path carrier the standard library offers for this
// class of error (SPEC_FULL.md §4.8).
func filesFromError(err error) []string {
	var perr *fs.PathError
	if errors.As(err, &perr) {
		return []string{perr.Path}
	}
	return nil
}

// ensureInitialized builds every configured Service exactly once, caching
// either the built service map or the build error for the Controller's
// lifetime.
func (c *Controller) ensureInitialized() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return c.initErr
	}
	c.initialized = true

	names, workers, err := registry.Build(c.moduleSpecs)
	if err != nil {
		c.initErr = err
		return err
	}
	for _, name := range names {
		svc := service.New(name, workers[name])
		svc.RegisterStateChangeListener(c.onStateChange)
		c.services[name] = svc
		c.order = append(c.order, name)
	}
	return nil
}

// Start fans Start() out to every Service in insertion order.
func (c *Controller) Start() error { return c.fanOut((*service.Service).Start) }

// Pause fans Pause() out to every Service in insertion order.
func (c *Controller) Pause() error { return c.fanOut((*service.Service).Pause) }

// Stop fans Stop() out to every Service in insertion order.
func (c *Controller) Stop() error { return c.fanOut((*service.Service).Stop) }

func (c *Controller) fanOut(f func(*service.Service)) error {
	if err := c.ensureInitialized(); err != nil {
		return err
	}
	c.mu.Lock()
	order := append([]string(nil), c.order...)
	c.mu.Unlock()

	for _, name := range order {
		c.mu.Lock()
		svc := c.services[name]
		c.mu.Unlock()
		f(svc)
	}
	return nil
}

// ServiceStates returns an ordered snapshot of every Service's current
// state.
func (c *Controller) ServiceStates() []StateEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StateEntry, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, StateEntry{Name: name, State: c.services[name].State()})
	}
	return out
}

// onStateChange is registered on every Service. It logs any transition into
// StateException, then emits a state-change event carrying a snapshot of
// every Service's current state (SPEC_FULL.md §4.3, §9).
func (c *Controller) onStateChange(s *service.Service, _, newState state.State) {
	if newState == state.StateException {
		c.logger.Error().Str("service", s.Name()).Err(s.Exception()).Msg("service entered exception state")
	}
	if c.emitter != nil {
		c.emitter.EmitEvent("state-change", c.snapshotStates())
	}
}

func (c *Controller) snapshotStates() map[string]state.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]state.State, len(c.order))
	for _, name := range c.order {
		out[name] = c.services[name].State()
	}
	return out
}

// onFileChanged is the change detector's one-shot reload trigger: the first
// observed change emits a restart event upward and retires the detector's
// sweep loop (SPEC_FULL.md §4.3).
func (c *Controller) onFileChanged(path string, modules []string) {
	c.reloadOnce.Do(func() {
		c.logger.Info().Str("path", path).Strs("modules", modules).Msg("change detected; requesting reload")
		c.detector.StopServing()
		if c.emitter != nil {
			c.emitter.EmitEvent("restart", nil)
		}
	})
}
