// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

// Package serverinstance implements the per-fork supervisor loop: one
// ServerInstance owns one re-exec'd controller child for a single reload
// generation (SPEC_FULL.md §4.5). It talks to the child exclusively through
// the gateway's RPC surface, mirroring the real two-process boundary: this
// package never imports internal/controller.
package serverinstance

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/ward/internal/gateway"
	"github.com/tomtom215/ward/internal/metrics"
	"github.com/tomtom215/ward/internal/state"
)

// Config configures one ServerInstance's controller child.
type Config struct {
	Autoreload  bool
	ConfPath    string
	ModuleSpecs []string
}

// Result is returned once RunUntilStopped's loop exits.
type Result struct {
	// Reload is true if the outer Server should construct another instance.
	Reload bool
	Err    error
}

type stateEntry struct {
	Name  string      `json:"name"`
	State state.State `json:"state"`
}

func allTerminal(entries []stateEntry) bool {
	for _, e := range entries {
		if e.State != state.StateStopped && e.State != state.StateException {
			return false
		}
	}
	return true
}

type gatewayEvent struct {
	name string
	args json.RawMessage
}

// commandReq carries an external control verb (from internal/monitor) into
// RunUntilStopped's select loop, the only goroutine allowed to touch the
// gateway or the stop sequence.
type commandReq struct {
	verb string
	err  chan error
}

// StateListener is invoked with the latest aggregate state snapshot whenever
// a state-change event arrives from the controller (SPEC_FULL.md §12: the
// monitor uses this to push a JSON snapshot to every connected client).
type StateListener func(map[string]state.State)

// ServerInstance owns a single re-exec'd controller child (SPEC_FULL.md
// §4.5). The zero value is not usable; construct with New.
type ServerInstance struct {
	cfg    Config
	logger zerolog.Logger
	gw     *gateway.Gateway
	events chan gatewayEvent
	cmds   chan commandReq

	mu        sync.Mutex
	states    map[string]state.State
	reload    bool
	listeners []StateListener
}

// AddStateListener registers l to be called, on whichever goroutine applies
// the state-change event, with a snapshot of every service's current state.
// Listeners must be cheap and non-blocking, mirroring the Service contract's
// own listener rule.
func (si *ServerInstance) AddStateListener(l StateListener) {
	si.mu.Lock()
	si.listeners = append(si.listeners, l)
	si.mu.Unlock()
}

// New re-execs a controller child via the gateway and wires its event
// stream. Nothing else is started before the caller invokes RunUntilStopped.
func New(logger zerolog.Logger, cfg Config) (*ServerInstance, error) {
	si := &ServerInstance{
		cfg:    cfg,
		logger: logger.With().Str("component", "serverinstance").Logger(),
		events: make(chan gatewayEvent, 32),
		cmds:   make(chan commandReq, 1),
		states: make(map[string]state.State),
	}
	gw, err := gateway.Spawn(context.Background(), logger, func(name string, args json.RawMessage) {
		si.events <- gatewayEvent{name: name, args: args}
	})
	if err != nil {
		return nil, err
	}
	si.gw = gw
	return si, nil
}

// States returns a snapshot of the last aggregate state-change event
// received from the controller.
func (si *ServerInstance) States() map[string]state.State {
	si.mu.Lock()
	defer si.mu.Unlock()
	out := make(map[string]state.State, len(si.states))
	for k, v := range si.states {
		out[k] = v
	}
	return out
}

// Command forwards an external control verb (start, pause, stop, restart)
// from internal/monitor into the run loop. restart always initiates a
// reload, regardless of Autoreload, since it is an explicit operator
// request rather than the change-detector's gated restart event. Returns an
// error if the run loop is not currently selecting on commands (e.g. the
// instance is between reload generations).
func (si *ServerInstance) Command(verb string) error {
	req := commandReq{verb: verb, err: make(chan error, 1)}
	select {
	case si.cmds <- req:
	default:
		return fmt.Errorf("serverinstance: busy, command %q dropped", verb)
	}
	return <-req.err
}

// RunUntilStopped drives the instance's single run-loop goroutine: it
// initializes the controller, issues Pause then Start, then loops on
// controller events, a SIGINT signal, and its own stop-completion channel
// until a terminal condition is reached (SPEC_FULL.md §4.5).
func (si *ServerInstance) RunUntilStopped() Result {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)

	if _, err := si.gw.Call("init", map[string]any{"autoreload": si.cfg.Autoreload}); err != nil {
		if code, ok := si.gw.ExitCode(); ok && code == gateway.ReloadExitCode {
			si.logger.Info().Msg("controller child exited for reload during initial load")
			return Result{Reload: true}
		}
		si.logger.Error().Err(err).Msg("controller initialization failed")
		_ = si.gw.Kill()
		return Result{Err: err}
	}
	if _, err := si.gw.Call("pause", nil); err != nil {
		si.logger.Error().Err(err).Msg("initial pause failed")
		_ = si.gw.Kill()
		return Result{Err: err}
	}
	if _, err := si.gw.Call("start", nil); err != nil {
		si.logger.Error().Err(err).Msg("initial start failed")
		_ = si.gw.Kill()
		return Result{Err: err}
	}
	si.logger.Info().Msg("controller started")

	stopping := false
	stopCh := make(chan struct{})
	var stopOnce sync.Once
	closeStop := func() { stopOnce.Do(func() { close(stopCh) }) }

	initiateStop := func() {
		if stopping {
			return
		}
		stopping = true
		go si.stopController(closeStop)
	}

	for {
		select {
		case <-sigCh:
			si.logger.Info().Msg("received SIGINT; stopping")
			si.setReload(false)
			initiateStop()

		case ev := <-si.events:
			switch ev.name {
			case "state-change":
				si.applyStateChange(ev.args)
				if stopping && si.allCurrentTerminal() {
					closeStop()
				}
			case "restart":
				if si.cfg.Autoreload {
					si.logger.Info().Msg("reload requested by change detector")
					si.setReload(true)
					initiateStop()
				}
			}

		case req := <-si.cmds:
			req.err <- si.handleCommand(req.verb, initiateStop)

		case <-stopCh:
			_ = si.gw.Kill()
			return Result{Reload: si.getReload()}
		}
	}
}

// handleCommand executes one external control verb on the run loop
// goroutine. start/pause are forwarded directly to the controller; stop
// clears any pending reload and starts the stop sequence; restart marks this
// generation for reload and starts the stop sequence.
func (si *ServerInstance) handleCommand(verb string, initiateStop func()) error {
	switch verb {
	case "start", "pause":
		_, err := si.gw.Call(verb, nil)
		return err
	case "stop":
		si.logger.Info().Msg("stop requested by monitor command")
		si.setReload(false)
		initiateStop()
		return nil
	case "restart":
		si.logger.Info().Msg("reload requested by monitor command")
		si.setReload(true)
		initiateStop()
		return nil
	default:
		return fmt.Errorf("serverinstance: unknown command %q", verb)
	}
}

// stopController implements the §4.5 stop sequence: send Stop, then settle
// on the terminal condition either from a subsequent state-change event (the
// common path, handled by the caller's select loop) or, if the controller
// has no services at all, from this one-shot attribute read.
func (si *ServerInstance) stopController(closeStop func()) {
	if _, err := si.gw.Call("stop", nil); err != nil {
		si.logger.Warn().Err(err).Msg("stop call failed; treating as terminal")
		closeStop()
		return
	}
	val, err := si.gw.Call("get_attribute", map[string]any{"name": "service_states"})
	if err != nil {
		closeStop()
		return
	}
	var entries []stateEntry
	if jsonErr := json.Unmarshal(val, &entries); jsonErr == nil && allTerminal(entries) {
		closeStop()
	}
}

func (si *ServerInstance) applyStateChange(args json.RawMessage) {
	var snapshot map[string]state.State
	if err := json.Unmarshal(args, &snapshot); err != nil {
		si.logger.Warn().Err(err).Msg("malformed state-change event")
		return
	}
	si.mu.Lock()
	previous := si.states
	si.states = snapshot
	listeners := append([]StateListener(nil), si.listeners...)
	si.mu.Unlock()

	for name, next := range snapshot {
		prev, ok := previous[name]
		if !ok {
			prev = state.StateStopped
		}
		if !ok || prev != next {
			metrics.ObserveStateChange(name, prev, next)
		}
	}

	if len(listeners) == 0 {
		return
	}
	out := make(map[string]state.State, len(snapshot))
	for k, v := range snapshot {
		out[k] = v
	}
	for _, l := range listeners {
		l(out)
	}
}

func (si *ServerInstance) allCurrentTerminal() bool {
	si.mu.Lock()
	defer si.mu.Unlock()
	for _, s := range si.states {
		if s != state.StateStopped && s != state.StateException {
			return false
		}
	}
	return true
}

func (si *ServerInstance) setReload(v bool) {
	si.mu.Lock()
	si.reload = v
	si.mu.Unlock()
}

func (si *ServerInstance) getReload() bool {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.reload
}
