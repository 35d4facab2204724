// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

// Package monitor implements the optional TCP control/status listener
// (SPEC_FULL.md §12). It persists across reload generations: internal/server
// constructs one Monitor for the process lifetime and re-attaches it to each
// new ServerInstance as reloads happen. A newly accepted connection is sent
// the attached instance's current state snapshot immediately, so a client
// connecting to an already-quiescent supervisor doesn't have to wait for the
// next transition to learn anything.
package monitor

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/ward/internal/serverinstance"
	"github.com/tomtom215/ward/internal/state"
)

const (
	reloadingMessage    = `"reloading"`
	shuttingDownMessage = `"shutting down"`
)

// commander is the subset of *serverinstance.ServerInstance the monitor
// needs; satisfied by the real type, substitutable in tests.
type commander interface {
	Command(verb string) error
	States() map[string]state.State
}

// Monitor accepts TCP connections on a configured address, reads
// newline-terminated control verbs from each, and pushes newline-terminated
// JSON state snapshots to every connected client on every aggregate
// state-change event.
type Monitor struct {
	logger zerolog.Logger
	ln     net.Listener

	mu      sync.Mutex
	current commander
	conns   map[*conn]struct{}
}

// New builds a Monitor. Listen must be called before Serve.
func New(logger zerolog.Logger) *Monitor {
	return &Monitor{
		logger: logger.With().Str("component", "monitor").Logger(),
		conns:  make(map[*conn]struct{}),
	}
}

// Listen opens the TCP listener on addr. Call once, before Serve.
func (m *Monitor) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("monitor: listen %s: %w", addr, err)
	}
	m.ln = ln
	return nil
}

// Serve implements suture.Service: it accepts connections until ctx is
// canceled, at which point the listener (and every open connection) is
// closed.
func (m *Monitor) Serve(ctx context.Context) error {
	if m.ln == nil {
		return fmt.Errorf("monitor: Serve called before Listen")
	}
	go func() {
		<-ctx.Done()
		_ = m.ln.Close()
		m.mu.Lock()
		for c := range m.conns {
			_ = c.nc.Close()
		}
		m.mu.Unlock()
	}()

	for {
		nc, err := m.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return fmt.Errorf("monitor: accept: %w", err)
			}
		}
		go m.handleConn(nc)
	}
}

// String implements fmt.Stringer for suture's log output.
func (m *Monitor) String() string { return "monitor" }

// AttachInstance points the monitor at a new reload generation's
// ServerInstance, registering a state listener that broadcasts snapshots to
// every connected client (SPEC_FULL.md §4.6, §12).
func (m *Monitor) AttachInstance(si *serverinstance.ServerInstance) {
	m.mu.Lock()
	m.current = si
	m.mu.Unlock()
	si.AddStateListener(m.broadcastSnapshot)
}

// AnnounceReloading broadcasts the literal "reloading" string, sent when the
// current instance ends because a reload was requested.
func (m *Monitor) AnnounceReloading() { m.broadcast([]byte(reloadingMessage)) }

// AnnounceShuttingDown broadcasts the literal "shutting down" string, sent
// when the current instance ends for good (no further reload).
func (m *Monitor) AnnounceShuttingDown() { m.broadcast([]byte(shuttingDownMessage)) }

func (m *Monitor) broadcastSnapshot(states map[string]state.State) {
	b, err := json.Marshal(states)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to marshal state snapshot")
		return
	}
	m.broadcast(b)
}

func (m *Monitor) broadcast(payload []byte) {
	m.mu.Lock()
	conns := make([]*conn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()
	for _, c := range conns {
		c.write(payload)
	}
}

func (m *Monitor) handleConn(nc net.Conn) {
	c := &conn{nc: nc}
	m.mu.Lock()
	m.conns[c] = struct{}{}
	cur := m.current
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.conns, c)
		m.mu.Unlock()
		_ = nc.Close()
	}()

	// A client that connects to an already-running, quiescent instance would
	// otherwise see nothing until the next state transition, which may never
	// come before it disconnects; send it the current snapshot immediately,
	// mirroring set_instance's eager send in the original supervisor.
	if cur != nil {
		if b, err := json.Marshal(cur.States()); err != nil {
			m.logger.Warn().Err(err).Msg("failed to marshal state snapshot")
		} else {
			c.write(b)
		}
	}

	scanner := bufio.NewScanner(nc)
	for scanner.Scan() {
		verb := strings.TrimSpace(scanner.Text())
		if verb == "" {
			continue
		}
		m.dispatch(verb)
	}
}

func (m *Monitor) dispatch(verb string) {
	switch verb {
	case "start", "pause", "stop", "restart":
		m.mu.Lock()
		cur := m.current
		m.mu.Unlock()
		if cur == nil {
			m.logger.Warn().Str("verb", verb).Msg("monitor command received with no attached instance")
			return
		}
		if err := cur.Command(verb); err != nil {
			m.logger.Warn().Err(err).Str("verb", verb).Msg("monitor command failed")
		}
	default:
		m.logger.Warn().Str("verb", verb).Msg("unrecognized monitor command")
	}
}

// conn is one accepted connection; its mutex serializes writes, since a
// broadcast and handleConn's initial snapshot can write to the same conn
// concurrently.
type conn struct {
	nc net.Conn
	mu sync.Mutex
}

func (c *conn) write(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.nc.Write(append(payload, '\n'))
}
