// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

package registry

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/ward/internal/logging"
	"github.com/tomtom215/ward/internal/worker"
)

func init() {
	Register("netlistener", func() (worker.Worker, error) {
		return NewNetListenerWorker(defaultNetListenerAddr, logging.Logger()), nil
	})
}

const defaultNetListenerAddr = "127.0.0.1:0"

// deadlineListener is satisfied by *net.TCPListener; used to unblock a
// pending Accept without closing the listener outright.
type deadlineListener interface {
	SetDeadline(t time.Time) error
}

// NetListenerWorker is a reference module: it owns a net.Listener opened in
// Prepare and closed in Stop, demonstrating a worker with a real OS handle
// and a Cleanup contract that must release it on any exceptional exit.
type NetListenerWorker struct {
	worker.Base

	addr   string
	logger zerolog.Logger

	mu         sync.Mutex
	listener   net.Listener
	acceptStop chan struct{}
	acceptDone chan struct{}
}

// NewNetListenerWorker constructs a NetListenerWorker bound to addr. An
// empty addr uses defaultNetListenerAddr.
func NewNetListenerWorker(addr string, logger zerolog.Logger) *NetListenerWorker {
	if addr == "" {
		addr = defaultNetListenerAddr
	}
	return &NetListenerWorker{
		addr:   addr,
		logger: logger.With().Str("worker", "netlistener").Logger(),
	}
}

func (w *NetListenerWorker) Prepare() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("netlistener: listen %s: %w", w.addr, err)
	}
	w.listener = l
	return nil
}

func (w *NetListenerWorker) Start() error {
	w.mu.Lock()
	l := w.listener
	if l == nil {
		w.mu.Unlock()
		return errors.New("netlistener: start called before prepare")
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	w.acceptStop, w.acceptDone = stop, done
	w.mu.Unlock()

	// Clear the deadline a previous Pause set to unblock Accept.
	if dl, ok := l.(deadlineListener); ok {
		_ = dl.SetDeadline(time.Time{})
	}
	go w.acceptLoop(l, stop, done)
	return nil
}

// acceptLoop accepts and immediately closes connections; this reference
// worker only needs to demonstrate ownership of a live listener, not any
// particular protocol.
func (w *NetListenerWorker) acceptLoop(l net.Listener, stop, done chan struct{}) {
	defer close(done)
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-stop:
				return
			default:
				w.logger.Debug().Err(err).Msg("accept loop exiting")
				return
			}
		}
		go func() { _ = conn.Close() }()
	}
}

// Pause stops accepting new connections without releasing the listener, so
// Start can resume accepting without re-binding the address.
func (w *NetListenerWorker) Pause() error {
	w.mu.Lock()
	stop, done, l := w.acceptStop, w.acceptDone, w.listener
	w.acceptStop, w.acceptDone = nil, nil
	w.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	if dl, ok := l.(deadlineListener); ok {
		_ = dl.SetDeadline(time.Now())
	}
	<-done
	return nil
}

// Stop releases the listener. Per the transition table this only ever runs
// from Paused, by which point the accept loop has already been halted.
func (w *NetListenerWorker) Stop() error {
	w.mu.Lock()
	l := w.listener
	w.listener = nil
	w.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Close()
}

// Cleanup defensively releases the listener and accept loop on an
// exceptional exit from any state.
func (w *NetListenerWorker) Cleanup(error) {
	w.mu.Lock()
	stop, l := w.acceptStop, w.listener
	w.acceptStop, w.acceptDone, w.listener = nil, nil, nil
	w.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	if l != nil {
		_ = l.Close()
	}
}

func (w *NetListenerWorker) Transitions() *worker.TransitionTable {
	return worker.NewBuilder(w.Prepare, w.Start, w.Pause, w.Stop).MustBuild()
}
