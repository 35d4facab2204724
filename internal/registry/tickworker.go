// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

package registry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/ward/internal/logging"
	"github.com/tomtom215/ward/internal/worker"
)

func init() {
	Register("tickworker", func() (worker.Worker, error) {
		return NewTickWorker(defaultTickInterval, logging.Logger()), nil
	})
}

const defaultTickInterval = 10 * time.Second

// TickWorker is a reference module: a periodic no-op heartbeat while
// Running, used to exercise the full transition table without any real
// dependency on external resources.
type TickWorker struct {
	worker.Base

	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewTickWorker constructs a TickWorker that logs a heartbeat every
// interval while Running. A non-positive interval uses defaultTickInterval.
func NewTickWorker(interval time.Duration, logger zerolog.Logger) *TickWorker {
	if interval <= 0 {
		interval = defaultTickInterval
	}
	return &TickWorker{
		interval: interval,
		logger:   logger.With().Str("worker", "tickworker").Logger(),
	}
}

func (w *TickWorker) Prepare() error { return nil }

func (w *TickWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopCh != nil {
		return nil
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	w.stopCh, w.doneCh = stop, done
	go w.loop(stop, done)
	return nil
}

func (w *TickWorker) loop(stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			w.logger.Debug().Msg("heartbeat")
		}
	}
}

func (w *TickWorker) Pause() error { return w.halt() }
func (w *TickWorker) Stop() error  { return w.halt() }

func (w *TickWorker) halt() error {
	w.mu.Lock()
	stop, done := w.stopCh, w.doneCh
	w.stopCh, w.doneCh = nil, nil
	w.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

func (w *TickWorker) Transitions() *worker.TransitionTable {
	return worker.NewBuilder(w.Prepare, w.Start, w.Pause, w.Stop).MustBuild()
}
