// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

package controller

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/ward/internal/registry"
	"github.com/tomtom215/ward/internal/state"
	"github.com/tomtom215/ward/internal/worker"
)

type instantWorker struct {
	worker.Base
}

func (*instantWorker) Prepare() error { return nil }
func (*instantWorker) Start() error   { return nil }
func (*instantWorker) Pause() error   { return nil }
func (*instantWorker) Stop() error    { return nil }
func (*instantWorker) Transitions() *worker.TransitionTable {
	w := &instantWorker{}
	return worker.NewBuilder(w.Prepare, w.Start, w.Pause, w.Stop).MustBuild()
}

func init() {
	registry.Register("controller-test-instant", func() (worker.Worker, error) {
		return &instantWorker{}, nil
	})
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
	args   []any
}

func (e *recordingEmitter) EmitEvent(name string, args any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, name)
	e.args = append(e.args, args)
}

func (e *recordingEmitter) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev == name {
			n++
		}
	}
	return n
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestStartFansOutAndReachesRunning(t *testing.T) {
	emitter := &recordingEmitter{}
	c, err := New(zerolog.Nop(), emitter, Config{
		ModuleSpecs: []string{"controller-test-instant"},
		Gatherer:    20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitUntil(t, func() bool {
		states := c.ServiceStates()
		return len(states) == 1 && states[0].State == state.StateRunning
	})
}

func TestServiceStatesOrdering(t *testing.T) {
	registry.Register("controller-test-a", func() (worker.Worker, error) { return &instantWorker{}, nil })
	registry.Register("controller-test-b", func() (worker.Worker, error) { return &instantWorker{}, nil })

	c, err := New(zerolog.Nop(), nil, Config{ModuleSpecs: []string{"controller-test-a", "controller-test-b"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	states := c.ServiceStates()
	if len(states) != 2 || states[0].Name != "controller-test-a" || states[1].Name != "controller-test-b" {
		t.Fatalf("unexpected ordering: %+v", states)
	}
}

func TestUnknownModuleSurfacesOnFirstCall(t *testing.T) {
	c, err := New(zerolog.Nop(), nil, Config{ModuleSpecs: []string{"controller-test-does-not-exist"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(); err == nil {
		t.Fatal("expected Start to surface the module build error")
	}
	// Second call returns the cached error without panicking.
	if err := c.Pause(); err == nil {
		t.Fatal("expected cached error on second call")
	}
}

func TestInitRecoveryBlocksUntilConfigChanges(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "ward.yaml")
	if err := os.WriteFile(confPath, []byte("modules: []\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	emitter := &recordingEmitter{}
	c, err := New(zerolog.Nop(), emitter, Config{
		ModuleSpecs: []string{"controller-test-does-not-exist"},
		ConfPath:    confPath,
		Gatherer:    20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Serve(ctx) }()

	initDone := make(chan error, 1)
	go func() {
		initDone <- c.Init(context.Background(), true)
	}()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(confPath, []byte("modules: []\n# touched\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case err := <-initDone:
		if err != ErrReloadRequested {
			t.Fatalf("Init returned %v, want ErrReloadRequested", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Init did not unblock after config change")
	}
}

func TestReloadTriggerEmitsRestartOnce(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "watched.txt")
	if err := os.WriteFile(watched, []byte("a"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	emitter := &recordingEmitter{}
	c, err := New(zerolog.Nop(), emitter, Config{Gatherer: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.detector.Observe(watched, ""); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Serve(ctx) }()

	if err := os.WriteFile(watched, []byte("b"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(watched, []byte("c"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	waitUntil(t, func() bool { return emitter.count("restart") >= 1 })
	time.Sleep(50 * time.Millisecond)
	if n := emitter.count("restart"); n != 1 {
		t.Fatalf("restart emitted %d times, want exactly 1", n)
	}
}
