// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

package gateway

import (
	"context"
	"os"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// echoHandler is a ChildHandler test double exercising HandleCall and event
// emission without a real controller.
type echoHandler struct {
	emit func(string, any)
}

func (h *echoHandler) HandleCall(_ context.Context, method string, args json.RawMessage) (any, error) {
	switch method {
	case "echo":
		var v map[string]any
		if len(args) > 0 {
			_ = json.Unmarshal(args, &v)
		}
		return v, nil
	case "emit-test-event":
		h.emit("test-event", map[string]string{"hello": "world"})
		return nil, nil
	case "fail":
		return nil, errTestFailure
	default:
		return nil, errTestUnknown
	}
}

var (
	errTestFailure = testError("boom")
	errTestUnknown = testError("unknown method")
)

type testError string

func (e testError) Error() string { return string(e) }

// newLoopbackGateway wires a Gateway directly to a childConn over two
// os.Pipe pairs, bypassing Spawn's exec.Cmd so the protocol can be tested
// in-process.
func newLoopbackGateway(t *testing.T, onEvent EventFunc) (*Gateway, chan error) {
	t.Helper()

	parentToChildR, parentToChildW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	childToParentR, childToParentW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}

	g := &Gateway{
		toChild:   parentToChildW,
		fromChild: childToParentR,
		onEvent:   onEvent,
		logger:    zerolog.Nop(),
		pending:   make(map[uint64]chan replyFrame),
	}
	go g.readLoop()

	c := &childConn{r: parentToChildR, w: childToParentW, logger: zerolog.Nop()}
	c.handler = &echoHandler{emit: c.EmitEvent}

	serveErr := make(chan error, 1)
	go func() { serveErr <- c.serve(context.Background()) }()

	t.Cleanup(func() {
		_ = parentToChildW.Close()
		_ = childToParentR.Close()
	})

	return g, serveErr
}

func TestCallRoundTrip(t *testing.T) {
	g, _ := newLoopbackGateway(t, nil)

	val, err := g.Call("echo", map[string]any{"x": float64(1)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(val, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["x"] != float64(1) {
		t.Errorf("got %v, want x=1", got)
	}
}

func TestCallPropagatesHandlerError(t *testing.T) {
	g, _ := newLoopbackGateway(t, nil)

	if _, err := g.Call("fail", nil); err == nil {
		t.Fatal("expected error from failing handler")
	}
}

func TestCallUnknownMethod(t *testing.T) {
	g, _ := newLoopbackGateway(t, nil)

	if _, err := g.Call("does-not-exist", nil); err == nil {
		t.Fatal("expected error for unknown method")
	}
}

func TestEventDeliveredToOnEvent(t *testing.T) {
	received := make(chan string, 1)
	g, _ := newLoopbackGateway(t, func(name string, args json.RawMessage) {
		received <- name
	})

	if _, err := g.Call("emit-test-event", nil); err != nil {
		t.Fatalf("Call: %v", err)
	}

	select {
	case name := <-received:
		if name != "test-event" {
			t.Errorf("got event %q, want test-event", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestKillStopsChildLoop(t *testing.T) {
	g, serveErr := newLoopbackGateway(t, nil)

	done := make(chan error, 1)
	go func() { done <- g.Kill() }()

	select {
	case err := <-serveErr:
		if err != nil {
			t.Errorf("child serve returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("child loop did not stop")
	}

	<-done
}

func TestConcurrentCallsGetDistinctReplies(t *testing.T) {
	g, _ := newLoopbackGateway(t, nil)

	const n = 20
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			val, err := g.Call("echo", map[string]any{"i": float64(i)})
			if err != nil {
				results <- err
				return
			}
			var got map[string]any
			if err := json.Unmarshal(val, &got); err != nil {
				results <- err
				return
			}
			if got["i"] != float64(i) {
				results <- testError("mismatched echo value")
				return
			}
			results <- nil
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-results; err != nil {
			t.Errorf("concurrent call failed: %v", err)
		}
	}
}
