// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/ward/internal/logging"
	"github.com/tomtom215/ward/internal/metrics"
)

// ErrClosed is returned by Call once the gateway's pipe has broken or Kill
// has been invoked.
var ErrClosed = errors.New("gateway: closed")

// EventFunc receives an event frame from the child (state-change, restart).
type EventFunc func(name string, args json.RawMessage)

// Gateway is the parent-side handle to a re-exec'd controller child
// (SPEC_FULL.md §4.4). No goroutines are started before Spawn's exec.Cmd.Start
// call, satisfying the precondition that nothing needs to survive the
// re-exec into the fresh child process image.
type Gateway struct {
	cmd       *exec.Cmd
	toChild   *os.File
	fromChild *os.File
	onEvent   EventFunc
	logger    zerolog.Logger

	nextID uint64

	waitOnce sync.Once

	mu       sync.Mutex
	pending  map[uint64]chan replyFrame
	closed   bool
	exited   bool
	exitCode int
	waitErr  error
}

// wait reaps the child process exactly once, recording its exit code so
// ExitCode can later distinguish a clean reload exit from any other pipe
// break (SPEC_FULL.md §4.8).
func (g *Gateway) wait() {
	g.waitOnce.Do(func() {
		var code int
		var err error
		if g.cmd != nil {
			err = g.cmd.Wait()
			if g.cmd.ProcessState != nil {
				code = g.cmd.ProcessState.ExitCode()
			}
		}
		g.mu.Lock()
		g.exited = true
		g.exitCode = code
		g.waitErr = err
		g.mu.Unlock()
	})
}

// ExitCode returns the child's exit code and true once the process has been
// reaped; ok is false while the child is still running.
func (g *Gateway) ExitCode() (code int, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exitCode, g.exited
}

// Spawn re-execs the current binary (os.Args[0]) with ChildEnvVar set and
// two os.Pipe pairs passed via cmd.ExtraFiles, returning a Gateway handle to
// the new process. onEvent is invoked on a private goroutine for every event
// frame the child sends; it must not block.
func Spawn(ctx context.Context, logger zerolog.Logger, onEvent EventFunc) (*Gateway, error) {
	parentToChildR, parentToChildW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("gateway: create call pipe: %w", err)
	}
	childToParentR, childToParentW, err := os.Pipe()
	if err != nil {
		_ = parentToChildR.Close()
		_ = parentToChildW.Close()
		return nil, fmt.Errorf("gateway: create reply pipe: %w", err)
	}

	cmd := exec.CommandContext(ctx, os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(), ChildEnvVar+"=1")
	cmd.ExtraFiles = []*os.File{parentToChildR, childToParentW}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		_ = parentToChildR.Close()
		_ = parentToChildW.Close()
		_ = childToParentR.Close()
		_ = childToParentW.Close()
		return nil, fmt.Errorf("gateway: start child: %w", err)
	}

	// The child has its own copies of these two ends by inheritance; the
	// parent must close them here or the pipe never sees EOF on child exit.
	_ = parentToChildR.Close()
	_ = childToParentW.Close()

	g := &Gateway{
		cmd:       cmd,
		toChild:   parentToChildW,
		fromChild: childToParentR,
		onEvent:   onEvent,
		logger:    logger.With().Str("component", "gateway").Logger(),
		pending:   make(map[uint64]chan replyFrame),
	}
	go g.readLoop()
	runtime.SetFinalizer(g, (*Gateway).finalize)
	return g, nil
}

func (g *Gateway) readLoop() {
	for {
		kind, payload, err := readFrame(g.fromChild)
		if err != nil {
			g.logger.Warn().Err(err).Msg("gateway pipe closed")
			g.wait()
			g.failAllPending(err)
			return
		}
		switch kind {
		case frameKindReply:
			var rep replyFrame
			if jsonErr := json.Unmarshal(payload, &rep); jsonErr != nil {
				g.logger.Warn().Err(jsonErr).Msg("malformed reply frame")
				continue
			}
			g.deliverReply(rep)
		case frameKindEvent:
			var ev eventFrame
			if jsonErr := json.Unmarshal(payload, &ev); jsonErr != nil {
				g.logger.Warn().Err(jsonErr).Msg("malformed event frame")
				continue
			}
			if g.onEvent != nil {
				g.onEvent(ev.Name, ev.Args)
			}
		default:
			g.logger.Warn().Int("kind", int(kind)).Msg("unexpected frame kind from child")
		}
	}
}

func (g *Gateway) deliverReply(rep replyFrame) {
	g.mu.Lock()
	ch, ok := g.pending[rep.ID]
	if ok {
		delete(g.pending, rep.ID)
	}
	g.mu.Unlock()
	if ok {
		ch <- rep
	}
}

func (g *Gateway) failAllPending(err error) {
	g.mu.Lock()
	pending := g.pending
	g.pending = make(map[uint64]chan replyFrame)
	g.closed = true
	g.mu.Unlock()
	for _, ch := range pending {
		ch <- replyFrame{OK: false, ErrMsg: err.Error()}
	}
}

// Call invokes method on the child's controller and returns its JSON-decoded
// value. method "get_attribute" reads an attribute named by args; any other
// name invokes that method on the controller (SPEC_FULL.md §4.4). There is
// no context-based cancellation: Call blocks until a reply arrives or the
// pipe breaks, matching the documented "cancellation is a no-op" limitation
// (§9).
func (g *Gateway) Call(method string, args any) (json.RawMessage, error) {
	argBytes, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal args: %w", err)
	}

	id := atomic.AddUint64(&g.nextID, 1)
	ch := make(chan replyFrame, 1)

	// The frame ID doubles as the call's correlation ID: it already crosses
	// the pipe in both the call and reply frames, so the child's handler can
	// log under the same ID without any extra wire field.
	ctx := logging.ContextWithCorrelationID(context.Background(), strconv.FormatUint(id, 10))
	logging.Ctx(ctx).Debug().Str("method", method).Msg("gateway call")

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrClosed
	}
	g.pending[id] = ch
	g.mu.Unlock()

	payload, err := json.Marshal(callFrame{ID: id, Method: method, Args: argBytes})
	if err != nil {
		g.mu.Lock()
		delete(g.pending, id)
		g.mu.Unlock()
		return nil, fmt.Errorf("gateway: marshal call: %w", err)
	}
	if err := writeFrame(g.toChild, frameKindCall, payload); err != nil {
		g.mu.Lock()
		delete(g.pending, id)
		g.mu.Unlock()
		return nil, err
	}

	rep := <-ch
	metrics.ObserveGatewayCall(method, rep.OK)
	if !rep.OK {
		logging.Ctx(ctx).Debug().Str("method", method).Str("err", rep.ErrMsg).Msg("gateway call failed")
		return nil, errors.New(rep.ErrMsg)
	}
	logging.Ctx(ctx).Debug().Str("method", method).Msg("gateway call ok")
	return rep.Value, nil
}

// Kill asks the child to stop its event loop, waits for process exit, and
// releases the pipes.
func (g *Gateway) Kill() error {
	_, callErr := g.Call(stopMethod, nil)
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	_ = g.toChild.Close()
	g.wait()
	_ = g.fromChild.Close()
	runtime.SetFinalizer(g, nil)
	if callErr != nil && !errors.Is(callErr, ErrClosed) {
		return callErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waitErr
}

// finalize is the garbage-collector backstop: if a Gateway is collected
// without Kill having been called, send SIGTERM so the child is never
// orphaned (mirrors the teacher's graceful-shutdown-with-backstop pattern).
func (g *Gateway) finalize() {
	if g.cmd == nil || g.cmd.Process == nil {
		return
	}
	if g.cmd.ProcessState != nil {
		return
	}
	_ = g.cmd.Process.Signal(syscall.SIGTERM)
}
