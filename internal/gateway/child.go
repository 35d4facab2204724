// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/ward/internal/logging"
)

// Inherited file descriptors: ExtraFiles[0] lands at fd 3, ExtraFiles[1] at
// fd 4 (fds 0-2 are stdin/stdout/stderr).
const (
	childCallFD  = 3
	childReplyFD = 4
)

// IsChild reports whether this process was re-exec'd as a controller child.
func IsChild() bool {
	return os.Getenv(ChildEnvVar) != ""
}

// ChildHandler dispatches one call frame to a concrete controller and
// returns a JSON-marshalable value.
type ChildHandler interface {
	HandleCall(ctx context.Context, method string, args json.RawMessage) (any, error)
}

// childConn is the child-side half of the protocol: it reads call frames
// off the inherited pipe, dispatches them to a ChildHandler, and writes
// reply/event frames back. Its EmitEvent method has the same shape as
// controller.EventEmitter, so it can be passed to controller.New directly
// without this package importing internal/controller.
type childConn struct {
	r *os.File
	w *os.File

	mu      sync.Mutex // serializes writes to w
	logger  zerolog.Logger
	handler ChildHandler
}

// RunChild is the re-exec'd process's entry point. It ignores SIGINT — the
// child's shutdown is driven entirely by the parent over the pipe
// (SPEC_FULL.md §5) — reopens the inherited pipe fds, and serves calls
// against the handler newHandler builds (it is given the connection's
// EmitEvent method to wire as the handler's event sink) until the parent
// sends the stop call or the pipe breaks.
func RunChild(ctx context.Context, logger zerolog.Logger, newHandler func(emit func(name string, args any)) ChildHandler) error {
	signal.Ignore(syscall.SIGINT)

	callR := os.NewFile(childCallFD, "gateway-call-r")
	replyW := os.NewFile(childReplyFD, "gateway-reply-w")
	if callR == nil || replyW == nil {
		return fmt.Errorf("gateway: inherited pipe fds not present")
	}

	c := &childConn{r: callR, w: replyW, logger: logger.With().Str("component", "gateway-child").Logger()}
	c.handler = newHandler(c.EmitEvent)
	return c.serve(ctx)
}

// EmitEvent marshals args and writes an event frame to the parent.
func (c *childConn) EmitEvent(name string, args any) {
	b, err := json.Marshal(args)
	if err != nil {
		c.logger.Warn().Err(err).Str("event", name).Msg("failed to marshal event args")
		return
	}
	payload, err := json.Marshal(eventFrame{Name: name, Args: b})
	if err != nil {
		c.logger.Warn().Err(err).Str("event", name).Msg("failed to marshal event frame")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := writeFrame(c.w, frameKindEvent, payload); err != nil {
		c.logger.Warn().Err(err).Str("event", name).Msg("failed to write event frame")
	}
}

func (c *childConn) serve(ctx context.Context) error {
	for {
		kind, payload, err := readFrame(c.r)
		if err != nil {
			return err
		}
		if kind != frameKindCall {
			continue
		}
		var call callFrame
		if jsonErr := json.Unmarshal(payload, &call); jsonErr != nil {
			c.logger.Warn().Err(jsonErr).Msg("malformed call frame")
			continue
		}
		if call.Method == stopMethod {
			c.reply(call.ID, true, nil, "")
			return nil
		}
		go c.handleCall(ctx, call)
	}
}

func (c *childConn) handleCall(ctx context.Context, call callFrame) {
	ctx = logging.ContextWithCorrelationID(ctx, strconv.FormatUint(call.ID, 10))
	logging.Ctx(ctx).Debug().Str("method", call.Method).Msg("handling call")

	val, err := c.handler.HandleCall(ctx, call.Method, call.Args)
	if err != nil {
		c.reply(call.ID, false, nil, err.Error())
		return
	}
	b, err := json.Marshal(val)
	if err != nil {
		c.reply(call.ID, false, nil, err.Error())
		return
	}
	c.reply(call.ID, true, b, "")
}

func (c *childConn) reply(id uint64, ok bool, value json.RawMessage, errMsg string) {
	payload, err := json.Marshal(replyFrame{ID: id, OK: ok, Value: value, ErrMsg: errMsg})
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to marshal reply frame")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := writeFrame(c.w, frameKindReply, payload); err != nil {
		c.logger.Warn().Err(err).Msg("failed to write reply frame")
	}
}
