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

	json "github.com/goccy/go-json"

	"github.com/tomtom215/ward/internal/controller"
)

// ReloadExitCode is the status the child process exits with when the
// initial module load failed, autoreload is enabled, and a subsequent file
// change was observed (SPEC_FULL.md §4.8, §6): the parent distinguishes
// this from any other pipe break via Gateway.ExitCode.
const ReloadExitCode = 200

// EmitterFunc adapts a plain func to controller.EventEmitter, letting the
// caller wire childConn.EmitEvent straight into controller.New without this
// package importing internal/controller's concrete emitter type.
type EmitterFunc func(name string, args any)

// EmitEvent implements controller.EventEmitter.
func (f EmitterFunc) EmitEvent(name string, args any) { f(name, args) }

// ControllerHandler adapts a *controller.Controller to ChildHandler: three
// bare verbs, one attribute read, and an init call used only once at child
// startup (SPEC_FULL.md §4.4, §4.8). The caller is responsible for having
// constructed C with an EmitterFunc wrapping the same connection's
// EmitEvent, inside the newHandler callback passed to RunChild.
type ControllerHandler struct {
	C          *controller.Controller
	Autoreload bool
}

type getAttributeArgs struct {
	Name string `json:"name"`
}

type initArgs struct {
	Autoreload bool `json:"autoreload"`
}

// HandleCall implements ChildHandler.
func (h *ControllerHandler) HandleCall(ctx context.Context, method string, args json.RawMessage) (any, error) {
	switch method {
	case "start":
		return nil, h.C.Start()
	case "pause":
		return nil, h.C.Pause()
	case "stop":
		return nil, h.C.Stop()
	case "init":
		var a initArgs
		if len(args) > 0 {
			if err := json.Unmarshal(args, &a); err != nil {
				return nil, fmt.Errorf("gateway: decode init args: %w", err)
			}
		}
		err := h.C.Init(ctx, a.Autoreload)
		if errors.Is(err, controller.ErrReloadRequested) {
			// The child never replies on this path: it exits immediately so
			// the parent observes a closed pipe plus this exit code, rather
			// than a normal reply frame, per SPEC_FULL.md §4.8.
			os.Exit(ReloadExitCode)
		}
		return nil, err
	case "get_attribute":
		var a getAttributeArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("gateway: decode get_attribute args: %w", err)
		}
		return h.getAttribute(a.Name)
	default:
		return nil, fmt.Errorf("gateway: unknown method %q", method)
	}
}

func (h *ControllerHandler) getAttribute(name string) (any, error) {
	switch name {
	case "service_states":
		return h.C.ServiceStates(), nil
	default:
		return nil, fmt.Errorf("gateway: unknown attribute %q", name)
	}
}
