// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

// Package gateway implements the cross-process RPC bridge between the
// supervisor and its re-exec'd controller child: os.Pipe framing, a
// call/reply/event protocol, and the re-exec-self-as-child pattern that
// stands in for fork() (SPEC_FULL.md §4.4).
package gateway

import (
	"encoding/binary"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
)

// ChildEnvVar marks a re-exec'd process as the controller child rather than
// a fresh top-level invocation.
const ChildEnvVar = "CARTOSUP_CHILD"

// stopMethod is the reserved call name that ends the child's serve loop.
const stopMethod = "__stop"

type frameKind uint8

const (
	frameKindCall frameKind = iota
	frameKindReply
	frameKindEvent
)

// frameHeaderSize is one kind byte plus a uint32 big-endian payload length.
const frameHeaderSize = 5

// maxFrameSize guards against a corrupted length prefix desynchronizing the
// reader into an unbounded allocation.
const maxFrameSize = 64 << 20

type callFrame struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

type replyFrame struct {
	ID     uint64          `json:"id"`
	OK     bool            `json:"ok"`
	Value  json.RawMessage `json:"value,omitempty"`
	ErrMsg string          `json:"err,omitempty"`
}

type eventFrame struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// writeFrame writes one length-prefixed frame. Each message is prefixed with
// its own length so partial writes/reads never desynchronize framing
// (SPEC_FULL.md §5).
func writeFrame(w io.Writer, kind frameKind, payload []byte) error {
	var hdr [frameHeaderSize]byte
	hdr[0] = byte(kind)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("gateway: write frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("gateway: write frame payload: %w", err)
	}
	return nil
}

// readFrame blocks until one full frame is available.
func readFrame(r io.Reader) (frameKind, []byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > maxFrameSize {
		return 0, nil, fmt.Errorf("gateway: frame size %d exceeds limit", n)
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return frameKind(hdr[0]), payload, nil
}
