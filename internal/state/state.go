// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

// Package state defines the eight-value lifecycle enum shared by every
// Service, the canonical verb-to-edge mapping, and the transition table
// builder workers use to declare additional edges.
package state

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// State is one of the eight values a Service may occupy. Zero value is
// StateStopped, the state every Service starts in.
type State int

const (
	StateStopped State = iota
	StatePreparing
	StatePaused
	StateStarting
	StateRunning
	StatePausing
	StateStopping
	StateException
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePreparing:
		return "preparing"
	case StatePaused:
		return "paused"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePausing:
		return "pausing"
	case StateStopping:
		return "stopping"
	case StateException:
		return "exception"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalJSON renders a State as its lower-case name, matching the monitor's
// JSON state snapshots (SPEC_FULL.md §12).
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses the lower-case name MarshalJSON produces, so a State
// round-trips across the gateway's JSON-framed call/reply/event protocol.
func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "stopped":
		*s = StateStopped
	case "preparing":
		*s = StatePreparing
	case "paused":
		*s = StatePaused
	case "starting":
		*s = StateStarting
	case "running":
		*s = StateRunning
	case "pausing":
		*s = StatePausing
	case "stopping":
		*s = StateStopping
	case "exception":
		*s = StateException
	default:
		return fmt.Errorf("state: unknown state name %q", name)
	}
	return nil
}

// Verb names the canonical transition methods a Worker implements.
type Verb string

const (
	VerbPrepare Verb = "prepare"
	VerbStart   Verb = "start"
	VerbPause   Verb = "pause"
	VerbStop    Verb = "stop"
)

// Edge is a (from, to) pair a transition table maps to a Verb.
type Edge struct {
	From State
	To   State
}

// canonicalEdges is the fixed set of edges every base Worker implements,
// and the only edges Verb-matching is derived from (SPEC_FULL.md §3).
var canonicalEdges = map[Edge]Verb{
	{StateStopped, StatePaused}: VerbPrepare,
	{StatePaused, StateRunning}: VerbStart,
	{StateRunning, StatePaused}: VerbPause,
	{StatePaused, StateStopped}: VerbStop,
}

// forbiddenEdges are implicit completions of an in-flight transition, never
// user-driven edges a Worker may declare (SPEC_FULL.md §3).
var forbiddenEdges = map[Edge]struct{}{
	{StateStarting, StateRunning}: {},
	{StateStopping, StateStopped}: {},
	{StatePausing, StatePaused}:   {},
	{StatePreparing, StatePaused}: {},
}

// verbEndState is the end state a given verb's edges must always reach,
// regardless of which start state the edge is declared from.
var verbEndState = map[Verb]State{
	VerbPrepare: StatePaused,
	VerbStart:   StateRunning,
	VerbPause:   StatePaused,
	VerbStop:    StateStopped,
}

// IsForbidden reports whether edge is one of the implicit-completion edges
// that no Worker may declare a handler for.
func IsForbidden(e Edge) bool {
	_, ok := forbiddenEdges[e]
	return ok
}

// CanonicalVerb returns the verb a canonical edge implements, if e is one of
// the four base edges every Worker must support.
func CanonicalVerb(e Edge) (Verb, bool) {
	v, ok := canonicalEdges[e]
	return v, ok
}

// Intermediate returns the in-flight marker state entered while transitioning
// along e, per the Service transition algorithm (SPEC_FULL.md §4.2 step 4):
// a transition ending in Running marks Starting, one ending in Stopped marks
// Stopping, the Stopped->Paused edge marks Preparing, and everything else
// (including the canonical Running->Paused pause edge, and any custom edge
// that lands on Paused from somewhere other than Stopped) marks Pausing.
func Intermediate(e Edge) State {
	switch {
	case e.To == StateRunning:
		return StateStarting
	case e.To == StateStopped:
		return StateStopping
	case e.From == StateStopped && e.To == StatePaused:
		return StatePreparing
	default:
		return StatePausing
	}
}

// HasPausedIntermediate reports whether target has an intermediate mapping
// through StatePaused when no direct edge exists (SPEC_FULL.md §4.2 step 5).
// Only Running and Stopped do.
func HasPausedIntermediate(target State) bool {
	return target == StateRunning || target == StateStopped
}

// IsIntermediate reports whether s is one of the four in-flight marker
// states a Service occupies only while a transition goroutine is live.
func IsIntermediate(s State) bool {
	switch s {
	case StatePreparing, StateStarting, StatePausing, StateStopping:
		return true
	default:
		return false
	}
}

// ValidVerbEdge reports whether an edge declared for verb v is consistent
// with v's canonical end state (SPEC_FULL.md §4.1).
func ValidVerbEdge(v Verb, e Edge) bool {
	end, ok := verbEndState[v]
	if !ok {
		// Custom verb names (non-canonical) carry no end-state constraint.
		return true
	}
	return e.To == end
}
