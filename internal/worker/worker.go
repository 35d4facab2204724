// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

// Package worker defines the Worker contract every supervised lifecycle unit
// implements, plus the builder used to declare additional transitions beyond
// the four canonical ones (SPEC_FULL.md §4.1).
package worker

import (
	"fmt"

	"github.com/tomtom215/ward/internal/state"
)

// ServiceHandle is the narrow slice of *service.Service a Worker is allowed
// to hold a back-reference to. It is satisfied by *service.Service; kept as
// an interface here so this package never imports internal/service (which
// imports this package), avoiding an import cycle.
type ServiceHandle interface {
	Name() string
}

// Worker is a user-supplied lifecycle unit. Prepare/Start/Pause/Stop must be
// synchronous from the Service's perspective: they return once the target
// state has been entered, or they return an error. Cleanup is called exactly
// once, when the owning Service enters state.StateException; it must be
// side-effect-safe regardless of which state the Worker was in.
type Worker interface {
	Prepare() error
	Start() error
	Pause() error
	Stop() error
	Cleanup(err error)

	// SetService installs the owning Service's back-reference. Called once,
	// before the Service is returned to the registry caller.
	SetService(ServiceHandle)

	// Transitions returns this Worker's immutable transition table, built
	// once via Builder at construction time.
	Transitions() *TransitionTable
}

// TransitionFunc implements one edge of a Worker's transition table.
type TransitionFunc func() error

// TransitionTable is an immutable edge -> function mapping, validated at
// build time so that Service never has to re-validate it at dispatch time.
type TransitionTable struct {
	edges map[state.Edge]TransitionFunc
}

// Lookup returns the function registered for edge e, if any.
func (t *TransitionTable) Lookup(e state.Edge) (TransitionFunc, bool) {
	if t == nil {
		return nil, false
	}
	f, ok := t.edges[e]
	return f, ok
}

// Builder constructs a TransitionTable, validating each declared edge against
// the rules in SPEC_FULL.md §4.1: no duplicate edges, no forbidden edges, and
// edges for a canonical verb must end in that verb's canonical end state.
type Builder struct {
	edges map[state.Edge]TransitionFunc
	err   error
}

// NewBuilder returns a Builder seeded with the four canonical edges, each
// wired to the given functions. Any of the four may be nil if the caller
// intends to pass a zero-value Worker that never actually transitions along
// that edge (tests only); production workers should supply all four.
func NewBuilder(prepare, start, pause, stop TransitionFunc) *Builder {
	b := &Builder{edges: make(map[state.Edge]TransitionFunc, 4)}
	if prepare != nil {
		b.edges[state.Edge{From: state.StateStopped, To: state.StatePaused}] = prepare
	}
	if start != nil {
		b.edges[state.Edge{From: state.StatePaused, To: state.StateRunning}] = start
	}
	if pause != nil {
		b.edges[state.Edge{From: state.StateRunning, To: state.StatePaused}] = pause
	}
	if stop != nil {
		b.edges[state.Edge{From: state.StatePaused, To: state.StateStopped}] = stop
	}
	return b
}

// AddTransition declares an additional edge for verb v (used only to check
// the end-state constraint; the edge itself is what the Service dispatches
// on). Returns the Builder for chaining; a validation failure is recorded
// and surfaced by Build.
func (b *Builder) AddTransition(from, to state.State, v state.Verb, fn TransitionFunc) *Builder {
	if b.err != nil {
		return b
	}
	edge := state.Edge{From: from, To: to}
	if state.IsForbidden(edge) {
		b.err = fmt.Errorf("worker: edge %s->%s is an implicit completion, not a declarable transition", from, to)
		return b
	}
	if !state.ValidVerbEdge(v, edge) {
		b.err = fmt.Errorf("worker: edge %s->%s is inconsistent with verb %q's canonical end state", from, to, v)
		return b
	}
	if _, exists := b.edges[edge]; exists {
		b.err = fmt.Errorf("worker: duplicate edge %s->%s", from, to)
		return b
	}
	if fn == nil {
		b.err = fmt.Errorf("worker: nil transition function for edge %s->%s", from, to)
		return b
	}
	b.edges[edge] = fn
	return b
}

// Build returns the finished, immutable TransitionTable, or the first
// validation error encountered.
func (b *Builder) Build() (*TransitionTable, error) {
	if b.err != nil {
		return nil, b.err
	}
	edges := make(map[state.Edge]TransitionFunc, len(b.edges))
	for k, v := range b.edges {
		edges[k] = v
	}
	return &TransitionTable{edges: edges}, nil
}

// MustBuild panics on a validation error. Intended for package-init-time
// registration of built-in workers where a bad transition table is a
// programmer error, not a runtime condition.
func (b *Builder) MustBuild() *TransitionTable {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}

// Base embeds into concrete Worker implementations to supply SetService and
// a default no-op Cleanup, so a Worker only needs to implement the four
// verbs plus Transitions(). Mirrors the teacher's small-embeddable-struct
// idiom for optional interface methods.
type Base struct {
	Service ServiceHandle
}

// SetService implements Worker.
func (b *Base) SetService(s ServiceHandle) { b.Service = s }

// Cleanup implements Worker with a no-op default; embedding workers override
// it when they hold resources that need releasing on exception.
func (b *Base) Cleanup(error) {}
