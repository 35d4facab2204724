// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

// Package service implements the eight-state Service state machine that
// wraps a single worker.Worker: request coalescing, intermediate-state
// marking, exception capture, and listener dispatch (SPEC_FULL.md §4.2).
package service

import (
	"sync"

	"github.com/tomtom215/ward/internal/state"
	"github.com/tomtom215/ward/internal/worker"
)

// Listener observes a Service's completed transitions. It must not block and
// must not call back into the same Service's Start/Pause/Stop synchronously.
type Listener func(s *Service, oldState, newState state.State)

// Subscription identifies a registered Listener for later removal. Go
// function values are not comparable, so unlike the ported callback-identity
// API this is a handle returned by RegisterStateChangeListener rather than
// the callback itself.
type Subscription uint64

type listenerEntry struct {
	id Subscription
	fn Listener
}

// Service is a named lifecycle unit wrapping exactly one worker.Worker.
// The zero value is not usable; construct with New.
type Service struct {
	mu sync.Mutex

	name   string
	worker worker.Worker

	state         state.State
	targetState   state.State
	nextState     *state.State
	transitionSeq uint64
	exception     error

	listenerSeq uint64
	listeners   []listenerEntry
}

// New returns a Service in StateStopped wrapping w, and installs the
// back-reference w uses to reach the owning Service.
func New(name string, w worker.Worker) *Service {
	s := &Service{name: name, worker: w, state: state.StateStopped}
	w.SetService(s)
	return s
}

// Name implements worker.ServiceHandle.
func (s *Service) Name() string { return s.name }

// State returns the Service's current lifecycle state.
func (s *Service) State() state.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Exception returns the error captured when the Service entered
// StateException, or nil if it never did.
func (s *Service) Exception() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exception
}

// Start requests a transition toward StateRunning.
func (s *Service) Start() { s.request(state.StateRunning) }

// Pause requests a transition toward StatePaused.
func (s *Service) Pause() { s.request(state.StatePaused) }

// Stop requests a transition toward StateStopped.
func (s *Service) Stop() { s.request(state.StateStopped) }

// SetException forces the Service directly into StateException, bypassing
// the worker's transition table. Used by the controller and by tests to
// inject faults; a no-op if the Service is already in StateException.
func (s *Service) SetException(err error) {
	s.mu.Lock()
	if s.state == state.StateException {
		s.mu.Unlock()
		return
	}
	old := s.state
	s.state = state.StateException
	s.exception = err
	s.targetState = state.StateException
	s.nextState = nil
	s.transitionSeq++
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	s.worker.Cleanup(err)
	s.notify(listeners, old, state.StateException)
}

// RegisterStateChangeListener subscribes l to every future completed
// transition, returning a Subscription usable with
// UnregisterStateChangeListener.
func (s *Service) RegisterStateChangeListener(l Listener) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listenerSeq++
	id := Subscription(s.listenerSeq)
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: l})
	return id
}

// UnregisterStateChangeListener removes a previously registered listener.
// Safe to call from within a listener callback.
func (s *Service) UnregisterStateChangeListener(id Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]listenerEntry, 0, len(s.listeners))
	for _, e := range s.listeners {
		if e.id != id {
			out = append(out, e)
		}
	}
	s.listeners = out
}

// request runs the transition algorithm under the state lock.
func (s *Service) request(target state.State) {
	s.mu.Lock()
	s.transitionLocked(target)
	s.mu.Unlock()
}

// transitionLocked implements the six-step algorithm of SPEC_FULL.md §4.2.
// Caller must hold s.mu.
//
// Steps 4/5/6's edge lookup only ever matches from a stable (non-marker)
// state: the table never carries an edge whose origin is an intermediate
// state, since those are implicit completions (state.IsForbidden). So a
// request arriving while a transition is already in flight is handled
// entirely by the intermediate branch below, which just replaces nextState;
// the Paused-detour recursion of step 5 only ever fires from a stable state
// and must not clobber an outer call's freshly-set nextState, so it is
// implemented directly rather than by re-entering transitionLocked.
func (s *Service) transitionLocked(target state.State) {
	// Step 1.
	if s.state == state.StateException {
		return
	}
	// Step 2.
	if s.state == target {
		s.nextState = nil
		return
	}
	// Step 3/6 while a transition is already in flight: either it already
	// targets target (clear any queue), or the new target replaces it.
	if state.IsIntermediate(s.state) {
		if s.targetState == target {
			s.nextState = nil
			return
		}
		queued := target
		s.nextState = &queued
		return
	}
	// Step 4: a direct edge exists in the worker's transition table.
	edge := state.Edge{From: s.state, To: target}
	if fn, ok := s.worker.Transitions().Lookup(edge); ok {
		s.nextState = nil
		s.beginTransitionLocked(edge, target, fn)
		return
	}
	// Step 5: no direct edge, but target routes through Paused.
	if state.HasPausedIntermediate(target) {
		final := target
		s.nextState = &final
		s.beginPausedDetourLocked(target)
		return
	}
	// Step 6: queue for later.
	queued := target
	s.nextState = &queued
}

// beginPausedDetourLocked starts the Stopped->Paused or Running->Paused leg
// of a two-hop transition toward finalTarget, which the caller has already
// recorded in s.nextState. If no edge toward Paused exists either, the
// detour collapses to a plain queue.
func (s *Service) beginPausedDetourLocked(finalTarget state.State) {
	edge := state.Edge{From: s.state, To: state.StatePaused}
	fn, ok := s.worker.Transitions().Lookup(edge)
	if !ok {
		final := finalTarget
		s.nextState = &final
		return
	}
	s.beginTransitionLocked(edge, state.StatePaused, fn)
}

// beginTransitionLocked marks the in-flight state, records the target, and
// dispatches fn on a fresh goroutine. Caller must hold s.mu. Does not touch
// nextState: callers decide whether a queued follow-up should survive.
func (s *Service) beginTransitionLocked(edge state.Edge, target state.State, fn worker.TransitionFunc) {
	marker := state.Intermediate(edge)
	s.state = marker
	s.targetState = target
	s.transitionSeq++
	seq := s.transitionSeq
	go s.runTransition(seq, target, fn)
}

// runTransition executes a worker transition method outside the lock, then
// applies its outcome. A transition whose seq no longer matches
// s.transitionSeq was superseded by a later request and yields completion
// to whichever transition replaced it.
func (s *Service) runTransition(seq uint64, target state.State, fn worker.TransitionFunc) {
	err := fn()

	s.mu.Lock()
	if s.transitionSeq != seq {
		s.mu.Unlock()
		return
	}

	if err != nil {
		old := s.state
		s.state = state.StateException
		s.exception = err
		s.targetState = state.StateException
		s.nextState = nil
		listeners := s.snapshotListenersLocked()
		s.mu.Unlock()

		s.worker.Cleanup(err)
		s.notify(listeners, old, state.StateException)
		return
	}

	old := s.state
	s.state = target
	listeners := s.snapshotListenersLocked()

	var followUp *state.State
	if s.nextState != nil {
		next := *s.nextState
		followUp = &next
		s.nextState = nil
	}
	s.mu.Unlock()

	s.notify(listeners, old, target)

	if followUp != nil {
		s.mu.Lock()
		s.transitionLocked(*followUp)
		s.mu.Unlock()
	}
}

// snapshotListenersLocked copies the listener slice so dispatch never races
// a concurrent Register/Unregister. Caller must hold s.mu.
func (s *Service) snapshotListenersLocked() []listenerEntry {
	out := make([]listenerEntry, len(s.listeners))
	copy(out, s.listeners)
	return out
}

// notify dispatches a completed transition to a listener snapshot. Must be
// called without s.mu held.
func (s *Service) notify(listeners []listenerEntry, old, newState state.State) {
	for _, e := range listeners {
		e.fn(s, old, newState)
	}
}
