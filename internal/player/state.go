/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"errors"
	"fmt"
)

// State is the orchestrator's view of playback.
type State string

const (
	StateStopped   State = "stopped"
	StateLoading   State = "loading"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
)

// AllStates lists every state, for metrics.
var AllStates = []string{
	string(StateStopped),
	string(StateLoading),
	string(StatePlaying),
	string(StatePaused),
	string(StateCompleted),
}

// validTransitions defines the allowed state transitions.
var validTransitions = map[State][]State{
	StateStopped:   {StateLoading},
	StateLoading:   {StatePlaying, StatePaused, StateStopped},
	StatePlaying:   {StatePaused, StateStopped, StateCompleted, StateLoading},
	StatePaused:    {StatePlaying, StateStopped, StateCompleted, StateLoading},
	StateCompleted: {StatePlaying, StatePaused, StateStopped, StateLoading},
}

// CanTransition reports whether from -> to is allowed. Staying in the same
// state is always allowed.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	// ErrStale indicates a selection was superseded by a newer one.
	ErrStale = errors.New("player operation superseded")

	// ErrNoTarget indicates a transport call with nothing selected.
	ErrNoTarget = errors.New("no playback target selected")

	// ErrNotComposite indicates a block operation on a plain track.
	ErrNotComposite = errors.New("target is not a session")

	// ErrTransport matches every TransportError via errors.Is.
	ErrTransport = errors.New("primary engine transport failed")

	// ErrInvalidTransition indicates a state change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid player state transition")
)

// TransportError wraps a primary engine failure with the operation that
// failed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
