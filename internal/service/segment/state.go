package segment

import (
	"errors"
	"fmt"
)

// State represents the lifecycle state of an utterance.
type State int

const (
	// StateOpen - Utterance is being recognized, partials may follow.
	StateOpen State = iota
	// StateFinalEmitted - The engine committed the final text.
	StateFinalEmitted
	// StateClosed - Utterance is complete.
	StateClosed
	// StateDropped - The session ended before a final arrived.
	StateDropped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateFinalEmitted:
		return "FINAL_EMITTED"
	case StateClosed:
		return "CLOSED"
	case StateDropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (CLOSED or DROPPED).
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateDropped
}

// Errors for invalid state transitions.
var (
	ErrSegmentClosed               = errors.New("utterance is closed")
	ErrFinalAlreadyEmitted         = errors.New("final already emitted for this utterance")
	ErrCannotEmitPartialAfterFinal = errors.New("cannot emit partial after final")
)

// Lifecycle is the state machine of a single utterance. It is owned by the
// coordinator goroutine and is not safe for concurrent use.
//
//	OPEN ──EmitFinal──→ FINAL_EMITTED ──Close──→ CLOSED
//	  │
//	  └──Drop──→ DROPPED
type Lifecycle struct {
	id    string
	state State
}

// NewLifecycle creates an utterance in OPEN state.
func NewLifecycle(id string) *Lifecycle {
	return &Lifecycle{id: id, state: StateOpen}
}

// ID returns the utterance ID.
func (l *Lifecycle) ID() string { return l.id }

// State returns the current state.
func (l *Lifecycle) State() State { return l.state }

// EmitPartial validates a partial emission.
func (l *Lifecycle) EmitPartial() error {
	switch l.state {
	case StateOpen:
		return nil
	case StateFinalEmitted:
		return ErrCannotEmitPartialAfterFinal
	default:
		return ErrSegmentClosed
	}
}

// EmitFinal validates and transitions to FINAL_EMITTED.
func (l *Lifecycle) EmitFinal() error {
	switch l.state {
	case StateOpen:
		l.state = StateFinalEmitted
		return nil
	case StateFinalEmitted:
		return ErrFinalAlreadyEmitted
	default:
		return ErrSegmentClosed
	}
}

// Close transitions to CLOSED. Idempotent.
func (l *Lifecycle) Close() {
	l.state = StateClosed
}

// Drop abandons an utterance that never received a final.
// Returns false if it was already terminal.
func (l *Lifecycle) Drop() bool {
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateDropped
	return true
}
