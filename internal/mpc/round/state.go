package round

import (
	"github.com/pkg/errors"
)

type State string

const (
	StateAwaitingClaim State = "AwaitingClaim"
	StateVerifying     State = "Verifying"
	StateOfflinePhase  State = "OfflinePhase"
	StateOnlinePhase   State = "OnlinePhase"
	StateAggregating   State = "Aggregating"
	StateSubmitted     State = "Submitted"
	StateAborted       State = "Aborted"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSubmitted || s == StateAborted
}

func canTransition(current, next State) bool {
	if next == StateAborted {
		return !current.Terminal()
	}
	switch current {
	case StateAwaitingClaim:
		return next == StateVerifying
	case StateVerifying:
		return next == StateOfflinePhase
	case StateOfflinePhase:
		return next == StateOnlinePhase
	case StateOnlinePhase:
		return next == StateAggregating
	case StateAggregating:
		return next == StateSubmitted
	default:
		return false
	}
}

// stateMachine tracks one round. It remembers the last non-aborted state as the phase reached.
type stateMachine struct {
	state State
	phase State
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: StateAwaitingClaim, phase: StateAwaitingClaim}
}

func (m *stateMachine) advance(next State) error {
	if !canTransition(m.state, next) {
		return errors.Wrapf(ErrInvalidTransition, "from %s to %s", m.state, next)
	}
	m.state = next
	if next != StateAborted {
		m.phase = next
	}
	return nil
}
