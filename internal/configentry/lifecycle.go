package configentry

import (
	"slices"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// transitions is the allowed lifecycle graph. migration_error and
// failed_unload have no exits.
var transitions = map[State][]State{
	StateNotLoaded:       {StateSetupInProgress},
	StateSetupInProgress: {StateLoaded, StateSetupError, StateSetupRetry, StateMigrationError},
	StateLoaded:          {StateNotLoaded, StateFailedUnload},
	StateSetupError:      {StateSetupInProgress, StateNotLoaded},
	StateSetupRetry:      {StateSetupInProgress, StateNotLoaded},
}

// CanTransition reports whether from -> to is an allowed move.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// IsTerminal reports whether s has no outgoing transitions.
func IsTerminal(s State) bool {
	return len(transitions[s]) == 0
}

// Recoverable reports whether s may re-enter setup.
func (s State) Recoverable() bool {
	return CanTransition(s, StateSetupInProgress)
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return &core.InvalidStateTransitionError{From: string(from), To: string(to)}
	}
	return nil
}
