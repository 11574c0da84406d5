// Package raffle defines the core domain types for the raffle lifecycle.
package raffle

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State represents the lifecycle state of the raffle.
type State string

const (
	// StateOpen accepts new entries.
	StateOpen State = "open"

	// StateCalculating means a draw is in flight and entries are locked out
	// until the outstanding randomness request resolves.
	StateCalculating State = "calculating"

	// StateSettled marks a finished round. The live raffle only ever sits in
	// open or calculating; settled rounds are historical records.
	StateSettled State = "settled"
)

// String returns the string representation.
func (s State) String() string {
	return string(s)
}

// Valid reports whether the state is a known lifecycle state.
func (s State) Valid() bool {
	switch s {
	case StateOpen, StateCalculating, StateSettled:
		return true
	}
	return false
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseState(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState parses a state from its string form. The numeric aliases match
// the enum encoding some oracle clients send.
func ParseState(raw string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open", "0":
		return StateOpen, nil
	case "calculating", "1":
		return StateCalculating, nil
	case "settled":
		return StateSettled, nil
	default:
		return "", fmt.Errorf("unknown raffle state: %s", raw)
	}
}

// ValidTransitions defines the allowed state transitions. A calculating
// round either settles with a winner or reopens after an aborted draw.
var ValidTransitions = map[State][]State{
	StateOpen:        {StateCalculating},
	StateCalculating: {StateOpen, StateSettled},
	StateSettled:     {},
}

// CanTransition reports whether a transition from one state to another is allowed.
func CanTransition(from, to State) bool {
	for _, next := range ValidTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError describes an invalid state transition.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid raffle state transition from %s to %s", e.From, e.To)
}

// NewTransitionError creates a transition error.
func NewTransitionError(from, to State) *TransitionError {
	return &TransitionError{From: from, To: to}
}
