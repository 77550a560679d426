package onboarding

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned by Next for events the state cannot accept.
var ErrInvalidTransition = errors.New("invalid onboarding transition")

// State is the onboarding stage of an account.
type State uint8

const (
	StatePendingVerification State = iota + 1
	StateVerifiedNoPassword
	StateActive
)

func (s State) String() string {
	switch s {
	case StatePendingVerification:
		return "pending-verification"
	case StateVerifiedNoPassword:
		return "verified-no-password"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return s >= StatePendingVerification && s <= StateActive
}

// ParseState is the inverse of String.
func ParseState(v string) (State, error) {
	switch v {
	case "pending-verification":
		return StatePendingVerification, nil
	case "verified-no-password":
		return StateVerifiedNoPassword, nil
	case "active":
		return StateActive, nil
	}
	return 0, fmt.Errorf("unknown onboarding state %q", v)
}

// Event drives a transition.
type Event uint8

const (
	EventEmailVerified Event = iota + 1
	EventPasswordSet
)

func (e Event) String() string {
	switch e {
	case EventEmailVerified:
		return "email-verified"
	case EventPasswordSet:
		return "password-set"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// Next returns the state reached from s on e. Every other pair is rejected.
func Next(s State, e Event) (State, error) {
	switch {
	case s == StatePendingVerification && e == EventEmailVerified:
		return StateVerifiedNoPassword, nil
	case s == StateVerifiedNoPassword && e == EventPasswordSet:
		return StateActive, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, s)
}
