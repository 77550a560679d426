package onboarding

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	// ErrStateMismatch is returned by Transition when the stored state is not
	// the expected one. The returned Account carries the current state.
	ErrStateMismatch = errors.New("onboarding state mismatch")
	ErrUnavailable   = errors.New("account store unavailable")
)

// Account is the onboarding view of a user.
type Account struct {
	SubjectID    string
	Email        string
	State        State
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccountStore persists accounts. Transition must be an atomic
// compare-and-set on the state.
type AccountStore interface {
	Create(ctx context.Context, a Account) error
	ByID(ctx context.Context, subjectID string) (Account, error)
	ByEmail(ctx context.Context, email string) (Account, error)
	// Transition moves subjectID from one state to another. A non-empty
	// passwordHash is stored in the same write.
	Transition(ctx context.Context, subjectID string, from, to State, passwordHash string, now time.Time) (Account, error)
	// SetPasswordHash replaces the hash of an active account.
	SetPasswordHash(ctx context.Context, subjectID, passwordHash string, now time.Time) error
}
