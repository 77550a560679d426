package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	// ErrFamilyExists is returned by Register when the family id is taken.
	ErrFamilyExists = errors.New("refresh family already exists")
	// ErrFamilyNotFound is returned for unknown or expired families.
	ErrFamilyNotFound = errors.New("refresh family not found")
	// ErrFamilyRevoked is returned when rotating a revoked family.
	ErrFamilyRevoked = errors.New("refresh family revoked")
	// ErrReplayDetected is returned when a stale sequence is presented.
	// The family has been revoked by the time the caller sees it.
	ErrReplayDetected = errors.New("refresh token replay detected")
	// ErrUnavailable wraps backend failures, including context deadlines.
	ErrUnavailable = errors.New("refresh ledger unavailable")
)

// Status is the lifecycle state of a family.
type Status string

const (
	StatusActive  Status = "active"
	StatusRotated Status = "rotated"
	StatusRevoked Status = "revoked"
)

// Entry is the persisted state of one refresh family.
type Entry struct {
	FamilyID      string
	SubjectID     string
	Sequence      uint64
	Status        Status
	IssuedAt      time.Time
	LastRotatedAt time.Time
	ExpiresAt     time.Time
	// ClientIP and UserAgent describe the login that opened the family.
	ClientIP  string
	UserAgent string
}

// Live reports whether the entry can still be rotated at now.
func (e Entry) Live(now time.Time) bool {
	return e.Status != StatusRevoked && now.Before(e.ExpiresAt)
}

// Store persists refresh families. Rotate must be atomic per family.
type Store interface {
	// Register inserts a new active family.
	Register(ctx context.Context, e Entry) error
	// Rotate advances the family to presented+1 iff presented is the current
	// sequence. A mismatch revokes the family and returns ErrReplayDetected.
	Rotate(ctx context.Context, familyID string, presented uint64, now time.Time) (Entry, error)
	// Revoke marks the family revoked. Unknown families are not an error.
	Revoke(ctx context.Context, familyID string, now time.Time) error
	// RevokeSubject revokes every live family of subjectID and reports how
	// many changed state.
	RevokeSubject(ctx context.Context, subjectID string, now time.Time) (int, error)
	// Get returns the entry, or ErrFamilyNotFound once expired.
	Get(ctx context.Context, familyID string, now time.Time) (Entry, error)
	// ListSubject returns the live families of subjectID ordered by issue
	// time.
	ListSubject(ctx context.Context, subjectID string, now time.Time) ([]Entry, error)
}

func validateEntry(e Entry) error {
	if e.FamilyID == "" {
		return errors.New("family id is required")
	}
	if e.SubjectID == "" {
		return errors.New("subject id is required")
	}
	if !e.ExpiresAt.After(e.IssuedAt) {
		return errors.New("family expiry must follow issuance")
	}
	return nil
}

// rotate applies the rotation rule to e in place. Callers hold the per-family
// lock.
func rotate(e *Entry, presented uint64, now time.Time) error {
	if !now.Before(e.ExpiresAt) {
		return ErrFamilyNotFound
	}
	if e.Status == StatusRevoked {
		return ErrFamilyRevoked
	}
	if e.Sequence != presented {
		e.Status = StatusRevoked
		e.LastRotatedAt = now
		return ErrReplayDetected
	}
	e.Sequence++
	e.Status = StatusRotated
	e.LastRotatedAt = now
	return nil
}

func sortByIssue(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := a.IssuedAt.Compare(b.IssuedAt); c != 0 {
			return c
		}
		return strings.Compare(a.FamilyID, b.FamilyID)
	})
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
