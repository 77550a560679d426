package onboarding

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process AccountStore.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Account
	byEmail map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Account),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, a Account) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[a.Email]; ok {
		return ErrAccountExists
	}
	if _, ok := s.byID[a.SubjectID]; ok {
		return ErrAccountExists
	}
	stored := a
	s.byID[a.SubjectID] = &stored
	s.byEmail[a.Email] = a.SubjectID
	return nil
}

func (s *MemoryStore) ByID(ctx context.Context, subjectID string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[subjectID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *a, nil
}

func (s *MemoryStore) ByEmail(ctx context.Context, email string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *s.byID[id], nil
}

func (s *MemoryStore) Transition(ctx context.Context, subjectID string, from, to State, passwordHash string, now time.Time) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[subjectID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	if a.State != from {
		return *a, ErrStateMismatch
	}
	a.State = to
	if passwordHash != "" {
		a.PasswordHash = passwordHash
	}
	a.UpdatedAt = now
	return *a, nil
}

func (s *MemoryStore) SetPasswordHash(ctx context.Context, subjectID, passwordHash string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[subjectID]
	if !ok {
		return ErrAccountNotFound
	}
	if a.State != StateActive {
		return ErrStateMismatch
	}
	a.PasswordHash = passwordHash
	a.UpdatedAt = now
	return nil
}
