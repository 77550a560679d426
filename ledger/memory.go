package ledger

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 64

type memoryShard struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// MemoryStore keeps families in process memory behind sharded locks.
type MemoryStore struct {
	shards [memoryShards]memoryShard

	subjectsMu sync.Mutex
	subjects   map[string]map[string]struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{subjects: make(map[string]map[string]struct{})}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*Entry)
	}
	return s
}

func (s *MemoryStore) shard(familyID string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(familyID))
	return &s.shards[h.Sum32()%memoryShards]
}

// Register implements Store.
func (s *MemoryStore) Register(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	if err := validateEntry(e); err != nil {
		return err
	}
	sh := s.shard(e.FamilyID)
	sh.mu.Lock()
	if cur, ok := sh.entries[e.FamilyID]; ok && e.IssuedAt.Before(cur.ExpiresAt) {
		sh.mu.Unlock()
		return ErrFamilyExists
	}
	e.Status = StatusActive
	e.LastRotatedAt = e.IssuedAt
	stored := e
	sh.entries[e.FamilyID] = &stored
	sh.mu.Unlock()

	s.subjectsMu.Lock()
	fams := s.subjects[e.SubjectID]
	if fams == nil {
		fams = make(map[string]struct{})
		s.subjects[e.SubjectID] = fams
	}
	fams[e.FamilyID] = struct{}{}
	s.subjectsMu.Unlock()
	return nil
}

// Rotate implements Store.
func (s *MemoryStore) Rotate(ctx context.Context, familyID string, presented uint64, now time.Time) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, unavailable(err)
	}
	sh := s.shard(familyID)
	sh.mu.Lock()
	e, ok := sh.entries[familyID]
	if !ok {
		sh.mu.Unlock()
		return Entry{}, ErrFamilyNotFound
	}
	err := rotate(e, presented, now)
	out := *e
	if err == ErrFamilyNotFound {
		delete(sh.entries, familyID)
	}
	sh.mu.Unlock()

	if err != nil {
		if err == ErrFamilyNotFound {
			s.forget(map[string]string{familyID: out.SubjectID})
		}
		return Entry{}, err
	}
	return out, nil
}

// Revoke implements Store.
func (s *MemoryStore) Revoke(ctx context.Context, familyID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	s.revoke(familyID, now)
	return nil
}

func (s *MemoryStore) revoke(familyID string, now time.Time) bool {
	sh := s.shard(familyID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[familyID]
	if !ok || !e.Live(now) {
		return false
	}
	e.Status = StatusRevoked
	e.LastRotatedAt = now
	return true
}

// RevokeSubject implements Store.
func (s *MemoryStore) RevokeSubject(ctx context.Context, subjectID string, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable(err)
	}
	s.subjectsMu.Lock()
	ids := make([]string, 0, len(s.subjects[subjectID]))
	for id := range s.subjects[subjectID] {
		ids = append(ids, id)
	}
	s.subjectsMu.Unlock()

	n := 0
	for _, id := range ids {
		if s.revoke(id, now) {
			n++
		}
	}
	return n, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, familyID string, now time.Time) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, unavailable(err)
	}
	sh := s.shard(familyID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[familyID]
	if !ok || !now.Before(e.ExpiresAt) {
		return Entry{}, ErrFamilyNotFound
	}
	return *e, nil
}

// ListSubject implements Store.
func (s *MemoryStore) ListSubject(ctx context.Context, subjectID string, now time.Time) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	s.subjectsMu.Lock()
	ids := make([]string, 0, len(s.subjects[subjectID]))
	for id := range s.subjects[subjectID] {
		ids = append(ids, id)
	}
	s.subjectsMu.Unlock()

	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		sh := s.shard(id)
		sh.mu.Lock()
		if e, ok := sh.entries[id]; ok && e.SubjectID == subjectID && e.Live(now) {
			out = append(out, *e)
		}
		sh.mu.Unlock()
	}
	sortByIssue(out)
	return out, nil
}

// Sweep drops families expired at now and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := make(map[string]string)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, e := range sh.entries {
			if !now.Before(e.ExpiresAt) {
				removed[id] = e.SubjectID
				delete(sh.entries, id)
			}
		}
		sh.mu.Unlock()
	}
	s.forget(removed)
	return len(removed)
}

// forget drops family ids, keyed to their subject, from the subject index.
func (s *MemoryStore) forget(families map[string]string) {
	if len(families) == 0 {
		return
	}
	s.subjectsMu.Lock()
	defer s.subjectsMu.Unlock()
	for id, sub := range families {
		if fams := s.subjects[sub]; fams != nil {
			delete(fams, id)
			if len(fams) == 0 {
				delete(s.subjects, sub)
			}
		}
	}
}
