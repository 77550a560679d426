package rate

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const (
	memoryShards    = 64
	sweepEveryNHits = 4096
)

// window keeps the span of the policy that last hit it, so a sweep triggered
// by a shorter policy cannot drop a longer policy's log.
type window struct {
	hits        []time.Time
	lockedUntil time.Time
	span        time.Duration
}

type memoryShard struct {
	mu      sync.Mutex
	windows map[string]*window
	ops     int
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	shards [memoryShards]memoryShard
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].windows = make(map[string]*window)
	}
	return s
}

func (s *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%memoryShards]
}

// Hit implements Store.
func (s *MemoryStore) Hit(ctx context.Context, key string, now time.Time, p Policy) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.ops++
	if sh.ops%sweepEveryNHits == 0 {
		sh.sweep(now)
	}

	w := sh.windows[key]
	if w == nil {
		w = &window{}
		sh.windows[key] = w
	}
	w.span = p.Window
	if now.Before(w.lockedUntil) {
		return Decision{RetryAfter: w.lockedUntil.Sub(now)}, nil
	}

	cutoff := now.Add(-p.Window)
	live := w.hits[:0]
	for _, h := range w.hits {
		if h.After(cutoff) {
			live = append(live, h)
		}
	}
	w.hits = live

	if len(w.hits) >= p.Threshold {
		until := w.hits[0].Add(p.Window)
		if p.Lockout > 0 && now.Add(p.Lockout).After(until) {
			until = now.Add(p.Lockout)
		}
		w.lockedUntil = until
		return Decision{RetryAfter: until.Sub(now)}, nil
	}

	w.hits = append(w.hits, now)
	return Decision{Allowed: true, Remaining: p.Threshold - len(w.hits)}, nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.windows, key)
	sh.mu.Unlock()
	return nil
}

// Sweep drops keys that are unlocked and whose newest attempt has left the
// key's own window. It returns the number of keys removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		removed += sh.sweep(now)
		sh.mu.Unlock()
	}
	return removed
}

func (sh *memoryShard) sweep(now time.Time) int {
	removed := 0
	for key, w := range sh.windows {
		if now.Before(w.lockedUntil) {
			continue
		}
		if n := len(w.hits); n == 0 || !w.hits[n-1].After(now.Add(-w.span)) {
			delete(sh.windows, key)
			removed++
		}
	}
	return removed
}
