package rate

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle is a per-client token bucket. It smooths bursts from one source
// before the sliding-window limiter and the stores are consulted.
type Throttle struct {
	limit rate.Limit
	burst int

	mu      sync.RWMutex
	entries map[string]*throttleEntry
}

// NewThrottle returns nil when perSecond is not positive; a nil Throttle
// admits everything.
func NewThrottle(perSecond float64, burst int) *Throttle {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		entries: make(map[string]*throttleEntry),
	}
}

// Allow consumes one token for key at now. When the bucket is empty it
// returns the wait until the next token.
func (t *Throttle) Allow(key string, now time.Time) (bool, time.Duration) {
	if t == nil || key == "" {
		return true, 0
	}
	lim := t.get(key, now)
	if lim.AllowN(now, 1) {
		return true, 0
	}
	deficit := 1 - lim.TokensAt(now)
	wait := time.Duration(deficit / float64(t.limit) * float64(time.Second))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return false, wait
}

func (t *Throttle) get(key string, now time.Time) *rate.Limiter {
	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()
	if ok {
		t.mu.Lock()
		e.lastSeen = now
		t.mu.Unlock()
		return e.limiter
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Double-check after acquiring the write lock.
	if e, ok = t.entries[key]; ok {
		e.lastSeen = now
		return e.limiter
	}
	e = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst), lastSeen: now}
	t.entries[key] = e
	return e.limiter
}

// Sweep removes buckets idle for longer than idle and reports how many.
func (t *Throttle) Sweep(now time.Time, idle time.Duration) int {
	if t == nil {
		return 0
	}
	cutoff := now.Add(-idle)
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for key, e := range t.entries {
		if e.lastSeen.Before(cutoff) {
			delete(t.entries, key)
			n++
		}
	}
	return n
}

// Len reports the number of tracked clients.
func (t *Throttle) Len() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
