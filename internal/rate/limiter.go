package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/clock"
)

// Policy configures one limiter.
type Policy struct {
	Window    time.Duration
	Threshold int
	// Lockout extends the block beyond the natural window expiry. Zero keeps
	// the block until the oldest attempt ages out.
	Lockout time.Duration
}

// Validate reports configuration errors.
func (p Policy) Validate() error {
	if p.Window <= 0 {
		return errors.New("rate window must be positive")
	}
	if p.Threshold <= 0 {
		return errors.New("rate threshold must be positive")
	}
	if p.Lockout < 0 {
		return errors.New("rate lockout must not be negative")
	}
	return nil
}

// Decision is the outcome of one check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
}

// Store holds per-key attempt logs. Hit must be atomic per key.
type Store interface {
	Hit(ctx context.Context, key string, now time.Time, p Policy) (Decision, error)
	Reset(ctx context.Context, key string) error
}

// Limiter applies a Policy to keys in a Store.
type Limiter struct {
	store  Store
	policy Policy
	clock  clock.Clock
}

// New creates a Limiter.
func New(store Store, policy Policy, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.System{}
	}
	return &Limiter{store: store, policy: policy, clock: clk}
}

// Policy returns the configured policy.
func (l *Limiter) Policy() Policy {
	return l.policy
}

// Check records an attempt for key if it is admitted.
func (l *Limiter) Check(ctx context.Context, key string) (Decision, error) {
	d, err := l.store.Hit(ctx, key, l.clock.Now(), l.policy)
	if err != nil {
		return Decision{}, wrapUnavailable(err)
	}
	return d, nil
}

// CheckAll checks keys in order and stops at the first rejection. Empty keys
// are skipped.
func (l *Limiter) CheckAll(ctx context.Context, keys ...string) (Decision, error) {
	out := Decision{Allowed: true, Remaining: l.policy.Threshold}
	for _, key := range keys {
		if key == "" {
			continue
		}
		d, err := l.Check(ctx, key)
		if err != nil {
			return Decision{}, err
		}
		if !d.Allowed {
			return d, nil
		}
		if d.Remaining < out.Remaining {
			out.Remaining = d.Remaining
		}
	}
	return out, nil
}

// Reset clears the log and any lock for keys.
func (l *Limiter) Reset(ctx context.Context, keys ...string) error {
	var errs []error
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := l.store.Reset(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return wrapUnavailable(errors.Join(errs...))
	}
	return nil
}

func wrapUnavailable(err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
