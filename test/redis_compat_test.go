//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/ledger"
)

// TestRedisCompat_LedgerRotation checks the Lua compare-and-set across
// backends.
func TestRedisCompat_LedgerRotation(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()

			store := ledger.NewRedisStore(rdb, "compat:")
			ctx := context.Background()
			now := time.Now().UTC()

			err := store.Register(ctx, ledger.Entry{
				FamilyID:  "fam-rot",
				SubjectID: "user1",
				Status:    ledger.StatusActive,
				IssuedAt:  now,
				ExpiresAt: now.Add(time.Hour),
			})
			if err != nil {
				t.Fatalf("register: %v", err)
			}

			rotated, err := store.Rotate(ctx, "fam-rot", 0, now)
			if err != nil {
				t.Fatalf("rotate: %v", err)
			}
			if rotated.Sequence != 1 {
				t.Errorf("expected sequence 1, got %d", rotated.Sequence)
			}

			if _, err := store.Rotate(ctx, "fam-rot", 0, now); !errors.Is(err, ledger.ErrReplayDetected) {
				t.Errorf("expected ErrReplayDetected on replay, got %v", err)
			}
			if _, err := store.Rotate(ctx, "fam-rot", 1, now); !errors.Is(err, ledger.ErrFamilyRevoked) {
				t.Errorf("expected ErrFamilyRevoked after replay, got %v", err)
			}
		})
	}
}

// TestRedisCompat_EngineLifecycle runs onboarding, login, rotation and replay
// with every store on Redis.
func TestRedisCompat_EngineLifecycle(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()

			engine := newEngine(t, rdb)
			ctx := context.Background()
			subject := onboard(t, engine, "compat@example.com", "compat-password-1")

			pair, err := engine.Login(ctx, authcore.LoginRequest{Identifier: "compat@example.com", Secret: "compat-password-1"})
			if err != nil {
				t.Fatalf("login: %v", err)
			}

			const n = 8
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				winners int
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := engine.Refresh(ctx, pair.RefreshToken); err == nil {
						mu.Lock()
						winners++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			if winners != 1 {
				t.Fatalf("expected one refresh winner, got %d", winners)
			}

			n2, err := engine.LogoutAll(ctx, subject)
			if err != nil {
				t.Fatalf("logout all: %v", err)
			}
			if n2 != 0 {
				t.Errorf("family should already be revoked by replay, revoked %d", n2)
			}
		})
	}
}

// TestRedisCompat_LockoutSharedAcrossEngines verifies that two engines on the
// same Redis see one attempt log.
func TestRedisCompat_LockoutSharedAcrossEngines(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()

			a := newEngine(t, rdb)
			b := newEngine(t, rdb)
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				engine := a
				if i%2 == 1 {
					engine = b
				}
				_, _ = engine.Login(ctx, authcore.LoginRequest{Identifier: "shared@example.com", Secret: "wrong-password-x"})
			}

			_, err := b.Login(ctx, authcore.LoginRequest{Identifier: "shared@example.com", Secret: "wrong-password-x"})
			if !errors.Is(err, authcore.ErrRateLimited) {
				t.Fatalf("expected lockout shared across engines, got %v", err)
			}
		})
	}
}
