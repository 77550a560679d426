package onboarding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal/clock"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/keys"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var epoch = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	flow  *Flow
	codec *jwt.Codec
	store AccountStore
	clock *clock.Fake
}

func accountStores(t *testing.T) map[string]AccountStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return map[string]AccountStore{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(rdb, "test:"),
	}
}

func newFixture(t *testing.T, store AccountStore) *fixture {
	t.Helper()
	pair, err := keys.Generate(keys.Ed25519)
	if err != nil {
		t.Fatal(err)
	}
	p, err := keys.New(pair)
	if err != nil {
		t.Fatal(err)
	}
	clk := clock.NewFake(epoch)
	codec, err := jwt.NewCodec(p, jwt.Config{Issuer: "authcore", Leeway: jwt.DefaultLeeway, Clock: clk})
	if err != nil {
		t.Fatal(err)
	}
	flow, err := NewFlow(codec, store, 24*time.Hour, clk)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{flow: flow, codec: codec, store: store, clock: clk}
}

func forEachStore(t *testing.T, fn func(t *testing.T, fx *fixture)) {
	for name, store := range accountStores(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, newFixture(t, store))
		})
	}
}

func TestOnboardingHappyPath(t *testing.T) {
	forEachStore(t, func(t *testing.T, fx *fixture) {
		ctx := context.Background()
		acct, tok, err := fx.flow.Register(ctx, "  Alice@Example.com ")
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		if acct.State != StatePendingVerification || acct.Email != "alice@example.com" {
			t.Fatalf("unexpected account: %+v", acct)
		}
		if tok.Purpose != PurposeVerifyEmail || !tok.ExpiresAt.Equal(epoch.Add(24*time.Hour)) {
			t.Fatalf("unexpected token: %+v", tok)
		}

		verified, err := fx.flow.ConsumeVerification(ctx, tok.Value)
		if err != nil {
			t.Fatalf("consume verification: %v", err)
		}
		if verified.State != StateVerifiedNoPassword {
			t.Fatalf("expected verified-no-password, got %s", verified.State)
		}

		setTok, err := fx.flow.IssueSetPasswordToken(ctx, acct.SubjectID)
		if err != nil {
			t.Fatalf("issue set-password: %v", err)
		}
		active, err := fx.flow.ConsumeSetPassword(ctx, setTok.Value, "$argon2id$hash")
		if err != nil {
			t.Fatalf("consume set-password: %v", err)
		}
		if active.State != StateActive || active.PasswordHash != "$argon2id$hash" {
			t.Fatalf("unexpected active account: %+v", active)
		}
	})
}

func TestOnboardingTokensAreSingleUse(t *testing.T) {
	forEachStore(t, func(t *testing.T, fx *fixture) {
		ctx := context.Background()
		acct, tok, err := fx.flow.Register(ctx, "bob@example.com")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fx.flow.ConsumeVerification(ctx, tok.Value); err != nil {
			t.Fatal(err)
		}
		if _, err := fx.flow.ConsumeVerification(ctx, tok.Value); !errors.Is(err, ErrTokenAlreadyUsed) {
			t.Fatalf("expected ErrTokenAlreadyUsed, got %v", err)
		}

		setTok, err := fx.flow.IssueSetPasswordToken(ctx, acct.SubjectID)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fx.flow.ConsumeSetPassword(ctx, setTok.Value, "h1"); err != nil {
			t.Fatal(err)
		}
		if _, err := fx.flow.ConsumeSetPassword(ctx, setTok.Value, "h2"); !errors.Is(err, ErrTokenAlreadyUsed) {
			t.Fatalf("expected ErrTokenAlreadyUsed, got %v", err)
		}
		got, err := fx.store.ByID(ctx, acct.SubjectID)
		if err != nil {
			t.Fatal(err)
		}
		if got.PasswordHash != "h1" {
			t.Fatalf("replayed token must not overwrite the password, got %q", got.PasswordHash)
		}
	})
}

func TestOnboardingWrongStateAndPurpose(t *testing.T) {
	forEachStore(t, func(t *testing.T, fx *fixture) {
		ctx := context.Background()
		acct, tok, err := fx.flow.Register(ctx, "carol@example.com")
		if err != nil {
			t.Fatal(err)
		}

		if _, err := fx.flow.IssueSetPasswordToken(ctx, acct.SubjectID); !errors.Is(err, ErrStateMismatch) {
			t.Fatalf("expected ErrStateMismatch before verification, got %v", err)
		}

		early, _, err := fx.codec.Issue(acct.SubjectID, jwt.TypeOnboarding, time.Hour, jwt.Extra{
			Purpose: string(PurposeSetPassword),
			Email:   acct.Email,
		})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fx.flow.ConsumeSetPassword(ctx, early, "h"); !errors.Is(err, ErrStateMismatch) {
			t.Fatalf("expected ErrStateMismatch for set-password on pending account, got %v", err)
		}

		if _, err := fx.flow.ConsumeSetPassword(ctx, tok.Value, "h"); !errors.Is(err, jwt.ErrTokenMalformed) {
			t.Fatalf("expected purpose mismatch to be malformed, got %v", err)
		}
	})
}

func TestOnboardingExpiredToken(t *testing.T) {
	forEachStore(t, func(t *testing.T, fx *fixture) {
		ctx := context.Background()
		_, tok, err := fx.flow.Register(ctx, "dave@example.com")
		if err != nil {
			t.Fatal(err)
		}
		fx.clock.Advance(25 * time.Hour)
		if _, err := fx.flow.ConsumeVerification(ctx, tok.Value); !errors.Is(err, jwt.ErrTokenExpired) {
			t.Fatalf("expected ErrTokenExpired, got %v", err)
		}
		fresh, err := fx.flow.IssueVerificationToken(ctx, "dave@example.com")
		if err != nil {
			t.Fatalf("resend: %v", err)
		}
		if _, err := fx.flow.ConsumeVerification(ctx, fresh.Value); err != nil {
			t.Fatalf("fresh token should verify: %v", err)
		}
		if _, err := fx.flow.IssueVerificationToken(ctx, "dave@example.com"); !errors.Is(err, ErrStateMismatch) {
			t.Fatalf("expected no resend after verification, got %v", err)
		}
	})
}

func TestOnboardingDuplicateRegistration(t *testing.T) {
	forEachStore(t, func(t *testing.T, fx *fixture) {
		ctx := context.Background()
		if _, _, err := fx.flow.Register(ctx, "erin@example.com"); err != nil {
			t.Fatal(err)
		}
		if _, _, err := fx.flow.Register(ctx, "ERIN@example.com"); !errors.Is(err, ErrAccountExists) {
			t.Fatalf("expected ErrAccountExists, got %v", err)
		}
		if _, _, err := fx.flow.Register(ctx, "not-an-email"); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("expected ErrInvalidEmail, got %v", err)
		}
	})
}

func TestConcurrentVerificationSingleWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, fx *fixture) {
		ctx := context.Background()
		_, tok, err := fx.flow.Register(ctx, "race@example.com")
		if err != nil {
			t.Fatal(err)
		}

		const workers = 16
		start := make(chan struct{})
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins, used := 0, 0
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := fx.flow.ConsumeVerification(ctx, tok.Value)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrTokenAlreadyUsed):
					used++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		close(start)
		wg.Wait()
		if wins != 1 || used != workers-1 {
			t.Fatalf("expected 1 winner and %d already-used, got %d/%d", workers-1, wins, used)
		}
	})
}
