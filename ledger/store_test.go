package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"redis": func(t *testing.T) Store {
			mr, err := miniredis.Run()
			if err != nil {
				t.Fatalf("miniredis: %v", err)
			}
			t.Cleanup(mr.Close)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return NewRedisStore(rdb, "test:")
		},
		"sqlite": func(t *testing.T) Store {
			ctx := context.Background()
			db, err := OpenSQLite(ctx, ":memory:")
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { _ = db.Close() })
			if err := Migrate(ctx, db, SQLite); err != nil {
				t.Fatalf("migrate: %v", err)
			}
			return NewSQLStore(db, SQLite)
		},
	}
}

func newEntry(family, subject string) Entry {
	return Entry{
		FamilyID:  family,
		SubjectID: subject,
		IssuedAt:  epoch,
		ExpiresAt: epoch.Add(24 * time.Hour),
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestRegisterAndGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Register(ctx, newEntry("f1", "u1")); err != nil {
			t.Fatalf("register: %v", err)
		}
		e, err := s.Get(ctx, "f1", epoch)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if e.Status != StatusActive || e.Sequence != 0 || e.SubjectID != "u1" {
			t.Fatalf("unexpected entry: %+v", e)
		}
		if err := s.Register(ctx, newEntry("f1", "u2")); !errors.Is(err, ErrFamilyExists) {
			t.Fatalf("expected ErrFamilyExists, got %v", err)
		}
		if _, err := s.Get(ctx, "missing", epoch); !errors.Is(err, ErrFamilyNotFound) {
			t.Fatalf("expected ErrFamilyNotFound, got %v", err)
		}
	})
}

func TestRotateAdvancesSequence(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Register(ctx, newEntry("f1", "u1")); err != nil {
			t.Fatal(err)
		}
		for want := uint64(1); want <= 3; want++ {
			e, err := s.Rotate(ctx, "f1", want-1, epoch.Add(time.Duration(want)*time.Minute))
			if err != nil {
				t.Fatalf("rotate %d: %v", want, err)
			}
			if e.Sequence != want || e.Status != StatusRotated || e.SubjectID != "u1" {
				t.Fatalf("unexpected entry after rotation %d: %+v", want, e)
			}
		}
	})
}

func TestRotateReplayRevokesFamily(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Register(ctx, newEntry("f1", "u1")); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Rotate(ctx, "f1", 0, epoch); err != nil {
			t.Fatalf("first rotation: %v", err)
		}
		if _, err := s.Rotate(ctx, "f1", 0, epoch); !errors.Is(err, ErrReplayDetected) {
			t.Fatalf("expected ErrReplayDetected, got %v", err)
		}
		// The legitimate holder of sequence 1 is locked out too.
		if _, err := s.Rotate(ctx, "f1", 1, epoch); !errors.Is(err, ErrFamilyRevoked) {
			t.Fatalf("expected ErrFamilyRevoked, got %v", err)
		}
		e, err := s.Get(ctx, "f1", epoch)
		if err != nil {
			t.Fatal(err)
		}
		if e.Status != StatusRevoked {
			t.Fatalf("expected revoked family, got %s", e.Status)
		}
	})
}

func TestRotateExpiredFamily(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Register(ctx, newEntry("f1", "u1")); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Rotate(ctx, "f1", 0, epoch.Add(25*time.Hour)); !errors.Is(err, ErrFamilyNotFound) {
			t.Fatalf("expected ErrFamilyNotFound, got %v", err)
		}
		if _, err := s.Rotate(ctx, "nope", 0, epoch); !errors.Is(err, ErrFamilyNotFound) {
			t.Fatalf("expected ErrFamilyNotFound for unknown family, got %v", err)
		}
	})
}

func TestRevokeIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Register(ctx, newEntry("f1", "u1")); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 2; i++ {
			if err := s.Revoke(ctx, "f1", epoch); err != nil {
				t.Fatalf("revoke %d: %v", i, err)
			}
		}
		if err := s.Revoke(ctx, "missing", epoch); err != nil {
			t.Fatalf("revoke of unknown family should succeed: %v", err)
		}
		if _, err := s.Rotate(ctx, "f1", 0, epoch); !errors.Is(err, ErrFamilyRevoked) {
			t.Fatalf("expected ErrFamilyRevoked, got %v", err)
		}
	})
}

func TestRevokeSubject(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			if err := s.Register(ctx, newEntry(id, "u1")); err != nil {
				t.Fatal(err)
			}
		}
		if err := s.Register(ctx, newEntry("other", "u2")); err != nil {
			t.Fatal(err)
		}
		if err := s.Revoke(ctx, "c", epoch); err != nil {
			t.Fatal(err)
		}

		n, err := s.RevokeSubject(ctx, "u1", epoch)
		if err != nil {
			t.Fatalf("revoke subject: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 families revoked, got %d", n)
		}
		if _, err := s.Rotate(ctx, "other", 0, epoch); err != nil {
			t.Fatalf("unrelated subject must be untouched: %v", err)
		}
		if n, _ := s.RevokeSubject(ctx, "nobody", epoch); n != 0 {
			t.Fatalf("expected 0 for unknown subject, got %d", n)
		}
	})
}

func TestConcurrentRotateSingleWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Register(ctx, newEntry("race", "u1")); err != nil {
			t.Fatal(err)
		}

		const workers = 16
		start := make(chan struct{})
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		var unexpected []error

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := s.Rotate(ctx, "race", 0, epoch)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrReplayDetected), errors.Is(err, ErrFamilyRevoked):
				default:
					unexpected = append(unexpected, err)
				}
			}()
		}
		close(start)
		wg.Wait()

		if len(unexpected) > 0 {
			t.Fatalf("unexpected errors: %v", unexpected)
		}
		if wins != 1 {
			t.Fatalf("expected exactly one winner, got %d", wins)
		}
		e, err := s.Get(ctx, "race", epoch)
		if err != nil {
			t.Fatal(err)
		}
		if e.Status != StatusRevoked {
			t.Fatalf("expected family revoked after replay, got %s", e.Status)
		}
		if _, err := s.Rotate(ctx, "race", e.Sequence, epoch); err == nil {
			t.Fatal("revoked family must never rotate again")
		}
	})
}

func TestRegisterValidation(t *testing.T) {
	s := NewMemoryStore()
	bad := newEntry("", "u1")
	if err := s.Register(context.Background(), bad); err == nil {
		t.Fatal("expected missing family id to fail")
	}
	bad = newEntry("f", "u1")
	bad.ExpiresAt = bad.IssuedAt
	if err := s.Register(context.Background(), bad); err == nil {
		t.Fatal("expected non-positive lifetime to fail")
	}
}

func TestMemoryCancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Rotate(ctx, "f", 0, epoch); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestMemorySweep(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Register(ctx, newEntry("f1", "u1")); err != nil {
		t.Fatal(err)
	}
	if n := s.Sweep(epoch); n != 0 {
		t.Fatalf("expected nothing swept, got %d", n)
	}
	if n := s.Sweep(epoch.Add(48 * time.Hour)); n != 1 {
		t.Fatalf("expected one family swept, got %d", n)
	}
	if err := s.Register(ctx, newEntry("f1", "u1")); err != nil {
		t.Fatalf("family id should be reusable after sweep: %v", err)
	}
}

func TestListSubjectReturnsLiveFamilies(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		first := newEntry("a", "u1")
		first.ClientIP, first.UserAgent = "198.51.100.7", "Mozilla/5.0 (X11)"
		second := newEntry("b", "u1")
		second.IssuedAt = epoch.Add(time.Minute)
		short := newEntry("c", "u1")
		short.ExpiresAt = epoch.Add(time.Hour)
		for _, e := range []Entry{second, first, short, newEntry("d", "u1"), newEntry("x", "u2")} {
			if err := s.Register(ctx, e); err != nil {
				t.Fatalf("register %s: %v", e.FamilyID, err)
			}
		}
		if err := s.Revoke(ctx, "d", epoch); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Rotate(ctx, "b", 0, epoch.Add(2*time.Minute)); err != nil {
			t.Fatal(err)
		}

		got, err := s.ListSubject(ctx, "u1", epoch.Add(2*time.Hour))
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 2 || got[0].FamilyID != "a" || got[1].FamilyID != "b" {
			t.Fatalf("expected families [a b], got %+v", got)
		}
		if got[0].ClientIP != "198.51.100.7" || got[0].UserAgent != "Mozilla/5.0 (X11)" {
			t.Fatalf("client metadata not kept: %+v", got[0])
		}
		if got[1].Sequence != 1 || !got[1].LastRotatedAt.Equal(epoch.Add(2*time.Minute)) {
			t.Fatalf("rotation not reflected: %+v", got[1])
		}

		none, err := s.ListSubject(ctx, "nobody", epoch)
		if err != nil || len(none) != 0 {
			t.Fatalf("expected no families, got %v %v", none, err)
		}
	})
}

func TestMemoryRotateOfExpiredFamilyLeavesNoIndexEntry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Register(ctx, newEntry("f1", "u1")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Rotate(ctx, "f1", 0, epoch.Add(25*time.Hour)); !errors.Is(err, ErrFamilyNotFound) {
		t.Fatalf("expected ErrFamilyNotFound, got %v", err)
	}
	s.subjectsMu.Lock()
	_, ok := s.subjects["u1"]
	s.subjectsMu.Unlock()
	if ok {
		t.Fatal("expired family still indexed under its subject")
	}
	if n := s.Sweep(epoch.Add(48 * time.Hour)); n != 0 {
		t.Fatalf("nothing left to sweep, got %d", n)
	}
}

func TestRedisRotateKeepsLargeSequencesExact(t *testing.T) {
	s := backends()["redis"](t)
	ctx := context.Background()

	e := newEntry("big", "u1")
	e.Sequence = 1<<60 + 1
	if err := s.Register(ctx, e); err != nil {
		t.Fatal(err)
	}
	got, err := s.Rotate(ctx, "big", e.Sequence, epoch)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if got.Sequence != e.Sequence+1 {
		t.Fatalf("expected sequence %d, got %d", e.Sequence+1, got.Sequence)
	}
	stored, err := s.Get(ctx, "big", epoch)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Sequence != e.Sequence+1 {
		t.Fatalf("stored sequence %d, want %d", stored.Sequence, e.Sequence+1)
	}
	if _, err := s.Rotate(ctx, "big", e.Sequence+1, epoch); err != nil {
		t.Fatalf("successor must rotate: %v", err)
	}
}

func TestRedisUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	s := NewRedisStore(rdb, "")
	mr.Close()

	if _, err := s.Rotate(context.Background(), "f", 0, epoch); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := s.Register(context.Background(), newEntry("f", "u")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
