package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/keys"
	"github.com/MrEthical07/authcore/ledger"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type familyState struct {
	id       string
	subject  string
	sequence uint64
	mu       sync.Mutex
}

func main() {
	var (
		families    = flag.Int("families", 100000, "number of refresh families to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (validate + rotate)")
		backend     = flag.String("backend", "redis", "ledger backend: redis or memory")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "authcore:", "redis key prefix")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *families <= 0 || *concurrency <= 0 || *ops <= 0 {
		logger.Error("families, concurrency and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	store, cleanup, err := openLedger(logger, *backend, *redisAddr, *prefix)
	if err != nil {
		logger.Error("open ledger", slog.Any("error", err))
		os.Exit(1)
	}
	defer cleanup()

	pair, err := keys.Generate(keys.Ed25519)
	if err != nil {
		logger.Error("generate key", slog.Any("error", err))
		os.Exit(1)
	}
	provider, err := keys.New(pair)
	if err != nil {
		logger.Error("load key", slog.Any("error", err))
		os.Exit(1)
	}
	codec, err := jwt.NewCodec(provider, jwt.Config{Issuer: "authcore-loadtest"})
	if err != nil {
		logger.Error("codec", slog.Any("error", err))
		os.Exit(1)
	}

	states := make([]familyState, *families)
	logger.Info("seeding families", slog.Int("count", *families))
	startSeed := time.Now()
	now := time.Now().UTC()
	for i := 0; i < *families; i++ {
		states[i] = familyState{id: uuid.NewString(), subject: fmt.Sprintf("user-%d", i)}
		err := store.Register(ctx, ledger.Entry{
			FamilyID:  states[i].id,
			SubjectID: states[i].subject,
			Status:    ledger.StatusActive,
			IssuedAt:  now,
			ExpiresAt: now.Add(24 * time.Hour),
		})
		if err != nil {
			logger.Error("register failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
	logger.Info("seeded", slog.Duration("elapsed", time.Since(startSeed).Round(time.Millisecond)))

	tokens := make([]string, 1024)
	for i := range tokens {
		tok, _, err := codec.Issue(states[i%len(states)].subject, jwt.TypeAccess, 15*time.Minute, jwt.Extra{Scopes: []string{"profile:read"}})
		if err != nil {
			logger.Error("issue failed", slog.Any("error", err))
			os.Exit(1)
		}
		tokens[i] = tok
	}

	validateStats := runValidatePhase(codec, tokens, *ops, *concurrency)
	rotateStats := runRotatePhase(ctx, store, states, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("rotate", rotateStats)
}

func openLedger(logger *slog.Logger, backend, addr, prefix string) (ledger.Store, func(), error) {
	switch backend {
	case "memory":
		return ledger.NewMemoryStore(), func() {}, nil
	case "redis":
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}

	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		logger.Info("using miniredis", slog.String("addr", mr.Addr()))
		return ledger.NewRedisStore(client, prefix), func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	logger.Info("using redis", slog.String("addr", addr))
	return ledger.NewRedisStore(client, prefix), func() { _ = client.Close() }, nil
}

func runValidatePhase(codec *jwt.Codec, tokens []string, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 7919, func(r *rand.Rand, _ int) error {
		_, err := codec.VerifyType(tokens[r.Intn(len(tokens))], jwt.TypeAccess)
		return err
	})
}

func runRotatePhase(ctx context.Context, store ledger.Store, states []familyState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 6151, func(r *rand.Rand, _ int) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()
		entry, err := store.Rotate(ctx, state.id, state.sequence, time.Now().UTC())
		if err != nil {
			return err
		}
		state.sequence = entry.Sequence
		return nil
	})
}

// runPhase spreads ops calls of op over concurrency workers and records the
// latency of each call, including failed ones.
func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
