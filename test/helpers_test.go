//go:build integration
// +build integration

package test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/keys"
	"github.com/MrEthical07/authcore/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// redisMode describes which Redis backend the suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns the Redis backends to test. miniredis is always
// available. Real Redis is used when REDIS_ADDR is set, and a Sentinel
// deployment when REDIS_SENTINEL_ADDRS is set. Cluster mode is not supported:
// registration scripts touch keys in different slots.
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	if addrs := os.Getenv("REDIS_SENTINEL_ADDRS"); addrs != "" {
		master := os.Getenv("REDIS_SENTINEL_MASTER")
		if master == "" {
			master = "mymaster"
		}
		modes = append(modes, redisMode{
			name: "sentinel",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewFailoverClient(&redis.FailoverOptions{
					MasterName:    master,
					SentinelAddrs: splitAddrs(addrs),
				})
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis sentinel: %v", err)
				}
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	return modes
}

func splitAddrs(s string) []string {
	var addrs []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

func newEngine(t *testing.T, rdb redis.UniversalClient) *authcore.Engine {
	t.Helper()

	pair, err := keys.Generate(keys.Ed25519)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	provider, err := keys.New(pair)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}

	cfg := authcore.DefaultConfig()
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Onboarding.DefaultScopes = []string{"profile:read"}
	cfg.Store.RequireShared = true
	cfg.Store.OperationTimeout = time.Second

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithKeyProvider(provider).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func onboard(t *testing.T, engine *authcore.Engine, email, secret string) string {
	t.Helper()
	ctx := context.Background()

	reg, err := engine.Register(ctx, email)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	v, err := engine.VerifyEmail(ctx, reg.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := engine.CompletePasswordSetup(ctx, v.Token, secret); err != nil {
		t.Fatalf("set password: %v", err)
	}
	return reg.SubjectID
}
