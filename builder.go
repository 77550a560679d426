package authcore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/clock"
	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/keys"
	"github.com/MrEthical07/authcore/ledger"
	"github.com/MrEthical07/authcore/onboarding"
	"github.com/MrEthical07/authcore/password"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. Configure it during initialization and call
// Build once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	sqlDB      *sql.DB
	sqlDialect ledger.Dialect

	keyProvider *keys.Provider
	ledgerStore ledger.Store
	accounts    onboarding.AccountStore
	credentials CredentialStore

	clock     Clock
	logger    *slog.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs the ledger, the rate limiters and the account store with
// Redis unless a more specific store is set.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSQL backs the refresh ledger with db. The schema must already be
// migrated, see [ledger.Migrate].
func (b *Builder) WithSQL(db *sql.DB, dialect ledger.Dialect) *Builder {
	b.sqlDB = db
	b.sqlDialect = dialect
	return b
}

func (b *Builder) WithLedgerStore(store ledger.Store) *Builder {
	b.ledgerStore = store
	return b
}

func (b *Builder) WithAccountStore(store onboarding.AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithCredentialStore replaces the built-in credential check over onboarding
// accounts.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.credentials = store
	return b
}

// WithKeyProvider supplies an already loaded key pair instead of Config.Keys.
func (b *Builder) WithKeyProvider(p *keys.Provider) *Builder {
	b.keyProvider = p
	return b
}

func (b *Builder) WithClock(c Clock) *Builder {
	b.clock = c
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, loads keys and wires every component.
// A missing or malformed key pair fails with ErrKeyUnavailable.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	shared := b.redis != nil || b.sqlDB != nil || b.ledgerStore != nil
	if cfg.Store.RequireShared && !shared {
		return nil, errors.New("Store RequireShared needs a Redis client, SQL database or ledger store")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clk := b.clock
	if clk == nil {
		clk = clock.System{}
	}

	// -------- KEYS + CODEC --------
	provider := b.keyProvider
	if provider == nil {
		p, err := keys.Load(cfg.Keys)
		if err != nil {
			return nil, err
		}
		provider = p
	}
	codec, err := jwt.NewCodec(provider, jwt.Config{
		Issuer:   cfg.Tokens.Issuer,
		Audience: cfg.Tokens.Audience,
		Leeway:   cfg.Tokens.ClockSkewLeeway,
		Clock:    clk,
	})
	if err != nil {
		return nil, err
	}

	// -------- STORES --------
	ledgerStore := b.ledgerStore
	switch {
	case ledgerStore != nil:
	case b.sqlDB != nil:
		if b.sqlDialect != ledger.Postgres && b.sqlDialect != ledger.SQLite {
			return nil, fmt.Errorf("unsupported SQL dialect %q", b.sqlDialect)
		}
		ledgerStore = ledger.NewSQLStore(b.sqlDB, b.sqlDialect)
	case b.redis != nil:
		ledgerStore = ledger.NewRedisStore(b.redis, cfg.Store.RedisPrefix)
	default:
		ledgerStore = ledger.NewMemoryStore()
	}

	var limiterStore rate.Store
	if b.redis != nil {
		limiterStore = rate.NewRedisStore(b.redis, cfg.Store.RedisPrefix)
	} else {
		limiterStore = rate.NewMemoryStore()
	}

	accounts := b.accounts
	if accounts == nil {
		if b.redis != nil {
			accounts = onboarding.NewRedisStore(b.redis, cfg.Store.RedisPrefix)
		} else {
			accounts = onboarding.NewMemoryStore()
		}
	}

	// -------- PASSWORD + ONBOARDING --------
	hasher, err := password.NewArgon2(cfg.Password)
	if err != nil {
		return nil, err
	}
	flow, err := onboarding.NewFlow(codec, accounts, cfg.Onboarding.TokenTTL, clk)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:          cloneConfig(cfg),
		logger:          logger,
		clock:           clk,
		keys:            provider,
		codec:           codec,
		ledger:          ledgerStore,
		accounts:        accounts,
		onboarding:      flow,
		passwordHash:    hasher,
		loginLimiter:    rate.New(limiterStore, ratePolicy(cfg.RateLimit.LoginPolicy()), clk),
		refreshLimiter:  rate.New(limiterStore, ratePolicy(cfg.RateLimit.Refresh), clk),
		registerLimiter: rate.New(limiterStore, ratePolicy(cfg.RateLimit.Register), clk),
		limiterStore:    limiterStore,
		throttle:        rate.NewThrottle(cfg.RateLimit.IPRequestsPerSecond, cfg.RateLimit.IPBurst),
		metrics:         NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:     cfg.Audit.Enabled,
			BufferSize:  cfg.Audit.BufferSize,
			DropIfFull:  cfg.Audit.DropIfFull,
			SinkTimeout: cfg.Audit.SinkTimeout,
			Logger:      logger,
		}, b.auditSink),
	}

	engine.credentials = b.credentials
	if engine.credentials == nil {
		engine.credentials = &AccountCredentials{
			accounts: accounts,
			hasher:   hasher,
			scopes:   cfg.Onboarding.DefaultScopes,
			clock:    clk,
			timeout:  cfg.Store.OperationTimeout,
			logger:   logger,
		}
	}

	engine.flows = flows.New(engine.flowDeps())

	logger.Info("authcore engine built",
		slog.String("key_id", codec.KeyID()),
		slog.String("algorithm", string(provider.Current().Algorithm)),
		slog.String("ledger", fmt.Sprintf("%T", ledgerStore)),
		slog.Bool("redis", b.redis != nil),
	)

	b.built = true

	return engine, nil
}

func ratePolicy(p RatePolicy) rate.Policy {
	return rate.Policy{Window: p.Window, Threshold: p.Threshold, Lockout: p.Lockout}
}

func (e *Engine) flowDeps() flows.Deps {
	deps := flows.Deps{
		Codec:        e.codec,
		Ledger:       e.ledger,
		Now:          e.clock.Now,
		AccessTTL:    e.config.Tokens.AccessTTL,
		RefreshTTL:   e.config.Tokens.RefreshTTL,
		StoreTimeout: e.config.Store.OperationTimeout,
		NewFamilyID:  uuid.NewString,
		Warn: func(msg string, args ...any) {
			e.logger.Warn(msg, args...)
		},
		Login: flows.LoginDeps{
			Limiter:            e.loginLimiter,
			InvalidCredentials: ErrInvalidCredentials,
			VerifyCredentials: func(ctx context.Context, identifier, secret string) (flows.Principal, error) {
				p, err := e.credentials.VerifyCredentials(ctx, identifier, secret)
				return flows.Principal{SubjectID: p.SubjectID, Scopes: p.Scopes}, err
			},
		},
		Refresh: flows.RefreshDeps{Limiter: e.refreshLimiter},
		Register: flows.RegisterDeps{
			Limiter: e.registerLimiter,
			Register: func(ctx context.Context, email string) (onboarding.Account, onboarding.Token, error) {
				return e.onboarding.Register(ctx, email)
			},
			Resend: func(ctx context.Context, email string) (onboarding.Token, error) {
				return e.onboarding.IssueVerificationToken(ctx, email)
			},
		},
	}
	if e.throttle != nil {
		deps.Throttle = e.throttle.Allow
	}
	return deps
}
