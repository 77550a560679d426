package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/keys"
	"github.com/MrEthical07/authcore/password"
)

// Config is the complete engine configuration. Obtain defaults from
// [DefaultConfig] or [LoadConfig] and adjust before passing it to
// [Builder.WithConfig].
type Config struct {
	Keys       keys.Config      `toml:"keys" envPrefix:"KEYS_"`
	Tokens     TokensConfig     `toml:"tokens" envPrefix:"TOKENS_"`
	RateLimit  RateLimitConfig  `toml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Onboarding OnboardingConfig `toml:"onboarding" envPrefix:"ONBOARDING_"`
	Store      StoreConfig      `toml:"store" envPrefix:"STORE_"`
	Password   password.Config  `toml:"password" envPrefix:"PASSWORD_"`
	Audit      AuditConfig      `toml:"audit" envPrefix:"AUDIT_"`
	Metrics    MetricsConfig    `toml:"metrics" envPrefix:"METRICS_"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokensConfig controls issuance and verification.
type TokensConfig struct {
	Issuer   string `toml:"issuer" env:"ISSUER"`
	Audience string `toml:"audience" env:"AUDIENCE"`
	// AccessTTL bounds every access token.
	AccessTTL time.Duration `toml:"access_ttl" env:"ACCESS_TTL"`
	// RefreshTTL is the absolute lifetime of a refresh family. Rotation never
	// extends it.
	RefreshTTL time.Duration `toml:"refresh_ttl" env:"REFRESH_TTL"`
	// ClockSkewLeeway is added to exp, nbf and iat checks.
	ClockSkewLeeway time.Duration `toml:"clock_skew_leeway" env:"CLOCK_SKEW_LEEWAY"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RatePolicy is one sliding-window policy.
type RatePolicy struct {
	Window    time.Duration `toml:"window" env:"WINDOW"`
	Threshold int           `toml:"threshold" env:"THRESHOLD"`
	Lockout   time.Duration `toml:"lockout" env:"LOCKOUT"`
}

// RateLimitConfig holds the login policy at the top level plus the refresh
// and registration policies.
type RateLimitConfig struct {
	Window    time.Duration `toml:"window" env:"WINDOW"`
	Threshold int           `toml:"threshold" env:"THRESHOLD"`
	Lockout   time.Duration `toml:"lockout" env:"LOCKOUT"`

	Refresh  RatePolicy `toml:"refresh" envPrefix:"REFRESH_"`
	Register RatePolicy `toml:"register" envPrefix:"REGISTER_"`

	// FailClosedRetryAfter is reported when the limiter backend is down.
	FailClosedRetryAfter time.Duration `toml:"fail_closed_retry_after" env:"FAIL_CLOSED_RETRY_AFTER"`

	// IPRequestsPerSecond and IPBurst configure the in-process token bucket
	// in front of login, refresh and register. Zero disables it.
	IPRequestsPerSecond float64 `toml:"ip_requests_per_second" env:"IP_REQUESTS_PER_SECOND"`
	IPBurst             int     `toml:"ip_burst" env:"IP_BURST"`
}

// LoginPolicy returns the top-level login policy.
func (c RateLimitConfig) LoginPolicy() RatePolicy {
	return RatePolicy{Window: c.Window, Threshold: c.Threshold, Lockout: c.Lockout}
}

/*
====================================
ONBOARDING CONFIG
====================================
*/

// OnboardingConfig controls the verify-email and set-password tokens.
type OnboardingConfig struct {
	TokenTTL time.Duration `toml:"token_ttl" env:"TOKEN_TTL"`
	// DefaultScopes are granted to accounts that finish onboarding when the
	// built-in credential store is used.
	DefaultScopes []string `toml:"default_scopes" env:"DEFAULT_SCOPES" envSeparator:","`
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig controls the backing stores.
type StoreConfig struct {
	// RedisPrefix namespaces every key written by the Redis backends.
	RedisPrefix string `toml:"redis_prefix" env:"REDIS_PREFIX"`
	// OperationTimeout bounds each ledger, limiter and account store call.
	OperationTimeout time.Duration `toml:"operation_timeout" env:"OPERATION_TIMEOUT"`
	// RequireShared makes Build fail when no Redis or SQL backend is wired,
	// so that multi-instance deployments cannot fall back to memory stores.
	RequireShared bool `toml:"require_shared" env:"REQUIRE_SHARED"`
}

/*
====================================
AUDIT + METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `toml:"enabled" env:"ENABLED"`
	BufferSize int  `toml:"buffer_size" env:"BUFFER_SIZE"`
	DropIfFull bool `toml:"drop_if_full" env:"DROP_IF_FULL"`
	// SinkTimeout bounds each sink call. Zero disables the bound.
	SinkTimeout time.Duration `toml:"sink_timeout" env:"SINK_TIMEOUT"`
}

// MetricsConfig controls in-process metrics.
type MetricsConfig struct {
	Enabled                 bool `toml:"enabled" env:"ENABLED"`
	EnableLatencyHistograms bool `toml:"enable_latency_histograms" env:"ENABLE_LATENCY_HISTOGRAMS"`
}

// DefaultConfig returns the defaults used when no configuration is supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Keys: keys.Config{
			Algorithm: keys.Ed25519,
		},
		Tokens: TokensConfig{
			Issuer:          "authcore",
			AccessTTL:       15 * time.Minute,
			RefreshTTL:      14 * 24 * time.Hour,
			ClockSkewLeeway: jwt.DefaultLeeway,
		},
		RateLimit: RateLimitConfig{
			Window:    time.Minute,
			Threshold: 5,
			Lockout:   15 * time.Minute,
			Refresh: RatePolicy{
				Window:    time.Minute,
				Threshold: 20,
			},
			Register: RatePolicy{
				Window:    time.Hour,
				Threshold: 10,
			},
			FailClosedRetryAfter: 30 * time.Second,
			IPRequestsPerSecond:  10,
			IPBurst:              20,
		},
		Onboarding: OnboardingConfig{
			TokenTTL: 24 * time.Hour,
		},
		Store: StoreConfig{
			RedisPrefix:      "authcore:",
			OperationTimeout: 250 * time.Millisecond,
		},
		Password: password.DefaultConfig(),
		Audit: AuditConfig{
			Enabled:     false,
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Keys.PrivateKeyPEM = cloneBytes(cfg.Keys.PrivateKeyPEM)
	out.Keys.PublicKeyPEM = cloneBytes(cfg.Keys.PublicKeyPEM)
	if cfg.Onboarding.DefaultScopes != nil {
		out.Onboarding.DefaultScopes = append([]string(nil), cfg.Onboarding.DefaultScopes...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error. Key material is checked
// later, by Build.
func (c *Config) Validate() error {
	// Keys
	if c.Keys.Algorithm != "" && !c.Keys.Algorithm.Valid() {
		return fmt.Errorf("unsupported key algorithm %q", c.Keys.Algorithm)
	}

	// Tokens
	if c.Tokens.AccessTTL <= 0 {
		return errors.New("Tokens AccessTTL must be > 0")
	}
	if c.Tokens.RefreshTTL <= 0 {
		return errors.New("Tokens RefreshTTL must be > 0")
	}
	if c.Tokens.RefreshTTL < c.Tokens.AccessTTL {
		return errors.New("Tokens RefreshTTL must be >= AccessTTL")
	}
	if c.Tokens.ClockSkewLeeway < 0 || c.Tokens.ClockSkewLeeway > jwt.MaxLeeway {
		return fmt.Errorf("Tokens ClockSkewLeeway must be within [0, %s]", jwt.MaxLeeway)
	}

	// Rate limits
	if err := c.RateLimit.LoginPolicy().validate("RateLimit"); err != nil {
		return err
	}
	if err := c.RateLimit.Refresh.validate("RateLimit Refresh"); err != nil {
		return err
	}
	if err := c.RateLimit.Register.validate("RateLimit Register"); err != nil {
		return err
	}
	if c.RateLimit.FailClosedRetryAfter <= 0 {
		return errors.New("RateLimit FailClosedRetryAfter must be > 0")
	}
	if c.RateLimit.IPRequestsPerSecond < 0 || c.RateLimit.IPBurst < 0 {
		return errors.New("RateLimit IP throttle must not be negative")
	}
	if c.RateLimit.IPRequestsPerSecond > 0 && c.RateLimit.IPBurst == 0 {
		return errors.New("RateLimit IPBurst must be > 0 when IPRequestsPerSecond is set")
	}

	// Onboarding
	if c.Onboarding.TokenTTL <= 0 {
		return errors.New("Onboarding TokenTTL must be > 0")
	}

	// Store
	if c.Store.OperationTimeout <= 0 {
		return errors.New("Store OperationTimeout must be > 0")
	}

	// Password
	if c.Password.Memory == 0 || c.Password.Time == 0 || c.Password.Parallelism == 0 {
		return errors.New("Password cost parameters must be > 0")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Enabled")
	}
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}

	return nil
}

func (p RatePolicy) validate(name string) error {
	if p.Window <= 0 {
		return fmt.Errorf("%s Window must be > 0", name)
	}
	if p.Threshold <= 0 {
		return fmt.Errorf("%s Threshold must be > 0", name)
	}
	if p.Lockout < 0 {
		return fmt.Errorf("%s Lockout must be >= 0", name)
	}
	return nil
}
