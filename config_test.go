package authcore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 15*time.Minute, cfg.Tokens.AccessTTL)
	assert.Equal(t, 5, cfg.RateLimit.Threshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Store.OperationTimeout)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "leeway within bound",
			mutate:    func(c *Config) { c.Tokens.ClockSkewLeeway = 45 * time.Second },
			wantValid: true,
		},
		{
			name:   "leeway above bound",
			mutate: func(c *Config) { c.Tokens.ClockSkewLeeway = 10 * time.Minute },
		},
		{
			name:   "refresh shorter than access",
			mutate: func(c *Config) { c.Tokens.RefreshTTL = time.Minute },
		},
		{
			name:   "zero login threshold",
			mutate: func(c *Config) { c.RateLimit.Threshold = 0 },
		},
		{
			name:   "negative refresh lockout",
			mutate: func(c *Config) { c.RateLimit.Refresh.Lockout = -time.Second },
		},
		{
			name:   "ip rate without burst",
			mutate: func(c *Config) { c.RateLimit.IPBurst = 0 },
		},
		{
			name:      "ip throttle disabled",
			mutate:    func(c *Config) { c.RateLimit.IPRequestsPerSecond, c.RateLimit.IPBurst = 0, 0 },
			wantValid: true,
		},
		{
			name:   "zero store timeout",
			mutate: func(c *Config) { c.Store.OperationTimeout = 0 },
		},
		{
			name:   "weak password salt",
			mutate: func(c *Config) { c.Password.SaltLength = 8 },
		},
		{
			name:   "unknown key algorithm",
			mutate: func(c *Config) { c.Keys.Algorithm = "HS256" },
		},
		{
			name:   "negative audit sink timeout",
			mutate: func(c *Config) { c.Audit.SinkTimeout = -time.Second },
		},
		{
			name:   "audit without buffer",
			mutate: func(c *Config) { c.Audit.Enabled, c.Audit.BufferSize = true, 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestWithConfigClonesSlices(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Onboarding.DefaultScopes = []string{"a"}
	cfg.Keys.PrivateKeyPEM = []byte("pem")

	b := New().WithConfig(cfg)
	cfg.Onboarding.DefaultScopes[0] = "mutated"
	cfg.Keys.PrivateKeyPEM[0] = 'x'

	assert.Equal(t, []string{"a"}, b.config.Onboarding.DefaultScopes)
	assert.Equal(t, []byte("pem"), b.config.Keys.PrivateKeyPEM)
}

const sampleTOML = `
[keys]
algorithm = "RS256"
private_key_path = "/etc/authcore/signing.pem"

[tokens]
issuer = "https://auth.example.com"
access_ttl = "5m"

[rate_limit]
threshold = 3
lockout = "30m"

[rate_limit.refresh]
threshold = 50

[store]
redis_prefix = "svc:"
`

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authcore.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeTOML(t, sampleTOML)

	cfg, err := loadConfig(path, map[string]string{
		"AUTHCORE_TOKENS_AUDIENCE":           "api",
		"AUTHCORE_RATE_LIMIT_THRESHOLD":      "4",
		"AUTHCORE_STORE_OPERATION_TIMEOUT":   "100ms",
		"AUTHCORE_ONBOARDING_DEFAULT_SCOPES": "profile:read,profile:write",
	})
	require.NoError(t, err)

	assert.Equal(t, keys.RS256, cfg.Keys.Algorithm)
	assert.Equal(t, "/etc/authcore/signing.pem", cfg.Keys.PrivateKeyPath)
	assert.Equal(t, "https://auth.example.com", cfg.Tokens.Issuer)
	assert.Equal(t, "api", cfg.Tokens.Audience)
	assert.Equal(t, 5*time.Minute, cfg.Tokens.AccessTTL)
	assert.Equal(t, 4, cfg.RateLimit.Threshold, "env overrides file")
	assert.Equal(t, 30*time.Minute, cfg.RateLimit.Lockout)
	assert.Equal(t, 50, cfg.RateLimit.Refresh.Threshold)
	assert.Equal(t, time.Minute, cfg.RateLimit.Refresh.Window, "unset keys keep defaults")
	assert.Equal(t, "svc:", cfg.Store.RedisPrefix)
	assert.Equal(t, 100*time.Millisecond, cfg.Store.OperationTimeout)
	assert.Equal(t, []string{"profile:read", "profile:write"}, cfg.Onboarding.DefaultScopes)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeTOML(t, "[tokens]\naccess_tll = \"5m\"\n")

	_, err := loadConfig(path, map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tokens.access_tll")
}

func TestLoadConfigValidates(t *testing.T) {
	_, err := loadConfig("", map[string]string{"AUTHCORE_TOKENS_ACCESS_TTL": "0s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessTTL")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.toml"), map[string]string{})
	require.ErrorIs(t, err, os.ErrNotExist)
}
