package authcore

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override read by [LoadConfig].
const EnvPrefix = "AUTHCORE_"

// LoadConfig starts from the defaults, decodes the TOML file at path over
// them (skipped when path is empty), applies AUTHCORE_* environment
// overrides and validates the result. Unknown TOML keys are rejected.
func LoadConfig(path string) (Config, error) {
	return loadConfig(path, nil)
}

// loadConfig takes an explicit environment for tests; nil reads os.Environ.
func loadConfig(path string, environ map[string]string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config file %s: %w", path, err)
			}
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return Config{}, fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
