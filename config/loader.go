package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"github.com/caarlos0/env/v11"

	ncerr "relaychat/internal/errors"
)

// LoadFromEnv overlays RELAYCHAT_* environment variables onto cfg using
// the `env` struct tags on Config.  Unset variables leave the existing
// value alone.  Call it BEFORE CLI flag parsing so flags take
// precedence.
func LoadFromEnv(cfg *Config) error {
	return loadFromEnv(cfg, nil)
}

func loadFromEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return &ncerr.ConfigError{
			Field:   "env",
			Message: err.Error(),
			Hint:    "check the " + EnvPrefix + "* variables in your environment",
		}
	}
	if cfg.TunnelSpec != "" && !cfg.TunnelEnabled {
		if err := cfg.ApplyTunnelSpec(cfg.TunnelSpec); err != nil {
			return err
		}
	}
	return nil
}
