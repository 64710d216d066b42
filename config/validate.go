package config

import (
	"os/user"
	"strings"

	ncerr "relaychat/internal/errors"
)

// Validate checks that the configuration is internally consistent for
// its mode.  Errors are *errors.ConfigError values carrying a hint.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeServer:
		if err := c.validateServer(); err != nil {
			return err
		}
	case ModeClient:
		if err := c.validateClient(); err != nil {
			return err
		}
	default:
		return &ncerr.ConfigError{
			Field:   "mode",
			Value:   string(c.Mode),
			Message: "unknown mode",
			Hint:    "run `relaychat server` or `relaychat client <loginID>`",
		}
	}

	if c.MaxLineLength < 1 {
		return &ncerr.ConfigError{
			Field: "max-line-length", Value: c.MaxLineLength,
			Message: "must be positive",
		}
	}
	if c.Verbose < 0 {
		return &ncerr.ConfigError{Field: "verbose", Value: c.Verbose, Message: "must not be negative"}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Port < 0 || c.Port > 65535 {
		return &ncerr.ConfigError{
			Field: "port", Value: c.Port,
			Message: "out of range",
			Hint:    "use a port between 1 and 65535 (0 picks a free one)",
		}
	}
	if c.RateLimit < 0 {
		return &ncerr.ConfigError{
			Field: "rate-limit", Value: c.RateLimit,
			Message: "must not be negative",
			Hint:    "use 0 to disable rate limiting",
		}
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return &ncerr.ConfigError{
			Field: "rate-burst", Value: c.RateBurst,
			Message: "must be at least 1 when --rate-limit is set",
		}
	}
	if c.WriteTimeout < 0 {
		return &ncerr.ConfigError{Field: "write-timeout", Value: c.WriteTimeout, Message: "must not be negative"}
	}
	if c.OutboxSize < 1 {
		return &ncerr.ConfigError{Field: "outbox-size", Value: c.OutboxSize, Message: "must be positive"}
	}
	if c.TunnelEnabled {
		return &ncerr.ConfigError{
			Field:   "tunnel",
			Value:   c.TunnelSpec,
			Message: "SSH tunnels are only supported by the client",
			Hint:    "expose the server port on the gateway and connect clients with -T",
		}
	}
	return nil
}

func (c *Config) validateClient() error {
	if c.LoginID == "" {
		return &ncerr.ConfigError{
			Field:   "login-id",
			Message: "a login ID is required",
			Hint:    "relaychat client <loginID> [host] [port]",
		}
	}
	if strings.ContainsAny(c.LoginID, " \t\r\n") {
		return &ncerr.ConfigError{
			Field: "login-id", Value: c.LoginID,
			Message: "must be a single word",
		}
	}
	if c.Host == "" {
		return &ncerr.ConfigError{Field: "host", Message: "relay host is required"}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &ncerr.ConfigError{
			Field: "port", Value: c.Port,
			Message: "out of range",
			Hint:    "use a port between 1 and 65535",
		}
	}
	if c.ConnectRetries < 1 {
		return &ncerr.ConfigError{
			Field: "connect-retries", Value: c.ConnectRetries,
			Message: "must be at least 1",
			Hint:    "1 means a single attempt with no retries",
		}
	}
	if c.TunnelEnabled {
		if c.TunnelHost == "" {
			return &ncerr.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
		}
		if c.TunnelUser == "" {
			// Same default as ssh(1).
			if u, err := user.Current(); err == nil {
				c.TunnelUser = u.Username
			}
		}
		if c.TunnelUser == "" {
			return &ncerr.ConfigError{
				Field: "tunnel", Value: c.TunnelSpec,
				Message: "could not determine the SSH user",
				Hint:    "use -T user@host[:port]",
			}
		}
	}
	return nil
}
