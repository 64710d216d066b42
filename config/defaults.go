package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags and environment variable loading.

const (
	// DefaultPort is the relay's well-known port, used when no port is
	// given or the given one does not parse.
	DefaultPort = 5555

	// DefaultHost is the relay host a client connects to.
	DefaultHost = "localhost"

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultMaxLineLength bounds one wire line in bytes.
	DefaultMaxLineLength = 4096

	// DefaultOutboxSize is the per-connection queue of undelivered lines.
	// A client that falls this far behind is disconnected.
	DefaultOutboxSize = 256

	// DefaultWriteTimeout bounds a single write to a client socket.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultConnTimeout is the TCP/SSH connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultConnectRetries is how many times a client tries its
	// initial dial.
	DefaultConnectRetries = 1

	// DefaultRateBurst is the burst allowed when rate limiting is on.
	DefaultRateBurst = 5

	// DefaultKeepAlive is the SSH keepalive interval.
	DefaultKeepAlive = 30 * time.Second

	// EnvPrefix prefixes every supported environment variable.
	EnvPrefix = "RELAYCHAT_"
)
