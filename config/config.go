// Package config defines the runtime configuration for relaychat and
// provides helpers for parsing ports and tunnel specifications.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Mode selects which side of the relay a process runs.
type Mode string

const (
	ModeServer Mode = "server"
	ModeClient Mode = "client"
)

// Config holds every tuneable for one relaychat process.  Fields with an
// `env` tag can be set through RELAYCHAT_<NAME>.
type Config struct {
	Mode Mode

	// ── Relay address ────────────────────────────────────────────────
	Host string `env:"HOST"` // client: relay host
	Port int    `env:"PORT"` // client: relay port; server: listen port (0 = ephemeral)
	Bind string `env:"BIND"` // server: bind address ("" = all interfaces)

	// ── Server ───────────────────────────────────────────────────────
	AnnounceLogoff bool          `env:"ANNOUNCE_LOGOFF"`
	RateLimit      float64       `env:"RATE_LIMIT"` // lines/sec per connection, 0 = off
	RateBurst      int           `env:"RATE_BURST"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT"`
	OutboxSize     int           `env:"OUTBOX_SIZE"`
	MaxLineLength  int           `env:"MAX_LINE_LENGTH"`

	// ── Client ───────────────────────────────────────────────────────
	LoginID        string        `env:"LOGIN_ID"`
	ConnectRetries int           `env:"CONNECT_RETRIES"`
	Timeout        time.Duration `env:"TIMEOUT"`

	// ── SSH tunnel (client only) ─────────────────────────────────────
	TunnelSpec     string `env:"TUNNEL"` // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string        `env:"SSH_KEY"`
	SSHPassword    bool          `env:"SSH_PASSWORD"` // true → prompt interactively
	SSHPass        string        `env:"SSH_PASS"`     // literal password, never prompted
	UseSSHAgent    bool          `env:"SSH_AGENT"`
	StrictHostKey  bool          `env:"STRICT_HOSTKEY"`
	KnownHostsPath string        `env:"KNOWN_HOSTS"`
	KeepAlive      time.Duration `env:"SSH_KEEPALIVE"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose      int    `env:"VERBOSE"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		RateBurst:      DefaultRateBurst,
		WriteTimeout:   DefaultWriteTimeout,
		OutboxSize:     DefaultOutboxSize,
		MaxLineLength:  DefaultMaxLineLength,
		ConnectRetries: DefaultConnectRetries,
		Timeout:        DefaultConnTimeout,
		KeepAlive:      DefaultKeepAlive,
	}
}

// Addr returns the relay address a client dials.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ── Port helper ──────────────────────────────────────────────────────

// ParsePort converts a positional port argument.  An empty, non-numeric,
// or out-of-range value yields DefaultPort and ok=false so the caller
// can say it fell back.
func ParsePort(arg string) (port int, ok bool) {
	if arg == "" {
		return DefaultPort, false
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > 65535 {
		return DefaultPort, false
	}
	return n, true
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "alice@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ApplyTunnelSpec parses spec into the tunnel fields and enables the
// tunnel.
func (c *Config) ApplyTunnelSpec(spec string) error {
	user, host, port, err := ParseTunnelSpec(spec)
	if err != nil {
		return fmt.Errorf("tunnel: %w", err)
	}
	c.TunnelSpec = spec
	c.TunnelEnabled = true
	c.TunnelUser = user
	c.TunnelHost = host
	c.TunnelPort = port
	return nil
}
