// Package cmd wires up the CLI flags and dispatches to the relay modes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"relaychat/config"
	"relaychat/internal/core"
	"relaychat/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X relaychat/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// usageOut receives help text; tests redirect it.
var usageOut io.Writer = os.Stderr //nolint:gochecknoglobals

// invocation is one parsed command line.
type invocation struct {
	cfg     *config.Config
	fs      *flag.FlagSet
	help    bool
	version bool
	dryRun  bool

	// portFallback holds a positional port that did not parse.
	portFallback string
}

// Execute parses args and runs the selected relaychat mode.
func Execute(ctx context.Context, args []string) error {
	inv, err := parseArgs(args)
	if err != nil {
		return err
	}
	switch {
	case inv.version:
		fmt.Printf("relaychat %s\n", version)
		return nil
	case inv.help:
		printUsage(inv.fs)
		return nil
	}

	cfg := inv.cfg
	logger := util.NewLogger(cfg.Verbose)
	if inv.portFallback != "" {
		logger.Warn("invalid port %q; using default port %d", inv.portFallback, config.DefaultPort)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if inv.dryRun {
		fmt.Fprintf(usageOut, "relaychat %s: configuration OK (%s)\n", cfg.Mode, describe(cfg))
		return nil
	}

	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// ── parsing ──────────────────────────────────────────────────────────

func parseArgs(args []string) (*invocation, error) {
	inv := &invocation{cfg: config.Default()}

	if len(args) == 0 {
		inv.fs = newFlagSet("relaychat")
		inv.help = true
		return inv, nil
	}

	switch args[0] {
	case "-h", "--help", "help":
		inv.fs = newFlagSet("relaychat")
		inv.help = true
		return inv, nil
	case "--version", "version":
		inv.version = true
		return inv, nil
	case string(config.ModeServer):
		inv.cfg.Mode = config.ModeServer
	case string(config.ModeClient):
		inv.cfg.Mode = config.ModeClient
	default:
		return nil, fmt.Errorf("unknown command %q (use --help for usage)", args[0])
	}

	// Environment sits between defaults and flags.
	cfg := inv.cfg
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	fs := newFlagSet("relaychat " + args[0])
	inv.fs = fs

	// ── common ───────────────────────────────────────────────────
	var verbose int
	fs.CountVarP(&verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.IntVar(&cfg.MaxLineLength, "max-line-length", cfg.MaxLineLength, "Longest accepted line in bytes")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Per-write deadline (0 = 10s default)")
	fs.BoolVar(&inv.dryRun, "dry-run", false, "Validate the configuration and exit")
	fs.BoolVarP(&inv.help, "help", "h", false, "Show this help")
	fs.BoolVar(&inv.version, "version", false, "Print version and exit")

	if cfg.Mode == config.ModeServer {
		fs.StringVar(&cfg.Bind, "bind", cfg.Bind, "Address to listen on (default all interfaces)")
		fs.BoolVar(&cfg.AnnounceLogoff, "announce-logoff", cfg.AnnounceLogoff, "Broadcast \"<id> has logged off\"")
		fs.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "Lines per second per client (0 = unlimited)")
		fs.IntVar(&cfg.RateBurst, "rate-burst", cfg.RateBurst, "Burst allowed above --rate-limit")
		fs.IntVar(&cfg.OutboxSize, "outbox-size", cfg.OutboxSize, "Queued lines per client before it is dropped")
	} else {
		fs.IntVar(&cfg.ConnectRetries, "connect-retries", cfg.ConnectRetries, "Connection attempts before giving up")
		fs.DurationVarP(&cfg.Timeout, "timeout", "w", cfg.Timeout, "Connection timeout")

		// ── SSH tunnel ───────────────────────────────────────────
		fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "SSH tunnel via [user@]host[:port]")
		fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
		fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
		fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
		fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
		fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")
		fs.DurationVar(&cfg.KeepAlive, "ssh-keepalive", cfg.KeepAlive, "SSH keepalive interval (0 = off)")
	}

	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}
	if inv.help || inv.version {
		return inv, nil
	}
	if fs.Changed("verbose") {
		cfg.Verbose = verbose
	}

	if fs.Changed("tunnel") {
		if err := cfg.ApplyTunnelSpec(cfg.TunnelSpec); err != nil {
			return nil, err
		}
	}

	if err := parsePositional(inv, fs.Args()); err != nil {
		return nil, err
	}
	return inv, nil
}

// parsePositional handles `server [port]` and
// `client <loginID> [host] [port]`.  A port that does not parse falls
// back to the default.
func parsePositional(inv *invocation, rest []string) error {
	cfg := inv.cfg
	setPort := func(arg string) {
		port, ok := config.ParsePort(arg)
		if !ok {
			inv.portFallback = arg
		}
		cfg.Port = port
	}

	if cfg.Mode == config.ModeServer {
		switch len(rest) {
		case 0:
		case 1:
			setPort(rest[0])
		default:
			return fmt.Errorf("too many arguments (usage: relaychat server [port])")
		}
		return nil
	}

	switch len(rest) {
	case 3:
		setPort(rest[2])
		fallthrough
	case 2:
		cfg.Host = rest[1]
		fallthrough
	case 1:
		cfg.LoginID = rest[0]
	case 0:
		if cfg.LoginID == "" {
			return fmt.Errorf("login ID required (usage: relaychat client <loginID> [host] [port])")
		}
	default:
		return fmt.Errorf("too many arguments (usage: relaychat client <loginID> [host] [port])")
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(usageOut)
	fs.SortFlags = false
	fs.Usage = func() { printUsage(fs) }
	return fs
}

func describe(cfg *config.Config) string {
	if cfg.Mode == config.ModeServer {
		host := cfg.Bind
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("listen %s", util.ListenAddr(host, cfg.Port))
	}
	s := fmt.Sprintf("%s → %s", cfg.LoginID, cfg.Addr())
	if cfg.TunnelEnabled {
		s += fmt.Sprintf(" via ssh %s@%s:%d", cfg.TunnelUser, cfg.TunnelHost, cfg.TunnelPort)
	}
	if cfg.ConnectRetries > 1 {
		s += fmt.Sprintf(", %d attempts, timeout %s", cfg.ConnectRetries, cfg.Timeout.Round(time.Second))
	}
	return s
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(usageOut, `relaychat – line-oriented chat relay v%s

Usage:
  relaychat server [port] [options]                   Run the relay (default port %d)
  relaychat client <loginID> [host] [port] [options]  Join a relay (default %s:%d)

Options:
`, version, config.DefaultPort, config.DefaultHost, config.DefaultPort)
	if fs != nil {
		fs.PrintDefaults()
	}
	fmt.Fprintf(usageOut, `
Console directives:
  server: #quit #stop #close #start #setport <port> #getport #gethost #who #stats
  client: #quit #logoff #login #sethost <host> #setport <port> #gethost #getport

Environment:
  %[1]sHOST, %[1]sPORT, %[1]sLOGIN_ID, %[1]sVERBOSE, %[1]sOTEL_ENDPOINT, ...

Examples:
  relaychat server 5555
  relaychat client alice chat.example.com
  relaychat client alice db-internal 5555 -T ops@bastion
`, config.EnvPrefix)
}
