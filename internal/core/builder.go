package core

import (
	"fmt"
	"os"
	"time"

	"relaychat/config"
	"relaychat/internal/client"
	"relaychat/internal/console"
	"relaychat/internal/metrics"
	"relaychat/internal/operator"
	"relaychat/internal/retry"
	"relaychat/internal/router"
	"relaychat/internal/session"
	"relaychat/internal/telemetry"
	"relaychat/internal/transport"
	"relaychat/tunnel"
	"relaychat/util"
)

// Build constructs the appropriate Mode from the given configuration.
// cfg must already be validated.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	switch cfg.Mode {
	case config.ModeServer:
		return buildServer(cfg, logger)
	case config.ModeClient:
		return buildClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

// ── mode builders ────────────────────────────────────────────────────

func buildServer(cfg *config.Config, logger *util.Logger) (Mode, error) {
	collector := metrics.New()

	opts := []router.Option{
		router.WithMetrics(collector),
		router.WithLogoffNotice(cfg.AnnounceLogoff),
		router.WithMaxLineLength(cfg.MaxLineLength),
		router.WithTracer(telemetry.Tracer()),
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, router.WithRateLimit(cfg.RateLimit, cfg.RateBurst))
	}
	rt, err := router.New(session.NewRegistry(), logger, opts...)
	if err != nil {
		return nil, err
	}

	srv := transport.NewServer(transport.ServerConfig{
		Host:          cfg.Bind,
		Port:          cfg.Port,
		MaxLineLength: cfg.MaxLineLength,
		OutboxSize:    cfg.OutboxSize,
		WriteTimeout:  cfg.WriteTimeout,
	}, rt, logger)

	display := console.NewWriter(os.Stdout)
	return &ServerMode{
		Server: srv,
		Router: rt,
		Operator: &operator.Dispatcher{
			Server:  srv,
			Router:  rt,
			Metrics: collector,
			Display: display,
			Logger:  logger.Named("operator"),
		},
		Console:      &console.Reader{In: os.Stdin},
		OTelEndpoint: cfg.OTelEndpoint,
		Logger:       logger.Named("server"),
	}, nil
}

func buildClient(cfg *config.Config, logger *util.Logger) (Mode, error) {
	dialer := buildDialer(cfg, logger)

	backoff := retry.Attempts(cfg.ConnectRetries)
	backoff.OnRetry = func(attempt int, wait time.Duration, err error) {
		logger.Warn("connect attempt %d failed (%v); retrying in %s", attempt, err, wait)
	}

	c, err := client.New(client.Options{
		LoginID:       cfg.LoginID,
		Host:          cfg.Host,
		Port:          cfg.Port,
		Dialer:        dialer,
		Backoff:       backoff,
		Display:       console.NewWriter(os.Stdout),
		Logger:        logger,
		MaxLineLength: cfg.MaxLineLength,
		WriteTimeout:  cfg.WriteTimeout,
	})
	if err != nil {
		return nil, err
	}

	return &ClientMode{
		Client:     c,
		Dispatcher: client.NewDispatcher(c),
		Console:    &console.Reader{In: os.Stdin},
		Logger:     logger.Named("client"),
	}, nil
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the right transport.Dialer for the given config.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(&tunnel.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			Password:      cfg.SSHPass,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   cfg.Timeout,
			KeepAlive:     cfg.KeepAlive,
		}, logger)
	}
	return &transport.TCPDialer{
		Timeout:   cfg.Timeout,
		KeepAlive: cfg.KeepAlive,
	}
}
