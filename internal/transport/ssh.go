package transport

import (
	"context"
	"errors"
	"net"
	"sync"

	ncerr "relaychat/internal/errors"
	"relaychat/tunnel"
	"relaychat/util"
)

// SSHDialer reaches the relay through an SSH gateway.  The tunnel is
// connected on the first Dial and torn down on Close.  A gateway that
// dropped between logins is re-established on the next Dial so #login
// works again without restarting the client.
type SSHDialer struct {
	config *tunnel.SSHConfig
	logger *util.Logger

	mu     sync.Mutex
	tunnel *tunnel.SSHTunnel // nil until the first Dial
}

// NewSSHDialer creates a dialer that forwards relay connections through
// the gateway described by cfg.
func NewSSHDialer(cfg *tunnel.SSHConfig, logger *util.Logger) *SSHDialer {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &SSHDialer{config: cfg, logger: logger}
}

// gateway names the tunnel endpoint in errors and logs.
func (d *SSHDialer) gateway() string {
	return "ssh://" + d.config.User + "@" + d.config.Addr()
}

// ensure returns a live tunnel, replacing a dead one.
func (d *SSHDialer) ensure(ctx context.Context) (*tunnel.SSHTunnel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tunnel != nil {
		if d.tunnel.IsAlive() {
			return d.tunnel, nil
		}
		d.logger.Warn("SSH tunnel %s went away; reconnecting", d.gateway())
		d.tunnel.Close() //nolint:errcheck
		d.tunnel = nil
	}

	d.logger.Verbose("establishing SSH tunnel %s", d.gateway())
	t := tunnel.NewSSHTunnel(d.config, d.logger)
	if err := t.Connect(ctx); err != nil {
		return nil, err
	}
	d.tunnel = t
	d.logger.Verbose("SSH tunnel established")
	return t, nil
}

// Dial opens a relay connection at address from the gateway.  Every
// failure is a *errors.NetworkError whose Addr names both the relay and
// the gateway, so the client's fatal notice says which hop broke.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	where := address + " via " + d.gateway()

	t, err := d.ensure(ctx)
	if err != nil {
		return nil, ncerr.Wrap("dial", where, err)
	}
	conn, err := t.Dial(ctx, network, address)
	if errors.Is(err, ncerr.ErrTunnelClosed) {
		// Died between ensure and Dial; one fresh tunnel.
		if t, err = d.ensure(ctx); err == nil {
			conn, err = t.Dial(ctx, network, address)
		}
	}
	if err != nil {
		var ne *ncerr.NetworkError
		if errors.As(err, &ne) {
			err = ne.Err
		}
		return nil, ncerr.Wrap("dial", where, err)
	}
	return conn, nil
}

// Close tears down the gateway connection.  Relay connections opened
// through it die with it.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tunnel == nil {
		return nil
	}
	err := d.tunnel.Close()
	d.tunnel = nil
	return err
}
