// Package tunnel carries the chat client's TCP connection through an
// SSH gateway, for relays that are only reachable from inside a private
// network.  The SSH session is the only encryption involved; the chat
// protocol itself stays plain text inside it.
package tunnel

import (
	"context"
	"net"
)

// Tunnel is an established channel through which connections to the
// relay can be opened.
type Tunnel interface {
	// Connect establishes the tunnel to the gateway.
	Connect(ctx context.Context) error

	// Dial opens a connection to address through the tunnel.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close tears down the tunnel.
	Close() error

	// IsAlive reports whether the gateway connection is still up.
	IsAlive() bool
}
