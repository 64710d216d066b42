// Package transport is the network collaborator of the chat core.  On
// the server side it accepts TCP connections, frames them into lines,
// and feeds a Handler; on the client side it provides Dialers that
// reach the relay directly or through an SSH tunnel.
//
// Nothing above this package touches net.Conn for server connections:
// the router sees each one only as a session.Conn.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound connections to the relay.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases long-lived resources held by the dialer (the SSH
	// session).  Stateless dialers return nil.
	Close() error
}
