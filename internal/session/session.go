// Package session holds the server-side state for each live connection.
//
// A Record binds one connection to its authentication state.  The
// routing engine is the only writer; the transport creates and destroys
// records through the engine's lifecycle hooks.  Records see the
// connection through the narrow Conn capability so routing can be
// tested without sockets.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// LoginAttr is the connection attribute key that mirrors a record's
// login identifier.
const LoginAttr = "loginID"

// Conn is the per-connection capability the routing engine needs from
// the transport.
type Conn interface {
	// ID is a stable identifier for the life of the connection.
	ID() string
	// RemoteAddr describes the peer for logs.
	RemoteAddr() string
	// Send queues one line for delivery.  It must not block on a slow
	// peer and returns an error once the connection is unusable.
	Send(line string) error
	// Close terminates the connection.  Safe to call more than once.
	Close() error
	// SetAttr and Attr expose a small string-keyed store scoped to the
	// connection.
	SetAttr(key, value string)
	Attr(key string) (string, bool)
}

// Record is the server's view of one connection.
type Record struct {
	ID          uuid.UUID
	ConnectedAt time.Time

	conn Conn

	mu      sync.RWMutex
	loginID string
}

// New creates an unauthenticated record for conn.
func New(conn Conn) *Record {
	return &Record{
		ID:          uuid.New(),
		ConnectedAt: time.Now(),
		conn:        conn,
	}
}

// Conn returns the connection the record refers to.
func (r *Record) Conn() Conn { return r.conn }

// LoginID returns the login identifier and whether it has been set.
func (r *Record) LoginID() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loginID, r.loginID != ""
}

// Authenticated reports whether a login has been accepted.
func (r *Record) Authenticated() bool {
	_, ok := r.LoginID()
	return ok
}

// Login sets the login identifier once.  It returns false, leaving the
// record untouched, when the record is already authenticated or id is
// empty.
func (r *Record) Login(id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loginID != "" {
		return false
	}
	r.loginID = id
	r.conn.SetAttr(LoginAttr, id)
	return true
}

// Label names the record in logs: the login ID when known, otherwise
// the peer address.
func (r *Record) Label() string {
	if id, ok := r.LoginID(); ok {
		return id
	}
	return r.conn.RemoteAddr()
}
