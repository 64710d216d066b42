// Package sessiontest provides an in-memory session.Conn for tests.
package sessiontest

import (
	"fmt"
	"sync"
	"sync/atomic"

	ncerr "relaychat/internal/errors"
)

var nextID atomic.Int64

// Conn records every line sent to it.  Once closed, Send fails with
// ErrConnClosed just like the TCP transport.
type Conn struct {
	id   string
	addr string

	mu      sync.Mutex
	sent    []string
	attrs   map[string]string
	closed  bool
	sendErr error
	onSend  func(line string)
}

// NewConn returns an open connection with a unique ID.
func NewConn() *Conn {
	n := nextID.Add(1)
	return &Conn{
		id:    fmt.Sprintf("test-%d", n),
		addr:  fmt.Sprintf("127.0.0.1:%d", 40000+n),
		attrs: make(map[string]string),
	}
}

// FailSends makes every subsequent Send return err.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// OnSend installs a hook that runs after each successful Send, outside
// the connection lock.
func (c *Conn) OnSend(fn func(line string)) {
	c.mu.Lock()
	c.onSend = fn
	c.mu.Unlock()
}

func (c *Conn) ID() string         { return c.id }
func (c *Conn) RemoteAddr() string { return c.addr }

func (c *Conn) Send(line string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ncerr.ErrConnClosed
	}
	if c.sendErr != nil {
		err := c.sendErr
		c.mu.Unlock()
		return err
	}
	c.sent = append(c.sent, line)
	hook := c.onSend
	c.mu.Unlock()

	if hook != nil {
		hook(line)
	}
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *Conn) SetAttr(key, value string) {
	c.mu.Lock()
	c.attrs[key] = value
	c.mu.Unlock()
}

func (c *Conn) Attr(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.attrs[key]
	return v, ok
}

// Sent returns a copy of every line delivered so far.
func (c *Conn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Reset forgets every line delivered so far.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()
}
