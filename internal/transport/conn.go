package transport

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"

	ncerr "relaychat/internal/errors"
	"relaychat/internal/session"
	"relaychat/util"
)

// Default limits for server-side connections.
const (
	DefaultMaxLineLength = 4096
	DefaultOutboxSize    = 64
	DefaultWriteTimeout  = 10 * time.Second
)

// Conn is one accepted client connection.  It implements session.Conn:
// Send queues a line on a bounded outbox drained by a writer goroutine,
// so a slow peer never blocks the caller.
type Conn struct {
	id     string
	raw    net.Conn
	remote string
	logger *util.Logger

	writeTimeout time.Duration

	mu       sync.Mutex
	closed   bool
	outbox   chan string
	writeErr error

	attrMu sync.RWMutex
	attrs  map[string]string

	writerDone chan struct{}
}

func newConn(id string, raw net.Conn, outboxSize int, writeTimeout time.Duration, logger *util.Logger) *Conn {
	if outboxSize <= 0 {
		outboxSize = DefaultOutboxSize
	}
	if writeTimeout <= 0 {
		// A peer that stops reading must not pin the writer forever.
		writeTimeout = DefaultWriteTimeout
	}
	c := &Conn{
		id:           id,
		raw:          raw,
		remote:       raw.RemoteAddr().String(),
		logger:       logger,
		writeTimeout: writeTimeout,
		outbox:       make(chan string, outboxSize),
		attrs:        make(map[string]string),
		writerDone:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *Conn) ID() string         { return c.id }
func (c *Conn) RemoteAddr() string { return c.remote }

func (c *Conn) String() string {
	if id, ok := c.Attr(session.LoginAttr); ok {
		return id + "@" + c.remote
	}
	return c.remote
}

// Send queues line for delivery.  It fails with ErrConnClosed once the
// connection is closed and with ErrOutboxFull when the peer is not
// keeping up.
func (c *Conn) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ncerr.ErrConnClosed
	}
	select {
	case c.outbox <- line:
		return nil
	default:
		return &ncerr.NetworkError{Op: "send", Addr: c.remote, Err: ncerr.ErrOutboxFull}
	}
}

// Close stops accepting lines, lets the writer flush what is already
// queued, and unblocks the reader immediately.  Safe to call repeatedly.
func (c *Conn) Close() error {
	c.shutdown()
	// Expire pending reads now; the writer closes the socket after
	// flushing (bounded by the write timeout).
	c.raw.SetReadDeadline(time.Now()) //nolint:errcheck
	return nil
}

func (c *Conn) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.outbox)
	return true
}

// Closed reports whether Close has been called or the writer failed.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// WriteErr returns the error that stopped the writer, if any.
func (c *Conn) WriteErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeErr
}

func (c *Conn) SetAttr(key, value string) {
	c.attrMu.Lock()
	c.attrs[key] = value
	c.attrMu.Unlock()
}

func (c *Conn) Attr(key string) (string, bool) {
	c.attrMu.RLock()
	defer c.attrMu.RUnlock()
	v, ok := c.attrs[key]
	return v, ok
}

// ── Writer ───────────────────────────────────────────────────────────

func (c *Conn) writeLoop() {
	defer close(c.writerDone)
	defer c.raw.Close() //nolint:errcheck

	w := bufio.NewWriter(c.raw)
	var failed bool
	for line := range c.outbox {
		if failed {
			continue
		}
		if err := c.write(w, line); err != nil {
			failed = true
			c.mu.Lock()
			c.writeErr = &ncerr.NetworkError{Op: "write", Addr: c.remote, Err: err}
			c.mu.Unlock()
			c.logger.Debug("write to %s failed: %v", c.remote, err)
			c.shutdown()
			// Wake the reader with a real error rather than a deadline.
			c.raw.Close() //nolint:errcheck
		}
	}
}

func (c *Conn) write(w *bufio.Writer, line string) error {
	if c.writeTimeout > 0 {
		c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout)) //nolint:errcheck
	}
	if _, err := w.WriteString(line); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	// Batch whatever is already queued into one flush.
	if len(c.outbox) > 0 {
		return nil
	}
	return w.Flush()
}

// ── Reader ───────────────────────────────────────────────────────────

// NewLineScanner frames r into lines of at most maxLen bytes; a longer
// line stops the scanner with bufio.ErrTooLong.  bufio.ScanLines strips
// a trailing "\r".
func NewLineScanner(r io.Reader, maxLen int) *bufio.Scanner {
	if maxLen <= 0 {
		maxLen = DefaultMaxLineLength
	}
	sc := bufio.NewScanner(r)
	// Room for the "\r\n" terminator on a maximum-length line.
	sc.Buffer(make([]byte, 0, min(maxLen+2, 4096)), maxLen+2)
	sc.Split(bufio.ScanLines)
	return sc
}
