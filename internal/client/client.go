// Package client implements the chat client: the connection state
// machine and the dispatcher for local # directives.
//
// The only directive that ever reaches the wire is the login line sent
// on entering Active; everything else is acted on locally.
package client

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"relaychat/internal/console"
	"relaychat/internal/directive"
	ncerr "relaychat/internal/errors"
	"relaychat/internal/retry"
	"relaychat/internal/transport"
	"relaychat/util"
)

// User-visible notices.
const (
	NoticeClosed       = "Connection closed"
	NoticeServerLost   = "The server has shut down unexpectedly."
	NoticeCannotSetup  = "ERROR - Can't setup connection! Terminating client."
	NoticeNotConnected = "Not connected. Use #login to connect."
	NoticeLoggedIn     = "You are already logged in."
)

// ── State ────────────────────────────────────────────────────────────

// State is the client connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Active
	Faulted
	Exited
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Faulted:
		return "faulted"
	case Exited:
		return "exited"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ── Client ───────────────────────────────────────────────────────────

// Options configures a Client.
type Options struct {
	LoginID string
	Host    string
	Port    int

	Dialer  transport.Dialer // defaults to a TCPDialer
	Backoff *retry.Backoff   // initial dial only; defaults to one attempt
	Display console.Display  // defaults to stdout
	Logger  *util.Logger

	MaxLineLength int
	WriteTimeout  time.Duration
}

// Client is the client session state machine.  Its methods are safe
// for concurrent use: the console goroutine drives it while a reader
// goroutine reports what the server sends.
type Client struct {
	loginID string
	dialer  transport.Dialer
	backoff *retry.Backoff
	display console.Display
	logger  *util.Logger

	maxLineLength int
	writeTimeout  time.Duration

	mu    sync.Mutex
	state State
	host  string
	port  int
	conn  net.Conn

	wmu   sync.Mutex
	fatal chan error
}

// New validates opts and returns a Disconnected client.
func New(opts Options) (*Client, error) {
	if opts.LoginID == "" || strings.ContainsAny(opts.LoginID, " \t\r\n") {
		return nil, fmt.Errorf("client: login ID %q must be a single non-empty word", opts.LoginID)
	}
	if opts.Dialer == nil {
		opts.Dialer = &transport.TCPDialer{}
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.Attempts(1)
	}
	if opts.Display == nil {
		opts.Display = console.NewWriter(nil)
	}
	if opts.Logger == nil {
		opts.Logger = util.NewLogger(0)
	}
	return &Client{
		loginID:       opts.LoginID,
		dialer:        opts.Dialer,
		backoff:       opts.Backoff,
		display:       opts.Display,
		logger:        opts.Logger.Named("client"),
		maxLineLength: opts.MaxLineLength,
		writeTimeout:  opts.WriteTimeout,
		state:         Disconnected,
		host:          opts.Host,
		port:          opts.Port,
		fatal:         make(chan error, 1),
	}, nil
}

// LoginID returns the identifier sent on every connect.
func (c *Client) LoginID() string { return c.loginID }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Host returns the relay host.
func (c *Client) Host() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host
}

// Port returns the relay port.
func (c *Client) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// Fatal delivers the error that ended the session when the connection
// faults.  At most one value is ever sent.
func (c *Client) Fatal() <-chan error { return c.fatal }

// SetHost changes the relay host.  Only allowed while Disconnected.
func (c *Client) SetHost(host string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireDisconnected(directive.SetHost, "host"); err != nil {
		return err
	}
	if host == "" {
		return ncerr.Usage(directive.SetHost, "Usage: #sethost <host>", nil)
	}
	c.host = host
	return nil
}

// SetPort changes the relay port.  Only allowed while Disconnected.
func (c *Client) SetPort(port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireDisconnected(directive.SetPort, "port"); err != nil {
		return err
	}
	if port < 1 || port > 65535 {
		return ncerr.Usage(directive.SetPort, "Invalid port number.", nil)
	}
	c.port = port
	return nil
}

// requireDisconnected must be called with c.mu held.
func (c *Client) requireDisconnected(dir, what string) error {
	if c.state == Disconnected {
		return nil
	}
	return ncerr.Usage(dir, "You must log off before setting the "+what+".", ncerr.ErrAlreadyConnected)
}

// ── Transitions ──────────────────────────────────────────────────────

// Connect moves Disconnected → Connecting → Active and sends the login
// line.  A dial or login-send failure moves the client to Faulted and
// is reported on Fatal as well as returned.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Connecting, Active:
		c.mu.Unlock()
		return ncerr.Usage(directive.Login, NoticeLoggedIn, ncerr.ErrAlreadyConnected)
	case Faulted, Exited:
		c.mu.Unlock()
		return ncerr.ErrNotConnected
	}
	c.state = Connecting
	addr := util.FormatAddr(c.host, c.port)
	c.mu.Unlock()

	c.logger.Verbose("connecting to %s as %s", addr, c.loginID)

	var conn net.Conn
	err := c.backoff.Do(ctx, func(attempt int) error {
		var derr error
		conn, derr = c.dialer.Dial(ctx, "tcp", addr)
		if derr != nil {
			c.logger.Verbose("connect attempt %d to %s failed: %v", attempt, addr, derr)
		}
		return derr
	})
	if err != nil {
		return c.fail(nil, fmt.Errorf("connect to %s: %w", addr, err))
	}

	c.mu.Lock()
	if c.state != Connecting {
		// Quit raced the dial.
		c.mu.Unlock()
		conn.Close() //nolint:errcheck
		return ncerr.ErrNotConnected
	}
	c.conn = conn
	c.state = Active
	c.mu.Unlock()

	c.logger.Verbose("connected to %s", conn.RemoteAddr())
	go c.readLoop(conn)

	// Entry action of Active.
	if err := c.write(conn, directive.LoginLine(c.loginID)); err != nil {
		return c.fail(conn, err)
	}
	return nil
}

// Send forwards a payload line verbatim.  It fails with ErrNotConnected
// unless the client is Active; a write failure faults the client.
func (c *Client) Send(line string) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if state != Active || conn == nil {
		return ncerr.ErrNotConnected
	}
	if err := c.write(conn, line); err != nil {
		return c.fail(conn, err)
	}
	return nil
}

// Logoff closes the connection and returns to Disconnected.
func (c *Client) Logoff() error {
	c.mu.Lock()
	if c.state != Active {
		c.mu.Unlock()
		return ncerr.ErrNotConnected
	}
	conn := c.conn
	c.conn = nil
	c.state = Disconnected
	c.mu.Unlock()

	conn.Close() //nolint:errcheck
	c.display.Display(NoticeClosed)
	return nil
}

// Quit closes the connection if open and moves to Exited.
func (c *Client) Quit() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = Exited
	c.mu.Unlock()

	if conn != nil {
		conn.Close() //nolint:errcheck
	}
	c.dialer.Close() //nolint:errcheck
}

// ── Connection I/O ───────────────────────────────────────────────────

func (c *Client) write(conn net.Conn, line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)) //nolint:errcheck
	}
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return ncerr.Wrap("write", conn.RemoteAddr().String(), err)
	}
	return nil
}

// readLoop displays every server line verbatim until the connection
// ends.  A loss the client did not initiate is either a graceful remote
// close (Disconnected) or a fault.
func (c *Client) readLoop(conn net.Conn) {
	sc := transport.NewLineScanner(conn, c.maxLineLength)
	for sc.Scan() {
		c.display.Display(sc.Text())
	}
	err := sc.Err()

	c.mu.Lock()
	if c.conn != conn {
		// Logoff or Quit already moved on.
		c.mu.Unlock()
		return
	}
	if err == nil {
		c.conn = nil
		c.state = Disconnected
		c.mu.Unlock()
		conn.Close() //nolint:errcheck
		c.logger.Verbose("server closed the connection")
		c.display.Display(NoticeClosed)
		return
	}
	c.mu.Unlock()

	c.fail(conn, ncerr.Wrap("read", conn.RemoteAddr().String(), err)) //nolint:errcheck
}

// fail moves to Faulted and publishes the fatal error.  conn is the
// connection that failed, or nil for a failed dial; a stale conn is
// ignored.
func (c *Client) fail(conn net.Conn, cause error) error {
	c.mu.Lock()
	if conn != nil && c.conn != conn {
		c.mu.Unlock()
		return cause
	}
	if c.state == Exited || c.state == Faulted {
		c.mu.Unlock()
		return cause
	}
	wasActive := c.state == Active
	c.state = Faulted
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close() //nolint:errcheck
	}

	c.logger.Warn("%v", cause)
	if wasActive {
		c.display.Display(NoticeServerLost)
	} else {
		c.display.Display(NoticeCannotSetup)
	}

	err := fmt.Errorf("%w: %w", ncerr.ErrFatalTransport, cause)
	select {
	case c.fatal <- err:
	default:
	}
	return err
}
