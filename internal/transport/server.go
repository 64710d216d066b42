package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	ncerr "relaychat/internal/errors"
	"relaychat/internal/session"
	"relaychat/util"
)

// Handler receives connection lifecycle events and inbound lines from
// a Server.  Every method is called from the connection's own reader
// goroutine; lines of one connection arrive strictly in order.
type Handler interface {
	OnConnect(conn session.Conn)
	OnDisconnect(conn session.Conn)
	OnConnectionFault(conn session.Conn, cause error)
	HandleLine(ctx context.Context, conn session.Conn, line string) error
}

// ServerConfig holds the tunables of a Server.  Zero values select the
// package defaults.
type ServerConfig struct {
	Host          string // bind address; "" listens on all interfaces
	Port          int    // 0 picks an ephemeral port
	MaxLineLength int
	OutboxSize    int
	WriteTimeout  time.Duration
}

// Server accepts TCP connections, frames them into lines, and drives a
// Handler.  Stopping the listener leaves established connections
// running; Close drops them too.
type Server struct {
	handler Handler
	logger  *util.Logger

	maxLineLength int
	outboxSize    int
	writeTimeout  time.Duration

	mu     sync.Mutex
	host   string
	port   int
	ln     net.Listener
	stop   chan struct{}
	accept *errgroup.Group
	conns  map[*Conn]struct{}
	nextID int

	readers sync.WaitGroup
}

// NewServer creates a stopped server.  Call Listen to start accepting.
func NewServer(cfg ServerConfig, handler Handler, logger *util.Logger) *Server {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	if cfg.MaxLineLength <= 0 {
		cfg.MaxLineLength = DefaultMaxLineLength
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Server{
		handler:       handler,
		logger:        logger.Named("transport"),
		maxLineLength: cfg.MaxLineLength,
		outboxSize:    cfg.OutboxSize,
		writeTimeout:  cfg.WriteTimeout,
		host:          cfg.Host,
		port:          cfg.Port,
		conns:         make(map[*Conn]struct{}),
	}
}

// ── Listening ────────────────────────────────────────────────────────

// Listen binds the configured address and starts the accept loop in the
// background.  The listener stops when ctx is cancelled, StopListening
// is called, or Accept fails.
func (s *Server) Listen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln != nil {
		return ncerr.ErrListening
	}

	addr := util.ListenAddr(s.host, s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return ncerr.Wrap("listen", addr, err)
	}
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcp.Port
	}

	stop := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.acceptLoop(ctx, ln)
	})
	g.Go(func() error {
		// Shut the listener down when the context expires.
		select {
		case <-gctx.Done():
		case <-stop:
		}
		ln.Close() //nolint:errcheck
		return nil
	})

	s.ln, s.stop, s.accept = ln, stop, g
	s.logger.Info("Server listening for connections on port %d", s.port)
	return nil
}

// StopListening closes the listener and waits for the accept loop to
// exit.  Established connections are untouched.
func (s *Server) StopListening() error {
	s.mu.Lock()
	if s.ln == nil {
		s.mu.Unlock()
		return ncerr.ErrNotListening
	}
	stop, g := s.stop, s.accept
	s.ln, s.stop, s.accept = nil, nil, nil
	s.mu.Unlock()

	close(stop)
	err := g.Wait()
	s.logger.Info("Server has stopped listening for connections.")
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	defer func() {
		s.mu.Lock()
		if s.ln == ln {
			s.ln, s.stop, s.accept = nil, nil, nil
			s.logger.Info("Server has stopped listening for connections.")
		}
		s.mu.Unlock()
	}()

	for {
		raw, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept: %v", err)
			return ncerr.Wrap("accept", ln.Addr().String(), err)
		}
		s.serve(ctx, raw)
	}
}

// ── Connections ──────────────────────────────────────────────────────

func (s *Server) serve(ctx context.Context, raw net.Conn) {
	s.mu.Lock()
	s.nextID++
	c := newConn(fmt.Sprintf("conn-%d", s.nextID), raw, s.outboxSize, s.writeTimeout, s.logger)
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	s.logger.Verbose("connection from %s", c.RemoteAddr())
	s.handler.OnConnect(c)

	s.readers.Add(1)
	go s.readLoop(ctx, c)
}

func (s *Server) readLoop(ctx context.Context, c *Conn) {
	defer s.readers.Done()

	sc := NewLineScanner(c.raw, s.maxLineLength)
	for sc.Scan() {
		if c.Closed() {
			break
		}
		if err := s.handler.HandleLine(ctx, c, sc.Text()); err != nil {
			if errors.Is(err, ncerr.ErrConnClosed) {
				break
			}
			s.logger.Debug("%s: %v", c, err)
		}
	}

	cause := s.readFailure(c, sc.Err())
	c.Close() //nolint:errcheck

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()

	if cause != nil {
		s.handler.OnConnectionFault(c, cause)
		return
	}
	s.handler.OnDisconnect(c)
}

// readFailure classifies why the read side ended.  A nil result means
// a graceful close by either end.
func (s *Server) readFailure(c *Conn, err error) error {
	if werr := c.WriteErr(); werr != nil {
		return werr
	}
	if c.Closed() || err == nil {
		return nil
	}
	if errors.Is(err, bufio.ErrTooLong) {
		return &ncerr.NetworkError{Op: "read", Addr: c.RemoteAddr(), Err: ncerr.ErrLineTooLong}
	}
	return ncerr.Wrap("read", c.RemoteAddr(), err)
}

// Close stops listening, closes every connection, and waits until each
// connection's disconnect hook has run.  Pending output is flushed by the
// per-connection writers, bounded by the write timeout.
func (s *Server) Close() error {
	var err error
	if serr := s.StopListening(); serr != nil && !errors.Is(serr, ncerr.ErrNotListening) {
		err = serr
	}

	conns := s.snapshot()
	for _, c := range conns {
		c.Close() //nolint:errcheck
	}
	s.readers.Wait()

	if len(conns) > 0 {
		s.logger.Info("closed %d connection(s)", len(conns))
	}
	return err
}

// Broadcast sends line directly to every live connection and returns
// the number of connections that accepted it.
func (s *Server) Broadcast(line string) int {
	n := 0
	for _, c := range s.snapshot() {
		if err := c.Send(line); err == nil {
			n++
		}
	}
	return n
}

func (s *Server) snapshot() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// ── State ────────────────────────────────────────────────────────────

// IsListening reports whether the accept loop is running.
func (s *Server) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ln != nil
}

// ActiveConnectionCount returns the number of live connections.
func (s *Server) ActiveConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Host returns the configured bind host.
func (s *Server) Host() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host
}

// Port returns the listen port.  After Listen with port 0 it reports the
// port the kernel assigned.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// SetPort changes the listen port.  It fails while listening or while
// any connection is open.
func (s *Server) SetPort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return ncerr.ErrListening
	}
	if len(s.conns) > 0 {
		return ncerr.ErrSessionsActive
	}
	s.port = port
	return nil
}
