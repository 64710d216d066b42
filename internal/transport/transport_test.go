package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	ncerr "relaychat/internal/errors"
	"relaychat/internal/session"
	"relaychat/util"
)

// ── helpers ──────────────────────────────────────────────────────────

// recorder echoes every line back and records lifecycle events.
type recorder struct {
	mu          sync.Mutex
	lines       []string
	connects    int
	disconnects int
	faults      []error
}

func (r *recorder) OnConnect(session.Conn) {
	r.mu.Lock()
	r.connects++
	r.mu.Unlock()
}

func (r *recorder) OnDisconnect(session.Conn) {
	r.mu.Lock()
	r.disconnects++
	r.mu.Unlock()
}

func (r *recorder) OnConnectionFault(_ session.Conn, cause error) {
	r.mu.Lock()
	r.faults = append(r.faults, cause)
	r.mu.Unlock()
}

func (r *recorder) HandleLine(_ context.Context, conn session.Conn, line string) error {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()

	if line == "bye" {
		conn.Send("goodbye") //nolint:errcheck
		return conn.Close()
	}
	return conn.Send("echo: " + line)
}

func (r *recorder) counts() (connects, disconnects, faults int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects, r.disconnects, len(r.faults)
}

func startServer(t *testing.T, cfg ServerConfig) (*Server, *recorder) {
	t.Helper()
	cfg.Host = "127.0.0.1"
	rec := &recorder{}
	srv := NewServer(cfg, rec, util.NewLogger(0))
	if err := srv.Listen(context.Background()); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, rec
}

type client struct {
	net.Conn
	r *bufio.Reader
}

func dial(t *testing.T, srv *Server) *client {
	t.Helper()
	d := &TCPDialer{Timeout: 2 * time.Second}
	c, err := d.Dial(context.Background(), "tcp", util.FormatAddr("127.0.0.1", srv.Port()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return &client{Conn: c, r: bufio.NewReader(c)}
}

func (c *client) send(t *testing.T, s string) {
	t.Helper()
	if _, err := c.Write([]byte(s)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (c *client) readLine(t *testing.T) string {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	line, err := c.r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return strings.TrimSuffix(line, "\n")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ── Dialer ───────────────────────────────────────────────────────────

func TestTCPDialer_ContextCancel(t *testing.T) {
	d := &TCPDialer{Timeout: 5 * time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dial(ctx, "tcp", "127.0.0.1:1")
	var ne *ncerr.NetworkError
	if !errors.As(err, &ne) || ne.Op != "dial" {
		t.Fatalf("err = %v, want dial NetworkError", err)
	}
}

func TestTCPDialer_Close(t *testing.T) {
	if err := (&TCPDialer{}).Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// ── Server ───────────────────────────────────────────────────────────

func TestServer_LineRoundTrip(t *testing.T) {
	srv, rec := startServer(t, ServerConfig{})
	c := dial(t, srv)

	c.send(t, "hello\r\nworld\n")
	if got := c.readLine(t); got != "echo: hello" {
		t.Errorf("got %q", got)
	}
	if got := c.readLine(t); got != "echo: world" {
		t.Errorf("got %q", got)
	}
	waitFor(t, "connect hook", func() bool { n, _, _ := rec.counts(); return n == 1 })
	if srv.ActiveConnectionCount() != 1 {
		t.Errorf("active = %d, want 1", srv.ActiveConnectionCount())
	}
}

func TestServer_ListenStates(t *testing.T) {
	srv, _ := startServer(t, ServerConfig{})

	if !srv.IsListening() {
		t.Fatal("should be listening")
	}
	if err := srv.Listen(context.Background()); !errors.Is(err, ncerr.ErrListening) {
		t.Errorf("second Listen: %v, want ErrListening", err)
	}
	if err := srv.StopListening(); err != nil {
		t.Fatalf("StopListening: %v", err)
	}
	if err := srv.StopListening(); !errors.Is(err, ncerr.ErrNotListening) {
		t.Errorf("second StopListening: %v, want ErrNotListening", err)
	}
	if srv.IsListening() {
		t.Error("should not be listening")
	}
	// The port is kept, so listening again binds the same one.
	port := srv.Port()
	if err := srv.Listen(context.Background()); err != nil {
		t.Fatalf("relisten: %v", err)
	}
	if srv.Port() != port {
		t.Errorf("port changed from %d to %d", port, srv.Port())
	}
}

func TestServer_StopListeningKeepsConnections(t *testing.T) {
	srv, _ := startServer(t, ServerConfig{})
	c := dial(t, srv)
	c.send(t, "ping\n")
	c.readLine(t)

	if err := srv.StopListening(); err != nil {
		t.Fatal(err)
	}

	c.send(t, "still here\n")
	if got := c.readLine(t); got != "echo: still here" {
		t.Errorf("got %q", got)
	}
	if _, err := net.DialTimeout("tcp", util.FormatAddr("127.0.0.1", srv.Port()), time.Second); err == nil {
		t.Error("new connections should be refused after StopListening")
	}
}

func TestServer_SetPortGuards(t *testing.T) {
	srv, _ := startServer(t, ServerConfig{})
	port := srv.Port()

	if err := srv.SetPort(6000); !errors.Is(err, ncerr.ErrListening) {
		t.Errorf("while listening: %v, want ErrListening", err)
	}

	c := dial(t, srv)
	c.send(t, "x\n")
	c.readLine(t)
	srv.StopListening() //nolint:errcheck

	if err := srv.SetPort(6000); !errors.Is(err, ncerr.ErrSessionsActive) {
		t.Errorf("with a session: %v, want ErrSessionsActive", err)
	}
	if srv.Port() != port {
		t.Errorf("port mutated to %d", srv.Port())
	}

	c.Close()
	waitFor(t, "session to end", func() bool { return srv.ActiveConnectionCount() == 0 })

	if err := srv.SetPort(6000); err != nil {
		t.Errorf("idle server: %v", err)
	}
	if srv.Port() != 6000 {
		t.Errorf("port = %d, want 6000", srv.Port())
	}
	if err := srv.SetPort(70000); err == nil {
		t.Error("out-of-range port should be rejected")
	}
}

func TestServer_ClientCloseIsGraceful(t *testing.T) {
	srv, rec := startServer(t, ServerConfig{})
	c := dial(t, srv)
	c.send(t, "x\n")
	c.readLine(t)
	c.Close()

	waitFor(t, "disconnect hook", func() bool { _, d, _ := rec.counts(); return d == 1 })
	if _, _, f := rec.counts(); f != 0 {
		t.Errorf("faults = %d, want 0", f)
	}
}

func TestServer_HandlerCloseFlushesPendingOutput(t *testing.T) {
	srv, rec := startServer(t, ServerConfig{})
	c := dial(t, srv)

	c.send(t, "bye\nignored\n")
	if got := c.readLine(t); got != "goodbye" {
		t.Errorf("got %q, want goodbye", got)
	}
	c.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	if _, err := c.r.ReadString('\n'); err == nil {
		t.Error("connection should be closed after goodbye")
	}

	waitFor(t, "disconnect hook", func() bool { _, d, _ := rec.counts(); return d == 1 })
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, l := range rec.lines {
		if l == "ignored" {
			t.Error("lines after a close must not reach the handler")
		}
	}
}

func TestServer_LineTooLongIsFault(t *testing.T) {
	srv, rec := startServer(t, ServerConfig{MaxLineLength: 16})
	c := dial(t, srv)

	c.send(t, strings.Repeat("x", 64)+"\n")

	waitFor(t, "fault hook", func() bool { _, _, f := rec.counts(); return f == 1 })
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !errors.Is(rec.faults[0], ncerr.ErrLineTooLong) {
		t.Errorf("cause = %v, want ErrLineTooLong", rec.faults[0])
	}
	if !ncerr.IsTransportFailure(rec.faults[0]) {
		t.Error("line overflow should classify as a transport failure")
	}
}

func TestServer_CloseDropsEveryone(t *testing.T) {
	srv, rec := startServer(t, ServerConfig{})
	clients := []*client{dial(t, srv), dial(t, srv), dial(t, srv)}
	for _, c := range clients {
		c.send(t, "hi\n")
		c.readLine(t)
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if srv.IsListening() || srv.ActiveConnectionCount() != 0 {
		t.Errorf("listening=%v active=%d after Close", srv.IsListening(), srv.ActiveConnectionCount())
	}
	if _, d, _ := rec.counts(); d != 3 {
		t.Errorf("disconnects = %d, want 3", d)
	}
	for _, c := range clients {
		c.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
		if _, err := c.r.ReadString('\n'); err == nil {
			t.Error("client should see EOF after Close")
		}
	}
}

func TestServer_Broadcast(t *testing.T) {
	srv, _ := startServer(t, ServerConfig{})
	a, b := dial(t, srv), dial(t, srv)
	waitFor(t, "two sessions", func() bool { return srv.ActiveConnectionCount() == 2 })

	if n := srv.Broadcast("notice"); n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}
	for _, c := range []*client{a, b} {
		if got := c.readLine(t); got != "notice" {
			t.Errorf("got %q", got)
		}
	}
}

func TestServer_ContextCancelStopsListening(t *testing.T) {
	srv := NewServer(ServerConfig{Host: "127.0.0.1"}, &recorder{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Listen(ctx); err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	cancel()
	waitFor(t, "listener shutdown", func() bool { return !srv.IsListening() })
}

// ── Conn ─────────────────────────────────────────────────────────────

func TestConn_OutboxFull(t *testing.T) {
	local, peer := net.Pipe()
	defer peer.Close()
	c := newConn("pipe", local, 1, 0, util.NewLogger(0))
	defer c.Close()

	// Nobody reads the peer end, so the writer blocks on the first line
	// and the outbox fills.
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = c.Send("line")
	}
	if !errors.Is(err, ncerr.ErrOutboxFull) {
		t.Fatalf("err = %v, want ErrOutboxFull", err)
	}
}

func TestConn_SendAfterClose(t *testing.T) {
	local, peer := net.Pipe()
	defer peer.Close()
	c := newConn("pipe", local, 4, 0, util.NewLogger(0))

	c.Close()
	c.Close() // idempotent
	if err := c.Send("late"); !errors.Is(err, ncerr.ErrConnClosed) {
		t.Errorf("err = %v, want ErrConnClosed", err)
	}
	if !c.Closed() {
		t.Error("Closed() = false")
	}
}

func TestConn_Attributes(t *testing.T) {
	local, peer := net.Pipe()
	defer peer.Close()
	c := newConn("pipe", local, 4, 0, util.NewLogger(0))
	defer c.Close()

	if _, ok := c.Attr(session.LoginAttr); ok {
		t.Error("fresh connection has no login attribute")
	}
	c.SetAttr(session.LoginAttr, "alice")
	if v, ok := c.Attr(session.LoginAttr); !ok || v != "alice" {
		t.Errorf("Attr = %q, %v", v, ok)
	}
	if !strings.HasPrefix(c.String(), "alice@") {
		t.Errorf("String = %q", c.String())
	}
}

func TestZeroWriteTimeoutUsesDefault(t *testing.T) {
	srv := NewServer(ServerConfig{}, &recorder{}, nil)
	if srv.writeTimeout != DefaultWriteTimeout {
		t.Errorf("server write timeout = %v, want %v", srv.writeTimeout, DefaultWriteTimeout)
	}

	local, peer := net.Pipe()
	defer peer.Close()
	c := newConn("pipe", local, 4, 0, util.NewLogger(0))
	defer c.Close()
	if c.writeTimeout != DefaultWriteTimeout {
		t.Errorf("conn write timeout = %v, want %v", c.writeTimeout, DefaultWriteTimeout)
	}
}

func TestConn_StalledPeerReleasesWriter(t *testing.T) {
	local, peer := net.Pipe()
	defer peer.Close()
	c := newConn("pipe", local, 4, 20*time.Millisecond, util.NewLogger(0))

	// The peer never reads; the write deadline must free the writer and
	// close the connection.
	c.Send("stuck") //nolint:errcheck
	waitFor(t, "writer timeout", c.Closed)
	select {
	case <-c.writerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("writer goroutine still running")
	}
	if c.WriteErr() == nil {
		t.Error("WriteErr should report the timeout")
	}
}
