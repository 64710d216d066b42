package core

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"relaychat/config"
	"relaychat/internal/client"
	"relaychat/internal/console"
	ncerr "relaychat/internal/errors"
	"relaychat/internal/operator"
	"relaychat/internal/transport"
	"relaychat/util"
)

// ── helpers ──────────────────────────────────────────────────────────

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

func newServerMode(t *testing.T, in io.Reader) (*ServerMode, *console.Recorder) {
	t.Helper()
	cfg := config.Default()
	cfg.Mode = config.ModeServer
	cfg.Bind = "127.0.0.1"
	cfg.Port = 0

	mode, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	m := mode.(*ServerMode)
	rec := &console.Recorder{}
	m.Operator.Display = rec
	m.Console = &console.Reader{In: in}
	return m, rec
}

func newClientMode(t *testing.T, id string, port int, in io.Reader) (*ClientMode, *console.Recorder) {
	t.Helper()
	rec := &console.Recorder{}
	c, err := client.New(client.Options{
		LoginID: id,
		Host:    "127.0.0.1",
		Port:    port,
		Dialer:  &transport.TCPDialer{Timeout: 2 * time.Second},
		Display: rec,
		Logger:  util.NewLogger(0),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &ClientMode{
		Client:     c,
		Dispatcher: client.NewDispatcher(c),
		Console:    &console.Reader{In: in},
		Logger:     util.NewLogger(0),
	}, rec
}

// ── end to end ───────────────────────────────────────────────────────

func TestServerAndClientModes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opIn, opOut := io.Pipe()
	defer opOut.Close()
	srv, opRec := newServerMode(t, opIn)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Run(ctx) }()
	waitFor(t, "listener", srv.Server.IsListening)

	if !opRec.Contains("Server listening for connections on port " + itoa(srv.Server.Port())) {
		t.Errorf("operator display = %q", opRec.Lines())
	}

	userIn, userOut := io.Pipe()
	cm, rec := newClientMode(t, "alice", srv.Server.Port(), userIn)
	cliErr := make(chan error, 1)
	go func() { cliErr <- cm.Run(ctx) }()

	waitFor(t, "join notice", func() bool { return rec.Contains("alice has logged on") })

	io.WriteString(userOut, "hello\n") //nolint:errcheck
	waitFor(t, "echo", func() bool { return rec.Contains("alice> hello") })

	io.WriteString(opOut, "hi all\n") //nolint:errcheck
	waitFor(t, "announcement", func() bool { return rec.Contains("SERVER MSG> hi all") })

	io.WriteString(opOut, "#who\n") //nolint:errcheck
	waitFor(t, "#who", func() bool { return opRec.Contains("Logged in (1): alice") })

	io.WriteString(opOut, "#quit\n") //nolint:errcheck
	select {
	case err := <-srvErr:
		if err != nil {
			t.Fatalf("server Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after #quit")
	}

	waitFor(t, "shutdown notice", func() bool { return rec.Contains(operator.ShutdownNotice) })
	waitFor(t, "close notice", func() bool { return rec.Contains(client.NoticeClosed) })
	if cm.Client.State() != client.Disconnected {
		t.Errorf("client state = %v, want disconnected", cm.Client.State())
	}

	// Closing the client's console is the same as #quit.
	userOut.Close()
	select {
	case err := <-cliErr:
		if err != nil {
			t.Fatalf("client Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop at EOF")
	}
	if cm.Client.State() != client.Exited {
		t.Errorf("client state = %v, want exited", cm.Client.State())
	}
}

func TestServerMode_ConsoleEOFKeepsServing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv, _ := newServerMode(t, strings.NewReader(""))
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Run(ctx) }()
	waitFor(t, "listener", srv.Server.IsListening)

	// Still accepting after stdin ended.
	conn, err := net.Dial("tcp", util.FormatAddr("127.0.0.1", srv.Server.Port()))
	if err != nil {
		t.Fatalf("dial after console EOF: %v", err)
	}
	conn.Close()

	cancel()
	select {
	case err := <-srvErr:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop on cancel")
	}
	if srv.Server.IsListening() {
		t.Error("listener still open after Run returned")
	}
}

func TestServerMode_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := config.Default()
	cfg.Mode = config.ModeServer
	cfg.Bind = "127.0.0.1"
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	mode, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	if err := mode.Run(context.Background()); err == nil {
		t.Error("expected a listen error on a busy port")
	}
}

func TestClientMode_ConnectFailure(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	cm, rec := newClientMode(t, "alice", port, strings.NewReader(""))

	err = cm.Run(context.Background())
	if !errors.Is(err, ncerr.ErrFatalTransport) {
		t.Fatalf("err = %v, want ErrFatalTransport", err)
	}
	if !rec.Contains(client.NoticeCannotSetup) {
		t.Errorf("display = %q", rec.Lines())
	}
}

func TestClientMode_ServerResetEndsRun(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 64)
		conn.Read(buf)                   //nolint:errcheck
		conn.(*net.TCPConn).SetLinger(0) //nolint:errcheck
		conn.Close()
	}()

	in, out := io.Pipe()
	defer out.Close()
	cm, rec := newClientMode(t, "alice", ln.Addr().(*net.TCPAddr).Port, in)

	errc := make(chan error, 1)
	go func() { errc <- cm.Run(context.Background()) }()

	select {
	case err := <-errc:
		if !errors.Is(err, ncerr.ErrFatalTransport) {
			t.Fatalf("err = %v, want ErrFatalTransport", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop after a reset")
	}
	if !rec.Contains(client.NoticeServerLost) {
		t.Errorf("display = %q", rec.Lines())
	}
}

func itoa(n int) string { return strconv.Itoa(n) }
