package core

import (
	"testing"

	"relaychat/config"
	"relaychat/internal/transport"
	"relaychat/util"
)

func TestBuild_Server(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeServer
	cfg.RateLimit = 5

	mode, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	m, ok := mode.(*ServerMode)
	if !ok {
		t.Fatalf("expected *ServerMode, got %T", mode)
	}
	if m.Server.Port() != config.DefaultPort {
		t.Errorf("port = %d", m.Server.Port())
	}
	if m.Operator.Server == nil || m.Operator.Router == nil || m.Operator.Metrics == nil {
		t.Error("operator dispatcher is not fully wired")
	}
}

func TestBuild_ServerRejectsBadRate(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeServer
	cfg.RateLimit = 5
	cfg.RateBurst = 0

	if _, err := Build(cfg, util.NewLogger(0)); err == nil {
		t.Error("expected an error for a zero burst")
	}
}

func TestBuild_Client(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeClient
	cfg.LoginID = "alice"

	mode, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	m, ok := mode.(*ClientMode)
	if !ok {
		t.Fatalf("expected *ClientMode, got %T", mode)
	}
	if m.Client.LoginID() != "alice" || m.Client.Host() != "localhost" || m.Client.Port() != 5555 {
		t.Errorf("client = %s@%s:%d", m.Client.LoginID(), m.Client.Host(), m.Client.Port())
	}
}

func TestBuild_UnknownMode(t *testing.T) {
	if _, err := Build(config.Default(), util.NewLogger(0)); err == nil {
		t.Error("expected an error without a mode")
	}
}

func TestBuildDialer(t *testing.T) {
	cfg := config.Default()
	if _, ok := buildDialer(cfg, util.NewLogger(0)).(*transport.TCPDialer); !ok {
		t.Error("plain config should use a TCPDialer")
	}

	if err := cfg.ApplyTunnelSpec("ops@jump:2222"); err != nil {
		t.Fatal(err)
	}
	if _, ok := buildDialer(cfg, util.NewLogger(0)).(*transport.SSHDialer); !ok {
		t.Error("tunnel config should use an SSHDialer")
	}
}
