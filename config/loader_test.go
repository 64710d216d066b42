package config

import (
	"errors"
	"testing"
	"time"

	ncerr "relaychat/internal/errors"
)

func TestLoadFromEnv_Fields(t *testing.T) {
	cfg := Default()
	err := loadFromEnv(cfg, map[string]string{
		"RELAYCHAT_HOST":            "chat.example.com",
		"RELAYCHAT_PORT":            "6000",
		"RELAYCHAT_LOGIN_ID":        "alice",
		"RELAYCHAT_ANNOUNCE_LOGOFF": "true",
		"RELAYCHAT_RATE_LIMIT":      "2.5",
		"RELAYCHAT_RATE_BURST":      "10",
		"RELAYCHAT_WRITE_TIMEOUT":   "3s",
		"RELAYCHAT_CONNECT_RETRIES": "4",
		"RELAYCHAT_VERBOSE":         "2",
		"RELAYCHAT_OTEL_ENDPOINT":   "localhost:4318",
	})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Host != "chat.example.com" || cfg.Port != 6000 {
		t.Errorf("address = %s", cfg.Addr())
	}
	if cfg.LoginID != "alice" {
		t.Errorf("LoginID = %q", cfg.LoginID)
	}
	if !cfg.AnnounceLogoff {
		t.Error("AnnounceLogoff should be true")
	}
	if cfg.RateLimit != 2.5 || cfg.RateBurst != 10 {
		t.Errorf("rate = %v/%d", cfg.RateLimit, cfg.RateBurst)
	}
	if cfg.WriteTimeout != 3*time.Second {
		t.Errorf("WriteTimeout = %v", cfg.WriteTimeout)
	}
	if cfg.ConnectRetries != 4 {
		t.Errorf("ConnectRetries = %d", cfg.ConnectRetries)
	}
	if cfg.Verbose != 2 {
		t.Errorf("Verbose = %d", cfg.Verbose)
	}
	if cfg.OTelEndpoint != "localhost:4318" {
		t.Errorf("OTelEndpoint = %q", cfg.OTelEndpoint)
	}
}

func TestLoadFromEnv_Booleans(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "t"} {
		t.Run(v, func(t *testing.T) {
			cfg := Default()
			if err := loadFromEnv(cfg, map[string]string{"RELAYCHAT_SSH_AGENT": v}); err != nil {
				t.Fatal(err)
			}
			if !cfg.UseSSHAgent {
				t.Error("UseSSHAgent should be true")
			}
		})
	}
}

func TestLoadFromEnv_SSHFields(t *testing.T) {
	cfg := Default()
	err := loadFromEnv(cfg, map[string]string{
		"RELAYCHAT_TUNNEL":         "ops@bastion:2222",
		"RELAYCHAT_SSH_KEY":        "/home/ops/.ssh/id_ed25519",
		"RELAYCHAT_STRICT_HOSTKEY": "true",
		"RELAYCHAT_KNOWN_HOSTS":    "/tmp/known_hosts",
		"RELAYCHAT_SSH_KEEPALIVE":  "15s",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.TunnelEnabled || cfg.TunnelUser != "ops" || cfg.TunnelHost != "bastion" || cfg.TunnelPort != 2222 {
		t.Errorf("tunnel = %s@%s:%d enabled=%v", cfg.TunnelUser, cfg.TunnelHost, cfg.TunnelPort, cfg.TunnelEnabled)
	}
	if cfg.SSHKeyPath != "/home/ops/.ssh/id_ed25519" || !cfg.StrictHostKey || cfg.KnownHostsPath != "/tmp/known_hosts" {
		t.Errorf("ssh fields = %+v", cfg)
	}
	if cfg.KeepAlive != 15*time.Second {
		t.Errorf("KeepAlive = %v", cfg.KeepAlive)
	}
}

func TestLoadFromEnv_NoOverrideWhenEmpty(t *testing.T) {
	cfg := Default()
	cfg.Host = "from-flag"
	if err := loadFromEnv(cfg, map[string]string{"UNRELATED": "x"}); err != nil {
		t.Fatal(err)
	}
	if cfg.Host != "from-flag" || cfg.Port != DefaultPort {
		t.Errorf("unset variables changed the config: %s", cfg.Addr())
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := map[string]string{
		"RELAYCHAT_PORT":          "eighty",
		"RELAYCHAT_WRITE_TIMEOUT": "soon",
		"RELAYCHAT_TUNNEL":        "a@b@c",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			err := loadFromEnv(Default(), map[string]string{key: val})
			if err == nil {
				t.Fatalf("%s=%q should fail", key, val)
			}
			var ce *ncerr.ConfigError
			if key != "RELAYCHAT_TUNNEL" && !errors.As(err, &ce) {
				t.Errorf("err = %T, want *ConfigError", err)
			}
		})
	}
}

func TestLoadFromEnv_Process(t *testing.T) {
	t.Setenv("RELAYCHAT_LOGIN_ID", "carol")
	cfg := Default()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.LoginID != "carol" {
		t.Errorf("LoginID = %q", cfg.LoginID)
	}
}
