package util

import (
	"testing"
)

func TestFormatAddr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"127.0.0.1", 5555, "127.0.0.1:5555"},
		{"::1", 5555, "[::1]:5555"},
		{"localhost", 6000, "localhost:6000"},
	}
	for _, tt := range tests {
		if got := FormatAddr(tt.host, tt.port); got != tt.want {
			t.Errorf("FormatAddr(%q, %d) = %q, want %q", tt.host, tt.port, got, tt.want)
		}
	}
}

func TestListenAddr(t *testing.T) {
	if got := ListenAddr("", 5555); got != ":5555" {
		t.Errorf("got %q, want %q", got, ":5555")
	}
	if got := ListenAddr("127.0.0.1", 5555); got != "127.0.0.1:5555" {
		t.Errorf("got %q, want %q", got, "127.0.0.1:5555")
	}
}

func TestFindFreePort(t *testing.T) {
	port, err := FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	if port < 1 || port > 65535 {
		t.Errorf("port %d out of range", port)
	}
}
