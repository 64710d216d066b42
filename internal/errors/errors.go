// Package errors provides domain-specific error types for relaychat.
//
// The routing engine never uses panics or sentinel strings for control
// flow: every rejection is an explicit value carrying a kind, so callers
// decide with errors.As whether to close a connection, show a usage
// notice, or terminate the client.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrListening        = errors.New("server is listening")
	ErrNotListening     = errors.New("server is not listening")
	ErrSessionsActive   = errors.New("sessions are still active")
	ErrConnClosed       = errors.New("connection is closed")
	ErrOutboxFull       = errors.New("outbound queue is full")
	ErrLineTooLong      = errors.New("line exceeds maximum length")
	ErrFatalTransport   = errors.New("connection to server lost")
	ErrTunnelClosed     = errors.New("tunnel is closed")
	ErrAuthFailed       = errors.New("authentication failed")
)

// ── Protocol violations ──────────────────────────────────────────────

// ViolationKind classifies a protocol violation on a server connection.
type ViolationKind int

const (
	// UnauthenticatedPayload is any traffic other than #login before the
	// connection has logged in.
	UnauthenticatedPayload ViolationKind = iota + 1
	// DuplicateLogin is a second #login on an authenticated connection.
	DuplicateLogin
	// MalformedLogin is a #login with an argument count other than one.
	MalformedLogin
)

func (k ViolationKind) String() string {
	switch k {
	case UnauthenticatedPayload:
		return "unauthenticated-payload"
	case DuplicateLogin:
		return "duplicate-login"
	case MalformedLogin:
		return "malformed-login"
	default:
		return "unknown"
	}
}

// ProtocolViolation is fatal to the offending connection only.  The
// router sends Notice() once and then closes the connection.
type ProtocolViolation struct {
	Kind    ViolationKind
	LoginID string // set when the connection was already authenticated
	Line    string // the offending input line
}

func (e *ProtocolViolation) Error() string {
	if e.LoginID != "" {
		return fmt.Sprintf("protocol violation (%s) by %s: %q", e.Kind, e.LoginID, e.Line)
	}
	return fmt.Sprintf("protocol violation (%s): %q", e.Kind, e.Line)
}

// Notice is the single line sent to the peer before its connection is
// terminated.
func (e *ProtocolViolation) Notice() string {
	switch e.Kind {
	case DuplicateLogin:
		return "Error - Already logged in - terminating connection"
	case MalformedLogin:
		return "Error - Usage: #login <loginID> - terminating connection"
	default:
		return "Error - You must log in first - terminating connection"
	}
}

// Violation builds a ProtocolViolation.
func Violation(kind ViolationKind, loginID, line string) *ProtocolViolation {
	return &ProtocolViolation{Kind: kind, LoginID: loginID, Line: line}
}

// IsViolation reports whether err is a ProtocolViolation, optionally of
// one of the given kinds.
func IsViolation(err error, kinds ...ViolationKind) bool {
	var pv *ProtocolViolation
	if !errors.As(err, &pv) {
		return false
	}
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if pv.Kind == k {
			return true
		}
	}
	return false
}

// ── Local usage errors ───────────────────────────────────────────────

// UsageError is a local directive misuse: bad arguments or a directive
// issued in the wrong state.  It is shown to the local user only and
// never touches network state.
type UsageError struct {
	Directive string
	Message   string
	Err       error // optional underlying cause (e.g. ErrListening)
}

func (e *UsageError) Error() string { return e.Message }

func (e *UsageError) Unwrap() error { return e.Err }

// Usage builds a UsageError for directive.
func Usage(directive, msg string, cause error) *UsageError {
	return &UsageError{Directive: directive, Message: msg, Err: cause}
}

// ── Transport failures ───────────────────────────────────────────────

// NetworkError represents a failure in a network operation.  For server
// connections the router treats it exactly like a disconnect.
type NetworkError struct {
	Op        string // "dial", "listen", "accept", "write", "read"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// IsTransportFailure reports whether err came from the network layer
// rather than from protocol or usage rules.
func IsTransportFailure(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) ||
		errors.Is(err, ErrConnClosed) ||
		errors.Is(err, ErrOutboxFull) ||
		errors.Is(err, ErrLineTooLong)
}

func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return true // refused or unreachable: the server may come up
		}
		return opErr.Timeout()
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
