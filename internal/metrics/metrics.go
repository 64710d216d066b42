// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of a relay server.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a relay server.
// A nil Collector is safe to use — all methods become no-ops.
type Collector struct {
	sessionsActive    atomic.Int64
	sessionsTotal     atomic.Int64
	logins            atomic.Int64
	linesIn           atomic.Int64
	broadcasts        atomic.Int64
	deliveries        atomic.Int64
	bytesOut          atomic.Int64
	violations        atomic.Int64
	transportFailures atomic.Int64
	rateLimited       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened increments both the active and total counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// ActiveSessions returns the current number of session records.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// LoginAccepted records a successful #login.
func (c *Collector) LoginAccepted() {
	if c == nil {
		return
	}
	c.logins.Add(1)
}

// Logins returns the number of accepted logins.
func (c *Collector) Logins() int64 {
	if c == nil {
		return 0
	}
	return c.logins.Load()
}

// ── Routing metrics ──────────────────────────────────────────────────

// LineReceived records one inbound line.
func (c *Collector) LineReceived() {
	if c == nil {
		return
	}
	c.linesIn.Add(1)
}

// LinesReceived returns the number of inbound lines routed.
func (c *Collector) LinesReceived() int64 {
	if c == nil {
		return 0
	}
	return c.linesIn.Load()
}

// Broadcast records one fan-out that reached delivered recipients with
// a line of n bytes.
func (c *Collector) Broadcast(delivered int, n int) {
	if c == nil {
		return
	}
	c.broadcasts.Add(1)
	c.deliveries.Add(int64(delivered))
	c.bytesOut.Add(int64(delivered * n))
}

// Broadcasts returns the number of fan-outs performed.
func (c *Collector) Broadcasts() int64 {
	if c == nil {
		return 0
	}
	return c.broadcasts.Load()
}

// Deliveries returns the number of individual lines delivered by
// fan-outs.
func (c *Collector) Deliveries() int64 {
	if c == nil {
		return 0
	}
	return c.deliveries.Load()
}

// TotalBytesOut returns total payload bytes queued to recipients.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// RateLimited records a line dropped by the per-connection limiter.
func (c *Collector) RateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Add(1)
}

// RateLimitedLines returns the number of dropped lines.
func (c *Collector) RateLimitedLines() int64 {
	if c == nil {
		return 0
	}
	return c.rateLimited.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// Violation records a protocol violation and stores its message.
func (c *Collector) Violation(msg string) {
	if c == nil {
		return
	}
	c.violations.Add(1)
	c.recordError(msg)
}

// Violations returns the number of protocol violations.
func (c *Collector) Violations() int64 {
	if c == nil {
		return 0
	}
	return c.violations.Load()
}

// TransportFailure records a send/receive failure and stores its message.
func (c *Collector) TransportFailure(msg string) {
	if c == nil {
		return
	}
	c.transportFailures.Add(1)
	c.recordError(msg)
}

// TransportFailures returns the number of transport failures.
func (c *Collector) TransportFailures() int64 {
	if c == nil {
		return 0
	}
	return c.transportFailures.Load()
}

func (c *Collector) recordError(msg string) {
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	SessionsActive    int64  `json:"sessions_active"`
	SessionsTotal     int64  `json:"sessions_total"`
	Logins            int64  `json:"logins"`
	LinesIn           int64  `json:"lines_in"`
	Broadcasts        int64  `json:"broadcasts"`
	Deliveries        int64  `json:"deliveries"`
	BytesOut          int64  `json:"bytes_out"`
	Violations        int64  `json:"protocol_violations"`
	TransportFailures int64  `json:"transport_failures"`
	RateLimited       int64  `json:"rate_limited"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		SessionsActive:    c.sessionsActive.Load(),
		SessionsTotal:     c.sessionsTotal.Load(),
		Logins:            c.logins.Load(),
		LinesIn:           c.linesIn.Load(),
		Broadcasts:        c.broadcasts.Load(),
		Deliveries:        c.deliveries.Load(),
		BytesOut:          c.bytesOut.Load(),
		Violations:        c.violations.Load(),
		TransportFailures: c.transportFailures.Load(),
		RateLimited:       c.rateLimited.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
