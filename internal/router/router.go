// Package router is the server routing engine: the authoritative state
// machine that decides, for every inbound line on every connection,
// whether to register a login, reject the connection, or broadcast.
//
// The router owns no sockets.  The transport calls the lifecycle hooks
// (OnConnect, OnDisconnect, OnConnectionFault) and HandleLine, and the
// router talks back only through the session.Conn capability.
package router

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"relaychat/internal/directive"
	ncerr "relaychat/internal/errors"
	"relaychat/internal/metrics"
	"relaychat/internal/session"
	"relaychat/internal/telemetry"
	"relaychat/util"
)

// OperatorLabel prefixes operator free text.
const OperatorLabel = "SERVER MSG>"

// RateLimitNotice is sent when a line is dropped by the rate limiter.
const RateLimitNotice = "Error - rate limit exceeded, message dropped"

// TooLongNotice is sent when a relayed line would exceed the wire limit.
const TooLongNotice = "Error - message too long, message dropped"

// JoinNotice is broadcast when id logs in.
func JoinNotice(id string) string { return id + " has logged on" }

// LogoffNotice is broadcast when id disconnects, if enabled.
func LogoffNotice(id string) string { return id + " has logged off" }

// ChatLine renders a relayed payload.
func ChatLine(id, text string) string { return id + "> " + text }

// OperatorLine renders operator free text.
func OperatorLine(text string) string { return OperatorLabel + " " + text }

// Router routes inbound lines for every live connection.  HandleLine is
// safe for concurrent use; the routing decision and its fan-out run in
// one critical section so all recipients observe broadcasts in the same
// order.
type Router struct {
	registry *session.Registry
	logger   *util.Logger
	metrics  *metrics.Collector
	tracer   trace.Tracer

	announceLogoff bool
	maxLineLength  int // 0 = unbounded
	rateLimit      rate.Limit
	rateBurst      int

	mu       sync.Mutex
	limiters map[session.Conn]*rate.Limiter
}

// New builds a Router over registry.  The registry is injected so the
// transport and the operator console can share it.
func New(registry *session.Registry, logger *util.Logger, options ...Option) (*Router, error) {
	if registry == nil {
		return nil, fmt.Errorf("router.New: registry is nil")
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	r := &Router{
		registry: registry,
		logger:   logger.Named("router"),
		tracer:   telemetry.Tracer(),
		limiters: make(map[session.Conn]*rate.Limiter),
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Registry returns the session registry the router mutates.
func (r *Router) Registry() *session.Registry { return r.registry }

// ── Lifecycle hooks ──────────────────────────────────────────────────

// OnConnect creates an empty, unauthenticated record for conn.
func (r *Router) OnConnect(conn session.Conn) {
	rec, added := r.registry.Add(conn)
	if !added {
		r.logger.Warn("connection %s registered twice", conn.ID())
		return
	}
	r.metrics.SessionOpened()
	r.logger.Verbose("client connected: %s (session %s)", conn.RemoteAddr(), rec.ID)
}

// OnDisconnect destroys the record for conn after a graceful close.
func (r *Router) OnDisconnect(conn session.Conn) {
	rec, ok := r.destroy(conn)
	if !ok {
		return
	}
	r.logger.Verbose("client disconnected: %s", rec.Label())
	r.afterDestroy(rec)
}

// OnConnectionFault destroys the record for conn after a transport
// failure.  Bookkeeping is identical to OnDisconnect; only the logging
// and metrics differ.
func (r *Router) OnConnectionFault(conn session.Conn, cause error) {
	r.metrics.TransportFailure(cause.Error())
	rec, ok := r.destroy(conn)
	if !ok {
		return
	}
	r.logger.Warn("client disconnected unexpectedly: %s: %v", rec.Label(), cause)
	r.afterDestroy(rec)
}

func (r *Router) destroy(conn session.Conn) (*session.Record, bool) {
	rec, removed := r.registry.Remove(conn)
	if !removed {
		return nil, false
	}
	r.mu.Lock()
	delete(r.limiters, conn)
	r.mu.Unlock()

	r.metrics.SessionClosed()
	return rec, true
}

func (r *Router) afterDestroy(rec *session.Record) {
	id, ok := rec.LoginID()
	if !ok || !r.announceLogoff {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fanOut(LogoffNotice(id))
}

// ── Routing ──────────────────────────────────────────────────────────

// HandleLine routes one inbound line from conn.  It returns a
// *errors.ProtocolViolation when the connection was rejected (the notice
// has been sent and the connection closed), errors.ErrConnClosed when
// conn has no live record, and nil otherwise.
func (r *Router) HandleLine(ctx context.Context, conn session.Conn, line string) error {
	rec, ok := r.registry.Get(conn)
	if !ok {
		r.logger.Debug("line from unregistered connection %s dropped", conn.ID())
		return ncerr.ErrConnClosed
	}
	r.metrics.LineReceived()

	_, span := r.tracer.Start(ctx, "router.HandleLine",
		trace.WithAttributes(attribute.String("relaychat.session_id", rec.ID.String())))
	defer span.End()

	r.mu.Lock()
	outcome, err := r.route(rec, line)
	r.mu.Unlock()

	span.SetAttributes(attribute.String("relaychat.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return err
}

// route must be called with r.mu held.
func (r *Router) route(rec *session.Record, line string) (outcome string, err error) {
	in := directive.Parse(line)
	loginID, authed := rec.LoginID()

	if in.Is(directive.Login) {
		args := in.Directive.Args
		switch {
		case authed:
			return "duplicate-login", r.reject(rec, ncerr.Violation(ncerr.DuplicateLogin, loginID, line))
		case len(args) != 1:
			return "malformed-login", r.reject(rec, ncerr.Violation(ncerr.MalformedLogin, "", line))
		}
		if !r.fits(JoinNotice(args[0])) {
			// The join and logoff notices must fit on every client's wire.
			return "malformed-login", r.reject(rec, ncerr.Violation(ncerr.MalformedLogin, "", line))
		}
		rec.Login(args[0])
		r.metrics.LoginAccepted()
		r.logger.Info("%s has logged on from %s", args[0], rec.Conn().RemoteAddr())
		r.fanOut(JoinNotice(args[0]))
		return "login", nil
	}

	if !authed {
		return "unauthenticated", r.reject(rec, ncerr.Violation(ncerr.UnauthenticatedPayload, "", line))
	}

	if !r.allow(rec.Conn()) {
		r.metrics.RateLimited()
		r.logger.Verbose("rate limit: dropped line from %s", loginID)
		if err := rec.Conn().Send(RateLimitNotice); err != nil {
			r.sendFailed(rec, err)
		}
		return "rate-limited", nil
	}

	// Directives other than #login have no wire meaning; their raw text
	// is relayed like any payload.
	text := line
	if in.Payload != nil {
		text = in.Payload.Text
	}
	out := ChatLine(loginID, text)
	if !r.fits(out) {
		r.logger.Verbose("dropped %d-byte line from %s: exceeds %d", len(out), loginID, r.maxLineLength)
		if err := rec.Conn().Send(TooLongNotice); err != nil {
			r.sendFailed(rec, err)
		}
		return "too-long", nil
	}
	r.logger.Debug("message from %s: %s", loginID, text)
	r.fanOut(out)
	return "broadcast", nil
}

// reject sends the violation notice and closes the connection.  The
// record itself is destroyed by the transport's disconnect hook.
func (r *Router) reject(rec *session.Record, v *ncerr.ProtocolViolation) error {
	r.metrics.Violation(v.Error())
	r.logger.Warn("%s: %v", rec.Conn().RemoteAddr(), v)

	conn := rec.Conn()
	if err := conn.Send(v.Notice()); err != nil {
		r.logger.Debug("notice to %s not delivered: %v", rec.Label(), err)
	}
	conn.Close() //nolint:errcheck
	return v
}

func (r *Router) allow(conn session.Conn) bool {
	if r.rateLimit <= 0 {
		return true
	}
	lim, ok := r.limiters[conn]
	if !ok {
		lim = rate.NewLimiter(r.rateLimit, r.rateBurst)
		r.limiters[conn] = lim
	}
	return lim.Allow()
}

// fits reports whether line can be sent to clients that scan with the
// same line limit as the server.
func (r *Router) fits(line string) bool {
	return r.maxLineLength <= 0 || len(line) <= r.maxLineLength
}

// ── Broadcast ────────────────────────────────────────────────────────

// Broadcast delivers line to every authenticated record live at the
// time of the call.  It is ordered with respect to routed chat lines.
func (r *Router) Broadcast(line string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fanOut(line)
}

// Announce broadcasts operator free text under OperatorLabel and
// returns the rendered line for local echo.  Text that would exceed the
// line limit is not sent and ErrLineTooLong is returned.
func (r *Router) Announce(text string) (string, error) {
	line := OperatorLine(text)
	if !r.fits(line) {
		return line, ncerr.ErrLineTooLong
	}
	r.Broadcast(line)
	return line, nil
}

// fanOut must be called with r.mu held.  Only authenticated records
// receive broadcasts.  Delivery is best-effort: a failed send closes
// that connection and delivery continues.
func (r *Router) fanOut(line string) int {
	delivered := 0
	for _, rec := range r.registry.Snapshot() {
		if !rec.Authenticated() {
			continue
		}
		if err := rec.Conn().Send(line); err != nil {
			r.sendFailed(rec, err)
			continue
		}
		delivered++
	}
	r.metrics.Broadcast(delivered, len(line))
	return delivered
}

func (r *Router) sendFailed(rec *session.Record, err error) {
	if ncerr.Is(err, ncerr.ErrConnClosed) {
		r.logger.Debug("skipping closed connection %s", rec.Label())
		return
	}
	r.metrics.TransportFailure(err.Error())
	r.logger.Warn("send to %s failed, dropping connection: %v", rec.Label(), err)
	rec.Conn().Close() //nolint:errcheck
}

// Who returns the login identifiers of authenticated sessions.
func (r *Router) Who() []string { return r.registry.LoginIDs() }
