package router

import (
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"relaychat/internal/metrics"
)

// Option configures a Router.
type Option func(r *Router) error

// WithMetrics attaches a collector.  Without it metrics are not
// recorded.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Router) error {
		r.metrics = c
		return nil
	}
}

// WithLogoffNotice enables broadcasting "<id> has logged off" when an
// authenticated session ends.
func WithLogoffNotice(enabled bool) Option {
	return func(r *Router) error {
		r.announceLogoff = enabled
		return nil
	}
}

// WithMaxLineLength bounds every line the router sends.  Chat lines
// whose rendered form would exceed n are dropped with TooLongNotice.
// Zero leaves lines unbounded.
func WithMaxLineLength(n int) Option {
	return func(r *Router) error {
		if n < 0 {
			return fmt.Errorf("router.WithMaxLineLength: invalid length (%d)", n)
		}
		r.maxLineLength = n
		return nil
	}
}

// WithRateLimit limits each connection to perSecond relayed lines with
// the given burst.  A zero rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(r *Router) error {
		if perSecond < 0 {
			return fmt.Errorf("router.WithRateLimit: invalid rate (%v)", perSecond)
		}
		if perSecond > 0 && burst < 1 {
			return fmt.Errorf("router.WithRateLimit: burst must be at least 1 (%d)", burst)
		}
		r.rateLimit = rate.Limit(perSecond)
		r.rateBurst = burst
		return nil
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(r *Router) error {
		if t == nil {
			return fmt.Errorf("router.WithTracer: tracer is nil")
		}
		r.tracer = t
		return nil
	}
}
