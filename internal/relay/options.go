package relay

import (
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Option configures a Hub
type Option func(h *Hub) error

// WithClock replaces the wall clock used for liveness timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) error {
		if now == nil {
			return errors.New("relay.WithClock: clock is nil")
		}
		h.now = now
		return nil
	}
}

// WithTracer overrides the tracer taken from the global OpenTelemetry provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(h *Hub) error {
		if tracer == nil {
			return errors.New("relay.WithTracer: tracer is nil")
		}
		h.tracer = tracer
		return nil
	}
}

// WithQueueSize overwrites the capacity of the inbound event queue.
// Datagrams arriving while the queue is full are dropped.
func WithQueueSize(size int) Option {
	return func(h *Hub) error {
		if size < 1 {
			return fmt.Errorf("relay.WithQueueSize: invalid size (%d)", size)
		}
		h.queueSize = size
		return nil
	}
}

// WithPingInterval overwrites the liveness challenge period.
func WithPingInterval(interval time.Duration) Option {
	return func(h *Hub) error {
		if interval <= 0 {
			return fmt.Errorf("relay.WithPingInterval: invalid interval (%v)", interval)
		}
		h.pingInterval = interval
		return nil
	}
}

// WithEvictionTimeout overwrites how long a session may go without acknowledging
// a challenge before the sweep releases it.
func WithEvictionTimeout(timeout time.Duration) Option {
	return func(h *Hub) error {
		if timeout <= 0 {
			return fmt.Errorf("relay.WithEvictionTimeout: invalid timeout (%v)", timeout)
		}
		h.evictionTimeout = timeout
		return nil
	}
}
