package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/RoyGeagea/udpchatroom/internal/metrics"
	"github.com/RoyGeagea/udpchatroom/internal/session"
)

const tracerName = "github.com/RoyGeagea/udpchatroom/internal/relay"

// Transport delivers one datagram to a peer endpoint
type Transport interface {
	Send(to netip.AddrPort, payload []byte) error
}

// Hub owns the session registry. Network datagrams, liveness ticks and
// administrative commands are all consumed by the single goroutine running
// Run, so registry operations never interleave.
type Hub struct {
	registry  *session.Registry
	transport Transport
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time

	pingInterval    time.Duration
	evictionTimeout time.Duration
	queueSize       int

	events  chan event
	outbox  *queue.Queue
	running atomic.Bool
	done    chan struct{}
}

// NewHub creates a hub for a registry of the given capacity
func NewHub(capacity int, transport Transport, logger *slog.Logger, m *metrics.Metrics, options ...Option) (*Hub, error) {
	if transport == nil {
		return nil, fmt.Errorf("relay.NewHub: transport is nil")
	}
	if m == nil {
		return nil, fmt.Errorf("relay.NewHub: metrics is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &Hub{
		registry:        session.NewRegistry(capacity),
		transport:       transport,
		logger:          logger.With("component", "relay"),
		metrics:         m,
		tracer:          otel.Tracer(tracerName),
		now:             time.Now,
		pingInterval:    3 * time.Second,
		evictionTimeout: 6 * time.Second,
		queueSize:       1024,
		outbox:          queue.New(),
		done:            make(chan struct{}),
	}

	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(h); err != nil {
			return nil, err
		}
	}

	h.events = make(chan event, h.queueSize)
	return h, nil
}

// Run consumes events until ctx is cancelled or a shutdown command is handled.
// On cancellation every active session receives a shutdown notice first.
func (h *Hub) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(h.done)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	h.logger.Info("Relay started",
		slog.Int("capacity", h.registry.Cap()),
		slog.Duration("ping_interval", h.pingInterval),
		slog.Duration("eviction_timeout", h.evictionTimeout),
	)

	for {
		select {
		case <-ctx.Done():
			notified := h.closeAll()
			h.flush()
			h.logger.Info("Relay stopped", slog.Int("notified_sessions", notified))
			return nil

		case <-ticker.C:
			h.tick(ctx)
			h.flush()

		case ev := <-h.events:
			h.metrics.SetQueueSize(len(h.events))
			stop := h.handle(ctx, ev)
			h.flush()
			h.metrics.SetActiveSessions(h.registry.ActiveCount())
			if stop {
				h.logger.Info("Relay stopped by shutdown command")
				return nil
			}
		}
	}
}

// Done is closed once Run has returned
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Submit queues an inbound datagram without blocking. It reports false when the
// datagram was dropped because the queue is full or the hub has stopped.
func (h *Hub) Submit(d Datagram) bool {
	select {
	case <-h.done:
		return false
	default:
	}

	select {
	case h.events <- datagramEvent{d}:
		return true
	default:
		h.logger.Warn("Relay queue full, dropping datagram",
			slog.String("remote_addr", d.From.String()),
			slog.Int("size", len(d.Payload)),
		)
		return false
	}
}

// Kill asks the named session to log out. The slot is released when the peer
// answers or at the next liveness sweep. It reports whether a session matched.
func (h *Hub) Kill(ctx context.Context, name string) (bool, error) {
	return request(ctx, h, func(reply chan bool) event {
		return killCommand{name: name, reply: reply}
	})
}

// Shutdown logs out and releases every session, then stops the hub.
// It returns the number of sessions that were released.
func (h *Hub) Shutdown(ctx context.Context) (int, error) {
	return request(ctx, h, func(reply chan int) event {
		return shutdownCommand{reply: reply}
	})
}

// Snapshot returns a copy of every occupied slot in slot order
func (h *Hub) Snapshot(ctx context.Context) ([]session.SessionInfo, error) {
	return request(ctx, h, func(reply chan []session.SessionInfo) event {
		return snapshotQuery{reply: reply}
	})
}

// Stats returns registry occupancy
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	return request(ctx, h, func(reply chan Stats) event {
		return statsQuery{reply: reply}
	})
}

// request enqueues a command and waits for the hub goroutine to answer it
func request[T any](ctx context.Context, h *Hub, build func(chan T) event) (T, error) {
	var zero T
	reply := make(chan T, 1)

	select {
	case h.events <- build(reply):
	case <-h.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-h.done:
		// the command may have been the one that stopped the hub
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrStopped
		}
	}
}

// handle applies one event to the registry. It reports true when the hub must stop.
func (h *Hub) handle(ctx context.Context, ev event) bool {
	switch e := ev.(type) {
	case datagramEvent:
		h.dispatch(ctx, e.Datagram)
	case killCommand:
		e.reply <- h.kill(e.name)
	case shutdownCommand:
		e.reply <- h.shutdown()
		return true
	case snapshotQuery:
		e.reply <- h.registry.Snapshot()
	case statsQuery:
		e.reply <- Stats{
			Active:    h.registry.ActiveCount(),
			Occupied:  h.registry.Len(),
			Capacity:  h.registry.Cap(),
			QueueSize: len(h.events),
		}
	default:
		h.logger.Error("Unknown relay event", slog.String("type", fmt.Sprintf("%T", ev)))
	}
	return false
}
