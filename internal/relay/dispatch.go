package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/RoyGeagea/udpchatroom/internal/metrics"
	"github.com/RoyGeagea/udpchatroom/internal/protocol"
	"github.com/RoyGeagea/udpchatroom/internal/session"
)

// dispatch classifies one inbound datagram and routes it by the sender's session state
func (h *Hub) dispatch(ctx context.Context, d Datagram) {
	kind := protocol.Classify(d.Payload)

	_, span := h.tracer.Start(ctx, "relay.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("relay.kind", kind.String()),
			attribute.String("relay.peer", d.From.String()),
		),
	)
	defer span.End()

	h.metrics.RecordDatagram(kind.String())
	now := h.now()

	s, bound := h.registry.Lookup(d.From)
	if bound {
		span.SetAttributes(attribute.Int("relay.slot", s.Slot))
	}

	// the datagram after #login carries the display name
	if bound && s.State == session.StatePendingJoin {
		h.completeJoin(s, kind, d.Payload, now)
		return
	}

	switch kind {
	case protocol.KindLogin:
		if bound {
			h.logger.Info("Repeated login, releasing previous session",
				slog.Int("slot", s.Slot),
				slog.String("name", s.Name),
				slog.String("remote_addr", d.From.String()),
			)
			h.release(s.Slot, metrics.ReasonRelogin, true, now)
		}
		h.beginJoin(d.From, now)

	case protocol.KindLogout:
		if !bound {
			h.ignore(d, kind)
			return
		}
		h.send(s.Addr, protocol.TokenLogout)
		h.release(s.Slot, metrics.ReasonLogout, true, now)

	case protocol.KindPong:
		if !bound {
			h.ignore(d, kind)
			return
		}
		h.registry.Touch(s.Slot, now)

	case protocol.KindWho:
		if !bound {
			h.ignore(d, kind)
			return
		}
		h.metrics.RecordDirectoryQuery()
		h.send(s.Addr, protocol.Directory(h.registry.Names()))

	case protocol.KindChat:
		if !bound {
			h.ignore(d, kind)
			return
		}
		h.metrics.RecordChat()
		recipients := h.broadcast(s.Slot, protocol.ChatLine(s.Name, protocol.Trim(d.Payload)))
		h.logger.Debug("Chat relayed",
			slog.Int("slot", s.Slot),
			slog.String("name", s.Name),
			slog.Int("recipients", recipients),
		)

	default:
		// #ping and #closed only travel server to client
		h.ignore(d, kind)
	}
}

// beginJoin reserves a slot for a peer or rejects it when the registry is full
func (h *Hub) beginJoin(addr netip.AddrPort, now time.Time) {
	slot, err := h.registry.Allocate(addr, now)
	if err != nil {
		if errors.Is(err, session.ErrCapacityExceeded) {
			h.metrics.RecordJoinRejected()
			h.logger.Warn("Join rejected, registry full",
				slog.String("remote_addr", addr.String()),
				slog.Int("capacity", h.registry.Cap()),
			)
		} else {
			h.logger.Error("Failed to allocate slot",
				slog.String("remote_addr", addr.String()),
				slog.String("error", err.Error()),
			)
		}
		h.send(addr, protocol.TokenLogout)
		return
	}

	h.logger.Debug("Join pending",
		slog.Int("slot", slot),
		slog.String("remote_addr", addr.String()),
	)
}

// completeJoin handles the datagram that follows #login from a pending peer
func (h *Hub) completeJoin(s *session.Session, kind protocol.Kind, payload []byte, now time.Time) {
	addr := s.Addr

	switch kind {
	case protocol.KindLogin:
		h.release(s.Slot, metrics.ReasonAborted, false, now)
		h.beginJoin(addr, now)
		return
	case protocol.KindLogout:
		h.release(s.Slot, metrics.ReasonAborted, false, now)
		h.send(addr, protocol.TokenLogout)
		return
	}

	name := protocol.Trim(payload)
	if err := protocol.ValidateName(name); err != nil {
		h.metrics.RecordJoinRejected()
		h.logger.Warn("Join rejected, invalid display name",
			slog.Int("slot", s.Slot),
			slog.String("remote_addr", addr.String()),
			slog.String("error", err.Error()),
		)
		h.release(s.Slot, metrics.ReasonAborted, false, now)
		h.send(addr, protocol.TokenLogout)
		return
	}

	active, err := h.registry.Activate(s.Slot, name, now)
	if err != nil {
		h.logger.Error("Failed to activate session",
			slog.Int("slot", s.Slot),
			slog.String("error", err.Error()),
		)
		return
	}

	recipients := h.broadcast(active.Slot, protocol.JoinNotice(active.Name))
	h.send(active.Addr, "")
	h.metrics.RecordJoin()

	h.logger.Info("Session joined",
		slog.Int("slot", active.Slot),
		slog.String("session_id", active.ID),
		slog.String("name", active.Name),
		slog.String("remote_addr", addr.String()),
		slog.Int("notified", recipients),
	)
}

// release closes a session. When notify is set and the session was active,
// the remaining sessions receive a departure notice.
func (h *Hub) release(slot int, reason string, notify bool, now time.Time) {
	released, err := h.registry.Release(slot)
	if err != nil {
		h.logger.Debug("Release of free slot ignored",
			slog.Int("slot", slot),
			slog.String("reason", reason),
		)
		return
	}

	wasActive := !released.JoinedAt.IsZero()
	lifetime := -1.0
	if wasActive {
		lifetime = now.Sub(released.JoinedAt).Seconds()
	}
	h.metrics.RecordDeparture(reason, lifetime)

	notified := 0
	if wasActive && notify {
		notified = h.broadcast(noExclusion, protocol.DepartureNotice(released.Name))
	}

	h.logger.Info("Session released",
		slog.Int("slot", slot),
		slog.String("session_id", released.ID),
		slog.String("name", released.Name),
		slog.String("reason", reason),
		slog.Int("notified", notified),
	)
}

// ignore drops a datagram from a sender that holds no session
func (h *Hub) ignore(d Datagram, kind protocol.Kind) {
	h.metrics.RecordIgnored()
	h.logger.Debug("Ignoring datagram from unbound sender",
		slog.String("remote_addr", d.From.String()),
		slog.String("kind", kind.String()),
		slog.Int("size", len(d.Payload)),
	)
}
