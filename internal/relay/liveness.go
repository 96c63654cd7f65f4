package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/RoyGeagea/udpchatroom/internal/metrics"
	"github.com/RoyGeagea/udpchatroom/internal/protocol"
	"github.com/RoyGeagea/udpchatroom/internal/session"
)

// tick runs one liveness round: evict silent and killed sessions, expire
// stalled joins, then challenge every remaining active session.
func (h *Hub) tick(ctx context.Context) {
	_, span := h.tracer.Start(ctx, "relay.sweep")
	defer span.End()

	start := time.Now()
	now := h.now()

	type victim struct {
		slot   int
		reason string
	}
	var evict []victim
	var expired []int

	h.registry.ForEach(func(s *session.Session) {
		switch s.State {
		case session.StateActive:
			if s.Killed {
				evict = append(evict, victim{s.Slot, metrics.ReasonKilled})
			} else if s.SilentFor(now) >= h.evictionTimeout {
				evict = append(evict, victim{s.Slot, metrics.ReasonTimeout})
			}
		case session.StatePendingJoin:
			if now.Sub(s.Created) >= h.evictionTimeout {
				expired = append(expired, s.Slot)
			}
		}
	})

	for _, v := range evict {
		if v.reason == metrics.ReasonTimeout {
			if s, ok := h.registry.FindBySlot(v.slot); ok {
				h.logger.Info("Evicting silent session",
					slog.Int("slot", s.Slot),
					slog.String("name", s.Name),
					slog.Duration("silent_for", s.SilentFor(now)),
				)
			}
		}
		h.release(v.slot, v.reason, true, now)
	}
	for _, slot := range expired {
		h.release(slot, metrics.ReasonAborted, false, now)
	}

	challenged := h.broadcast(noExclusion, protocol.TokenPing)
	h.metrics.RecordPings(challenged)
	h.metrics.SetActiveSessions(h.registry.ActiveCount())
	h.metrics.RecordSweep(time.Since(start).Seconds())

	if len(evict) > 0 || len(expired) > 0 {
		h.logger.Debug("Liveness sweep",
			slog.Int("evicted", len(evict)),
			slog.Int("expired_joins", len(expired)),
			slog.Int("challenged", challenged),
		)
	}
}
