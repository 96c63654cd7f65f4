package relay

import (
	"log/slog"

	"github.com/RoyGeagea/udpchatroom/internal/metrics"
	"github.com/RoyGeagea/udpchatroom/internal/protocol"
	"github.com/RoyGeagea/udpchatroom/internal/session"
)

// kill sends #logout to the lowest-slot active session with the given name and
// marks it for release. The slot is kept until the peer logs out or the next
// sweep runs.
func (h *Hub) kill(name string) bool {
	s, ok := h.registry.FindByName(name)
	if !ok {
		h.logger.Info("Kill target not found", slog.String("name", name))
		return false
	}

	s.Killed = true
	h.send(s.Addr, protocol.TokenLogout)

	h.logger.Info("Session killed",
		slog.Int("slot", s.Slot),
		slog.String("session_id", s.ID),
		slog.String("name", s.Name),
		slog.String("remote_addr", s.Addr.String()),
	)
	return true
}

// shutdown sends #logout to every active session and releases every slot
// without departure notices. It returns the number of active sessions released.
func (h *Hub) shutdown() int {
	now := h.now()

	var slots []int
	active := 0
	h.registry.ForEach(func(s *session.Session) {
		if s.State == session.StateActive {
			h.send(s.Addr, protocol.TokenLogout)
			active++
		}
		slots = append(slots, s.Slot)
	})

	for _, slot := range slots {
		h.release(slot, metrics.ReasonShutdown, false, now)
	}

	h.logger.Info("Relay shut down", slog.Int("released_sessions", active))
	return active
}

// closeAll tells every active session the relay is going away. Slots are left
// as they are since the hub stops right after.
func (h *Hub) closeAll() int {
	return h.broadcast(noExclusion, protocol.TokenClosed)
}
