package relay

import (
	"log/slog"
	"net/netip"

	"github.com/RoyGeagea/udpchatroom/internal/protocol"
	"github.com/RoyGeagea/udpchatroom/internal/session"
)

// noExclusion passed to broadcast delivers to every active session
const noExclusion = -1

// send queues one datagram for delivery after the current event
func (h *Hub) send(to netip.AddrPort, body string) {
	h.outbox.Add(outbound{to: to, body: []byte(protocol.Truncate(body))})
}

// broadcast queues body for every ACTIVE session except the one in slot
// exclude, in slot order. It returns the number of recipients.
func (h *Hub) broadcast(exclude int, body string) int {
	recipients := 0
	h.registry.ForEachActive(func(s *session.Session) {
		if s.Slot == exclude {
			return
		}
		h.send(s.Addr, body)
		recipients++
	})
	return recipients
}

// flush delivers queued datagrams in order. A failed recipient is logged and
// skipped; delivery to the others continues.
func (h *Hub) flush() {
	for h.outbox.Length() > 0 {
		out := h.outbox.Remove().(outbound)
		err := h.transport.Send(out.to, out.body)
		h.metrics.RecordSend(err)
		if err != nil {
			h.logger.Warn("Failed to send datagram",
				slog.String("remote_addr", out.to.String()),
				slog.Int("size", len(out.body)),
				slog.String("error", err.Error()),
			)
		}
	}
}
