package session

import (
	"fmt"
	"net/netip"
	"time"
)

// State is the lifecycle position of a session
type State uint8

const (
	StateClosed State = iota
	StatePendingJoin
	StateActive
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StatePendingJoin:
		return "PENDING_JOIN"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// Session represents one peer holding a registry slot
type Session struct {
	Slot     int
	ID       string // unique per incarnation; slot numbers are reused
	Name     string
	Addr     netip.AddrPort
	State    State
	Created  time.Time
	JoinedAt time.Time
	LastAck  time.Time

	// Killed is set by an administrative kill. The slot is kept until the
	// peer logs out or the next liveness sweep releases it.
	Killed bool
}

// SessionInfo is a copy of session state safe to hand outside the owning goroutine
type SessionInfo struct {
	Slot     int       `json:"slot"`
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	State    string    `json:"state"`
	JoinedAt time.Time `json:"joined_at"`
	LastAck  time.Time `json:"last_ack"`
	Killed   bool      `json:"killed"`
}

// Info returns a detached snapshot of the session
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		Slot:     s.Slot,
		ID:       s.ID,
		Name:     s.Name,
		Address:  s.Addr.String(),
		State:    s.State.String(),
		JoinedAt: s.JoinedAt,
		LastAck:  s.LastAck,
		Killed:   s.Killed,
	}
}

// SilentFor returns how long the session has gone without a liveness acknowledgment
func (s *Session) SilentFor(now time.Time) time.Duration {
	return now.Sub(s.LastAck)
}
