package session

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrCapacityExceeded is returned by Allocate when every slot is taken
	ErrCapacityExceeded = errors.New("session registry: capacity exceeded")

	// ErrUnknownSlot is returned when a slot is out of range or not in the expected state
	ErrUnknownSlot = errors.New("session registry: unknown slot")

	// ErrAddressBound is returned by Allocate when the endpoint already holds a slot
	ErrAddressBound = errors.New("session registry: address already bound")
)

// Registry is a fixed-capacity slot arena of sessions with lookup by peer endpoint.
//
// Registry performs no locking. It must be owned by a single goroutine; other
// goroutines reach it through that owner.
type Registry struct {
	slots  []*Session
	free   []int // ascending; free[0] is the lowest free slot
	byAddr map[netip.AddrPort]int
	count  int
}

// NewRegistry creates a registry with the given number of slots
func NewRegistry(capacity int) *Registry {
	if capacity < 1 {
		capacity = 1
	}

	free := make([]int, capacity)
	for i := range free {
		free[i] = i
	}

	return &Registry{
		slots:  make([]*Session, capacity),
		free:   free,
		byAddr: make(map[netip.AddrPort]int, capacity),
	}
}

// Cap returns the number of slots
func (r *Registry) Cap() int {
	return len(r.slots)
}

// Len returns the number of occupied slots (pending or active)
func (r *Registry) Len() int {
	return r.count
}

// ActiveCount returns the number of ACTIVE sessions
func (r *Registry) ActiveCount() int {
	n := 0
	r.ForEachActive(func(*Session) { n++ })
	return n
}

// FindBySlot returns the live session in a slot
func (r *Registry) FindBySlot(slot int) (*Session, bool) {
	if slot < 0 || slot >= len(r.slots) {
		return nil, false
	}
	s := r.slots[slot]
	if s == nil {
		return nil, false
	}
	return s, true
}

// Lookup returns the pending or active session bound to an endpoint
func (r *Registry) Lookup(addr netip.AddrPort) (*Session, bool) {
	slot, ok := r.byAddr[addr]
	if !ok {
		return nil, false
	}
	return r.slots[slot], true
}

// FindByAddress returns the ACTIVE session bound to an endpoint. Host and port
// must both match.
func (r *Registry) FindByAddress(addr netip.AddrPort) (*Session, bool) {
	s, ok := r.Lookup(addr)
	if !ok || s.State != StateActive {
		return nil, false
	}
	return s, true
}

// FindByName returns the lowest-slot ACTIVE session with the given display name
func (r *Registry) FindByName(name string) (*Session, bool) {
	for _, s := range r.slots {
		if s != nil && s.State == StateActive && s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Allocate reserves the lowest free slot for an endpoint in PENDING_JOIN state
func (r *Registry) Allocate(addr netip.AddrPort, now time.Time) (int, error) {
	if _, bound := r.byAddr[addr]; bound {
		return -1, fmt.Errorf("%w: %s", ErrAddressBound, addr)
	}
	if len(r.free) == 0 {
		return -1, ErrCapacityExceeded
	}

	slot := r.free[0]
	r.free = r.free[1:]

	r.slots[slot] = &Session{
		Slot:    slot,
		ID:      uuid.NewString(),
		Addr:    addr,
		State:   StatePendingJoin,
		Created: now,
		LastAck: now,
	}
	r.byAddr[addr] = slot
	r.count++

	return slot, nil
}

// Activate completes a pending join. The join time becomes the initial
// liveness timestamp.
func (r *Registry) Activate(slot int, name string, now time.Time) (*Session, error) {
	s, ok := r.FindBySlot(slot)
	if !ok || s.State != StatePendingJoin {
		return nil, fmt.Errorf("%w: %d is not pending", ErrUnknownSlot, slot)
	}

	s.Name = name
	s.State = StateActive
	s.JoinedAt = now
	s.LastAck = now

	return s, nil
}

// Touch records a liveness acknowledgment for an ACTIVE session
func (r *Registry) Touch(slot int, now time.Time) bool {
	s, ok := r.FindBySlot(slot)
	if !ok || s.State != StateActive {
		return false
	}
	s.LastAck = now
	return true
}

// Release closes the session in a slot and makes the slot immediately reusable.
// The returned value is the closed session.
func (r *Registry) Release(slot int) (Session, error) {
	s, ok := r.FindBySlot(slot)
	if !ok {
		return Session{}, fmt.Errorf("%w: %d is free", ErrUnknownSlot, slot)
	}

	released := *s
	released.State = StateClosed
	s.State = StateClosed

	r.slots[slot] = nil
	delete(r.byAddr, s.Addr)
	r.count--

	i := sort.SearchInts(r.free, slot)
	r.free = append(r.free, 0)
	copy(r.free[i+1:], r.free[i:])
	r.free[i] = slot

	return released, nil
}

// ForEachActive calls fn for every ACTIVE session in slot order.
// fn must not allocate or release slots.
func (r *Registry) ForEachActive(fn func(*Session)) {
	for _, s := range r.slots {
		if s != nil && s.State == StateActive {
			fn(s)
		}
	}
}

// ForEach calls fn for every occupied slot in slot order
func (r *Registry) ForEach(fn func(*Session)) {
	for _, s := range r.slots {
		if s != nil {
			fn(s)
		}
	}
}

// Names returns the display names of ACTIVE sessions in slot order
func (r *Registry) Names() []string {
	names := make([]string, 0, r.count)
	r.ForEachActive(func(s *Session) {
		names = append(names, s.Name)
	})
	return names
}

// Snapshot returns detached copies of every occupied slot in slot order
func (r *Registry) Snapshot() []SessionInfo {
	infos := make([]SessionInfo, 0, r.count)
	r.ForEach(func(s *Session) {
		infos = append(infos, s.Info())
	})
	return infos
}
