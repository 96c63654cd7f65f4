package relay

import (
	"net/netip"
	"time"

	"github.com/RoyGeagea/udpchatroom/internal/session"
)

// Datagram is one inbound transport payload with its source endpoint
type Datagram struct {
	From       netip.AddrPort
	Payload    []byte
	ReceivedAt time.Time
}

// Stats is a point-in-time view of registry occupancy
type Stats struct {
	Active    int `json:"active"`
	Occupied  int `json:"occupied"`
	Capacity  int `json:"capacity"`
	QueueSize int `json:"queue_size"`
}

// event is anything the hub goroutine consumes
type event interface{}

type datagramEvent struct {
	Datagram
}

type killCommand struct {
	name  string
	reply chan bool
}

type shutdownCommand struct {
	reply chan int
}

type snapshotQuery struct {
	reply chan []session.SessionInfo
}

type statsQuery struct {
	reply chan Stats
}

// outbound is a datagram queued for delivery after the current event
type outbound struct {
	to   netip.AddrPort
	body []byte
}
