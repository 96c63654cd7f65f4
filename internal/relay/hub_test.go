package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/RoyGeagea/udpchatroom/internal/metrics"
	"github.com/RoyGeagea/udpchatroom/internal/protocol"
	"github.com/RoyGeagea/udpchatroom/internal/session"
)

type sent struct {
	to   netip.AddrPort
	body string
}

// fakeTransport records outbound datagrams and fails sends to selected peers
type fakeTransport struct {
	mu      sync.Mutex
	sent    []sent
	failFor map[netip.AddrPort]bool
}

func (f *fakeTransport) Send(to netip.AddrPort, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[to] {
		return errors.New("connection refused")
	}
	f.sent = append(f.sent, sent{to: to, body: string(payload)})
	return nil
}

// take returns everything sent since the previous call
func (f *fakeTransport) take() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

func (f *fakeTransport) to(addr netip.AddrPort) []string {
	var bodies []string
	for _, s := range f.take() {
		if s.to == addr {
			bodies = append(bodies, s.body)
		}
	}
	return bodies
}

type testHub struct {
	*Hub
	transport *fakeTransport
	metrics   *metrics.Metrics
	now       time.Time
}

func newTestHub(t *testing.T, capacity int) *testHub {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	th := &testHub{
		transport: &fakeTransport{failFor: make(map[netip.AddrPort]bool)},
		metrics:   metrics.NewMetrics(prometheus.NewRegistry()),
		now:       time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}

	h, err := NewHub(capacity, th.transport, logger, th.metrics,
		WithClock(func() time.Time { return th.now }),
	)
	if err != nil {
		t.Fatalf("Failed to create hub: %v", err)
	}
	th.Hub = h
	return th
}

func (th *testHub) advance(d time.Duration) {
	th.now = th.now.Add(d)
}

func (th *testHub) deliver(from netip.AddrPort, payload string) {
	th.handle(context.Background(), datagramEvent{Datagram{From: from, Payload: []byte(payload), ReceivedAt: th.now}})
	th.flush()
}

func (th *testHub) sweep() {
	th.tick(context.Background())
	th.flush()
}

func (th *testHub) login(t *testing.T, addr netip.AddrPort, name string) {
	t.Helper()
	th.deliver(addr, protocol.TokenLogin)
	th.deliver(addr, name)
	s, ok := th.registry.FindByAddress(addr)
	if !ok || s.Name != name {
		t.Fatalf("Expected %s to be active at %s", name, addr)
	}
	th.transport.take()
}

func peer(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port)
}

var (
	alice = peer(40001)
	bob   = peer(40002)
	carol = peer(40003)
)

func TestNewHubValidation(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	tr := &fakeTransport{}

	tests := []struct {
		name      string
		transport Transport
		metrics   *metrics.Metrics
		options   []Option
		wantErr   bool
	}{
		{"valid", tr, m, nil, false},
		{"nil transport", nil, m, nil, true},
		{"nil metrics", tr, nil, nil, true},
		{"nil clock", tr, m, []Option{WithClock(nil)}, true},
		{"zero queue", tr, m, []Option{WithQueueSize(0)}, true},
		{"negative ping interval", tr, m, []Option{WithPingInterval(-time.Second)}, true},
		{"zero eviction timeout", tr, m, []Option{WithEvictionTimeout(0)}, true},
		{"custom liveness", tr, m, []Option{WithPingInterval(time.Second), WithEvictionTimeout(2 * time.Second)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHub(10, tt.transport, nil, tt.metrics, tt.options...)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewHub() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJoinAcknowledgesAndNotifiesOthers(t *testing.T) {
	th := newTestHub(t, 100)

	th.deliver(alice, "#login")
	if got := th.transport.take(); len(got) != 0 {
		t.Fatalf("Login request should not be answered yet, got %v", got)
	}
	s, ok := th.registry.Lookup(alice)
	if !ok || s.State != session.StatePendingJoin {
		t.Fatalf("Expected alice pending after #login, got %+v", s)
	}

	th.deliver(alice, "alice\n")
	got := th.transport.take()
	if len(got) != 1 || got[0].to != alice || got[0].body != "" {
		t.Fatalf("Expected a single empty acknowledgment to alice, got %v", got)
	}

	th.login(t, bob, "bob")
	th.deliver(carol, "#login")
	th.deliver(carol, "carol")

	got = th.transport.take()
	want := []sent{
		{alice, "carol is added to the group"},
		{bob, "carol is added to the group"},
		{carol, ""},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Join of carol sent %v, want %v", got, want)
	}

	if v := testutil.ToFloat64(th.metrics.Joins); v != 3 {
		t.Errorf("Expected 3 joins recorded, got %v", v)
	}
}

func TestChatIsRelayedToEveryoneButTheAuthor(t *testing.T) {
	th := newTestHub(t, 100)
	th.login(t, alice, "alice")
	th.login(t, bob, "bob")
	th.login(t, carol, "carol")

	th.deliver(alice, "hi\r\n")

	got := th.transport.take()
	want := []sent{
		{bob, "alice: hi"},
		{carol, "alice: hi"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Chat sent %v, want %v", got, want)
	}
}

func TestDirectoryRepliesToAskerOnly(t *testing.T) {
	th := newTestHub(t, 100)
	th.login(t, alice, "alice")
	th.login(t, bob, "bob")

	th.deliver(bob, "_who")

	got := th.transport.take()
	want := []sent{{bob, "alice, bob"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Directory query sent %v, want %v", got, want)
	}
}

func TestCapacityRejection(t *testing.T) {
	th := newTestHub(t, 1)
	th.login(t, alice, "alice")

	th.deliver(bob, "#login")

	if got := th.transport.to(bob); !reflect.DeepEqual(got, []string{"#logout"}) {
		t.Errorf("Expected #logout rejection for bob, got %v", got)
	}
	if _, ok := th.registry.Lookup(bob); ok {
		t.Error("Rejected peer must not hold a slot")
	}
	if th.registry.Len() != 1 {
		t.Errorf("Expected occupancy 1, got %d", th.registry.Len())
	}
	if v := testutil.ToFloat64(th.metrics.JoinRejections); v != 1 {
		t.Errorf("Expected 1 join rejection, got %v", v)
	}
}

func TestSlotReuseAfterLogout(t *testing.T) {
	th := newTestHub(t, 3)
	th.login(t, alice, "alice")
	th.login(t, bob, "bob")
	th.login(t, carol, "carol")

	th.deliver(alice, "#logout")
	th.transport.take()

	dave := peer(40004)
	th.login(t, dave, "dave")

	s, _ := th.registry.FindByAddress(dave)
	if s.Slot != 0 {
		t.Errorf("Expected dave to reuse slot 0, got %d", s.Slot)
	}
}

func TestLogoutAcknowledgedOnce(t *testing.T) {
	th := newTestHub(t, 100)
	th.login(t, alice, "alice")
	th.login(t, bob, "bob")

	th.deliver(alice, "#logout")
	got := th.transport.take()
	want := []sent{
		{alice, "#logout"},
		{bob, "alice logged out"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Logout sent %v, want %v", got, want)
	}

	th.deliver(alice, "#logout")
	if got := th.transport.take(); len(got) != 0 {
		t.Errorf("Second logout must be ignored, got %v", got)
	}
	if v := testutil.ToFloat64(th.metrics.Departures.WithLabelValues(metrics.ReasonLogout)); v != 1 {
		t.Errorf("Expected 1 logout departure, got %v", v)
	}
}

func TestUnboundSenderIsIgnored(t *testing.T) {
	th := newTestHub(t, 100)
	th.login(t, alice, "alice")

	for _, payload := range []string{"hello", "_who", "#pong", "#logout", "#ping", "#closed"} {
		th.deliver(bob, payload)
	}

	if got := th.transport.take(); len(got) != 0 {
		t.Errorf("Unbound sender caused sends: %v", got)
	}
	if v := testutil.ToFloat64(th.metrics.DatagramsIgnored); v != 6 {
		t.Errorf("Expected 6 ignored datagrams, got %v", v)
	}
}

func TestSamePortDifferentHostIsDistinctPeer(t *testing.T) {
	th := newTestHub(t, 100)
	th.login(t, alice, "alice")

	other := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.2"), alice.Port())
	th.deliver(other, "spoofed")

	if got := th.transport.take(); len(got) != 0 {
		t.Errorf("Datagram from another host on the same port was relayed: %v", got)
	}
}

func TestInvalidNameRejected(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"blank", "   \n"},
		{"control token", "#ping"},
		{"directory token", "_who"},
		{"too long", string(make([]byte, protocol.MaxNameLength+1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := newTestHub(t, 100)
			th.deliver(alice, "#login")
			th.deliver(alice, tt.payload)

			if got := th.transport.to(alice); !reflect.DeepEqual(got, []string{"#logout"}) {
				t.Errorf("Expected #logout for invalid name, got %v", got)
			}
			if th.registry.Len() != 0 {
				t.Errorf("Slot not freed after invalid name, occupancy %d", th.registry.Len())
			}
		})
	}
}

func TestRepeatedLoginReplacesSession(t *testing.T) {
	th := newTestHub(t, 100)
	th.login(t, alice, "alice")
	th.login(t, bob, "bob")

	th.deliver(alice, "#login")
	got := th.transport.take()
	want := []sent{{bob, "alice logged out"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Repeated login sent %v, want %v", got, want)
	}

	s, ok := th.registry.Lookup(alice)
	if !ok || s.State != session.StatePendingJoin {
		t.Fatalf("Expected alice pending again, got %+v", s)
	}

	th.deliver(alice, "alicia")
	got = th.transport.take()
	want = []sent{
		{bob, "alicia is added to the group"},
		{alice, ""},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Rejoin sent %v, want %v", got, want)
	}
}

func TestPendingLogoutAbortsJoin(t *testing.T) {
	th := newTestHub(t, 100)
	th.login(t, bob, "bob")

	th.deliver(alice, "#login")
	th.deliver(alice, "#logout")

	got := th.transport.take()
	want := []sent{{alice, "#logout"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Aborted join sent %v, want %v", got, want)
	}
	if th.registry.Len() != 1 {
		t.Errorf("Expected only bob to remain, occupancy %d", th.registry.Len())
	}
}

func TestLivenessEviction(t *testing.T) {
	th := newTestHub(t, 100)
	th.login(t, alice, "alice")
	th.login(t, bob, "bob")

	th.advance(3 * time.Second)
	th.sweep()
	got := th.transport.take()
	want := []sent{{alice, "#ping"}, {bob, "#ping"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("First tick sent %v, want %v", got, want)
	}

	// only bob answers
	th.deliver(bob, "#pong")

	th.advance(2*time.Second + 999*time.Millisecond)
	th.sweep()
	if th.registry.ActiveCount() != 2 {
		t.Fatalf("Alice evicted before the timeout, active %d", th.registry.ActiveCount())
	}
	th.transport.take()

	th.advance(time.Millisecond)
	th.sweep()

	if _, ok := th.registry.FindByAddress(alice); ok {
		t.Fatal("Alice should be evicted after 6s of silence")
	}
	got = th.transport.take()
	want = []sent{{bob, "alice logged out"}, {bob, "#ping"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Eviction tick sent %v, want %v", got, want)
	}
	if v := testutil.ToFloat64(th.metrics.Departures.WithLabelValues(metrics.ReasonTimeout)); v != 1 {
		t.Errorf("Expected 1 timeout departure, got %v", v)
	}
}

func TestStalledJoinExpiresSilently(t *testing.T) {
	th := newTestHub(t, 1)
	th.deliver(alice, "#login")

	th.advance(6 * time.Second)
	th.sweep()

	if th.registry.Len() != 0 {
		t.Fatalf("Stalled join still holds a slot")
	}
	if got := th.transport.take(); len(got) != 0 {
		t.Errorf("Stalled join expiry sent %v", got)
	}

	th.deliver(bob, "#login")
	if _, ok := th.registry.Lookup(bob); !ok {
		t.Error("Freed slot not reusable after join expiry")
	}
}

func TestKillReleasesAtNextSweep(t *testing.T) {
	th := newTestHub(t, 100)
	th.login(t, alice, "alice")
	th.login(t, bob, "bob")

	if !th.kill("bob") {
		t.Fatal("Expected kill of bob to match")
	}
	th.flush()

	if got := th.transport.take(); !reflect.DeepEqual(got, []sent{{bob, "#logout"}}) {
		t.Fatalf("Kill sent %v", got)
	}
	if _, ok := th.registry.FindByAddress(bob); !ok {
		t.Fatal("Kill must not release the slot synchronously")
	}

	th.advance(time.Second)
	th.sweep()

	if _, ok := th.registry.FindByAddress(bob); ok {
		t.Fatal("Killed session still active after sweep")
	}
	got := th.transport.take()
	want := []sent{{alice, "bob logged out"}, {alice, "#ping"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Sweep after kill sent %v, want %v", got, want)
	}

	if th.kill("nobody") {
		t.Error("Kill of unknown name should report no match")
	}
}

func TestKilledPeerLogoutReleasesImmediately(t *testing.T) {
	th := newTestHub(t, 100)
	th.login(t, alice, "alice")
	th.login(t, bob, "bob")

	th.kill("bob")
	th.flush()
	th.transport.take()

	th.deliver(bob, "#logout")
	if _, ok := th.registry.Lookup(bob); ok {
		t.Fatal("Killed peer's logout should release the slot")
	}
	if got := th.transport.to(alice); !reflect.DeepEqual(got, []string{"bob logged out"}) {
		t.Errorf("Expected departure notice for alice, got %v", got)
	}
}

func TestShutdownLogsOutEveryone(t *testing.T) {
	th := newTestHub(t, 100)
	th.login(t, alice, "alice")
	th.login(t, bob, "bob")
	th.deliver(carol, "#login")

	released := th.shutdown()
	th.flush()

	if released != 2 {
		t.Errorf("Expected 2 active sessions released, got %d", released)
	}
	got := th.transport.take()
	want := []sent{{alice, "#logout"}, {bob, "#logout"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Shutdown sent %v, want %v", got, want)
	}
	if th.registry.Len() != 0 {
		t.Errorf("Registry not empty after shutdown, occupancy %d", th.registry.Len())
	}
}

func TestSendFailureDoesNotStopBroadcast(t *testing.T) {
	th := newTestHub(t, 100)
	th.login(t, alice, "alice")
	th.login(t, bob, "bob")
	th.login(t, carol, "carol")

	th.transport.failFor[bob] = true
	th.deliver(alice, "hello")

	got := th.transport.take()
	want := []sent{{carol, "alice: hello"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Broadcast with failing recipient sent %v, want %v", got, want)
	}
	if v := testutil.ToFloat64(th.metrics.SendErrors); v != 1 {
		t.Errorf("Expected 1 send error, got %v", v)
	}
}

func TestOutboundTruncated(t *testing.T) {
	th := newTestHub(t, 100)
	th.login(t, alice, "alice")
	th.login(t, bob, "bob")

	long := make([]byte, protocol.MaxDatagram)
	for i := range long {
		long[i] = 'x'
	}
	th.deliver(alice, string(long))

	got := th.transport.to(bob)
	if len(got) != 1 || len(got[0]) != protocol.MaxDatagram {
		t.Errorf("Expected one %d-byte datagram, got %d datagrams", protocol.MaxDatagram, len(got))
	}
}

func TestRunServesCommandsAndClosesOnCancel(t *testing.T) {
	tr := &fakeTransport{}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	h, err := NewHub(10, tr, logger, metrics.NewMetrics(prometheus.NewRegistry()), WithPingInterval(time.Hour))
	if err != nil {
		t.Fatalf("Failed to create hub: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.Run(ctx) }()

	for _, d := range []Datagram{
		{From: alice, Payload: []byte("#login")},
		{From: alice, Payload: []byte("alice")},
		{From: bob, Payload: []byte("#login")},
		{From: bob, Payload: []byte("bob")},
	} {
		if !h.Submit(d) {
			t.Fatalf("Submit dropped %q", d.Payload)
		}
	}

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reqCancel()

	stats, err := h.Stats(reqCtx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Active != 2 || stats.Capacity != 10 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	infos, err := h.Snapshot(reqCtx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(infos) != 2 || infos[0].Name != "alice" || infos[1].State != "ACTIVE" {
		t.Errorf("Unexpected snapshot %+v", infos)
	}

	found, err := h.Kill(reqCtx, "bob")
	if err != nil || !found {
		t.Fatalf("Kill(bob) = %v, %v", found, err)
	}

	if err := h.Run(ctx); !errors.Is(err, ErrRunning) {
		t.Errorf("Second Run should fail with ErrRunning, got %v", err)
	}

	tr.take()
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	got := tr.take()
	want := []sent{{alice, "#closed"}, {bob, "#closed"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Cancel sent %v, want %v", got, want)
	}

	if _, err := h.Stats(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped after Run returned, got %v", err)
	}
	if h.Submit(Datagram{From: alice, Payload: []byte("late")}) {
		t.Error("Submit after stop should report false")
	}
}

func TestRunStopsOnShutdownCommand(t *testing.T) {
	tr := &fakeTransport{}
	h, err := NewHub(10, tr, nil, metrics.NewMetrics(prometheus.NewRegistry()), WithPingInterval(time.Hour))
	if err != nil {
		t.Fatalf("Failed to create hub: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- h.Run(context.Background()) }()

	h.Submit(Datagram{From: alice, Payload: []byte("#login")})
	h.Submit(Datagram{From: alice, Payload: []byte("alice")})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	released, err := h.Shutdown(ctx)
	if err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if released != 1 {
		t.Errorf("Expected 1 released session, got %d", released)
	}

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Hub did not stop after shutdown command")
	}
	if err := <-errCh; err != nil {
		t.Errorf("Run returned %v", err)
	}
}
