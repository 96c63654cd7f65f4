package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/RoyGeagea/udpchatroom/internal/config"
	"github.com/RoyGeagea/udpchatroom/internal/protocol"
	"github.com/RoyGeagea/udpchatroom/internal/relay"
)

// ErrNotStarted is returned by Send before Start has bound the socket
var ErrNotStarted = errors.New("udp server: not started")

// Sink receives inbound datagrams. relay.Hub implements it.
type Sink interface {
	Submit(d relay.Datagram) bool
}

// UDPServer is the relay's transport endpoint. It feeds inbound datagrams to a
// Sink and implements relay.Transport for outbound ones.
type UDPServer struct {
	conn   *net.UDPConn
	config *config.ServerConfig
	logger *slog.Logger
	sink   Sink

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	errs   chan error

	// Statistics
	packetsReceived uint64
	packetsDropped  uint64
	packetsSent     uint64
	sendErrors      uint64
	mu              sync.RWMutex
}

// NewUDPServer creates a new UDP server instance
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &UDPServer{
		config: cfg,
		logger: logger.With("component", "udp"),
		ctx:    ctx,
		cancel: cancel,
		errs:   make(chan error, 1),
	}
}

// Start binds the socket and begins delivering datagrams to sink
func (s *UDPServer) Start(sink Sink) error {
	if sink == nil {
		return fmt.Errorf("udp server: sink is nil")
	}
	s.sink = sink

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.config.BindAddress, fmt.Sprint(s.config.UDPPort)))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if err := conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP server started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
	)

	s.wg.Add(1)
	go s.receiveLoop()

	return nil
}

// LocalAddr returns the bound endpoint, useful when the configured port is 0
func (s *UDPServer) LocalAddr() netip.AddrPort {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return netip.AddrPort{}
	}
	return s.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Errors delivers a non-timeout receive failure. The receive loop stops after
// reporting one.
func (s *UDPServer) Errors() <-chan error {
	return s.errs
}

// Send writes one datagram to a peer. It implements relay.Transport.
func (s *UDPServer) Send(to netip.AddrPort, payload []byte) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotStarted
	}

	_, err := conn.WriteToUDPAddrPort(payload, to)

	s.mu.Lock()
	if err != nil {
		s.sendErrors++
	} else {
		s.packetsSent++
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

// Stop closes the socket and waits for the receive loop to exit
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP server...")

	s.cancel()

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP server stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_dropped", stats.PacketsDropped),
		slog.Uint64("packets_sent", stats.PacketsSent),
		slog.Uint64("send_errors", stats.SendErrors),
	)

	return nil
}

// receiveLoop is the main datagram receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.wg.Done()

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Receive loop stopping due to context cancellation")
			return
		default:
		}

		// Set read deadline to check for context cancellation periodically
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			s.fail(fmt.Errorf("failed to set read deadline: %w", err))
			return
		}

		n, from, err := s.conn.ReadFromUDPAddrPort(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.fail(fmt.Errorf("failed to read UDP datagram: %w", err))
				return
			}
		}

		if n > protocol.MaxDatagram {
			n = protocol.MaxDatagram
		}

		// buffer is reused; the hub keeps its own copy
		payload := make([]byte, n)
		copy(payload, buffer[:n])

		d := relay.Datagram{
			From:       netip.AddrPortFrom(from.Addr().Unmap(), from.Port()),
			Payload:    payload,
			ReceivedAt: time.Now(),
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()

		if !s.sink.Submit(d) {
			s.mu.Lock()
			s.packetsDropped++
			s.mu.Unlock()
		}
	}
}

// fail reports a fatal receive error without blocking
func (s *UDPServer) fail(err error) {
	s.logger.Error("UDP receive failed", slog.String("error", err.Error()))
	select {
	case s.errs <- err:
	default:
	}
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStatistics{
		PacketsReceived: s.packetsReceived,
		PacketsDropped:  s.packetsDropped,
		PacketsSent:     s.packetsSent,
		SendErrors:      s.sendErrors,
	}
}

// ServerStatistics represents transport counters
type ServerStatistics struct {
	PacketsReceived uint64 `json:"packets_received"`
	PacketsDropped  uint64 `json:"packets_dropped"`
	PacketsSent     uint64 `json:"packets_sent"`
	SendErrors      uint64 `json:"send_errors"`
}
