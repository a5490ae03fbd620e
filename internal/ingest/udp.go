package ingest

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/haptic-data/touch.report/internal/monitoring"
	"github.com/haptic-data/touch.report/internal/tactile"
)

const (
	// DefaultUDPAddress is the bind address used when none is configured.
	DefaultUDPAddress = ":7788"

	// defaultReadBufferSize is the kernel receive buffer requested by default.
	// Sensor bridges burst one datagram per sample period, so a modest buffer
	// absorbs scheduling hiccups.
	defaultReadBufferSize = 1 << 20

	// maxDatagramSize is the largest state event datagram accepted.
	maxDatagramSize = 65535
)

// UDPSourceConfig holds configuration for the UDP source.
type UDPSourceConfig struct {
	// Address is the host:port to bind, DefaultUDPAddress when empty.
	Address string

	// ReadBufferSize is the kernel receive buffer size in bytes.
	ReadBufferSize int

	// LogInterval is how often to log throughput stats.
	LogInterval time.Duration

	// Updater receives the decoded readings.
	Updater Updater

	// SocketFactory overrides socket creation. Tests inject mocks here.
	SocketFactory UDPSocketFactory
}

// UDPSource listens for JSON state event datagrams and applies them to the
// configured updater.
type UDPSource struct {
	config  UDPSourceConfig
	factory UDPSocketFactory
	socket  UDPSocket
	stats   *Stats
}

// NewUDPSource creates a UDP source, applying defaults for unset fields.
// The stats instance may be nil, in which case a private one is allocated.
func NewUDPSource(config UDPSourceConfig, stats *Stats) (*UDPSource, error) {
	if config.Updater == nil {
		return nil, fmt.Errorf("udp source requires an updater")
	}
	if config.Address == "" {
		config.Address = DefaultUDPAddress
	}
	if config.ReadBufferSize == 0 {
		config.ReadBufferSize = defaultReadBufferSize
	}
	if config.LogInterval == 0 {
		config.LogInterval = time.Minute
	}
	factory := config.SocketFactory
	if factory == nil {
		factory = &RealUDPSocketFactory{}
	}
	if stats == nil {
		stats = NewStats()
	}
	return &UDPSource{
		config:  config,
		factory: factory,
		stats:   stats,
	}, nil
}

// Stats exposes the source's throughput counters.
func (s *UDPSource) Stats() *Stats {
	return s.stats
}

// Start binds the socket and reads datagrams until ctx is cancelled. The
// read deadline is refreshed every pass so cancellation is observed within
// roughly 100ms even when no sensor is transmitting.
func (s *UDPSource) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", s.config.Address, err)
	}

	socket, err := s.factory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.socket = socket

	if err := socket.SetReadBuffer(s.config.ReadBufferSize); err != nil {
		monitoring.Logf("[UDP] failed to set read buffer to %d bytes: %v", s.config.ReadBufferSize, err)
	}

	monitoring.Logf("[UDP] listening for state events on %s", socket.LocalAddr())

	go startStatsLogging(ctx, s.stats, "UDP", s.config.LogInterval)

	buffer := make([]byte, maxDatagramSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := socket.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}

		n, _, err := socket.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("udp read error: %w", err)
		}

		s.handleDatagram(buffer[:n])
	}
}

// handleDatagram decodes one datagram and applies its readings.
func (s *UDPSource) handleDatagram(data []byte) {
	s.stats.AddEvent(len(data))

	ev, err := tactile.DecodeStateEvent(data)
	if err != nil {
		s.stats.AddReject()
		monitoring.Logf("[UDP] dropping malformed datagram: %v", err)
		return
	}

	Apply(s.config.Updater, ev, s.stats)
}

// Close closes the underlying socket if one was opened.
func (s *UDPSource) Close() error {
	if s.socket != nil {
		return s.socket.Close()
	}
	return nil
}
