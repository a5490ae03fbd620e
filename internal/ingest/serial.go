package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/haptic-data/touch.report/internal/monitoring"
	"github.com/haptic-data/touch.report/internal/tactile"
)

// PortOptions describes the serial connection parameters used when opening a
// sensor bridge board. The JSON tags match the daemon flag and config file
// naming so the options can be passed through without translation.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
// Bridge firmware ships configured for 115200 8N1.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	if parity == "" {
		parity = "N"
	}

	switch parity {
	case "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	opts.Parity = parity
	return opts, nil
}

// Mode converts the port options into the serial.Mode structure required by
// go.bug.st/serial when opening a port.
func (o PortOptions) Mode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.StopBits(opts.StopBits),
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", opts.Parity)
	}

	return mode, nil
}

// SerialSourceConfig holds configuration for the serial source.
type SerialSourceConfig struct {
	// Path is the serial device path, for example /dev/ttyACM0. Required.
	Path string

	// Options are the connection parameters, normalized on open.
	Options PortOptions

	// LogInterval is how often to log throughput stats.
	LogInterval time.Duration

	// Updater receives the decoded readings.
	Updater Updater
}

// SerialSource reads line-framed sensor readings from a serial port and
// applies them to the configured updater. The firmware emits one line per
// sensor per sample in the form name,unix_micros,v0,v1,...
type SerialSource struct {
	config SerialSourceConfig
	port   io.ReadCloser
	stats  *Stats
}

// NewSerialSource opens the configured serial port. The stats instance may
// be nil, in which case a private one is allocated.
func NewSerialSource(config SerialSourceConfig, stats *Stats) (*SerialSource, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("serial source requires a device path")
	}
	if config.Updater == nil {
		return nil, fmt.Errorf("serial source requires an updater")
	}

	mode, err := config.Options.Mode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(config.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", config.Path, err)
	}

	return newSerialSourceWithPort(config, port, stats), nil
}

// newSerialSourceWithPort wires an already-open port into the source. Tests
// use it to run the read loop against in-memory data.
func newSerialSourceWithPort(config SerialSourceConfig, port io.ReadCloser, stats *Stats) *SerialSource {
	if config.LogInterval == 0 {
		config.LogInterval = time.Minute
	}
	if stats == nil {
		stats = NewStats()
	}
	return &SerialSource{
		config: config,
		port:   port,
		stats:  stats,
	}
}

// Stats exposes the source's throughput counters.
func (s *SerialSource) Stats() *Stats {
	return s.stats
}

// Start reads lines until ctx is cancelled or the port closes. Scanning
// happens in its own goroutine so the blocking Read cannot stop the loop
// from observing cancellation.
func (s *SerialSource) Start(ctx context.Context) error {
	monitoring.Logf("[Serial] reading state lines from %s", s.config.Path)

	go startStatsLogging(ctx, s.stats, "Serial", s.config.LogInterval)

	scan := bufio.NewScanner(s.port)
	scan.Buffer(make([]byte, 0, 4096), maxEventLineSize)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-scanErrChan:
			return fmt.Errorf("serial read error: %w", err)

		case line, ok := <-lineChan:
			// a closed channel means the port reached EOF cleanly
			if !ok {
				return nil
			}
			s.handleLine(line)
		}
	}
}

// handleLine decodes one serial frame and applies its reading.
func (s *SerialSource) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	s.stats.AddEvent(len(line))

	ev, err := tactile.ParseLine(line)
	if err != nil {
		s.stats.AddReject()
		monitoring.Logf("[Serial] dropping malformed line: %v", err)
		return
	}

	Apply(s.config.Updater, ev, s.stats)
}

// Close closes the underlying port.
func (s *SerialSource) Close() error {
	return s.port.Close()
}
