// Package ingest receives tactile state events from UDP, Kafka, serial, and
// capture-file transports and feeds them into the merger.
//
// Every source decodes its transport framing into a tactile.StateEvent and
// hands the readings to an Updater one sensor at a time. Malformed frames are
// counted and logged, never fatal: a bad packet must not take down the ingest
// loop.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/haptic-data/touch.report/internal/tactile"
)

// Updater consumes per-sensor readings. *merge.Merger satisfies it.
type Updater interface {
	Update(timestamp time.Time, name string, values []float64) error
}

// Source is a transport that feeds state events into an Updater until its
// context is cancelled.
type Source interface {
	// Start blocks, reading events until ctx is cancelled or the transport
	// fails. A nil return means a clean shutdown.
	Start(ctx context.Context) error

	// Close releases the underlying transport resources.
	Close() error
}

// Apply fans one state event out to the updater, one reading at a time. The
// event timestamp applies to every reading it carries. Rejected readings are
// counted against stats; the updater is expected to log the reason.
func Apply(u Updater, ev tactile.StateEvent, stats *Stats) {
	for _, r := range ev.Readings {
		if err := u.Update(ev.TS, r.Name, r.Values); err != nil {
			stats.AddReject()
			continue
		}
		stats.AddReadings(1)
	}
}

// maxEventLineSize bounds a single JSONL capture line. A 4096-taxel array
// encoded as JSON floats stays well under this.
const maxEventLineSize = 1024 * 1024

// ScanEvents reads JSONL state events from r and invokes fn for each decoded
// event, in file order. Blank lines and undecodable lines are skipped; the
// skipped count is reported so callers can surface corrupt captures. An error
// from fn aborts the scan.
func ScanEvents(r io.Reader, fn func(tactile.StateEvent) error) (events, skipped int, err error) {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), maxEventLineSize)

	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		ev, decodeErr := tactile.DecodeStateEvent([]byte(line))
		if decodeErr != nil {
			skipped++
			continue
		}
		if err := fn(ev); err != nil {
			return events, skipped, err
		}
		events++
	}
	if err := scan.Err(); err != nil {
		return events, skipped, fmt.Errorf("failed to scan events: %w", err)
	}
	return events, skipped, nil
}
