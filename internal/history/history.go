// Package history keeps a bounded in-memory record of contact snapshots,
// feeding the web UI timeline, the taxel trace plots, and per-sensor
// statistics.
package history

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/haptic-data/touch.report/internal/tactile"
)

// Ring is a fixed-size circular buffer of contact snapshots. Snapshots are
// stored as given; callers must not mutate them afterwards.
type Ring struct {
	mu   sync.Mutex
	buf  []tactile.ContactSnapshot
	next int
	full bool
}

// New creates a ring holding up to size snapshots. Sizes below 1 are
// treated as 1.
func New(size int) *Ring {
	if size < 1 {
		size = 1
	}
	return &Ring{buf: make([]tactile.ContactSnapshot, size)}
}

// Add records a snapshot, evicting the oldest once the ring is full.
func (r *Ring) Add(snap tactile.ContactSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = snap
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// Len returns the number of buffered snapshots.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lenLocked()
}

func (r *Ring) lenLocked() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Latest returns the most recently added snapshot.
func (r *Ring) Latest() (tactile.ContactSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lenLocked() == 0 {
		return tactile.ContactSnapshot{}, false
	}
	idx := r.next - 1
	if idx < 0 {
		idx = len(r.buf) - 1
	}
	return r.buf[idx], true
}

// Recent returns up to n snapshots in chronological order, ending with the
// newest. n <= 0 returns everything buffered.
func (r *Ring) Recent(n int) []tactile.ContactSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	length := r.lenLocked()
	if n <= 0 || n > length {
		n = length
	}
	if n == 0 {
		return nil
	}

	out := make([]tactile.ContactSnapshot, n)
	// Oldest requested snapshot sits n slots behind the write cursor.
	start := r.next - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// TimelinePoint is one sample of the overall contact activity.
type TimelinePoint struct {
	TS     time.Time
	Active int
}

// ContactTimeline returns the active contact count for up to n recent
// snapshots, oldest first.
func (r *Ring) ContactTimeline(n int) []TimelinePoint {
	snaps := r.Recent(n)
	if len(snaps) == 0 {
		return nil
	}
	out := make([]TimelinePoint, len(snaps))
	for i, snap := range snaps {
		out[i] = TimelinePoint{TS: snap.TS, Active: snap.ActiveContacts()}
	}
	return out
}

// Series holds aligned timestamps and taxel vectors for one sensor.
type Series struct {
	Times  []time.Time
	Values [][]float64
}

// SensorSeries extracts the value history of one sensor from up to n recent
// snapshots, oldest first. Snapshots where the sensor was absent or stale
// are skipped, so the series only carries real readings.
func (r *Ring) SensorSeries(name string, n int) Series {
	var s Series
	for _, snap := range r.Recent(n) {
		c, ok := snap.Sensor(name)
		if !ok || !c.Fresh || len(c.Values) == 0 {
			continue
		}
		s.Times = append(s.Times, snap.TS)
		s.Values = append(s.Values, c.Values)
	}
	return s
}

// TaxelStats summarizes one taxel's buffered values.
type TaxelStats struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
	Samples int     `json:"samples"`
}

// SensorStats computes per-taxel statistics for one sensor across the
// whole ring. Returns false when no fresh readings are buffered.
func (r *Ring) SensorStats(name string) ([]TaxelStats, bool) {
	series := r.SensorSeries(name, 0)
	if len(series.Values) == 0 {
		return nil, false
	}

	width := len(series.Values[0])
	columns := make([][]float64, width)
	for _, values := range series.Values {
		if len(values) != width {
			// A sensor was replaced mid-buffer with a different shape.
			continue
		}
		for i, v := range values {
			columns[i] = append(columns[i], v)
		}
	}

	out := make([]TaxelStats, width)
	for i, col := range columns {
		if len(col) == 0 {
			continue
		}
		ts := TaxelStats{
			Min:     floats.Min(col),
			Max:     floats.Max(col),
			Mean:    stat.Mean(col, nil),
			Samples: len(col),
		}
		if len(col) > 1 {
			ts.StdDev = stat.StdDev(col, nil)
		}
		out[i] = ts
	}
	return out, true
}
