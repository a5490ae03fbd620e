package db

import (
	"context"
	"sync"
	"time"

	"github.com/haptic-data/touch.report/internal/monitoring"
	"github.com/haptic-data/touch.report/internal/tactile"
)

// episodeKey identifies one tracked contact episode. Taxel is
// WholeSensorTaxel when the snapshot carries no per-taxel vector.
type episodeKey struct {
	sensor string
	taxel  int
}

// episode is an open contact awaiting its release.
type episode struct {
	began time.Time
	last  time.Time
	peak  float64
}

// TransitionRecorder consumes published snapshots and persists contact
// transitions: one contact_events row per episode, opened when a taxel
// first crosses the threshold and closed when it releases or goes stale.
// Unchanged contact states between snapshots produce no rows, so the table
// grows with touches, not with the publish rate.
//
// It also records a coarse snapshot row at most once per SnapshotInterval
// for offline inspection.
type TransitionRecorder struct {
	mu           sync.Mutex
	db           *DB
	runID        string
	open         map[episodeKey]*episode
	lastSnapshot time.Time
	interval     time.Duration
}

// DefaultSnapshotInterval is how often coarse snapshots are persisted.
const DefaultSnapshotInterval = time.Second

// NewTransitionRecorder creates a recorder stamping events with runID.
// A snapshotInterval of zero applies DefaultSnapshotInterval; a negative
// one disables coarse snapshot rows entirely.
func NewTransitionRecorder(db *DB, runID string, snapshotInterval time.Duration) *TransitionRecorder {
	if snapshotInterval == 0 {
		snapshotInterval = DefaultSnapshotInterval
	}
	return &TransitionRecorder{
		db:       db,
		runID:    runID,
		open:     make(map[episodeKey]*episode),
		interval: snapshotInterval,
	}
}

// Publish folds one snapshot into the open episode set, closing and
// persisting any episode whose contact ended. Implements publish.Sink.
func (r *TransitionRecorder) Publish(_ context.Context, snap tactile.ContactSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := make(map[episodeKey]float64)
	for _, c := range snap.Contacts {
		collectActive(c, active)
	}

	// Open or refresh episodes for everything active in this snapshot.
	for key, value := range active {
		if ep, ok := r.open[key]; ok {
			ep.last = snap.TS
			if value > ep.peak {
				ep.peak = value
			}
			continue
		}
		r.open[key] = &episode{began: snap.TS, last: snap.TS, peak: value}
	}

	// Close episodes that are no longer active.
	var firstErr error
	for key, ep := range r.open {
		if _, stillActive := active[key]; stillActive {
			continue
		}
		delete(r.open, key)
		err := r.db.InsertContactEvent(ContactEvent{
			RunID: r.runID,
			Name:  key.sensor,
			Taxel: key.taxel,
			Began: ep.began,
			Ended: snap.TS,
			Peak:  ep.peak,
		})
		if err != nil {
			monitoring.Logf("[Transitions] failed to record episode for %s/%d: %v", key.sensor, key.taxel, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if r.interval > 0 && snap.TS.Sub(r.lastSnapshot) >= r.interval {
		r.lastSnapshot = snap.TS
		if data, err := tactile.EncodeSnapshot(snap); err == nil {
			if err := r.db.InsertSnapshot(r.runID, snap.TS, snap.ActiveContacts(), data); err != nil {
				monitoring.Logf("[Transitions] failed to record snapshot: %v", err)
			}
		}
	}

	return firstErr
}

// Flush closes every still-open episode at the given end time. Call on
// shutdown so touches in progress are not lost.
func (r *TransitionRecorder) Flush(ended time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for key, ep := range r.open {
		delete(r.open, key)
		err := r.db.InsertContactEvent(ContactEvent{
			RunID: r.runID,
			Name:  key.sensor,
			Taxel: key.taxel,
			Began: ep.began,
			Ended: ended,
			Peak:  ep.peak,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Open reports the number of episodes currently in progress.
func (r *TransitionRecorder) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// collectActive extracts the active episode keys and their values from one
// contact state. Stale sensors report no contact, so their episodes close
// naturally on the next snapshot.
func collectActive(c tactile.ContactState, active map[episodeKey]float64) {
	if !c.InContact {
		return
	}
	if c.Taxels == nil {
		peak := 0.0
		for _, v := range c.Values {
			if v > peak {
				peak = v
			}
		}
		active[episodeKey{sensor: c.Name, taxel: WholeSensorTaxel}] = peak
		return
	}
	for i, on := range c.Taxels {
		if !on {
			continue
		}
		value := 0.0
		if i < len(c.Values) {
			value = c.Values[i]
		}
		active[episodeKey{sensor: c.Name, taxel: i}] = value
	}
}
