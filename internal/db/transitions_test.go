package db

import (
	"context"
	"testing"
	"time"

	"github.com/haptic-data/touch.report/internal/tactile"
)

func snapshotAt(ts time.Time, contacts ...tactile.ContactState) tactile.ContactSnapshot {
	return tactile.ContactSnapshot{TS: ts, Contacts: contacts}
}

func touching(name string, taxels []bool, values []float64) tactile.ContactState {
	return tactile.ContactState{Name: name, Fresh: true, InContact: true, Taxels: taxels, Values: values}
}

func released(name string, width int) tactile.ContactState {
	return tactile.ContactState{Name: name, Fresh: true, Taxels: make([]bool, width), Values: make([]float64, width)}
}

func TestTransitionRecorderEpisode(t *testing.T) {
	db := newTestDB(t)
	runID, _ := db.CreateRun("test")
	rec := NewTransitionRecorder(db, runID, -1)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// Touch rises, peaks, releases across three snapshots.
	if err := rec.Publish(ctx, snapshotAt(base, touching("fingertip", []bool{false, true}, []float64{0.1, 0.6}))); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := rec.Publish(ctx, snapshotAt(base.Add(time.Second), touching("fingertip", []bool{false, true}, []float64{0.1, 0.9}))); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if rec.Open() != 1 {
		t.Fatalf("expected 1 open episode, got %d", rec.Open())
	}

	if err := rec.Publish(ctx, snapshotAt(base.Add(2*time.Second), released("fingertip", 2))); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if rec.Open() != 0 {
		t.Fatalf("expected no open episodes after release, got %d", rec.Open())
	}

	events, err := db.RecentContactEvents(ContactEventFilter{})
	if err != nil {
		t.Fatalf("RecentContactEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one episode, got %d", len(events))
	}
	e := events[0]
	if e.Name != "fingertip" || e.Taxel != 1 {
		t.Errorf("wrong episode key: %s/%d", e.Name, e.Taxel)
	}
	if !e.Began.Equal(base) || !e.Ended.Equal(base.Add(2*time.Second)) {
		t.Errorf("wrong episode bounds: %v -> %v", e.Began, e.Ended)
	}
	if e.Peak != 0.9 {
		t.Errorf("expected peak 0.9, got %f", e.Peak)
	}
}

func TestTransitionRecorderNoRowsWhileHeld(t *testing.T) {
	db := newTestDB(t)
	runID, _ := db.CreateRun("test")
	rec := NewTransitionRecorder(db, runID, -1)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// A held touch across many snapshots produces no rows until release.
	for i := 0; i < 50; i++ {
		snap := snapshotAt(base.Add(time.Duration(i)*10*time.Millisecond),
			touching("palm", []bool{true}, []float64{0.8}))
		if err := rec.Publish(ctx, snap); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	count, err := db.CountContactEvents(runID)
	if err != nil {
		t.Fatalf("CountContactEvents failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no rows for a held touch, got %d", count)
	}
}

func TestTransitionRecorderStaleClosesEpisode(t *testing.T) {
	db := newTestDB(t)
	runID, _ := db.CreateRun("test")
	rec := NewTransitionRecorder(db, runID, -1)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	rec.Publish(ctx, snapshotAt(base, touching("wrist", []bool{true}, []float64{0.7})))

	// The sensor went stale: snapshot reports it with no contact.
	stale := tactile.ContactState{Name: "wrist", Fresh: false, AgeMS: 2000}
	rec.Publish(ctx, snapshotAt(base.Add(2*time.Second), stale))

	events, err := db.RecentContactEvents(ContactEventFilter{Sensor: "wrist"})
	if err != nil {
		t.Fatalf("RecentContactEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected the stale sensor's episode to close, got %d events", len(events))
	}
}

func TestTransitionRecorderWholeSensorGranularity(t *testing.T) {
	db := newTestDB(t)
	runID, _ := db.CreateRun("test")
	rec := NewTransitionRecorder(db, runID, -1)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// Sensor granularity: no Taxels vector, whole-sensor episode.
	on := tactile.ContactState{Name: "palm", Fresh: true, InContact: true, Values: []float64{0.2, 0.8}}
	off := tactile.ContactState{Name: "palm", Fresh: true}
	rec.Publish(ctx, snapshotAt(base, on))
	rec.Publish(ctx, snapshotAt(base.Add(time.Second), off))

	events, err := db.RecentContactEvents(ContactEventFilter{})
	if err != nil {
		t.Fatalf("RecentContactEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 episode, got %d", len(events))
	}
	if events[0].Taxel != WholeSensorTaxel {
		t.Errorf("expected whole-sensor taxel index, got %d", events[0].Taxel)
	}
	if events[0].Peak != 0.8 {
		t.Errorf("expected peak 0.8, got %f", events[0].Peak)
	}
}

func TestTransitionRecorderFlush(t *testing.T) {
	db := newTestDB(t)
	runID, _ := db.CreateRun("test")
	rec := NewTransitionRecorder(db, runID, -1)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec.Publish(context.Background(), snapshotAt(base, touching("fingertip", []bool{true}, []float64{0.6})))

	if err := rec.Flush(base.Add(3 * time.Second)); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if rec.Open() != 0 {
		t.Errorf("expected no open episodes after flush")
	}

	events, _ := db.RecentContactEvents(ContactEventFilter{})
	if len(events) != 1 {
		t.Fatalf("expected flushed episode, got %d", len(events))
	}
	if !events[0].Ended.Equal(base.Add(3 * time.Second)) {
		t.Errorf("expected flush end time, got %v", events[0].Ended)
	}
}

func TestTransitionRecorderSnapshotThrottle(t *testing.T) {
	db := newTestDB(t)
	runID, _ := db.CreateRun("test")
	rec := NewTransitionRecorder(db, runID, time.Second)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// 100 Hz for 2.5 simulated seconds: coarse snapshots only once per second.
	for i := 0; i < 250; i++ {
		rec.Publish(ctx, snapshotAt(base.Add(time.Duration(i)*10*time.Millisecond)))
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM snapshots WHERE run_id = ?`, runID).Scan(&count); err != nil {
		t.Fatalf("count snapshots: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 coarse snapshots over 2.5s, got %d", count)
	}
}
