package ingest

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haptic-data/touch.report/internal/tactile"
)

// updateCall records one Update invocation on the recording updater.
type updateCall struct {
	TS     time.Time
	Name   string
	Values []float64
}

// recordingUpdater captures Update calls and can be told to reject named
// sensors, standing in for the merger.
type recordingUpdater struct {
	mu      sync.Mutex
	calls   []updateCall
	rejects map[string]error
}

func newRecordingUpdater() *recordingUpdater {
	return &recordingUpdater{rejects: make(map[string]error)}
}

func (r *recordingUpdater) rejectSensor(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejects[name] = fmt.Errorf("sensor %q: rejected", name)
}

func (r *recordingUpdater) Update(ts time.Time, name string, values []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.rejects[name]; ok {
		return err
	}
	vals := make([]float64, len(values))
	copy(vals, values)
	r.calls = append(r.calls, updateCall{TS: ts, Name: name, Values: vals})
	return nil
}

func (r *recordingUpdater) Calls() []updateCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]updateCall, len(r.calls))
	copy(out, r.calls)
	return out
}

func testEvent(ts time.Time, readings ...tactile.SensorReading) tactile.StateEvent {
	return tactile.StateEvent{TS: ts, Readings: readings}
}

func TestApply_DeliversEveryReading(t *testing.T) {
	updater := newRecordingUpdater()
	stats := NewStats()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	ev := testEvent(ts,
		tactile.SensorReading{Name: "fingertip", Values: []float64{0.1, 0.9}},
		tactile.SensorReading{Name: "palm", Values: []float64{0.3}},
	)
	Apply(updater, ev, stats)

	calls := updater.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "fingertip", calls[0].Name)
	assert.Equal(t, "palm", calls[1].Name)
	assert.Equal(t, []float64{0.1, 0.9}, calls[0].Values)

	// every reading in the event carries the event timestamp
	for _, call := range calls {
		assert.True(t, call.TS.Equal(ts))
	}

	_, _, readings, rejects, _ := stats.GetAndReset()
	assert.Equal(t, int64(2), readings)
	assert.Equal(t, int64(0), rejects)
}

func TestApply_RejectedReadingDoesNotStopOthers(t *testing.T) {
	updater := newRecordingUpdater()
	updater.rejectSensor("broken")
	stats := NewStats()
	ts := time.Now()

	ev := testEvent(ts,
		tactile.SensorReading{Name: "fingertip", Values: []float64{0.1}},
		tactile.SensorReading{Name: "broken", Values: nil},
		tactile.SensorReading{Name: "palm", Values: []float64{0.3}},
	)
	Apply(updater, ev, stats)

	calls := updater.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "fingertip", calls[0].Name)
	assert.Equal(t, "palm", calls[1].Name)

	_, _, readings, rejects, _ := stats.GetAndReset()
	assert.Equal(t, int64(2), readings)
	assert.Equal(t, int64(1), rejects)
}

func TestScanEvents(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	good1, err := tactile.EncodeStateEvent(testEvent(ts,
		tactile.SensorReading{Name: "fingertip", Values: []float64{0.2}}))
	require.NoError(t, err)
	good2, err := tactile.EncodeStateEvent(testEvent(ts.Add(10*time.Millisecond),
		tactile.SensorReading{Name: "fingertip", Values: []float64{0.7}}))
	require.NoError(t, err)

	input := strings.Join([]string{
		string(good1),
		"",
		"not json at all",
		string(good2),
	}, "\n")

	var seen []tactile.StateEvent
	events, skipped, err := ScanEvents(strings.NewReader(input), func(ev tactile.StateEvent) error {
		seen = append(seen, ev)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, events)
	assert.Equal(t, 1, skipped)
	require.Len(t, seen, 2)
	assert.True(t, seen[0].TS.Before(seen[1].TS))
	assert.Equal(t, "fingertip", seen[0].Readings[0].Name)
}

func TestScanEvents_CallbackErrorAborts(t *testing.T) {
	ts := time.Now().UTC()
	good, err := tactile.EncodeStateEvent(testEvent(ts,
		tactile.SensorReading{Name: "palm", Values: []float64{0.5}}))
	require.NoError(t, err)

	input := string(good) + "\n" + string(good) + "\n"
	wantErr := fmt.Errorf("sink full")

	calls := 0
	events, skipped, err := ScanEvents(strings.NewReader(input), func(tactile.StateEvent) error {
		calls++
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, events)
	assert.Equal(t, 0, skipped)
}

func TestScanEvents_EmptyInput(t *testing.T) {
	events, skipped, err := ScanEvents(strings.NewReader(""), func(tactile.StateEvent) error {
		t.Fatal("callback should not run for empty input")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, events)
	assert.Equal(t, 0, skipped)
}
