package ingest

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haptic-data/touch.report/internal/fsutil"
	"github.com/haptic-data/touch.report/internal/monitoring"
	"github.com/haptic-data/touch.report/internal/security"
	"github.com/haptic-data/touch.report/internal/tactile"
)

// captureTimeFormat names capture files sortably by creation time.
const captureTimeFormat = "20060102_150405"

// Recorder wraps an Updater and writes every reading that passes through it
// to a JSONL capture file, one state event per line. The capture is raw
// input: readings the merger rejects are still recorded when they can be
// encoded, so a replay reproduces what the sensors actually sent.
type Recorder struct {
	mu      sync.Mutex
	next    Updater
	fsys    fsutil.FileSystem
	writer  io.WriteCloser
	path    string
	skipped int64
	closed  bool
}

// NewRecorder creates a capture file named <label>_<timestamp>.jsonl in dir
// and prunes older captures down to keep files. A keep of zero disables
// pruning.
func NewRecorder(fsys fsutil.FileSystem, dir, label string, keep int, next Updater) (*Recorder, error) {
	if next == nil {
		return nil, fmt.Errorf("recorder requires an updater to forward to")
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory %s: %w", dir, err)
	}

	name := fmt.Sprintf("%s_%s.jsonl", security.SanitizeFilename(label), time.Now().Format(captureTimeFormat))
	path := filepath.Join(dir, name)

	writer, err := fsys.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file %s: %w", path, err)
	}

	if keep > 0 {
		pruneCaptures(fsys, dir, keep)
	}

	monitoring.Logf("[Recorder] capturing state events to %s", path)

	return &Recorder{
		next:   next,
		fsys:   fsys,
		writer: writer,
		path:   path,
	}, nil
}

// Path returns the capture file path.
func (r *Recorder) Path() string {
	return r.path
}

// Update forwards the reading and then appends it to the capture. The
// forward verdict is returned unchanged; recording failures never reject a
// reading.
func (r *Recorder) Update(ts time.Time, name string, values []float64) error {
	err := r.next.Update(ts, name, values)
	r.record(ts, name, values)
	return err
}

func (r *Recorder) record(ts time.Time, name string, values []float64) {
	ev := tactile.StateEvent{
		TS:       ts,
		Readings: []tactile.SensorReading{{Name: name, Values: values}},
	}
	data, err := tactile.EncodeStateEvent(ev)
	if err != nil {
		// non-finite values have no JSON encoding
		r.mu.Lock()
		r.skipped++
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		r.skipped++
	}
}

// Skipped returns the number of readings that could not be recorded.
func (r *Recorder) Skipped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped
}

// Close flushes and closes the capture file. Updates after Close still
// forward but are no longer recorded.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.writer.Close()
}

// pruneCaptures removes the oldest .jsonl files beyond keep. Failures are
// logged and ignored: pruning is housekeeping, not correctness.
func pruneCaptures(fsys fsutil.FileSystem, dir string, keep int) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		monitoring.Logf("[Recorder] failed to list captures in %s: %v", dir, err)
		return
	}

	type capture struct {
		name string
		mod  time.Time
	}
	var captures []capture
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		captures = append(captures, capture{name: entry.Name(), mod: info.ModTime()})
	}
	if len(captures) <= keep {
		return
	}

	sort.Slice(captures, func(i, j int) bool { return captures[i].mod.Before(captures[j].mod) })
	for _, c := range captures[:len(captures)-keep] {
		if err := fsys.Remove(filepath.Join(dir, c.name)); err != nil {
			monitoring.Logf("[Recorder] failed to prune capture %s: %v", c.name, err)
		}
	}
}

// CaptureInfo describes one capture file for listing APIs.
type CaptureInfo struct {
	Name     string    `json:"name"`
	SizeB    int64     `json:"size_bytes"`
	Modified time.Time `json:"modified"`
}

// ListCaptures returns the .jsonl captures in dir, newest first.
func ListCaptures(fsys fsutil.FileSystem, dir string) ([]CaptureInfo, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list captures in %s: %w", dir, err)
	}

	var captures []CaptureInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		captures = append(captures, CaptureInfo{
			Name:     entry.Name(),
			SizeB:    info.Size(),
			Modified: info.ModTime(),
		})
	}
	sort.Slice(captures, func(i, j int) bool {
		return captures[i].Modified.After(captures[j].Modified)
	})
	return captures, nil
}
