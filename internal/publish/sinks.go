package publish

import (
	"context"
	"sync"

	"github.com/haptic-data/touch.report/internal/history"
	"github.com/haptic-data/touch.report/internal/monitoring"
	"github.com/haptic-data/touch.report/internal/tactile"
)

// HistorySink records every snapshot into the in-memory ring buffer that
// backs the monitor's timeline and stats endpoints.
type HistorySink struct {
	Ring *history.Ring
}

// Publish appends the snapshot to the ring.
func (s HistorySink) Publish(_ context.Context, snap tactile.ContactSnapshot) error {
	s.Ring.Add(snap)
	return nil
}

// LogSink logs contact transitions. Snapshots arrive at the full publish
// rate, so only rising and falling edges are worth a line.
type LogSink struct {
	mu     sync.Mutex
	active map[string]bool
}

// NewLogSink creates a transition logger with no known contacts.
func NewLogSink() *LogSink {
	return &LogSink{active: make(map[string]bool)}
}

// Publish compares the snapshot against the previous one and logs any
// sensor that started or stopped touching.
func (s *LogSink) Publish(_ context.Context, snap tactile.ContactSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]bool, len(snap.Contacts))
	for _, c := range snap.Contacts {
		current[c.Name] = c.InContact
		if c.InContact && !s.active[c.Name] {
			monitoring.Logf("[Contact] %s touched (%d active taxels)", c.Name, c.ContactCount())
		}
	}
	for name, wasActive := range s.active {
		if wasActive && !current[name] {
			monitoring.Logf("[Contact] %s released", name)
		}
	}

	s.active = current
	return nil
}
