package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haptic-data/touch.report/internal/monitoring"
)

// Stats tracks ingest throughput with thread-safe operations. Every source
// shares the same counter shape: transport frames in, sensor readings out,
// rejects for anything the decoder or merger refused.
type Stats struct {
	mu           sync.Mutex
	eventCount   int64
	byteCount    int64
	readingCount int64
	rejectCount  int64
	lastReset    time.Time

	// lifetime counters, untouched by GetAndReset
	totalEvents   int64
	totalBytes    int64
	totalReadings int64
	totalRejects  int64
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{
		lastReset: time.Now(),
	}
}

// AddEvent increments the event count and byte count.
func (s *Stats) AddEvent(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventCount++
	s.byteCount += int64(bytes)
	s.totalEvents++
	s.totalBytes += int64(bytes)
}

// AddReadings increments the accepted reading count.
func (s *Stats) AddReadings(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readingCount += int64(count)
	s.totalReadings += int64(count)
}

// AddReject increments the rejected frame count.
func (s *Stats) AddReject() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectCount++
	s.totalRejects++
}

// GetAndReset returns current stats and resets counters.
func (s *Stats) GetAndReset() (events, bytes, readings, rejects int64, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	duration = now.Sub(s.lastReset)
	events = s.eventCount
	bytes = s.byteCount
	readings = s.readingCount
	rejects = s.rejectCount

	s.eventCount = 0
	s.byteCount = 0
	s.readingCount = 0
	s.rejectCount = 0
	s.lastReset = now

	return
}

// Totals returns lifetime counters since the Stats was created. Unlike
// GetAndReset, reading totals does not disturb the rate accounting.
func (s *Stats) Totals() (events, bytes, readings, rejects int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalEvents, s.totalBytes, s.totalReadings, s.totalRejects
}

// LogStats logs throughput rates since the last reset under the given source
// label. Quiet intervals produce no output.
func (s *Stats) LogStats(label string) {
	events, bytes, readings, rejects, duration := s.GetAndReset()
	if events == 0 && rejects == 0 {
		return
	}

	eventsPerSec := float64(events) / duration.Seconds()
	kbPerSec := float64(bytes) / duration.Seconds() / 1024
	readingsPerSec := float64(readings) / duration.Seconds()

	logMsg := fmt.Sprintf("[%s] stats (/sec): %.1f events, %.1f KB, %s readings",
		label, eventsPerSec, kbPerSec, FormatWithCommas(int64(readingsPerSec)))

	if rejects > 0 {
		logMsg += fmt.Sprintf(", %d rejected", rejects)
	}

	monitoring.Logf("%s", logMsg)
}

// startStatsLogging reports throughput on a fixed interval until ctx is
// cancelled. An early first report confirms data is flowing shortly after
// startup instead of a full interval later.
func startStatsLogging(ctx context.Context, stats *Stats, label string, interval time.Duration) {
	initial := time.NewTimer(2 * time.Second)
	defer initial.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-initial.C:
			stats.LogStats(label)
		case <-ticker.C:
			stats.LogStats(label)
		}
	}
}

// FormatWithCommas formats a number with thousands separators.
func FormatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}
