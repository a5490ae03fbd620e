// Package merge reduces asynchronous per-sensor tactile readings into
// time-coherent contact snapshots.
//
// The Merger is a passive, lock-serialized latest-value aggregator: ingest
// calls Update once per sensor reading, the publish driver calls
// ComputeContacts once per tick, and neither call involves I/O, internal
// goroutines, or an ambient clock. Time enters only as explicit arguments,
// which keeps classification deterministic and testable.
package merge

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/haptic-data/touch.report/internal/monitoring"
	"github.com/haptic-data/touch.report/internal/tactile"
)

// Granularity selects how contact classification is reported in snapshots.
type Granularity string

const (
	// GranularityTaxel reports a per-taxel contact vector plus the
	// whole-sensor aggregate.
	GranularityTaxel Granularity = "taxel"
	// GranularitySensor reports only the whole-sensor aggregate.
	GranularitySensor Granularity = "sensor"
)

// SensorState is the lifecycle state of a sensor as observed at snapshot time.
// Sensors start unseen, turn fresh on their first accepted update, and
// oscillate between fresh and stale from then on; there is no terminal state.
type SensorState string

const (
	StateFresh SensorState = "fresh" // updated within the staleness timeout
	StateStale SensorState = "stale" // last update older than the timeout
)

// Update rejection reasons. Callers match with errors.Is; the offending
// update is skipped atomically and the previous sample is retained.
var (
	ErrEmptyValues    = errors.New("empty values")
	ErrNotFinite      = errors.New("non-finite value")
	ErrLengthMismatch = errors.New("value count mismatch")
)

// Config holds the merger's classification policy.
type Config struct {
	// ActivationThreshold is the global contact threshold. A taxel is in
	// contact only when its value is strictly greater than the threshold;
	// a value exactly at the threshold is not in contact.
	ActivationThreshold float64
	// StaleTimeout is the maximum reading age still classified fresh.
	// Age exactly equal to the timeout is fresh.
	StaleTimeout time.Duration
	// Granularity selects per-taxel or whole-sensor reporting.
	Granularity Granularity
	// SensorThresholds overrides the activation threshold per sensor name.
	SensorThresholds map[string]float64
}

// DefaultConfig returns the merger defaults: the display-side staleness
// window of one second and taxel-level reporting.
func DefaultConfig() Config {
	return Config{
		ActivationThreshold: 0.5,
		StaleTimeout:        time.Second,
		Granularity:         GranularityTaxel,
	}
}

// Validate checks the configuration. Construction fails loudly on bad
// thresholds or timeouts; a silently defaulted threshold would misclassify
// every reading from startup on.
func (c Config) Validate() error {
	if math.IsNaN(c.ActivationThreshold) || math.IsInf(c.ActivationThreshold, 0) {
		return fmt.Errorf("activation threshold must be finite, got %v", c.ActivationThreshold)
	}
	if c.StaleTimeout <= 0 {
		return fmt.Errorf("stale timeout must be positive, got %v", c.StaleTimeout)
	}
	switch c.Granularity {
	case GranularityTaxel, GranularitySensor:
	default:
		return fmt.Errorf("unknown granularity %q (want %q or %q)", c.Granularity, GranularityTaxel, GranularitySensor)
	}
	for name, threshold := range c.SensorThresholds {
		if name == "" {
			return fmt.Errorf("sensor threshold override with empty sensor name")
		}
		if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
			return fmt.Errorf("threshold override for sensor %q must be finite, got %v", name, threshold)
		}
	}
	return nil
}

// SensorSample is one sensor's most recent accepted reading.
type SensorSample struct {
	Name      string
	Timestamp time.Time
	Values    []float64
}

// Merger owns the per-sensor latest-value store and the contact policy.
// A single mutex serializes Update against ComputeContacts so a snapshot
// always reflects a consistent set of fully-applied updates.
type Merger struct {
	mu      sync.Mutex
	cfg     Config
	samples map[string]*SensorSample
}

// New constructs a Merger with the given policy. It returns an error on any
// invalid configuration value rather than defaulting it.
func New(cfg Config) (*Merger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid merger config: %w", err)
	}

	// Copy the override map so later caller mutation cannot change policy.
	if len(cfg.SensorThresholds) > 0 {
		overrides := make(map[string]float64, len(cfg.SensorThresholds))
		for name, threshold := range cfg.SensorThresholds {
			overrides[name] = threshold
		}
		cfg.SensorThresholds = overrides
	}

	return &Merger{
		cfg:     cfg,
		samples: make(map[string]*SensorSample),
	}, nil
}

// Reset returns the merger to the empty state, keeping its configuration.
func (m *Merger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = make(map[string]*SensorSample)
}

// Update ingests one sensor's reading, replacing the stored sample for name
// (creating the entry if the name is new). It is a pure overwrite: no
// smoothing, no filtering, no ordering checks. A timestamp older than the
// stored one still wins (last call wins).
//
// Malformed readings are rejected without touching any state: empty values,
// non-finite values, and a length change against the sensor's established
// taxel count each return a sentinel error and log a diagnostic. One
// sensor's bad data never disturbs another sensor's sample.
func (m *Merger) Update(timestamp time.Time, name string, values []float64) error {
	if len(values) == 0 {
		monitoring.Logf("[Merger] rejected update for sensor %q: empty values", name)
		return fmt.Errorf("sensor %q: %w", name, ErrEmptyValues)
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			monitoring.Logf("[Merger] rejected update for sensor %q: value %d is %v", name, i, v)
			return fmt.Errorf("sensor %q value %d: %w", name, i, ErrNotFinite)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, seen := m.samples[name]
	if seen && len(prev.Values) != len(values) {
		monitoring.Logf("[Merger] rejected update for sensor %q: got %d values, established length is %d",
			name, len(values), len(prev.Values))
		return fmt.Errorf("sensor %q: got %d values, want %d: %w", name, len(values), len(prev.Values), ErrLengthMismatch)
	}

	if seen {
		prev.Timestamp = timestamp
		copy(prev.Values, values)
		return nil
	}

	m.samples[name] = &SensorSample{
		Name:      name,
		Timestamp: timestamp,
		Values:    append([]float64(nil), values...),
	}
	return nil
}

// ComputeContacts classifies every known sensor against now and returns a
// consolidated snapshot ordered by sensor name. It is a pure read: calling
// it twice with the same now and no intervening Update yields identical
// output, and the returned snapshot shares no memory with merger state.
//
// Fresh sensors carry their values and contact classification; stale
// sensors report no contact regardless of their last values, so stale data
// cannot surface as a false positive.
func (m *Merger) ComputeContacts(now time.Time) tactile.ContactSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.samples))
	for name := range m.samples {
		names = append(names, name)
	}
	sort.Strings(names)

	contacts := make([]tactile.ContactState, 0, len(names))
	for _, name := range names {
		sample := m.samples[name]
		age := now.Sub(sample.Timestamp)
		state := tactile.ContactState{
			Name:  name,
			Fresh: age <= m.cfg.StaleTimeout,
			AgeMS: age.Milliseconds(),
		}

		if state.Fresh {
			threshold := m.thresholdFor(name)
			if m.cfg.Granularity == GranularityTaxel {
				state.Taxels = make([]bool, len(sample.Values))
			}
			for i, v := range sample.Values {
				if v > threshold {
					state.InContact = true
					if state.Taxels != nil {
						state.Taxels[i] = true
					}
				}
			}
			state.Values = append([]float64(nil), sample.Values...)
		}

		contacts = append(contacts, state)
	}

	return tactile.ContactSnapshot{TS: now, Contacts: contacts}
}

// thresholdFor resolves the activation threshold for a sensor.
// Callers must hold m.mu.
func (m *Merger) thresholdFor(name string) float64 {
	if threshold, ok := m.cfg.SensorThresholds[name]; ok {
		return threshold
	}
	return m.cfg.ActivationThreshold
}

// Samples returns a deep copy of every stored sample, ordered by name.
// The monitor uses it for the sensor inventory endpoints.
func (m *Merger) Samples() []SensorSample {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SensorSample, 0, len(m.samples))
	for _, sample := range m.samples {
		out = append(out, SensorSample{
			Name:      sample.Name,
			Timestamp: sample.Timestamp,
			Values:    append([]float64(nil), sample.Values...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Sensors returns the known sensor names in sorted order.
func (m *Merger) Sensors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.samples))
	for name := range m.samples {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of sensors seen so far.
func (m *Merger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

// Config returns a copy of the merger's configuration.
func (m *Merger) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.cfg
	if len(cfg.SensorThresholds) > 0 {
		overrides := make(map[string]float64, len(cfg.SensorThresholds))
		for name, threshold := range cfg.SensorThresholds {
			overrides[name] = threshold
		}
		cfg.SensorThresholds = overrides
	}
	return cfg
}

// StateOf classifies a reading age against the configured timeout, for
// callers that report lifecycle states by name.
func (m *Merger) StateOf(age time.Duration) SensorState {
	if age <= m.cfg.StaleTimeout {
		return StateFresh
	}
	return StateStale
}
