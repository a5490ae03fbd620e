// Package model loads sensor descriptors. A descriptor names each expected
// sensor, its taxel count, an optional grid layout for display, and an
// optional per-sensor contact threshold.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/haptic-data/touch.report/internal/fsutil"
)

// Sensor describes one tactile sensor array.
type Sensor struct {
	Name      string   `json:"name"`
	Taxels    int      `json:"taxels"`
	Rows      int      `json:"rows,omitempty"`
	Cols      int      `json:"cols,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// Descriptor is the root of a sensor descriptor file.
type Descriptor struct {
	Sensors []Sensor `json:"sensors"`
}

// Load reads and validates a descriptor file.
func Load(fsys fsutil.FileSystem, path string) (*Descriptor, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor file: %w", err)
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor JSON: %w", err)
	}

	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid descriptor: %w", err)
	}

	return &d, nil
}

// Validate checks descriptor consistency.
func (d *Descriptor) Validate() error {
	seen := make(map[string]bool, len(d.Sensors))
	for i, s := range d.Sensors {
		if s.Name == "" {
			return fmt.Errorf("sensor %d has an empty name", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate sensor name %q", s.Name)
		}
		seen[s.Name] = true

		if s.Taxels <= 0 {
			return fmt.Errorf("sensor %q: taxels must be positive, got %d", s.Name, s.Taxels)
		}

		if (s.Rows == 0) != (s.Cols == 0) {
			return fmt.Errorf("sensor %q: rows and cols must be set together", s.Name)
		}
		if s.Rows < 0 || s.Cols < 0 {
			return fmt.Errorf("sensor %q: rows and cols must be non-negative", s.Name)
		}
		if s.Rows > 0 && s.Rows*s.Cols != s.Taxels {
			return fmt.Errorf("sensor %q: %dx%d grid does not hold %d taxels",
				s.Name, s.Rows, s.Cols, s.Taxels)
		}

		if s.Threshold != nil {
			if math.IsNaN(*s.Threshold) || math.IsInf(*s.Threshold, 0) {
				return fmt.Errorf("sensor %q: threshold must be finite", s.Name)
			}
		}
	}
	return nil
}

// Sensor looks up a sensor by name.
func (d *Descriptor) Sensor(name string) (Sensor, bool) {
	for _, s := range d.Sensors {
		if s.Name == name {
			return s, true
		}
	}
	return Sensor{}, false
}

// Names returns the descriptor's sensor names, sorted.
func (d *Descriptor) Names() []string {
	names := make([]string, 0, len(d.Sensors))
	for _, s := range d.Sensors {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

// Thresholds collects the per-sensor threshold overrides declared in the
// descriptor, for merging into the contact configuration.
func (d *Descriptor) Thresholds() map[string]float64 {
	var out map[string]float64
	for _, s := range d.Sensors {
		if s.Threshold == nil {
			continue
		}
		if out == nil {
			out = make(map[string]float64)
		}
		out[s.Name] = *s.Threshold
	}
	return out
}

// Grid returns the display layout for the sensor. When the descriptor does
// not declare rows and cols, a near-square grid wide enough for the taxel
// count is derived.
func (s Sensor) Grid() (rows, cols int) {
	if s.Rows > 0 && s.Cols > 0 {
		return s.Rows, s.Cols
	}
	return GridFor(s.Taxels)
}

// GridFor derives a near-square rows x cols layout that holds n cells.
func GridFor(n int) (rows, cols int) {
	if n <= 0 {
		return 0, 0
	}
	cols = int(math.Ceil(math.Sqrt(float64(n))))
	rows = (n + cols - 1) / cols
	return rows, cols
}
