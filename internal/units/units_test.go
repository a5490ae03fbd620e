package units

import (
	"math"
	"testing"
)

func TestConvert(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		min, max float64
		units    string
		expected float64
	}{
		{"midrange to norm", 2048, 0, 4096, Norm, 0.5},
		{"midrange to percent", 2048, 0, 4096, Percent, 50.0},
		{"raw passthrough", 2048, 0, 4096, Raw, 2048},
		{"unknown units default to raw", 2048, 0, 4096, "unknown", 2048},
		{"below range clamps to 0", -10, 0, 4096, Norm, 0},
		{"above range clamps to 1", 5000, 0, 4096, Norm, 1},
		{"degenerate range leaves raw", 3.5, 1, 1, Norm, 3.5},
		{"offset range", 0.75, 0.5, 1.0, Norm, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Convert(tt.value, tt.min, tt.max, tt.units)
			if math.Abs(result-tt.expected) > 1e-9 {
				t.Errorf("Convert(%f, %f, %f, %s) = %f, want %f", tt.value, tt.min, tt.max, tt.units, result, tt.expected)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		expected bool
	}{
		{"raw is valid", Raw, true},
		{"norm is valid", Norm, true},
		{"percent is valid", Percent, true},
		{"empty is invalid", "", false},
		{"garbage is invalid", "furlongs", false},
		{"case matters", "Norm", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.unit); got != tt.expected {
				t.Errorf("IsValid(%q) = %v, want %v", tt.unit, got, tt.expected)
			}
		})
	}
}

func TestGetValidUnitsString(t *testing.T) {
	if got := GetValidUnitsString(); got != "raw, norm, percent" {
		t.Errorf("GetValidUnitsString() = %q", got)
	}
}
