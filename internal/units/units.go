// Package units provides shared constants and validation for taxel intensity units
package units

// Unit constants
const (
	Raw     = "raw"
	Norm    = "norm"
	Percent = "percent"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Raw, Norm, Percent}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "raw, norm, percent"
}

// Convert maps a raw taxel reading into the target units. Sensors report raw
// counts; norm rescales into [0,1] against the observed [min,max] range and
// percent is norm times 100. An empty or degenerate range leaves the value raw.
func Convert(value, min, max float64, targetUnits string) float64 {
	switch targetUnits {
	case Norm:
		return normalize(value, min, max)
	case Percent:
		return normalize(value, min, max) * 100
	case Raw:
		return value
	default:
		return value // default to raw if unknown unit
	}
}

func normalize(value, min, max float64) float64 {
	if max <= min {
		return value
	}
	n := (value - min) / (max - min)
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}
