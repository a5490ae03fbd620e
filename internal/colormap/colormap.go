// Package colormap maps taxel pressure values onto color gradients for the
// web UI heat cells and generated trace plots.
package colormap

import (
	"fmt"
	"image/color"
	"math"
)

var (
	black  = color.RGBA{A: 255}
	lime   = color.RGBA{G: 255, A: 255}
	yellow = color.RGBA{R: 255, G: 255, A: 255}
	red    = color.RGBA{R: 255, A: 255}
)

// Map interpolates linearly between a sequence of color stops spread evenly
// across a value range. Values outside the range clamp to the endpoints.
type Map struct {
	lo, hi float64
	stops  []color.RGBA
}

// New builds a gradient over [lo, hi] from at least two color stops.
func New(lo, hi float64, stops ...color.RGBA) (*Map, error) {
	if math.IsNaN(lo) || math.IsNaN(hi) || hi <= lo {
		return nil, fmt.Errorf("colormap: invalid range [%v, %v]", lo, hi)
	}
	if len(stops) < 2 {
		return nil, fmt.Errorf("colormap: need at least two stops, got %d", len(stops))
	}
	return &Map{lo: lo, hi: hi, stops: append([]color.RGBA(nil), stops...)}, nil
}

// Absolute maps raw pressure in [0, 1]: black through lime and yellow to red.
func Absolute() *Map {
	m, _ := New(0, 1, black, lime, yellow, red)
	return m
}

// Relative maps signed pressure change in [-1, 1]: red through black to lime.
func Relative() *Map {
	m, _ := New(-1, 1, red, black, lime)
	return m
}

// Range returns the value range the map covers.
func (m *Map) Range() (lo, hi float64) {
	return m.lo, m.hi
}

// At returns the interpolated color for v, clamped to the map's range.
// NaN maps to the low endpoint.
func (m *Map) At(v float64) color.RGBA {
	if math.IsNaN(v) || v < m.lo {
		v = m.lo
	}
	if v > m.hi {
		v = m.hi
	}

	pos := (v - m.lo) / (m.hi - m.lo) * float64(len(m.stops)-1)
	i := int(pos)
	if i >= len(m.stops)-1 {
		return m.stops[len(m.stops)-1]
	}
	return lerp(m.stops[i], m.stops[i+1], pos-float64(i))
}

// Hex returns the color for v as a "#rrggbb" string for HTML and JSON output.
func (m *Map) Hex(v float64) string {
	c := m.At(v)
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Palette returns n evenly spaced colors across the map's range, suitable
// for coloring per-taxel plot lines.
func (m *Map) Palette(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	out := make([]color.Color, n)
	if n == 1 {
		out[0] = m.At(m.lo)
		return out
	}
	span := m.hi - m.lo
	for i := 0; i < n; i++ {
		out[i] = m.At(m.lo + span*float64(i)/float64(n-1))
	}
	return out
}

func lerp(a, b color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(a.R) + (float64(b.R)-float64(a.R))*t),
		G: uint8(float64(a.G) + (float64(b.G)-float64(a.G))*t),
		B: uint8(float64(a.B) + (float64(b.B)-float64(a.B))*t),
		A: 255,
	}
}
