package cube

import "math"

// Map is a 2D image aligned to a cube's spatial grid, stored row-major
// (y*NX + x). Blanked pixels are NaN.
type Map struct {
	Data []float64
	NX   int
	NY   int

	// Unit is the brightness or velocity unit written to BUNIT on output.
	Unit string
}

// NewMap allocates an NX-by-NY map filled with zeros.
func NewMap(nx, ny int) *Map {
	return &Map{
		Data: make([]float64, nx*ny),
		NX:   nx,
		NY:   ny,
	}
}

// At returns the value at column x, row y.
func (m *Map) At(y, x int) float64 {
	return m.Data[y*m.NX+x]
}

// Set stores a value at column x, row y.
func (m *Map) Set(y, x int, v float64) {
	m.Data[y*m.NX+x] = v
}

// Max returns the largest finite value in the map, or NaN when the map is
// entirely blank.
func (m *Map) Max() float64 {
	max := math.NaN()
	for _, v := range m.Data {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(max) || v > max {
			max = v
		}
	}
	return max
}

// Min returns the smallest finite value in the map, or NaN when the map is
// entirely blank.
func (m *Map) Min() float64 {
	min := math.NaN()
	for _, v := range m.Data {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(min) || v < min {
			min = v
		}
	}
	return min
}

// MinPositive returns the smallest value strictly greater than zero, or NaN
// when no such value exists. Used for reporting threshold extrema.
func (m *Map) MinPositive() float64 {
	min := math.NaN()
	for _, v := range m.Data {
		if math.IsNaN(v) || v <= 0 {
			continue
		}
		if math.IsNaN(min) || v < min {
			min = v
		}
	}
	return min
}
