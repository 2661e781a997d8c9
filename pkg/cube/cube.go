// Package cube implements the spectral-cube operations the moment pipeline
// is built from: reading and cropping PPV cubes, converting the frequency
// axis to optical velocities about a line rest frequency, slicing spectral
// slabs, per-pixel reductions, and masked moment maps.
//
// Cubes are stored spectral-axis-slowest, so voxel (chan, y, x) lives at
// Data[(chan*NY+y)*NX+x], matching the raw FITS ordering with NAXIS1 = x.
package cube

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"cubelinemoment/internal/units"
	"cubelinemoment/pkg/region"
)

// Meta carries the header cards propagated from an input cube to every map
// written from it.
type Meta struct {
	Object string
	BUnit  string

	// Beam keywords in degrees; HasBeam gates writing them out.
	BMaj, BMin, BPA float64
	HasBeam         bool

	// Spatial WCS cards, copied verbatim apart from CRPIX shifts on crops.
	CType1, CType2 string
	CUnit1, CUnit2 string
	CRVal1, CRVal2 float64
	CDelt1, CDelt2 float64
	CRPix1, CRPix2 float64
}

// Cube is a position-position-velocity brightness cube with a linear
// frequency axis described by the usual FITS spectral WCS cards (in Hz).
type Cube struct {
	Data  []float64
	NX    int
	NY    int
	NChan int

	// Spectral WCS: frequency of channel c (0-based) is
	// CRVal3 + (c+1-CRPix3)*CDelt3.
	CRVal3, CDelt3, CRPix3 float64

	Meta Meta
}

// At returns the voxel at channel c, row y, column x.
func (c *Cube) At(ch, y, x int) float64 {
	return c.Data[(ch*c.NY+y)*c.NX+x]
}

// Set stores a voxel value.
func (c *Cube) Set(ch, y, x int, v float64) {
	c.Data[(ch*c.NY+y)*c.NX+x] = v
}

// Frequency returns the frequency in Hz of a 0-based channel index.
func (c *Cube) Frequency(ch int) float64 {
	return c.CRVal3 + (float64(ch)+1-c.CRPix3)*c.CDelt3
}

// VelocityAxis returns the optical-convention velocity in km/s of every
// channel relative to the given rest frequency in Hz.
func (c *Cube) VelocityAxis(rest float64) []float64 {
	vel := make([]float64, c.NChan)
	for ch := 0; ch < c.NChan; ch++ {
		vel[ch] = units.OpticalVelocity(c.Frequency(ch), rest)
	}
	return vel
}

// Crop cuts the spatial window described by box out of the cube, clipping it
// to the grid first. The spectral axis is untouched; reference pixels shift
// so the spatial WCS still points at the same sky position.
func (c *Cube) Crop(box region.Box) (*Cube, error) {
	box, err := box.Clip(c.NX, c.NY)
	if err != nil {
		return nil, err
	}

	nx, ny := box.Width(), box.Height()
	out := &Cube{
		Data:   make([]float64, nx*ny*c.NChan),
		NX:     nx,
		NY:     ny,
		NChan:  c.NChan,
		CRVal3: c.CRVal3,
		CDelt3: c.CDelt3,
		CRPix3: c.CRPix3,
		Meta:   c.Meta,
	}
	out.Meta.CRPix1 -= float64(box.XMin)
	out.Meta.CRPix2 -= float64(box.YMin)

	for ch := 0; ch < c.NChan; ch++ {
		for y := 0; y < ny; y++ {
			srcRow := (ch*c.NY+y+box.YMin)*c.NX + box.XMin
			dstRow := (ch*ny + y) * nx
			copy(out.Data[dstRow:dstRow+nx], c.Data[srcRow:srcRow+nx])
		}
	}
	return out, nil
}

// Slab returns the contiguous channel range whose optical velocities about
// rest fall inside [vlo, vhi]. The returned cube shares no storage with the
// receiver. An empty selection is an error.
func (c *Cube) Slab(rest, vlo, vhi float64) (*Cube, error) {
	if vlo > vhi {
		vlo, vhi = vhi, vlo
	}
	vel := c.VelocityAxis(rest)

	lo, hi := -1, -1
	for ch, v := range vel {
		if v >= vlo && v <= vhi {
			if lo < 0 {
				lo = ch
			}
			hi = ch
		}
	}
	if lo < 0 {
		return nil, fmt.Errorf("no channels in velocity range [%.1f, %.1f] km/s", vlo, vhi)
	}

	n := hi - lo + 1
	out := &Cube{
		Data:   make([]float64, c.NX*c.NY*n),
		NX:     c.NX,
		NY:     c.NY,
		NChan:  n,
		CRVal3: c.CRVal3,
		CDelt3: c.CDelt3,
		CRPix3: c.CRPix3 - float64(lo),
		Meta:   c.Meta,
	}
	copy(out.Data, c.Data[lo*c.NX*c.NY:(hi+1)*c.NX*c.NY])
	return out, nil
}

// MaxMap reduces the cube to its per-pixel maximum over the spectral axis,
// skipping NaN voxels.
func (c *Cube) MaxMap() *Map {
	out := NewMap(c.NX, c.NY)
	out.Unit = c.Meta.BUnit
	for y := 0; y < c.NY; y++ {
		for x := 0; x < c.NX; x++ {
			max := math.NaN()
			for ch := 0; ch < c.NChan; ch++ {
				v := c.At(ch, y, x)
				if math.IsNaN(v) {
					continue
				}
				if math.IsNaN(max) || v > max {
					max = v
				}
			}
			out.Set(y, x, max)
		}
	}
	return out
}

// ArgMaxVelocity returns the optical velocity (about rest) of the brightest
// channel along each line of sight. Fully blank pixels get NaN.
func (c *Cube) ArgMaxVelocity(rest float64) *Map {
	vel := c.VelocityAxis(rest)
	out := NewMap(c.NX, c.NY)
	out.Unit = "km / s"
	for y := 0; y < c.NY; y++ {
		for x := 0; x < c.NX; x++ {
			best, bestV := math.NaN(), math.NaN()
			for ch := 0; ch < c.NChan; ch++ {
				v := c.At(ch, y, x)
				if math.IsNaN(v) {
					continue
				}
				if math.IsNaN(best) || v > best {
					best, bestV = v, vel[ch]
				}
			}
			out.Set(y, x, bestV)
		}
	}
	return out
}

// NoiseMap estimates per-pixel noise as the population standard deviation
// over the line-free channel ranges given as [low, high) index pairs, the
// same convention the continuum-subtraction baselines use.
func (c *Cube) NoiseMap(baseline [][2]int) (*Map, error) {
	selected := make([]bool, c.NChan)
	n := 0
	for _, r := range baseline {
		lo, hi := r[0], r[1]
		if lo < 0 || hi > c.NChan || lo >= hi {
			return nil, fmt.Errorf("baseline range [%d, %d) outside cube with %d channels", lo, hi, c.NChan)
		}
		for ch := lo; ch < hi; ch++ {
			if !selected[ch] {
				selected[ch] = true
				n++
			}
		}
	}
	if n < 2 {
		return nil, fmt.Errorf("noise baseline selects %d channels, need at least 2", n)
	}

	out := NewMap(c.NX, c.NY)
	out.Unit = c.Meta.BUnit
	sample := make([]float64, 0, n)
	for y := 0; y < c.NY; y++ {
		for x := 0; x < c.NX; x++ {
			sample = sample[:0]
			for ch := 0; ch < c.NChan; ch++ {
				if !selected[ch] {
					continue
				}
				if v := c.At(ch, y, x); !math.IsNaN(v) {
					sample = append(sample, v)
				}
			}
			if len(sample) < 2 {
				out.Set(y, x, math.NaN())
				continue
			}
			out.Set(y, x, stat.PopStdDev(sample, nil))
		}
	}
	return out, nil
}

// channelWidths returns |dv| per channel in km/s, using centered differences
// in the interior and one-sided differences at the edges. The optical
// convention makes the spacing vary slowly across the band.
func channelWidths(vel []float64) []float64 {
	n := len(vel)
	dv := make([]float64, n)
	switch {
	case n == 1:
		dv[0] = 0
	default:
		dv[0] = math.Abs(vel[1] - vel[0])
		dv[n-1] = math.Abs(vel[n-1] - vel[n-2])
		for i := 1; i < n-1; i++ {
			dv[i] = math.Abs(vel[i+1]-vel[i-1]) / 2
		}
	}
	return dv
}

// Moment reduces the cube to a moment map of the given order (0, 1, or 2)
// over the optical velocity axis about rest. A nil mask includes every
// voxel; otherwise only voxels with mask set contribute. Pixels with no
// contributing voxels, or with non-positive total intensity for orders
// above zero, come out NaN.
func (c *Cube) Moment(order int, rest float64, mask *Mask) (*Map, error) {
	if order < 0 || order > 2 {
		return nil, fmt.Errorf("unsupported moment order %d", order)
	}
	if mask != nil && (mask.NX != c.NX || mask.NY != c.NY || mask.NChan != c.NChan) {
		return nil, fmt.Errorf("mask shape %dx%dx%d does not match cube %dx%dx%d",
			mask.NChan, mask.NY, mask.NX, c.NChan, c.NY, c.NX)
	}

	vel := c.VelocityAxis(rest)
	dv := channelWidths(vel)

	out := NewMap(c.NX, c.NY)
	switch order {
	case 0:
		out.Unit = joinUnits(c.Meta.BUnit, "km / s")
	default:
		out.Unit = "km / s"
	}

	for y := 0; y < c.NY; y++ {
		for x := 0; x < c.NX; x++ {
			var sumI, sumIV float64
			any := false
			for ch := 0; ch < c.NChan; ch++ {
				if mask != nil && !mask.At(ch, y, x) {
					continue
				}
				v := c.At(ch, y, x)
				if math.IsNaN(v) {
					continue
				}
				sumI += v * dv[ch]
				sumIV += v * vel[ch] * dv[ch]
				any = true
			}

			if !any {
				out.Set(y, x, math.NaN())
				continue
			}
			if order == 0 {
				out.Set(y, x, sumI)
				continue
			}
			if sumI == 0 {
				out.Set(y, x, math.NaN())
				continue
			}

			m1 := sumIV / sumI
			if order == 1 {
				out.Set(y, x, m1)
				continue
			}

			var sumIVar float64
			for ch := 0; ch < c.NChan; ch++ {
				if mask != nil && !mask.At(ch, y, x) {
					continue
				}
				v := c.At(ch, y, x)
				if math.IsNaN(v) {
					continue
				}
				d := vel[ch] - m1
				sumIVar += v * d * d * dv[ch]
			}
			out.Set(y, x, sumIVar/sumI)
		}
	}
	return out, nil
}

// LineWidthSigma returns the per-pixel velocity dispersion, the square root
// of the unmasked second moment about rest. Negative variances (possible in
// noise-dominated pixels) map to NaN.
func (c *Cube) LineWidthSigma(rest float64) (*Map, error) {
	m2, err := c.Moment(2, rest, nil)
	if err != nil {
		return nil, err
	}
	for i, v := range m2.Data {
		if v < 0 {
			m2.Data[i] = math.NaN()
		} else {
			m2.Data[i] = math.Sqrt(v)
		}
	}
	m2.Unit = "km / s"
	return m2, nil
}

// joinUnits composes a product unit string the way BUNIT cards usually
// spell them, e.g. "Jy / beam" and "km / s" -> "Jy / beam . km / s".
func joinUnits(a, b string) string {
	if a == "" {
		return b
	}
	return a + " . " + b
}
