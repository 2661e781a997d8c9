package moments

import (
	"math"

	"cubelinemoment/pkg/cube"
)

// ThresholdMap derives the Gaussian cut-off per pixel from the peak
// signal-to-noise: exp(-(S/N)^2 / 2). A pixel whose peak reaches S/N = n
// keeps the Gaussian window out to n sigma.
func ThresholdMap(peak, noise *cube.Map) *cube.Map {
	out := cube.NewMap(peak.NX, peak.NY)
	for i, p := range peak.Data {
		sn := p / noise.Data[i]
		out.Data[i] = math.Exp(-(sn * sn) / 2)
	}
	return out
}

// GaussianWindowMask includes a voxel when the Gaussian profile centered on
// the centroid map with the width map's dispersion, evaluated at the voxel's
// velocity about rest, exceeds the pixel's threshold. Pixels with blank or
// zero width never pass, since the profile is undefined there.
func GaussianWindowMask(c *cube.Cube, rest float64, centroid, width, threshold *cube.Map) *cube.Mask {
	vel := c.VelocityAxis(rest)
	mask := cube.NewMask(c)
	for y := 0; y < c.NY; y++ {
		for x := 0; x < c.NX; x++ {
			m1 := centroid.At(y, x)
			sigma := width.At(y, x)
			thresh := threshold.At(y, x)
			if math.IsNaN(m1) || math.IsNaN(sigma) || sigma == 0 || math.IsNaN(thresh) {
				continue
			}
			for ch := 0; ch < c.NChan; ch++ {
				d := m1 - vel[ch]
				g := math.Exp(-(d * d) / (2 * sigma * sigma))
				mask.Set(ch, y, x, g > thresh)
			}
		}
	}
	return mask
}

// PeakGaussian returns the largest Gaussian profile value the mask
// construction saw, a diagnostic the run log reports.
func PeakGaussian(c *cube.Cube, rest float64, centroid, width *cube.Map) float64 {
	vel := c.VelocityAxis(rest)
	max := math.NaN()
	for y := 0; y < c.NY; y++ {
		for x := 0; x < c.NX; x++ {
			m1 := centroid.At(y, x)
			sigma := width.At(y, x)
			if math.IsNaN(m1) || math.IsNaN(sigma) || sigma == 0 {
				continue
			}
			for ch := 0; ch < c.NChan; ch++ {
				d := m1 - vel[ch]
				g := math.Exp(-(d * d) / (2 * sigma * sigma))
				if math.IsNaN(max) || g > max {
					max = g
				}
			}
		}
	}
	return max
}

// VelocityWindowMask includes voxels whose velocity about rest lies within
// halfWidth of the per-pixel peak velocity taken from the brightest line.
func VelocityWindowMask(c *cube.Cube, rest float64, peakVel *cube.Map, halfWidth float64) *cube.Mask {
	vel := c.VelocityAxis(rest)
	mask := cube.NewMask(c)
	for y := 0; y < c.NY; y++ {
		for x := 0; x < c.NX; x++ {
			pv := peakVel.At(y, x)
			if math.IsNaN(pv) {
				continue
			}
			for ch := 0; ch < c.NChan; ch++ {
				mask.Set(ch, y, x, math.Abs(pv-vel[ch]) < halfWidth)
			}
		}
	}
	return mask
}

// SignalMask includes voxels brighter than limit times the per-pixel noise.
func SignalMask(c *cube.Cube, noise *cube.Map, limit float64) *cube.Mask {
	mask := cube.NewMask(c)
	for y := 0; y < c.NY; y++ {
		for x := 0; x < c.NX; x++ {
			cut := limit * noise.At(y, x)
			if math.IsNaN(cut) {
				continue
			}
			for ch := 0; ch < c.NChan; ch++ {
				mask.Set(ch, y, x, c.At(ch, y, x) > cut)
			}
		}
	}
	return mask
}

// SpatialMask marks the pixels whose brightest-line peak amplitude clears
// limit times the bright noise map. The result indexes as y*NX+x.
func SpatialMask(peakAmp, noise *cube.Map, limit float64) []bool {
	keep := make([]bool, len(peakAmp.Data))
	for i, p := range peakAmp.Data {
		keep[i] = p > limit*noise.Data[i]
	}
	return keep
}
