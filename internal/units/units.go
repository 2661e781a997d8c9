// Package units holds the physical constants and spectral conversions shared
// across the pipeline. All velocities are km/s and all frequencies are Hz
// unless a function name says otherwise.
package units

import "math"

// SpeedOfLight is c in km/s.
const SpeedOfLight = 299792.458

// GHz converts a frequency in GHz to Hz.
func GHz(f float64) float64 {
	return f * 1e9
}

// OpticalVelocity converts a frequency to a velocity in km/s using the
// optical convention, v = c*(f0 - f)/f, relative to the rest frequency rest.
func OpticalVelocity(freq, rest float64) float64 {
	return SpeedOfLight * (rest - freq) / freq
}

// OpticalFrequency inverts OpticalVelocity: the frequency at which a line
// with rest frequency rest appears when shifted by vel km/s.
func OpticalFrequency(vel, rest float64) float64 {
	return rest / (1 + vel/SpeedOfLight)
}

// VarianceToFWHM converts an intensity-weighted velocity variance (a raw
// moment-2 value) to the full-width line-width convention used when writing
// moment-2 maps: 2*sqrt(ln 2)*sqrt(m2).
func VarianceToFWHM(m2 float64) float64 {
	return 2 * math.Sqrt(math.Ln2) * math.Sqrt(m2)
}
