// Package config provides parameter-file loading for cubelinemoment.
// A single YAML file drives one pipeline run: cube paths, source physical
// parameters, noise baselines, masking thresholds, and the line lists.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrLineListMismatch is returned when the per-line name, rest-frequency,
// and width lists do not agree in length.
var ErrLineListMismatch = errors.New("line lists (names, rest frequencies, and widths) have different lengths")

// Line describes one spectral line to extract moments for.
type Line struct {
	// Name labels the line in output filenames, e.g. "H2CO303_202".
	Name string

	// RestFreq is the line rest frequency in GHz.
	RestFreq float64

	// Width is the expected half-width zero-intensity of the line in km/s,
	// used to bound the velocity window around the peak velocity.
	Width float64
}

// Config represents one pipeline run loaded from YAML.
type Config struct {
	// Cube is the main PPV cube the moments are computed from.
	Cube struct {
		// Path is the FITS cube filename.
		Path string `yaml:"path"`

		// Region optionally names a ds9 region file cropping the cube to
		// the galaxy before any processing.
		Region string `yaml:"region"`
	} `yaml:"cube"`

	// SpatialMaskCube defines the PPV region used to locate the brightest
	// line and derive the spatial mask. Its region should generally match
	// the main cube's.
	SpatialMaskCube struct {
		Path   string `yaml:"path"`
		Region string `yaml:"region"`
	} `yaml:"spatialMaskCube"`

	// Source holds the target parameters.
	Source struct {
		// Target names the source; used in output filenames.
		Target string `yaml:"target"`

		// Vz is the line-of-sight (redshift) velocity of the source in km/s.
		Vz float64 `yaml:"vz"`
	} `yaml:"source"`

	// Setup parameters control the mask and reference-map derivation.
	Setup struct {
		// BrightestLineFrequency is the rest frequency in GHz of the
		// brightest line, which establishes the velocity field used for
		// every other line.
		BrightestLineFrequency float64 `yaml:"brightestLineFrequency"`

		// WidthLineFrequency is the rest frequency in GHz of the line used
		// to derive the width and centroid maps.
		WidthLineFrequency float64 `yaml:"widthLineFrequency"`

		// LinewidthGuess is the approximate full-width zero-intensity of
		// the lines in km/s. It should exceed the expected FWHM.
		LinewidthGuess float64 `yaml:"linewidthGuess"`

		// NoisemapBrightBaseline lists [low, high) channel ranges of the
		// main cube that are line-free, used for the bright noise map.
		NoisemapBrightBaseline [][2]int `yaml:"noisemapBrightBaseline"`

		// NoisemapBaseline lists the line-free channel ranges used for the
		// main noise map.
		NoisemapBaseline [][2]int `yaml:"noisemapBaseline"`

		// SpatialMaskLimit is the n-sigma threshold on the brightest-line
		// peak amplitude for a pixel to enter the spatial mask.
		SpatialMaskLimit float64 `yaml:"spatialMaskLimit"`

		// SignalMaskLimit is the per-voxel n-sigma threshold of the signal
		// mask applied before the moment reduction.
		SignalMaskLimit float64 `yaml:"signalMaskLimit"`
	} `yaml:"setup"`

	// Lines holds the parallel per-line lists. They must agree in length.
	Lines struct {
		Names       []string  `yaml:"names"`
		Frequencies []float64 `yaml:"frequencies"`
		Widths      []float64 `yaml:"widths"`
	} `yaml:"lines"`

	// Output parameters.
	Output struct {
		// Dir is the directory the moment0/1/2 subdirectories are created
		// under.
		Dir string `yaml:"dir"`

		// Previews controls whether PNG previews are rendered next to the
		// FITS maps.
		Previews bool `yaml:"previews"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values. Paths, source
// parameters, and line lists have no useful defaults and must come from the
// parameter file.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Setup.LinewidthGuess = 80
	cfg.Setup.SpatialMaskLimit = 3
	cfg.Setup.SignalMaskLimit = 3

	cfg.Output.Dir = "."
	cfg.Output.Previews = true

	return cfg
}

// LoadConfig loads a parameter file and validates it.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading parameter file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing parameter file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameter file %s: %w", configPath, err)
	}

	return cfg, nil
}

// Validate checks the configuration for the failures worth catching before
// any cube is read.
func (cfg *Config) Validate() error {
	if cfg.Cube.Path == "" {
		return errors.New("cube.path is required")
	}
	if cfg.SpatialMaskCube.Path == "" {
		return errors.New("spatialMaskCube.path is required")
	}
	if cfg.Source.Target == "" {
		return errors.New("source.target is required")
	}
	if cfg.Setup.BrightestLineFrequency <= 0 {
		return errors.New("setup.brightestLineFrequency must be a positive frequency in GHz")
	}
	if cfg.Setup.WidthLineFrequency <= 0 {
		return errors.New("setup.widthLineFrequency must be a positive frequency in GHz")
	}
	if cfg.Setup.LinewidthGuess <= 0 {
		return errors.New("setup.linewidthGuess must be a positive velocity in km/s")
	}
	if len(cfg.Setup.NoisemapBrightBaseline) == 0 {
		return errors.New("setup.noisemapBrightBaseline must list at least one channel range")
	}
	if len(cfg.Setup.NoisemapBaseline) == 0 {
		return errors.New("setup.noisemapBaseline must list at least one channel range")
	}

	n := len(cfg.Lines.Names)
	if n == 0 {
		return errors.New("lines.names must list at least one line")
	}
	if len(cfg.Lines.Frequencies) != n || len(cfg.Lines.Widths) != n {
		return fmt.Errorf("%w: %d names, %d frequencies, %d widths",
			ErrLineListMismatch, n, len(cfg.Lines.Frequencies), len(cfg.Lines.Widths))
	}
	for i, f := range cfg.Lines.Frequencies {
		if f <= 0 {
			return fmt.Errorf("lines.frequencies[%d] must be a positive frequency in GHz", i)
		}
	}
	for i, w := range cfg.Lines.Widths {
		if w <= 0 {
			return fmt.Errorf("lines.widths[%d] must be a positive velocity in km/s", i)
		}
	}
	return nil
}

// LineList zips the parallel per-line lists into Line values.
func (cfg *Config) LineList() []Line {
	lines := make([]Line, len(cfg.Lines.Names))
	for i := range lines {
		lines[i] = Line{
			Name:     cfg.Lines.Names[i],
			RestFreq: cfg.Lines.Frequencies[i],
			Width:    cfg.Lines.Widths[i],
		}
	}
	return lines
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
