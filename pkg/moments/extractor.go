// Package moments runs the moment-map pipeline: a setup stage that derives
// the reference maps and masks from the main and spatial-mask cubes, and a
// per-line stage that windows the cube around each line, combines the
// Gaussian, velocity, signal, and spatial masks, and reduces the masked
// cube to moment 0, 1, and 2 maps on disk.
package moments

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"cubelinemoment/internal/units"
	"cubelinemoment/pkg/config"
	"cubelinemoment/pkg/cube"
	"cubelinemoment/pkg/region"
	"cubelinemoment/pkg/visualization"
)

// Params holds the pipeline configuration.
type Params struct {
	// Config is the validated parameter file contents.
	Config *config.Config

	// OutputDir overrides Config.Output.Dir when non-empty.
	OutputDir string
}

// Summary reports what a run produced.
type Summary struct {
	// LinesProcessed counts the lines that made it through extraction.
	LinesProcessed int

	// MapsWritten counts the FITS maps written.
	MapsWritten int

	// NoiseBrightPeak is the largest value in the bright noise map, the
	// first sanity check of a run.
	NoiseBrightPeak float64
}

// Extractor drives the pipeline. Construct it with New, then call Run.
type Extractor struct {
	params *Params

	// State derived by the setup stage, consumed per line.
	cube        *cube.Cube
	spatialMask []bool
	noisemap    *cube.Map
	noiseBright *cube.Map
	centroidMap *cube.Map
	widthMap    *cube.Map
	maxMap      *cube.Map
	peakVel     *cube.Map

	summary Summary
}

// New creates an extractor for the given parameters.
func New(params *Params) *Extractor {
	return &Extractor{params: params}
}

// outputDir resolves the directory moment maps are written under.
func (e *Extractor) outputDir() string {
	if e.params.OutputDir != "" {
		return e.params.OutputDir
	}
	return e.params.Config.Output.Dir
}

// Summary returns the run summary; only meaningful after Run.
func (e *Extractor) Summary() Summary {
	return e.summary
}

// Run executes the full pipeline.
func (e *Extractor) Run() error {
	cfg := e.params.Config

	fmt.Println("Step 1: Loading cubes and deriving reference maps...")
	if err := e.Setup(); err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}

	fmt.Println("Step 2: Extracting per-line moment maps...")
	for _, line := range cfg.LineList() {
		fmt.Printf("Processing line %s (%.6f GHz, width %.1f km/s)\n",
			line.Name, line.RestFreq, line.Width)
		if err := e.ExtractLine(line); err != nil {
			return fmt.Errorf("line %s: %w", line.Name, err)
		}
		e.summary.LinesProcessed++
	}
	return nil
}

// loadCube reads a cube and applies its optional region crop.
func loadCube(path, regionPath string) (*cube.Cube, error) {
	c, err := cube.Read(path)
	if err != nil {
		return nil, err
	}
	if regionPath == "" {
		return c, nil
	}
	box, err := region.Load(regionPath)
	if err != nil {
		return nil, err
	}
	return c.Crop(box)
}

// Setup loads both cubes and derives the width, centroid, peak, noise, and
// peak-velocity maps plus the spatial mask that every line extraction uses.
func (e *Extractor) Setup() error {
	cfg := e.params.Config

	c, err := loadCube(cfg.Cube.Path, cfg.Cube.Region)
	if err != nil {
		return fmt.Errorf("main cube: %w", err)
	}
	maskCube, err := loadCube(cfg.SpatialMaskCube.Path, cfg.SpatialMaskCube.Region)
	if err != nil {
		return fmt.Errorf("spatial mask cube: %w", err)
	}
	if c.NX != maskCube.NX || c.NY != maskCube.NY {
		return fmt.Errorf("main cube (%dx%d) and spatial mask cube (%dx%d) have different spatial grids",
			c.NX, c.NY, maskCube.NX, maskCube.NY)
	}
	e.cube = c

	// Width and centroid maps come from the whole cube in the width line's
	// velocity frame, unmasked, as do the original's.
	widthRest := units.GHz(cfg.Setup.WidthLineFrequency)
	e.widthMap, err = c.LineWidthSigma(widthRest)
	if err != nil {
		return fmt.Errorf("width map: %w", err)
	}
	e.centroidMap, err = c.Moment(1, widthRest, nil)
	if err != nil {
		return fmt.Errorf("centroid map: %w", err)
	}
	e.maxMap = c.MaxMap()

	// The brightest line, within vz +/- the linewidth guess of the spatial
	// mask cube, defines the per-pixel peak velocity and amplitude.
	brightRest := units.GHz(cfg.Setup.BrightestLineFrequency)
	brightCube, err := maskCube.Slab(brightRest,
		cfg.Source.Vz-cfg.Setup.LinewidthGuess,
		cfg.Source.Vz+cfg.Setup.LinewidthGuess)
	if err != nil {
		return fmt.Errorf("brightest line slab: %w", err)
	}
	e.peakVel = brightCube.ArgMaxVelocity(brightRest)
	peakAmp := brightCube.MaxMap()

	e.noiseBright, err = c.NoiseMap(cfg.Setup.NoisemapBrightBaseline)
	if err != nil {
		return fmt.Errorf("bright noise map: %w", err)
	}
	e.summary.NoiseBrightPeak = e.noiseBright.Max()
	fmt.Printf("noisemapbright peak = %g %s\n", e.summary.NoiseBrightPeak, e.noiseBright.Unit)

	if cfg.Output.Previews {
		path := filepath.Join(e.outputDir(), "diagnostics",
			fmt.Sprintf("%s_noisemapbright.png", cfg.Source.Target))
		title := fmt.Sprintf("%s bright noise map [%s]", cfg.Source.Target, e.noiseBright.Unit)
		if err := visualization.SaveMapPNG(e.noiseBright, title, path); err != nil {
			fmt.Printf("Warning: failed to save noise map preview: %v\n", err)
		}
	}

	e.spatialMask = SpatialMask(peakAmp, e.noiseBright, cfg.Setup.SpatialMaskLimit)

	e.noisemap, err = c.NoiseMap(cfg.Setup.NoisemapBaseline)
	if err != nil {
		return fmt.Errorf("noise map: %w", err)
	}
	return nil
}

// ExtractLine windows the cube around one line, assembles the combined
// mask, and writes the three moment maps with their previews.
func (e *Extractor) ExtractLine(line config.Line) error {
	cfg := e.params.Config
	rest := units.GHz(line.RestFreq)

	vlo := e.peakVel.Min() - line.Width
	vhi := e.peakVel.Max() + line.Width
	if math.IsNaN(vlo) || math.IsNaN(vhi) {
		return fmt.Errorf("peak velocity map is entirely blank")
	}
	subcube, err := e.cube.Slab(rest, vlo, vhi)
	if err != nil {
		return err
	}

	peakSN := cube.NewMap(e.maxMap.NX, e.maxMap.NY)
	for i := range peakSN.Data {
		peakSN.Data[i] = e.maxMap.Data[i] / e.noisemap.Data[i]
	}
	fmt.Printf("Peak S/N: %g\n", peakSN.Max())

	threshold := ThresholdMap(e.maxMap, e.noisemap)
	fmt.Printf("Highest threshold: %g\n", threshold.Max())
	fmt.Printf("Lowest non-zero threshold: %g\n", threshold.MinPositive())

	mask := GaussianWindowMask(subcube, rest, e.centroidMap, e.widthMap, threshold)
	fmt.Printf("Voxels above threshold: %d\n", mask.Count())
	fmt.Printf("Peak Gaussian window value: %g\n",
		PeakGaussian(subcube, rest, e.centroidMap, e.widthMap))

	mask.And(VelocityWindowMask(subcube, rest, e.peakVel, line.Width))
	mask.And(SignalMask(subcube, e.noisemap, cfg.Setup.SignalMaskLimit))
	mask.AndSpatial(e.spatialMask)
	fmt.Printf("Voxels in combined mask: %d\n", mask.Count())

	for order := 0; order <= 2; order++ {
		mom, err := subcube.Moment(order, rest, mask)
		if err != nil {
			return err
		}
		if order == 2 {
			// Report the second moment as a line width, matching the
			// 2*sqrt(ln 2)*sqrt(m2) convention of the original maps.
			for i, v := range mom.Data {
				mom.Data[i] = units.VarianceToFWHM(v)
			}
		}

		dir := filepath.Join(e.outputDir(), fmt.Sprintf("moment%d", order))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating output directory: %w", err)
		}
		base := fmt.Sprintf("%s_%s_moment%d", cfg.Source.Target, line.Name, order)

		fitsPath := filepath.Join(dir, base+".fits")
		if err := mom.WriteFITS(fitsPath, subcube.Meta); err != nil {
			return err
		}
		e.summary.MapsWritten++

		if cfg.Output.Previews {
			title := visualization.MomentTitle(cfg.Source.Target, line.Name, order, mom.Unit)
			if err := visualization.SaveMapPNG(mom, title, filepath.Join(dir, base+".png")); err != nil {
				fmt.Printf("Warning: failed to save preview for %s: %v\n", base, err)
			}
		}
	}
	return nil
}
