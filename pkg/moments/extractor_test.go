package moments

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/astrogo/fitsio"

	"cubelinemoment/pkg/config"
	"cubelinemoment/pkg/cube"
)

// writeSyntheticCube writes a float64 FITS cube with a Gaussian line at
// center km/s (sigma km/s wide, unit amplitude) in every pixel except
// (0,0), which stays identically zero so it must drop out of the spatial
// mask. A small deterministic ripple stands in for thermal noise so the
// noise maps are non-degenerate.
func writeSyntheticCube(t *testing.T, path string, c *cube.Cube, center, sigma float64) {
	t.Helper()

	vel := c.VelocityAxis(testRest)
	for y := 0; y < c.NY; y++ {
		for x := 0; x < c.NX; x++ {
			if x == 0 && y == 0 {
				continue
			}
			for ch := 0; ch < c.NChan; ch++ {
				d := vel[ch] - center
				line := math.Exp(-(d * d) / (2 * sigma * sigma))
				ripple := 0.005 * math.Sin(float64(13*ch+7*y+3*x))
				c.Set(ch, y, x, line+ripple)
			}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create FITS file: %v", err)
	}
	defer f.Close()

	fits, err := fitsio.Create(f)
	if err != nil {
		t.Fatalf("Failed to create FITS writer: %v", err)
	}
	defer fits.Close()

	img := fitsio.NewImage(-64, []int{c.NX, c.NY, c.NChan})
	defer img.Close()
	cards := []fitsio.Card{
		{Name: "OBJECT", Value: "SYNTH"},
		{Name: "BUNIT", Value: "Jy / beam"},
		{Name: "CTYPE1", Value: "RA---SIN"},
		{Name: "CRVAL1", Value: 11.888},
		{Name: "CDELT1", Value: -2.8e-5},
		{Name: "CRPIX1", Value: 1.0},
		{Name: "CTYPE2", Value: "DEC--SIN"},
		{Name: "CRVAL2", Value: -25.288},
		{Name: "CDELT2", Value: 2.8e-5},
		{Name: "CRPIX2", Value: 1.0},
		{Name: "CTYPE3", Value: "FREQ"},
		{Name: "CRVAL3", Value: c.CRVal3},
		{Name: "CDELT3", Value: c.CDelt3},
		{Name: "CRPIX3", Value: c.CRPix3},
	}
	if err := img.Header().Append(cards...); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}
	if err := img.Write(&c.Data); err != nil {
		t.Fatalf("Failed to write pixel data: %v", err)
	}
	if err := fits.Write(img); err != nil {
		t.Fatalf("Failed to write HDU: %v", err)
	}
}

// testConfig assembles a run configuration over the synthetic cube.
func testConfig(cubePath, outDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Cube.Path = cubePath
	cfg.SpatialMaskCube.Path = cubePath
	cfg.Source.Target = "SYNTH"
	cfg.Source.Vz = 250
	cfg.Setup.BrightestLineFrequency = 100
	cfg.Setup.WidthLineFrequency = 100
	cfg.Setup.LinewidthGuess = 100
	cfg.Setup.NoisemapBrightBaseline = [][2]int{{0, 8}, {64, 72}}
	cfg.Setup.NoisemapBaseline = [][2]int{{0, 8}, {64, 72}}
	cfg.Setup.SpatialMaskLimit = 3
	cfg.Setup.SignalMaskLimit = 2
	cfg.Lines.Names = []string{"TESTLINE"}
	cfg.Lines.Frequencies = []float64{100}
	cfg.Lines.Widths = []float64{80}
	cfg.Output.Dir = outDir
	cfg.Output.Previews = false
	return cfg
}

func TestPipelineEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping pipeline test in short mode")
	}

	tmpDir := t.TempDir()
	cubePath := filepath.Join(tmpDir, "synth.fits")

	// 72 channels from about -100 to +600 km/s, line at 250 km/s.
	c := newVelocityCube(4, 3, 72, -100, 10)
	writeSyntheticCube(t, cubePath, c, 250, 30)

	cfg := testConfig(cubePath, tmpDir)
	extractor := New(&Params{Config: cfg})

	if err := extractor.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	summary := extractor.Summary()
	if summary.LinesProcessed != 1 {
		t.Errorf("lines processed = %d, want 1", summary.LinesProcessed)
	}
	if summary.MapsWritten != 3 {
		t.Errorf("maps written = %d, want 3", summary.MapsWritten)
	}
	if summary.NoiseBrightPeak <= 0 {
		t.Errorf("bright noise peak = %g, want > 0", summary.NoiseBrightPeak)
	}

	m0, err := cube.ReadMap(filepath.Join(tmpDir, "moment0", "SYNTH_TESTLINE_moment0.fits"))
	if err != nil {
		t.Fatalf("moment 0 map missing: %v", err)
	}
	m1, err := cube.ReadMap(filepath.Join(tmpDir, "moment1", "SYNTH_TESTLINE_moment1.fits"))
	if err != nil {
		t.Fatalf("moment 1 map missing: %v", err)
	}
	m2, err := cube.ReadMap(filepath.Join(tmpDir, "moment2", "SYNTH_TESTLINE_moment2.fits"))
	if err != nil {
		t.Fatalf("moment 2 map missing: %v", err)
	}

	// A signal pixel: integrated intensity positive, centroid near the
	// source velocity, line width positive and below the full window.
	if v := m0.At(1, 2); !(v > 0) {
		t.Errorf("moment 0 at signal pixel = %g, want > 0", v)
	}
	if v := m1.At(1, 2); math.Abs(v-250) > 15 {
		t.Errorf("moment 1 at signal pixel = %g, want about 250", v)
	}
	if v := m2.At(1, 2); !(v > 0 && v < 120) {
		t.Errorf("moment 2 (FWHM) at signal pixel = %g, want in (0, 120)", v)
	}

	// The empty pixel never enters the spatial mask, so every moment is
	// blank there.
	for i, m := range []*cube.Map{m0, m1, m2} {
		if !math.IsNaN(m.At(0, 0)) {
			t.Errorf("moment %d at empty pixel = %g, want NaN", i, m.At(0, 0))
		}
	}
}

func TestPipelineLineFailureNamesLine(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping pipeline test in short mode")
	}

	tmpDir := t.TempDir()
	cubePath := filepath.Join(tmpDir, "synth.fits")
	c := newVelocityCube(4, 3, 72, -100, 10)
	writeSyntheticCube(t, cubePath, c, 250, 30)

	cfg := testConfig(cubePath, tmpDir)
	// A rest frequency far outside the band leaves no slab channels.
	cfg.Lines.Names = []string{"OFFBAND"}
	cfg.Lines.Frequencies = []float64{115.271}
	cfg.Lines.Widths = []float64{80}

	extractor := New(&Params{Config: cfg})
	err := extractor.Run()
	if err == nil {
		t.Fatal("expected error for off-band line, got nil")
	}
}

func TestSetupRejectsMismatchedGrids(t *testing.T) {
	tmpDir := t.TempDir()

	mainPath := filepath.Join(tmpDir, "main.fits")
	maskPath := filepath.Join(tmpDir, "mask.fits")
	writeSyntheticCube(t, mainPath, newVelocityCube(4, 3, 40, -100, 10), 100, 30)
	writeSyntheticCube(t, maskPath, newVelocityCube(5, 3, 40, -100, 10), 100, 30)

	cfg := testConfig(mainPath, tmpDir)
	cfg.SpatialMaskCube.Path = maskPath

	extractor := New(&Params{Config: cfg})
	if err := extractor.Setup(); err == nil {
		t.Fatal("expected error for mismatched spatial grids, got nil")
	}
}
