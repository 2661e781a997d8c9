package cube

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/astrogo/fitsio"
)

// writeTestCubeFITS writes c to path as a float32 cube, optionally with a
// degenerate trailing Stokes axis, the layout ALMA products use.
func writeTestCubeFITS(t *testing.T, path string, c *Cube, stokesAxis bool) {
	t.Helper()

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

	dims := []int{c.NX, c.NY, c.NChan}
	if stokesAxis {
		dims = append(dims, 1)
	}
	img := fitsio.NewImage(-32, dims)
	defer img.Close()

	cards := []fitsio.Card{
		{Name: "OBJECT", Value: c.Meta.Object},
		{Name: "BUNIT", Value: c.Meta.BUnit},
		{Name: "CTYPE1", Value: "RA---SIN"},
		{Name: "CRVAL1", Value: 11.888},
		{Name: "CDELT1", Value: -2.8e-5},
		{Name: "CRPIX1", Value: float64(c.NX/2 + 1)},
		{Name: "CTYPE2", Value: "DEC--SIN"},
		{Name: "CRVAL2", Value: -25.288},
		{Name: "CDELT2", Value: 2.8e-5},
		{Name: "CRPIX2", Value: float64(c.NY/2 + 1)},
		{Name: "CTYPE3", Value: "FREQ"},
		{Name: "CUNIT3", Value: "Hz"},
		{Name: "CRVAL3", Value: c.CRVal3},
		{Name: "CDELT3", Value: c.CDelt3},
		{Name: "CRPIX3", Value: c.CRPix3},
		{Name: "BMAJ", Value: 1.0e-4},
		{Name: "BMIN", Value: 8.0e-5},
		{Name: "BPA", Value: 12.5},
	}
	if err := img.Header().Append(cards...); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}

	raw := make([]float32, len(c.Data))
	for i, v := range c.Data {
		raw[i] = float32(v)
	}
	if err := img.Write(&raw); err != nil {
		t.Fatalf("Failed to write pixel data: %v", err)
	}
	if err := fits.Write(img); err != nil {
		t.Fatalf("Failed to write HDU: %v", err)
	}
}

func TestReadCube(t *testing.T) {
	src := newTestCube(4, 3, 20, -100, 10)
	fillGaussianLine(src, 1.0, 0, 40)
	src.Set(5, 2, 1, 9.25)

	path := filepath.Join(t.TempDir(), "cube.fits")
	writeTestCubeFITS(t, path, src, false)

	c, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if c.NX != 4 || c.NY != 3 || c.NChan != 20 {
		t.Fatalf("cube shape = %dx%dx%d, want 4x3x20", c.NX, c.NY, c.NChan)
	}
	if got := c.At(5, 2, 1); math.Abs(got-9.25) > 1e-5 {
		t.Errorf("voxel = %g, want 9.25", got)
	}
	if c.Meta.Object != "TEST" {
		t.Errorf("OBJECT = %q, want TEST", c.Meta.Object)
	}
	if c.Meta.BUnit != "Jy / beam" {
		t.Errorf("BUNIT = %q", c.Meta.BUnit)
	}
	if !c.Meta.HasBeam {
		t.Error("beam keywords were not read")
	}
	if math.Abs(c.CRVal3-src.CRVal3) > 1 {
		t.Errorf("CRVAL3 = %g, want %g", c.CRVal3, src.CRVal3)
	}
}

func TestReadCubeDegenerateStokes(t *testing.T) {
	src := newTestCube(4, 3, 10, -100, 10)

	path := filepath.Join(t.TempDir(), "cube4d.fits")
	writeTestCubeFITS(t, path, src, true)

	c, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed on 4-axis cube: %v", err)
	}
	if c.NChan != 10 {
		t.Errorf("NChan = %d, want 10", c.NChan)
	}
}

func TestReadCubeMissingFile(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), "nope.fits")); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestWriteAndReadMap(t *testing.T) {
	m := NewMap(6, 4)
	m.Unit = "km / s"
	for i := range m.Data {
		m.Data[i] = float64(i) / 3
	}
	m.Data[0] = math.NaN()

	meta := Meta{
		Object: "NGC253",
		CType1: "RA---SIN", CRVal1: 11.888, CDelt1: -2.8e-5, CRPix1: 3,
		CType2: "DEC--SIN", CRVal2: -25.288, CDelt2: 2.8e-5, CRPix2: 2,
		BMaj: 1e-4, BMin: 8e-5, BPA: 12.5, HasBeam: true,
	}

	path := filepath.Join(t.TempDir(), "map.fits")
	if err := m.WriteFITS(path, meta); err != nil {
		t.Fatalf("WriteFITS failed: %v", err)
	}

	got, err := ReadMap(path)
	if err != nil {
		t.Fatalf("ReadMap failed: %v", err)
	}
	if got.NX != 6 || got.NY != 4 {
		t.Fatalf("map shape = %dx%d, want 6x4", got.NX, got.NY)
	}
	if got.Unit != "km / s" {
		t.Errorf("BUNIT = %q, want km / s", got.Unit)
	}
	if !math.IsNaN(got.Data[0]) {
		t.Errorf("blank pixel read back as %g, want NaN", got.Data[0])
	}
	for i := 1; i < len(m.Data); i++ {
		if math.Abs(got.Data[i]-m.Data[i]) > 1e-12 {
			t.Fatalf("pixel %d = %g, want %g", i, got.Data[i], m.Data[i])
		}
	}
}
