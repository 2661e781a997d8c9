// Package visualization renders quick-look PNG previews of 2D maps so a run
// can be inspected without a FITS viewer.
package visualization

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"cubelinemoment/pkg/cube"
)

// mapGrid adapts a cube.Map to plotter.GridXYZ. Blank (NaN) pixels render at
// the bottom of the color range; the heat map cannot skip cells.
type mapGrid struct {
	m   *cube.Map
	min float64
}

func (g mapGrid) Dims() (int, int) { return g.m.NX, g.m.NY }
func (g mapGrid) X(c int) float64  { return float64(c) }
func (g mapGrid) Y(r int) float64  { return float64(r) }

func (g mapGrid) Z(c, r int) float64 {
	v := g.m.At(r, c)
	if math.IsNaN(v) {
		return g.min
	}
	return v
}

// SaveMapPNG renders the map as a heat map with the given title and writes
// it to path. Fully blank maps still produce an (empty) preview rather than
// an error, since a blank moment map is a legitimate result.
func SaveMapPNG(m *cube.Map, title, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating preview directory: %w", err)
	}

	min := m.Min()
	if math.IsNaN(min) {
		min = 0
	}
	grid := mapGrid{m: m, min: min}

	h := plotter.NewHeatMap(grid, palette.Heat(255, 1))

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x [pix]"
	p.Y.Label.Text = "y [pix]"
	p.Add(h)

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("error saving preview %s: %w", path, err)
	}
	return nil
}

// MomentTitle composes the preview title for a moment map, matching the
// axis labels the original quick-look figures carry.
func MomentTitle(target, line string, order int, unit string) string {
	var label string
	switch order {
	case 0:
		label = "Integrated Intensity"
	case 1:
		label = "V_LSR"
	default:
		label = "FWHM"
	}
	return fmt.Sprintf("%s %s: %s [%s]", target, line, label, unit)
}
