// Package region reads ds9 region files and reduces them to the pixel crop
// window used to cut a galaxy-sized box out of a cube. Only image-coordinate
// box() and circle() shapes are supported; sky-frame regions would need the
// full spatial WCS and are rejected.
package region

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Box is an inclusive pixel crop window, 0-based.
type Box struct {
	XMin, XMax int
	YMin, YMax int
}

// Width returns the number of columns covered by the box.
func (b Box) Width() int { return b.XMax - b.XMin + 1 }

// Height returns the number of rows covered by the box.
func (b Box) Height() int { return b.YMax - b.YMin + 1 }

// skyFrames are coordinate systems we cannot resolve without a full WCS.
var skyFrames = map[string]bool{
	"fk4": true, "fk5": true, "icrs": true, "galactic": true, "ecliptic": true,
}

// Load parses a ds9 region file and returns the bounding box, in 0-based
// pixel coordinates, of the union of its shapes.
func Load(path string) (Box, error) {
	f, err := os.Open(path)
	if err != nil {
		return Box{}, fmt.Errorf("error opening region file: %w", err)
	}
	defer f.Close()

	box := Box{XMin: math.MaxInt32, YMin: math.MaxInt32, XMax: -1, YMax: -1}
	frame := "image"
	found := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "global") {
			continue
		}

		lower := strings.ToLower(line)
		if skyFrames[lower] {
			return Box{}, fmt.Errorf("region file %s uses sky frame %q; only image coordinates are supported", path, lower)
		}
		if lower == "image" || lower == "physical" {
			frame = "image"
			continue
		}

		shape, args, err := parseShape(line)
		if err != nil {
			return Box{}, fmt.Errorf("region file %s: %w", path, err)
		}
		if shape == "" {
			continue
		}
		if frame != "image" {
			return Box{}, fmt.Errorf("region file %s: shape in unsupported frame %q", path, frame)
		}

		b, err := shapeBounds(shape, args)
		if err != nil {
			return Box{}, fmt.Errorf("region file %s: %w", path, err)
		}
		box = box.union(b)
		found = true
	}
	if err := scanner.Err(); err != nil {
		return Box{}, fmt.Errorf("error reading region file: %w", err)
	}
	if !found {
		return Box{}, fmt.Errorf("region file %s contains no supported shapes", path)
	}
	return box, nil
}

// parseShape splits a line like "box(125,130,40,50,0)" into its shape name
// and numeric arguments. Lines that carry no shape return an empty name.
func parseShape(line string) (string, []float64, error) {
	open := strings.Index(line, "(")
	end := strings.Index(line, ")")
	if open < 0 || end < open {
		return "", nil, nil
	}
	name := strings.ToLower(strings.TrimSpace(line[:open]))
	name = strings.TrimPrefix(name, "-") // excluded shapes still bound the crop

	var args []float64
	for _, tok := range strings.Split(line[open+1:end], ",") {
		tok = strings.TrimSpace(tok)
		// Sky units on image-frame shapes are a config mistake worth naming.
		if strings.ContainsAny(tok, "\"'dhms:") {
			return "", nil, fmt.Errorf("shape %s has non-pixel coordinate %q", name, tok)
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return "", nil, fmt.Errorf("shape %s: bad coordinate %q", name, tok)
		}
		args = append(args, v)
	}
	return name, args, nil
}

// shapeBounds converts one shape to its pixel bounding box. ds9 pixel
// coordinates are 1-based with the origin at the pixel center.
func shapeBounds(shape string, args []float64) (Box, error) {
	switch shape {
	case "box":
		if len(args) < 4 {
			return Box{}, fmt.Errorf("box needs at least 4 arguments, got %d", len(args))
		}
		cx, cy, w, h := args[0], args[1], args[2], args[3]
		return pixelBox(cx-w/2, cx+w/2, cy-h/2, cy+h/2), nil
	case "circle":
		if len(args) < 3 {
			return Box{}, fmt.Errorf("circle needs 3 arguments, got %d", len(args))
		}
		cx, cy, r := args[0], args[1], args[2]
		return pixelBox(cx-r, cx+r, cy-r, cy+r), nil
	case "ellipse":
		if len(args) < 4 {
			return Box{}, fmt.Errorf("ellipse needs at least 4 arguments, got %d", len(args))
		}
		cx, cy, rx, ry := args[0], args[1], args[2], args[3]
		return pixelBox(cx-rx, cx+rx, cy-ry, cy+ry), nil
	default:
		return Box{}, fmt.Errorf("unsupported region shape %q", shape)
	}
}

// pixelBox converts 1-based fractional pixel extents to a 0-based integer
// box. A shape edge landing exactly on a pixel boundary includes the pixel
// on the low side and excludes it on the high side, so an N-pixel-wide
// shape crops exactly N pixels.
func pixelBox(xlo, xhi, ylo, yhi float64) Box {
	return Box{
		XMin: int(math.Floor(xlo - 0.5)),
		XMax: int(math.Floor(xhi-0.5)) - 1,
		YMin: int(math.Floor(ylo - 0.5)),
		YMax: int(math.Floor(yhi-0.5)) - 1,
	}
}

func (b Box) union(o Box) Box {
	if o.XMin < b.XMin {
		b.XMin = o.XMin
	}
	if o.YMin < b.YMin {
		b.YMin = o.YMin
	}
	if o.XMax > b.XMax {
		b.XMax = o.XMax
	}
	if o.YMax > b.YMax {
		b.YMax = o.YMax
	}
	return b
}

// Clip restricts the box to an nx-by-ny grid. It returns an error when the
// region lies entirely outside the grid.
func (b Box) Clip(nx, ny int) (Box, error) {
	if b.XMin < 0 {
		b.XMin = 0
	}
	if b.YMin < 0 {
		b.YMin = 0
	}
	if b.XMax >= nx {
		b.XMax = nx - 1
	}
	if b.YMax >= ny {
		b.YMax = ny - 1
	}
	if b.XMin > b.XMax || b.YMin > b.YMax {
		return Box{}, fmt.Errorf("region does not overlap the %dx%d image", nx, ny)
	}
	return b, nil
}
