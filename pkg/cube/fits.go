package cube

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/astrogo/fitsio"
)

// Read loads a PPV cube from the primary HDU of a FITS file. The cube must
// have a frequency spectral axis as its third dimension; a degenerate
// trailing axis (the usual Stokes axis on interferometer products) is
// accepted and dropped. BITPIX -32 and -64 images are supported.
func Read(path string) (*Cube, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening cube: %w", err)
	}
	defer f.Close()

	fits, err := fitsio.Open(f)
	if err != nil {
		return nil, fmt.Errorf("error reading FITS file %s: %w", path, err)
	}
	defer fits.Close()

	hdu := fits.HDU(0)
	img, ok := hdu.(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("primary HDU of %s is not an image", path)
	}
	hdr := img.Header()

	axes := hdr.Axes()
	for len(axes) > 3 && axes[len(axes)-1] == 1 {
		axes = axes[:len(axes)-1]
	}
	if len(axes) != 3 {
		return nil, fmt.Errorf("%s is not a 3-dimensional cube (axes %v)", path, hdr.Axes())
	}
	nx, ny, nchan := axes[0], axes[1], axes[2]

	ctype3, _ := cardString(hdr, "CTYPE3")
	if !strings.HasPrefix(strings.ToUpper(ctype3), "FREQ") {
		return nil, fmt.Errorf("%s: spectral axis CTYPE3=%q, need a frequency axis", path, ctype3)
	}

	crval3, ok := cardFloat(hdr, "CRVAL3")
	if !ok {
		return nil, fmt.Errorf("%s: missing CRVAL3", path)
	}
	cdelt3, ok := cardFloat(hdr, "CDELT3")
	if !ok {
		return nil, fmt.Errorf("%s: missing CDELT3", path)
	}
	crpix3, ok := cardFloat(hdr, "CRPIX3")
	if !ok {
		crpix3 = 1
	}
	// Frequency axes are occasionally written in GHz; normalize to Hz.
	if cunit3, _ := cardString(hdr, "CUNIT3"); strings.EqualFold(strings.TrimSpace(cunit3), "GHz") {
		crval3 *= 1e9
		cdelt3 *= 1e9
	}

	data, err := readImageData(hdr, img, nx*ny*nchan)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	c := &Cube{
		Data:   data,
		NX:     nx,
		NY:     ny,
		NChan:  nchan,
		CRVal3: crval3,
		CDelt3: cdelt3,
		CRPix3: crpix3,
	}
	c.Meta = readMeta(hdr)
	return c, nil
}

// readImageData pulls the pixel array out of the HDU and widens it to
// float64. Only floating-point cubes are supported; integer cubes would
// need BSCALE/BZERO handling that radio line cubes never use.
func readImageData(hdr *fitsio.Header, img fitsio.Image, n int) ([]float64, error) {
	switch hdr.Bitpix() {
	case -32:
		raw := make([]float32, n)
		if err := img.Read(&raw); err != nil {
			return nil, fmt.Errorf("error reading pixel data: %w", err)
		}
		data := make([]float64, n)
		for i, v := range raw {
			data[i] = float64(v)
		}
		return data, nil
	case -64:
		data := make([]float64, n)
		if err := img.Read(&data); err != nil {
			return nil, fmt.Errorf("error reading pixel data: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d, need -32 or -64", hdr.Bitpix())
	}
}

// readMeta copies the cards we propagate to output maps.
func readMeta(hdr *fitsio.Header) Meta {
	var m Meta
	m.Object, _ = cardString(hdr, "OBJECT")
	m.BUnit, _ = cardString(hdr, "BUNIT")

	var okMaj, okMin bool
	m.BMaj, okMaj = cardFloat(hdr, "BMAJ")
	m.BMin, okMin = cardFloat(hdr, "BMIN")
	m.BPA, _ = cardFloat(hdr, "BPA")
	m.HasBeam = okMaj && okMin

	m.CType1, _ = cardString(hdr, "CTYPE1")
	m.CType2, _ = cardString(hdr, "CTYPE2")
	m.CUnit1, _ = cardString(hdr, "CUNIT1")
	m.CUnit2, _ = cardString(hdr, "CUNIT2")
	m.CRVal1, _ = cardFloat(hdr, "CRVAL1")
	m.CRVal2, _ = cardFloat(hdr, "CRVAL2")
	m.CDelt1, _ = cardFloat(hdr, "CDELT1")
	m.CDelt2, _ = cardFloat(hdr, "CDELT2")
	m.CRPix1, _ = cardFloat(hdr, "CRPIX1")
	m.CRPix2, _ = cardFloat(hdr, "CRPIX2")
	return m
}

// WriteFITS writes the map as a BITPIX -64 primary image, carrying over the
// object name, unit, spatial WCS, and beam from the source cube's metadata.
func (m *Map) WriteFITS(path string, meta Meta) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	defer f.Close()

	fits, err := fitsio.Create(f)
	if err != nil {
		return fmt.Errorf("error creating FITS file %s: %w", path, err)
	}
	defer fits.Close()

	img := fitsio.NewImage(-64, []int{m.NX, m.NY})
	defer img.Close()

	cards := []fitsio.Card{
		{Name: "BUNIT", Value: m.Unit, Comment: "Brightness (pixel) unit"},
	}
	if meta.Object != "" {
		cards = append(cards, fitsio.Card{Name: "OBJECT", Value: meta.Object})
	}
	if meta.CType1 != "" {
		cards = append(cards,
			fitsio.Card{Name: "CTYPE1", Value: meta.CType1},
			fitsio.Card{Name: "CRVAL1", Value: meta.CRVal1},
			fitsio.Card{Name: "CDELT1", Value: meta.CDelt1},
			fitsio.Card{Name: "CRPIX1", Value: meta.CRPix1},
		)
		if meta.CUnit1 != "" {
			cards = append(cards, fitsio.Card{Name: "CUNIT1", Value: meta.CUnit1})
		}
	}
	if meta.CType2 != "" {
		cards = append(cards,
			fitsio.Card{Name: "CTYPE2", Value: meta.CType2},
			fitsio.Card{Name: "CRVAL2", Value: meta.CRVal2},
			fitsio.Card{Name: "CDELT2", Value: meta.CDelt2},
			fitsio.Card{Name: "CRPIX2", Value: meta.CRPix2},
		)
		if meta.CUnit2 != "" {
			cards = append(cards, fitsio.Card{Name: "CUNIT2", Value: meta.CUnit2})
		}
	}
	if meta.HasBeam {
		cards = append(cards,
			fitsio.Card{Name: "BMAJ", Value: meta.BMaj, Comment: "Beam major axis [deg]"},
			fitsio.Card{Name: "BMIN", Value: meta.BMin, Comment: "Beam minor axis [deg]"},
			fitsio.Card{Name: "BPA", Value: meta.BPA, Comment: "Beam position angle [deg]"},
		)
	}
	if err := img.Header().Append(cards...); err != nil {
		return fmt.Errorf("error writing header for %s: %w", path, err)
	}

	if err := img.Write(&m.Data); err != nil {
		return fmt.Errorf("error writing pixel data to %s: %w", path, err)
	}
	if err := fits.Write(img); err != nil {
		return fmt.Errorf("error writing HDU to %s: %w", path, err)
	}
	return nil
}

// ReadMap loads a 2D image written by WriteFITS, mainly for tests.
func ReadMap(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening map: %w", err)
	}
	defer f.Close()

	fits, err := fitsio.Open(f)
	if err != nil {
		return nil, fmt.Errorf("error reading FITS file %s: %w", path, err)
	}
	defer fits.Close()

	img, ok := fits.HDU(0).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("primary HDU of %s is not an image", path)
	}
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) != 2 {
		return nil, fmt.Errorf("%s is not a 2-dimensional image (axes %v)", path, axes)
	}

	data, err := readImageData(hdr, img, axes[0]*axes[1])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m := &Map{Data: data, NX: axes[0], NY: axes[1]}
	m.Unit, _ = cardString(hdr, "BUNIT")
	return m, nil
}

// cardFloat reads a numeric card, coercing the integer representations some
// writers use for exact values.
func cardFloat(hdr *fitsio.Header, name string) (float64, bool) {
	card := hdr.Get(name)
	if card == nil {
		return math.NaN(), false
	}
	switch v := card.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return math.NaN(), false
	}
}

func cardString(hdr *fitsio.Header, name string) (string, bool) {
	card := hdr.Get(name)
	if card == nil {
		return "", false
	}
	s, ok := card.Value.(string)
	return strings.TrimSpace(s), ok
}
