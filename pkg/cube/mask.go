package cube

// Mask is a boolean cube with the same layout as Cube.Data. Masks start
// fully false and are built up by the pipeline's mask constructors, then
// intersected before the moment reduction.
type Mask struct {
	Bits  []bool
	NX    int
	NY    int
	NChan int
}

// NewMask allocates an all-false mask matching the cube's shape.
func NewMask(c *Cube) *Mask {
	return &Mask{
		Bits:  make([]bool, len(c.Data)),
		NX:    c.NX,
		NY:    c.NY,
		NChan: c.NChan,
	}
}

// At reports whether the voxel at channel ch, row y, column x is included.
func (m *Mask) At(ch, y, x int) bool {
	return m.Bits[(ch*m.NY+y)*m.NX+x]
}

// Set marks a voxel as included or excluded.
func (m *Mask) Set(ch, y, x int, b bool) {
	m.Bits[(ch*m.NY+y)*m.NX+x] = b
}

// And intersects the mask with another of the same shape, in place.
func (m *Mask) And(o *Mask) {
	for i := range m.Bits {
		m.Bits[i] = m.Bits[i] && o.Bits[i]
	}
}

// AndSpatial intersects the mask with a 2D boolean map, applied to every
// channel. keep[y*NX+x] false clears the whole line of sight.
func (m *Mask) AndSpatial(keep []bool) {
	plane := m.NX * m.NY
	for ch := 0; ch < m.NChan; ch++ {
		off := ch * plane
		for i := 0; i < plane; i++ {
			m.Bits[off+i] = m.Bits[off+i] && keep[i]
		}
	}
}

// Count returns the number of included voxels.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}
