package volume

import (
	"tractoseg/pkg/geometry"
)

// Mask is a boolean 3D grid sharing the flat layout and affine
// conventions of Volume.
type Mask struct {
	Data       []bool
	NX, NY, NZ int
	Affine     geometry.Affine
}

// NewMask allocates an all-false mask.
func NewMask(nx, ny, nz int, affine geometry.Affine) *Mask {
	return &Mask{
		Data:   make([]bool, nx*ny*nz),
		NX:     nx,
		NY:     ny,
		NZ:     nz,
		Affine: affine,
	}
}

func (m *Mask) index(i, j, k int) int {
	return k*m.NX*m.NY + j*m.NX + i
}

// At returns the mask value at voxel (i, j, k).
func (m *Mask) At(i, j, k int) bool {
	return m.Data[m.index(i, j, k)]
}

// Set stores a mask value at voxel (i, j, k).
func (m *Mask) Set(i, j, k int, val bool) {
	m.Data[m.index(i, j, k)] = val
}

// Coordinates returns the voxel indices of all true voxels, as points in
// index space, in scan order. This is the ROICoordinateSet consumed by
// the distance queries.
func (m *Mask) Coordinates() []geometry.Point {
	var out []geometry.Point
	for k := 0; k < m.NZ; k++ {
		for j := 0; j < m.NY; j++ {
			for i := 0; i < m.NX; i++ {
				if m.At(i, j, k) {
					out = append(out, geometry.Point{float64(i), float64(j), float64(k)})
				}
			}
		}
	}
	return out
}

// Count returns the number of true voxels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

var neighbors6 = [6][3]int{
	{1, 0, 0}, {-1, 0, 0},
	{0, 1, 0}, {0, -1, 0},
	{0, 0, 1}, {0, 0, -1},
}

// Dilate returns the mask grown by one voxel in each of the six face
// directions.
func (m *Mask) Dilate() *Mask {
	out := NewMask(m.NX, m.NY, m.NZ, m.Affine)
	for k := 0; k < m.NZ; k++ {
		for j := 0; j < m.NY; j++ {
			for i := 0; i < m.NX; i++ {
				if !m.At(i, j, k) {
					continue
				}
				out.Set(i, j, k, true)
				for _, d := range neighbors6 {
					ni, nj, nk := i+d[0], j+d[1], k+d[2]
					if ni >= 0 && ni < m.NX && nj >= 0 && nj < m.NY && nk >= 0 && nk < m.NZ {
						out.Set(ni, nj, nk, true)
					}
				}
			}
		}
	}
	return out
}

// FillHoles returns the mask with all interior background cavities
// filled. Background voxels are flood-filled from the grid border; any
// background voxel unreachable from the border is a hole and becomes
// foreground.
func (m *Mask) FillHoles() *Mask {
	reachable := make([]bool, len(m.Data))
	var queue [][3]int

	seed := func(i, j, k int) {
		idx := m.index(i, j, k)
		if !m.Data[idx] && !reachable[idx] {
			reachable[idx] = true
			queue = append(queue, [3]int{i, j, k})
		}
	}

	// Seed from every voxel on the six faces of the grid.
	for k := 0; k < m.NZ; k++ {
		for j := 0; j < m.NY; j++ {
			seed(0, j, k)
			seed(m.NX-1, j, k)
		}
	}
	for k := 0; k < m.NZ; k++ {
		for i := 0; i < m.NX; i++ {
			seed(i, 0, k)
			seed(i, m.NY-1, k)
		}
	}
	for j := 0; j < m.NY; j++ {
		for i := 0; i < m.NX; i++ {
			seed(i, j, 0)
			seed(i, j, m.NZ-1)
		}
	}

	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, d := range neighbors6 {
			ni, nj, nk := c[0]+d[0], c[1]+d[1], c[2]+d[2]
			if ni >= 0 && ni < m.NX && nj >= 0 && nj < m.NY && nk >= 0 && nk < m.NZ {
				seed(ni, nj, nk)
			}
		}
	}

	out := NewMask(m.NX, m.NY, m.NZ, m.Affine)
	for idx := range m.Data {
		out.Data[idx] = m.Data[idx] || !reachable[idx]
	}
	return out
}

// PatchUp post-processes a warped ROI mask: one round of dilation to
// bridge voxels thinned by interpolation, then hole filling. Warping a
// binary mask through a nonlinear transform can leave pinholes that
// would otherwise punch gaps into the ROI's coordinate set.
func (m *Mask) PatchUp() *Mask {
	return m.Dilate().FillHoles()
}
