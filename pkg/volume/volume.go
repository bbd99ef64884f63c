// Package volume provides scalar volumes and binary masks on regular 3D
// grids, with the sampling and morphology operations the segmentation
// pipeline needs: trilinear and nearest-neighbor interpolation, sampling
// a volume at every node of a resampled tractogram, thresholding to
// masks, and the dilate-and-fill-holes patch-up applied to warped ROIs.
//
// Volumes are stored flat in x-fastest row-major order (index
// k*NX*NY + j*NX + i), matching the rest of the pipeline.
package volume

import (
	"math"

	"tractoseg/pkg/geometry"
)

// Volume is a scalar 3D grid with an associated affine mapping voxel
// indices to world coordinates.
type Volume struct {
	Data       []float64
	NX, NY, NZ int
	Affine     geometry.Affine
}

// New allocates a zero-filled volume.
func New(nx, ny, nz int, affine geometry.Affine) *Volume {
	return &Volume{
		Data:   make([]float64, nx*ny*nz),
		NX:     nx,
		NY:     ny,
		NZ:     nz,
		Affine: affine,
	}
}

// Ones allocates a volume filled with 1, shaped like the reference
// volume. Used as the default probability map for bundles that lack one.
func Ones(like *Volume) *Volume {
	v := New(like.NX, like.NY, like.NZ, like.Affine)
	for i := range v.Data {
		v.Data[i] = 1
	}
	return v
}

// SameShape reports whether two volumes have identical grid dimensions.
func (v *Volume) SameShape(o *Volume) bool {
	return v.NX == o.NX && v.NY == o.NY && v.NZ == o.NZ
}

func (v *Volume) index(i, j, k int) int {
	return k*v.NX*v.NY + j*v.NX + i
}

// At returns the value at voxel (i, j, k).
func (v *Volume) At(i, j, k int) float64 {
	return v.Data[v.index(i, j, k)]
}

// Set stores a value at voxel (i, j, k).
func (v *Volume) Set(i, j, k int, val float64) {
	v.Data[v.index(i, j, k)] = val
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// SampleNearest returns the value of the nearest voxel to the given
// index-space coordinate. Coordinates outside the grid are clamped to
// its boundary.
func (v *Volume) SampleNearest(p geometry.Point) float64 {
	i := int(math.Round(clamp(p[0], 0, float64(v.NX-1))))
	j := int(math.Round(clamp(p[1], 0, float64(v.NY-1))))
	k := int(math.Round(clamp(p[2], 0, float64(v.NZ-1))))
	return v.At(i, j, k)
}

// SampleTrilinear returns the trilinearly interpolated value at the
// given index-space coordinate. Coordinates outside the grid are clamped
// to its boundary.
func (v *Volume) SampleTrilinear(p geometry.Point) float64 {
	x := clamp(p[0], 0, float64(v.NX-1))
	y := clamp(p[1], 0, float64(v.NY-1))
	z := clamp(p[2], 0, float64(v.NZ-1))

	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	z0 := int(math.Floor(z))
	x1 := x0 + 1
	y1 := y0 + 1
	z1 := z0 + 1
	if x1 > v.NX-1 {
		x1 = v.NX - 1
	}
	if y1 > v.NY-1 {
		y1 = v.NY - 1
	}
	if z1 > v.NZ-1 {
		z1 = v.NZ - 1
	}

	fx := x - float64(x0)
	fy := y - float64(y0)
	fz := z - float64(z0)

	c000 := v.At(x0, y0, z0)
	c100 := v.At(x1, y0, z0)
	c010 := v.At(x0, y1, z0)
	c110 := v.At(x1, y1, z0)
	c001 := v.At(x0, y0, z1)
	c101 := v.At(x1, y0, z1)
	c011 := v.At(x0, y1, z1)
	c111 := v.At(x1, y1, z1)

	c00 := c000*(1-fx) + c100*fx
	c10 := c010*(1-fx) + c110*fx
	c01 := c001*(1-fx) + c101*fx
	c11 := c011*(1-fx) + c111*fx

	c0 := c00*(1-fy) + c10*fy
	c1 := c01*(1-fy) + c11*fy

	return c0*(1-fz) + c1*fz
}

// ValuesFromVolume samples the volume at every node of every streamline
// in the resampled array, returning a (Count x Nodes) table. The affine
// maps node coordinates into the volume's index space; it is inverted
// once, so pass geometry.IdentityAffine() when node coordinates are
// already voxel indices.
func ValuesFromVolume(v *Volume, arr *geometry.ResampledArray, affine geometry.Affine) ([][]float64, error) {
	inv, err := affine.Invert()
	if err != nil {
		return nil, err
	}
	out := make([][]float64, arr.Count)
	for i := 0; i < arr.Count; i++ {
		row := make([]float64, arr.Nodes)
		for j := 0; j < arr.Nodes; j++ {
			row[j] = v.SampleTrilinear(inv.Apply(arr.At(i, j)))
		}
		out[i] = row
	}
	return out, nil
}

// Threshold converts the volume to a binary mask of voxels strictly
// above the given value.
func (v *Volume) Threshold(t float64) *Mask {
	m := NewMask(v.NX, v.NY, v.NZ, v.Affine)
	for i, val := range v.Data {
		m.Data[i] = val > t
	}
	return m
}
