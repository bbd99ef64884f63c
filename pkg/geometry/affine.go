package geometry

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Affine is a 4x4 homogeneous transform mapping voxel indices to world
// coordinates, stored row-major.
type Affine [4][4]float64

// IdentityAffine returns the identity transform.
func IdentityAffine() Affine {
	var a Affine
	for i := 0; i < 4; i++ {
		a[i][i] = 1
	}
	return a
}

// ScalingAffine returns an affine with the given voxel sizes on the
// diagonal and no rotation or translation.
func ScalingAffine(sx, sy, sz float64) Affine {
	a := IdentityAffine()
	a[0][0] = sx
	a[1][1] = sy
	a[2][2] = sz
	return a
}

// Apply transforms a point through the affine.
func (a Affine) Apply(p Point) Point {
	var out Point
	for i := 0; i < 3; i++ {
		out[i] = a[i][0]*p[0] + a[i][1]*p[1] + a[i][2]*p[2] + a[i][3]
	}
	return out
}

// Mul returns the composition a∘b, applying b first.
func (a Affine) Mul(b Affine) Affine {
	var out Affine
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			sum := 0.0
			for k := 0; k < 4; k++ {
				sum += a[i][k] * b[k][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

// Invert returns the inverse transform. It fails if the affine is
// singular.
func (a Affine) Invert() (Affine, error) {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			m.Set(i, j, a[i][j])
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return Affine{}, err
	}
	var out Affine
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i][j] = inv.At(i, j)
		}
	}
	return out, nil
}

// VoxelSizes returns the edge lengths of one voxel under the affine,
// computed as the column norms of its 3x3 linear part.
func (a Affine) VoxelSizes() [3]float64 {
	var out [3]float64
	for j := 0; j < 3; j++ {
		out[j] = math.Sqrt(a[0][j]*a[0][j] + a[1][j]*a[1][j] + a[2][j]*a[2][j])
	}
	return out
}

// VoxelCornerTolerance returns the squared distance from the center of a
// voxel to its corner under the given affine. This is the single
// proximity threshold used for every ROI containment test within one
// segmentation run: a streamline point "touches" an ROI voxel when their
// squared distance is below this value.
func VoxelCornerTolerance(affine Affine) float64 {
	sizes := affine.VoxelSizes()
	tol := 0.0
	for _, s := range sizes {
		h := s / 2
		tol += h * h
	}
	return tol
}
