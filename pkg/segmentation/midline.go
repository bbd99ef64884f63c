package segmentation

import (
	"fmt"

	"tractoseg/pkg/geometry"
)

// CrossesMidline reports whether the streamline has points strictly on
// both sides of the hemispheric midline. The midline is the left-right
// coordinate of the world origin expressed in the voxel space of the
// given affine.
//
// This classifies only; it never splits a crossing streamline at the
// midline.
func CrossesMidline(s geometry.Streamline, affine geometry.Affine) (bool, error) {
	inv, err := affine.Invert()
	if err != nil {
		return false, fmt.Errorf("inverting affine for midline test: %w", err)
	}
	mid := inv.Apply(geometry.Point{0, 0, 0})[0]

	var left, right bool
	for _, p := range s {
		if p[0] > mid {
			right = true
		}
		if p[0] < mid {
			left = true
		}
		if left && right {
			return true, nil
		}
	}
	return false, nil
}
