package warp

import (
	"testing"

	"tractoseg/pkg/geometry"
	"tractoseg/pkg/volume"
)

// TestIdentityPassthrough verifies the identity mapping returns its input
func TestIdentityPassthrough(t *testing.T) {
	v := volume.New(3, 3, 3, geometry.IdentityAffine())
	v.Set(1, 1, 1, 5)

	out, err := Identity{}.InverseTransform(v, Linear)
	if err != nil {
		t.Fatalf("InverseTransform failed: %v", err)
	}
	if out != v {
		t.Error("Identity mapping should pass the volume through unchanged")
	}
}

// TestAffineMappingTranslation verifies warping through a pure translation
func TestAffineMappingTranslation(t *testing.T) {
	// Template volume with a single bright voxel at (3,3,3).
	templ := volume.New(8, 8, 8, geometry.IdentityAffine())
	templ.Set(3, 3, 3, 1)

	// Subject voxel (i,j,k) corresponds to template voxel (i+2,j,k).
	shift := geometry.IdentityAffine()
	shift[0][3] = 2
	m := &AffineMapping{
		TemplateFromSubject: shift,
		NX:                  8, NY: 8, NZ: 8,
		SubjectAffine: geometry.IdentityAffine(),
	}

	out, err := m.InverseTransform(templ, Nearest)
	if err != nil {
		t.Fatalf("InverseTransform failed: %v", err)
	}
	if got := out.At(1, 3, 3); got != 1 {
		t.Errorf("Expected bright voxel at (1,3,3), got %f", got)
	}
	if got := out.At(3, 3, 3); got != 0 {
		t.Errorf("Expected 0 at (3,3,3), got %f", got)
	}
}

// TestAffineMappingInterpolationModes verifies linear mixes values and
// nearest does not
func TestAffineMappingInterpolationModes(t *testing.T) {
	templ := volume.New(4, 4, 4, geometry.IdentityAffine())
	templ.Set(0, 0, 0, 2)
	templ.Set(1, 0, 0, 4)

	// Subject voxels land halfway between template x voxels.
	half := geometry.IdentityAffine()
	half[0][3] = 0.5
	m := &AffineMapping{
		TemplateFromSubject: half,
		NX:                  4, NY: 4, NZ: 4,
		SubjectAffine: geometry.IdentityAffine(),
	}

	lin, err := m.InverseTransform(templ, Linear)
	if err != nil {
		t.Fatalf("Linear transform failed: %v", err)
	}
	if got := lin.At(0, 0, 0); got != 3 {
		t.Errorf("Expected linear blend 3, got %f", got)
	}

	nn, err := m.InverseTransform(templ, Nearest)
	if err != nil {
		t.Fatalf("Nearest transform failed: %v", err)
	}
	if got := nn.At(0, 0, 0); got != 2 && got != 4 {
		t.Errorf("Expected an unmixed value, got %f", got)
	}
}

// TestWarpMask verifies thresholding, patch-up and coordinate extraction
func TestWarpMask(t *testing.T) {
	roi := volume.New(6, 6, 6, geometry.IdentityAffine())
	roi.Set(3, 3, 3, 1)

	coords, err := WarpMask(roi, Identity{})
	if err != nil {
		t.Fatalf("WarpMask failed: %v", err)
	}
	// One voxel dilated by one in six directions.
	if len(coords) != 7 {
		t.Errorf("Expected 7 coordinates after patch-up, got %d", len(coords))
	}
	found := false
	for _, c := range coords {
		if c == (geometry.Point{3, 3, 3}) {
			found = true
		}
	}
	if !found {
		t.Error("Original ROI voxel missing from coordinate set")
	}
}

// TestWarpProbabilityMap verifies values pass through without thresholding
func TestWarpProbabilityMap(t *testing.T) {
	pm := volume.New(4, 4, 4, geometry.IdentityAffine())
	pm.Set(2, 2, 2, 0.35)

	out, err := WarpProbabilityMap(pm, Identity{})
	if err != nil {
		t.Fatalf("WarpProbabilityMap failed: %v", err)
	}
	if got := out.At(2, 2, 2); got != 0.35 {
		t.Errorf("Expected 0.35, got %f", got)
	}
}

// TestInterpolationString verifies the mode names
func TestInterpolationString(t *testing.T) {
	if Linear.String() != "linear" || Nearest.String() != "nearest" {
		t.Errorf("Unexpected names: %s, %s", Linear, Nearest)
	}
}
