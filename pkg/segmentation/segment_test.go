package segmentation

import (
	"testing"

	"tractoseg/pkg/geometry"
	"tractoseg/pkg/volume"
	"tractoseg/pkg/warp"
)

const gridSize = 20

// roiAt builds a single-voxel ROI mask volume on the test grid.
func roiAt(i, j, k int) *volume.Volume {
	v := volume.New(gridSize, gridSize, gridSize, geometry.IdentityAffine())
	v.Set(i, j, k, 1)
	return v
}

// straightLine builds a streamline along x at the given y, z.
func straightLine(y, z float64) geometry.Streamline {
	s := make(geometry.Streamline, gridSize)
	for i := range s {
		s[i] = geometry.Point{float64(i), y, z}
	}
	return s
}

// endpointBundle is a bundle whose inclusion ROIs sit on the straight
// line at y=5, z=5, near its two ends.
func endpointBundle(name string) BundleSpec {
	return BundleSpec{
		Name:          name,
		InclusionROIs: []*volume.Volume{roiAt(2, 5, 5), roiAt(17, 5, 5)},
	}
}

// TestSegmentAssignsQualifyingStreamline verifies that a streamline
// close to every inclusion ROI with nonzero probability is assigned
func TestSegmentAssignsQualifyingStreamline(t *testing.T) {
	s := New([]BundleSpec{endpointBundle("arc")}, warp.Identity{}, geometry.IdentityAffine(), nil)

	tract := geometry.Tractogram{
		straightLine(5, 5),  // passes through both ROIs
		straightLine(12, 5), // far from both
	}
	groups, err := s.Segment(tract)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}

	arc := groups["arc"]
	if arc == nil {
		t.Fatal("Bundle arc missing from output")
	}
	if arc.Len() != 1 {
		t.Fatalf("Expected 1 streamline in arc, got %d", arc.Len())
	}
	if arc.Streamlines[0][0][1] != 5 {
		t.Error("Wrong streamline assigned")
	}
}

// TestSegmentFarInclusionRejects verifies that missing any single
// inclusion ROI rejects the streamline regardless of probability
func TestSegmentFarInclusionRejects(t *testing.T) {
	spec := BundleSpec{
		Name: "arc",
		// Second ROI is nowhere near the line.
		InclusionROIs: []*volume.Volume{roiAt(2, 5, 5), roiAt(17, 15, 15)},
	}
	s := New([]BundleSpec{spec}, warp.Identity{}, geometry.IdentityAffine(), nil)

	groups, err := s.Segment(geometry.Tractogram{straightLine(5, 5)})
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if groups["arc"].Len() != 0 {
		t.Errorf("Expected empty group, got %d streamlines", groups["arc"].Len())
	}
}

// TestSegmentZeroProbabilityMap verifies the strict threshold comparison:
// an all-zero probability map yields no assignments at threshold 0
func TestSegmentZeroProbabilityMap(t *testing.T) {
	spec := endpointBundle("arc")
	spec.ProbabilityMap = volume.New(gridSize, gridSize, gridSize, geometry.IdentityAffine())

	s := New([]BundleSpec{spec}, warp.Identity{}, geometry.IdentityAffine(), nil)
	groups, err := s.Segment(geometry.Tractogram{straightLine(5, 5)})
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if groups["arc"].Len() != 0 {
		t.Errorf("Expected zero assignments with all-zero probability, got %d", groups["arc"].Len())
	}
}

// TestSegmentExclusion verifies that proximity to an exclusion ROI
// rejects while a detour around it passes
func TestSegmentExclusion(t *testing.T) {
	spec := endpointBundle("arc")
	spec.ExclusionROIs = []*volume.Volume{roiAt(10, 5, 5)}
	s := New([]BundleSpec{spec}, warp.Identity{}, geometry.IdentityAffine(), nil)

	// The detour swings to y=8 around the exclusion ROI but still
	// touches both inclusion ROIs.
	detour := straightLine(5, 5)
	for i := 8; i <= 12; i++ {
		detour[i][1] = 8
	}

	groups, err := s.Segment(geometry.Tractogram{straightLine(5, 5), detour})
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	arc := groups["arc"]
	if arc.Len() != 1 {
		t.Fatalf("Expected only the detour to survive, got %d streamlines", arc.Len())
	}
	if arc.Streamlines[0][10][1] != 8 {
		t.Error("Surviving streamline is not the detour")
	}
}

// TestSegmentOrientation verifies the ROI0-end-first convention and the
// closest-approach invariant
func TestSegmentOrientation(t *testing.T) {
	s := New([]BundleSpec{endpointBundle("arc")}, warp.Identity{}, geometry.IdentityAffine(), nil)

	// One streamline runs x ascending, the other descending; after
	// segmentation both must start at their ROI0-proximal (low-x) end.
	tract := geometry.Tractogram{
		straightLine(5, 5),
		straightLine(5, 5).Reversed(),
	}
	groups, err := s.Segment(tract)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}

	arc := groups["arc"]
	if arc.Len() != 2 {
		t.Fatalf("Expected 2 streamlines, got %d", arc.Len())
	}
	roi0 := []geometry.Point{{2, 5, 5}}
	roi1 := []geometry.Point{{17, 5, 5}}
	for i, sl := range arc.Streamlines {
		if sl[0][0] != 0 {
			t.Errorf("Streamline %d does not start at the ROI0 end: first x=%f", i, sl[0][0])
		}
		_, n0 := geometry.MinSquaredDistance(sl, roi0)
		_, n1 := geometry.MinSquaredDistance(sl, roi1)
		if n0 > n1 {
			t.Errorf("Streamline %d: closest node to ROI0 (%d) after closest to ROI1 (%d)", i, n0, n1)
		}
	}
}

// TestSegmentEmptyBundle verifies that an unmatched bundle yields an
// explicit empty group, not an error
func TestSegmentEmptyBundle(t *testing.T) {
	bundles := []BundleSpec{
		endpointBundle("arc"),
		{
			Name:          "nothing",
			InclusionROIs: []*volume.Volume{roiAt(19, 19, 19)},
		},
	}
	s := New(bundles, warp.Identity{}, geometry.IdentityAffine(), nil)

	groups, err := s.Segment(geometry.Tractogram{straightLine(5, 5)})
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	empty, ok := groups["nothing"]
	if !ok {
		t.Fatal("Unmatched bundle missing from output")
	}
	if empty.Len() != 0 {
		t.Errorf("Expected empty group, got %d streamlines", empty.Len())
	}
}

// TestSegmentMidlineRule verifies rejection of streamlines whose
// crossing classification disagrees with the bundle's rule
func TestSegmentMidlineRule(t *testing.T) {
	// World x = voxel x - 10: the midline is at voxel x = 10, which the
	// straight line crosses.
	affine := geometry.IdentityAffine()
	affine[0][3] = -10

	spec := endpointBundle("arc")
	spec.CrossMidline = CrossMidline(false)
	s := New([]BundleSpec{spec}, warp.Identity{}, affine, nil)

	groups, err := s.Segment(geometry.Tractogram{straightLine(5, 5)})
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if groups["arc"].Len() != 0 {
		t.Error("Crossing streamline survived a cross_midline=false rule")
	}

	spec.CrossMidline = CrossMidline(true)
	s = New([]BundleSpec{spec}, warp.Identity{}, affine, nil)
	groups, err = s.Segment(geometry.Tractogram{straightLine(5, 5)})
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if groups["arc"].Len() != 1 {
		t.Error("Crossing streamline rejected despite cross_midline=true rule")
	}
}

// TestSegmentTieBreak verifies exclusive assignment with first-seen wins
func TestSegmentTieBreak(t *testing.T) {
	bundles := []BundleSpec{endpointBundle("first"), endpointBundle("second")}
	s := New(bundles, warp.Identity{}, geometry.IdentityAffine(), nil)

	groups, err := s.Segment(geometry.Tractogram{straightLine(5, 5)})
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if groups["first"].Len() != 1 {
		t.Errorf("Expected tie to go to the first bundle, got %d", groups["first"].Len())
	}
	if groups["second"].Len() != 0 {
		t.Errorf("Streamline assigned to both bundles: second has %d", groups["second"].Len())
	}
}

// TestSpecFromRules verifies the positional ROI/rule form
func TestSpecFromRules(t *testing.T) {
	rois := []*volume.Volume{roiAt(1, 1, 1), roiAt(2, 2, 2), roiAt(3, 3, 3)}
	spec, err := SpecFromRules("b", rois, []bool{true, false, true})
	if err != nil {
		t.Fatalf("SpecFromRules failed: %v", err)
	}
	if len(spec.InclusionROIs) != 2 || len(spec.ExclusionROIs) != 1 {
		t.Errorf("Wrong split: %d inclusion, %d exclusion", len(spec.InclusionROIs), len(spec.ExclusionROIs))
	}
	if spec.InclusionROIs[0] != rois[0] || spec.InclusionROIs[1] != rois[2] {
		t.Error("Inclusion ROI order not preserved")
	}

	if _, err := SpecFromRules("b", rois, []bool{true}); err == nil {
		t.Error("Expected error for mismatched rules length")
	}
}
