// Package segmentation assigns whole-brain tractography streamlines to
// named anatomical fiber bundles. Each candidate bundle is defined by
// ordered inclusion and exclusion ROIs, an optional probability map, and
// an optional hemisphere-crossing rule; streamlines are gated by
// probability, midline behavior, and ROI proximity, assigned exclusively
// to their best-scoring bundle, and oriented consistently within each
// resulting fiber group.
package segmentation

import (
	"fmt"

	"tractoseg/pkg/geometry"
	"tractoseg/pkg/volume"
)

// BundleSpec describes one candidate bundle.
//
// The order of InclusionROIs is significant: the first two define the
// reference endpoints used to orient streamlines within the recognized
// group (ROI0-proximal end first).
type BundleSpec struct {
	Name string

	// InclusionROIs are template-space masks the streamline must pass
	// near, all of them. An empty list is vacuously satisfied.
	InclusionROIs []*volume.Volume

	// ExclusionROIs are template-space masks the streamline must stay
	// away from. An empty list is vacuously satisfied.
	ExclusionROIs []*volume.Volume

	// ProbabilityMap is an optional template-space scalar volume. A nil
	// map is treated as all-ones shaped like the first inclusion ROI.
	ProbabilityMap *volume.Volume

	// CrossMidline constrains hemisphere crossing: nil leaves it
	// unconstrained, otherwise streamlines whose midline classification
	// disagrees with the value are rejected.
	CrossMidline *bool
}

// SpecFromRules builds a BundleSpec from the positional ROI/rule form
// used by bundle definition files: rules[i] true marks rois[i] as an
// inclusion ROI, false as an exclusion ROI.
func SpecFromRules(name string, rois []*volume.Volume, rules []bool) (BundleSpec, error) {
	if len(rois) != len(rules) {
		return BundleSpec{}, fmt.Errorf("bundle %q: %d ROIs but %d rules", name, len(rois), len(rules))
	}
	spec := BundleSpec{Name: name}
	for i, rule := range rules {
		if rule {
			spec.InclusionROIs = append(spec.InclusionROIs, rois[i])
		} else {
			spec.ExclusionROIs = append(spec.ExclusionROIs, rois[i])
		}
	}
	return spec, nil
}

// CrossMidline is a convenience for filling BundleSpec.CrossMidline.
func CrossMidline(v bool) *bool {
	return &v
}

// FiberGroup is a named, consistently oriented collection of streamlines
// recognized as one bundle. A bundle that attracted no streamlines is
// represented by an empty group, not an error.
type FiberGroup struct {
	Name        string
	Streamlines geometry.Tractogram
}

// Len returns the number of streamlines in the group.
func (g *FiberGroup) Len() int {
	return len(g.Streamlines)
}
