// Package recognition segments a tractogram without ROI logic: the
// target is moved into atlas space by whole-brain streamline linear
// registration, and each named model bundle recruits target streamlines
// by cluster-centroid proximity. The output is the same bundle-name →
// streamlines mapping the ROI-based classifier produces, so callers can
// select either strategy interchangeably.
package recognition

import (
	"math"

	"tractoseg/pkg/geometry"
)

// directDistance is the mean pointwise distance between two streamlines
// of equal node count.
func directDistance(a, b geometry.Streamline) float64 {
	sum := 0.0
	for i := range a {
		sum += math.Sqrt(geometry.SquaredDistance(a[i], b[i]))
	}
	return sum / float64(len(a))
}

// MDF is the minimum average direct-flip distance between two
// streamlines resampled to the same node count: the smaller of the
// direct mean pointwise distance and the one obtained after flipping b.
func MDF(a, b geometry.Streamline) float64 {
	d, _ := mdfOriented(a, b)
	return d
}

// mdfOriented returns the MDF and whether the flipped orientation of b
// was the closer one.
func mdfOriented(a, b geometry.Streamline) (float64, bool) {
	direct := directDistance(a, b)
	flipped := 0.0
	n := len(a)
	for i := range a {
		flipped += math.Sqrt(geometry.SquaredDistance(a[i], b[n-1-i]))
	}
	flipped /= float64(n)
	if flipped < direct {
		return flipped, true
	}
	return direct, false
}

// MAM is the mean average minimum distance between two streamlines: for
// each point of one curve, the distance to the closest point of the
// other, averaged over both directions. Unlike MDF it needs no matching
// node counts and no orientation convention.
func MAM(a, b geometry.Streamline) float64 {
	return (avgMinDistance(a, b) + avgMinDistance(b, a)) / 2
}

func avgMinDistance(from, to geometry.Streamline) float64 {
	sum := 0.0
	for _, p := range from {
		best := math.Inf(1)
		for _, q := range to {
			if d := geometry.SquaredDistance(p, q); d < best {
				best = d
			}
		}
		sum += math.Sqrt(best)
	}
	return sum / float64(len(from))
}

// OrientBy returns the streamline oriented to match the direction of the
// reference: if the flipped orientation is closer to the reference under
// the direct distance (after resampling both to the reference's node
// count), the reversed copy is returned.
func OrientBy(s, reference geometry.Streamline) (geometry.Streamline, error) {
	n := len(reference)
	rs, err := geometry.ResampleStreamline(s, n)
	if err != nil {
		return nil, err
	}
	if _, flip := mdfOriented(reference, rs); flip {
		return s.Reversed(), nil
	}
	return s, nil
}
