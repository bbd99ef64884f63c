// Package geometry provides the streamline data model and the geometric
// primitives used throughout the segmentation pipeline: arc-length
// resampling of curves to a fixed node count, affine transforms between
// world and voxel coordinates, and the squared-distance queries that back
// ROI proximity tests.
package geometry

import (
	"fmt"
	"math"
)

// Point is a single 3D coordinate.
type Point [3]float64

// Streamline is an ordered sequence of 3D points tracing one fiber path.
// A valid streamline has at least 2 points. Streamlines are treated as
// immutable once produced by tractography; orientation normalization
// produces a reversed copy rather than flipping in place.
type Streamline []Point

// Tractogram is an ordered collection of streamlines. The order carries no
// anatomical meaning, but index identity must be preserved through
// filtering steps so that results can be mapped back to the input.
type Tractogram []Streamline

// ShapeError reports an input whose dimensions are unusable, such as a
// streamline with fewer than two points or mismatched volume shapes.
// Shape errors are fatal and never retried.
type ShapeError struct {
	Msg string
}

func (e *ShapeError) Error() string {
	return "shape error: " + e.Msg
}

// Shapef builds a ShapeError with a formatted message.
func Shapef(format string, args ...interface{}) *ShapeError {
	return &ShapeError{Msg: fmt.Sprintf(format, args...)}
}

// Reversed returns a copy of the streamline with its point order flipped.
func (s Streamline) Reversed() Streamline {
	out := make(Streamline, len(s))
	for i := range s {
		out[i] = s[len(s)-1-i]
	}
	return out
}

// Length returns the total arc length of the streamline.
func (s Streamline) Length() float64 {
	total := 0.0
	for i := 1; i < len(s); i++ {
		total += math.Sqrt(sqDist(s[i-1], s[i]))
	}
	return total
}

// sqDist returns the squared Euclidean distance between two points.
func sqDist(a, b Point) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	dz := a[2] - b[2]
	return dx*dx + dy*dy + dz*dz
}

// SquaredDistance returns the squared Euclidean distance between two points.
func SquaredDistance(a, b Point) float64 {
	return sqDist(a, b)
}

// ResampledArray is a fixed-shape table of resampled streamlines with
// Count rows of Nodes points each, stored flat in row-major order as the
// rest of the pipeline stores volumes. It is a derived, disposable view
// of a tractogram, never the system of record.
type ResampledArray struct {
	Data  []float64
	Count int
	Nodes int
}

// NewResampledArray allocates a zeroed array for count streamlines of
// nodes points each.
func NewResampledArray(count, nodes int) *ResampledArray {
	return &ResampledArray{
		Data:  make([]float64, count*nodes*3),
		Count: count,
		Nodes: nodes,
	}
}

// At returns the j-th node of the i-th streamline.
func (a *ResampledArray) At(i, j int) Point {
	base := (i*a.Nodes + j) * 3
	return Point{a.Data[base], a.Data[base+1], a.Data[base+2]}
}

// SetAt stores the j-th node of the i-th streamline.
func (a *ResampledArray) SetAt(i, j int, p Point) {
	base := (i*a.Nodes + j) * 3
	a.Data[base] = p[0]
	a.Data[base+1] = p[1]
	a.Data[base+2] = p[2]
}

// Row returns the i-th streamline as a Streamline copy.
func (a *ResampledArray) Row(i int) Streamline {
	out := make(Streamline, a.Nodes)
	for j := 0; j < a.Nodes; j++ {
		out[j] = a.At(i, j)
	}
	return out
}

// Select returns a new array containing only the given rows, in order.
func (a *ResampledArray) Select(rows []int) *ResampledArray {
	out := NewResampledArray(len(rows), a.Nodes)
	for i, r := range rows {
		copy(out.Data[i*a.Nodes*3:(i+1)*a.Nodes*3], a.Data[r*a.Nodes*3:(r+1)*a.Nodes*3])
	}
	return out
}

// ResampleStreamline resamples a single streamline to exactly n points,
// spaced uniformly along its arc length. The first and last points of the
// input are preserved exactly.
func ResampleStreamline(s Streamline, n int) (Streamline, error) {
	if len(s) < 2 {
		return nil, Shapef("streamline has %d points, need at least 2 to resample", len(s))
	}
	if n < 2 {
		return nil, Shapef("cannot resample to %d points, need at least 2", n)
	}

	// Cumulative arc length at each input point.
	cum := make([]float64, len(s))
	for i := 1; i < len(s); i++ {
		cum[i] = cum[i-1] + math.Sqrt(sqDist(s[i-1], s[i]))
	}
	total := cum[len(s)-1]

	out := make(Streamline, n)
	out[0] = s[0]
	out[n-1] = s[len(s)-1]

	if total == 0 {
		// Degenerate curve: all points coincide.
		for i := 1; i < n-1; i++ {
			out[i] = s[0]
		}
		return out, nil
	}

	seg := 0
	for i := 1; i < n-1; i++ {
		target := total * float64(i) / float64(n-1)
		for seg < len(s)-2 && cum[seg+1] < target {
			seg++
		}
		segLen := cum[seg+1] - cum[seg]
		t := 0.0
		if segLen > 0 {
			t = (target - cum[seg]) / segLen
		}
		out[i] = Point{
			s[seg][0] + t*(s[seg+1][0]-s[seg][0]),
			s[seg][1] + t*(s[seg+1][1]-s[seg][1]),
			s[seg][2] + t*(s[seg+1][2]-s[seg][2]),
		}
	}
	return out, nil
}

// Resample resamples every streamline in the tractogram to exactly n
// points and packs the result into a fixed-shape array. It fails with a
// ShapeError if any streamline has fewer than 2 points.
func Resample(t Tractogram, n int) (*ResampledArray, error) {
	arr := NewResampledArray(len(t), n)
	for i, s := range t {
		rs, err := ResampleStreamline(s, n)
		if err != nil {
			return nil, fmt.Errorf("streamline %d: %w", i, err)
		}
		for j, p := range rs {
			arr.SetAt(i, j, p)
		}
	}
	return arr, nil
}

// MinSquaredDistance returns the smallest squared Euclidean distance
// between any point of the streamline and any coordinate of the set,
// along with the index of the streamline node attaining it. The scan is
// scoped to one streamline at a time so peak memory stays bounded on
// whole-brain tractograms.
func MinSquaredDistance(s Streamline, coords []Point) (float64, int) {
	best := math.Inf(1)
	bestNode := 0
	for i, p := range s {
		for _, c := range coords {
			if d := sqDist(p, c); d < best {
				best = d
				bestNode = i
			}
		}
	}
	return best, bestNode
}
