package recognition

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"tractoseg/pkg/geometry"
)

// RegistrationResult is the outcome of whole-brain streamline linear
// registration: the target tractogram moved into atlas space, the
// transform that moved it, and the cluster centroids of both sides used
// to drive the solve.
type RegistrationResult struct {
	Moved           geometry.Tractogram
	Transform       geometry.Affine
	AtlasCentroids  []geometry.Streamline
	TargetCentroids []geometry.Streamline
}

// Registrar aligns a target tractogram with an atlas tractogram. The
// default implementation is SLR; orchestration layers with their own
// registration subsystem can substitute it.
type Registrar interface {
	Register(atlas, target geometry.Tractogram) (*RegistrationResult, error)
}

// SLROptions tunes the whole-brain streamline linear registration.
type SLROptions struct {
	// ClusterThreshold is the centroid distance that bounds one cluster
	// during the whole-brain reduction. Default 20.
	ClusterThreshold float64

	// ClusterPoints is the node count centroids are resampled to.
	// Default 20.
	ClusterPoints int

	// MaxIterations bounds the match-solve-move loop. Default 50.
	MaxIterations int

	// Tolerance stops iteration when the mean correspondence error
	// improves by less than this amount. Default 1e-5.
	Tolerance float64
}

// DefaultSLROptions returns the standard registration parameters.
func DefaultSLROptions() *SLROptions {
	return &SLROptions{
		ClusterThreshold: 20,
		ClusterPoints:    20,
		MaxIterations:    50,
		Tolerance:        1e-5,
	}
}

// SLR performs whole-brain streamline linear registration. Both
// tractograms are reduced to cluster centroids; the centroid point
// clouds are then aligned progressively, center-of-mass translation
// first and then iterated nearest-point matching with a closed-form
// similarity solve, and the final transform is applied to every
// streamline of the target.
type SLR struct {
	opts *SLROptions
}

// NewSLR creates the default registrar. A nil opts uses
// DefaultSLROptions.
func NewSLR(opts *SLROptions) *SLR {
	if opts == nil {
		opts = DefaultSLROptions()
	}
	return &SLR{opts: opts}
}

// Register aligns target onto atlas.
func (s *SLR) Register(atlas, target geometry.Tractogram) (*RegistrationResult, error) {
	atlasClusters, err := ClusterStreamlines(atlas, s.opts.ClusterThreshold, s.opts.ClusterPoints)
	if err != nil {
		return nil, err
	}
	targetClusters, err := ClusterStreamlines(target, s.opts.ClusterThreshold, s.opts.ClusterPoints)
	if err != nil {
		return nil, err
	}

	atlasPoints := flattenCentroids(atlasClusters)
	targetPoints := flattenCentroids(targetClusters)

	transform := s.solve(targetPoints, atlasPoints)

	moved := make(geometry.Tractogram, len(target))
	for i, sl := range target {
		m := make(geometry.Streamline, len(sl))
		for j, p := range sl {
			m[j] = transform.Apply(p)
		}
		moved[i] = m
	}

	movedCentroids := make([]geometry.Streamline, len(targetClusters))
	for i, c := range targetClusters {
		mc := make(geometry.Streamline, len(c.Centroid))
		for j, p := range c.Centroid {
			mc[j] = transform.Apply(p)
		}
		movedCentroids[i] = mc
	}

	return &RegistrationResult{
		Moved:           moved,
		Transform:       transform,
		AtlasCentroids:  Centroids(atlasClusters),
		TargetCentroids: movedCentroids,
	}, nil
}

func flattenCentroids(clusters []*Cluster) []geometry.Point {
	var out []geometry.Point
	for _, c := range clusters {
		out = append(out, c.Centroid...)
	}
	return out
}

// solve aligns the source point cloud onto the destination cloud.
func (s *SLR) solve(src, dst []geometry.Point) geometry.Affine {
	return alignPoints(src, dst, s.opts.MaxIterations, s.opts.Tolerance)
}

// alignPoints aligns a source point cloud onto a destination cloud and
// returns the resulting affine. Progression: center-of-mass shift, then
// iterated nearest-neighbor matching with a similarity (rotation +
// uniform scale + translation) solve per iteration.
func alignPoints(src, dst []geometry.Point, maxIterations int, tolerance float64) geometry.Affine {
	if len(src) == 0 || len(dst) == 0 {
		return geometry.IdentityAffine()
	}
	transform := translationAffine(centroidDelta(src, dst))
	current := applyAll(transform, src)

	prevErr := math.Inf(1)
	for iter := 0; iter < maxIterations; iter++ {
		matched := make([]geometry.Point, len(current))
		errSum := 0.0
		for i, p := range current {
			best := math.Inf(1)
			for _, q := range dst {
				if d := geometry.SquaredDistance(p, q); d < best {
					best = d
					matched[i] = q
				}
			}
			errSum += math.Sqrt(best)
		}
		meanErr := errSum / float64(len(current))
		if prevErr-meanErr < tolerance {
			break
		}
		prevErr = meanErr

		step := similarityTransform(current, matched)
		transform = step.Mul(transform)
		current = applyAll(step, current)
	}
	return transform
}

func centroidDelta(src, dst []geometry.Point) geometry.Point {
	var cs, cd geometry.Point
	for _, p := range src {
		for d := 0; d < 3; d++ {
			cs[d] += p[d]
		}
	}
	for _, p := range dst {
		for d := 0; d < 3; d++ {
			cd[d] += p[d]
		}
	}
	var out geometry.Point
	for d := 0; d < 3; d++ {
		out[d] = cd[d]/float64(len(dst)) - cs[d]/float64(len(src))
	}
	return out
}

func translationAffine(t geometry.Point) geometry.Affine {
	a := geometry.IdentityAffine()
	a[0][3] = t[0]
	a[1][3] = t[1]
	a[2][3] = t[2]
	return a
}

func applyAll(a geometry.Affine, pts []geometry.Point) []geometry.Point {
	out := make([]geometry.Point, len(pts))
	for i, p := range pts {
		out[i] = a.Apply(p)
	}
	return out
}

// similarityTransform computes the least-squares rotation, uniform scale
// and translation mapping paired source points onto destination points
// (Kabsch with the Umeyama scale term, solved by SVD).
func similarityTransform(src, dst []geometry.Point) geometry.Affine {
	n := float64(len(src))
	var cs, cd geometry.Point
	for i := range src {
		for d := 0; d < 3; d++ {
			cs[d] += src[i][d]
			cd[d] += dst[i][d]
		}
	}
	for d := 0; d < 3; d++ {
		cs[d] /= n
		cd[d] /= n
	}

	// Cross-covariance of the centered clouds, and the source variance
	// for the scale term.
	h := mat.NewDense(3, 3, nil)
	srcVar := 0.0
	for i := range src {
		var ds, dd [3]float64
		for d := 0; d < 3; d++ {
			ds[d] = src[i][d] - cs[d]
			dd[d] = dst[i][d] - cd[d]
			srcVar += ds[d] * ds[d]
		}
		for a := 0; a < 3; a++ {
			for b := 0; b < 3; b++ {
				h.Set(a, b, h.At(a, b)+ds[a]*dd[b])
			}
		}
	}
	srcVar /= n

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return geometry.IdentityAffine()
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V * U^T, with a reflection guard on the determinant.
	var r mat.Dense
	r.Mul(&v, u.T())
	reflected := false
	if mat.Det(&r) < 0 {
		// Flip the sign of V's last column.
		reflected = true
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		r.Mul(&v, u.T())
	}

	// Umeyama scale: trace of the sign-corrected singular values over
	// the source variance.
	sigma := svd.Values(nil)
	trace := sigma[0] + sigma[1]
	if reflected {
		trace -= sigma[2]
	} else {
		trace += sigma[2]
	}
	scale := 1.0
	if srcVar > 0 {
		scale = trace / (n * srcVar)
	}

	out := geometry.IdentityAffine()
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			out[a][b] = scale * r.At(a, b)
		}
	}
	for a := 0; a < 3; a++ {
		out[a][3] = cd[a]
		for b := 0; b < 3; b++ {
			out[a][3] -= out[a][b] * cs[b]
		}
	}
	return out
}
