// Package cleaning removes spatially anomalous streamlines from a
// segmented fiber group. At every node position the bundle's streamline
// coordinates form a 3D point cloud; each streamline's Mahalanobis
// distance from the cloud's central statistic flags outliers, which are
// discarded over a bounded number of rounds. The same machinery produces
// per-node inverse-distance weights for summary statistics.
package cleaning

import (
	"fmt"
	"io"
	"log"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"tractoseg/pkg/geometry"
)

// Statistic selects the central statistic of each node's point cloud.
type Statistic int

const (
	Mean Statistic = iota
	Median
)

func (s Statistic) String() string {
	switch s {
	case Mean:
		return "mean"
	case Median:
		return "median"
	}
	return fmt.Sprintf("Statistic(%d)", int(s))
}

// SingularCovarianceError reports that a node's 3x3 spatial covariance
// could not be inverted, so no Mahalanobis distance exists there.
// Callers can detect it with errors.As and choose to skip cleaning for
// the affected bundle instead of aborting the whole run.
type SingularCovarianceError struct {
	Node int
	Err  error
}

func (e *SingularCovarianceError) Error() string {
	return fmt.Sprintf("singular covariance at node %d: %v", e.Node, e.Err)
}

func (e *SingularCovarianceError) Unwrap() error {
	return e.Err
}

// WeightOptions configures GaussianWeights.
type WeightOptions struct {
	// Stat is the central statistic per node. Default Mean.
	Stat Statistic

	// ReturnMahalanobis returns the raw per-(streamline, node)
	// distances instead of normalized inverse-distance weights.
	ReturnMahalanobis bool

	// LegacyTriangularCovariance reproduces the covariance construction
	// of older AFQ pipelines, which zeroes the lower triangle of the 3x3
	// matrix before inversion. The resulting matrix
	// is not symmetric and the distances it yields differ from proper
	// Mahalanobis distances; enable only when bit-compatibility with
	// legacy numeric output matters.
	LegacyTriangularCovariance bool
}

// GaussianWeights computes, for each streamline and node of a resampled
// bundle, the Mahalanobis distance of that streamline's node coordinate
// from the bundle's central statistic at that node. In weight mode the
// distances are inverted and normalized so that every node's weights sum
// to 1 across streamlines.
//
// A bundle of exactly one streamline has no meaningful distance: the
// result is a single NaN in Mahalanobis mode or a single 1 in weight
// mode.
func GaussianWeights(bundle *geometry.ResampledArray, opts WeightOptions) ([][]float64, error) {
	if bundle.Count == 0 {
		return nil, geometry.Shapef("empty bundle")
	}
	if bundle.Count == 1 {
		if opts.ReturnMahalanobis {
			return [][]float64{{math.NaN()}}, nil
		}
		return [][]float64{{1}}, nil
	}

	w := make([][]float64, bundle.Count)
	for i := range w {
		w[i] = make([]float64, bundle.Nodes)
	}

	coords := make([]geometry.Point, bundle.Count)
	for node := 0; node < bundle.Nodes; node++ {
		for i := 0; i < bundle.Count; i++ {
			coords[i] = bundle.At(i, node)
		}
		center := centralStatistic(coords, opts.Stat)
		inv, err := invertedCovariance(coords, node, opts.LegacyTriangularCovariance)
		if err != nil {
			return nil, err
		}
		for i, p := range coords {
			w[i][node] = mahalanobis(p, center, inv)
		}
	}

	if opts.ReturnMahalanobis {
		return w, nil
	}

	// Invert: the further a streamline strays, the less it weighs.
	for i := range w {
		for j := range w[i] {
			w[i][j] = 1 / w[i][j]
		}
	}
	// Normalize so each node's weights sum to 1 across streamlines.
	for j := 0; j < bundle.Nodes; j++ {
		sum := 0.0
		for i := range w {
			sum += w[i][j]
		}
		for i := range w {
			w[i][j] /= sum
		}
	}
	return w, nil
}

// centralStatistic returns the per-axis mean or median of a point cloud.
func centralStatistic(coords []geometry.Point, s Statistic) geometry.Point {
	var out geometry.Point
	axis := make([]float64, len(coords))
	for d := 0; d < 3; d++ {
		for i, p := range coords {
			axis[i] = p[d]
		}
		switch s {
		case Median:
			sort.Float64s(axis)
			out[d] = stat.Quantile(0.5, stat.Empirical, axis, nil)
		default:
			out[d] = stat.Mean(axis, nil)
		}
	}
	return out
}

// invertedCovariance builds the 3x3 spatial covariance of the node's
// point cloud (population covariance, not sample) and inverts it.
func invertedCovariance(coords []geometry.Point, node int, legacyTriangular bool) (*mat.Dense, error) {
	n := float64(len(coords))
	var mean geometry.Point
	for _, p := range coords {
		for d := 0; d < 3; d++ {
			mean[d] += p[d]
		}
	}
	for d := 0; d < 3; d++ {
		mean[d] /= n
	}

	var c [3][3]float64
	for _, p := range coords {
		for a := 0; a < 3; a++ {
			for b := 0; b < 3; b++ {
				c[a][b] += (p[a] - mean[a]) * (p[b] - mean[b])
			}
		}
	}
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			c[a][b] /= n
		}
	}

	if legacyTriangular {
		c[1][0] = 0
		c[2][0] = 0
		c[2][1] = 0
	}

	m := mat.NewDense(3, 3, []float64{
		c[0][0], c[0][1], c[0][2],
		c[1][0], c[1][1], c[1][2],
		c[2][0], c[2][1], c[2][2],
	})
	inv := mat.NewDense(3, 3, nil)
	if err := inv.Inverse(m); err != nil {
		return nil, &SingularCovarianceError{Node: node, Err: err}
	}
	return inv, nil
}

// mahalanobis computes sqrt((p-m)' * inv * (p-m)). With a legacy
// triangular matrix the quadratic form can go negative, in which case
// the result is NaN.
func mahalanobis(p, m geometry.Point, inv *mat.Dense) float64 {
	var d [3]float64
	for i := 0; i < 3; i++ {
		d[i] = p[i] - m[i]
	}
	q := 0.0
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			q += d[i] * inv.At(i, j) * d[j]
		}
	}
	return math.Sqrt(q)
}

// Options configures Clean.
type Options struct {
	// NPoints is the node count streamlines are resampled to before
	// computing statistics. Default 100.
	NPoints int

	// CleanRounds bounds the number of removal rounds. Default 5.
	CleanRounds int

	// CleanThreshold is the Mahalanobis distance, in standard
	// deviations, above which a streamline is an outlier. Default 3.
	CleanThreshold float64

	// MinStreamlines is the bundle size below which cleaning is not
	// attempted, and which cleaning will not shrink a bundle to or
	// below. Default 20.
	MinStreamlines int

	// Stat is the central statistic used in every round. Default Mean.
	Stat Statistic

	// LegacyTriangularCovariance is passed through to the weight
	// computation.
	LegacyTriangularCovariance bool

	// Logger receives per-round progress. Nil discards it.
	Logger *log.Logger
}

// DefaultOptions returns the standard cleaning parameters.
func DefaultOptions() Options {
	return Options{
		NPoints:        100,
		CleanRounds:    5,
		CleanThreshold: 3,
		MinStreamlines: 20,
		Stat:           Mean,
	}
}

// Clean removes outlier streamlines from a fiber group. Statistics are
// recomputed from scratch each round on the current survivors; a
// streamline survives a round only if its Mahalanobis distance is below
// the threshold at every node. Cleaning stops early when no streamline
// exceeds the threshold or when a round would leave MinStreamlines or
// fewer survivors. The returned streamlines are the original,
// non-resampled inputs selected by cumulative index tracking; input
// order is preserved and the count never grows.
//
// Bundles smaller than MinStreamlines are returned unchanged.
func Clean(streamlines geometry.Tractogram, opts Options) (geometry.Tractogram, error) {
	if opts.NPoints == 0 {
		opts.NPoints = 100
	}
	if opts.CleanRounds == 0 {
		opts.CleanRounds = 5
	}
	if opts.CleanThreshold == 0 {
		opts.CleanThreshold = 3
	}
	if opts.MinStreamlines == 0 {
		opts.MinStreamlines = 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	// Not enough streamlines to bother.
	if len(streamlines) < opts.MinStreamlines {
		return streamlines, nil
	}

	// Resample once up front; idx maps current rows back to the
	// original ordering.
	fgarray, err := geometry.Resample(streamlines, opts.NPoints)
	if err != nil {
		return nil, err
	}
	idx := make([]int, fgarray.Count)
	for i := range idx {
		idx[i] = i
	}

	wopts := WeightOptions{
		Stat:                       opts.Stat,
		ReturnMahalanobis:          true,
		LegacyTriangularCovariance: opts.LegacyTriangularCovariance,
	}

	for round := 0; round < opts.CleanRounds; round++ {
		w, err := GaussianWeights(fgarray, wopts)
		if err != nil {
			return nil, err
		}

		var keep []int
		for i, row := range w {
			belongs := true
			for _, d := range row {
				if !(d < opts.CleanThreshold) {
					belongs = false
					break
				}
			}
			if belongs {
				keep = append(keep, i)
			}
		}

		if len(keep) == fgarray.Count {
			// Nothing exceeded the threshold.
			break
		}
		if len(keep) <= opts.MinStreamlines {
			logger.Printf("cleaning stopped at round %d: would leave %d streamlines", round+1, len(keep))
			break
		}

		logger.Printf("cleaning round %d: %d -> %d streamlines", round+1, fgarray.Count, len(keep))
		next := make([]int, len(keep))
		for i, k := range keep {
			next[i] = idx[k]
		}
		idx = next
		fgarray = fgarray.Select(keep)
	}

	out := make(geometry.Tractogram, len(idx))
	for i, k := range idx {
		out[i] = streamlines[k]
	}
	return out, nil
}
