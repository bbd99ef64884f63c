package recognition

import (
	"fmt"
	"io"
	"log"
	"math"

	"tractoseg/pkg/geometry"
)

// ModelBundle is one named reference bundle from the atlas: a small set
// of exemplar streamlines and a reference centroid that fixes the
// bundle's orientation convention.
type ModelBundle struct {
	Name        string
	Streamlines geometry.Tractogram
	Centroid    geometry.Streamline
}

// Options holds the fixed recognition parameters.
type Options struct {
	// ModelClusterThreshold bounds the clustering of each model
	// bundle's streamlines. Default 5.
	ModelClusterThreshold float64

	// ReductionThreshold is the MAM distance within which a target
	// streamline becomes a candidate for a model. Default 10.
	ReductionThreshold float64

	// PruningThreshold is the tighter MAM distance a candidate must
	// reach to be recognized. Default 6.
	PruningThreshold float64

	// ClusterPoints is the node count used for centroid comparisons.
	// Default 20.
	ClusterPoints int
}

// DefaultOptions returns the standard recognition parameters.
func DefaultOptions() *Options {
	return &Options{
		ModelClusterThreshold: 5,
		ReductionThreshold:    10,
		PruningThreshold:      6,
		ClusterPoints:         20,
	}
}

// Recognizer segments a target tractogram against an atlas by
// registration and centroid matching instead of ROI proximity.
type Recognizer struct {
	registrar Registrar
	opts      *Options
	logger    *log.Logger
}

// NewRecognizer creates a Recognizer. A nil registrar uses the built-in
// SLR with default options; a nil opts uses DefaultOptions.
func NewRecognizer(registrar Registrar, opts *Options) *Recognizer {
	if registrar == nil {
		registrar = NewSLR(nil)
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Recognizer{
		registrar: registrar,
		opts:      opts,
		logger:    log.New(io.Discard, "", 0),
	}
}

// SetLogger routes progress output to the given logger.
func (r *Recognizer) SetLogger(l *log.Logger) {
	if l != nil {
		r.logger = l
	}
}

// Recognize registers the target onto the atlas once, then recruits
// streamlines for each model bundle by centroid proximity in atlas
// space. Recognized streamlines are taken from the original, un-moved
// target and oriented to match each model's reference centroid. Bundles
// that recruit nothing map to empty collections.
func (r *Recognizer) Recognize(atlas, target geometry.Tractogram, models []ModelBundle) (map[string]geometry.Tractogram, error) {
	r.logger.Printf("registering %d target streamlines onto %d atlas streamlines", len(target), len(atlas))
	reg, err := r.registrar.Register(atlas, target)
	if err != nil {
		return nil, fmt.Errorf("whole-brain registration: %w", err)
	}

	// Fixed-count views of the moved target, computed once and shared
	// across models.
	movedArr, err := geometry.Resample(reg.Moved, r.opts.ClusterPoints)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]geometry.Tractogram, len(models))
	for _, model := range models {
		recognized, err := r.recognizeOne(model, movedArr, target)
		if err != nil {
			return nil, fmt.Errorf("bundle %q: %w", model.Name, err)
		}
		groups[model.Name] = recognized
		r.logger.Printf("bundle %s: %d streamlines", model.Name, len(recognized))
	}
	return groups, nil
}

func (r *Recognizer) recognizeOne(model ModelBundle, movedArr *geometry.ResampledArray, target geometry.Tractogram) (geometry.Tractogram, error) {
	clusters, err := ClusterStreamlines(model.Streamlines, r.opts.ModelClusterThreshold, r.opts.ClusterPoints)
	if err != nil {
		return nil, err
	}
	centroids := Centroids(clusters)

	// Reduction: a cheap neighborhood cut around the model's centroids.
	// Indices refer to the original target throughout.
	var candidates []int
	for i := 0; i < movedArr.Count; i++ {
		if minMAM(movedArr.Row(i), centroids) < r.opts.ReductionThreshold {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Local refinement: align the candidate neighborhood onto the model
	// before the tighter pruning cut, so a residual whole-brain
	// misalignment does not starve the bundle.
	var candidatePoints []geometry.Point
	for _, i := range candidates {
		candidatePoints = append(candidatePoints, movedArr.Row(i)...)
	}
	local := alignPoints(candidatePoints, flattenStreamlines(centroids), localAlignIterations, localAlignTolerance)

	var recognized geometry.Tractogram
	for _, i := range candidates {
		refined := applyAll(local, movedArr.Row(i))
		if minMAM(refined, centroids) >= r.opts.PruningThreshold {
			continue
		}
		oriented, err := OrientBy(target[i], model.Centroid)
		if err != nil {
			return nil, err
		}
		recognized = append(recognized, oriented)
	}
	return recognized, nil
}

const (
	localAlignIterations = 20
	localAlignTolerance  = 1e-4
)

func minMAM(sl geometry.Streamline, centroids []geometry.Streamline) float64 {
	best := math.Inf(1)
	for _, c := range centroids {
		if d := MAM(sl, c); d < best {
			best = d
		}
	}
	return best
}

func flattenStreamlines(sls []geometry.Streamline) []geometry.Point {
	var out []geometry.Point
	for _, s := range sls {
		out = append(out, s...)
	}
	return out
}
