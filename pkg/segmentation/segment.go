package segmentation

import (
	"fmt"
	"io"
	"log"
	"sync"

	"gonum.org/v1/gonum/stat"

	"tractoseg/pkg/geometry"
	"tractoseg/pkg/volume"
	"tractoseg/pkg/warp"
)

// Params holds the tunable parameters of one segmentation run.
type Params struct {
	// ProbabilityThreshold is the mean bundle probability a streamline
	// must strictly exceed to remain a candidate. Default 0, which
	// still rejects streamlines whose probability is exactly zero.
	ProbabilityThreshold float64

	// SamplingPoints is the fixed node count used when sampling
	// probability maps along each streamline. Default 100.
	SamplingPoints int

	// ResamplePoints, when positive, resamples the input tractogram to
	// this many points per streamline before segmentation. Zero keeps
	// the original point counts.
	ResamplePoints int
}

// DefaultParams returns the standard parameterization.
func DefaultParams() *Params {
	return &Params{
		ProbabilityThreshold: 0,
		SamplingPoints:       100,
		ResamplePoints:       0,
	}
}

// preparedBundle is a BundleSpec with its ROIs warped into subject space
// and converted into the forms the classifier consumes.
type preparedBundle struct {
	spec    BundleSpec
	include [][]geometry.Point
	exclude [][]geometry.Point
	probMap *volume.Volume
}

// Segmenter performs ROI-based streamline-to-bundle classification for
// one subject. Construct with New, call Prepare once to warp the bundle
// ROIs through the mapping, then Segment for the tractogram.
type Segmenter struct {
	bundles   []BundleSpec
	mapping   warp.Mapping
	imgAffine geometry.Affine
	params    *Params
	logger    *log.Logger

	prepared []preparedBundle
}

// New creates a Segmenter. The mapping is the subject↔template transform
// supplied by the registration subsystem (use warp.Identity{} when the
// ROIs are already in subject space), and imgAffine is the subject
// image's voxel-to-world affine, from which the ROI proximity tolerance
// and the midline position are derived. A nil params uses
// DefaultParams.
func New(bundles []BundleSpec, mapping warp.Mapping, imgAffine geometry.Affine, params *Params) *Segmenter {
	if params == nil {
		params = DefaultParams()
	}
	return &Segmenter{
		bundles:   bundles,
		mapping:   mapping,
		imgAffine: imgAffine,
		params:    params,
		logger:    log.New(io.Discard, "", 0),
	}
}

// SetLogger routes the run's progress output to the given logger. The
// default discards it.
func (s *Segmenter) SetLogger(l *log.Logger) {
	if l != nil {
		s.logger = l
	}
}

// Prepare inverse-warps every bundle's ROIs and probability map into
// subject space. It must be called before Segment and is deterministic
// given the mapping and the specs.
func (s *Segmenter) Prepare() error {
	s.logger.Println("preparing fiber probabilities and ROIs")
	s.prepared = make([]preparedBundle, len(s.bundles))
	for bi, spec := range s.bundles {
		pb := preparedBundle{spec: spec}

		for ri, roi := range spec.InclusionROIs {
			coords, err := warp.WarpMask(roi, s.mapping)
			if err != nil {
				return fmt.Errorf("bundle %q inclusion ROI %d: %w", spec.Name, ri, err)
			}
			pb.include = append(pb.include, coords)
		}
		for ri, roi := range spec.ExclusionROIs {
			coords, err := warp.WarpMask(roi, s.mapping)
			if err != nil {
				return fmt.Errorf("bundle %q exclusion ROI %d: %w", spec.Name, ri, err)
			}
			pb.exclude = append(pb.exclude, coords)
		}

		pm := spec.ProbabilityMap
		if pm == nil {
			ref := firstROI(spec)
			if ref == nil {
				return fmt.Errorf("bundle %q has neither a probability map nor an ROI to shape a default one", spec.Name)
			}
			pm = volume.Ones(ref)
		} else if ref := firstROI(spec); ref != nil && !pm.SameShape(ref) {
			return geometry.Shapef("bundle %q probability map is %dx%dx%d but its ROIs are %dx%dx%d",
				spec.Name, pm.NX, pm.NY, pm.NZ, ref.NX, ref.NY, ref.NZ)
		}
		warped, err := warp.WarpProbabilityMap(pm, s.mapping)
		if err != nil {
			return fmt.Errorf("bundle %q: %w", spec.Name, err)
		}
		pb.probMap = warped

		s.prepared[bi] = pb
	}
	return nil
}

func firstROI(spec BundleSpec) *volume.Volume {
	if len(spec.InclusionROIs) > 0 {
		return spec.InclusionROIs[0]
	}
	if len(spec.ExclusionROIs) > 0 {
		return spec.ExclusionROIs[0]
	}
	return nil
}

// Segment classifies every streamline of the tractogram, returning one
// FiberGroup per bundle keyed by bundle name. Bundles that attract no
// streamlines map to empty groups. Each streamline is assigned to at
// most one bundle (highest probability score, earliest bundle on ties),
// and streamlines within a group are oriented with their
// inclusion-ROI[0]-proximal end first.
func (s *Segmenter) Segment(tract geometry.Tractogram) (map[string]*FiberGroup, error) {
	if s.prepared == nil {
		if err := s.Prepare(); err != nil {
			return nil, err
		}
	}

	streamlines := tract
	if s.params.ResamplePoints > 0 {
		arr, err := geometry.Resample(tract, s.params.ResamplePoints)
		if err != nil {
			return nil, err
		}
		streamlines = make(geometry.Tractogram, arr.Count)
		for i := range streamlines {
			streamlines[i] = arr.Row(i)
		}
	}

	// Each streamline is approximated by a fixed-count curve for
	// probability sampling only; ROI distances use the full curve.
	fgarray, err := geometry.Resample(streamlines, s.params.SamplingPoints)
	if err != nil {
		return nil, err
	}

	tol := geometry.VoxelCornerTolerance(s.imgAffine)

	// Midline classification is only needed when some bundle constrains
	// it, and then it is computed once for all streamlines.
	var crosses []bool
	for _, pb := range s.prepared {
		if pb.spec.CrossMidline != nil {
			crosses = make([]bool, len(streamlines))
			for i, sl := range streamlines {
				c, err := CrossesMidline(sl, s.imgAffine)
				if err != nil {
					return nil, err
				}
				crosses[i] = c
			}
			break
		}
	}

	s.logger.Printf("assigning %d streamlines to %d bundles", len(streamlines), len(s.prepared))

	// scores[b][i] is streamline i's probability score for bundle b;
	// minNodes[b][i] holds the closest-approach node indices for the
	// first two inclusion ROIs. Each goroutine writes only its own
	// bundle's rows.
	scores := make([][]float64, len(s.prepared))
	minNodes := make([][][2]int, len(s.prepared))

	var wg sync.WaitGroup
	errs := make([]error, len(s.prepared))
	for bi := range s.prepared {
		wg.Add(1)
		go func(bi int) {
			defer wg.Done()
			scores[bi], minNodes[bi], errs[bi] = s.scoreBundle(bi, streamlines, fgarray, crosses, tol)
		}(bi)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	// Exclusive assignment: best score wins, first bundle on ties.
	assigned := make([]int, len(streamlines))
	for i := range assigned {
		assigned[i] = -1
		best := 0.0
		for bi := range s.prepared {
			if sc := scores[bi][i]; sc > best {
				best = sc
				assigned[i] = bi
			}
		}
	}

	s.logger.Println("cleaning and re-orienting")
	groups := make(map[string]*FiberGroup, len(s.prepared))
	for bi, pb := range s.prepared {
		group := &FiberGroup{Name: pb.spec.Name}
		for i, b := range assigned {
			if b != bi {
				continue
			}
			sl := streamlines[i]
			// Orient from ROI0 to ROI1. The order is arbitrary but
			// consistent across the whole group.
			if len(pb.include) >= 2 {
				mn := minNodes[bi][i]
				if mn[0] > mn[1] {
					sl = sl.Reversed()
				}
			}
			group.Streamlines = append(group.Streamlines, sl)
		}
		groups[pb.spec.Name] = group
		s.logger.Printf("bundle %s: %d streamlines", pb.spec.Name, group.Len())
	}
	return groups, nil
}

// scoreBundle computes one bundle's probability score for every
// streamline, gating in cost order: probability first, then the midline
// rule, then the inclusion ROIs (short-circuiting on the first miss),
// then the exclusion ROIs.
func (s *Segmenter) scoreBundle(bi int, streamlines geometry.Tractogram, fgarray *geometry.ResampledArray, crosses []bool, tol float64) ([]float64, [][2]int, error) {
	pb := s.prepared[bi]

	values, err := volume.ValuesFromVolume(pb.probMap, fgarray, geometry.IdentityAffine())
	if err != nil {
		return nil, nil, fmt.Errorf("bundle %q: sampling probability map: %w", pb.spec.Name, err)
	}
	probs := make([]float64, len(values))
	for i, row := range values {
		probs[i] = stat.Mean(row, nil)
	}

	scores := make([]float64, len(streamlines))
	minNodes := make([][2]int, len(streamlines))

	for i, sl := range streamlines {
		if probs[i] <= s.params.ProbabilityThreshold {
			continue
		}
		if pb.spec.CrossMidline != nil && crosses != nil && crosses[i] != *pb.spec.CrossMidline {
			continue
		}

		ok := true
		var mn [2]int
		for ri, coords := range pb.include {
			d, node := geometry.MinSquaredDistance(sl, coords)
			if d > tol {
				ok = false
				break
			}
			if ri < 2 {
				mn[ri] = node
			}
		}
		if !ok {
			continue
		}

		for _, coords := range pb.exclude {
			if d, _ := geometry.MinSquaredDistance(sl, coords); d < tol {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}

		scores[i] = probs[i]
		minNodes[i] = mn
	}
	return scores, minNodes, nil
}
