// Package profile computes tract profiles: per-node scalar summaries of
// a diffusion metric along the length of a fiber bundle. The scalar
// volume is sampled at every node of every streamline and reduced across
// streamlines with caller-supplied or uniform weights.
package profile

import (
	"gonum.org/v1/gonum/floats"

	"tractoseg/pkg/geometry"
	"tractoseg/pkg/volume"
)

// ExpandStreamlineWeights turns one weight per streamline into the
// per-(streamline, node) table TractProfile consumes, repeating each
// streamline's weight at every node.
func ExpandStreamlineWeights(w []float64, nodes int) [][]float64 {
	out := make([][]float64, len(w))
	for i, v := range w {
		row := make([]float64, nodes)
		for j := range row {
			row[j] = v
		}
		out[i] = row
	}
	return out
}

// TractProfile samples the scalar volume along every streamline of the
// bundle and reduces across streamlines into one value per node. The
// affine maps streamline coordinates into the volume's index space
// (geometry.IdentityAffine() when they already are voxel indices).
// Streamlines are resampled to nPoints first; weights, when supplied,
// must be shaped (len(streamlines), nPoints) and should sum to 1 across
// streamlines at every node; only the shape is checked. Nil weights
// means uniform 1/count.
func TractProfile(vol *volume.Volume, streamlines geometry.Tractogram, affine geometry.Affine, nPoints int, weights [][]float64) ([]float64, error) {
	arr, err := geometry.Resample(streamlines, nPoints)
	if err != nil {
		return nil, err
	}
	return TractProfileResampled(vol, arr, affine, weights)
}

// TractProfileResampled is TractProfile for a bundle that is already a
// fixed-node array, skipping the resampling step.
func TractProfileResampled(vol *volume.Volume, arr *geometry.ResampledArray, affine geometry.Affine, weights [][]float64) ([]float64, error) {
	if weights != nil {
		if len(weights) != arr.Count {
			return nil, geometry.Shapef("weights have %d rows for %d streamlines", len(weights), arr.Count)
		}
		for i, row := range weights {
			if len(row) != arr.Nodes {
				return nil, geometry.Shapef("weight row %d has %d nodes, want %d", i, len(row), arr.Nodes)
			}
		}
	}

	values, err := volume.ValuesFromVolume(vol, arr, affine)
	if err != nil {
		return nil, err
	}

	out := make([]float64, arr.Nodes)
	if weights == nil {
		uniform := 1 / float64(arr.Count)
		for _, row := range values {
			floats.AddScaled(out, uniform, row)
		}
		return out, nil
	}
	for i, row := range values {
		for j, v := range row {
			out[j] += weights[i][j] * v
		}
	}
	return out, nil
}
