// Package warp defines the mapping capability that moves template-space
// volumes into subject space, and the ROI preparation built on it:
// inverse-warping boolean ROI masks into subject-space coordinate sets
// and probability maps into subject-space volumes.
//
// The mapping itself is computed by an external registration subsystem;
// this package only formalizes its interface and provides the identity
// and affine-only variants.
package warp

import (
	"fmt"

	"tractoseg/pkg/geometry"
	"tractoseg/pkg/volume"
)

// Interpolation selects the resampling mode used by a mapping. Masks are
// warped with Linear and thresholded afterwards; probability and label
// volumes are warped with Nearest so values are never mixed.
type Interpolation int

const (
	Linear Interpolation = iota
	Nearest
)

func (ip Interpolation) String() string {
	switch ip {
	case Linear:
		return "linear"
	case Nearest:
		return "nearest"
	}
	return fmt.Sprintf("Interpolation(%d)", int(ip))
}

// Mapping moves volumes from template space into subject space. It is
// supplied by the caller, read-only, and shared across all bundles in
// one segmentation run.
type Mapping interface {
	// InverseTransform resamples a template-space volume onto the
	// subject-space grid using the given interpolation mode.
	InverseTransform(v *volume.Volume, interp Interpolation) (*volume.Volume, error)
}

// Identity is a mapping for data already in subject space: volumes pass
// through unchanged.
type Identity struct{}

// InverseTransform returns the input volume as-is.
func (Identity) InverseTransform(v *volume.Volume, _ Interpolation) (*volume.Volume, error) {
	return v, nil
}

// AffineMapping warps volumes through a fixed affine relating subject
// voxel indices to template voxel indices. It covers the affine-only
// registration case; deformable mappings implement the same interface in
// the registration subsystem.
type AffineMapping struct {
	// TemplateFromSubject maps subject voxel indices to template voxel
	// indices.
	TemplateFromSubject geometry.Affine

	// NX, NY, NZ are the subject-space output grid dimensions.
	NX, NY, NZ int

	// SubjectAffine is the voxel-to-world affine attached to warped
	// output volumes.
	SubjectAffine geometry.Affine
}

// InverseTransform resamples the template volume onto the subject grid.
func (m *AffineMapping) InverseTransform(v *volume.Volume, interp Interpolation) (*volume.Volume, error) {
	if m.NX <= 0 || m.NY <= 0 || m.NZ <= 0 {
		return nil, geometry.Shapef("affine mapping has output grid %dx%dx%d", m.NX, m.NY, m.NZ)
	}
	out := volume.New(m.NX, m.NY, m.NZ, m.SubjectAffine)
	for k := 0; k < m.NZ; k++ {
		for j := 0; j < m.NY; j++ {
			for i := 0; i < m.NX; i++ {
				p := m.TemplateFromSubject.Apply(geometry.Point{float64(i), float64(j), float64(k)})
				var val float64
				if interp == Nearest {
					val = v.SampleNearest(p)
				} else {
					val = v.SampleTrilinear(p)
				}
				out.Set(i, j, k, val)
			}
		}
	}
	return out, nil
}

// WarpMask inverse-warps a template-space ROI into subject space and
// returns its coordinate set. The warped values are thresholded at >0,
// patched up (dilation plus hole filling), and converted to the voxel
// indices where the mask is true.
func WarpMask(roi *volume.Volume, m Mapping) ([]geometry.Point, error) {
	warped, err := m.InverseTransform(roi, Linear)
	if err != nil {
		return nil, fmt.Errorf("inverse-warping ROI: %w", err)
	}
	return warped.Threshold(0).PatchUp().Coordinates(), nil
}

// WarpProbabilityMap inverse-warps a template-space probability volume
// into subject space with nearest-neighbor interpolation and no
// thresholding.
func WarpProbabilityMap(pm *volume.Volume, m Mapping) (*volume.Volume, error) {
	warped, err := m.InverseTransform(pm, Nearest)
	if err != nil {
		return nil, fmt.Errorf("inverse-warping probability map: %w", err)
	}
	return warped, nil
}
