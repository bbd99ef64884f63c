package recognition

import (
	"tractoseg/pkg/geometry"
)

// Cluster is one bundle of mutually similar streamlines with its running
// centroid, all at a fixed node count.
type Cluster struct {
	// Indices are positions in the clustered tractogram, in insertion
	// order.
	Indices []int

	// Centroid is the node-wise mean of the member streamlines,
	// flip-corrected so members contribute in a consistent direction.
	Centroid geometry.Streamline
}

// ClusterStreamlines groups a tractogram by centroid proximity: each
// streamline, resampled to nPoints, joins the cluster whose centroid is
// within threshold under the minimum direct-flip distance, or founds a
// new cluster. Centroids are updated incrementally as members join.
func ClusterStreamlines(t geometry.Tractogram, threshold float64, nPoints int) ([]*Cluster, error) {
	arr, err := geometry.Resample(t, nPoints)
	if err != nil {
		return nil, err
	}

	var clusters []*Cluster
	for i := 0; i < arr.Count; i++ {
		sl := arr.Row(i)

		best := -1
		bestDist := threshold
		bestFlip := false
		for ci, c := range clusters {
			d, flip := mdfOriented(c.Centroid, sl)
			if d < bestDist {
				best = ci
				bestDist = d
				bestFlip = flip
			}
		}

		if best < 0 {
			clusters = append(clusters, &Cluster{
				Indices:  []int{i},
				Centroid: append(geometry.Streamline(nil), sl...),
			})
			continue
		}

		c := clusters[best]
		member := sl
		if bestFlip {
			member = sl.Reversed()
		}
		// Running mean: centroid already aggregates len(Indices) members.
		k := float64(len(c.Indices))
		for j := range c.Centroid {
			for d := 0; d < 3; d++ {
				c.Centroid[j][d] = (c.Centroid[j][d]*k + member[j][d]) / (k + 1)
			}
		}
		c.Indices = append(c.Indices, i)
	}
	return clusters, nil
}

// Centroids extracts the centroid streamlines of a cluster set.
func Centroids(clusters []*Cluster) []geometry.Streamline {
	out := make([]geometry.Streamline, len(clusters))
	for i, c := range clusters {
		out[i] = c.Centroid
	}
	return out
}
