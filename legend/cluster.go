package legend

import (
	"fmt"
	"math"
	"sort"

	"github.com/openanesth/chart-digitizer/annotations"
)

// Axis selects which spatial coordinate a legend runs along.
type Axis int

const (
	// Horizontal clusters on box center X (the time legend).
	Horizontal Axis = iota
	// Vertical clusters on box center Y (the mmHg/bpm legend).
	Vertical
)

// Cluster is an ordered group of tick boxes sharing one coordinate axis.
// Centroid is the mean coordinate of the member boxes; Value is the
// resolved semantic coordinate once AssignValues has run.
type Cluster struct {
	Boxes    []annotations.BoundingBox
	Centroid float64
	Unit     string
	Value    float64
}

// Coord extracts the clustering coordinate of a box for the axis.
func (a Axis) Coord(b annotations.BoundingBox) float64 {
	if a == Horizontal {
		return b.Center().X
	}
	return b.Center().Y
}

// ClusterBoxes groups tick boxes into ordered clusters along the axis.
//
// Every candidate cluster count is tried with 1-D k-means; the partition
// that best matches the even spacing of a printed legend wins (see
// partitionScore). Ties break toward the smallest count. The returned
// clusters are sorted by ascending centroid.
func ClusterBoxes(boxes []annotations.BoundingBox, axis Axis, unit string, candidateCounts []int) ([]Cluster, error) {
	if len(candidateCounts) == 0 {
		return nil, fmt.Errorf("no candidate cluster counts supplied")
	}
	values := make([]float64, len(boxes))
	for i, b := range boxes {
		values[i] = axis.Coord(b)
	}

	counts := append([]int(nil), candidateCounts...)
	sort.Ints(counts)

	bestScore := math.Inf(1)
	var bestCentroids []float64
	var bestAssignment []int
	for _, k := range counts {
		centroids, assignment, err := KMeans1D(values, k)
		if err != nil {
			continue
		}
		if score := partitionScore(values, centroids, assignment); score < bestScore {
			bestScore = score
			bestCentroids = centroids
			bestAssignment = assignment
		}
	}
	if bestCentroids == nil {
		return nil, fmt.Errorf("no candidate count in %v fits %d tick boxes", candidateCounts, len(boxes))
	}

	clusters := make([]Cluster, len(bestCentroids))
	for i, c := range bestCentroids {
		clusters[i] = Cluster{Centroid: c, Unit: unit}
	}
	for i, b := range boxes {
		c := bestAssignment[i]
		clusters[c].Boxes = append(clusters[c].Boxes, b)
	}
	return clusters, nil
}

// AssignValues resolves each cluster's semantic value by linear
// interpolation between the axis's declared first and last physical values:
// cluster i of k gets first + (last-first) * i/(k-1). A descending axis
// (mmHg printed top-down from its maximum) simply declares first > last.
// The input is not modified.
func AssignValues(clusters []Cluster, first, last float64) []Cluster {
	out := make([]Cluster, len(clusters))
	copy(out, clusters)
	if len(out) == 1 {
		out[0].Value = first
		return out
	}
	for i := range out {
		out[i].Value = first + (last-first)*float64(i)/float64(len(out)-1)
	}
	return out
}

// Nearest returns the cluster whose centroid is closest to coord.
func Nearest(clusters []Cluster, coord float64) (Cluster, bool) {
	if len(clusters) == 0 {
		return Cluster{}, false
	}
	best := clusters[0]
	bestDist := math.Abs(best.Centroid - coord)
	for _, c := range clusters[1:] {
		if d := math.Abs(c.Centroid - coord); d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best, true
}

// Interpolate maps a coordinate to a value by linear interpolation between
// the two clusters bracketing it. Coordinates outside the legend clamp to
// the end cluster's value. Clusters must be centroid-ordered, as
// ClusterBoxes returns them.
func Interpolate(clusters []Cluster, coord float64) (float64, bool) {
	if len(clusters) == 0 {
		return 0, false
	}
	if len(clusters) == 1 || coord <= clusters[0].Centroid {
		return clusters[0].Value, true
	}
	last := clusters[len(clusters)-1]
	if coord >= last.Centroid {
		return last.Value, true
	}
	for i := 1; i < len(clusters); i++ {
		lo, hi := clusters[i-1], clusters[i]
		if coord <= hi.Centroid {
			t := (coord - lo.Centroid) / (hi.Centroid - lo.Centroid)
			return lo.Value + (hi.Value-lo.Value)*t, true
		}
	}
	return last.Value, true
}

// IsolateLegend splits landmark detections into time-legend and
// measurement-legend tick boxes by membership in the template's legend
// regions (rectified coordinates).
func IsolateLegend(dets []annotations.Detection, timeRegion, mmhgRegion annotations.BoundingBox) (timeBoxes, mmhgBoxes []annotations.BoundingBox) {
	for _, det := range dets {
		b := det.Annotation.Bounds()
		center := b.Center()
		switch {
		case timeRegion.Contains(center):
			timeBoxes = append(timeBoxes, b)
		case mmhgRegion.Contains(center):
			mmhgBoxes = append(mmhgBoxes, b)
		}
	}
	return timeBoxes, mmhgBoxes
}
