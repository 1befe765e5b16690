// Package legend discovers the coordinate grid implied by the printed axis
// tick labels of a chart: it clusters tick detections along one spatial
// axis and assigns each cluster a semantic value (elapsed minutes or mmHg)
// by its position in the ordering.
package legend

import (
	"fmt"
	"math"
	"sort"
)

const maxKMeansIterations = 100

// KMeans1D runs Lloyd's algorithm on one-dimensional values with
// deterministic quantile seeding: the i-th initial centroid is the value at
// quantile (i+0.5)/k of the sorted input. Returns the sorted centroids and
// the per-value cluster assignment.
func KMeans1D(values []float64, k int) (centroids []float64, assignment []int, err error) {
	if k <= 0 {
		return nil, nil, fmt.Errorf("cluster count %d must be positive", k)
	}
	if len(values) < k {
		return nil, nil, fmt.Errorf("cannot split %d values into %d clusters", len(values), k)
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	centroids = make([]float64, k)
	for i := range centroids {
		q := (float64(i) + 0.5) / float64(k)
		centroids[i] = sorted[int(q*float64(len(sorted)))]
	}

	assignment = make([]int, len(values))
	for iter := 0; iter < maxKMeansIterations; iter++ {
		changed := false
		for i, v := range values {
			best := nearestCentroid(centroids, v)
			if assignment[i] != best {
				assignment[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		sums := make([]float64, k)
		counts := make([]int, k)
		for i, v := range values {
			sums[assignment[i]] += v
			counts[assignment[i]]++
		}
		for c := range centroids {
			if counts[c] > 0 {
				centroids[c] = sums[c] / float64(counts[c])
			}
		}
	}

	// Order clusters by centroid and relabel assignments to match.
	order := make([]int, k)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return centroids[order[i]] < centroids[order[j]] })
	rank := make([]int, k)
	for newIdx, oldIdx := range order {
		rank[oldIdx] = newIdx
	}
	sortedCentroids := make([]float64, k)
	for i, oldIdx := range order {
		sortedCentroids[i] = centroids[oldIdx]
	}
	for i := range assignment {
		assignment[i] = rank[assignment[i]]
	}
	return sortedCentroids, assignment, nil
}

func nearestCentroid(centroids []float64, v float64) int {
	best := 0
	bestDist := math.Abs(centroids[0] - v)
	for c := 1; c < len(centroids); c++ {
		if d := math.Abs(centroids[c] - v); d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

// partitionScore rates how well a partition matches the even-spacing
// structure of a printed legend. It combines the variance of consecutive
// centroid gaps, normalized by the mean gap, with the within-cluster sum of
// squares normalized by the data range, so that a larger k is not
// automatically preferred. Lower is better.
func partitionScore(values []float64, centroids []float64, assignment []int) float64 {
	if len(centroids) < 2 {
		return math.Inf(1)
	}

	gaps := make([]float64, len(centroids)-1)
	meanGap := 0.0
	for i := 1; i < len(centroids); i++ {
		gaps[i-1] = centroids[i] - centroids[i-1]
		meanGap += gaps[i-1]
	}
	meanGap /= float64(len(gaps))
	if meanGap <= 0 {
		return math.Inf(1)
	}
	gapVariance := 0.0
	for _, g := range gaps {
		d := g - meanGap
		gapVariance += d * d
	}
	gapVariance /= float64(len(gaps))

	minV, maxV := values[0], values[0]
	for _, v := range values {
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	dataRange := maxV - minV
	if dataRange <= 0 {
		return math.Inf(1)
	}
	wcss := 0.0
	for i, v := range values {
		d := v - centroids[assignment[i]]
		wcss += d * d
	}

	return gapVariance/(meanGap*meanGap) + wcss/(dataRange*dataRange*float64(len(values)))
}
