package tiling

import (
	"math"
	"sort"

	"github.com/openanesth/chart-digitizer/annotations"
)

// IoU computes the intersection over union of two boxes. Degenerate boxes
// have zero area and therefore zero IoU against everything.
func IoU(a, b annotations.BoundingBox) float64 {
	x1 := math.Max(a.Left, b.Left)
	y1 := math.Max(a.Top, b.Top)
	x2 := math.Min(a.Right, b.Right)
	y2 := math.Min(a.Bottom, b.Bottom)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// NonMaxSuppression removes duplicate overlapping detections of the same
// category, keeping the highest-confidence one. It is category-aware: boxes
// of different categories never suppress each other. The result is sorted
// by descending confidence and applying the function to its own output is a
// no-op.
func NonMaxSuppression(dets []annotations.Detection, iouThreshold float64) []annotations.Detection {
	if len(dets) == 0 {
		return nil
	}

	sorted := make([]annotations.Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]annotations.Detection, 0, len(sorted))
	for _, candidate := range sorted {
		suppressed := false
		for _, keeper := range kept {
			if keeper.Category() != candidate.Category() {
				continue
			}
			if IoU(keeper.Annotation.Bounds(), candidate.Annotation.Bounds()) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, candidate)
		}
	}
	return kept
}
