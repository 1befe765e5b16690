package extract

import (
	"math"

	"github.com/openanesth/chart-digitizer/annotations"
	"github.com/openanesth/chart-digitizer/config"
)

// Checkbox detector categories.
const (
	CategoryChecked   = "checked"
	CategoryUnchecked = "unchecked"
)

// Checkboxes maps checkbox detections onto the template's named checkbox
// regions. A detection claims the region whose center is nearest to its
// rectified position, within half the region diagonal; the detection's
// category encodes the checked state. When several detections claim one
// region the highest-confidence one wins. Regions with no qualifying
// detection are absent from the result.
func Checkboxes(dets []annotations.Detection, regions []config.Region) map[string]bool {
	type claim struct {
		checked    bool
		confidence float64
	}
	claims := make(map[string]claim)

	for _, det := range dets {
		var checked bool
		switch det.Category() {
		case CategoryChecked:
			checked = true
		case CategoryUnchecked:
			checked = false
		default:
			continue
		}

		center := det.Annotation.Bounds().Center()
		bestName := ""
		bestDist := math.Inf(1)
		for _, region := range regions {
			box := region.Box()
			d := distance(center, box.Center())
			if d < bestDist && d <= diagonal(box)/2 {
				bestDist = d
				bestName = region.Category
			}
		}
		if bestName == "" {
			continue
		}
		if prev, ok := claims[bestName]; !ok || det.Confidence > prev.confidence {
			claims[bestName] = claim{checked: checked, confidence: det.Confidence}
		}
	}

	out := make(map[string]bool, len(claims))
	for name, c := range claims {
		out[name] = c.checked
	}
	return out
}

func distance(a, b annotations.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func diagonal(b annotations.BoundingBox) float64 {
	return math.Hypot(b.Width(), b.Height())
}
