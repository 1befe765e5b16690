// Package extract maps rectified detections onto named clinical fields.
//
// Every lookup in this package fails soft: an absent or unmatched detection
// produces a missing field, never an error. Source documents are
// handwritten and imperfectly captured, so the output record is
// intentionally partial.
package extract

import (
	"sort"

	"github.com/openanesth/chart-digitizer/annotations"
	"github.com/openanesth/chart-digitizer/legend"
)

// Marker categories produced by the pose detectors.
const (
	CategorySystolic  = "systolic"
	CategoryDiastolic = "diastolic"
	CategoryHeartRate = "heart_rate"
)

// TimeSeriesPoint is one timestamped reading recovered from a marker
// symbol.
type TimeSeriesPoint struct {
	Minutes float64 `json:"mins"`
	Value   float64 `json:"value"`
}

// VitalSigns holds the recovered time series, one list per marker type,
// ordered by timestamp.
type VitalSigns struct {
	Systolic  []TimeSeriesPoint `json:"systolic,omitempty"`
	Diastolic []TimeSeriesPoint `json:"diastolic,omitempty"`
	HeartRate []TimeSeriesPoint `json:"heart_rate,omitempty"`
}

// HeartRateAndBloodPressure associates each marker detection with a
// timestamp and a measurement value.
//
// The timestamp is the value of the nearest time cluster by horizontal
// centroid distance; the reading is the marker's vertical coordinate
// linearly interpolated between the bracketing measurement clusters.
// Markers beyond the legend ends clamp to the end values. With no resolved
// clusters on either axis the result is empty.
func HeartRateAndBloodPressure(
	dets []annotations.Detection,
	timeClusters, mmhgClusters []legend.Cluster,
) VitalSigns {
	var out VitalSigns
	for _, det := range dets {
		anchor := det.Annotation.Anchor()
		timeCluster, ok := legend.Nearest(timeClusters, anchor.X)
		if !ok {
			continue
		}
		value, ok := legend.Interpolate(mmhgClusters, anchor.Y)
		if !ok {
			continue
		}
		point := TimeSeriesPoint{Minutes: timeCluster.Value, Value: value}
		switch det.Category() {
		case CategorySystolic:
			out.Systolic = append(out.Systolic, point)
		case CategoryDiastolic:
			out.Diastolic = append(out.Diastolic, point)
		case CategoryHeartRate:
			out.HeartRate = append(out.HeartRate, point)
		}
	}
	sortByTime(out.Systolic)
	sortByTime(out.Diastolic)
	sortByTime(out.HeartRate)
	return out
}

func sortByTime(points []TimeSeriesPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Minutes < points[j].Minutes
	})
}
