package config

import (
	"fmt"

	"github.com/openanesth/chart-digitizer/annotations"
)

// Region is the JSON form of a named rectangle on the canonical template.
type Region struct {
	Category string  `json:"category"`
	Left     float64 `json:"left"`
	Top      float64 `json:"top"`
	Right    float64 `json:"right"`
	Bottom   float64 `json:"bottom"`
}

// Box converts the region to the shared bounding-box type.
func (r Region) Box() annotations.BoundingBox {
	return annotations.BoundingBox{
		Category: r.Category,
		Left:     r.Left,
		Top:      r.Top,
		Right:    r.Right,
		Bottom:   r.Bottom,
	}
}

// AxisSpec declares the physical meaning of one printed legend axis: the
// semantic value of the first and last tick cluster and the cluster counts
// the printed scale may plausibly resolve to.
type AxisSpec struct {
	First           float64 `json:"first"`
	Last            float64 `json:"last"`
	CandidateCounts []int   `json:"candidate_counts"`
}

// DigitField names a template region that holds a handwritten multi-digit
// value. Multi-row fields (drug codes) yield one value per detected row.
type DigitField struct {
	Name   string `json:"name"`
	Region Region `json:"region"`
	Multi  bool   `json:"multi"`
}

// Template describes one side of the canonical scanned document: its pixel
// size, the printed landmark positions used as homography destinations, and
// the named regions that anchor legends, digit fields, and checkboxes.
type Template struct {
	Name         string   `json:"name"`
	CanvasWidth  int      `json:"canvas_width"`
	CanvasHeight int      `json:"canvas_height"`
	CornerNames  []string `json:"corner_names"`
	Landmarks    []Region `json:"landmarks"`

	TimeLegendRegion Region   `json:"time_legend_region"`
	MMHGLegendRegion Region   `json:"mmhg_legend_region"`
	TimeAxis         AxisSpec `json:"time_axis"`
	MMHGAxis         AxisSpec `json:"mmhg_axis"`

	DigitFields []DigitField `json:"digit_fields"`
	Checkboxes  []Region     `json:"checkboxes"`
}

// LandmarkBoxes returns the template landmarks as bounding boxes.
func (t Template) LandmarkBoxes() []annotations.BoundingBox {
	boxes := make([]annotations.BoundingBox, len(t.Landmarks))
	for i, r := range t.Landmarks {
		boxes[i] = r.Box()
	}
	return boxes
}

func (t Template) validate() error {
	if t.CanvasWidth <= 0 || t.CanvasHeight <= 0 {
		return fmt.Errorf("%w: template %q has invalid canvas size %dx%d",
			ErrConfiguration, t.Name, t.CanvasWidth, t.CanvasHeight)
	}
	if len(t.CornerNames) > 0 && len(t.CornerNames) != 4 {
		return fmt.Errorf("%w: template %q declares %d corner names, want 4",
			ErrConfiguration, t.Name, len(t.CornerNames))
	}
	byCategory := make(map[string]bool, len(t.Landmarks))
	for _, r := range t.Landmarks {
		if r.Left > r.Right || r.Top > r.Bottom {
			return fmt.Errorf("%w: template %q landmark %q has inverted corners",
				ErrConfiguration, t.Name, r.Category)
		}
		byCategory[r.Category] = true
	}
	for _, name := range t.CornerNames {
		if !byCategory[name] {
			return fmt.Errorf("%w: template %q corner %q has no landmark",
				ErrConfiguration, t.Name, name)
		}
	}
	return nil
}
