package extract

import (
	"math"
	"sort"
	"strings"

	"github.com/openanesth/chart-digitizer/annotations"
	"github.com/openanesth/chart-digitizer/config"
)

const (
	// rowToleranceFactor scales the median digit height into the
	// vertical tolerance for two digits to share a row.
	rowToleranceFactor = 0.5
	// gapFactor scales the median digit width into the maximum
	// horizontal gap inside one multi-digit group.
	gapFactor = 1.0
)

// DigitGroup is one left-to-right run of single-digit detections read as a
// single handwritten number.
type DigitGroup struct {
	Value string
	Boxes []annotations.BoundingBox
}

// GroupDigits clusters single-digit detections into multi-digit strings.
// Digits sharing a row within a small vertical tolerance are ordered
// left-to-right; a horizontal gap wider than the threshold (proportional to
// the median digit width) starts a new group. Categories concatenate
// verbatim, so a "." detection yields a decimal string.
func GroupDigits(dets []annotations.Detection) []DigitGroup {
	if len(dets) == 0 {
		return nil
	}

	boxes := make([]annotations.BoundingBox, len(dets))
	for i, det := range dets {
		boxes[i] = det.Annotation.Bounds()
	}
	medianW := medianBy(boxes, annotations.BoundingBox.Width)
	medianH := medianBy(boxes, annotations.BoundingBox.Height)
	rowTolerance := medianH * rowToleranceFactor
	maxGap := medianW * gapFactor

	sort.SliceStable(boxes, func(i, j int) bool {
		return boxes[i].Center().Y < boxes[j].Center().Y
	})

	// Sweep top to bottom, opening a new row whenever the next digit
	// falls outside the running row's vertical tolerance.
	var rows [][]annotations.BoundingBox
	var rowCenter float64
	for _, b := range boxes {
		cy := b.Center().Y
		if len(rows) == 0 || math.Abs(cy-rowCenter) > rowTolerance {
			rows = append(rows, []annotations.BoundingBox{b})
			rowCenter = cy
			continue
		}
		row := append(rows[len(rows)-1], b)
		rows[len(rows)-1] = row
		rowCenter = meanCenterY(row)
	}

	var groups []DigitGroup
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool { return row[i].Left < row[j].Left })
		start := 0
		for i := 1; i <= len(row); i++ {
			if i < len(row) && row[i].Left-row[i-1].Right <= maxGap {
				continue
			}
			groups = append(groups, buildGroup(row[start:i]))
			start = i
		}
	}
	return groups
}

func buildGroup(boxes []annotations.BoundingBox) DigitGroup {
	var sb strings.Builder
	for _, b := range boxes {
		sb.WriteString(b.Category)
	}
	return DigitGroup{Value: sb.String(), Boxes: append([]annotations.BoundingBox(nil), boxes...)}
}

func meanCenterY(boxes []annotations.BoundingBox) float64 {
	sum := 0.0
	for _, b := range boxes {
		sum += b.Center().Y
	}
	return sum / float64(len(boxes))
}

func medianBy(boxes []annotations.BoundingBox, f func(annotations.BoundingBox) float64) float64 {
	vals := make([]float64, len(boxes))
	for i, b := range boxes {
		vals[i] = f(b)
	}
	sort.Float64s(vals)
	return vals[len(vals)/2]
}

// DigitFields extracts every named digit field of the template from the
// rectified digit detections. Multi-row fields yield one string per
// detected row; single fields yield their first group. Fields with no
// qualifying detection are absent from the result, not an error.
func DigitFields(dets []annotations.Detection, fields []config.DigitField) map[string]any {
	out := make(map[string]any)
	for _, field := range fields {
		region := field.Region.Box()
		var inRegion []annotations.Detection
		for _, det := range dets {
			if region.Contains(det.Annotation.Bounds().Center()) {
				inRegion = append(inRegion, det)
			}
		}
		groups := GroupDigits(inRegion)
		if len(groups) == 0 {
			continue
		}
		if field.Multi {
			values := make([]string, len(groups))
			for i, g := range groups {
				values[i] = g.Value
			}
			out[field.Name] = values
		} else {
			out[field.Name] = groups[0].Value
		}
	}
	return out
}

// DrugCodes reads the multi-row drug code field.
func DrugCodes(dets []annotations.Detection, fields []config.DigitField) []string {
	return multiField(dets, fields, "codes")
}

// SurgicalTiming reads the surgical timing rows.
func SurgicalTiming(dets []annotations.Detection, fields []config.DigitField) []string {
	return multiField(dets, fields, "timing")
}

// ETTSize reads the endotracheal tube size field; empty when not legible.
func ETTSize(dets []annotations.Detection, fields []config.DigitField) string {
	for _, field := range fields {
		if field.Name != "ett_size" {
			continue
		}
		if v, ok := DigitFields(dets, []config.DigitField{field})[field.Name].(string); ok {
			return v
		}
	}
	return ""
}

func multiField(dets []annotations.Detection, fields []config.DigitField, name string) []string {
	for _, field := range fields {
		if field.Name != name {
			continue
		}
		if v, ok := DigitFields(dets, []config.DigitField{field})[name].([]string); ok {
			return v
		}
	}
	return nil
}
