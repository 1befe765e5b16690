// Package annotations holds the shared geometry types that every pipeline
// stage exchanges: bounding boxes, keypoints, and scored detections.
//
// All coordinates are real-valued pixels with the origin at the top-left
// corner, x increasing rightward and y increasing downward. Boxes are stored
// in corner form (left, top, right, bottom).
package annotations

import (
	"fmt"
	"log"
	"strconv"
	"strings"
)

// Point is a single (x, y) pixel position.
type Point struct {
	X float64
	Y float64
}

// BoundingBox is a labeled axis-aligned rectangle.
//
// A valid box always has Left <= Right and Top <= Bottom. A degenerate box
// (zero width or height) is permitted but logged, since downstream area
// computations treat it as empty.
type BoundingBox struct {
	Category string
	Left     float64
	Top      float64
	Right    float64
	Bottom   float64
}

// NewBoundingBox validates the corner ordering and returns the box.
func NewBoundingBox(category string, left, top, right, bottom float64) (BoundingBox, error) {
	if left > right {
		return BoundingBox{}, fmt.Errorf("bounding box %q has its left side greater than its right side (%v > %v)", category, left, right)
	}
	if top > bottom {
		return BoundingBox{}, fmt.Errorf("bounding box %q has its top side greater than its bottom side (%v > %v)", category, top, bottom)
	}
	if left == right || top == bottom {
		log.Printf("warning: bounding box %q is degenerate (left=%v top=%v right=%v bottom=%v)",
			category, left, top, right, bottom)
	}
	return BoundingBox{Category: category, Left: left, Top: top, Right: right, Bottom: bottom}, nil
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() Point {
	return Point{X: (b.Left + b.Right) / 2, Y: (b.Top + b.Bottom) / 2}
}

// Box returns the corners as an ordered (left, top, right, bottom) tuple.
func (b BoundingBox) Box() [4]float64 {
	return [4]float64{b.Left, b.Top, b.Right, b.Bottom}
}

// Width is the horizontal extent of the box.
func (b BoundingBox) Width() float64 { return b.Right - b.Left }

// Height is the vertical extent of the box.
func (b BoundingBox) Height() float64 { return b.Bottom - b.Top }

// Area is the pixel area of the box.
func (b BoundingBox) Area() float64 { return b.Width() * b.Height() }

// Contains reports whether p lies within the box, borders included.
func (b BoundingBox) Contains(p Point) bool {
	return p.X >= b.Left && p.X <= b.Right && p.Y >= b.Top && p.Y <= b.Bottom
}

// Bounds implements Annotation.
func (b BoundingBox) Bounds() BoundingBox { return b }

// Anchor implements Annotation; for a plain box it is the center.
func (b BoundingBox) Anchor() Point { return b.Center() }

// Keypoint binds a point of interest to its enclosing bounding box, as
// produced by single-keypoint pose detectors.
type Keypoint struct {
	Point Point
	Box   BoundingBox
}

// NewKeypoint validates that the point lies inside the box. A keypoint
// outside its own box is a hard construction error.
func NewKeypoint(p Point, box BoundingBox) (Keypoint, error) {
	if !box.Contains(p) {
		return Keypoint{}, fmt.Errorf("keypoint (%v, %v) is not in the bounding box [%v, %v, %v, %v]",
			p.X, p.Y, box.Left, box.Top, box.Right, box.Bottom)
	}
	return Keypoint{Point: p, Box: box}, nil
}

// Bounds implements Annotation.
func (k Keypoint) Bounds() BoundingBox { return k.Box }

// Anchor implements Annotation; for a keypoint it is the point itself.
func (k Keypoint) Anchor() Point { return k.Point }

// Annotation is either a BoundingBox or a Keypoint. Stages that only care
// about spatial extent use Bounds; stages that want the most precise single
// position use Anchor.
type Annotation interface {
	Bounds() BoundingBox
	Anchor() Point
}

// Detection pairs an annotation with its confidence score in [0, 1].
// Detections are immutable once produced; transforms build new values.
type Detection struct {
	Annotation Annotation
	Confidence float64
}

// NewDetection validates the confidence range.
func NewDetection(a Annotation, confidence float64) (Detection, error) {
	if confidence < 0 || confidence > 1 {
		return Detection{}, fmt.Errorf("confidence %v is outside [0, 1]", confidence)
	}
	return Detection{Annotation: a, Confidence: confidence}, nil
}

// Category is a shortcut for the category of the underlying annotation.
func (d Detection) Category() string { return d.Annotation.Bounds().Category }

// BoxFromYOLO parses a "class xc yc w h" line with normalized coordinates
// into a BoundingBox in pixel coordinates.
func BoxFromYOLO(line string, imageWidth, imageHeight int, idToCategory map[int]string) (BoundingBox, error) {
	fields := strings.Fields(line)
	if len(fields) != 5 {
		return BoundingBox{}, fmt.Errorf("yolo box line has %d fields, want 5: %q", len(fields), line)
	}
	vals, category, err := parseYOLOFields(fields, idToCategory)
	if err != nil {
		return BoundingBox{}, err
	}
	l, t, r, b := denormalizeYOLOBox(vals, imageWidth, imageHeight)
	return NewBoundingBox(category, l, t, r, b)
}

// KeypointFromYOLO parses a "class xc yc w h kpx kpy" line with normalized
// coordinates into a Keypoint in pixel coordinates.
func KeypointFromYOLO(line string, imageWidth, imageHeight int, idToCategory map[int]string) (Keypoint, error) {
	fields := strings.Fields(line)
	if len(fields) != 7 {
		return Keypoint{}, fmt.Errorf("yolo keypoint line has %d fields, want 7: %q", len(fields), line)
	}
	vals, category, err := parseYOLOFields(fields, idToCategory)
	if err != nil {
		return Keypoint{}, err
	}
	l, t, r, b := denormalizeYOLOBox(vals, imageWidth, imageHeight)
	box, err := NewBoundingBox(category, l, t, r, b)
	if err != nil {
		return Keypoint{}, err
	}
	return NewKeypoint(Point{
		X: vals[4] * float64(imageWidth),
		Y: vals[5] * float64(imageHeight),
	}, box)
}

// ToYOLO serializes the box as a normalized "class xc yc w h" line.
func (b BoundingBox) ToYOLO(imageWidth, imageHeight int, categoryToID map[string]int, precision int) (string, error) {
	id, ok := categoryToID[b.Category]
	if !ok {
		return "", fmt.Errorf("category %q not found in the category_to_id dictionary", b.Category)
	}
	c := b.Center()
	return fmt.Sprintf("%d %.*f %.*f %.*f %.*f",
		id,
		precision, c.X/float64(imageWidth),
		precision, c.Y/float64(imageHeight),
		precision, b.Width()/float64(imageWidth),
		precision, b.Height()/float64(imageHeight)), nil
}

// ToYOLO serializes the keypoint as a normalized "class xc yc w h kpx kpy" line.
func (k Keypoint) ToYOLO(imageWidth, imageHeight int, categoryToID map[string]int, precision int) (string, error) {
	boxPart, err := k.Box.ToYOLO(imageWidth, imageHeight, categoryToID, precision)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %.*f %.*f",
		boxPart,
		precision, k.Point.X/float64(imageWidth),
		precision, k.Point.Y/float64(imageHeight)), nil
}

func parseYOLOFields(fields []string, idToCategory map[int]string) ([]float64, string, error) {
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, "", fmt.Errorf("invalid class id %q: %w", fields[0], err)
	}
	category, ok := idToCategory[id]
	if !ok {
		return nil, "", fmt.Errorf("class id %d not found in the id_to_category dictionary", id)
	}
	vals := make([]float64, len(fields)-1)
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, "", fmt.Errorf("invalid coordinate %q: %w", f, err)
		}
		vals[i] = v
	}
	return vals, category, nil
}

func denormalizeYOLOBox(vals []float64, imageWidth, imageHeight int) (l, t, r, b float64) {
	w := float64(imageWidth)
	h := float64(imageHeight)
	l = (vals[0] - vals[2]/2) * w
	t = (vals[1] - vals[3]/2) * h
	r = (vals[0] + vals[2]/2) * w
	b = (vals[1] + vals[3]/2) * h
	return l, t, r, b
}
