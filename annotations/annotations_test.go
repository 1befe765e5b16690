package annotations

import (
	"strings"
	"testing"
)

func TestNewBoundingBox(t *testing.T) {
	b, err := NewBoundingBox("test", 0, 0, 1, 1)
	if err != nil {
		t.Fatalf("NewBoundingBox returned error: %v", err)
	}
	if b.Category != "test" {
		t.Errorf("category = %q, want %q", b.Category, "test")
	}
}

func TestNewBoundingBoxLeftGreaterThanRight(t *testing.T) {
	_, err := NewBoundingBox("test", 1, 0, 0, 1)
	if err == nil || !strings.Contains(err.Error(), "left side greater than its right side") {
		t.Fatalf("want left>right error, got %v", err)
	}
}

func TestNewBoundingBoxTopGreaterThanBottom(t *testing.T) {
	_, err := NewBoundingBox("test", 0, 1, 1, 0)
	if err == nil || !strings.Contains(err.Error(), "top side greater than its bottom side") {
		t.Fatalf("want top>bottom error, got %v", err)
	}
}

func TestNewBoundingBoxDegenerateIsNotAnError(t *testing.T) {
	if _, err := NewBoundingBox("test", 0, 0, 0, 1); err != nil {
		t.Errorf("zero-width box should not error, got %v", err)
	}
	if _, err := NewBoundingBox("test", 0, 0, 1, 0); err != nil {
		t.Errorf("zero-height box should not error, got %v", err)
	}
	if _, err := NewBoundingBox("test", 0, 0, 0, 0); err != nil {
		t.Errorf("collapsed box should not error, got %v", err)
	}
}

func TestBoundingBoxCenter(t *testing.T) {
	b := BoundingBox{Category: "test", Left: 0, Top: 0, Right: 1, Bottom: 1}
	if c := b.Center(); c.X != 0.5 || c.Y != 0.5 {
		t.Errorf("center = %v, want (0.5, 0.5)", c)
	}
}

func TestBoundingBoxBox(t *testing.T) {
	b := BoundingBox{Category: "test", Left: 0, Top: 0, Right: 1, Bottom: 1}
	if got := b.Box(); got != [4]float64{0, 0, 1, 1} {
		t.Errorf("box = %v, want [0 0 1 1]", got)
	}
}

func TestNewKeypoint(t *testing.T) {
	box := BoundingBox{Category: "test", Left: 0, Top: 0, Right: 1, Bottom: 1}
	kp, err := NewKeypoint(Point{X: 0.25, Y: 0.25}, box)
	if err != nil {
		t.Fatalf("NewKeypoint returned error: %v", err)
	}
	if kp.Anchor() != (Point{X: 0.25, Y: 0.25}) {
		t.Errorf("anchor = %v, want (0.25, 0.25)", kp.Anchor())
	}
}

func TestNewKeypointOutOfBounds(t *testing.T) {
	cases := []struct {
		name string
		p    Point
		box  BoundingBox
	}{
		{"left of box", Point{1, 1}, BoundingBox{Category: "test", Left: 2, Top: 0, Right: 3, Bottom: 2}},
		{"right of box", Point{4, 1}, BoundingBox{Category: "test", Left: 2, Top: 0, Right: 3, Bottom: 2}},
		{"above box", Point{1, 1}, BoundingBox{Category: "test", Left: 0, Top: 2, Right: 2, Bottom: 3}},
		{"below box", Point{1, 4}, BoundingBox{Category: "test", Left: 0, Top: 2, Right: 2, Bottom: 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewKeypoint(tc.p, tc.box)
			if err == nil || !strings.Contains(err.Error(), "not in the bounding box") {
				t.Fatalf("want out-of-bounds error, got %v", err)
			}
		})
	}
}

func TestNewDetectionConfidenceRange(t *testing.T) {
	box := BoundingBox{Category: "test", Left: 0, Top: 0, Right: 1, Bottom: 1}
	if _, err := NewDetection(box, 0.5); err != nil {
		t.Errorf("valid confidence rejected: %v", err)
	}
	if _, err := NewDetection(box, 1.5); err == nil {
		t.Error("confidence above 1 accepted")
	}
	if _, err := NewDetection(box, -0.1); err == nil {
		t.Error("negative confidence accepted")
	}
}

func TestBoxFromYOLO(t *testing.T) {
	got, err := BoxFromYOLO("0 0.25 0.25 0.5 0.5", 2, 2, map[int]string{0: "test"})
	if err != nil {
		t.Fatalf("BoxFromYOLO returned error: %v", err)
	}
	want := BoundingBox{Category: "test", Left: 0, Top: 0, Right: 1, Bottom: 1}
	if got != want {
		t.Errorf("box = %+v, want %+v", got, want)
	}
}

func TestBoxFromYOLOUnknownClass(t *testing.T) {
	_, err := BoxFromYOLO("0 0.25 0.25 0.5 0.5", 2, 2, map[int]string{1: "test"})
	if err == nil || !strings.Contains(err.Error(), "not found in the id_to_category dictionary") {
		t.Fatalf("want unknown-class error, got %v", err)
	}
}

func TestKeypointFromYOLO(t *testing.T) {
	got, err := KeypointFromYOLO("0 0.25 0.25 0.5 0.5 0.125 0.125", 2, 2, map[int]string{0: "test"})
	if err != nil {
		t.Fatalf("KeypointFromYOLO returned error: %v", err)
	}
	want := Keypoint{
		Point: Point{X: 0.25, Y: 0.25},
		Box:   BoundingBox{Category: "test", Left: 0, Top: 0, Right: 1, Bottom: 1},
	}
	if got != want {
		t.Errorf("keypoint = %+v, want %+v", got, want)
	}
}

func TestBoxToYOLORoundTrip(t *testing.T) {
	b := BoundingBox{Category: "test", Left: 0, Top: 0, Right: 1, Bottom: 1}
	line, err := b.ToYOLO(2, 2, map[string]int{"test": 0}, 3)
	if err != nil {
		t.Fatalf("ToYOLO returned error: %v", err)
	}
	if line != "0 0.250 0.250 0.500 0.500" {
		t.Errorf("line = %q", line)
	}
}

func TestKeypointToYOLO(t *testing.T) {
	kp := Keypoint{
		Point: Point{X: 0.25, Y: 0.25},
		Box:   BoundingBox{Category: "test", Left: 0, Top: 0, Right: 1, Bottom: 1},
	}
	line, err := kp.ToYOLO(2, 2, map[string]int{"test": 0}, 3)
	if err != nil {
		t.Fatalf("ToYOLO returned error: %v", err)
	}
	if line != "0 0.250 0.250 0.500 0.500 0.125 0.125" {
		t.Errorf("line = %q", line)
	}
}
