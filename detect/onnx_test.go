package detect

import (
	"math"
	"testing"

	"github.com/openanesth/chart-digitizer/annotations"
)

// rawTensor builds a channels-first (attrs x anchors) prediction tensor.
func rawTensor(attrs, anchors int, set func(attr, anchor int) float32) []float32 {
	raw := make([]float32, attrs*anchors)
	for a := 0; a < attrs; a++ {
		for i := 0; i < anchors; i++ {
			raw[a*anchors+i] = set(a, i)
		}
	}
	return raw
}

func TestOnnxDetectorDecode(t *testing.T) {
	anchors := yoloAnchorCount(32, 32)
	d := &OnnxDetector{
		inputWidth:  32,
		inputHeight: 32,
		anchors:     anchors,
		classes:     map[int]string{0: "digit", 1: "checked"},
	}

	raw := rawTensor(6, anchors, func(attr, anchor int) float32 {
		if anchor != 0 {
			return 0
		}
		switch attr {
		case 0:
			return 16 // x center
		case 1:
			return 16 // y center
		case 2, 3:
			return 8 // width, height
		case 5:
			return 0.9 // class 1 score
		}
		return 0
	})

	dets, err := d.Decode(raw, 0.5)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("got %d detections, want 1", len(dets))
	}
	det := dets[0]
	if det.Category() != "checked" {
		t.Errorf("category = %q, want checked", det.Category())
	}
	if math.Abs(det.Confidence-0.9) > 1e-6 {
		t.Errorf("confidence = %v, want 0.9", det.Confidence)
	}
	box := det.Annotation.Bounds()
	want := annotations.BoundingBox{Category: "checked", Left: 12, Top: 12, Right: 20, Bottom: 20}
	if box != want {
		t.Errorf("box = %+v, want %+v", box, want)
	}
}

func TestOnnxDetectorDecodeClampsToInput(t *testing.T) {
	anchors := yoloAnchorCount(32, 32)
	d := &OnnxDetector{
		inputWidth:  32,
		inputHeight: 32,
		anchors:     anchors,
		classes:     map[int]string{0: "digit"},
	}

	raw := rawTensor(5, anchors, func(attr, anchor int) float32 {
		if anchor != 0 {
			return 0
		}
		switch attr {
		case 0, 1:
			return 2 // center near the corner
		case 2, 3:
			return 12 // box extends past the input edge
		case 4:
			return 0.7
		}
		return 0
	})

	dets, err := d.Decode(raw, 0.5)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	box := dets[0].Annotation.Bounds()
	if box.Left != 0 || box.Top != 0 {
		t.Errorf("box not clamped: %+v", box)
	}
}

func TestOnnxDetectorDecodeZeroThresholdSkipsEmptyAnchors(t *testing.T) {
	anchors := yoloAnchorCount(32, 32)
	d := &OnnxDetector{
		inputWidth:  32,
		inputHeight: 32,
		anchors:     anchors,
		classes:     map[int]string{0: "digit"},
	}

	// One real prediction among all-zero anchors; a zero threshold must
	// skip the empty anchors rather than fail on them.
	raw := rawTensor(5, anchors, func(attr, anchor int) float32 {
		if anchor != 3 {
			return 0
		}
		switch attr {
		case 0, 1:
			return 16
		case 2, 3:
			return 8
		case 4:
			return 0.6
		}
		return 0
	})

	dets, err := d.Decode(raw, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("got %d detections, want 1", len(dets))
	}
	if dets[0].Category() != "digit" {
		t.Errorf("category = %q, want digit", dets[0].Category())
	}
}

func TestOnnxDetectorDecodeRejectsBadLength(t *testing.T) {
	d := &OnnxDetector{inputWidth: 32, inputHeight: 32, anchors: 21, classes: map[int]string{0: "digit"}}
	if _, err := d.Decode(make([]float32, 7), 0.5); err == nil {
		t.Error("short tensor accepted")
	}
}

func TestOnnxPoseDecode(t *testing.T) {
	anchors := yoloAnchorCount(32, 32)
	p := &OnnxPose{
		inputWidth:  32,
		inputHeight: 32,
		anchors:     anchors,
		category:    "systolic",
	}

	raw := rawTensor(poseAttrs, anchors, func(attr, anchor int) float32 {
		if anchor != 0 {
			return 0
		}
		switch attr {
		case 0, 1:
			return 16
		case 2, 3:
			return 8
		case 4:
			return 0.8
		case 5:
			return 30 // keypoint x outside the box, clamps to Right
		case 6:
			return 14
		}
		return 0
	})

	dets, err := p.Decode(raw, 0.5)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("got %d detections, want 1", len(dets))
	}
	kp, ok := dets[0].Annotation.(annotations.Keypoint)
	if !ok {
		t.Fatalf("annotation is %T, want Keypoint", dets[0].Annotation)
	}
	if kp.Point.X != 20 || kp.Point.Y != 14 {
		t.Errorf("keypoint = %+v, want (20, 14)", kp.Point)
	}
	if !kp.Box.Contains(kp.Point) {
		t.Error("keypoint escaped its box")
	}
	if dets[0].Category() != "systolic" {
		t.Errorf("category = %q, want systolic", dets[0].Category())
	}
}
