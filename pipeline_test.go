package main

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/openanesth/chart-digitizer/annotations"
	"github.com/openanesth/chart-digitizer/config"
	"github.com/openanesth/chart-digitizer/detect"
)

// stubBackend returns a fixed detection list for every tile, in backend
// input coordinates.
type stubBackend struct {
	width, height int
	dets          []annotations.Detection
}

func (b *stubBackend) InputWidth() int  { return b.width }
func (b *stubBackend) InputHeight() int { return b.height }

func (b *stubBackend) Run(input []float32) ([]float32, error) { return nil, nil }

func (b *stubBackend) Decode(raw []float32, confThreshold float64) ([]annotations.Detection, error) {
	var out []annotations.Detection
	for _, det := range b.dets {
		if det.Confidence >= confThreshold {
			out = append(out, det)
		}
	}
	return out, nil
}

func (b *stubBackend) Destroy() {}

func cornerDet(category string, x, y float64) annotations.Detection {
	return annotations.Detection{
		Annotation: annotations.BoundingBox{
			Category: category,
			Left:     x - 5, Top: y - 5, Right: x + 5, Bottom: y + 5,
		},
		Confidence: 0.9,
	}
}

func intraopTemplate() config.Template {
	corner := func(category string, cx, cy float64) config.Region {
		return config.Region{Category: category, Left: cx - 10, Top: cy - 10, Right: cx + 10, Bottom: cy + 10}
	}
	return config.Template{
		Name:         TemplateIntraop,
		CanvasWidth:  400,
		CanvasHeight: 400,
		CornerNames:  []string{"anesthesia_start", "safety_checklist", "lateral", "units"},
		Landmarks: []config.Region{
			corner("anesthesia_start", 40, 40),
			corner("safety_checklist", 360, 40),
			corner("lateral", 40, 360),
			corner("units", 360, 360),
		},
		TimeLegendRegion: config.Region{Category: "time_legend", Left: 50, Top: 180, Right: 350, Bottom: 220},
		MMHGLegendRegion: config.Region{Category: "mmhg_legend", Left: 180, Top: 50, Right: 220, Bottom: 350},
		TimeAxis:         config.AxisSpec{First: 0, Last: 180, CandidateCounts: []int{40, 41, 42}},
		MMHGAxis:         config.AxisSpec{First: 200, Last: 30, CandidateCounts: []int{18, 19, 20}},
	}
}

func landmarkModelConfig() config.ModelConfig {
	return config.ModelConfig{
		Name:               ModelIntraopLandmarks,
		WeightsPath:        "unused.onnx",
		InputWidth:         100,
		InputHeight:        100,
		TileSizeProportion: 1.0,
		ConfThreshold:      0.5,
		NMSIoUThreshold:    0.5,
	}
}

func grayImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	img.SetNRGBA(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	return img
}

func newTestPipeline(t *testing.T, backend detect.Backend) *Pipeline {
	t.Helper()
	registry, err := detect.NewMockRegistry(
		map[string]config.ModelConfig{ModelIntraopLandmarks: landmarkModelConfig()},
		map[string]detect.Backend{ModelIntraopLandmarks: backend},
	)
	if err != nil {
		t.Fatalf("NewMockRegistry: %v", err)
	}
	t.Cleanup(registry.Destroy)
	cfg := &config.Config{Templates: map[string]config.Template{TemplateIntraop: intraopTemplate()}}
	return NewPipeline(cfg, registry)
}

func TestDigitizeIntraopRectifies(t *testing.T) {
	// The 200x200 scan maps onto the 400x400 canvas by a pure 2x scale:
	// corners at image (20,20)..(180,180) against template centers at
	// (40,40)..(360,360). One 200px tile resized to the 100px input puts
	// the stub's detections at input coordinates (10,10)..(90,90).
	backend := &stubBackend{
		width:  100,
		height: 100,
		dets: []annotations.Detection{
			cornerDet("anesthesia_start", 10, 10),
			cornerDet("safety_checklist", 90, 10),
			cornerDet("lateral", 10, 90),
			cornerDet("units", 90, 90),
		},
	}
	p := newTestPipeline(t, backend)

	timings := &ProcessingTimings{}
	rec, arts, err := p.DigitizeIntraop(context.Background(), grayImage(200, 200), timings)
	if err != nil {
		t.Fatalf("DigitizeIntraop: %v", err)
	}
	if rec.Degraded != "" {
		t.Errorf("record degraded: %s", rec.Degraded)
	}
	if arts.Rectified == nil {
		t.Fatal("no rectified canvas")
	}
	if b := arts.Rectified.Bounds(); b.Dx() != 400 || b.Dy() != 400 {
		t.Errorf("canvas is %dx%d, want 400x400", b.Dx(), b.Dy())
	}
	// The second landmark pass ran on the canvas.
	if len(arts.Detections) != 4 {
		t.Errorf("got %d canvas detections, want 4", len(arts.Detections))
	}
	// Absent detectors fail soft to absent fields.
	if len(rec.Codes) != 0 || rec.ETTSize != "" || len(rec.Checkboxes) != 0 {
		t.Errorf("fields without detectors must be absent: %+v", rec)
	}
	if len(rec.BPAndHR.Systolic) != 0 {
		t.Errorf("unexpected systolic series: %+v", rec.BPAndHR.Systolic)
	}
}

func TestDigitizeIntraopDegradesOnMissingCorners(t *testing.T) {
	// Three corners only; the side degrades to a resize instead of failing.
	backend := &stubBackend{
		width:  100,
		height: 100,
		dets: []annotations.Detection{
			cornerDet("anesthesia_start", 10, 10),
			cornerDet("safety_checklist", 90, 10),
			cornerDet("lateral", 10, 90),
		},
	}
	p := newTestPipeline(t, backend)

	rec, arts, err := p.DigitizeIntraop(context.Background(), grayImage(200, 200), &ProcessingTimings{})
	if err != nil {
		t.Fatalf("DigitizeIntraop: %v", err)
	}
	if rec.Degraded == "" {
		t.Error("record must carry the degradation reason")
	}
	if arts.Rectified != nil {
		t.Error("degraded side must not be exported as training feedback")
	}
}

func TestDigitizeRequiresConfiguredTemplate(t *testing.T) {
	registry, err := detect.NewMockRegistry(nil, nil)
	if err != nil {
		t.Fatalf("NewMockRegistry: %v", err)
	}
	t.Cleanup(registry.Destroy)
	p := NewPipeline(&config.Config{}, registry)

	_, _, err = p.DigitizeIntraop(context.Background(), grayImage(50, 50), &ProcessingTimings{})
	if err == nil {
		t.Fatal("missing template accepted")
	}
}
