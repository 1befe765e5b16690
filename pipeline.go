package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"time"

	"github.com/disintegration/imaging"

	"github.com/openanesth/chart-digitizer/annotations"
	"github.com/openanesth/chart-digitizer/config"
	"github.com/openanesth/chart-digitizer/detect"
	"github.com/openanesth/chart-digitizer/extract"
	"github.com/openanesth/chart-digitizer/legend"
	"github.com/openanesth/chart-digitizer/registration"
	"github.com/openanesth/chart-digitizer/tiling"
)

// Model names the pipeline expects in the configuration. The landmark models
// detect corner and legend printing; the rest detect handwriting.
const (
	ModelIntraopLandmarks = "intraop_landmarks"
	ModelPreopLandmarks   = "preop_landmarks"
	ModelDigits           = "digits"
	ModelCheckboxes       = "checkboxes"
	ModelSystolic         = "systolic"
	ModelDiastolic        = "diastolic"
	ModelHeartRate        = "heart_rate"
)

// Template names for the two document sides.
const (
	TemplateIntraop     = "intraoperative"
	TemplatePreopPostop = "preoperative_postoperative"
)

// Checkbox detections overlap the printed grid heavily, so suppression only
// collapses near-exact duplicates.
const checkboxIoUThreshold = 0.8

const (
	unitMinutes = "mins"
	unitMMHG    = "mmhg"
)

// ProcessingTimings accumulates per-stage durations across the sides of one
// request, for the DEBUG timing log.
type ProcessingTimings struct {
	RequestID     string
	ImageDecode   time.Duration
	Rectification time.Duration
	Landmarks     time.Duration
	Legend        time.Duration
	Markers       time.Duration
	Digits        time.Duration
	Checkboxes    time.Duration
	Total         time.Duration
}

// SideArtifacts carries the byproducts of digitizing one side: the rectified
// canvas (nil when rectification degraded) and every detection on it, for
// the training-feedback export.
type SideArtifacts struct {
	Rectified  *image.NRGBA
	Detections []annotations.Detection
}

// Pipeline runs the full digitization flow over the model registry.
type Pipeline struct {
	registry  *detect.Registry
	templates map[string]config.Template
}

func NewPipeline(cfg *config.Config, registry *detect.Registry) *Pipeline {
	return &Pipeline{registry: registry, templates: cfg.Templates}
}

// Digitize processes whichever sides of the chart were uploaded. Either
// image may be nil.
func (p *Pipeline) Digitize(
	ctx context.Context,
	intraop, preopPostop image.Image,
	timings *ProcessingTimings,
) (*extract.Record, map[string]*SideArtifacts, error) {
	record := &extract.Record{}
	artifacts := make(map[string]*SideArtifacts, 2)

	if intraop != nil {
		rec, arts, err := p.DigitizeIntraop(ctx, intraop, timings)
		if err != nil {
			return nil, nil, err
		}
		record.Intraoperative = rec
		artifacts[TemplateIntraop] = arts
	}
	if preopPostop != nil {
		rec, arts, err := p.DigitizePreopPostop(ctx, preopPostop, timings)
		if err != nil {
			return nil, nil, err
		}
		record.PreopPostop = rec
		artifacts[TemplatePreopPostop] = arts
	}
	return record, artifacts, nil
}

// DigitizeIntraop digitizes the intraoperative side. Landmark detection runs
// twice: once on the raw scan to solve the homography, then again on the
// rectified canvas so the legend ticks land at template coordinates.
func (p *Pipeline) DigitizeIntraop(
	ctx context.Context,
	img image.Image,
	timings *ProcessingTimings,
) (*extract.IntraoperativeRecord, *SideArtifacts, error) {
	tpl, err := p.template(TemplateIntraop)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	canvas, degraded, err := p.rectify(ctx, ModelIntraopLandmarks, tpl, img)
	timings.Rectification += time.Since(start)
	if err != nil {
		return nil, nil, err
	}

	start = time.Now()
	landmarks := p.optionalModel(ctx, ModelIntraopLandmarks, canvas, 0)
	timings.Landmarks += time.Since(start)

	start = time.Now()
	timeBoxes, mmhgBoxes := legend.IsolateLegend(
		landmarks, tpl.TimeLegendRegion.Box(), tpl.MMHGLegendRegion.Box())
	timeClusters := clusterAxis(timeBoxes, legend.Horizontal, unitMinutes, tpl.TimeAxis)
	mmhgClusters := clusterAxis(mmhgBoxes, legend.Vertical, unitMMHG, tpl.MMHGAxis)
	timings.Legend += time.Since(start)

	start = time.Now()
	var markers []annotations.Detection
	for _, name := range []string{ModelSystolic, ModelDiastolic, ModelHeartRate} {
		markers = append(markers, p.optionalModel(ctx, name, canvas, 0)...)
	}
	timings.Markers += time.Since(start)

	start = time.Now()
	digits := p.optionalModel(ctx, ModelDigits, canvas, 0)
	timings.Digits += time.Since(start)

	start = time.Now()
	checkboxes := p.optionalModel(ctx, ModelCheckboxes, canvas, checkboxIoUThreshold)
	timings.Checkboxes += time.Since(start)

	record := &extract.IntraoperativeRecord{
		Codes:      extract.DrugCodes(digits, tpl.DigitFields),
		Timing:     extract.SurgicalTiming(digits, tpl.DigitFields),
		ETTSize:    extract.ETTSize(digits, tpl.DigitFields),
		BPAndHR:    extract.HeartRateAndBloodPressure(markers, timeClusters, mmhgClusters),
		Checkboxes: extract.Checkboxes(checkboxes, tpl.Checkboxes),
		Degraded:   degraded,
	}

	arts := &SideArtifacts{
		Detections: concatDetections(landmarks, markers, digits, checkboxes),
	}
	if degraded == "" {
		arts.Rectified = canvas
	}
	return record, arts, nil
}

// DigitizePreopPostop digitizes the preoperative/postoperative side, which
// has no legend: one landmark pass for rectification, then digit and
// checkbox detection on the canvas.
func (p *Pipeline) DigitizePreopPostop(
	ctx context.Context,
	img image.Image,
	timings *ProcessingTimings,
) (*extract.PreopPostopRecord, *SideArtifacts, error) {
	tpl, err := p.template(TemplatePreopPostop)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	canvas, degraded, err := p.rectify(ctx, ModelPreopLandmarks, tpl, img)
	timings.Rectification += time.Since(start)
	if err != nil {
		return nil, nil, err
	}

	start = time.Now()
	digits := p.optionalModel(ctx, ModelDigits, canvas, 0)
	timings.Digits += time.Since(start)

	start = time.Now()
	checkboxes := p.optionalModel(ctx, ModelCheckboxes, canvas, checkboxIoUThreshold)
	timings.Checkboxes += time.Since(start)

	record := &extract.PreopPostopRecord{
		DigitFields: extract.DigitFields(digits, tpl.DigitFields),
		Checkboxes:  extract.Checkboxes(checkboxes, tpl.Checkboxes),
		Degraded:    degraded,
	}

	arts := &SideArtifacts{Detections: concatDetections(digits, checkboxes)}
	if degraded == "" {
		arts.Rectified = canvas
	}
	return record, arts, nil
}

// rectify maps one scanned side onto the canonical canvas. A missing corner
// landmark degrades to a plain resize instead of failing the side; the
// returned string carries the degradation reason.
func (p *Pipeline) rectify(
	ctx context.Context,
	modelName string,
	tpl config.Template,
	img image.Image,
) (*image.NRGBA, string, error) {
	dets, err := p.runModel(ctx, modelName, img, 0)
	if err != nil {
		return nil, "", err
	}

	h, err := registration.ComputeHomography(dets, tpl.CornerNames, tpl.LandmarkBoxes())
	var geo *annotations.GeometryError
	if errors.As(err, &geo) {
		geo.Side = tpl.Name
		log.Printf("rectification degraded for %q: %v", tpl.Name, geo)
		resized := imaging.Resize(img, tpl.CanvasWidth, tpl.CanvasHeight, imaging.Linear)
		return resized, geo.Error(), nil
	}
	if err != nil {
		return nil, "", err
	}

	canvas, err := registration.WarpImage(img, h, tpl.CanvasWidth, tpl.CanvasHeight)
	if err != nil {
		return nil, "", err
	}
	return canvas, "", nil
}

// runModel executes tiled detection with the named model's configured tiling
// parameters. A positive iouOverride replaces the configured NMS threshold.
func (p *Pipeline) runModel(
	ctx context.Context,
	name string,
	img image.Image,
	iouOverride float64,
) ([]annotations.Detection, error) {
	mc, err := p.registry.Config(name)
	if err != nil {
		return nil, err
	}
	backend, err := p.registry.Acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	defer p.registry.Release(name, backend)

	bounds := img.Bounds()
	tile := tiling.TileSize(bounds.Dx(), bounds.Dy(), mc.TileSizeProportion)
	iou := mc.NMSIoUThreshold
	if iouOverride > 0 {
		iou = iouOverride
	}
	return tiling.Detect(img, backend,
		tile, tile, mc.HorzOverlap, mc.VertOverlap, mc.ConfThreshold, iou)
}

// optionalModel is runModel with fail-soft semantics: extraction stages that
// lose their detector produce absent fields, not a failed request.
func (p *Pipeline) optionalModel(
	ctx context.Context,
	name string,
	img image.Image,
	iouOverride float64,
) []annotations.Detection {
	dets, err := p.runModel(ctx, name, img, iouOverride)
	if err != nil {
		log.Printf("model %q skipped: %v", name, err)
		return nil
	}
	return dets
}

func (p *Pipeline) template(name string) (config.Template, error) {
	tpl, ok := p.templates[name]
	if !ok {
		return config.Template{}, fmt.Errorf("%w: template %q is not configured",
			config.ErrConfiguration, name)
	}
	return tpl, nil
}

func clusterAxis(
	boxes []annotations.BoundingBox,
	axis legend.Axis,
	unit string,
	spec config.AxisSpec,
) []legend.Cluster {
	clusters, err := legend.ClusterBoxes(boxes, axis, unit, spec.CandidateCounts)
	if err != nil {
		log.Printf("legend clustering for %s axis skipped: %v", unit, err)
		return nil
	}
	return legend.AssignValues(clusters, spec.First, spec.Last)
}

func concatDetections(lists ...[]annotations.Detection) []annotations.Detection {
	var n int
	for _, l := range lists {
		n += len(l)
	}
	out := make([]annotations.Detection, 0, n)
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
