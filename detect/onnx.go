package detect

import (
	"fmt"
	"math"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/openanesth/chart-digitizer/annotations"
	"github.com/openanesth/chart-digitizer/config"
)

// onnxSession owns one ONNX Runtime session with its fixed input and output
// tensors. Sessions are not safe for concurrent use; the pool hands each one
// to a single caller at a time.
type onnxSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func newOnnxSession(weightsPath string, inputWidth, inputHeight, outputAttrs, anchors int) (*onnxSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	defer options.Destroy()

	inputShape := ort.NewShape(1, 3, int64(inputHeight), int64(inputWidth))
	outputShape := ort.NewShape(1, int64(outputAttrs), int64(anchors))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("creating input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		weightsPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return &onnxSession{session: session, input: inputTensor, output: outputTensor}, nil
}

// run copies input into the session tensor and executes inference, retrying
// transient failures with linear backoff.
func (s *onnxSession) run(input []float32) ([]float32, error) {
	data := s.input.GetData()
	if len(input) != len(data) {
		return nil, &ProcessingError{
			Message: fmt.Sprintf("input tensor length mismatch: got %d, want %d", len(input), len(data)),
		}
	}
	copy(data, input)

	var lastErr error
	for attempt := 1; attempt <= RetryAttempts; attempt++ {
		if err := s.session.Run(); err != nil {
			lastErr = err
			if attempt < RetryAttempts {
				time.Sleep(time.Duration(attempt) * RetryDelayMs * time.Millisecond)
			}
			continue
		}
		return s.output.GetData(), nil
	}
	return nil, &ProcessingError{Message: "model inference", Cause: lastErr}
}

func (s *onnxSession) destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
}

// OnnxDetector wraps a YOLO box-detection model. The raw output layout is
// channels-first: anchors columns by (x, y, w, h, class scores...) rows,
// with coordinates in input-resolution pixels.
type OnnxDetector struct {
	sess        *onnxSession
	inputWidth  int
	inputHeight int
	anchors     int
	classes     map[int]string
}

// NewOnnxDetector loads the model weights and class map for a box detector.
func NewOnnxDetector(cfg config.ModelConfig) (*OnnxDetector, error) {
	classes, err := config.LoadClasses(cfg.ClassesPath)
	if err != nil {
		return nil, fmt.Errorf("%w: model %q: %v", ErrModelLoad, cfg.Name, err)
	}
	anchors := yoloAnchorCount(cfg.InputWidth, cfg.InputHeight)
	sess, err := newOnnxSession(cfg.WeightsPath, cfg.InputWidth, cfg.InputHeight, 4+len(classes), anchors)
	if err != nil {
		return nil, fmt.Errorf("%w: model %q: %v", ErrModelLoad, cfg.Name, err)
	}
	return &OnnxDetector{
		sess:        sess,
		inputWidth:  cfg.InputWidth,
		inputHeight: cfg.InputHeight,
		anchors:     anchors,
		classes:     classes,
	}, nil
}

func (d *OnnxDetector) InputWidth() int  { return d.inputWidth }
func (d *OnnxDetector) InputHeight() int { return d.inputHeight }

func (d *OnnxDetector) Run(input []float32) ([]float32, error) { return d.sess.run(input) }

func (d *OnnxDetector) Destroy() { d.sess.destroy() }

// Decode filters the raw prediction tensor by confidence and converts
// center-form boxes to corner form, clamped to the input bounds.
func (d *OnnxDetector) Decode(raw []float32, confThreshold float64) ([]annotations.Detection, error) {
	n := d.anchors
	attrs := 4 + len(d.classes)
	if len(raw) != attrs*n {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(raw), attrs*n)
	}

	var dets []annotations.Detection
	for i := 0; i < n; i++ {
		bestClass := -1
		bestScore := float64(0)
		for c := 0; c < len(d.classes); c++ {
			if score := float64(raw[(4+c)*n+i]); score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		// bestClass stays -1 for an all-zero anchor when the threshold
		// is 0; such anchors carry no prediction.
		if bestClass < 0 || bestScore < confThreshold {
			continue
		}
		category, ok := d.classes[bestClass]
		if !ok {
			return nil, fmt.Errorf("class id %d not found in the class map", bestClass)
		}
		box := cornerForm(category,
			float64(raw[i]), float64(raw[n+i]), float64(raw[2*n+i]), float64(raw[3*n+i]),
			float64(d.inputWidth), float64(d.inputHeight))
		dets = append(dets, annotations.Detection{Annotation: box, Confidence: math.Min(bestScore, 1)})
	}
	return dets, nil
}

// OnnxPose wraps a single-class, single-keypoint YOLO pose model. The raw
// output rows are (x, y, w, h, confidence, kp_x, kp_y).
type OnnxPose struct {
	sess        *onnxSession
	inputWidth  int
	inputHeight int
	anchors     int
	category    string
}

const poseAttrs = 7

// NewOnnxPose loads the model weights for a single-keypoint pose detector.
// The class map must contain exactly one category.
func NewOnnxPose(cfg config.ModelConfig) (*OnnxPose, error) {
	classes, err := config.LoadClasses(cfg.ClassesPath)
	if err != nil {
		return nil, fmt.Errorf("%w: model %q: %v", ErrModelLoad, cfg.Name, err)
	}
	if len(classes) != 1 {
		return nil, fmt.Errorf("%w: pose model %q has %d classes, want 1", ErrModelLoad, cfg.Name, len(classes))
	}
	anchors := yoloAnchorCount(cfg.InputWidth, cfg.InputHeight)
	sess, err := newOnnxSession(cfg.WeightsPath, cfg.InputWidth, cfg.InputHeight, poseAttrs, anchors)
	if err != nil {
		return nil, fmt.Errorf("%w: model %q: %v", ErrModelLoad, cfg.Name, err)
	}
	return &OnnxPose{
		sess:        sess,
		inputWidth:  cfg.InputWidth,
		inputHeight: cfg.InputHeight,
		anchors:     anchors,
		category:    classes[0],
	}, nil
}

func (p *OnnxPose) InputWidth() int  { return p.inputWidth }
func (p *OnnxPose) InputHeight() int { return p.inputHeight }

func (p *OnnxPose) Run(input []float32) ([]float32, error) { return p.sess.run(input) }

func (p *OnnxPose) Destroy() { p.sess.destroy() }

// Decode converts raw pose predictions into keypoint detections. The
// keypoint is clamped into its box so the containment invariant holds even
// when the head regresses a point slightly outside.
func (p *OnnxPose) Decode(raw []float32, confThreshold float64) ([]annotations.Detection, error) {
	n := p.anchors
	if len(raw) != poseAttrs*n {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(raw), poseAttrs*n)
	}

	var dets []annotations.Detection
	for i := 0; i < n; i++ {
		conf := float64(raw[4*n+i])
		if conf < confThreshold {
			continue
		}
		box := cornerForm(p.category,
			float64(raw[i]), float64(raw[n+i]), float64(raw[2*n+i]), float64(raw[3*n+i]),
			float64(p.inputWidth), float64(p.inputHeight))
		kp := annotations.Keypoint{
			Point: annotations.Point{
				X: clamp(float64(raw[5*n+i]), box.Left, box.Right),
				Y: clamp(float64(raw[6*n+i]), box.Top, box.Bottom),
			},
			Box: box,
		}
		dets = append(dets, annotations.Detection{Annotation: kp, Confidence: math.Min(conf, 1)})
	}
	return dets, nil
}

func cornerForm(category string, xc, yc, w, h, maxW, maxH float64) annotations.BoundingBox {
	left := clamp(xc-w/2, 0, maxW)
	top := clamp(yc-h/2, 0, maxH)
	right := clamp(xc+w/2, left, maxW)
	bottom := clamp(yc+h/2, top, maxH)
	return annotations.BoundingBox{Category: category, Left: left, Top: top, Right: right, Bottom: bottom}
}
