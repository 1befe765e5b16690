// Package detect wraps the neural detection backends behind a small
// capability interface and manages their sessions.
//
// The tiling and extraction stages depend only on Backend and the shared
// annotation types, never on a concrete model wrapper, so tests can swap in
// synthetic backends.
package detect

import (
	"errors"
	"fmt"

	"github.com/openanesth/chart-digitizer/annotations"
)

// ErrModelLoad marks unreadable or corrupt model weights. It is a
// startup-class failure.
var ErrModelLoad = errors.New("model load error")

const (
	// RetryAttempts bounds transient inference retries.
	RetryAttempts = 3
	// RetryDelayMs is the linear backoff step between retries.
	RetryDelayMs = 100
)

// Backend is the opaque inference capability: a fixed-size normalized CHW
// tensor in, decoded detections out. Detections are returned in the
// backend's input-resolution pixel coordinates; the caller rescales them.
type Backend interface {
	// InputWidth and InputHeight report the trained input resolution.
	InputWidth() int
	InputHeight() int
	// Run performs one inference over a CHW float32 tensor of length
	// 3*InputWidth*InputHeight with values in [0, 1], RGB channel order.
	// The returned slice is only valid until the next Run call.
	Run(input []float32) ([]float32, error)
	// Decode converts a raw prediction tensor into detections, culling
	// anything below confThreshold.
	Decode(raw []float32, confThreshold float64) ([]annotations.Detection, error)
	// Destroy releases the backend's native resources.
	Destroy()
}

// ProcessingError wraps an inference failure with its stage.
type ProcessingError struct {
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error { return e.Cause }

// yoloAnchorCount is the number of prediction anchors a YOLO head emits for
// a given input resolution (strides 8, 16, and 32).
func yoloAnchorCount(width, height int) int {
	return (width/8)*(height/8) + (width/16)*(height/16) + (width/32)*(height/32)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
