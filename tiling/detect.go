package tiling

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/openanesth/chart-digitizer/annotations"
	"github.com/openanesth/chart-digitizer/detect"
)

// Detect runs the backend over overlapping tiles of img and returns the
// consolidated detections in full-image pixel coordinates.
//
// Each tile is cropped, resized to the backend's input resolution,
// normalized, and inferred independently. Detections are filtered by
// confidence, deduplicated per tile with category-aware NMS, remapped into
// image coordinates, and a second image-wide NMS pass removes duplicates of
// objects that span a tile seam. The overlap proportions must be large
// enough that the largest expected object fits inside a single tile.
//
// Output ordering carries no meaning.
func Detect(
	img image.Image,
	backend detect.Backend,
	tileWidth, tileHeight int,
	horzOverlap, vertOverlap float64,
	confThreshold, iouThreshold float64,
) ([]annotations.Detection, error) {
	bounds := img.Bounds()
	imageWidth := bounds.Dx()
	imageHeight := bounds.Dy()
	if tileWidth <= 0 || tileHeight <= 0 {
		return nil, fmt.Errorf("invalid tile size %dx%d", tileWidth, tileHeight)
	}

	inputW := backend.InputWidth()
	inputH := backend.InputHeight()
	pre := detect.NewPreprocessor(inputW, inputH)
	input := make([]float32, 3*inputW*inputH)

	var all []annotations.Detection
	for _, tile := range Grid(imageWidth, imageHeight, tileWidth, tileHeight, horzOverlap, vertOverlap) {
		crop := imaging.Crop(img, tile.Add(bounds.Min))
		resized := imaging.Resize(crop, inputW, inputH, imaging.Linear)
		pre.Process(resized, input)

		raw, err := backend.Run(input)
		if err != nil {
			return nil, fmt.Errorf("inference on tile %v: %w", tile, err)
		}
		dets, err := backend.Decode(raw, confThreshold)
		if err != nil {
			return nil, fmt.Errorf("decoding tile %v: %w", tile, err)
		}
		dets = NonMaxSuppression(dets, iouThreshold)

		sx := float64(tile.Dx()) / float64(inputW)
		sy := float64(tile.Dy()) / float64(inputH)
		for _, det := range dets {
			all = append(all, rescale(det, sx, sy, float64(tile.Min.X), float64(tile.Min.Y)))
		}
	}

	return NonMaxSuppression(all, iouThreshold), nil
}

// rescale maps a detection from backend input coordinates into image
// coordinates, building a new detection.
func rescale(det annotations.Detection, sx, sy, dx, dy float64) annotations.Detection {
	switch a := det.Annotation.(type) {
	case annotations.Keypoint:
		return annotations.Detection{
			Annotation: annotations.Keypoint{
				Point: annotations.Point{X: a.Point.X*sx + dx, Y: a.Point.Y*sy + dy},
				Box:   rescaleBox(a.Box, sx, sy, dx, dy),
			},
			Confidence: det.Confidence,
		}
	default:
		return annotations.Detection{
			Annotation: rescaleBox(det.Annotation.Bounds(), sx, sy, dx, dy),
			Confidence: det.Confidence,
		}
	}
}

func rescaleBox(b annotations.BoundingBox, sx, sy, dx, dy float64) annotations.BoundingBox {
	return annotations.BoundingBox{
		Category: b.Category,
		Left:     b.Left*sx + dx,
		Top:      b.Top*sy + dy,
		Right:    b.Right*sx + dx,
		Bottom:   b.Bottom*sy + dy,
	}
}
