package registration

import (
	"math"

	"github.com/openanesth/chart-digitizer/annotations"
)

// TransformBox maps a box through the homography. A projective transform
// can skew an axis-aligned rectangle, so the result is the axis-aligned
// bounding rectangle of the four transformed corners. Category carries
// over.
func TransformBox(b annotations.BoundingBox, h Homography) annotations.BoundingBox {
	corners := [4]annotations.Point{
		{X: b.Left, Y: b.Top},
		{X: b.Right, Y: b.Top},
		{X: b.Right, Y: b.Bottom},
		{X: b.Left, Y: b.Bottom},
	}
	left, top := math.Inf(1), math.Inf(1)
	right, bottom := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		p := h.Apply(c)
		left = math.Min(left, p.X)
		top = math.Min(top, p.Y)
		right = math.Max(right, p.X)
		bottom = math.Max(bottom, p.Y)
	}
	return annotations.BoundingBox{Category: b.Category, Left: left, Top: top, Right: right, Bottom: bottom}
}

// TransformKeypoint maps the keypoint's point and box independently. The
// transformed point stays within the transformed quad, which the re-fit
// rectangle encloses, so the containment invariant is preserved.
func TransformKeypoint(k annotations.Keypoint, h Homography) annotations.Keypoint {
	return annotations.Keypoint{
		Point: h.Apply(k.Point),
		Box:   TransformBox(k.Box, h),
	}
}

// TransformDetections maps a detection list through the homography,
// producing a new list; the inputs are left untouched. Confidence carries
// over unchanged.
func TransformDetections(dets []annotations.Detection, h Homography) []annotations.Detection {
	out := make([]annotations.Detection, len(dets))
	for i, det := range dets {
		switch a := det.Annotation.(type) {
		case annotations.Keypoint:
			out[i] = annotations.Detection{Annotation: TransformKeypoint(a, h), Confidence: det.Confidence}
		default:
			out[i] = annotations.Detection{Annotation: TransformBox(det.Annotation.Bounds(), h), Confidence: det.Confidence}
		}
	}
	return out
}
