// Package registration aligns a photographed document with its canonical
// scanned template via a projective transform computed from four named
// corner landmarks.
package registration

import (
	"fmt"
	"math"
	"sort"

	"github.com/openanesth/chart-digitizer/annotations"
)

// Homography is a 3x3 projective transform mapping source-image pixel
// coordinates to canonical-template pixel coordinates.
type Homography [3][3]float64

// Apply maps a point through the homography.
func (h Homography) Apply(p annotations.Point) annotations.Point {
	w := h[2][0]*p.X + h[2][1]*p.Y + h[2][2]
	return annotations.Point{
		X: (h[0][0]*p.X + h[0][1]*p.Y + h[0][2]) / w,
		Y: (h[1][0]*p.X + h[1][1]*p.Y + h[1][2]) / w,
	}
}

// Inverse returns the inverse transform.
func (h Homography) Inverse() (Homography, error) {
	adj := Homography{
		{h[1][1]*h[2][2] - h[1][2]*h[2][1], h[0][2]*h[2][1] - h[0][1]*h[2][2], h[0][1]*h[1][2] - h[0][2]*h[1][1]},
		{h[1][2]*h[2][0] - h[1][0]*h[2][2], h[0][0]*h[2][2] - h[0][2]*h[2][0], h[0][2]*h[1][0] - h[0][0]*h[1][2]},
		{h[1][0]*h[2][1] - h[1][1]*h[2][0], h[0][1]*h[2][0] - h[0][0]*h[2][1], h[0][0]*h[1][1] - h[0][1]*h[1][0]},
	}
	det := h[0][0]*adj[0][0] + h[0][1]*adj[1][0] + h[0][2]*adj[2][0]
	if math.Abs(det) < 1e-12 {
		return Homography{}, fmt.Errorf("homography is singular")
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			adj[i][j] /= det
		}
	}
	return adj, nil
}

// ComputeHomography derives the projective transform that maps detected
// corner landmark positions onto the template's corner positions.
//
// Both lists are filtered to the named corner categories and ordered by
// category name, producing positionally corresponding point pairs. When a
// corner category has several detections the highest-confidence one is
// used; a corner category with no detection at all makes rectification
// underdetermined and yields a GeometryError, which degrades the document
// side to best-effort rather than aborting the digitization.
func ComputeHomography(
	landmarks []annotations.Detection,
	cornerNames []string,
	template []annotations.BoundingBox,
) (Homography, error) {
	names := append([]string(nil), cornerNames...)
	sort.Strings(names)

	bestByCategory := make(map[string]annotations.Detection, len(names))
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	for _, det := range landmarks {
		category := det.Category()
		if !wanted[category] {
			continue
		}
		if prev, ok := bestByCategory[category]; !ok || det.Confidence > prev.Confidence {
			bestByCategory[category] = det
		}
	}

	templateByCategory := make(map[string]annotations.BoundingBox, len(names))
	for _, box := range template {
		if wanted[box.Category] {
			templateByCategory[box.Category] = box
		}
	}

	var missing []string
	src := make([]annotations.Point, 0, len(names))
	dst := make([]annotations.Point, 0, len(names))
	for _, name := range names {
		det, okDet := bestByCategory[name]
		tpl, okTpl := templateByCategory[name]
		if !okTpl {
			return Homography{}, fmt.Errorf("template has no landmark for corner %q", name)
		}
		if !okDet {
			missing = append(missing, name)
			continue
		}
		src = append(src, det.Annotation.Bounds().Center())
		dst = append(dst, tpl.Center())
	}
	if len(missing) > 0 {
		return Homography{}, &annotations.GeometryError{Missing: missing}
	}

	return FindHomography(src, dst)
}

// FindHomography solves for the projective transform carrying src[i] to
// dst[i] via a direct linear least-squares solve. At least four
// correspondences are required.
func FindHomography(src, dst []annotations.Point) (Homography, error) {
	if len(src) != len(dst) {
		return Homography{}, fmt.Errorf("point list length mismatch: %d vs %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return Homography{}, fmt.Errorf("need at least 4 point correspondences, got %d", len(src))
	}

	// Each correspondence contributes two rows of A h = b with h33 fixed
	// to 1. The overdetermined system is solved through the normal
	// equations.
	var ata [8][8]float64
	var atb [8]float64
	for i := range src {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		rows := [2][8]float64{
			{x, y, 1, 0, 0, 0, -u * x, -u * y},
			{0, 0, 0, x, y, 1, -v * x, -v * y},
		}
		rhs := [2]float64{u, v}
		for r := 0; r < 2; r++ {
			for a := 0; a < 8; a++ {
				for b := 0; b < 8; b++ {
					ata[a][b] += rows[r][a] * rows[r][b]
				}
				atb[a] += rows[r][a] * rhs[r]
			}
		}
	}

	h, err := solveLinearSystem(ata, atb)
	if err != nil {
		return Homography{}, err
	}
	return Homography{
		{h[0], h[1], h[2]},
		{h[3], h[4], h[5]},
		{h[6], h[7], 1},
	}, nil
}

// solveLinearSystem solves the 8x8 system with Gaussian elimination and
// partial pivoting.
func solveLinearSystem(a [8][8]float64, b [8]float64) ([8]float64, error) {
	const n = 8
	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-9 {
			return [8]float64{}, fmt.Errorf("degenerate point configuration: homography system is singular")
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for row := col + 1; row < n; row++ {
			factor := a[row][col] / a[col][col]
			for k := col; k < n; k++ {
				a[row][k] -= factor * a[col][k]
			}
			b[row] -= factor * b[col]
		}
	}

	var x [8]float64
	for row := n - 1; row >= 0; row-- {
		sum := b[row]
		for k := row + 1; k < n; k++ {
			sum -= a[row][k] * x[k]
		}
		x[row] = sum / a[row][row]
	}
	return x, nil
}
