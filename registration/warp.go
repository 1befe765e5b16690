package registration

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/openanesth/chart-digitizer/annotations"
)

// WarpImage applies the homography to a whole image, producing a
// canonical-size output where printed template features sit at their
// template positions. Sampling is done by inverse mapping with bilinear
// interpolation; pixels that map outside the source stay white, matching
// the paper background.
func WarpImage(img image.Image, h Homography, outWidth, outHeight int) (*image.NRGBA, error) {
	inv, err := h.Inverse()
	if err != nil {
		return nil, err
	}

	src := imaging.Clone(img)
	srcW := src.Bounds().Dx()
	srcH := src.Bounds().Dy()

	out := imaging.New(outWidth, outHeight, color.White)
	for y := 0; y < outHeight; y++ {
		for x := 0; x < outWidth; x++ {
			p := inv.Apply(annotations.Point{X: float64(x), Y: float64(y)})
			if p.X < 0 || p.Y < 0 || p.X > float64(srcW-1) || p.Y > float64(srcH-1) {
				continue
			}
			out.SetNRGBA(x, y, bilinear(src, p.X, p.Y))
		}
	}
	return out, nil
}

func bilinear(src *image.NRGBA, x, y float64) color.NRGBA {
	x0 := int(x)
	y0 := int(y)
	x1 := x0 + 1
	y1 := y0 + 1
	if x1 >= src.Bounds().Dx() {
		x1 = x0
	}
	if y1 >= src.Bounds().Dy() {
		y1 = y0
	}
	fx := x - float64(x0)
	fy := y - float64(y0)

	c00 := src.NRGBAAt(x0, y0)
	c10 := src.NRGBAAt(x1, y0)
	c01 := src.NRGBAAt(x0, y1)
	c11 := src.NRGBAAt(x1, y1)

	lerp := func(a, b uint8, t float64) float64 {
		return float64(a)*(1-t) + float64(b)*t
	}
	blend := func(a00, a10, a01, a11 uint8) uint8 {
		top := lerp(a00, a10, fx)
		bottom := lerp(a01, a11, fx)
		return uint8(top*(1-fy) + bottom*fy + 0.5)
	}

	return color.NRGBA{
		R: blend(c00.R, c10.R, c01.R, c11.R),
		G: blend(c00.G, c10.G, c01.G, c11.G),
		B: blend(c00.B, c10.B, c01.B, c11.B),
		A: 255,
	}
}
