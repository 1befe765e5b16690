// Package tiling runs a detection backend over a large image in overlapping
// patches and reassembles the results in full-image coordinates.
package tiling

import "image"

// TileSize derives the square tile side for a model from the image size,
// keeping the patch/object scale consistent with the scale the model was
// trained on.
func TileSize(imageWidth, imageHeight int, proportion float64) int {
	w := float64(imageWidth) * proportion
	h := float64(imageHeight) * proportion
	if w < h {
		return int(w)
	}
	return int(h)
}

// Grid generates tile rectangles that fully cover a width x height image.
// Tiles advance by tile*(1-overlap) along each axis; the final tile in each
// row and column is shifted back to end exactly at the image edge, so no
// region is left uncovered. Tiles larger than the image collapse to a
// single full-image tile on that axis.
func Grid(imageWidth, imageHeight, tileWidth, tileHeight int, horzOverlap, vertOverlap float64) []image.Rectangle {
	if imageWidth <= 0 || imageHeight <= 0 {
		return nil
	}
	if tileWidth > imageWidth {
		tileWidth = imageWidth
	}
	if tileHeight > imageHeight {
		tileHeight = imageHeight
	}

	xs := axisOffsets(imageWidth, tileWidth, horzOverlap)
	ys := axisOffsets(imageHeight, tileHeight, vertOverlap)

	tiles := make([]image.Rectangle, 0, len(xs)*len(ys))
	for _, y := range ys {
		for _, x := range xs {
			tiles = append(tiles, image.Rect(x, y, x+tileWidth, y+tileHeight))
		}
	}
	return tiles
}

func axisOffsets(size, tile int, overlap float64) []int {
	stride := int(float64(tile) * (1 - overlap))
	if stride < 1 {
		stride = 1
	}

	var offsets []int
	for x := 0; ; x += stride {
		if x+tile >= size {
			offsets = append(offsets, size-tile)
			break
		}
		offsets = append(offsets, x)
	}
	return offsets
}
