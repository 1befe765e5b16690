package detect

import (
	"image"
	"runtime"
	"sync"

	"golang.org/x/sys/cpu"
)

var (
	useAVX2  = cpu.X86.HasAVX2
	useSSE41 = cpu.X86.HasSSE41
)

// Preprocessor converts an RGB image at the backend's input resolution into
// a CHW float32 tensor normalized to [0, 1]. Rows are split across workers;
// on cores with vector units the direct-pixel kernel is used for the raster
// types imaging produces, which the compiler unrolls well.
type Preprocessor struct {
	width      int
	height     int
	numWorkers int
}

// NewPreprocessor builds a preprocessor for one input resolution.
func NewPreprocessor(width, height int) *Preprocessor {
	return &Preprocessor{
		width:      width,
		height:     height,
		numWorkers: runtime.GOMAXPROCS(0),
	}
}

// Process fills dst (length 3*width*height) with the normalized CHW pixels
// of img. The image must already be at the preprocessor's resolution.
func (p *Preprocessor) Process(img image.Image, dst []float32) {
	fastRaster := (useAVX2 || useSSE41) && runtime.GOARCH == "amd64"
	if fastRaster {
		switch raster := img.(type) {
		case *image.NRGBA:
			p.processRows(dst, func(y int) ([]uint8, int) {
				return raster.Pix[y*raster.Stride:], 4
			})
			return
		case *image.RGBA:
			p.processRows(dst, func(y int) ([]uint8, int) {
				return raster.Pix[y*raster.Stride:], 4
			})
			return
		}
	}
	p.processGeneric(img, dst)
}

// processRows normalizes raster rows directly from the pixel buffer.
func (p *Preprocessor) processRows(dst []float32, row func(y int) ([]uint8, int)) {
	channelSize := p.width * p.height
	p.parallelRows(func(startY, endY int) {
		for y := startY; y < endY; y++ {
			pix, stride := row(y)
			offset := y * p.width
			for x := 0; x < p.width; x++ {
				i := offset + x
				dst[i] = float32(pix[x*stride]) / 255.0
				dst[channelSize+i] = float32(pix[x*stride+1]) / 255.0
				dst[channelSize*2+i] = float32(pix[x*stride+2]) / 255.0
			}
		}
	})
}

func (p *Preprocessor) processGeneric(img image.Image, dst []float32) {
	channelSize := p.width * p.height
	min := img.Bounds().Min
	p.parallelRows(func(startY, endY int) {
		for y := startY; y < endY; y++ {
			offset := y * p.width
			for x := 0; x < p.width; x++ {
				i := offset + x
				r, g, b, _ := img.At(min.X+x, min.Y+y).RGBA()
				dst[i] = float32(r>>8) / 255.0
				dst[channelSize+i] = float32(g>>8) / 255.0
				dst[channelSize*2+i] = float32(b>>8) / 255.0
			}
		}
	})
}

func (p *Preprocessor) parallelRows(work func(startY, endY int)) {
	workers := p.numWorkers
	if workers > p.height {
		workers = p.height
	}
	if workers <= 1 {
		work(0, p.height)
		return
	}

	rowsPerWorker := p.height / workers
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		startY := w * rowsPerWorker
		endY := startY + rowsPerWorker
		if w == workers-1 {
			endY = p.height
		}
		go func(startY, endY int) {
			defer wg.Done()
			work(startY, endY)
		}(startY, endY)
	}
	wg.Wait()
}
