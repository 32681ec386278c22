package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"pdf-annotator/pkg/viewer"

	"seehuhn.de/go/pdf"
	"seehuhn.de/go/pdf/pagetree"
)

var (
	ErrRenderFailure = errors.New("render failure")
	ErrPageRange     = errors.New("page out of range")
)

// default US Letter page, used when a page has no usable MediaBox
var letter = pdf.Rectangle{URx: 612, URy: 792}

const maxPixels = 4096

var (
	paper  = color.RGBA{0xff, 0xff, 0xff, 0xff}
	border = color.RGBA{0xc8, 0xc8, 0xc8, 0xff}
)

// Document is an open PDF served to one viewer session. It reports the page
// count and rasterises page boxes at a requested scale.
type Document struct {
	mu       sync.Mutex
	r        *pdf.Reader
	numPages int

	closeOnce sync.Once
	closeErr  error
}

// Open parses data as a PDF file. The returned Document must be closed.
func Open(data []byte) (*Document, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	n, err := pagetree.NumPages(r)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to count pages: %w", err)
	}
	return &Document{r: r, numPages: n}, nil
}

// NumPages is the total page count reported on load
func (d *Document) NumPages() int {
	return d.numPages
}

// PageSize returns the width and height of a 1-based page in PDF points,
// after applying the page's own /Rotate.
func (d *Document) PageSize(page int) (float64, float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pageSize(page)
}

func (d *Document) pageSize(page int) (float64, float64, error) {
	if d.r == nil {
		return 0, 0, fmt.Errorf("%w: document closed", ErrRenderFailure)
	}
	if page < 1 || page > d.numPages {
		return 0, 0, fmt.Errorf("%w: %d of %d", ErrPageRange, page, d.numPages)
	}
	_, dict, err := pagetree.GetPage(d.r, page-1)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: page %d: %v", ErrRenderFailure, page, err)
	}

	box := &letter
	if mb, err := pdf.GetRectangle(d.r, dict["MediaBox"]); err == nil && mb != nil {
		box = mb
	}
	w, h := box.URx-box.LLx, box.URy-box.LLy
	if w <= 0 || h <= 0 {
		w, h = letter.URx, letter.URy
	}

	if rot, err := pdf.GetInteger(d.r, dict["Rotate"]); err == nil {
		if r := viewer.NormalizeRotation(int(rot)); r == 90 || r == 270 {
			w, h = h, w
		}
	}
	return w, h, nil
}

// RenderPage draws the page box of a 1-based page at scale
func (d *Document) RenderPage(ctx context.Context, page int, scale float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scale <= 0 || math.IsNaN(scale) {
		return nil, fmt.Errorf("%w: scale %v", ErrRenderFailure, scale)
	}

	d.mu.Lock()
	w, h, err := d.pageSize(page)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	pw := min(maxPixels, max(1, int(math.Round(w*scale))))
	ph := min(maxPixels, max(1, int(math.Round(h*scale))))
	img := image.NewRGBA(image.Rect(0, 0, pw, ph))
	draw.Draw(img, img.Bounds(), image.NewUniform(border), image.Point{}, draw.Src)
	if pw > 2 && ph > 2 {
		draw.Draw(img, image.Rect(1, 1, pw-1, ph-1), image.NewUniform(paper), image.Point{}, draw.Src)
	}
	return img, nil
}

// Close releases the underlying file. Only the first call has an effect.
func (d *Document) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.closeErr = d.r.Close()
		d.r = nil
	})
	return d.closeErr
}
