package converter

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	webp "github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"github.com/harliandi/go-fitsize/pkg/metrics"
	"github.com/harliandi/go-fitsize/pkg/quality"
)

// Output formats
const (
	FormatJPEG = "jpeg"
	FormatWebP = "webp"
)

// Encoder re-encodes decoded pixels as JPEG or WebP. It implements
// quality.Encoder.
type Encoder struct {
	format string
}

// NewEncoder returns an encoder for format. An empty format means JPEG.
func NewEncoder(format string) (*Encoder, error) {
	switch format {
	case "", FormatJPEG, "jpg":
		return &Encoder{format: FormatJPEG}, nil
	case FormatWebP:
		return &Encoder{format: FormatWebP}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// Format returns the output format name.
func (e *Encoder) Format() string { return e.format }

// Encode implements quality.Encoder. The image is resized to p.Width x
// p.Height when it is not already that size.
func (e *Encoder) Encode(ctx context.Context, img image.Image, p quality.Params) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, ErrInvalidImage
	}
	if b := img.Bounds(); b.Dx() != p.Width || b.Dy() != p.Height {
		img = imaging.Resize(img, p.Width, p.Height, imaging.Lanczos)
	}

	var out bytes.Buffer
	out.Grow(512 * 1024)
	if err := encodeImage(img, QualityPercent(p.Quality), e.format, &out); err != nil {
		metrics.RecordEncodeFailure(e.format)
		return nil, fmt.Errorf("encode %s at quality %d: %w", e.format, QualityPercent(p.Quality), err)
	}
	return out.Bytes(), nil
}

// QualityPercent maps a normalized quality in [0, 1] onto the 1..100 scale
// the codecs take.
func QualityPercent(q float64) int {
	if math.IsNaN(q) {
		return 1
	}
	return min(max(int(math.Round(q*100)), 1), 100)
}

// encodeImage encodes an image to JPEG or WebP based on format
func encodeImage(img image.Image, q int, format string, out *bytes.Buffer) error {
	if format == FormatWebP {
		// Convert to RGBA first for WebP encoding
		rgba, ok := img.(*image.RGBA)
		if !ok {
			b := img.Bounds()
			rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
			xdraw.Draw(rgba, rgba.Bounds(), img, b.Min, xdraw.Src)
		}
		return webp.Encode(out, rgba, &webp.Options{Quality: float32(q)})
	}
	return jpeg.Encode(out, img, &jpeg.Options{Quality: q})
}

// LanczosResizer implements quality.Resizer with a Lanczos filter.
type LanczosResizer struct{}

// Resize implements quality.Resizer.
func (LanczosResizer) Resize(img image.Image, width, height int) image.Image {
	return imaging.Resize(img, width, height, imaging.Lanczos)
}
