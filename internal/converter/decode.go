package converter

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/adrium/goheif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// FormatHEIF is the input format name reported for HEIF/HEIC files.
const FormatHEIF = "heif"

// Decode decodes data and reports its format. Headers are checked against
// the dimension limits before the full decode where the codec allows it.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrInvalidImage
	}

	if IsHEIFMagic(data) {
		img, err := decodeHEIF(data)
		if err != nil {
			return nil, "", err
		}
		if err := ValidateImage(img); err != nil {
			return nil, "", err
		}
		return img, FormatHEIF, nil
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", ErrUnsupportedFormat
		}
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if err := ValidateDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, "", err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, format, nil
}

// decodeHEIF decodes HEIF/HEIC data. The HEVC decoder can panic on
// malformed boxes, which is reported as ErrInvalidImage.
func decodeHEIF(data []byte) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("%w: heif decoder panic: %v", ErrInvalidImage, r)
		}
	}()

	img, err = goheif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}
