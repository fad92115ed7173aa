package converter

import (
	"errors"
	"image"

	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidImage is returned when the upload cannot be decoded
	ErrInvalidImage = errors.New("invalid image file")
	// ErrUnsupportedFormat is returned for input or output formats we do not handle
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrFileTooLarge is returned when the file exceeds the size limit
	ErrFileTooLarge = errors.New("file size exceeds limit")
	// ErrInvalidImageDimensions is returned when image dimensions are invalid
	ErrInvalidImageDimensions = errors.New("invalid image dimensions")
	// ErrImageTooLarge is returned when image dimensions exceed limits
	ErrImageTooLarge = errors.New("image dimensions exceed maximum allowed")
)

// Validation limits
const (
	MaxFileSize       = 20 * 1024 * 1024 // 20MB max file size
	MaxImageWidth     = 20000            // 20K pixels max width
	MaxImageHeight    = 20000            // 20K pixels max height
	MaxImagePixels    = 250_000_000      // 250 megapixels max total pixels
	MinImageDimension = 16               // Minimum dimension for valid image
)

// ValidateFile checks the file size before decoding
func ValidateFile(data []byte, maxSize int) error {
	if maxSize <= 0 {
		maxSize = MaxFileSize
	}
	if len(data) > maxSize {
		logrus.WithFields(logrus.Fields{"size": len(data), "max": maxSize}).Warn("file too large")
		return ErrFileTooLarge
	}
	if len(data) < 12 {
		return ErrInvalidImage
	}
	return nil
}

// ValidateImage checks decoded image dimensions are within acceptable limits
func ValidateImage(img image.Image) error {
	if img == nil {
		return ErrInvalidImage
	}
	b := img.Bounds()
	return ValidateDimensions(b.Dx(), b.Dy())
}

// ValidateDimensions applies the dimension limits. It is used both on
// decoded images and on headers read before decoding.
func ValidateDimensions(width, height int) error {
	log := logrus.WithFields(logrus.Fields{"width": width, "height": height})

	if width <= 0 || height <= 0 {
		log.Warn("invalid dimensions")
		return ErrInvalidImageDimensions
	}
	if width < MinImageDimension || height < MinImageDimension {
		log.WithField("min", MinImageDimension).Warn("dimensions too small")
		return ErrInvalidImageDimensions
	}
	if width > MaxImageWidth || height > MaxImageHeight {
		log.Warn("dimensions too large")
		return ErrImageTooLarge
	}

	// Check total pixel count (prevent decompression bomb attacks)
	if int64(width)*int64(height) > MaxImagePixels {
		log.WithField("max_pixels", MaxImagePixels).Warn("too many pixels")
		return ErrImageTooLarge
	}
	return nil
}

// IsHEIFMagic checks if the data has HEIF magic bytes
func IsHEIFMagic(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// "ftyp" at offset 4 (ISOBMFF), then a HEIF brand
	if string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "hevc", "hevx", "heim", "heis", "mif1", "msf1":
		return true
	}
	return false
}
