package quality

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// ErrInvalidRequest is wrapped by every ValidationError.
var ErrInvalidRequest = errors.New("invalid compression request")

// ValidationError reports a malformed Request. It is returned before any
// encoder call is made.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidRequest, e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// Source is the image a search starts from.
type Source struct {
	// Pixels may be nil when the encoder does not need them.
	Pixels image.Image
	Width  int
	Height int
	// Data holds the original encoded bytes, returned untouched when the
	// budget already covers them.
	Data []byte
	// Size is the original encoded size in bytes.
	Size int64
}

// NewSource builds a Source from decoded pixels and the encoded bytes they
// came from.
func NewSource(img image.Image, data []byte) Source {
	src := Source{Pixels: img, Data: data, Size: int64(len(data))}
	if img != nil {
		b := img.Bounds()
		src.Width, src.Height = b.Dx(), b.Dy()
	}
	return src
}

// Request describes one fit-to-budget search. It is passed by value and
// never modified by the solver.
type Request struct {
	Source       Source
	TargetBytes  int64
	Tolerance    float64
	MaxAttempts  int
	MinQuality   float64
	MaxQuality   float64
	AllowRescale bool
}

// Defaults applied by DefaultRequest.
const (
	DefaultTolerance   = 0.02
	DefaultMaxAttempts = 15
	DefaultMinQuality  = 0.1
	DefaultMaxQuality  = 1.0
)

// DefaultRequest returns a request for src with the default tolerance,
// attempt budget and quality range.
func DefaultRequest(src Source, targetBytes int64) Request {
	return Request{
		Source:      src,
		TargetBytes: targetBytes,
		Tolerance:   DefaultTolerance,
		MaxAttempts: DefaultMaxAttempts,
		MinQuality:  DefaultMinQuality,
		MaxQuality:  DefaultMaxQuality,
	}
}

// Validate checks the request shape.
func (r Request) Validate() error {
	switch {
	case r.TargetBytes <= 0:
		return &ValidationError{Field: "target_bytes", Msg: "must be positive"}
	case r.MaxAttempts <= 0:
		return &ValidationError{Field: "max_attempts", Msg: "must be at least 1"}
	case math.IsNaN(r.MinQuality) || r.MinQuality < 0:
		return &ValidationError{Field: "min_quality", Msg: "must be within [0, 1]"}
	case math.IsNaN(r.MaxQuality) || r.MaxQuality > 1:
		return &ValidationError{Field: "max_quality", Msg: "must be within [0, 1]"}
	case r.MinQuality >= r.MaxQuality:
		return &ValidationError{Field: "min_quality", Msg: "must be below max_quality"}
	case math.IsNaN(r.Tolerance) || r.Tolerance <= 0 || r.Tolerance > 1:
		return &ValidationError{Field: "tolerance", Msg: "must be within (0, 1]"}
	case r.Source.Width <= 0 || r.Source.Height <= 0:
		return &ValidationError{Field: "source", Msg: "must have positive dimensions"}
	case r.Source.Size < 0:
		return &ValidationError{Field: "source", Msg: "size must not be negative"}
	}
	return nil
}

// space returns the parameter space bound to this request.
func (r Request) space() ParameterSpace {
	return ParameterSpace{
		MinQuality: r.MinQuality,
		MaxQuality: r.MaxQuality,
		Width:      r.Source.Width,
		Height:     r.Source.Height,
	}
}

// upperBound is the largest size still within tolerance of the target.
func (r Request) upperBound() int64 {
	return int64(float64(r.TargetBytes) * (1 + r.Tolerance))
}
