package converter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/harliandi/go-fitsize/pkg/metrics"
	"github.com/harliandi/go-fitsize/pkg/quality"
)

// ErrInfeasible is returned when every encode attempt failed.
var ErrInfeasible = errors.New("no encode attempt succeeded")

// Options controls one compression. Zero fields fall back to the
// converter's defaults.
type Options struct {
	TargetBytes    int64
	Tolerance      float64
	MaxAttempts    int
	MinQuality     float64
	MaxQuality     float64
	InitialQuality float64
	AllowRescale   bool
	Format         string
	MaxFileSize    int
	// Progress receives search progress; may be nil.
	Progress quality.ProgressReporter
}

// DefaultOptions returns the solver defaults for a target in KB.
func DefaultOptions(targetSizeKB int) Options {
	return Options{
		TargetBytes:    int64(targetSizeKB) * 1024,
		Tolerance:      quality.DefaultTolerance,
		MaxAttempts:    quality.DefaultMaxAttempts,
		MinQuality:     quality.DefaultMinQuality,
		MaxQuality:     quality.DefaultMaxQuality,
		InitialQuality: 0.7,
		Format:         FormatJPEG,
		MaxFileSize:    MaxFileSize,
	}
}

// merged fills zero fields of o from d. AllowRescale and Progress are
// taken from o as given.
func (o Options) merged(d Options) Options {
	if o.TargetBytes == 0 {
		o.TargetBytes = d.TargetBytes
	}
	if o.Tolerance == 0 {
		o.Tolerance = d.Tolerance
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.MinQuality == 0 {
		o.MinQuality = d.MinQuality
	}
	if o.MaxQuality == 0 {
		o.MaxQuality = d.MaxQuality
	}
	if o.InitialQuality == 0 {
		o.InitialQuality = d.InitialQuality
	}
	if o.Format == "" {
		o.Format = d.Format
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = d.MaxFileSize
	}
	return o
}

// Result is a finished compression.
type Result struct {
	Data         []byte
	Format       string
	Reason       quality.Reason
	Phase        quality.Phase
	Attempts     int
	Quality      float64
	Scale        float64
	Width        int
	Height       int
	OriginalSize int64
	Canceled     bool
	Duration     time.Duration
}

// Converter decodes uploads and fits them into a byte budget
type Converter struct {
	defaults Options
	log      logrus.FieldLogger
}

// New creates a Converter. Options passed to Compress are merged over
// defaults.
func New(defaults Options, log logrus.FieldLogger) *Converter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Converter{defaults: defaults, log: log}
}

// Defaults returns the options used to fill unset fields.
func (c *Converter) Defaults() Options { return c.defaults }

// Compress decodes data and searches for an encoding close to
// opts.TargetBytes. A best-effort result is not an error; the caller
// inspects Result.Reason.
func (c *Converter) Compress(ctx context.Context, data []byte, opts Options) (*Result, error) {
	opts = opts.merged(c.defaults)

	if err := ValidateFile(data, opts.MaxFileSize); err != nil {
		return nil, err
	}
	enc, err := NewEncoder(opts.Format)
	if err != nil {
		return nil, err
	}
	img, inputFormat, err := Decode(data)
	if err != nil {
		return nil, err
	}

	req := quality.Request{
		Source:       quality.NewSource(img, data),
		TargetBytes:  opts.TargetBytes,
		Tolerance:    opts.Tolerance,
		MaxAttempts:  opts.MaxAttempts,
		MinQuality:   opts.MinQuality,
		MaxQuality:   opts.MaxQuality,
		AllowRescale: opts.AllowRescale,
	}
	log := c.log.WithFields(logrus.Fields{
		"input_format":  inputFormat,
		"output_format": enc.Format(),
		"width":         req.Source.Width,
		"height":        req.Source.Height,
	})

	solver := quality.NewSolver(enc,
		quality.WithInitialQuality(opts.InitialQuality),
		quality.WithResizer(LanczosResizer{}),
		quality.WithLogger(log),
	)

	start := time.Now()
	out, err := solver.SolveWithProgress(ctx, req, opts.Progress)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	reason := out.Reason.String()
	if out.Canceled {
		reason = "canceled"
	}
	var outputBytes int64
	if out.Result != nil {
		outputBytes = out.Result.Size
	}
	metrics.RecordSolve(reason, enc.Format(), out.Attempts, out.Phase == quality.DimensionRescaling,
		elapsed.Seconds(), req.Source.Size, outputBytes)

	log.WithFields(logrus.Fields{
		"reason":   reason,
		"attempts": out.Attempts,
		"target":   req.TargetBytes,
		"original": req.Source.Size,
		"output":   outputBytes,
		"duration": elapsed.String(),
	}).Info("compression finished")

	if out.Result == nil {
		if out.Canceled {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %d attempts", ErrInfeasible, out.Attempts)
	}

	format := enc.Format()
	if out.Attempts == 0 {
		// original bytes returned untouched
		format = inputFormat
	}
	return &Result{
		Data:         out.Result.Data,
		Format:       format,
		Reason:       out.Reason,
		Phase:        out.Phase,
		Attempts:     out.Attempts,
		Quality:      out.Result.Quality,
		Scale:        out.Result.Scale,
		Width:        out.Result.Width,
		Height:       out.Result.Height,
		OriginalSize: req.Source.Size,
		Canceled:     out.Canceled,
		Duration:     elapsed,
	}, nil
}
