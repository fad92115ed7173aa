// Package quality drives a black-box lossy encoder toward a byte budget by
// searching its quality knob and, when that is not enough, the output pixel
// dimensions.
package quality

import (
	"context"
	"image"
	"math"

	"github.com/sirupsen/logrus"
)

// Phase is the stage a search is in.
type Phase int

const (
	Bisecting Phase = iota
	DimensionRescaling
)

func (p Phase) String() string {
	if p == DimensionRescaling {
		return "dimension_rescaling"
	}
	return "bisecting"
}

// Reason tells how a search terminated.
type Reason int

const (
	// Exact means the output is exactly the target size, or the original
	// already fit the budget.
	Exact Reason = iota
	// WithinTolerance means the output is within the requested relative
	// deviation of the target.
	WithinTolerance
	// BestEffort means the budget or the search space ran out first. The
	// result is the closest trial seen.
	BestEffort
	// Infeasible means every encoder call failed.
	Infeasible
)

func (r Reason) String() string {
	switch r {
	case Exact:
		return "exact"
	case WithinTolerance:
		return "within_tolerance"
	case BestEffort:
		return "best_effort"
	case Infeasible:
		return "infeasible"
	}
	return "unknown"
}

// Params are the knobs for one encoder call. Width and Height are the
// output dimensions implied by Scale.
type Params struct {
	Quality float64
	Scale   float64
	Width   int
	Height  int
}

// Encoder re-encodes img with the given parameters. If img is not already
// Width x Height the encoder is expected to resize it.
type Encoder interface {
	Encode(ctx context.Context, img image.Image, p Params) ([]byte, error)
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc func(ctx context.Context, img image.Image, p Params) ([]byte, error)

// Encode calls f.
func (f EncoderFunc) Encode(ctx context.Context, img image.Image, p Params) ([]byte, error) {
	return f(ctx, img, p)
}

// Resizer produces a resized copy of an image. When a solver has one, the
// image is resized once on entering DimensionRescaling and the copy is the
// source for every later trial.
type Resizer interface {
	Resize(img image.Image, width, height int) image.Image
}

// SearchState is the full mutable state of one search. The solver replaces
// it wholesale on every iteration.
type SearchState struct {
	Low      float64
	High     float64
	Quality  float64
	Scale    float64
	Attempts int
	Phase    Phase
	// FloorTried is set once the current phase has encoded at MinQuality.
	FloorTried bool
}

// narrowed moves one bracket bound onto the current quality.
func (s SearchState) narrowed(oversize bool) SearchState {
	if oversize {
		s.High = s.Quality
	} else {
		s.Low = s.Quality
	}
	return s
}

// failed lowers the quality after an encoder error, widening the bracket
// downwards if needed.
func (s SearchState) failed(space ParameterSpace, step float64) SearchState {
	s.Quality = space.Clamp(s.Quality - step)
	s.Low = min(s.Low, s.Quality)
	return s
}

// Outcome is the terminal result of a search.
type Outcome struct {
	// Result is nil only when no encoder call succeeded.
	Result   *TrialResult
	Reason   Reason
	Attempts int
	Phase    Phase
	Canceled bool
}

// Solver searches encoder parameters for a byte target. A Solver holds only
// configuration and may be shared by concurrent Solve calls.
type Solver struct {
	enc         Encoder
	step        StepFunc
	resizer     Resizer
	progress    ProgressReporter
	log         logrus.FieldLogger
	initial     float64
	failureStep float64
	epsilon     float64
}

// Option configures a Solver.
type Option func(*Solver)

// WithStep sets the step function. The default is DefaultStep.
func WithStep(step StepFunc) Option {
	return func(s *Solver) { s.step = step }
}

// WithInitialQuality sets the first quality tried in each phase.
func WithInitialQuality(q float64) Option {
	return func(s *Solver) { s.initial = q }
}

// WithFailureStep sets how far quality drops after an encoder error.
func WithFailureStep(step float64) Option {
	return func(s *Solver) { s.failureStep = step }
}

// WithEpsilon sets the bracket width below which the bracket is collapsed.
func WithEpsilon(eps float64) Option {
	return func(s *Solver) { s.epsilon = eps }
}

// WithResizer sets the resizer used when entering DimensionRescaling.
func WithResizer(r Resizer) Option {
	return func(s *Solver) { s.resizer = r }
}

// WithProgress sets the reporter used by Solve.
func WithProgress(p ProgressReporter) Option {
	return func(s *Solver) { s.progress = p }
}

// WithLogger sets the logger for trial-level debug output.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Solver) { s.log = l }
}

// NewSolver returns a solver driving enc.
func NewSolver(enc Encoder, opts ...Option) *Solver {
	s := &Solver{
		enc:         enc,
		step:        DefaultStep,
		log:         logrus.StandardLogger(),
		initial:     0.7,
		failureStep: 0.1,
		epsilon:     1e-3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Solve runs a search using the solver's configured progress reporter.
func (s *Solver) Solve(ctx context.Context, req Request) (Outcome, error) {
	return s.SolveWithProgress(ctx, req, s.progress)
}

// SolveWithProgress runs a search and reports progress to p, which may be
// nil. The only error returned is a *ValidationError; failing to reach the
// target is expressed through Outcome.Reason.
func (s *Solver) SolveWithProgress(ctx context.Context, req Request, p ProgressReporter) (Outcome, error) {
	if err := req.Validate(); err != nil {
		return Outcome{}, err
	}
	prog := newMonotonic(p)
	src := req.Source

	if req.TargetBytes >= src.Size {
		prog.report(100)
		return Outcome{
			Result: &TrialResult{
				Quality: req.MaxQuality,
				Scale:   1,
				Data:    src.Data,
				Size:    src.Size,
				Width:   src.Width,
				Height:  src.Height,
			},
			Reason: Exact,
		}, nil
	}

	space := req.space()
	tracker := NewTracker(req.TargetBytes)
	pixels := src.Pixels
	succeeded := 0
	log := s.log.WithFields(logrus.Fields{
		"target_bytes":   req.TargetBytes,
		"original_bytes": src.Size,
	})

	state := SearchState{
		Low:     req.MinQuality,
		High:    req.MaxQuality,
		Quality: space.Clamp(s.initial),
		Scale:   1,
		Phase:   Bisecting,
	}
	prog.report(0)

	// last oversize trial of the phase, for extrapolating toward the floor
	var prev *TrialResult

	for state.Attempts < req.MaxAttempts {
		if ctx.Err() != nil {
			return s.canceled(log, tracker, state, prog), nil
		}

		w, h := space.Dimensions(state.Scale)
		data, err := s.enc.Encode(ctx, pixels, Params{
			Quality: state.Quality,
			Scale:   state.Scale,
			Width:   w,
			Height:  h,
		})
		state.Attempts++

		if err != nil {
			if ctx.Err() != nil {
				return s.canceled(log, tracker, state, prog), nil
			}
			log.WithError(err).WithFields(logrus.Fields{
				"attempt": state.Attempts,
				"quality": state.Quality,
				"scale":   state.Scale,
			}).Debug("encode failed")
			state = state.failed(space, s.failureStep)
			prog.report(percent(state.Attempts, req.MaxAttempts))
			continue
		}

		succeeded++
		trial := TrialResult{
			Quality: state.Quality,
			Scale:   state.Scale,
			Data:    data,
			Size:    int64(len(data)),
			Width:   w,
			Height:  h,
		}
		tracker.Offer(trial)
		if state.Quality <= req.MinQuality {
			state.FloorTried = true
		}
		ratio := float64(trial.Size) / float64(req.TargetBytes)
		oversize := trial.Size > req.TargetBytes

		log.WithFields(logrus.Fields{
			"attempt": state.Attempts,
			"phase":   state.Phase.String(),
			"quality": state.Quality,
			"scale":   state.Scale,
			"size":    trial.Size,
			"ratio":   ratio,
		}).Debug("trial")

		if math.Abs(1-ratio) <= req.Tolerance {
			reason := WithinTolerance
			if trial.Size == req.TargetBytes {
				reason = Exact
			}
			prog.report(100)
			return Outcome{Result: &trial, Reason: reason, Attempts: state.Attempts, Phase: state.Phase}, nil
		}

		next := state.narrowed(oversize)
		if next.High-next.Low < s.epsilon {
			if state.Phase == Bisecting && req.AllowRescale && oversize {
				scale := state.Scale * RescaleFactor(req.TargetBytes, trial.Size)
				nw, nh := space.Dimensions(scale)
				if nw*nh < w*h {
					if s.resizer != nil && pixels != nil {
						pixels = s.resizer.Resize(pixels, nw, nh)
					}
					log.WithFields(logrus.Fields{
						"scale":  scale,
						"width":  nw,
						"height": nh,
					}).Debug("quality floor exceeded budget, rescaling dimensions")
					// the new scale already accounts for the overshoot
					state = SearchState{
						Low:      req.MinQuality,
						High:     req.MaxQuality,
						Quality:  space.Clamp(trial.Quality),
						Scale:    scale,
						Attempts: state.Attempts,
						Phase:    DimensionRescaling,
					}
					prev = nil
					prog.report(percent(state.Attempts, req.MaxAttempts))
					continue
				}
			}
			state = next
			break
		}

		q := space.Clamp(s.step.Next(next.Low, next.High, ratio))
		next.Quality = min(max(q, next.Low), next.High)
		if oversize && !next.FloorTried && next.Low <= req.MinQuality &&
			floorExceeds(prev, trial, req.MinQuality, req.upperBound()) {
			log.WithField("quality", req.MinQuality).Debug("floor predicted over budget, trying it next")
			next.Quality = req.MinQuality
		}
		if oversize {
			prev = &trial
		}
		state = next
		prog.report(percent(state.Attempts, req.MaxAttempts))
	}

	prog.report(100)
	if succeeded == 0 {
		log.WithField("attempts", state.Attempts).Debug("every encode attempt failed")
		return Outcome{Reason: Infeasible, Attempts: state.Attempts, Phase: state.Phase}, nil
	}
	best, _ := tracker.Best()
	return Outcome{Result: &best, Reason: BestEffort, Attempts: state.Attempts, Phase: state.Phase}, nil
}

func (s *Solver) canceled(log logrus.FieldLogger, t *Tracker, state SearchState, prog *monotonic) Outcome {
	log.WithField("attempts", state.Attempts).Debug("search canceled")
	out := Outcome{Reason: BestEffort, Attempts: state.Attempts, Phase: state.Phase, Canceled: true}
	if best, ok := t.Best(); ok {
		out.Result = &best
	}
	prog.report(100)
	return out
}

// floorExceeds fits size = c * quality^k through two oversize trials and
// reports whether the fit puts the floor quality above limit bytes.
func floorExceeds(prev *TrialResult, cur TrialResult, floor float64, limit int64) bool {
	if prev == nil || prev.Scale != cur.Scale || prev.Quality <= cur.Quality || prev.Size <= cur.Size {
		return false
	}
	k := math.Log(float64(prev.Size)/float64(cur.Size)) / math.Log(prev.Quality/cur.Quality)
	predicted := float64(cur.Size) * math.Pow(floor/cur.Quality, k)
	return predicted > float64(limit)
}

func percent(attempts, total int) int {
	return int(math.Round(float64(attempts) / float64(total) * 100))
}
