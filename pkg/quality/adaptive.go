package quality

// StepFunc picks the next quality to try from the current bracket and the
// ratio outputSize/targetBytes of the last trial. The bracket has already
// been narrowed by that trial. The solver clamps the result.
type StepFunc interface {
	Next(low, high, ratio float64) float64
}

// StepFuncOf adapts a function to StepFunc.
type StepFuncOf func(low, high, ratio float64) float64

// Next calls f.
func (f StepFuncOf) Next(low, high, ratio float64) float64 { return f(low, high, ratio) }

// AsymmetricStep moves into the bracket by a fraction proportional to how
// far the last trial missed. Overshoots are weighted by Down and undershoots
// by Up, so a large overshoot pulls the guess down harder than the same
// undershoot pushes it up. The fraction is clamped to
// [MinFraction, MaxFraction] of the bracket width so the bracket always
// shrinks.
type AsymmetricStep struct {
	Down        float64
	Up          float64
	MinFraction float64
	MaxFraction float64
}

// DefaultStep is the weighting used when no StepFunc is configured.
var DefaultStep = AsymmetricStep{Down: 0.8, Up: 0.5, MinFraction: 0.1, MaxFraction: 0.9}

// Next implements StepFunc.
func (s AsymmetricStep) Next(low, high, ratio float64) float64 {
	width := high - low
	if ratio > 1 {
		// relative overshoot in (0, 1)
		f := s.fraction((1 - 1/ratio) * s.Down)
		return high - f*width
	}
	f := s.fraction((1 - ratio) * s.Up)
	return low + f*width
}

func (s AsymmetricStep) fraction(f float64) float64 {
	return min(max(f, s.MinFraction), s.MaxFraction)
}

// BisectStep always tries the middle of the bracket.
type BisectStep struct{}

// Next implements StepFunc.
func (BisectStep) Next(low, high, _ float64) float64 {
	return low + (high-low)/2
}
