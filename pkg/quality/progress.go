package quality

// ProgressReporter receives search progress as a percentage in [0, 100].
// Implementations must not block.
type ProgressReporter interface {
	Report(percent int)
}

// ProgressFunc adapts a function to ProgressReporter.
type ProgressFunc func(percent int)

// Report calls f.
func (f ProgressFunc) Report(percent int) { f(percent) }

// monotonic forwards only non-decreasing, clamped values to the sink.
type monotonic struct {
	sink ProgressReporter
	last int
}

func newMonotonic(sink ProgressReporter) *monotonic {
	return &monotonic{sink: sink, last: -1}
}

func (m *monotonic) report(percent int) {
	percent = min(max(percent, 0), 100)
	if percent < m.last {
		percent = m.last
	}
	m.last = percent
	if m.sink != nil {
		m.sink.Report(percent)
	}
}
