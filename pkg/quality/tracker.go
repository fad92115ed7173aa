package quality

// TrialResult is the output of one encoder call.
type TrialResult struct {
	Quality float64
	Scale   float64
	Data    []byte
	Size    int64
	Width   int
	Height  int
}

// Tracker keeps the trial closest to a byte target across a whole search.
// It is not safe for concurrent use; each search owns its own Tracker.
type Tracker struct {
	target int64
	best   TrialResult
	found  bool
}

// NewTracker returns an empty tracker for targetBytes.
func NewTracker(targetBytes int64) *Tracker {
	return &Tracker{target: targetBytes}
}

// Offer records r if it is closer to the target than the current best, or
// equally close at a higher quality. It reports whether r was kept.
func (t *Tracker) Offer(r TrialResult) bool {
	if t.found {
		d, bd := t.distance(r.Size), t.distance(t.best.Size)
		if d > bd || (d == bd && r.Quality <= t.best.Quality) {
			return false
		}
	}
	t.best = r
	t.found = true
	return true
}

// Best returns the current best trial, if any.
func (t *Tracker) Best() (TrialResult, bool) {
	return t.best, t.found
}

func (t *Tracker) distance(size int64) int64 {
	if size < t.target {
		return t.target - size
	}
	return size - t.target
}
