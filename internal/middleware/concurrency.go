package middleware

import (
	"net/http"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/harliandi/go-fitsize/pkg/metrics"
)

// ConcurrencyLimiter caps in-flight requests. Each compression holds a
// decoded image in memory, so the cap bounds peak memory.
type ConcurrencyLimiter struct {
	slots  chan struct{}
	active atomic.Int64
}

// NewConcurrencyLimiter creates a limiter with max slots
func NewConcurrencyLimiter(max int) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{slots: make(chan struct{}, max)}
}

// Acquire takes a slot without waiting. It returns false when all slots
// are taken.
func (cl *ConcurrencyLimiter) Acquire() bool {
	select {
	case cl.slots <- struct{}{}:
		metrics.UpdateConcurrency(int(cl.active.Add(1)))
		return true
	default:
		return false
	}
}

// Release returns a slot taken by Acquire
func (cl *ConcurrencyLimiter) Release() {
	<-cl.slots
	metrics.UpdateConcurrency(int(cl.active.Add(-1)))
}

// Active returns the number of requests holding a slot
func (cl *ConcurrencyLimiter) Active() int {
	return int(cl.active.Load())
}

// Middleware rejects requests with 503 while all slots are taken
func (cl *ConcurrencyLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cl.Acquire() {
			logrus.WithFields(logrus.Fields{
				"max":        cap(cl.slots),
				"request_id": RequestIDFromContext(r.Context()),
			}).Warn("concurrency limit reached")
			metrics.RecordConcurrencyLimitExceeded()
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, http.StatusServiceUnavailable, "Service busy, please try again")
			return
		}
		defer cl.Release()
		next.ServeHTTP(w, r)
	})
}

// ConcurrencyLimit returns middleware that enforces concurrency limits
func ConcurrencyLimit(max int) func(http.Handler) http.Handler {
	return NewConcurrencyLimiter(max).Middleware
}
