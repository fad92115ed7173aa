package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitsize_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fitsize_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Solver metrics
	SolvesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitsize_solves_total",
			Help: "Total number of size-target searches by outcome",
		},
		[]string{"reason", "format"}, // exact, within_tolerance, best_effort, infeasible, canceled
	)

	SolveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fitsize_solve_duration_seconds",
			Help:    "Search duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"format"},
	)

	SolveAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fitsize_solve_attempts",
			Help:    "Encoder calls spent per search",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 12, 15, 20, 30, 50},
		},
	)

	SolveRescaled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fitsize_solve_rescaled_total",
			Help: "Searches that had to shrink pixel dimensions",
		},
	)

	EncodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitsize_encode_failures_total",
			Help: "Encoder calls that returned an error",
		},
		[]string{"format"},
	)

	SolveBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fitsize_solve_bytes",
			Help:    "Search input/output bytes",
			Buckets: []float64{1024, 10240, 102400, 512000, 1048576, 5242880, 10485760},
		},
		[]string{"direction"}, // input, output
	)

	// Queue/Pool metrics
	WorkerPoolQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fitsize_worker_pool_queue_size",
			Help: "Current number of jobs in worker pool queue",
		},
	)

	WorkerPoolActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fitsize_worker_pool_active_jobs",
			Help: "Current number of searches running in the worker pool",
		},
	)

	// Rate limiting metrics
	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitsize_rate_limit_exceeded_total",
			Help: "Total number of requests rejected due to rate limiting",
		},
		[]string{"ip_prefix"}, // First octet for privacy
	)

	// Concurrency metrics
	ConcurrentRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fitsize_concurrent_requests",
			Help: "Current number of concurrent requests being processed",
		},
	)

	ConcurrencyLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fitsize_concurrency_limit_exceeded_total",
			Help: "Total number of requests rejected due to concurrency limit",
		},
	)
)

// RecordRequest records an HTTP request
func RecordRequest(method, endpoint, status string, duration float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(endpoint).Observe(duration)
}

// RecordSolve records a finished search. outputBytes is ignored when the
// search produced nothing.
func RecordSolve(reason, format string, attempts int, rescaled bool, duration float64, inputBytes, outputBytes int64) {
	SolvesTotal.WithLabelValues(reason, format).Inc()
	SolveDuration.WithLabelValues(format).Observe(duration)
	SolveAttempts.Observe(float64(attempts))
	if rescaled {
		SolveRescaled.Inc()
	}
	SolveBytes.WithLabelValues("input").Observe(float64(inputBytes))
	if outputBytes > 0 {
		SolveBytes.WithLabelValues("output").Observe(float64(outputBytes))
	}
}

// RecordEncodeFailure records one failed encoder call
func RecordEncodeFailure(format string) {
	EncodeFailures.WithLabelValues(format).Inc()
}

// UpdateWorkerPoolMetrics updates worker pool metrics
func UpdateWorkerPoolMetrics(queueSize, activeJobs int) {
	WorkerPoolQueueSize.Set(float64(queueSize))
	WorkerPoolActiveJobs.Set(float64(activeJobs))
}

// RecordRateLimitExceeded records a rate limit rejection
func RecordRateLimitExceeded(ipPrefix string) {
	RateLimitExceeded.WithLabelValues(ipPrefix).Inc()
}

// UpdateConcurrency updates concurrent request gauge
func UpdateConcurrency(count int) {
	ConcurrentRequests.Set(float64(count))
}

// RecordConcurrencyLimitExceeded records a concurrency limit rejection
func RecordConcurrencyLimitExceeded() {
	ConcurrencyLimitExceeded.Inc()
}
