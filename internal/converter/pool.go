package converter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/harliandi/go-fitsize/pkg/metrics"
)

var (
	// ErrPoolBusy is returned when the worker pool is at capacity
	ErrPoolBusy = errors.New("worker pool is busy, please retry later")
	// ErrPoolStopped is returned for jobs submitted after Stop
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// Job represents a compression job
type Job struct {
	Ctx    context.Context
	Data   []byte
	Opts   Options
	Result chan<- JobResult
}

// JobResult represents the outcome of a compression job
type JobResult struct {
	Result *Result
	Err    error
}

// WorkerPool bounds how many compressions run at once. Each job is an
// independent search with its own state.
type WorkerPool struct {
	conv    *Converter
	jobs    chan Job
	workers int
	active  atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once

	mu      sync.RWMutex
	stopped bool
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(conv *Converter, workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		conv:    conv,
		jobs:    make(chan Job, workers*2),
		workers: workers,
	}
}

// Start starts the worker pool goroutines
func (p *WorkerPool) Start() {
	p.once.Do(func() {
		logrus.WithField("workers", p.workers).Info("starting worker pool")
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.publish(1)

		var res JobResult
		if err := job.Ctx.Err(); err != nil {
			res.Err = err
		} else {
			res.Result, res.Err = p.conv.Compress(job.Ctx, job.Data, job.Opts)
		}

		p.publish(-1)

		// Result channel is buffered; never block on a gone receiver
		select {
		case job.Result <- res:
		default:
			logrus.WithField("worker", id).Warn("result channel full or closed")
		}
	}
}

func (p *WorkerPool) publish(delta int64) {
	active := p.active.Add(delta)
	metrics.UpdateWorkerPoolMetrics(len(p.jobs), int(active))
}

// Submit queues a job without waiting for queue space.
// Returns ErrPoolBusy if the worker pool queue is full
func (p *WorkerPool) Submit(ctx context.Context, data []byte, opts Options) (*Result, error) {
	return p.submit(ctx, data, opts, false)
}

// SubmitWait queues a job, waiting for queue space until ctx is done.
func (p *WorkerPool) SubmitWait(ctx context.Context, data []byte, opts Options) (*Result, error) {
	return p.submit(ctx, data, opts, true)
}

func (p *WorkerPool) submit(ctx context.Context, data []byte, opts Options, wait bool) (*Result, error) {
	p.Start()

	resultChan := make(chan JobResult, 1)
	job := Job{Ctx: ctx, Data: data, Opts: opts, Result: resultChan}

	if err := p.enqueue(ctx, job, wait); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		return res.Result, res.Err
	}
}

func (p *WorkerPool) enqueue(ctx context.Context, job Job, wait bool) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	if wait {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p.jobs <- job:
			return nil
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- job:
		metrics.UpdateWorkerPoolMetrics(len(p.jobs), int(p.active.Load()))
		return nil
	default:
		return ErrPoolBusy
	}
}

// SubmitWithRetry submits a job to the worker pool with retry on busy
func (p *WorkerPool) SubmitWithRetry(ctx context.Context, data []byte, opts Options, maxRetries int) (*Result, error) {
	lastErr := ErrPoolBusy
	for i := 0; i < maxRetries; i++ {
		result, err := p.Submit(ctx, data, opts)
		if !errors.Is(err, ErrPoolBusy) {
			return result, err
		}
		lastErr = err

		// linear backoff
		waitTime := time.Duration(i+1) * 10 * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(waitTime):
		}
	}
	return nil, lastErr
}

// Stop refuses new jobs, drains the queue and waits for the workers
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("worker pool stopped")
}

// Stats returns current pool statistics
func (p *WorkerPool) Stats() (active, queued int) {
	return int(p.active.Load()), len(p.jobs)
}
