package converter

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestWorkerPool_Submit(t *testing.T) {
	pool := NewWorkerPool(testConverter(), 2)
	original := encodeJPEG(t, noisyImage(96, 96), 95)
	opts := Options{TargetBytes: int64(len(original) / 2), Tolerance: 0.1}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := pool.SubmitWait(context.Background(), original, opts)
			if err == nil && len(res.Data) == 0 {
				err = errors.New("empty result")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("SubmitWait() error = %v", err)
		}
	}

	pool.Stop()
	if _, err := pool.Submit(context.Background(), original, opts); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Submit() after Stop error = %v, want ErrPoolStopped", err)
	}
	// second Stop is a no-op
	pool.Stop()
}

func TestWorkerPool_Busy(t *testing.T) {
	pool := NewWorkerPool(testConverter(), 1)
	// mark started without workers so the queue stays full
	pool.once.Do(func() {})
	for i := 0; i < cap(pool.jobs); i++ {
		pool.jobs <- Job{Ctx: context.Background(), Result: make(chan JobResult, 1)}
	}

	if _, err := pool.Submit(context.Background(), []byte("x"), Options{}); !errors.Is(err, ErrPoolBusy) {
		t.Errorf("Submit() error = %v, want ErrPoolBusy", err)
	}
	if _, queued := pool.Stats(); queued != cap(pool.jobs) {
		t.Errorf("queued = %d, want %d", queued, cap(pool.jobs))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.SubmitWithRetry(ctx, []byte("x"), Options{}, 3); !errors.Is(err, context.Canceled) && !errors.Is(err, ErrPoolBusy) {
		t.Errorf("SubmitWithRetry() error = %v", err)
	}

	pool.Stop()
}

func TestWorkerPool_PropagatesErrors(t *testing.T) {
	pool := NewWorkerPool(testConverter(), 1)
	defer pool.Stop()

	if _, err := pool.Submit(context.Background(), []byte("not an image at all"), Options{}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Submit() error = %v, want ErrUnsupportedFormat", err)
	}
}
