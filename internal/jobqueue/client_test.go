package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

// drain repeatedly leases and processes jobs of the given kind until the
// queue is empty, bounded to avoid spinning forever on a bug.
func drain(t *testing.T, c *Client, kind Kind, handler HandlerFunc) int {
	t.Helper()
	processed := 0
	for i := 0; i < 100; i++ {
		job, err := c.store.fetch(context.Background(), kind)
		if err != nil {
			t.Fatalf("fetch failed: %v", err)
		}
		if job == nil {
			return processed
		}
		c.process(context.Background(), handler, job)
		processed++
	}
	t.Fatal("queue did not drain after 100 iterations")
	return processed
}

// zeroDelayOptions keeps retried jobs immediately eligible so tests can
// drain synchronously.
func zeroDelayOptions(kind Kind, retryLimit int) Options {
	opts := DefaultOptions(kind)
	opts.RetryLimit = retryLimit
	opts.RetryDelay = 0
	opts.RetryBackoff = false
	return opts
}

func TestSingletonEnqueueReturnsExistingJob(t *testing.T) {
	c := newClientWithStore(newMemStore(), nil)
	ctx := context.Background()

	renderID := uuid.New()

	first, err := c.EnqueueRenderEpisode(ctx, renderID)
	if err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}

	// Submitting the same render again before the first completes must be
	// a no-op returning the existing job id.
	second, err := c.EnqueueRenderEpisode(ctx, renderID)
	if err != nil {
		t.Fatalf("second enqueue failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected same job id for duplicate submission, got %s and %s", first, second)
	}

	// A different render gets its own job.
	other, err := c.EnqueueRenderEpisode(ctx, uuid.New())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if other == first {
		t.Fatal("distinct renders must not share a job")
	}

	// Once the job reaches a terminal state the key is released.
	drain(t, c, KindRenderEpisode, func(ctx context.Context, job *Job) error { return nil })

	third, err := c.EnqueueRenderEpisode(ctx, renderID)
	if err != nil {
		t.Fatalf("enqueue after completion failed: %v", err)
	}
	if third == first {
		t.Fatal("expected a fresh job after the singleton holder completed")
	}
}

func TestRetryThenSucceed(t *testing.T) {
	c := newClientWithStore(newMemStore(), nil)
	ctx := context.Background()

	const retryLimit = 3
	id, err := c.Enqueue(ctx, GenerateEpisode{EpisodeID: uuid.New()}, zeroDelayOptions(KindGenerateEpisode, retryLimit))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	attempts := 0
	drain(t, c, KindGenerateEpisode, func(ctx context.Context, job *Job) error {
		attempts++
		if attempts <= retryLimit {
			return fmt.Errorf("transient failure %d", attempts)
		}
		return nil
	})

	if attempts != retryLimit+1 {
		t.Fatalf("expected %d attempts, got %d", retryLimit+1, attempts)
	}

	job, err := c.Job(ctx, id)
	if err != nil {
		t.Fatalf("get job failed: %v", err)
	}
	if job.State != StateCompleted {
		t.Fatalf("expected completed, got %s", job.State)
	}
	if job.RetryCount != retryLimit {
		t.Fatalf("expected retry count %d, got %d", retryLimit, job.RetryCount)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	c := newClientWithStore(newMemStore(), nil)
	ctx := context.Background()

	const retryLimit = 2
	id, err := c.Enqueue(ctx, PublishVideo{EpisodeID: uuid.New(), Platform: "youtube"}, zeroDelayOptions(KindPublishVideo, retryLimit))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	attempts := 0
	drain(t, c, KindPublishVideo, func(ctx context.Context, job *Job) error {
		attempts++
		return errors.New("platform unavailable")
	})

	// Initial attempt plus retryLimit retries, then failed for good.
	if attempts != retryLimit+1 {
		t.Fatalf("expected %d attempts, got %d", retryLimit+1, attempts)
	}

	job, err := c.Job(ctx, id)
	if err != nil {
		t.Fatalf("get job failed: %v", err)
	}
	if job.State != StateFailed {
		t.Fatalf("expected failed, got %s", job.State)
	}

	// A failed job is never leased again.
	leased, err := c.store.fetch(ctx, KindPublishVideo)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if leased != nil {
		t.Fatalf("failed job was leased again: %s", leased.ID)
	}
}

func TestPermanentErrorSkipsRetry(t *testing.T) {
	c := newClientWithStore(newMemStore(), nil)
	ctx := context.Background()

	id, err := c.Enqueue(ctx, RenderEpisode{RenderID: uuid.New()}, zeroDelayOptions(KindRenderEpisode, 5))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	attempts := 0
	drain(t, c, KindRenderEpisode, func(ctx context.Context, job *Job) error {
		attempts++
		return Permanent(errors.New("render row not found"))
	})

	if attempts != 1 {
		t.Fatalf("permanent error must not be retried, got %d attempts", attempts)
	}

	job, err := c.Job(ctx, id)
	if err != nil {
		t.Fatalf("get job failed: %v", err)
	}
	if job.State != StateFailed {
		t.Fatalf("expected failed, got %s", job.State)
	}
}

func TestHandlerPanicBecomesFailure(t *testing.T) {
	c := newClientWithStore(newMemStore(), nil)
	ctx := context.Background()

	id, err := c.Enqueue(ctx, GenerateEpisode{EpisodeID: uuid.New()}, zeroDelayOptions(KindGenerateEpisode, 0))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	drain(t, c, KindGenerateEpisode, func(ctx context.Context, job *Job) error {
		panic("nil pointer somewhere in the handler")
	})

	job, err := c.Job(ctx, id)
	if err != nil {
		t.Fatalf("get job failed: %v", err)
	}
	if job.State != StateFailed {
		t.Fatalf("expected failed after panic, got %s", job.State)
	}
}

// failingLogger always errors; jobs must complete regardless.
type failingLogger struct{ calls int }

func (l *failingLogger) LogJobProgress(ctx context.Context, entry ProgressEntry) error {
	l.calls++
	return errors.New("log sink unavailable")
}

func TestLogSinkFailureDoesNotFailJob(t *testing.T) {
	logger := &failingLogger{}
	c := newClientWithStore(newMemStore(), logger)
	ctx := context.Background()

	id, err := c.EnqueueGenerateEpisode(ctx, uuid.New())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	drain(t, c, KindGenerateEpisode, func(ctx context.Context, job *Job) error { return nil })

	job, err := c.Job(ctx, id)
	if err != nil {
		t.Fatalf("get job failed: %v", err)
	}
	if job.State != StateCompleted {
		t.Fatalf("expected completed despite log sink failures, got %s", job.State)
	}
	if logger.calls == 0 {
		t.Fatal("expected the runtime to have attempted progress logging")
	}
}

func TestStopDoesNotAbortInflightHandler(t *testing.T) {
	c := newClientWithStore(newMemStore(), nil)
	ctx := context.Background()

	id, err := c.EnqueueRenderEpisode(ctx, uuid.New())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})

	c.RegisterHandler(KindRenderEpisode, func(ctx context.Context, job *Job) error {
		close(started)
		<-release
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}, WorkOptions{Concurrency: 1, PollInterval: 10 * time.Millisecond})

	c.Start(ctx)

	<-started

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	// Stop must block on the in-flight handler, not abort it.
	select {
	case <-stopped:
		t.Fatal("Stop returned while a handler was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-stopped

	job, err := c.Job(ctx, id)
	if err != nil {
		t.Fatalf("get job failed: %v", err)
	}
	if job.State != StateCompleted {
		t.Fatalf("expected in-flight job to complete through Stop, got %s", job.State)
	}
}

func TestNextRetryDelay(t *testing.T) {
	cases := []struct {
		base       time.Duration
		backoff    bool
		retryCount int
		want       time.Duration
	}{
		{30 * time.Second, false, 0, 30 * time.Second},
		{30 * time.Second, false, 4, 30 * time.Second},
		{30 * time.Second, true, 0, 30 * time.Second},
		{30 * time.Second, true, 1, 60 * time.Second},
		{30 * time.Second, true, 3, 240 * time.Second},
	}

	for _, tc := range cases {
		got := nextRetryDelay(tc.base, tc.backoff, tc.retryCount)
		if got != tc.want {
			t.Errorf("nextRetryDelay(%s, %v, %d) = %s, want %s", tc.base, tc.backoff, tc.retryCount, got, tc.want)
		}
	}
}

func TestDefaultOptionsPerKind(t *testing.T) {
	if got := DefaultOptions(KindGenerateEpisode).RetryLimit; got != 5 {
		t.Errorf("generate retry limit = %d, want 5", got)
	}
	if got := DefaultOptions(KindRenderEpisode).RetryLimit; got != 3 {
		t.Errorf("render retry limit = %d, want 3", got)
	}
	if got := DefaultOptions(KindPublishVideo).RetryLimit; got != 2 {
		t.Errorf("publish retry limit = %d, want 2", got)
	}

	base := DefaultOptions(KindRenderEpisode)
	if base.RetryDelay != 30*time.Second || !base.RetryBackoff {
		t.Errorf("unexpected baseline retry policy: %+v", base)
	}
	if base.RemoveOnComplete != 10*time.Minute || base.RemoveOnFail != time.Hour {
		t.Errorf("unexpected retention windows: %+v", base)
	}
}
