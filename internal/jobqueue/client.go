package jobqueue

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// defaultPollInterval is how long an idle worker sleeps between
	// lease attempts.
	defaultPollInterval = 2 * time.Second

	// maintenanceInterval drives lease-expiration requeue and retention
	// garbage collection.
	maintenanceInterval = time.Minute

	// leaseExpiry is how long a job may sit active before it is presumed
	// orphaned by a crashed worker and returned to the queue.
	leaseExpiry = 15 * time.Minute

	// cancelRetain is the retention window for cancelled jobs.
	cancelRetain = time.Hour
)

// ProgressEntry is one structured line appended to the job log sink.
type ProgressEntry struct {
	JobID     uuid.UUID
	QueueName string
	Message   string
	Progress  *int
	Metadata  map[string]interface{}
}

// ProgressLogger is the external, append-only job log sink. It is
// best-effort: the runtime swallows its errors so a logging failure can
// never fail a job.
type ProgressLogger interface {
	LogJobProgress(ctx context.Context, entry ProgressEntry) error
}

// HandlerFunc processes one leased job. Returning nil completes the job;
// returning an error sends it through retry policy, unless the error is
// marked with Permanent, which fails it immediately.
type HandlerFunc func(ctx context.Context, job *Job) error

// WorkOptions tunes how a registered handler's queue is consumed.
type WorkOptions struct {
	// Concurrency is the number of worker goroutines leasing this kind.
	// Defaults to 1.
	Concurrency int

	// PollInterval overrides the idle sleep between lease attempts.
	PollInterval time.Duration
}

type registration struct {
	handler HandlerFunc
	opts    WorkOptions
}

// Client is the queue handle: producers enqueue through it and the
// consumer runtime leases from it. Construct one per process with
// NewClient and pass it by reference; it holds no global state.
type Client struct {
	store    store
	logger   ProgressLogger
	handlers map[Kind]registration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewClient creates a queue client backed by the given database.
// logger may be nil to disable the progress sink.
func NewClient(db *sql.DB, logger ProgressLogger) *Client {
	return newClientWithStore(&pgStore{db: db}, logger)
}

func newClientWithStore(s store, logger ProgressLogger) *Client {
	return &Client{
		store:    s,
		logger:   logger,
		handlers: make(map[Kind]registration),
	}
}

// Migrate creates the queue's own tables. Call once at startup before
// Start.
func (c *Client) Migrate(ctx context.Context) error {
	if pg, ok := c.store.(*pgStore); ok {
		return pg.migrate(ctx)
	}
	return nil
}

// Enqueue persists one job. If opts carries a singleton key and a
// non-terminal job with that key exists, no new row is created and the
// existing job's id is returned.
func (c *Client) Enqueue(ctx context.Context, payload Payload, opts Options) (uuid.UUID, error) {
	startAfter := opts.StartAfter
	if startAfter.IsZero() {
		startAfter = time.Now()
	}

	job := &Job{
		ID:               uuid.New(),
		Kind:             payload.Kind(),
		Payload:          payload,
		State:            StateCreated,
		RetryLimit:       opts.RetryLimit,
		RetryDelay:       opts.RetryDelay,
		RetryBackoff:     opts.RetryBackoff,
		SingletonKey:     opts.SingletonKey,
		StartAfter:       startAfter,
		RemoveOnComplete: opts.RemoveOnComplete,
		RemoveOnFail:     opts.RemoveOnFail,
	}

	id, created, err := c.store.insert(ctx, job)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue %s: %w", payload.Kind(), err)
	}

	if created {
		log.Printf("[Queue] Enqueued %s job %s (singleton_key=%s)", payload.Kind(), id, opts.SingletonKey)
	} else {
		log.Printf("[Queue] Reusing existing %s job %s (singleton_key=%s)", payload.Kind(), id, opts.SingletonKey)
	}

	return id, nil
}

// send enqueues a payload with its kind's default policy and its own
// singleton key.
func (c *Client) send(ctx context.Context, payload Payload) (uuid.UUID, error) {
	opts := DefaultOptions(payload.Kind())
	opts.SingletonKey = payload.SingletonKey()
	return c.Enqueue(ctx, payload, opts)
}

// EnqueueGenerateEpisode submits a generate-episode job for one episode.
func (c *Client) EnqueueGenerateEpisode(ctx context.Context, episodeID uuid.UUID) (uuid.UUID, error) {
	return c.send(ctx, GenerateEpisode{EpisodeID: episodeID})
}

// EnqueueRenderEpisode submits a render-episode job for one render record.
func (c *Client) EnqueueRenderEpisode(ctx context.Context, renderID uuid.UUID) (uuid.UUID, error) {
	return c.send(ctx, RenderEpisode{RenderID: renderID})
}

// EnqueuePublishVideo submits a publish-video job for one episode and
// platform.
func (c *Client) EnqueuePublishVideo(ctx context.Context, episodeID uuid.UUID, platform string, scheduled bool) (uuid.UUID, error) {
	return c.send(ctx, PublishVideo{EpisodeID: episodeID, Platform: platform, Scheduled: scheduled})
}

// PipelineJobs holds the ids of one full generate → render → publish
// submission.
type PipelineJobs struct {
	GenerateJobID uuid.UUID
	RenderJobID   uuid.UUID
	PublishJobID  uuid.UUID
}

// EnqueueEpisodePipeline submits all three stages for an episode at once.
// The stages are not sequenced by the queue: each handler re-checks its
// own inputs, and the singleton keys only prevent duplicate submission of
// the same stage.
func (c *Client) EnqueueEpisodePipeline(ctx context.Context, episodeID, renderID uuid.UUID, platform string) (*PipelineJobs, error) {
	generateID, err := c.EnqueueGenerateEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}

	renderJobID, err := c.EnqueueRenderEpisode(ctx, renderID)
	if err != nil {
		return nil, err
	}

	publishID, err := c.EnqueuePublishVideo(ctx, episodeID, platform, false)
	if err != nil {
		return nil, err
	}

	return &PipelineJobs{
		GenerateJobID: generateID,
		RenderJobID:   renderJobID,
		PublishJobID:  publishID,
	}, nil
}

// Job returns a job by id, for status queries.
func (c *Client) Job(ctx context.Context, id uuid.UUID) (*Job, error) {
	return c.store.get(ctx, id)
}

// Cancel moves a pending job to cancelled. Jobs already active keep
// running; completed/failed jobs are left alone.
func (c *Client) Cancel(ctx context.Context, id uuid.UUID) error {
	return c.store.cancel(ctx, id, cancelRetain)
}

// RegisterHandler binds a handler to a job kind. Must be called before
// Start; registering a kind twice replaces the previous handler.
func (c *Client) RegisterHandler(kind Kind, handler HandlerFunc, opts WorkOptions) {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	c.handlers[kind] = registration{handler: handler, opts: opts}
}

// Start launches the consumer runtime: one polling goroutine per
// registered handler slot plus a maintenance loop. It returns
// immediately; call Stop to cease leasing.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	total := 0
	for kind, reg := range c.handlers {
		for i := 0; i < reg.opts.Concurrency; i++ {
			c.wg.Add(1)
			go c.runWorker(pollCtx, kind, reg)
			total++
		}
	}

	c.wg.Add(1)
	go c.runMaintenance(pollCtx)

	log.Printf("[Queue] Started %d workers across %d queues", total, len(c.handlers))
}

// Stop ceases leasing new jobs and waits for workers to exit. A worker
// mid-handler finishes its current job first: in-flight execution is
// never aborted.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	log.Println("[Queue] All workers stopped")
}

func (c *Client) runWorker(ctx context.Context, kind Kind, reg registration) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := c.store.fetch(ctx, kind)
		if err != nil {
			log.Printf("[Queue] Fetch failed for %s: %v", kind, err)
			sleep(ctx, reg.opts.PollInterval)
			continue
		}
		if job == nil {
			sleep(ctx, reg.opts.PollInterval)
			continue
		}

		c.process(ctx, reg.handler, job)
	}
}

// process invokes the handler and applies the outcome transition. The
// handler runs on a context detached from the poller's cancellation so
// Stop doesn't abort in-flight work.
func (c *Client) process(ctx context.Context, handler HandlerFunc, job *Job) {
	hctx := context.WithoutCancel(ctx)

	progress := 0
	c.logProgress(hctx, job, fmt.Sprintf("Job started (attempt %d/%d)", job.RetryCount+1, job.RetryLimit+1), &progress, nil)

	err := invoke(hctx, handler, job)
	if err == nil {
		if serr := c.store.complete(hctx, job.ID, job.RemoveOnComplete); serr != nil {
			log.Printf("[Queue] Failed to complete job %s: %v", job.ID, serr)
		}
		done := 100
		c.logProgress(hctx, job, "Job completed", &done, nil)
		log.Printf("[Queue] Job %s (%s) completed", job.ID, job.Kind)
		return
	}

	if IsPermanent(err) || job.RetryCount >= job.RetryLimit {
		if serr := c.store.fail(hctx, job.ID, job.RemoveOnFail, err.Error()); serr != nil {
			log.Printf("[Queue] Failed to fail job %s: %v", job.ID, serr)
		}
		c.logProgress(hctx, job, fmt.Sprintf("Job failed permanently: %v", err), nil, map[string]interface{}{"error": err.Error()})
		log.Printf("[Queue] Job %s (%s) failed permanently after %d retries: %v", job.ID, job.Kind, job.RetryCount, err)
		return
	}

	delay := nextRetryDelay(job.RetryDelay, job.RetryBackoff, job.RetryCount)
	if serr := c.store.retry(hctx, job.ID, time.Now().Add(delay), err.Error()); serr != nil {
		log.Printf("[Queue] Failed to requeue job %s: %v", job.ID, serr)
	}
	c.logProgress(hctx, job, fmt.Sprintf("Job failed, retrying in %s: %v", delay, err), nil, map[string]interface{}{"error": err.Error()})
	log.Printf("[Queue] Job %s (%s) failed (retry %d/%d in %s): %v", job.ID, job.Kind, job.RetryCount+1, job.RetryLimit, delay, err)
}

// invoke shields the runtime from handler panics; a panic is treated as
// an ordinary failure so retry policy still applies.
func invoke(ctx context.Context, handler HandlerFunc, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (c *Client) runMaintenance(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := c.store.requeueExpired(ctx, leaseExpiry); err != nil {
				log.Printf("[Queue] Lease expiration sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("[Queue] Requeued %d expired jobs", n)
			}

			if n, err := c.store.purge(ctx); err != nil {
				log.Printf("[Queue] Retention purge failed: %v", err)
			} else if n > 0 {
				log.Printf("[Queue] Purged %d terminal jobs", n)
			}
		}
	}
}

// logProgress appends to the sink, swallowing failures: the log sink must
// never fail the job itself.
func (c *Client) logProgress(ctx context.Context, job *Job, message string, progress *int, metadata map[string]interface{}) {
	if c.logger == nil {
		return
	}
	entry := ProgressEntry{
		JobID:     job.ID,
		QueueName: string(job.Kind),
		Message:   message,
		Progress:  progress,
		Metadata:  metadata,
	}
	if err := c.logger.LogJobProgress(ctx, entry); err != nil {
		log.Printf("[Queue] Progress log failed for job %s: %v", job.ID, err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
