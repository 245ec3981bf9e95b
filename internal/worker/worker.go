package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vidforge/vidforge/internal/jobqueue"
	"github.com/vidforge/vidforge/internal/models"
	"github.com/vidforge/vidforge/internal/publish"
	"github.com/vidforge/vidforge/internal/render"
	"github.com/vidforge/vidforge/internal/services"
)

// store is the database surface the handlers consume. *db.DB satisfies
// it; tests substitute a fake.
type store interface {
	GetEpisode(ctx context.Context, id uuid.UUID) (*models.Episode, error)
	UpdateEpisodeStatus(ctx context.Context, id uuid.UUID, status models.EpisodeStatus) error
	SetEpisodeGenerated(ctx context.Context, id uuid.UUID, timeline models.JSONB, durationSec int) error
	SetEpisodeCoverURL(ctx context.Context, id uuid.UUID, coverURL string) error
	ReplaceScenes(ctx context.Context, episodeID uuid.UUID, scenes []models.Scene) error
	ListScenes(ctx context.Context, episodeID uuid.UUID) ([]models.Scene, error)
	GetRenderChain(ctx context.Context, renderID uuid.UUID) (*models.Render, *models.Episode, error)
	CompleteRender(ctx context.Context, id uuid.UUID, url string, bitrate int, sizeMB float64) error
	FailRender(ctx context.Context, id uuid.UUID) error
	LatestPublishableRender(ctx context.Context, episodeID uuid.UUID) (*models.Render, error)
	CreatePublishEvent(ctx context.Context, event *models.PublishEvent) error
}

// blobStore is the object storage surface the handlers consume.
type blobStore interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error
	UploadFile(ctx context.Context, bucket, storagePath, localPath, contentType string) error
	SignedURL(ctx context.Context, bucket, path string, expiresIn time.Duration) (string, error)
	DownloadToFile(ctx context.Context, url, localPath string) error
	PublicURL(bucket, path string) string
}

type transcoder interface {
	Transcode(ctx context.Context, req render.TranscodeRequest) error
	Probe(ctx context.Context, path string) (*render.ProbeResult, error)
}

type scriptGenerator interface {
	GenerateEpisodeScript(ctx context.Context, topic string, targetDurationSec int) (*services.EpisodeScript, error)
}

type imageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

type adapterRegistry interface {
	Adapter(platform publish.Platform) (publish.Adapter, error)
}

// Worker owns the three job handlers. Register binds them to the queue
// client; the queue runtime drives execution, retries, and terminal
// transitions.
type Worker struct {
	store      store
	blobs      blobStore
	transcoder transcoder
	scripts    scriptGenerator
	images     imageGenerator
	adapters   adapterRegistry
	limiter    publish.RateLimiter
	progress   jobqueue.ProgressLogger

	scratchDir string
}

func New(
	st store,
	blobs blobStore,
	trans transcoder,
	scripts scriptGenerator,
	images imageGenerator,
	adapters adapterRegistry,
	limiter publish.RateLimiter,
	progress jobqueue.ProgressLogger,
	scratchDir string,
) *Worker {
	if scratchDir == "" {
		scratchDir = "/tmp/vidforge"
	}
	return &Worker{
		store:      st,
		blobs:      blobs,
		transcoder: trans,
		scripts:    scripts,
		images:     images,
		adapters:   adapters,
		limiter:    limiter,
		progress:   progress,
		scratchDir: scratchDir,
	}
}

// Register binds all handlers to the queue client. Render jobs are kept
// at lower concurrency than the others; one encode saturates multiple
// cores on its own.
func (w *Worker) Register(client *jobqueue.Client, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}

	client.RegisterHandler(jobqueue.KindGenerateEpisode, w.handleGenerateEpisode, jobqueue.WorkOptions{Concurrency: concurrency})
	client.RegisterHandler(jobqueue.KindRenderEpisode, w.handleRenderEpisode, jobqueue.WorkOptions{Concurrency: 1})
	client.RegisterHandler(jobqueue.KindPublishVideo, w.handlePublishVideo, jobqueue.WorkOptions{Concurrency: concurrency})
}

// logProgress reports handler progress to the job log sink. Best-effort;
// a sink failure never surfaces to the handler.
func (w *Worker) logProgress(ctx context.Context, job *jobqueue.Job, percent int, message string) {
	if w.progress == nil {
		return
	}
	p := percent
	_ = w.progress.LogJobProgress(ctx, jobqueue.ProgressEntry{
		JobID:     job.ID,
		QueueName: string(job.Kind),
		Message:   message,
		Progress:  &p,
	})
}
