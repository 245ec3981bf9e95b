package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vidforge/vidforge/internal/db"
	"github.com/vidforge/vidforge/internal/jobqueue"
	"github.com/vidforge/vidforge/internal/models"
	"github.com/vidforge/vidforge/internal/render"
	"github.com/vidforge/vidforge/internal/storage"
)

const (
	// Signed URL lifetime for staging scene assets. Long enough for the
	// slowest download with retries.
	assetURLExpiry = time.Hour

	// Concurrent asset downloads per render.
	maxConcurrentDownloads = 4

	// The encode occupies the 30-90 band of the job's progress; fetch and
	// upload sit on either side.
	encodeProgressBase = 30
	encodeProgressSpan = 60
)

// handleRenderEpisode turns an episode's scenes into the final video:
// stage assets, build the filter graph, encode, probe, upload, record.
// The scratch directory is removed on every exit path.
func (w *Worker) handleRenderEpisode(ctx context.Context, job *jobqueue.Job) (err error) {
	payload := job.Payload.(jobqueue.RenderEpisode)

	rnd, episode, err := w.store.GetRenderChain(ctx, payload.RenderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return jobqueue.Permanent(err)
		}
		return err
	}

	// Any failure past this point flags the render row before the error
	// reaches the queue; a retry that later succeeds completes it again.
	defer func() {
		if err != nil {
			w.markRenderFailed(ctx, rnd.ID)
		}
	}()

	scenes, err := w.store.ListScenes(ctx, episode.ID)
	if err != nil {
		return err
	}
	if len(scenes) == 0 {
		return jobqueue.Permanent(fmt.Errorf("episode %s has no scenes to render", episode.ID))
	}

	scratch, err := os.MkdirTemp(w.scratchDir, "render-"+rnd.ID.String()+"-")
	if err != nil {
		if err := os.MkdirAll(w.scratchDir, 0o755); err != nil {
			return fmt.Errorf("failed to create scratch root: %w", err)
		}
		if scratch, err = os.MkdirTemp(w.scratchDir, "render-"+rnd.ID.String()+"-"); err != nil {
			return fmt.Errorf("failed to create scratch dir: %w", err)
		}
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			log.Printf("[Worker] Failed to remove scratch dir %s: %v", scratch, rmErr)
		}
	}()

	w.logProgress(ctx, job, 5, fmt.Sprintf("Fetching %d scene assets", len(scenes)))
	inputs, err := w.stageAssets(ctx, scratch, scenes)
	if err != nil {
		return err
	}

	subtitlePath, err := w.fetchSubtitles(ctx, scratch, episode.ID, scenes)
	if err != nil {
		return err
	}

	graph := render.BuildEpisodeGraph(scenes, subtitlePath)
	outputPath := filepath.Join(scratch, "output.mp4")

	expectedDuration := scenes[len(scenes)-1].EndS
	err = w.transcoder.Transcode(ctx, render.TranscodeRequest{
		Inputs:            inputs,
		Graph:             graph,
		OutputPath:        outputPath,
		ExpectedDurationS: expectedDuration,
		OnProgress: func(percent int) {
			scaled := encodeProgressBase + percent*encodeProgressSpan/100
			w.logProgress(ctx, job, scaled, "Encoding")
		},
	})
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	probed, err := w.transcoder.Probe(ctx, outputPath)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}

	w.logProgress(ctx, job, 92, "Uploading render")
	storagePath := fmt.Sprintf("episodes/%s/renders/%s.mp4", episode.ID, rnd.ID)
	if err := w.blobs.UploadFile(ctx, storage.BucketRenders, storagePath, outputPath, "video/mp4"); err != nil {
		return fmt.Errorf("render upload: %w", err)
	}

	url := w.blobs.PublicURL(storage.BucketRenders, storagePath)
	sizeMB := float64(probed.SizeBytes) / (1024 * 1024)
	if err := w.store.CompleteRender(ctx, rnd.ID, url, probed.BitrateBPS, sizeMB); err != nil {
		return err
	}
	if err := w.store.UpdateEpisodeStatus(ctx, episode.ID, models.EpisodeStatusRendered); err != nil {
		return err
	}

	log.Printf("[Worker] Render %s completed (%.1fMB, %.1fs)", rnd.ID, sizeMB, probed.DurationS)
	return nil
}

// stageAssets downloads every scene's media into the scratch directory
// via signed URLs, in scene order.
func (w *Worker) stageAssets(ctx context.Context, scratch string, scenes []models.Scene) ([]string, error) {
	inputs := make([]string, len(scenes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDownloads)

	for i, scene := range scenes {
		localPath := filepath.Join(scratch, fmt.Sprintf("scene-%d%s", scene.Idx, assetExt(scene.Src)))
		inputs[i] = localPath

		g.Go(func() error {
			signed, err := w.blobs.SignedURL(gctx, storage.BucketAssets, scene.Src, assetURLExpiry)
			if err != nil {
				return fmt.Errorf("scene %d sign: %w", scene.Idx, err)
			}
			if err := w.blobs.DownloadToFile(gctx, signed, localPath); err != nil {
				return fmt.Errorf("scene %d download: %w", scene.Idx, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return inputs, nil
}

func assetExt(src string) string {
	if ext := filepath.Ext(src); ext != "" {
		return ext
	}
	return ".mp4"
}

// fetchSubtitles stages the episode's subtitle track. A track uploaded
// to the subtitles bucket as {episode_id}.srt wins; its absence is
// tolerated and an SRT derived from scene narration is used instead.
func (w *Worker) fetchSubtitles(ctx context.Context, scratch string, episodeID uuid.UUID, scenes []models.Scene) (string, error) {
	path := filepath.Join(scratch, "subtitles.srt")
	signed, err := w.blobs.SignedURL(ctx, storage.BucketSubtitles, episodeID.String()+".srt", assetURLExpiry)
	if err == nil {
		if err := w.blobs.DownloadToFile(ctx, signed, path); err == nil {
			return path, nil
		}
	}
	return w.writeSubtitles(scratch, scenes)
}

// writeSubtitles builds an SRT track from scene narrations. Returns an
// empty path when no scene has narration, which skips the burn-in stage.
func (w *Worker) writeSubtitles(scratch string, scenes []models.Scene) (string, error) {
	var b strings.Builder
	entry := 1
	for _, scene := range scenes {
		if scene.Narration == nil || *scene.Narration == "" {
			continue
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", entry, srtTimestamp(scene.StartS), srtTimestamp(scene.EndS), *scene.Narration)
		entry++
	}
	if entry == 1 {
		return "", nil
	}

	path := filepath.Join(scratch, "subtitles.srt")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write subtitles: %w", err)
	}
	return path, nil
}

// srtTimestamp formats seconds as HH:MM:SS,mmm.
func srtTimestamp(seconds float64) string {
	ms := int(seconds * 1000)
	h := ms / 3600000
	m := ms % 3600000 / 60000
	s := ms % 60000 / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}

// markRenderFailed flags the render row on a permanent failure. Best
// effort; the job outcome is what callers observe.
func (w *Worker) markRenderFailed(ctx context.Context, id uuid.UUID) {
	if err := w.store.FailRender(ctx, id); err != nil {
		log.Printf("[Worker] Failed to mark render %s failed: %v", id, err)
	}
}
