package worker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/vidforge/vidforge/internal/db"
	"github.com/vidforge/vidforge/internal/jobqueue"
	"github.com/vidforge/vidforge/internal/models"
	"github.com/vidforge/vidforge/internal/publish"
)

// handlePublishVideo pushes an episode's latest publishable render to
// one platform. The rate ceiling is checked before any upload work; a
// full window surfaces as a retryable error so the job backs off into
// the next window.
func (w *Worker) handlePublishVideo(ctx context.Context, job *jobqueue.Job) error {
	payload := job.Payload.(jobqueue.PublishVideo)

	platform := publish.Platform(payload.Platform)
	if !platform.Valid() {
		return jobqueue.Permanent(fmt.Errorf("unknown platform %q", payload.Platform))
	}

	episode, err := w.store.GetEpisode(ctx, payload.EpisodeID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return jobqueue.Permanent(err)
		}
		return err
	}

	// The render may still be in flight when the whole pipeline was
	// submitted at once; absence is retryable, not fatal.
	rnd, err := w.store.LatestPublishableRender(ctx, episode.ID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("episode %s has no publishable render yet: %w", episode.ID, err)
		}
		return err
	}

	allowed, err := w.limiter.Allow(ctx, platform)
	if err != nil {
		return fmt.Errorf("rate check: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%s publish ceiling (%d/24h) reached", platform, publish.Ceiling(platform))
	}

	adapter, err := w.adapters.Adapter(platform)
	if err != nil {
		return jobqueue.Permanent(err)
	}

	w.logProgress(ctx, job, 20, fmt.Sprintf("Uploading to %s", platform))
	videoID, err := adapter.Upload(ctx, publish.UploadRequest{
		VideoURL:    *rnd.URL,
		Title:       episode.Title,
		Description: episodeDescription(episode),
	})
	if err != nil {
		return fmt.Errorf("%s upload: %w", platform, err)
	}

	if err := w.limiter.Record(ctx, platform); err != nil {
		log.Printf("[Worker] Failed to record %s publish in rate window: %v", platform, err)
	}

	event := &models.PublishEvent{
		ID:        uuid.New(),
		EpisodeID: episode.ID,
		Platform:  string(platform),
		VideoID:   videoID,
		Scheduled: payload.Scheduled,
	}
	if err := w.store.CreatePublishEvent(ctx, event); err != nil {
		return err
	}

	if err := w.store.UpdateEpisodeStatus(ctx, episode.ID, models.EpisodeStatusPublished); err != nil {
		return err
	}

	log.Printf("[Worker] Published episode %s to %s (video_id=%s, scheduled=%v)", episode.ID, platform, videoID, payload.Scheduled)
	return nil
}

func episodeDescription(episode *models.Episode) string {
	if episode.Topic != nil && *episode.Topic != "" {
		return *episode.Topic
	}
	return episode.Title
}
