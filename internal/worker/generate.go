package worker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vidforge/vidforge/internal/db"
	"github.com/vidforge/vidforge/internal/jobqueue"
	"github.com/vidforge/vidforge/internal/models"
	"github.com/vidforge/vidforge/internal/services"
	"github.com/vidforge/vidforge/internal/storage"
)

const defaultEpisodeDurationSec = 60

// maxConcurrentImageGen bounds parallel image generation per episode.
const maxConcurrentImageGen = 3

// handleGenerateEpisode produces an episode's script, scene visuals, and
// cover from its topic, then stores the full timeline.
func (w *Worker) handleGenerateEpisode(ctx context.Context, job *jobqueue.Job) error {
	payload := job.Payload.(jobqueue.GenerateEpisode)

	episode, err := w.store.GetEpisode(ctx, payload.EpisodeID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return jobqueue.Permanent(err)
		}
		return err
	}

	if err := w.store.UpdateEpisodeStatus(ctx, episode.ID, models.EpisodeStatusGenerating); err != nil {
		return err
	}

	topic := episode.Title
	if episode.Topic != nil && *episode.Topic != "" {
		topic = *episode.Topic
	}
	targetDuration := episode.DurationSec
	if targetDuration <= 0 {
		targetDuration = defaultEpisodeDurationSec
	}

	w.logProgress(ctx, job, 10, "Generating script")
	script, err := w.scripts.GenerateEpisodeScript(ctx, topic, targetDuration)
	if err != nil {
		return fmt.Errorf("script generation: %w", err)
	}

	w.logProgress(ctx, job, 30, fmt.Sprintf("Generating %d scene visuals", len(script.Scenes)))
	scenes, err := w.generateSceneAssets(ctx, episode.ID, script.Scenes)
	if err != nil {
		return fmt.Errorf("scene assets: %w", err)
	}

	if err := w.store.ReplaceScenes(ctx, episode.ID, scenes); err != nil {
		return err
	}

	timeline := models.JSONB{
		"title":        script.Title,
		"scene_count":  len(script.Scenes),
		"duration_sec": script.DurationSec,
	}
	if err := w.store.SetEpisodeGenerated(ctx, episode.ID, timeline, script.DurationSec); err != nil {
		return err
	}

	// The cover is decorative; a failure here never fails the episode.
	w.logProgress(ctx, job, 90, "Generating cover")
	if err := w.generateCover(ctx, episode.ID, script.CoverPrompt); err != nil {
		log.Printf("[Worker] Cover generation for episode %s skipped: %v", episode.ID, err)
	}

	return nil
}

// generateSceneAssets renders each scene's visual and uploads it to the
// assets bucket, returning the scene rows to store.
func (w *Worker) generateSceneAssets(ctx context.Context, episodeID uuid.UUID, plans []services.ScenePlan) ([]models.Scene, error) {
	scenes := make([]models.Scene, len(plans))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentImageGen)

	for i, plan := range plans {
		g.Go(func() error {
			data, err := w.images.GenerateImage(gctx, plan.VisualPrompt)
			if err != nil {
				return fmt.Errorf("scene %d visual: %w", plan.Idx, err)
			}

			src := fmt.Sprintf("episodes/%s/scenes/%d.png", episodeID, plan.Idx)
			if err := w.blobs.Upload(gctx, storage.BucketAssets, src, data, "image/png"); err != nil {
				return fmt.Errorf("scene %d upload: %w", plan.Idx, err)
			}

			scene := models.Scene{
				ID:        uuid.New(),
				EpisodeID: episodeID,
				Idx:       plan.Idx,
				StartS:    plan.StartS,
				EndS:      plan.EndS,
				Type:      models.SceneTypeVisual,
				Src:       src,
			}
			if plan.PanZoom != "" {
				panZoom := plan.PanZoom
				scene.PanZoom = &panZoom
			}
			if plan.Narration != "" {
				narration := plan.Narration
				scene.Narration = &narration
			}
			scenes[i] = scene
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scenes, nil
}

func (w *Worker) generateCover(ctx context.Context, episodeID uuid.UUID, prompt string) error {
	if prompt == "" {
		return nil
	}

	data, err := w.images.GenerateImage(ctx, prompt)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("episodes/%s/cover.png", episodeID)
	if err := w.blobs.Upload(ctx, storage.BucketCovers, path, data, "image/png"); err != nil {
		return err
	}

	return w.store.SetEpisodeCoverURL(ctx, episodeID, w.blobs.PublicURL(storage.BucketCovers, path))
}
