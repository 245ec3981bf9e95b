package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/vidforge/vidforge/internal/models"
)

// scheduleStore is the database surface the evaluator needs.
type scheduleStore interface {
	ListSchedulesWithSeries(ctx context.Context) ([]models.ScheduleWithSeries, error)
	ListPublishReadyEpisodes(ctx context.Context, seriesID uuid.UUID) ([]models.Episode, error)
}

// producer submits publish jobs for due schedules.
type producer interface {
	EnqueuePublishVideo(ctx context.Context, episodeID uuid.UUID, platform string, scheduled bool) (uuid.UUID, error)
}

// Evaluator walks all schedules once per tick and enqueues publish jobs
// for the ones whose cron expression matches the current minute. One
// broken schedule never stops the others; its error is logged and the
// walk continues.
type Evaluator struct {
	store    scheduleStore
	producer producer
}

func NewEvaluator(store scheduleStore, producer producer) *Evaluator {
	return &Evaluator{store: store, producer: producer}
}

// Run evaluates schedules every interval until the context is cancelled.
// Intended to be started once from main with a one minute interval.
func (e *Evaluator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[Scheduler] Started, evaluating every %s", interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("[Scheduler] Stopped")
			return
		case now := <-ticker.C:
			e.Tick(ctx, now)
		}
	}
}

// Tick evaluates every schedule against the given instant.
func (e *Evaluator) Tick(ctx context.Context, now time.Time) {
	schedules, err := e.store.ListSchedulesWithSeries(ctx)
	if err != nil {
		log.Printf("[Scheduler] Failed to list schedules: %v", err)
		return
	}

	for _, schedule := range schedules {
		if err := e.evaluate(ctx, schedule, now); err != nil {
			log.Printf("[Scheduler] Schedule %s: %v", schedule.ID, err)
		}
	}
}

func (e *Evaluator) evaluate(ctx context.Context, schedule models.ScheduleWithSeries, now time.Time) error {
	// Paused and disabled series keep their schedules but never fire.
	if schedule.SeriesStatus != models.SeriesStatusActive {
		return nil
	}

	due, err := IsDue(schedule.CronExpr, schedule.Timezone, now)
	if err != nil {
		return fmt.Errorf("cron evaluation: %w", err)
	}
	if !due {
		return nil
	}

	episodes, err := e.store.ListPublishReadyEpisodes(ctx, schedule.SeriesID)
	if err != nil {
		return fmt.Errorf("list publish-ready episodes: %w", err)
	}
	if len(episodes) == 0 {
		log.Printf("[Scheduler] Schedule %s due but series %s has no publish-ready episode", schedule.ID, schedule.SeriesID)
		return nil
	}

	// Every publish-ready episode gets one job per platform; the queue's
	// singleton key keeps a due minute that fires twice from
	// double-publishing.
	for _, episode := range episodes {
		for _, platform := range schedule.Platforms {
			jobID, err := e.producer.EnqueuePublishVideo(ctx, episode.ID, platform, true)
			if err != nil {
				return fmt.Errorf("enqueue publish for %s: %w", platform, err)
			}
			log.Printf("[Scheduler] Enqueued publish job %s (episode=%s platform=%s)", jobID, episode.ID, platform)
		}
	}
	return nil
}
