package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vidforge/vidforge/internal/models"
)

func (db *DB) CreatePublishEvent(ctx context.Context, event *models.PublishEvent) error {
	query := `
		INSERT INTO publish_events (id, episode_id, platform, video_id, scheduled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING published_at
	`

	return db.QueryRowContext(
		ctx, query,
		event.ID, event.EpisodeID, event.Platform, event.VideoID, event.Scheduled,
	).Scan(&event.PublishedAt)
}

// ListPublishEvents returns an episode's publish history, newest first.
func (db *DB) ListPublishEvents(ctx context.Context, episodeID uuid.UUID) ([]models.PublishEvent, error) {
	query := `
		SELECT id, episode_id, platform, video_id, scheduled, published_at
		FROM publish_events
		WHERE episode_id = $1
		ORDER BY published_at DESC
	`

	rows, err := db.QueryContext(ctx, query, episodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list publish events: %w", err)
	}
	defer rows.Close()

	var events []models.PublishEvent
	for rows.Next() {
		var e models.PublishEvent
		if err := rows.Scan(&e.ID, &e.EpisodeID, &e.Platform, &e.VideoID, &e.Scheduled, &e.PublishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan publish event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate publish events: %w", err)
	}

	return events, nil
}

// CountPublishEventsSince counts publishes to a platform after the given
// instant. The durable fallback behind the redis rate window.
func (db *DB) CountPublishEventsSince(ctx context.Context, platform string, since time.Time) (int, error) {
	query := `SELECT count(*) FROM publish_events WHERE platform = $1 AND published_at > $2`

	var count int
	if err := db.QueryRowContext(ctx, query, platform, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count publish events: %w", err)
	}
	return count, nil
}
