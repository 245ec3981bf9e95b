package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/vidforge/vidforge/internal/models"
)

func (db *DB) CreateEpisode(ctx context.Context, episode *models.Episode) error {
	query := `
		INSERT INTO episodes (id, series_id, title, topic, status, duration_sec, timeline)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		episode.ID, episode.SeriesID, episode.Title, episode.Topic,
		episode.Status, episode.DurationSec, episode.Timeline,
	).Scan(&episode.CreatedAt, &episode.UpdatedAt)
}

func (db *DB) GetEpisode(ctx context.Context, id uuid.UUID) (*models.Episode, error) {
	query := `
		SELECT id, series_id, title, topic, status, duration_sec, timeline, cover_url, created_at, updated_at
		FROM episodes
		WHERE id = $1
	`

	episode := &models.Episode{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&episode.ID, &episode.SeriesID, &episode.Title, &episode.Topic,
		&episode.Status, &episode.DurationSec, &episode.Timeline,
		&episode.CoverURL, &episode.CreatedAt, &episode.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("episode %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get episode: %w", err)
	}

	return episode, nil
}

func (db *DB) UpdateEpisodeStatus(ctx context.Context, id uuid.UUID, status models.EpisodeStatus) error {
	query := `UPDATE episodes SET status = $2, updated_at = now() WHERE id = $1`

	result, err := db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update episode status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("episode %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetEpisodeGenerated stores the generated timeline and duration and
// moves the episode to COMPLETED in one statement.
func (db *DB) SetEpisodeGenerated(ctx context.Context, id uuid.UUID, timeline models.JSONB, durationSec int) error {
	query := `
		UPDATE episodes
		SET timeline = $2, duration_sec = $3, status = $4, updated_at = now()
		WHERE id = $1
	`

	result, err := db.ExecContext(ctx, query, id, timeline, durationSec, models.EpisodeStatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to store generated episode: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("episode %s: %w", id, ErrNotFound)
	}
	return nil
}

func (db *DB) SetEpisodeCoverURL(ctx context.Context, id uuid.UUID, coverURL string) error {
	query := `UPDATE episodes SET cover_url = $2, updated_at = now() WHERE id = $1`

	if _, err := db.ExecContext(ctx, query, id, coverURL); err != nil {
		return fmt.Errorf("failed to set episode cover: %w", err)
	}
	return nil
}

// ListPublishReadyEpisodes returns a series' episodes that are eligible
// for scheduled publishing: status COMPLETED or RENDERED with a
// completed render carrying a URL, oldest first.
func (db *DB) ListPublishReadyEpisodes(ctx context.Context, seriesID uuid.UUID) ([]models.Episode, error) {
	query := `
		SELECT
			e.id, e.series_id, e.title, e.topic, e.status, e.duration_sec,
			e.timeline, e.cover_url, e.created_at, e.updated_at
		FROM episodes e
		WHERE e.series_id = $1
		  AND e.status IN ($2, $3)
		  AND EXISTS (
			SELECT 1 FROM renders r
			WHERE r.episode_id = e.id AND r.status = 'completed' AND r.url IS NOT NULL
		  )
		ORDER BY e.created_at
	`

	rows, err := db.QueryContext(ctx, query, seriesID, models.EpisodeStatusCompleted, models.EpisodeStatusRendered)
	if err != nil {
		return nil, fmt.Errorf("failed to list publish-ready episodes: %w", err)
	}
	defer rows.Close()

	var episodes []models.Episode
	for rows.Next() {
		var e models.Episode
		if err := rows.Scan(
			&e.ID, &e.SeriesID, &e.Title, &e.Topic, &e.Status, &e.DurationSec,
			&e.Timeline, &e.CoverURL, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		episodes = append(episodes, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate episodes: %w", err)
	}

	return episodes, nil
}
