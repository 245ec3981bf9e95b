package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/vidforge/vidforge/internal/models"
)

func (db *DB) CreateRender(ctx context.Context, render *models.Render) error {
	query := `
		INSERT INTO renders (id, episode_id, status, preset)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		render.ID, render.EpisodeID, render.Status, render.Preset,
	).Scan(&render.CreatedAt, &render.UpdatedAt)
}

func (db *DB) GetRender(ctx context.Context, id uuid.UUID) (*models.Render, error) {
	query := `
		SELECT id, episode_id, status, url, preset, bitrate, size_mb, created_at, updated_at
		FROM renders
		WHERE id = $1
	`

	render := &models.Render{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&render.ID, &render.EpisodeID, &render.Status, &render.URL,
		&render.Preset, &render.Bitrate, &render.SizeMB,
		&render.CreatedAt, &render.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("render %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get render: %w", err)
	}

	return render, nil
}

// GetRenderChain loads a render together with its episode, verifying the
// full ownership chain render -> episode -> series -> brand in one
// query. A render whose chain is broken anywhere reports ErrNotFound.
func (db *DB) GetRenderChain(ctx context.Context, renderID uuid.UUID) (*models.Render, *models.Episode, error) {
	query := `
		SELECT
			r.id, r.episode_id, r.status, r.url, r.preset, r.bitrate, r.size_mb, r.created_at, r.updated_at,
			e.id, e.series_id, e.title, e.topic, e.status, e.duration_sec, e.timeline, e.cover_url, e.created_at, e.updated_at
		FROM renders r
		JOIN episodes e ON e.id = r.episode_id
		JOIN series s ON s.id = e.series_id
		JOIN brands b ON b.id = s.brand_id
		WHERE r.id = $1
	`

	render := &models.Render{}
	episode := &models.Episode{}
	err := db.QueryRowContext(ctx, query, renderID).Scan(
		&render.ID, &render.EpisodeID, &render.Status, &render.URL,
		&render.Preset, &render.Bitrate, &render.SizeMB,
		&render.CreatedAt, &render.UpdatedAt,
		&episode.ID, &episode.SeriesID, &episode.Title, &episode.Topic,
		&episode.Status, &episode.DurationSec, &episode.Timeline,
		&episode.CoverURL, &episode.CreatedAt, &episode.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("render %s ownership chain: %w", renderID, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get render chain: %w", err)
	}

	return render, episode, nil
}

// CompleteRender records the output metadata and marks the render
// completed.
func (db *DB) CompleteRender(ctx context.Context, id uuid.UUID, url string, bitrate int, sizeMB float64) error {
	query := `
		UPDATE renders
		SET status = $2, url = $3, bitrate = $4, size_mb = $5, updated_at = now()
		WHERE id = $1
	`

	result, err := db.ExecContext(ctx, query, id, models.RenderStatusCompleted, url, bitrate, sizeMB)
	if err != nil {
		return fmt.Errorf("failed to complete render: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("render %s: %w", id, ErrNotFound)
	}
	return nil
}

func (db *DB) FailRender(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE renders SET status = $2, updated_at = now() WHERE id = $1`

	if _, err := db.ExecContext(ctx, query, id, models.RenderStatusFailed); err != nil {
		return fmt.Errorf("failed to mark render failed: %w", err)
	}
	return nil
}

// LatestPublishableRender returns the newest completed render with a
// URL for an episode, the one publishes are backed by.
func (db *DB) LatestPublishableRender(ctx context.Context, episodeID uuid.UUID) (*models.Render, error) {
	query := `
		SELECT id, episode_id, status, url, preset, bitrate, size_mb, created_at, updated_at
		FROM renders
		WHERE episode_id = $1 AND status = 'completed' AND url IS NOT NULL
		ORDER BY created_at DESC
		LIMIT 1
	`

	render := &models.Render{}
	err := db.QueryRowContext(ctx, query, episodeID).Scan(
		&render.ID, &render.EpisodeID, &render.Status, &render.URL,
		&render.Preset, &render.Bitrate, &render.SizeMB,
		&render.CreatedAt, &render.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no publishable render for episode %s: %w", episodeID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest render: %w", err)
	}

	return render, nil
}
