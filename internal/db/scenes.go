package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vidforge/vidforge/internal/models"
)

// ReplaceScenes swaps an episode's scene list in one transaction. Used
// by episode generation, which always produces the full timeline.
func (db *DB) ReplaceScenes(ctx context.Context, episodeID uuid.UUID, scenes []models.Scene) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scenes WHERE episode_id = $1`, episodeID); err != nil {
		return fmt.Errorf("failed to clear scenes: %w", err)
	}

	insert := `
		INSERT INTO scenes (id, episode_id, idx, start_s, end_s, type, src, pan_zoom, narration)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, scene := range scenes {
		if _, err := tx.ExecContext(
			ctx, insert,
			scene.ID, episodeID, scene.Idx, scene.StartS, scene.EndS,
			scene.Type, scene.Src, scene.PanZoom, scene.Narration,
		); err != nil {
			return fmt.Errorf("failed to insert scene %d: %w", scene.Idx, err)
		}
	}

	return tx.Commit()
}

// ListScenes returns an episode's scenes ordered by idx.
func (db *DB) ListScenes(ctx context.Context, episodeID uuid.UUID) ([]models.Scene, error) {
	query := `
		SELECT id, episode_id, idx, start_s, end_s, type, src, pan_zoom, narration, created_at
		FROM scenes
		WHERE episode_id = $1
		ORDER BY idx
	`

	rows, err := db.QueryContext(ctx, query, episodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}
	defer rows.Close()

	var scenes []models.Scene
	for rows.Next() {
		var s models.Scene
		if err := rows.Scan(
			&s.ID, &s.EpisodeID, &s.Idx, &s.StartS, &s.EndS,
			&s.Type, &s.Src, &s.PanZoom, &s.Narration, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan scene: %w", err)
		}
		scenes = append(scenes, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scenes: %w", err)
	}

	return scenes, nil
}
