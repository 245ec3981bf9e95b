package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/vidforge/vidforge/internal/models"
)

func (db *DB) CreateBrand(ctx context.Context, brand *models.Brand) error {
	query := `
		INSERT INTO brands (id, user_id, name)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(ctx, query, brand.ID, brand.UserID, brand.Name).
		Scan(&brand.CreatedAt, &brand.UpdatedAt)
}

func (db *DB) CreateSeries(ctx context.Context, series *models.Series) error {
	query := `
		INSERT INTO series (id, brand_id, title, status, cadence)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		series.ID, series.BrandID, series.Title, series.Status, series.Cadence,
	).Scan(&series.CreatedAt, &series.UpdatedAt)
}

func (db *DB) GetSeries(ctx context.Context, id uuid.UUID) (*models.Series, error) {
	query := `
		SELECT id, brand_id, title, status, cadence, created_at, updated_at
		FROM series
		WHERE id = $1
	`

	series := &models.Series{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&series.ID, &series.BrandID, &series.Title, &series.Status,
		&series.Cadence, &series.CreatedAt, &series.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("series %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get series: %w", err)
	}

	return series, nil
}

func (db *DB) UpdateSeriesStatus(ctx context.Context, id uuid.UUID, status models.SeriesStatus) error {
	query := `UPDATE series SET status = $2, updated_at = now() WHERE id = $1`

	result, err := db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update series status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("series %s: %w", id, ErrNotFound)
	}
	return nil
}
