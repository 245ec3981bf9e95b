package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/vidforge/vidforge/internal/models"
)

func (db *DB) CreateSchedule(ctx context.Context, schedule *models.Schedule) error {
	query := `
		INSERT INTO schedules (id, series_id, cron_expr, timezone, platforms)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		schedule.ID, schedule.SeriesID, schedule.CronExpr,
		schedule.Timezone, pq.Array(schedule.Platforms),
	).Scan(&schedule.CreatedAt, &schedule.UpdatedAt)
}

func (db *DB) GetSchedule(ctx context.Context, id uuid.UUID) (*models.Schedule, error) {
	query := `
		SELECT id, series_id, cron_expr, timezone, platforms, created_at, updated_at
		FROM schedules
		WHERE id = $1
	`

	schedule := &models.Schedule{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&schedule.ID, &schedule.SeriesID, &schedule.CronExpr, &schedule.Timezone,
		pq.Array(&schedule.Platforms), &schedule.CreatedAt, &schedule.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	return schedule, nil
}

func (db *DB) UpdateSchedule(ctx context.Context, schedule *models.Schedule) error {
	query := `
		UPDATE schedules
		SET cron_expr = $2, timezone = $3, platforms = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`

	err := db.QueryRowContext(
		ctx, query,
		schedule.ID, schedule.CronExpr, schedule.Timezone, pq.Array(schedule.Platforms),
	).Scan(&schedule.UpdatedAt)

	if err == sql.ErrNoRows {
		return fmt.Errorf("schedule %s: %w", schedule.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return nil
}

func (db *DB) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	result, err := db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListSchedulesBySeries returns a series' schedules, newest first.
func (db *DB) ListSchedulesBySeries(ctx context.Context, seriesID uuid.UUID) ([]models.Schedule, error) {
	query := `
		SELECT id, series_id, cron_expr, timezone, platforms, created_at, updated_at
		FROM schedules
		WHERE series_id = $1
		ORDER BY created_at DESC
	`

	rows, err := db.QueryContext(ctx, query, seriesID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []models.Schedule
	for rows.Next() {
		var s models.Schedule
		if err := rows.Scan(
			&s.ID, &s.SeriesID, &s.CronExpr, &s.Timezone,
			pq.Array(&s.Platforms), &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schedules: %w", err)
	}

	return schedules, nil
}

// ListSchedulesWithSeries returns every schedule joined with its series
// status, for the scheduler's per-minute evaluation pass.
func (db *DB) ListSchedulesWithSeries(ctx context.Context) ([]models.ScheduleWithSeries, error) {
	query := `
		SELECT
			sc.id, sc.series_id, sc.cron_expr, sc.timezone, sc.platforms,
			sc.created_at, sc.updated_at, s.status
		FROM schedules sc
		JOIN series s ON s.id = sc.series_id
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []models.ScheduleWithSeries
	for rows.Next() {
		var s models.ScheduleWithSeries
		if err := rows.Scan(
			&s.ID, &s.SeriesID, &s.CronExpr, &s.Timezone, pq.Array(&s.Platforms),
			&s.CreatedAt, &s.UpdatedAt, &s.SeriesStatus,
		); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schedules: %w", err)
	}

	return schedules, nil
}
