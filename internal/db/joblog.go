package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vidforge/vidforge/internal/jobqueue"
	"github.com/vidforge/vidforge/internal/models"
)

// LogJobProgress appends one progress line for a job. Implements the
// queue's ProgressLogger; the queue treats failures as non-fatal.
func (db *DB) LogJobProgress(ctx context.Context, entry jobqueue.ProgressEntry) error {
	query := `
		INSERT INTO job_logs (job_id, queue_name, message, progress, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := db.ExecContext(
		ctx, query,
		entry.JobID, entry.QueueName, entry.Message, entry.Progress, models.JSONB(entry.Metadata),
	); err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}
	return nil
}

// ListJobLogs returns a job's progress lines in append order.
func (db *DB) ListJobLogs(ctx context.Context, jobID uuid.UUID) ([]models.JobLogEntry, error) {
	query := `
		SELECT id, job_id, queue_name, message, progress, metadata, created_at
		FROM job_logs
		WHERE job_id = $1
		ORDER BY id
	`

	rows, err := db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job logs: %w", err)
	}
	defer rows.Close()

	var entries []models.JobLogEntry
	for rows.Next() {
		var e models.JobLogEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.QueueName, &e.Message, &e.Progress, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job logs: %w", err)
	}

	return entries, nil
}
