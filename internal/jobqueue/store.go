package jobqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// store is the durable persistence contract for job rows. The production
// implementation is pgStore; tests use an in-memory store with the same
// atomicity guarantees.
type store interface {
	// insert persists a new job in created state. When the payload's
	// singleton key collides with an existing non-terminal job, no row is
	// written and the existing job's id is returned with created=false.
	insert(ctx context.Context, job *Job) (id uuid.UUID, created bool, err error)

	// fetch atomically leases the oldest eligible job of the given kind
	// (state created or retry, start_after due) and marks it active.
	// Exactly one caller wins a given job. Returns nil when none is due.
	fetch(ctx context.Context, kind Kind) (*Job, error)

	// get returns a job by id regardless of state.
	get(ctx context.Context, id uuid.UUID) (*Job, error)

	// complete transitions an active job to completed and schedules its
	// deletion after retain.
	complete(ctx context.Context, id uuid.UUID, retain time.Duration) error

	// retry transitions an active job back to the retry state, increments
	// its retry count, and sets when it next becomes eligible.
	retry(ctx context.Context, id uuid.UUID, startAfter time.Time, lastError string) error

	// fail transitions an active job to failed permanently and schedules
	// its deletion after retain.
	fail(ctx context.Context, id uuid.UUID, retain time.Duration, lastError string) error

	// cancel moves a created/retry job to cancelled. Active jobs are not
	// interrupted.
	cancel(ctx context.Context, id uuid.UUID, retain time.Duration) error

	// requeueExpired returns active jobs whose lease outlived expireIn to
	// the retry path (or failed, when the retry budget is spent). Covers
	// workers that crashed mid-job.
	requeueExpired(ctx context.Context, expireIn time.Duration) (int64, error)

	// purge deletes terminal jobs whose retention window has passed.
	purge(ctx context.Context) (int64, error)
}

// pgStore persists jobs in Postgres. All state transitions are single-row
// updates conditioned on the expected prior state, so concurrent workers
// can share one table without in-process coordination; the lease itself
// relies on FOR UPDATE SKIP LOCKED.
type pgStore struct {
	db *sql.DB
}

const jobsSchema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id UUID PRIMARY KEY,
		kind TEXT NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}'::jsonb,
		state TEXT NOT NULL DEFAULT 'created',
		retry_count INT NOT NULL DEFAULT 0,
		retry_limit INT NOT NULL DEFAULT 3,
		retry_delay_seconds INT NOT NULL DEFAULT 30,
		retry_backoff BOOLEAN NOT NULL DEFAULT true,
		singleton_key TEXT,
		start_after TIMESTAMPTZ NOT NULL DEFAULT now(),
		remove_on_complete_seconds INT NOT NULL DEFAULT 600,
		remove_on_fail_seconds INT NOT NULL DEFAULT 3600,
		last_error TEXT,
		keep_until TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS jobs_fetch_idx
		ON jobs (kind, start_after)
		WHERE state IN ('created', 'retry');

	CREATE UNIQUE INDEX IF NOT EXISTS jobs_singleton_idx
		ON jobs (kind, singleton_key)
		WHERE singleton_key IS NOT NULL AND state IN ('created', 'retry', 'active');
`

// migrate creates the jobs table and its indexes. The partial unique
// index is what enforces the singleton invariant: at most one
// non-terminal job per (kind, singleton key).
func (s *pgStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobsSchema); err != nil {
		return fmt.Errorf("failed to migrate jobs table: %w", err)
	}
	return nil
}

const jobColumns = `
	id, kind, payload, state, retry_count, retry_limit,
	retry_delay_seconds, retry_backoff, singleton_key, start_after,
	remove_on_complete_seconds, remove_on_fail_seconds, last_error,
	created_at, started_at, completed_at
`

func (s *pgStore) insert(ctx context.Context, job *Job) (uuid.UUID, bool, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to marshal payload: %w", err)
	}

	var singletonKey *string
	if job.SingletonKey != "" {
		singletonKey = &job.SingletonKey
	}

	// ON CONFLICT DO NOTHING against the partial singleton index: the
	// insert silently loses when a non-terminal job holds the same key.
	query := `
		INSERT INTO jobs (
			id, kind, payload, state, retry_limit, retry_delay_seconds,
			retry_backoff, singleton_key, start_after,
			remove_on_complete_seconds, remove_on_fail_seconds
		) VALUES ($1, $2, $3, 'created', $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING
		RETURNING id
	`

	var id uuid.UUID
	err = s.db.QueryRowContext(
		ctx, query,
		job.ID, job.Kind, payload, job.RetryLimit,
		int(job.RetryDelay.Seconds()), job.RetryBackoff, singletonKey,
		job.StartAfter, int(job.RemoveOnComplete.Seconds()),
		int(job.RemoveOnFail.Seconds()),
	).Scan(&id)

	if err == nil {
		return id, true, nil
	}
	if err != sql.ErrNoRows {
		return uuid.Nil, false, fmt.Errorf("failed to insert job: %w", err)
	}

	// Singleton collision: hand back the existing non-terminal job's id
	// so submission stays idempotent.
	existing := `
		SELECT id FROM jobs
		WHERE kind = $1 AND singleton_key = $2
		  AND state IN ('created', 'retry', 'active')
		LIMIT 1
	`
	err = s.db.QueryRowContext(ctx, existing, job.Kind, job.SingletonKey).Scan(&id)
	if err == sql.ErrNoRows {
		// The holder completed between our insert and select; retry once.
		return s.insert(ctx, job)
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to resolve singleton job: %w", err)
	}

	return id, false, nil
}

func (s *pgStore) fetch(ctx context.Context, kind Kind) (*Job, error) {
	query := `
		WITH next AS (
			SELECT id FROM jobs
			WHERE kind = $1
			  AND state IN ('created', 'retry')
			  AND start_after <= now()
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs j
		SET state = 'active', started_at = now()
		FROM next
		WHERE j.id = next.id
		RETURNING ` + jobColumns

	row := s.db.QueryRowContext(ctx, query, kind)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}

	return job, nil
}

func (s *pgStore) get(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

func (s *pgStore) complete(ctx context.Context, id uuid.UUID, retain time.Duration) error {
	query := `
		UPDATE jobs
		SET state = 'completed', completed_at = now(),
		    keep_until = now() + make_interval(secs => $2)
		WHERE id = $1 AND state = 'active'
	`
	return s.transition(ctx, "complete", query, id, retain.Seconds())
}

func (s *pgStore) retry(ctx context.Context, id uuid.UUID, startAfter time.Time, lastError string) error {
	query := `
		UPDATE jobs
		SET state = 'retry', retry_count = retry_count + 1,
		    start_after = $2, last_error = $3
		WHERE id = $1 AND state = 'active'
	`
	return s.transition(ctx, "retry", query, id, startAfter, lastError)
}

func (s *pgStore) fail(ctx context.Context, id uuid.UUID, retain time.Duration, lastError string) error {
	query := `
		UPDATE jobs
		SET state = 'failed', completed_at = now(), last_error = $3,
		    keep_until = now() + make_interval(secs => $2)
		WHERE id = $1 AND state = 'active'
	`
	return s.transition(ctx, "fail", query, id, retain.Seconds(), lastError)
}

func (s *pgStore) cancel(ctx context.Context, id uuid.UUID, retain time.Duration) error {
	query := `
		UPDATE jobs
		SET state = 'cancelled', completed_at = now(),
		    keep_until = now() + make_interval(secs => $2)
		WHERE id = $1 AND state IN ('created', 'retry')
	`
	return s.transition(ctx, "cancel", query, id, retain.Seconds())
}

// transition runs a conditional single-row update and verifies it took
// effect. Zero rows means another worker already moved the job on — the
// optimistic-concurrency guard at the heart of the lease protocol.
func (s *pgStore) transition(ctx context.Context, name, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s job: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s job: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("job %s skipped: state changed concurrently", name)
	}
	return nil
}

func (s *pgStore) requeueExpired(ctx context.Context, expireIn time.Duration) (int64, error) {
	query := `
		UPDATE jobs
		SET state = CASE WHEN retry_count < retry_limit THEN 'retry' ELSE 'failed' END,
		    retry_count = LEAST(retry_count + 1, retry_limit),
		    start_after = now() + make_interval(secs =>
		        retry_delay_seconds * CASE WHEN retry_backoff THEN power(2, retry_count) ELSE 1 END),
		    completed_at = CASE WHEN retry_count >= retry_limit THEN now() ELSE completed_at END,
		    keep_until = CASE WHEN retry_count >= retry_limit
		        THEN now() + make_interval(secs => remove_on_fail_seconds)
		        ELSE keep_until END,
		    last_error = 'job lease expired'
		WHERE state = 'active' AND started_at < now() - make_interval(secs => $1)
	`
	res, err := s.db.ExecContext(ctx, query, expireIn.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to requeue expired jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *pgStore) purge(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM jobs
		WHERE state IN ('completed', 'failed', 'cancelled')
		  AND keep_until IS NOT NULL AND keep_until < now()
	`
	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	return res.RowsAffected()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job              Job
		payload          []byte
		singletonKey     sql.NullString
		retryDelaySec    int
		removeOnComplete int
		removeOnFail     int
	)

	err := row.Scan(
		&job.ID, &job.Kind, &payload, &job.State, &job.RetryCount,
		&job.RetryLimit, &retryDelaySec, &job.RetryBackoff, &singletonKey,
		&job.StartAfter, &removeOnComplete, &removeOnFail, &job.LastError,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.RetryDelay = time.Duration(retryDelaySec) * time.Second
	job.RemoveOnComplete = time.Duration(removeOnComplete) * time.Second
	job.RemoveOnFail = time.Duration(removeOnFail) * time.Second
	if singletonKey.Valid {
		job.SingletonKey = singletonKey.String
	}

	job.Payload, err = decodePayload(job.Kind, payload)
	if err != nil {
		return nil, err
	}

	return &job, nil
}
