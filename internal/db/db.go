package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound is wrapped by every lookup that came up empty, so callers
// can distinguish a missing row from an infrastructure failure.
var ErrNotFound = errors.New("not found")

type DB struct {
	*sql.DB
}

func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS brands (
    id          UUID PRIMARY KEY,
    user_id     UUID NOT NULL,
    name        TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS series (
    id          UUID PRIMARY KEY,
    brand_id    UUID NOT NULL REFERENCES brands(id) ON DELETE CASCADE,
    title       TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'ACTIVE',
    cadence     TEXT,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS episodes (
    id           UUID PRIMARY KEY,
    series_id    UUID NOT NULL REFERENCES series(id) ON DELETE CASCADE,
    title        TEXT NOT NULL,
    topic        TEXT,
    status       TEXT NOT NULL DEFAULT 'DRAFT',
    duration_sec INTEGER NOT NULL DEFAULT 0,
    timeline     JSONB,
    cover_url    TEXT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scenes (
    id          UUID PRIMARY KEY,
    episode_id  UUID NOT NULL REFERENCES episodes(id) ON DELETE CASCADE,
    idx         INTEGER NOT NULL,
    start_s     DOUBLE PRECISION NOT NULL,
    end_s       DOUBLE PRECISION NOT NULL,
    type        TEXT NOT NULL DEFAULT 'visual',
    src         TEXT NOT NULL,
    pan_zoom    TEXT,
    narration   TEXT,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (episode_id, idx)
);

CREATE TABLE IF NOT EXISTS renders (
    id          UUID PRIMARY KEY,
    episode_id  UUID NOT NULL REFERENCES episodes(id) ON DELETE CASCADE,
    status      TEXT NOT NULL DEFAULT 'pending',
    url         TEXT,
    preset      TEXT NOT NULL DEFAULT 'shorts-1080x1920',
    bitrate     INTEGER,
    size_mb     DOUBLE PRECISION,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS renders_episode_idx ON renders (episode_id, created_at DESC);

CREATE TABLE IF NOT EXISTS schedules (
    id          UUID PRIMARY KEY,
    series_id   UUID NOT NULL REFERENCES series(id) ON DELETE CASCADE,
    cron_expr   TEXT NOT NULL,
    timezone    TEXT NOT NULL DEFAULT 'UTC',
    platforms   TEXT[] NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS publish_events (
    id           UUID PRIMARY KEY,
    episode_id   UUID NOT NULL REFERENCES episodes(id) ON DELETE CASCADE,
    platform     TEXT NOT NULL,
    video_id     TEXT NOT NULL,
    scheduled    BOOLEAN NOT NULL DEFAULT false,
    published_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS publish_events_platform_idx ON publish_events (platform, published_at DESC);

CREATE TABLE IF NOT EXISTS job_logs (
    id         BIGSERIAL PRIMARY KEY,
    job_id     UUID NOT NULL,
    queue_name TEXT NOT NULL,
    message    TEXT NOT NULL,
    progress   INTEGER,
    metadata   JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS job_logs_job_idx ON job_logs (job_id, id);
`

// Migrate creates the application tables. Queue tables are owned by the
// queue client and migrated separately.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
