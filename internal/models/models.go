package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Enums

type EpisodeStatus string

const (
	EpisodeStatusDraft      EpisodeStatus = "DRAFT"
	EpisodeStatusGenerating EpisodeStatus = "GENERATING"
	EpisodeStatusCompleted  EpisodeStatus = "COMPLETED"
	EpisodeStatusRendered   EpisodeStatus = "RENDERED"
	EpisodeStatusPublished  EpisodeStatus = "PUBLISHED"
	EpisodeStatusFailed     EpisodeStatus = "FAILED"
)

// PublishReady reports whether an episode's status allows it to be
// picked up by the scheduler. A completed render with a URL is still
// required on top of this.
func (s EpisodeStatus) PublishReady() bool {
	return s == EpisodeStatusCompleted || s == EpisodeStatusRendered
}

type SeriesStatus string

const (
	SeriesStatusActive   SeriesStatus = "ACTIVE"
	SeriesStatusPaused   SeriesStatus = "PAUSED"
	SeriesStatusDisabled SeriesStatus = "DISABLED"
)

type RenderStatus string

const (
	RenderStatusPending   RenderStatus = "pending"
	RenderStatusCompleted RenderStatus = "completed"
	RenderStatusFailed    RenderStatus = "failed"
)

type SceneType string

const (
	SceneTypeVisual SceneType = "visual"
	SceneTypeAudio  SceneType = "audio"
	SceneTypeText   SceneType = "text"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Models

type Brand struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Series struct {
	ID        uuid.UUID    `json:"id"`
	BrandID   uuid.UUID    `json:"brand_id"`
	Title     string       `json:"title"`
	Status    SeriesStatus `json:"status"`
	Cadence   *string      `json:"cadence,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type Episode struct {
	ID          uuid.UUID     `json:"id"`
	SeriesID    uuid.UUID     `json:"series_id"`
	Title       string        `json:"title"`
	Topic       *string       `json:"topic,omitempty"`
	Status      EpisodeStatus `json:"status"`
	DurationSec int           `json:"duration_sec"`
	Timeline    JSONB         `json:"timeline,omitempty"`
	CoverURL    *string       `json:"cover_url,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Scene is one ordered segment of an episode's timeline. Scenes are
// totally ordered by Idx; their [StartS, EndS) ranges are expected to be
// contiguous and non-overlapping, which the renderer assumes but does
// not enforce.
type Scene struct {
	ID        uuid.UUID `json:"id"`
	EpisodeID uuid.UUID `json:"episode_id"`
	Idx       int       `json:"idx"`
	StartS    float64   `json:"start_s"`
	EndS      float64   `json:"end_s"`
	Type      SceneType `json:"type"`
	// Src is the storage path of the scene's media asset in the assets bucket.
	Src string `json:"src"`
	// PanZoom is an optional ffmpeg filter fragment applied verbatim to the
	// scene's video stream, e.g. "zoompan=z='1.0+0.3*on/250':d=250".
	PanZoom   *string   `json:"pan_zoom,omitempty"`
	Narration *string   `json:"narration,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Render is one attempt at producing the final video file for an episode.
// Only the latest completed render with a non-null URL is authoritative
// for publishing.
type Render struct {
	ID        uuid.UUID    `json:"id"`
	EpisodeID uuid.UUID    `json:"episode_id"`
	Status    RenderStatus `json:"status"`
	URL       *string      `json:"url,omitempty"`
	Preset    string       `json:"preset"`
	Bitrate   *int         `json:"bitrate,omitempty"`
	SizeMB    *float64     `json:"size_mb,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Publishable reports whether this render can back a publish job.
func (r *Render) Publishable() bool {
	return r.Status == RenderStatusCompleted && r.URL != nil && *r.URL != ""
}

// Schedule is a recurring cron-based publish trigger bound to a series.
// CronExpr has exactly five whitespace-separated fields
// (minute hour day-of-month month day-of-week); Timezone is an IANA name.
type Schedule struct {
	ID        uuid.UUID `json:"id"`
	SeriesID  uuid.UUID `json:"series_id"`
	CronExpr  string    `json:"cron_expr"`
	Timezone  string    `json:"timezone"`
	Platforms []string  `json:"platforms"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduleWithSeries is a schedule joined with its series status, the
// shape the scheduler evaluates on every tick.
type ScheduleWithSeries struct {
	Schedule
	SeriesStatus SeriesStatus `json:"series_status"`
}

// PublishEvent records one successful publish of an episode to a platform.
type PublishEvent struct {
	ID          uuid.UUID `json:"id"`
	EpisodeID   uuid.UUID `json:"episode_id"`
	Platform    string    `json:"platform"`
	VideoID     string    `json:"video_id"`
	Scheduled   bool      `json:"scheduled"`
	PublishedAt time.Time `json:"published_at"`
}

// JobLogEntry is one structured progress line appended while a job runs.
// The sink is best-effort: writes must never fail the job itself.
type JobLogEntry struct {
	ID        int64     `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	QueueName string    `json:"queue_name"`
	Message   string    `json:"message"`
	Progress  *int      `json:"progress,omitempty"`
	Metadata  JSONB     `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DTOs for API responses

type EpisodeResponse struct {
	Episode
	Scenes       []Scene `json:"scenes,omitempty"`
	LatestRender *Render `json:"latest_render,omitempty"`
}

type CreateRenderResponse struct {
	JobID    uuid.UUID `json:"job_id"`
	RenderID uuid.UUID `json:"render_id"`
}

type PipelineResponse struct {
	GenerateJobID uuid.UUID `json:"generate_job_id"`
	RenderJobID   uuid.UUID `json:"render_job_id"`
	PublishJobID  uuid.UUID `json:"publish_job_id"`
}
