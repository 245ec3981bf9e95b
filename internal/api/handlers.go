package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vidforge/vidforge/internal/db"
	"github.com/vidforge/vidforge/internal/jobqueue"
	"github.com/vidforge/vidforge/internal/models"
	"github.com/vidforge/vidforge/internal/publish"
	"github.com/vidforge/vidforge/internal/scheduler"
)

type Handler struct {
	db    *db.DB
	queue *jobqueue.Client
}

func NewHandler(database *db.DB, queue *jobqueue.Client) *Handler {
	return &Handler{
		db:    database,
		queue: queue,
	}
}

// CreateEpisode handles POST /v1/episodes
func (h *Handler) CreateEpisode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SeriesID    uuid.UUID `json:"series_id"`
		Title       string    `json:"title"`
		Topic       *string   `json:"topic"`
		DurationSec int       `json:"duration_sec"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SeriesID == uuid.Nil || req.Title == "" {
		respondError(w, http.StatusBadRequest, "series_id and title are required")
		return
	}

	episode := &models.Episode{
		ID:          uuid.New(),
		SeriesID:    req.SeriesID,
		Title:       req.Title,
		Topic:       req.Topic,
		Status:      models.EpisodeStatusDraft,
		DurationSec: req.DurationSec,
	}

	if err := h.db.CreateEpisode(r.Context(), episode); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create episode")
		return
	}

	respondJSON(w, http.StatusCreated, episode)
}

// GetEpisode handles GET /v1/episodes/{id}
func (h *Handler) GetEpisode(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	episode, err := h.db.GetEpisode(r.Context(), id)
	if err != nil {
		respondNotFoundOr500(w, err, "Failed to get episode")
		return
	}

	scenes, err := h.db.ListScenes(r.Context(), episode.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list scenes")
		return
	}

	response := models.EpisodeResponse{Episode: *episode, Scenes: scenes}
	if latest, err := h.db.LatestPublishableRender(r.Context(), episode.ID); err == nil {
		response.LatestRender = latest
	}

	respondJSON(w, http.StatusOK, response)
}

// GenerateEpisode handles POST /v1/episodes/{id}/generate
func (h *Handler) GenerateEpisode(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if _, err := h.db.GetEpisode(r.Context(), id); err != nil {
		respondNotFoundOr500(w, err, "Failed to get episode")
		return
	}

	jobID, err := h.queue.EnqueueGenerateEpisode(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue generation")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]uuid.UUID{"job_id": jobID})
}

// CreateRender handles POST /v1/episodes/{id}/renders
func (h *Handler) CreateRender(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if _, err := h.db.GetEpisode(r.Context(), id); err != nil {
		respondNotFoundOr500(w, err, "Failed to get episode")
		return
	}

	render := &models.Render{
		ID:        uuid.New(),
		EpisodeID: id,
		Status:    models.RenderStatusPending,
		Preset:    "shorts-1080x1920",
	}
	if err := h.db.CreateRender(r.Context(), render); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create render")
		return
	}

	jobID, err := h.queue.EnqueueRenderEpisode(r.Context(), render.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue render")
		return
	}

	respondJSON(w, http.StatusAccepted, models.CreateRenderResponse{JobID: jobID, RenderID: render.ID})
}

// PublishEpisode handles POST /v1/episodes/{id}/publish
func (h *Handler) PublishEpisode(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req struct {
		Platform string `json:"platform"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !publish.Platform(req.Platform).Valid() {
		respondError(w, http.StatusBadRequest, "Unknown platform")
		return
	}

	if _, err := h.db.GetEpisode(r.Context(), id); err != nil {
		respondNotFoundOr500(w, err, "Failed to get episode")
		return
	}

	jobID, err := h.queue.EnqueuePublishVideo(r.Context(), id, req.Platform, false)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue publish")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]uuid.UUID{"job_id": jobID})
}

// RunPipeline handles POST /v1/episodes/{id}/pipeline: generate, render,
// and publish submitted together. Each handler re-checks its inputs, so
// downstream stages retry until their upstream output exists.
func (h *Handler) RunPipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req struct {
		Platform string `json:"platform"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !publish.Platform(req.Platform).Valid() {
		respondError(w, http.StatusBadRequest, "Unknown platform")
		return
	}

	if _, err := h.db.GetEpisode(r.Context(), id); err != nil {
		respondNotFoundOr500(w, err, "Failed to get episode")
		return
	}

	render := &models.Render{
		ID:        uuid.New(),
		EpisodeID: id,
		Status:    models.RenderStatusPending,
		Preset:    "shorts-1080x1920",
	}
	if err := h.db.CreateRender(r.Context(), render); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create render")
		return
	}

	jobs, err := h.queue.EnqueueEpisodePipeline(r.Context(), id, render.ID, req.Platform)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue pipeline")
		return
	}

	respondJSON(w, http.StatusAccepted, models.PipelineResponse{
		GenerateJobID: jobs.GenerateJobID,
		RenderJobID:   jobs.RenderJobID,
		PublishJobID:  jobs.PublishJobID,
	})
}

type jobResponse struct {
	ID          uuid.UUID  `json:"id"`
	Kind        string     `json:"kind"`
	State       string     `json:"state"`
	RetryCount  int        `json:"retry_count"`
	RetryLimit  int        `json:"retry_limit"`
	LastError   *string    `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	job, err := h.queue.Job(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}

	respondJSON(w, http.StatusOK, jobResponse{
		ID:          job.ID,
		Kind:        string(job.Kind),
		State:       string(job.State),
		RetryCount:  job.RetryCount,
		RetryLimit:  job.RetryLimit,
		LastError:   job.LastError,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	})
}

// CancelJob handles DELETE /v1/jobs/{id}. Only jobs that have not been
// leased can be cancelled.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.queue.Cancel(r.Context(), id); err != nil {
		respondError(w, http.StatusConflict, "Job cannot be cancelled")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// GetJobLogs handles GET /v1/jobs/{id}/logs
func (h *Handler) GetJobLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	logs, err := h.db.ListJobLogs(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list job logs")
		return
	}

	respondJSON(w, http.StatusOK, logs)
}

type scheduleRequest struct {
	CronExpr  string   `json:"cron_expr"`
	Timezone  string   `json:"timezone"`
	Platforms []string `json:"platforms"`
}

func (req *scheduleRequest) validate() string {
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := scheduler.IsDue(req.CronExpr, req.Timezone, time.Now()); err != nil {
		return "Invalid cron expression or timezone"
	}
	if len(req.Platforms) == 0 {
		return "At least one platform is required"
	}
	for _, p := range req.Platforms {
		if !publish.Platform(p).Valid() {
			return "Unknown platform: " + p
		}
	}
	return ""
}

// CreateSchedule handles POST /v1/series/{id}/schedules
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	seriesID, ok := parseID(w, r)
	if !ok {
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	if _, err := h.db.GetSeries(r.Context(), seriesID); err != nil {
		respondNotFoundOr500(w, err, "Failed to get series")
		return
	}

	schedule := &models.Schedule{
		ID:        uuid.New(),
		SeriesID:  seriesID,
		CronExpr:  req.CronExpr,
		Timezone:  req.Timezone,
		Platforms: req.Platforms,
	}
	if err := h.db.CreateSchedule(r.Context(), schedule); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create schedule")
		return
	}

	respondJSON(w, http.StatusCreated, schedule)
}

// ListSchedules handles GET /v1/series/{id}/schedules
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	seriesID, ok := parseID(w, r)
	if !ok {
		return
	}

	schedules, err := h.db.ListSchedulesBySeries(r.Context(), seriesID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list schedules")
		return
	}

	respondJSON(w, http.StatusOK, schedules)
}

// UpdateSchedule handles PUT /v1/schedules/{id}
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	schedule, err := h.db.GetSchedule(r.Context(), id)
	if err != nil {
		respondNotFoundOr500(w, err, "Failed to get schedule")
		return
	}

	schedule.CronExpr = req.CronExpr
	schedule.Timezone = req.Timezone
	schedule.Platforms = req.Platforms

	if err := h.db.UpdateSchedule(r.Context(), schedule); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to update schedule")
		return
	}

	respondJSON(w, http.StatusOK, schedule)
}

// DeleteSchedule handles DELETE /v1/schedules/{id}
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.db.DeleteSchedule(r.Context(), id); err != nil {
		respondNotFoundOr500(w, err, "Failed to delete schedule")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func respondNotFoundOr500(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Not found")
		return
	}
	respondError(w, http.StatusInternalServerError, fallback)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
