package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vidforge/vidforge/internal/db"
	"github.com/vidforge/vidforge/internal/jobqueue"
	"github.com/vidforge/vidforge/internal/models"
	"github.com/vidforge/vidforge/internal/publish"
	"github.com/vidforge/vidforge/internal/render"
	"github.com/vidforge/vidforge/internal/services"
)

// fakeStore backs the handlers in tests. Zero-value lookups report
// ErrNotFound like the real layer.
type fakeStore struct {
	episodes map[uuid.UUID]*models.Episode
	scenes   map[uuid.UUID][]models.Scene
	chains   map[uuid.UUID]*models.Render
	renders  map[uuid.UUID]*models.Render

	statusUpdates   map[uuid.UUID]models.EpisodeStatus
	completedRender *uuid.UUID
	completedURL    string
	failedRender    *uuid.UUID
	replacedScenes  []models.Scene
	generated       bool
	coverURL        string
	events          []*models.PublishEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		episodes:      make(map[uuid.UUID]*models.Episode),
		scenes:        make(map[uuid.UUID][]models.Scene),
		chains:        make(map[uuid.UUID]*models.Render),
		renders:       make(map[uuid.UUID]*models.Render),
		statusUpdates: make(map[uuid.UUID]models.EpisodeStatus),
	}
}

func (s *fakeStore) GetEpisode(ctx context.Context, id uuid.UUID) (*models.Episode, error) {
	if e, ok := s.episodes[id]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("episode %s: %w", id, db.ErrNotFound)
}

func (s *fakeStore) UpdateEpisodeStatus(ctx context.Context, id uuid.UUID, status models.EpisodeStatus) error {
	s.statusUpdates[id] = status
	return nil
}

func (s *fakeStore) SetEpisodeGenerated(ctx context.Context, id uuid.UUID, timeline models.JSONB, durationSec int) error {
	s.generated = true
	return nil
}

func (s *fakeStore) SetEpisodeCoverURL(ctx context.Context, id uuid.UUID, coverURL string) error {
	s.coverURL = coverURL
	return nil
}

func (s *fakeStore) ReplaceScenes(ctx context.Context, episodeID uuid.UUID, scenes []models.Scene) error {
	s.replacedScenes = scenes
	return nil
}

func (s *fakeStore) ListScenes(ctx context.Context, episodeID uuid.UUID) ([]models.Scene, error) {
	return s.scenes[episodeID], nil
}

func (s *fakeStore) GetRenderChain(ctx context.Context, renderID uuid.UUID) (*models.Render, *models.Episode, error) {
	rnd, ok := s.chains[renderID]
	if !ok {
		return nil, nil, fmt.Errorf("render %s ownership chain: %w", renderID, db.ErrNotFound)
	}
	return rnd, s.episodes[rnd.EpisodeID], nil
}

func (s *fakeStore) CompleteRender(ctx context.Context, id uuid.UUID, url string, bitrate int, sizeMB float64) error {
	s.completedRender = &id
	s.completedURL = url
	return nil
}

func (s *fakeStore) FailRender(ctx context.Context, id uuid.UUID) error {
	s.failedRender = &id
	return nil
}

func (s *fakeStore) LatestPublishableRender(ctx context.Context, episodeID uuid.UUID) (*models.Render, error) {
	if r, ok := s.renders[episodeID]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("no publishable render for episode %s: %w", episodeID, db.ErrNotFound)
}

func (s *fakeStore) CreatePublishEvent(ctx context.Context, event *models.PublishEvent) error {
	s.events = append(s.events, event)
	return nil
}

// fakeBlobs simulates object storage on the local filesystem. Downloads
// only succeed for objects seeded into the objects map.
type fakeBlobs struct {
	uploads map[string][]byte
	objects map[string][]byte
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{uploads: make(map[string][]byte), objects: make(map[string][]byte)}
}

func (b *fakeBlobs) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	b.uploads[bucket+"/"+path] = data
	return nil
}

func (b *fakeBlobs) UploadFile(ctx context.Context, bucket, storagePath, localPath, contentType string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	b.uploads[bucket+"/"+storagePath] = data
	return nil
}

func (b *fakeBlobs) SignedURL(ctx context.Context, bucket, path string, expiresIn time.Duration) (string, error) {
	return "https://signed.example.com/" + bucket + "/" + path, nil
}

func (b *fakeBlobs) DownloadToFile(ctx context.Context, url, localPath string) error {
	key := strings.TrimPrefix(url, "https://signed.example.com/")
	data, ok := b.objects[key]
	if !ok {
		return fmt.Errorf("download %s: status 404", url)
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (b *fakeBlobs) PublicURL(bucket, path string) string {
	return "https://cdn.example.com/" + bucket + "/" + path
}

type fakeTranscoder struct {
	err        error
	lastReq    render.TranscodeRequest
	transcoded bool
}

func (t *fakeTranscoder) Transcode(ctx context.Context, req render.TranscodeRequest) error {
	t.lastReq = req
	t.transcoded = true
	if t.err != nil {
		return t.err
	}
	if req.OnProgress != nil {
		req.OnProgress(50)
		req.OnProgress(100)
	}
	return os.WriteFile(req.OutputPath, []byte("encoded"), 0o644)
}

func (t *fakeTranscoder) Probe(ctx context.Context, path string) (*render.ProbeResult, error) {
	return &render.ProbeResult{DurationS: 60, BitrateBPS: 4_000_000, SizeBytes: 30 << 20}, nil
}

type fakeScripts struct {
	script *services.EpisodeScript
	err    error
}

func (f *fakeScripts) GenerateEpisodeScript(ctx context.Context, topic string, targetDurationSec int) (*services.EpisodeScript, error) {
	return f.script, f.err
}

type fakeImages struct{ calls int }

func (f *fakeImages) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	f.calls++
	return []byte("png:" + prompt), nil
}

type fakeAdapter struct {
	platform publish.Platform
	uploads  []publish.UploadRequest
	videoID  string
	err      error
}

func (a *fakeAdapter) Platform() publish.Platform { return a.platform }

func (a *fakeAdapter) Upload(ctx context.Context, req publish.UploadRequest) (string, error) {
	a.uploads = append(a.uploads, req)
	if a.err != nil {
		return "", a.err
	}
	return a.videoID, nil
}

type fakeLimiter struct {
	allowed  bool
	recorded int
}

func (l *fakeLimiter) Allow(ctx context.Context, platform publish.Platform) (bool, error) {
	return l.allowed, nil
}

func (l *fakeLimiter) Record(ctx context.Context, platform publish.Platform) error {
	l.recorded++
	return nil
}

func testJob(payload jobqueue.Payload) *jobqueue.Job {
	return &jobqueue.Job{ID: uuid.New(), Kind: payload.Kind(), Payload: payload}
}

func newTestWorker(t *testing.T, store *fakeStore, trans *fakeTranscoder, adapter *fakeAdapter, limiter *fakeLimiter) (*Worker, *fakeBlobs) {
	t.Helper()
	blobs := newFakeBlobs()
	scripts := &fakeScripts{script: &services.EpisodeScript{
		Title:       "Test Episode",
		DurationSec: 12,
		CoverPrompt: "a cover",
		Scenes: []services.ScenePlan{
			{Idx: 0, StartS: 0, EndS: 6, Narration: "first", VisualPrompt: "scene one"},
			{Idx: 1, StartS: 6, EndS: 12, Narration: "second", VisualPrompt: "scene two"},
		},
	}}
	registry := publish.NewRegistry()
	if adapter != nil {
		registry = publish.NewRegistry(adapter)
	}
	return New(store, blobs, trans, scripts, &fakeImages{}, registry, limiter, nil, t.TempDir()), blobs
}

func seedRenderChain(store *fakeStore, blobs *fakeBlobs, narration bool) (renderID uuid.UUID, episodeID uuid.UUID) {
	renderID = uuid.New()
	episodeID = uuid.New()

	store.episodes[episodeID] = &models.Episode{ID: episodeID, Title: "Ep", Status: models.EpisodeStatusCompleted}
	store.chains[renderID] = &models.Render{ID: renderID, EpisodeID: episodeID, Status: models.RenderStatusPending}

	var firstNarration *string
	if narration {
		text := "hello there"
		firstNarration = &text
	}
	store.scenes[episodeID] = []models.Scene{
		{ID: uuid.New(), EpisodeID: episodeID, Idx: 0, StartS: 0, EndS: 5, Src: "a/0.mp4", Narration: firstNarration},
		{ID: uuid.New(), EpisodeID: episodeID, Idx: 1, StartS: 5, EndS: 10, Src: "a/1.mp4"},
	}
	blobs.objects["assets/a/0.mp4"] = []byte("clip-0")
	blobs.objects["assets/a/1.mp4"] = []byte("clip-1")
	return renderID, episodeID
}

func scratchEntries(t *testing.T, w *Worker) int {
	t.Helper()
	entries, err := os.ReadDir(w.scratchDir)
	if err != nil {
		t.Fatalf("read scratch root: %v", err)
	}
	return len(entries)
}

func TestRenderHandlerSuccess(t *testing.T) {
	store := newFakeStore()
	trans := &fakeTranscoder{}
	w, blobs := newTestWorker(t, store, trans, nil, &fakeLimiter{allowed: true})

	renderID, episodeID := seedRenderChain(store, blobs, true)

	err := w.handleRenderEpisode(context.Background(), testJob(jobqueue.RenderEpisode{RenderID: renderID}))
	if err != nil {
		t.Fatalf("render handler failed: %v", err)
	}

	if store.completedRender == nil || *store.completedRender != renderID {
		t.Fatal("render was not completed")
	}
	wantURL := "https://cdn.example.com/renders/" + fmt.Sprintf("episodes/%s/renders/%s.mp4", episodeID, renderID)
	if store.completedURL != wantURL {
		t.Errorf("render url = %q, want %q", store.completedURL, wantURL)
	}
	if store.statusUpdates[episodeID] != models.EpisodeStatusRendered {
		t.Errorf("episode status = %s, want RENDERED", store.statusUpdates[episodeID])
	}

	if len(trans.lastReq.Inputs) != 2 {
		t.Errorf("expected 2 inputs, got %d", len(trans.lastReq.Inputs))
	}
	expr := trans.lastReq.Graph.String()
	if !contains(expr, "concat=n=2:v=1:a=0") {
		t.Errorf("expected concat over 2 scenes in %q", expr)
	}
	if !contains(expr, "subtitles=") {
		t.Errorf("expected subtitle burn-in with narration present, got %q", expr)
	}

	if _, ok := blobs.uploads["renders/"+fmt.Sprintf("episodes/%s/renders/%s.mp4", episodeID, renderID)]; !ok {
		t.Error("rendered file was not uploaded")
	}
	if got := scratchEntries(t, w); got != 0 {
		t.Errorf("scratch dir not cleaned up: %d entries remain", got)
	}
}

func TestRenderHandlerNoSubtitlesWithoutNarration(t *testing.T) {
	store := newFakeStore()
	trans := &fakeTranscoder{}
	w, blobs := newTestWorker(t, store, trans, nil, &fakeLimiter{allowed: true})

	renderID, _ := seedRenderChain(store, blobs, false)

	if err := w.handleRenderEpisode(context.Background(), testJob(jobqueue.RenderEpisode{RenderID: renderID})); err != nil {
		t.Fatalf("render handler failed: %v", err)
	}
	if contains(trans.lastReq.Graph.String(), "subtitles=") {
		t.Error("no subtitle stage expected without narration or a stored track")
	}
}

func TestRenderHandlerUsesStoredSubtitleTrack(t *testing.T) {
	store := newFakeStore()
	trans := &fakeTranscoder{}
	w, blobs := newTestWorker(t, store, trans, nil, &fakeLimiter{allowed: true})

	renderID, episodeID := seedRenderChain(store, blobs, false)
	blobs.objects["subtitles/"+episodeID.String()+".srt"] = []byte("1\n00:00:00,000 --> 00:00:05,000\nuploaded track\n\n")

	if err := w.handleRenderEpisode(context.Background(), testJob(jobqueue.RenderEpisode{RenderID: renderID})); err != nil {
		t.Fatalf("render handler failed: %v", err)
	}
	if !contains(trans.lastReq.Graph.String(), "subtitles=") {
		t.Errorf("expected burn-in of the stored subtitle track, got %q", trans.lastReq.Graph.String())
	}
}

func TestRenderHandlerCleansScratchOnFailure(t *testing.T) {
	store := newFakeStore()
	trans := &fakeTranscoder{err: errors.New("encoder exited with status 1")}
	w, blobs := newTestWorker(t, store, trans, nil, &fakeLimiter{allowed: true})

	renderID, _ := seedRenderChain(store, blobs, true)

	err := w.handleRenderEpisode(context.Background(), testJob(jobqueue.RenderEpisode{RenderID: renderID}))
	if err == nil {
		t.Fatal("expected encode failure")
	}
	if jobqueue.IsPermanent(err) {
		t.Error("encode failure should be retryable")
	}
	if got := scratchEntries(t, w); got != 0 {
		t.Errorf("scratch dir not cleaned up after failure: %d entries remain", got)
	}
	if store.completedRender != nil {
		t.Error("render must not be completed after a failed encode")
	}
	if store.failedRender == nil || *store.failedRender != renderID {
		t.Error("render row must be marked failed after a failed encode")
	}
}

func TestRenderHandlerMissingChainIsPermanent(t *testing.T) {
	store := newFakeStore()
	w, _ := newTestWorker(t, store, &fakeTranscoder{}, nil, &fakeLimiter{allowed: true})

	err := w.handleRenderEpisode(context.Background(), testJob(jobqueue.RenderEpisode{RenderID: uuid.New()}))
	if err == nil || !jobqueue.IsPermanent(err) {
		t.Fatalf("missing ownership chain must be permanent, got %v", err)
	}
}

func TestRenderHandlerNoScenesIsPermanent(t *testing.T) {
	store := newFakeStore()
	w, blobs := newTestWorker(t, store, &fakeTranscoder{}, nil, &fakeLimiter{allowed: true})

	renderID, episodeID := seedRenderChain(store, blobs, false)
	store.scenes[episodeID] = nil

	err := w.handleRenderEpisode(context.Background(), testJob(jobqueue.RenderEpisode{RenderID: renderID}))
	if err == nil || !jobqueue.IsPermanent(err) {
		t.Fatalf("episode without scenes must fail permanently, got %v", err)
	}
	if store.failedRender == nil || *store.failedRender != renderID {
		t.Error("render row should be marked failed")
	}
}

func TestPublishAtCeilingSkipsUpload(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{platform: publish.PlatformTikTok, videoID: "v1"}
	limiter := &fakeLimiter{allowed: false}
	w, _ := newTestWorker(t, store, &fakeTranscoder{}, adapter, limiter)

	episodeID := uuid.New()
	url := "https://cdn.example.com/renders/x.mp4"
	store.episodes[episodeID] = &models.Episode{ID: episodeID, Title: "Ep"}
	store.renders[episodeID] = &models.Render{ID: uuid.New(), EpisodeID: episodeID, Status: models.RenderStatusCompleted, URL: &url}

	err := w.handlePublishVideo(context.Background(), testJob(jobqueue.PublishVideo{EpisodeID: episodeID, Platform: "tiktok"}))
	if err == nil {
		t.Fatal("expected rate ceiling error")
	}
	if jobqueue.IsPermanent(err) {
		t.Error("rate ceiling must be retryable so the job backs off into the next window")
	}
	if len(adapter.uploads) != 0 {
		t.Fatal("upload must not be attempted at the ceiling")
	}
	if limiter.recorded != 0 {
		t.Error("nothing should be recorded when rejected")
	}
}

func TestPublishSuccess(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{platform: publish.PlatformYouTube, videoID: "yt-42"}
	limiter := &fakeLimiter{allowed: true}
	w, _ := newTestWorker(t, store, &fakeTranscoder{}, adapter, limiter)

	episodeID := uuid.New()
	url := "https://cdn.example.com/renders/final.mp4"
	store.episodes[episodeID] = &models.Episode{ID: episodeID, Title: "Launch Day"}
	store.renders[episodeID] = &models.Render{ID: uuid.New(), EpisodeID: episodeID, Status: models.RenderStatusCompleted, URL: &url}

	err := w.handlePublishVideo(context.Background(), testJob(jobqueue.PublishVideo{EpisodeID: episodeID, Platform: "youtube", Scheduled: true}))
	if err != nil {
		t.Fatalf("publish handler failed: %v", err)
	}

	if len(adapter.uploads) != 1 || adapter.uploads[0].VideoURL != url {
		t.Fatalf("unexpected uploads: %+v", adapter.uploads)
	}
	if limiter.recorded != 1 {
		t.Errorf("expected 1 recorded publish, got %d", limiter.recorded)
	}
	if len(store.events) != 1 || store.events[0].VideoID != "yt-42" || !store.events[0].Scheduled {
		t.Fatalf("unexpected publish events: %+v", store.events)
	}
	if store.statusUpdates[episodeID] != models.EpisodeStatusPublished {
		t.Errorf("episode status = %s, want PUBLISHED", store.statusUpdates[episodeID])
	}
}

func TestPublishMissingRenderIsRetryable(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{platform: publish.PlatformYouTube}
	w, _ := newTestWorker(t, store, &fakeTranscoder{}, adapter, &fakeLimiter{allowed: true})

	episodeID := uuid.New()
	store.episodes[episodeID] = &models.Episode{ID: episodeID, Title: "Ep"}

	err := w.handlePublishVideo(context.Background(), testJob(jobqueue.PublishVideo{EpisodeID: episodeID, Platform: "youtube"}))
	if err == nil {
		t.Fatal("expected error while render is missing")
	}
	if jobqueue.IsPermanent(err) {
		t.Error("a not-yet-rendered episode must be retryable")
	}
}

func TestPublishUnknownPlatformIsPermanent(t *testing.T) {
	store := newFakeStore()
	w, _ := newTestWorker(t, store, &fakeTranscoder{}, nil, &fakeLimiter{allowed: true})

	err := w.handlePublishVideo(context.Background(), testJob(jobqueue.PublishVideo{EpisodeID: uuid.New(), Platform: "friendster"}))
	if err == nil || !jobqueue.IsPermanent(err) {
		t.Fatalf("unknown platform must be permanent, got %v", err)
	}
}

func TestGenerateHandler(t *testing.T) {
	store := newFakeStore()
	w, blobs := newTestWorker(t, store, &fakeTranscoder{}, nil, &fakeLimiter{allowed: true})

	episodeID := uuid.New()
	topic := "why octopuses dream"
	store.episodes[episodeID] = &models.Episode{ID: episodeID, Title: "Ep 1", Topic: &topic}

	err := w.handleGenerateEpisode(context.Background(), testJob(jobqueue.GenerateEpisode{EpisodeID: episodeID}))
	if err != nil {
		t.Fatalf("generate handler failed: %v", err)
	}

	if !store.generated {
		t.Error("episode timeline was not stored")
	}
	if len(store.replacedScenes) != 2 {
		t.Fatalf("expected 2 scenes, got %d", len(store.replacedScenes))
	}
	for i, scene := range store.replacedScenes {
		if scene.Idx != i {
			t.Errorf("scene %d has idx %d", i, scene.Idx)
		}
		if _, ok := blobs.uploads["assets/"+scene.Src]; !ok {
			t.Errorf("scene %d asset %q was not uploaded", i, scene.Src)
		}
	}
	if store.coverURL == "" {
		t.Error("cover URL was not set")
	}
}

func TestGenerateHandlerMissingEpisodeIsPermanent(t *testing.T) {
	store := newFakeStore()
	w, _ := newTestWorker(t, store, &fakeTranscoder{}, nil, &fakeLimiter{allowed: true})

	err := w.handleGenerateEpisode(context.Background(), testJob(jobqueue.GenerateEpisode{EpisodeID: uuid.New()}))
	if err == nil || !jobqueue.IsPermanent(err) {
		t.Fatalf("missing episode must be permanent, got %v", err)
	}
}

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}
