package publish

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPlatformValid(t *testing.T) {
	for _, platform := range Platforms {
		if !platform.Valid() {
			t.Errorf("%s should be valid", platform)
		}
	}
	for _, name := range []string{"", "facebook", "YOUTUBE"} {
		if Platform(name).Valid() {
			t.Errorf("%q should not be valid", name)
		}
	}
}

func TestCeilings(t *testing.T) {
	cases := map[Platform]int{
		PlatformYouTube:   20,
		PlatformTikTok:    10,
		PlatformInstagram: 25,
		PlatformTwitter:   50,
	}
	for platform, want := range cases {
		if got := Ceiling(platform); got != want {
			t.Errorf("Ceiling(%s) = %d, want %d", platform, got, want)
		}
	}
}

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry(NewTikTokAdapter("token"))

	adapter, err := registry.Adapter(PlatformTikTok)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if adapter.Platform() != PlatformTikTok {
		t.Errorf("wrong adapter: %s", adapter.Platform())
	}

	if _, err := registry.Adapter(PlatformYouTube); err == nil {
		t.Error("expected error for unconfigured platform")
	}
	if _, err := registry.Adapter(Platform("myspace")); err == nil {
		t.Error("expected error for unknown platform")
	}
}

func TestTikTokUpload(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data":  map[string]string{"publish_id": "v_pub_123"},
			"error": map[string]string{"code": "ok"},
		})
	}))
	defer server.Close()

	adapter := NewTikTokAdapter("secret-token")
	adapter.initURL = server.URL

	id, err := adapter.Upload(context.Background(), UploadRequest{
		VideoURL: "https://cdn.example.com/render.mp4?sig=abc",
		Title:    "Episode 1",
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if id != "v_pub_123" {
		t.Errorf("publish id = %q, want v_pub_123", id)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("authorization = %q", gotAuth)
	}

	source := gotBody["source_info"].(map[string]interface{})
	if source["source"] != "PULL_FROM_URL" {
		t.Errorf("source = %v, want PULL_FROM_URL", source["source"])
	}
	if source["video_url"] != "https://cdn.example.com/render.mp4?sig=abc" {
		t.Errorf("video_url = %v", source["video_url"])
	}
}

func TestTikTokUploadRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"code": "spam_risk_too_many_posts", "message": "daily post cap reached"},
		})
	}))
	defer server.Close()

	adapter := NewTikTokAdapter("token")
	adapter.initURL = server.URL

	if _, err := adapter.Upload(context.Background(), UploadRequest{VideoURL: "https://x/y.mp4"}); err == nil {
		t.Fatal("expected error for rejected publish")
	}
}

func TestYouTubeUploadStreamsMultipart(t *testing.T) {
	videoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake-mp4-bytes"))
	}))
	defer videoServer.Close()

	var gotContentType string
	uploadServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		io.Copy(io.Discard, r.Body)
		json.NewEncoder(w).Encode(map[string]string{"id": "yt-video-9"})
	}))
	defer uploadServer.Close()

	adapter := NewYouTubeAdapter("token")
	adapter.uploadURL = uploadServer.URL

	id, err := adapter.Upload(context.Background(), UploadRequest{
		VideoURL: videoServer.URL,
		Title:    "Episode 1",
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if id != "yt-video-9" {
		t.Errorf("video id = %q, want yt-video-9", id)
	}
	if !strings.HasPrefix(gotContentType, "multipart/related") {
		t.Errorf("content type = %q, want multipart/related", gotContentType)
	}
}
