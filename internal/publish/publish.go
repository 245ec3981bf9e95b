package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformTwitter   Platform = "twitter"
)

// Platforms lists every supported destination in a stable order.
var Platforms = []Platform{PlatformYouTube, PlatformTikTok, PlatformInstagram, PlatformTwitter}

// Valid reports whether p names a supported platform.
func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// UploadRequest carries everything an adapter needs to push one video.
// VideoURL is a signed, time-limited URL to the rendered file.
type UploadRequest struct {
	VideoURL    string
	Title       string
	Description string
	Tags        []string
}

// Adapter uploads one video to a single platform and returns the
// platform's id for the created post.
type Adapter interface {
	Platform() Platform
	Upload(ctx context.Context, req UploadRequest) (string, error)
}

// Registry holds the configured adapters. Platforms without credentials
// are simply absent.
type Registry struct {
	adapters map[Platform]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Platform]Adapter)}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

// Adapter returns the adapter for a platform, or an error when the
// platform is unknown or not configured.
func (r *Registry) Adapter(platform Platform) (Adapter, error) {
	if !platform.Valid() {
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
	adapter, ok := r.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("platform %q is not configured", platform)
	}
	return adapter, nil
}

const adapterTimeout = 300 * time.Second

// newAdapterClient builds the http.Client shared by all adapters. Video
// uploads can carry hundreds of megabytes, hence the long timeout.
func newAdapterClient() *http.Client {
	return &http.Client{
		Timeout: adapterTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// fetchVideo opens the rendered file from its signed URL for streaming
// into a platform upload. The caller must close the returned body.
func fetchVideo(ctx context.Context, client *http.Client, videoURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", videoURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch video: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, 0, fmt.Errorf("video fetch failed with status %d: %s", resp.StatusCode, string(body))
	}
	return resp.Body, resp.ContentLength, nil
}

// decodeResponse reads an API response, enforcing a 2xx status before
// decoding the body into out.
func decodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
