package publish

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const instagramGraphURL = "https://graph.facebook.com/v19.0"

// InstagramAdapter publishes Reels through the Instagram Graph API.
// Publishing is two-phase: create a media container that Instagram
// ingests from the signed URL, wait for ingestion to finish, then
// publish the container.
type InstagramAdapter struct {
	accessToken string
	userID      string
	graphURL    string
	client      *http.Client

	pollInterval time.Duration
	pollAttempts int
}

func NewInstagramAdapter(accessToken, userID string) *InstagramAdapter {
	return &InstagramAdapter{
		accessToken:  accessToken,
		userID:       userID,
		graphURL:     instagramGraphURL,
		client:       newAdapterClient(),
		pollInterval: 5 * time.Second,
		pollAttempts: 30,
	}
}

func (a *InstagramAdapter) Platform() Platform { return PlatformInstagram }

func (a *InstagramAdapter) Upload(ctx context.Context, req UploadRequest) (string, error) {
	creationID, err := a.createContainer(ctx, req)
	if err != nil {
		return "", err
	}

	if err := a.waitForContainer(ctx, creationID); err != nil {
		return "", err
	}

	return a.publishContainer(ctx, creationID)
}

func (a *InstagramAdapter) createContainer(ctx context.Context, req UploadRequest) (string, error) {
	form := url.Values{}
	form.Set("media_type", "REELS")
	form.Set("video_url", req.VideoURL)
	form.Set("caption", req.Description)
	form.Set("access_token", a.accessToken)

	var result struct {
		ID string `json:"id"`
	}
	if err := a.postForm(ctx, fmt.Sprintf("%s/%s/media", a.graphURL, a.userID), form, &result); err != nil {
		return "", fmt.Errorf("instagram container creation: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("instagram container creation returned no id")
	}
	return result.ID, nil
}

// waitForContainer polls until Instagram finishes ingesting the video.
func (a *InstagramAdapter) waitForContainer(ctx context.Context, creationID string) error {
	statusURL := fmt.Sprintf("%s/%s?fields=status_code&access_token=%s", a.graphURL, creationID, url.QueryEscape(a.accessToken))

	for attempt := 0; attempt < a.pollAttempts; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, "GET", statusURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := a.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("instagram container status failed: %w", err)
		}

		var result struct {
			StatusCode string `json:"status_code"`
		}
		if err := decodeResponse(resp, &result); err != nil {
			return fmt.Errorf("instagram container status: %w", err)
		}

		switch result.StatusCode {
		case "FINISHED":
			return nil
		case "ERROR", "EXPIRED":
			return fmt.Errorf("instagram container %s ended in state %s", creationID, result.StatusCode)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("instagram ingest wait cancelled: %w", ctx.Err())
		case <-time.After(a.pollInterval):
		}
	}
	return fmt.Errorf("instagram container %s not ready after %d checks", creationID, a.pollAttempts)
}

func (a *InstagramAdapter) publishContainer(ctx context.Context, creationID string) (string, error) {
	form := url.Values{}
	form.Set("creation_id", creationID)
	form.Set("access_token", a.accessToken)

	var result struct {
		ID string `json:"id"`
	}
	if err := a.postForm(ctx, fmt.Sprintf("%s/%s/media_publish", a.graphURL, a.userID), form, &result); err != nil {
		return "", fmt.Errorf("instagram publish: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("instagram publish returned no media id")
	}
	return result.ID, nil
}

func (a *InstagramAdapter) postForm(ctx context.Context, endpoint string, form url.Values, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, out)
}
