package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const tiktokInitURL = "https://open.tiktokapis.com/v2/post/publish/video/init/"

// TikTokAdapter publishes through the TikTok Content Posting API. The
// video is not uploaded directly; TikTok pulls it from the signed URL.
type TikTokAdapter struct {
	accessToken string
	initURL     string
	client      *http.Client
}

func NewTikTokAdapter(accessToken string) *TikTokAdapter {
	return &TikTokAdapter{
		accessToken: accessToken,
		initURL:     tiktokInitURL,
		client:      newAdapterClient(),
	}
}

func (a *TikTokAdapter) Platform() Platform { return PlatformTikTok }

func (a *TikTokAdapter) Upload(ctx context.Context, req UploadRequest) (string, error) {
	payload := map[string]interface{}{
		"post_info": map[string]interface{}{
			"title":         req.Title,
			"privacy_level": "PUBLIC_TO_EVERYONE",
		},
		"source_info": map[string]interface{}{
			"source":    "PULL_FROM_URL",
			"video_url": req.VideoURL,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.initURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.accessToken)
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("tiktok publish init failed: %w", err)
	}

	var result struct {
		Data struct {
			PublishID string `json:"publish_id"`
		} `json:"data"`
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := decodeResponse(resp, &result); err != nil {
		return "", fmt.Errorf("tiktok publish init: %w", err)
	}
	if result.Error.Code != "" && result.Error.Code != "ok" {
		return "", fmt.Errorf("tiktok publish rejected: %s (%s)", result.Error.Message, result.Error.Code)
	}
	if result.Data.PublishID == "" {
		return "", fmt.Errorf("tiktok publish init returned no publish id")
	}
	return result.Data.PublishID, nil
}
