package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	twitterMediaURL = "https://upload.twitter.com/1.1/media/upload.json"
	twitterTweetURL = "https://api.twitter.com/2/tweets"

	// Chunk size for the APPEND phase. Twitter caps chunks at 5MB.
	twitterChunkSize = 4 << 20
)

// TwitterAdapter publishes through the chunked media upload flow
// (INIT, APPEND, FINALIZE) followed by a tweet referencing the media.
type TwitterAdapter struct {
	accessToken string
	mediaURL    string
	tweetURL    string
	client      *http.Client
}

func NewTwitterAdapter(accessToken string) *TwitterAdapter {
	return &TwitterAdapter{
		accessToken: accessToken,
		mediaURL:    twitterMediaURL,
		tweetURL:    twitterTweetURL,
		client:      newAdapterClient(),
	}
}

func (a *TwitterAdapter) Platform() Platform { return PlatformTwitter }

func (a *TwitterAdapter) Upload(ctx context.Context, req UploadRequest) (string, error) {
	video, size, err := fetchVideo(ctx, a.client, req.VideoURL)
	if err != nil {
		return "", err
	}
	defer video.Close()

	if size <= 0 {
		return "", fmt.Errorf("twitter upload requires a known video size")
	}

	mediaID, err := a.initUpload(ctx, size)
	if err != nil {
		return "", err
	}
	if err := a.appendChunks(ctx, mediaID, video); err != nil {
		return "", err
	}
	if err := a.finalizeUpload(ctx, mediaID); err != nil {
		return "", err
	}

	return a.createTweet(ctx, req.Title, mediaID)
}

func (a *TwitterAdapter) initUpload(ctx context.Context, totalBytes int64) (string, error) {
	form := url.Values{}
	form.Set("command", "INIT")
	form.Set("media_type", "video/mp4")
	form.Set("media_category", "tweet_video")
	form.Set("total_bytes", strconv.FormatInt(totalBytes, 10))

	var result struct {
		MediaIDString string `json:"media_id_string"`
	}
	if err := a.postMediaForm(ctx, form, &result); err != nil {
		return "", fmt.Errorf("twitter media INIT: %w", err)
	}
	if result.MediaIDString == "" {
		return "", fmt.Errorf("twitter media INIT returned no media id")
	}
	return result.MediaIDString, nil
}

func (a *TwitterAdapter) appendChunks(ctx context.Context, mediaID string, video io.Reader) error {
	buf := make([]byte, twitterChunkSize)
	for segment := 0; ; segment++ {
		n, readErr := io.ReadFull(video, buf)
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil && readErr != io.ErrUnexpectedEOF {
			return fmt.Errorf("failed to read video chunk: %w", readErr)
		}

		if err := a.appendChunk(ctx, mediaID, segment, buf[:n]); err != nil {
			return err
		}
		if readErr == io.ErrUnexpectedEOF {
			return nil
		}
	}
}

func (a *TwitterAdapter) appendChunk(ctx context.Context, mediaID string, segment int, chunk []byte) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	writer.WriteField("command", "APPEND")
	writer.WriteField("media_id", mediaID)
	writer.WriteField("segment_index", strconv.Itoa(segment))

	part, err := writer.CreateFormFile("media", "chunk")
	if err != nil {
		return fmt.Errorf("failed to create chunk part: %w", err)
	}
	if _, err := part.Write(chunk); err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close chunk body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.mediaURL, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.accessToken)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("twitter media APPEND failed: %w", err)
	}
	if err := decodeResponse(resp, nil); err != nil {
		return fmt.Errorf("twitter media APPEND segment %d: %w", segment, err)
	}
	return nil
}

func (a *TwitterAdapter) finalizeUpload(ctx context.Context, mediaID string) error {
	form := url.Values{}
	form.Set("command", "FINALIZE")
	form.Set("media_id", mediaID)

	if err := a.postMediaForm(ctx, form, nil); err != nil {
		return fmt.Errorf("twitter media FINALIZE: %w", err)
	}
	return nil
}

func (a *TwitterAdapter) createTweet(ctx context.Context, text, mediaID string) (string, error) {
	payload := map[string]interface{}{
		"text": text,
		"media": map[string]interface{}{
			"media_ids": []string{mediaID},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode tweet: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.tweetURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.accessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("twitter tweet failed: %w", err)
	}

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := decodeResponse(resp, &result); err != nil {
		return "", fmt.Errorf("twitter tweet: %w", err)
	}
	if result.Data.ID == "" {
		return "", fmt.Errorf("twitter tweet returned no id")
	}
	return result.Data.ID, nil
}

func (a *TwitterAdapter) postMediaForm(ctx context.Context, form url.Values, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.mediaURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.accessToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, out)
}
