package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
)

const youtubeUploadURL = "https://www.googleapis.com/upload/youtube/v3/videos?uploadType=multipart&part=snippet,status"

// YouTubeAdapter publishes videos through the YouTube Data API v3
// multipart upload endpoint.
type YouTubeAdapter struct {
	accessToken string
	uploadURL   string
	client      *http.Client
}

func NewYouTubeAdapter(accessToken string) *YouTubeAdapter {
	return &YouTubeAdapter{
		accessToken: accessToken,
		uploadURL:   youtubeUploadURL,
		client:      newAdapterClient(),
	}
}

func (a *YouTubeAdapter) Platform() Platform { return PlatformYouTube }

type youtubeMetadata struct {
	Snippet struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Tags        []string `json:"tags,omitempty"`
	} `json:"snippet"`
	Status struct {
		PrivacyStatus string `json:"privacyStatus"`
	} `json:"status"`
}

// Upload streams the rendered file into a multipart/related request:
// one JSON metadata part followed by the video body. The file is never
// buffered in memory.
func (a *YouTubeAdapter) Upload(ctx context.Context, req UploadRequest) (string, error) {
	video, _, err := fetchVideo(ctx, a.client, req.VideoURL)
	if err != nil {
		return "", err
	}
	defer video.Close()

	var meta youtubeMetadata
	meta.Snippet.Title = req.Title
	meta.Snippet.Description = req.Description
	meta.Snippet.Tags = req.Tags
	meta.Status.PrivacyStatus = "public"

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		err := writeYouTubeParts(writer, metaJSON, video)
		if err == nil {
			err = writer.Close()
		}
		pw.CloseWithError(err)
	}()

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.uploadURL, pr)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.accessToken)
	httpReq.Header.Set("Content-Type", "multipart/related; boundary="+writer.Boundary())

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("youtube upload failed: %w", err)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := decodeResponse(resp, &result); err != nil {
		return "", fmt.Errorf("youtube upload: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("youtube upload returned no video id")
	}
	return result.ID, nil
}

func writeYouTubeParts(writer *multipart.Writer, metaJSON []byte, video io.Reader) error {
	metaPart, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"application/json; charset=UTF-8"},
	})
	if err != nil {
		return fmt.Errorf("failed to create metadata part: %w", err)
	}
	if _, err := metaPart.Write(metaJSON); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	videoPart, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"video/mp4"},
	})
	if err != nil {
		return fmt.Errorf("failed to create video part: %w", err)
	}
	if _, err := io.Copy(videoPart, video); err != nil {
		return fmt.Errorf("failed to stream video: %w", err)
	}
	return nil
}
