package jobqueue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Kind names one of the three job queues.
type Kind string

const (
	KindGenerateEpisode Kind = "generate-episode"
	KindRenderEpisode   Kind = "render-episode"
	KindPublishVideo    Kind = "publish-video"
)

// Kinds lists every registered job kind. Used by the migration and by
// exhaustiveness checks in tests.
var Kinds = []Kind{KindGenerateEpisode, KindRenderEpisode, KindPublishVideo}

// Payload is the closed set of job payloads. Each job kind carries exactly
// one payload type; the consumer runtime dispatches on the concrete type,
// so a payload-shape mismatch is a compile error rather than a runtime one.
type Payload interface {
	Kind() Kind

	// SingletonKey returns the deduplication key for this payload. While a
	// non-terminal job with the same key exists, re-enqueueing is a no-op
	// that returns the existing job's id.
	SingletonKey() string
}

// GenerateEpisode asks the generate handler to produce script and scenes
// for one episode.
type GenerateEpisode struct {
	EpisodeID uuid.UUID `json:"episode_id"`
}

func (GenerateEpisode) Kind() Kind { return KindGenerateEpisode }

func (p GenerateEpisode) SingletonKey() string {
	return fmt.Sprintf("generate-episode-%s", p.EpisodeID)
}

// RenderEpisode asks the render handler to produce the video file for one
// render record.
type RenderEpisode struct {
	RenderID uuid.UUID `json:"render_id"`
}

func (RenderEpisode) Kind() Kind { return KindRenderEpisode }

func (p RenderEpisode) SingletonKey() string {
	return fmt.Sprintf("render-episode-%s", p.RenderID)
}

// PublishVideo asks the publish handler to upload an episode's latest
// completed render to one platform.
type PublishVideo struct {
	EpisodeID uuid.UUID `json:"episode_id"`
	Platform  string    `json:"platform"`
	// Scheduled marks jobs emitted by the scheduler evaluator rather than
	// a direct user action.
	Scheduled bool `json:"scheduled,omitempty"`
}

func (PublishVideo) Kind() Kind { return KindPublishVideo }

func (p PublishVideo) SingletonKey() string {
	return fmt.Sprintf("publish-video-%s-%s", p.EpisodeID, p.Platform)
}

// decodePayload reconstructs the typed payload for a stored job row.
// The switch is exhaustive over Kinds; an unknown kind is a permanent
// error since retrying cannot fix a row written by a newer deploy.
func decodePayload(kind Kind, data []byte) (Payload, error) {
	switch kind {
	case KindGenerateEpisode:
		var p GenerateEpisode
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
		}
		return p, nil
	case KindRenderEpisode:
		var p RenderEpisode
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
		}
		return p, nil
	case KindPublishVideo:
		var p PublishVideo
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
		}
		return p, nil
	default:
		return nil, Permanent(fmt.Errorf("unknown job kind %q", kind))
	}
}
