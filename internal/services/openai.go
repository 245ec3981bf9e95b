package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIService struct {
	client *openai.Client
	model  string
}

func NewOpenAIService(apiKey string) *OpenAIService {
	return &OpenAIService{
		client: openai.NewClient(apiKey),
		model:  "gpt-4o-mini",
	}
}

// ScenePlan is one scene of a generated episode script.
type ScenePlan struct {
	Idx          int     `json:"idx"`
	StartS       float64 `json:"start_s"`
	EndS         float64 `json:"end_s"`
	Narration    string  `json:"narration"`
	VisualPrompt string  `json:"visual_prompt"`
	// PanZoom is an ffmpeg zoompan fragment suggested by the model, or
	// empty for a static scene.
	PanZoom string `json:"pan_zoom,omitempty"`
}

// EpisodeScript is the structured output of episode generation.
type EpisodeScript struct {
	Title       string      `json:"title"`
	Scenes      []ScenePlan `json:"scenes"`
	DurationSec int         `json:"duration_sec"`
	CoverPrompt string      `json:"cover_prompt"`
}

const scriptSystemPrompt = `You are a short-form video writer for vertical (9:16) episodes.
Produce a JSON object with this shape:
{
  "title": string,
  "duration_sec": integer,
  "cover_prompt": string (an image-generation prompt for the episode cover),
  "scenes": [
    {
      "idx": integer starting at 0,
      "start_s": number,
      "end_s": number,
      "narration": string (spoken text for this scene),
      "visual_prompt": string (image-generation prompt for the scene visual),
      "pan_zoom": string (optional ffmpeg zoompan filter fragment, e.g. "zoompan=z='min(zoom+0.0015,1.2)':d=125:s=1080x1920")
    }
  ]
}
Scene time ranges must be contiguous, non-overlapping, and cover the full duration.
Keep narration punchy; each scene should run 4 to 8 seconds.`

// GenerateEpisodeScript asks the model for a complete scene-by-scene
// script in JSON mode and validates the timeline shape before returning.
func (s *OpenAIService) GenerateEpisodeScript(ctx context.Context, topic string, targetDurationSec int) (*EpisodeScript, error) {
	userPrompt := fmt.Sprintf("Write a %d second episode about: %s", targetDurationSec, topic)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: scriptSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.8,
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	rawContent := resp.Choices[0].Message.Content

	var script EpisodeScript
	if err := json.Unmarshal([]byte(rawContent), &script); err != nil {
		log.Printf("[OpenAI] script parse failed: %v", err)
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}

	if err := validateScript(&script); err != nil {
		log.Printf("[OpenAI] invalid script: %v", err)
		return nil, err
	}

	return &script, nil
}

func validateScript(script *EpisodeScript) error {
	if len(script.Scenes) == 0 {
		return fmt.Errorf("script has no scenes")
	}

	for i, scene := range script.Scenes {
		if scene.Idx != i {
			return fmt.Errorf("scene %d has idx %d, expected %d", i, scene.Idx, i)
		}
		if scene.EndS <= scene.StartS {
			return fmt.Errorf("scene %d has empty time range [%g, %g)", i, scene.StartS, scene.EndS)
		}
		if scene.Narration == "" {
			return fmt.Errorf("scene %d has no narration", i)
		}
		if scene.VisualPrompt == "" {
			return fmt.Errorf("scene %d has no visual prompt", i)
		}
		if i > 0 && scene.StartS != script.Scenes[i-1].EndS {
			return fmt.Errorf("scene %d starts at %g, previous ends at %g", i, scene.StartS, script.Scenes[i-1].EndS)
		}
	}
	return nil
}
