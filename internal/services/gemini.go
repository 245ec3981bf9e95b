package services

import (
	"context"
	"fmt"
	"log"

	"google.golang.org/genai"
)

const defaultImageModel = "imagen-3.0-generate-002"

// GeminiService generates scene visuals and episode covers through the
// Google Gen AI SDK.
type GeminiService struct {
	apiKey string
	model  string
}

func NewGeminiService(apiKey string) *GeminiService {
	return &GeminiService{
		apiKey: apiKey,
		model:  defaultImageModel,
	}
}

// GenerateImage produces one portrait (9:16) image for the prompt and
// returns the raw image bytes.
func (s *GeminiService) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	config := &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    "9:16",
	}

	log.Printf("[Gemini] Generating image (model=%s, promptLen=%d)", s.model, len(prompt))

	resp, err := client.Models.GenerateImages(ctx, s.model, prompt, config)
	if err != nil {
		return nil, fmt.Errorf("image generation failed: %w", err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, fmt.Errorf("image generation returned no image")
	}

	return resp.GeneratedImages[0].Image.ImageBytes, nil
}
