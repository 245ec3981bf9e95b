package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis (publish rate windows)
	RedisURL string

	// Supabase storage
	SupabaseURL        string
	SupabaseServiceKey string

	// OpenAI (episode script generation)
	OpenAIKey string

	// Gemini (scene visuals and covers)
	GeminiKey string

	// Platform credentials. Platforms with an empty token are simply
	// not configured and publish jobs targeting them fail.
	YouTubeAccessToken string
	TikTokAccessToken  string
	InstagramToken     string
	InstagramUserID    string
	TwitterAccessToken string

	// Render
	FFmpegPath  string
	FFprobePath string
	ScratchDir  string

	// Worker
	MaxConcurrentJobs int

	// Scheduler
	SchedulerEnabled bool
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),
		OpenAIKey:          getEnv("OPENAI_API_KEY", ""),
		GeminiKey:          getEnv("GEMINI_API_KEY", ""),
		YouTubeAccessToken: getEnv("YOUTUBE_ACCESS_TOKEN", ""),
		TikTokAccessToken:  getEnv("TIKTOK_ACCESS_TOKEN", ""),
		InstagramToken:     getEnv("INSTAGRAM_ACCESS_TOKEN", ""),
		InstagramUserID:    getEnv("INSTAGRAM_USER_ID", ""),
		TwitterAccessToken: getEnv("TWITTER_ACCESS_TOKEN", ""),
		FFmpegPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:        getEnv("FFPROBE_PATH", "ffprobe"),
		ScratchDir:         getEnv("SCRATCH_DIR", "/tmp/vidforge"),
		MaxConcurrentJobs:  getEnvInt("MAX_CONCURRENT_JOBS", 5),
		SchedulerEnabled:   getEnvBool("SCHEDULER_ENABLED", true),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required")
	}

	if cfg.WorkerEnabled {
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when the worker is enabled")
		}
		if cfg.GeminiKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required when the worker is enabled")
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
