package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vidforge/vidforge/internal/api"
	"github.com/vidforge/vidforge/internal/config"
	"github.com/vidforge/vidforge/internal/db"
	"github.com/vidforge/vidforge/internal/jobqueue"
	"github.com/vidforge/vidforge/internal/publish"
	"github.com/vidforge/vidforge/internal/render"
	"github.com/vidforge/vidforge/internal/scheduler"
	"github.com/vidforge/vidforge/internal/services"
	"github.com/vidforge/vidforge/internal/storage"
	"github.com/vidforge/vidforge/internal/worker"
)

func main() {
	log.Println("Starting VidForge API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Connected to database")

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer migrateCancel()
	if err := database.Migrate(migrateCtx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Job queue shares the database connection; job logs land in the
	// same store.
	queueClient := jobqueue.NewClient(database.DB, database)
	if err := queueClient.Migrate(migrateCtx); err != nil {
		log.Fatalf("Failed to run queue migrations: %v", err)
	}
	log.Println("Job queue ready")

	// Connect to Redis (publish rate windows)
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(migrateCtx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Println("Connected to Redis")

	// Initialize storage
	stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey)
	log.Println("Initialized Supabase storage")

	// Create API handler
	handler := api.NewHandler(database, queueClient)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCtx context.Context
	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")

		openaiSvc := services.NewOpenAIService(cfg.OpenAIKey)
		geminiSvc := services.NewGeminiService(cfg.GeminiKey)
		transcoder := render.NewTranscoder(cfg.FFmpegPath, cfg.FFprobePath)
		limiter := publish.NewRedisRateLimiter(redisClient)
		registry := publish.NewRegistry(buildAdapters(cfg)...)

		w := worker.New(database, stor, transcoder, openaiSvc, geminiSvc, registry, limiter, database, cfg.ScratchDir)
		w.Register(queueClient, cfg.MaxConcurrentJobs)

		workerCtx, workerCancel = context.WithCancel(context.Background())
		queueClient.Start(workerCtx)
	}

	// Start scheduler if enabled
	var schedulerCancel context.CancelFunc
	if cfg.SchedulerEnabled {
		log.Println("Scheduler enabled, evaluating publish schedules every minute")
		var schedCtx context.Context
		schedCtx, schedulerCancel = context.WithCancel(context.Background())
		evaluator := scheduler.NewEvaluator(database, queueClient)
		go evaluator.Run(schedCtx, time.Minute)
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	if schedulerCancel != nil {
		schedulerCancel()
	}

	// Stop the queue: no new leases, in-flight jobs run to completion.
	if workerCancel != nil {
		queueClient.Stop()
		workerCancel()
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// buildAdapters returns an adapter for every platform with credentials
// configured. Platforms without credentials stay unregistered; publish
// jobs targeting them fail permanently.
func buildAdapters(cfg *config.Config) []publish.Adapter {
	var adapters []publish.Adapter
	if cfg.YouTubeAccessToken != "" {
		adapters = append(adapters, publish.NewYouTubeAdapter(cfg.YouTubeAccessToken))
	}
	if cfg.TikTokAccessToken != "" {
		adapters = append(adapters, publish.NewTikTokAdapter(cfg.TikTokAccessToken))
	}
	if cfg.InstagramToken != "" && cfg.InstagramUserID != "" {
		adapters = append(adapters, publish.NewInstagramAdapter(cfg.InstagramToken, cfg.InstagramUserID))
	}
	if cfg.TwitterAccessToken != "" {
		adapters = append(adapters, publish.NewTwitterAdapter(cfg.TwitterAccessToken))
	}
	for _, a := range adapters {
		log.Printf("Publish adapter configured: %s", a.Platform())
	}
	return adapters
}
