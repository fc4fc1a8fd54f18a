package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/ai"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/config"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/database"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/handler"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/logger"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/repository"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/router"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/service"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/store"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/validator"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreBackend).
		Msg("Starting Avaliacoes Seguras backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Shared State Store ────────────────────────────────────────────
	var st store.Store
	if cfg.StoreBackend == "memory" {
		st = store.NewMemoryStore()
	} else {
		st = store.NewRedisStore(rdb, log)
	}

	// ─── AI Client (optional) ──────────────────────────────────────────
	// Without an API key question generation falls back to demo content
	// and AI grading returns an error the professor can act on.
	var generator service.QuestionGenerator
	var grader service.DiscursiveGrader
	if cfg.AIAPIKey != "" {
		aiClient, err := ai.NewClient(ai.Config{
			APIKey:  cfg.AIAPIKey,
			BaseURL: cfg.AIBaseURL,
			Model:   cfg.AIModel,
			Logger:  log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create AI client")
		}
		generator = aiClient
		grader = aiClient
	} else {
		log.Warn().Msg("AI_API_KEY not set, AI features disabled")
	}

	// ─── Initialize Services ──────────────────────────────────────────
	userRepo := repository.NewUserRepository(pool)
	archiveQueue := worker.NewArchiveQueue(rdb)

	authService := service.NewAuthService(cfg, userRepo)
	roomService := service.NewRoomService(st, log)
	presenceService := service.NewPresenceService(st, cfg.PresenceStep, cfg.PresenceTick, log)
	examService := service.NewExamService(st, generator, log)
	sessionService := service.NewExamSessionService(st, roomService, presenceService, archiveQueue, log)
	gradingService := service.NewGradingService(st, sessionService, grader, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService),
		Exam:    handler.NewExamHandler(examService, log),
		Room:    handler.NewRoomHandler(roomService),
		Grading: handler.NewGradingHandler(gradingService, roomService),
		Student: handler.NewStudentHandler(sessionService),
		WS:      handler.NewWSHandler(roomService, presenceService, sessionService, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	archiveWorker := worker.NewArchiveWorker(pool, rdb, log)
	go archiveWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the archive worker and wait for its queue to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
