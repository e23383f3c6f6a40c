package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"storyloom/internal/config"
	"storyloom/internal/domain/repositories"
	"storyloom/internal/handler"
	"storyloom/internal/middleware"
	"storyloom/internal/repository/memory"
	"storyloom/internal/repository/postgres"
	"storyloom/internal/service/generate/providers"
	"storyloom/internal/service/jobs"
	"storyloom/internal/service/lock"
	"storyloom/internal/service/scheduler"
	"storyloom/internal/service/store"
	"storyloom/internal/service/template"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	ctx := context.Background()

	// Repositories: postgres when a database URL is configured, otherwise
	// in-memory (dev and test runs without a database).
	var (
		bookRepo  repositories.BookRepository
		chunkRepo repositories.ChunkRepository
		jobRepo   repositories.JobRepository
		txManager repositories.TransactionManager
	)
	if cfg.DatabaseURL != "" {
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to create connection pool: %v", err)
		}
		defer pool.Close()

		tables := postgres.NewTableNames(cfg.TablePrefix)
		if err := postgres.EnsureSchema(ctx, pool, tables); err != nil {
			log.Fatalf("Failed to ensure schema: %v", err)
		}

		repoConfig := &postgres.RepositoryConfig{
			Pool:   pool,
			Tables: tables,
			Logger: logger,
		}
		bookRepo = postgres.NewBookRepository(repoConfig)
		chunkRepo = postgres.NewChunkRepository(repoConfig)
		jobRepo = postgres.NewJobRepository(repoConfig)
		txManager = postgres.NewTransactionManager(pool)

		logger.Info("database connected", "table_prefix", cfg.TablePrefix)
	} else {
		bookRepo = memory.NewBookRepository()
		chunkRepo = memory.NewChunkRepository()
		jobRepo = memory.NewJobRepository()
		txManager = memory.NewTransactionManager()

		logger.Warn("no DATABASE_URL set, using in-memory repositories")
	}

	// Services
	bookStore := store.NewBookStore(bookRepo, logger)
	chunkStore := store.NewChunkStore(chunkRepo, bookRepo, txManager, logger)
	lockManager := lock.NewManager(bookRepo, chunkRepo, logger)
	resolver := template.NewResolver()

	providerRegistry, err := providers.SetupProviders(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to setup generation providers: %v", err)
	}

	// Job handlers and scheduler
	handlerRegistry := scheduler.NewRegistry()
	jobs.RegisterAll(handlerRegistry, &jobs.Deps{
		Store:              chunkStore,
		Books:              bookStore,
		Chunks:             chunkRepo,
		Resolver:           resolver,
		Providers:          providerRegistry,
		DefaultModel:       cfg.DefaultModel,
		DefaultTargetWords: 500,
		ExportDir:          cfg.ExportDir,
		Logger:             logger,
	})

	sched := scheduler.NewScheduler(
		jobRepo,
		bookRepo,
		chunkRepo,
		lockManager,
		handlerRegistry,
		cfg.PollInterval,
		logger,
	)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	logger.Info("services initialized")

	// HTTP handlers
	bookHandler := handler.NewBookHandler(bookStore, chunkStore, logger)
	chunkHandler := handler.NewChunkHandler(chunkStore, cfg.KeepVersions, logger)
	jobHandler := handler.NewJobHandler(sched, logger)

	// Router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handler.HealthCheck)

	// Book routes
	mux.HandleFunc("POST /api/books", bookHandler.CreateBook)
	mux.HandleFunc("GET /api/books", bookHandler.ListBooks)
	mux.HandleFunc("GET /api/books/{id}", bookHandler.GetBook)
	mux.HandleFunc("PATCH /api/books/{id}/props", bookHandler.PatchBookProps)
	mux.HandleFunc("GET /api/books/{id}/word-count", bookHandler.GetBookWordCount)
	mux.HandleFunc("POST /api/books/{id}/cleanup", bookHandler.CleanupDeleted)
	mux.HandleFunc("GET /api/books/{id}/chunks", bookHandler.ListBookChunks)

	// Chunk routes
	mux.HandleFunc("POST /api/chunks", chunkHandler.CreateChunk)
	mux.HandleFunc("GET /api/chunks/{id}", chunkHandler.GetChunk)
	mux.HandleFunc("GET /api/chunks/{id}/versions", chunkHandler.ListVersions)
	mux.HandleFunc("GET /api/chunks/{id}/versions/{version}", chunkHandler.GetVersion)
	mux.HandleFunc("PUT /api/chunks/{id}/text", chunkHandler.UpdateText)
	mux.HandleFunc("PATCH /api/chunks/{id}/props", chunkHandler.PatchProps)
	mux.HandleFunc("DELETE /api/chunks/{id}", chunkHandler.DeleteChunk)
	mux.HandleFunc("POST /api/chunks/{id}/cleanup", chunkHandler.CleanupVersions)
	mux.HandleFunc("GET /api/chunks/{id}/neighbor", chunkHandler.GetNeighbor)

	// Job routes
	mux.HandleFunc("POST /api/jobs", jobHandler.CreateJob)
	mux.HandleFunc("GET /api/jobs/{id}", jobHandler.GetJob)
	mux.HandleFunc("GET /api/jobs/{id}/logs", jobHandler.GetJobLogs)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", jobHandler.CancelJob)

	// Middleware chain: CORS wraps recovery wraps routes.
	var httpHandler http.Handler = mux
	httpHandler = middleware.Recovery(logger)(httpHandler)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	})
	httpHandler = corsHandler.Handler(httpHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Shut down on SIGINT/SIGTERM: stop accepting requests, then drain the
	// scheduler so running jobs finish and release their locks.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}

		sched.Stop()
	}()

	logger.Info("server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}

	logger.Info("server stopped")
}
