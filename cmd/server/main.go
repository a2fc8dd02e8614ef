package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"woa/internal/asr"
	"woa/internal/audio"
	"woa/internal/config"
	"woa/internal/handlers"
	"woa/internal/ingestion"
	"woa/internal/pipeline"
	"woa/internal/storage"
	"woa/internal/worker"
	"woa/internal/youtube"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	jobs := storage.NewJobRepository(db)
	files := storage.NewFileRepository(db)
	results := storage.NewResultRepository(db)

	enabled := enabledKinds(cfg.EnabledProviders)
	factory := asr.NewFactory(asr.FactoryConfig{
		ModelRoot:    cfg.ModelRoot,
		NumThreads:   cfg.NumThreads,
		SampleRate:   audio.DefaultSampleRate,
		ChunkSeconds: cfg.ChunkSeconds,
		ContainerID:  cfg.ConformerContainerID,
		Enabled:      enabled,
		Logger:       logger,
	})
	registry := asr.NewRegistry(factory, logger)
	defer registry.Close()

	pipe := pipeline.New(pipeline.Config{
		ResultRoot:  cfg.ResultDir(),
		SampleRate:  audio.DefaultSampleRate,
		NewDiarizer: pipeline.NewSherpaDiarizerFactory(cfg.DiarizeModelPath, cfg.NumThreads, audio.DefaultSampleRate, logger),
		Logger:      logger,
	}, registry, jobs, files, results)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w := worker.New(worker.Config{
		MaxConcurrent:    cfg.MaxConcurrentJobs,
		CleanupAfterDays: cfg.CleanupAfterDays,
		ResultRoot:       cfg.ResultDir(),
		Logger:           logger,
	}, pipe, jobs)
	w.Start(ctx)

	yt := youtube.NewClient()
	svc := ingestion.NewService(files, yt, cfg.UploadDir(), cfg.TempDir(), logger)

	e := newServer(cfg, db, registry, enabled, jobs, files, results, svc)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		logger.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	w.Stop()
	return nil
}

// newServer builds the echo instance with middleware and all routes.
func newServer(cfg *config.Config, db *storage.DB, registry *asr.Registry, enabled map[asr.Kind]bool, jobs *storage.JobRepository, files *storage.FileRepository, results *storage.ResultRepository, svc *ingestion.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = handlers.NewRequestValidator()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
	}))
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.MaxFileSizeMB*cfg.MaxFilesPerJob)))

	upload := handlers.NewUploadHandler(svc, cfg)
	transcribe := handlers.NewTranscribeHandler(jobs, files, registry, enabled, cfg.Device)
	res := handlers.NewResultsHandler(jobs, results)
	health := handlers.NewHealthHandler(db, registry, enabled)

	api := e.Group("/api/v1")
	api.POST("/upload", upload.Upload)
	api.POST("/upload/url", upload.UploadURL)
	api.POST("/transcribe", transcribe.Create)
	api.GET("/transcribe/jobs", transcribe.List)
	api.GET("/transcribe/jobs/stats", transcribe.Stats)
	api.GET("/transcribe/jobs/:job_id", transcribe.Get)
	api.DELETE("/transcribe/jobs/:job_id", transcribe.Cancel)
	api.GET("/transcribe/providers", transcribe.Providers)
	api.GET("/results/:job_id", res.Summary)
	api.GET("/results/:job_id/:format", res.Download)
	api.POST("/models/evict", transcribe.EvictModels)
	e.GET("/health", health.Health)

	return e
}

// newLogger builds the process-wide slog logger at the configured level.
func newLogger(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(value string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// enabledKinds turns the configured provider names into the gate map for
// the feature-flagged external backends. Unlisted gated kinds stay off.
func enabledKinds(providers []string) map[asr.Kind]bool {
	gated := []asr.Kind{
		asr.KindGoogleSTT,
		asr.KindQwenASR,
		asr.KindTritonCTC,
		asr.KindTritonRNNT,
		asr.KindNvidiaRiva,
		asr.KindHFAutoASR,
	}
	enabled := make(map[asr.Kind]bool, len(gated))
	for _, kind := range gated {
		enabled[kind] = false
	}
	for _, name := range providers {
		if kind, err := asr.ParseKind(name); err == nil {
			enabled[kind] = true
		}
	}
	return enabled
}
