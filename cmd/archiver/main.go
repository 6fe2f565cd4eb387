package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nverdin/camera_archive/internal/config"
	camerashandler "github.com/nverdin/camera_archive/internal/http-server/handlers/cameras"
	recordingshandler "github.com/nverdin/camera_archive/internal/http-server/handlers/recordings"
	transfershandler "github.com/nverdin/camera_archive/internal/http-server/handlers/transfers"
	"github.com/nverdin/camera_archive/internal/http-server/middleware/logger"
	"github.com/nverdin/camera_archive/internal/lib/sl"
	cameraservice "github.com/nverdin/camera_archive/internal/services/cameras"
	codecservice "github.com/nverdin/camera_archive/internal/services/codec"
	recordingservice "github.com/nverdin/camera_archive/internal/services/recordings"
	schedulerservice "github.com/nverdin/camera_archive/internal/services/scheduler"
	transferservice "github.com/nverdin/camera_archive/internal/services/transfers"
	"github.com/nverdin/camera_archive/internal/storage/postgres"
	camerastorage "github.com/nverdin/camera_archive/internal/storage/postgres/cameras"
	recordingstorage "github.com/nverdin/camera_archive/internal/storage/postgres/recordings"
	transferstorage "github.com/nverdin/camera_archive/internal/storage/postgres/transfers"
	"github.com/nverdin/camera_archive/internal/videostorage"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("starting archiver", slog.String("env", cfg.Env))

	if cfg.DB.Password == "" {
		panic("POSTGRES_PASSWORD is required")
	}

	storage, err := postgres.New(cfg.DB)
	if err != nil {
		panic(err)
	}

	backend, err := videostorage.New(context.Background(), cfg.Storage)
	if err != nil {
		panic(err)
	}

	cameraStorage := camerastorage.New(storage)
	recordingStorage := recordingstorage.New(storage)
	transferStorage := transferstorage.New(storage)

	codecSelector := codecservice.New(log, codecservice.DefaultCandidates(), cfg.VideosPath)

	transferService := transferservice.New(log, transferStorage, recordingStorage, backend, cfg.Transfers)

	cameraService := cameraservice.New(log, cfg.VideosPath, cfg.Stream, cameraStorage)

	recordingService := recordingservice.New(
		log,
		cameraStorage,
		recordingStorage,
		codecSelector,
		transferService,
		cfg.Stream,
		cfg.VideosPath,
		cfg.Transfers.TempSuffix,
	)

	scheduler := schedulerservice.New(log)

	scheduler.RegisterInterval("transfers/sync", cfg.Transfers.SweepInterval, func(ctx context.Context) {
		report, err := transferService.SyncSweep(ctx, transferservice.SyncParams{
			BatchSize: cfg.Transfers.SweepBatchSize,
			MaxAge:    cfg.Transfers.SweepMaxAge,
		})
		if err != nil {
			log.Error("sync sweep failed", sl.Err(err))

			return
		}

		if report.Synced > 0 || report.Failed > 0 {
			log.Info("sync sweep finished",
				slog.Int("synced", report.Synced),
				slog.Int("skipped", report.Skipped),
				slog.Int("failed", report.Failed),
			)
		}
	})

	scheduler.RegisterInterval("transfers/cleanup", cfg.Transfers.CleanupInterval, func(ctx context.Context) {
		report, err := transferService.CleanupSweep(ctx, transferservice.CleanupParams{})
		if err != nil {
			log.Error("cleanup sweep failed", sl.Err(err))

			return
		}

		if report.Cleaned > 0 || report.Failed > 0 {
			log.Info("cleanup sweep finished",
				slog.Int("cleaned", report.Cleaned),
				slog.Int("skipped", report.Skipped),
				slog.Int("failed", report.Failed),
			)
		}
	})

	scheduler.RegisterInterval("transfers/reclaim", cfg.Transfers.StaleAfter, func(ctx context.Context) {
		reclaimed, err := transferService.ReclaimStale(ctx)
		if err != nil {
			log.Error("stale reclaim failed", sl.Err(err))

			return
		}

		if reclaimed > 0 {
			log.Info("stale uploads reclaimed", slog.Int("count", reclaimed))
		}
	})

	for _, entry := range cfg.Schedules {
		duration, err := time.ParseDuration(entry.Duration)
		if err != nil {
			log.Error("invalid schedule duration",
				slog.String("schedule_id", entry.ScheduleID),
				sl.Err(err),
			)

			continue
		}

		err = scheduler.RegisterScheduleEntry(
			entry.ScheduleID,
			entry.CameraID,
			entry.Weekdays,
			entry.StartTime,
			duration,
			"",
			recordingService,
		)
		if err != nil {
			log.Error("failed to register schedule",
				slog.String("schedule_id", entry.ScheduleID),
				sl.Err(err),
			)
		}
	}

	cameraHandler := camerashandler.New(log, cameraService)
	recordingHandler := recordingshandler.New(log, recordingService)
	transferHandler := transfershandler.New(log, transferService, codecSelector)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(logger.New(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)

	router.Post("/cameras", cameraHandler.Save)
	router.Get("/cameras", cameraHandler.List)
	router.Delete("/cameras", cameraHandler.Disable)
	router.Post("/cameras/test", cameraHandler.Test)

	router.Post("/recordings/start", recordingHandler.Start)
	router.Post("/recordings/{recording_id}/stop", recordingHandler.Stop)
	router.Get("/recordings/{recording_id}", recordingHandler.Get)
	router.Get("/recordings", recordingHandler.List)

	router.Post("/transfers/sync", transferHandler.Sync)
	router.Post("/transfers/cleanup", transferHandler.Cleanup)
	router.Get("/transfers", transferHandler.Get)

	router.Post("/codecs/invalidate", transferHandler.InvalidateCodecs)
	router.Post("/codecs/warmup", transferHandler.WarmupCodecs)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("server started", slog.String("address", cfg.HTTPServer.Address))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", sl.Err(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("stopping archiver")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop server", sl.Err(err))
	}

	scheduler.Stop()
	recordingService.StopAll()

	if err := storage.Close(); err != nil {
		log.Error("failed to close storage", sl.Err(err))
	}

	log.Info("archiver stopped")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
