// Command transcoded is the media transcode worker daemon. It pulls jobs
// from the durable queue, converts each source video into an adaptive-bitrate
// HLS package plus a poster image, uploads the artifacts to object storage
// and commits the asset's lifecycle state in the record store.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/clipstream/transcoder/internal/config"
	"github.com/clipstream/transcoder/internal/database"
	"github.com/clipstream/transcoder/internal/ffmpeg"
	"github.com/clipstream/transcoder/internal/health"
	"github.com/clipstream/transcoder/internal/queue"
	"github.com/clipstream/transcoder/internal/repository"
	"github.com/clipstream/transcoder/internal/storage"
	"github.com/clipstream/transcoder/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		hclog.Default().Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "transcoded",
		Level:      hclog.LevelFromString(cfg.LogLevel),
		JSONFormat: true,
	})

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger hclog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Warn("database close failed", "error", err)
		}
	}()

	objects, err := storage.NewS3Store(ctx, cfg, logger.Named("storage"))
	if err != nil {
		return err
	}

	runner := ffmpeg.NewExecRunner(cfg.SubprocessTimeout())
	prober := ffmpeg.NewProber(runner, cfg.FFprobePath, logger.Named("probe"))
	encoder := ffmpeg.NewTranscoder(runner, cfg.FFmpegPath, cfg.SegmentSeconds, logger.Named("hls"))
	poster := ffmpeg.NewPosterExtractor(runner, cfg.FFmpegPath, logger.Named("poster"))

	store := repository.NewStore(db)
	policy := storage.NewPolicy(cfg)
	orchestrator := worker.NewOrchestrator(store, objects, policy, prober, encoder, poster, cfg, logger.Named("worker"))

	q := queue.New(db, queue.Options{
		Topic:             cfg.QueueTopic,
		BackoffBase:       cfg.BackoffBase(),
		MaxAttempts:       cfg.MaxAttempts,
		VisibilityTimeout: cfg.VisibilityTimeout(),
	}, logger.Named("queue"))

	pool := queue.NewPool(q, orchestrator.Process, cfg.WorkerConcurrency, cfg.PollInterval(), logger.Named("pool"))
	pool.Start(ctx)

	var healthSrv *http.Server
	if cfg.HealthAddr != "" {
		check := health.NewCheck(db, q, cfg.ScratchDir, worker.GopsutilDiskFree)
		healthSrv = &http.Server{
			Addr:    cfg.HealthAddr,
			Handler: health.NewRouter(check),
		}
		go func() {
			if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health server failed", "error", err)
			}
		}()
		logger.Info("health endpoint listening", "addr", cfg.HealthAddr)
	}

	logger.Info("transcoded started",
		"topic", cfg.QueueTopic,
		"concurrency", cfg.WorkerConcurrency,
		"variants", len(cfg.Variants),
	)

	<-ctx.Done()
	logger.Info("shutting down, waiting for in-flight jobs")

	if healthSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := healthSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("health server shutdown failed", "error", err)
		}
	}

	pool.Wait()
	logger.Info("shutdown complete")
	return nil
}
