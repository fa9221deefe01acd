// cam-worker: job executor of the CAM pipeline.
//
// Pops DXF, GCODE, DRILLING and ZIP jobs queued by cam-api, runs them
// against Postgres, Redis and the object store, and retries or
// dead-letters failures. Several processes may run side by side; the
// status claim keeps them off each other's jobs.
//
// Build:
//   go build -o cam-worker ./cmd/cam-worker

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/avtoraskroy/cam-pipeline/internal/config"
	"github.com/avtoraskroy/cam-pipeline/internal/queue"
	"github.com/avtoraskroy/cam-pipeline/internal/repo"
	"github.com/avtoraskroy/cam-pipeline/internal/storage"
	"github.com/avtoraskroy/cam-pipeline/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("load config")
	}
	log := cfg.Logger().With().Str("service", "cam-worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := repo.Connect(cfg.DatabaseURL, cfg.Debug())
	defer db.Close()
	r := repo.New(db)
	if err := r.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	q, err := queue.Open(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect broker")
	}

	store, err := storage.NewMinIO(storage.Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connect object store")
	}
	if err := store.EnsureBucket(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure bucket")
	}

	w := worker.New(r, q, store, worker.Options{
		Concurrency:     cfg.Concurrency,
		MaxRetries:      cfg.MaxRetries,
		BackoffFactor:   cfg.BackoffFactor,
		JobTimeout:      cfg.JobTimeout,
		ArtifactTTL:     cfg.ArtifactTTL,
		JanitorSchedule: cfg.JanitorSchedule,
	}, log)

	log.Info().
		Int("concurrency", cfg.Concurrency).
		Str("database", cfg.RedactedDatabaseURL()).
		Str("bucket", cfg.S3Bucket).
		Msg("cam-worker starting")

	if err := w.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("worker failed")
	}
	log.Info().Msg("cam-worker stopped")
}
