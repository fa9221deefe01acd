// cam-api: HTTP front of the CAM job pipeline.
//
// Serves the /api/v1 submission, status, download and report routes
// over Postgres, Redis and an S3-compatible object store. Jobs queued
// here are executed by cam-worker processes.
//
// Build:
//   go build -o cam-api ./cmd/cam-api

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/avtoraskroy/cam-pipeline/internal/api"
	"github.com/avtoraskroy/cam-pipeline/internal/config"
	"github.com/avtoraskroy/cam-pipeline/internal/pipeline"
	"github.com/avtoraskroy/cam-pipeline/internal/queue"
	"github.com/avtoraskroy/cam-pipeline/internal/repo"
	"github.com/avtoraskroy/cam-pipeline/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("load config")
	}
	log := cfg.Logger().With().Str("service", "cam-api").Logger()

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

	p := pipeline.New(r, q, store, log)
	srv := api.New(p, log, cfg.HTTPAddr, cfg.PresignTTL)

	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("database", cfg.RedactedDatabaseURL()).
		Str("bucket", cfg.S3Bucket).
		Msg("cam-api starting")

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
