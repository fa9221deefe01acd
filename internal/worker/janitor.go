package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

// Artifacts are removed in batches; anything left over is picked up by
// the next sweep.
const sweepBatch = 200

// Sweep deletes expired artifacts, object first, then the row. Returns
// the number fully removed. A delete that fails halfway leaves the row
// behind for the next sweep.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	if w.opts.ArtifactTTL <= 0 {
		return 0, nil
	}
	expired, err := w.repo.ExpiredArtifacts(ctx, time.Now().UTC(), sweepBatch)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, artifact := range expired {
		if err := w.store.Delete(ctx, artifact.StorageKey); err != nil {
			w.log.Error().Err(err).Str("key", artifact.StorageKey).Msg("sweep object delete failed")
			continue
		}
		if err := w.repo.DeleteArtifact(ctx, artifact.ID); err != nil {
			w.log.Error().Err(err).Stringer("artifact_id", artifact.ID).Msg("sweep row delete failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		w.log.Info().Int("removed", removed).Msg("expired artifacts swept")
	}
	return removed, nil
}

// startJanitor schedules Sweep on the configured cron spec. Disabled
// when artifacts never expire or no schedule is set.
func (w *Worker) startJanitor() (*cron.Cron, error) {
	if w.opts.ArtifactTTL <= 0 || w.opts.JanitorSchedule == "" {
		return nil, nil
	}
	c := cron.New()
	_, err := c.AddFunc(w.opts.JanitorSchedule, func() {
		if _, err := w.Sweep(context.Background()); err != nil {
			w.log.Error().Err(err).Msg("janitor sweep failed")
		}
	})
	if err != nil {
		return nil, model.WrapErr(model.FailureInvalidInput, err, "janitor schedule "+w.opts.JanitorSchedule)
	}
	c.Start()
	w.log.Info().Str("schedule", w.opts.JanitorSchedule).Msg("janitor started")
	return c, nil
}
