package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

// CreateArtifact inserts a bare artifact row, unlinked to any job.
func (r *Repo) CreateArtifact(ctx context.Context, artifact model.Artifact) (model.Artifact, error) {
	if _, err := r.db.NewInsert().Model(&artifact).Exec(ctx); err != nil {
		return model.Artifact{}, model.WrapErr(model.FailureTransient, err, "insert artifact")
	}
	return artifact, nil
}

func (r *Repo) ArtifactByID(ctx context.Context, id uuid.UUID) (model.Artifact, error) {
	var artifact model.Artifact
	err := r.db.NewSelect().Model(&artifact).Where("a.id = ?", id).Scan(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.Artifact{}, ErrNotFound
	case err != nil:
		return model.Artifact{}, model.WrapErr(model.FailureTransient, err, "load artifact")
	}
	return artifact, nil
}

// AttachArtifact stores the artifact and links it to the still
// Processing job in one transaction. ErrStale when the job lost its
// claim in the meantime; the insert rolls back with it.
func (r *Repo) AttachArtifact(ctx context.Context, jobID uuid.UUID, artifact model.Artifact) (model.Artifact, error) {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&artifact).Exec(ctx); err != nil {
			return model.WrapErr(model.FailureTransient, err, "insert artifact")
		}
		res, err := tx.NewUpdate().Model((*model.Job)(nil)).
			Set("artifact_id = ?", artifact.ID).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", jobID).
			Where("status = ?", model.StatusProcessing).
			Exec(ctx)
		if err != nil {
			return model.WrapErr(model.FailureTransient, err, "link artifact")
		}
		return staleIfNone(res)
	})
	if err != nil {
		return model.Artifact{}, err
	}
	return artifact, nil
}

// ExpiredArtifacts lists artifacts whose expiry passed, oldest first.
func (r *Repo) ExpiredArtifacts(ctx context.Context, now time.Time, limit int) ([]model.Artifact, error) {
	var artifacts []model.Artifact
	q := r.db.NewSelect().Model(&artifacts).
		Where("a.expires_at IS NOT NULL").
		Where("a.expires_at <= ?", now).
		Order("a.expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, model.WrapErr(model.FailureTransient, err, "list expired artifacts")
	}
	return artifacts, nil
}

// DeleteArtifact removes the row and clears any job references to it.
func (r *Repo) DeleteArtifact(ctx context.Context, id uuid.UUID) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().Model((*model.Job)(nil)).
			Set("artifact_id = NULL").
			Where("artifact_id = ?", id).
			Exec(ctx); err != nil {
			return model.WrapErr(model.FailureTransient, err, "unlink artifact")
		}
		if _, err := tx.NewDelete().Model((*model.Artifact)(nil)).
			Where("id = ?", id).
			Exec(ctx); err != nil {
			return model.WrapErr(model.FailureTransient, err, "delete artifact")
		}
		return nil
	})
}
