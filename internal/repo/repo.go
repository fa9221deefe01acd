// Package repo persists jobs, artifacts and factory settings in
// Postgres through bun. Every status transition is a compare-and-set,
// so two workers can race on the same job and exactly one wins.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

// Sentinel errors callers branch on.
var (
	ErrNotFound = errors.New("not found")
	ErrStale    = errors.New("stale update: row changed underneath")
)

const pgUniqueViolation = "23505"

// Connect opens a bun handle over pgdriver. No connection is made until
// the first query; call Ping to verify reachability. The bundebug hook
// stays silent unless verbose is set or BUNDEBUG enables it.
func Connect(dsn string, verbose bool) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithEnabled(verbose),
		bundebug.FromEnv("BUNDEBUG"),
	))
	return db
}

// Repo is the data access layer. Safe for concurrent use.
type Repo struct {
	db *bun.DB
}

func New(db *bun.DB) *Repo { return &Repo{db: db} }

// Ping checks database liveness for the health endpoint.
func (r *Repo) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return model.WrapErr(model.FailureTransient, err, "ping database")
	}
	return nil
}

// EnsureSchema creates missing tables. Development and test bootstrap;
// production schema changes go through migrations.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	tables := []any{
		(*model.Artifact)(nil),
		(*model.Job)(nil),
		(*model.FactorySettings)(nil),
	}
	for _, table := range tables {
		if _, err := r.db.NewCreateTable().Model(table).IfNotExists().Exec(ctx); err != nil {
			return model.WrapErr(model.FailureTransient, err, "create table")
		}
	}
	return nil
}

// CreateJob inserts the job. When the idempotency key is already
// claimed, the stored job wins and comes back with created=false.
func (r *Repo) CreateJob(ctx context.Context, job model.Job) (model.Job, bool, error) {
	if _, err := r.db.NewInsert().Model(&job).Exec(ctx); err != nil {
		if isUniqueViolation(err) && job.IdempotencyKey != nil {
			existing, gerr := r.JobByIdempotencyKey(ctx, *job.IdempotencyKey)
			if gerr == nil {
				return existing, false, nil
			}
		}
		return model.Job{}, false, model.WrapErr(model.FailureTransient, err, "insert job")
	}
	return job, true, nil
}

func (r *Repo) JobByID(ctx context.Context, id uuid.UUID) (model.Job, error) {
	var job model.Job
	err := r.db.NewSelect().Model(&job).Where("j.id = ?", id).Scan(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.Job{}, ErrNotFound
	case err != nil:
		return model.Job{}, model.WrapErr(model.FailureTransient, err, "load job")
	}
	return job, nil
}

func (r *Repo) JobByIdempotencyKey(ctx context.Context, key string) (model.Job, error) {
	var job model.Job
	err := r.db.NewSelect().Model(&job).Where("j.idempotency_key = ?", key).Scan(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.Job{}, ErrNotFound
	case err != nil:
		return model.Job{}, model.WrapErr(model.FailureTransient, err, "load job by key")
	}
	return job, nil
}

// UpdateJobStatus moves a job from expect to next, compare-and-set on
// the current status. ErrStale when the row is no longer in expect.
func (r *Repo) UpdateJobStatus(ctx context.Context, id uuid.UUID, expect, next model.JobStatus) error {
	if expect.Terminal() {
		return model.Errf(model.FailureInvalidInput, "status %s is terminal", expect)
	}
	res, err := r.db.NewUpdate().Model((*model.Job)(nil)).
		Set("status = ?", next).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", expect).
		Exec(ctx)
	if err != nil {
		return model.WrapErr(model.FailureTransient, err, "update job status")
	}
	return staleIfNone(res)
}

// RequeueJob returns a Processing job to Created with the attempt
// counter bumped, as one compare-and-set over both columns. ErrStale
// when another actor moved the job or the counter in the meantime.
func (r *Repo) RequeueJob(ctx context.Context, id uuid.UUID, fromAttempt int) error {
	res, err := r.db.NewUpdate().Model((*model.Job)(nil)).
		Set("status = ?", model.StatusCreated).
		Set("attempt = ?", fromAttempt+1).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", model.StatusProcessing).
		Where("attempt = ?", fromAttempt).
		Exec(ctx)
	if err != nil {
		return model.WrapErr(model.FailureTransient, err, "requeue job")
	}
	return staleIfNone(res)
}

// FailJob records the classifier message and moves the job to Failed.
// Terminal jobs are left untouched and reported as ErrStale.
func (r *Repo) FailJob(ctx context.Context, id uuid.UUID, msg string) error {
	res, err := r.db.NewUpdate().Model((*model.Job)(nil)).
		Set("status = ?", model.StatusFailed).
		Set("error = ?", msg).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status NOT IN (?)", bun.In([]model.JobStatus{model.StatusCompleted, model.StatusFailed})).
		Exec(ctx)
	if err != nil {
		return model.WrapErr(model.FailureTransient, err, "fail job")
	}
	return staleIfNone(res)
}

// UpdateJobContext replaces the stored context of a Processing job. The
// claim holder is the only writer, so no merge happens here.
func (r *Repo) UpdateJobContext(ctx context.Context, id uuid.UUID, raw json.RawMessage) error {
	res, err := r.db.NewUpdate().Model((*model.Job)(nil)).
		Set("context = ?", raw).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", model.StatusProcessing).
		Exec(ctx)
	if err != nil {
		return model.WrapErr(model.FailureTransient, err, "update job context")
	}
	return staleIfNone(res)
}

func staleIfNone(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return model.WrapErr(model.FailureTransient, err, "rows affected")
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}

// isUniqueViolation matches Postgres SQLSTATE 23505 both as a typed
// pgdriver error and in wrapped message text.
func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "SQLSTATE="+pgUniqueViolation)
}
