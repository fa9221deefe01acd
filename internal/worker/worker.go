// Package worker runs the job loops: pop a payload, claim its job,
// dispatch it and either complete, retry with backoff, or dead-letter.
// One process may run several loops; the Created to Processing claim
// keeps two loops from working the same job.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
	"github.com/avtoraskroy/cam-pipeline/internal/queue"
	"github.com/avtoraskroy/cam-pipeline/internal/repo"
	"github.com/avtoraskroy/cam-pipeline/internal/storage"
)

// Options tune the loops. Zero values fall back to the defaults below,
// except MaxRetries where zero really means no retries.
type Options struct {
	Concurrency     int
	MaxRetries      int
	BackoffFactor   float64
	JobTimeout      time.Duration
	PopTimeout      time.Duration
	ArtifactTTL     time.Duration // 0 keeps artifacts forever and disables the janitor
	JanitorSchedule string        // cron spec, e.g. "@hourly"
}

const (
	defaultConcurrency   = 1
	defaultMaxRetries    = 3
	defaultBackoffFactor = 2.0
	defaultJobTimeout    = 5 * time.Minute
	defaultPopTimeout    = 5 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Concurrency < 1 {
		o.Concurrency = defaultConcurrency
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.BackoffFactor <= 0 {
		o.BackoffFactor = defaultBackoffFactor
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = defaultJobTimeout
	}
	if o.PopTimeout <= 0 {
		o.PopTimeout = defaultPopTimeout
	}
	return o
}

// Worker owns one process worth of job loops plus the artifact janitor.
type Worker struct {
	repo  *repo.Repo
	queue *queue.Client
	store storage.Store
	opts  Options
	log   zerolog.Logger

	sleep func(ctx context.Context, d time.Duration)
}

func New(r *repo.Repo, q *queue.Client, store storage.Store, opts Options, log zerolog.Logger) *Worker {
	return &Worker{
		repo:  r,
		queue: q,
		store: store,
		opts:  opts.withDefaults(),
		log:   log.With().Str("component", "worker").Logger(),
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run blocks until ctx is canceled. A cancel aborts blocked pops
// immediately but lets in-flight jobs finish their bookkeeping.
func (w *Worker) Run(ctx context.Context) error {
	janitor, err := w.startJanitor()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.opts.Concurrency; i++ {
		g.Go(func() error { return w.runLoop(gctx, i) })
	}
	err = g.Wait()
	if janitor != nil {
		<-janitor.Stop().Done()
	}
	return err
}

func (w *Worker) runLoop(ctx context.Context, id int) error {
	log := w.log.With().Int("loop", id).Logger()
	log.Info().Msg("worker loop started")
	for {
		if ctx.Err() != nil {
			log.Info().Msg("worker loop stopped")
			return nil
		}
		if _, err := w.processOne(ctx); err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("worker loop stopped")
				return nil
			}
			log.Error().Err(err).Msg("loop iteration failed")
			w.sleep(ctx, time.Second)
		}
	}
}

// processOne pops at most one payload and handles it. The bool reports
// whether a payload was consumed; a pop timeout is (false, nil).
func (w *Worker) processOne(ctx context.Context) (bool, error) {
	qname, payload, err := w.queue.Dequeue(ctx, w.opts.PopTimeout, queue.WorkQueues()...)
	if err != nil {
		var perr *model.PipelineError
		if errors.As(err, &perr) && perr.Kind == model.FailureInvalidInput {
			// Undecodable payload, already dead-lettered by the queue.
			w.log.Warn().Err(err).Str("queue", qname).Msg("discarded undecodable payload")
			return true, nil
		}
		return false, err
	}
	if payload == nil {
		return false, nil
	}
	if payload.JobID == "" {
		w.deadLetterPayload(ctx, qname, payload, "missing job_id")
		return true, nil
	}
	id, err := uuid.Parse(payload.JobID)
	if err != nil {
		w.deadLetterPayload(ctx, qname, payload, "bad job_id "+payload.JobID)
		return true, nil
	}
	w.work(ctx, qname, id, payload)
	return true, nil
}

// work claims the job and runs it to a terminal outcome or a retry.
func (w *Worker) work(ctx context.Context, qname string, id uuid.UUID, payload *model.JobPayload) {
	log := w.log.With().Stringer("job_id", id).Str("queue", qname).Logger()

	job, err := w.repo.JobByID(ctx, id)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		w.deadLetterPayload(ctx, qname, payload, "job row not found")
		return
	case err != nil:
		log.Error().Err(err).Msg("load job failed, requeueing payload")
		w.requeuePayload(ctx, qname, payload)
		return
	}
	if job.Status.Terminal() {
		log.Info().Str("status", string(job.Status)).Msg("job already finished, skipping")
		return
	}

	if err := w.repo.UpdateJobStatus(ctx, job.ID, model.StatusCreated, model.StatusProcessing); err != nil {
		if errors.Is(err, repo.ErrStale) {
			log.Debug().Msg("claim lost, skipping")
			return
		}
		log.Error().Err(err).Msg("claim failed, requeueing payload")
		w.requeuePayload(ctx, qname, payload)
		return
	}
	log.Info().Str("kind", string(job.Kind)).Int("attempt", job.Attempt).Msg("job claimed")

	// The job context survives a shutdown signal so the in-flight job
	// can finish; only the timeout bounds it.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.opts.JobTimeout)
	defer cancel()
	if err := w.dispatch(runCtx, &job); err != nil {
		w.fail(ctx, qname, &job, payload, err, log)
		return
	}
	if err := w.repo.UpdateJobStatus(runCtx, job.ID, model.StatusProcessing, model.StatusCompleted); err != nil {
		log.Error().Err(err).Msg("completion transition failed")
		return
	}
	log.Info().Str("kind", string(job.Kind)).Msg("job completed")
}

// fail classifies the error and either schedules a retry or parks the
// payload in the DLQ and marks the job Failed.
func (w *Worker) fail(ctx context.Context, qname string, job *model.Job, payload *model.JobPayload, cause error, log zerolog.Logger) {
	kind := model.ClassifyError(cause)
	bctx := context.WithoutCancel(ctx)

	if kind.Retryable() && job.Attempt < w.opts.MaxRetries {
		delay := backoffDelay(w.opts.BackoffFactor, job.Attempt)
		log.Warn().Err(cause).Str("failure", kind.String()).Int("attempt", job.Attempt).Dur("backoff", delay).Msg("job failed, retrying")
		w.sleep(ctx, delay)
		if err := w.repo.RequeueJob(bctx, job.ID, job.Attempt); err != nil {
			if errors.Is(err, repo.ErrStale) {
				log.Debug().Msg("retry abandoned, job moved meanwhile")
				return
			}
			log.Error().Err(err).Msg("retry bookkeeping failed")
			return
		}
		if err := w.queue.Enqueue(bctx, qname, *payload); err != nil {
			log.Error().Err(err).Msg("re-enqueue failed, job stays Created")
		}
		return
	}

	msg := kind.String() + ": " + cause.Error()
	raw, _ := json.Marshal(payload)
	dead := model.DeadLetter{
		JobID:   job.ID.String(),
		Kind:    job.Kind,
		Queue:   qname,
		Error:   msg,
		Payload: raw,
		Trace:   errorChain(cause),
	}
	if err := w.queue.PushDead(bctx, dead); err != nil {
		log.Error().Err(err).Msg("dead letter push failed")
	}
	if err := w.repo.FailJob(bctx, job.ID, msg); err != nil && !errors.Is(err, repo.ErrStale) {
		log.Error().Err(err).Msg("failure transition failed")
	}
	log.Error().Err(cause).Str("failure", kind.String()).Int("attempt", job.Attempt).Msg("job dead lettered")
}

func (w *Worker) deadLetterPayload(ctx context.Context, qname string, payload *model.JobPayload, reason string) {
	raw, _ := json.Marshal(payload)
	dead := model.DeadLetter{
		JobID:   payload.JobID,
		Kind:    payload.Kind,
		Queue:   qname,
		Error:   reason,
		Payload: raw,
	}
	if err := w.queue.PushDead(context.WithoutCancel(ctx), dead); err != nil {
		w.log.Error().Err(err).Msg("dead letter push failed")
	}
	w.log.Warn().Str("queue", qname).Str("reason", reason).Msg("payload dead lettered")
}

// requeuePayload pushes a payload back after an infrastructure error,
// so a flaky database read does not lose the job.
func (w *Worker) requeuePayload(ctx context.Context, qname string, payload *model.JobPayload) {
	if err := w.queue.Enqueue(context.WithoutCancel(ctx), qname, *payload); err != nil {
		w.log.Error().Err(err).Str("queue", qname).Msg("requeue failed, payload dropped")
	}
}

// backoffDelay is factor^attempt seconds: 1s, 2s, 4s with factor 2.
func backoffDelay(factor float64, attempt int) time.Duration {
	return time.Duration(math.Pow(factor, float64(attempt)) * float64(time.Second))
}

// errorChain expands the wrap chain, outermost first, one per line.
func errorChain(err error) string {
	var parts []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "\n")
}
