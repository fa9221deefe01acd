// Package pipeline is the submission surface of the CAM backend. It
// validates requests, persists jobs, enqueues them for the workers and
// answers status, download and report queries. One Pipeline value holds
// every dependency; there are no package-level singletons.
package pipeline

import (
	"context"
	"encoding/json"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
	"github.com/avtoraskroy/cam-pipeline/internal/queue"
	"github.com/avtoraskroy/cam-pipeline/internal/repo"
	"github.com/avtoraskroy/cam-pipeline/internal/storage"
)

// Pipeline coordinates the repository, the queue and the artifact store.
type Pipeline struct {
	repo  *repo.Repo
	queue *queue.Client
	store storage.Store
	log   zerolog.Logger
}

func New(r *repo.Repo, q *queue.Client, store storage.Store, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		repo:  r,
		queue: q,
		store: store,
		log:   log.With().Str("component", "pipeline").Logger(),
	}
}

// JobHandle is what a submission returns: enough to poll the job later.
type JobHandle struct {
	JobID  uuid.UUID       `json:"job_id"`
	Kind   model.JobKind   `json:"job_kind"`
	Status model.JobStatus `json:"status"`
}

// SubmitDXF queues a cut-layout job for an explicit panel list, a
// cabinet spec, or both.
func (p *Pipeline) SubmitDXF(ctx context.Context, dctx model.DXFContext, key string) (JobHandle, error) {
	if len(dctx.Panels) == 0 && dctx.Cabinet == nil {
		return JobHandle{}, model.Errf(model.FailureInvalidInput, "dxf job needs panels or a cabinet spec")
	}
	for _, panel := range dctx.Panels {
		if err := panel.Validate(); err != nil {
			return JobHandle{}, err
		}
	}
	if dctx.Cabinet != nil {
		if err := dctx.Cabinet.Validate(); err != nil {
			return JobHandle{}, err
		}
	}
	if err := validatePatch(dctx.Settings); err != nil {
		return JobHandle{}, err
	}
	return p.submit(ctx, model.JobDXF, dctx, key, "")
}

// SubmitGCode queues a G-code translation of an existing DXF artifact,
// referenced either directly or through the job that produced it.
func (p *Pipeline) SubmitGCode(ctx context.Context, gctx model.GCodeContext, key string) (JobHandle, error) {
	if gctx.DXFArtifactID == "" && gctx.DXFJobID == "" {
		return JobHandle{}, model.Errf(model.FailureInvalidInput, "gcode job needs dxf_artifact_id or dxf_job_id")
	}
	if gctx.DXFArtifactID != "" {
		if _, err := uuid.Parse(gctx.DXFArtifactID); err != nil {
			return JobHandle{}, model.Errf(model.FailureInvalidInput, "bad dxf_artifact_id %q", gctx.DXFArtifactID)
		}
	}
	if gctx.DXFJobID != "" {
		if _, err := uuid.Parse(gctx.DXFJobID); err != nil {
			return JobHandle{}, model.Errf(model.FailureInvalidInput, "bad dxf_job_id %q", gctx.DXFJobID)
		}
	}
	if err := validateProfile(gctx.MachineProfile); err != nil {
		return JobHandle{}, err
	}
	if err := validatePatch(gctx.Settings); err != nil {
		return JobHandle{}, err
	}
	return p.submit(ctx, model.JobGCode, gctx, key, "")
}

// SubmitDrilling queues a drilling-program bundle for the given panels.
func (p *Pipeline) SubmitDrilling(ctx context.Context, dctx model.DrillingContext, key string) (JobHandle, error) {
	if len(dctx.Panels) == 0 {
		return JobHandle{}, model.Errf(model.FailureInvalidInput, "drilling job needs panels")
	}
	for _, panel := range dctx.Panels {
		if err := panel.Validate(); err != nil {
			return JobHandle{}, err
		}
	}
	switch dctx.OutputFormat {
	case "", "zip", "single":
	default:
		return JobHandle{}, model.Errf(model.FailureInvalidInput, "output_format must be zip or single, got %q", dctx.OutputFormat)
	}
	if err := validateProfile(dctx.MachineProfile); err != nil {
		return JobHandle{}, err
	}
	if err := validatePatch(dctx.Settings); err != nil {
		return JobHandle{}, err
	}
	return p.submit(ctx, model.JobDrilling, dctx, key, dctx.OrderID)
}

// SubmitZip queues an archive of the artifacts produced by the listed jobs.
func (p *Pipeline) SubmitZip(ctx context.Context, zctx model.ZipContext, key string) (JobHandle, error) {
	if len(zctx.JobIDs) == 0 {
		return JobHandle{}, model.Errf(model.FailureInvalidInput, "zip job needs job_ids")
	}
	for _, id := range zctx.JobIDs {
		if _, err := uuid.Parse(id); err != nil {
			return JobHandle{}, model.Errf(model.FailureInvalidInput, "bad job id %q", id)
		}
	}
	return p.submit(ctx, model.JobZip, zctx, key, "")
}

// submit persists the job and pushes its payload onto the kind queue.
// A duplicate idempotency key returns the stored job instead of a new
// one; if that job is still Created it is enqueued again, which covers
// a submit that crashed between insert and push. Workers deduplicate
// by claim, so a double delivery is harmless.
func (p *Pipeline) submit(ctx context.Context, kind model.JobKind, jobCtx any, key, orderID string) (JobHandle, error) {
	raw, err := json.Marshal(jobCtx)
	if err != nil {
		return JobHandle{}, model.WrapErr(model.FailureInternal, err, "encode job context")
	}
	if key == "" {
		key = uuid.NewString()
	}
	job := model.NewJob(kind, raw, key)
	job.OrderID = orderID

	stored, created, err := p.repo.CreateJob(ctx, job)
	if err != nil {
		return JobHandle{}, err
	}
	handle := JobHandle{JobID: stored.ID, Kind: stored.Kind, Status: stored.Status}
	if !created && stored.Status != model.StatusCreated {
		p.log.Debug().Stringer("job_id", stored.ID).Str("status", string(stored.Status)).Msg("idempotent replay")
		return handle, nil
	}

	name, err := queue.ForKind(stored.Kind)
	if err != nil {
		return JobHandle{}, err
	}
	payload := model.JobPayload{JobID: stored.ID.String(), Kind: stored.Kind, IdempotencyKey: key}
	if err := p.queue.Enqueue(ctx, name, payload); err != nil {
		// The row stays Created; retrying with the same key lands here again.
		return handle, err
	}
	p.log.Info().Stringer("job_id", stored.ID).Str("kind", string(stored.Kind)).Bool("replayed", !created).Msg("job enqueued")
	return handle, nil
}

// JobView is the status projection served to clients. Layout fields are
// only set once a DXF job has recorded its result.
type JobView struct {
	ID         uuid.UUID       `json:"id"`
	Kind       model.JobKind   `json:"job_kind"`
	Status     model.JobStatus `json:"status"`
	Attempt    int             `json:"attempt"`
	ArtifactID *uuid.UUID      `json:"artifact_id,omitempty"`
	Error      string          `json:"error,omitempty"`
	OrderID    string          `json:"order_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`

	UtilizationPercent *float64 `json:"utilization_percent,omitempty"`
	PlacedCount        *int     `json:"placed_count,omitempty"`
	UnplacedCount      *int     `json:"unplaced_count,omitempty"`
	Strategy           string   `json:"strategy,omitempty"`
	Warnings           []string `json:"warnings,omitempty"`
}

// GetJob returns the current state of a job. Unknown IDs surface
// repo.ErrNotFound.
func (p *Pipeline) GetJob(ctx context.Context, id uuid.UUID) (JobView, error) {
	job, err := p.repo.JobByID(ctx, id)
	if err != nil {
		return JobView{}, err
	}
	view := JobView{
		ID:         job.ID,
		Kind:       job.Kind,
		Status:     job.Status,
		Attempt:    job.Attempt,
		ArtifactID: job.ArtifactID,
		Error:      job.Error,
		OrderID:    job.OrderID,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	}
	if len(job.Context) > 0 {
		var lr model.LayoutResult
		if err := json.Unmarshal(job.Context, &lr); err == nil && lr.PlacedCount+lr.UnplacedCount > 0 {
			view.UtilizationPercent = &lr.UtilizationPercent
			view.PlacedCount = &lr.PlacedCount
			view.UnplacedCount = &lr.UnplacedCount
			view.Strategy = lr.Strategy
			view.Warnings = lr.Warnings
		}
	}
	return view, nil
}

// LayoutForReport loads the stored layout of a completed DXF job along
// with the settings it was cut under, for rendering the PDF report.
func (p *Pipeline) LayoutForReport(ctx context.Context, id uuid.UUID) (model.SheetLayout, model.EffectiveSettings, error) {
	var settings model.EffectiveSettings
	job, err := p.repo.JobByID(ctx, id)
	if err != nil {
		return model.SheetLayout{}, settings, err
	}
	if job.Kind != model.JobDXF {
		return model.SheetLayout{}, settings, model.Errf(model.FailureInvalidInput, "job %s is %s, reports cover DXF jobs", id, job.Kind)
	}
	if job.Status != model.StatusCompleted {
		return model.SheetLayout{}, settings, model.Errf(model.FailureInvalidInput, "job %s is %s, reports need a completed job", id, job.Status)
	}
	var lr model.LayoutResult
	if err := json.Unmarshal(job.Context, &lr); err != nil {
		return model.SheetLayout{}, settings, model.WrapErr(model.FailureInternal, err, "decode layout result")
	}
	if lr.Layout == nil {
		return model.SheetLayout{}, settings, model.Errf(model.FailureInternal, "job %s recorded no layout", id)
	}
	var dctx model.DXFContext
	if err := json.Unmarshal(job.Context, &dctx); err != nil {
		return model.SheetLayout{}, settings, model.WrapErr(model.FailureInternal, err, "decode job context")
	}
	factory, err := p.repo.SettingsFor(ctx, dctx.TenantID)
	if err != nil {
		return model.SheetLayout{}, settings, err
	}
	settings = model.MergeSettings(&factory, dctx.Settings)
	return *lr.Layout, settings, nil
}

// Download is a short-lived artifact link.
type Download struct {
	URL       string `json:"url"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

// ArtifactDownload presigns the artifact of a finished job. A non-positive
// ttl falls back to storage.DefaultPresignTTL.
func (p *Pipeline) ArtifactDownload(ctx context.Context, jobID uuid.UUID, ttl time.Duration) (Download, error) {
	job, err := p.repo.JobByID(ctx, jobID)
	if err != nil {
		return Download{}, err
	}
	if job.ArtifactID == nil {
		if job.Status == model.StatusFailed {
			return Download{}, model.Errf(model.FailureInvalidInput, "job %s failed: %s", jobID, job.Error)
		}
		return Download{}, model.Errf(model.FailureInvalidInput, "job %s has no artifact yet (status %s)", jobID, job.Status)
	}
	artifact, err := p.repo.ArtifactByID(ctx, *job.ArtifactID)
	if err != nil {
		return Download{}, err
	}
	if ttl <= 0 {
		ttl = storage.DefaultPresignTTL
	}
	url, err := p.store.PresignGet(ctx, artifact.StorageKey, ttl)
	if err != nil {
		return Download{}, err
	}
	return Download{
		URL:       url,
		Filename:  path.Base(artifact.StorageKey),
		SizeBytes: artifact.SizeBytes,
		ExpiresIn: int(ttl / time.Second),
	}, nil
}

// EffectiveDefaults merges the stored factory patch for a tenant over
// the built-in defaults.
func (p *Pipeline) EffectiveDefaults(ctx context.Context, tenantID string) (model.EffectiveSettings, error) {
	factory, err := p.repo.SettingsFor(ctx, tenantID)
	if err != nil {
		return model.EffectiveSettings{}, err
	}
	return model.MergeSettings(&factory, nil), nil
}

// SaveDefaults stores a tenant's factory patch.
func (p *Pipeline) SaveDefaults(ctx context.Context, tenantID string, patch model.SettingsPatch) error {
	if err := validatePatch(&patch); err != nil {
		return err
	}
	return p.repo.SaveSettings(ctx, tenantID, patch)
}

// Health pings every backing service. A nil map value means healthy.
func (p *Pipeline) Health(ctx context.Context) map[string]error {
	return map[string]error{
		"database": p.repo.Ping(ctx),
		"redis":    p.queue.Ping(ctx),
		"storage":  p.store.EnsureBucket(ctx),
	}
}

// Operator surface, passed through so the HTTP layer only depends on
// the Pipeline.

func (p *Pipeline) QueueDepths(ctx context.Context) (map[string]int64, error) {
	return p.queue.Depths(ctx)
}

func (p *Pipeline) DeadLetters(ctx context.Context, n int64) ([]model.DeadLetter, error) {
	return p.queue.DLQPeek(ctx, n)
}

func (p *Pipeline) RequeueDead(ctx context.Context, n int64) (int, error) {
	return p.queue.DLQRequeue(ctx, n)
}

func validateProfile(name string) error {
	if name == "" {
		return nil
	}
	if _, ok := model.ProfileByName(name); !ok {
		return model.Errf(model.FailureInvalidInput, "unknown machine profile %q", name)
	}
	return nil
}

func validatePatch(patch *model.SettingsPatch) error {
	if patch.IsZero() {
		return nil
	}
	if patch.MachineProfile != nil {
		if err := validateProfile(*patch.MachineProfile); err != nil {
			return err
		}
	}
	for name, v := range map[string]*float64{
		"sheet_width":  patch.SheetWidth,
		"sheet_height": patch.SheetHeight,
		"gap":          patch.Gap,
	} {
		if v != nil && *v < 0 {
			return model.Errf(model.FailureInvalidInput, "%s must not be negative, got %.1f", name, *v)
		}
	}
	if (patch.SheetWidth != nil && *patch.SheetWidth == 0) || (patch.SheetHeight != nil && *patch.SheetHeight == 0) {
		return model.Errf(model.FailureInvalidInput, "sheet dimensions must be positive")
	}
	return nil
}
