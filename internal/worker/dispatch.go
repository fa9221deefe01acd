package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avtoraskroy/cam-pipeline/internal/calc"
	"github.com/avtoraskroy/cam-pipeline/internal/export"
	"github.com/avtoraskroy/cam-pipeline/internal/gcode"
	"github.com/avtoraskroy/cam-pipeline/internal/importer"
	"github.com/avtoraskroy/cam-pipeline/internal/model"
	"github.com/avtoraskroy/cam-pipeline/internal/pack"
	"github.com/avtoraskroy/cam-pipeline/internal/repo"
	"github.com/avtoraskroy/cam-pipeline/internal/storage"
)

// dispatch routes one claimed job to its stage. A panicking stage must
// not kill the loop, so it comes back as an internal failure.
func (w *Worker) dispatch(ctx context.Context, job *model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = model.Errf(model.FailureInternal, "panic in %s stage: %v", job.Kind, r)
		}
	}()
	switch job.Kind {
	case model.JobDXF:
		return w.runDXF(ctx, job)
	case model.JobGCode:
		return w.runGCode(ctx, job)
	case model.JobDrilling:
		return w.runDrilling(ctx, job)
	case model.JobZip:
		return w.runZip(ctx, job)
	default:
		return model.Errf(model.FailureInvalidInput, "no stage for job kind %q", job.Kind)
	}
}

// runDXF expands a cabinet spec if present, nests everything on the
// sheet, stores the layout drawing and records the nesting result back
// into the job context for status and report queries.
func (w *Worker) runDXF(ctx context.Context, job *model.Job) error {
	var dctx model.DXFContext
	if err := json.Unmarshal(job.Context, &dctx); err != nil {
		return model.WrapErr(model.FailureInvalidInput, err, "decode dxf context")
	}
	settings, err := w.effectiveSettings(ctx, dctx.TenantID, dctx.Settings)
	if err != nil {
		return err
	}

	panels := append([]model.Panel(nil), dctx.Panels...)
	var warnings []string
	if dctx.Cabinet != nil {
		result, err := calc.New(settings).Build(*dctx.Cabinet)
		if err != nil {
			return err
		}
		panels = append(panels, result.Panels...)
		warnings = append(warnings, result.Warnings...)
	}
	if len(panels) == 0 {
		return model.Errf(model.FailureInvalidInput, "dxf job has no panels")
	}

	var layout model.SheetLayout
	if dctx.OptimizeEnabled() {
		layout, err = pack.Pack(panels, settings.SheetWidth, settings.SheetHeight, settings.Gap)
	} else {
		layout, err = pack.PackSimple(panels, settings.SheetWidth, settings.SheetHeight, settings.Gap)
	}
	if err != nil {
		return err
	}

	data, err := export.LayoutDXF(layout)
	if err != nil {
		return err
	}

	result := model.LayoutResult{
		UtilizationPercent: layout.UtilizationPercent,
		PlacedCount:        len(layout.Placed),
		UnplacedCount:      len(layout.Unplaced),
		Strategy:           layout.Strategy,
		Warnings:           warnings,
		Layout:             compactLayout(layout),
	}
	merged, err := model.MergeContext(job.Context, result)
	if err != nil {
		return model.WrapErr(model.FailureInternal, err, "record layout result")
	}
	if err := w.repo.UpdateJobContext(ctx, job.ID, merged); err != nil {
		return err
	}
	job.Context = merged

	return w.storeArtifact(ctx, job, model.ArtifactDXF, storage.DXFKey(job.ID.String()), data, storage.ContentTypeDXF)
}

// runGCode re-reads the referenced layout drawing and translates it
// into a contour program for the requested controller.
func (w *Worker) runGCode(ctx context.Context, job *model.Job) error {
	var gctx model.GCodeContext
	if err := json.Unmarshal(job.Context, &gctx); err != nil {
		return model.WrapErr(model.FailureInvalidInput, err, "decode gcode context")
	}

	artifact, err := w.sourceArtifact(ctx, gctx)
	if err != nil {
		return err
	}
	data, err := w.store.Get(ctx, artifact.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Errf(model.FailureDependencyMissing, "dxf object %s is gone", artifact.StorageKey)
	}
	if err != nil {
		return err
	}
	layout, err := importer.ParseLayout(data)
	if err != nil {
		return err
	}

	settings, err := w.effectiveSettings(ctx, gctx.TenantID, gctx.Settings)
	if err != nil {
		return err
	}
	if gctx.MachineProfile != "" {
		settings.MachineProfile = gctx.MachineProfile
	}
	gen, err := gcode.New(settings)
	if err != nil {
		return err
	}
	program, err := gen.CutProgram(layout)
	if err != nil {
		return err
	}

	return w.storeArtifact(ctx, job, model.ArtifactGCode, storage.GCodeKey(job.ID.String()), []byte(program), storage.ContentTypeText)
}

// sourceArtifact resolves the input drawing either directly or through
// the job that produced it.
func (w *Worker) sourceArtifact(ctx context.Context, gctx model.GCodeContext) (model.Artifact, error) {
	switch {
	case gctx.DXFArtifactID != "":
		id, err := uuid.Parse(gctx.DXFArtifactID)
		if err != nil {
			return model.Artifact{}, model.Errf(model.FailureInvalidInput, "bad dxf_artifact_id %q", gctx.DXFArtifactID)
		}
		artifact, err := w.repo.ArtifactByID(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return model.Artifact{}, model.Errf(model.FailureDependencyMissing, "dxf artifact %s not found", id)
		}
		return artifact, err

	case gctx.DXFJobID != "":
		id, err := uuid.Parse(gctx.DXFJobID)
		if err != nil {
			return model.Artifact{}, model.Errf(model.FailureInvalidInput, "bad dxf_job_id %q", gctx.DXFJobID)
		}
		src, err := w.repo.JobByID(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return model.Artifact{}, model.Errf(model.FailureDependencyMissing, "dxf job %s not found", id)
		}
		if err != nil {
			return model.Artifact{}, err
		}
		if src.ArtifactID == nil {
			return model.Artifact{}, model.Errf(model.FailureDependencyMissing, "dxf job %s has no artifact (status %s)", id, src.Status)
		}
		artifact, err := w.repo.ArtifactByID(ctx, *src.ArtifactID)
		if errors.Is(err, repo.ErrNotFound) {
			return model.Artifact{}, model.Errf(model.FailureDependencyMissing, "artifact %s not found", *src.ArtifactID)
		}
		return artifact, err

	default:
		return model.Artifact{}, model.Errf(model.FailureInvalidInput, "gcode job needs dxf_artifact_id or dxf_job_id")
	}
}

// runDrilling renders a boring program per panel and stores them as an
// archive with a README, or as one concatenated program when the
// context asks for single output.
func (w *Worker) runDrilling(ctx context.Context, job *model.Job) error {
	var dctx model.DrillingContext
	if err := json.Unmarshal(job.Context, &dctx); err != nil {
		return model.WrapErr(model.FailureInvalidInput, err, "decode drilling context")
	}
	if len(dctx.Panels) == 0 {
		return model.Errf(model.FailureInvalidInput, "drilling job has no panels")
	}

	settings, err := w.effectiveSettings(ctx, dctx.TenantID, dctx.Settings)
	if err != nil {
		return err
	}
	if dctx.MachineProfile != "" {
		settings.MachineProfile = dctx.MachineProfile
	}
	gen, err := gcode.New(settings)
	if err != nil {
		return err
	}

	if dctx.OutputFormat == "single" {
		var b strings.Builder
		for _, p := range dctx.Panels {
			program, err := gen.PanelProgram(p, dctx.OrderID)
			if err != nil {
				return err
			}
			b.WriteString(program)
			if !strings.HasSuffix(program, "\n") {
				b.WriteByte('\n')
			}
		}
		return w.storeArtifact(ctx, job, model.ArtifactDrilling, storage.DrillingNCKey(job.ID.String()), []byte(b.String()), storage.ContentTypeText)
	}

	var extra []export.BundleEntry
	if wantLabels(dctx.Extra) {
		labels, err := export.PanelListLabels(dctx.Panels, dctx.OrderID)
		if err != nil {
			return err
		}
		extra = append(extra, export.BundleEntry{Name: "labels.pdf", Data: labels})
	}
	data, _, err := export.DrillingZip(gen, dctx.Panels, dctx.OrderID, extra...)
	if err != nil {
		return err
	}
	return w.storeArtifact(ctx, job, model.ArtifactDrilling, storage.DrillingZipKey(job.ID.String()), data, storage.ContentTypeZip)
}

func wantLabels(extra map[string]any) bool {
	v, ok := extra["include_labels"].(bool)
	return ok && v
}

// runZip gathers the artifacts of the referenced jobs into one archive.
func (w *Worker) runZip(ctx context.Context, job *model.Job) error {
	var zctx model.ZipContext
	if err := json.Unmarshal(job.Context, &zctx); err != nil {
		return model.WrapErr(model.FailureInvalidInput, err, "decode zip context")
	}
	if len(zctx.JobIDs) == 0 {
		return model.Errf(model.FailureInvalidInput, "zip job has no job_ids")
	}

	entries := make([]export.BundleEntry, 0, len(zctx.JobIDs))
	for _, raw := range zctx.JobIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return model.Errf(model.FailureInvalidInput, "bad job id %q", raw)
		}
		src, err := w.repo.JobByID(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return model.Errf(model.FailureDependencyMissing, "job %s not found", id)
		}
		if err != nil {
			return err
		}
		if src.ArtifactID == nil {
			return model.Errf(model.FailureDependencyMissing, "job %s has no artifact (status %s)", id, src.Status)
		}
		artifact, err := w.repo.ArtifactByID(ctx, *src.ArtifactID)
		if errors.Is(err, repo.ErrNotFound) {
			return model.Errf(model.FailureDependencyMissing, "artifact %s not found", *src.ArtifactID)
		}
		if err != nil {
			return err
		}
		data, err := w.store.Get(ctx, artifact.StorageKey)
		if errors.Is(err, storage.ErrNotFound) {
			return model.Errf(model.FailureDependencyMissing, "object %s is gone", artifact.StorageKey)
		}
		if err != nil {
			return err
		}
		entries = append(entries, export.BundleEntry{Name: path.Base(artifact.StorageKey), Data: data})
	}

	data, err := export.Bundle(entries)
	if err != nil {
		return err
	}
	return w.storeArtifact(ctx, job, model.ArtifactZip, storage.ZipKey(job.ID.String()), data, storage.ContentTypeZip)
}

// effectiveSettings merges built-ins, the tenant's factory patch and
// the per-request patch, in that order.
func (w *Worker) effectiveSettings(ctx context.Context, tenantID string, request *model.SettingsPatch) (model.EffectiveSettings, error) {
	factory, err := w.repo.SettingsFor(ctx, tenantID)
	if err != nil {
		return model.EffectiveSettings{}, err
	}
	return model.MergeSettings(&factory, request), nil
}

// storeArtifact writes the object, then records and attaches the
// artifact row in one transaction.
func (w *Worker) storeArtifact(ctx context.Context, job *model.Job, typ model.ArtifactType, key string, data []byte, contentType string) error {
	if err := w.store.Put(ctx, key, data, contentType); err != nil {
		return err
	}
	artifact := model.NewArtifact(typ, key, int64(len(data)), checksumHex(data))
	if w.opts.ArtifactTTL > 0 {
		expires := time.Now().UTC().Add(w.opts.ArtifactTTL)
		artifact.ExpiresAt = &expires
	}
	stored, err := w.repo.AttachArtifact(ctx, job.ID, artifact)
	if err != nil {
		return err
	}
	job.ArtifactID = &stored.ID
	return nil
}

func checksumHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// compactLayout strips the machining features the report never draws,
// keeping the stored context small.
func compactLayout(layout model.SheetLayout) *model.SheetLayout {
	compact := layout
	compact.Placed = make([]model.PlacedPanel, len(layout.Placed))
	for i, p := range layout.Placed {
		p.DrillingPoints = nil
		p.Slots = nil
		compact.Placed[i] = p
	}
	if len(layout.Unplaced) > 0 {
		compact.Unplaced = make([]model.Panel, len(layout.Unplaced))
		for i, p := range layout.Unplaced {
			p.DrillingPoints = nil
			p.Slots = nil
			compact.Unplaced[i] = p
		}
	}
	return &compact
}
