package worker

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avtoraskroy/cam-pipeline/internal/export"
	"github.com/avtoraskroy/cam-pipeline/internal/model"
	"github.com/avtoraskroy/cam-pipeline/internal/pack"
	"github.com/avtoraskroy/cam-pipeline/internal/queue"
	"github.com/avtoraskroy/cam-pipeline/internal/storage"
)

func expectAttachAndComplete(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "artifacts"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "cam_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`UPDATE "cam_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestDXFStageStoresLayoutAndResult(t *testing.T) {
	w, mock, _, mem := newTestWorker(t, Options{})
	ctx := context.Background()

	raw, err := json.Marshal(model.DXFContext{Panels: []model.Panel{dxfPanel()}})
	require.NoError(t, err)
	job := model.NewJob(model.JobDXF, raw, "")

	mock.ExpectQuery(`SELECT (.+) FROM "cam_jobs"`).WillReturnRows(jobRow(job))
	mock.ExpectExec(`UPDATE "cam_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1)) // claim
	mock.ExpectQuery(`SELECT (.+) FROM "factory_settings"`).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "patch", "updated_at"}))
	mock.ExpectExec(`UPDATE "cam_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1)) // layout result
	expectAttachAndComplete(mock)

	mustEnqueue(t, w, queue.QueueDXF, model.JobPayload{JobID: job.ID.String(), Kind: model.JobDXF})
	processed, err := w.processOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	key := storage.DXFKey(job.ID.String())
	data, err := mem.Get(ctx, key)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, storage.ContentTypeDXF, mem.ContentType(key))

	letters, err := w.queue.DLQPeek(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, letters)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDXFStageExpandsCabinetSpec(t *testing.T) {
	w, mock, _, mem := newTestWorker(t, Options{})
	ctx := context.Background()

	raw, err := json.Marshal(model.DXFContext{Cabinet: &model.CabinetSpec{
		Type:       model.CabinetWall,
		Width:      800,
		Height:     720,
		Depth:      300,
		ShelfCount: 1,
		DoorCount:  1,
	}})
	require.NoError(t, err)
	job := model.NewJob(model.JobDXF, raw, "")

	mock.ExpectQuery(`SELECT (.+) FROM "cam_jobs"`).WillReturnRows(jobRow(job))
	mock.ExpectExec(`UPDATE "cam_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM "factory_settings"`).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "patch", "updated_at"}))
	mock.ExpectExec(`UPDATE "cam_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1)) // layout result
	expectAttachAndComplete(mock)

	mustEnqueue(t, w, queue.QueueDXF, model.JobPayload{JobID: job.ID.String(), Kind: model.JobDXF})
	_, err = w.processOne(ctx)
	require.NoError(t, err)

	data, err := mem.Get(ctx, storage.DXFKey(job.ID.String()))
	require.NoError(t, err)
	assert.NotEmpty(t, data, "a cabinet spec alone must produce a layout")
	require.NoError(t, mock.ExpectationsWereMet())
}

// seedDXFObject nests one panel and stores the drawing under key.
func seedDXFObject(t *testing.T, mem *storage.Memory, key string) {
	t.Helper()
	layout, err := pack.Pack([]model.Panel{dxfPanel()}, 2800, 2070, 4)
	require.NoError(t, err)
	data, err := export.LayoutDXF(layout)
	require.NoError(t, err)
	require.NoError(t, mem.Put(context.Background(), key, data, storage.ContentTypeDXF))
}

func TestGCodeStageFromArtifact(t *testing.T) {
	w, mock, _, mem := newTestWorker(t, Options{})
	ctx := context.Background()

	artifact := model.NewArtifact(model.ArtifactDXF, "dxf/src.dxf", 0, "")
	seedDXFObject(t, mem, artifact.StorageKey)

	raw := []byte(`{"dxf_artifact_id":"` + artifact.ID.String() + `"}`)
	job := model.NewJob(model.JobGCode, raw, "")

	mock.ExpectQuery(`SELECT (.+) FROM "cam_jobs"`).WillReturnRows(jobRow(job))
	mock.ExpectExec(`UPDATE "cam_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM "artifacts"`).WillReturnRows(artifactRow(artifact))
	mock.ExpectQuery(`SELECT (.+) FROM "factory_settings"`).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "patch", "updated_at"}))
	expectAttachAndComplete(mock)

	mustEnqueue(t, w, queue.QueueGCode, model.JobPayload{JobID: job.ID.String(), Kind: model.JobGCode})
	processed, err := w.processOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	key := storage.GCodeKey(job.ID.String())
	program, err := mem.Get(ctx, key)
	require.NoError(t, err)
	text := string(program)
	assert.Contains(t, text, "G00", "rapids expected")
	assert.Contains(t, text, "G01", "cutting feeds expected")
	assert.Equal(t, storage.ContentTypeText, mem.ContentType(key))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGCodeStageFromJobReference(t *testing.T) {
	w, mock, _, mem := newTestWorker(t, Options{})
	ctx := context.Background()

	artifact := model.NewArtifact(model.ArtifactDXF, "dxf/ref.dxf", 0, "")
	seedDXFObject(t, mem, artifact.StorageKey)

	src := model.NewJob(model.JobDXF, nil, "")
	src.Status = model.StatusCompleted
	src.ArtifactID = &artifact.ID

	raw := []byte(`{"dxf_job_id":"` + src.ID.String() + `"}`)
	job := model.NewJob(model.JobGCode, raw, "")

	mock.ExpectQuery(`SELECT (.+) FROM "cam_jobs"`).WillReturnRows(jobRow(job))
	mock.ExpectExec(`UPDATE "cam_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM "cam_jobs"`).WillReturnRows(jobRow(src))
	mock.ExpectQuery(`SELECT (.+) FROM "artifacts"`).WillReturnRows(artifactRow(artifact))
	mock.ExpectQuery(`SELECT (.+) FROM "factory_settings"`).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "patch", "updated_at"}))
	expectAttachAndComplete(mock)

	mustEnqueue(t, w, queue.QueueGCode, model.JobPayload{JobID: job.ID.String(), Kind: model.JobGCode})
	_, err := w.processOne(ctx)
	require.NoError(t, err)

	program, err := mem.Get(ctx, storage.GCodeKey(job.ID.String()))
	require.NoError(t, err)
	assert.NotEmpty(t, program)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGCodeStageMissingArtifactFails(t *testing.T) {
	w, mock, _, _ := newTestWorker(t, Options{})
	ctx := context.Background()

	artifactID := model.NewArtifact(model.ArtifactDXF, "x", 0, "").ID
	raw := []byte(`{"dxf_artifact_id":"` + artifactID.String() + `"}`)
	job := model.NewJob(model.JobGCode, raw, "")

	mock.ExpectQuery(`SELECT (.+) FROM "cam_jobs"`).WillReturnRows(jobRow(job))
	mock.ExpectExec(`UPDATE "cam_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM "artifacts"`).
		WillReturnRows(sqlmock.NewRows(artifactColumns))
	mock.ExpectExec(`UPDATE "cam_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1)) // Failed

	mustEnqueue(t, w, queue.QueueGCode, model.JobPayload{JobID: job.ID.String(), Kind: model.JobGCode})
	_, err := w.processOne(ctx)
	require.NoError(t, err)

	letters, err := w.queue.DLQPeek(ctx, 5)
	require.NoError(t, err)
	require.Len(t, letters, 1, "a missing dependency is not retried")
	assert.Equal(t, job.ID.String(), letters[0].JobID)
	assert.Equal(t, model.JobGCode, letters[0].Kind)
	assert.Contains(t, letters[0].Error, "dependency_missing: ")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDrillingStageZipWithLabels(t *testing.T) {
	w, mock, _, mem := newTestWorker(t, Options{})
	ctx := context.Background()

	raw := []byte(`{"order_id":"ORD-7","panels":[` + mustJSON(t, dxfPanel()) + `],"include_labels":true}`)
	job := model.NewJob(model.JobDrilling, raw, "")

	mock.ExpectQuery(`SELECT (.+) FROM "cam_jobs"`).WillReturnRows(jobRow(job))
	mock.ExpectExec(`UPDATE "cam_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM "factory_settings"`).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "patch", "updated_at"}))
	expectAttachAndComplete(mock)

	mustEnqueue(t, w, queue.QueueDrilling, model.JobPayload{JobID: job.ID.String(), Kind: model.JobDrilling})
	_, err := w.processOne(ctx)
	require.NoError(t, err)

	key := storage.DrillingZipKey(job.ID.String())
	data, err := mem.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, storage.ContentTypeZip, mem.ContentType(key))

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "README.txt")
	assert.Contains(t, names, "labels.pdf")
	var ncCount int
	for _, n := range names {
		if strings.HasSuffix(n, ".nc") {
			ncCount++
		}
	}
	assert.Equal(t, 1, ncCount, "one program per panel")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDrillingStageSingleOutput(t *testing.T) {
	w, mock, _, mem := newTestWorker(t, Options{})
	ctx := context.Background()

	raw := []byte(`{"panels":[` + mustJSON(t, dxfPanel()) + `],"output_format":"single"}`)
	job := model.NewJob(model.JobDrilling, raw, "")

	mock.ExpectQuery(`SELECT (.+) FROM "cam_jobs"`).WillReturnRows(jobRow(job))
	mock.ExpectExec(`UPDATE "cam_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM "factory_settings"`).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "patch", "updated_at"}))
	expectAttachAndComplete(mock)

	mustEnqueue(t, w, queue.QueueDrilling, model.JobPayload{JobID: job.ID.String(), Kind: model.JobDrilling})
	_, err := w.processOne(ctx)
	require.NoError(t, err)

	key := storage.DrillingNCKey(job.ID.String())
	data, err := mem.Get(ctx, key)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, storage.ContentTypeText, mem.ContentType(key))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestZipStageBundlesArtifacts(t *testing.T) {
	w, mock, _, mem := newTestWorker(t, Options{})
	ctx := context.Background()

	artifactA := model.NewArtifact(model.ArtifactDXF, "dxf/a.dxf", 7, "")
	artifactB := model.NewArtifact(model.ArtifactGCode, "gcode/b.gcode", 5, "")
	require.NoError(t, mem.Put(ctx, artifactA.StorageKey, []byte("DXFDATA"), storage.ContentTypeDXF))
	require.NoError(t, mem.Put(ctx, artifactB.StorageKey, []byte("G0 X0"), storage.ContentTypeText))

	jobA := model.NewJob(model.JobDXF, nil, "")
	jobA.Status = model.StatusCompleted
	jobA.ArtifactID = &artifactA.ID
	jobB := model.NewJob(model.JobGCode, nil, "")
	jobB.Status = model.StatusCompleted
	jobB.ArtifactID = &artifactB.ID

	raw := []byte(`{"job_ids":["` + jobA.ID.String() + `","` + jobB.ID.String() + `"]}`)
	job := model.NewJob(model.JobZip, raw, "")

	mock.ExpectQuery(`SELECT (.+) FROM "cam_jobs"`).WillReturnRows(jobRow(job))
	mock.ExpectExec(`UPDATE "cam_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM "cam_jobs"`).WillReturnRows(jobRow(jobA))
	mock.ExpectQuery(`SELECT (.+) FROM "artifacts"`).WillReturnRows(artifactRow(artifactA))
	mock.ExpectQuery(`SELECT (.+) FROM "cam_jobs"`).WillReturnRows(jobRow(jobB))
	mock.ExpectQuery(`SELECT (.+) FROM "artifacts"`).WillReturnRows(artifactRow(artifactB))
	expectAttachAndComplete(mock)

	mustEnqueue(t, w, queue.QueueZip, model.JobPayload{JobID: job.ID.String(), Kind: model.JobZip})
	_, err := w.processOne(ctx)
	require.NoError(t, err)

	data, err := mem.Get(ctx, storage.ZipKey(job.ID.String()))
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "a.dxf", zr.File[0].Name)
	assert.Equal(t, "b.gcode", zr.File[1].Name)

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	content := new(bytes.Buffer)
	_, err = content.ReadFrom(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "DXFDATA", content.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestZipStageMissingSourceFails(t *testing.T) {
	w, mock, _, _ := newTestWorker(t, Options{})
	ctx := context.Background()

	missing := model.NewJob(model.JobDXF, nil, "")
	raw := []byte(`{"job_ids":["` + missing.ID.String() + `"]}`)
	job := model.NewJob(model.JobZip, raw, "")

	mock.ExpectQuery(`SELECT (.+) FROM "cam_jobs"`).WillReturnRows(jobRow(job))
	mock.ExpectExec(`UPDATE "cam_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM "cam_jobs"`).
		WillReturnRows(sqlmock.NewRows(jobColumns))
	mock.ExpectExec(`UPDATE "cam_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1)) // Failed

	mustEnqueue(t, w, queue.QueueZip, model.JobPayload{JobID: job.ID.String(), Kind: model.JobZip})
	_, err := w.processOne(ctx)
	require.NoError(t, err)

	letters, err := w.queue.DLQPeek(ctx, 5)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Contains(t, letters[0].Error, "dependency_missing: ")
	require.NoError(t, mock.ExpectationsWereMet())
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
