package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
	"github.com/avtoraskroy/cam-pipeline/internal/pipeline"
	"github.com/avtoraskroy/cam-pipeline/internal/queue"
	"github.com/avtoraskroy/cam-pipeline/internal/repo"
	"github.com/avtoraskroy/cam-pipeline/internal/storage"
)

// testAPI wires the routing tree over sqlmock, miniredis and the
// in-memory store. bun formats arguments into the SQL text, so SQL
// expectations match on substrings and never on args.
type testAPI struct {
	h    http.Handler
	mock sqlmock.Sqlmock
	mr   *miniredis.Miniredis
	mem  *storage.Memory
	q    *queue.Client
}

func newTestAPI(t *testing.T) testAPI {
	t.Helper()
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := bun.NewDB(sqldb, pgdialect.New())
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mem := storage.NewMemory()
	q := queue.New(rdb)
	p := pipeline.New(repo.New(db), q, mem, zerolog.Nop())
	srv := New(p, zerolog.Nop(), ":0", 0)
	t.Cleanup(func() {
		_ = rdb.Close()
		_ = db.Close()
	})
	return testAPI{h: srv.Handler(), mock: mock, mr: mr, mem: mem, q: q}
}

func jsonRequest(method, path, body string) *http.Request {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func (a testAPI) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.h.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

var jobColumns = []string{
	"id", "kind", "status", "attempt", "context", "artifact_id",
	"idempotency_key", "error", "order_id", "created_at", "updated_at",
}

func jobRow(j model.Job) *sqlmock.Rows {
	var artifactID any
	if j.ArtifactID != nil {
		artifactID = j.ArtifactID.String()
	}
	var key any
	if j.IdempotencyKey != nil {
		key = *j.IdempotencyKey
	}
	return sqlmock.NewRows(jobColumns).AddRow(
		j.ID.String(), string(j.Kind), string(j.Status), j.Attempt,
		[]byte(j.Context), artifactID, key, j.Error, j.OrderID,
		j.CreatedAt, j.UpdatedAt,
	)
}

const panelBody = `{"panels":[{"name":"Боковина","width":720,"height":560,"thickness":16,"quantity":2}]}`

// ─── Submission ────────────────────────────────────────────

func TestSubmitDXFAccepted(t *testing.T) {
	a := newTestAPI(t)
	a.mock.ExpectExec(`INSERT INTO "cam_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1))

	w := a.serve(jsonRequest(http.MethodPost, "/api/v1/cam/dxf", panelBody))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var handle pipeline.JobHandle
	decodeJSON(t, w, &handle)
	assert.Equal(t, model.JobDXF, handle.Kind)
	assert.Equal(t, model.StatusCreated, handle.Status)
	assert.NotEqual(t, uuid.Nil, handle.JobID)

	msgs, err := a.mr.List(queue.QueueDXF)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	require.NoError(t, a.mock.ExpectationsWereMet())
}

func TestSubmitDXFRejectsEmptyRequest(t *testing.T) {
	a := newTestAPI(t)

	w := a.serve(jsonRequest(http.MethodPost, "/api/v1/cam/dxf", `{}`))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	decodeJSON(t, w, &resp)
	assert.Contains(t, resp["error"], "panels or a cabinet spec")

	msgs, _ := a.mr.List(queue.QueueDXF)
	assert.Empty(t, msgs, "rejected submissions must not reach the queue")
}

func TestSubmitDXFMalformedJSON(t *testing.T) {
	a := newTestAPI(t)

	w := a.serve(jsonRequest(http.MethodPost, "/api/v1/cam/dxf", `{broken`))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	decodeJSON(t, w, &resp)
	assert.Contains(t, resp["error"], "invalid JSON")
}

func TestSubmitKeyFromHeader(t *testing.T) {
	a := newTestAPI(t)
	a.mock.ExpectExec(`INSERT INTO "cam_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1))

	req := jsonRequest(http.MethodPost, "/api/v1/cam/dxf", panelBody)
	req.Header.Set("Idempotency-Key", "key-from-header")
	w := a.serve(req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	msgs, err := a.mr.List(queue.QueueDXF)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var payload model.JobPayload
	require.NoError(t, json.Unmarshal([]byte(msgs[0]), &payload))
	assert.Equal(t, "key-from-header", payload.IdempotencyKey)
}

func TestSubmitKeyFromBody(t *testing.T) {
	a := newTestAPI(t)
	a.mock.ExpectExec(`INSERT INTO "cam_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"job_ids":["` + uuid.NewString() + `"],"idempotency_key":"key-from-body"}`
	w := a.serve(jsonRequest(http.MethodPost, "/api/v1/cam/zip", body))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	msgs, err := a.mr.List(queue.QueueZip)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var payload model.JobPayload
	require.NoError(t, json.Unmarshal([]byte(msgs[0]), &payload))
	assert.Equal(t, "key-from-body", payload.IdempotencyKey)
}

func TestSubmitGCodeUnknownProfile(t *testing.T) {
	a := newTestAPI(t)

	body := `{"dxf_artifact_id":"` + uuid.NewString() + `","machine_profile":"mazak"}`
	w := a.serve(jsonRequest(http.MethodPost, "/api/v1/cam/gcode", body))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	decodeJSON(t, w, &resp)
	assert.Contains(t, resp["error"], "machine profile")
}

func TestSubmitDrillingAccepted(t *testing.T) {
	a := newTestAPI(t)
	a.mock.ExpectExec(`INSERT INTO "cam_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"order_id":"ORD-7","panels":[{"name":"Полка","width":600,"height":400,"thickness":16,"quantity":1}]}`
	w := a.serve(jsonRequest(http.MethodPost, "/api/v1/cam/drilling", body))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	msgs, err := a.mr.List(queue.QueueDrilling)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSubmitZipBadJobID(t *testing.T) {
	a := newTestAPI(t)

	w := a.serve(jsonRequest(http.MethodPost, "/api/v1/cam/zip", `{"job_ids":["abc"]}`))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	decodeJSON(t, w, &resp)
	assert.Contains(t, resp["error"], "bad job id")
}

// ─── Job Queries ───────────────────────────────────────────

func TestJobStatusProjectsLayout(t *testing.T) {
	a := newTestAPI(t)

	job := model.NewJob(model.JobDXF, json.RawMessage(
		`{"utilization_percent":83.4,"placed_count":5,"unplaced_count":1,"strategy":"area-desc"}`), "")
	job.Status = model.StatusCompleted
	a.mock.ExpectQuery(`SELECT (.+) FROM "cam_jobs"`).WillReturnRows(jobRow(job))

	w := a.serve(jsonRequest(http.MethodGet, "/api/v1/jobs/"+job.ID.String(), ""))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var view map[string]any
	decodeJSON(t, w, &view)
	assert.Equal(t, job.ID.String(), view["id"])
	assert.Equal(t, "Completed", view["status"])
	assert.InDelta(t, 83.4, view["utilization_percent"], 0.001)
	assert.EqualValues(t, 5, view["placed_count"])
}

func TestJobStatusNotFound(t *testing.T) {
	a := newTestAPI(t)

	a.mock.ExpectQuery(`SELECT (.+) FROM "cam_jobs"`).
		WillReturnRows(sqlmock.NewRows(jobColumns))

	w := a.serve(jsonRequest(http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), ""))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobStatusBadID(t *testing.T) {
	a := newTestAPI(t)

	w := a.serve(jsonRequest(http.MethodGet, "/api/v1/jobs/nope", ""))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	decodeJSON(t, w, &resp)
	assert.Contains(t, resp["error"], "bad job id")
}

func TestJobDownloadPresigns(t *testing.T) {
	a := newTestAPI(t)

	artifact := model.NewArtifact(model.ArtifactGCode, "gcode/j-1.gcode", 2048, "ab12")
	job := model.NewJob(model.JobGCode, nil, "")
	job.Status = model.StatusCompleted
	job.ArtifactID = &artifact.ID

	a.mock.ExpectQuery(`SELECT (.+) FROM "cam_jobs"`).WillReturnRows(jobRow(job))
	a.mock.ExpectQuery(`SELECT (.+) FROM "artifacts"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "storage_key", "size_bytes", "checksum", "created_at", "expires_at"}).
			AddRow(artifact.ID.String(), string(artifact.Type), artifact.StorageKey, artifact.SizeBytes, artifact.Checksum, artifact.CreatedAt, nil))

	w := a.serve(jsonRequest(http.MethodGet, "/api/v1/jobs/"+job.ID.String()+"/download?ttl=120", ""))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var dl pipeline.Download
	decodeJSON(t, w, &dl)
	assert.Equal(t, "memory:///gcode/j-1.gcode?ttl=120", dl.URL)
	assert.Equal(t, "j-1.gcode", dl.Filename)
	assert.Equal(t, 120, dl.ExpiresIn)
}

func TestJobDownloadRejectsBadTTL(t *testing.T) {
	a := newTestAPI(t)

	w := a.serve(jsonRequest(http.MethodGet, "/api/v1/jobs/"+uuid.NewString()+"/download?ttl=soon", ""))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	decodeJSON(t, w, &resp)
	assert.Contains(t, resp["error"], "ttl")
}

func TestJobReportServesPDF(t *testing.T) {
	a := newTestAPI(t)

	layoutJSON := `{"sheet_width":2800,"sheet_height":2070,"strategy":"area-desc",` +
		`"placed":[{"name":"P1","width":600,"height":400,"thickness":16,"quantity":1,"x":0,"y":0,"rotated":false}]}`
	job := model.NewJob(model.JobDXF, json.RawMessage(
		`{"utilization_percent":4.1,"placed_count":1,"unplaced_count":0,"layout":`+layoutJSON+`}`), "")
	job.Status = model.StatusCompleted

	a.mock.ExpectQuery(`SELECT (.+) FROM "cam_jobs"`).WillReturnRows(jobRow(job))
	a.mock.ExpectQuery(`SELECT (.+) FROM "factory_settings"`).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "patch", "updated_at"}))

	w := a.serve(jsonRequest(http.MethodGet, "/api/v1/jobs/"+job.ID.String()+"/report", ""))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), job.ID.String())
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")), "body must be a PDF document")
}

func TestJobReportRejectsWrongKind(t *testing.T) {
	a := newTestAPI(t)

	job := model.NewJob(model.JobGCode, nil, "")
	job.Status = model.StatusCompleted
	a.mock.ExpectQuery(`SELECT (.+) FROM "cam_jobs"`).WillReturnRows(jobRow(job))

	w := a.serve(jsonRequest(http.MethodGet, "/api/v1/jobs/"+job.ID.String()+"/report", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ─── BOM Import ────────────────────────────────────────────

func multipartUpload(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bom/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestImportBOMFromCSV(t *testing.T) {
	a := newTestAPI(t)

	csv := []byte("name,width,height,qty\nБоковина,720,560,2\nПолка,564,500,1\n")
	w := a.serve(multipartUpload(t, "panels.csv", csv))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result struct {
		Panels []model.Panel `json:"panels"`
		Errors []string      `json:"errors"`
	}
	decodeJSON(t, w, &result)
	require.Len(t, result.Panels, 2)
	assert.Equal(t, "Боковина", result.Panels[0].Name)
	assert.Equal(t, 2, result.Panels[0].Quantity)
	assert.Empty(t, result.Errors)
}

func TestImportBOMRowErrorsDoNotFailUpload(t *testing.T) {
	a := newTestAPI(t)

	csv := []byte("name,width,height,qty\nGood,720,560,2\nBad,,560,1\n")
	w := a.serve(multipartUpload(t, "panels.csv", csv))
	require.Equal(t, http.StatusOK, w.Code)

	var result struct {
		Panels []model.Panel `json:"panels"`
		Errors []string      `json:"errors"`
	}
	decodeJSON(t, w, &result)
	assert.Len(t, result.Panels, 1)
	assert.Len(t, result.Errors, 1)
}

func TestImportBOMUnsupportedExtension(t *testing.T) {
	a := newTestAPI(t)

	w := a.serve(multipartUpload(t, "report.pdf", []byte("%PDF-1.4")))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	decodeJSON(t, w, &resp)
	assert.Contains(t, resp["error"], "unsupported file type")
}

func TestImportBOMMissingFileField(t *testing.T) {
	a := newTestAPI(t)

	w := a.serve(jsonRequest(http.MethodPost, "/api/v1/bom/import", `{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ─── Catalog and Settings ──────────────────────────────────

func TestHardwareTemplates(t *testing.T) {
	a := newTestAPI(t)

	w := a.serve(jsonRequest(http.MethodGet, "/api/v1/hardware/templates", ""))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Hinges []map[string]any `json:"hinges"`
		Slides []map[string]any `json:"slides"`
	}
	decodeJSON(t, w, &resp)
	assert.Len(t, resp.Hinges, 3)
	assert.Len(t, resp.Slides, 3)
	assert.Equal(t, "overlay", resp.Hinges[0]["name"])
}

func TestSettingsDefaults(t *testing.T) {
	a := newTestAPI(t)

	a.mock.ExpectQuery(`SELECT (.+) FROM "factory_settings"`).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "patch", "updated_at"}))

	w := a.serve(jsonRequest(http.MethodGet, "/api/v1/settings/defaults", ""))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Settings        model.EffectiveSettings `json:"settings"`
		StandardSheets  []model.SheetFormat     `json:"standard_sheets"`
		MachineProfiles []string                `json:"machine_profiles"`
	}
	decodeJSON(t, w, &resp)
	assert.Equal(t, 2800.0, resp.Settings.SheetWidth)
	assert.Equal(t, "weihong", resp.Settings.MachineProfile)
	assert.Len(t, resp.StandardSheets, 4)
	assert.Contains(t, resp.MachineProfiles, "fanuc")
}

func TestSaveSettingsUpserts(t *testing.T) {
	a := newTestAPI(t)

	a.mock.ExpectExec(`INSERT INTO "factory_settings" (.+) ON CONFLICT`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := a.serve(jsonRequest(http.MethodPut, "/api/v1/settings/defaults?tenant=acme", `{"gap":2.5}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, a.mock.ExpectationsWereMet())
}

func TestSaveSettingsRejectsBadProfile(t *testing.T) {
	a := newTestAPI(t)

	w := a.serve(jsonRequest(http.MethodPut, "/api/v1/settings/defaults", `{"machine_profile":"mazak"}`))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	decodeJSON(t, w, &resp)
	assert.Contains(t, resp["error"], "machine profile")
}

// ─── Operator Surface ──────────────────────────────────────

func TestOperatorQueuesAndDLQ(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()

	dead := model.DeadLetter{
		JobID:   "j-9",
		Kind:    model.JobZip,
		Queue:   queue.QueueZip,
		Error:   "invalid_input: bad payload",
		Payload: json.RawMessage(`{"job_id":"j-9"}`),
	}
	require.NoError(t, a.q.PushDead(ctx, dead))

	w := a.serve(jsonRequest(http.MethodGet, "/api/v1/dlq", ""))
	require.Equal(t, http.StatusOK, w.Code)
	var dlq struct {
		Count   int                `json:"count"`
		Letters []model.DeadLetter `json:"letters"`
	}
	decodeJSON(t, w, &dlq)
	require.Equal(t, 1, dlq.Count)
	assert.Equal(t, "j-9", dlq.Letters[0].JobID)

	w = a.serve(jsonRequest(http.MethodPost, "/api/v1/dlq/requeue", ""))
	require.Equal(t, http.StatusOK, w.Code)
	var moved map[string]int
	decodeJSON(t, w, &moved)
	assert.Equal(t, 1, moved["requeued"])

	w = a.serve(jsonRequest(http.MethodGet, "/api/v1/queues", ""))
	require.Equal(t, http.StatusOK, w.Code)
	var depths map[string]int64
	decodeJSON(t, w, &depths)
	assert.Equal(t, int64(1), depths[queue.QueueZip])
	assert.Equal(t, int64(0), depths[queue.QueueDLQ])
}

func TestRequeueRejectsBadCount(t *testing.T) {
	a := newTestAPI(t)

	w := a.serve(jsonRequest(http.MethodPost, "/api/v1/dlq/requeue?n=-2", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ─── Health ────────────────────────────────────────────────

func TestHealthzAllUp(t *testing.T) {
	a := newTestAPI(t)

	w := a.serve(jsonRequest(http.MethodGet, "/healthz", ""))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp map[string]string
	decodeJSON(t, w, &resp)
	assert.Equal(t, "ok", resp["database"])
	assert.Equal(t, "ok", resp["redis"])
	assert.Equal(t, "ok", resp["storage"])
}

func TestHealthzReportsRedisDown(t *testing.T) {
	a := newTestAPI(t)
	a.mr.Close()

	w := a.serve(jsonRequest(http.MethodGet, "/healthz", ""))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp map[string]string
	decodeJSON(t, w, &resp)
	assert.NotEqual(t, "ok", resp["redis"])
	assert.Equal(t, "ok", resp["storage"])
}
