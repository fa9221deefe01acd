package api

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/avtoraskroy/cam-pipeline/internal/calc"
	"github.com/avtoraskroy/cam-pipeline/internal/export"
	"github.com/avtoraskroy/cam-pipeline/internal/importer"
	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

// requestKey reads the Idempotency-Key header, falling back to an
// idempotency_key field in the body. Job contexts keep unknown body
// keys in Extra, which is where the field surfaces.
func requestKey(c *gin.Context, extra map[string]any) string {
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		return key
	}
	if key, ok := extra["idempotency_key"].(string); ok {
		return key
	}
	return ""
}

func (s *Server) submitDXF(c *gin.Context) {
	var dctx model.DXFContext
	if err := c.ShouldBindJSON(&dctx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}
	handle, err := s.pipe.SubmitDXF(c.Request.Context(), dctx, requestKey(c, dctx.Extra))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, handle)
}

func (s *Server) submitGCode(c *gin.Context) {
	var gctx model.GCodeContext
	if err := c.ShouldBindJSON(&gctx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}
	handle, err := s.pipe.SubmitGCode(c.Request.Context(), gctx, requestKey(c, gctx.Extra))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, handle)
}

func (s *Server) submitDrilling(c *gin.Context) {
	var dctx model.DrillingContext
	if err := c.ShouldBindJSON(&dctx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}
	handle, err := s.pipe.SubmitDrilling(c.Request.Context(), dctx, requestKey(c, dctx.Extra))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, handle)
}

func (s *Server) submitZip(c *gin.Context) {
	var zctx model.ZipContext
	if err := c.ShouldBindJSON(&zctx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}
	handle, err := s.pipe.SubmitZip(c.Request.Context(), zctx, requestKey(c, zctx.Extra))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, handle)
}

func jobIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("bad job id %q", c.Param("id"))})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) jobStatus(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}
	view, err := s.pipe.GetJob(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) jobDownload(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}
	ttl := s.presignTTL
	if raw := c.Query("ttl"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ttl must be a positive number of seconds"})
			return
		}
		ttl = time.Duration(secs) * time.Second
	}
	dl, err := s.pipe.ArtifactDownload(c.Request.Context(), id, ttl)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dl)
}

// jobReport renders the layout PDF of a completed DXF job from its
// stored context. Nothing is cached; reports are cheap relative to the
// jobs that produce them.
func (s *Server) jobReport(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}
	layout, settings, err := s.pipe.LayoutForReport(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	pdf, err := export.LayoutPDF(layout, settings)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=layout_%s.pdf", id))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// importBOM turns an uploaded cut list into panels. The format comes
// from the file extension; per-row problems come back inside the result
// instead of failing the upload.
func (s *Server) importBOM(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart upload needs a file field"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open upload: " + err.Error()})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read upload: " + err.Error()})
		return
	}

	var result importer.ImportResult
	switch ext := strings.ToLower(filepath.Ext(file.Filename)); ext {
	case ".csv":
		result = importer.ImportPanelsCSV(data)
	case ".xlsx":
		result = importer.ImportPanelsXLSX(data)
	case ".dxf":
		result = importer.ImportPanelsDXF(data)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported file type %q, want .csv, .xlsx or .dxf", ext)})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) hardwareTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"hinges": calc.HingeTemplates,
		"slides": calc.SlideTemplates,
	})
}

func (s *Server) settingsDefaults(c *gin.Context) {
	settings, err := s.pipe.EffectiveDefaults(c.Request.Context(), c.Query("tenant"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"settings":         settings,
		"standard_sheets":  model.StandardSheets,
		"machine_profiles": model.ProfileNames(),
	})
}

func (s *Server) saveSettings(c *gin.Context) {
	var patch model.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}
	if err := s.pipe.SaveDefaults(c.Request.Context(), c.Query("tenant"), patch); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

func (s *Server) queueDepths(c *gin.Context) {
	depths, err := s.pipe.QueueDepths(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, depths)
}

func (s *Server) deadLetters(c *gin.Context) {
	// A bad or absent n falls through to the peek default.
	n, _ := strconv.ParseInt(c.Query("n"), 10, 64)
	letters, err := s.pipe.DeadLetters(c.Request.Context(), n)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(letters), "letters": letters})
}

func (s *Server) requeueDead(c *gin.Context) {
	n, err := strconv.ParseInt(c.DefaultQuery("n", "1"), 10, 64)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "n must be a positive integer"})
		return
	}
	moved, err := s.pipe.RequeueDead(c.Request.Context(), n)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requeued": moved})
}

func (s *Server) healthz(c *gin.Context) {
	checks := s.pipe.Health(c.Request.Context())
	status := http.StatusOK
	out := make(map[string]string, len(checks))
	for name, err := range checks {
		if err != nil {
			status = http.StatusServiceUnavailable
			out[name] = err.Error()
			continue
		}
		out[name] = "ok"
	}
	c.JSON(status, out)
}
