// Package api fronts the pipeline with the /api/v1 routing tree.
// Handlers translate between JSON and the pipeline surface; failure
// classification happens below this layer, the handlers only map
// kinds onto status codes.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
	"github.com/avtoraskroy/cam-pipeline/internal/pipeline"
	"github.com/avtoraskroy/cam-pipeline/internal/repo"
)

// Server serves the HTTP surface of one Pipeline. presignTTL is the
// download link lifetime when the request does not pick one.
type Server struct {
	pipe       *pipeline.Pipeline
	log        zerolog.Logger
	http       *http.Server
	presignTTL time.Duration
}

func New(p *pipeline.Pipeline, log zerolog.Logger, addr string, presignTTL time.Duration) *Server {
	s := &Server{
		pipe:       p,
		log:        log.With().Str("component", "api").Logger(),
		presignTTL: presignTTL,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	v1 := r.Group("/api/v1")

	cam := v1.Group("/cam")
	cam.POST("/dxf", s.submitDXF)
	cam.POST("/gcode", s.submitGCode)
	cam.POST("/drilling", s.submitDrilling)
	cam.POST("/zip", s.submitZip)

	v1.GET("/jobs/:id", s.jobStatus)
	v1.GET("/jobs/:id/download", s.jobDownload)
	v1.GET("/jobs/:id/report", s.jobReport)

	v1.POST("/bom/import", s.importBOM)
	v1.GET("/hardware/templates", s.hardwareTemplates)
	v1.GET("/settings/defaults", s.settingsDefaults)
	v1.PUT("/settings/defaults", s.saveSettings)

	v1.GET("/queues", s.queueDepths)
	v1.GET("/dlq", s.deadLetters)
	v1.POST("/dlq/requeue", s.requeueDead)

	r.GET("/healthz", s.healthz)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routing tree, for tests and for mounting the API
// under an outer mux.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start serves requests until Shutdown or a listener error.
func (s *Server) Start() error { return s.http.ListenAndServe() }

// Shutdown stops the listener and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error { return s.http.Shutdown(ctx) }

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

// writeError maps the failure taxonomy to HTTP: unknown IDs and missing
// dependencies are 404, rejected input 400, everything else 500.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var perr *model.PipelineError
	switch {
	case errors.Is(err, repo.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &perr):
		switch perr.Kind {
		case model.FailureInvalidInput, model.FailureInvalidMachining:
			status = http.StatusBadRequest
		case model.FailureDependencyMissing:
			status = http.StatusNotFound
		}
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
