// Package server exposes the job pipeline over HTTP. Handlers stay thin:
// validation and response shaping here, all state transitions in the store
// and orchestrator.
package server

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/mathvizai/mathviz/internal/artifact"
	"github.com/mathvizai/mathviz/internal/common"
	"github.com/mathvizai/mathviz/internal/export"
	"github.com/mathvizai/mathviz/internal/pdfex"
	"github.com/mathvizai/mathviz/internal/pipeline"
	"github.com/mathvizai/mathviz/internal/store"
)

type Server struct {
	cfg       *common.Config
	jobs      store.Store
	orch      *pipeline.Orchestrator
	artifacts *artifact.Store
	extractor pdfex.Extractor
	exporter  *export.Service
	logger    *slog.Logger
}

func NewServer(cfg *common.Config, jobs store.Store, orch *pipeline.Orchestrator,
	artifacts *artifact.Store, extractor pdfex.Extractor, exporter *export.Service,
	logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		jobs:      jobs,
		orch:      orch,
		artifacts: artifacts,
		extractor: extractor,
		exporter:  exporter,
		logger:    logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", s.handleHealth)

	r.POST("/generate-video", s.handleGenerateVideo)
	r.POST("/generate-video-from-pdf", s.handleGenerateVideoFromPDF)
	r.GET("/status/:job_id", s.handleStatus)
	r.GET("/download/:job_id", s.handleDownload)
	r.GET("/jobs", s.handleListJobs)
	r.DELETE("/jobs/:job_id", s.handleDeleteJob)
	r.GET("/export/jobs", s.handleExportJobs)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}
