package server

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mathvizai/mathviz/constants"
	"github.com/mathvizai/mathviz/internal/common"
	"github.com/mathvizai/mathviz/internal/job"
	"github.com/mathvizai/mathviz/internal/pdfex"
	"github.com/mathvizai/mathviz/internal/store"
)

const (
	minInputChars = 3
	maxInputChars = 8000
	maxUploadSize = 20 << 20
)

type generateRequest struct {
	TopicOrText     string `json:"topic_or_text"`
	DifficultyLevel string `json:"difficulty_level"`
}

// handleGenerateVideo accepts a topic or raw text and enqueues a job. The
// response is 202: generation is asynchronous, callers poll /status.
func (s *Server) handleGenerateVideo(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	text := strings.TrimSpace(req.TopicOrText)
	difficulty := strings.ToLower(strings.TrimSpace(req.DifficultyLevel))

	v := common.NewValidator()
	v.Field("topic_or_text", text, common.Required,
		common.MinLength(minInputChars), common.MaxLength(maxInputChars))
	v.Field("difficulty_level", difficulty,
		common.OneOf(constants.DifficultyHighSchool, constants.DifficultyUndergraduate))
	if v.HasErrors() {
		c.JSON(http.StatusBadRequest, gin.H{"error": v.ErrorMessage()})
		return
	}
	if difficulty == "" {
		difficulty = constants.DifficultyUndergraduate
	}

	s.enqueue(c, job.Input{Topic: text, Difficulty: difficulty})
}

// handleGenerateVideoFromPDF accepts a multipart PDF upload, extracts bounded
// text at the boundary, and enqueues a job over the extracted document.
// Page-limit and readability violations are rejected before a job exists.
func (s *Server) handleGenerateVideoFromPDF(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return
	}
	if fileHeader.Size > maxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file exceeds 20MB limit"})
		return
	}
	difficulty := strings.ToLower(strings.TrimSpace(c.PostForm("difficulty_level")))
	v := common.NewValidator()
	v.Field("difficulty_level", difficulty,
		common.OneOf(constants.DifficultyHighSchool, constants.DifficultyUndergraduate))
	if v.HasErrors() {
		c.JSON(http.StatusBadRequest, gin.H{"error": v.ErrorMessage()})
		return
	}
	if difficulty == "" {
		difficulty = constants.DifficultyUndergraduate
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
		return
	}
	defer f.Close()
	pdf, err := io.ReadAll(io.LimitReader(f, maxUploadSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
		return
	}

	doc, err := s.extractor.Extract(c.Request.Context(), pdf, s.cfg.Pipeline.MaxInputPages)
	if err != nil {
		switch {
		case errors.Is(err, pdfex.ErrTooManyPages):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, pdfex.ErrUnreadable):
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not extract text from PDF"})
		default:
			s.logger.Error("server.pdf_extract_failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "extraction failed"})
		}
		return
	}

	s.enqueue(c, job.Input{Document: &doc, Difficulty: difficulty})
}

func (s *Server) enqueue(c *gin.Context, input job.Input) {
	j, err := s.jobs.Create(c.Request.Context(), input)
	if err != nil {
		s.logger.Error("server.create_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create job"})
		return
	}
	s.orch.Dispatch(j.ID)
	s.logger.Info("server.job_accepted",
		"req_id", common.RequestIDFromContext(c.Request.Context()), "job_id", j.ID)
	c.JSON(http.StatusAccepted, gin.H{
		"job_id": j.ID.String(),
		"status": j.Status,
	})
}

// handleStatus returns the job summary; ?trace=1 adds the per-stage outputs.
func (s *Server) handleStatus(c *gin.Context) {
	j, ok := s.loadJob(c)
	if !ok {
		return
	}
	if c.Query("trace") == "1" {
		c.JSON(http.StatusOK, gin.H{
			"summary":       j.Summary(),
			"input":         j.Input,
			"stage_outputs": j.StageOutputs,
		})
		return
	}
	c.JSON(http.StatusOK, j.Summary())
}

// handleDownload streams the rendered video. 409 while the job is still in
// flight, 404 for unknown jobs or a missing artifact.
func (s *Server) handleDownload(c *gin.Context) {
	j, ok := s.loadJob(c)
	if !ok {
		return
	}
	if j.Status != constants.JobStatusSucceeded {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "job has not produced a video",
			"status": j.Status,
		})
		return
	}
	path := s.artifacts.Path(j.ArtifactRef)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
		return
	}
	c.FileAttachment(path, j.ID.String()+".mp4")
}

func (s *Server) handleListJobs(c *gin.Context) {
	var f store.Filter
	if raw := c.Query("status"); raw != "" {
		status := constants.JobStatus(strings.ToUpper(raw))
		switch status {
		case constants.JobStatusQueued, constants.JobStatusRunning,
			constants.JobStatusSucceeded, constants.JobStatusFailed, constants.JobStatusCancelled:
			f.Status = status
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + raw})
			return
		}
	}
	summaries, err := s.jobs.List(c.Request.Context(), f)
	if err != nil {
		s.logger.Error("server.list_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": summaries, "count": len(summaries)})
}

// handleDeleteJob cancels a running job if needed, then removes its record.
// The rendered artifact, if any, is removed with it.
func (s *Server) handleDeleteJob(c *gin.Context) {
	j, ok := s.loadJob(c)
	if !ok {
		return
	}
	if !j.IsTerminal() {
		s.orch.Cancel(j.ID)
	}
	if j.ArtifactRef != "" {
		if err := s.artifacts.Delete(j.ArtifactRef); err != nil && !errors.Is(err, common.ErrNotFound) {
			s.logger.Warn("server.artifact_delete_failed", "job_id", j.ID, "error", err)
		}
	}
	if err := s.jobs.Delete(c.Request.Context(), j.ID); err != nil {
		s.logger.Error("server.delete_failed", "job_id", j.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleExportJobs(c *gin.Context) {
	var f store.Filter
	if raw := c.Query("status"); raw != "" {
		f.Status = constants.JobStatus(strings.ToUpper(raw))
	}
	data, err := s.exporter.ExportJobsXLSX(c.Request.Context(), f)
	if err != nil {
		s.logger.Error("server.export_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="jobs.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

// loadJob parses the path parameter and fetches the job, writing the error
// response itself on failure.
func (s *Server) loadJob(c *gin.Context) (*job.Job, bool) {
	id, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return nil, false
	}
	j, err := s.jobs.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		} else {
			s.logger.Error("server.get_failed", "job_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		}
		return nil, false
	}
	return j, true
}

// requestLog tags every request with an id and emits a structured access log.
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := uuid.New().String()
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), rid))
		c.Next()
		s.logger.Info("http.request",
			"req_id", rid,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
}
