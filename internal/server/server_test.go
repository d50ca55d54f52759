package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mathvizai/mathviz/constants"
	"github.com/mathvizai/mathviz/internal/artifact"
	"github.com/mathvizai/mathviz/internal/common"
	"github.com/mathvizai/mathviz/internal/export"
	"github.com/mathvizai/mathviz/internal/job"
	"github.com/mathvizai/mathviz/internal/pdfex"
	"github.com/mathvizai/mathviz/internal/pipeline"
	"github.com/mathvizai/mathviz/internal/store"
)

type stubStage struct{}

func (stubStage) Name() string { return "stub" }
func (stubStage) Execute(ctx context.Context, rc *pipeline.RunContext, input any) (any, error) {
	return stubArtifact{}, nil
}

type stubArtifact struct{}

func (stubArtifact) ArtifactBytes() []byte { return []byte("video") }

type stubExtractor struct {
	doc job.Document
	err error
}

func (e *stubExtractor) Extract(ctx context.Context, pdf []byte, maxPages int) (job.Document, error) {
	return e.doc, e.err
}

type harness struct {
	router    *gin.Engine
	jobs      store.Store
	artifacts *artifact.Store
	orch      *pipeline.Orchestrator
	extractor *stubExtractor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &common.Config{
		Pipeline: common.PipelineConfig{MaxStages: 6, MaxInputPages: 10, ConcurrencyCap: 2},
	}
	jobs := store.NewMemoryStore(nil)
	artifacts, err := artifact.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	defn, err := pipeline.NewDefinition([]pipeline.StageSpec{{Stage: stubStage{}}}, 6)
	require.NoError(t, err)
	orch := pipeline.NewOrchestrator(jobs, artifacts, defn, cfg.Pipeline, nil)
	ext := &stubExtractor{doc: job.Document{Text: "extracted text", Pages: 3}}
	srv := NewServer(cfg, jobs, orch, artifacts, ext, export.NewService(jobs, nil), nil)
	return &harness{router: srv.Router(), jobs: jobs, artifacts: artifacts, orch: orch, extractor: ext}
}

func (h *harness) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, path, rdr)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGenerateVideoAccepted(t *testing.T) {
	h := newHarness(t)
	body := []byte(`{"topic_or_text": "the central limit theorem", "difficulty_level": "high_school"}`)
	w := h.do(t, http.MethodPost, "/generate-video", body, "application/json")
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	id, err := uuid.Parse(resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.JobStatusQueued), resp.Status)

	h.orch.Wait()
	j, err := h.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusSucceeded, j.Status)
}

func TestGenerateVideoValidation(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		body string
	}{
		{"not json", `topic=primes`},
		{"too short", `{"topic_or_text": "ab"}`},
		{"too long", `{"topic_or_text": "` + strings.Repeat("x", 8001) + `"}`},
		{"bad difficulty", `{"topic_or_text": "prime gaps", "difficulty_level": "toddler"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, http.MethodPost, "/generate-video", []byte(tt.body), "application/json")
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func pdfUpload(t *testing.T, field, filename string, content []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func TestGenerateVideoFromPDFAccepted(t *testing.T) {
	h := newHarness(t)
	body, ct := pdfUpload(t, "file", "paper.pdf", []byte("%PDF-1.4 fake"))
	w := h.do(t, http.MethodPost, "/generate-video-from-pdf", body, ct)
	require.Equal(t, http.StatusAccepted, w.Code)
	h.orch.Wait()
}

func TestGenerateVideoFromPDFRejectsPolicyViolations(t *testing.T) {
	h := newHarness(t)
	h.extractor.err = pdfex.ErrTooManyPages

	body, ct := pdfUpload(t, "file", "book.pdf", []byte("%PDF-1.4 huge"))
	w := h.do(t, http.MethodPost, "/generate-video-from-pdf", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// No job record may exist for a rejected upload.
	list, err := h.jobs.List(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGenerateVideoFromPDFMissingFile(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/generate-video-from-pdf", nil, "multipart/form-data")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusUnknownJob(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/status/"+uuid.New().String(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, http.MethodGet, "/status/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusWithTrace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j, err := h.jobs.Create(ctx, job.Input{Topic: "euler"})
	require.NoError(t, err)
	_, err = h.jobs.Update(ctx, j.ID, func(jb *job.Job) {
		_ = jb.MarkRunning(0, "parse")
		jb.AppendOutput(job.StageOutput{Stage: "parse", Attempts: 1})
	})
	require.NoError(t, err)

	w := h.do(t, http.MethodGet, "/status/"+j.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "stage_outputs")

	w = h.do(t, http.MethodGet, "/status/"+j.ID.String()+"?trace=1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stage_outputs")
}

func TestDownloadLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j, err := h.jobs.Create(ctx, job.Input{Topic: "gauss"})
	require.NoError(t, err)

	w := h.do(t, http.MethodGet, "/download/"+j.ID.String(), nil, "")
	assert.Equal(t, http.StatusConflict, w.Code, "job has not finished")

	ref, err := h.artifacts.Put(j.ID, []byte("the video"))
	require.NoError(t, err)
	_, err = h.jobs.Update(ctx, j.ID, func(jb *job.Job) { _ = jb.MarkSucceeded(ref) })
	require.NoError(t, err)

	w = h.do(t, http.MethodGet, "/download/"+j.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "the video", w.Body.String())

	w = h.do(t, http.MethodGet, "/download/"+uuid.New().String(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.jobs.Create(ctx, job.Input{Topic: "one"})
	require.NoError(t, err)
	j2, err := h.jobs.Create(ctx, job.Input{Topic: "two"})
	require.NoError(t, err)
	_, err = h.jobs.Update(ctx, j2.ID, func(jb *job.Job) { _ = jb.MarkCancelled() })
	require.NoError(t, err)

	w := h.do(t, http.MethodGet, "/jobs", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	w = h.do(t, http.MethodGet, "/jobs?status=cancelled", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	w = h.do(t, http.MethodGet, "/jobs?status=bogus", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j, err := h.jobs.Create(ctx, job.Input{Topic: "temp"})
	require.NoError(t, err)

	w := h.do(t, http.MethodDelete, "/jobs/"+j.ID.String(), nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = h.do(t, http.MethodGet, "/status/"+j.ID.String(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, http.MethodDelete, "/jobs/"+j.ID.String(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportJobsEndpoint(t *testing.T) {
	h := newHarness(t)
	_, err := h.jobs.Create(context.Background(), job.Input{Topic: "export me"})
	require.NoError(t, err)

	w := h.do(t, http.MethodGet, "/export/jobs", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "spreadsheetml")
	assert.NotEmpty(t, w.Body.Bytes())
}
