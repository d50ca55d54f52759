// Package pdfex extracts text from uploaded PDFs via the poppler CLI tools,
// enforcing the configured page limit before any extraction work.
package pdfex

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mathvizai/mathviz/internal/job"
)

// Collaborator error contract.
var (
	ErrTooManyPages = errors.New("document exceeds page limit")
	ErrUnreadable   = errors.New("document unreadable")
)

// Extractor turns a PDF byte stream into a bounded document.
type Extractor interface {
	Extract(ctx context.Context, pdf []byte, maxPages int) (job.Document, error)
}

// PopplerExtractor shells out to pdfinfo (page count) and pdftotext (text).
type PopplerExtractor struct {
	tempDir string
	log     *slog.Logger
}

func NewPopplerExtractor(tempDir string, logger *slog.Logger) *PopplerExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PopplerExtractor{tempDir: tempDir, log: logger}
}

func (e *PopplerExtractor) Extract(ctx context.Context, pdf []byte, maxPages int) (job.Document, error) {
	start := time.Now()

	if err := os.MkdirAll(e.tempDir, 0o755); err != nil {
		return job.Document{}, fmt.Errorf("create temp dir: %w", err)
	}
	path := filepath.Join(e.tempDir, "upload_"+uuid.New().String()+".pdf")
	if err := os.WriteFile(path, pdf, 0o600); err != nil {
		return job.Document{}, fmt.Errorf("write temp pdf: %w", err)
	}
	defer func() { _ = os.Remove(path) }()

	pages, err := e.pageCount(ctx, path)
	if err != nil {
		return job.Document{}, err
	}
	// Page policy is checked before extraction so oversized uploads cost
	// nothing downstream.
	if maxPages > 0 && pages > maxPages {
		return job.Document{}, fmt.Errorf("%d pages, limit %d: %w", pages, maxPages, ErrTooManyPages)
	}

	out, err := exec.CommandContext(ctx, "pdftotext", "-l", strconv.Itoa(pages), path, "-").Output()
	if err != nil {
		e.log.Error("pdfex.pdftotext_failed", "error", err)
		return job.Document{}, fmt.Errorf("pdftotext: %v: %w", err, ErrUnreadable)
	}
	text := strings.TrimSpace(string(out))
	if text == "" {
		return job.Document{}, fmt.Errorf("no extractable text (scanned images only?): %w", ErrUnreadable)
	}

	e.log.Info("pdfex.extracted",
		"pages", pages, "bytes", len(text),
		"elapsed_ms", time.Since(start).Milliseconds())
	return job.Document{Text: text, Pages: pages}, nil
}

func (e *PopplerExtractor) pageCount(ctx context.Context, path string) (int, error) {
	out, err := exec.CommandContext(ctx, "pdfinfo", path).Output()
	if err != nil {
		e.log.Error("pdfex.pdfinfo_failed", "error", err)
		return 0, fmt.Errorf("pdfinfo: %v: %w", err, ErrUnreadable)
	}
	return parsePageCount(out)
}

// parsePageCount pulls the "Pages:" line out of pdfinfo output.
func parsePageCount(out []byte) (int, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "Pages:") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Pages:")))
		if err != nil {
			return 0, fmt.Errorf("parse page count %q: %w", line, ErrUnreadable)
		}
		return n, nil
	}
	return 0, fmt.Errorf("pdfinfo output missing page count: %w", ErrUnreadable)
}

var _ Extractor = (*PopplerExtractor)(nil)
