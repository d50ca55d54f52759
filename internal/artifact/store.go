// Package artifact manages rendered video files. Artifacts are job-addressed
// and owned independently of job records: deleting a job leaves its artifact
// downloadable until explicit cleanup.
package artifact

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/mathvizai/mathviz/internal/common"
)

// Store writes rendered videos under a single output directory, one file per
// job, write-once.
type Store struct {
	dir string
	log *slog.Logger
}

func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Put commits content for a job and returns its artifact ref. A second Put for
// the same job fails with common.ErrConflict; the first artifact is untouched.
func (s *Store) Put(jobID uuid.UUID, content []byte) (string, error) {
	ref := jobID.String() + ".mp4"
	path := filepath.Join(s.dir, ref)

	// O_EXCL makes write-once atomic under concurrent renders.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("artifact for job %s already exists: %w", jobID, common.ErrConflict)
		}
		return "", fmt.Errorf("create artifact: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}

	s.log.Info("artifact.put", "job_id", jobID, "ref", ref, "bytes", len(content))
	return ref, nil
}

// Get returns the artifact's content or common.ErrNotFound.
func (s *Store) Get(ref string) ([]byte, error) {
	b, err := os.ReadFile(s.path(ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// Path returns the on-disk location for ref so transports can stream it.
func (s *Store) Path(ref string) string { return s.path(ref) }

// Delete removes the artifact. Missing artifacts report common.ErrNotFound.
func (s *Store) Delete(ref string) error {
	err := os.Remove(s.path(ref))
	if errors.Is(err, os.ErrNotExist) {
		return common.ErrNotFound
	}
	if err == nil {
		s.log.Info("artifact.delete", "ref", ref)
	}
	return err
}

func (s *Store) path(ref string) string {
	// Refs are produced by Put; Base guards against traversal in refs that
	// arrive via the transport layer.
	return filepath.Join(s.dir, filepath.Base(ref))
}
