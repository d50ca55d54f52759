package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mathvizai/mathviz/internal/common"
	"github.com/mathvizai/mathviz/internal/job"
)

// MemoryStore is the default, non-durable Store backing.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*job.Job
	log  *slog.Logger
}

func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{jobs: make(map[uuid.UUID]*job.Job), log: logger}
}

func (s *MemoryStore) Create(ctx context.Context, input job.Input) (*job.Job, error) {
	j := job.New(input)

	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()

	s.log.Info("store.job.created", "job_id", j.ID, "has_document", input.Document != nil)
	return j.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id uuid.UUID, mutate Mutator) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	// Terminal states are sticky: a stale orchestrator must not overwrite a
	// job that already succeeded, failed, or was cancelled.
	if j.IsTerminal() {
		return j.Clone(), nil
	}
	mutate(j)
	return j.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]job.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]job.Summary, 0, len(s.jobs))
	for _, j := range s.jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		out = append(out, j.Summary())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return common.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
