// Package store owns job records. All mutation goes through Update's atomic
// read-modify-write so concurrent orchestrators and handlers cannot lose
// updates; terminal jobs are sticky (Update becomes a no-op).
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/mathvizai/mathviz/constants"
	"github.com/mathvizai/mathviz/internal/job"
)

// Mutator applies an in-place change to a job inside Update's critical section.
// It must not call back into the store or block on external work.
type Mutator func(*job.Job)

// Filter narrows List results. Zero value matches everything.
type Filter struct {
	Status constants.JobStatus
}

// Store is the registry of job records.
type Store interface {
	// Create allocates an identifier and persists a queued job for input.
	Create(ctx context.Context, input job.Input) (*job.Job, error)
	// Get returns a copy of the job or common.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*job.Job, error)
	// Update applies mutate atomically and returns the resulting job. If the
	// job is already terminal the mutator is not applied and the unchanged
	// job is returned.
	Update(ctx context.Context, id uuid.UUID, mutate Mutator) (*job.Job, error)
	// List returns summaries of jobs matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]job.Summary, error)
	// Delete removes the job record. The rendered artifact, if any, is owned
	// by the artifact store and survives until explicitly cleaned up.
	Delete(ctx context.Context, id uuid.UUID) error
}
