// Package pipeline drives a job through an ordered sequence of stages. The
// definition is data, the orchestrator is generic: stages are polymorphic over
// Execute, so adding a stage never touches orchestration logic.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mathvizai/mathviz/internal/common"
)

// RunContext exposes per-job information to a stage without coupling it to the
// orchestrator. Cancellation arrives through the context passed to Execute.
type RunContext struct {
	JobID  uuid.UUID
	Config common.PipelineConfig
	Logger *slog.Logger
}

// Stage is one unit of the pipeline: it consumes the prior stage's typed
// output and produces its own, or a *job.StageError. A stage must be safe to
// re-invoke with the same input; one that cannot guarantee that must return
// errors with Retryable=false.
type Stage interface {
	Name() string
	Execute(ctx context.Context, rc *RunContext, input any) (any, error)
}

// Artifacter is implemented by the final stage's output so the orchestrator
// can commit it without interpreting the payload.
type Artifacter interface {
	ArtifactBytes() []byte
}

// StageSpec carries a stage and its retry policy. MaxRetries bounds re-invocations
// after the first attempt and applies only to retryable failures.
type StageSpec struct {
	Stage      Stage
	MaxRetries int
	Timeout    time.Duration
}

// Definition is the immutable, process-wide ordered stage list. Built once at
// startup; never mutated while jobs run.
type Definition struct {
	specs []StageSpec
}

// NewDefinition validates and freezes the stage list. The list must be
// non-empty and no longer than maxStages.
func NewDefinition(specs []StageSpec, maxStages int) (*Definition, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("pipeline definition must have at least one stage")
	}
	if maxStages > 0 && len(specs) > maxStages {
		return nil, fmt.Errorf("pipeline definition has %d stages, maximum is %d", len(specs), maxStages)
	}
	for i, s := range specs {
		if s.Stage == nil {
			return nil, fmt.Errorf("stage %d is nil", i)
		}
	}
	frozen := make([]StageSpec, len(specs))
	copy(frozen, specs)
	return &Definition{specs: frozen}, nil
}

// Len returns the stage count.
func (d *Definition) Len() int { return len(d.specs) }

// Spec returns the stage descriptor at index i.
func (d *Definition) Spec(i int) StageSpec { return d.specs[i] }

// Names returns the display names in pipeline order.
func (d *Definition) Names() []string {
	out := make([]string, len(d.specs))
	for i, s := range d.specs {
		out[i] = s.Stage.Name()
	}
	return out
}
