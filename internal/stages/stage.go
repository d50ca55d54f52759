package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/mathvizai/mathviz/constants"
	"github.com/mathvizai/mathviz/internal/job"
	"github.com/mathvizai/mathviz/internal/llm"
)

// upstreamErr maps a generator failure onto the pipeline error taxonomy.
// Rate limits and timeouts are retryable; a model that keeps returning
// malformed output is not.
func upstreamErr(stage string, err error) *job.StageError {
	switch {
	case errors.Is(err, llm.ErrRateLimited), errors.Is(err, llm.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return job.NewStageError(constants.ErrKindTransientUpstream, stage, err.Error(), true)
	case errors.Is(err, llm.ErrInvalidResponse):
		return job.NewStageError(constants.ErrKindInternal, stage, err.Error(), false)
	default:
		return job.NewStageError(constants.ErrKindInternal, stage, err.Error(), false)
	}
}

// inputErr reports a wrong payload type reaching a stage, which is a wiring
// bug, never a caller mistake.
func inputErr(stage string, want string, got any) *job.StageError {
	return job.NewStageError(constants.ErrKindInternal, stage,
		fmt.Sprintf("expected %s input, got %T", want, got), false)
}
