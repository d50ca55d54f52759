package stages

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mathvizai/mathviz/constants"
	"github.com/mathvizai/mathviz/internal/job"
	"github.com/mathvizai/mathviz/internal/pipeline"
	"github.com/mathvizai/mathviz/internal/render"
)

// RenderStage drives the video engine. Render failures are final for the
// job: re-running the same script against the same engine cannot succeed.
type RenderStage struct {
	Engine render.Engine
	Logger *slog.Logger
}

func NewRenderStage(engine render.Engine, logger *slog.Logger) *RenderStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RenderStage{Engine: engine, Logger: logger}
}

func (s *RenderStage) Name() string { return "render" }

func (s *RenderStage) Execute(ctx context.Context, rc *pipeline.RunContext, input any) (any, error) {
	code, ok := input.(AnimationCode)
	if !ok {
		return nil, inputErr(s.Name(), "AnimationCode", input)
	}

	result, err := s.Engine.Render(ctx, rc.JobID, render.Input{
		ClassName: code.ClassName,
		Source:    code.Source,
	})
	if err != nil {
		switch {
		case errors.Is(err, render.ErrCompileFailure), errors.Is(err, render.ErrRuntimeFailure):
			return nil, job.NewStageError(constants.ErrKindRenderFailure, s.Name(), err.Error(), false)
		case errors.Is(err, render.ErrEngineMissing):
			return nil, job.NewStageError(constants.ErrKindInternal, s.Name(), err.Error(), false)
		case errors.Is(err, context.DeadlineExceeded):
			// Surfaced as-is so the runner applies its timeout policy.
			return nil, err
		default:
			return nil, job.NewStageError(constants.ErrKindInternal, s.Name(), err.Error(), false)
		}
	}

	s.Logger.Info("render.ok", "job_id", rc.JobID, "video_bytes", len(result.Video))
	return RenderOutput{Video: result.Video, Bytes: len(result.Video), Log: result.Log}, nil
}

var _ pipeline.Stage = (*RenderStage)(nil)
