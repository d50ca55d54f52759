package stages

import (
	"log/slog"

	"github.com/mathvizai/mathviz/internal/common"
	"github.com/mathvizai/mathviz/internal/llm"
	"github.com/mathvizai/mathviz/internal/pipeline"
	"github.com/mathvizai/mathviz/internal/render"
)

// BuildDefinition wires the six production stages in order. LLM stages share
// the retry budget; rendering gets none because its failures are not
// transient, and it runs under its own longer timeout.
func BuildDefinition(cfg *common.Config, gen llm.Generator, engine render.Engine, logger *slog.Logger) (*pipeline.Definition, error) {
	p := cfg.Pipeline
	specs := []pipeline.StageSpec{
		{Stage: NewParseStage(gen, logger), MaxRetries: p.RetryBudget, Timeout: p.StageTimeout},
		{Stage: NewConceptStage(gen, logger), MaxRetries: p.RetryBudget, Timeout: p.StageTimeout},
		{Stage: NewPedagogyStage(gen, logger), MaxRetries: p.RetryBudget, Timeout: p.StageTimeout},
		{Stage: NewSceneStage(gen, logger), MaxRetries: p.RetryBudget, Timeout: p.StageTimeout},
		{Stage: NewAnimationStage(gen, logger), MaxRetries: p.RetryBudget, Timeout: p.StageTimeout},
		{Stage: NewRenderStage(engine, logger), MaxRetries: 0, Timeout: cfg.Render.Timeout},
	}
	return pipeline.NewDefinition(specs, p.MaxStages)
}
