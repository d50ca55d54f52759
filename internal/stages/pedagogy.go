package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mathvizai/mathviz/constants"
	"github.com/mathvizai/mathviz/internal/job"
	"github.com/mathvizai/mathviz/internal/llm"
	"github.com/mathvizai/mathviz/internal/mathcheck"
	"github.com/mathvizai/mathviz/internal/pipeline"
)

const pedagogySystemPrompt = `You are an expert educational video producer in the style of 3Blue1Brown.
You create pedagogically optimal scene sequences that:
1. Start with a compelling intuitive hook (NO equations at first)
2. Build understanding gradually with visual metaphors
3. Introduce formalism only after intuition is established
4. End with the formal mathematical statement

Given extracted concepts, design a sequence of animation scenes.

Return a JSON object with EXACTLY this structure:
{
  "scenes": [
    {
      "scene_id": 1,
      "scene_title": "<short title>",
      "learning_goal": "<what the viewer will understand after this scene>",
      "visual_metaphor": "<concrete visual or geometric idea to show>",
      "equations_to_show": ["<LaTeX equation 1>", ...],
      "animation_strategy": "<description of how objects animate: e.g., 'NumberLine grows, then dots appear representing samples'>",
      "estimated_duration_seconds": 40
    }
  ]
}

Rules:
- MUST have between 3 and 5 scenes
- Scene 1 MUST be an intuitive hook with NO equations (equations_to_show: [])
- Final scene MUST introduce the formal mathematical statement
- Each scene should be 30-60 seconds
- visual_metaphor must be something Manim can animate (number lines, graphs, transformations, etc.)
- animation_strategy must be specific enough to generate Manim code`

// PedagogyStage designs the learning sequence and scrubs invalid equations
// out of it before they can reach the renderer's TeX compiler.
type PedagogyStage struct {
	Gen    llm.Generator
	Logger *slog.Logger
}

func NewPedagogyStage(gen llm.Generator, logger *slog.Logger) *PedagogyStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &PedagogyStage{Gen: gen, Logger: logger}
}

func (s *PedagogyStage) Name() string { return "plan_pedagogy" }

func (s *PedagogyStage) Execute(ctx context.Context, rc *pipeline.RunContext, input any) (any, error) {
	concepts, ok := input.(ConceptExtraction)
	if !ok {
		return nil, inputErr(s.Name(), "ConceptExtraction", input)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Difficulty level: %s\n\n", concepts.Difficulty)
	fmt.Fprintf(&b, "Concept ordering: %s\n\n", strings.Join(concepts.ConceptOrdering, ", "))
	b.WriteString("Concepts:\n")
	for _, c := range concepts.CoreConcepts {
		fmt.Fprintf(&b, "Concept: %s\nExplanation: %s\nMath: %s\nSignificance: %s\n\n",
			c.ConceptName, c.IntuitiveExplanation, c.MathematicalForm, c.WhyItMatters)
	}

	resp, err := s.Gen.GenerateJSON(ctx, llm.Request{
		System: pedagogySystemPrompt,
		User:   b.String(),
		Schema: pedagogyPlanSchema(),
	})
	if err != nil {
		return nil, upstreamErr(s.Name(), err)
	}

	var plan PedagogyPlan
	if err := json.Unmarshal(resp, &plan); err != nil {
		return nil, job.NewStageError(constants.ErrKindInternal, s.Name(),
			"decode plan: "+err.Error(), false)
	}

	if max := rc.Config.MaxScenes; max > 0 && len(plan.Scenes) > max {
		plan.Scenes = plan.Scenes[:max]
	}
	// Scene IDs must be sequential regardless of what the model numbered.
	for i := range plan.Scenes {
		plan.Scenes[i].SceneID = i + 1
		if plan.Scenes[i].DurationSeconds <= 0 {
			plan.Scenes[i].DurationSeconds = 40
		}
	}
	for i := range plan.Scenes {
		if len(plan.Scenes[i].EquationsToShow) > 0 {
			plan.Scenes[i].EquationsToShow = mathcheck.FilterValid(plan.Scenes[i].EquationsToShow, s.Logger)
		}
	}

	titles := make([]string, len(plan.Scenes))
	for i, sc := range plan.Scenes {
		titles[i] = sc.SceneTitle
	}
	s.Logger.Info("pedagogy.ok", "job_id", rc.JobID, "scenes", titles)
	return plan, nil
}

var _ pipeline.Stage = (*PedagogyStage)(nil)
