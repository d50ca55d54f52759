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
	"github.com/mathvizai/mathviz/internal/pipeline"
)

const sceneSystemPrompt = `You are a Manim animation director. You convert scene plans into precise,
structured animation instructions that a code generator can turn into working Manim code.

Allowed object types: Axes, NumberLine, Text, MathTex, Graph, Arrow, Dot, Circle, Rectangle
Allowed animation actions: Create, Write, Transform, FadeIn, FadeOut, GrowFromCenter

Return a JSON object with EXACTLY this structure:
{
  "scene_instructions": [
    {
      "scene_id": 1,
      "objects": [
        {"obj_id": "<unique id>", "obj_type": "<one of the allowed types>", "properties": {"text": "...", "color": "..."}}
      ],
      "animations": [
        {"action": "<one of the allowed actions>", "target": "<obj_id>", "duration": 1.5, "kwargs": {}}
      ],
      "camera_actions": []
    }
  ]
}

Rules:
- Every animation target must reference an obj_id declared in the same scene
- Use MathTex objects for every equation, Text for prose labels
- Keep each scene to at most 8 objects
- Durations in seconds, between 0.5 and 4.0`

// Object and action vocabularies the downstream code generator knows how to
// emit. Anything outside them gets coerced rather than failing the job.
var allowedObjectTypes = map[string]bool{
	"Axes": true, "NumberLine": true, "Text": true, "MathTex": true,
	"Graph": true, "Arrow": true, "Dot": true, "Circle": true, "Rectangle": true,
}

var allowedActions = map[string]bool{
	"Create": true, "Write": true, "Transform": true,
	"FadeIn": true, "FadeOut": true, "GrowFromCenter": true,
}

// SceneStage turns the pedagogy plan into per-scene object and animation
// instructions, then sanitizes them against the allowed vocabulary.
type SceneStage struct {
	Gen    llm.Generator
	Logger *slog.Logger
}

func NewSceneStage(gen llm.Generator, logger *slog.Logger) *SceneStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &SceneStage{Gen: gen, Logger: logger}
}

func (s *SceneStage) Name() string { return "build_scenes" }

func (s *SceneStage) Execute(ctx context.Context, rc *pipeline.RunContext, input any) (any, error) {
	plan, ok := input.(PedagogyPlan)
	if !ok {
		return nil, inputErr(s.Name(), "PedagogyPlan", input)
	}

	var b strings.Builder
	b.WriteString("Scene plan:\n\n")
	for _, sc := range plan.Scenes {
		fmt.Fprintf(&b, "Scene %d: %s\n", sc.SceneID, sc.SceneTitle)
		fmt.Fprintf(&b, "Learning goal: %s\n", sc.LearningGoal)
		fmt.Fprintf(&b, "Visual metaphor: %s\n", sc.VisualMetaphor)
		fmt.Fprintf(&b, "Animation strategy: %s\n", sc.AnimationStrategy)
		if len(sc.EquationsToShow) > 0 {
			fmt.Fprintf(&b, "Equations: %s\n", strings.Join(sc.EquationsToShow, " ; "))
		}
		b.WriteString("\n")
	}

	resp, err := s.Gen.GenerateJSON(ctx, llm.Request{
		System: sceneSystemPrompt,
		User:   b.String(),
		Schema: sceneInstructionsSchema(),
	})
	if err != nil {
		return nil, upstreamErr(s.Name(), err)
	}

	var decoded struct {
		SceneInstructions []SceneInstruction `json:"scene_instructions"`
	}
	if err := json.Unmarshal(resp, &decoded); err != nil {
		return nil, job.NewStageError(constants.ErrKindInternal, s.Name(),
			"decode scene instructions: "+err.Error(), false)
	}
	if len(decoded.SceneInstructions) == 0 {
		return nil, job.NewStageError(constants.ErrKindInternal, s.Name(),
			"model returned no scene instructions", false)
	}

	for i := range decoded.SceneInstructions {
		s.sanitizeScene(rc, &decoded.SceneInstructions[i])
	}

	s.Logger.Info("scenes.ok", "job_id", rc.JobID, "scene_count", len(decoded.SceneInstructions))
	return ScenePackage{Plan: plan, Instructions: decoded.SceneInstructions}, nil
}

// sanitizeScene coerces out-of-vocabulary objects and animations instead of
// failing the whole job over one hallucinated Mobject name.
func (s *SceneStage) sanitizeScene(rc *pipeline.RunContext, scene *SceneInstruction) {
	ids := make(map[string]bool, len(scene.Objects))
	for i := range scene.Objects {
		obj := &scene.Objects[i]
		if !allowedObjectTypes[obj.ObjType] {
			s.Logger.Warn("scenes.object_coerced", "job_id", rc.JobID,
				"scene_id", scene.SceneID, "obj_id", obj.ObjID, "obj_type", obj.ObjType)
			if obj.Properties == nil {
				obj.Properties = map[string]any{}
			}
			if _, has := obj.Properties["text"]; !has {
				obj.Properties["text"] = obj.ObjType
			}
			obj.ObjType = "Text"
		}
		ids[obj.ObjID] = true
	}

	kept := scene.Animations[:0]
	for _, anim := range scene.Animations {
		if !allowedActions[anim.Action] {
			s.Logger.Warn("scenes.action_coerced", "job_id", rc.JobID,
				"scene_id", scene.SceneID, "action", anim.Action)
			anim.Action = "FadeIn"
		}
		// A dangling target cannot be rendered; Transform carries a
		// "a -> b" target pair, both sides must exist.
		if anim.Action == "Transform" {
			from, to, ok := strings.Cut(anim.Target, "->")
			if ok {
				from, to = strings.TrimSpace(from), strings.TrimSpace(to)
				if !ids[from] || !ids[to] {
					s.Logger.Warn("scenes.animation_dropped", "job_id", rc.JobID,
						"scene_id", scene.SceneID, "target", anim.Target)
					continue
				}
			} else if !ids[anim.Target] {
				s.Logger.Warn("scenes.animation_dropped", "job_id", rc.JobID,
					"scene_id", scene.SceneID, "target", anim.Target)
				continue
			}
		} else if !ids[anim.Target] {
			s.Logger.Warn("scenes.animation_dropped", "job_id", rc.JobID,
				"scene_id", scene.SceneID, "target", anim.Target)
			continue
		}
		if anim.Duration <= 0 {
			anim.Duration = 1.0
		}
		kept = append(kept, anim)
	}
	scene.Animations = kept
}

var _ pipeline.Stage = (*SceneStage)(nil)
