// Package stages implements the six pipeline stages: parse, concept
// extraction, pedagogy planning, scene generation, animation code generation,
// and rendering. Each stage consumes the prior stage's typed payload.
package stages

import "encoding/json"

// ParsedContent is the parse stage's output: structured mathematical content
// extracted from the raw topic or document text.
type ParsedContent struct {
	MainTopic        string   `json:"main_topic"`
	Definitions      []string `json:"definitions"`
	KeyEquations     []string `json:"key_equations"` // LaTeX strings
	CoreClaims       []string `json:"core_claims"`
	ExampleInstances []string `json:"example_instances"`

	// Difficulty rides along so later prompts can target the audience.
	Difficulty string `json:"difficulty,omitempty"`
}

// Concept is one atomic, visualizable idea.
type Concept struct {
	ConceptName          string `json:"concept_name"`
	IntuitiveExplanation string `json:"intuitive_explanation"`
	MathematicalForm     string `json:"mathematical_form"` // LaTeX
	WhyItMatters         string `json:"why_it_matters"`
}

// ConceptExtraction is the concept stage's output.
type ConceptExtraction struct {
	CoreConcepts    []Concept `json:"core_concepts"`
	ConceptOrdering []string  `json:"concept_ordering"` // teaching order

	Difficulty string `json:"difficulty,omitempty"`
}

// PlanScene is one scene in the pedagogical sequence.
type PlanScene struct {
	SceneID          int      `json:"scene_id"`
	SceneTitle       string   `json:"scene_title"`
	LearningGoal     string   `json:"learning_goal"`
	VisualMetaphor   string   `json:"visual_metaphor"`
	EquationsToShow  []string `json:"equations_to_show"`
	AnimationStrategy string  `json:"animation_strategy"`
	DurationSeconds  int      `json:"estimated_duration_seconds"`
}

// PedagogyPlan is the pedagogy stage's output: an ordered learning sequence.
type PedagogyPlan struct {
	Scenes []PlanScene `json:"scenes"`
}

// SceneObject is a Manim object declaration.
type SceneObject struct {
	ObjID      string         `json:"obj_id"`
	ObjType    string         `json:"obj_type"` // Axes | NumberLine | Text | MathTex | ...
	Properties map[string]any `json:"properties"`
}

// SceneAnimation is one animation call applied to a declared object.
type SceneAnimation struct {
	Action   string         `json:"action"` // Create | Write | Transform | FadeIn | ...
	Target   string         `json:"target"` // obj_id reference
	Duration float64        `json:"duration"`
	Kwargs   map[string]any `json:"kwargs,omitempty"`
}

// SceneInstruction is the concrete build plan for one scene.
type SceneInstruction struct {
	SceneID       int              `json:"scene_id"`
	Objects       []SceneObject    `json:"objects"`
	Animations    []SceneAnimation `json:"animations"`
	CameraActions []string         `json:"camera_actions"`
}

// ScenePackage is the scene stage's output. It carries the pedagogy plan
// forward because the code generator needs titles and goals for context.
type ScenePackage struct {
	Plan         PedagogyPlan       `json:"plan"`
	Instructions []SceneInstruction `json:"scene_instructions"`
}

// AnimationCode is the code-generation stage's output: a runnable script.
type AnimationCode struct {
	ClassName string `json:"manim_class_name"`
	Source    string `json:"python_code"`
}

// RenderOutput is the final stage's output. The video itself never goes into
// the job trace; only its size and the tail of the engine log do.
type RenderOutput struct {
	Video []byte `json:"-"`
	Bytes int    `json:"bytes"`
	Log   string `json:"log,omitempty"`
}

// ArtifactBytes lets the orchestrator commit the video without interpreting
// the payload.
func (r RenderOutput) ArtifactBytes() []byte { return r.Video }

// MarshalJSON keeps the trace digest small.
func (r RenderOutput) MarshalJSON() ([]byte, error) {
	type digest struct {
		Bytes int    `json:"bytes"`
		Log   string `json:"log,omitempty"`
	}
	logTail := r.Log
	if len(logTail) > 2000 {
		logTail = logTail[len(logTail)-2000:]
	}
	return json.Marshal(digest{Bytes: len(r.Video), Log: logTail})
}
