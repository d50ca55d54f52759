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

const animationSystemPrompt = `You are an expert Manim Community Edition developer.
You write clean, working Manim code from structured scene instructions.

Return a JSON object with EXACTLY this structure:
{
  "manim_class_name": "MathVizScene",
  "python_code": "<complete runnable Python source>"
}

Requirements for python_code:
- Single file, single Scene subclass named MathVizScene with a construct() method
- Begin with: from manim import *
- Each scene from the instructions becomes a section of construct(), separated by self.clear() and a short self.wait()
- Use MathTex for equations, Text for prose. Escape LaTeX backslashes correctly for Python strings
- Use only Manim Community Edition APIs (Create, not ShowCreation)
- No external assets, no file I/O, no network access
- Keep total runtime under 4 minutes of animation`

// animationFixes are literal substitutions applied to generated code for the
// model mistakes that show up constantly in practice.
var animationFixes = [][2]string{
	{"ShowCreation(", "Create("},
	{"\\\\\\\\", "\\\\"},
	{"ShowIncreasingSubsets(", "Create("},
	{"TextMobject(", "Text("},
	{"TexMobject(", "MathTex("},
}

// AnimationStage generates the Manim source for the whole video and applies a
// deterministic cleanup pass before anything reaches the render engine.
type AnimationStage struct {
	Gen    llm.Generator
	Logger *slog.Logger
}

func NewAnimationStage(gen llm.Generator, logger *slog.Logger) *AnimationStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnimationStage{Gen: gen, Logger: logger}
}

func (s *AnimationStage) Name() string { return "generate_code" }

func (s *AnimationStage) Execute(ctx context.Context, rc *pipeline.RunContext, input any) (any, error) {
	pkg, ok := input.(ScenePackage)
	if !ok {
		return nil, inputErr(s.Name(), "ScenePackage", input)
	}

	planJSON, err := json.MarshalIndent(pkg.Plan, "", "  ")
	if err != nil {
		return nil, job.NewStageError(constants.ErrKindInternal, s.Name(),
			"encode plan: "+err.Error(), false)
	}
	instrJSON, err := json.MarshalIndent(pkg.Instructions, "", "  ")
	if err != nil {
		return nil, job.NewStageError(constants.ErrKindInternal, s.Name(),
			"encode instructions: "+err.Error(), false)
	}

	user := fmt.Sprintf("Scene plan:\n%s\n\nScene instructions:\n%s\n\nGenerate the complete Manim file.",
		planJSON, instrJSON)

	resp, err := s.Gen.GenerateJSON(ctx, llm.Request{
		System: animationSystemPrompt,
		User:   user,
		Schema: animationCodeSchema(),
	})
	if err != nil {
		return nil, upstreamErr(s.Name(), err)
	}

	var code AnimationCode
	if err := json.Unmarshal(resp, &code); err != nil {
		return nil, job.NewStageError(constants.ErrKindInternal, s.Name(),
			"decode animation code: "+err.Error(), false)
	}

	code.Source = cleanAnimationSource(code.Source)
	if code.ClassName == "" {
		code.ClassName = "MathVizScene"
	}
	if err := checkSyntaxShape(code.Source); err != nil {
		return nil, job.NewStageError(constants.ErrKindInternal, s.Name(),
			"generated code rejected: "+err.Error(), false)
	}

	if max := rc.Config.MaxScriptLines; max > 0 {
		if n := strings.Count(code.Source, "\n") + 1; n > max {
			s.Logger.Warn("animation.script_long", "job_id", rc.JobID, "lines", n, "limit", max)
		}
	}

	s.Logger.Info("animation.ok", "job_id", rc.JobID, "class", code.ClassName,
		"bytes", len(code.Source))
	return code, nil
}

// cleanAnimationSource strips markdown fences, guarantees the manim import,
// and applies the known-mistake substitutions.
func cleanAnimationSource(src string) string {
	src = strings.TrimSpace(src)
	if strings.HasPrefix(src, "```") {
		src = strings.TrimPrefix(src, "```python")
		src = strings.TrimPrefix(src, "```")
		src = strings.TrimSuffix(strings.TrimSpace(src), "```")
		src = strings.TrimSpace(src)
	}
	for _, fix := range animationFixes {
		src = strings.ReplaceAll(src, fix[0], fix[1])
	}
	if !strings.Contains(src, "from manim import") {
		src = "from manim import *\n\n" + src
	}
	return src
}

// checkSyntaxShape is a cheap structural gate. It cannot replace a Python
// parser, but it catches the truncated-output failure mode where the model
// ran out of tokens mid-expression.
func checkSyntaxShape(src string) error {
	if !strings.Contains(src, "class ") || !strings.Contains(src, "def construct(self)") {
		return fmt.Errorf("missing Scene class or construct method")
	}
	var paren, bracket, brace int
	inString := false
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		if inString {
			if c == '\\' {
				i++
			} else if c == quote {
				inString = false
			}
			continue
		}
		switch c {
		case '"', '\'':
			inString = true
			quote = c
		case '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case '(':
			paren++
		case ')':
			paren--
		case '[':
			bracket++
		case ']':
			bracket--
		case '{':
			brace++
		case '}':
			brace--
		}
	}
	if paren != 0 || bracket != 0 || brace != 0 {
		return fmt.Errorf("unbalanced delimiters (paren=%d bracket=%d brace=%d)", paren, bracket, brace)
	}
	return nil
}

var _ pipeline.Stage = (*AnimationStage)(nil)
