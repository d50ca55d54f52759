package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mathvizai/mathviz/constants"
	"github.com/mathvizai/mathviz/internal/job"
	"github.com/mathvizai/mathviz/internal/llm"
	"github.com/mathvizai/mathviz/internal/pipeline"
)

// promptBudgetChars bounds the raw text included in the parse prompt.
const promptBudgetChars = 6000

const parseSystemPrompt = `You are an expert mathematical content analyst. Your job is to extract structured
information from mathematical text.

Return a JSON object with EXACTLY these keys:
{
  "main_topic": "<string: the central topic>",
  "definitions": ["<list of key definitions as plain English strings>"],
  "key_equations": ["<list of important equations in LaTeX notation>"],
  "core_claims": ["<list of main theorems or claims as plain English>"],
  "example_instances": ["<list of concrete examples or applications>"]
}

Rules:
- All LaTeX must be valid inline LaTeX (wrap in $...$)
- Definitions and claims must be plain, jargon-light English
- Maximum 6 items per list
- If information is absent, use an empty list []`

// ParseStage turns the job's raw input into structured mathematical content.
// It is the input-policy gate: an over-limit document fails here, before any
// external call is made.
type ParseStage struct {
	Gen    llm.Generator
	Logger *slog.Logger
}

func NewParseStage(gen llm.Generator, logger *slog.Logger) *ParseStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ParseStage{Gen: gen, Logger: logger}
}

func (s *ParseStage) Name() string { return "parse" }

func (s *ParseStage) Execute(ctx context.Context, rc *pipeline.RunContext, input any) (any, error) {
	in, ok := input.(job.Input)
	if !ok {
		return nil, inputErr(s.Name(), "job.Input", input)
	}

	// Validation precedes external-resource use.
	if in.Document != nil && rc.Config.MaxInputPages > 0 && in.Document.Pages > rc.Config.MaxInputPages {
		return nil, job.NewStageError(constants.ErrKindInvalidInput, s.Name(),
			fmt.Sprintf("document has %d pages, limit is %d", in.Document.Pages, rc.Config.MaxInputPages), false)
	}
	raw := in.Text()
	if raw == "" {
		return nil, job.NewStageError(constants.ErrKindInvalidInput, s.Name(), "empty input", false)
	}

	difficulty := in.Difficulty
	if difficulty == "" {
		difficulty = constants.DifficultyUndergraduate
	}

	truncated := raw
	if len(truncated) > promptBudgetChars {
		truncated = truncated[:promptBudgetChars]
		s.Logger.Warn("parse.input_truncated", "job_id", rc.JobID, "from", len(raw), "to", promptBudgetChars)
	}

	resp, err := s.Gen.GenerateJSON(ctx, llm.Request{
		System: parseSystemPrompt,
		User:   fmt.Sprintf("Difficulty level: %s\n\nInput content:\n%s", difficulty, truncated),
		Schema: parsedContentSchema(),
	})
	if err != nil {
		return nil, upstreamErr(s.Name(), err)
	}

	var parsed ParsedContent
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, job.NewStageError(constants.ErrKindInternal, s.Name(),
			"decode parsed content: "+err.Error(), false)
	}
	parsed.Difficulty = difficulty

	s.Logger.Info("parse.ok", "job_id", rc.JobID, "topic", parsed.MainTopic,
		"equations", len(parsed.KeyEquations))
	return parsed, nil
}

var _ pipeline.Stage = (*ParseStage)(nil)
