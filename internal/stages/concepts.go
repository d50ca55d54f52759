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

const conceptSystemPrompt = `You are an expert math educator who specializes in visual, intuitive teaching.

Given structured mathematical content, extract the 3-5 most important VISUALIZABLE concepts.
Prioritize concepts that can be shown as geometric transformations, graphs, or animations.

Return a JSON object with EXACTLY these keys:
{
  "core_concepts": [
    {
      "concept_name": "<short name>",
      "intuitive_explanation": "<1-2 sentence plain English explanation>",
      "mathematical_form": "<LaTeX expression wrapped in $...$ or $$...$$>",
      "why_it_matters": "<1 sentence on real-world or mathematical significance>"
    }
  ],
  "concept_ordering": ["<concept_name_1>", "<concept_name_2>", ...]
}

Rules:
- concept_ordering must list all concept names in optimal teaching order (prerequisites first)
- mathematical_form must be valid LaTeX
- intuitive_explanation must avoid jargon
- Maximum 5 concepts total`

// ConceptStage breaks parsed content into atomic, visualizable concepts.
type ConceptStage struct {
	Gen    llm.Generator
	Logger *slog.Logger
}

func NewConceptStage(gen llm.Generator, logger *slog.Logger) *ConceptStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConceptStage{Gen: gen, Logger: logger}
}

func (s *ConceptStage) Name() string { return "extract_concepts" }

func (s *ConceptStage) Execute(ctx context.Context, rc *pipeline.RunContext, input any) (any, error) {
	parsed, ok := input.(ParsedContent)
	if !ok {
		return nil, inputErr(s.Name(), "ParsedContent", input)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Difficulty level: %s\n\n", parsed.Difficulty)
	fmt.Fprintf(&b, "Main topic: %s\n\n", parsed.MainTopic)
	writeList(&b, "Definitions", parsed.Definitions)
	writeList(&b, "Key equations", parsed.KeyEquations)
	writeList(&b, "Core claims", parsed.CoreClaims)
	writeList(&b, "Examples", parsed.ExampleInstances)

	resp, err := s.Gen.GenerateJSON(ctx, llm.Request{
		System: conceptSystemPrompt,
		User:   b.String(),
		Schema: conceptExtractionSchema(),
	})
	if err != nil {
		return nil, upstreamErr(s.Name(), err)
	}

	var result ConceptExtraction
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, job.NewStageError(constants.ErrKindInternal, s.Name(),
			"decode concepts: "+err.Error(), false)
	}

	if max := rc.Config.MaxConcepts; max > 0 && len(result.CoreConcepts) > max {
		result.CoreConcepts = result.CoreConcepts[:max]
		if len(result.ConceptOrdering) > max {
			result.ConceptOrdering = result.ConceptOrdering[:max]
		}
	}
	result.Difficulty = parsed.Difficulty

	names := make([]string, len(result.CoreConcepts))
	for i, c := range result.CoreConcepts {
		names[i] = c.ConceptName
	}
	s.Logger.Info("concepts.ok", "job_id", rc.JobID, "concepts", names)
	return result, nil
}

func writeList(b *strings.Builder, heading string, items []string) {
	fmt.Fprintf(b, "%s:\n", heading)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}

var _ pipeline.Stage = (*ConceptStage)(nil)
