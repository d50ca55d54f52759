package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/mathvizai/mathviz/internal/common"
)

const (
	// ParseRetries bounds re-prompts after a malformed JSON response.
	ParseRetries = 2

	strictJSONSuffix = "\n\nCRITICAL: Your response MUST be valid JSON only. " +
		"No markdown fences, no prose, no explanation - raw JSON only."
)

// OpenAIGenerator implements Generator over the OpenAI chat completions API.
// Rate limits and timeouts surface as sentinel errors so the orchestrator's
// retry policy, not this client, decides whether to try again.
type OpenAIGenerator struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	log         *slog.Logger
}

func NewOpenAIGenerator(cfg common.LLMConfig, logger *slog.Logger) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, common.NewAppError("LLM_CONFIG", "API key not set", common.ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIGenerator{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		log:         logger,
	}, nil
}

// GenerateJSON calls the model in JSON mode and validates the reply. On a
// malformed or schema-violating reply it re-prompts with a stricter system
// message, up to ParseRetries times.
func (g *OpenAIGenerator) GenerateJSON(ctx context.Context, req Request) ([]byte, error) {
	rid := uuid.New().String()
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= ParseRetries; attempt++ {
		system := req.System
		if attempt > 0 {
			system += strictJSONSuffix
		}

		params := openai.ChatCompletionNewParams{
			Model:       shared.ChatModel(g.model),
			Temperature: openai.Float(g.temperature),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(system),
				openai.UserMessage(req.User),
			},
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
			},
		}
		if g.maxTokens > 0 {
			params.MaxTokens = openai.Int(int64(g.maxTokens))
		}

		completion, err := g.client.Chat.Completions.New(ctx, params)
		if err != nil {
			mapped := mapAPIError(err)
			g.log.Error("llm.generate.http_error",
				"req_id", rid, "attempt", attempt+1, "error", err,
				"elapsed_ms", time.Since(start).Milliseconds())
			return nil, mapped
		}
		if len(completion.Choices) == 0 {
			return nil, fmt.Errorf("no choices in completion: %w", ErrInvalidResponse)
		}

		raw := RepairJSON(completion.Choices[0].Message.Content)

		if !json.Valid(raw) {
			lastErr = fmt.Errorf("model returned non-JSON content")
			g.log.Warn("llm.generate.parse_error",
				"req_id", rid, "attempt", attempt+1, "bytes", len(raw))
			continue
		}
		if req.Schema != nil {
			if err := ValidateJSONAgainstSchema(req.Schema, raw); err != nil {
				lastErr = err
				g.log.Warn("llm.generate.schema_violation",
					"req_id", rid, "attempt", attempt+1, "error", err)
				continue
			}
		}

		g.log.Info("llm.generate.ok",
			"req_id", rid, "model", completion.Model,
			"tokens", completion.Usage.TotalTokens,
			"attempts", attempt+1,
			"elapsed_ms", time.Since(start).Milliseconds())
		return raw, nil
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrInvalidResponse, ParseRetries+1, lastErr)
}

// mapAPIError folds transport failures into the collaborator error contract.
func mapAPIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case apiErr.StatusCode >= 500:
			// Upstream 5xx is as transient as a rate limit.
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}
	return err
}

var _ Generator = (*OpenAIGenerator)(nil)
