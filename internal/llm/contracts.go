package llm

import (
	"context"
	"errors"
)

// Sentinel errors mapped by stages onto the pipeline error taxonomy. Rate
// limits and timeouts are transient upstream failures; a malformed response
// after retries is not.
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrTimeout         = errors.New("upstream timeout")
	ErrInvalidResponse = errors.New("invalid response")
)

// Request is a single structured-output generation call.
type Request struct {
	System string
	User   string
	// Schema, when non-nil, is a JSON-Schema map the response must validate
	// against before being returned.
	Schema map[string]any
}

// Generator is the text-generation collaborator the pipeline stages depend on.
type Generator interface {
	// GenerateJSON returns the model's response as raw JSON bytes, already
	// validated against req.Schema when one is given.
	GenerateJSON(ctx context.Context, req Request) ([]byte, error)
}
