// Package llm provides the language-model backends used by the extractor.
// Every client speaks the same single-turn contract: a system instruction,
// a user prompt, a temperature and an optional JSON response format.
package llm

import "context"

// Request is a single-turn completion request.
type Request struct {
	// Model overrides the client's default model when non-empty.
	Model string

	// System is the fixed instruction sent ahead of the prompt.
	System string

	// Prompt is the user message.
	Prompt string

	Temperature float64

	// JSON asks the backend for a JSON object response where supported.
	JSON bool

	// MaxTokens caps the completion length (0 = backend default).
	MaxTokens int
}

// Completer is the interface for LLM text completion.
// Implementations may fail transiently (network, rate limit, open circuit).
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	GetModel() string
}
