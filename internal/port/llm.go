package port

import "context"

// LLM is an opaque text-completion service.
type LLM interface {
	// Generate returns the completion for a prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}
