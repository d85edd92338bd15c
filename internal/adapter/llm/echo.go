package llm

import "context"

// Echo returns the prompt unchanged. It stands in for a model in tests and
// offline runs; an answer built from it shows exactly what the model was told.
type Echo struct{}

func (Echo) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return prompt, nil
}

func (Echo) ModelName() string {
	return "echo"
}
