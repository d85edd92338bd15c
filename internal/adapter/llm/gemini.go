package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"kbagent/internal/domain"
)

const DefaultGeminiModel = "gemini-1.5-flash"

// Gemini generates completions with the Gemini API.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
}

func NewGemini(ctx context.Context, apiKeyEnv string, opts Options, clientOpts ...option.ClientOption) (*Gemini, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key not found in environment variable: %s", domain.ErrInvalidConfig, apiKeyEnv)
	}

	client, err := genai.NewClient(ctx, append(clientOpts, option.WithAPIKey(apiKey))...)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini client: %v", domain.ErrGeneration, err)
	}

	name := opts.Model
	if name == "" {
		name = DefaultGeminiModel
	}
	model := client.GenerativeModel(name)
	model.SetTemperature(float32(opts.Temperature))
	if opts.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(opts.MaxTokens))
	}

	return &Gemini{client: client, model: model, name: name}, nil
}

func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: gemini: %v", domain.ErrGeneration, err)
	}

	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("%w: gemini returned no text", domain.ErrGeneration)
	}
	return text, nil
}

func (g *Gemini) ModelName() string {
	return g.name
}

func (g *Gemini) Close() error {
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}
