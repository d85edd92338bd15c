package usecase

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"kbagent/internal/domain"
	"kbagent/internal/port"
)

// FallbackAnswer is what the model is told to say when the context does
// not contain the answer.
const FallbackAnswer = "I don't know based on the documents."

// Format selects how answers are laid out for display.
type Format string

const (
	FormatPlain Format = "plain"
	FormatHTML  Format = "html"
)

// ParseFormat maps a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatPlain, "":
		return FormatPlain, nil
	case FormatHTML:
		return FormatHTML, nil
	}
	return "", fmt.Errorf("%w: unknown answer format %q (use plain or html)", domain.ErrInvalidConfig, s)
}

//go:embed templates/answer_prompt.txt
var answerPrompt string

var answerTemplate = template.Must(template.New("answer").Parse(answerPrompt))

type promptData struct {
	Context  string
	Question string
	Fallback string
}

// AnswerComposer builds a grounded prompt from retrieved chunks and asks
// the model for an answer.
type AnswerComposer struct {
	llm    port.LLM
	format Format
}

func NewAnswerComposer(llm port.LLM, format Format) *AnswerComposer {
	if format == "" {
		format = FormatPlain
	}
	return &AnswerComposer{llm: llm, format: format}
}

// BuildContext joins chunk texts in rank order, separated by a blank line.
func BuildContext(chunks []domain.ScoredChunk) string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Chunk.Text
	}
	return strings.Join(texts, "\n\n")
}

// BuildPrompt renders the grounding prompt. The fallback instruction is
// present whether or not there is any context.
func BuildPrompt(question string, chunks []domain.ScoredChunk) (string, error) {
	var b strings.Builder
	err := answerTemplate.Execute(&b, promptData{
		Context:  BuildContext(chunks),
		Question: question,
		Fallback: FallbackAnswer,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}

// Compose asks the model to answer question from chunks and formats the reply.
func (c *AnswerComposer) Compose(ctx context.Context, question string, chunks []domain.ScoredChunk) (string, error) {
	prompt, err := BuildPrompt(question, chunks)
	if err != nil {
		return "", err
	}

	raw, err := c.llm.Generate(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, domain.ErrGeneration) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", domain.ErrGeneration, err)
	}

	return FormatAnswer(raw, c.format), nil
}

// FormatAnswer normalises line endings and lays the answer out for display.
// Line breaks are always kept: plain output keeps "\n", html output turns
// each one into <br> after a leading <br>.
func FormatAnswer(raw string, format Format) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSpace(text)

	if format == FormatHTML {
		return "<br>" + strings.ReplaceAll(text, "\n", "<br>")
	}
	return text
}
