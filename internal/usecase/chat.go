package usecase

import (
	"context"
	"log/slog"
	"strings"

	"kbagent/internal/domain"
	"kbagent/internal/logger"
)

// Answer is an assistant reply with the chunks it was grounded on.
type Answer struct {
	Text     string
	Sources  []domain.ScoredChunk
	Degraded bool
}

// Chat answers questions within one session and keeps its conversation.
type Chat struct {
	session  *Session
	retrieve *RetrieveUseCase
	composer *AnswerComposer
	logger   *slog.Logger
}

func NewChat(session *Session, retrieve *RetrieveUseCase, composer *AnswerComposer, logger *slog.Logger) *Chat {
	return &Chat{
		session:  session,
		retrieve: retrieve,
		composer: composer,
		logger:   logger,
	}
}

func (c *Chat) Session() *Session {
	return c.session
}

// Ask records the question, retrieves context, and records the answer.
// If generation fails the question stays in the history and the error is
// returned.
func (c *Chat) Ask(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.ErrEmptyQuestion
	}
	ctx = logger.WithSessionID(ctx, c.session.ID())

	c.session.AppendTurn(domain.RoleUser, question)

	res := c.retrieve.Retrieve(ctx, question)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, err := c.composer.Compose(ctx, question, res.Chunks)
	if err != nil {
		c.logger.ErrorContext(ctx, "generation failed", "error", err)
		return nil, err
	}

	c.session.AppendTurn(domain.RoleAssistant, text)
	return &Answer{Text: text, Sources: res.Chunks, Degraded: res.Degraded}, nil
}
