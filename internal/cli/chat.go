package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"kbagent/config"
	"kbagent/internal/domain"
	"kbagent/internal/logger"
	"kbagent/internal/tui"
	"kbagent/internal/usecase"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive question-answering session",
	Long: `Open a chat screen over the knowledge base. Type a question, or one of:
  /ingest <path>   add a PDF or a directory of PDFs
  /delete <name>   remove a document
  /docs            list documents ingested in this session
  /clear           clear the screen
  /quit            leave

Esc cancels a running question or ingestion.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// chatService adapts the agent to the chat screen for one session. Calls
// still running when the screen exits are waited for by shutdown, so the
// agent is never closed underneath them.
type chatService struct {
	agent   *agent
	session *usecase.Session
	chat    *usecase.Chat

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

func newChatService(a *agent, sess *usecase.Session) *chatService {
	return &chatService{agent: a, session: sess, chat: a.chat(sess, usecase.FormatPlain)}
}

// begin registers a call; it fails once shutdown has started.
func (s *chatService) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return context.Canceled
	}
	s.inflight.Add(1)
	return nil
}

// shutdown rejects new calls and waits for running ones. Cancel their
// context first or this blocks until they finish on their own.
func (s *chatService) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
}

func (s *chatService) Ask(ctx context.Context, q string) (*usecase.Answer, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.inflight.Done()
	return s.chat.Ask(ctx, q)
}

func (s *chatService) Ingest(ctx context.Context, path string) ([]usecase.FileResult, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.inflight.Done()
	return ingestPaths(ctx, s.agent.ingest, s.session, []string{path}, s.agent.cfg.Ingest.Pattern, nil)
}

func (s *chatService) Delete(ctx context.Context, name string) (int, error) {
	if err := s.begin(); err != nil {
		return 0, err
	}
	defer s.inflight.Done()
	return s.agent.ingest.Delete(ctx, s.session, name)
}

func (s *chatService) Documents() []domain.Document {
	return s.session.Documents()
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx := cmd.Context()

	// The chat screen owns the terminal, so logs go to a file.
	logPath := filepath.Join(config.DataDir(GetRootDir()), "chat.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open chat log: %w", err)
	}
	defer logFile.Close()
	chatLog := logger.New(logFile, cfg.Logging.Level, cfg.Logging.Format)

	a, err := newAgent(ctx, cfg, GetRootDir(), true, chatLog)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	svc := newChatService(a, usecase.NewSession())

	summary := fmt.Sprintf("store: %s/%s  model: %s  embeddings: %s",
		cfg.Store.Backend, cfg.Store.Collection, a.llm.ModelName(), a.embedder.ModelName())

	_, err = tea.NewProgram(tui.New(ctx, svc, summary), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	cancel()
	svc.shutdown()
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	return nil
}
