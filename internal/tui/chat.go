package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kbagent/internal/domain"
	"kbagent/internal/usecase"
)

// Service is the subset of the agent the chat screen drives.
type Service interface {
	Ask(ctx context.Context, question string) (*usecase.Answer, error)
	Ingest(ctx context.Context, path string) ([]usecase.FileResult, error)
	Delete(ctx context.Context, name string) (int, error)
	Documents() []domain.Document
}

const helpText = "/ingest <path>  /delete <name>  /docs  /clear  /quit  (esc cancels)"

type answerMsg struct {
	answer *usecase.Answer
	err    error
}

type ingestMsg struct {
	path    string
	results []usecase.FileResult
	err     error
}

type deleteMsg struct {
	name string
	n    int
	err  error
}

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	ctx      context.Context
	service  Service
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	cancel   context.CancelFunc // cancels the running operation
	lines    []string
	status   string
	busy     bool
	ready    bool
}

// New creates the chat model. ctx bounds every call made to service; each
// call also gets its own context that Esc cancels.
func New(ctx context.Context, service Service, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question or type /ingest <path>"
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	return Model{
		ctx:      ctx,
		service:  service,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		lines:    []string{mutedStyle.Render(summary), mutedStyle.Render(helpText)},
		status:   "Ready.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		// header + status + input box
		vh := msg.Height - 2 - (ih + 1) - th
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, vh)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			m.stop()
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEsc && m.busy {
			m.stop()
			m.status = "Cancelling..."
			return m, nil
		}
		if msg.Type == tea.KeyEnter {
			if m.busy {
				return m, nil
			}
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			m.input.Reset()
			return m.submit(line)
		}

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case answerMsg:
		m.finish()
		if errors.Is(msg.err, context.Canceled) {
			m.appendLine(mutedStyle.Render("Cancelled."))
			m.status = "Ready."
			return m, nil
		}
		if msg.err != nil {
			m.appendLine(errorStyle.Render("Error: " + msg.err.Error()))
			m.status = "Generation failed."
			return m, nil
		}
		m.appendLine(assistantStyle.Render("kb: ") + msg.answer.Text)
		m.appendLine(renderSources(msg.answer))
		m.status = "Ready."
		return m, nil

	case ingestMsg:
		m.finish()
		for _, r := range msg.results {
			m.appendLine(renderIngest(r))
		}
		switch {
		case errors.Is(msg.err, context.Canceled):
			m.appendLine(mutedStyle.Render("Ingest cancelled."))
			m.status = "Ready."
		case msg.err != nil:
			m.appendLine(errorStyle.Render("Ingest failed: " + msg.err.Error()))
			m.status = "Ready."
		default:
			m.status = fmt.Sprintf("Ingested %s.", msg.path)
		}
		return m, nil

	case deleteMsg:
		m.finish()
		if msg.err != nil {
			m.appendLine(errorStyle.Render("Delete failed: " + msg.err.Error()))
		} else {
			m.appendLine(mutedStyle.Render(fmt.Sprintf("Deleted %d chunks of %s.", msg.n, msg.name)))
		}
		m.status = "Ready."
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	name, arg := parseCommand(line)
	switch name {
	case "":
		m.appendLine(userStyle.Render("you: ") + line)
		return m.start("Thinking...", m.ask(line))
	case "quit", "exit":
		m.stop()
		return m, tea.Quit
	case "clear":
		m.lines = nil
		m.refresh()
		return m, nil
	case "docs":
		m.appendLine(renderDocuments(m.service.Documents()))
		return m, nil
	case "ingest":
		if arg == "" {
			m.status = "Usage: /ingest <path>"
			return m, nil
		}
		return m.start("Ingesting "+filepath.Base(arg)+"...", m.ingest(arg))
	case "delete":
		if arg == "" {
			m.status = "Usage: /delete <name>"
			return m, nil
		}
		return m.start("Deleting "+arg+"...", m.remove(arg))
	}
	m.status = fmt.Sprintf("Unknown command /%s. %s", name, helpText)
	return m, nil
}

// operation is a service call run off the update loop.
type operation func(ctx context.Context) tea.Msg

func (m Model) start(status string, op operation) (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(m.ctx)
	m.busy = true
	m.cancel = cancel
	m.status = status
	run := func() tea.Msg {
		defer cancel()
		return op(ctx)
	}
	return m, tea.Batch(run, m.spinner.Tick)
}

// stop cancels the running operation, if any. Its result still arrives.
func (m *Model) stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Model) finish() {
	m.busy = false
	m.cancel = nil
}

func (m Model) ask(q string) operation {
	return func(ctx context.Context) tea.Msg {
		a, err := m.service.Ask(ctx, q)
		return answerMsg{answer: a, err: err}
	}
}

func (m Model) ingest(path string) operation {
	return func(ctx context.Context) tea.Msg {
		results, err := m.service.Ingest(ctx, path)
		return ingestMsg{path: path, results: results, err: err}
	}
}

func (m Model) remove(name string) operation {
	return func(ctx context.Context) tea.Msg {
		n, err := m.service.Delete(ctx, name)
		return deleteMsg{name: name, n: n, err: err}
	}
}

func (m *Model) appendLine(s string) {
	if s == "" {
		return
	}
	m.lines = append(m.lines, s)
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(strings.Join(m.lines, "\n\n")))
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("kbagent")
	status := statusStyle.Render(m.status)
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" + transcriptStyle.Render(m.viewport.View()) + "\n" + inputStyle.Render(m.input.View()) + "\n" + status
}

// parseCommand splits "/name arg" into its parts. Lines that do not start
// with a slash are questions and yield an empty name.
func parseCommand(line string) (name, arg string) {
	if !strings.HasPrefix(line, "/") {
		return "", ""
	}
	name, arg, _ = strings.Cut(strings.TrimPrefix(line, "/"), " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

func renderSources(a *usecase.Answer) string {
	if a.Degraded {
		return errorStyle.Render("(search unavailable, answered without context)")
	}
	if len(a.Sources) == 0 {
		return ""
	}
	seen := map[string]bool{}
	var names []string
	for _, s := range a.Sources {
		if src := s.Chunk.Source(); !seen[src] {
			seen[src] = true
			names = append(names, src)
		}
	}
	return mutedStyle.Render("sources: " + strings.Join(names, ", "))
}

func renderIngest(r usecase.FileResult) string {
	name := filepath.Base(r.Path)
	switch {
	case r.Err != nil:
		return errorStyle.Render(fmt.Sprintf("%s: %v", name, r.Err))
	case r.Result.Skipped:
		return mutedStyle.Render(fmt.Sprintf("%s: skipped, %s", name, r.Result.SkipReason))
	}
	return mutedStyle.Render(fmt.Sprintf("%s: %d chunks", name, r.Result.Chunks))
}

func renderDocuments(docs []domain.Document) string {
	if len(docs) == 0 {
		return mutedStyle.Render("No documents ingested in this session.")
	}
	var b strings.Builder
	b.WriteString("Documents:")
	for _, d := range docs {
		fmt.Fprintf(&b, "\n  %s  %d chunks  %s", d.Name, d.Chunks, d.UploadedAt.Format(domain.TimestampLayout))
	}
	return mutedStyle.Render(b.String())
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	spinnerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	mutedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)
