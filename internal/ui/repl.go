package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"crepl/internal/buildpipeline"
	"crepl/internal/repl"
)

// EvalFunc runs one cycle. It is called from a tea.Cmd goroutine.
type EvalFunc func(ctx context.Context, stmt string) (repl.Outcome, error)

// RenderFunc turns an outcome into the text printed above the prompt.
type RenderFunc func(repl.Outcome) string

// Options configures the REPL model.
type Options struct {
	Prompt string
	Quit   string
	// Events carries build progress; may be nil.
	Events <-chan buildpipeline.Event
	Eval   EvalFunc
	Render RenderFunc
}

type outcomeMsg struct {
	outcome repl.Outcome
	err     error
}

type eventMsg buildpipeline.Event

// Model is the interactive front end. Only one cycle is in flight at a time:
// input is ignored while busy.
type Model struct {
	ctx     context.Context
	opts    Options
	input   textinput.Model
	spinner spinner.Model

	busy       bool
	cancel     context.CancelFunc
	stageLabel string
	width      int
	quitting   bool
	err        error
}

// NewREPLModel returns a model reading statements until opts.Quit.
func NewREPLModel(ctx context.Context, opts Options) *Model {
	if ctx == nil {
		ctx = context.Background()
	}
	ti := textinput.New()
	ti.Prompt = opts.Prompt
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	return &Model{
		ctx:     ctx,
		opts:    opts,
		input:   ti,
		spinner: sp,
		width:   80,
	}
}

// Err returns the fatal error that ended the session, if any.
func (m *Model) Err() error {
	return m.err
}

// Busy reports whether a cycle is running.
func (m *Model) Busy() bool {
	return m.busy
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.listenForEvent())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case outcomeMsg:
		m.busy = false
		m.stageLabel = ""
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		if msg.err != nil {
			if !m.quitting || !errors.Is(msg.err, context.Canceled) {
				m.err = msg.err
			}
			m.quitting = true
			return m, tea.Quit
		}
		if m.quitting {
			return m, tea.Quit
		}
		text := ""
		if m.opts.Render != nil {
			text = strings.TrimRight(m.opts.Render(msg.outcome), "\n")
		}
		if text == "" {
			return m, nil
		}
		return m, tea.Println(text)

	case eventMsg:
		ev := buildpipeline.Event(msg)
		if label := stageLabel(ev); label != "" {
			m.stageLabel = label
		}
		return m, m.listenForEvent()

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
		}
		return m, nil
	}

	if m.busy {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyCtrlD:
		m.quitting = true
		if m.busy {
			// the running cycle reports back through outcomeMsg
			if m.cancel != nil {
				m.cancel()
			}
			return m, nil
		}
		return m, tea.Quit
	}
	if m.busy {
		return m, nil
	}
	if msg.Type != tea.KeyEnter {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	stmt := m.input.Value()
	m.input.Reset()
	if strings.TrimSpace(stmt) == m.opts.Quit {
		m.quitting = true
		return m, tea.Quit
	}
	m.busy = true
	m.stageLabel = ""
	echo := tea.Println(m.opts.Prompt + stmt)
	return m, tea.Batch(echo, m.spinner.Tick, m.evalCmd(stmt))
}

func (m *Model) evalCmd(stmt string) tea.Cmd {
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	eval := m.opts.Eval
	return func() tea.Msg {
		if eval == nil {
			return outcomeMsg{err: fmt.Errorf("no evaluator configured")}
		}
		out, err := eval(ctx, stmt)
		return outcomeMsg{outcome: out, err: err}
	}
}

func (m *Model) listenForEvent() tea.Cmd {
	if m.opts.Events == nil {
		return nil
	}
	events := m.opts.Events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.busy {
		return m.input.View()
	}
	label := m.stageLabel
	if label == "" {
		label = "evaluating"
	}
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Render(truncate(label, m.width-4))
	return fmt.Sprintf("%s %s", m.spinner.View(), status)
}

func stageLabel(ev buildpipeline.Event) string {
	switch ev.Status {
	case buildpipeline.StatusWorking:
		switch ev.Stage {
		case buildpipeline.StageWrite:
			return "writing source"
		case buildpipeline.StageCompile:
			return "compiling"
		case buildpipeline.StageRun:
			return "running"
		}
	case buildpipeline.StatusCached:
		return "cached diagnostics"
	case buildpipeline.StatusError:
		return "error"
	}
	return ""
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}

// Run drives the model until the quit sentinel, Ctrl+C/Ctrl+D or a fatal
// cycle error.
func Run(ctx context.Context, opts Options, out io.Writer) error {
	m := NewREPLModel(ctx, opts)
	program := tea.NewProgram(m, tea.WithOutput(out))
	if _, err := program.Run(); err != nil {
		return err
	}
	return m.Err()
}
