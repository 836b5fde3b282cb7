// Package dashboard provides an optional live terminal view for `ralph
// run --watch`, driven by the same timeline.Event stream that is
// appended to .ralph-session/logs/timeline.jsonl. Unlike a multi-agent
// roster view, one ralph run drives exactly one task at a time through
// its four phases, so the model tracks a single current task/phase/gate
// line plus a scrolling log rather than a tabbed agent/task/log layout.
package dashboard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ralph-orchestrator/ralph/internal/timeline"
)

const maxLogLines = 20

// EventMsg wraps one timeline.Event for delivery into the bubbletea
// update loop via Program.Send.
type EventMsg struct {
	Event timeline.Event
}

// DoneMsg signals that the driving run has finished.
type DoneMsg struct {
	Success bool
	Message string
}

type logLine struct {
	ts      string
	message string
	isError bool
}

// Model is the bubbletea model for the run dashboard.
type Model struct {
	sessionID    string
	currentTask  string
	currentPhase string
	gatesPassed  int
	gatesFailed  int
	suitesPassed int
	suitesFailed int
	fixIteration int
	logs         []logLine
	width        int
	quitting     bool
	done         bool
	success      bool
	doneMessage  string
	spin         spinner.Model
}

// New creates a Model for the given session.
func New(sessionID string) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECDC4"))
	return &Model{sessionID: sessionID, width: 80, spin: s}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd { return m.spin.Tick }

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case EventMsg:
		m.applyEvent(msg.Event)

	case DoneMsg:
		m.done = true
		m.success = msg.Success
		m.doneMessage = msg.Message
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) applyEvent(evt timeline.Event) {
	if evt.TaskID != "" {
		m.currentTask = evt.TaskID
	}

	level := "INFO"
	message := string(evt.Event)
	switch evt.Event {
	case timeline.EventTaskStart:
		message = fmt.Sprintf("task %s started", evt.TaskID)
	case timeline.EventTaskComplete:
		message = fmt.Sprintf("task %s complete", evt.TaskID)
	case timeline.EventTaskFailed:
		level = "ERROR"
		message = fmt.Sprintf("task %s failed: %s", evt.TaskID, evt.Error)
	case timeline.EventAgentStart:
		m.currentPhase = evt.Role
		message = fmt.Sprintf("%s phase starting", evt.Role)
	case timeline.EventGatePass:
		m.gatesPassed++
		message = fmt.Sprintf("gate %s passed (%dms)", evt.GateName, evt.Duration)
	case timeline.EventGateFail:
		m.gatesFailed++
		level = "ERROR"
		message = fmt.Sprintf("gate %s failed: %s", evt.GateName, evt.Error)
	case timeline.EventUITestPass:
		m.suitesPassed++
		message = "suite passed"
	case timeline.EventUITestFail:
		m.suitesFailed++
		level = "ERROR"
		message = fmt.Sprintf("suite failed: %s", evt.Error)
	case timeline.EventFixLoopIteration:
		m.fixIteration++
		message = fmt.Sprintf("fix loop iteration %d", m.fixIteration)
	case timeline.EventGuardrailViolation:
		level = "ERROR"
		message = fmt.Sprintf("guardrail violation: %s", evt.Error)
	}

	m.logs = append(m.logs, logLine{ts: evt.Timestamp, message: message, isError: level == "ERROR"})
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
}

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECDC4")).Bold(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#96E6A1"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return "\n"
	}
	if m.done {
		status := okStyle.Render("✓ " + m.doneMessage)
		if !m.success {
			status = errStyle.Render("✗ " + m.doneMessage)
		}
		return status + "\n"
	}

	header := headerStyle.Render(fmt.Sprintf("%s session %s", m.spin.View(), m.sessionID))
	status := fmt.Sprintf("task: %s  phase: %s  gates: %d/%d  suites: %d/%d",
		m.currentTask, m.currentPhase, m.gatesPassed, m.gatesPassed+m.gatesFailed,
		m.suitesPassed, m.suitesPassed+m.suitesFailed)
	if m.fixIteration > 0 {
		status += fmt.Sprintf("  fix-iter: %d", m.fixIteration)
	}

	var body strings.Builder
	for _, l := range m.logs {
		line := fmt.Sprintf("  %s %s", l.ts, l.message)
		if l.isError {
			line = errStyle.Render(line)
		} else {
			line = dimStyle.Render(line)
		}
		body.WriteString(line + "\n")
	}

	return fmt.Sprintf("%s\n%s\n\n%s\nPress q to quit", header, status, body.String())
}

// NewProgram starts a bubbletea program for a live run and returns it
// alongside the model; callers feed it timeline events with
// program.Send(EventMsg{Event: evt}) and signal completion with
// program.Send(DoneMsg{...}).
func NewProgram(sessionID string) (*tea.Program, *Model) {
	model := New(sessionID)
	p := tea.NewProgram(model, tea.WithAltScreen())
	return p, model
}
