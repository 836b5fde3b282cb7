// Package console renders colored status lines and boxed summaries for
// the CLI commands — task/phase progress, gate results, and run
// summaries. It mirrors the status-line convention the rest of this
// codebase's interactive commands use (a colored ✓/✗/⚠ symbol followed
// by plain text), generalized for the orchestrator's own vocabulary of
// phases, gates, and suites instead of one command's init checklist.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

// Printer writes status output to a single stream. The zero value
// writes to os.Stdout.
type Printer struct {
	w io.Writer
}

// New returns a Printer writing to w.
func New(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Stdout returns a Printer writing to os.Stdout.
func Stdout() *Printer {
	return &Printer{w: os.Stdout}
}

func (p *Printer) out() io.Writer {
	if p.w == nil {
		return os.Stdout
	}
	return p.w
}

// Status prints one colored status line: a symbol followed by message.
func (p *Printer) Status(symbol, message string, attr color.Attribute) {
	c := color.New(attr)
	fmt.Fprintf(p.out(), "%s %s\n", c.Sprint(symbol), message)
}

// OK prints a green "✓ message" line.
func (p *Printer) OK(message string) {
	p.Status("✓", message, color.FgGreen)
}

// Fail prints a red "✗ message" line.
func (p *Printer) Fail(message string) {
	p.Status("✗", message, color.FgRed)
}

// Warn prints a yellow "⚠ message" line.
func (p *Printer) Warn(message string) {
	p.Status("⚠", message, color.FgYellow)
}

// Info prints a plain, uncolored line.
func (p *Printer) Info(message string) {
	fmt.Fprintln(p.out(), message)
}

// Phase prints the start of one task/phase, e.g. "→ [task-003] implementation".
func (p *Printer) Phase(taskID string, phase ralphmodel.Phase) {
	label := color.New(color.FgCyan).Sprintf("[%s]", taskID)
	fmt.Fprintf(p.out(), "→ %s %s\n", label, phase)
}

// PhaseOutcome prints the result of a finished phase, styled by kind:
// success green, a retryable signal/review rejection yellow, gate
// failure or subprocess error red.
func (p *Printer) PhaseOutcome(taskID string, phase ralphmodel.Phase, outcome ralphmodel.PhaseOutcome) {
	label := fmt.Sprintf("[%s] %s", taskID, phase)
	switch outcome.Kind {
	case ralphmodel.OutcomeSuccess:
		p.OK(label)
	case ralphmodel.OutcomeGatesFailed, ralphmodel.OutcomeSubprocessErr:
		p.Fail(fmt.Sprintf("%s: %s", label, outcome.Feedback()))
	default:
		p.Warn(fmt.Sprintf("%s: %s", label, outcome.Feedback()))
	}
}

// GateResult prints one gate's pass/fail line with duration.
func (p *Printer) GateResult(result ralphmodel.GateResult) {
	name := fmt.Sprintf("%s (%dms)", result.Name, result.DurationMS)
	if result.Passed() {
		p.OK(name)
		return
	}
	if result.Fatal {
		p.Fail(name)
	} else {
		p.Warn(name + " [non-fatal]")
	}
}

// GatesSummary prints one line per gate result and a closing summary line.
func (p *Printer) GatesSummary(run ralphmodel.GatesRunResult) {
	for _, r := range run.Results {
		p.GateResult(r)
	}
	if run.Passed {
		p.OK(fmt.Sprintf("gates passed (%s)", run.GateType))
	} else {
		p.Fail(fmt.Sprintf("gates failed (%s)", run.GateType))
	}
}

// Suite prints a UI/Robot suite's pass/fail line, noting any fix
// iterations spent recovering it.
func (p *Printer) Suite(name string, passed bool, durationMS int64, fixIterations int) {
	line := fmt.Sprintf("%s (%dms)", name, durationMS)
	if fixIterations > 0 {
		line += fmt.Sprintf(" [fixed in %d iteration(s)]", fixIterations)
	}
	if passed {
		p.OK(line)
	} else {
		p.Fail(line)
	}
}

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#45B7D1")).
			Padding(0, 2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

// RunSummary is the boxed summary printed at the end of a run or
// verify invocation.
type RunSummary struct {
	SessionID       string
	Status          ralphmodel.SessionStatus
	CompletedTasks  int
	PendingTasks    int
	TotalIterations int
	Duration        time.Duration
}

// Box prints a rounded-border summary box for a finished run.
func (p *Printer) Box(s RunSummary) {
	statusColor := lipgloss.Color("#96E6A1")
	switch s.Status {
	case ralphmodel.SessionFailed, ralphmodel.SessionAborted:
		statusColor = lipgloss.Color("#FF6B6B")
	case ralphmodel.SessionRunning:
		statusColor = lipgloss.Color("#FFC857")
	}
	statusLine := lipgloss.NewStyle().Foreground(statusColor).Bold(true).Render(string(s.Status))

	lines := []string{
		titleStyle.Render(fmt.Sprintf("session %s", s.SessionID)),
		statusLine,
		dimStyle.Render(fmt.Sprintf("tasks: %d done, %d pending · iterations: %d · %s",
			s.CompletedTasks, s.PendingTasks, s.TotalIterations, s.Duration.Round(time.Second))),
	}
	fmt.Fprintln(p.out(), boxStyle.Render(strings.Join(lines, "\n")))
}
