package dashboard

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ralph-orchestrator/ralph/internal/timeline"
)

func TestUpdate_TaskStart_SetsCurrentTask(t *testing.T) {
	m := New("sess-1")

	updated, _ := m.Update(EventMsg{Event: timeline.Event{Event: timeline.EventTaskStart, TaskID: "task-001"}})
	model := updated.(*Model)

	if model.currentTask != "task-001" {
		t.Errorf("currentTask = %q, want task-001", model.currentTask)
	}
	if len(model.logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(model.logs))
	}
	if model.logs[0].isError {
		t.Errorf("task_start log entry should not be marked an error")
	}
}

func TestUpdate_GatePassAndFail_TallyCounts(t *testing.T) {
	m := New("sess-1")

	m.Update(EventMsg{Event: timeline.Event{Event: timeline.EventGatePass, GateName: "build", Duration: 10}})
	m.Update(EventMsg{Event: timeline.Event{Event: timeline.EventGateFail, GateName: "lint", Error: "exit 1"}})

	if m.gatesPassed != 1 || m.gatesFailed != 1 {
		t.Errorf("gatesPassed=%d gatesFailed=%d, want 1/1", m.gatesPassed, m.gatesFailed)
	}
	if !m.logs[1].isError {
		t.Errorf("gate_fail log entry should be marked an error")
	}
}

func TestUpdate_FixLoopIteration_Increments(t *testing.T) {
	m := New("sess-1")

	m.Update(EventMsg{Event: timeline.Event{Event: timeline.EventFixLoopIteration}})
	m.Update(EventMsg{Event: timeline.Event{Event: timeline.EventFixLoopIteration}})

	if m.fixIteration != 2 {
		t.Errorf("fixIteration = %d, want 2", m.fixIteration)
	}
}

func TestUpdate_LogsCapAtMaxLogLines(t *testing.T) {
	m := New("sess-1")

	for i := 0; i < maxLogLines+10; i++ {
		m.Update(EventMsg{Event: timeline.Event{Event: timeline.EventGatePass, GateName: "build"}})
	}

	if len(m.logs) != maxLogLines {
		t.Errorf("logs = %d, want capped at %d", len(m.logs), maxLogLines)
	}
}

func TestUpdate_QKeyPress_QuitsAndClearsView(t *testing.T) {
	m := New("sess-1")

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	model := updated.(*Model)

	if !model.quitting {
		t.Errorf("quitting = false, want true after q key press")
	}
	if cmd == nil {
		t.Errorf("Update(q) returned nil cmd, want tea.Quit")
	}
	if model.View() != "\n" {
		t.Errorf("View() after quit = %q, want a single newline", model.View())
	}
}

func TestUpdate_Done_RendersSuccessOrFailure(t *testing.T) {
	m := New("sess-1")
	m.Update(DoneMsg{Success: true, Message: "all tasks complete"})
	if !strings.Contains(m.View(), "all tasks complete") {
		t.Errorf("View() = %q, want done message", m.View())
	}

	m2 := New("sess-1")
	m2.Update(DoneMsg{Success: false, Message: "gate failure"})
	if !strings.Contains(m2.View(), "gate failure") {
		t.Errorf("View() = %q, want done message", m2.View())
	}
}

func TestView_ShowsStatusLine(t *testing.T) {
	m := New("sess-1")
	m.Update(EventMsg{Event: timeline.Event{Event: timeline.EventTaskStart, TaskID: "task-002"}})
	m.Update(EventMsg{Event: timeline.Event{Event: timeline.EventAgentStart, Role: "implementation"}})

	view := m.View()
	if !strings.Contains(view, "task-002") || !strings.Contains(view, "implementation") {
		t.Errorf("View() = %q, want task id and phase name", view)
	}
}
