// Package timeline implements the append-only event log at
// .ralph-session/logs/timeline.jsonl. Each line is
// a self-contained JSON object; appends are open-write-close with no
// fsync requirement, and readers tolerate a partial trailing line left
// by a crash mid-append.
package timeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

// EventType is the fixed enum of timeline events.
type EventType string

const (
	EventSessionStart       EventType = "session_start"
	EventSessionEnd         EventType = "session_end"
	EventTaskStart          EventType = "task_start"
	EventTaskComplete       EventType = "task_complete"
	EventTaskFailed         EventType = "task_failed"
	EventAgentStart         EventType = "agent_start"
	EventAgentComplete      EventType = "agent_complete"
	EventAgentFailed        EventType = "agent_failed"
	EventGatesRun           EventType = "gates_run"
	EventGatePass           EventType = "gate_pass"
	EventGateFail           EventType = "gate_fail"
	EventServiceStart       EventType = "service_start"
	EventServiceReady       EventType = "service_ready"
	EventServiceFailed      EventType = "service_failed"
	EventUITestStart        EventType = "ui_test_start"
	EventUITestPass         EventType = "ui_test_pass"
	EventUITestFail         EventType = "ui_test_fail"
	EventFixLoopStart       EventType = "fix_loop_start"
	EventFixLoopIteration   EventType = "fix_loop_iteration"
	EventFixLoopEnd         EventType = "fix_loop_end"
	EventChecksumVerified   EventType = "checksum_verified"
	EventChecksumFailed     EventType = "checksum_failed"
	EventGuardrailViolation EventType = "guardrail_violation"
)

// Event is one line of the timeline. Fields beyond the common envelope
// are carried in Details so the line shape stays uniform across event
// types, matching the Python source's permissive `**kwargs` logging.
type Event struct {
	Timestamp string                 `json:"ts"`
	SessionID string                 `json:"session_id"`
	Event     EventType              `json:"event"`
	TaskID    string                 `json:"task_id,omitempty"`
	Role      string                 `json:"role,omitempty"`
	GateName  string                 `json:"gate,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Fatal     bool                   `json:"fatal,omitempty"`
	Duration  int64                  `json:"duration_ms,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Logger appends events to a timeline.jsonl file.
type Logger struct {
	mu        sync.Mutex
	path      string
	sessionID string
}

// NewLogger creates a Logger writing to path, tagging every event with
// sessionID. The file and its parent directory are not created here;
// callers create the session tree once during session initialization.
func NewLogger(path, sessionID string) *Logger {
	return &Logger{path: path, sessionID: sessionID}
}

// Log appends one event, stamping Timestamp and SessionID.
func (l *Logger) Log(evt Event) error {
	evt.Timestamp = ralphmodel.ISOTimestamp(time.Now())
	evt.SessionID = l.sessionID

	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshaling timeline event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening timeline: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("appending timeline event: %w", err)
	}
	return nil
}

// Convenience constructors mirroring the fixed event vocabulary.

func (l *Logger) SessionStart() error { return l.Log(Event{Event: EventSessionStart}) }
func (l *Logger) SessionEnd(status string) error {
	return l.Log(Event{Event: EventSessionEnd, Details: map[string]interface{}{"status": status}})
}
func (l *Logger) TaskStart(taskID string) error {
	return l.Log(Event{Event: EventTaskStart, TaskID: taskID})
}
func (l *Logger) TaskComplete(taskID string, iterations int) error {
	return l.Log(Event{Event: EventTaskComplete, TaskID: taskID, Details: map[string]interface{}{"iterations": iterations}})
}
func (l *Logger) TaskFailed(taskID, reason string) error {
	return l.Log(Event{Event: EventTaskFailed, TaskID: taskID, Error: reason})
}
func (l *Logger) AgentStart(taskID, role string) error {
	return l.Log(Event{Event: EventAgentStart, TaskID: taskID, Role: role})
}
func (l *Logger) AgentComplete(taskID, role string) error {
	return l.Log(Event{Event: EventAgentComplete, TaskID: taskID, Role: role})
}
func (l *Logger) AgentFailed(taskID, role, errMsg string) error {
	return l.Log(Event{Event: EventAgentFailed, TaskID: taskID, Role: role, Error: errMsg})
}
func (l *Logger) GatesRun(taskID string, gateType string, count int) error {
	return l.Log(Event{Event: EventGatesRun, TaskID: taskID, Details: map[string]interface{}{"gate_type": gateType, "count": count}})
}
func (l *Logger) GatePass(taskID, name string, durationMS int64) error {
	return l.Log(Event{Event: EventGatePass, TaskID: taskID, GateName: name, Duration: durationMS})
}
func (l *Logger) GateFail(taskID, name, errMsg string, durationMS int64, fatal bool) error {
	return l.Log(Event{Event: EventGateFail, TaskID: taskID, GateName: name, Error: errMsg, Duration: durationMS, Fatal: fatal})
}
func (l *Logger) ServiceStart(name string) error {
	return l.Log(Event{Event: EventServiceStart, Details: map[string]interface{}{"service": name}})
}
func (l *Logger) ServiceReady(name string, durationMS int64) error {
	return l.Log(Event{Event: EventServiceReady, Duration: durationMS, Details: map[string]interface{}{"service": name}})
}
func (l *Logger) ServiceFailed(name, errMsg string) error {
	return l.Log(Event{Event: EventServiceFailed, Error: errMsg, Details: map[string]interface{}{"service": name}})
}
func (l *Logger) UITestStart(name string) error {
	return l.Log(Event{Event: EventUITestStart, Details: map[string]interface{}{"test": name}})
}
func (l *Logger) UITestPass(name string, durationMS int64) error {
	return l.Log(Event{Event: EventUITestPass, Duration: durationMS, Details: map[string]interface{}{"test": name}})
}
func (l *Logger) UITestFail(name, errMsg string, durationMS int64) error {
	return l.Log(Event{Event: EventUITestFail, Error: errMsg, Duration: durationMS, Details: map[string]interface{}{"test": name}})
}
func (l *Logger) FixLoopStart() error { return l.Log(Event{Event: EventFixLoopStart}) }
func (l *Logger) FixLoopIteration(n int) error {
	return l.Log(Event{Event: EventFixLoopIteration, Details: map[string]interface{}{"iteration": n}})
}
func (l *Logger) FixLoopEnd(passed bool) error {
	return l.Log(Event{Event: EventFixLoopEnd, Details: map[string]interface{}{"passed": passed}})
}
func (l *Logger) ChecksumVerified() error { return l.Log(Event{Event: EventChecksumVerified}) }
func (l *Logger) ChecksumFailed(reason string) error {
	return l.Log(Event{Event: EventChecksumFailed, Error: reason})
}
func (l *Logger) GuardrailViolation(taskID string, paths, reverted []string) error {
	return l.Log(Event{
		Event: EventGuardrailViolation, TaskID: taskID,
		Details: map[string]interface{}{"violations": paths, "reverted": reverted},
	})
}

// ReadAll reads every well-formed line from the timeline file,
// skipping any trailing partial line left by a crash mid-append.
func ReadAll(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening timeline: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			continue // tolerate malformed/partial lines
		}
		events = append(events, evt)
	}
	return events, nil
}
