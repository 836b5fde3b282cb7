package ralphmodel

import "time"

// SessionStatus is the lifecycle state of a run's session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionAborted   SessionStatus = "aborted"
)

// SessionMetadata is the contents of .ralph-session/session.json.
type SessionMetadata struct {
	SessionID      string        `json:"session_id"`
	SessionToken   string        `json:"session_token"`
	Status         SessionStatus `json:"status"`
	GitBranch      string        `json:"git_branch,omitempty"`
	GitCommit      string        `json:"git_commit,omitempty"`
	CurrentTask    string        `json:"current_task,omitempty"`
	CompletedTasks []string      `json:"completed_tasks"`
	PendingTasks   []string      `json:"pending_tasks"`
	TotalIterations int          `json:"total_iterations"`
	StartedAt      string        `json:"started_at"`
	EndedAt        string        `json:"ended_at,omitempty"`
}

// ISOTimestamp formats t as ISO-8601 UTC with a literal "Z" suffix
// rather than "+00:00".
func ISOTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
