package ralphmodel

// TaskEntry is the per-task record inside task-status.json.
type TaskEntry struct {
	Passes       bool              `json:"passes"`
	StartedAt    string            `json:"started_at,omitempty"`
	CompletedAt  string            `json:"completed_at,omitempty"`
	Iterations   int               `json:"iterations"`
	LastFailure  string            `json:"last_failure,omitempty"`
	AgentOutputs map[string]string `json:"agent_outputs,omitempty"` // role -> log path
}

// TaskStatusBody is the task-status.json body over which the checksum
// is computed: {last_updated, tasks}. Checksum is stored alongside it
// but excluded from the hashed bytes.
type TaskStatusBody struct {
	LastUpdated string               `json:"last_updated"`
	Tasks       map[string]TaskEntry `json:"tasks"`
}

// TaskStatusFile is the full on-disk task-status.json, body plus the
// embedded checksum field.
type TaskStatusFile struct {
	LastUpdated string               `json:"last_updated"`
	Tasks       map[string]TaskEntry `json:"tasks"`
	Checksum    string               `json:"checksum"`
}

// Body extracts the hashable portion of the file.
func (f *TaskStatusFile) Body() TaskStatusBody {
	return TaskStatusBody{LastUpdated: f.LastUpdated, Tasks: f.Tasks}
}
