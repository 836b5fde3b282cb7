// Package ralphmodel holds the shared vocabulary used across the
// orchestrator: tasks, sessions, gates, and the fixed enums that the
// engine, the ledger, and the CLI all agree on.
package ralphmodel

import "sort"

// Task is one unit of work from the task list. Field names track the
// wire format (prd.json) via JSON tags rather than Go convention so
// that the task source round-trips byte-for-byte where practical.
type Task struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria,omitempty"`
	Priority           int      `json:"priority"`
	Passes             bool     `json:"passes"`
	Notes              string   `json:"notes,omitempty"`
	RequiresTests      bool     `json:"requiresTests,omitempty"`
	AffectsFrontend    bool     `json:"affectsFrontend,omitempty"`
	Subtasks           []Task   `json:"subtasks,omitempty"`
}

// TaskList is the ordered task source (prd.json).
type TaskList struct {
	Project     string                 `json:"project"`
	Description string                 `json:"description,omitempty"`
	BranchName  string                 `json:"branchName,omitempty"`
	Version     string                 `json:"version,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Tasks       []Task                 `json:"tasks"`
}

// Sort orders tasks by (priority asc, id asc). Sort is stable so
// tasks sharing both priority and ID segments preserve source-file
// order.
func (tl *TaskList) Sort() {
	sort.SliceStable(tl.Tasks, func(i, j int) bool {
		a, b := tl.Tasks[i], tl.Tasks[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})
}

// ByID returns the task with the given ID, or false if none matches.
func (tl *TaskList) ByID(id string) (Task, bool) {
	for _, t := range tl.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// IndexByID returns the slice index of the task with the given ID, or -1.
func (tl *TaskList) IndexByID(id string) int {
	for i, t := range tl.Tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// Pending returns tasks in list order whose Passes is still false.
func (tl *TaskList) Pending() []Task {
	var out []Task
	for _, t := range tl.Tasks {
		if !t.Passes {
			out = append(out, t)
		}
	}
	return out
}

// MarkPasses sets Passes=true for the task with the given ID and
// reports whether a matching task was found. It only ever sets the
// flag; callers must never clear it back to false.
func (tl *TaskList) MarkPasses(id string) bool {
	for i := range tl.Tasks {
		if tl.Tasks[i].ID == id {
			tl.Tasks[i].Passes = true
			return true
		}
	}
	return false
}
