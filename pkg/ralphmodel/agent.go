package ralphmodel

import "time"

// AgentRole identifies which phase of the verified task loop an agent
// invocation serves.
type AgentRole string

const (
	RoleImplementation AgentRole = "implementation"
	RoleTestWriting    AgentRole = "test_writing"
	RoleReview         AgentRole = "review"
	RoleFix            AgentRole = "fix"
	RolePlanning       AgentRole = "planning"
)

// Valid reports whether the role is one of the five known roles.
func (r AgentRole) Valid() bool {
	switch r {
	case RoleImplementation, RoleTestWriting, RoleReview, RoleFix, RolePlanning:
		return true
	default:
		return false
	}
}

// AgentRoleConfig is the per-role agent configuration from ralph.yml's
// `agents` map.
type AgentRoleConfig struct {
	Model        string        `yaml:"model" json:"model"`
	AllowedTools []string      `yaml:"allowed_tools" json:"allowed_tools,omitempty"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	Backend      string        `yaml:"backend,omitempty" json:"backend,omitempty"` // "cli" (default) or "api"
}

// Invocation records one agent subprocess/API call for logging and
// correlation purposes.
type Invocation struct {
	ID        string    `json:"id"`
	Role      AgentRole `json:"role"`
	TaskID    string    `json:"task_id"`
	Iteration int       `json:"iteration"`
	StartedAt time.Time `json:"started_at"`
	LogPath   string    `json:"log_path,omitempty"`
}
