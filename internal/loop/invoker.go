package loop

import (
	"context"

	"github.com/ralph-orchestrator/ralph/internal/agentapi"
	"github.com/ralph-orchestrator/ralph/internal/agentrunner"
	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

// AgentOutcome is the backend-agnostic result of one agent turn, the
// shape both the CLI subprocess backend and the direct-API backend
// reduce down to for the engine.
type AgentOutcome struct {
	Text       string
	Success    bool
	Error      string
	LogPath    string
	DurationMS int64
}

// Invoker runs one agent turn for role against prompt and reduces
// whichever backend handled it to an AgentOutcome.
type Invoker interface {
	Invoke(ctx context.Context, prompt, taskID string, role ralphmodel.AgentRole, cfg ralphmodel.AgentRoleConfig) AgentOutcome
}

// DualInvoker picks the CLI or direct-API backend per call based on
// the role's configured Backend, mirroring the teacher's ClaudeProcess
// vs ClaudeAPI split but decided per-role rather than process-wide.
type DualInvoker struct {
	CLI     *agentrunner.Runner
	API     *agentapi.Runner
	WorkDir string
}

// Invoke dispatches to the API runner when cfg.Backend == "api" and an
// API runner is configured; otherwise it uses the CLI subprocess path.
func (d *DualInvoker) Invoke(ctx context.Context, prompt, taskID string, role ralphmodel.AgentRole, cfg ralphmodel.AgentRoleConfig) AgentOutcome {
	if cfg.Backend == "api" && d.API != nil {
		res := d.API.Invoke(ctx, prompt, d.WorkDir, role, taskID, cfg)
		return AgentOutcome{Text: res.Text, Success: res.Success(), Error: res.Error, DurationMS: res.DurationMS}
	}
	res := d.CLI.Invoke(ctx, prompt, role, taskID, cfg, 0)
	return AgentOutcome{Text: res.Output, Success: res.Success(), Error: res.Error, LogPath: res.LogPath, DurationMS: res.DurationMS}
}
