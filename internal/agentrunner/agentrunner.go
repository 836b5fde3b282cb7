// Package agentrunner invokes an agent CLI (Claude Code, or any other
// binary speaking the same "--print -p prompt" convention) as a
// subprocess and captures its combined output for signal parsing.
package agentrunner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ralph-orchestrator/ralph/internal/execrun"
	"github.com/ralph-orchestrator/ralph/internal/timeline"
	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

// DefaultCommand is the CLI invoked when a role config leaves Backend
// unset/"cli" and no RALPH_CLAUDE_CMD override is present.
const DefaultCommand = "claude"

// Result is the outcome of one CLI agent invocation.
type Result struct {
	Output     string
	ExitCode   int
	Duration   time.Duration
	DurationMS int64
	TimedOut   bool
	Error      string
	LogPath    string
}

// Success reports whether the invocation exited zero without timing out.
func (r Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut && r.Error == ""
}

// Runner invokes the agent CLI with a role's configured model,
// allowed tools, and timeout.
type Runner struct {
	command  string
	logsDir  string
	repoRoot string
	timeline *timeline.Logger
	exec     *execrun.Runner
}

// NewRunner builds a Runner. command overrides the CLI binary; pass
// "" to use RALPH_CLAUDE_CMD or DefaultCommand.
func NewRunner(command, repoRoot, logsDir string, tl *timeline.Logger) *Runner {
	if command == "" {
		command = os.Getenv("RALPH_CLAUDE_CMD")
	}
	if command == "" {
		command = DefaultCommand
	}
	return &Runner{
		command:  command,
		logsDir:  logsDir,
		repoRoot: repoRoot,
		timeline: tl,
		exec:     execrun.NewRunner(logsDir),
	}
}

// buildArgs constructs the CLI argument list: print mode, optional
// model/allowed-tools/max-turns, then the prompt last.
func buildArgs(prompt string, cfg ralphmodel.AgentRoleConfig, maxTurns int) []string {
	args := []string{"--print"}
	if cfg.Model != "" {
		args = append(args, "-m", cfg.Model)
	}
	if len(cfg.AllowedTools) > 0 {
		args = append(args, "--allowedTools", joinCSV(cfg.AllowedTools))
	}
	if maxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(maxTurns))
	}
	args = append(args, "-p", prompt)
	return args
}

func joinCSV(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

// Invoke runs the agent CLI with prompt under the given role config,
// logging start/completion to the timeline when one is configured.
func (r *Runner) Invoke(ctx context.Context, prompt string, role ralphmodel.AgentRole, taskID string, cfg ralphmodel.AgentRoleConfig, maxTurns int) Result {
	if r.timeline != nil {
		_ = r.timeline.AgentStart(taskID, string(role))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = execrun.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := buildArgs(prompt, cfg, maxTurns)

	start := time.Now()
	execRes, err := r.exec.Run(runCtx, r.repoRoot, r.command, args...)
	duration := time.Since(start)

	result := Result{
		Output:     execRes.Output(),
		ExitCode:   execRes.ExitCode,
		Duration:   duration,
		DurationMS: duration.Milliseconds(),
		TimedOut:   execRes.TimedOut,
	}
	if err != nil && !execRes.TimedOut {
		result.Error = err.Error()
	}

	if r.logsDir != "" {
		result.LogPath = r.writeLog(taskID, role, result)
	}

	if r.timeline != nil {
		if result.Success() {
			_ = r.timeline.AgentComplete(taskID, string(role))
		} else {
			errMsg := result.Error
			if errMsg == "" {
				errMsg = fmt.Sprintf("exit code %d", result.ExitCode)
			}
			_ = r.timeline.AgentFailed(taskID, string(role), errMsg)
		}
	}

	return result
}

// writeLog names each invocation's log with a short correlation ID
// rather than a timestamp, so two invocations of the same role within
// the same wall-clock second never collide.
func (r *Runner) writeLog(taskID string, role ralphmodel.AgentRole, res Result) string {
	correlationID := uuid.New().String()[:8]
	name := fmt.Sprintf("%s-%s.log", role, correlationID)
	path := filepath.Join(r.logsDir, name)
	if err := os.MkdirAll(r.logsDir, 0755); err != nil {
		return ""
	}
	if err := os.WriteFile(path, []byte(res.Output), 0644); err != nil {
		return ""
	}
	return path
}
