// Package gate runs the ordered quality gates configured under
// ralph.yml's gates.build/gates.full: shell commands with an optional
// path-existence precondition, a per-gate timeout, and fatal/non-fatal
// failure semantics.
package gate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ralph-orchestrator/ralph/internal/execrun"
	"github.com/ralph-orchestrator/ralph/internal/timeline"
	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

// Runner executes configured gates against one repository checkout.
type Runner struct {
	repoRoot string
	logsDir  string // optional, gate output written to <logsDir>/gate-<name>.log
	timeline *timeline.Logger
	exec     execrun.CommandRunner
}

// NewRunner creates a gate runner scoped to repoRoot. logsDir and tl may be empty/nil.
func NewRunner(repoRoot, logsDir string, tl *timeline.Logger) *Runner {
	return &Runner{
		repoRoot: repoRoot,
		logsDir:  logsDir,
		timeline: tl,
		// No LogDir: gate output is written under its own gate-<name>.log
		// naming below, not execrun's generic cmd-<timestamp>.log.
		exec: execrun.NewRunner(""),
	}
}

// Run executes every gate in gates in order, stopping at the first
// fatal failure. Non-fatal failures are recorded but execution
// continues through the rest of the list.
func (r *Runner) Run(gateType ralphmodel.GateType, gates []ralphmodel.GateConfig, taskID string) ralphmodel.GatesRunResult {
	if len(gates) == 0 {
		return ralphmodel.GatesRunResult{GateType: gateType, Passed: true}
	}

	if r.timeline != nil {
		_ = r.timeline.GatesRun(taskID, string(gateType), len(gates))
	}

	var results []ralphmodel.GateResult
	var fatalFailure *ralphmodel.GateResult

	for _, g := range gates {
		result := r.runOne(g, taskID)
		results = append(results, result)

		if !result.Passed() && result.Fatal {
			f := result
			fatalFailure = &f
			break
		}
	}

	return ralphmodel.GatesRunResult{
		GateType:     gateType,
		Passed:       fatalFailure == nil,
		Results:      results,
		FatalFailure: fatalFailure,
	}
}

// runOne runs a single gate, honoring its when-condition and timeout.
func (r *Runner) runOne(g ralphmodel.GateConfig, taskID string) ralphmodel.GateResult {
	if skip, reason := r.checkCondition(g); skip {
		return ralphmodel.GateResult{
			Name:       g.Name,
			Outcome:    ralphmodel.GateSkipped,
			SkipReason: reason,
			Fatal:      g.IsFatal(),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.Timeout())
	defer cancel()

	// execrun launches g.Cmd via sh -c in its own process group
	// (setsid), so a timeout kills the whole subtree it spawned
	// (npm test's node, go test's compiled test binary, etc.), not
	// just the sh shell.
	execRes, runErr := r.exec.RunShell(ctx, r.repoRoot, g.Cmd)
	output := execRes.Output()

	if r.logsDir != "" {
		logPath := filepath.Join(r.logsDir, fmt.Sprintf("gate-%s.log", g.Name))
		_ = os.WriteFile(logPath, []byte(output), 0644)
	}

	result := ralphmodel.GateResult{
		Name:       g.Name,
		Output:     truncateOutput(output),
		Fatal:      g.IsFatal(),
		Duration:   execRes.Duration,
		DurationMS: execRes.Duration.Milliseconds(),
	}

	if execRes.TimedOut {
		result.Outcome = ralphmodel.GateFailed
		result.TimedOut = true
		result.Error = fmt.Sprintf("gate %q timed out after %s", g.Name, g.Timeout())
	} else if runErr != nil {
		result.Outcome = ralphmodel.GateFailed
		result.ExitCode = execRes.ExitCode
		if execRes.ExitCode <= 0 {
			result.Error = fmt.Sprintf("error running gate %q: %v", g.Name, runErr)
		}
	} else {
		result.Outcome = ralphmodel.GatePassed
	}

	if r.timeline != nil {
		if result.Passed() {
			_ = r.timeline.GatePass(taskID, g.Name, result.DurationMS)
		} else {
			errMsg := result.Error
			if errMsg == "" {
				errMsg = fmt.Sprintf("exit code %d", result.ExitCode)
			}
			_ = r.timeline.GateFail(taskID, g.Name, errMsg, result.DurationMS, result.Fatal)
		}
	}

	return result
}

// checkCondition evaluates a gate's when-clause: a path relative to
// the repo root that must exist for the gate to run. A gate with no
// when-clause always runs.
func (r *Runner) checkCondition(g ralphmodel.GateConfig) (skip bool, reason string) {
	if g.When == "" {
		return false, ""
	}
	conditionPath := filepath.Join(r.repoRoot, g.When)
	if _, err := os.Stat(conditionPath); err == nil {
		return false, ""
	}
	return true, fmt.Sprintf("condition not met: %s does not exist", g.When)
}

// truncateOutput keeps gate failure feedback bounded: the first 10
// and last 10 lines, with the middle elided, when output exceeds 20
// lines.
func truncateOutput(output string) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= 20 {
		return output
	}
	var b strings.Builder
	b.WriteString(strings.Join(lines[:10], "\n"))
	b.WriteString("\n...\n")
	b.WriteString(strings.Join(lines[len(lines)-10:], "\n"))
	return b.String()
}

// FormatFailure renders a failed gate result into feedback text fed
// back into the agent's next prompt.
func FormatFailure(r ralphmodel.GateResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Gate %q failed (exit code %d)\n", r.Name, r.ExitCode)
	if r.TimedOut {
		b.WriteString("  Timed out\n")
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "  Error: %s\n", r.Error)
	}
	if r.Output != "" {
		fmt.Fprintf(&b, "  Output:\n%s\n", r.Output)
	}
	return b.String()
}
