// Package loop implements the verified task loop engine: the
// per-task state machine that sequences implementation, test-writing,
// gates, and review, validates each phase's tagged completion signal,
// and routes any failure back as typed feedback for the next attempt.
// It is the engine described by this repository's component design as
// the piece "tying all of the above together" — task source, gate
// runner, guardrail, agent runner, and session ledger all meet here.
package loop

import (
	"context"
	"fmt"

	"github.com/ralph-orchestrator/ralph/internal/gate"
	"github.com/ralph-orchestrator/ralph/internal/guardrail"
	"github.com/ralph-orchestrator/ralph/internal/prd"
	"github.com/ralph-orchestrator/ralph/internal/runconfig"
	"github.com/ralph-orchestrator/ralph/internal/session"
	"github.com/ralph-orchestrator/ralph/internal/signalgrammar"
	"github.com/ralph-orchestrator/ralph/internal/timeline"
	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

// Options controls one invocation of Engine.Run, mirroring the `run`
// entry point's documented options.
type Options struct {
	TaskID        string // run only this task
	FromTaskID    string // skip pending tasks before this id
	MaxIterations int    // overrides config.limits.max_iterations when > 0
	GateType      ralphmodel.GateType
	DryRun        bool
}

// TaskResult is the outcome of running one task to completion or
// exhaustion.
type TaskResult struct {
	TaskID     string
	Success    bool
	Iterations int
	Failure    string
}

// RunResult aggregates the outcome of a full Run call.
type RunResult struct {
	TaskResults []TaskResult
	AllPassed   bool
	ExitCode    ralphmodel.ExitCode
}

// Engine is the verified task loop's single-threaded driver. One
// Engine is created per run and exclusively owns its session ledger
// for the run's duration.
type Engine struct {
	cfg      *runconfig.Config
	repoRoot string
	prdPath  string
	ledger   *session.Ledger
	timeline *timeline.Logger
	gates    *gate.Runner
	invoker  Invoker
}

// NewEngine wires together one run's components. invoker is typically
// a *DualInvoker selecting between the CLI and direct-API agent
// backends per role.
func NewEngine(cfg *runconfig.Config, repoRoot, prdPath string, ledger *session.Ledger, tl *timeline.Logger, invoker Invoker) *Engine {
	return &Engine{
		cfg:      cfg,
		repoRoot: repoRoot,
		prdPath:  prdPath,
		ledger:   ledger,
		timeline: tl,
		gates:    gate.NewRunner(repoRoot, ledger.LogsDir(), tl),
		invoker:  invoker,
	}
}

// Run drives every selected pending task through the four-phase loop
// in task-list order, stopping at the first task failure (the first
// failure stops subsequent tasks, per the engine's documented
// termination behavior).
func (e *Engine) Run(ctx context.Context, tasks *ralphmodel.TaskList, opts Options) (RunResult, error) {
	pending := e.selectTasks(tasks, opts)

	if opts.DryRun {
		results := make([]TaskResult, 0, len(pending))
		for _, t := range pending {
			results = append(results, TaskResult{TaskID: t.ID, Success: true})
		}
		return RunResult{TaskResults: results, AllPassed: true, ExitCode: ralphmodel.ExitSuccess}, nil
	}

	maxIterations := e.cfg.Limits.MaxIterations
	if opts.MaxIterations > 0 {
		maxIterations = opts.MaxIterations
	}
	gateType := opts.GateType
	if gateType == "" {
		gateType = ralphmodel.GateTypeFull
	}

	var results []TaskResult
	for _, task := range pending {
		select {
		case <-ctx.Done():
			return RunResult{TaskResults: results, ExitCode: ralphmodel.ExitUserAbort}, ctx.Err()
		default:
		}

		result := e.runTask(ctx, task, maxIterations, gateType)
		results = append(results, result)

		if !result.Success {
			return RunResult{TaskResults: results, AllPassed: false, ExitCode: ralphmodel.ExitTaskExecutionError}, nil
		}
	}

	return RunResult{TaskResults: results, AllPassed: true, ExitCode: ralphmodel.ExitSuccess}, nil
}

// selectTasks narrows the pending task list per opts.TaskID / FromTaskID.
func (e *Engine) selectTasks(tasks *ralphmodel.TaskList, opts Options) []ralphmodel.Task {
	pending := tasks.Pending()

	if opts.TaskID != "" {
		for _, t := range pending {
			if t.ID == opts.TaskID {
				return []ralphmodel.Task{t}
			}
		}
		return nil
	}

	if opts.FromTaskID != "" {
		start := -1
		for i, t := range pending {
			if t.ID == opts.FromTaskID {
				start = i
				break
			}
		}
		if start == -1 {
			return nil
		}
		return pending[start:]
	}

	return pending
}

// runTask runs one task's iteration loop: implementation, optional
// test-writing, gates, review. A phase's typed outcome either routes
// as feedback into the next iteration's implementation prompt or
// completes the task.
func (e *Engine) runTask(ctx context.Context, task ralphmodel.Task, maxIterations int, gateType ralphmodel.GateType) TaskResult {
	_ = e.timeline.TaskStart(task.ID)

	var feedback string

	for iteration := 1; iteration <= maxIterations; iteration++ {
		outcome := e.runImplementation(ctx, task, feedback)
		if !outcome.Success() {
			feedback = outcome.Feedback()
			_ = e.ledger.RecordFailure(task.ID, feedback)
			continue
		}

		if task.RequiresTests {
			outcome = e.runTestWriting(ctx, task)
			if !outcome.Success() {
				feedback = outcome.Feedback()
				_ = e.ledger.RecordFailure(task.ID, feedback)
				continue
			}
		}

		outcome = e.runGates(ctx, task, gateType)
		if !outcome.Success() {
			feedback = outcome.Feedback()
			_ = e.ledger.RecordFailure(task.ID, feedback)
			continue
		}

		outcome = e.runReview(ctx, task)
		if !outcome.Success() {
			feedback = outcome.Feedback()
			_ = e.ledger.RecordFailure(task.ID, feedback)
			continue
		}

		if err := e.ledger.MarkTaskComplete(task.ID); err != nil {
			return TaskResult{TaskID: task.ID, Success: false, Iterations: iteration, Failure: err.Error()}
		}
		if err := prd.MarkTaskPasses(e.prdPath, task.ID); err != nil {
			return TaskResult{TaskID: task.ID, Success: false, Iterations: iteration, Failure: err.Error()}
		}
		_ = e.timeline.TaskComplete(task.ID, iteration)
		return TaskResult{TaskID: task.ID, Success: true, Iterations: iteration}
	}

	_ = e.timeline.TaskFailed(task.ID, feedback)
	return TaskResult{TaskID: task.ID, Success: false, Iterations: maxIterations, Failure: feedback}
}

func (e *Engine) roleConfig(role ralphmodel.AgentRole) ralphmodel.AgentRoleConfig {
	return e.cfg.Agents[string(role)]
}

// runImplementation runs the implementation phase and requires a
// well-formed task-done signal bound to the session token.
func (e *Engine) runImplementation(ctx context.Context, task ralphmodel.Task, feedback string) ralphmodel.PhaseOutcome {
	prompt := buildImplementationPrompt(task, e.ledger.Meta.SessionToken, e.repoRoot, feedback)
	out := e.invoker.Invoke(ctx, prompt, task.ID, ralphmodel.RoleImplementation, e.roleConfig(ralphmodel.RoleImplementation))
	_ = e.ledger.RecordIteration(task.ID, string(ralphmodel.RoleImplementation), out.LogPath)

	if !out.Success {
		return ralphmodel.PhaseOutcome{
			Phase: ralphmodel.PhaseImplementation, Kind: ralphmodel.OutcomeSubprocessErr,
			SubprocessError: out.Error, RawOutput: out.Text,
		}
	}
	return e.requireSignal(ralphmodel.PhaseImplementation, out.Text, signalgrammar.TaskDone)
}

// runTestWriting runs the test-writing phase, guardrailed to
// config.test_paths: it snapshots the working tree before the agent
// runs and reverts anything new that falls outside the allowed
// patterns (and outside orchestrator-owned directories) afterward.
// Guardrail violations are recorded but do not themselves fail the
// phase — only a missing or malformed tests-done signal does.
func (e *Engine) runTestWriting(ctx context.Context, task ralphmodel.Task) ralphmodel.PhaseOutcome {
	g := guardrail.New(e.cfg.TestPaths, e.repoRoot, e.timeline)

	before, err := g.Snapshot()
	if err != nil {
		return ralphmodel.PhaseOutcome{
			Phase: ralphmodel.PhaseTestWriting, Kind: ralphmodel.OutcomeSubprocessErr,
			SubprocessError: fmt.Sprintf("guardrail snapshot: %v", err),
		}
	}

	prompt := buildTestWritingPrompt(task, e.ledger.Meta.SessionToken, e.cfg.TestPaths)
	out := e.invoker.Invoke(ctx, prompt, task.ID, ralphmodel.RoleTestWriting, e.roleConfig(ralphmodel.RoleTestWriting))
	_ = e.ledger.RecordIteration(task.ID, string(ralphmodel.RoleTestWriting), out.LogPath)

	if !out.Success {
		return ralphmodel.PhaseOutcome{
			Phase: ralphmodel.PhaseTestWriting, Kind: ralphmodel.OutcomeSubprocessErr,
			SubprocessError: out.Error, RawOutput: out.Text,
		}
	}

	if _, err := g.CheckAndRevert(before, task.ID); err != nil {
		return ralphmodel.PhaseOutcome{
			Phase: ralphmodel.PhaseTestWriting, Kind: ralphmodel.OutcomeSubprocessErr,
			SubprocessError: fmt.Sprintf("guardrail revert: %v", err),
		}
	}

	return e.requireSignal(ralphmodel.PhaseTestWriting, out.Text, signalgrammar.TestsDone)
}

// runGates runs the configured gate list for gateType and reduces any
// fatal failure to typed feedback.
func (e *Engine) runGates(_ context.Context, task ralphmodel.Task, gateType ralphmodel.GateType) ralphmodel.PhaseOutcome {
	gates := e.cfg.Gates.Get(gateType)
	result := e.gates.Run(gateType, gates, task.ID)

	if result.Passed {
		return ralphmodel.PhaseOutcome{Phase: ralphmodel.PhaseGates, Kind: ralphmodel.OutcomeSuccess}
	}
	return ralphmodel.PhaseOutcome{
		Phase: ralphmodel.PhaseGates, Kind: ralphmodel.OutcomeGatesFailed,
		GatesResult: &result, GateFeedback: gate.FormatFailure(*result.FatalFailure),
	}
}

// runReview runs the review phase, requiring either a review-approved
// or review-rejected signal; rejection carries its body forward as
// feedback, matching the review phase's documented semantics.
func (e *Engine) runReview(ctx context.Context, task ralphmodel.Task) ralphmodel.PhaseOutcome {
	prompt := buildReviewPrompt(task, e.ledger.Meta.SessionToken)
	out := e.invoker.Invoke(ctx, prompt, task.ID, ralphmodel.RoleReview, e.roleConfig(ralphmodel.RoleReview))
	_ = e.ledger.RecordIteration(task.ID, string(ralphmodel.RoleReview), out.LogPath)

	if !out.Success {
		return ralphmodel.PhaseOutcome{
			Phase: ralphmodel.PhaseReview, Kind: ralphmodel.OutcomeSubprocessErr,
			SubprocessError: out.Error, RawOutput: out.Text,
		}
	}

	token := e.ledger.Meta.SessionToken
	sig, ok := signalgrammar.Find(out.Text, signalgrammar.ReviewApproved, signalgrammar.ReviewRejected)
	if !ok || !signalgrammar.Validate(sig, token) {
		return ralphmodel.PhaseOutcome{
			Phase: ralphmodel.PhaseReview, Kind: ralphmodel.OutcomeBadSignal,
			ExpectedTag: string(signalgrammar.ReviewApproved) + "\" or \"" + string(signalgrammar.ReviewRejected),
			ExpectedToken: token, RawOutput: out.Text,
		}
	}

	if sig.Tag == signalgrammar.ReviewRejected {
		return ralphmodel.PhaseOutcome{Phase: ralphmodel.PhaseReview, Kind: ralphmodel.OutcomeReviewRejected, RejectionBody: sig.Body, RawOutput: out.Text}
	}
	return ralphmodel.PhaseOutcome{Phase: ralphmodel.PhaseReview, Kind: ralphmodel.OutcomeSuccess, RawOutput: out.Text}
}

// requireSignal locates tag in output and validates its session token,
// reducing the result to a typed phase outcome.
func (e *Engine) requireSignal(phase ralphmodel.Phase, output string, tag signalgrammar.Tag) ralphmodel.PhaseOutcome {
	token := e.ledger.Meta.SessionToken
	sig, ok := signalgrammar.Find(output, tag)
	if !ok || !signalgrammar.Validate(sig, token) {
		return ralphmodel.PhaseOutcome{
			Phase: phase, Kind: ralphmodel.OutcomeBadSignal,
			ExpectedTag: string(tag), ExpectedToken: token, RawOutput: output,
		}
	}
	return ralphmodel.PhaseOutcome{Phase: phase, Kind: ralphmodel.OutcomeSuccess, RawOutput: output}
}
