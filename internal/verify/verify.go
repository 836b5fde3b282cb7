// Package verify implements the post-completion verify driver: full
// gates, service startup, UI test suites, and a bounded plan→implement→
// retest fix loop for any suite that fails. It is the engine behind
// both the standalone `ralph verify` command and the optional
// post-completion step at the end of `ralph run`.
package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ralph-orchestrator/ralph/internal/execrun"
	"github.com/ralph-orchestrator/ralph/internal/gate"
	"github.com/ralph-orchestrator/ralph/internal/loop"
	"github.com/ralph-orchestrator/ralph/internal/runconfig"
	"github.com/ralph-orchestrator/ralph/internal/service"
	"github.com/ralph-orchestrator/ralph/internal/session"
	"github.com/ralph-orchestrator/ralph/internal/signalgrammar"
	"github.com/ralph-orchestrator/ralph/internal/timeline"
	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

// Options controls one invocation of Engine.Run, mirroring the
// `verify` entry point's documented options.
type Options struct {
	GateType      ralphmodel.GateType
	Env           string // "dev" or "prod"
	SkipServices  bool
	Fix           bool
	FixIterations int
	BaseURL       string
}

// SuiteResult is the outcome of running one configured UI/Robot test
// suite, before and after any fix sub-loop.
type SuiteResult struct {
	Name          string
	Kind          string
	Passed        bool
	DurationMS    int64
	Error         string
	FixIterations int
}

// Result is the outcome of a full verify run.
type Result struct {
	ExitCode        ralphmodel.ExitCode
	GatesResult     ralphmodel.GatesRunResult
	ServicesStarted bool
	Suites          []SuiteResult
	TotalDurationMS int64
	Error           string
}

// AllPassed reports whether gates and every executed suite passed.
func (r Result) AllPassed() bool {
	if !r.GatesResult.Passed {
		return false
	}
	for _, s := range r.Suites {
		if !s.Passed {
			return false
		}
	}
	return true
}

// Engine drives one verify run against a configured project.
type Engine struct {
	cfg      *runconfig.Config
	repoRoot string
	ledger   *session.Ledger
	timeline *timeline.Logger
	gates    *gate.Runner
	services *service.Manager
	invoker  loop.Invoker
	runner   *execrun.Runner
}

// NewEngine wires together one verify run's components.
func NewEngine(cfg *runconfig.Config, repoRoot string, ledger *session.Ledger, tl *timeline.Logger, services *service.Manager, invoker loop.Invoker) *Engine {
	return &Engine{
		cfg:      cfg,
		repoRoot: repoRoot,
		ledger:   ledger,
		timeline: tl,
		gates:    gate.NewRunner(repoRoot, ledger.LogsDir(), tl),
		services: services,
		invoker:  invoker,
		runner:   execrun.NewRunner(ledger.LogsDir()),
	}
}

// Run executes the verify sequence: gates, then (if any suite is
// configured and services aren't skipped) service startup, then each
// configured suite, with a bounded fix sub-loop for failures when
// opts.Fix is set.
func (e *Engine) Run(ctx context.Context, opts Options) Result {
	start := time.Now()

	gateType := opts.GateType
	if gateType == "" {
		gateType = ralphmodel.GateTypeFull
	}

	gatesResult := e.gates.Run(gateType, e.cfg.Gates.Get(gateType), "")
	if !gatesResult.Passed {
		return Result{
			ExitCode:        ralphmodel.ExitGateFailure,
			GatesResult:     gatesResult,
			TotalDurationMS: time.Since(start).Milliseconds(),
			Error:           "gate failure",
		}
	}

	suites := e.cfg.UI.Suites
	if len(suites) == 0 {
		return Result{
			ExitCode:        ralphmodel.ExitSuccess,
			GatesResult:     gatesResult,
			TotalDurationMS: time.Since(start).Milliseconds(),
		}
	}

	servicesStarted := false
	baseURL := opts.BaseURL
	if !opts.SkipServices {
		var ok bool
		servicesStarted, baseURL, ok = e.startServices(ctx, opts.Env, baseURL)
		if !ok {
			e.services.StopAll()
			return Result{
				ExitCode:        ralphmodel.ExitServiceFailure,
				GatesResult:     gatesResult,
				ServicesStarted: false,
				TotalDurationMS: time.Since(start).Milliseconds(),
				Error:           "service startup failed",
			}
		}
	}
	if servicesStarted {
		defer e.services.StopAll()
	}

	results := make([]SuiteResult, 0, len(suites))
	anyFailed := false
	for _, suite := range suites {
		res := e.runSuite(ctx, suite, baseURL)

		if !res.Passed && opts.Fix {
			maxIter := opts.FixIterations
			if maxIter <= 0 {
				maxIter = e.cfg.Limits.FixIterations
			}
			fixed, iterations := e.runFixLoop(ctx, suite, baseURL, res.Error, maxIter)
			res.FixIterations = iterations
			if fixed {
				res = e.runSuite(ctx, suite, baseURL)
				res.FixIterations = iterations
			}
		}

		if !res.Passed {
			anyFailed = true
		}
		results = append(results, res)
	}

	exitCode := ralphmodel.ExitSuccess
	errMsg := ""
	if anyFailed {
		exitCode = ralphmodel.ExitVerificationFailed
		errMsg = "verification failure"
	}

	return Result{
		ExitCode:        exitCode,
		GatesResult:     gatesResult,
		ServicesStarted: servicesStarted,
		Suites:          results,
		TotalDurationMS: time.Since(start).Milliseconds(),
		Error:           errMsg,
	}
}

// startServices brings up the configured backend and frontend, in that
// order, and returns whether both reached readiness along with the
// base URL UI suites should target.
func (e *Engine) startServices(ctx context.Context, env, explicitBaseURL string) (started bool, baseURL string, ok bool) {
	if e.cfg.Backend != nil {
		res := e.services.Start(ctx, "backend", "backend", *e.cfg.Backend)
		if !res.Success {
			return false, explicitBaseURL, false
		}
		started = true
	}
	if e.cfg.Frontend != nil {
		res := e.services.Start(ctx, "frontend", "frontend", *e.cfg.Frontend)
		if !res.Success {
			return started, explicitBaseURL, false
		}
		started = true
	}

	if explicitBaseURL != "" {
		return started, explicitBaseURL, true
	}
	if url, ok := e.services.BaseURL(); ok {
		return started, url, true
	}
	return started, "", true
}

// runSuite runs one configured suite's command, substituting {base_url}.
func (e *Engine) runSuite(ctx context.Context, suite runconfig.UISuite, baseURL string) SuiteResult {
	_ = e.timeline.UITestStart(suite.Name)

	cmd := strings.ReplaceAll(suite.Cmd, "{base_url}", baseURL)
	timeout := time.Duration(suite.Timeout) * time.Second
	if timeout <= 0 {
		timeout = execrun.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, _ := e.runner.RunShell(runCtx, e.repoRoot, cmd)
	durationMS := res.Duration.Milliseconds()

	if res.Success() {
		_ = e.timeline.UITestPass(suite.Name, durationMS)
		return SuiteResult{Name: suite.Name, Kind: suite.Kind, Passed: true, DurationMS: durationMS}
	}

	errMsg := res.Output()
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	_ = e.timeline.UITestFail(suite.Name, errMsg, durationMS)
	return SuiteResult{Name: suite.Name, Kind: suite.Kind, Passed: false, DurationMS: durationMS, Error: errMsg}
}

// planTag and fixTag select the signal pair a suite's kind expects:
// "robot" suites use robot-plan/robot-fix-done, anything else uses
// ui-plan/ui-fix-done.
func planTag(kind string) signalgrammar.Tag {
	if kind == "robot" {
		return signalgrammar.RobotPlan
	}
	return signalgrammar.UIPlan
}

func fixTag(kind string) signalgrammar.Tag {
	if kind == "robot" {
		return signalgrammar.RobotFixDone
	}
	return signalgrammar.UIFixDone
}

// runFixLoop runs up to maxIterations rounds of plan→implement→retest
// against a single failing suite, stopping as soon as a retest passes.
func (e *Engine) runFixLoop(ctx context.Context, suite runconfig.UISuite, baseURL, failureDescription string, maxIterations int) (fixed bool, iterations int) {
	if maxIterations <= 0 || e.invoker == nil {
		return false, 0
	}
	token := e.ledger.Meta.SessionToken

	_ = e.timeline.FixLoopStart()
	for iteration := 1; iteration <= maxIterations; iteration++ {
		_ = e.timeline.FixLoopIteration(iteration)

		planPrompt := buildPlanPrompt(suite, failureDescription, token)
		planOut := e.invoker.Invoke(ctx, planPrompt, suite.Name, ralphmodel.RolePlanning, e.cfg.Agents[string(ralphmodel.RolePlanning)])
		if !planOut.Success {
			continue
		}
		planSig, ok := signalgrammar.Find(planOut.Text, planTag(suite.Kind))
		if !ok || !signalgrammar.Validate(planSig, token) {
			continue
		}

		fixPrompt := buildFixPrompt(suite, planSig.Body, token)
		fixOut := e.invoker.Invoke(ctx, fixPrompt, suite.Name, ralphmodel.RoleFix, e.cfg.Agents[string(ralphmodel.RoleFix)])
		if !fixOut.Success {
			continue
		}
		fixSig, ok := signalgrammar.Find(fixOut.Text, fixTag(suite.Kind))
		if !ok || !signalgrammar.Validate(fixSig, token) {
			continue
		}

		retest := e.runSuite(ctx, suite, baseURL)
		if retest.Passed {
			_ = e.timeline.FixLoopEnd(true)
			return true, iteration
		}
		failureDescription = retest.Error
	}

	_ = e.timeline.FixLoopEnd(false)
	return false, maxIterations
}

func buildPlanPrompt(suite runconfig.UISuite, failureDescription, sessionToken string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the planning agent fixing a failing %s test suite named %q.\n\n", suite.Kind, suite.Name)
	sb.WriteString("## Failure\n")
	sb.WriteString(failureDescription)
	sb.WriteString("\n\n")
	tag := planTag(suite.Kind)
	fmt.Fprintf(&sb, "Analyze the failure and propose a fix plan. Emit exactly one "+
		"<%s session=\"%s\">your plan</%s> block.\n", tag, sessionToken, tag)
	return sb.String()
}

func buildFixPrompt(suite runconfig.UISuite, plan, sessionToken string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the implementation agent applying a fix plan for the %q suite.\n\n", suite.Name)
	sb.WriteString("## Plan\n")
	sb.WriteString(plan)
	sb.WriteString("\n\n")
	tag := fixTag(suite.Kind)
	fmt.Fprintf(&sb, "Apply the plan. When done, emit exactly one "+
		"<%s session=\"%s\">summary of the fix</%s> block.\n", tag, sessionToken, tag)
	return sb.String()
}
