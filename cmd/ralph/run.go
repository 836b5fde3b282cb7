package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralph-orchestrator/ralph/internal/agentapi"
	"github.com/ralph-orchestrator/ralph/internal/agentrunner"
	"github.com/ralph-orchestrator/ralph/internal/console"
	"github.com/ralph-orchestrator/ralph/internal/history"
	"github.com/ralph-orchestrator/ralph/internal/loop"
	"github.com/ralph-orchestrator/ralph/internal/prd"
	"github.com/ralph-orchestrator/ralph/internal/runconfig"
	"github.com/ralph-orchestrator/ralph/internal/service"
	"github.com/ralph-orchestrator/ralph/internal/session"
	"github.com/ralph-orchestrator/ralph/internal/timeline"
	"github.com/ralph-orchestrator/ralph/internal/verify"
	"github.com/ralph-orchestrator/ralph/internal/watchconfig"
	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

var (
	runTaskID        string
	runFromTaskID    string
	runMaxIterations int
	runGateType      string
	runDryRun        bool
	runResume        bool
	runPostVerify    bool
	runWatch         bool
	runWatchConfig   bool
	runEnv           string
	runFix           bool
	runFixIterations int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the verified task loop against a task source",
	Long: `run drives every pending task in the configured task source
through the four-phase verified loop: implementation, test-writing,
gates, and review.

The first task failure stops the run; completed tasks are recorded in
the checksum-sealed ledger at .ralph-session/ so a later --resume picks
up where the run left off.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runTaskID, "task-id", "", "run only this task")
	runCmd.Flags().StringVar(&runFromTaskID, "from-task-id", "", "skip pending tasks before this id")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "override limits.max_iterations")
	runCmd.Flags().StringVar(&runGateType, "gate-type", "full", "gate list to run: none, build, or full")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print the planned task sequence and exit")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "resume the existing session in .ralph-session/")
	runCmd.Flags().BoolVar(&runPostVerify, "post-verify", false, "run the verify driver after the loop completes")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "show a live dashboard instead of plain output")
	runCmd.Flags().BoolVar(&runWatchConfig, "watch-config", false, "revalidate ralph.yml on edit, warning instead of aborting")
	runCmd.Flags().StringVar(&runEnv, "env", "dev", "environment for post-verify service startup: dev or prod")
	runCmd.Flags().BoolVar(&runFix, "fix", false, "attempt a bounded fix loop on post-verify suite failures")
	runCmd.Flags().IntVar(&runFixIterations, "fix-iterations", 0, "override limits.fix_iterations for post-verify")
}

func runRun(cmd *cobra.Command, args []string) error {
	verbose := os.Getenv("RALPH_DEBUG") != ""
	out := console.Stdout()

	repoRoot, err := os.Getwd()
	if err != nil {
		return exitError(ralphmodel.ExitConfigError, fmt.Errorf("get working directory: %w", err))
	}

	cfg, err := runconfig.Load()
	if err != nil {
		return exitError(ralphmodel.ExitConfigError, fmt.Errorf("loading ralph.yml: %w", err))
	}

	gateType := ralphmodel.GateType(runGateType)
	switch gateType {
	case ralphmodel.GateTypeNone, ralphmodel.GateTypeBuild, ralphmodel.GateTypeFull:
	default:
		return exitError(ralphmodel.ExitConfigError, fmt.Errorf("invalid --gate-type %q", runGateType))
	}

	if !allRolesUseAPI(cfg) {
		if err := CheckAgentCLI(""); err != nil {
			return exitError(ralphmodel.ExitAgentError, err)
		}
	}

	tasks, err := prd.Load(cfg.TaskSource)
	if err != nil {
		return exitError(ralphmodel.ExitTaskSourceError, fmt.Errorf("loading task source: %w", err))
	}

	var ledger *session.Ledger
	if runResume {
		ledger, err = session.Resume(repoRoot)
		if errors.Is(err, session.ErrTamperingDetected) {
			return exitError(ralphmodel.ExitTamperingDetected, fmt.Errorf("resuming session: %w", err))
		}
		if err != nil {
			return exitError(ralphmodel.ExitConfigError, fmt.Errorf("resuming session: %w", err))
		}
		if ledger.Meta.Status != ralphmodel.SessionRunning {
			return exitError(ralphmodel.ExitConfigError, fmt.Errorf("session %s has status %q; only a running session can be resumed", ledger.Meta.SessionID, ledger.Meta.Status))
		}
	} else {
		ledger, err = session.Create(repoRoot)
		if err != nil {
			return exitError(ralphmodel.ExitConfigError, fmt.Errorf("creating session: %w", err))
		}
	}

	tl := timeline.NewLogger(ledger.TimelinePath(), ledger.Meta.SessionID)
	_ = tl.SessionStart()

	invoker, err := buildInvoker(cfg, repoRoot, ledger.LogsDir(), tl)
	if err != nil {
		return exitError(ralphmodel.ExitAgentError, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	abortSignalCh := installSignalHandler(cancel, verbose)

	if runWatchConfig {
		if w, err := watchconfig.New(runconfig.GetProjectConfigPath()); err == nil {
			defer w.Close()
			go watchConfigLoop(ctx, w, tl)
		}
	}

	engine := loop.NewEngine(cfg, repoRoot, cfg.TaskSource, ledger, tl, invoker)
	opts := loop.Options{
		TaskID:        runTaskID,
		FromTaskID:    runFromTaskID,
		MaxIterations: runMaxIterations,
		GateType:      gateType,
		DryRun:        runDryRun,
	}

	var result loop.RunResult
	if runWatch && !runDryRun {
		result, err = runWithDashboard(ctx, engine, tasks, opts, ledger)
	} else {
		result, err = engine.Run(ctx, tasks, opts)
	}

	select {
	case signum := <-abortSignalCh:
		finishSession(ledger, tl, ralphmodel.SessionAborted, repoRoot, cfg.TaskSource)
		out.Fail(fmt.Sprintf("aborted by signal %d", signum))
		os.Exit(ralphmodel.AbortExitCode(signum))
	default:
	}
	if err != nil {
		finishSession(ledger, tl, ralphmodel.SessionAborted, repoRoot, cfg.TaskSource)
		return exitError(result.ExitCode, err)
	}

	if runDryRun {
		out.Info(fmt.Sprintf("dry run: %d task(s) planned", len(result.TaskResults)))
		for _, r := range result.TaskResults {
			out.Info(fmt.Sprintf("  - %s", r.TaskID))
		}
		return nil
	}

	printRunSummary(out, result)

	finalStatus := ralphmodel.SessionCompleted
	if !result.AllPassed {
		finalStatus = ralphmodel.SessionFailed
	}
	finishSession(ledger, tl, finalStatus, repoRoot, cfg.TaskSource)

	if result.AllPassed && runPostVerify {
		services, err := service.NewManager(ledger.Dir(), runEnv, tl)
		if err != nil {
			return exitError(ralphmodel.ExitServiceFailure, fmt.Errorf("setting up service manager: %w", err))
		}
		vEngine := verify.NewEngine(cfg, repoRoot, ledger, tl, services, invoker)
		vResult := vEngine.Run(ctx, verify.Options{
			GateType:      gateType,
			Env:           runEnv,
			Fix:           runFix,
			FixIterations: runFixIterations,
		})
		out.GatesSummary(vResult.GatesResult)
		for _, s := range vResult.Suites {
			out.Suite(s.Name, s.Passed, s.DurationMS, s.FixIterations)
		}
		if !vResult.AllPassed() {
			return exitError(vResult.ExitCode, fmt.Errorf("post-verify failed: %s", vResult.Error))
		}
	}

	if !result.AllPassed {
		return exitError(result.ExitCode, fmt.Errorf("task execution failed"))
	}
	return nil
}

// allRolesUseAPI reports whether every configured agent role uses the
// direct-API backend, meaning the CLI binary check can be skipped.
func allRolesUseAPI(cfg *runconfig.Config) bool {
	if len(cfg.Agents) == 0 {
		return false
	}
	for _, roleCfg := range cfg.Agents {
		if roleCfg.Backend != "api" {
			return false
		}
	}
	return true
}

// buildInvoker wires the CLI and, if any role needs it, the direct-API
// backend behind a single loop.DualInvoker.
func buildInvoker(cfg *runconfig.Config, repoRoot, logsDir string, tl *timeline.Logger) (*loop.DualInvoker, error) {
	cli := agentrunner.NewRunner("", repoRoot, logsDir, tl)

	needsAPI := false
	for _, roleCfg := range cfg.Agents {
		if roleCfg.Backend == "api" {
			needsAPI = true
			break
		}
	}

	di := &loop.DualInvoker{CLI: cli, WorkDir: repoRoot}
	if !needsAPI {
		return di, nil
	}

	client, err := agentapi.NewClient(agentapi.ClientConfig{
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring direct-API agent backend: %w", err)
	}
	di.API = agentapi.NewRunner(client, tl)
	return di, nil
}

// installSignalHandler cancels ctx on SIGINT/SIGTERM and returns a
// channel that receives the signal number once that happens. Callers
// check it non-blockingly after the run loop returns, since ctx
// cancellation is what makes the loop return promptly in the first
// place.
func installSignalHandler(cancel context.CancelFunc, verbose bool) <-chan int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	received := make(chan int, 1)
	go func() {
		sig := <-sigCh
		if verbose {
			fmt.Fprintf(os.Stderr, "[DEBUG] received signal %v, aborting\n", sig)
		}
		switch sig {
		case syscall.SIGINT:
			received <- int(syscall.SIGINT)
		case syscall.SIGTERM:
			received <- int(syscall.SIGTERM)
		}
		cancel()
	}()
	return received
}

func watchConfigLoop(ctx context.Context, w *watchconfig.Watcher, tl *timeline.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-w.Results():
			if res.Err != nil {
				_ = tl.GuardrailViolation("", nil, nil)
				fmt.Fprintf(os.Stderr, "warning: ralph.yml is now invalid, keeping prior config: %v\n", res.Err)
			}
		}
	}
}

func finishSession(ledger *session.Ledger, tl *timeline.Logger, status ralphmodel.SessionStatus, repoRoot, taskSource string) {
	ledger.Meta.Status = status
	ledger.Meta.EndedAt = ralphmodel.ISOTimestamp(time.Now())
	_ = ledger.SaveMeta()
	_ = tl.SessionEnd(string(status))

	if db, err := history.OpenForProject(repoRoot); err == nil {
		defer db.Close()
		_ = db.RecordRun(taskSource, ledger.Meta)
	}
}

func printRunSummary(out *console.Printer, result loop.RunResult) {
	completed, failed := 0, 0
	for _, r := range result.TaskResults {
		if r.Success {
			completed++
		} else {
			failed++
		}
	}
	if result.AllPassed {
		out.OK(fmt.Sprintf("%d task(s) completed", completed))
	} else {
		out.Fail(fmt.Sprintf("%d completed, %d failed", completed, failed))
	}
}

// exitError prints the failure and returns an error carrying the exit
// code cobra should use; main's Execute always os.Exit(1) on any
// returned error, so the precise exit code is applied here directly.
func exitError(code ralphmodel.ExitCode, err error) error {
	console.Stdout().Fail(err.Error())
	os.Exit(int(code))
	return nil
}
