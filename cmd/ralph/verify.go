package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ralph-orchestrator/ralph/internal/console"
	"github.com/ralph-orchestrator/ralph/internal/runconfig"
	"github.com/ralph-orchestrator/ralph/internal/service"
	"github.com/ralph-orchestrator/ralph/internal/session"
	"github.com/ralph-orchestrator/ralph/internal/timeline"
	"github.com/ralph-orchestrator/ralph/internal/verify"
	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

var (
	verifyGateType      string
	verifyEnv           string
	verifySkipServices  bool
	verifyFix           bool
	verifyFixIterations int
	verifyBaseURL       string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run gates and UI/Robot test suites against a built project",
	Long: `verify runs the configured gates, starts the project's backend
and frontend (unless --skip-services is set), then runs every
configured UI test suite against them.

A failing suite can be handed to a bounded plan -> implement -> retest
fix loop with --fix, reusing the same agent backend that ran the task
loop.`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyGateType, "gate-type", "full", "gate list to run: none, build, or full")
	verifyCmd.Flags().StringVar(&verifyEnv, "env", "dev", "environment for service startup: dev or prod")
	verifyCmd.Flags().BoolVar(&verifySkipServices, "skip-services", false, "run gates and suites without starting backend/frontend")
	verifyCmd.Flags().BoolVar(&verifyFix, "fix", false, "attempt a bounded fix loop on suite failures")
	verifyCmd.Flags().IntVar(&verifyFixIterations, "fix-iterations", 0, "override limits.fix_iterations")
	verifyCmd.Flags().StringVar(&verifyBaseURL, "base-url", "", "target this URL instead of starting services")
}

func runVerify(cmd *cobra.Command, args []string) error {
	out := console.Stdout()

	repoRoot, err := os.Getwd()
	if err != nil {
		return exitError(ralphmodel.ExitConfigError, fmt.Errorf("get working directory: %w", err))
	}

	cfg, err := runconfig.Load()
	if err != nil {
		return exitError(ralphmodel.ExitConfigError, fmt.Errorf("loading ralph.yml: %w", err))
	}

	gateType := ralphmodel.GateType(verifyGateType)
	switch gateType {
	case ralphmodel.GateTypeNone, ralphmodel.GateTypeBuild, ralphmodel.GateTypeFull:
	default:
		return exitError(ralphmodel.ExitConfigError, fmt.Errorf("invalid --gate-type %q", verifyGateType))
	}

	if !allRolesUseAPI(cfg) {
		if err := CheckAgentCLI(""); err != nil {
			return exitError(ralphmodel.ExitAgentError, err)
		}
	}

	var ledger *session.Ledger
	if session.Exists(repoRoot) {
		ledger, err = session.Resume(repoRoot)
	} else {
		ledger, err = session.Create(repoRoot)
	}
	if err != nil {
		return exitError(ralphmodel.ExitConfigError, fmt.Errorf("opening session: %w", err))
	}

	tl := timeline.NewLogger(ledger.TimelinePath(), ledger.Meta.SessionID)

	invoker, err := buildInvoker(cfg, repoRoot, ledger.LogsDir(), tl)
	if err != nil {
		return exitError(ralphmodel.ExitAgentError, err)
	}

	var services *service.Manager
	if !verifySkipServices && verifyBaseURL == "" {
		services, err = service.NewManager(ledger.Dir(), verifyEnv, tl)
		if err != nil {
			return exitError(ralphmodel.ExitServiceFailure, fmt.Errorf("setting up service manager: %w", err))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	engine := verify.NewEngine(cfg, repoRoot, ledger, tl, services, invoker)
	result := engine.Run(ctx, verify.Options{
		GateType:      gateType,
		Env:           verifyEnv,
		SkipServices:  verifySkipServices,
		Fix:           verifyFix,
		FixIterations: verifyFixIterations,
		BaseURL:       verifyBaseURL,
	})

	out.GatesSummary(result.GatesResult)
	for _, s := range result.Suites {
		out.Suite(s.Name, s.Passed, s.DurationMS, s.FixIterations)
	}

	if !result.AllPassed() {
		return exitError(result.ExitCode, fmt.Errorf("verify failed: %s", result.Error))
	}
	out.OK("verify passed")
	return nil
}
