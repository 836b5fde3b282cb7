package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ralph-orchestrator/ralph/internal/loop"
	"github.com/ralph-orchestrator/ralph/internal/runconfig"
	"github.com/ralph-orchestrator/ralph/internal/service"
	"github.com/ralph-orchestrator/ralph/internal/session"
	"github.com/ralph-orchestrator/ralph/internal/signalgrammar"
	"github.com/ralph-orchestrator/ralph/internal/timeline"
	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

// fakeInvoker lets tests script fix-loop behavior without a real agent.
type fakeInvoker struct {
	onPlan func() loop.AgentOutcome
	onFix  func() loop.AgentOutcome
}

func (f *fakeInvoker) Invoke(_ context.Context, _, _ string, role ralphmodel.AgentRole, _ ralphmodel.AgentRoleConfig) loop.AgentOutcome {
	switch role {
	case ralphmodel.RolePlanning:
		return f.onPlan()
	case ralphmodel.RoleFix:
		return f.onFix()
	default:
		return loop.AgentOutcome{Success: false, Error: "unexpected role " + string(role)}
	}
}

func newTestEngine(t *testing.T, cfg *runconfig.Config, invoker loop.Invoker) *Engine {
	t.Helper()
	repoRoot := t.TempDir()

	ledger, err := session.Create(repoRoot)
	if err != nil {
		t.Fatalf("session.Create() error = %v", err)
	}
	tl := timeline.NewLogger(ledger.TimelinePath(), ledger.Meta.SessionID)

	mgr, err := service.NewManager(ledger.Dir(), "dev", tl)
	if err != nil {
		t.Fatalf("service.NewManager() error = %v", err)
	}

	return NewEngine(cfg, repoRoot, ledger, tl, mgr, invoker)
}

func gateConfig(name, cmd string) ralphmodel.GateConfig {
	return ralphmodel.GateConfig{Name: name, Cmd: cmd, TimeoutSeconds: 10}
}

func TestRun_GateFailure_StopsBeforeSuites(t *testing.T) {
	cfg := &runconfig.Config{
		Gates: runconfig.GatesConfig{Full: []ralphmodel.GateConfig{gateConfig("build", "false")}},
		UI:    runconfig.UIConfig{Suites: []runconfig.UISuite{{Name: "smoke", Cmd: "true", Kind: "ui"}}},
	}
	e := newTestEngine(t, cfg, nil)

	result := e.Run(context.Background(), Options{})

	if result.ExitCode != ralphmodel.ExitGateFailure {
		t.Errorf("ExitCode = %v, want ExitGateFailure", result.ExitCode)
	}
	if len(result.Suites) != 0 {
		t.Errorf("Suites = %+v, want no suites attempted after gate failure", result.Suites)
	}
}

func TestRun_NoSuitesConfigured_PassesOnGatesAlone(t *testing.T) {
	cfg := &runconfig.Config{
		Gates: runconfig.GatesConfig{Full: []ralphmodel.GateConfig{gateConfig("build", "true")}},
	}
	e := newTestEngine(t, cfg, nil)

	result := e.Run(context.Background(), Options{})

	if result.ExitCode != ralphmodel.ExitSuccess {
		t.Errorf("ExitCode = %v, want ExitSuccess", result.ExitCode)
	}
	if !result.AllPassed() {
		t.Errorf("AllPassed() = false, want true")
	}
}

func TestRun_SuiteFailure_NoFix(t *testing.T) {
	cfg := &runconfig.Config{
		Gates: runconfig.GatesConfig{Full: []ralphmodel.GateConfig{gateConfig("build", "true")}},
		UI:    runconfig.UIConfig{Suites: []runconfig.UISuite{{Name: "smoke", Cmd: "false", Kind: "ui"}}},
	}
	e := newTestEngine(t, cfg, nil)

	result := e.Run(context.Background(), Options{SkipServices: true})

	if result.ExitCode != ralphmodel.ExitVerificationFailed {
		t.Errorf("ExitCode = %v, want ExitVerificationFailed", result.ExitCode)
	}
	if len(result.Suites) != 1 || result.Suites[0].Passed {
		t.Errorf("Suites = %+v, want one failing suite", result.Suites)
	}
	if result.Suites[0].FixIterations != 0 {
		t.Errorf("FixIterations = %d, want 0 when --fix is not set", result.Suites[0].FixIterations)
	}
}

func TestRun_SuiteFailure_FixLoopRecovers(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "fixed")

	cfg := &runconfig.Config{
		Gates: runconfig.GatesConfig{Full: []ralphmodel.GateConfig{gateConfig("build", "true")}},
		UI: runconfig.UIConfig{Suites: []runconfig.UISuite{
			{Name: "smoke", Cmd: fmt.Sprintf("test -f %s", marker), Kind: "ui"},
		}},
		Limits: runconfig.LimitsConfig{FixIterations: 3},
		Agents: map[string]ralphmodel.AgentRoleConfig{
			string(ralphmodel.RolePlanning): {Model: "sonnet"},
			string(ralphmodel.RoleFix):      {Model: "sonnet"},
		},
	}

	var token string
	invoker := &fakeInvoker{
		onPlan: func() loop.AgentOutcome {
			return loop.AgentOutcome{Success: true, Text: fmt.Sprintf(`<ui-plan session="%s">touch the marker file</ui-plan>`, token)}
		},
		onFix: func() loop.AgentOutcome {
			_ = os.WriteFile(marker, []byte("ok"), 0644)
			return loop.AgentOutcome{Success: true, Text: fmt.Sprintf(`<ui-fix-done session="%s">created marker</ui-fix-done>`, token)}
		},
	}

	e := newTestEngine(t, cfg, invoker)
	token = e.ledger.Meta.SessionToken

	result := e.Run(context.Background(), Options{SkipServices: true, Fix: true})

	if result.ExitCode != ralphmodel.ExitSuccess {
		t.Fatalf("ExitCode = %v, want ExitSuccess, result = %+v", result.ExitCode, result)
	}
	if len(result.Suites) != 1 || !result.Suites[0].Passed {
		t.Errorf("Suites = %+v, want one suite passed after fix loop", result.Suites)
	}
	if result.Suites[0].FixIterations != 1 {
		t.Errorf("FixIterations = %d, want 1", result.Suites[0].FixIterations)
	}
}

func TestRun_SuiteFailure_FixLoopExhausts(t *testing.T) {
	cfg := &runconfig.Config{
		Gates:  runconfig.GatesConfig{Full: []ralphmodel.GateConfig{gateConfig("build", "true")}},
		UI:     runconfig.UIConfig{Suites: []runconfig.UISuite{{Name: "smoke", Cmd: "false", Kind: "robot"}}},
		Limits: runconfig.LimitsConfig{FixIterations: 2},
		Agents: map[string]ralphmodel.AgentRoleConfig{
			string(ralphmodel.RolePlanning): {Model: "sonnet"},
			string(ralphmodel.RoleFix):      {Model: "sonnet"},
		},
	}

	var token string
	invoker := &fakeInvoker{
		onPlan: func() loop.AgentOutcome {
			return loop.AgentOutcome{Success: true, Text: fmt.Sprintf(`<robot-plan session="%s">plan</robot-plan>`, token)}
		},
		onFix: func() loop.AgentOutcome {
			return loop.AgentOutcome{Success: true, Text: fmt.Sprintf(`<robot-fix-done session="%s">fixed</robot-fix-done>`, token)}
		},
	}

	e := newTestEngine(t, cfg, invoker)
	token = e.ledger.Meta.SessionToken

	result := e.Run(context.Background(), Options{SkipServices: true, Fix: true})

	if result.ExitCode != ralphmodel.ExitVerificationFailed {
		t.Errorf("ExitCode = %v, want ExitVerificationFailed", result.ExitCode)
	}
	if result.Suites[0].FixIterations != 2 {
		t.Errorf("FixIterations = %d, want 2 (exhausted fix_iterations)", result.Suites[0].FixIterations)
	}
}

func TestPlanTagAndFixTag_SelectByKind(t *testing.T) {
	if got := planTag("robot"); got != signalgrammar.RobotPlan {
		t.Errorf("planTag(robot) = %v, want RobotPlan", got)
	}
	if got := planTag("ui"); got != signalgrammar.UIPlan {
		t.Errorf("planTag(ui) = %v, want UIPlan", got)
	}
	if got := fixTag("robot"); got != signalgrammar.RobotFixDone {
		t.Errorf("fixTag(robot) = %v, want RobotFixDone", got)
	}
	if got := fixTag("other"); got != signalgrammar.UIFixDone {
		t.Errorf("fixTag(other) = %v, want UIFixDone", got)
	}
}
