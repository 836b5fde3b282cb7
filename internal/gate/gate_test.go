package gate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

func boolPtr(b bool) *bool { return &b }

func TestRun_GatePasses(t *testing.T) {
	r := NewRunner(t.TempDir(), "", nil)
	gates := []ralphmodel.GateConfig{{Name: "echo", Cmd: "echo ok"}}

	result := r.Run(ralphmodel.GateTypeBuild, gates, "T-001")
	if !result.Passed {
		t.Fatalf("Run() = %+v, want passed", result)
	}
	if result.Results[0].Outcome != ralphmodel.GatePassed {
		t.Errorf("Outcome = %q, want passed", result.Results[0].Outcome)
	}
}

func TestRun_GateFails(t *testing.T) {
	r := NewRunner(t.TempDir(), "", nil)
	gates := []ralphmodel.GateConfig{{Name: "boom", Cmd: "exit 1"}}

	result := r.Run(ralphmodel.GateTypeBuild, gates, "T-001")
	if result.Passed {
		t.Fatal("Run() reported passed for a failing fatal gate")
	}
	if result.FatalFailure == nil || result.FatalFailure.Name != "boom" {
		t.Errorf("FatalFailure = %+v, want boom", result.FatalFailure)
	}
}

func TestRun_NonFatalFailureContinues(t *testing.T) {
	r := NewRunner(t.TempDir(), "", nil)
	gates := []ralphmodel.GateConfig{
		{Name: "lint", Cmd: "exit 1", Fatal: boolPtr(false)},
		{Name: "build", Cmd: "echo ok"},
	}

	result := r.Run(ralphmodel.GateTypeFull, gates, "T-001")
	if len(result.Results) != 2 {
		t.Fatalf("Results = %+v, want 2 entries (non-fatal failure shouldn't stop the run)", result.Results)
	}
	if result.FatalFailure != nil {
		t.Errorf("FatalFailure = %+v, want nil", result.FatalFailure)
	}
}

func TestRun_FatalFailureStopsRemainingGates(t *testing.T) {
	r := NewRunner(t.TempDir(), "", nil)
	gates := []ralphmodel.GateConfig{
		{Name: "build", Cmd: "exit 1"},
		{Name: "lint", Cmd: "echo should-not-run"},
	}

	result := r.Run(ralphmodel.GateTypeFull, gates, "T-001")
	if len(result.Results) != 1 {
		t.Fatalf("Results = %+v, want only the fatal gate to have run", result.Results)
	}
}

func TestRun_SkipsWhenConditionNotMet(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(dir, "", nil)
	gates := []ralphmodel.GateConfig{{Name: "ui", Cmd: "echo ok", When: "ui-tests"}}

	result := r.Run(ralphmodel.GateTypeFull, gates, "T-001")
	if !result.Passed {
		t.Fatal("skipped gate should count toward an overall pass")
	}
	if result.Results[0].Outcome != ralphmodel.GateSkipped {
		t.Errorf("Outcome = %q, want skipped", result.Results[0].Outcome)
	}
}

func TestRun_RunsWhenConditionMet(t *testing.T) {
	dir := t.TempDir()
	if err := writeMarker(t, dir, "ui-tests"); err != nil {
		t.Fatal(err)
	}
	r := NewRunner(dir, "", nil)
	gates := []ralphmodel.GateConfig{{Name: "ui", Cmd: "echo ok", When: "ui-tests"}}

	result := r.Run(ralphmodel.GateTypeFull, gates, "T-001")
	if result.Results[0].Outcome != ralphmodel.GatePassed {
		t.Errorf("Outcome = %q, want passed once condition path exists", result.Results[0].Outcome)
	}
}

func writeMarker(t *testing.T, dir, name string) error {
	t.Helper()
	return os.WriteFile(filepath.Join(dir, name), []byte("marker"), 0644)
}

func TestRun_TimesOut(t *testing.T) {
	r := NewRunner(t.TempDir(), "", nil)
	gates := []ralphmodel.GateConfig{{Name: "slow", Cmd: "sleep 5", TimeoutSeconds: 1}}

	start := time.Now()
	result := r.Run(ralphmodel.GateTypeFull, gates, "T-001")
	if time.Since(start) > 4*time.Second {
		t.Fatal("gate should have been killed by its timeout, not run to completion")
	}
	if result.Results[0].Outcome != ralphmodel.GateFailed || !result.Results[0].TimedOut {
		t.Errorf("Results[0] = %+v, want failed+timed_out", result.Results[0])
	}
}

func TestTruncateOutput(t *testing.T) {
	lines := make([]string, 25)
	for i := range lines {
		lines[i] = "line"
	}
	out := truncateOutput(strings.Join(lines, "\n"))
	gotLines := strings.Split(out, "\n")
	if gotLines[10] != "..." {
		t.Errorf("truncateOutput did not elide the middle; got %q at line 10", gotLines[10])
	}
	if len(gotLines) != 21 {
		t.Errorf("truncateOutput produced %d lines, want 10+1+10=21", len(gotLines))
	}
}

func TestTruncateOutput_ShortOutputUnchanged(t *testing.T) {
	short := "one\ntwo\nthree"
	if got := truncateOutput(short); got != short {
		t.Errorf("truncateOutput(%q) = %q, want unchanged", short, got)
	}
}
