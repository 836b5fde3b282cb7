package console

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

func newTestPrinter(buf *bytes.Buffer) *Printer {
	color.NoColor = true // keep status-symbol assertions stable across environments
	return New(buf)
}

func TestOKFailWarn_PrintSymbolAndMessage(t *testing.T) {
	var buf bytes.Buffer
	p := newTestPrinter(&buf)

	p.OK("build gate")
	p.Fail("lint gate")
	p.Warn("coverage gate")

	out := buf.String()
	for _, want := range []string{"✓ build gate", "✗ lint gate", "⚠ coverage gate"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestPhase_PrintsTaskAndPhaseName(t *testing.T) {
	var buf bytes.Buffer
	p := newTestPrinter(&buf)

	p.Phase("task-003", ralphmodel.PhaseImplementation)

	out := buf.String()
	if !strings.Contains(out, "task-003") || !strings.Contains(out, "implementation") {
		t.Errorf("output %q missing task id or phase name", out)
	}
}

func TestPhaseOutcome_StylesByKind(t *testing.T) {
	cases := []struct {
		name string
		kind ralphmodel.OutcomeKind
		want string
	}{
		{"success", ralphmodel.OutcomeSuccess, "✓"},
		{"gates failed", ralphmodel.OutcomeGatesFailed, "✗"},
		{"subprocess error", ralphmodel.OutcomeSubprocessErr, "✗"},
		{"bad signal", ralphmodel.OutcomeBadSignal, "⚠"},
		{"review rejected", ralphmodel.OutcomeReviewRejected, "⚠"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			p := newTestPrinter(&buf)
			p.PhaseOutcome("task-001", ralphmodel.PhaseReview, ralphmodel.PhaseOutcome{
				Phase:           ralphmodel.PhaseReview,
				Kind:            tc.kind,
				GateFeedback:    "gate output",
				RejectionBody:   "needs more tests",
				SubprocessError: "exit status 1",
				ExpectedTag:     "review-approved",
				ExpectedToken:   "tok",
			})
			if !strings.Contains(buf.String(), tc.want) {
				t.Errorf("PhaseOutcome(%v) = %q, want symbol %q", tc.kind, buf.String(), tc.want)
			}
		})
	}
}

func TestGateResult_NonFatalFailureIsWarned(t *testing.T) {
	var buf bytes.Buffer
	p := newTestPrinter(&buf)

	p.GateResult(ralphmodel.GateResult{Name: "lint", Outcome: ralphmodel.GateFailed, Fatal: false, DurationMS: 12})

	out := buf.String()
	if !strings.Contains(out, "⚠") || !strings.Contains(out, "non-fatal") {
		t.Errorf("output %q, want non-fatal warning", out)
	}
}

func TestGateResult_FatalFailureIsFailed(t *testing.T) {
	var buf bytes.Buffer
	p := newTestPrinter(&buf)

	p.GateResult(ralphmodel.GateResult{Name: "build", Outcome: ralphmodel.GateFailed, Fatal: true, DurationMS: 8})

	if !strings.Contains(buf.String(), "✗") {
		t.Errorf("output %q, want fatal failure symbol", buf.String())
	}
}

func TestGatesSummary_PassedAndFailed(t *testing.T) {
	var buf bytes.Buffer
	p := newTestPrinter(&buf)
	p.GatesSummary(ralphmodel.GatesRunResult{
		GateType: ralphmodel.GateTypeBuild,
		Passed:   true,
		Results:  []ralphmodel.GateResult{{Name: "build", Outcome: ralphmodel.GatePassed, DurationMS: 5}},
	})
	if !strings.Contains(buf.String(), "gates passed") {
		t.Errorf("output %q, want gates passed summary", buf.String())
	}

	buf.Reset()
	p.GatesSummary(ralphmodel.GatesRunResult{
		GateType: ralphmodel.GateTypeFull,
		Passed:   false,
		Results:  []ralphmodel.GateResult{{Name: "build", Outcome: ralphmodel.GateFailed, Fatal: true, DurationMS: 5}},
	})
	if !strings.Contains(buf.String(), "gates failed") {
		t.Errorf("output %q, want gates failed summary", buf.String())
	}
}

func TestSuite_NotesFixIterations(t *testing.T) {
	var buf bytes.Buffer
	p := newTestPrinter(&buf)

	p.Suite("smoke", true, 120, 2)

	out := buf.String()
	if !strings.Contains(out, "✓") || !strings.Contains(out, "fixed in 2 iteration") {
		t.Errorf("output %q, want passed suite noting fix iterations", out)
	}
}

func TestBox_RendersSessionIDAndStatus(t *testing.T) {
	var buf bytes.Buffer
	p := newTestPrinter(&buf)

	p.Box(RunSummary{
		SessionID:       "20260730-000000-abcd",
		Status:          ralphmodel.SessionCompleted,
		CompletedTasks:  3,
		PendingTasks:    0,
		TotalIterations: 5,
		Duration:        90 * time.Second,
	})

	out := buf.String()
	for _, want := range []string{"20260730-000000-abcd", "completed", "3 done", "0 pending"} {
		if !strings.Contains(out, want) {
			t.Errorf("box output %q missing %q", out, want)
		}
	}
}
