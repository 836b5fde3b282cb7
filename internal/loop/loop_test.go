package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/ralph-orchestrator/ralph/internal/runconfig"
	"github.com/ralph-orchestrator/ralph/internal/session"
	"github.com/ralph-orchestrator/ralph/internal/timeline"
	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

// scriptedInvoker returns a preset response per role, in call order,
// letting tests drive the loop through specific sequences of
// successes and failures without a real agent subprocess.
type scriptedInvoker struct {
	responses map[ralphmodel.AgentRole][]func() AgentOutcome
	calls     map[ralphmodel.AgentRole]int
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{
		responses: map[ralphmodel.AgentRole][]func() AgentOutcome{},
		calls:     map[ralphmodel.AgentRole]int{},
	}
}

func (s *scriptedInvoker) on(role ralphmodel.AgentRole, fn func() AgentOutcome) {
	s.responses[role] = append(s.responses[role], fn)
}

func (s *scriptedInvoker) Invoke(_ context.Context, _, _ string, role ralphmodel.AgentRole, _ ralphmodel.AgentRoleConfig) AgentOutcome {
	idx := s.calls[role]
	s.calls[role]++
	script := s.responses[role]
	if idx >= len(script) {
		idx = len(script) - 1
	}
	return script[idx]()
}

func newTestEngine(t *testing.T, invoker Invoker, cfg *runconfig.Config) (*Engine, *session.Ledger, string) {
	t.Helper()
	repoRoot := t.TempDir()

	ledger, err := session.Create(repoRoot)
	if err != nil {
		t.Fatalf("session.Create() error = %v", err)
	}

	tl := timeline.NewLogger(ledger.TimelinePath(), ledger.Meta.SessionID)
	prdPath := filepath.Join(repoRoot, "prd.json")

	e := NewEngine(cfg, repoRoot, prdPath, ledger, tl, invoker)
	return e, ledger, prdPath
}

// newTestEngineInGitRepo is like newTestEngine but initializes repoRoot
// as a git repository first, for tests that exercise the test-writing
// phase's guardrail (which shells out to git).
func newTestEngineInGitRepo(t *testing.T, invoker Invoker, cfg *runconfig.Config) (*Engine, *session.Ledger, string) {
	t.Helper()
	repoRoot := t.TempDir()

	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = repoRoot
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(repoRoot, "README.md"), []byte("# x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-q", "-m", "initial")

	ledger, err := session.Create(repoRoot)
	if err != nil {
		t.Fatalf("session.Create() error = %v", err)
	}
	tl := timeline.NewLogger(ledger.TimelinePath(), ledger.Meta.SessionID)
	prdPath := filepath.Join(repoRoot, "prd.json")

	e := NewEngine(cfg, repoRoot, prdPath, ledger, tl, invoker)
	return e, ledger, prdPath
}

func writePRD(t *testing.T, path string, tasks ...ralphmodel.Task) *ralphmodel.TaskList {
	t.Helper()
	tl := &ralphmodel.TaskList{Project: "p", Tasks: tasks}
	data := fmt.Sprintf(`{"project":"p","tasks":[`)
	for i, task := range tasks {
		if i > 0 {
			data += ","
		}
		data += fmt.Sprintf(`{"id":%q,"title":%q,"priority":%d,"requiresTests":%v}`, task.ID, task.Title, task.Priority, task.RequiresTests)
	}
	data += "]}"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("writing prd.json: %v", err)
	}
	return tl
}

func baseConfig() *runconfig.Config {
	return &runconfig.Config{
		TaskSource: "prd.json",
		Limits:     runconfig.LimitsConfig{MaxIterations: 3, FixIterations: 1, AgentTimeout: time.Minute},
		Agents: map[string]ralphmodel.AgentRoleConfig{
			string(ralphmodel.RoleImplementation): {Model: "sonnet"},
			string(ralphmodel.RoleTestWriting):    {Model: "sonnet"},
			string(ralphmodel.RoleReview):         {Model: "sonnet"},
		},
	}
}

func taskDoneTag(token string) string {
	return fmt.Sprintf(`<task-done session="%s">implemented</task-done>`, token)
}
func testsDoneTag(token string) string {
	return fmt.Sprintf(`<tests-done session="%s">wrote tests</tests-done>`, token)
}
func reviewApprovedTag(token string) string {
	return fmt.Sprintf(`<review-approved session="%s">looks good</review-approved>`, token)
}
func reviewRejectedTag(token, body string) string {
	return fmt.Sprintf(`<review-rejected session="%s">%s</review-rejected>`, token, body)
}

func TestRun_HappyPath_SingleTaskApprovesFirstIteration(t *testing.T) {
	cfg := baseConfig()
	invoker := newScriptedInvoker()

	e, ledger, prdPath := newTestEngine(t, invoker, cfg)
	token := ledger.Meta.SessionToken

	invoker.on(ralphmodel.RoleImplementation, func() AgentOutcome {
		return AgentOutcome{Text: taskDoneTag(token), Success: true}
	})
	invoker.on(ralphmodel.RoleReview, func() AgentOutcome {
		return AgentOutcome{Text: reviewApprovedTag(token), Success: true}
	})

	task := ralphmodel.Task{ID: "T-001", Title: "do the thing", Priority: 1}
	writePRD(t, prdPath, task)
	list := &ralphmodel.TaskList{Project: "p", Tasks: []ralphmodel.Task{task}}

	result, err := e.Run(context.Background(), list, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.AllPassed {
		t.Fatalf("Run() = %+v, want all tasks passed", result)
	}
	if len(result.TaskResults) != 1 || result.TaskResults[0].Iterations != 1 {
		t.Errorf("TaskResults = %+v, want one result with 1 iteration", result.TaskResults)
	}

	saved, err := readBackPRD(prdPath)
	if err != nil {
		t.Fatalf("reading back prd.json: %v", err)
	}
	if got, ok := saved.ByID("T-001"); !ok || !got.Passes {
		t.Errorf("task T-001 not marked passes in persisted prd.json")
	}
}

func TestRun_BadTokenFirstAttempt_CorrectedSecond(t *testing.T) {
	cfg := baseConfig()
	invoker := newScriptedInvoker()

	e, ledger, prdPath := newTestEngine(t, invoker, cfg)
	token := ledger.Meta.SessionToken

	invoker.on(ralphmodel.RoleImplementation, func() AgentOutcome {
		return AgentOutcome{Text: `<task-done session="wrong-token">oops</task-done>`, Success: true}
	})
	invoker.on(ralphmodel.RoleImplementation, func() AgentOutcome {
		return AgentOutcome{Text: taskDoneTag(token), Success: true}
	})
	invoker.on(ralphmodel.RoleReview, func() AgentOutcome {
		return AgentOutcome{Text: reviewApprovedTag(token), Success: true}
	})

	task := ralphmodel.Task{ID: "T-001", Title: "do the thing", Priority: 1}
	writePRD(t, prdPath, task)
	list := &ralphmodel.TaskList{Project: "p", Tasks: []ralphmodel.Task{task}}

	result, err := e.Run(context.Background(), list, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.AllPassed {
		t.Fatalf("Run() = %+v, want all tasks passed", result)
	}
	if result.TaskResults[0].Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", result.TaskResults[0].Iterations)
	}
}

func TestRun_ReviewRejectionThenApproval(t *testing.T) {
	cfg := baseConfig()
	invoker := newScriptedInvoker()

	e, ledger, prdPath := newTestEngine(t, invoker, cfg)
	token := ledger.Meta.SessionToken

	invoker.on(ralphmodel.RoleImplementation, func() AgentOutcome {
		return AgentOutcome{Text: taskDoneTag(token), Success: true}
	})
	invoker.on(ralphmodel.RoleReview, func() AgentOutcome {
		return AgentOutcome{Text: reviewRejectedTag(token, "missing edge case handling"), Success: true}
	})
	invoker.on(ralphmodel.RoleReview, func() AgentOutcome {
		return AgentOutcome{Text: reviewApprovedTag(token), Success: true}
	})

	task := ralphmodel.Task{ID: "T-001", Title: "do the thing", Priority: 1}
	writePRD(t, prdPath, task)
	list := &ralphmodel.TaskList{Project: "p", Tasks: []ralphmodel.Task{task}}

	result, err := e.Run(context.Background(), list, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.AllPassed {
		t.Fatalf("Run() = %+v, want all tasks passed after rejection then approval", result)
	}
	if result.TaskResults[0].Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", result.TaskResults[0].Iterations)
	}
}

func TestRun_RequiresTests_RunsTestWritingPhaseUnderGuardrail(t *testing.T) {
	cfg := baseConfig()
	cfg.TestPaths = []string{"tests/**"}
	invoker := newScriptedInvoker()

	e, ledger, prdPath := newTestEngineInGitRepo(t, invoker, cfg)
	token := ledger.Meta.SessionToken

	invoker.on(ralphmodel.RoleImplementation, func() AgentOutcome {
		return AgentOutcome{Text: taskDoneTag(token), Success: true}
	})
	invoker.on(ralphmodel.RoleTestWriting, func() AgentOutcome {
		return AgentOutcome{Text: testsDoneTag(token), Success: true}
	})
	invoker.on(ralphmodel.RoleReview, func() AgentOutcome {
		return AgentOutcome{Text: reviewApprovedTag(token), Success: true}
	})

	task := ralphmodel.Task{ID: "T-001", Title: "do the thing", Priority: 1, RequiresTests: true}
	writePRD(t, prdPath, task)
	list := &ralphmodel.TaskList{Project: "p", Tasks: []ralphmodel.Task{task}}

	result, err := e.Run(context.Background(), list, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.AllPassed {
		t.Fatalf("Run() = %+v, want all tasks passed", result)
	}
	if invoker.calls[ralphmodel.RoleTestWriting] != 1 {
		t.Errorf("test-writing calls = %d, want 1", invoker.calls[ralphmodel.RoleTestWriting])
	}
}

func TestRun_ExhaustsIterations_TaskFails(t *testing.T) {
	cfg := baseConfig()
	cfg.Limits.MaxIterations = 2
	invoker := newScriptedInvoker()

	e, _, prdPath := newTestEngine(t, invoker, cfg)

	invoker.on(ralphmodel.RoleImplementation, func() AgentOutcome {
		return AgentOutcome{Success: false, Error: "agent binary not found"}
	})

	task := ralphmodel.Task{ID: "T-001", Title: "do the thing", Priority: 1}
	writePRD(t, prdPath, task)
	list := &ralphmodel.TaskList{Project: "p", Tasks: []ralphmodel.Task{task}}

	result, err := e.Run(context.Background(), list, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.AllPassed {
		t.Fatal("Run() reported all passed for a task whose agent never succeeds")
	}
	if result.ExitCode != ralphmodel.ExitTaskExecutionError {
		t.Errorf("ExitCode = %v, want ExitTaskExecutionError", result.ExitCode)
	}
	if result.TaskResults[0].Iterations != 2 {
		t.Errorf("Iterations = %d, want 2 (max_iterations)", result.TaskResults[0].Iterations)
	}
}

func TestRun_FirstTaskFailureStopsSubsequentTasks(t *testing.T) {
	cfg := baseConfig()
	cfg.Limits.MaxIterations = 1
	invoker := newScriptedInvoker()

	e, _, prdPath := newTestEngine(t, invoker, cfg)

	invoker.on(ralphmodel.RoleImplementation, func() AgentOutcome {
		return AgentOutcome{Success: false, Error: "boom"}
	})

	t1 := ralphmodel.Task{ID: "T-001", Title: "first", Priority: 1}
	t2 := ralphmodel.Task{ID: "T-002", Title: "second", Priority: 2}
	writePRD(t, prdPath, t1, t2)
	list := &ralphmodel.TaskList{Project: "p", Tasks: []ralphmodel.Task{t1, t2}}

	result, _ := e.Run(context.Background(), list, Options{})
	if len(result.TaskResults) != 1 {
		t.Fatalf("TaskResults = %+v, want exactly one attempted task", result.TaskResults)
	}
}

func TestRun_DryRun_DoesNotInvokeAgents(t *testing.T) {
	cfg := baseConfig()
	invoker := newScriptedInvoker()

	e, _, prdPath := newTestEngine(t, invoker, cfg)

	task := ralphmodel.Task{ID: "T-001", Title: "do the thing", Priority: 1}
	writePRD(t, prdPath, task)
	list := &ralphmodel.TaskList{Project: "p", Tasks: []ralphmodel.Task{task}}

	result, err := e.Run(context.Background(), list, Options{DryRun: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.AllPassed || len(result.TaskResults) != 1 {
		t.Errorf("Run(dry_run) = %+v, want one planned task reported passed", result)
	}
	if invoker.calls[ralphmodel.RoleImplementation] != 0 {
		t.Error("dry run invoked the implementation agent")
	}
}

func readBackPRD(path string) (*ralphmodel.TaskList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tl ralphmodel.TaskList
	if err := json.Unmarshal(data, &tl); err != nil {
		return nil, err
	}
	return &tl, nil
}
