// Package guardrail restricts the test-writing agent to the
// configured test_paths and reverts anything else it touches. It
// snapshots changed files before the agent runs, diffs again after,
// classifies every new change, and reverts whatever isn't allowed.
package guardrail

import (
	"fmt"
	"strings"

	"github.com/ralph-orchestrator/ralph/internal/gitdiff"
	"github.com/ralph-orchestrator/ralph/internal/timeline"
)

// Change mirrors gitdiff.FileChange at the guardrail's boundary so
// callers don't need to import gitdiff just to read a Result.
type Change = gitdiff.FileChange

// Result is the outcome of one check-and-revert pass.
type Result struct {
	Passed         bool
	AllowedChanges []Change
	Violations     []Change
	RevertedFiles  []string
}

// Guardrail restricts file changes to the configured test path
// patterns. It is created fresh per gated subprocess invocation.
type Guardrail struct {
	patterns []string
	runner   *gitdiff.Runner
	timeline *timeline.Logger // optional
	degraded bool             // true when git is unavailable
}

// New creates a guardrail scoped to repoRoot, allowing changes that
// match any of testPaths. timeline may be nil.
func New(testPaths []string, repoRoot string, tl *timeline.Logger) *Guardrail {
	g := &Guardrail{
		patterns: normalizePatterns(testPaths),
		runner:   gitdiff.NewRunner(repoRoot),
		timeline: tl,
	}
	if !gitdiff.Available() {
		g.degraded = true
	}
	return g
}

func normalizePatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, strings.TrimPrefix(p, "./"))
	}
	return out
}

// Snapshot returns the set of currently changed file paths, taken
// before the guarded agent runs.
func (g *Guardrail) Snapshot() (map[string]bool, error) {
	if g.degraded {
		return map[string]bool{}, nil
	}
	changes, err := g.runner.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshotting file state: %w", err)
	}
	before := make(map[string]bool, len(changes))
	for _, c := range changes {
		before[c.Path] = true
	}
	return before, nil
}

// CheckAndRevert diffs the current file state against before, classifies
// every new change, reverts violations, and returns the outcome.
func (g *Guardrail) CheckAndRevert(before map[string]bool, taskID string) (Result, error) {
	if g.degraded {
		return Result{Passed: true}, nil
	}

	all, err := g.runner.Snapshot()
	if err != nil {
		return Result{}, fmt.Errorf("checking file state: %w", err)
	}

	var fresh []Change
	for _, c := range all {
		if !before[c.Path] {
			fresh = append(fresh, c)
		}
	}

	var allowed, violations []Change
	for _, c := range fresh {
		switch {
		case isInternalArtifact(c.Path):
			allowed = append(allowed, c)
		case isMarkdownInTestDir(c.Path, g.patterns):
			violations = append(violations, c)
		case g.isAllowed(c.Path):
			allowed = append(allowed, c)
		default:
			violations = append(violations, c)
		}
	}

	var reverted []string
	for _, v := range violations {
		if err := g.runner.Revert(v); err == nil {
			reverted = append(reverted, v.Path)
		}
	}

	if len(violations) > 0 && g.timeline != nil {
		violPaths := make([]string, len(violations))
		for i, v := range violations {
			violPaths[i] = v.Path
		}
		_ = g.timeline.GuardrailViolation(taskID, violPaths, reverted)
	}

	return Result{
		Passed:         len(violations) == 0,
		AllowedChanges: allowed,
		Violations:     violations,
		RevertedFiles:  reverted,
	}, nil
}

// isAllowed reports whether path matches one of the guardrail's test
// path patterns.
func (g *Guardrail) isAllowed(path string) bool {
	path = trimDotSlash(path)
	for _, pattern := range g.patterns {
		if matchGlobPattern(path, pattern) {
			return true
		}
	}
	return false
}

// isInternalArtifact reports whether path is a run artifact
// (.ralph-session/, .ralph/) or git metadata (.git/), which are
// never agent violations regardless of test path configuration.
func isInternalArtifact(path string) bool {
	p := trimDotSlash(path)
	for _, prefix := range []string{".ralph-session", ".ralph", ".git"} {
		if p == prefix || hasPathPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// isMarkdownInTestDir reports whether path is a markdown file inside
// the base directory of any test path pattern. Markdown documentation
// in a test directory is always a violation.
func isMarkdownInTestDir(path string, patterns []string) bool {
	path = trimDotSlash(path)
	if !hasSuffixFold(path, ".md") {
		return false
	}
	for _, pattern := range patterns {
		dir := baseDir(pattern)
		if dir != "" && hasPathPrefix(path, dir) {
			return true
		}
	}
	return false
}

func trimDotSlash(p string) string {
	return strings.TrimPrefix(p, "./")
}

func hasPathPrefix(path, prefix string) bool {
	return strings.HasPrefix(path, prefix+"/")
}

func hasSuffixFold(s, suffix string) bool {
	return strings.HasSuffix(strings.ToLower(s), suffix)
}
