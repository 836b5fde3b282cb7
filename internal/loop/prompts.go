package loop

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

// agentsFile returns the contents of AGENTS.md at the repo root, or
// "" if it does not exist.
func agentsFile(repoRoot string) string {
	data, err := os.ReadFile(filepath.Join(repoRoot, "AGENTS.md"))
	if err != nil {
		return ""
	}
	return string(data)
}

func writeTaskDetails(sb *strings.Builder, task ralphmodel.Task) {
	fmt.Fprintf(sb, "Task ID: %s\n", task.ID)
	fmt.Fprintf(sb, "Title: %s\n", task.Title)
	if task.Description != "" {
		sb.WriteString("\nDescription:\n")
		sb.WriteString(task.Description)
		sb.WriteString("\n")
	}
	if len(task.AcceptanceCriteria) > 0 {
		sb.WriteString("\nAcceptance criteria:\n")
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(sb, "- %s\n", c)
		}
	}
}

// buildImplementationPrompt assembles the implementation phase prompt:
// task details, session token, AGENTS.md if present, and feedback from
// the previous iteration's failing phase (empty on iteration 1).
func buildImplementationPrompt(task ralphmodel.Task, sessionToken, repoRoot, feedback string) string {
	var sb strings.Builder
	sb.WriteString("You are the implementation agent in a verified build loop.\n\n")
	writeTaskDetails(&sb, task)

	if agents := agentsFile(repoRoot); agents != "" {
		sb.WriteString("\n## Project agent notes (AGENTS.md)\n")
		sb.WriteString(agents)
		sb.WriteString("\n")
	}

	if feedback != "" {
		sb.WriteString("\n## Feedback from the previous attempt\n")
		sb.WriteString(feedback)
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "\nWhen your implementation is complete, emit exactly one "+
		"<task-done session=\"%s\">summary of what changed</task-done> block. "+
		"Use the session token literally as shown.\n", sessionToken)
	return sb.String()
}

// buildTestWritingPrompt assembles the test-writing phase prompt. The
// agent's edits outside config.test_paths are reverted after the fact
// by the guardrail, so this prompt states the allowed paths but does
// not itself enforce them.
func buildTestWritingPrompt(task ralphmodel.Task, sessionToken string, testPaths []string) string {
	var sb strings.Builder
	sb.WriteString("You are the test-writing agent in a verified build loop.\n\n")
	writeTaskDetails(&sb, task)

	if len(testPaths) > 0 {
		sb.WriteString("\nYou may only create or modify files matching these patterns:\n")
		for _, p := range testPaths {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
		sb.WriteString("Any other change you make will be reverted.\n")
	}

	fmt.Fprintf(&sb, "\nWrite tests covering the task's acceptance criteria. When done, "+
		"emit exactly one <tests-done session=\"%s\">summary of tests added</tests-done> block.\n", sessionToken)
	return sb.String()
}

// buildReviewPrompt assembles the review phase prompt.
func buildReviewPrompt(task ralphmodel.Task, sessionToken string) string {
	var sb strings.Builder
	sb.WriteString("You are the review agent in a verified build loop. Judge whether the " +
		"implementation and its tests satisfy the task's acceptance criteria.\n\n")
	writeTaskDetails(&sb, task)

	fmt.Fprintf(&sb, "\nIf the work is acceptable, emit <review-approved session=\"%s\">reasoning</review-approved>. "+
		"If not, emit <review-rejected session=\"%s\">what must change</review-rejected>.\n", sessionToken, sessionToken)
	return sb.String()
}
