package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/ralph-orchestrator/ralph/internal/agentrunner"
	"github.com/ralph-orchestrator/ralph/internal/version"
)

// CheckAgentCLI verifies that the configured agent CLI is available in
// PATH, unless the run is entirely API-backed. It is skipped by
// callers that already know every configured role uses the API
// backend.
func CheckAgentCLI(command string) error {
	if command == "" {
		command = os.Getenv("RALPH_CLAUDE_CMD")
	}
	if command == "" {
		command = agentrunner.DefaultCommand
	}
	if _, err := exec.LookPath(command); err != nil {
		return fmt.Errorf("agent CLI %q not found in PATH\n\n"+
			"ralph invokes an external agent binary to do the actual work.\n"+
			"Install the Claude Code CLI, or point RALPH_CLAUDE_CMD at a\n"+
			"compatible binary, or configure a role's backend as \"api\".", command)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Verified agent task loop orchestrator",
	Long: `ralph drives an AI coding agent through a verified task loop:
implementation, test-writing, gates, and review, one task at a time,
reading task definitions from prd.json and project settings from
ralph.yml.

Each phase must end with a tagged completion signal bound to the
current session's token; a missing or mismatched signal, a failing
gate, or a rejected review is recovered as feedback into the next
iteration rather than treated as success.

Available commands:
  run      Run the verified task loop against a task source
  verify   Run gates and UI/Robot test suites against a built project
  status   Show the state of the current or most recent session
  version  Print the version number

Use "ralph [command] --help" for more information about a command.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version.Get()
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
