package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralph-orchestrator/ralph/internal/history"
	"github.com/ralph-orchestrator/ralph/internal/session"
	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

var statusHistoryLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the current or most recent session",
	Long: `status reports the current session's ledger state, if one
exists at .ralph-session/, followed by recent runs recorded in the
project's run history database.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusHistoryLimit, "history", 5, "number of recent runs to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	repoRoot, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	if session.Exists(repoRoot) {
		ledger, err := session.Resume(repoRoot)
		if err != nil {
			return fmt.Errorf("reading session: %w", err)
		}
		displaySession(ledger.Meta)
		fmt.Println()
	} else {
		fmt.Println("No session in progress. Run \"ralph run\" to start one.")
		fmt.Println()
	}

	db, err := history.OpenForProject(repoRoot)
	if err != nil {
		// No run history yet is not an error worth surfacing.
		return nil
	}
	defer db.Close()

	runs, err := db.ListRuns(statusHistoryLimit)
	if err != nil {
		return fmt.Errorf("reading run history: %w", err)
	}
	displayRecentRuns(runs)
	return nil
}

func displaySession(meta ralphmodel.SessionMetadata) {
	fmt.Printf("Current Session: %s\n", meta.SessionID)
	fmt.Printf("  Status: %s\n", meta.Status)
	if started, err := time.Parse(time.RFC3339, meta.StartedAt); err == nil {
		fmt.Printf("  Started: %s ago\n", formatDuration(time.Since(started)))
	}
	fmt.Printf("  Completed tasks: %d\n", len(meta.CompletedTasks))
	fmt.Printf("  Pending tasks: %d\n", len(meta.PendingTasks))
	fmt.Printf("  Iterations: %s\n", formatNumber(meta.TotalIterations))
}

func displayRecentRuns(runs []history.RunRecord) {
	if len(runs) == 0 {
		return
	}
	fmt.Println("Recent Runs:")
	for _, r := range runs {
		branch := r.GitBranch
		if branch == "" {
			branch = "-"
		}
		elapsed := ""
		if started, err := time.Parse(time.RFC3339, r.StartedAt); err == nil {
			elapsed = formatDuration(time.Since(started)) + " ago"
		}
		fmt.Printf("  %s  %-9s  %s  %d/%d tasks  %s\n",
			r.SessionID, r.Status, branch, r.CompletedTasks, r.CompletedTasks+r.PendingTasks, elapsed)
	}
}

// formatDuration formats a duration in a human-readable way, coarsest
// unit first.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}

// formatNumber formats a count with thousands separators.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var result strings.Builder
	offset := len(s) % 3
	if offset > 0 {
		result.WriteString(s[:offset])
		if len(s) > offset {
			result.WriteString(",")
		}
	}
	for i := offset; i < len(s); i += 3 {
		result.WriteString(s[i : i+3])
		if i+3 < len(s) {
			result.WriteString(",")
		}
	}
	return result.String()
}
