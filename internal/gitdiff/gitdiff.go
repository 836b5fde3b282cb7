// Package gitdiff is the guardrail's change oracle: a trimmed git
// plumbing layer that answers "what files changed" and "revert this
// one", with no branch/merge/worktree operations. The guardrail only
// ever needs a snapshot of changed paths and a way to undo a violation.
package gitdiff

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ChangeType is the single-letter status git reports for a changed path.
type ChangeType string

const (
	Modified  ChangeType = "M"
	Added     ChangeType = "A"
	Deleted   ChangeType = "D"
	Renamed   ChangeType = "R"
	Untracked ChangeType = "?"
)

// FileChange is one entry in a change snapshot.
type FileChange struct {
	Path string
	Type ChangeType
}

// Runner wraps exec.Command("git", ...) scoped to one repository root
// through a single private run helper.
type Runner struct {
	repoPath string
}

// NewRunner creates a gitdiff runner for the repository at repoPath.
func NewRunner(repoPath string) *Runner {
	return &Runner{repoPath: repoPath}
}

// Available reports whether git is on PATH. When it is not, the
// guardrail runs degraded: it takes no snapshot, reports every check as
// passed, and reverts nothing.
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

func (r *Runner) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// StagedChanges returns files with staged changes (git diff --name-status --cached).
func (r *Runner) StagedChanges() ([]FileChange, error) {
	return r.nameStatus("--cached")
}

// UnstagedChanges returns files with unstaged changes (git diff --name-status).
func (r *Runner) UnstagedChanges() ([]FileChange, error) {
	return r.nameStatus()
}

func (r *Runner) nameStatus(extra ...string) ([]FileChange, error) {
	args := append([]string{"diff", "--name-status"}, extra...)
	out, err := r.run(args...)
	if err != nil {
		return nil, err
	}
	return parseNameStatus(out), nil
}

func parseNameStatus(out string) []FileChange {
	if out == "" {
		return nil
	}
	var changes []FileChange
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 2)
		if len(fields) != 2 {
			continue
		}
		status := fields[0]
		path := fields[1]
		// Renames report as "R100\told\tnew"; keep the destination path.
		if idx := strings.LastIndexByte(path, '\t'); idx != -1 {
			path = path[idx+1:]
		}
		changes = append(changes, FileChange{Path: path, Type: ChangeType(status[:1])})
	}
	return changes
}

// UntrackedFiles returns files git does not track and does not ignore
// (git ls-files --others --exclude-standard).
func (r *Runner) UntrackedFiles() ([]FileChange, error) {
	out, err := r.run("ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	var changes []FileChange
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		changes = append(changes, FileChange{Path: line, Type: Untracked})
	}
	return changes, nil
}

// Snapshot combines staged, unstaged, and untracked changes into one
// set of changed paths, mirroring the Python source's snapshot_state().
// Later categories win on conflicting classification: an untracked
// file takes priority since it didn't exist at all before this run.
func (r *Runner) Snapshot() ([]FileChange, error) {
	byPath := map[string]FileChange{}

	staged, err := r.StagedChanges()
	if err != nil {
		return nil, err
	}
	for _, c := range staged {
		byPath[c.Path] = c
	}

	unstaged, err := r.UnstagedChanges()
	if err != nil {
		return nil, err
	}
	for _, c := range unstaged {
		byPath[c.Path] = c
	}

	untracked, err := r.UntrackedFiles()
	if err != nil {
		return nil, err
	}
	for _, c := range untracked {
		byPath[c.Path] = c
	}

	changes := make([]FileChange, 0, len(byPath))
	for _, c := range byPath {
		changes = append(changes, c)
	}
	return changes, nil
}

// Revert undoes one change: untracked or newly added files are
// deleted outright, everything else is restored from the index/HEAD
// via git checkout --.
func (r *Runner) Revert(change FileChange) error {
	if change.Type == Untracked || change.Type == Added {
		path := change.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(r.repoPath, path)
		}
		err := os.Remove(path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", change.Path, err)
		}
		return nil
	}
	_, err := r.run("checkout", "--", change.Path)
	return err
}

// RevertPath deletes path outright, without consulting git. The
// guardrail's degraded (no-git) mode does not call it.
func RevertPath(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}
