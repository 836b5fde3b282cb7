// Package prd loads and persists the task list (prd.json), the
// ordered task source the verified task loop engine consumes. Writes
// use a temp-file-then-rename sequence in the same directory so a
// crash mid-write never leaves a partially-written task list behind,
// the same discipline the session ledger uses for its own files.
package prd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

// ErrNotFound is returned when the configured task source file does not exist.
var ErrNotFound = fmt.Errorf("task source not found")

// Load reads and validates the task list at path, returning it sorted
// by (priority asc, id asc).
func Load(path string) (*ralphmodel.TaskList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading task source %s: %w", path, err)
	}

	var tl ralphmodel.TaskList
	if err := json.Unmarshal(data, &tl); err != nil {
		return nil, fmt.Errorf("parsing task source %s: %w", path, err)
	}

	if err := Validate(&tl); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	tl.Sort()
	return &tl, nil
}

// Validate checks the minimal structural requirements of a task list:
// a non-empty project name and unique, non-empty task IDs.
func Validate(tl *ralphmodel.TaskList) error {
	if tl.Project == "" {
		return fmt.Errorf("project is required")
	}

	seen := make(map[string]bool, len(tl.Tasks))
	for i, t := range tl.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task at index %d is missing an id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

// Save atomically persists the task list to path: marshal, write to a
// temp file in the same directory, then rename over the destination.
func Save(path string, tl *ralphmodel.TaskList) error {
	data, err := json.MarshalIndent(tl, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling task list: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".prd-*.json.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file into place: %w", err)
	}
	return nil
}

// MarkTaskPasses loads the task list, marks the given task as passing,
// and atomically saves it back. The loop engine is the task list's
// single writer, so this read-modify-write cycle never races.
func MarkTaskPasses(path, taskID string) error {
	tl, err := Load(path)
	if err != nil {
		return err
	}
	if !tl.MarkPasses(taskID) {
		return fmt.Errorf("task %q not found in %s", taskID, path)
	}
	return Save(path, tl)
}
