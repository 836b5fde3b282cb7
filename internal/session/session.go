// Package session owns the .ralph-session/ directory: session
// metadata, the checksum-sealed task-status ledger, and resume
// semantics. It is the anti-gaming core of the
// orchestrator — every mutation to task status reseals the checksum,
// and loading a ledger whose embedded, sidecar, and recomputed
// checksums disagree is treated as tampering, not a race, because the
// engine is this ledger's only writer by construction.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

// Dir is the name of the session directory created in the repo root.
const Dir = ".ralph-session"

// ErrTamperingDetected is raised when the three-way checksum agreement
// fails on load.
var ErrTamperingDetected = fmt.Errorf("tampering detected in task-status ledger")

// ErrNoExistingSession is returned by Resume when no prior session exists.
var ErrNoExistingSession = fmt.Errorf("no existing session to resume")

// Ledger owns .ralph-session/session.json and task-status.json (+
// sidecar) for the duration of one run. It is the task-status file's
// exclusive writer; nothing else in the process mutates these files.
type Ledger struct {
	mu   sync.Mutex
	root string // repo root
	dir  string // root/.ralph-session

	Meta   ralphmodel.SessionMetadata
	status ralphmodel.TaskStatusFile
}

// Paths used under the session directory.
func (l *Ledger) sessionJSONPath() string    { return filepath.Join(l.dir, "session.json") }
func (l *Ledger) taskStatusPath() string     { return filepath.Join(l.dir, "task-status.json") }
func (l *Ledger) taskStatusSHAPath() string  { return filepath.Join(l.dir, "task-status.sha256") }
func (l *Ledger) LogsDir() string            { return filepath.Join(l.dir, "logs") }
func (l *Ledger) TimelinePath() string       { return filepath.Join(l.LogsDir(), "timeline.jsonl") }
func (l *Ledger) ArtifactsDir() string       { return filepath.Join(l.dir, "artifacts") }
func (l *Ledger) ScreenshotsDir() string     { return filepath.Join(l.ArtifactsDir(), "screenshots") }
func (l *Ledger) PidsDir() string            { return filepath.Join(l.dir, "pids") }
func (l *Ledger) Dir() string                { return l.dir }

// NewSessionID generates a session_id of the form
// YYYYMMDD-HHMMSS-<hex16>.
func NewSessionID(now time.Time) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session id entropy: %w", err)
	}
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102-150405"), hex.EncodeToString(buf)), nil
}

// Create initializes a brand-new session tree under repoRoot,
// creating the full directory layout and writing an empty,
// checksum-sealed task-status.json.
func Create(repoRoot string) (*Ledger, error) {
	sessionID, err := NewSessionID(time.Now())
	if err != nil {
		return nil, err
	}

	l := &Ledger{
		root: repoRoot,
		dir:  filepath.Join(repoRoot, Dir),
		Meta: ralphmodel.SessionMetadata{
			SessionID:    sessionID,
			SessionToken: "ralph-" + sessionID,
			Status:       ralphmodel.SessionRunning,
			StartedAt:    ralphmodel.ISOTimestamp(time.Now()),
		},
		status: ralphmodel.TaskStatusFile{Tasks: map[string]ralphmodel.TaskEntry{}},
	}

	for _, d := range []string{l.dir, l.LogsDir(), l.ArtifactsDir(), l.ScreenshotsDir(), l.PidsDir()} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", d, err)
		}
	}

	if err := l.saveStatusLocked(); err != nil {
		return nil, err
	}
	if err := l.saveMetaLocked(); err != nil {
		return nil, err
	}

	return l, nil
}

// Resume loads the existing session directory, whatever its status,
// verifying the ledger's checksum. It returns ErrNoExistingSession if
// no session.json is present, and otherwise leaves the session
// metadata's status unchanged — callers decide what to do with a
// failed/aborted session (`ralph run --resume` refuses any session
// whose status is not "running").
func Resume(repoRoot string) (*Ledger, error) {
	dir := filepath.Join(repoRoot, Dir)
	metaPath := filepath.Join(dir, "session.json")

	data, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoExistingSession
		}
		return nil, fmt.Errorf("reading session.json: %w", err)
	}

	var meta ralphmodel.SessionMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing session.json: %w", err)
	}

	l := &Ledger{root: repoRoot, dir: dir, Meta: meta}
	if err := l.loadAndVerifyStatus(); err != nil {
		return nil, err
	}
	return l, nil
}

// Exists reports whether a session directory already exists under repoRoot.
func Exists(repoRoot string) bool {
	_, err := os.Stat(filepath.Join(repoRoot, Dir, "session.json"))
	return err == nil
}

// loadAndVerifyStatus reads task-status.json and its sidecar and
// requires three-way agreement between the embedded checksum, the
// sidecar file, and the recomputed checksum.
func (l *Ledger) loadAndVerifyStatus() error {
	data, err := os.ReadFile(l.taskStatusPath())
	if err != nil {
		return fmt.Errorf("reading task-status.json: %w", err)
	}

	var status ralphmodel.TaskStatusFile
	if err := json.Unmarshal(data, &status); err != nil {
		return fmt.Errorf("parsing task-status.json: %w", err)
	}

	sidecar, err := os.ReadFile(l.taskStatusSHAPath())
	if err != nil {
		return fmt.Errorf("reading task-status.sha256: %w", err)
	}
	sidecarChecksum := string(sidecar)

	recomputed, err := Checksum(status.Body())
	if err != nil {
		return err
	}

	if status.Checksum != recomputed || sidecarChecksum != recomputed {
		return fmt.Errorf("%w: embedded=%q sidecar=%q recomputed=%q",
			ErrTamperingDetected, status.Checksum, sidecarChecksum, recomputed)
	}

	l.status = status
	return nil
}

// Checksum computes sha256:<hex> over the canonical JSON serialization
// of body: keys sorted lexicographically, compact separators, no
// trailing newline in the hashed bytes.
func Checksum(body ralphmodel.TaskStatusBody) (string, error) {
	canonical, err := canonicalJSON(body)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// canonicalJSON serializes body with every object's keys sorted
// lexicographically, matching the original Python orchestrator's
// json.dumps(sort_keys=True). encoding/json sorts map keys but
// preserves a struct's field-declaration order, and TaskEntry's nested
// struct fields (passes, started_at, completed_at, ...) would
// otherwise leak declaration order into the hashed bytes. Marshaling
// body once and round-tripping it through a generic interface{}
// forces every nesting level, struct or map, through map[string]any,
// which encoding/json always re-marshals with sorted keys.
func canonicalJSON(body ralphmodel.TaskStatusBody) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// Status returns a copy of the current in-memory task status.
func (l *Ledger) Status() ralphmodel.TaskStatusFile {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// UpdateTask applies mutate to the entry for taskID (creating it if
// absent), reseals the checksum, and atomically persists both the
// ledger and its sidecar.
func (l *Ledger) UpdateTask(taskID string, mutate func(*ralphmodel.TaskEntry)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status.Tasks == nil {
		l.status.Tasks = map[string]ralphmodel.TaskEntry{}
	}
	entry := l.status.Tasks[taskID]
	mutate(&entry)
	l.status.Tasks[taskID] = entry
	l.status.LastUpdated = ralphmodel.ISOTimestamp(time.Now())

	return l.saveStatusLocked()
}

// saveStatusLocked reseals the checksum and atomically writes both
// task-status.json and its sidecar. Caller must hold l.mu.
func (l *Ledger) saveStatusLocked() error {
	checksum, err := Checksum(l.status.Body())
	if err != nil {
		return err
	}
	l.status.Checksum = checksum

	pretty, err := json.MarshalIndent(l.status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling task-status.json: %w", err)
	}
	pretty = append(pretty, '\n')

	if err := atomicWrite(l.taskStatusPath(), pretty); err != nil {
		return err
	}
	if err := atomicWrite(l.taskStatusSHAPath(), []byte(checksum)); err != nil {
		return err
	}
	return nil
}

func (l *Ledger) saveMetaLocked() error {
	data, err := json.MarshalIndent(l.Meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session.json: %w", err)
	}
	data = append(data, '\n')
	return atomicWrite(l.sessionJSONPath(), data)
}

// SaveMeta persists changes to session metadata (status transitions,
// current_task, completed/pending lists, ended_at).
func (l *Ledger) SaveMeta() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveMetaLocked()
}

// MarkTaskComplete flips the ledger entry to passes=true, records
// completed_at, and reseals/persists. It never clears passes back to
// false for any task (P1).
func (l *Ledger) MarkTaskComplete(taskID string) error {
	return l.UpdateTask(taskID, func(e *ralphmodel.TaskEntry) {
		e.Passes = true
		e.CompletedAt = ralphmodel.ISOTimestamp(time.Now())
	})
}

// RecordIteration increments the iteration counter and records an
// optional agent output log path for role.
func (l *Ledger) RecordIteration(taskID, role, logPath string) error {
	return l.UpdateTask(taskID, func(e *ralphmodel.TaskEntry) {
		e.Iterations++
		if e.StartedAt == "" {
			e.StartedAt = ralphmodel.ISOTimestamp(time.Now())
		}
		if logPath != "" {
			if e.AgentOutputs == nil {
				e.AgentOutputs = map[string]string{}
			}
			e.AgentOutputs[role] = logPath
		}
	})
}

// RecordFailure sets last_failure on a task's ledger entry.
func (l *Ledger) RecordFailure(taskID, reason string) error {
	return l.UpdateTask(taskID, func(e *ralphmodel.TaskEntry) {
		e.LastFailure = reason
	})
}

// atomicWrite writes data to path via a temp file in the same
// directory followed by rename, preserving the checksum invariant
// across crashes.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}
