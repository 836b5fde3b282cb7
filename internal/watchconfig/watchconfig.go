// Package watchconfig watches ralph.yml for edits during a long-running
// `ralph run --watch-config` and revalidates it on change, in the same
// spirit as the teacher's signals-directory watcher: both wrap an
// fsnotify.Watcher around a single directory and translate filesystem
// events into in-process state, without aborting the caller on a
// watcher setup failure.
package watchconfig

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/ralph-orchestrator/ralph/internal/runconfig"
)

// Result is delivered on Watcher.Results each time ralph.yml changes.
type Result struct {
	Config *runconfig.Config // nil when Err is set
	Err    error
}

// Watcher watches one ralph.yml path and revalidates it on write.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	results chan Result
	done    chan struct{}

	mu     sync.RWMutex
	latest *runconfig.Config
	lastErr error
}

// New starts watching the directory containing path. If the
// underlying fsnotify watcher cannot be created (e.g. inotify limits
// exhausted), New returns a Watcher with watching disabled rather than
// an error — config hot-reload is a dev convenience, not required for
// a run to proceed.
func New(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:    abs,
		results: make(chan Result, 1),
		done:    make(chan struct{}),
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return w, nil
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return w, nil
	}
	w.watcher = fw

	go w.watch()
	return w, nil
}

func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.revalidate()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) revalidate() {
	cfg, err := runconfig.LoadFromPath(w.path)

	w.mu.Lock()
	if err == nil {
		w.latest = cfg
	}
	w.lastErr = err
	w.mu.Unlock()

	select {
	case w.results <- Result{Config: cfg, Err: err}:
	default:
		// Drop the event if the consumer hasn't drained the previous
		// one yet; the next revalidation will carry the latest state.
	}
}

// Results is the channel of revalidation outcomes. When watching is
// disabled nothing is ever sent on it; callers should select on it
// only alongside other cases.
func (w *Watcher) Results() <-chan Result {
	return w.results
}

// Latest returns the most recently validated config and any error from
// the last revalidation attempt.
func (w *Watcher) Latest() (*runconfig.Config, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.latest, w.lastErr
}

// Close stops the watcher.
func (w *Watcher) Close() {
	close(w.done)
	if w.watcher != nil {
		w.watcher.Close()
	}
}
