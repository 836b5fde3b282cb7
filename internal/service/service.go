// Package service starts and stops the backend/frontend processes a
// verify run exercises, with PID files under .ralph-session/pids, HTTP
// health polling, and a cleanup hook so an interrupted run doesn't
// leave orphaned servers behind.
package service

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ralph-orchestrator/ralph/internal/execrun"
	"github.com/ralph-orchestrator/ralph/internal/timeline"
	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

const (
	healthPollInterval = time.Second
	stopGracePeriod    = 10 * time.Second
)

// Process is a running service: its exec handle, PID, and base URL.
type Process struct {
	Name    string
	PID     int
	Port    int
	URL     string
	pidFile string
	cmd     *runningCmd
}

// Manager owns the set of currently running services for one session.
type Manager struct {
	pidsDir  string
	logsDir  string
	env      string // "dev" or "prod"
	timeline *timeline.Logger
	runner   *execrun.Runner

	mu       sync.Mutex
	services map[string]*Process

	cleanupOnce sync.Once
	sigCh       chan os.Signal
}

// NewManager creates a service manager rooted at sessionDir/pids and
// sessionDir/logs. env selects which of a service's start commands
// (dev vs prod) gets used.
func NewManager(sessionDir, env string, tl *timeline.Logger) (*Manager, error) {
	pidsDir := filepath.Join(sessionDir, "pids")
	logsDir := filepath.Join(sessionDir, "logs")
	for _, d := range []string{pidsDir, logsDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("service: creating %s: %w", d, err)
		}
	}
	return &Manager{
		pidsDir:  pidsDir,
		logsDir:  logsDir,
		env:      env,
		timeline: tl,
		runner:   execrun.NewRunner(logsDir),
		services: make(map[string]*Process),
	}, nil
}

// startCommand picks the dev/prod start (backend) or serve (frontend)
// command and substitutes {port}.
func startCommand(cfg ralphmodel.ServiceConfig, kind, env string) string {
	var cmd string
	if kind == "frontend" {
		if env == "dev" {
			cmd = cfg.ServeDev
		} else {
			cmd = cfg.ServeProd
		}
	} else {
		if env == "dev" {
			cmd = cfg.StartDev
		} else {
			cmd = cfg.StartProd
		}
	}
	if cmd == "" {
		return ""
	}
	return strings.ReplaceAll(cmd, "{port}", strconv.Itoa(cfg.Port))
}

// Start launches a named service (kind is "backend" or "frontend"),
// waits for it to answer a health check, and registers it for cleanup.
// On health-check failure the process is stopped before returning.
func (m *Manager) Start(ctx context.Context, name, kind string, cfg ralphmodel.ServiceConfig) ralphmodel.ReadinessResult {
	start := time.Now()
	if m.timeline != nil {
		_ = m.timeline.ServiceStart(name)
	}

	cmd := startCommand(cfg, kind, m.env)
	if cmd == "" {
		err := fmt.Sprintf("no %s start command configured for %s", m.env, name)
		if m.timeline != nil {
			_ = m.timeline.ServiceFailed(name, err)
		}
		return ralphmodel.ReadinessResult{Success: false, Error: err}
	}

	if kind == "frontend" && m.env == "prod" && cfg.Build != "" {
		buildCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		res, _ := m.runner.RunShell(buildCtx, "", cfg.Build)
		cancel()
		if !res.Success() {
			err := fmt.Sprintf("build failed: %s", firstNonEmpty(res.Err, res.Stderr))
			if m.timeline != nil {
				_ = m.timeline.ServiceFailed(name, err)
			}
			return ralphmodel.ReadinessResult{Success: false, Error: err}
		}
	}

	rc, err := startProcessGroup(cmd, filepath.Join(m.logsDir, name+".log"))
	if err != nil {
		errMsg := fmt.Sprintf("failed to start %s: %v", name, err)
		if m.timeline != nil {
			_ = m.timeline.ServiceFailed(name, errMsg)
		}
		return ralphmodel.ReadinessResult{Success: false, Error: errMsg}
	}

	pidFile := filepath.Join(m.pidsDir, name+".pid")
	_ = os.WriteFile(pidFile, []byte(strconv.Itoa(rc.pid)), 0644)

	url := fmt.Sprintf("http://localhost:%d", cfg.Port)
	proc := &Process{Name: name, PID: rc.pid, Port: cfg.Port, URL: url, pidFile: pidFile, cmd: rc}

	m.registerCleanup()

	if !waitForHealth(ctx, proc, cfg.HealthPaths(), cfg.ReadyTimeout()) {
		m.stopProcess(proc)
		_ = os.Remove(pidFile)
		duration := time.Since(start)
		errMsg := fmt.Sprintf("health check failed after %s", cfg.ReadyTimeout())
		if m.timeline != nil {
			_ = m.timeline.ServiceFailed(name, errMsg)
		}
		return ralphmodel.ReadinessResult{Success: false, Error: errMsg, Duration: duration, DurationMS: duration.Milliseconds()}
	}

	m.mu.Lock()
	m.services[name] = proc
	m.mu.Unlock()

	duration := time.Since(start)
	if m.timeline != nil {
		_ = m.timeline.ServiceReady(name, duration.Milliseconds())
	}
	return ralphmodel.ReadinessResult{Success: true, URL: url, PID: rc.pid, Duration: duration, DurationMS: duration.Milliseconds()}
}

func firstNonEmpty(err error, s string) string {
	if err != nil {
		return err.Error()
	}
	return s
}

// waitForHealth polls the service's health endpoints until one
// answers 2xx, the process dies, or timeout elapses.
func waitForHealth(ctx context.Context, p *Process, endpoints []string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Now().Before(deadline) {
		if !p.cmd.alive() {
			return false
		}
		if checkHealth(ctx, client, p.URL, endpoints) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(healthPollInterval):
		}
	}
	return false
}

func checkHealth(ctx context.Context, client *http.Client, baseURL string, endpoints []string) bool {
	for _, ep := range endpoints {
		url := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(ep, "/")
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
	}
	return false
}

// Stop stops one named service and removes its PID file.
func (m *Manager) Stop(name string) {
	m.mu.Lock()
	proc, ok := m.services[name]
	if ok {
		delete(m.services, name)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.stopProcess(proc)
	_ = os.Remove(proc.pidFile)
}

// StopAll stops every currently running service.
func (m *Manager) StopAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.services))
	for name := range m.services {
		names = append(names, name)
	}
	m.mu.Unlock()
	for _, name := range names {
		m.Stop(name)
	}
}

func (m *Manager) stopProcess(p *Process) {
	if !p.cmd.alive() {
		return
	}
	execrun.Stop(p.cmd.pid, stopGracePeriod)
}

// BaseURL returns the frontend URL if running, else the backend URL.
func (m *Manager) BaseURL() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.services["frontend"]; ok {
		return p.URL, true
	}
	if p, ok := m.services["backend"]; ok {
		return p.URL, true
	}
	return "", false
}

// registerCleanup hooks SIGINT/SIGTERM so a killed ralph process
// doesn't leave services running; idempotent across multiple Start calls.
func (m *Manager) registerCleanup() {
	m.cleanupOnce.Do(func() {
		m.sigCh = make(chan os.Signal, 1)
		signal.Notify(m.sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-m.sigCh
			m.StopAll()
		}()
	})
}
