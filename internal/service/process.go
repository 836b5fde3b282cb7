package service

import (
	"os"
	"os/exec"
	"syscall"
)

// runningCmd wraps the long-lived *exec.Cmd behind a service process,
// isolated into its own process group so execrun.Stop can kill the
// whole subtree it spawned.
type runningCmd struct {
	pid int
	cmd *exec.Cmd
}

func startProcessGroup(shellCmd, logPath string) (*runningCmd, error) {
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command("sh", "-c", shellCmd)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, err
	}

	// The process inherits the log file descriptor; closing our copy
	// here doesn't affect its output.
	go func() {
		cmd.Wait()
		logFile.Close()
	}()

	return &runningCmd{pid: cmd.Process.Pid, cmd: cmd}, nil
}

func (r *runningCmd) alive() bool {
	if r == nil || r.pid <= 0 {
		return false
	}
	return syscall.Kill(r.pid, syscall.Signal(0)) == nil
}
