// Package proc spawns and supervises detached worker processes.
// Workers run in their own session so an interrupted orchestrator
// leaves them untouched; supervision is by PID liveness polling, never
// by blocking wait.
package proc

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Spawn starts a command in a new session with stdout and stderr
// appended to logPath. The child is fully detached: it survives the
// parent's exit and is never reaped by it.
func Spawn(name string, args []string, dir, logPath string) (int, error) {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("open log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn %s: %w", name, err)
	}

	pid := cmd.Process.Pid

	// Detach: release the handle so the child is never waited on here.
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("release %s: %w", name, err)
	}
	return pid, nil
}

// Alive reports whether a process with the given PID exists. Signal 0
// probes existence without delivering anything.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return err == syscall.EPERM
}

// Stop terminates a process, first politely then by force. Returns
// once the process is gone or the grace period doubled has elapsed.
func Stop(pid int, grace time.Duration) {
	if !Alive(pid) {
		return
	}

	syscall.Kill(pid, syscall.SIGTERM)
	if waitGone(pid, grace) {
		return
	}

	syscall.Kill(pid, syscall.SIGKILL)
	waitGone(pid, grace)
}

func waitGone(pid int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !Alive(pid)
}

// WritePIDFile records a PID. The file doubles as the workspace lock.
func WritePIDFile(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644)
}

// ReadPIDFile returns the PID stored at path, or 0 if the file is
// missing or unparseable.
func ReadPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// Locked reports whether the PID file at path names a live process.
// A stale file (dead PID) does not count as locked.
func Locked(path string) bool {
	return Alive(ReadPIDFile(path))
}
