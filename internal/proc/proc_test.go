package proc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSpawn_DetachedAndLogged(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "out.log")

	pid, err := Spawn("sh", []string{"-c", "echo hello from child"}, dir, logPath)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("expected a real pid, got %d", pid)
	}

	// Child is short-lived; wait for it to finish and flush.
	deadline := time.Now().Add(5 * time.Second)
	for Alive(pid) && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello from child") {
		t.Errorf("log missing child output: %q", string(data))
	}
}

func TestAlive(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Error("own process should be alive")
	}
	if Alive(0) || Alive(-1) {
		t.Error("non-positive pids are never alive")
	}
}

func TestStop_TerminatesProcess(t *testing.T) {
	dir := t.TempDir()
	pid, err := Spawn("sleep", []string{"60"}, dir, filepath.Join(dir, "out.log"))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if !Alive(pid) {
		t.Fatal("expected sleeper to be alive")
	}

	Stop(pid, 2*time.Second)

	if Alive(pid) {
		t.Error("process still alive after Stop")
	}
}

func TestPIDFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.pid")

	if got := ReadPIDFile(path); got != 0 {
		t.Errorf("missing file should read as 0, got %d", got)
	}

	if err := WritePIDFile(path, 12345); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := ReadPIDFile(path); got != 12345 {
		t.Errorf("expected 12345, got %d", got)
	}
}

func TestLocked_StalePIDIsNotLocked(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.pid")

	// A dead sleeper leaves a stale pid behind.
	pid, err := Spawn("sleep", []string{"60"}, dir, filepath.Join(dir, "out.log"))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	WritePIDFile(path, pid)

	if !Locked(path) {
		t.Fatal("live pid should lock")
	}

	Stop(pid, 2*time.Second)

	if Locked(path) {
		t.Error("stale pid file must not count as locked")
	}

	os.WriteFile(path, []byte("garbage"), 0644)
	if Locked(path) {
		t.Error("unparseable pid file must not count as locked")
	}
}
