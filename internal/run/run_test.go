package run

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/imkarma/swarm/internal/backlog"
	"github.com/imkarma/swarm/internal/board"
	"github.com/imkarma/swarm/internal/config"
	"github.com/imkarma/swarm/internal/git"
	"github.com/imkarma/swarm/internal/proc"
	"github.com/imkarma/swarm/internal/score"
	"github.com/imkarma/swarm/internal/store"
	"github.com/imkarma/swarm/internal/workspace"
)

const testBacklog = `stories:
  - id: story-001
    title: scaffold project
`

const completeBacklog = `stories:
  - id: story-001
    title: scaffold project
    passes: true
`

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test",
			"GIT_AUTHOR_EMAIL=test@test.com",
			"GIT_COMMITTER_NAME=test",
			"GIT_COMMITTER_EMAIL=test@test.com",
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %s failed: %s\n%s", strings.Join(args, " "), err, out)
		}
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@test.com")
	run("config", "user.name", "test")
	os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test\n"), 0644)
	os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(".swarm/\n"), 0644)
	run("add", ".")
	run("commit", "-m", "initial commit")

	os.MkdirAll(filepath.Join(dir, workspace.SwarmDir), 0755)
	os.WriteFile(filepath.Join(dir, workspace.BacklogFile), []byte(testBacklog), 0644)
	return dir
}

func newTestCoordinator(t *testing.T, dir string) *Coordinator {
	t.Helper()
	st, err := store.New(filepath.Join(dir, workspace.DBFile))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Agent:    config.Agent{Mode: "cli", Cmd: "fake"},
		Validate: config.Validate{Cmd: "true"},
	}
	c := New(cfg, git.New(dir), st)
	c.PollInterval = 50 * time.Millisecond
	c.Out = io.Discard
	return c
}

// fakeWorkerScript makes one commit in the loop-1 worktree and marks
// its backlog complete, imitating a successful worker.
const fakeWorkerScript = `cd .swarm/loops/loop-1 &&
echo done > work.txt &&
git add -A && git commit -q -m "feat: work" &&
cp ../../complete.yaml ../../state/loop-1/backlog.yaml`

func TestRun_FreshSingleWorkspaceMerges(t *testing.T) {
	dir := initTestRepo(t)
	os.WriteFile(filepath.Join(dir, ".swarm/complete.yaml"), []byte(completeBacklog), 0644)

	c := newTestCoordinator(t, dir)
	c.WorkerCommand = func(index, maxIterations int) (string, []string) {
		return "sh", []string{"-c", fakeWorkerScript}
	}

	class, err := c.Run(context.Background(), Options{Workers: 1, MaxIterations: 5, Follow: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if class != Success {
		t.Fatalf("expected Success, got %s", class)
	}

	// Winner's work landed on main.
	if _, err := os.Stat(filepath.Join(dir, "work.txt")); err != nil {
		t.Errorf("merged work missing: %v", err)
	}
	// Everything reclaimed.
	if statuses := workspace.NewManager(git.New(dir)).Scan(); len(statuses) != 0 {
		t.Errorf("expected no workspaces after merge, got %d", len(statuses))
	}

	r, err := c.store.ActiveRun()
	if err != nil {
		t.Fatalf("active run: %v", err)
	}
	if r != nil {
		t.Errorf("run should be closed, got %+v", r)
	}
}

func TestRun_NormalModeDetachesWatcher(t *testing.T) {
	dir := initTestRepo(t)
	os.WriteFile(filepath.Join(dir, ".swarm/complete.yaml"), []byte(completeBacklog), 0644)

	c := newTestCoordinator(t, dir)
	c.WorkerCommand = func(index, maxIterations int) (string, []string) {
		return "sh", []string{"-c", fakeWorkerScript}
	}
	marker := filepath.Join(dir, workspace.SwarmDir, "watcher-marker")
	c.WatcherCommand = func() (string, []string) {
		return "sh", []string{"-c", "echo ran > " + marker}
	}

	class, err := c.Run(context.Background(), Options{Workers: 1, MaxIterations: 5})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if class != Success {
		t.Fatalf("expected Success from a detached launch, got %s", class)
	}

	// The launcher returned without completing the run.
	if r, _ := c.store.ActiveRun(); r == nil {
		t.Fatal("run record should stay open until the watcher closes it")
	}
	if statuses := workspace.NewManager(git.New(dir)).Scan(); len(statuses) != 1 {
		t.Fatalf("workspace should still exist after launch, got %d", len(statuses))
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(marker); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher command was never spawned")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// The watcher's half completes the run.
	class, err = c.Finish(context.Background())
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if class != Success {
		t.Fatalf("expected Success from finish, got %s", class)
	}
	if _, err := os.Stat(filepath.Join(dir, "work.txt")); err != nil {
		t.Errorf("merged work missing: %v", err)
	}
	if statuses := workspace.NewManager(git.New(dir)).Scan(); len(statuses) != 0 {
		t.Errorf("expected no workspaces after merge, got %d", len(statuses))
	}
	if r, _ := c.store.ActiveRun(); r != nil {
		t.Errorf("run should be closed, got %+v", r)
	}
}

func TestFinish_WithoutActiveRunIsFatal(t *testing.T) {
	dir := initTestRepo(t)
	c := newTestCoordinator(t, dir)

	class, err := c.Finish(context.Background())
	if err == nil {
		t.Fatal("expected an error without an active run")
	}
	if class != Fatal {
		t.Errorf("expected Fatal, got %s", class)
	}
}

func TestRun_RefusesActiveWorkspace(t *testing.T) {
	dir := initTestRepo(t)
	mgr := workspace.NewManager(git.New(dir))
	ws, err := mgr.Create(1, "main")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ws.Lock(os.Getpid())
	defer ws.Unlock()

	c := newTestCoordinator(t, dir)
	class, err := c.Run(context.Background(), Options{Workers: 1, MaxIterations: 5})
	if !errors.Is(err, ErrActiveLoop) {
		t.Fatalf("expected ErrActiveLoop, got %v", err)
	}
	if class != Fatal {
		t.Errorf("expected Fatal, got %s", class)
	}
	if !strings.Contains(err.Error(), "swarm stop") {
		t.Errorf("error should name the recovery command, got %q", err)
	}
}

func TestRun_MissingBacklogIsFatal(t *testing.T) {
	dir := initTestRepo(t)
	os.Remove(filepath.Join(dir, workspace.BacklogFile))

	c := newTestCoordinator(t, dir)
	class, err := c.Run(context.Background(), Options{Workers: 1, MaxIterations: 5})
	if !errors.Is(err, backlog.ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
	if class != Fatal {
		t.Errorf("expected Fatal, got %s", class)
	}
	if !strings.Contains(err.Error(), "swarm init") {
		t.Errorf("error should name the recovery command, got %q", err)
	}
}

func TestRun_WorkerCapEnforced(t *testing.T) {
	dir := initTestRepo(t)
	c := newTestCoordinator(t, dir)

	if _, err := c.Run(context.Background(), Options{Workers: workspace.MaxWorkers + 1}); err == nil {
		t.Error("expected refusal above the worker cap")
	}
	if _, err := c.Run(context.Background(), Options{Workers: 0}); err == nil {
		t.Error("expected refusal for zero workers")
	}
}

func TestRun_InterruptPreservesWorkers(t *testing.T) {
	dir := initTestRepo(t)

	c := newTestCoordinator(t, dir)
	c.WorkerCommand = func(index, maxIterations int) (string, []string) {
		return "sleep", []string{"30"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	class, err := c.Run(ctx, Options{Workers: 1, MaxIterations: 5, Follow: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if class != Interrupted {
		t.Fatalf("expected Interrupted, got %s", class)
	}

	// The worker keeps running and the workspace survives.
	statuses := workspace.NewManager(git.New(dir)).Scan()
	if len(statuses) != 1 {
		t.Fatalf("workspace should survive an interrupt, got %d", len(statuses))
	}
	if statuses[0].State != workspace.StateActive {
		t.Errorf("worker should still be alive: %+v", statuses[0])
	}
	t.Cleanup(func() { proc.Stop(statuses[0].PID, 2*time.Second) })

	r, err := c.store.LastRun()
	if err != nil || r == nil {
		t.Fatalf("run record: %v, %v", r, err)
	}
	if r.Status != "interrupted" {
		t.Errorf("expected interrupted status, got %q", r.Status)
	}
}

func TestDetectMode(t *testing.T) {
	dir := initTestRepo(t)
	c := newTestCoordinator(t, dir)

	mode, statuses, err := c.DetectMode()
	if err != nil || mode != ModeFresh || len(statuses) != 0 {
		t.Fatalf("expected fresh mode, got %s, %v, %v", mode, statuses, err)
	}

	mgr := workspace.NewManager(git.New(dir))
	if _, err := mgr.Create(1, "main"); err != nil {
		t.Fatalf("create: %v", err)
	}

	mode, statuses, err = c.DetectMode()
	if err != nil || mode != ModeResume || len(statuses) != 1 {
		t.Fatalf("expected resume mode with 1 workspace, got %s, %d, %v", mode, len(statuses), err)
	}
}

func TestSelectWinner_ScoreDecides(t *testing.T) {
	dir := initTestRepo(t)
	c := newTestCoordinator(t, dir)
	mgr := workspace.NewManager(git.New(dir))

	ws1, _ := mgr.Create(1, "main")
	ws2, _ := mgr.Create(2, "main")

	c.store.SaveSnapshot(score.Snapshot{WorkspaceIndex: 1, StoriesPassed: 1, Score: 10})
	c.store.SaveSnapshot(score.Snapshot{WorkspaceIndex: 2, StoriesPassed: 5, Score: 50})

	winner, snap, reason, err := c.selectWinner(context.Background(), []*workspace.Workspace{ws1, ws2})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if winner.Index != 2 {
		t.Errorf("expected workspace 2, got %d", winner.Index)
	}
	if snap == nil || snap.WorkspaceIndex != 2 {
		t.Errorf("expected snapshot for workspace 2, got %+v", snap)
	}
	if reason != "" {
		t.Errorf("no judge, no reason, got %q", reason)
	}
}

func TestSelectWinner_SingleWorkspaceSkipsScoring(t *testing.T) {
	dir := initTestRepo(t)
	c := newTestCoordinator(t, dir)
	mgr := workspace.NewManager(git.New(dir))
	ws1, _ := mgr.Create(1, "main")

	winner, snap, _, err := c.selectWinner(context.Background(), []*workspace.Workspace{ws1})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if winner != ws1 || snap != nil {
		t.Errorf("single workspace wins without scoring, got %+v, %+v", winner, snap)
	}
}

func TestSelectWinner_DeadWorkerCompetesAtZero(t *testing.T) {
	dir := initTestRepo(t)
	c := newTestCoordinator(t, dir)
	mgr := workspace.NewManager(git.New(dir))

	ws1, _ := mgr.Create(1, "main")
	ws2, _ := mgr.Create(2, "main")

	// Only workspace 2 reported a snapshot; 1 died silently.
	c.store.SaveSnapshot(score.Snapshot{WorkspaceIndex: 2, StoriesPassed: 2, Score: 20})

	winner, _, _, err := c.selectWinner(context.Background(), []*workspace.Workspace{ws1, ws2})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if winner.Index != 2 {
		t.Errorf("reporting workspace should win over a silent one, got %d", winner.Index)
	}
}

func TestLoserStories_OnlyUnfinishedAreCancelled(t *testing.T) {
	dir := initTestRepo(t)
	c := newTestCoordinator(t, dir)
	c.board = board.NewClient(config.Board{URL: "http://127.0.0.1:1"})
	mgr := workspace.NewManager(git.New(dir))

	ws1, _ := mgr.Create(1, "main")
	ws2, _ := mgr.Create(2, "main")

	// The loser passed story-001 but abandoned story-002.
	loserBacklog := `stories:
  - id: story-001
    title: scaffold project
    passes: true
  - id: story-002
    title: add parser
`
	os.WriteFile(ws2.BacklogPath(), []byte(loserBacklog), 0644)

	stories := c.loserStories([]*workspace.Workspace{ws1, ws2}, ws1)
	if len(stories[2]) != 1 || stories[2][0].ID != "story-002" {
		t.Errorf("only the unfinished story should be cancelled, got %+v", stories[2])
	}
	if _, ok := stories[1]; ok {
		t.Error("the winner's stories must not be collected")
	}
}

func TestExitClass_Codes(t *testing.T) {
	if Success.Code() != 0 {
		t.Error("success must exit 0")
	}
	if Fatal.Code() != 1 {
		t.Error("fatal must exit 1")
	}
	if Interrupted.Code() != 130 {
		t.Error("interrupted must exit 130")
	}
}
