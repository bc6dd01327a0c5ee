// Package run coordinates a whole swarm run: provision workspaces,
// spawn detached workers, watch them to completion, pick a winner, and
// merge it. The coordinator never blocks on its children; an
// interrupted coordinator leaves the workers running and the run
// resumable.
package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lithammer/shortuuid/v3"

	"github.com/imkarma/swarm/internal/backlog"
	"github.com/imkarma/swarm/internal/board"
	"github.com/imkarma/swarm/internal/config"
	"github.com/imkarma/swarm/internal/git"
	"github.com/imkarma/swarm/internal/judge"
	"github.com/imkarma/swarm/internal/merge"
	"github.com/imkarma/swarm/internal/proc"
	"github.com/imkarma/swarm/internal/score"
	"github.com/imkarma/swarm/internal/store"
	"github.com/imkarma/swarm/internal/workspace"
)

// ErrActiveLoop means a live worker already holds a workspace; a new
// run cannot start until it finishes or is stopped.
var ErrActiveLoop = errors.New("a worker is already running")

// ExitClass is the explicit outcome of a run, decoupled from process
// exit codes.
type ExitClass int

const (
	Success ExitClass = iota
	Fatal
	Interrupted
)

func (e ExitClass) String() string {
	switch e {
	case Success:
		return "success"
	case Fatal:
		return "fatal"
	default:
		return "interrupted"
	}
}

// Code maps the class to a process exit code.
func (e ExitClass) Code() int {
	switch e {
	case Success:
		return 0
	case Interrupted:
		return 130
	default:
		return 1
	}
}

// Mode is how the run relates to existing workspaces.
type Mode string

const (
	ModeFresh  Mode = "fresh"
	ModeResume Mode = "resume"
)

// Options parameterize one run.
type Options struct {
	Workers       int
	MaxIterations int

	// Follow keeps the coordinator in the foreground, watching the
	// workers and completing the run in-process. Without it the run
	// hands completion to a detached watcher and returns immediately.
	Follow bool
}

// Coordinator drives a run end to end.
type Coordinator struct {
	cfg   *config.Config
	repo  *git.Repo
	mgr   *workspace.Manager
	store *store.Store
	board *board.Client

	// WorkerCommand yields the command spawned for one workspace.
	// Overridable for tests; the default re-executes this binary's
	// hidden worker subcommand.
	WorkerCommand func(index, maxIterations int) (string, []string)

	// WatcherCommand yields the detached completion watcher spawned in
	// normal (non-follow) mode. The default re-executes this binary's
	// hidden watch-run subcommand.
	WatcherCommand func() (string, []string)

	// PollInterval is how often worker liveness is checked.
	PollInterval time.Duration

	Out io.Writer
}

// New builds a coordinator rooted at the repo.
func New(cfg *config.Config, repo *git.Repo, st *store.Store) *Coordinator {
	c := &Coordinator{
		cfg:          cfg,
		repo:         repo,
		mgr:          workspace.NewManager(repo),
		store:        st,
		board:        board.NewClient(cfg.Board),
		PollInterval: 2 * time.Second,
		Out:          os.Stdout,
	}
	c.WorkerCommand = func(index, maxIterations int) (string, []string) {
		exe, err := os.Executable()
		if err != nil {
			exe = "swarm"
		}
		return exe, []string{"worker",
			"--index", strconv.Itoa(index),
			"--iterations", strconv.Itoa(maxIterations)}
	}
	c.WatcherCommand = func() (string, []string) {
		exe, err := os.Executable()
		if err != nil {
			exe = "swarm"
		}
		return exe, []string{"watch-run"}
	}
	return c
}

// DetectMode classifies the repo's workspace state: no workspaces is a
// fresh start, only paused ones is a resume, and any live worker
// refuses the run.
func (c *Coordinator) DetectMode() (Mode, []workspace.Status, error) {
	statuses := c.mgr.Scan()
	for _, st := range statuses {
		if st.State == workspace.StateActive {
			return "", nil, fmt.Errorf("%w: workspace %d (pid %d)\n"+
				"Wait for it, or stop it with: swarm stop", ErrActiveLoop, st.Index, st.PID)
		}
	}
	if len(statuses) == 0 {
		return ModeFresh, nil, nil
	}
	return ModeResume, statuses, nil
}

// Run executes a full run and reports its exit class. A cancelled
// context means the user interrupted: workers are left running and
// nothing is cleaned up.
func (c *Coordinator) Run(ctx context.Context, opts Options) (ExitClass, error) {
	if !c.repo.IsGitRepo() {
		return Fatal, fmt.Errorf("not a git repository\nRun swarm from the project root")
	}
	if opts.Workers < 1 || opts.Workers > workspace.MaxWorkers {
		return Fatal, fmt.Errorf("workers must be 1..%d, got %d", workspace.MaxWorkers, opts.Workers)
	}

	// The project backlog must exist and be valid before any branch is
	// created.
	if _, err := backlog.Load(filepath.Join(c.repo.WorkDir(), workspace.BacklogFile)); err != nil {
		if errors.Is(err, backlog.ErrMissing) {
			return Fatal, fmt.Errorf("%w\nRun: swarm init", err)
		}
		return Fatal, err
	}

	mode, existing, err := c.DetectMode()
	if err != nil {
		return Fatal, err
	}

	workspaces, runID, err := c.provision(mode, existing, opts)
	if err != nil {
		return Fatal, err
	}

	if c.board != nil && !c.board.Healthy(ctx) {
		c.logf("status board unreachable, disabling updates")
		c.board = nil
	}

	if err := c.spawnAll(workspaces, opts.MaxIterations); err != nil {
		// Fatal during startup reclaims what this run created; an
		// interrupted run never reaches this path.
		if mode == ModeFresh {
			c.reclaim(workspaces)
		}
		c.store.EndRun(runID, "failed")
		return Fatal, err
	}

	if !opts.Follow {
		name, args := c.WatcherCommand()
		logPath := filepath.Join(c.repo.WorkDir(), workspace.SwarmDir, "watcher.log")
		if pid, err := proc.Spawn(name, args, c.repo.WorkDir(), logPath); err == nil {
			c.logf("run %s launched; completion watcher pid %d", runID, pid)
			c.logf("follow progress with: swarm watch")
			return Success, nil
		}
		// No watcher means nobody would merge; fall back to watching
		// in-process.
		c.logf("could not detach completion watcher, watching in-process")
	}

	return c.finish(ctx, runID, workspaces)
}

// Finish watches an already-launched run to completion and merges the
// winner. This is the detached completion watcher's entrypoint; it
// reattaches to the run through the store and the on-disk workspaces.
func (c *Coordinator) Finish(ctx context.Context) (ExitClass, error) {
	r, err := c.store.ActiveRun()
	if err != nil {
		return Fatal, err
	}
	if r == nil {
		return Fatal, fmt.Errorf("no active run to watch")
	}

	var workspaces []*workspace.Workspace
	for _, st := range c.mgr.Scan() {
		ws := st.Workspace
		workspaces = append(workspaces, &ws)
	}
	if len(workspaces) == 0 {
		return Fatal, fmt.Errorf("run %s has no workspaces", r.RunID)
	}

	if c.board != nil && !c.board.Healthy(ctx) {
		c.board = nil
	}
	return c.finish(ctx, r.RunID, workspaces)
}

// finish is the completion half of a run: wait for every worker, pick
// the winner, merge it, and close the run record.
func (c *Coordinator) finish(ctx context.Context, runID string, workspaces []*workspace.Workspace) (ExitClass, error) {
	if done := c.watch(ctx, workspaces); !done {
		c.logf("interrupted; workers keep running, resume with: swarm run")
		c.store.EndRun(runID, "interrupted")
		return Interrupted, nil
	}

	winner, snapshot, reason, err := c.selectWinner(ctx, workspaces)
	if err != nil {
		c.store.EndRun(runID, "failed")
		return Fatal, err
	}

	// Capture the losers' stories before the merge tears the
	// workspaces down; their board tasks move to cancelled afterwards.
	loserStories := c.loserStories(workspaces, winner)

	mc := merge.New(c.repo, c.mgr)
	if err := mc.Merge(merge.Request{
		RunID:       runID,
		Winner:      winner,
		Snapshot:    snapshot,
		JudgeReason: reason,
		Workspaces:  len(workspaces),
	}); err != nil {
		c.store.EndRun(runID, "failed")
		return Fatal, err
	}

	c.cancelLosers(ctx, runID, loserStories)

	c.store.EndRun(runID, "merged")
	c.logf("run %s merged: %s", runID, winner.Branch)
	return Success, nil
}

// loserStories collects each losing workspace's unfinished stories,
// keyed by workspace index. Stories the loser did pass keep their done
// status on the board; only abandoned work is cancelled.
func (c *Coordinator) loserStories(workspaces []*workspace.Workspace, winner *workspace.Workspace) map[int][]backlog.Story {
	if c.board == nil || len(workspaces) < 2 {
		return nil
	}
	out := map[int][]backlog.Story{}
	for _, ws := range workspaces {
		if ws.Index == winner.Index {
			continue
		}
		if bl, err := backlog.Load(ws.BacklogPath()); err == nil {
			out[ws.Index] = bl.Remaining()
		}
	}
	return out
}

// cancelLosers marks the abandoned workspaces' board tasks cancelled.
// Board-only: the backlogs are gone with the workspaces by now.
func (c *Coordinator) cancelLosers(ctx context.Context, runID string, stories map[int][]backlog.Story) {
	for index, list := range stories {
		sync := board.NewSync(c.board, c.store, runID, index)
		for i := range list {
			sync.StoryCancelled(ctx, &list[i])
		}
	}
}

// provision creates fresh workspaces or reattaches the paused ones.
func (c *Coordinator) provision(mode Mode, existing []workspace.Status, opts Options) ([]*workspace.Workspace, string, error) {
	if mode == ModeResume {
		var workspaces []*workspace.Workspace
		for _, st := range existing {
			ws := st.Workspace
			workspaces = append(workspaces, &ws)
		}

		// A crashed coordinator leaves its run record open; adopt it.
		if r, err := c.store.ActiveRun(); err == nil && r != nil {
			c.logf("resuming run %s", r.RunID)
			return workspaces, r.RunID, nil
		}
		runID := shortuuid.New()
		if err := c.store.CreateRun(runID, len(workspaces), string(ModeResume)); err != nil {
			return nil, "", err
		}
		c.logf("resuming %d paused workspace(s) as run %s", len(workspaces), runID)
		return workspaces, runID, nil
	}

	base, err := c.repo.BaseBranch()
	if err != nil {
		return nil, "", err
	}

	runID := shortuuid.New()
	if err := c.store.CreateRun(runID, opts.Workers, string(ModeFresh)); err != nil {
		return nil, "", err
	}

	var workspaces []*workspace.Workspace
	for i := 1; i <= opts.Workers; i++ {
		ws, err := c.mgr.Create(i, base)
		if err != nil {
			c.reclaim(workspaces)
			return nil, "", err
		}
		workspaces = append(workspaces, ws)
	}
	c.logf("run %s: %d workspace(s) off %s", runID, len(workspaces), base)
	return workspaces, runID, nil
}

// spawnAll starts one detached worker per workspace and records its
// PID as the workspace lock.
func (c *Coordinator) spawnAll(workspaces []*workspace.Workspace, maxIterations int) error {
	for _, ws := range workspaces {
		name, args := c.WorkerCommand(ws.Index, maxIterations)
		pid, err := proc.Spawn(name, args, c.repo.WorkDir(), ws.LogPath())
		if err != nil {
			return fmt.Errorf("spawn worker %d: %w", ws.Index, err)
		}
		if err := ws.Lock(pid); err != nil {
			return err
		}
		c.store.AddEvent(ws.Index, "", "worker_spawned", strconv.Itoa(pid))
		c.logf("worker %d started (pid %d)", ws.Index, pid)
	}
	return nil
}

// watch polls worker liveness until all workers exit (true) or the
// context is cancelled (false). No blocking wait: the workers are not
// our children by the time we look at them.
func (c *Coordinator) watch(ctx context.Context, workspaces []*workspace.Workspace) bool {
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for {
		alive := 0
		for _, ws := range workspaces {
			if ws.Locked() {
				alive++
			}
		}
		if alive == 0 {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// selectWinner picks the workspace to merge. Single-workspace runs
// skip scoring entirely; otherwise the deterministic score decides,
// optionally overridden by the judge.
func (c *Coordinator) selectWinner(ctx context.Context, workspaces []*workspace.Workspace) (*workspace.Workspace, *score.Snapshot, string, error) {
	if len(workspaces) == 1 {
		return workspaces[0], nil, "", nil
	}

	var snaps []score.Snapshot
	byIndex := map[int]*workspace.Workspace{}
	for _, ws := range workspaces {
		byIndex[ws.Index] = ws
		snap, err := c.store.GetSnapshot(ws.Index)
		if err != nil {
			return nil, nil, "", err
		}
		if snap == nil {
			// A worker that died before reporting still competes, at
			// the bottom.
			snap = &score.Snapshot{WorkspaceIndex: ws.Index}
		}
		snaps = append(snaps, *snap)
	}

	best := score.SelectBest(snaps)
	if best < 0 {
		return nil, nil, "", fmt.Errorf("no snapshots to score")
	}
	winner := snaps[best]
	c.logf("score winner: loop-%d (score %d)", winner.WorkspaceIndex, winner.Score)

	reason := ""
	if c.cfg.Judge.Enabled {
		if verdict := c.askJudge(ctx, snaps, byIndex); verdict != nil {
			if verdict.Winner != winner.WorkspaceIndex {
				c.logf("judge disagrees with the score: loop-%d over loop-%d (%s)",
					verdict.Winner, winner.WorkspaceIndex, verdict.Reason)
			}
			for _, s := range snaps {
				if s.WorkspaceIndex == verdict.Winner {
					winner = s
				}
			}
			reason = verdict.Reason
		}
	}

	snap := winner
	return byIndex[winner.WorkspaceIndex], &snap, reason, nil
}

// askJudge runs the judge and returns nil on any failure, falling back
// to the score.
func (c *Coordinator) askJudge(ctx context.Context, snaps []score.Snapshot, byIndex map[int]*workspace.Workspace) *judge.Decision {
	selector, err := judge.NewSelector(c.cfg.Judge)
	if err != nil {
		c.logf("judge unavailable: %v", err)
		return nil
	}

	var candidates []judge.Candidate
	for _, snap := range snaps {
		cand := judge.Candidate{Snapshot: snap}
		if ws := byIndex[snap.WorkspaceIndex]; ws != nil {
			if base, err := ws.BaseHash(); err == nil {
				wtRepo := git.New(ws.Worktree)
				cand.CommitSubjects, _ = wtRepo.CommitSubjectsSince(base)
				cand.DiffExcerpt, _ = c.repo.Diff(base, ws.Branch)
			}
		}
		candidates = append(candidates, cand)
	}

	verdict, err := selector.Decide(ctx, candidates)
	if err != nil {
		c.logf("judge unavailable, score decides: %v", err)
		return nil
	}
	return verdict
}

// reclaim tears down workspaces created by a run that failed to start:
// stop any worker that did spawn, cancel its board tasks, and remove
// the workspace. All best-effort.
func (c *Coordinator) reclaim(workspaces []*workspace.Workspace) {
	ctx := context.Background()
	for _, ws := range workspaces {
		if pid := ws.PID(); pid != 0 && proc.Alive(pid) {
			proc.Stop(pid, 5*time.Second)
		}
		if c.board != nil {
			if bl, err := backlog.Load(ws.BacklogPath()); err == nil {
				sync := board.NewSync(c.board, c.store, "", ws.Index)
				for i := range bl.Stories {
					sync.StoryCancelled(ctx, &bl.Stories[i])
				}
			}
		}
		ws.Unlock()
		c.mgr.Remove(ws)
	}
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.Out == nil {
		return
	}
	fmt.Fprintf(c.Out, format+"\n", args...)
}
