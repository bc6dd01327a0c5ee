// Package workspace manages the isolated per-worker checkouts: a git
// worktree plus branch pair under .swarm/, a private backlog snapshot,
// and the PID lock that marks a workspace active.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/imkarma/swarm/internal/git"
	"github.com/imkarma/swarm/internal/proc"
)

// MaxWorkers is the hard cap on parallel workspaces.
const MaxWorkers = 10

// Layout inside the target repo.
const (
	SwarmDir    = ".swarm"
	ConfigFile  = ".swarm/config.yaml"
	DBFile      = ".swarm/swarm.db"
	BacklogFile = ".swarm/backlog.yaml"
	loopsDir    = ".swarm/loops"
	stateDir    = ".swarm/state"
)

// State classifies an existing workspace.
type State string

const (
	StateActive State = "active" // a live worker holds the lock
	StatePaused State = "paused" // exists, no live worker
)

// Workspace is one worker's isolated environment.
type Workspace struct {
	Index    int
	Branch   string
	Worktree string // absolute path to the checkout
	state    string // absolute path to the state dir
}

// Status is a scanned workspace with its liveness.
type Status struct {
	Workspace
	State State
	PID   int
}

// Manager creates, resolves, and reclaims workspaces in one repo.
type Manager struct {
	repo *git.Repo
	root string
}

// NewManager builds a Manager rooted at the repo's work dir.
func NewManager(repo *git.Repo) *Manager {
	return &Manager{repo: repo, root: repo.WorkDir()}
}

// BranchName returns the branch for a workspace index.
func BranchName(index int) string {
	return "swarm/loop-" + strconv.Itoa(index)
}

func (m *Manager) workspace(index int) *Workspace {
	name := "loop-" + strconv.Itoa(index)
	return &Workspace{
		Index:    index,
		Branch:   BranchName(index),
		Worktree: filepath.Join(m.root, loopsDir, name),
		state:    filepath.Join(m.root, stateDir, name),
	}
}

// Create provisions workspace index: a fresh branch and worktree off
// the base branch, a state dir, the recorded base commit, and a
// private snapshot of the project backlog.
func (m *Manager) Create(index int, baseBranch string) (*Workspace, error) {
	if index < 1 || index > MaxWorkers {
		return nil, fmt.Errorf("workspace index %d out of range 1..%d", index, MaxWorkers)
	}
	ws := m.workspace(index)

	if err := os.MkdirAll(ws.state, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(ws.Worktree), 0755); err != nil {
		return nil, fmt.Errorf("create loops dir: %w", err)
	}

	if err := m.repo.AddWorktree(ws.Worktree, ws.Branch, baseBranch); err != nil {
		return nil, err
	}

	base, err := m.repo.Head()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(ws.baseFile(), []byte(base+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("record base: %w", err)
	}

	if err := copyFile(filepath.Join(m.root, BacklogFile), ws.BacklogPath()); err != nil {
		return nil, fmt.Errorf("snapshot backlog: %w", err)
	}

	return ws, nil
}

// Resolve returns workspace index if it exists on disk. A worktree
// directory that was deleted by hand is re-attached from its surviving
// branch.
func (m *Manager) Resolve(index int) (*Workspace, error) {
	ws := m.workspace(index)
	if _, err := os.Stat(ws.Worktree); err != nil {
		if !m.repo.BranchExists(ws.Branch) {
			return nil, fmt.Errorf("workspace %d does not exist", index)
		}
		m.repo.PruneWorktrees()
		if err := m.repo.AttachWorktree(ws.Worktree, ws.Branch); err != nil {
			return nil, fmt.Errorf("reattach workspace %d: %w", index, err)
		}
	}
	return ws, nil
}

// Scan walks indexes 1..MaxWorkers and classifies every workspace
// found on disk: locked means a worker is alive (Active), unlocked
// means Paused.
func (m *Manager) Scan() []Status {
	var found []Status
	for i := 1; i <= MaxWorkers; i++ {
		ws := m.workspace(i)
		if _, err := os.Stat(ws.Worktree); err != nil {
			continue
		}
		st := Status{Workspace: *ws, State: StatePaused}
		if pid := proc.ReadPIDFile(ws.PIDPath()); proc.Alive(pid) {
			st.State = StateActive
			st.PID = pid
		}
		found = append(found, st)
	}
	return found
}

// Remove tears a workspace down: worktree, branch, and state dir. The
// workspace must not be locked.
func (m *Manager) Remove(ws *Workspace) error {
	if ws.Locked() {
		return fmt.Errorf("workspace %d has a live worker", ws.Index)
	}
	if err := m.repo.RemoveWorktree(ws.Worktree); err != nil {
		return err
	}
	if err := m.repo.DeleteBranch(ws.Branch); err != nil {
		return err
	}
	if err := os.RemoveAll(ws.state); err != nil {
		return fmt.Errorf("remove state: %w", err)
	}
	m.repo.PruneWorktrees()
	return nil
}

// --- per-workspace files ---

// BacklogPath is the workspace's private backlog snapshot.
func (w *Workspace) BacklogPath() string {
	return filepath.Join(w.state, "backlog.yaml")
}

// PIDPath is the lock file; a live PID inside means Active.
func (w *Workspace) PIDPath() string {
	return filepath.Join(w.state, "worker.pid")
}

// LogPath is the worker's append-only output log.
func (w *Workspace) LogPath() string {
	return filepath.Join(w.state, "worker.log")
}

func (w *Workspace) baseFile() string {
	return filepath.Join(w.state, "base")
}

// BaseHash returns the commit the workspace branched from.
func (w *Workspace) BaseHash() (string, error) {
	data, err := os.ReadFile(w.baseFile())
	if err != nil {
		return "", fmt.Errorf("read base: %w", err)
	}
	return trimNewline(string(data)), nil
}

// Lock marks the workspace active under the given PID.
func (w *Workspace) Lock(pid int) error {
	return proc.WritePIDFile(w.PIDPath(), pid)
}

// Unlock releases the workspace. Safe to call when already unlocked.
func (w *Workspace) Unlock() {
	os.Remove(w.PIDPath())
}

// Locked reports whether a live worker holds this workspace.
func (w *Workspace) Locked() bool {
	return proc.Locked(w.PIDPath())
}

// PID returns the recorded worker PID, live or not.
func (w *Workspace) PID() int {
	return proc.ReadPIDFile(w.PIDPath())
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
