// Package merge lands exactly one winning workspace branch on the
// base branch and reclaims the rest. The merge is dry-run first: it is
// committed only when git reports no conflicts, otherwise the tree is
// restored untouched.
package merge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/imkarma/swarm/internal/backlog"
	"github.com/imkarma/swarm/internal/git"
	"github.com/imkarma/swarm/internal/score"
	"github.com/imkarma/swarm/internal/workspace"
)

var (
	// ErrIncompleteWinner means the selected workspace did not pass
	// its whole backlog; nothing is merged and every workspace stays
	// available for resumption.
	ErrIncompleteWinner = errors.New("winner has unfinished stories")

	// ErrConflict means the dry-run merge hit conflicts and was
	// aborted; the base branch is untouched.
	ErrConflict = errors.New("merge conflict")
)

// Request describes one merge attempt.
type Request struct {
	RunID       string
	Winner      *workspace.Workspace
	Snapshot    *score.Snapshot // nil for single-workspace runs
	JudgeReason string          // empty when the score decided
	Workspaces  int             // total workspaces in the run
}

// Coordinator performs the end-of-run merge.
type Coordinator struct {
	repo *git.Repo
	mgr  *workspace.Manager
}

// New builds a merge coordinator for a repo.
func New(repo *git.Repo, mgr *workspace.Manager) *Coordinator {
	return &Coordinator{repo: repo, mgr: mgr}
}

// Merge verifies the winner, dry-runs the merge onto the base branch,
// commits it, and tears down every workspace. On refusal or conflict
// the workspaces are left in place so the run can be resumed or
// resolved by hand.
func (c *Coordinator) Merge(req Request) error {
	if req.Winner.Locked() {
		return fmt.Errorf("workspace %d still has a live worker", req.Winner.Index)
	}

	bl, err := backlog.Load(req.Winner.BacklogPath())
	if err != nil {
		return err
	}
	if !bl.Complete() {
		c.unlockAll()
		passed, total := bl.Counts()
		return fmt.Errorf("%w: workspace %d passed %d/%d", ErrIncompleteWinner, req.Winner.Index, passed, total)
	}

	base, err := c.repo.BaseBranch()
	if err != nil {
		return err
	}
	if err := c.repo.Checkout(base); err != nil {
		return err
	}

	if err := c.repo.MergeNoCommit(req.Winner.Branch); err != nil {
		c.repo.AbortMerge()
		c.unlockAll()
		return fmt.Errorf("%w: %s does not merge cleanly into %s\n"+
			"Resolve manually:\n"+
			"  git merge %s\n"+
			"then clean up with: swarm clean",
			ErrConflict, req.Winner.Branch, base, req.Winner.Branch)
	}

	passed, total := bl.Counts()
	if err := c.repo.Commit(CommitMessage(req, passed, total)); err != nil {
		c.repo.AbortMerge()
		c.unlockAll()
		return err
	}

	return c.cleanup()
}

// CommitMessage builds the merge commit message carrying the run
// summary.
func CommitMessage(req Request, passed, total int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "merge: swarm run %s, %s\n\n", req.RunID, req.Winner.Branch)
	fmt.Fprintf(&b, "Stories passed: %d/%d\n", passed, total)

	if req.Workspaces > 1 {
		fmt.Fprintf(&b, "Winner: loop-%d of %d parallel workspaces\n", req.Winner.Index, req.Workspaces)
	}
	if req.Snapshot != nil {
		fmt.Fprintf(&b, "Score: %d (tests %d, coverage %.1f%%)\n",
			req.Snapshot.Score, req.Snapshot.TestFileCount, req.Snapshot.CoveragePct)
	}
	if req.JudgeReason != "" {
		fmt.Fprintf(&b, "Judge: %s\n", req.JudgeReason)
	}

	return strings.TrimRight(b.String(), "\n")
}

// cleanup removes every workspace after a successful merge.
func (c *Coordinator) cleanup() error {
	var firstErr error
	for _, st := range c.mgr.Scan() {
		ws := st.Workspace
		ws.Unlock()
		if err := c.mgr.Remove(&ws); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// unlockAll releases stale locks so a refused run can resume.
func (c *Coordinator) unlockAll() {
	for _, st := range c.mgr.Scan() {
		if st.State != workspace.StateActive {
			ws := st.Workspace
			ws.Unlock()
		}
	}
}
