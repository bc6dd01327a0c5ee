// Package git wraps the git operations swarm needs: loop branch and
// worktree lifecycle, commit-history inspection for TDD verification,
// and the dry-run merge protocol used when a winning loop lands.
package git

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Repo runs git commands against one working directory.
type Repo struct {
	workDir string
}

// New creates a Repo for the given working directory.
func New(workDir string) *Repo {
	return &Repo{workDir: workDir}
}

// WorkDir returns the directory this repo operates on.
func (r *Repo) WorkDir() string { return r.workDir }

func (r *Repo) git(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.workDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s", args[0], strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// IsGitRepo checks if the working directory is inside a git repository.
func (r *Repo) IsGitRepo() bool {
	out, err := r.git("rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// CurrentBranch returns the name of the checked-out branch.
func (r *Repo) CurrentBranch() (string, error) {
	return r.git("rev-parse", "--abbrev-ref", "HEAD")
}

// BaseBranch detects the main/master branch name, falling back to the
// current branch.
func (r *Repo) BaseBranch() (string, error) {
	for _, name := range []string{"main", "master"} {
		if r.BranchExists(name) {
			return name, nil
		}
	}
	return r.CurrentBranch()
}

// BranchExists checks if a local branch exists.
func (r *Repo) BranchExists(branch string) bool {
	cmd := exec.Command("git", "rev-parse", "--verify", "refs/heads/"+branch)
	cmd.Dir = r.workDir
	return cmd.Run() == nil
}

// HasUncommittedChanges checks for any change in the working tree.
func (r *Repo) HasUncommittedChanges() bool {
	out, err := r.git("status", "--porcelain")
	return err == nil && out != ""
}

// CreateBranch creates a branch at the given start point without
// switching to it.
func (r *Repo) CreateBranch(branch, from string) error {
	_, err := r.git("branch", branch, from)
	return err
}

// DeleteBranch force-deletes a branch.
func (r *Repo) DeleteBranch(branch string) error {
	_, err := r.git("branch", "-D", branch)
	return err
}

// Head returns the commit hash of HEAD.
func (r *Repo) Head() (string, error) {
	return r.git("rev-parse", "HEAD")
}

// CommitAll stages everything and commits. Returns false if there was
// nothing to commit.
func (r *Repo) CommitAll(message string) (bool, error) {
	if _, err := r.git("add", "-A"); err != nil {
		return false, err
	}

	// Nothing staged means nothing to commit.
	check := exec.Command("git", "diff", "--cached", "--quiet")
	check.Dir = r.workDir
	if check.Run() == nil {
		return false, nil
	}

	if _, err := r.git("commit", "-m", message); err != nil {
		return false, err
	}
	return true, nil
}

// CommitCountSince counts commits made after the given commit hash.
func (r *Repo) CommitCountSince(hash string) (int, error) {
	out, err := r.git("rev-list", "--count", hash+"..HEAD")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("parse commit count %q: %w", out, err)
	}
	return n, nil
}

// CommitSubjectsSince returns the subject lines of commits made after
// the given hash, oldest first, so callers can check ordering.
func (r *Repo) CommitSubjectsSince(hash string) ([]string, error) {
	out, err := r.git("log", "--reverse", "--format=%s", hash+"..HEAD")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// ChangedFiles lists the files that differ between base and branch.
func (r *Repo) ChangedFiles(base, branch string) ([]string, error) {
	out, err := r.git("diff", "--name-only", base+"..."+branch)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Diff returns the full patch between base and branch.
func (r *Repo) Diff(base, branch string) (string, error) {
	return r.git("diff", base+"..."+branch)
}

// Churn returns insertions+deletions between base and branch, parsed
// from git's shortstat summary.
func (r *Repo) Churn(base, branch string) (int, error) {
	out, err := r.git("diff", "--shortstat", base+"..."+branch)
	if err != nil {
		return 0, err
	}
	// e.g. " 3 files changed, 120 insertions(+), 5 deletions(-)"
	churn := 0
	for _, part := range strings.Split(out, ",") {
		part = strings.TrimSpace(part)
		fields := strings.Fields(part)
		if len(fields) < 2 {
			continue
		}
		if strings.HasPrefix(fields[1], "insertion") || strings.HasPrefix(fields[1], "deletion") {
			n, err := strconv.Atoi(fields[0])
			if err != nil {
				continue
			}
			churn += n
		}
	}
	return churn, nil
}

// Checkout switches to an existing branch.
func (r *Repo) Checkout(branch string) error {
	_, err := r.git("checkout", branch)
	return err
}

// MergeNoCommit attempts to merge a branch without creating a commit.
// A clean merge leaves the result staged; the caller decides between
// Commit and AbortMerge. A conflicting merge returns an error with the
// merge left in progress — call AbortMerge to restore the tree.
func (r *Repo) MergeNoCommit(branch string) error {
	_, err := r.git("merge", "--no-commit", "--no-ff", branch)
	return err
}

// AbortMerge abandons an in-progress merge, leaving the branch as it
// was before MergeNoCommit.
func (r *Repo) AbortMerge() error {
	_, err := r.git("merge", "--abort")
	return err
}

// Commit creates a commit from the currently staged state.
func (r *Repo) Commit(message string) error {
	_, err := r.git("commit", "-m", message)
	return err
}

// Push pushes the given branch to origin. Best-effort callers treat a
// failure here as non-fatal.
func (r *Repo) Push(branch string) error {
	_, err := r.git("push", "origin", branch)
	return err
}

// --- Worktree support for loop isolation ---

// AddWorktree creates a worktree at path on a new branch starting from
// the given commit-ish.
func (r *Repo) AddWorktree(path, branch, from string) error {
	_, err := r.git("worktree", "add", "-b", branch, path, from)
	return err
}

// AttachWorktree creates a worktree at path for an existing branch.
func (r *Repo) AttachWorktree(path, branch string) error {
	_, err := r.git("worktree", "add", path, branch)
	return err
}

// RemoveWorktree removes a worktree and its checkout.
func (r *Repo) RemoveWorktree(path string) error {
	_, err := r.git("worktree", "remove", path, "--force")
	return err
}

// PruneWorktrees drops stale worktree references.
func (r *Repo) PruneWorktrees() error {
	_, err := r.git("worktree", "prune")
	return err
}
