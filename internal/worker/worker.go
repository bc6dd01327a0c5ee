// Package worker runs one workspace's development loop as a detached
// process: pick a story, hand it to the coding agent, verify the
// test-first workflow, validate, retry fixes within budget, and mark
// the story passed.
package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/imkarma/swarm/internal/agent"
	"github.com/imkarma/swarm/internal/backlog"
	"github.com/imkarma/swarm/internal/board"
	"github.com/imkarma/swarm/internal/config"
	"github.com/imkarma/swarm/internal/git"
	"github.com/imkarma/swarm/internal/oracle"
	"github.com/imkarma/swarm/internal/prompt"
	"github.com/imkarma/swarm/internal/score"
	"github.com/imkarma/swarm/internal/store"
	"github.com/imkarma/swarm/internal/workspace"
)

const (
	// maxFixRounds bounds the fix-retry loop per story iteration.
	maxFixRounds = 3
	// cheapFixThreshold is the error count at or below which a fix
	// round uses the cheap agent profile.
	cheapFixThreshold = 3
	// defaultMaxIterations bounds the whole worker loop.
	defaultMaxIterations = 10
)

// Outcome summarizes a finished worker loop.
type Outcome struct {
	Iterations    int
	StoriesPassed int
	StoriesTotal  int
	Complete      bool
	Snapshot      score.Snapshot
}

// Worker drives one workspace.
type Worker struct {
	cfg    *config.Config
	ws     *workspace.Workspace
	repo   *git.Repo // rooted at the worktree
	store  *store.Store
	sync   *board.Sync
	runner agent.Runner
	oracle *oracle.Oracle
	prompt *prompt.Builder

	MaxIterations int
	Out           io.Writer
}

// New assembles a worker for a workspace. The runner is built from the
// agent config; the oracle and prompt builder are rooted at the
// worktree.
func New(cfg *config.Config, ws *workspace.Workspace, st *store.Store, sync *board.Sync) (*Worker, error) {
	runner, err := agent.NewRunner("agent", cfg.Agent)
	if err != nil {
		return nil, err
	}
	return &Worker{
		cfg:           cfg,
		ws:            ws,
		repo:          git.New(ws.Worktree),
		store:         st,
		sync:          sync,
		runner:        runner,
		oracle:        oracle.New(cfg.Validate, ws.Worktree),
		prompt:        prompt.New(ws.Worktree),
		MaxIterations: defaultMaxIterations,
		Out:           os.Stdout,
	}, nil
}

// Run executes the development loop until the backlog completes or the
// iteration budget runs out, then records the final metrics snapshot.
func (w *Worker) Run(ctx context.Context) (*Outcome, error) {
	if err := w.ws.Lock(os.Getpid()); err != nil {
		return nil, fmt.Errorf("lock workspace: %w", err)
	}
	defer w.ws.Unlock()

	w.event("", "worker_started", "")
	out := &Outcome{}

	if bl, err := backlog.Load(w.ws.BacklogPath()); err == nil {
		w.sync.Init(ctx, bl.Stories)
	}

	for i := 1; i <= w.MaxIterations; i++ {
		if ctx.Err() != nil {
			break
		}
		out.Iterations = i

		done, err := w.iterate(ctx, i)
		if err != nil {
			return out, err
		}
		if done {
			out.Complete = true
			break
		}
	}

	bl, err := backlog.Load(w.ws.BacklogPath())
	if err != nil {
		return out, err
	}
	out.StoriesPassed, out.StoriesTotal = bl.Counts()

	snap, err := w.collectSnapshot(ctx, bl)
	if err != nil {
		return out, err
	}
	out.Snapshot = *snap

	if !out.Complete && !bl.Complete() {
		remaining := bl.Remaining()
		ids := make([]string, len(remaining))
		for i, story := range remaining {
			ids[i] = story.ID
		}
		w.event("", "budget_exhausted",
			fmt.Sprintf("%d/%d stories after %d iterations, unresolved: %s",
				out.StoriesPassed, out.StoriesTotal, out.Iterations, strings.Join(ids, ", ")))
		// Board tasks for unresolved stories are abandoned, not carried
		// over. The backlog itself is untouched.
		for i := range remaining {
			w.sync.StoryCancelled(ctx, &remaining[i])
		}
	}
	w.event("", "worker_done", fmt.Sprintf("score %d", snap.Score))
	return out, nil
}

// iterate runs one story attempt. Returns done=true when the backlog
// has no selectable story left.
func (w *Worker) iterate(ctx context.Context, iteration int) (bool, error) {
	bl, err := backlog.Load(w.ws.BacklogPath())
	if err != nil {
		return false, fmt.Errorf("load backlog: %w", err)
	}

	story := bl.Next()
	if story == nil {
		w.event("", "backlog_complete", "")
		return true, nil
	}

	w.logf("iteration %d: %s (%s)", iteration, story.ID, story.Title)
	w.event(story.ID, "story_started", story.Title)
	w.sync.StoryStarted(ctx, story)

	startHead, err := w.repo.Head()
	if err != nil {
		return false, err
	}

	// Execute: one agent invocation for the story.
	cheap := agent.Classify(story.Title, story.Description).Cheap()
	resp, err := w.runner.Run(ctx, agent.Request{
		Prompt:     w.prompt.StoryPrompt(story),
		WorkDir:    w.ws.Worktree,
		TimeoutSec: w.cfg.Agent.DefaultTimeout(),
		Cheap:      cheap,
	})
	if err != nil || resp.Error != nil {
		detail := "invocation error"
		if resp != nil && resp.Error != nil {
			detail = resp.Error.Error()
		} else if err != nil {
			detail = err.Error()
		}
		w.event(story.ID, "agent_failed", detail)
		w.sync.StoryFailed(ctx, story)
		return false, nil
	}

	// Only commits the agent made itself count toward the workflow
	// check; the snapshot commit below just keeps stray edits from
	// being lost.
	subjects, err := w.repo.CommitSubjectsSince(startHead)
	if err != nil {
		return false, err
	}
	w.repo.CommitAll("chore: snapshot uncommitted agent work")

	passed, _ := bl.Counts()
	exempt := passed == 0 && bl.Stories[0].ID == story.ID

	switch VerifyCommits(subjects, exempt) {
	case VerdictRetry:
		w.event(story.ID, "no_commits", "agent made no commits; story stays available")
		w.sync.StoryFailed(ctx, story)
		return false, nil
	case VerdictFail:
		w.event(story.ID, "workflow_violation", fmt.Sprintf("commits: %v", subjects))
		w.sync.StoryFailed(ctx, story)
		return false, nil
	}

	// Validate, then fix within budget.
	w.sync.StoryInReview(ctx, story)
	result := w.oracle.Run(ctx)
	if !result.Passed {
		result = w.fixLoop(ctx, story, result)
	}
	if !result.Passed {
		reason := "validation failed"
		if result.TimedOut {
			reason = "validation timed out"
		}
		w.event(story.ID, "validation_failed", reason)
		w.sync.StoryFailed(ctx, story)
		return false, nil
	}

	return false, w.commit(ctx, bl, story)
}

// fixLoop runs up to maxFixRounds agent fix attempts. Intermediate
// rounds use the fast partial pipeline; the final round always runs
// the full pipeline so a pass is authoritative.
func (w *Worker) fixLoop(ctx context.Context, story *backlog.Story, failed *oracle.Result) *oracle.Result {
	result := failed
	for round := 1; round <= maxFixRounds; round++ {
		report := oracle.ParseReport(result.Output)
		w.logf("fix round %d/%d (%d problems)", round, maxFixRounds, report.Problems())

		resp, err := w.runner.Run(ctx, agent.Request{
			Prompt:     w.prompt.FixPrompt(story, result.Output, round, maxFixRounds),
			WorkDir:    w.ws.Worktree,
			TimeoutSec: w.cfg.Agent.DefaultTimeout(),
			Cheap:      report.Problems() <= cheapFixThreshold,
		})
		if err != nil || resp.Error != nil {
			w.event(story.ID, "fix_agent_failed", fmt.Sprintf("round %d", round))
			return result
		}
		w.repo.CommitAll("chore: snapshot uncommitted fix work")

		if round < maxFixRounds {
			result = w.oracle.RunPartial(ctx)
		} else {
			result = w.oracle.Run(ctx)
		}
		if result.Passed {
			// A partial pass is not authoritative; confirm with the
			// full pipeline before accepting.
			if round < maxFixRounds {
				result = w.oracle.Run(ctx)
			}
			if result.Passed {
				return result
			}
		}
	}
	return result
}

// commit records a passed story: atomic backlog rewrite, progress
// event, board update, best-effort push.
func (w *Worker) commit(ctx context.Context, bl *backlog.Backlog, story *backlog.Story) error {
	if err := bl.MarkPassed(story.ID, time.Now()); err != nil {
		return err
	}
	if err := bl.Save(w.ws.BacklogPath()); err != nil {
		return fmt.Errorf("save backlog: %w", err)
	}

	w.event(story.ID, "story_passed", "")
	w.sync.StoryPassed(ctx, story)
	w.logf("passed: %s", story.ID)

	// Push is best-effort; no remote is a normal setup.
	w.repo.Push(w.ws.Branch)
	return nil
}

// collectSnapshot runs the full pipeline one last time and reduces the
// workspace's end state to a scored snapshot, persisted in the store.
func (w *Worker) collectSnapshot(ctx context.Context, bl *backlog.Backlog) (*score.Snapshot, error) {
	passed, total := bl.Counts()

	final := w.oracle.Run(ctx)
	report := oracle.ParseReport(final.Output)

	churn := 0
	if base, err := w.ws.BaseHash(); err == nil {
		if c, err := w.repo.Churn(base, "HEAD"); err == nil {
			churn = c
		}
	}

	snap := score.Snapshot{
		WorkspaceIndex:   w.ws.Index,
		StoriesPassed:    passed,
		StoriesTotal:     total,
		TestFileCount:    score.CountTestFiles(w.ws.Worktree),
		CoveragePct:      report.CoveragePct,
		LintViolations:   report.LintViolations,
		TypeErrors:       report.TypeErrors,
		TypeWarnings:     report.TypeWarnings,
		CodeChurn:        churn,
		ValidationPassed: final.Passed,
	}
	snap.Finalize()

	if err := w.store.SaveSnapshot(snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (w *Worker) event(storyID, eventType, content string) {
	w.store.AddEvent(w.ws.Index, storyID, eventType, content)
}

func (w *Worker) logf(format string, args ...any) {
	if w.Out == nil {
		return
	}
	fmt.Fprintf(w.Out, "[loop-%d] "+format+"\n", append([]any{w.ws.Index}, args...)...)
}
