package board

import (
	"context"
	"fmt"

	"github.com/imkarma/swarm/internal/backlog"
	"github.com/imkarma/swarm/internal/store"
)

// Sync mirrors one workspace's story lifecycle onto the board. Every
// method swallows errors: the board is a side channel and must never
// slow down or fail a worker.
type Sync struct {
	client *Client
	store  *store.Store
	runID  string
	index  int // workspace index
}

// NewSync builds a Sync for one workspace. A nil client yields a
// disabled Sync whose methods are no-ops.
func NewSync(client *Client, st *store.Store, runID string, workspaceIndex int) *Sync {
	return &Sync{client: client, store: st, runID: runID, index: workspaceIndex}
}

// Enabled reports whether board updates will actually be sent.
func (s *Sync) Enabled() bool {
	return s != nil && s.client != nil
}

// Init creates one board task per story, in the todo column, and
// records the mappings durably. Stories that already have a mapping
// are skipped, so a resumed run never duplicates tasks.
func (s *Sync) Init(ctx context.Context, stories []backlog.Story) {
	if !s.Enabled() {
		return
	}
	for _, story := range stories {
		if _, ok := s.store.GetMapping(s.index, story.ID); ok {
			continue
		}
		title := fmt.Sprintf("[%s/loop-%d] %s: %s", s.runID, s.index, story.ID, story.Title)
		id, err := s.client.CreateTask(ctx, title, story.Description)
		if err != nil {
			continue
		}
		s.store.SaveMapping(s.index, story.ID, id)
	}
}

// StoryStarted moves the story's task to inprogress.
func (s *Sync) StoryStarted(ctx context.Context, story *backlog.Story) {
	s.move(ctx, story, StatusInProgress)
}

// StoryInReview moves the story's task to inreview while validation
// runs.
func (s *Sync) StoryInReview(ctx context.Context, story *backlog.Story) {
	s.move(ctx, story, StatusInReview)
}

// StoryPassed moves the story's task to done.
func (s *Sync) StoryPassed(ctx context.Context, story *backlog.Story) {
	s.move(ctx, story, StatusDone)
}

// StoryFailed returns the story's task to todo; the story stays in
// play for later iterations.
func (s *Sync) StoryFailed(ctx context.Context, story *backlog.Story) {
	s.move(ctx, story, StatusTodo)
}

// StoryCancelled moves the story's task to cancelled: the work was
// abandoned, either by budget exhaustion or because the workspace
// lost. Board-only; the backlog is never written.
func (s *Sync) StoryCancelled(ctx context.Context, story *backlog.Story) {
	s.move(ctx, story, StatusCancelled)
}

// move issues one best-effort status write. A story with no recorded
// task is a no-op.
func (s *Sync) move(ctx context.Context, story *backlog.Story, status string) {
	if !s.Enabled() || story == nil {
		return
	}
	taskID, ok := s.store.GetMapping(s.index, story.ID)
	if !ok {
		return
	}
	_ = s.client.UpdateStatus(ctx, taskID, status)
}
