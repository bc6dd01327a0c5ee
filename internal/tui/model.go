// Package tui is the live dashboard behind `swarm watch`: one card per
// workspace, refreshed by polling the store and the workspace locks.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/imkarma/swarm/internal/backlog"
	"github.com/imkarma/swarm/internal/score"
	"github.com/imkarma/swarm/internal/store"
	"github.com/imkarma/swarm/internal/workspace"
)

const refreshInterval = time.Second

// row is one workspace's current picture.
type row struct {
	Index     int
	State     workspace.State
	PID       int
	Passed    int
	Total     int
	LastEvent string
	LastStory string
	Snapshot  *score.Snapshot
}

// Model is the top-level bubbletea model.
type Model struct {
	store *store.Store
	mgr   *workspace.Manager

	width  int
	height int

	run     *store.Run
	rows    []row
	spinner spinner.Model
	err     error
}

// New builds the dashboard model.
func New(st *store.Store, mgr *workspace.Manager) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{store: st, mgr: mgr, spinner: sp}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh, tickCmd())
}

type tickMsg time.Time

type dataMsg struct {
	run  *store.Run
	rows []row
	err  error
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refresh gathers the dashboard data outside the update loop.
func (m Model) refresh() tea.Msg {
	var msg dataMsg

	msg.run, msg.err = m.store.LastRun()

	for _, s := range m.mgr.Scan() {
		r := row{Index: s.Index, State: s.State, PID: s.PID}

		if bl, err := backlog.Load(s.BacklogPath()); err == nil {
			r.Passed, r.Total = bl.Counts()
		}
		if e, err := m.store.LastEvent(s.Index); err == nil && e != nil {
			r.LastEvent = e.Type
			r.LastStory = e.StoryID
		}
		if snap, err := m.store.GetSnapshot(s.Index); err == nil {
			r.Snapshot = snap
		}
		msg.rows = append(msg.rows, r)
	}
	return msg
}
