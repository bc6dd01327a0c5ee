// Package store provides the durable swarm state: run records, the
// append-only board task-id mapping, per-workspace progress events,
// and final metrics snapshots. SQLite in WAL mode gives the detached
// worker processes and the coordinator safe shared access.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/imkarma/swarm/internal/score"
)

// Store provides access to the swarm database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode so workers and the coordinator can share the DB.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id      TEXT PRIMARY KEY,
		n_workers   INTEGER NOT NULL,
		mode        TEXT NOT NULL,
		status      TEXT NOT NULL DEFAULT 'running',
		started_at  DATETIME NOT NULL,
		ended_at    DATETIME
	);

	CREATE TABLE IF NOT EXISTS task_mappings (
		workspace_index  INTEGER NOT NULL,
		story_id         TEXT NOT NULL,
		external_task_id TEXT NOT NULL,
		created_at       DATETIME NOT NULL,
		PRIMARY KEY (workspace_index, story_id)
	);

	CREATE TABLE IF NOT EXISTS events (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace_index  INTEGER NOT NULL,
		story_id         TEXT DEFAULT '',
		event_type       TEXT NOT NULL,
		content          TEXT DEFAULT '',
		timestamp        DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		workspace_index   INTEGER PRIMARY KEY,
		stories_passed    INTEGER NOT NULL,
		stories_total     INTEGER NOT NULL,
		test_file_count   INTEGER NOT NULL,
		coverage_pct      REAL NOT NULL,
		lint_violations   INTEGER NOT NULL,
		type_errors       INTEGER NOT NULL,
		type_warnings     INTEGER NOT NULL,
		code_churn        INTEGER NOT NULL,
		validation_passed INTEGER NOT NULL,
		score             INTEGER NOT NULL,
		created_at        DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- Runs ---

// Run is one orchestrator invocation spanning 1..N workspaces.
type Run struct {
	RunID     string    `json:"run_id"`
	NWorkers  int       `json:"n_workers"`
	Mode      string    `json:"mode"` // fresh, resume
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// CreateRun records a new run in the running state.
func (s *Store) CreateRun(runID string, nWorkers int, mode string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, n_workers, mode, status, started_at)
		 VALUES (?, ?, ?, 'running', ?)`,
		runID, nWorkers, mode, now,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// EndRun marks a run merged, failed, or interrupted.
func (s *Store) EndRun(runID, status string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, ended_at = ? WHERE run_id = ?`,
		status, now, runID,
	)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	return nil
}

// ActiveRun returns the most recent run still in the running state,
// or nil if none.
func (s *Store) ActiveRun() (*Run, error) {
	row := s.db.QueryRow(
		`SELECT run_id, n_workers, mode, status, started_at, ended_at
		 FROM runs WHERE status = 'running' ORDER BY started_at DESC LIMIT 1`,
	)
	return scanRun(row)
}

// LastRun returns the most recent run regardless of status, or nil.
func (s *Store) LastRun() (*Run, error) {
	row := s.db.QueryRow(
		`SELECT run_id, n_workers, mode, status, started_at, ended_at
		 FROM runs ORDER BY started_at DESC LIMIT 1`,
	)
	return scanRun(row)
}

// GetRun returns a run by id, or nil if unknown.
func (s *Store) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(
		`SELECT run_id, n_workers, mode, status, started_at, ended_at
		 FROM runs WHERE run_id = ?`, runID,
	)
	return scanRun(row)
}

func scanRun(row *sql.Row) (*Run, error) {
	var r Run
	var endedAt sql.NullTime
	err := row.Scan(&r.RunID, &r.NWorkers, &r.Mode, &r.Status, &r.StartedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if endedAt.Valid {
		r.EndedAt = endedAt.Time
	}
	return &r, nil
}

// --- Board task mappings ---

// SaveMapping records the external board task id for a (workspace,
// story) pair. The mapping is write-once; saving an existing pair is a
// no-op so resumed runs never recreate tasks.
func (s *Store) SaveMapping(workspaceIndex int, storyID, externalTaskID string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO task_mappings (workspace_index, story_id, external_task_id, created_at)
		 VALUES (?, ?, ?, ?)`,
		workspaceIndex, storyID, externalTaskID, now,
	)
	if err != nil {
		return fmt.Errorf("save mapping: %w", err)
	}
	return nil
}

// GetMapping looks up the external task id for a (workspace, story)
// pair. The second return is false when no mapping exists.
func (s *Store) GetMapping(workspaceIndex int, storyID string) (string, bool) {
	row := s.db.QueryRow(
		`SELECT external_task_id FROM task_mappings WHERE workspace_index = ? AND story_id = ?`,
		workspaceIndex, storyID,
	)
	var id string
	if err := row.Scan(&id); err != nil {
		return "", false
	}
	return id, true
}

// CountMappings returns the number of recorded mappings.
func (s *Store) CountMappings() (int, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM task_mappings`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count mappings: %w", err)
	}
	return n, nil
}

// --- Progress events ---

// Event is one entry in a workspace's append-only progress log.
type Event struct {
	ID             int64     `json:"id"`
	WorkspaceIndex int       `json:"workspace_index"`
	StoryID        string    `json:"story_id,omitempty"`
	Type           string    `json:"event_type"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// AddEvent appends a progress event. Event logging is best-effort;
// a write failure never interrupts the worker.
func (s *Store) AddEvent(workspaceIndex int, storyID, eventType, content string) {
	now := time.Now().UTC()
	s.db.Exec(
		`INSERT INTO events (workspace_index, story_id, event_type, content, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		workspaceIndex, storyID, eventType, content, now,
	)
}

// GetEvents returns all events for a workspace in order.
func (s *Store) GetEvents(workspaceIndex int) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT id, workspace_index, story_id, event_type, content, timestamp
		 FROM events WHERE workspace_index = ? ORDER BY id`,
		workspaceIndex,
	)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.WorkspaceIndex, &e.StoryID, &e.Type, &e.Content, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LastEvent returns the most recent event for a workspace, or nil.
func (s *Store) LastEvent(workspaceIndex int) (*Event, error) {
	row := s.db.QueryRow(
		`SELECT id, workspace_index, story_id, event_type, content, timestamp
		 FROM events WHERE workspace_index = ? ORDER BY id DESC LIMIT 1`,
		workspaceIndex,
	)
	var e Event
	err := row.Scan(&e.ID, &e.WorkspaceIndex, &e.StoryID, &e.Type, &e.Content, &e.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	return &e, nil
}

// --- Metrics snapshots ---

// SaveSnapshot upserts the final metrics snapshot for a workspace.
func (s *Store) SaveSnapshot(snap score.Snapshot) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO snapshots (workspace_index, stories_passed, stories_total,
			test_file_count, coverage_pct, lint_violations, type_errors,
			type_warnings, code_churn, validation_passed, score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(workspace_index) DO UPDATE SET
			stories_passed=excluded.stories_passed,
			stories_total=excluded.stories_total,
			test_file_count=excluded.test_file_count,
			coverage_pct=excluded.coverage_pct,
			lint_violations=excluded.lint_violations,
			type_errors=excluded.type_errors,
			type_warnings=excluded.type_warnings,
			code_churn=excluded.code_churn,
			validation_passed=excluded.validation_passed,
			score=excluded.score,
			created_at=excluded.created_at`,
		snap.WorkspaceIndex, snap.StoriesPassed, snap.StoriesTotal,
		snap.TestFileCount, snap.CoveragePct, snap.LintViolations,
		snap.TypeErrors, snap.TypeWarnings, snap.CodeChurn,
		boolToInt(snap.ValidationPassed), snap.Score, now,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the snapshot for a workspace, or nil.
func (s *Store) GetSnapshot(workspaceIndex int) (*score.Snapshot, error) {
	row := s.db.QueryRow(snapshotColumns+` WHERE workspace_index = ?`, workspaceIndex)
	snap, err := scanSnapshot(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	return snap, nil
}

// ListSnapshots returns all snapshots ordered by workspace index.
func (s *Store) ListSnapshots() ([]score.Snapshot, error) {
	rows, err := s.db.Query(snapshotColumns + ` ORDER BY workspace_index`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []score.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

const snapshotColumns = `SELECT workspace_index, stories_passed, stories_total,
	test_file_count, coverage_pct, lint_violations, type_errors,
	type_warnings, code_churn, validation_passed, score FROM snapshots`

func scanSnapshot(scan func(...any) error) (*score.Snapshot, error) {
	var snap score.Snapshot
	var validated int
	err := scan(
		&snap.WorkspaceIndex, &snap.StoriesPassed, &snap.StoriesTotal,
		&snap.TestFileCount, &snap.CoveragePct, &snap.LintViolations,
		&snap.TypeErrors, &snap.TypeWarnings, &snap.CodeChurn,
		&validated, &snap.Score,
	)
	if err != nil {
		return nil, err
	}
	snap.ValidationPassed = validated != 0
	return &snap, nil
}

// Reset deletes all persisted run state. Used by the destructive clean
// command only.
func (s *Store) Reset() error {
	for _, table := range []string{"runs", "task_mappings", "events", "snapshots"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
