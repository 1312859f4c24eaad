// Package store provides SQLite-backed task history for tasksmith.
//
// It records which templates were scheduled, so the inventory can list
// recently used tasks first, and the outcome of every spawned run.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dshills/tasksmith/internal/integration/task"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

var _ task.History = (*Store)(nil)

// Store provides access to the history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and runs migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Times are stored as unix nanoseconds so aggregates keep their type.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scheduled (
		id TEXT PRIMARY KEY,
		template_key TEXT NOT NULL,
		source TEXT NOT NULL,
		label TEXT NOT NULL,
		task_id TEXT NOT NULL,
		resolved_label TEXT NOT NULL,
		scheduled_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		label TEXT NOT NULL,
		command TEXT NOT NULL,
		args TEXT,
		cwd TEXT,
		terminal_id TEXT,
		state TEXT NOT NULL,
		exit_code INTEGER,
		output TEXT,
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_scheduled_key ON scheduled(template_key, scheduled_at);
	CREATE INDEX IF NOT EXISTS idx_runs_task_id ON runs(task_id);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Scheduled is one recorded scheduling of a task.
type Scheduled struct {
	ID            string      `json:"id"`
	Source        string      `json:"source"`
	Label         string      `json:"label"`
	TaskID        task.TaskID `json:"task_id"`
	ResolvedLabel string      `json:"resolved_label"`
	ScheduledAt   time.Time   `json:"scheduled_at"`
}

// RecordScheduled stores that a task resolved from source was scheduled.
func (s *Store) RecordScheduled(ctx context.Context, source string, rt task.ResolvedTask) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled (id, template_key, source, label, task_id, resolved_label, scheduled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		task.TemplateKey(source, rt.Original.Label),
		source,
		rt.Original.Label,
		string(rt.ID),
		rt.ResolvedLabel,
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert scheduled: %w", err)
	}
	return nil
}

// LastScheduled returns the most recent schedule time per template key.
func (s *Store) LastScheduled(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT template_key, MAX(scheduled_at) FROM scheduled GROUP BY template_key`)
	if err != nil {
		return nil, fmt.Errorf("query scheduled: %w", err)
	}
	defer rows.Close()

	result := make(map[string]time.Time)
	for rows.Next() {
		var key string
		var at int64
		if err := rows.Scan(&key, &at); err != nil {
			return nil, fmt.Errorf("scan scheduled: %w", err)
		}
		result[key] = time.Unix(0, at)
	}
	return result, rows.Err()
}

// RecentScheduled returns up to limit schedulings, newest first.
func (s *Store) RecentScheduled(ctx context.Context, limit int) ([]Scheduled, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, label, task_id, resolved_label, scheduled_at
		 FROM scheduled ORDER BY scheduled_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query scheduled: %w", err)
	}
	defer rows.Close()

	var result []Scheduled
	for rows.Next() {
		var sc Scheduled
		var taskID string
		var at int64
		if err := rows.Scan(&sc.ID, &sc.Source, &sc.Label, &taskID, &sc.ResolvedLabel, &at); err != nil {
			return nil, fmt.Errorf("scan scheduled: %w", err)
		}
		sc.TaskID = task.TaskID(taskID)
		sc.ScheduledAt = time.Unix(0, at)
		result = append(result, sc)
	}
	return result, rows.Err()
}

// PruneScheduled deletes schedulings older than before.
func (s *Store) PruneScheduled(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled WHERE scheduled_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune scheduled: %w", err)
	}
	return res.RowsAffected()
}

// Run is the record of one spawned execution.
type Run struct {
	ID         string      `json:"id"`
	TaskID     task.TaskID `json:"task_id"`
	Label      string      `json:"label"`
	Command    string      `json:"command"`
	Args       []string    `json:"args,omitempty"`
	Cwd        string      `json:"cwd,omitempty"`
	TerminalID string      `json:"terminal_id"`
	State      string      `json:"state"`
	ExitCode   *int        `json:"exit_code,omitempty"`
	Output     string      `json:"output,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	EndedAt    time.Time   `json:"ended_at"`
}

// StartRun inserts a run that has just started.
func (s *Store) StartRun(ctx context.Context, run Run) error {
	args, err := json.Marshal(run.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, task_id, label, command, args, cwd, terminal_id, state, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.TaskID), run.Label, run.Command, string(args),
		run.Cwd, run.TerminalID, run.State, run.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun records how a run ended.
func (s *Store) FinishRun(ctx context.Context, id, state string, exitCode int, output string, ended time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, exit_code = ?, output = ?, ended_at = ? WHERE id = ?`,
		state, exitCode, output, ended.UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `id, task_id, label, command, args, cwd, terminal_id, state, exit_code, output, started_at, ended_at`

// GetRun returns a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// RecentRuns returns up to limit runs, newest first. A non-empty taskID
// restricts the result to that task.
func (s *Store) RecentRuns(ctx context.Context, taskID task.TaskID, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}
	if taskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, string(taskID))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var taskID string
	var args, cwd, terminalID, output sql.NullString
	var exitCode, endedAt sql.NullInt64
	var startedAt int64

	if err := row.Scan(&run.ID, &taskID, &run.Label, &run.Command, &args, &cwd, &terminalID,
		&run.State, &exitCode, &output, &startedAt, &endedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.TaskID = task.TaskID(taskID)
	if args.Valid && args.String != "" {
		if err := json.Unmarshal([]byte(args.String), &run.Args); err != nil {
			return nil, fmt.Errorf("decode args of run %s: %w", run.ID, err)
		}
	}
	run.Cwd = cwd.String
	run.TerminalID = terminalID.String
	run.Output = output.String
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	run.StartedAt = time.Unix(0, startedAt)
	if endedAt.Valid {
		run.EndedAt = time.Unix(0, endedAt.Int64)
	}
	return &run, nil
}
