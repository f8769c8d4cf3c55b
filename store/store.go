// Package store indexes completed and in-flight runs in SQLite so batch
// results can be queried without re-reading every trajectory file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one row in the run index. Outcome is empty while the run is in
// flight.
type Run struct {
	ID             string
	TaskID         string
	Model          string
	Outcome        string
	Turns          int
	TokensIn       int
	TokensOut      int
	CostUSD        float64
	TrajectoryPath string
	CreatedAt      time.Time
	FinishedAt     *time.Time
}

// Store provides access to the run index database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode so a follower can read while a batch writes.
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

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

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		model TEXT NOT NULL,
		outcome TEXT NOT NULL DEFAULT '',
		turns INTEGER NOT NULL DEFAULT 0,
		tokens_in INTEGER NOT NULL DEFAULT 0,
		tokens_out INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0,
		trajectory_path TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_runs_task_id ON runs(task_id);
	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordStart inserts an in-flight run.
func (s *Store) RecordStart(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, task_id, model, trajectory_path, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.TaskID, r.Model, r.TrajectoryPath, r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// RecordOutcome finalizes a run with its terminal outcome and spend.
func (s *Store) RecordOutcome(ctx context.Context, id, outcome string, turns, tokensIn, tokensOut int, costUSD float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET outcome = ?, turns = ?, tokens_in = ?, tokens_out = ?, cost_usd = ?, finished_at = ?
		WHERE id = ?`,
		outcome, turns, tokensIn, tokensOut, costUSD, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("record run outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record run outcome: run %q not found", id)
	}
	return nil
}

// GetRun returns one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, model, outcome, turns, tokens_in, tokens_out, cost_usd, trajectory_path, created_at, finished_at
		FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, model, outcome, turns, tokens_in, tokens_out, cost_usd, trajectory_path, created_at, finished_at
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var finished sql.NullTime
	err := row.Scan(&r.ID, &r.TaskID, &r.Model, &r.Outcome, &r.Turns,
		&r.TokensIn, &r.TokensOut, &r.CostUSD, &r.TrajectoryPath,
		&r.CreatedAt, &finished)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
