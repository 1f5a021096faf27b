// Package store keeps the run journal of a model directory: one row per
// training run, one row per pipeline stage and the evaluation scores.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		backend TEXT NOT NULL,
		src_lang TEXT NOT NULL,
		trg_lang TEXT NOT NULL,
		casing TEXT NOT NULL,
		dry_run BOOLEAN DEFAULT FALSE,
		status TEXT NOT NULL DEFAULT 'running',
		error TEXT,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	-- stages records the progress of each pipeline stage within a run
	CREATE TABLE IF NOT EXISTS stages (
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		PRIMARY KEY (run_id, stage),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	-- scores stores automatic evaluation results per evaluation variant
	CREATE TABLE IF NOT EXISTS scores (
		run_id TEXT NOT NULL,
		variant TEXT NOT NULL,
		metric TEXT NOT NULL,
		value REAL NOT NULL,
		PRIMARY KEY (run_id, variant, metric),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Run is a row from the runs table.
type Run struct {
	ID         string
	Backend    string
	SrcLang    string
	TrgLang    string
	Casing     string
	DryRun     bool
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Stage is a row from the stages table.
type Stage struct {
	Name       string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Score is one metric of one evaluation variant.
type Score struct {
	Variant string
	Metric  string
	Value   float64
}

// CreateRun inserts a running run and returns its generated ID.
func (s *Store) CreateRun(ctx context.Context, r Run) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, backend, src_lang, trg_lang, casing, dry_run, status, started_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.Backend, r.SrcLang, r.TrgLang, r.Casing, r.DryRun, StatusRunning, time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	return id, nil
}

func (s *Store) StartStage(ctx context.Context, runID, stage string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO stages (run_id, stage, status, started_at) VALUES (?, ?, ?, ?)`,
		runID, stage, StatusRunning, time.Now())
	return err
}

func (s *Store) FinishStage(ctx context.Context, runID, stage string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE stages SET status = ?, finished_at = ? WHERE run_id = ? AND stage = ?`,
		StatusCompleted, time.Now(), runID, stage)
	return err
}

// FailStage marks the stage and its run as failed.
func (s *Store) FailStage(ctx context.Context, runID, stage string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE stages SET status = ?, error = ?, finished_at = ? WHERE run_id = ? AND stage = ?`,
		StatusFailed, msg, now, runID, stage); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		StatusFailed, msg, now, runID); err != nil {
		return err
	}
	return tx.Commit()
}

// CompleteRun marks a run as completed.
func (s *Store) CompleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		StatusCompleted, time.Now(), runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *Store) SaveScore(ctx context.Context, runID string, sc Score) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO scores (run_id, variant, metric, value) VALUES (?, ?, ?, ?)`,
		runID, sc.Variant, sc.Metric, sc.Value)
	return err
}

const runColumns = `id, backend, src_lang, trg_lang, casing, dry_run, status, COALESCE(error, ''), started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var finished sql.NullTime
	err := row.Scan(&r.ID, &r.Backend, &r.SrcLang, &r.TrgLang, &r.Casing, &r.DryRun, &r.Status, &r.Error, &r.StartedAt, &finished)
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	return r, err
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LastRun returns the most recently started run, or nil when the journal
// is empty.
func (s *Store) LastRun(ctx context.Context) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns all runs, most recent first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Stages returns the stages of a run in the order they were started.
func (s *Store) Stages(ctx context.Context, runID string) ([]Stage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, status, COALESCE(error, ''), started_at, finished_at FROM stages WHERE run_id = ? ORDER BY started_at, rowid`,
		runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Stage
	for rows.Next() {
		var st Stage
		var finished sql.NullTime
		if err := rows.Scan(&st.Name, &st.Status, &st.Error, &st.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			st.FinishedAt = finished.Time
		}
		results = append(results, st)
	}
	return results, rows.Err()
}

// Scores returns the evaluation scores of a run ordered by variant and metric.
func (s *Store) Scores(ctx context.Context, runID string) ([]Score, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT variant, metric, value FROM scores WHERE run_id = ? ORDER BY variant, metric`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Score
	for rows.Next() {
		var sc Score
		if err := rows.Scan(&sc.Variant, &sc.Metric, &sc.Value); err != nil {
			return nil, err
		}
		results = append(results, sc)
	}
	return results, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
