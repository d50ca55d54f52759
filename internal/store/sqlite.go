package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mathvizai/mathviz/constants"
	"github.com/mathvizai/mathviz/internal/common"
	"github.com/mathvizai/mathviz/internal/job"
)

// SQLiteStore is the durable Store backing. Job records survive restarts;
// pipeline runs do not (see FailInterrupted).
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// database/sql pooling breaks SQLite's single-writer model; serialize here.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, log: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id            TEXT PRIMARY KEY,
		status        TEXT NOT NULL,
		stage_index   INTEGER NOT NULL DEFAULT 0,
		stage_name    TEXT NOT NULL DEFAULT '',
		input         TEXT NOT NULL,          -- JSON
		stage_outputs TEXT NOT NULL DEFAULT '[]', -- JSON array
		error         TEXT,                   -- JSON, NULL unless failed
		artifact_ref  TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, input job.Input) (*job.Job, error) {
	j := job.New(input)

	inputJSON, err := json.Marshal(j.Input)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO jobs (id, status, stage_index, stage_name, input, stage_outputs, error, artifact_ref, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, '[]', NULL, '', ?, ?)`,
		j.ID.String(), string(j.Status), j.StageIndex, j.StageName, string(inputJSON), j.CreatedAt, j.UpdatedAt)
	if err != nil {
		s.log.Error("store.job.create_failed", "job_id", j.ID, "error", err)
		return nil, err
	}
	s.log.Info("store.job.created", "job_id", j.ID, "has_document", input.Document != nil)
	return j, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, status, stage_index, stage_name, input, stage_outputs, error, artifact_ref, created_at, updated_at
FROM jobs WHERE id = ?`, id.String())
	return scanJob(row)
}

func (s *SQLiteStore) Update(ctx context.Context, id uuid.UUID, mutate Mutator) (*job.Job, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
SELECT id, status, stage_index, stage_name, input, stage_outputs, error, artifact_ref, created_at, updated_at
FROM jobs WHERE id = ?`, id.String())
	j, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	// Terminal states are sticky.
	if j.IsTerminal() {
		return j, nil
	}

	mutate(j)

	outputsJSON, err := json.Marshal(j.StageOutputs)
	if err != nil {
		return nil, fmt.Errorf("encode stage outputs: %w", err)
	}
	var errJSON any
	if j.Error != nil {
		b, err := json.Marshal(j.Error)
		if err != nil {
			return nil, fmt.Errorf("encode error: %w", err)
		}
		errJSON = string(b)
	}
	// Guard against a concurrent writer having terminated the job between our
	// read and this write.
	res, err := tx.ExecContext(ctx, `
UPDATE jobs
SET status = ?, stage_index = ?, stage_name = ?, stage_outputs = ?, error = ?, artifact_ref = ?, updated_at = ?
WHERE id = ? AND status NOT IN (?, ?, ?)`,
		string(j.Status), j.StageIndex, j.StageName, string(outputsJSON), errJSON, j.ArtifactRef, j.UpdatedAt,
		id.String(),
		string(constants.JobStatusSucceeded), string(constants.JobStatusFailed), string(constants.JobStatusCancelled))
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		// Lost the race; return what is now persisted.
		_ = tx.Rollback()
		return s.Get(ctx, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]job.Summary, error) {
	q := `
SELECT id, status, stage_index, stage_name, input, stage_outputs, error, artifact_ref, created_at, updated_at
FROM jobs`
	args := []any{}
	if f.Status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(f.Status))
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []job.Summary
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j.Summary())
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// FailInterrupted marks every non-terminal job as failed. Called once at
// startup: runs do not survive a process restart, only the records do.
func (s *SQLiteStore) FailInterrupted(ctx context.Context) (int64, error) {
	stageErr, err := json.Marshal(job.NewStageError(
		constants.ErrKindInternal, "", "interrupted by process restart", false))
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE jobs
SET status = ?, error = ?, updated_at = ?
WHERE status IN (?, ?)`,
		string(constants.JobStatusFailed), string(stageErr), time.Now().UTC(),
		string(constants.JobStatusQueued), string(constants.JobStatusRunning))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Warn("store.jobs.interrupted", "count", n)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*job.Job, error) {
	var (
		j          job.Job
		idStr      string
		status     string
		inputJSON  string
		outputJSON string
		errJSON    sql.NullString
	)
	err := r.Scan(&idStr, &status, &j.StageIndex, &j.StageName, &inputJSON, &outputJSON, &errJSON, &j.ArtifactRef, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	j.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", idStr, err)
	}
	j.Status = constants.JobStatus(status)
	if err := json.Unmarshal([]byte(inputJSON), &j.Input); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if err := json.Unmarshal([]byte(outputJSON), &j.StageOutputs); err != nil {
		return nil, fmt.Errorf("decode stage outputs: %w", err)
	}
	if errJSON.Valid && errJSON.String != "" {
		var se job.StageError
		if err := json.Unmarshal([]byte(errJSON.String), &se); err != nil {
			return nil, fmt.Errorf("decode error record: %w", err)
		}
		j.Error = &se
	}
	return &j, nil
}

var _ Store = (*SQLiteStore)(nil)
