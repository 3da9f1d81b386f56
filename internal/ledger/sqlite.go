package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/model"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id            TEXT PRIMARY KEY,
    handle        TEXT NOT NULL,
    kind          TEXT NOT NULL,
    status        TEXT NOT NULL,
    params        TEXT,
    outputs       TEXT,
    error_message TEXT,
    submitted_at  DATETIME NOT NULL,
    started_at    DATETIME,
    finished_at   DATETIME
)`

// Compile-time interface satisfaction check.
var _ Ledger = (*SQLiteLedger)(nil)

// SQLiteLedger implements Ledger using SQLite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens the SQLite database at dbPath and runs migrations.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createJobsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

// Close closes the underlying database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// CreateJob inserts a new job record.
func (l *SQLiteLedger) CreateJob(ctx context.Context, job *model.Job) error {
	params, err := marshalField(job.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	outputs, err := marshalField(job.Outputs)
	if err != nil {
		return fmt.Errorf("encode outputs: %w", err)
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO jobs (
			id, handle, kind, status, params, outputs,
			error_message, submitted_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Handle, job.Kind, job.Status, params, outputs,
		job.ErrorMessage, job.SubmittedAt, job.StartedAt, job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (l *SQLiteLedger) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, handle, kind, status, params, outputs,
			error_message, submitted_at, started_at, finished_at
		FROM jobs WHERE id = ?`, id,
	)
	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns a paginated list of jobs ordered by submitted_at DESC,
// along with the total count of all jobs.
func (l *SQLiteLedger) ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error) {
	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, handle, kind, status, params, outputs,
			error_message, submitted_at, started_at, finished_at
		FROM jobs ORDER BY submitted_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, total, nil
}

// UpdateJobStatus transitions a job's status, enforcing the lifecycle order.
// Moving to processing also records started_at.
func (l *SQLiteLedger) UpdateJobStatus(ctx context.Context, id, status string) error {
	current, err := l.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !model.ValidTransition(current.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}

	var result sql.Result
	if status == model.StatusProcessing {
		result, err = l.db.ExecContext(ctx,
			"UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?",
			status, time.Now().UTC(), id, current.Status,
		)
	} else {
		result, err = l.db.ExecContext(ctx,
			"UPDATE jobs SET status = ? WHERE id = ? AND status = ?",
			status, id, current.Status,
		)
	}
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Lost a race with another writer; re-read to report the right error.
		return fmt.Errorf("%w: concurrent update on %s", ErrInvalidTransition, id)
	}
	return nil
}

// FinalizeJob writes a terminal outcome. The guard clause refuses to touch a
// job that already reached a terminal state, which keeps statuses monotonic
// even under concurrent finalization attempts.
func (l *SQLiteLedger) FinalizeJob(ctx context.Context, id string, out Outcome) error {
	if !model.Terminal(out.Status) {
		return fmt.Errorf("%w: %q is not terminal", ErrInvalidTransition, out.Status)
	}

	outputs, err := marshalField(out.Outputs)
	if err != nil {
		return fmt.Errorf("encode outputs: %w", err)
	}

	result, err := l.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, outputs = ?, error_message = ?, finished_at = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)`,
		out.Status, outputs, out.ErrorMessage, time.Now().UTC(),
		id, model.StatusCompleted, model.StatusFailed, model.StatusTimedOut,
	)
	if err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := l.GetJob(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: job %s already finalized", ErrInvalidTransition, id)
	}
	return nil
}

// scanJob reads one job row, decoding the JSON-encoded params and outputs
// columns.
func scanJob(scan func(dest ...any) error) (*model.Job, error) {
	job := &model.Job{}
	var params, outputs sql.NullString
	err := scan(
		&job.ID, &job.Handle, &job.Kind, &job.Status, &params, &outputs,
		&job.ErrorMessage, &job.SubmittedAt, &job.StartedAt, &job.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &job.Params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
	}
	if outputs.Valid && outputs.String != "" {
		if err := json.Unmarshal([]byte(outputs.String), &job.Outputs); err != nil {
			return nil, fmt.Errorf("decode outputs: %w", err)
		}
	}
	return job, nil
}

// marshalField encodes a nilable field to a JSON column value, keeping NULL
// for empty values.
func marshalField(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case []model.OutputRef:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
