package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/search-eval/internal/model"
)

// RunResult holds the outcome of a stage, passed to Complete().
type RunResult struct {
	Rows     int64          `json:"rows"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RunLog provides read/write access to the pipeline_runs table.
type RunLog struct {
	db Querier
}

// NewRunLog creates a RunLog backed by the given database.
func NewRunLog(db *DB) *RunLog {
	return &RunLog{db: db.db}
}

// Start records the beginning of a stage and returns its run ID.
func (r *RunLog) Start(ctx context.Context, stage string) (string, error) {
	id := uuid.New().String()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, stage, status, started_at) VALUES (?, ?, ?, ?)`,
		id, stage, string(model.RunStatusRunning), time.Now().UTC().Format(TimeLayout),
	)
	if err != nil {
		return "", eris.Wrapf(err, "runlog: start %s", stage)
	}
	return id, nil
}

// Complete marks a run as successfully completed.
func (r *RunLog) Complete(ctx context.Context, runID string, result *RunResult) error {
	var metaJSON []byte
	var rows int64
	if result != nil {
		rows = result.Rows
		if result.Metadata != nil {
			var err error
			metaJSON, err = json.Marshal(result.Metadata)
			if err != nil {
				return eris.Wrap(err, "runlog: marshal metadata")
			}
		}
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE pipeline_runs
		 SET status = ?, completed_at = ?, row_count = ?, metadata = ?
		 WHERE id = ?`,
		string(model.RunStatusComplete), time.Now().UTC().Format(TimeLayout), rows, nullString(string(metaJSON)), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// Fail marks a run as failed with an error message.
func (r *RunLog) Fail(ctx context.Context, runID string, errMsg string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(model.RunStatusFailed), time.Now().UTC().Format(TimeLayout), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// List returns runs ordered by most recent first. A limit <= 0 returns all.
func (r *RunLog) List(ctx context.Context, limit int) ([]model.PipelineRun, error) {
	query := `SELECT id, stage, status, started_at, completed_at, row_count, error, metadata
		FROM pipeline_runs ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "runlog: iterate")
}

func scanRun(row scannable) (*model.PipelineRun, error) {
	var (
		run         model.PipelineRun
		status      string
		startedAt   string
		completedAt sql.NullString
		errStr      sql.NullString
		metaJSON    sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Stage, &status, &startedAt, &completedAt, &run.Rows, &errStr, &metaJSON); err != nil {
		return nil, eris.Wrap(err, "runlog: scan run")
	}
	run.Status = model.RunStatus(status)

	t, err := time.Parse(TimeLayout, startedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: parse started_at %q", startedAt)
	}
	run.StartedAt = t
	if completedAt.Valid {
		ct, err := time.Parse(TimeLayout, completedAt.String)
		if err != nil {
			return nil, eris.Wrapf(err, "runlog: parse completed_at %q", completedAt.String)
		}
		run.CompletedAt = &ct
	}
	run.Error = errStr.String
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &run.Metadata)
	}
	return &run, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Track records fn as one run of stage.
func (r *RunLog) Track(ctx context.Context, stage string, fn func(ctx context.Context) (*RunResult, error)) error {
	id, err := r.Start(ctx, stage)
	if err != nil {
		return err
	}
	result, runErr := fn(ctx)
	if runErr != nil {
		// Record the failure with a fresh context so Ctrl-C still lands in the log.
		if err := r.Fail(context.WithoutCancel(ctx), id, runErr.Error()); err != nil {
			return eris.Wrapf(runErr, "runlog: also failed to record failure: %v", err)
		}
		return runErr
	}
	return r.Complete(ctx, id, result)
}
