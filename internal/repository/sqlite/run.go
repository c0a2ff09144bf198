package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/live-playground/internal/apperror"
	"github.com/sakif/live-playground/internal/model"
	"github.com/sakif/live-playground/internal/repository"
)

var _ repository.RunRepository = (*DB)(nil)

const runColumns = `id, framework, kind, state, url, error, started_at, finished_at`

// Create inserts a new run in the running state.
//
// The ID is an xid: 20 URL-safe characters that sort by creation time, which
// keeps run URLs short. The caller's run gets the generated ID and start time.
func (db *DB) Create(ctx context.Context, run *model.Run) error {
	run.ID = xid.New().String()
	run.StartedAt = time.Now().UTC()
	if run.State == "" {
		run.State = model.RunRunning
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO runs (id, framework, kind, state, url, error, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Framework,
		run.Kind,
		string(run.State),
		run.URL,
		run.Error,
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating run: %w", err)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (model.Run, error) {
	var (
		r        model.Run
		state    string
		finished sql.NullTime
	)
	if err := s.Scan(&r.ID, &r.Framework, &r.Kind, &state, &r.URL, &r.Error, &r.StartedAt, &finished); err != nil {
		return model.Run{}, err
	}
	r.State = model.RunState(state)
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return r, nil
}

// GetByID retrieves a single run. sql.ErrNoRows becomes apperror.NotFound so
// the handler can answer 404.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Run, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+runColumns+`
		 FROM runs
		 WHERE id = ?`,
		id,
	)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("run", id)
		}
		return nil, fmt.Errorf("sqlite: getting run %s: %w", id, err)
	}
	return &r, nil
}

// List returns runs newest first, optionally for one framework.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.Run, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20 // Default page size
	}
	if limit > 100 {
		limit = 100 // Maximum page size
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	// an empty framework matches every row
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+runColumns+`
		 FROM runs
		 WHERE ? = '' OR framework = ?
		 ORDER BY started_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		opts.Framework,
		opts.Framework,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing runs: %w", err)
	}
	defer rows.Close()

	runs := make([]model.Run, 0, limit)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating runs: %w", err)
	}
	return runs, nil
}

// Update records a run's outcome. The finish time is set the first time the
// run leaves the running state and is never moved afterwards.
func (db *DB) Update(ctx context.Context, run *model.Run) error {
	if run.Finished() && run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}

	var finished sql.NullTime
	if run.FinishedAt != nil {
		finished = sql.NullTime{Time: *run.FinishedAt, Valid: true}
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE runs
		 SET state = ?, url = ?, error = ?, finished_at = COALESCE(finished_at, ?)
		 WHERE id = ?`,
		string(run.State),
		run.URL,
		run.Error,
		finished,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating run %s: %w", run.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("run", run.ID)
	}
	return nil
}

// FailRunning resolves runs a previous process left in the running state.
func (db *DB) FailRunning(ctx context.Context, reason string) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE runs
		 SET state = ?, error = ?, finished_at = ?
		 WHERE state = ?`,
		string(model.RunFailed),
		reason,
		time.Now().UTC(),
		string(model.RunRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failing running runs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}
