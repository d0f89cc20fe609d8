package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

// Status is the lifecycle state of a job. Transitions only move forward:
// pending -> processing -> done | failed. done and failed are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDone, StatusFailed:
		return true
	}
	return false
}

// Job is one row of the jobs table.
type Job struct {
	ID              int64
	SourcePath      string
	DestinationPath string
	Status          Status
	LastError       *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const jobColumns = "id, source_path, destination_path, status, last_error, created_at, updated_at"

// scanJob scans one jobs row in jobColumns order.
func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	if err := row.Scan(
		&j.ID, &j.SourcePath, &j.DestinationPath, &j.Status,
		&j.LastError, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &j, nil
}

// EnqueueJob inserts a new pending job and returns the created row.
func (s *Store) EnqueueJob(ctx context.Context, source, destination string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (source_path, destination_path)
		VALUES ($1, $2)
		RETURNING `+jobColumns,
		source, destination,
	)
	j, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return j, nil
}

// ClaimJob atomically claims the oldest pending job. Within one transaction
// it selects the oldest pending row not locked by a concurrent claimant
// (FOR UPDATE SKIP LOCKED — contended rows are skipped, never waited on),
// marks it processing, and commits. Returns (nil, nil) when no unlocked
// pending row exists; under contention that can be a false empty even while
// pending rows exist, which callers treat as "no work right now".
func (s *Store) ClaimJob(ctx context.Context) (*Job, error) {
	var claimed *Job
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE status = 'pending'
			ORDER BY created_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1`,
		)
		j, err := scanJob(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select pending: %w", err)
		}

		row = tx.QueryRow(ctx, `
			UPDATE jobs
			SET status = 'processing', updated_at = now()
			WHERE id = $1
			RETURNING `+jobColumns,
			j.ID,
		)
		if claimed, err = scanJob(row); err != nil {
			return fmt.Errorf("mark processing: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return claimed, nil
}

// CompleteJob marks a claimed job done. Only the worker that claimed the job
// may call this, exactly once per executed transfer.
func (s *Store) CompleteJob(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'done', updated_at = now()
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", id, err)
	}
	return nil
}

// FailJob marks a claimed job failed, recording reason verbatim as last_error.
func (s *Store) FailJob(ctx context.Context, id int64, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed', last_error = $2, updated_at = now()
		WHERE id = $1`,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("fail job %d: %w", id, err)
	}
	return nil
}

// GetJob returns the job with the given id, or (nil, nil) if it does not exist.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE id = $1", id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return j, nil
}

// ListJobsParams filters and paginates ListJobs. Limit is required; callers
// pass limit+1 to detect whether a next page exists. AfterTime/AfterID are
// the keyset cursor from the last row of the previous page.
type ListJobsParams struct {
	Status    *Status
	AfterTime *time.Time
	AfterID   *int64
	Limit     int
}

// ListJobs returns a page of jobs ordered by created_at DESC, id DESC
// (newest first — the operator view; claim order is the opposite).
func (s *Store) ListJobs(ctx context.Context, p ListJobsParams) ([]Job, error) {
	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	sb := psql.
		Select(jobColumns).
		From("jobs").
		OrderBy("created_at DESC, id DESC").
		Limit(uint64(p.Limit)) //nolint:gosec // G115: limit validated by caller

	if p.Status != nil {
		sb = sb.Where(sq.Eq{"status": string(*p.Status)})
	}
	if p.AfterTime != nil && p.AfterID != nil {
		sb = sb.Where("(created_at, id) < (?, ?)", *p.AfterTime, *p.AfterID)
	}

	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("list jobs: build query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var result []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: scan: %w", err)
		}
		result = append(result, *j)
	}
	return result, rows.Err()
}

// CountJobsByStatus returns the number of jobs in each status. Statuses with
// no rows are absent from the map.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT status, count(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int64)
	for rows.Next() {
		var st Status
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("count jobs: scan: %w", err)
		}
		counts[st] = n
	}
	return counts, rows.Err()
}
