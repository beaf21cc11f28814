package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dimagi/cadence"
	"github.com/dimagi/cadence/id"
	"github.com/dimagi/cadence/job"
)

// EnqueueJob persists a new job in pending state on the primary.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.primary.Exec(ctx, `
		INSERT INTO cadence_jobs (
			id, name, queue, domain, payload, state, last_error, worker_id,
			run_at, started_at, completed_at, timeout, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14
		)`,
		j.ID.String(), j.Name, j.Queue, j.Domain, j.Payload, string(j.State),
		j.LastError, j.WorkerID.String(),
		j.RunAt, j.StartedAt, j.CompletedAt, j.Timeout.Nanoseconds(),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return cadence.ErrJobAlreadyExists
		}
		return fmt.Errorf("cadence/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit mature pending jobs from the
// given queues, sets them to running, and returns them. Uses SELECT FOR
// UPDATE SKIP LOCKED for concurrent-safe dequeue.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	rows, err := s.primary.Query(ctx, `
		WITH dequeued AS (
			UPDATE cadence_jobs
			SET state = 'running', started_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM cadence_jobs
				WHERE state = 'pending'
				  AND queue = ANY($1)
				  AND run_at <= NOW()
				ORDER BY run_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING
				id, name, queue, domain, payload, state, last_error, worker_id,
				run_at, started_at, completed_at, timeout, created_at, updated_at
		)
		SELECT * FROM dequeued ORDER BY run_at ASC`,
		queues, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.primary.QueryRow(ctx, `
		SELECT
			id, name, queue, domain, payload, state, last_error, worker_id,
			run_at, started_at, completed_at, timeout, created_at, updated_at
		FROM cadence_jobs
		WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, cadence.ErrJobNotFound
		}
		return nil, fmt.Errorf("cadence/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.primary.Exec(ctx, `
		UPDATE cadence_jobs SET
			name = $2, queue = $3, domain = $4, payload = $5, state = $6,
			last_error = $7, worker_id = $8, run_at = $9, started_at = $10,
			completed_at = $11, timeout = $12, updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Name, j.Queue, j.Domain, j.Payload, string(j.State),
		j.LastError, j.WorkerID.String(), j.RunAt, j.StartedAt,
		j.CompletedAt, j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cadence.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.primary.Exec(ctx, `DELETE FROM cadence_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("cadence/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cadence.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `
		SELECT
			id, name, queue, domain, payload, state, last_error, worker_id,
			run_at, started_at, completed_at, timeout, created_at, updated_at
		FROM cadence_jobs
		WHERE state = $1`
	args := []interface{}{string(state)}
	argIdx := 2

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.primary.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		stateStr  string
		workerStr string
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &j.Name, &j.Queue, &j.Domain, &j.Payload, &stateStr,
		&j.LastError, &workerStr,
		&j.RunAt, &j.StartedAt, &j.CompletedAt, &timeoutNs,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("cadence/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("cadence/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cadence/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
