package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/jobdispatch"
	"github.com/xraph/jobdispatch/id"
	"github.com/xraph/jobdispatch/job"
)

const jobColumns = `
	id, job_type, status, submitted_by, worker_id, priority,
	parameters, result, error_message, error_details,
	progress_percent, progress_message,
	submitted_at, claimed_at, started_at, completed_at, updated_at,
	estimated_duration_secs, actual_duration_secs, retry_of_job_id,
	scheduled_start_at, is_off_peak_only, is_paused, paused_at, resumed_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobdispatch_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12,
			$13, $14, $15, $16, $17,
			$18, $19, $20,
			$21, $22, $23, $24, $25
		)`,
		jobArgs(j)...,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return jobdispatch.ErrJobAlreadyExists
		}
		return fmt.Errorf("jobdispatch/postgres: create job: %w", err)
	}
	return nil
}

// ClaimNext locks the first claimable row with FOR UPDATE SKIP LOCKED,
// moves it to dispatched and writes the audit row, all in one transaction.
// A concurrent claimant skips the locked row instead of waiting on it.
func (s *Store) ClaimNext(ctx context.Context, req job.ClaimRequest) (*job.Job, error) {
	var claimed *job.Job

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+jobColumns+`
			FROM jobdispatch_jobs
			WHERE status IN ('pending', 'scheduled')
			  AND is_paused = FALSE
			  AND (scheduled_start_at IS NULL OR scheduled_start_at <= $1)
			  AND (is_off_peak_only = FALSE OR $2::boolean)
			ORDER BY priority DESC, submitted_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED`,
			req.Now, req.OffPeak,
		)

		j, err := scanJob(row)
		if err != nil {
			if isNoRows(err) {
				return nil
			}
			return err
		}

		tr, err := j.Apply(job.Change{
			To:          job.StatusDispatched,
			WorkerID:    req.WorkerID,
			TriggeredBy: req.WorkerID,
			Reason:      "claimed",
		}, req.Now)
		if err != nil {
			return err
		}

		if err := saveJob(ctx, tx, j, tr); err != nil {
			return err
		}
		claimed = j
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("jobdispatch/postgres: claim next: %w", err)
	}
	return claimed, nil
}

// MutateJob locks the row with FOR UPDATE, applies fn and writes the row and
// the optional audit row in the same transaction.
func (s *Store) MutateJob(ctx context.Context, jobID id.JobID, fn job.MutateFunc) (*job.Job, error) {
	var out *job.Job
	var fnErr error

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+jobColumns+`
			FROM jobdispatch_jobs
			WHERE id = $1
			FOR UPDATE`,
			jobID.String(),
		)

		j, err := scanJob(row)
		if err != nil {
			if isNoRows(err) {
				return jobdispatch.ErrJobNotFound
			}
			return err
		}

		tr, err := fn(j)
		if err != nil {
			fnErr = err
			return err
		}

		if err := saveJob(ctx, tx, j, tr); err != nil {
			return err
		}
		out = j
		return nil
	})
	switch {
	case fnErr != nil:
		return nil, fnErr
	case err != nil:
		return nil, fmt.Errorf("jobdispatch/postgres: mutate job %s: %w", jobID, err)
	}
	return out, nil
}

// saveJob writes every mutable column of j and appends tr when non-nil.
func saveJob(ctx context.Context, tx pgx.Tx, j *job.Job, tr *job.Transition) error {
	_, err := tx.Exec(ctx, `
		UPDATE jobdispatch_jobs SET
			status = $2, worker_id = $3, priority = $4,
			result = $5, error_message = $6, error_details = $7,
			progress_percent = $8, progress_message = $9,
			claimed_at = $10, started_at = $11, completed_at = $12, updated_at = $13,
			actual_duration_secs = $14,
			is_paused = $15, paused_at = $16, resumed_at = $17
		WHERE id = $1`,
		j.ID.String(), j.Status.String(), nullString(j.WorkerID), j.Priority,
		nullJSON(j.Result), nullString(j.ErrorMessage), nullJSON(j.ErrorDetails),
		j.ProgressPercent, nullString(j.ProgressMessage),
		j.ClaimedAt, j.StartedAt, j.CompletedAt, j.UpdatedAt,
		j.ActualDurationSecs,
		j.IsPaused, j.PausedAt, j.ResumedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tr == nil {
		return nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO jobdispatch_transitions (
			id, job_id, from_status, to_status, triggered_by, reason, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tr.ID.String(), tr.JobID.String(), tr.From.String(), tr.To.String(),
		tr.TriggeredBy, tr.Reason, tr.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobdispatch_jobs
		WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobdispatch.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobdispatch/postgres: get job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs matching opts, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var (
		where  []string
		args   []any
		argIdx = 1
	)

	if opts.SubmittedBy != "" {
		where = append(where, fmt.Sprintf("submitted_by = $%d", argIdx))
		args = append(args, opts.SubmittedBy)
		argIdx++
	}
	if opts.Status != 0 {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, opts.Status.String())
		argIdx++
	}

	query := `SELECT ` + jobColumns + ` FROM jobdispatch_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY submitted_at DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryJobs(ctx, s.pool, "list jobs", query, args...)
}

// ListQueue returns Pending and Scheduled jobs in dispatch order.
func (s *Store) ListQueue(ctx context.Context) ([]*job.Job, error) {
	return s.queryJobs(ctx, s.pool, "list queue", `
		SELECT `+jobColumns+`
		FROM jobdispatch_jobs
		WHERE status IN ('pending', 'scheduled')
		ORDER BY priority DESC, submitted_at ASC, id ASC`)
}

// CountByStatus returns the number of jobs per status.
func (s *Store) CountByStatus(ctx context.Context) (map[job.Status]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM jobdispatch_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("jobdispatch/postgres: count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[job.Status]int64)
	for rows.Next() {
		var (
			name string
			n    int64
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("jobdispatch/postgres: scan status count: %w", err)
		}
		st, err := job.ParseStatus(name)
		if err != nil {
			return nil, fmt.Errorf("jobdispatch/postgres: %w", err)
		}
		counts[st] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobdispatch/postgres: iterate status counts: %w", err)
	}
	return counts, nil
}

// AvgDurationSecs returns the mean actual duration of completed jobs.
func (s *Store) AvgDurationSecs(ctx context.Context) (float64, error) {
	var avg float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(actual_duration_secs), 0)::double precision
		FROM jobdispatch_jobs
		WHERE status = 'completed' AND actual_duration_secs IS NOT NULL`,
	).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("jobdispatch/postgres: avg duration: %w", err)
	}
	return avg, nil
}

// ListTransitions returns the audit rows for a job, oldest first.
func (s *Store) ListTransitions(ctx context.Context, jobID id.JobID) ([]*job.Transition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, from_status, to_status, triggered_by, reason, occurred_at
		FROM jobdispatch_transitions
		WHERE job_id = $1
		ORDER BY occurred_at ASC, id ASC`,
		jobID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("jobdispatch/postgres: list transitions: %w", err)
	}
	defer rows.Close()

	var out []*job.Transition
	for rows.Next() {
		var (
			tr       job.Transition
			from, to string
		)
		if err := rows.Scan(&tr.ID, &tr.JobID, &from, &to, &tr.TriggeredBy, &tr.Reason, &tr.OccurredAt); err != nil {
			return nil, fmt.Errorf("jobdispatch/postgres: scan transition: %w", err)
		}
		if tr.From, err = job.ParseStatus(from); err != nil {
			return nil, fmt.Errorf("jobdispatch/postgres: %w", err)
		}
		if tr.To, err = job.ParseStatus(to); err != nil {
			return nil, fmt.Errorf("jobdispatch/postgres: %w", err)
		}
		out = append(out, &tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobdispatch/postgres: iterate transitions: %w", err)
	}
	return out, nil
}

func (s *Store) queryJobs(ctx context.Context, q querier, op, query string, args ...any) ([]*job.Job, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobdispatch/postgres: %s: %w", op, err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// jobArgs returns the insert arguments in jobColumns order.
func jobArgs(j *job.Job) []any {
	return []any{
		j.ID.String(), j.JobType, j.Status.String(), j.SubmittedBy, nullString(j.WorkerID), j.Priority,
		nullJSON(j.Parameters), nullJSON(j.Result), nullString(j.ErrorMessage), nullJSON(j.ErrorDetails),
		j.ProgressPercent, nullString(j.ProgressMessage),
		j.SubmittedAt, j.ClaimedAt, j.StartedAt, j.CompletedAt, j.UpdatedAt,
		j.EstimatedDurationSecs, j.ActualDurationSecs, j.RetryOfJobID,
		j.ScheduledStartAt, j.IsOffPeakOnly, j.IsPaused, j.PausedAt, j.ResumedAt,
	}
}

// scanJob scans a single job row in jobColumns order.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j                        job.Job
		idStr, statusStr         string
		workerID, errMsg, prgMsg *string
		params, result, details  []byte
	)
	err := row.Scan(
		&idStr, &j.JobType, &statusStr, &j.SubmittedBy, &workerID, &j.Priority,
		&params, &result, &errMsg, &details,
		&j.ProgressPercent, &prgMsg,
		&j.SubmittedAt, &j.ClaimedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt,
		&j.EstimatedDurationSecs, &j.ActualDurationSecs, &j.RetryOfJobID,
		&j.ScheduledStartAt, &j.IsOffPeakOnly, &j.IsPaused, &j.PausedAt, &j.ResumedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("jobdispatch/postgres: parse job id %q: %w", idStr, err)
	}
	j.ID = parsedID

	if j.Status, err = job.ParseStatus(statusStr); err != nil {
		return nil, fmt.Errorf("jobdispatch/postgres: job %s: %w", idStr, err)
	}

	j.WorkerID = deref(workerID)
	j.ErrorMessage = deref(errMsg)
	j.ProgressMessage = deref(prgMsg)
	j.Parameters = params
	j.Result = result
	j.ErrorDetails = details

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobdispatch/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobdispatch/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
