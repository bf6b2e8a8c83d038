package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

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

// queuedStatuses is the SQL list of statuses a claim may pick from.
const queuedStatuses = `('pending', 'scheduled')`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// errClaimLost signals that the conditional claim update matched no row.
var errClaimLost = errors.New("claim lost")

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobdispatch_jobs (`+jobColumns+`
		) VALUES (
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?,
			?, ?, ?, ?, ?
		)`,
		jobArgs(j)...,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return jobdispatch.ErrJobAlreadyExists
		}
		return fmt.Errorf("jobdispatch/sqlite: create job: %w", err)
	}
	return nil
}

// ClaimNext selects the first claimable row and moves it to dispatched with a
// status-guarded UPDATE, writing the audit row in the same transaction.
func (s *Store) ClaimNext(ctx context.Context, req job.ClaimRequest) (*job.Job, error) {
	var claimed *job.Job

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+jobColumns+`
			FROM jobdispatch_jobs
			WHERE status IN `+queuedStatuses+`
			  AND is_paused = 0
			  AND (scheduled_start_at IS NULL OR scheduled_start_at <= ?)
			  AND (is_off_peak_only = 0 OR ?)
			ORDER BY priority DESC, submitted_at ASC, id ASC
			LIMIT 1`,
			nanos(req.Now), boolInt(req.OffPeak),
		)

		j, err := scanJob(row)
		if err != nil {
			if isNoRows(err) {
				return nil
			}
			return err
		}
		from := j.Status

		tr, err := j.Apply(job.Change{
			To:          job.StatusDispatched,
			WorkerID:    req.WorkerID,
			TriggeredBy: req.WorkerID,
			Reason:      "claimed",
		}, req.Now)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE jobdispatch_jobs
			SET status = ?, worker_id = ?, claimed_at = ?, updated_at = ?
			WHERE id = ? AND status = ? AND is_paused = 0`,
			j.Status.String(), j.WorkerID, nullTime(j.ClaimedAt), nanos(j.UpdatedAt),
			j.ID.String(), from.String(),
		)
		if err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errClaimLost
		}

		if err := insertTransition(ctx, tx, tr); err != nil {
			return err
		}
		claimed = j
		return nil
	})
	if errors.Is(err, errClaimLost) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobdispatch/sqlite: claim next: %w", err)
	}
	return claimed, nil
}

// MutateJob reads the row inside a write transaction, applies fn and writes
// the row and the optional audit row before committing.
func (s *Store) MutateJob(ctx context.Context, jobID id.JobID, fn job.MutateFunc) (*job.Job, error) {
	var out *job.Job
	var fnErr error

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+jobColumns+`
			FROM jobdispatch_jobs
			WHERE id = ?`,
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
		return nil, fmt.Errorf("jobdispatch/sqlite: mutate job %s: %w", jobID, err)
	}
	return out, nil
}

// inTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// saveJob writes every mutable column of j and appends tr when non-nil.
func saveJob(ctx context.Context, tx *sql.Tx, j *job.Job, tr *job.Transition) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE jobdispatch_jobs SET
			status = ?, worker_id = ?, priority = ?,
			result = ?, error_message = ?, error_details = ?,
			progress_percent = ?, progress_message = ?,
			claimed_at = ?, started_at = ?, completed_at = ?, updated_at = ?,
			actual_duration_secs = ?,
			is_paused = ?, paused_at = ?, resumed_at = ?
		WHERE id = ?`,
		j.Status.String(), nullString(j.WorkerID), j.Priority,
		nullJSON(j.Result), nullString(j.ErrorMessage), nullJSON(j.ErrorDetails),
		j.ProgressPercent, nullString(j.ProgressMessage),
		nullTime(j.ClaimedAt), nullTime(j.StartedAt), nullTime(j.CompletedAt), nanos(j.UpdatedAt),
		j.ActualDurationSecs,
		boolInt(j.IsPaused), nullTime(j.PausedAt), nullTime(j.ResumedAt),
		j.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tr == nil {
		return nil
	}
	return insertTransition(ctx, tx, tr)
}

func insertTransition(ctx context.Context, tx *sql.Tx, tr *job.Transition) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO jobdispatch_transitions (
			id, job_id, from_status, to_status, triggered_by, reason, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tr.ID.String(), tr.JobID.String(), tr.From.String(), tr.To.String(),
		tr.TriggeredBy, tr.Reason, nanos(tr.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobdispatch_jobs
		WHERE id = ?`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobdispatch.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobdispatch/sqlite: get job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs matching opts, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var (
		where []string
		args  []any
	)

	if opts.SubmittedBy != "" {
		where = append(where, "submitted_by = ?")
		args = append(args, opts.SubmittedBy)
	}
	if opts.Status != 0 {
		where = append(where, "status = ?")
		args = append(args, opts.Status.String())
	}

	query := `SELECT ` + jobColumns + ` FROM jobdispatch_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY submitted_at DESC, id DESC"

	// SQLite only accepts OFFSET after a LIMIT; -1 means unbounded.
	switch {
	case opts.Limit > 0:
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	case opts.Offset > 0:
		query += " LIMIT -1"
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	return s.queryJobs(ctx, "list jobs", query, args...)
}

// ListQueue returns Pending and Scheduled jobs in dispatch order.
func (s *Store) ListQueue(ctx context.Context) ([]*job.Job, error) {
	return s.queryJobs(ctx, "list queue", `
		SELECT `+jobColumns+`
		FROM jobdispatch_jobs
		WHERE status IN `+queuedStatuses+`
		ORDER BY priority DESC, submitted_at ASC, id ASC`)
}

// CountByStatus returns the number of jobs per status.
func (s *Store) CountByStatus(ctx context.Context) (map[job.Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM jobdispatch_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("jobdispatch/sqlite: count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[job.Status]int64)
	for rows.Next() {
		var (
			name string
			n    int64
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("jobdispatch/sqlite: scan status count: %w", err)
		}
		st, err := job.ParseStatus(name)
		if err != nil {
			return nil, fmt.Errorf("jobdispatch/sqlite: %w", err)
		}
		counts[st] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobdispatch/sqlite: iterate status counts: %w", err)
	}
	return counts, nil
}

// AvgDurationSecs returns the mean actual duration of completed jobs.
func (s *Store) AvgDurationSecs(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT AVG(actual_duration_secs)
		FROM jobdispatch_jobs
		WHERE status = 'completed' AND actual_duration_secs IS NOT NULL`,
	).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("jobdispatch/sqlite: avg duration: %w", err)
	}
	return avg.Float64, nil
}

// ListTransitions returns the audit rows for a job, oldest first.
func (s *Store) ListTransitions(ctx context.Context, jobID id.JobID) ([]*job.Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, from_status, to_status, triggered_by, reason, occurred_at
		FROM jobdispatch_transitions
		WHERE job_id = ?
		ORDER BY occurred_at ASC, id ASC`,
		jobID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("jobdispatch/sqlite: list transitions: %w", err)
	}
	defer rows.Close()

	var out []*job.Transition
	for rows.Next() {
		var (
			tr                  job.Transition
			trID, jID, from, to string
			occurred            int64
		)
		if err := rows.Scan(&trID, &jID, &from, &to, &tr.TriggeredBy, &tr.Reason, &occurred); err != nil {
			return nil, fmt.Errorf("jobdispatch/sqlite: scan transition: %w", err)
		}
		if tr.ID, err = id.ParseTransitionID(trID); err != nil {
			return nil, fmt.Errorf("jobdispatch/sqlite: parse transition id %q: %w", trID, err)
		}
		if tr.JobID, err = id.ParseJobID(jID); err != nil {
			return nil, fmt.Errorf("jobdispatch/sqlite: parse job id %q: %w", jID, err)
		}
		if tr.From, err = job.ParseStatus(from); err != nil {
			return nil, fmt.Errorf("jobdispatch/sqlite: %w", err)
		}
		if tr.To, err = job.ParseStatus(to); err != nil {
			return nil, fmt.Errorf("jobdispatch/sqlite: %w", err)
		}
		tr.OccurredAt = fromNanos(occurred)
		out = append(out, &tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobdispatch/sqlite: iterate transitions: %w", err)
	}
	return out, nil
}

func (s *Store) queryJobs(ctx context.Context, op, query string, args ...any) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobdispatch/sqlite: %s: %w", op, err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobdispatch/sqlite: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobdispatch/sqlite: iterate job rows: %w", err)
	}
	return jobs, nil
}

// jobArgs returns the insert arguments in jobColumns order.
func jobArgs(j *job.Job) []any {
	var retryOf any
	if !j.RetryOfJobID.IsNil() {
		retryOf = j.RetryOfJobID.String()
	}
	return []any{
		j.ID.String(), j.JobType, j.Status.String(), j.SubmittedBy, nullString(j.WorkerID), j.Priority,
		nullJSON(j.Parameters), nullJSON(j.Result), nullString(j.ErrorMessage), nullJSON(j.ErrorDetails),
		j.ProgressPercent, nullString(j.ProgressMessage),
		nanos(j.SubmittedAt), nullTime(j.ClaimedAt), nullTime(j.StartedAt), nullTime(j.CompletedAt), nanos(j.UpdatedAt),
		j.EstimatedDurationSecs, j.ActualDurationSecs, retryOf,
		nullTime(j.ScheduledStartAt), boolInt(j.IsOffPeakOnly), boolInt(j.IsPaused), nullTime(j.PausedAt), nullTime(j.ResumedAt),
	}
}

// scanJob scans a single job row in jobColumns order.
func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j                        job.Job
		idStr, statusStr         string
		workerID, errMsg, prgMsg sql.NullString
		retryOf                  sql.NullString
		params, result, details  sql.NullString
		submitted, updated       int64
		claimed, started, done   sql.NullInt64
		scheduled, paused, resum sql.NullInt64
		estimate                 sql.NullInt64
		actual                   sql.NullFloat64
		offPeak, isPaused        int64
	)
	err := row.Scan(
		&idStr, &j.JobType, &statusStr, &j.SubmittedBy, &workerID, &j.Priority,
		&params, &result, &errMsg, &details,
		&j.ProgressPercent, &prgMsg,
		&submitted, &claimed, &started, &done, &updated,
		&estimate, &actual, &retryOf,
		&scheduled, &offPeak, &isPaused, &paused, &resum,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("jobdispatch/sqlite: parse job id %q: %w", idStr, err)
	}
	j.ID = parsedID

	if j.Status, err = job.ParseStatus(statusStr); err != nil {
		return nil, fmt.Errorf("jobdispatch/sqlite: job %s: %w", idStr, err)
	}
	if retryOf.Valid && retryOf.String != "" {
		if j.RetryOfJobID, err = id.ParseJobID(retryOf.String); err != nil {
			return nil, fmt.Errorf("jobdispatch/sqlite: parse retry_of_job_id %q: %w", retryOf.String, err)
		}
	}

	j.WorkerID = workerID.String
	j.ErrorMessage = errMsg.String
	j.ProgressMessage = prgMsg.String
	j.Parameters = rawJSON(params)
	j.Result = rawJSON(result)
	j.ErrorDetails = rawJSON(details)

	j.SubmittedAt = fromNanos(submitted)
	j.UpdatedAt = fromNanos(updated)
	j.ClaimedAt = fromNullNanos(claimed)
	j.StartedAt = fromNullNanos(started)
	j.CompletedAt = fromNullNanos(done)
	j.ScheduledStartAt = fromNullNanos(scheduled)
	j.PausedAt = fromNullNanos(paused)
	j.ResumedAt = fromNullNanos(resum)

	if estimate.Valid {
		v := estimate.Int64
		j.EstimatedDurationSecs = &v
	}
	if actual.Valid {
		v := actual.Float64
		j.ActualDurationSecs = &v
	}
	j.IsOffPeakOnly = offPeak != 0
	j.IsPaused = isPaused != 0

	return &j, nil
}

// ── column codecs ────────────────────────────────────────────────

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return nanos(*t)
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// nullString maps the empty string to NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullJSON stores a document as TEXT, mapping an empty one to NULL.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func rawJSON(s sql.NullString) []byte {
	if !s.Valid || s.String == "" {
		return nil
	}
	return []byte(s.String)
}
