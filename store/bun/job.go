package bunstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/xraph/jobdispatch"
	"github.com/xraph/jobdispatch/id"
	"github.com/xraph/jobdispatch/job"
)

var queuedStatuses = []string{job.StatusPending.String(), job.StatusScheduled.String()}

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.NewInsert().Model(toJobModel(j)).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return jobdispatch.ErrJobAlreadyExists
		}
		return fmt.Errorf("jobdispatch/bun: create job: %w", err)
	}
	return nil
}

// ClaimNext selects the first claimable row FOR UPDATE SKIP LOCKED inside a
// transaction, moves it to dispatched and inserts the audit row.
func (s *Store) ClaimNext(ctx context.Context, req job.ClaimRequest) (*job.Job, error) {
	var claimed *job.Job

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		m := new(jobModel)
		err := tx.NewSelect().Model(m).
			Where("status IN (?)", bun.In(queuedStatuses)).
			Where("is_paused = FALSE").
			Where("scheduled_start_at IS NULL OR scheduled_start_at <= ?", req.Now).
			Where("is_off_peak_only = FALSE OR ?", req.OffPeak).
			OrderExpr("priority DESC, submitted_at ASC, id ASC").
			Limit(1).
			For("UPDATE SKIP LOCKED").
			Scan(ctx)
		if err != nil {
			if isNoRows(err) {
				return nil
			}
			return err
		}

		j, err := fromJobModel(m)
		if err != nil {
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
		return nil, fmt.Errorf("jobdispatch/bun: claim next: %w", err)
	}
	return claimed, nil
}

// errMutateAborted marks a rollback requested by the caller's MutateFunc.
var errMutateAborted = errors.New("mutate aborted")

// MutateJob locks the row with FOR UPDATE, applies fn and writes the row and
// the optional audit row in the same transaction.
func (s *Store) MutateJob(ctx context.Context, jobID id.JobID, fn job.MutateFunc) (*job.Job, error) {
	var (
		out   *job.Job
		fnErr error
	)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		m := new(jobModel)
		err := tx.NewSelect().Model(m).
			Where("id = ?", jobID.String()).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if isNoRows(err) {
				return jobdispatch.ErrJobNotFound
			}
			return err
		}

		j, err := fromJobModel(m)
		if err != nil {
			return err
		}

		tr, err := fn(j)
		if err != nil {
			fnErr = err
			return errMutateAborted
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
		return nil, fmt.Errorf("jobdispatch/bun: mutate job %s: %w", jobID, err)
	}
	return out, nil
}

func saveJob(ctx context.Context, tx bun.Tx, j *job.Job, tr *job.Transition) error {
	if _, err := tx.NewUpdate().Model(toJobModel(j)).WherePK().Exec(ctx); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tr == nil {
		return nil
	}
	if _, err := tx.NewInsert().Model(toTransitionModel(tr)).Exec(ctx); err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, jobdispatch.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobdispatch/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// ListJobs returns jobs matching opts, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models)

	if opts.SubmittedBy != "" {
		q = q.Where("submitted_by = ?", opts.SubmittedBy)
	}
	if opts.Status != 0 {
		q = q.Where("status = ?", opts.Status.String())
	}

	q = q.OrderExpr("submitted_at DESC, id DESC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("jobdispatch/bun: list jobs: %w", err)
	}
	return fromJobModels(models)
}

// ListQueue returns Pending and Scheduled jobs in dispatch order.
func (s *Store) ListQueue(ctx context.Context) ([]*job.Job, error) {
	var models []jobModel
	err := s.db.NewSelect().Model(&models).
		Where("status IN (?)", bun.In(queuedStatuses)).
		OrderExpr("priority DESC, submitted_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobdispatch/bun: list queue: %w", err)
	}
	return fromJobModels(models)
}

// CountByStatus returns the number of jobs per status.
func (s *Store) CountByStatus(ctx context.Context) (map[job.Status]int64, error) {
	var rows []struct {
		Status string `bun:"status"`
		Count  int64  `bun:"count"`
	}
	err := s.db.NewSelect().
		TableExpr("jobdispatch_jobs").
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS count").
		GroupExpr("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("jobdispatch/bun: count by status: %w", err)
	}

	counts := make(map[job.Status]int64, len(rows))
	for _, r := range rows {
		st, err := job.ParseStatus(r.Status)
		if err != nil {
			return nil, fmt.Errorf("jobdispatch/bun: %w", err)
		}
		counts[st] = r.Count
	}
	return counts, nil
}

// AvgDurationSecs returns the mean actual duration of completed jobs.
func (s *Store) AvgDurationSecs(ctx context.Context) (float64, error) {
	var avg float64
	err := s.db.NewSelect().
		TableExpr("jobdispatch_jobs").
		ColumnExpr("COALESCE(AVG(actual_duration_secs), 0)::double precision").
		Where("status = ?", job.StatusCompleted.String()).
		Where("actual_duration_secs IS NOT NULL").
		Scan(ctx, &avg)
	if err != nil {
		return 0, fmt.Errorf("jobdispatch/bun: avg duration: %w", err)
	}
	return avg, nil
}

// ListTransitions returns the audit rows for a job, oldest first.
func (s *Store) ListTransitions(ctx context.Context, jobID id.JobID) ([]*job.Transition, error) {
	var models []transitionModel
	err := s.db.NewSelect().Model(&models).
		Where("job_id = ?", jobID.String()).
		OrderExpr("occurred_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobdispatch/bun: list transitions: %w", err)
	}

	out := make([]*job.Transition, 0, len(models))
	for i := range models {
		tr, err := fromTransitionModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}
