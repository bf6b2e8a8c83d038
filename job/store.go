package job

import (
	"context"
	"time"

	"github.com/xraph/jobdispatch/id"
)

// ClaimRequest describes one claim attempt.
type ClaimRequest struct {
	// WorkerID is recorded on the claimed job and as the audit trigger.
	WorkerID string
	// OffPeak declares that the caller is in the off-peak window.
	OffPeak bool
	// Now is the instant used for due checks and timestamps.
	Now time.Time
}

// ListOpts controls pagination and filtering for job list queries.
// Results are ordered newest first.
type ListOpts struct {
	// SubmittedBy filters by submitting user. Empty means all users.
	SubmittedBy string
	// Status filters by status. Zero means all statuses.
	Status Status
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// MutateFunc changes a locked job in place. A non-nil Transition is
// appended to the audit log in the same store transaction. Returning an
// error aborts the mutation and is passed through unchanged.
type MutateFunc func(j *Job) (*Transition, error)

// Store defines the persistence contract for jobs and their audit log.
type Store interface {
	// CreateJob persists a new job.
	CreateJob(ctx context.Context, j *Job) error

	// ClaimNext atomically selects the first claimable job in dispatch order,
	// moves it to Dispatched for req.WorkerID and records the transition.
	// Concurrent claims never return the same job. It returns nil, nil when
	// nothing is claimable.
	ClaimNext(ctx context.Context, req ClaimRequest) (*Job, error)

	// MutateJob locks the job, applies fn and persists the result together
	// with the returned transition, all in one transaction.
	MutateJob(ctx context.Context, jobID id.JobID, fn MutateFunc) (*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobs returns jobs matching opts, newest first.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// ListQueue returns Pending and Scheduled jobs in dispatch order.
	ListQueue(ctx context.Context) ([]*Job, error)

	// CountByStatus returns the number of jobs per status.
	CountByStatus(ctx context.Context) (map[Status]int64, error)

	// AvgDurationSecs returns the mean actual duration of completed jobs,
	// or zero when there are none.
	AvgDurationSecs(ctx context.Context) (float64, error)

	// ListTransitions returns the audit rows for a job, oldest first.
	ListTransitions(ctx context.Context, jobID id.JobID) ([]*Transition, error)
}
