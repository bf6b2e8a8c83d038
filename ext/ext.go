package ext

import (
	"context"
	"time"

	"github.com/xraph/jobdispatch/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobSubmitted is called after a job is persisted as Pending or Scheduled.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, j *job.Job) error
}

// JobClaimed is called after a worker claims a job.
type JobClaimed interface {
	OnJobClaimed(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a claimed job moves to Running.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called after a job is recorded as Failed.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job) error
}

// JobCancelled is called after a job is cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// JobRetried is called after a manual retry creates a new job from a
// failed one.
type JobRetried interface {
	OnJobRetried(ctx context.Context, original, retry *job.Job) error
}

// JobTransitioned is called for every accepted status transition, after
// the audit row has been committed.
type JobTransitioned interface {
	OnJobTransitioned(ctx context.Context, j *job.Job, tr *job.Transition) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
