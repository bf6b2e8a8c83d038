package job

import (
	"time"

	"github.com/xraph/jobdispatch/id"
)

// SubmitOptions configures a new job.
type SubmitOptions struct {
	// Priority determines claim ordering. Higher values are served first.
	Priority int

	// EstimatedDurationSecs is an advisory runtime hint.
	EstimatedDurationSecs *int64

	// ScheduledStartAt makes the job Scheduled and unclaimable before it.
	ScheduledStartAt *time.Time

	// OffPeakOnly restricts claiming to callers that declare off-peak.
	OffPeakOnly bool

	// SubmittedBy records the submitting user.
	SubmittedBy string

	// RetryOf links a retry to the failed job it was cloned from.
	RetryOf id.JobID
}

// SubmitOption is a functional option for job submission.
type SubmitOption func(*SubmitOptions)

// WithPriority sets the job priority. Higher values are claimed first.
func WithPriority(p int) SubmitOption {
	return func(o *SubmitOptions) {
		o.Priority = p
	}
}

// WithEstimatedDuration sets the advisory duration hint.
func WithEstimatedDuration(d time.Duration) SubmitOption {
	return func(o *SubmitOptions) {
		secs := int64(d / time.Second)
		o.EstimatedDurationSecs = &secs
	}
}

// WithScheduledStart schedules the job to become claimable at t.
func WithScheduledStart(t time.Time) SubmitOption {
	return func(o *SubmitOptions) {
		o.ScheduledStartAt = &t
	}
}

// WithOffPeakOnly restricts the job to off-peak claims.
func WithOffPeakOnly() SubmitOption {
	return func(o *SubmitOptions) {
		o.OffPeakOnly = true
	}
}

// WithSubmittedBy records who submitted the job.
func WithSubmittedBy(user string) SubmitOption {
	return func(o *SubmitOptions) {
		o.SubmittedBy = user
	}
}
