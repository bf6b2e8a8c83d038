package redis

import (
	"time"

	"github.com/xraph/jobdispatch/job"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "jobdispatch:events"

// Lifecycle event types. Each constant maps to one ext lifecycle hook and
// becomes the Type field of the published [Event].
const (
	EventJobSubmitted = "jobdispatch.job.submitted"
	EventJobCompleted = "jobdispatch.job.completed"
	EventJobFailed    = "jobdispatch.job.failed"
	EventJobCancelled = "jobdispatch.job.cancelled"
	EventJobRetried   = "jobdispatch.job.retried"
)

// AllEvents returns every event type the Publisher can emit.
func AllEvents() []string {
	return []string{
		EventJobSubmitted,
		EventJobCompleted,
		EventJobFailed,
		EventJobCancelled,
		EventJobRetried,
	}
}

// Event is the JSON message published for each lifecycle hook.
type Event struct {
	Type        string    `json:"type"`
	JobID       string    `json:"job_id"`
	JobType     string    `json:"job_type"`
	Status      string    `json:"status"`
	Priority    int       `json:"priority"`
	SubmittedBy string    `json:"submitted_by,omitempty"`
	RetryOf     string    `json:"retry_of_job_id,omitempty"`
	ElapsedMs   int64     `json:"elapsed_ms,omitempty"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func newEvent(eventType string, j *job.Job, at time.Time) *Event {
	evt := &Event{
		Type:        eventType,
		JobID:       j.ID.String(),
		JobType:     j.JobType,
		Status:      j.Status.String(),
		Priority:    j.Priority,
		SubmittedBy: j.SubmittedBy,
		OccurredAt:  at,
	}
	if !j.RetryOfJobID.IsNil() {
		evt.RetryOf = j.RetryOfJobID.String()
	}
	return evt
}
