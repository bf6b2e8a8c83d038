package job

import (
	"encoding/json"
	"time"

	"github.com/xraph/jobdispatch"
	"github.com/xraph/jobdispatch/id"
)

// Job is one unit of asynchronous work tracked by the dispatcher.
type Job struct {
	ID          id.JobID        `json:"id"`
	JobType     string          `json:"job_type"`
	Status      Status          `json:"status"`
	SubmittedBy string          `json:"submitted_by,omitempty"`
	WorkerID    string          `json:"worker_id,omitempty"`
	Priority    int             `json:"priority"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`

	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorDetails json.RawMessage `json:"error_details,omitempty"`

	ProgressPercent int    `json:"progress_percent"`
	ProgressMessage string `json:"progress_message,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`

	EstimatedDurationSecs *int64   `json:"estimated_duration_secs,omitempty"`
	ActualDurationSecs    *float64 `json:"actual_duration_secs,omitempty"`

	RetryOfJobID     id.JobID   `json:"retry_of_job_id,omitempty"`
	ScheduledStartAt *time.Time `json:"scheduled_start_at,omitempty"`
	IsOffPeakOnly    bool       `json:"is_off_peak_only"`

	IsPaused  bool       `json:"is_paused"`
	PausedAt  *time.Time `json:"paused_at,omitempty"`
	ResumedAt *time.Time `json:"resumed_at,omitempty"`

	// QueuePosition is filled by queue listings only and is never persisted.
	QueuePosition int `json:"queue_position,omitempty"`
}

// Transition is one append-only audit row, written in the same store
// transaction as the status change it records.
type Transition struct {
	ID          id.TransitionID `json:"id"`
	JobID       id.JobID        `json:"job_id"`
	From        Status          `json:"from_status"`
	To          Status          `json:"to_status"`
	TriggeredBy string          `json:"triggered_by,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// New builds a job ready for [Store.CreateJob]. The initial status is
// Scheduled when a scheduled start was given and Pending otherwise.
func New(jobType string, params json.RawMessage, now time.Time, opts ...SubmitOption) (*Job, error) {
	o := SubmitOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	return NewWithOptions(jobType, params, now, o)
}

// NewWithOptions is New with an already assembled option set.
func NewWithOptions(jobType string, params json.RawMessage, now time.Time, o SubmitOptions) (*Job, error) {
	if jobType == "" {
		return nil, validationError("job_type is required")
	}
	if len(params) > 0 && !json.Valid(params) {
		return nil, validationError("parameters must be valid JSON")
	}
	if o.EstimatedDurationSecs != nil && *o.EstimatedDurationSecs < 0 {
		return nil, validationError("estimated_duration_secs must not be negative")
	}

	j := &Job{
		ID:                    id.NewJobID(),
		JobType:               jobType,
		Status:                StatusPending,
		SubmittedBy:           o.SubmittedBy,
		Priority:              o.Priority,
		Parameters:            params,
		SubmittedAt:           now,
		UpdatedAt:             now,
		EstimatedDurationSecs: o.EstimatedDurationSecs,
		RetryOfJobID:          o.RetryOf,
		IsOffPeakOnly:         o.OffPeakOnly,
	}
	if o.ScheduledStartAt != nil {
		at := *o.ScheduledStartAt
		j.ScheduledStartAt = &at
		j.Status = StatusScheduled
	}
	return j, nil
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Parameters = cloneRaw(j.Parameters)
	cp.Result = cloneRaw(j.Result)
	cp.ErrorDetails = cloneRaw(j.ErrorDetails)
	cp.ClaimedAt = cloneTime(j.ClaimedAt)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.ScheduledStartAt = cloneTime(j.ScheduledStartAt)
	cp.PausedAt = cloneTime(j.PausedAt)
	cp.ResumedAt = cloneTime(j.ResumedAt)
	if j.EstimatedDurationSecs != nil {
		v := *j.EstimatedDurationSecs
		cp.EstimatedDurationSecs = &v
	}
	if j.ActualDurationSecs != nil {
		v := *j.ActualDurationSecs
		cp.ActualDurationSecs = &v
	}
	return &cp
}

func validationError(reason string) error {
	return &jobdispatch.Error{Kind: jobdispatch.KindValidation, Reason: reason}
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
