package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/jobdispatch/id"
	"github.com/xraph/jobdispatch/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:jobdispatch_jobs"`

	ID              string          `bun:"id,pk"`
	JobType         string          `bun:"job_type,notnull"`
	Status          string          `bun:"status,notnull"`
	SubmittedBy     string          `bun:"submitted_by,notnull"`
	WorkerID        string          `bun:"worker_id,nullzero"`
	Priority        int             `bun:"priority,notnull"`
	Parameters      json.RawMessage `bun:"parameters,type:json,nullzero"`
	Result          json.RawMessage `bun:"result,type:json,nullzero"`
	ErrorMessage    string          `bun:"error_message,nullzero"`
	ErrorDetails    json.RawMessage `bun:"error_details,type:json,nullzero"`
	ProgressPercent int             `bun:"progress_percent,notnull"`
	ProgressMessage string          `bun:"progress_message,nullzero"`

	SubmittedAt time.Time  `bun:"submitted_at,notnull"`
	ClaimedAt   *time.Time `bun:"claimed_at"`
	StartedAt   *time.Time `bun:"started_at"`
	CompletedAt *time.Time `bun:"completed_at"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`

	EstimatedDurationSecs *int64   `bun:"estimated_duration_secs"`
	ActualDurationSecs    *float64 `bun:"actual_duration_secs"`
	RetryOfJobID          string   `bun:"retry_of_job_id,nullzero"`

	ScheduledStartAt *time.Time `bun:"scheduled_start_at"`
	IsOffPeakOnly    bool       `bun:"is_off_peak_only,notnull"`
	IsPaused         bool       `bun:"is_paused,notnull"`
	PausedAt         *time.Time `bun:"paused_at"`
	ResumedAt        *time.Time `bun:"resumed_at"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:                    j.ID.String(),
		JobType:               j.JobType,
		Status:                j.Status.String(),
		SubmittedBy:           j.SubmittedBy,
		WorkerID:              j.WorkerID,
		Priority:              j.Priority,
		Parameters:            j.Parameters,
		Result:                j.Result,
		ErrorMessage:          j.ErrorMessage,
		ErrorDetails:          j.ErrorDetails,
		ProgressPercent:       j.ProgressPercent,
		ProgressMessage:       j.ProgressMessage,
		SubmittedAt:           j.SubmittedAt,
		ClaimedAt:             j.ClaimedAt,
		StartedAt:             j.StartedAt,
		CompletedAt:           j.CompletedAt,
		UpdatedAt:             j.UpdatedAt,
		EstimatedDurationSecs: j.EstimatedDurationSecs,
		ActualDurationSecs:    j.ActualDurationSecs,
		RetryOfJobID:          j.RetryOfJobID.String(),
		ScheduledStartAt:      j.ScheduledStartAt,
		IsOffPeakOnly:         j.IsOffPeakOnly,
		IsPaused:              j.IsPaused,
		PausedAt:              j.PausedAt,
		ResumedAt:             j.ResumedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("jobdispatch/bun: parse job id %q: %w", m.ID, err)
	}

	status, err := job.ParseStatus(m.Status)
	if err != nil {
		return nil, fmt.Errorf("jobdispatch/bun: job %s: %w", m.ID, err)
	}

	var retryOf id.JobID
	if m.RetryOfJobID != "" {
		if retryOf, err = id.ParseJobID(m.RetryOfJobID); err != nil {
			return nil, fmt.Errorf("jobdispatch/bun: parse retry_of_job_id %q: %w", m.RetryOfJobID, err)
		}
	}

	return &job.Job{
		ID:                    parsedID,
		JobType:               m.JobType,
		Status:                status,
		SubmittedBy:           m.SubmittedBy,
		WorkerID:              m.WorkerID,
		Priority:              m.Priority,
		Parameters:            m.Parameters,
		Result:                m.Result,
		ErrorMessage:          m.ErrorMessage,
		ErrorDetails:          m.ErrorDetails,
		ProgressPercent:       m.ProgressPercent,
		ProgressMessage:       m.ProgressMessage,
		SubmittedAt:           m.SubmittedAt,
		ClaimedAt:             m.ClaimedAt,
		StartedAt:             m.StartedAt,
		CompletedAt:           m.CompletedAt,
		UpdatedAt:             m.UpdatedAt,
		EstimatedDurationSecs: m.EstimatedDurationSecs,
		ActualDurationSecs:    m.ActualDurationSecs,
		RetryOfJobID:          retryOf,
		ScheduledStartAt:      m.ScheduledStartAt,
		IsOffPeakOnly:         m.IsOffPeakOnly,
		IsPaused:              m.IsPaused,
		PausedAt:              m.PausedAt,
		ResumedAt:             m.ResumedAt,
	}, nil
}

func fromJobModels(models []jobModel) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ── Transition model ──────────────────────────────────────────────

type transitionModel struct {
	bun.BaseModel `bun:"table:jobdispatch_transitions"`

	ID          string    `bun:"id,pk"`
	JobID       string    `bun:"job_id,notnull"`
	FromStatus  string    `bun:"from_status,notnull"`
	ToStatus    string    `bun:"to_status,notnull"`
	TriggeredBy string    `bun:"triggered_by,notnull"`
	Reason      string    `bun:"reason,notnull"`
	OccurredAt  time.Time `bun:"occurred_at,notnull"`
}

func toTransitionModel(tr *job.Transition) *transitionModel {
	return &transitionModel{
		ID:          tr.ID.String(),
		JobID:       tr.JobID.String(),
		FromStatus:  tr.From.String(),
		ToStatus:    tr.To.String(),
		TriggeredBy: tr.TriggeredBy,
		Reason:      tr.Reason,
		OccurredAt:  tr.OccurredAt,
	}
}

func fromTransitionModel(m *transitionModel) (*job.Transition, error) {
	trID, err := id.ParseTransitionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("jobdispatch/bun: parse transition id %q: %w", m.ID, err)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("jobdispatch/bun: parse job id %q: %w", m.JobID, err)
	}
	from, err := job.ParseStatus(m.FromStatus)
	if err != nil {
		return nil, fmt.Errorf("jobdispatch/bun: transition %s: %w", m.ID, err)
	}
	to, err := job.ParseStatus(m.ToStatus)
	if err != nil {
		return nil, fmt.Errorf("jobdispatch/bun: transition %s: %w", m.ID, err)
	}
	return &job.Transition{
		ID:          trID,
		JobID:       jobID,
		From:        from,
		To:          to,
		TriggeredBy: m.TriggeredBy,
		Reason:      m.Reason,
		OccurredAt:  m.OccurredAt,
	}, nil
}
