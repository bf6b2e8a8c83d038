package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/jobdispatch"
	"github.com/xraph/jobdispatch/id"
)

// Change is a requested status transition plus the data that travels with
// it. WorkerID is used when entering Dispatched and defaults to
// TriggeredBy. Result is stored on Completed, ErrorMessage and ErrorDetails
// on Failed.
type Change struct {
	To           Status
	TriggeredBy  string
	Reason       string
	WorkerID     string
	Result       json.RawMessage
	ErrorMessage string
	ErrorDetails json.RawMessage
}

// Apply validates c against the state machine and, if accepted, applies it
// to j and returns the audit record. On rejection j is left unchanged.
func (j *Job) Apply(c Change, now time.Time) (*Transition, error) {
	if err := Validate(j.Status, c.To); err != nil {
		if te, ok := err.(*TransitionError); ok { //nolint:errorlint // Validate returns the concrete type
			te.JobID = j.ID.String()
		}
		return nil, err
	}

	from := j.Status
	at := now

	if from == StatusPaused {
		j.IsPaused = false
		j.ResumedAt = &at
	}

	switch c.To {
	case StatusDispatched:
		worker := c.WorkerID
		if worker == "" {
			worker = c.TriggeredBy
		}
		if worker == "" {
			return nil, &jobdispatch.Error{
				Kind:   jobdispatch.KindValidation,
				JobID:  j.ID.String(),
				Reason: "worker_id is required to dispatch a job",
			}
		}
		j.WorkerID = worker
		if j.ClaimedAt == nil {
			j.ClaimedAt = &at
		}

	case StatusRunning:
		if j.StartedAt == nil {
			j.StartedAt = &at
		}

	case StatusPaused:
		j.IsPaused = true
		j.PausedAt = &at

	case StatusCompleted:
		j.Result = cloneRaw(c.Result)
		j.ProgressPercent = 100
		j.finish(at)

	case StatusFailed:
		j.ErrorMessage = c.ErrorMessage
		j.ErrorDetails = cloneRaw(c.ErrorDetails)
		j.finish(at)

	case StatusCancelled:
		j.finish(at)
	}

	j.Status = c.To
	j.UpdatedAt = at

	return &Transition{
		ID:          id.NewTransitionID(),
		JobID:       j.ID,
		From:        from,
		To:          c.To,
		TriggeredBy: c.TriggeredBy,
		Reason:      c.Reason,
		OccurredAt:  at,
	}, nil
}

func (j *Job) finish(at time.Time) {
	j.CompletedAt = &at
	j.WorkerID = ""
	j.IsPaused = false

	secs := 0.0
	if j.StartedAt != nil {
		if d := at.Sub(*j.StartedAt).Seconds(); d > 0 {
			secs = d
		}
	}
	j.ActualDurationSecs = &secs
}

// SetProgress records execution progress. Only running jobs accept it.
func (j *Job) SetProgress(percent int, message string, now time.Time) error {
	if percent < 0 || percent > 100 {
		return &jobdispatch.Error{
			Kind:   jobdispatch.KindValidation,
			JobID:  j.ID.String(),
			Reason: fmt.Sprintf("progress_percent %d is outside 0..100", percent),
		}
	}
	if j.Status != StatusRunning {
		return &jobdispatch.Error{
			Kind:   jobdispatch.KindInvalidTransition,
			JobID:  j.ID.String(),
			Reason: fmt.Sprintf("progress updates require a running job, job is %s", j.Status),
		}
	}
	j.ProgressPercent = percent
	j.ProgressMessage = message
	j.UpdatedAt = now
	return nil
}

// SetPriority changes the priority of a job that has not finished.
func (j *Job) SetPriority(priority int, now time.Time) error {
	if j.Status.IsTerminal() {
		return &jobdispatch.Error{
			Kind:   jobdispatch.KindInvalidTransition,
			JobID:  j.ID.String(),
			Reason: fmt.Sprintf("cannot change priority of a %s job", j.Status),
		}
	}
	j.Priority = priority
	j.UpdatedAt = now
	return nil
}

// Hold sets the pause flag on a queued job so it is skipped by claims.
// The status does not change.
func (j *Job) Hold(now time.Time) error {
	if !j.Status.IsQueued() {
		return holdError(j, "hold")
	}
	if j.IsPaused {
		return nil
	}
	at := now
	j.IsPaused = true
	j.PausedAt = &at
	j.UpdatedAt = now
	return nil
}

// Release clears the pause flag set by Hold.
func (j *Job) Release(now time.Time) error {
	if !j.Status.IsQueued() {
		return holdError(j, "release")
	}
	if !j.IsPaused {
		return nil
	}
	at := now
	j.IsPaused = false
	j.ResumedAt = &at
	j.UpdatedAt = now
	return nil
}

func holdError(j *Job, verb string) error {
	return &jobdispatch.Error{
		Kind:   jobdispatch.KindInvalidTransition,
		JobID:  j.ID.String(),
		Reason: fmt.Sprintf("cannot %s a %s job", verb, j.Status),
	}
}

// Claimable reports whether j may be handed to a worker at now. Off-peak-only
// jobs need offPeak to be true.
func (j *Job) Claimable(now time.Time, offPeak bool) bool {
	if !j.Status.IsQueued() || j.IsPaused {
		return false
	}
	if j.ScheduledStartAt != nil && j.ScheduledStartAt.After(now) {
		return false
	}
	return !j.IsOffPeakOnly || offPeak
}

// DispatchBefore orders jobs for claiming: priority descending, then
// submission time ascending, then ID ascending.
func DispatchBefore(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.ID.String() < b.ID.String()
}
