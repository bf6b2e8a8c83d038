package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobSubmitted = "job.submitted"
	ActionJobClaimed   = "job.claimed"
	ActionJobStarted   = "job.started"
	ActionJobCompleted = "job.completed"
	ActionJobFailed    = "job.failed"
	ActionJobCancelled = "job.cancelled"
	ActionJobRetried   = "job.retried"
	ActionJobPaused    = "job.paused"
	ActionJobResumed   = "job.resumed"
)

// CategoryJob groups every action this extension emits.
const CategoryJob = "jobdispatch.job"

// ResourceJob is the Resource field of every audit event.
const ResourceJob = "job"

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobSubmitted,
		ActionJobClaimed,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobCancelled,
		ActionJobRetried,
		ActionJobPaused,
		ActionJobResumed,
	}
}
