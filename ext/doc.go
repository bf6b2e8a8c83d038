// Package ext defines the extension system for jobdispatch.
//
// Extensions are notified of job lifecycle events and can react to them,
// for example by recording metrics or publishing notifications. Each hook
// is a separate interface so extensions opt in only to the events they
// care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobSubmitted]: a job was accepted into the queue
//   - [JobClaimed]: a worker took ownership of a job
//   - [JobStarted]: the job moved to Running
//   - [JobCompleted]: the job finished successfully
//   - [JobFailed]: the job was recorded as Failed
//   - [JobCancelled]: the job was cancelled
//   - [JobRetried]: a manual retry created a new job from a failed one
//   - [JobTransitioned]: any accepted status change, with its audit row
//
// # Other Hooks
//
//   - [Shutdown]: the worker pool is shutting down
//
// Hooks run synchronously after the store transaction commits. Errors are
// logged by the [Registry] and never returned to the caller.
package ext
