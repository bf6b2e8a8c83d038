// Package audithook is a jobdispatch extension that bridges lifecycle
// events to an external audit trail.
//
// The job store already keeps an append-only transition log per job. This
// extension feeds the same events to a compliance or SIEM backend through
// the [Recorder] interface, with a severity (info for normal operations,
// warning for cancellations and administrative pauses, critical for
// failures) and metadata such as job type, submitter, worker and elapsed
// time.
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return siem.Send(ctx, evt.Action, evt.ResourceID, evt.Metadata)
//	}))
//
// [LogRecorder] writes events to a *slog.Logger and is what the
// jobdispatch CLI uses.
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobCancelled,
//	        audithook.ActionJobRetried,
//	    ),
//	)
package audithook
