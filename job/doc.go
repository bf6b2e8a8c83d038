// Package job defines the job entity, its status state machine, typed
// definitions and the store interface.
//
// # Status
//
// [Status] is a closed enum. Pending and Scheduled are the initial statuses;
// Completed, Failed and Cancelled are terminal. The legal edges are:
//
//	pending, scheduled          → dispatched   (claim)
//	dispatched                  → running
//	running                    ↔ paused
//	dispatched, running, paused → completed, failed
//	pending … paused            → cancelled
//
// Retrying is reserved and has no edges. [Validate] is the pure validator
// and [Job.Apply] applies an accepted [Change] together with its side
// effects (pause flags, timestamps, duration, ownership), returning the
// [Transition] audit record.
//
// # Holds
//
// A queued job can be held by an administrator with [Job.Hold]. The pause
// flag is set and the job is skipped by claims until [Job.Release]; its
// status stays Pending or Scheduled.
//
// # Definitions
//
// Use [Definition] with a typed handler. Parameters are JSON-decoded
// before the handler runs and the result is JSON-encoded:
//
//	var Render = job.NewDefinition("render_scene",
//	    func(ctx context.Context, in RenderInput) (any, error) {
//	        return renderer.Render(ctx, in)
//	    },
//	    job.WithPriority(5),
//	)
//
//	job.RegisterDefinition(registry, Render)
package job
