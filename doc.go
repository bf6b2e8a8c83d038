// Package jobdispatch is the job-dispatch core of a production-automation
// platform: a persistent work queue that accepts asynchronous computation
// requests, orders them by priority and submission time, hands each to
// exactly one worker, and records progress, result and failure.
//
// The root package holds the shared error taxonomy and runtime
// configuration. The pieces live in subpackages:
//
//   - job: the Job entity, its closed Status enum, the state machine and the
//     store contract.
//   - store/memory, store/postgres, store/bun, store/sqlite: store backends.
//     Every backend claims jobs and records transitions atomically with the
//     audit log.
//   - engine: the public operations (submit, claim, progress, complete,
//     fail, cancel, retry, inspection).
//   - worker: a polling worker pool that runs registered handlers.
//   - audit_hook, notify/redis, observability: lifecycle extensions for
//     audit trails, Redis events with worker wake-up, and OpenTelemetry
//     metrics.
//   - cmd/jobdispatch: an operator CLI over any of the store backends.
//
// # Quick Start
//
//	st := memory.New()
//	eng, _ := engine.Build(st)
//
//	j, _ := eng.Submit(ctx, "render_report", params, job.WithPriority(5))
//	claimed, _ := eng.ClaimNext(ctx, "wkr-1", false)
//
// # Errors
//
// Every engine error is a *[Error] whose errors.Is target is one of
// [ErrJobNotFound], [ErrInvalidTransition], [ErrValidation] or [ErrStore].
// A claim that finds nothing eligible returns a nil job and a nil error.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package jobdispatch
