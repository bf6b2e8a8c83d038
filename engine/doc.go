// Package engine wires the job dispatcher together. It owns the job store,
// the handler registry, the extension registry, the middleware chain and
// the worker pool, and exposes every job operation: submission, claiming,
// progress and outcome recording, cancellation, retry, administrative
// pause and the read-only queue views.
//
// Every mutation is a single store transaction. The engine never holds job
// state in memory between calls, so any number of engines may share one
// database.
//
// Build an engine from any [job.Store]:
//
//	st := memory.New()
//	eng, err := engine.Build(st, engine.WithLogger(logger))
//	if err != nil { ... }
//
//	engine.Register(eng, job.NewDefinition("render",
//	    func(ctx context.Context, p RenderParams) (any, error) {
//	        _ = worker.ReportProgress(ctx, 50, "halfway")
//	        return render(ctx, p)
//	    },
//	))
//
//	j, err := engine.SubmitTyped(ctx, eng, "render", RenderParams{Scene: "a"},
//	    job.WithPriority(5), job.WithSubmittedBy("alice"))
//
//	_ = eng.Start(ctx)
//	defer eng.Stop(ctx)
//
// Errors returned by engine operations are *[jobdispatch.Error] values and
// match the sentinels in package jobdispatch through errors.Is.
package engine
