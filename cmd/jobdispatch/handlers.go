package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/jobdispatch/engine"
	"github.com/xraph/jobdispatch/job"
	"github.com/xraph/jobdispatch/worker"
)

// Built-in job types for smoke-testing a deployment. Real handlers are
// registered by programs that embed the engine.
const (
	jobTypeEcho  = "echo"
	jobTypeSleep = "sleep"
)

type sleepParams struct {
	Seconds int `json:"seconds"`
}

func registerBuiltins(eng *engine.Engine) {
	eng.RegisterHandler(jobTypeEcho, func(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
		if len(params) == 0 {
			return json.RawMessage("null"), nil
		}
		return params, nil
	})

	engine.Register(eng, job.NewDefinition(jobTypeSleep, sleep))
}

// sleep waits one second per step and reports progress after each.
func sleep(ctx context.Context, p sleepParams) (any, error) {
	if p.Seconds < 0 {
		return nil, fmt.Errorf("seconds must not be negative, got %d", p.Seconds)
	}
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for i := range p.Seconds {
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-tick.C:
		}
		done := i + 1
		// Progress is advisory; a paused job rejects it and keeps sleeping.
		_ = worker.ReportProgress(ctx, done*100/p.Seconds, fmt.Sprintf("%d of %d seconds", done, p.Seconds))
	}
	return map[string]int{"slept": p.Seconds}, nil
}
