// Package worker provides the job execution runtime: an Executor that
// invokes registered handlers through middleware, and a Pool that runs
// concurrent claim loops against the dispatcher.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/jobdispatch/job"
	"github.com/xraph/jobdispatch/middleware"
)

// ErrNoHandler is returned by Execute for a job type with no registered
// handler.
var ErrNoHandler = errors.New("no handler registered")

// DetailedError lets a handler attach structured details to a failure.
// The details are stored as the job's error_details.
type DetailedError interface {
	error
	Details() json.RawMessage
}

// Executor runs a single job through middleware and the registered handler.
// Recording the outcome is the Pool's responsibility.
type Executor struct {
	registry *job.Registry
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(registry *job.Registry, logger *slog.Logger, mws ...middleware.Middleware) *Executor {
	return &Executor{
		registry: registry,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute looks up the handler for j.JobType and runs it through the
// middleware chain, returning the handler's result.
func (e *Executor) Execute(ctx context.Context, j *job.Job) (json.RawMessage, error) {
	handler, ok := e.registry.Get(j.JobType)
	if !ok {
		return nil, fmt.Errorf("%w for job type %q", ErrNoHandler, j.JobType)
	}

	var result json.RawMessage
	terminal := func(ctx context.Context) error {
		out, err := handler(ctx, j.Parameters)
		if err != nil {
			return err
		}
		if len(out) > 0 && !json.Valid(out) {
			return fmt.Errorf("handler for job type %q returned invalid JSON", j.JobType)
		}
		result = out
		return nil
	}

	if err := e.mw(ctx, j, terminal); err != nil {
		return nil, err
	}
	return result, nil
}

// errorDetails extracts the structured details of a handler error, if any.
func errorDetails(err error) json.RawMessage {
	var de DetailedError
	if errors.As(err, &de) {
		if d := de.Details(); len(d) > 0 && json.Valid(d) {
			return d
		}
	}
	return nil
}
