package job

import "context"

// Definition is a typed job type with a handler function.
// T is the parameters type (must be JSON-serializable).
type Definition[T any] struct {
	// JobType is the tag stored on submitted jobs.
	JobType string

	// Handler processes the parameters. A non-nil result is JSON-encoded
	// and stored on the completed job.
	Handler func(ctx context.Context, params T) (any, error)

	// Opts are the default submission options for this job type.
	Opts SubmitOptions
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](jobType string, handler func(ctx context.Context, params T) (any, error), opts ...SubmitOption) *Definition[T] {
	def := &Definition[T]{
		JobType: jobType,
		Handler: handler,
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
