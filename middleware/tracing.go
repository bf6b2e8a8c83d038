package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/jobdispatch/job"
)

// tracerName is the instrumentation scope name for execution tracing.
const tracerName = "github.com/xraph/jobdispatch"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used.
//
// Span attributes: jobdispatch.job.id, jobdispatch.job.type,
// jobdispatch.job.priority, jobdispatch.worker.id and, for retries,
// jobdispatch.job.retry_of. On error the span status is codes.Error.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("jobdispatch.job.id", j.ID.String()),
			attribute.String("jobdispatch.job.type", j.JobType),
			attribute.Int("jobdispatch.job.priority", j.Priority),
			attribute.String("jobdispatch.worker.id", j.WorkerID),
		}
		if !j.RetryOfJobID.IsNil() {
			attrs = append(attrs, attribute.String("jobdispatch.job.retry_of", j.RetryOfJobID.String()))
		}

		ctx, span := tracer.Start(ctx, "jobdispatch.job.execute",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
