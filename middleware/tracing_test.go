package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/jobdispatch/id"
	"github.com/xraph/jobdispatch/job"
	mw "github.com/xraph/jobdispatch/middleware"
)

func newTestJob() *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		JobType:  "render",
		Priority: 5,
		WorkerID: "wkr-test",
	}
}

func recordSpan(t *testing.T, j *job.Job, handler mw.Handler) (sdktrace.ReadOnlySpan, error) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	err := mw.TracingWithTracer(tp.Tracer("test"))(context.Background(), j, handler)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != "jobdispatch.job.execute" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	return spans[0], err
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracing_Outcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		handlerErr    error
		wantCode      codes.Code
		wantException bool
	}{
		{name: "success", wantCode: codes.Ok},
		{name: "handler error", handlerErr: errors.New("render failed"), wantCode: codes.Error, wantException: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			span, err := recordSpan(t, newTestJob(), func(context.Context) error { return tt.handlerErr })
			if !errors.Is(err, tt.handlerErr) {
				t.Fatalf("err = %v, want %v", err, tt.handlerErr)
			}
			if span.Status().Code != tt.wantCode {
				t.Errorf("status = %v, want %v", span.Status().Code, tt.wantCode)
			}
			if tt.handlerErr != nil && span.Status().Description != tt.handlerErr.Error() {
				t.Errorf("status description = %q", span.Status().Description)
			}

			var exception bool
			for _, ev := range span.Events() {
				if ev.Name == "exception" {
					exception = true
				}
			}
			if exception != tt.wantException {
				t.Errorf("exception event recorded = %v, want %v", exception, tt.wantException)
			}
		})
	}
}

func TestTracing_JobAttributes(t *testing.T) {
	t.Parallel()

	j := newTestJob()
	span, _ := recordSpan(t, j, func(context.Context) error { return nil })
	attrs := spanAttrs(span)

	if got := attrs["jobdispatch.job.id"].AsString(); got != j.ID.String() {
		t.Errorf("job.id = %q", got)
	}
	if got := attrs["jobdispatch.job.type"].AsString(); got != "render" {
		t.Errorf("job.type = %q", got)
	}
	if got := attrs["jobdispatch.job.priority"].AsInt64(); got != 5 {
		t.Errorf("job.priority = %d", got)
	}
	if got := attrs["jobdispatch.worker.id"].AsString(); got != "wkr-test" {
		t.Errorf("worker.id = %q", got)
	}
	if _, ok := attrs["jobdispatch.job.retry_of"]; ok {
		t.Error("retry_of set on a job that is not a retry")
	}

	retry := newTestJob()
	retry.RetryOfJobID = id.NewJobID()
	span, _ = recordSpan(t, retry, func(context.Context) error { return nil })
	if got := spanAttrs(span)["jobdispatch.job.retry_of"].AsString(); got != retry.RetryOfJobID.String() {
		t.Errorf("retry_of = %q, want %q", got, retry.RetryOfJobID)
	}
}

func TestTracing_HandlerRunsInsideSpan(t *testing.T) {
	t.Parallel()

	var inner trace.SpanContext
	span, _ := recordSpan(t, newTestJob(), func(ctx context.Context) error {
		inner = trace.SpanFromContext(ctx).SpanContext()
		return nil
	})

	if !inner.IsValid() || inner.SpanID() != span.SpanContext().SpanID() {
		t.Errorf("handler span = %v, want the execution span %v", inner.SpanID(), span.SpanContext().SpanID())
	}
}

func TestTracing_GlobalProviderIsPassThrough(t *testing.T) {
	t.Parallel()

	calls := 0
	err := mw.Tracing()(context.Background(), newTestJob(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}
