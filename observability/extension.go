package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/jobdispatch/ext"
	"github.com/xraph/jobdispatch/job"
)

// meterName is the instrumentation scope for lifecycle metrics.
const meterName = "github.com/xraph/jobdispatch/observability"

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobSubmitted = (*MetricsExtension)(nil)
	_ ext.JobClaimed   = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobCancelled = (*MetricsExtension)(nil)
	_ ext.JobRetried   = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics with OpenTelemetry.
// Register it as an extension to track submission, claim, completion,
// failure, cancellation and retry rates per job type.
type MetricsExtension struct {
	JobSubmitted metric.Int64Counter
	JobClaimed   metric.Int64Counter
	JobCompleted metric.Int64Counter
	JobFailed    metric.Int64Counter
	JobCancelled metric.Int64Counter
	JobRetried   metric.Int64Counter
	JobRunTime   metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the given meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The OTel API returns a noop instrument alongside any error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	runTime, _ := meter.Float64Histogram("jobdispatch.job.run_time",
		metric.WithDescription("Time from claim to successful completion in seconds"),
		metric.WithUnit("s"),
	)

	return &MetricsExtension{
		JobSubmitted: counter("jobdispatch.job.submitted", "Jobs accepted into the queue"),
		JobClaimed:   counter("jobdispatch.job.claimed", "Jobs claimed by a worker"),
		JobCompleted: counter("jobdispatch.job.completed", "Jobs completed successfully"),
		JobFailed:    counter("jobdispatch.job.failed", "Jobs recorded as failed"),
		JobCancelled: counter("jobdispatch.job.cancelled", "Jobs cancelled"),
		JobRetried:   counter("jobdispatch.job.retried", "Manual retries of failed jobs"),
		JobRunTime:   runTime,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func typeAttr(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("job_type", j.JobType))
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobSubmitted implements ext.JobSubmitted.
func (m *MetricsExtension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	m.JobSubmitted.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobClaimed implements ext.JobClaimed.
func (m *MetricsExtension) OnJobClaimed(ctx context.Context, j *job.Job) error {
	m.JobClaimed.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.JobCompleted.Add(ctx, 1, typeAttr(j))
	m.JobRunTime.Record(ctx, elapsed.Seconds(), typeAttr(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job) error {
	m.JobFailed.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.JobCancelled.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobRetried implements ext.JobRetried.
func (m *MetricsExtension) OnJobRetried(ctx context.Context, original, _ *job.Job) error {
	m.JobRetried.Add(ctx, 1, typeAttr(original))
	return nil
}
