package observability_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/jobdispatch/ext"
	"github.com/xraph/jobdispatch/id"
	"github.com/xraph/jobdispatch/job"
	"github.com/xraph/jobdispatch/observability"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:      id.NewJobID(),
		JobType: "render",
	}
}

// counterValue sums every data point of the named Int64 counter.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data type %T", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtension_Name(t *testing.T) {
	t.Parallel()
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_Hooks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name   string
		metric string
		fire   func(e *observability.MetricsExtension) error
	}{
		{"submitted", "jobdispatch.job.submitted", func(e *observability.MetricsExtension) error {
			return e.OnJobSubmitted(ctx, newTestJob())
		}},
		{"claimed", "jobdispatch.job.claimed", func(e *observability.MetricsExtension) error {
			return e.OnJobClaimed(ctx, newTestJob())
		}},
		{"completed", "jobdispatch.job.completed", func(e *observability.MetricsExtension) error {
			return e.OnJobCompleted(ctx, newTestJob(), 100*time.Millisecond)
		}},
		{"failed", "jobdispatch.job.failed", func(e *observability.MetricsExtension) error {
			return e.OnJobFailed(ctx, newTestJob())
		}},
		{"cancelled", "jobdispatch.job.cancelled", func(e *observability.MetricsExtension) error {
			return e.OnJobCancelled(ctx, newTestJob())
		}},
		{"retried", "jobdispatch.job.retried", func(e *observability.MetricsExtension) error {
			return e.OnJobRetried(ctx, newTestJob(), newTestJob())
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, reader := newTestExtension()
			if err := tt.fire(e); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := counterValue(t, reader, tt.metric); got != 1 {
				t.Errorf("%s = %d, want 1", tt.metric, got)
			}
		})
	}
}

func TestMetricsExtension_RunTimeHistogram(t *testing.T) {
	t.Parallel()
	e, reader := newTestExtension()
	if err := e.OnJobCompleted(context.Background(), newTestJob(), 2*time.Second); err != nil {
		t.Fatal(err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "jobdispatch.job.run_time" {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) != 1 {
				t.Fatalf("unexpected histogram data: %+v", m.Data)
			}
			if hist.DataPoints[0].Sum != 2 {
				t.Errorf("sum = %v, want 2", hist.DataPoints[0].Sum)
			}
			return
		}
	}
	t.Fatal("jobdispatch.job.run_time not recorded")
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	t.Parallel()
	e, reader := newTestExtension()

	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()

	reg.EmitJobSubmitted(ctx, j)
	reg.EmitJobSubmitted(ctx, j)
	reg.EmitJobClaimed(ctx, j)
	reg.EmitJobFailed(ctx, j)

	checks := []struct {
		name string
		want int64
	}{
		{"jobdispatch.job.submitted", 2},
		{"jobdispatch.job.claimed", 1},
		{"jobdispatch.job.failed", 1},
		{"jobdispatch.job.completed", 0},
	}
	for _, c := range checks {
		if got := counterValue(t, reader, c.name); got != c.want {
			t.Errorf("%s = %d, want %d", c.name, got, c.want)
		}
	}
}
