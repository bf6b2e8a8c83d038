package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/jobdispatch/id"
	"github.com/xraph/jobdispatch/job"
	mw "github.com/xraph/jobdispatch/middleware"
)

type seriesKey struct {
	jobType string
	status  string
}

func seriesOf(set attribute.Set) seriesKey {
	jt, _ := set.Value("job_type")
	st, _ := set.Value("status")
	return seriesKey{jobType: jt.AsString(), status: st.AsString()}
}

// runBatch executes one handler call per outcome through the metrics
// middleware and returns the collected data.
func runBatch(t *testing.T, outcomes []seriesKey) metricdata.ResourceMetrics {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := mw.MetricsWithMeter(mp.Meter("test"))

	for _, o := range outcomes {
		var handlerErr error
		if o.status == "error" {
			handlerErr = errors.New("render failed")
		}
		j := &job.Job{ID: id.NewJobID(), JobType: o.jobType}
		err := m(context.Background(), j, func(context.Context) error { return handlerErr })
		if !errors.Is(err, handlerErr) {
			t.Fatalf("middleware changed the handler error: %v", err)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func metricByName(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestMetrics_SeriesPerJobTypeAndOutcome(t *testing.T) {
	t.Parallel()

	rm := runBatch(t, []seriesKey{
		{"render", "ok"},
		{"render", "error"},
		{"thumbnail", "ok"},
		{"thumbnail", "ok"},
	})
	want := map[seriesKey]int64{
		{"render", "ok"}:    1,
		{"render", "error"}: 1,
		{"thumbnail", "ok"}: 2,
	}

	executions, ok := metricByName(rm, "jobdispatch.job.executions")
	if !ok {
		t.Fatal("jobdispatch.job.executions not recorded")
	}
	sum, ok := executions.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("executions data = %T, want Sum[int64]", executions.Data)
	}
	if !sum.IsMonotonic {
		t.Error("executions should be a monotonic counter")
	}
	gotCounts := make(map[seriesKey]int64)
	for _, dp := range sum.DataPoints {
		gotCounts[seriesOf(dp.Attributes)] = dp.Value
	}

	duration, ok := metricByName(rm, "jobdispatch.job.duration")
	if !ok {
		t.Fatal("jobdispatch.job.duration not recorded")
	}
	if duration.Unit != "s" {
		t.Errorf("duration unit = %q, want s", duration.Unit)
	}
	hist, ok := duration.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration data = %T, want Histogram[float64]", duration.Data)
	}
	gotSamples := make(map[seriesKey]int64)
	for _, dp := range hist.DataPoints {
		gotSamples[seriesOf(dp.Attributes)] = int64(dp.Count)
	}

	for key, n := range want {
		if gotCounts[key] != n {
			t.Errorf("executions%v = %d, want %d", key, gotCounts[key], n)
		}
		if gotSamples[key] != n {
			t.Errorf("duration samples%v = %d, want %d", key, gotSamples[key], n)
		}
	}
	if len(gotCounts) != len(want) {
		t.Errorf("executions has %d series, want %d: %v", len(gotCounts), len(want), gotCounts)
	}
}

func TestMetrics_GlobalProviderIsPassThrough(t *testing.T) {
	t.Parallel()

	calls := 0
	err := mw.Metrics()(context.Background(), newTestJob(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}
