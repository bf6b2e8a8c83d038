package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/jobdispatch"
	"github.com/xraph/jobdispatch/backoff"
	"github.com/xraph/jobdispatch/ext"
	"github.com/xraph/jobdispatch/id"
	"github.com/xraph/jobdispatch/job"
	"github.com/xraph/jobdispatch/middleware"
	"github.com/xraph/jobdispatch/queue"
	"github.com/xraph/jobdispatch/store/memory"
	"github.com/xraph/jobdispatch/worker"
)

// storeDispatcher implements worker.Dispatcher directly on a memory store.
type storeDispatcher struct {
	store *memory.Store

	mu       sync.Mutex
	claimErr error

	claims  atomic.Int32
	offPeak atomic.Bool
}

func (d *storeDispatcher) setClaimErr(err error) {
	d.mu.Lock()
	d.claimErr = err
	d.mu.Unlock()
}

func (d *storeDispatcher) ClaimNext(ctx context.Context, workerID string, isOffPeak bool) (*job.Job, error) {
	d.claims.Add(1)
	if isOffPeak {
		d.offPeak.Store(true)
	}
	d.mu.Lock()
	err := d.claimErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return d.store.ClaimNext(ctx, job.ClaimRequest{WorkerID: workerID, OffPeak: isOffPeak, Now: time.Now().UTC()})
}

func (d *storeDispatcher) apply(ctx context.Context, jobID id.JobID, c job.Change) (*job.Job, error) {
	return d.store.MutateJob(ctx, jobID, func(j *job.Job) (*job.Transition, error) {
		if c.TriggeredBy == "" {
			c.TriggeredBy = j.WorkerID
		}
		return j.Apply(c, time.Now().UTC())
	})
}

func (d *storeDispatcher) MarkStarted(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return d.apply(ctx, jobID, job.Change{To: job.StatusRunning})
}

func (d *storeDispatcher) UpdateProgress(ctx context.Context, jobID id.JobID, percent int, message string) (*job.Job, error) {
	return d.store.MutateJob(ctx, jobID, func(j *job.Job) (*job.Transition, error) {
		return nil, j.SetProgress(percent, message, time.Now().UTC())
	})
}

func (d *storeDispatcher) Complete(ctx context.Context, jobID id.JobID, result json.RawMessage) (*job.Job, error) {
	return d.apply(ctx, jobID, job.Change{To: job.StatusCompleted, Result: result})
}

func (d *storeDispatcher) Fail(ctx context.Context, jobID id.JobID, message string, details json.RawMessage) (*job.Job, error) {
	return d.apply(ctx, jobID, job.Change{To: job.StatusFailed, ErrorMessage: message, ErrorDetails: details})
}

func (d *storeDispatcher) FindByID(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return d.store.GetJob(ctx, jobID)
}

// trackingExt counts shutdown hook calls.
type trackingExt struct {
	shutdowns atomic.Int32
}

func (e *trackingExt) Name() string { return "tracking" }

func (e *trackingExt) OnShutdown(context.Context) error {
	e.shutdowns.Add(1)
	return nil
}

func setupTestPool(t *testing.T, opts ...worker.PoolOption) (
	*worker.Pool, *storeDispatcher, *job.Registry, *trackingExt,
) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := &storeDispatcher{store: memory.New()}
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)
	tracker := &trackingExt{}
	extensions.Register(tracker)

	executor := worker.NewExecutor(reg, logger, middleware.Recover(logger))

	base := []worker.PoolOption{
		worker.WithPoolConcurrency(2),
		worker.WithPollInterval(10 * time.Millisecond),
		worker.WithCancelCheckInterval(10 * time.Millisecond),
		worker.WithBackoff(backoff.NewConstant(10 * time.Millisecond)),
		worker.WithWorkerID("wkr-test"),
	}
	pool := worker.NewPool(d, executor, extensions, logger, append(base, opts...)...)
	return pool, d, reg, tracker
}

func submit(t *testing.T, d *storeDispatcher, jobType string, opts ...job.SubmitOption) *job.Job {
	t.Helper()
	j, err := job.New(jobType, json.RawMessage(`{"n":1}`), time.Now().UTC(), opts...)
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	if err := d.store.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func waitForStatus(t *testing.T, d *storeDispatcher, jobID id.JobID, want job.Status) *job.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		j, err := d.FindByID(context.Background(), jobID)
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if j.Status == want {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	j, _ := d.FindByID(context.Background(), jobID)
	t.Fatalf("job status = %s, want %s", j.Status, want)
	return nil
}

func TestPool_StartStop(t *testing.T) {
	t.Parallel()

	pool, _, _, tracker := setupTestPool(t)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	// Double stop should be no-op.
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}

	if n := tracker.shutdowns.Load(); n != 1 {
		t.Errorf("shutdown hook calls = %d, want 1", n)
	}
}

func TestPool_ProcessesJob(t *testing.T) {
	t.Parallel()

	pool, d, reg, _ := setupTestPool(t)

	reg.Register("render", func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		if err := worker.ReportProgress(ctx, 30, "drawing"); err != nil {
			return nil, err
		}
		return json.RawMessage(`{"echo":` + string(params) + `}`), nil
	})
	j := submit(t, d, "render")

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = pool.Stop(context.Background()) }()

	done := waitForStatus(t, d, j.ID, job.StatusCompleted)
	if string(done.Result) != `{"echo":{"n":1}}` {
		t.Errorf("Result = %s", done.Result)
	}
	if done.ProgressPercent != 100 {
		t.Errorf("ProgressPercent = %d, want 100", done.ProgressPercent)
	}

	history, _ := d.store.ListTransitions(context.Background(), j.ID)
	if len(history) != 3 || history[0].TriggeredBy != "wkr-test" {
		t.Errorf("history = %+v", history)
	}
}

type detailedErr struct{}

func (detailedErr) Error() string            { return "render failed" }
func (detailedErr) Details() json.RawMessage { return json.RawMessage(`{"frame":7}`) }

func TestPool_FailedJob(t *testing.T) {
	t.Parallel()

	pool, d, reg, _ := setupTestPool(t)

	reg.Register("render", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, detailedErr{}
	})
	reg.Register("crash", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		panic("kaboom")
	})
	failing := submit(t, d, "render")
	crashing := submit(t, d, "crash")
	unknown := submit(t, d, "nobody-handles-this")

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = pool.Stop(context.Background()) }()

	tests := []struct {
		name        string
		jobID       id.JobID
		wantMessage string
		wantDetails string
	}{
		{name: "handler error", jobID: failing.ID, wantMessage: "render failed", wantDetails: `{"frame":7}`},
		{name: "panic", jobID: crashing.ID, wantMessage: "panic in job crash: kaboom"},
		{name: "no handler", jobID: unknown.ID, wantMessage: `no handler registered for job type "nobody-handles-this"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := waitForStatus(t, d, tt.jobID, job.StatusFailed)
			if got.ErrorMessage != tt.wantMessage {
				t.Errorf("ErrorMessage = %q, want %q", got.ErrorMessage, tt.wantMessage)
			}
			if string(got.ErrorDetails) != tt.wantDetails {
				t.Errorf("ErrorDetails = %s, want %s", got.ErrorDetails, tt.wantDetails)
			}
		})
	}
}

func TestPool_OffPeakWindow(t *testing.T) {
	t.Parallel()

	allDay := jobdispatch.OffPeakWindow{StartHour: 0, EndHour: 24}
	pool, d, reg, _ := setupTestPool(t, worker.WithOffPeakWindow(allDay))

	reg.Register("batch", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	j := submit(t, d, "batch", job.WithOffPeakOnly())

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = pool.Stop(context.Background()) }()

	waitForStatus(t, d, j.ID, job.StatusCompleted)
	if !d.offPeak.Load() {
		t.Error("pool never declared off-peak")
	}
}

func TestPool_ClaimErrorsBackOff(t *testing.T) {
	t.Parallel()

	pool, d, reg, _ := setupTestPool(t,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(time.Millisecond),
		worker.WithBackoff(backoff.NewConstant(100*time.Millisecond)),
	)
	reg.Register("render", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	d.setClaimErr(errors.New("database unavailable"))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = pool.Stop(context.Background()) }()

	time.Sleep(250 * time.Millisecond)
	if n := d.claims.Load(); n > 5 {
		t.Errorf("claims during errors = %d, want backoff to keep it small", n)
	}

	d.setClaimErr(nil)
	j := submit(t, d, "render")
	waitForStatus(t, d, j.ID, job.StatusCompleted)
}

func TestPool_WakeupShortCircuitsPoll(t *testing.T) {
	t.Parallel()

	wake := make(chan struct{}, 1)
	pool, d, reg, _ := setupTestPool(t,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(time.Hour),
		worker.WithWakeup(wake),
	)
	reg.Register("render", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = pool.Stop(context.Background()) }()

	// Let the loop find the queue empty and go to sleep.
	deadline := time.Now().Add(time.Second)
	for d.claims.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	j := submit(t, d, "render")
	wake <- struct{}{}
	waitForStatus(t, d, j.ID, job.StatusCompleted)
}

func TestPool_QueueManagerLimitsConcurrency(t *testing.T) {
	t.Parallel()

	qm := queue.NewManager(queue.Config{JobType: "render", MaxConcurrency: 1})
	pool, d, reg, _ := setupTestPool(t,
		worker.WithPoolConcurrency(4),
		worker.WithQueueManager(qm),
	)

	var running, maxRunning atomic.Int32
	reg.Register("render", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	})

	var jobs []*job.Job
	for range 4 {
		jobs = append(jobs, submit(t, d, "render"))
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = pool.Stop(context.Background()) }()

	for _, j := range jobs {
		waitForStatus(t, d, j.ID, job.StatusCompleted)
	}
	if m := maxRunning.Load(); m != 1 {
		t.Errorf("max concurrent handlers = %d, want 1", m)
	}
	if n := qm.ActiveCount("render"); n != 0 {
		t.Errorf("ActiveCount after drain = %d, want 0", n)
	}
}

func TestPool_CancelWatcherCancelsHandler(t *testing.T) {
	t.Parallel()

	pool, d, reg, _ := setupTestPool(t)

	started := make(chan struct{})
	reg.Register("render", func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	j := submit(t, d, "render")

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = pool.Stop(context.Background()) }()

	<-started
	if _, err := d.apply(context.Background(), j.ID, job.Change{To: job.StatusCancelled, TriggeredBy: "admin"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// The handler returns once its context is cancelled; the job keeps its
	// administrative outcome.
	time.Sleep(100 * time.Millisecond)
	got, _ := d.FindByID(context.Background(), j.ID)
	if got.Status != job.StatusCancelled {
		t.Errorf("Status = %s, want cancelled", got.Status)
	}
}

func TestPool_GracefulShutdown(t *testing.T) {
	t.Parallel()

	pool, d, reg, _ := setupTestPool(t)

	started := make(chan struct{})
	reg.Register("render", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return json.RawMessage(`true`), nil
	})
	j := submit(t, d, "render")

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got, _ := d.FindByID(context.Background(), j.ID)
	if got.Status != job.StatusCompleted {
		t.Errorf("Status after graceful stop = %s, want completed", got.Status)
	}
}

func TestPool_ForcedShutdownFailsJob(t *testing.T) {
	t.Parallel()

	pool, d, reg, _ := setupTestPool(t)

	started := make(chan struct{})
	reg.Register("render", func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	j := submit(t, d, "render")

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got, _ := d.FindByID(context.Background(), j.ID)
	if got.Status != job.StatusFailed {
		t.Fatalf("Status after forced stop = %s, want failed", got.Status)
	}
	if got.ErrorMessage != "worker shut down before the job finished" {
		t.Errorf("ErrorMessage = %q", got.ErrorMessage)
	}
}

func TestReportProgress_OutsideWorker(t *testing.T) {
	t.Parallel()

	err := worker.ReportProgress(context.Background(), 10, "x")
	if !errors.Is(err, worker.ErrNoProgressReporter) {
		t.Fatalf("ReportProgress error = %v, want ErrNoProgressReporter", err)
	}
}
