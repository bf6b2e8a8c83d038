package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/jobdispatch"
	"github.com/xraph/jobdispatch/backoff"
	"github.com/xraph/jobdispatch/ext"
	"github.com/xraph/jobdispatch/id"
	"github.com/xraph/jobdispatch/job"
	mw "github.com/xraph/jobdispatch/middleware"
	"github.com/xraph/jobdispatch/observability"
	"github.com/xraph/jobdispatch/queue"
	"github.com/xraph/jobdispatch/worker"
)

// instrumentationName is the OTel scope used for engine-built tracers and
// meters.
const instrumentationName = "github.com/xraph/jobdispatch"

// Compile-time check that the engine can drive a worker pool.
var _ worker.Dispatcher = (*Engine)(nil)

// Engine is the job dispatcher. Use Build to create one.
type Engine struct {
	store      job.Store
	config     jobdispatch.Config
	extensions *ext.Registry
	registry   *job.Registry
	bo         backoff.Strategy
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger
	clock      func() time.Time
	wakeup     <-chan struct{}
	workerID   string

	// Extensions passed as options, registered once the logger is known.
	pendingExts []ext.Extension

	// Default submit options per job type, from typed definitions.
	defaultsMu sync.RWMutex
	defaults   map[string]job.SubmitOptions

	// Queue subsystem.
	queueConfigs []queue.Config
	userConfigs  []queue.UserConfig
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) {
		eng.logger = l
	}
}

// WithConfig sets the worker runtime configuration.
func WithConfig(cfg jobdispatch.Config) Option {
	return func(eng *Engine) {
		eng.config = cfg
	}
}

// WithClock sets the time source for every timestamp the engine writes.
func WithClock(clock func() time.Time) Option {
	return func(eng *Engine) {
		eng.clock = clock
	}
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.pendingExts = append(eng.pendingExts, e)
	}
}

// WithMiddleware adds middleware to the engine's chain. Custom middleware
// runs inside the built-in recover, tracing, metrics and logging layers.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the delay strategy the worker pool applies after
// consecutive claim errors.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithQueueConfig registers per-job-type rate limiting and concurrency
// configurations. Job types not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithUserQueueConfig registers per-user limits within a job type.
func WithUserQueueConfig(configs ...queue.UserConfig) Option {
	return func(eng *Engine) {
		eng.userConfigs = append(eng.userConfigs, configs...)
	}
}

// WithWakeup sets a channel that wakes idle worker loops early, typically
// fed by a submission notifier.
func WithWakeup(ch <-chan struct{}) Option {
	return func(eng *Engine) {
		eng.wakeup = ch
	}
}

// WithWorkerID fixes the worker identifier of the engine's pool. By default
// a fresh identifier is generated per engine.
func WithWorkerID(workerID string) Option {
	return func(eng *Engine) {
		eng.workerID = workerID
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine on top of store.
func Build(store job.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, jobdispatch.ErrNoStore
	}

	eng := &Engine{
		store:    store,
		config:   jobdispatch.DefaultConfig(),
		registry: job.NewRegistry(),
		logger:   slog.Default(),
		clock:    func() time.Time { return time.Now().UTC() },
		defaults: make(map[string]job.SubmitOptions),
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}
	if eng.logger == nil {
		eng.logger = slog.Default()
	}

	eng.extensions = ext.NewRegistry(eng.logger)

	// Register the observability metrics extension first so user
	// extensions observe the same event order.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)
	for _, e := range eng.pendingExts {
		eng.extensions.Register(e)
	}
	eng.pendingExts = nil

	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging.
	defaultMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.registry, eng.logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(eng.config.Concurrency),
		worker.WithPollInterval(eng.config.PollInterval),
		worker.WithCancelCheckInterval(eng.config.CancelCheckInterval),
		worker.WithOffPeakWindow(eng.config.OffPeak),
		worker.WithBackoff(eng.bo),
		worker.WithClock(eng.clock),
	}
	if eng.wakeup != nil {
		poolOpts = append(poolOpts, worker.WithWakeup(eng.wakeup))
	}
	if eng.workerID != "" {
		poolOpts = append(poolOpts, worker.WithWorkerID(eng.workerID))
	}

	if len(eng.queueConfigs) > 0 || len(eng.userConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		for _, uc := range eng.userConfigs {
			eng.queueManager.SetUserConfig(uc)
		}
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}

	eng.pool = worker.NewPool(eng, executor, eng.extensions, eng.logger, poolOpts...)

	return eng, nil
}

// ──────────────────────────────────────────────────
// Registration and submission
// ──────────────────────────────────────────────────

// Register registers a typed job definition with the engine. The
// definition's options become the defaults for submissions of its type.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)

	eng.defaultsMu.Lock()
	eng.defaults[def.JobType] = def.Opts
	eng.defaultsMu.Unlock()
}

// RegisterHandler registers a raw handler for jobType.
func (eng *Engine) RegisterHandler(jobType string, h job.HandlerFunc) {
	eng.registry.Register(jobType, h)
}

// SubmitTyped encodes params as JSON and submits a job.
func SubmitTyped[T any](ctx context.Context, eng *Engine, jobType string, params T, opts ...job.SubmitOption) (*job.Job, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, &jobdispatch.Error{
			Kind:   jobdispatch.KindValidation,
			Op:     "submit",
			Reason: fmt.Sprintf("marshal parameters for job type %q: %v", jobType, err),
			Err:    err,
		}
	}
	return eng.Submit(ctx, jobType, data, opts...)
}

// Submit creates a job. It starts Scheduled when a scheduled start is
// given and Pending otherwise.
func (eng *Engine) Submit(ctx context.Context, jobType string, params json.RawMessage, opts ...job.SubmitOption) (*job.Job, error) {
	eng.defaultsMu.RLock()
	o := eng.defaults[jobType]
	eng.defaultsMu.RUnlock()
	for _, opt := range opts {
		opt(&o)
	}
	return eng.submit(ctx, "submit", jobType, params, o)
}

func (eng *Engine) submit(ctx context.Context, op, jobType string, params json.RawMessage, o job.SubmitOptions) (*job.Job, error) {
	j, err := job.NewWithOptions(jobType, params, eng.clock(), o)
	if err != nil {
		return nil, eng.fail(ctx, op, id.JobID{}, err)
	}

	if err := eng.store.CreateJob(ctx, j); err != nil {
		return nil, eng.fail(ctx, op, j.ID, err)
	}

	eng.logger.Debug("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.JobType),
		slog.String("status", j.Status.String()),
		slog.Int("priority", j.Priority),
	)
	eng.extensions.EmitJobSubmitted(ctx, j)
	return j, nil
}

// ──────────────────────────────────────────────────
// Worker protocol
// ──────────────────────────────────────────────────

// ClaimNext hands the first eligible job in dispatch order to workerID and
// moves it to Dispatched. It returns nil, nil when nothing is claimable.
func (eng *Engine) ClaimNext(ctx context.Context, workerID string, isOffPeak bool) (*job.Job, error) {
	if workerID == "" {
		return nil, eng.fail(ctx, "claim", id.JobID{}, &jobdispatch.Error{
			Kind:   jobdispatch.KindValidation,
			Reason: "worker_id is required",
		})
	}

	j, err := eng.store.ClaimNext(ctx, job.ClaimRequest{
		WorkerID: workerID,
		OffPeak:  isOffPeak,
		Now:      eng.clock(),
	})
	if err != nil {
		return nil, eng.fail(ctx, "claim", id.JobID{}, err)
	}
	if j == nil {
		return nil, nil
	}

	eng.logger.Debug("job claimed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.JobType),
		slog.String("worker_id", workerID),
		slog.Bool("off_peak", isOffPeak),
	)
	if tr, err := eng.claimTransition(ctx, j.ID); err != nil {
		// The claim is committed; the worker still gets the job.
		eng.logger.Warn("claimed job audit row unavailable",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	} else {
		eng.extensions.EmitJobTransitioned(ctx, j, tr)
	}
	eng.extensions.EmitJobClaimed(ctx, j)
	return j, nil
}

// claimTransition reads back the audit row the store committed with the
// claim. A job is dispatched at most once, so there is exactly one.
func (eng *Engine) claimTransition(ctx context.Context, jobID id.JobID) (*job.Transition, error) {
	trs, err := eng.store.ListTransitions(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for i := len(trs) - 1; i >= 0; i-- {
		if trs[i].To == job.StatusDispatched {
			return trs[i], nil
		}
	}
	return nil, fmt.Errorf("no dispatched transition recorded for %s", jobID)
}

// MarkStarted moves a Dispatched job to Running.
func (eng *Engine) MarkStarted(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.apply(ctx, "start", jobID, func(j *job.Job) job.Change {
		return job.Change{To: job.StatusRunning, TriggeredBy: j.WorkerID, Reason: "started"}
	})
}

// UpdateProgress records progress on a running job. It does not change the
// status and writes no audit row.
func (eng *Engine) UpdateProgress(ctx context.Context, jobID id.JobID, percent int, message string) (*job.Job, error) {
	now := eng.clock()
	j, err := eng.store.MutateJob(ctx, jobID, func(j *job.Job) (*job.Transition, error) {
		return nil, j.SetProgress(percent, message, now)
	})
	if err != nil {
		return nil, eng.fail(ctx, "progress", jobID, err)
	}
	return j, nil
}

// Complete records a successful outcome.
func (eng *Engine) Complete(ctx context.Context, jobID id.JobID, result json.RawMessage) (*job.Job, error) {
	if len(result) > 0 && !json.Valid(result) {
		return nil, eng.fail(ctx, "complete", jobID, &jobdispatch.Error{
			Kind:   jobdispatch.KindValidation,
			Reason: "result must be valid JSON",
		})
	}
	return eng.apply(ctx, "complete", jobID, func(j *job.Job) job.Change {
		return job.Change{To: job.StatusCompleted, TriggeredBy: j.WorkerID, Reason: "completed", Result: result}
	})
}

// Fail records a failed outcome. The job is not retried automatically.
func (eng *Engine) Fail(ctx context.Context, jobID id.JobID, message string, details json.RawMessage) (*job.Job, error) {
	if len(details) > 0 && !json.Valid(details) {
		return nil, eng.fail(ctx, "fail", jobID, &jobdispatch.Error{
			Kind:   jobdispatch.KindValidation,
			Reason: "error details must be valid JSON",
		})
	}
	return eng.apply(ctx, "fail", jobID, func(j *job.Job) job.Change {
		return job.Change{
			To:           job.StatusFailed,
			TriggeredBy:  j.WorkerID,
			Reason:       "failed",
			ErrorMessage: message,
			ErrorDetails: details,
		}
	})
}

// ──────────────────────────────────────────────────
// Administrative operations
// ──────────────────────────────────────────────────

// Transition applies an arbitrary status change through the state machine.
func (eng *Engine) Transition(ctx context.Context, jobID id.JobID, to job.Status, triggeredBy, reason string) (*job.Job, error) {
	return eng.apply(ctx, "transition", jobID, func(*job.Job) job.Change {
		return job.Change{To: to, TriggeredBy: triggeredBy, Reason: reason}
	})
}

// errAlreadyTerminal aborts a cancel mutation without an error result.
var errAlreadyTerminal = errors.New("already terminal")

// Cancel cancels a job that has not finished. It returns false and no
// error when the job is already terminal.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID, by string) (bool, error) {
	now := eng.clock()
	var tr *job.Transition
	j, err := eng.store.MutateJob(ctx, jobID, func(j *job.Job) (*job.Transition, error) {
		if j.Status.IsTerminal() {
			return nil, errAlreadyTerminal
		}
		var err error
		tr, err = j.Apply(job.Change{To: job.StatusCancelled, TriggeredBy: by, Reason: "cancelled"}, now)
		return tr, err
	})
	if errors.Is(err, errAlreadyTerminal) {
		return false, nil
	}
	if err != nil {
		return false, eng.fail(ctx, "cancel", jobID, err)
	}
	eng.accepted(ctx, j, tr)
	return true, nil
}

// Retry submits a new Pending job cloned from a failed one. The original
// job is not modified.
func (eng *Engine) Retry(ctx context.Context, jobID id.JobID, requestedBy string) (*job.Job, error) {
	original, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eng.fail(ctx, "retry", jobID, err)
	}
	if original.Status != job.StatusFailed {
		return nil, eng.fail(ctx, "retry", jobID, &jobdispatch.Error{
			Kind:   jobdispatch.KindInvalidTransition,
			Reason: fmt.Sprintf("retry requires a failed job, job is %s", original.Status),
		})
	}

	o := job.SubmitOptions{
		Priority:    original.Priority,
		OffPeakOnly: original.IsOffPeakOnly,
		SubmittedBy: requestedBy,
		RetryOf:     original.ID,
	}
	if original.EstimatedDurationSecs != nil {
		secs := *original.EstimatedDurationSecs
		o.EstimatedDurationSecs = &secs
	}

	retry, err := eng.submit(ctx, "retry", original.JobType, original.Parameters, o)
	if err != nil {
		return nil, err
	}

	eng.logger.Info("job retried",
		slog.String("job_id", original.ID.String()),
		slog.String("retry_job_id", retry.ID.String()),
		slog.String("requested_by", requestedBy),
	)
	eng.extensions.EmitJobRetried(ctx, original, retry)
	return retry, nil
}

// UpdatePriority changes the priority of a job that has not finished.
func (eng *Engine) UpdatePriority(ctx context.Context, jobID id.JobID, priority int) (*job.Job, error) {
	now := eng.clock()
	j, err := eng.store.MutateJob(ctx, jobID, func(j *job.Job) (*job.Transition, error) {
		return nil, j.SetPriority(priority, now)
	})
	if err != nil {
		return nil, eng.fail(ctx, "priority", jobID, err)
	}
	return j, nil
}

// Pause pauses a running job, or holds a queued one so it is not claimed.
// Other statuses are rejected.
func (eng *Engine) Pause(ctx context.Context, jobID id.JobID, by string) (*job.Job, error) {
	return eng.pauseOrResume(ctx, "pause", jobID, by, job.StatusRunning, job.StatusPaused, (*job.Job).Hold)
}

// Resume resumes a paused job, or releases a held queued job.
func (eng *Engine) Resume(ctx context.Context, jobID id.JobID, by string) (*job.Job, error) {
	return eng.pauseOrResume(ctx, "resume", jobID, by, job.StatusPaused, job.StatusRunning, (*job.Job).Release)
}

func (eng *Engine) pauseOrResume(
	ctx context.Context,
	op string,
	jobID id.JobID,
	by string,
	from, to job.Status,
	flag func(*job.Job, time.Time) error,
) (*job.Job, error) {
	now := eng.clock()
	var tr *job.Transition
	j, err := eng.store.MutateJob(ctx, jobID, func(j *job.Job) (*job.Transition, error) {
		switch {
		case j.Status.IsQueued():
			return nil, flag(j, now)
		case j.Status == from:
			var err error
			tr, err = j.Apply(job.Change{To: to, TriggeredBy: by, Reason: op + "d"}, now)
			return tr, err
		default:
			return nil, &jobdispatch.Error{
				Kind:   jobdispatch.KindInvalidTransition,
				Reason: fmt.Sprintf("cannot %s a %s job", op, j.Status),
			}
		}
	})
	if err != nil {
		return nil, eng.fail(ctx, op, jobID, err)
	}
	if tr != nil {
		eng.accepted(ctx, j, tr)
	} else {
		eng.logger.Debug("job hold changed",
			slog.String("job_id", j.ID.String()),
			slog.Bool("is_paused", j.IsPaused),
			slog.String("by", by),
		)
	}
	return j, nil
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// FindByID returns a job by ID.
func (eng *Engine) FindByID(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eng.fail(ctx, "find", jobID, err)
	}
	return j, nil
}

// ListByUser returns the jobs submitted by user, newest first. A zero
// status matches every status.
func (eng *Engine) ListByUser(ctx context.Context, user string, status job.Status, limit, offset int) ([]*job.Job, error) {
	if user == "" {
		return nil, eng.fail(ctx, "list", id.JobID{}, &jobdispatch.Error{
			Kind:   jobdispatch.KindValidation,
			Reason: "user is required",
		})
	}
	return eng.list(ctx, job.ListOpts{SubmittedBy: user, Status: status, Limit: limit, Offset: offset})
}

// ListAll returns every job, newest first. A zero status matches every
// status.
func (eng *Engine) ListAll(ctx context.Context, status job.Status, limit, offset int) ([]*job.Job, error) {
	return eng.list(ctx, job.ListOpts{Status: status, Limit: limit, Offset: offset})
}

func (eng *Engine) list(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, eng.fail(ctx, "list", id.JobID{}, &jobdispatch.Error{
			Kind:   jobdispatch.KindValidation,
			Reason: "limit and offset must not be negative",
		})
	}
	if opts.Status != 0 && !opts.Status.Valid() {
		return nil, eng.fail(ctx, "list", id.JobID{}, &jobdispatch.Error{
			Kind:   jobdispatch.KindValidation,
			Reason: fmt.Sprintf("unknown status %s", opts.Status),
		})
	}
	jobs, err := eng.store.ListJobs(ctx, opts)
	if err != nil {
		return nil, eng.fail(ctx, "list", id.JobID{}, err)
	}
	return jobs, nil
}

// ListQueue returns the Pending and Scheduled jobs in dispatch order with
// QueuePosition set to 1..n.
func (eng *Engine) ListQueue(ctx context.Context) ([]*job.Job, error) {
	jobs, err := eng.store.ListQueue(ctx)
	if err != nil {
		return nil, eng.fail(ctx, "queue", id.JobID{}, err)
	}
	for i, j := range jobs {
		j.QueuePosition = i + 1
	}
	return jobs, nil
}

// QueueCounts returns the number of jobs in every status. Statuses without
// jobs are present with a zero count.
func (eng *Engine) QueueCounts(ctx context.Context) (map[job.Status]int64, error) {
	counts, err := eng.store.CountByStatus(ctx)
	if err != nil {
		return nil, eng.fail(ctx, "counts", id.JobID{}, err)
	}
	out := make(map[job.Status]int64, len(job.Statuses()))
	for _, s := range job.Statuses() {
		out[s] = counts[s]
	}
	return out, nil
}

// AvgDurationSecs returns the mean runtime of completed jobs in seconds,
// or zero when none have completed.
func (eng *Engine) AvgDurationSecs(ctx context.Context) (float64, error) {
	avg, err := eng.store.AvgDurationSecs(ctx)
	if err != nil {
		return 0, eng.fail(ctx, "avg_duration", id.JobID{}, err)
	}
	return avg, nil
}

// History returns the audit trail of a job, oldest first.
func (eng *Engine) History(ctx context.Context, jobID id.JobID) ([]*job.Transition, error) {
	if _, err := eng.store.GetJob(ctx, jobID); err != nil {
		return nil, eng.fail(ctx, "history", jobID, err)
	}
	trs, err := eng.store.ListTransitions(ctx, jobID)
	if err != nil {
		return nil, eng.fail(ctx, "history", jobID, err)
	}
	return trs, nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start begins job processing by starting the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.pool.Start(ctx)
}

// Stop gracefully shuts down the worker pool, waiting at most the
// configured shutdown timeout for in-flight handlers.
func (eng *Engine) Stop(ctx context.Context) error {
	if eng.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.config.ShutdownTimeout)
		defer cancel()
	}
	return eng.pool.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the handler registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Store returns the job store.
func (eng *Engine) Store() job.Store { return eng.store }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// QueueManager returns the queue manager, or nil if no queue configs were
// provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// apply runs a single state machine change inside a store mutation.
func (eng *Engine) apply(ctx context.Context, op string, jobID id.JobID, change func(*job.Job) job.Change) (*job.Job, error) {
	now := eng.clock()
	var tr *job.Transition
	j, err := eng.store.MutateJob(ctx, jobID, func(j *job.Job) (*job.Transition, error) {
		var err error
		tr, err = j.Apply(change(j), now)
		return tr, err
	})
	if err != nil {
		return nil, eng.fail(ctx, op, jobID, err)
	}
	eng.accepted(ctx, j, tr)
	return j, nil
}

// accepted logs a committed transition and emits its lifecycle events.
func (eng *Engine) accepted(ctx context.Context, j *job.Job, tr *job.Transition) {
	eng.logger.Debug("job transition",
		slog.String("job_id", j.ID.String()),
		slog.String("from", tr.From.String()),
		slog.String("to", tr.To.String()),
		slog.String("triggered_by", tr.TriggeredBy),
		slog.String("reason", tr.Reason),
	)

	eng.extensions.EmitJobTransitioned(ctx, j, tr)

	switch tr.To {
	case job.StatusDispatched:
		eng.extensions.EmitJobClaimed(ctx, j)
	case job.StatusRunning:
		if tr.From == job.StatusDispatched {
			eng.extensions.EmitJobStarted(ctx, j)
		}
	case job.StatusCompleted:
		eng.extensions.EmitJobCompleted(ctx, j, runTime(j))
	case job.StatusFailed:
		eng.extensions.EmitJobFailed(ctx, j)
	case job.StatusCancelled:
		eng.extensions.EmitJobCancelled(ctx, j)
	}
}

// fail classifies err into a *jobdispatch.Error for op and logs it. Store
// failures log at Error, rejections at Info.
func (eng *Engine) fail(ctx context.Context, op string, jobID id.JobID, err error) error {
	out := classify(op, jobID, err)

	level := slog.LevelInfo
	if out.Kind == jobdispatch.KindStore {
		level = slog.LevelError
	}
	eng.logger.Log(ctx, level, "job operation rejected",
		slog.String("op", op),
		slog.String("job_id", out.JobID),
		slog.String("kind", out.Kind.String()),
		slog.String("error", out.Error()),
	)
	return out
}

func classify(op string, jobID id.JobID, err error) *jobdispatch.Error {
	var jobIDStr string
	if !jobID.IsNil() {
		jobIDStr = jobID.String()
	}

	var de *jobdispatch.Error
	if errors.As(err, &de) {
		cp := *de
		if cp.Op == "" {
			cp.Op = op
		}
		if cp.JobID == "" {
			cp.JobID = jobIDStr
		}
		return &cp
	}

	out := &jobdispatch.Error{
		Kind:  jobdispatch.KindOf(err),
		Op:    op,
		JobID: jobIDStr,
		Err:   err,
	}

	var te *job.TransitionError
	switch {
	case errors.As(err, &te):
		out.Kind = jobdispatch.KindInvalidTransition
		out.Reason = fmt.Sprintf("%s -> %s rejected: %s", te.From, te.To, te.Reason)
	case out.Kind == jobdispatch.KindNotFound:
		out.Reason = "job not found"
	}
	return out
}

// runTime is the handler run time, measured from StartedAt like
// ActualDurationSecs. A job that never started ran for zero.
func runTime(j *job.Job) time.Duration {
	if j.ActualDurationSecs != nil {
		return time.Duration(*j.ActualDurationSecs * float64(time.Second))
	}
	if j.StartedAt != nil && j.CompletedAt != nil {
		return j.CompletedAt.Sub(*j.StartedAt)
	}
	return 0
}
