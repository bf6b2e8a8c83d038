package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/jobdispatch"
	"github.com/xraph/jobdispatch/backoff"
	"github.com/xraph/jobdispatch/ext"
	"github.com/xraph/jobdispatch/id"
	"github.com/xraph/jobdispatch/job"
)

// Dispatcher is the set of job operations the pool drives. *engine.Engine
// implements it.
type Dispatcher interface {
	ClaimNext(ctx context.Context, workerID string, isOffPeak bool) (*job.Job, error)
	MarkStarted(ctx context.Context, jobID id.JobID) (*job.Job, error)
	UpdateProgress(ctx context.Context, jobID id.JobID, percent int, message string) (*job.Job, error)
	Complete(ctx context.Context, jobID id.JobID, result json.RawMessage) (*job.Job, error)
	Fail(ctx context.Context, jobID id.JobID, message string, details json.RawMessage) (*job.Job, error)
	FindByID(ctx context.Context, jobID id.JobID) (*job.Job, error)
}

// QueueManager throttles execution per job type and submitting user. The
// pool calls Wait after a claim and Release once the handler returns.
type QueueManager interface {
	Wait(ctx context.Context, jobType, user string, interval time.Duration) error
	Release(jobType, user string)
}

var (
	// errJobCancelled is the cancel cause set by the cancel watcher.
	errJobCancelled = errors.New("job cancelled")
	// errShutdown is the cancel cause set when a stop deadline expires.
	errShutdown = errors.New("worker shut down before the job finished")
)

type activeJob struct {
	id     id.JobID
	cancel context.CancelCauseFunc
}

// Pool manages a set of concurrent claim loops that take jobs from the
// dispatcher and execute them through the Executor.
type Pool struct {
	dispatcher          Dispatcher
	executor            *Executor
	extensions          *ext.Registry
	concurrency         int
	pollInterval        time.Duration
	cancelCheckInterval time.Duration
	offPeak             jobdispatch.OffPeakWindow
	backoff             backoff.Strategy
	queueManager        QueueManager
	wakeup              <-chan struct{}
	workerID            string
	clock               func() time.Time
	logger              *slog.Logger

	stopCtx    context.Context
	stopFn     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]activeJob
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent claim loops.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how long an idle loop sleeps between claims.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithCancelCheckInterval sets how often active jobs are re-read to notice
// cancellation. A zero value disables the watcher.
func WithCancelCheckInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.cancelCheckInterval = d }
}

// WithOffPeakWindow sets the window in which the pool declares off-peak
// when claiming.
func WithOffPeakWindow(w jobdispatch.OffPeakWindow) PoolOption {
	return func(p *Pool) { p.offPeak = w }
}

// WithBackoff sets the delay strategy applied after consecutive claim errors.
func WithBackoff(b backoff.Strategy) PoolOption {
	return func(p *Pool) { p.backoff = b }
}

// WithQueueManager sets the per-job-type throttle.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// WithWakeup sets a channel that interrupts idle sleeps, for example when
// a submission notification arrives.
func WithWakeup(ch <-chan struct{}) PoolOption {
	return func(p *Pool) { p.wakeup = ch }
}

// WithWorkerID overrides the generated worker identifier.
func WithWorkerID(workerID string) PoolOption {
	return func(p *Pool) { p.workerID = workerID }
}

// WithClock sets the time source used for off-peak decisions.
func WithClock(clock func() time.Time) PoolOption {
	return func(p *Pool) { p.clock = clock }
}

// NewPool creates a worker pool.
func NewPool(
	dispatcher Dispatcher,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	cfg := jobdispatch.DefaultConfig()
	p := &Pool{
		dispatcher:          dispatcher,
		executor:            executor,
		extensions:          extensions,
		concurrency:         cfg.Concurrency,
		pollInterval:        cfg.PollInterval,
		cancelCheckInterval: cfg.CancelCheckInterval,
		offPeak:             cfg.OffPeak,
		backoff:             backoff.DefaultStrategy(),
		workerID:            id.NewWorkerName(),
		clock:               func() time.Time { return time.Now().UTC() },
		logger:              logger,
		activeJobs:          make(map[string]activeJob),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	return p
}

// WorkerID returns the identifier recorded on jobs this pool claims.
func (p *Pool) WorkerID() string { return p.workerID }

// Start launches the claim loops and the cancel watcher. It returns
// immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCtx, p.stopFn = context.WithCancel(context.Background())

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID),
		slog.Int("concurrency", p.concurrency),
		slog.Duration("poll_interval", p.pollInterval),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	if p.cancelCheckInterval > 0 {
		p.wg.Add(1)
		go p.cancelWatcher()
	}

	return nil
}

// Stop signals all loops to stop and waits for in-flight handlers. If ctx
// ends first, active handlers are cancelled and their jobs recorded as
// failed.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID))
	p.stopFn()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs(errShutdown)
		<-done
	}

	p.extensions.EmitShutdown(ctx)
	return nil
}

// claimLoop is run by each loop goroutine.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	consecutiveErrs := 0
	for {
		if p.stopCtx.Err() != nil {
			return
		}

		isOffPeak := p.offPeak.Contains(p.clock())
		j, err := p.dispatcher.ClaimNext(p.stopCtx, p.workerID, isOffPeak)
		if err != nil {
			if p.stopCtx.Err() != nil {
				return
			}
			consecutiveErrs++
			delay := max(p.backoff.Delay(consecutiveErrs), p.pollInterval)
			p.logger.Error("claim error",
				slog.String("worker_id", p.workerID),
				slog.Int("consecutive_errors", consecutiveErrs),
				slog.Duration("retry_in", delay),
				slog.String("error", err.Error()),
			)
			p.sleep(delay, false)
			continue
		}
		consecutiveErrs = 0

		if j == nil {
			p.sleep(p.pollInterval, true)
			continue
		}

		p.run(j)
	}
}

// run drives one claimed job to a terminal state.
func (p *Pool) run(j *job.Job) {
	// Outcome writes use a fresh context so that a stopping pool still
	// records what its handlers did.
	bg := context.Background()

	jobCtx, cancel := context.WithCancelCause(bg)
	defer cancel(nil)
	p.trackJob(j.ID, cancel)
	defer p.untrackJob(j.ID)

	if p.queueManager != nil {
		if err := p.waitForSlot(jobCtx, j); err != nil {
			if errors.Is(context.Cause(jobCtx), errJobCancelled) {
				return
			}
			p.fail(bg, j, "worker stopped before the job started", nil)
			return
		}
		defer p.queueManager.Release(j.JobType, j.SubmittedBy)
	}

	started, err := p.dispatcher.MarkStarted(bg, j.ID)
	if err != nil {
		p.logger.Warn("could not start claimed job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	jobCtx = withProgress(jobCtx, func(ctx context.Context, percent int, message string) error {
		_, err := p.dispatcher.UpdateProgress(ctx, j.ID, percent, message)
		return err
	})

	result, execErr := p.executor.Execute(jobCtx, started)

	cause := context.Cause(jobCtx)
	switch {
	case errors.Is(cause, errJobCancelled):
		p.logger.Info("job cancelled during execution",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.JobType),
		)
	case execErr != nil && errors.Is(cause, errShutdown):
		p.fail(bg, j, errShutdown.Error(), nil)
	case execErr != nil:
		p.fail(bg, j, execErr.Error(), errorDetails(execErr))
	default:
		if _, err := p.dispatcher.Complete(bg, j.ID, result); err != nil {
			p.logOutcomeError("complete", j, err)
		}
	}
}

// waitForSlot blocks on the queue manager until the job may start, the job
// is cancelled or the pool stops.
func (p *Pool) waitForSlot(jobCtx context.Context, j *job.Job) error {
	waitCtx, cancelWait := context.WithCancel(jobCtx)
	defer cancelWait()
	stopWatch := context.AfterFunc(p.stopCtx, cancelWait)
	defer stopWatch()

	return p.queueManager.Wait(waitCtx, j.JobType, j.SubmittedBy, p.pollInterval)
}

func (p *Pool) fail(ctx context.Context, j *job.Job, message string, details json.RawMessage) {
	if _, err := p.dispatcher.Fail(ctx, j.ID, message, details); err != nil {
		p.logOutcomeError("fail", j, err)
	}
}

// logOutcomeError logs a rejected outcome. An invalid transition means
// someone else already finished the job, typically an administrator.
func (p *Pool) logOutcomeError(op string, j *job.Job, err error) {
	level := slog.LevelError
	if errors.Is(err, jobdispatch.ErrInvalidTransition) {
		level = slog.LevelInfo
	}
	p.logger.Log(context.Background(), level, "could not record job outcome",
		slog.String("op", op),
		slog.String("job_id", j.ID.String()),
		slog.String("error", err.Error()),
	)
}

// cancelWatcher periodically re-reads active jobs and cancels the handlers
// of jobs that were cancelled in the store.
func (p *Pool) cancelWatcher() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cancelCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCtx.Done():
			return
		case <-ticker.C:
			p.checkCancelled()
		}
	}
}

func (p *Pool) checkCancelled() {
	p.activeMu.Lock()
	active := make([]activeJob, 0, len(p.activeJobs))
	for _, a := range p.activeJobs {
		active = append(active, a)
	}
	p.activeMu.Unlock()

	for _, a := range active {
		j, err := p.dispatcher.FindByID(context.Background(), a.id)
		if err != nil {
			p.logger.Warn("cancel check failed",
				slog.String("job_id", a.id.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if j.Status == job.StatusCancelled {
			a.cancel(errJobCancelled)
		}
	}
}

// sleep waits for d, returning early on stop or, when wakeable, on a
// wake-up signal.
func (p *Pool) sleep(d time.Duration, wakeable bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var wake <-chan struct{}
	if wakeable {
		wake = p.wakeup
	}

	select {
	case <-timer.C:
	case <-wake:
	case <-p.stopCtx.Done():
	}
}

func (p *Pool) trackJob(jobID id.JobID, cancel context.CancelCauseFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID.String()] = activeJob{id: jobID, cancel: cancel}
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID id.JobID) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID.String())
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs(cause error) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, a := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		a.cancel(cause)
	}
}
