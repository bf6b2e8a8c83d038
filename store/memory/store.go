// Package memory provides an in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/jobdispatch"
	"github.com/xraph/jobdispatch/id"
	"github.com/xraph/jobdispatch/job"
)

// Ensure Store implements job.Store at compile time.
// We can't import store here (import cycle), so we verify the subsystem.
var _ job.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store. A single mutex
// serializes every mutation, which makes claims trivially exclusive.
type Store struct {
	mu sync.RWMutex

	jobs        map[string]*job.Job
	transitions map[string][]*job.Transition
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:        make(map[string]*job.Job),
		transitions: make(map[string][]*job.Transition),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return jobdispatch.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// ClaimNext hands the first claimable job to req.WorkerID.
func (m *Store) ClaimNext(_ context.Context, req job.ClaimRequest) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *job.Job
	for _, j := range m.jobs {
		if !j.Claimable(req.Now, req.OffPeak) {
			continue
		}
		if next == nil || job.DispatchBefore(j, next) {
			next = j
		}
	}
	if next == nil {
		return nil, nil //nolint:nilnil // nil job means nothing claimable
	}

	tr, err := next.Apply(job.Change{
		To:          job.StatusDispatched,
		WorkerID:    req.WorkerID,
		TriggeredBy: req.WorkerID,
		Reason:      "claimed",
	}, req.Now)
	if err != nil {
		return nil, err
	}
	m.appendTransition(tr)
	return next.Clone(), nil
}

// MutateJob applies fn to a working copy and commits it only on success.
func (m *Store) MutateJob(_ context.Context, jobID id.JobID, fn job.MutateFunc) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	cur, ok := m.jobs[key]
	if !ok {
		return nil, fmt.Errorf("jobdispatch/memory: mutate %s: %w", key, jobdispatch.ErrJobNotFound)
	}

	work := cur.Clone()
	tr, err := fn(work)
	if err != nil {
		return nil, err
	}
	m.jobs[key] = work
	if tr != nil {
		m.appendTransition(tr)
	}
	return work.Clone(), nil
}

func (m *Store) appendTransition(tr *job.Transition) {
	key := tr.JobID.String()
	cp := *tr
	m.transitions[key] = append(m.transitions[key], &cp)
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobdispatch.ErrJobNotFound
	}
	return j.Clone(), nil
}

// ListJobs returns jobs matching opts, newest first.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.Job
	for _, j := range m.jobs {
		if opts.SubmittedBy != "" && j.SubmittedBy != opts.SubmittedBy {
			continue
		}
		if opts.Status != 0 && j.Status != opts.Status {
			continue
		}
		result = append(result, j.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].SubmittedAt.Equal(result[k].SubmittedAt) {
			return result[i].SubmittedAt.After(result[k].SubmittedAt)
		}
		return result[i].ID.String() > result[k].ID.String()
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// ListQueue returns Pending and Scheduled jobs in dispatch order.
func (m *Store) ListQueue(_ context.Context) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.Job
	for _, j := range m.jobs {
		if j.Status.IsQueued() {
			result = append(result, j.Clone())
		}
	}
	sort.Slice(result, func(i, k int) bool { return job.DispatchBefore(result[i], result[k]) })
	return result, nil
}

// CountByStatus returns the number of jobs per status.
func (m *Store) CountByStatus(_ context.Context) (map[job.Status]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[job.Status]int64)
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

// AvgDurationSecs returns the mean actual duration of completed jobs.
func (m *Store) AvgDurationSecs(_ context.Context) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum float64
	var n int
	for _, j := range m.jobs {
		if j.Status == job.StatusCompleted && j.ActualDurationSecs != nil {
			sum += *j.ActualDurationSecs
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

// ListTransitions returns the audit rows for a job, oldest first.
func (m *Store) ListTransitions(_ context.Context, jobID id.JobID) ([]*job.Transition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.transitions[jobID.String()]
	result := make([]*job.Transition, len(rows))
	for i, tr := range rows {
		cp := *tr
		result[i] = &cp
	}
	return result, nil
}

func paginate(jobs []*job.Job, offset, limit int) []*job.Job {
	if offset > 0 {
		if offset >= len(jobs) {
			return nil
		}
		jobs = jobs[offset:]
	}
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}
