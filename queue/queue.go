package queue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines execution limits for one job type.
type Config struct {
	// JobType is the job type the limits apply to.
	JobType string

	// MaxConcurrency limits how many jobs of this type may run
	// simultaneously in the local worker pool. Zero means no type-specific
	// limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained job starts per second for this
	// type. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// typeState tracks runtime state for a single job type.
type typeState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-job-type and per-user rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	types map[string]*typeState
	users map[string]*userState
}

// NewManager creates a Manager with the given job type configurations.
// Job types not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		types: make(map[string]*typeState, len(configs)),
		users: make(map[string]*userState),
	}
	for _, cfg := range configs {
		m.types[cfg.JobType] = newTypeState(cfg)
	}
	return m
}

func newTypeState(cfg Config) *typeState {
	ts := &typeState{config: cfg}
	ts.limiter = newLimiter(cfg.RateLimit, cfg.RateBurst)
	return ts
}

func newLimiter(limit float64, burst int) *rate.Limiter {
	if limit <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(limit), burst)
}

// Acquire checks rate limits and concurrency for the given job type and
// submitting user. If the job is allowed to proceed it increments the
// active counters and returns true. The caller MUST call Release when the
// job finishes.
func (m *Manager) Acquire(jobType, user string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.types[jobType]
	if ts != nil {
		if ts.config.MaxConcurrency > 0 && ts.active >= ts.config.MaxConcurrency {
			return false
		}
	}

	var us *userState
	if user != "" {
		us = m.users[userKey(jobType, user)]
		if us != nil && us.maxConcurrency > 0 && us.active >= us.maxConcurrency {
			return false
		}
	}

	// Tokens are only spent once the concurrency gates have passed.
	if ts != nil && ts.limiter != nil && !ts.limiter.Allow() {
		return false
	}
	if us != nil && us.limiter != nil && !us.limiter.Allow() {
		return false
	}

	if ts != nil {
		ts.active++
	}
	if us != nil {
		us.active++
	}
	return true
}

// Wait blocks until Acquire succeeds, retrying every interval. It returns
// ctx.Err() if the context ends first.
func (m *Manager) Wait(ctx context.Context, jobType, user string, interval time.Duration) error {
	if m.Acquire(jobType, user) {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if m.Acquire(jobType, user) {
				return nil
			}
		}
	}
}

// Release decrements the active job count for the job type and user.
func (m *Manager) Release(jobType, user string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts := m.types[jobType]; ts != nil && ts.active > 0 {
		ts.active--
	}

	if user != "" {
		if us := m.users[userKey(jobType, user)]; us != nil && us.active > 0 {
			us.active--
		}
	}
}

// SetConfig dynamically updates (or creates) a job type configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.types[cfg.JobType]
	ts := newTypeState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ts.active = existing.active
	}
	m.types[cfg.JobType] = ts
}

// ActiveCount returns the current number of active jobs of a type.
func (m *Manager) ActiveCount(jobType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.types[jobType]; ts != nil {
		return ts.active
	}
	return 0
}
