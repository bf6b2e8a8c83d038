package queue

import "golang.org/x/time/rate"

// UserConfig defines rate limits and concurrency for one submitting user
// on one job type, matched against the job's SubmittedBy.
type UserConfig struct {
	// JobType is the job type this config applies to.
	JobType string

	// User is the submitting user.
	User string

	// RateLimit is the sustained job starts per second for this user.
	RateLimit float64

	// RateBurst is the burst size for the user's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous jobs for this user on this job
	// type. Zero means no user-specific concurrency limit.
	MaxConcurrency int
}

// userState tracks runtime state for a single job type and user pair.
type userState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func userKey(jobType, user string) string {
	return jobType + "\x00" + user
}

// SetUserConfig configures limits for a specific user on a specific job
// type. Calling this again for the same pair replaces the configuration.
func (m *Manager) SetUserConfig(cfg UserConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := userKey(cfg.JobType, cfg.User)
	us := &userState{
		limiter:        newLimiter(cfg.RateLimit, cfg.RateBurst),
		maxConcurrency: cfg.MaxConcurrency,
	}
	if existing := m.users[key]; existing != nil {
		us.active = existing.active
	}
	m.users[key] = us
}

// UserActiveCount returns the current number of active jobs for a job type
// and user pair.
func (m *Manager) UserActiveCount(jobType, user string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if us := m.users[userKey(jobType, user)]; us != nil {
		return us.active
	}
	return 0
}
