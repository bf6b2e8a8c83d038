// Package queue throttles job execution per job type and per submitting
// user.
//
// Claim order is decided by the store (priority, then submission time).
// The [Manager] is consulted after a claim and before the handler runs, so
// a throttled job stays Dispatched to its worker until a slot frees up.
//
//	queue.Config{
//	    JobType:        "render_report",
//	    MaxConcurrency: 2,   // at most two renders at once
//	    RateLimit:      0.5, // one start every two seconds
//	}
//
// Limits use a token-bucket rate limiter (golang.org/x/time/rate) and an
// active-count gate for concurrency. Job types without a [Config] have no
// limits beyond the pool-wide concurrency.
package queue
