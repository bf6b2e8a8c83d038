// Package store defines the aggregate persistence interface. The job
// subsystem defines the job and audit contract; the composite Store adds
// lifecycle methods. Backends: Postgres (pgx), Bun, SQLite and Memory.
package store

import (
	"context"

	"github.com/xraph/jobdispatch/job"
)

// Store is the aggregate persistence interface implemented by every backend.
type Store interface {
	job.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
