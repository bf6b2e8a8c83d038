package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/jobdispatch/job"
)

// Logging returns middleware that logs handler start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("job handler started",
			slog.String("job_type", j.JobType),
			slog.String("job_id", j.ID.String()),
			slog.String("worker_id", j.WorkerID),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("job handler failed",
				slog.String("job_type", j.JobType),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job handler finished",
				slog.String("job_type", j.JobType),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
