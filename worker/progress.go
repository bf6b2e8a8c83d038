package worker

import (
	"context"
	"errors"
)

// ErrNoProgressReporter is returned by ReportProgress when ctx was not
// created by a Pool.
var ErrNoProgressReporter = errors.New("worker: no progress reporter in context")

type progressKey struct{}

type progressFunc func(ctx context.Context, percent int, message string) error

func withProgress(ctx context.Context, fn progressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress records progress for the job whose handler received ctx.
// Percent must be within 0..100 and the job must still be running.
func ReportProgress(ctx context.Context, percent int, message string) error {
	fn, ok := ctx.Value(progressKey{}).(progressFunc)
	if !ok {
		return ErrNoProgressReporter
	}
	return fn(ctx, percent, message)
}
