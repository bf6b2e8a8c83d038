package memory

import (
	"context"
	"testing"

	"github.com/xraph/jobdispatch/job"
	"github.com/xraph/jobdispatch/store"
	"github.com/xraph/jobdispatch/store/storetest"
)

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

func TestConformance(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}

func TestReturnedJobsAreCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	j := storetestJob(t)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	j.Priority = 42

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Priority == 42 {
		t.Error("store kept a reference to the caller's job")
	}
	got.Priority = 7

	again, _ := s.GetJob(ctx, j.ID)
	if again.Priority == 7 {
		t.Error("GetJob returned a shared pointer")
	}
}

func storetestJob(t *testing.T) *job.Job {
	t.Helper()
	j, err := job.New("render", nil, storetest.Base)
	if err != nil {
		t.Fatal(err)
	}
	return j
}
