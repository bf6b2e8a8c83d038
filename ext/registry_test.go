package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/jobdispatch/ext"
	"github.com/xraph/jobdispatch/job"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnJobSubmitted(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobSubmitted")
	return nil
}

func (e *allHooksExt) OnJobClaimed(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobClaimed")
	return nil
}

func (e *allHooksExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobStarted")
	return nil
}

func (e *allHooksExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

func (e *allHooksExt) OnJobFailed(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobFailed")
	return nil
}

func (e *allHooksExt) OnJobCancelled(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobCancelled")
	return nil
}

func (e *allHooksExt) OnJobRetried(_ context.Context, _, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobRetried")
	return nil
}

func (e *allHooksExt) OnJobTransitioned(_ context.Context, _ *job.Job, _ *job.Transition) error {
	e.calls = append(e.calls, "OnJobTransitioned")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// submitOnlyExt only implements the submission hook.
type submitOnlyExt struct {
	calls []string
}

func (e *submitOnlyExt) Name() string { return "submit-only" }

func (e *submitOnlyExt) OnJobSubmitted(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobSubmitted")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobSubmitted(_ context.Context, _ *job.Job) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_Register(t *testing.T) {
	t.Parallel()
	r := ext.NewRegistry(slog.Default())
	r.Register(&allHooksExt{})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	t.Parallel()
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	so := &submitOnlyExt{}
	r.Register(all)
	r.Register(so)

	ctx := context.Background()
	j := &job.Job{JobType: "render"}

	r.EmitJobSubmitted(ctx, j)
	if len(all.calls) != 1 || len(so.calls) != 1 {
		t.Fatalf("submitted: all=%v submit-only=%v", all.calls, so.calls)
	}

	r.EmitJobStarted(ctx, j)
	if len(all.calls) != 2 || all.calls[1] != "OnJobStarted" {
		t.Fatalf("all: expected OnJobStarted as 2nd, got %v", all.calls)
	}
	if len(so.calls) != 1 {
		t.Fatalf("submit-only: should still have 1 call, got %v", so.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	t.Parallel()
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	j := &job.Job{JobType: "render"}

	r.EmitJobSubmitted(ctx, j)
	r.EmitJobClaimed(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j)
	r.EmitJobCancelled(ctx, j)
	r.EmitJobRetried(ctx, j, &job.Job{})
	r.EmitJobTransitioned(ctx, j, &job.Transition{})
	r.EmitShutdown(ctx)

	expected := []string{
		"OnJobSubmitted", "OnJobClaimed", "OnJobStarted", "OnJobCompleted",
		"OnJobFailed", "OnJobCancelled", "OnJobRetried", "OnJobTransitioned",
		"OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	t.Parallel()
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}

	r.Register(&failingExt{})
	r.Register(all)

	ctx := context.Background()
	r.EmitJobSubmitted(ctx, &job.Job{})
	r.EmitShutdown(ctx)

	if len(all.calls) != 2 {
		t.Fatalf("all: expected 2 calls despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(t *testing.T) {
	t.Parallel()
	r := ext.NewRegistry(nil)
	ctx := context.Background()

	r.EmitJobSubmitted(ctx, &job.Job{})
	r.EmitJobClaimed(ctx, &job.Job{})
	r.EmitJobStarted(ctx, &job.Job{})
	r.EmitJobCompleted(ctx, &job.Job{}, time.Second)
	r.EmitJobFailed(ctx, &job.Job{})
	r.EmitJobCancelled(ctx, &job.Job{})
	r.EmitJobRetried(ctx, &job.Job{}, &job.Job{})
	r.EmitJobTransitioned(ctx, &job.Job{}, &job.Transition{})
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	t.Parallel()
	r := ext.NewRegistry(slog.Default())

	var order []string
	r.Register(orderExt{name: "first", order: &order})
	r.Register(orderExt{name: "second", order: &order})

	r.EmitJobSubmitted(context.Background(), &job.Job{})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("order = %v, want [first second]", order)
	}
}

type orderExt struct {
	name  string
	order *[]string
}

func (e orderExt) Name() string { return e.name }

func (e orderExt) OnJobSubmitted(_ context.Context, _ *job.Job) error {
	*e.order = append(*e.order, e.name)
	return nil
}
