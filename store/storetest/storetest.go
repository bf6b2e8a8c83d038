// Package storetest is the conformance suite shared by every store backend.
// Backends call [Run] from their own tests with a factory that returns an
// empty, migrated store.
package storetest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/jobdispatch"
	"github.com/xraph/jobdispatch/id"
	"github.com/xraph/jobdispatch/job"
	"github.com/xraph/jobdispatch/store"
)

// Factory returns an empty, migrated store for one subtest.
type Factory func(t *testing.T) store.Store

// Base is the fixed clock origin used by the suite. Whole seconds keep the
// values exact on backends with microsecond timestamps.
var Base = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// Run executes the conformance suite. Subtests run sequentially so that
// backends sharing one database can reset it in the factory.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateDuplicate", testCreateDuplicate},
		{"GetMissing", testGetMissing},
		{"ClaimEmpty", testClaimEmpty},
		{"ClaimOrdering", testClaimOrdering},
		{"ClaimSkipsHeld", testClaimSkipsHeld},
		{"ClaimOffPeak", testClaimOffPeak},
		{"ClaimScheduled", testClaimScheduled},
		{"ClaimWritesAudit", testClaimWritesAudit},
		{"ConcurrentClaimSingleJob", testConcurrentClaimSingleJob},
		{"ConcurrentClaimManyJobs", testConcurrentClaimManyJobs},
		{"MutateCommits", testMutateCommits},
		{"MutateErrorRollsBack", testMutateErrorRollsBack},
		{"MutateMissing", testMutateMissing},
		{"ListJobs", testListJobs},
		{"ListQueue", testListQueue},
		{"CountByStatus", testCountByStatus},
		{"AvgDurationSecs", testAvgDurationSecs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func at(secs int) time.Time { return Base.Add(time.Duration(secs) * time.Second) }

func create(t *testing.T, s store.Store, submitted time.Time, opts ...job.SubmitOption) *job.Job {
	t.Helper()
	j, err := job.New("render", json.RawMessage(`{"frames":[1,2,3]}`), submitted, opts...)
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func claim(t *testing.T, s store.Store, worker string, offPeak bool, now time.Time) *job.Job {
	t.Helper()
	j, err := s.ClaimNext(context.Background(), job.ClaimRequest{WorkerID: worker, OffPeak: offPeak, Now: now})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	return j
}

func change(c job.Change, now time.Time) job.MutateFunc {
	return func(j *job.Job) (*job.Transition, error) {
		return j.Apply(c, now)
	}
}

func mutate(t *testing.T, s store.Store, jobID id.JobID, fn job.MutateFunc) *job.Job {
	t.Helper()
	j, err := s.MutateJob(context.Background(), jobID, fn)
	if err != nil {
		t.Fatalf("MutateJob: %v", err)
	}
	return j
}

// JSONEqual compares two JSON documents semantically.
func JSONEqual(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return bytes.Equal(a, b)
	}
	ab, _ := json.Marshal(av)
	bb, _ := json.Marshal(bv)
	return bytes.Equal(ab, bb)
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// ──────────────────────────────────────────────────
// Create / Get
// ──────────────────────────────────────────────────

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := create(t, s, at(0),
		job.WithPriority(7),
		job.WithScheduledStart(at(60)),
		job.WithOffPeakOnly(),
		job.WithEstimatedDuration(45*time.Second),
		job.WithSubmittedBy("alice"),
	)

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}

	if got.ID.String() != j.ID.String() || got.JobType != "render" || got.Status != job.StatusScheduled {
		t.Errorf("identity mismatch: %+v", got)
	}
	if got.Priority != 7 || !got.IsOffPeakOnly || got.SubmittedBy != "alice" {
		t.Errorf("options mismatch: %+v", got)
	}
	if !JSONEqual(got.Parameters, j.Parameters) {
		t.Errorf("parameters = %s, want %s", got.Parameters, j.Parameters)
	}
	if !got.SubmittedAt.Equal(at(0)) || !timesEqual(got.ScheduledStartAt, j.ScheduledStartAt) {
		t.Errorf("times mismatch: submitted %v scheduled %v", got.SubmittedAt, got.ScheduledStartAt)
	}
	if got.EstimatedDurationSecs == nil || *got.EstimatedDurationSecs != 45 {
		t.Errorf("estimated duration = %v", got.EstimatedDurationSecs)
	}
	if got.WorkerID != "" || got.ClaimedAt != nil || got.CompletedAt != nil || got.ActualDurationSecs != nil {
		t.Errorf("unset fields populated: %+v", got)
	}
	if !got.RetryOfJobID.IsNil() || got.Result != nil || got.ErrorDetails != nil {
		t.Errorf("unset references populated: %+v", got)
	}
}

func testCreateDuplicate(t *testing.T, s store.Store) {
	j := create(t, s, at(0))
	err := s.CreateJob(context.Background(), j)
	if !errors.Is(err, jobdispatch.ErrJobAlreadyExists) {
		t.Errorf("expected ErrJobAlreadyExists, got %v", err)
	}
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := s.GetJob(context.Background(), id.NewJobID())
	if !errors.Is(err, jobdispatch.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Claim
// ──────────────────────────────────────────────────

func testClaimEmpty(t *testing.T, s store.Store) {
	if j := claim(t, s, "w1", true, at(0)); j != nil {
		t.Errorf("expected no job, got %s", j.ID)
	}
}

func testClaimOrdering(t *testing.T, s store.Store) {
	j1 := create(t, s, at(1), job.WithPriority(5))
	j2 := create(t, s, at(2), job.WithPriority(1))
	j3 := create(t, s, at(3), job.WithPriority(5))

	want := []id.JobID{j1.ID, j3.ID, j2.ID}
	for i, w := range want {
		got := claim(t, s, "w1", false, at(10))
		if got == nil {
			t.Fatalf("claim %d: no job", i)
		}
		if got.ID.String() != w.String() {
			t.Errorf("claim %d = %s, want %s", i, got.ID, w)
		}
		if got.Status != job.StatusDispatched || got.WorkerID != "w1" || !timesEqual(got.ClaimedAt, ptr(at(10))) {
			t.Errorf("claim %d fields wrong: %+v", i, got)
		}
	}
	if extra := claim(t, s, "w1", false, at(10)); extra != nil {
		t.Errorf("expected queue drained, got %s", extra.ID)
	}
}

func testClaimSkipsHeld(t *testing.T, s store.Store) {
	held := create(t, s, at(0), job.WithPriority(100))
	normal := create(t, s, at(1))

	mutate(t, s, held.ID, func(j *job.Job) (*job.Transition, error) { return nil, j.Hold(at(2)) })

	got := claim(t, s, "w1", true, at(5))
	if got == nil || got.ID.String() != normal.ID.String() {
		t.Fatalf("expected %s, got %+v", normal.ID, got)
	}
	if again := claim(t, s, "w1", true, at(5)); again != nil {
		t.Errorf("held job must not be claimed, got %s", again.ID)
	}

	mutate(t, s, held.ID, func(j *job.Job) (*job.Transition, error) { return nil, j.Release(at(6)) })
	if got := claim(t, s, "w1", true, at(7)); got == nil || got.ID.String() != held.ID.String() {
		t.Errorf("released job should be claimable, got %+v", got)
	}
}

func testClaimOffPeak(t *testing.T, s store.Store) {
	offPeak := create(t, s, at(0), job.WithOffPeakOnly(), job.WithPriority(9))
	regular := create(t, s, at(1))

	if got := claim(t, s, "w1", false, at(5)); got == nil || got.ID.String() != regular.ID.String() {
		t.Fatalf("peak claim: expected regular job, got %+v", got)
	}
	if got := claim(t, s, "w1", false, at(5)); got != nil {
		t.Fatalf("peak claim must not return off-peak job, got %s", got.ID)
	}
	if got := claim(t, s, "w1", true, at(5)); got == nil || got.ID.String() != offPeak.ID.String() {
		t.Errorf("off-peak claim: expected off-peak job, got %+v", got)
	}

	r2 := create(t, s, at(6))
	if got := claim(t, s, "w1", true, at(7)); got == nil || got.ID.String() != r2.ID.String() {
		t.Errorf("regular jobs must be claimable off-peak, got %+v", got)
	}
}

func testClaimScheduled(t *testing.T, s store.Store) {
	scheduled := create(t, s, at(0), job.WithScheduledStart(at(100)), job.WithPriority(10))

	if got := claim(t, s, "w1", true, at(99)); got != nil {
		t.Fatalf("future scheduled job claimed: %s", got.ID)
	}
	got := claim(t, s, "w1", true, at(100))
	if got == nil || got.ID.String() != scheduled.ID.String() {
		t.Fatalf("due scheduled job not claimed: %+v", got)
	}

	trs, err := s.ListTransitions(context.Background(), scheduled.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(trs) != 1 || trs[0].From != job.StatusScheduled {
		t.Errorf("expected scheduled -> dispatched audit row, got %+v", trs)
	}
}

func testClaimWritesAudit(t *testing.T, s store.Store) {
	j := create(t, s, at(0))
	claim(t, s, "wkr-audit", false, at(3))

	trs, err := s.ListTransitions(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	if len(trs) != 1 {
		t.Fatalf("expected 1 audit row, got %d", len(trs))
	}
	tr := trs[0]
	if tr.JobID.String() != j.ID.String() || tr.From != job.StatusPending || tr.To != job.StatusDispatched {
		t.Errorf("unexpected audit row %+v", tr)
	}
	if tr.TriggeredBy != "wkr-audit" || tr.Reason != "claimed" || !tr.OccurredAt.Equal(at(3)) || tr.ID.IsNil() {
		t.Errorf("unexpected audit metadata %+v", tr)
	}
}

func testConcurrentClaimSingleJob(t *testing.T, s store.Store) {
	j := create(t, s, at(0))

	const claimants = 8
	var (
		mu      sync.Mutex
		winners []string
	)
	var g errgroup.Group
	for i := range claimants {
		worker := "w" + string(rune('a'+i))
		g.Go(func() error {
			got, err := s.ClaimNext(context.Background(), job.ClaimRequest{WorkerID: worker, Now: at(1)})
			if err != nil {
				return err
			}
			if got != nil {
				mu.Lock()
				winners = append(winners, got.WorkerID)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("claim error: %v", err)
	}

	if len(winners) != 1 {
		t.Fatalf("expected exactly one successful claim, got %d (%v)", len(winners), winners)
	}
	stored, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.WorkerID != winners[0] {
		t.Errorf("stored worker %q, winner %q", stored.WorkerID, winners[0])
	}
	trs, _ := s.ListTransitions(context.Background(), j.ID)
	if len(trs) != 1 {
		t.Errorf("expected one audit row, got %d", len(trs))
	}
}

func testConcurrentClaimManyJobs(t *testing.T, s store.Store) {
	const total = 30
	for i := range total {
		create(t, s, at(i), job.WithPriority(i%3))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	var g errgroup.Group
	for w := range 6 {
		worker := "w" + string(rune('a'+w))
		g.Go(func() error {
			for {
				got, err := s.ClaimNext(context.Background(), job.ClaimRequest{WorkerID: worker, Now: at(total)})
				if err != nil {
					return err
				}
				if got == nil {
					return nil
				}
				mu.Lock()
				seen[got.ID.String()]++
				mu.Unlock()
			}
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("claim error: %v", err)
	}

	if len(seen) != total {
		t.Errorf("claimed %d distinct jobs, want %d", len(seen), total)
	}
	for jobID, n := range seen {
		if n != 1 {
			t.Errorf("job %s claimed %d times", jobID, n)
		}
	}
}

// ──────────────────────────────────────────────────
// Mutate
// ──────────────────────────────────────────────────

func testMutateCommits(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := create(t, s, at(0))
	claim(t, s, "w1", false, at(1))

	mutate(t, s, j.ID, change(job.Change{To: job.StatusRunning, TriggeredBy: "w1", Reason: "started"}, at(2)))
	mutate(t, s, j.ID, func(j *job.Job) (*job.Transition, error) {
		return nil, j.SetProgress(50, "halfway", at(3))
	})
	done := mutate(t, s, j.ID, change(job.Change{
		To:     job.StatusCompleted,
		Result: json.RawMessage(`{"ok":true}`),
	}, at(12)))

	if done.Status != job.StatusCompleted || done.ProgressPercent != 100 {
		t.Errorf("unexpected job after completion: %+v", done)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusCompleted || !JSONEqual(got.Result, []byte(`{"ok":true}`)) {
		t.Errorf("stored job: status %s result %s", got.Status, got.Result)
	}
	if got.ProgressPercent != 100 || got.ProgressMessage != "halfway" {
		t.Errorf("progress = %d %q", got.ProgressPercent, got.ProgressMessage)
	}
	if got.ActualDurationSecs == nil || *got.ActualDurationSecs != 10 {
		t.Errorf("actual duration = %v, want 10", got.ActualDurationSecs)
	}
	if got.WorkerID != "" || !timesEqual(got.ClaimedAt, ptr(at(1))) || !timesEqual(got.StartedAt, ptr(at(2))) || !timesEqual(got.CompletedAt, ptr(at(12))) {
		t.Errorf("lifecycle fields wrong: %+v", got)
	}

	trs, err := s.ListTransitions(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	wantTo := []job.Status{job.StatusDispatched, job.StatusRunning, job.StatusCompleted}
	if len(trs) != len(wantTo) {
		t.Fatalf("expected %d audit rows (progress writes none), got %d", len(wantTo), len(trs))
	}
	for i, w := range wantTo {
		if trs[i].To != w {
			t.Errorf("audit row %d to = %s, want %s", i, trs[i].To, w)
		}
	}
	if trs[1].Reason != "started" || trs[1].TriggeredBy != "w1" {
		t.Errorf("audit row metadata lost: %+v", trs[1])
	}
}

func testMutateErrorRollsBack(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := create(t, s, at(0))

	_, err := s.MutateJob(ctx, j.ID, change(job.Change{To: job.StatusCompleted}, at(1)))
	if !errors.Is(err, jobdispatch.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	boom := errors.New("boom")
	_, err = s.MutateJob(ctx, j.ID, func(j *job.Job) (*job.Transition, error) {
		j.Priority = 99
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusPending || got.Priority != 0 {
		t.Errorf("failed mutation leaked: %+v", got)
	}
	trs, _ := s.ListTransitions(ctx, j.ID)
	if len(trs) != 0 {
		t.Errorf("rejected transition was logged: %+v", trs)
	}
}

func testMutateMissing(t *testing.T, s store.Store) {
	_, err := s.MutateJob(context.Background(), id.NewJobID(), func(*job.Job) (*job.Transition, error) {
		t.Error("callback must not run for a missing job")
		return nil, nil
	})
	if !errors.Is(err, jobdispatch.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Inspection
// ──────────────────────────────────────────────────

func testListJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	a1 := create(t, s, at(1), job.WithSubmittedBy("alice"))
	b1 := create(t, s, at(2), job.WithSubmittedBy("bob"))
	a2 := create(t, s, at(3), job.WithSubmittedBy("alice"))
	a3 := create(t, s, at(4), job.WithSubmittedBy("alice"))
	mutate(t, s, a2.ID, change(job.Change{To: job.StatusCancelled}, at(5)))

	all, err := s.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	assertIDs(t, "all", all, a3.ID, a2.ID, b1.ID, a1.ID)

	alice, _ := s.ListJobs(ctx, job.ListOpts{SubmittedBy: "alice"})
	assertIDs(t, "alice", alice, a3.ID, a2.ID, a1.ID)

	alicePending, _ := s.ListJobs(ctx, job.ListOpts{SubmittedBy: "alice", Status: job.StatusPending})
	assertIDs(t, "alice pending", alicePending, a3.ID, a1.ID)

	cancelled, _ := s.ListJobs(ctx, job.ListOpts{Status: job.StatusCancelled})
	assertIDs(t, "cancelled", cancelled, a2.ID)

	page, _ := s.ListJobs(ctx, job.ListOpts{Limit: 2, Offset: 1})
	assertIDs(t, "page", page, a2.ID, b1.ID)

	beyond, _ := s.ListJobs(ctx, job.ListOpts{Offset: 10})
	assertIDs(t, "beyond", beyond)
}

func testListQueue(t *testing.T, s store.Store) {
	ctx := context.Background()
	low := create(t, s, at(1), job.WithPriority(1))
	high := create(t, s, at(2), job.WithPriority(5))
	sched := create(t, s, at(3), job.WithPriority(5), job.WithScheduledStart(at(1000)))
	claimed := create(t, s, at(0), job.WithPriority(50))
	claim(t, s, "w1", false, at(4))

	q, err := s.ListQueue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertIDs(t, "queue", q, high.ID, sched.ID, low.ID)
	for _, j := range q {
		if j.ID.String() == claimed.ID.String() {
			t.Error("dispatched job listed in queue")
		}
	}
}

func testCountByStatus(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := range 3 {
		create(t, s, at(i))
	}
	create(t, s, at(3), job.WithScheduledStart(at(1000)))
	for i := range 2 {
		j := create(t, s, at(10+i), job.WithPriority(100))
		claim(t, s, "w1", false, at(20))
		mutate(t, s, j.ID, change(job.Change{To: job.StatusRunning}, at(21)))
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := map[job.Status]int64{
		job.StatusPending:   3,
		job.StatusRunning:   2,
		job.StatusScheduled: 1,
	}
	for st, n := range want {
		if counts[st] != n {
			t.Errorf("count[%s] = %d, want %d", st, counts[st], n)
		}
	}
	if counts[job.StatusCompleted] != 0 {
		t.Errorf("count[completed] = %d", counts[job.StatusCompleted])
	}
}

func testAvgDurationSecs(t *testing.T, s store.Store) {
	ctx := context.Background()

	avg, err := s.AvgDurationSecs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if avg != 0 {
		t.Errorf("empty average = %v, want 0", avg)
	}

	for i, secs := range []int{10, 20} {
		j := create(t, s, at(i))
		claim(t, s, "w1", false, at(50))
		mutate(t, s, j.ID, change(job.Change{To: job.StatusRunning}, at(100)))
		mutate(t, s, j.ID, change(job.Change{To: job.StatusCompleted}, at(100+secs)))
	}
	// Failed jobs do not count.
	f := create(t, s, at(5))
	claim(t, s, "w1", false, at(50))
	mutate(t, s, f.ID, change(job.Change{To: job.StatusRunning}, at(100)))
	mutate(t, s, f.ID, change(job.Change{To: job.StatusFailed, ErrorMessage: "x"}, at(500)))

	avg, err = s.AvgDurationSecs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if avg != 15 {
		t.Errorf("average = %v, want 15", avg)
	}
}

func assertIDs(t *testing.T, label string, got []*job.Job, want ...id.JobID) {
	t.Helper()
	if len(got) != len(want) {
		ids := make([]string, len(got))
		for i, j := range got {
			ids[i] = j.ID.String()
		}
		t.Errorf("%s: got %d jobs %v, want %d", label, len(got), ids, len(want))
		return
	}
	for i := range want {
		if got[i].ID.String() != want[i].String() {
			t.Errorf("%s[%d] = %s, want %s", label, i, got[i].ID, want[i])
		}
	}
}

func ptr(t time.Time) *time.Time { return &t }
