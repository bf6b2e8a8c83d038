package redis_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/jobdispatch"
	"github.com/xraph/jobdispatch/engine"
	"github.com/xraph/jobdispatch/id"
	"github.com/xraph/jobdispatch/job"
	redisnotify "github.com/xraph/jobdispatch/notify/redis"
	"github.com/xraph/jobdispatch/store/memory"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// startSubscriber runs sub until the test ends and waits for the
// subscription to be registered.
func startSubscriber(t *testing.T, mr *miniredis.Miniredis, sub *redisnotify.Subscriber, channel string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mr.PubSubNumSub(channel)[channel] > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscriber never joined %s", channel)
}

type eventSink struct {
	mu     sync.Mutex
	events []*redisnotify.Event
	got    chan struct{}
}

func newEventSink() *eventSink {
	return &eventSink{got: make(chan struct{}, 64)}
}

func (s *eventSink) handle(evt *redisnotify.Event) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
	s.got <- struct{}{}
}

func (s *eventSink) wait(t *testing.T, n int) []*redisnotify.Event {
	t.Helper()
	for range n {
		select {
		case <-s.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d events", n)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*redisnotify.Event(nil), s.events...)
}

func TestPublisher_PublishesEvents(t *testing.T) {
	mr, client := newClient(t)
	sink := newEventSink()
	sub := redisnotify.NewSubscriber(client, redisnotify.WithEventHandler(sink.handle))
	startSubscriber(t, mr, sub, redisnotify.DefaultChannel)

	pub := redisnotify.NewPublisher(client)
	ctx := context.Background()

	j := &job.Job{
		ID:           id.NewJobID(),
		JobType:      "render",
		Status:       job.StatusFailed,
		Priority:     3,
		SubmittedBy:  "alice",
		ErrorMessage: "boom",
	}
	if err := pub.OnJobFailed(ctx, j); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	if err := pub.OnJobCompleted(ctx, j, 1500*time.Millisecond); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}

	events := sink.wait(t, 2)
	failed, completed := events[0], events[1]
	if failed.Type != redisnotify.EventJobFailed || failed.Error != "boom" || failed.JobID != j.ID.String() {
		t.Errorf("failed event = %+v", failed)
	}
	if failed.Status != "failed" || failed.Priority != 3 || failed.SubmittedBy != "alice" {
		t.Errorf("failed event = %+v", failed)
	}
	if completed.Type != redisnotify.EventJobCompleted || completed.ElapsedMs != 1500 {
		t.Errorf("completed event = %+v", completed)
	}
}

func TestPublisher_WithEventsFilters(t *testing.T) {
	mr, client := newClient(t)
	sink := newEventSink()
	sub := redisnotify.NewSubscriber(client,
		redisnotify.WithChannel("custom"),
		redisnotify.WithEventHandler(sink.handle),
	)
	startSubscriber(t, mr, sub, "custom")

	pub := redisnotify.NewPublisher(client,
		redisnotify.WithChannel("custom"),
		redisnotify.WithEvents(redisnotify.EventJobCancelled),
	)
	if pub.Channel() != "custom" {
		t.Fatalf("Channel = %q", pub.Channel())
	}

	j := &job.Job{ID: id.NewJobID(), JobType: "render", Status: job.StatusCancelled}
	ctx := context.Background()
	_ = pub.OnJobSubmitted(ctx, j)
	_ = pub.OnJobCancelled(ctx, j)

	events := sink.wait(t, 1)
	if len(events) != 1 || events[0].Type != redisnotify.EventJobCancelled {
		t.Errorf("events = %+v", events)
	}
}

func TestPublisher_PublishErrorIsReturned(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	pub := redisnotify.NewPublisher(client)
	err := pub.OnJobSubmitted(context.Background(), &job.Job{ID: id.NewJobID(), JobType: "render"})
	if err == nil {
		t.Fatal("expected publish error with redis down")
	}
}

func TestSubscriber_WakesOnSubmission(t *testing.T) {
	mr, client := newClient(t)
	sub := redisnotify.NewSubscriber(client)
	startSubscriber(t, mr, sub, redisnotify.DefaultChannel)

	// Other events do not wake.
	payload, _ := json.Marshal(redisnotify.Event{Type: redisnotify.EventJobCompleted})
	mr.Publish(redisnotify.DefaultChannel, string(payload))
	// Malformed messages are dropped.
	mr.Publish(redisnotify.DefaultChannel, "{not json")

	select {
	case <-sub.Wakeup():
		t.Fatal("woke on a non-submission event")
	case <-time.After(50 * time.Millisecond):
	}

	payload, _ = json.Marshal(redisnotify.Event{Type: redisnotify.EventJobSubmitted})
	for range 3 {
		mr.Publish(redisnotify.DefaultChannel, string(payload))
	}

	select {
	case <-sub.Wakeup():
	case <-time.After(2 * time.Second):
		t.Fatal("no wake-up after submission")
	}
}

func TestSubscriber_RunStopsOnCancel(t *testing.T) {
	_, client := newClient(t)
	sub := redisnotify.NewSubscriber(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Run after cancel = %v", err)
	}
}

func TestNotifier_WakesIdleEngine(t *testing.T) {
	mr, client := newClient(t)
	sub := redisnotify.NewSubscriber(client)
	startSubscriber(t, mr, sub, redisnotify.DefaultChannel)

	cfg := jobdispatch.DefaultConfig()
	cfg.Concurrency = 1
	cfg.PollInterval = time.Hour
	cfg.ShutdownTimeout = time.Second

	eng, err := engine.Build(memory.New(),
		engine.WithConfig(cfg),
		engine.WithExtension(redisnotify.NewPublisher(client)),
		engine.WithWakeup(sub.Wakeup()),
	)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	eng.RegisterHandler("render", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"done"`), nil
	})

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = eng.Stop(context.Background()) }()

	// Give the single loop time to find the queue empty and sleep.
	time.Sleep(50 * time.Millisecond)

	j, err := eng.Submit(context.Background(), "render", nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := eng.FindByID(context.Background(), j.ID)
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if got.Status == job.StatusCompleted {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job was not processed after wake-up")
}
