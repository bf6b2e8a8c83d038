package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// ErrSubscriptionClosed is returned by Run when Redis closes the
// subscription channel before ctx ends.
var ErrSubscriptionClosed = errors.New("jobdispatch/redis: subscription closed")

// Subscriber receives lifecycle events and signals a wake-up channel for
// every submission.
type Subscriber struct {
	client redis.UniversalClient
	opts   options
	wake   chan struct{}
}

// NewSubscriber creates a Subscriber on client. Call Run to start
// receiving.
func NewSubscriber(client redis.UniversalClient, opts ...Option) *Subscriber {
	return &Subscriber{
		client: client,
		opts:   buildOptions(opts),
		wake:   make(chan struct{}, 1),
	}
}

// Wakeup returns the channel signalled when a job is submitted or retried.
// Signals coalesce: at most one is pending at a time.
func (s *Subscriber) Wakeup() <-chan struct{} { return s.wake }

// Run subscribes and processes messages until ctx ends. It returns nil on
// cancellation.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.opts.channel)
	defer func() { _ = pubsub.Close() }()

	// Wait for the subscription to be confirmed so that no event published
	// after Run starts listening is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("jobdispatch/redis: subscribe %s: %w", s.opts.channel, err)
	}

	s.opts.logger.Info("redis notifier subscribed", slog.String("channel", s.opts.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return ErrSubscriptionClosed
			}
			s.handle(msg)
		}
	}
}

func (s *Subscriber) handle(msg *redis.Message) {
	var evt Event
	if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
		s.opts.logger.Warn("redis notifier: malformed event",
			slog.String("channel", msg.Channel),
			slog.String("error", err.Error()),
		)
		return
	}

	if evt.Type == EventJobSubmitted || evt.Type == EventJobRetried {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}

	if s.opts.handler != nil {
		s.opts.handler(&evt)
	}
}
