package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/jobdispatch/ext"
	"github.com/xraph/jobdispatch/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Publisher)(nil)
	_ ext.JobSubmitted = (*Publisher)(nil)
	_ ext.JobCompleted = (*Publisher)(nil)
	_ ext.JobFailed    = (*Publisher)(nil)
	_ ext.JobCancelled = (*Publisher)(nil)
	_ ext.JobRetried   = (*Publisher)(nil)
)

// Publisher publishes lifecycle events to a Redis channel. The caller owns
// the client lifecycle.
type Publisher struct {
	client redis.Cmdable
	opts   options
	clock  func() time.Time
}

// NewPublisher creates a Publisher on client.
func NewPublisher(client redis.Cmdable, opts ...Option) *Publisher {
	return &Publisher{
		client: client,
		opts:   buildOptions(opts),
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// Name implements ext.Extension.
func (p *Publisher) Name() string { return "redis-notify" }

// Channel returns the channel events are published to.
func (p *Publisher) Channel() string { return p.opts.channel }

// OnJobSubmitted implements ext.JobSubmitted.
func (p *Publisher) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	return p.publish(ctx, newEvent(EventJobSubmitted, j, p.clock()))
}

// OnJobCompleted implements ext.JobCompleted.
func (p *Publisher) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	evt := newEvent(EventJobCompleted, j, p.clock())
	evt.ElapsedMs = elapsed.Milliseconds()
	return p.publish(ctx, evt)
}

// OnJobFailed implements ext.JobFailed.
func (p *Publisher) OnJobFailed(ctx context.Context, j *job.Job) error {
	evt := newEvent(EventJobFailed, j, p.clock())
	evt.Error = j.ErrorMessage
	return p.publish(ctx, evt)
}

// OnJobCancelled implements ext.JobCancelled.
func (p *Publisher) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return p.publish(ctx, newEvent(EventJobCancelled, j, p.clock()))
}

// OnJobRetried implements ext.JobRetried. The event describes the new job.
func (p *Publisher) OnJobRetried(ctx context.Context, _, retry *job.Job) error {
	return p.publish(ctx, newEvent(EventJobRetried, retry, p.clock()))
}

func (p *Publisher) publish(ctx context.Context, evt *Event) error {
	if p.opts.events != nil && !p.opts.events[evt.Type] {
		return nil
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("jobdispatch/redis: marshal %s: %w", evt.Type, err)
	}
	if err := p.client.Publish(ctx, p.opts.channel, data).Err(); err != nil {
		return fmt.Errorf("jobdispatch/redis: publish %s: %w", evt.Type, err)
	}
	return nil
}
