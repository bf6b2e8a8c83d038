package redis

import "log/slog"

// Option configures a Publisher or Subscriber.
type Option func(*options)

type options struct {
	channel string
	events  map[string]bool // nil = all enabled
	handler func(*Event)
	logger  *slog.Logger
}

func buildOptions(opts []Option) options {
	o := options{channel: DefaultChannel, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithChannel sets the pub/sub channel name.
func WithChannel(channel string) Option {
	return func(o *options) { o.channel = channel }
}

// WithEvents restricts the Publisher to the listed event types. Unknown
// types are silently ignored.
func WithEvents(events ...string) Option {
	return func(o *options) {
		o.events = make(map[string]bool, len(events))
		for _, e := range events {
			o.events[e] = true
		}
	}
}

// WithEventHandler sets a callback the Subscriber invokes for every event
// it receives, after any wake-up. It runs on the receive goroutine.
func WithEventHandler(fn func(*Event)) Option {
	return func(o *options) { o.handler = fn }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}
