package service

import (
	"context"
	"time"

	"github.com/equiprent/rental-workflow/internal/application/dispatcher"
	"github.com/equiprent/rental-workflow/internal/application/port"
	"github.com/equiprent/rental-workflow/internal/domain/event"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Option configures the collaborators shared by the workflow services
type Option func(*options)

type options struct {
	dispatcher dispatcher.Dispatcher
	locker     port.Locker
	now        func() time.Time
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(o *options) {
		o.dispatcher = d
	}
}

// WithLocker sets the per-entity lock provider
func WithLocker(l port.Locker) Option {
	return func(o *options) {
		o.locker = l
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func (o options) clock() time.Time {
	return o.now().UTC()
}

// emit publishes an event without blocking the caller
func (o options) emit(ctx context.Context, evt *event.Event) {
	if o.dispatcher != nil {
		o.dispatcher.DispatchAsync(ctx, evt)
	}
}
