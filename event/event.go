// Package event is an in-process publish/subscribe dispatcher. habitcache
// uses it to fan confirmed mutations out to invalidation rules.
package event

import (
	"context"
	"errors"
	"time"
)

// Event is anything with a name listeners subscribe to.
type Event interface {
	Name() string
}

// BaseEvent can be embedded to satisfy Event.
type BaseEvent struct {
	name       string
	occurredAt time.Time
}

func NewEvent(name string) BaseEvent {
	return BaseEvent{name: name, occurredAt: time.Now()}
}

func (e BaseEvent) Name() string          { return e.name }
func (e BaseEvent) OccurredAt() time.Time { return e.occurredAt }

// Listener handles one event. Returning ErrStopPropagation stops later
// listeners without failing the dispatch.
type Listener interface {
	Handle(ctx context.Context, e Event) error
}

type ListenerFunc func(ctx context.Context, e Event) error

func (f ListenerFunc) Handle(ctx context.Context, e Event) error { return f(ctx, e) }

// Next continues an interceptor chain.
type Next func(ctx context.Context, e Event) error

// Interceptor wraps every synchronous dispatch.
type Interceptor func(ctx context.Context, e Event, next Next) error

var ErrStopPropagation = errors.New("stop propagation")

// ErrDispatcherClosed is returned by Dispatch after Close.
var ErrDispatcherClosed = errors.New("event dispatcher closed")
