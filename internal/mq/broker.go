package mq

import (
	"context"
	"time"
)

// Handler processes one decoded envelope. Returning an error makes the
// consumer reject the delivery; returning nil acknowledges it.
type Handler interface {
	Handle(ctx context.Context, env *Envelope) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, env *Envelope) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, env *Envelope) error {
	return f(ctx, env)
}

// Publisher places envelopes onto the broker.
type Publisher interface {
	Publish(ctx context.Context, env *Envelope, opts ...PublishOption) error
}

type publishOptions struct {
	delay time.Duration
}

// PublishOption customizes a single publish operation.
type PublishOption func(*publishOptions)

// WithDelay defers delivery by d. The broker's delayed-message
// exchange holds the message back; consumers see it only once the
// delay elapses.
func WithDelay(d time.Duration) PublishOption {
	return func(o *publishOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// DelayOf resolves the delay requested by a set of publish options.
func DelayOf(opts ...PublishOption) time.Duration {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.delay
}
