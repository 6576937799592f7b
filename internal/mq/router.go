package mq

import (
	"context"
	"fmt"
)

// Router maps type codes to handler pipelines. The table is validated
// at startup for completeness against the code set a consumer is
// expected to serve, so a missing registration is a boot failure
// instead of a silent drop at runtime.
type Router struct {
	handlers map[Code]Handler
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[Code]Handler)}
}

// Register binds a handler to a type code. Registering the same code
// twice is a programming error.
func (r *Router) Register(c Code, h Handler) {
	if _, dup := r.handlers[c]; dup {
		panic(fmt.Sprintf("mq: handler already registered for type code %s", c))
	}
	r.handlers[c] = h
}

// Validate checks that every required code has a handler.
func (r *Router) Validate(required ...Code) error {
	for _, c := range required {
		if _, ok := r.handlers[c]; !ok {
			return fmt.Errorf("mq: no handler registered for type code %s", c)
		}
	}
	return nil
}

// Handle routes the envelope to the handler registered for its type
// code. Unknown codes are rejected before entering any pipeline.
func (r *Router) Handle(ctx context.Context, env *Envelope) error {
	h, ok := r.handlers[env.Props.Type]
	if !ok {
		return fmt.Errorf("mq: unsupported type code %s", env.Props.Type)
	}
	return h.Handle(ctx, env)
}
