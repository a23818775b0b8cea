// Package transport defines the request pipeline abstractions for the gateway.
//
// It provides the Handler interface, a function adapter, and middleware
// composition so cross-cutting concerns like admission control, logging, and
// metrics can be layered around the upstream provider call without coupling
// to any one provider.
package transport

import "context"

// Handler processes gateway requests through a composable middleware pipeline.
// Core abstraction enabling request preprocessing, response postprocessing,
// and cross-cutting concerns like admission control and observability.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
// Enables middleware composition with function-based handlers.
type HandlerFunc func(context.Context, *Request) (*Response, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware transforms a Handler into an enhanced Handler for composable behavior.
// Applied in reverse order with the last middleware closest to the core handler,
// enabling layered request processing and response transformation.
type Middleware func(Handler) Handler

// Chain builds a middleware pipeline around a core handler.
// Middleware executes in the order provided with the first middleware outermost,
// enabling request preprocessing and response postprocessing in proper order.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
