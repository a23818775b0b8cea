package ratelimit

import (
	"context"

	"github.com/google/uuid"

	"github.com/ahrav/go-llmgate/internal/gateway/identity"
	"github.com/ahrav/go-llmgate/internal/gateway/transport"
)

// NewAdmissionMiddleware wires the limiter into the request pipeline. It
// resolves the caller's identity, runs the admission check before the wrapped
// handler, and settles the admitted request afterward: OnSuccess with the
// provider-reported usage, OnFailure when the call errored or panicked.
//
// Settlement runs even when the caller's context is already cancelled; the
// deltas it submits must not be lost to a dead context.
func NewAdmissionMiddleware(l *Limiter, resolver identity.Resolver) transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (resp *transport.Response, err error) {
			if req.TraceID == "" {
				req.TraceID = uuid.NewString()
			}

			id, err := resolver.Resolve(ctx, req.APIKey)
			if err != nil {
				return nil, err
			}
			if req.EndUserID != "" && id.CustomerID == "" {
				id = id.WithCustomer(req.EndUserID)
			}

			if err := l.Check(ctx, id, req.Model); err != nil {
				return nil, err
			}

			// Admitted: exactly one settlement is owed from here on,
			// including the panic path.
			defer func() {
				settleCtx := context.WithoutCancel(ctx)
				if err != nil || resp == nil {
					l.OnFailure(settleCtx, id, req.Model)
					return
				}
				l.OnSuccess(settleCtx, id, req.Model, resp.Usage)
			}()

			return next.Handle(ctx, req)
		})
	}
}
