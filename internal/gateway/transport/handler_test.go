package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_OrderAndComposition(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
				order = append(order, name+"-pre")
				resp, err := next.Handle(ctx, req)
				order = append(order, name+"-post")
				return resp, err
			})
		}
	}

	core := HandlerFunc(func(_ context.Context, _ *Request) (*Response, error) {
		order = append(order, "core")
		return &Response{Content: "done"}, nil
	})

	h := Chain(core, mw("outer"), mw("inner"))
	resp, err := h.Handle(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, []string{"outer-pre", "inner-pre", "core", "inner-post", "outer-post"}, order)
}

func TestChain_NoMiddleware(t *testing.T) {
	core := HandlerFunc(func(_ context.Context, _ *Request) (*Response, error) {
		return &Response{Content: "bare"}, nil
	})

	resp, err := Chain(core).Handle(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "bare", resp.Content)
}
