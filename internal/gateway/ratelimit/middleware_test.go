package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-llmgate/internal/gateway/configuration"
	gwerrors "github.com/ahrav/go-llmgate/internal/gateway/errors"
	"github.com/ahrav/go-llmgate/internal/gateway/identity"
	"github.com/ahrav/go-llmgate/internal/gateway/transport"
)

func newTestPipeline(t *testing.T, core transport.Handler) (transport.Handler, *Limiter) {
	t.Helper()
	cfg := &configuration.Config{
		Gate: configuration.GateConfig{Enabled: true, MaxInFlight: 4},
	}
	l, _ := newTestLimiter(t, cfg)
	fixClock(l, time.Date(2025, 3, 14, 14, 26, 5, 0, time.UTC))

	resolver := identity.NewStaticResolver(map[string]*identity.Identity{
		"sk-good": {
			CredentialID: "sk-good",
			KeyLimits: configuration.LimitSet{
				MaxParallelRequests: configuration.Limit(2),
				TPMLimit:            configuration.Limit(1000),
			},
		},
	})

	return transport.Chain(core, NewAdmissionMiddleware(l, resolver)), l
}

func TestAdmissionMiddleware_SuccessPathSettlesUsage(t *testing.T) {
	core := transport.HandlerFunc(func(_ context.Context, _ *transport.Request) (*transport.Response, error) {
		return &transport.Response{
			Content: "ok",
			Usage:   transport.NormalizedUsage{TotalTokens: 25},
		}, nil
	})
	h, l := newTestPipeline(t, core)

	resp, err := h.Handle(context.Background(), &transport.Request{APIKey: "sk-good", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)

	waitForFlush(t, l)
	assert.EqualValues(t, 0, l.Stats().GateInFlight, "slot returned after settlement")
}

func TestAdmissionMiddleware_UpstreamErrorStillSettles(t *testing.T) {
	core := transport.HandlerFunc(func(_ context.Context, _ *transport.Request) (*transport.Response, error) {
		return nil, errors.New("upstream 500")
	})
	h, l := newTestPipeline(t, core)

	_, err := h.Handle(context.Background(), &transport.Request{APIKey: "sk-good", Model: "gpt-4o"})
	require.Error(t, err)

	waitForFlush(t, l)
	assert.EqualValues(t, 0, l.Stats().GateInFlight)
}

func TestAdmissionMiddleware_PanicStillSettles(t *testing.T) {
	core := transport.HandlerFunc(func(_ context.Context, _ *transport.Request) (*transport.Response, error) {
		panic("provider adapter bug")
	})
	h, l := newTestPipeline(t, core)

	assert.Panics(t, func() {
		_, _ = h.Handle(context.Background(), &transport.Request{APIKey: "sk-good", Model: "gpt-4o"})
	})

	waitForFlush(t, l)
	assert.EqualValues(t, 0, l.Stats().GateInFlight, "panic path must release the slot")
}

func TestAdmissionMiddleware_RejectionSkipsUpstream(t *testing.T) {
	called := 0
	core := transport.HandlerFunc(func(_ context.Context, _ *transport.Request) (*transport.Response, error) {
		called++
		return &transport.Response{}, nil
	})
	h, _ := newTestPipeline(t, core)
	req := &transport.Request{APIKey: "sk-good", Model: "gpt-4o"}

	// Fill both parallel slots, then the third call must be refused before
	// the upstream handler runs.
	slow := make(chan struct{})
	done := make(chan struct{}, 2)
	blockingCore := transport.HandlerFunc(func(_ context.Context, _ *transport.Request) (*transport.Response, error) {
		<-slow
		return &transport.Response{}, nil
	})
	hBlocked, l := newTestPipeline(t, blockingCore)
	for i := 0; i < 2; i++ {
		go func() {
			_, _ = hBlocked.Handle(context.Background(), &transport.Request{APIKey: "sk-good", Model: "gpt-4o"})
			done <- struct{}{}
		}()
	}
	waitForInFlight(t, l, 2)

	_, err := hBlocked.Handle(context.Background(), req)
	require.Error(t, err)
	assert.True(t, gwerrors.IsAdmissionRejected(err))
	assert.Positive(t, gwerrors.GetRetryAfter(err))

	close(slow)
	<-done
	<-done

	// The standalone pipeline confirms the handler is reached when admitted.
	_, err = h.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, called)
}

func TestAdmissionMiddleware_UnknownCredentialRefused(t *testing.T) {
	core := transport.HandlerFunc(func(_ context.Context, _ *transport.Request) (*transport.Response, error) {
		t.Fatal("upstream must not run for an unknown credential")
		return nil, nil
	})
	h, _ := newTestPipeline(t, core)

	_, err := h.Handle(context.Background(), &transport.Request{APIKey: "sk-bogus", Model: "gpt-4o"})
	assert.ErrorIs(t, err, identity.ErrUnknownCredential)
}

func TestAdmissionMiddleware_AssignsTraceID(t *testing.T) {
	var gotTrace string
	core := transport.HandlerFunc(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
		gotTrace = req.TraceID
		return &transport.Response{}, nil
	})
	h, _ := newTestPipeline(t, core)

	_, err := h.Handle(context.Background(), &transport.Request{APIKey: "sk-good", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.NotEmpty(t, gotTrace)

	_, err = h.Handle(context.Background(), &transport.Request{APIKey: "sk-good", Model: "gpt-4o", TraceID: "trace-1"})
	require.NoError(t, err)
	assert.Equal(t, "trace-1", gotTrace, "caller-supplied trace id is preserved")
}

// waitForInFlight polls until the gate reports n held slots.
func waitForInFlight(t *testing.T, l *Limiter, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.Stats().GateInFlight == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("gate never reached %d in-flight", n)
}
