// Package main runs the gateway: an HTTP front end wiring the admission-control
// engine around an upstream provider call.
//
// Provider adapters are out of scope here; the upstream handler echoes the
// prompt with an estimated token count so the admission pipeline is exercised
// end to end. Limits are declared per credential in the YAML config file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gwerrors "github.com/ahrav/go-llmgate/internal/gateway/errors"
	"github.com/ahrav/go-llmgate/internal/gateway/identity"
	"github.com/ahrav/go-llmgate/internal/gateway/ratelimit"
	"github.com/ahrav/go-llmgate/internal/gateway/store"
	"github.com/ahrav/go-llmgate/internal/gateway/transport"
)

var (
	configPath = flag.String("config", "", "Path to gateway YAML configuration")
	listenAddr = flag.String("addr", "", "Listen address override")
)

func main() {
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *listenAddr != "" {
		cfg.Server.Addr = *listenAddr
	}

	entries, err := cfg.identities()
	if err != nil {
		return err
	}
	resolver := identity.NewStaticResolver(entries)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := ratelimit.NewMetrics(registry)

	counterStore, cleanup, err := buildStore(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	limiter, err := ratelimit.NewLimiter(&cfg.Engine, counterStore, logger, metrics)
	if err != nil {
		return err
	}
	defer limiter.Stop()

	pipeline := transport.Chain(
		echoUpstream(),
		ratelimit.NewAdmissionMiddleware(limiter, resolver),
	)

	mux := http.NewServeMux()
	mux.Handle("POST /v1/completions", completionsHandler(pipeline, logger))
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, limiter.Stats())
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.Server.Addr)
		errCh <- server.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildStore connects the shared counter store, falling back to the
// in-process store when no redis address is configured.
func buildStore(cfg *fileConfig, logger *slog.Logger) (store.CounterStore, func(), error) {
	if cfg.Engine.Redis.Addr == "" {
		logger.Warn("no redis configured, counters are process-local")
		return store.NewMemoryStore(), func() {}, nil
	}

	client := store.NewRedisClient(cfg.Engine.Redis)
	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.Redis.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// Unreachable store at startup is not fatal; the engine fails open
		// and recovers when the store does.
		logger.Warn("counter store unreachable at startup", "addr", cfg.Engine.Redis.Addr, "error", err)
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Warn("closing redis client", "error", err)
		}
	}
	return store.NewRedisStore(client), cleanup, nil
}

// completionRequest is the inbound JSON body for /v1/completions.
type completionRequest struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	EndUserID   string  `json:"end_user_id,omitempty"`
	MaxTokens   int64   `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

func completionsHandler(pipeline transport.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body completionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Model == "" {
			writeError(w, http.StatusBadRequest, "model is required")
			return
		}

		req := &transport.Request{
			Provider:    body.Provider,
			Model:       body.Model,
			Prompt:      body.Prompt,
			EndUserID:   body.EndUserID,
			MaxTokens:   body.MaxTokens,
			Temperature: body.Temperature,
			APIKey:      bearerToken(r),
		}

		resp, err := pipeline.Handle(r.Context(), req)
		if err != nil {
			writePipelineError(w, logger, req, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

// writePipelineError maps engine errors onto HTTP status codes: rejections to
// 429 with a Retry-After header, unknown credentials to 401, everything else
// to 502.
func writePipelineError(w http.ResponseWriter, logger *slog.Logger, req *transport.Request, err error) {
	var admErr *gwerrors.AdmissionError
	switch {
	case errors.As(err, &admErr):
		w.Header().Set("Retry-After", fmt.Sprintf("%d", admErr.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, admErr)
	case errors.Is(err, identity.ErrUnknownCredential):
		writeError(w, http.StatusUnauthorized, "unknown credential")
	default:
		logger.Error("upstream call failed", "trace_id", req.TraceID, "model", req.Model, "error", err)
		writeError(w, http.StatusBadGateway, "upstream failure")
	}
}

// echoUpstream is a stand-in provider: it reflects the prompt and reports an
// estimated token count so reconciliation has usage to account.
func echoUpstream() transport.Handler {
	return transport.HandlerFunc(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
		start := time.Now()
		promptTokens := estimateTokens(req.Prompt)
		return &transport.Response{
			Content:      req.Prompt,
			FinishReason: "stop",
			Usage: transport.NormalizedUsage{
				PromptTokens:     promptTokens,
				CompletionTokens: promptTokens,
				TotalTokens:      2 * promptTokens,
				LatencyMs:        time.Since(start).Milliseconds(),
			},
		}, nil
	})
}

// estimateTokens approximates tokens at four characters each.
func estimateTokens(s string) int64 {
	n := int64(len(s)/4) + 1
	return n
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	return auth
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
