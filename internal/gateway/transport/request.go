package transport

import (
	"net/http"
	"time"
)

// Request represents a normalized inbound request across all upstream providers.
// Contains the identifiers the admission-control layer keys on, plus the
// generation parameters forwarded to the provider adapter downstream.
type Request struct {
	// Provider identifies which upstream LLM service to use.
	Provider string `json:"provider"`

	// Model specifies the exact model version to use.
	Model string `json:"model"`

	// APIKey is the credential presented by the caller. The identity layer
	// resolves it into credential, user, and team identifiers; the pipeline
	// treats it as opaque.
	APIKey string `json:"-"`

	// EndUserID is the optional end-customer identifier supplied per request.
	EndUserID string `json:"end_user_id,omitempty"`

	// Prompt is the caller-supplied input forwarded upstream.
	Prompt string `json:"prompt,omitempty"`

	// Generation parameters control model behavior.
	MaxTokens   int64   `json:"max_tokens"`
	Temperature float64 `json:"temperature"`

	// Control fields for resilience and observability.
	Timeout  time.Duration     `json:"timeout"`
	TraceID  string            `json:"trace_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Response represents normalized output from any upstream provider.
// Usage feeds the token-per-minute accounting done after the call completes.
type Response struct {
	// Content is the generated text.
	Content string `json:"content"`

	// FinishReason indicates why generation stopped.
	FinishReason string `json:"finish_reason,omitempty"`

	// Usage tracks resource consumption for rate-limit reconciliation.
	Usage NormalizedUsage `json:"usage"`

	// Headers preserves raw response headers for debugging.
	Headers http.Header `json:"-"`
}

// NormalizedUsage provides consistent usage metrics across all providers.
// Normalizes provider-specific token counting and timing into a standard
// format for rate limiting, monitoring, and resource management.
type NormalizedUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	LatencyMs        int64 `json:"latency_ms"`
}
