// Package adaptor defines the uniform provider adapter contract and the
// shared pipeline runner every concrete adapter is composed from. Vendor
// packages contribute only a Codec: payload builder, response parser and
// pricing; everything else (quota, cache, rate limit, resilience, audit,
// metrics, key resolution) lives in the runner.
package adaptor

import (
	"context"
	"net/http"

	"github.com/modelmux/modelmux/common/config"
	"github.com/modelmux/modelmux/relay/model"
	"github.com/modelmux/modelmux/relay/pipeline"
)

// Adapter is the orchestrator-facing contract of one remote service.
type Adapter interface {
	// Name returns the stable provider name.
	Name() string
	// Priority orders candidates; smaller is preferred.
	Priority() int
	// IsLocal reports whether the provider runs on-host.
	IsLocal() bool
	// Enabled reports whether the adapter may serve requests at all.
	Enabled() bool
	// Capabilities returns the authoritative capability set.
	Capabilities() model.Capabilities

	// CanHandle reports whether this adapter can serve the request: enabled,
	// kind supported, media modes supported, language supported.
	CanHandle(req *model.Request) bool

	// Execute runs the full per-provider pipeline and returns either a
	// successful response or an adapter-level error.
	Execute(ctx context.Context, req *model.Request) (*model.Response, *model.Error)

	// ShouldFallback classifies an error: true means the orchestrator may
	// try the next candidate, false means the failure is client-permanent.
	ShouldFallback(err *model.Error) bool

	// EstimateCost prices a hypothetical call in account currency.
	EstimateCost(inputTokens, outputTokens int) float64

	// BreakerState exposes the adapter's circuit breaker for health checks.
	BreakerState() pipeline.BreakerState
}

// Upstream is the provider-agnostic parse of a wire response. Zero token
// counts mean the upstream did not report usage and the runner estimates.
type Upstream struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
	Metadata     map[string]any
}

// Codec is the provider-specific half of an adapter.
type Codec interface {
	// Name returns the provider name the codec serves.
	Name() string
	// DefaultModel is used when the configuration does not pin a model.
	DefaultModel() string
	// Capabilities returns the provider's authoritative capability set.
	Capabilities() model.Capabilities
	// IsLocal reports whether the provider runs on-host.
	IsLocal() bool

	// BuildRequest derives the provider wire request. maxTokens arrives
	// already clamped to the capability limit. The codec must not mutate req.
	BuildRequest(ctx context.Context, req *model.Request, cfg *config.ProviderConfig, apiKey, modelName string, maxTokens int) (*http.Request, error)

	// ParseResponse decodes a 2xx upstream response.
	ParseResponse(resp *http.Response, req *model.Request) (*Upstream, error)

	// EstimateCost prices a call from token counts.
	EstimateCost(inputTokens, outputTokens int) float64
}

// TokenCounter is implemented by codecs that can count tokens exactly
// (e.g. via tiktoken). The runner falls back to the word/char heuristic.
type TokenCounter interface {
	CountTokens(text string) int
}

// CachePolicy is implemented by codecs that restrict caching to
// deterministic requests (temperature == 0).
type CachePolicy interface {
	CacheDeterministicOnly() bool
}
