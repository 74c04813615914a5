package adaptor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/zap"

	"github.com/modelmux/modelmux/common/client"
	"github.com/modelmux/modelmux/common/config"
	"github.com/modelmux/modelmux/common/helper"
	"github.com/modelmux/modelmux/common/logger"
	"github.com/modelmux/modelmux/common/metrics"
	"github.com/modelmux/modelmux/monitor"
	"github.com/modelmux/modelmux/relay/audit"
	"github.com/modelmux/modelmux/relay/cache"
	"github.com/modelmux/modelmux/relay/keymgr"
	"github.com/modelmux/modelmux/relay/model"
	"github.com/modelmux/modelmux/relay/pipeline"
	"github.com/modelmux/modelmux/relay/quota"
	"github.com/modelmux/modelmux/relay/ratelimit"
)

// Dependencies are the shared hook points every adapter runs against.
type Dependencies struct {
	Cache cache.Cache
	Quota quota.Manager
	Audit audit.Logger
	Keys  *keymgr.Manager

	// PipelineOptions is forwarded to the resilience pipeline; tests use it
	// to shrink backoff delays.
	PipelineOptions []pipeline.Option

	// HTTPClient overrides the shared client; tests inject stub transports.
	HTTPClient *http.Client
}

// Base is the pipeline runner composed into every adapter. It owns the
// adapter's process-global state: circuit breaker, rate-limit window and
// HTTP client.
type Base struct {
	codec    Codec
	cfg      *config.ProviderConfig
	deps     Dependencies
	pipeline *pipeline.Pipeline
	limiter  *ratelimit.Limiter
	http     *http.Client
}

// NewBase wires a codec into a runnable adapter.
func NewBase(codec Codec, cfg *config.ProviderConfig, deps Dependencies) *Base {
	cfg.ApplyDefaults()
	if deps.Cache == nil {
		deps.Cache = cache.NullCache{}
	}
	if deps.Quota == nil {
		deps.Quota = quota.NullManager{}
	}
	if deps.Audit == nil {
		deps.Audit = audit.NullLogger{}
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = client.ForTimeout(cfg.TimeoutSeconds)
	}

	var limiter *ratelimit.Limiter
	if cfg.EnableRateLimiting {
		limiter = ratelimit.New(cfg.RequestsPerMinute)
	}

	return &Base{
		codec: codec,
		cfg:   cfg,
		deps:  deps,
		pipeline: pipeline.New(codec.Name(), cfg.TimeoutSeconds, cfg.MaxRetries,
			cfg.CircuitBreakerFailuresBeforeBreaking, cfg.CircuitBreakerDurationSeconds,
			deps.PipelineOptions...),
		limiter: limiter,
		http:    httpClient,
	}
}

// Name implements Adapter.
func (b *Base) Name() string { return b.codec.Name() }

// Priority implements Adapter.
func (b *Base) Priority() int { return b.cfg.Priority }

// IsLocal implements Adapter.
func (b *Base) IsLocal() bool { return b.codec.IsLocal() }

// Enabled implements Adapter.
func (b *Base) Enabled() bool { return b.cfg.IsEnabled }

// Capabilities implements Adapter.
func (b *Base) Capabilities() model.Capabilities { return b.codec.Capabilities() }

// BreakerState implements Adapter.
func (b *Base) BreakerState() pipeline.BreakerState { return b.pipeline.Breaker().State() }

// EstimateCost implements Adapter.
func (b *Base) EstimateCost(inputTokens, outputTokens int) float64 {
	return b.codec.EstimateCost(inputTokens, outputTokens)
}

// Model returns the effective model identifier for this adapter.
func (b *Base) Model() string {
	if b.cfg.Model != "" {
		return b.cfg.Model
	}
	return b.codec.DefaultModel()
}

// CanHandle implements Adapter.
func (b *Base) CanHandle(req *model.Request) bool {
	if !b.cfg.IsEnabled {
		return false
	}
	caps := b.codec.Capabilities()
	if !caps.Supports(req.Kind) {
		return false
	}
	if !caps.SupportsLanguage(req.Language()) {
		return false
	}
	if req.Kind == model.VisionAnalysis && len(req.ImageBytes) > 0 && !caps.SupportsImageFormat(req.ImageFormat) {
		return false
	}
	if req.Kind == model.AudioTranscription && !caps.SupportsAudioFormat(req.AudioFormat) {
		return false
	}
	return true
}

// ShouldFallback implements Adapter. True for transient, rate-limit, quota,
// 5xx, timeout and auth errors; false for client-permanent failures.
func (b *Base) ShouldFallback(err *model.Error) bool {
	if err == nil {
		return false
	}
	switch err.Code {
	case model.ErrQuotaExceeded, model.ErrRateLimitExceeded,
		model.ErrTimeout, model.ErrCircuitOpen:
		return true
	case model.ErrInvalidRequest, model.ErrInvalidResponse, model.ErrCancelled:
		return false
	case model.ErrUnknown:
		// Unclassifiable failures may well be provider-local; let the
		// orchestrator try the next candidate.
		return true
	}
	if status, ok := err.Code.HTTPStatus(); ok {
		if status >= 500 || status == 429 || status == 408 {
			return true
		}
		// Auth failures can succeed on a different provider.
		return status == http.StatusUnauthorized || status == http.StatusForbidden
	}
	return false
}

// Execute implements Adapter: clamp, quota gate, cache probe, rate-limit
// admission, resilient network call, usage record, cache store.
func (b *Base) Execute(ctx context.Context, req *model.Request) (*model.Response, *model.Error) {
	start := time.Now()
	modelName := b.Model()

	maxTokens, verr := b.validate(req)
	if verr != nil {
		b.finish(req, nil, verr, start)
		return nil, verr
	}

	inputTokens := b.countTokens(req.SystemPrompt + req.Prompt)
	estCost := b.codec.EstimateCost(inputTokens, maxTokens)

	if qerr := b.checkQuota(ctx, req, inputTokens, maxTokens, estCost); qerr != nil {
		b.finish(req, nil, qerr, start)
		return nil, qerr
	}

	cacheKey := cache.Fingerprint(b.Name(), modelName, req)
	if resp := b.probeCache(ctx, req, cacheKey, start); resp != nil {
		return resp, nil
	}

	if rerr := b.admit(req); rerr != nil {
		b.finish(req, nil, rerr, start)
		return nil, rerr
	}

	up, perr := b.send(ctx, req, modelName, maxTokens)
	if perr != nil {
		b.recordUsage(ctx, req, 0, 0, false)
		monitor.Emit(b.Name(), false)
		b.finish(req, nil, perr, start)
		return nil, perr
	}

	resp := b.buildResponse(req, up, modelName, inputTokens, start)
	b.recordUsage(ctx, req, int64(resp.TokensUsed), resp.EstimatedCost, true)
	monitor.Emit(b.Name(), true)
	b.finish(req, resp, nil, start)

	b.storeCache(ctx, req, cacheKey, resp, start)
	return resp, nil
}

// validate clamps maxTokens to the capability limit and checks media
// presence. Oversized maxTokens clamps silently per contract; missing media
// is an INVALID_REQUEST.
func (b *Base) validate(req *model.Request) (int, *model.Error) {
	caps := b.codec.Capabilities()

	maxTokens := req.MaxTokens
	if limit := caps.MaxTokensLimit; limit > 0 && maxTokens > limit {
		logger.Logger.Debug("clamping max tokens to capability limit",
			zap.String("provider", b.Name()),
			zap.Int("requested", maxTokens),
			zap.Int("limit", limit))
		maxTokens = limit
	}

	maxMedia := int64(config.MaxInlineMediaSizeMB) * 1024 * 1024
	switch req.Kind {
	case model.VisionAnalysis:
		if len(req.ImageBytes) == 0 && len(req.ImageUrls) == 0 {
			return 0, model.NewError(model.ErrInvalidRequest, "vision analysis requires image data")
		}
		if maxMedia > 0 && int64(len(req.ImageBytes)) > maxMedia {
			return 0, model.NewError(model.ErrInvalidRequest,
				fmt.Sprintf("inline image exceeds %dMB limit", config.MaxInlineMediaSizeMB))
		}
	case model.AudioTranscription:
		if len(req.AudioBytes) == 0 {
			return 0, model.NewError(model.ErrInvalidRequest, "audio transcription requires audio data")
		}
		if maxMedia > 0 && int64(len(req.AudioBytes)) > maxMedia {
			return 0, model.NewError(model.ErrInvalidRequest,
				fmt.Sprintf("inline audio exceeds %dMB limit", config.MaxInlineMediaSizeMB))
		}
	}
	return maxTokens, nil
}

func (b *Base) checkQuota(ctx context.Context, req *model.Request, inputTokens, maxTokens int, estCost float64) *model.Error {
	result, err := b.deps.Quota.CheckQuota(ctx, b.Name(), req.Context.UserId, int64(inputTokens+maxTokens), estCost)
	if err != nil {
		// A broken quota store must not take the provider down; fail open.
		logger.Logger.Error("quota check failed, admitting request",
			zap.String("provider", b.Name()),
			zap.Error(err))
		return nil
	}
	if !result.CanProceed {
		metrics.GlobalRecorder.RecordQuotaDenial(b.Name())
		return &model.Error{
			Code: model.ErrQuotaExceeded,
			Message: "quota exhausted for provider " + b.Name() +
				", resets in " + result.TimeUntilReset.Round(time.Second).String(),
		}
	}
	return nil
}

// cacheable applies the adapter's caching policy to one request.
func (b *Base) cacheable(req *model.Request) bool {
	if !b.cfg.EnableCaching || b.cfg.CacheDurationMinutes <= 0 {
		return false
	}
	if policy, ok := b.codec.(CachePolicy); ok && policy.CacheDeterministicOnly() && req.Temperature > 0 {
		return false
	}
	return true
}

func (b *Base) cachePolicyLabel() string {
	if policy, ok := b.codec.(CachePolicy); ok && policy.CacheDeterministicOnly() {
		return "deterministic_only"
	}
	return "all"
}

func (b *Base) probeCache(ctx context.Context, req *model.Request, key string, start time.Time) *model.Response {
	if !b.cacheable(req) {
		return nil
	}
	entry, ok := b.deps.Cache.Get(ctx, key)
	if !ok {
		return nil
	}

	resp := &model.Response{
		Content:        entry.ResponseText,
		Provider:       entry.ProviderName,
		Model:          entry.Model,
		TokensUsed:     entry.TokensUsed,
		ProcessingTime: time.Since(start),
		IsSuccess:      true,
		Metadata:       map[string]any{},
	}
	for k, v := range entry.Metadata {
		resp.Metadata[k] = v
	}
	resp.WithMetadata("cached", true).
		WithMetadata("cache_key", key).
		WithMetadata("cache_hit_count", entry.HitCount).
		WithMetadata("cache_policy", b.cachePolicyLabel())

	b.finish(req, resp, nil, start)
	return resp
}

func (b *Base) admit(req *model.Request) *model.Error {
	if b.limiter == nil {
		return nil
	}
	ok, retryAfter := b.limiter.Allow()
	if ok {
		return nil
	}
	metrics.GlobalRecorder.RecordRateLimitHit(b.Name())
	return &model.Error{
		Code: model.ErrRateLimitExceeded,
		Message: "rate limit of " + b.Name() + " reached, retry after " +
			retryAfter.Round(time.Millisecond).String(),
	}
}

// send runs the wire call under the resilience pipeline.
func (b *Base) send(ctx context.Context, req *model.Request, modelName string, maxTokens int) (*Upstream, *model.Error) {
	apiKey := b.currentKey()

	var up *Upstream
	err := b.pipeline.Execute(ctx, func(cctx context.Context) error {
		httpReq, err := b.codec.BuildRequest(cctx, req, b.cfg, apiKey, modelName, maxTokens)
		if err != nil {
			return model.WrapError(model.ErrInvalidRequest, err, "build provider request")
		}

		resp, err := b.http.Do(httpReq)
		if err != nil {
			return model.WrapError(model.ErrUnknown, err, "call provider "+b.Name())
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			excerpt := helper.SanitizeLogPayload(raw, 2048)
			return model.NewHTTPError(resp.StatusCode, strings.TrimSpace(string(excerpt)))
		}

		parsed, err := b.codec.ParseResponse(resp, req)
		if err != nil {
			return model.WrapError(model.ErrInvalidResponse, err, "parse provider response")
		}
		up = parsed
		return nil
	})
	if err != nil {
		me := model.AsError(err)
		// An auth rejection sidelines the key so the next attempt uses a
		// different one from the ring.
		if status, ok := me.Code.HTTPStatus(); ok &&
			(status == http.StatusUnauthorized || status == http.StatusForbidden) &&
			b.deps.Keys != nil && apiKey != "" {
			b.deps.Keys.Quarantine(b.Name(), apiKey)
			b.deps.Keys.Rotate(b.Name())
		}
		return nil, me
	}
	if up == nil || up.Content == "" {
		return nil, model.NewError(model.ErrInvalidResponse, "provider returned empty content")
	}
	return up, nil
}

func (b *Base) buildResponse(req *model.Request, up *Upstream, modelName string, estimatedInput int, start time.Time) *model.Response {
	inputTokens := up.InputTokens
	if inputTokens == 0 {
		inputTokens = estimatedInput
	}
	outputTokens := up.OutputTokens
	if outputTokens == 0 {
		outputTokens = b.countTokens(up.Content)
	}

	if up.Model != "" {
		modelName = up.Model
	}

	resp := &model.Response{
		Content:        up.Content,
		Provider:       b.Name(),
		Model:          modelName,
		TokensUsed:     inputTokens + outputTokens,
		ProcessingTime: time.Since(start),
		IsSuccess:      true,
		EstimatedCost:  b.codec.EstimateCost(inputTokens, outputTokens),
		Metadata:       map[string]any{},
	}
	for k, v := range up.Metadata {
		resp.Metadata[k] = v
	}
	resp.WithMetadata("cached", false).
		WithMetadata("input_tokens", inputTokens).
		WithMetadata("output_tokens", outputTokens).
		WithMetadata("cache_policy", b.cachePolicyLabel())
	return resp
}

func (b *Base) storeCache(ctx context.Context, req *model.Request, key string, resp *model.Response, start time.Time) {
	if !b.cacheable(req) || !resp.Succeeded() {
		return
	}
	ttl := time.Duration(b.cfg.CacheDurationMinutes) * time.Minute
	entry := &cache.CachedResponse{
		ProviderName: resp.Provider,
		Model:        resp.Model,
		ResponseText: resp.Content,
		TokensUsed:   resp.TokensUsed,
		DurationMs:   resp.ProcessingTime.Milliseconds(),
	}
	// Upstream metadata survives the round trip; the per-hit bookkeeping
	// keys are stamped fresh on each cache hit.
	for k, v := range resp.Metadata {
		switch k {
		case "cached", "cache_key", "cache_hit_count", "cache_policy":
			continue
		}
		if entry.Metadata == nil {
			entry.Metadata = make(map[string]any)
		}
		entry.Metadata[k] = v
	}
	if err := b.deps.Cache.Set(ctx, key, entry, ttl); err != nil {
		logger.Logger.Warn("cache store failed",
			zap.String("provider", b.Name()),
			zap.String("cache_key", key),
			zap.Error(err))
	}
}

func (b *Base) recordUsage(ctx context.Context, req *model.Request, tokens int64, cost float64, success bool) {
	if err := b.deps.Quota.RecordUsage(ctx, b.Name(), req.Context.UserId, tokens, cost, success); err != nil {
		logger.Logger.Error("usage record failed",
			zap.String("provider", b.Name()),
			zap.Error(err))
	}
}

// finish emits the audit entry and error metric for one attempt.
func (b *Base) finish(req *model.Request, resp *model.Response, aerr *model.Error, start time.Time) {
	entry := &audit.Entry{
		RequestId:    req.Context.RequestId,
		Provider:     b.Name(),
		Model:        b.Model(),
		UserId:       req.Context.UserId,
		SessionId:    req.Context.SessionId,
		Kind:         string(req.Kind),
		PromptHash:   helper.Sha256Hex(req.Prompt),
		PromptLength: len(req.Prompt),
		DurationMs:   time.Since(start).Milliseconds(),
	}
	if resp != nil {
		entry.Success = true
		entry.ResponseLength = len(resp.Content)
		entry.TokensUsed = resp.TokensUsed
		entry.EstimatedCost = resp.EstimatedCost
		entry.ResponseMetadata = resp.Metadata
	}
	if aerr != nil {
		entry.ErrorCode = string(aerr.Code)
		entry.ErrorMessage = aerr.Message
		metrics.GlobalRecorder.RecordError(b.Name(), string(aerr.Code))
	}
	b.deps.Audit.LogRequest(entry)
}

func (b *Base) currentKey() string {
	if b.deps.Keys != nil {
		if key := b.deps.Keys.CurrentKey(b.Name()); key != "" {
			return key
		}
	}
	// Fall back to the configured static key when the manager cannot
	// resolve one.
	return b.cfg.APIKey
}

func (b *Base) countTokens(text string) int {
	if counter, ok := b.codec.(TokenCounter); ok {
		if n := counter.CountTokens(text); n > 0 {
			return n
		}
	}
	return helper.EstimateTextTokens(text)
}
