// Package controller implements the top-level orchestrator: request
// validation, candidate selection, the sequential fallback walk, and
// outcome recording.
package controller

import (
	"context"
	"time"

	"github.com/Laisky/zap"

	"github.com/modelmux/modelmux/common/logger"
	"github.com/modelmux/modelmux/common/metrics"
	"github.com/modelmux/modelmux/monitor"
	"github.com/modelmux/modelmux/relay/model"
	"github.com/modelmux/modelmux/relay/pipeline"
	"github.com/modelmux/modelmux/relay/quota"
	"github.com/modelmux/modelmux/relay/registry"
)

// Failure records one provider's failed attempt during the fallback walk.
type Failure struct {
	Provider string          `json:"provider"`
	Code     model.ErrorCode `json:"code"`
	Message  string          `json:"message"`
	At       time.Time       `json:"at"`
}

// Orchestrator drives requests across the registered providers.
type Orchestrator struct {
	registry *registry.Registry
	quota    quota.Manager
}

// New builds the orchestrator.
func New(reg *registry.Registry, quotaManager quota.Manager) *Orchestrator {
	if quotaManager == nil {
		quotaManager = quota.NullManager{}
	}
	return &Orchestrator{registry: reg, quota: quotaManager}
}

// GetCompletion dispatches the request to the best capable provider,
// falling back across candidates until one succeeds or all are exhausted.
// It never panics or returns a nil response; failures surface as error
// responses with a taxonomy code.
func (o *Orchestrator) GetCompletion(ctx context.Context, req *model.Request) *model.Response {
	start := time.Now()

	if verr := validateShape(req); verr != nil {
		return verr.Response("", "")
	}

	candidates := o.registry.Candidates(req)
	if len(candidates) == 0 {
		logger.Logger.Warn("no eligible provider",
			zap.String("request_id", req.Context.RequestId),
			zap.String("kind", string(req.Kind)))
		return model.NewError(model.ErrUnknown, "no eligible provider").Response("", "")
	}

	var failures []Failure

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return o.cancelled(req, ctx, failures)
		}

		resp, aerr := candidate.Execute(ctx, req)
		if aerr == nil && resp.Succeeded() {
			cacheHit, _ := resp.Metadata["cached"].(bool)
			metrics.GlobalRecorder.RecordCompletion(resp.Provider, resp.Model, string(req.Kind),
				true, cacheHit, len(failures), resp.TokensUsed, resp.EstimatedCost, time.Since(start))
			if len(failures) > 0 {
				resp.WithMetadata("fallback_count", len(failures)).
					WithMetadata("failed_providers", failureSummaries(failures))
				logger.Logger.Info("request served after fallback",
					zap.String("request_id", req.Context.RequestId),
					zap.String("provider", resp.Provider),
					zap.Int("fallbacks", len(failures)))
			}
			return resp
		}

		if aerr == nil {
			aerr = model.NewError(model.ErrInvalidResponse, "provider returned unsuccessful response")
		}

		if aerr.Code == model.ErrCancelled {
			return o.cancelled(req, ctx, failures)
		}

		failures = append(failures, Failure{
			Provider: candidate.Name(),
			Code:     aerr.Code,
			Message:  aerr.Message,
			At:       time.Now(),
		})

		if aerr.Code.FallbackEligible() || candidate.ShouldFallback(aerr) {
			logger.Logger.Warn("provider failed, trying next candidate",
				zap.String("request_id", req.Context.RequestId),
				zap.String("provider", candidate.Name()),
				zap.String("error_code", string(aerr.Code)),
				zap.Error(aerr.RawError))
			continue
		}

		// Client-permanent failure: no other provider will do better.
		logger.Logger.Warn("terminal provider error, not falling back",
			zap.String("request_id", req.Context.RequestId),
			zap.String("provider", candidate.Name()),
			zap.String("error_code", string(aerr.Code)),
			zap.Error(aerr.RawError))
		metrics.GlobalRecorder.RecordCompletion(candidate.Name(), "", string(req.Kind),
			false, false, len(failures)-1, 0, 0, time.Since(start))
		return o.failureResponse(aerr, failures)
	}

	last := failures[len(failures)-1]
	logger.Logger.Error("all providers exhausted",
		zap.String("request_id", req.Context.RequestId),
		zap.String("kind", string(req.Kind)),
		zap.Int("providers_tried", len(failures)),
		zap.String("last_error_code", string(last.Code)))
	metrics.GlobalRecorder.RecordCompletion("none", "", string(req.Kind),
		false, false, len(failures), 0, 0, time.Since(start))

	aerr := &model.Error{
		Code:    last.Code,
		Message: "all providers failed, last error from " + last.Provider + ": " + last.Message,
	}
	return o.failureResponse(aerr, failures)
}

func (o *Orchestrator) cancelled(req *model.Request, ctx context.Context, failures []Failure) *model.Response {
	logger.Logger.Warn("request cancelled by caller",
		zap.String("request_id", req.Context.RequestId),
		zap.Int("providers_tried", len(failures)),
		zap.Error(ctx.Err()))
	aerr := model.WrapError(model.ErrCancelled, ctx.Err(), "request cancelled")
	return o.failureResponse(aerr, failures)
}

func (o *Orchestrator) failureResponse(aerr *model.Error, failures []Failure) *model.Response {
	resp := aerr.Response("", "")
	if len(failures) > 0 {
		resp.WithMetadata("failed_providers", failureSummaries(failures))
	}
	return resp
}

func failureSummaries(failures []Failure) []map[string]any {
	out := make([]map[string]any, 0, len(failures))
	for _, f := range failures {
		out = append(out, map[string]any{
			"provider": f.Provider,
			"code":     string(f.Code),
			"message":  f.Message,
			"at":       f.At,
		})
	}
	return out
}

// validateShape rejects requests that no adapter could serve: textual kinds
// without a prompt, media kinds without media payloads.
func validateShape(req *model.Request) *model.Error {
	if req == nil {
		return model.NewError(model.ErrInvalidRequest, "nil request")
	}
	switch req.Kind {
	case model.TextCompletion, model.ChatCompletion, model.ImageGeneration, model.TextToSpeech:
		if req.Prompt == "" {
			return model.NewError(model.ErrInvalidRequest, "prompt is required for "+string(req.Kind))
		}
	case model.VisionAnalysis:
		if len(req.ImageBytes) == 0 && len(req.ImageUrls) == 0 {
			return model.NewError(model.ErrInvalidRequest, "image data is required for vision analysis")
		}
	case model.AudioTranscription:
		if len(req.AudioBytes) == 0 {
			return model.NewError(model.ErrInvalidRequest, "audio data is required for transcription")
		}
	default:
		return model.NewError(model.ErrInvalidRequest, "unknown request kind "+string(req.Kind))
	}
	return nil
}

// ProviderInfo is one adapter's reported state.
type ProviderInfo struct {
	Name                string             `json:"name"`
	Priority            int                `json:"priority"`
	Local               bool               `json:"local"`
	Enabled             bool               `json:"enabled"`
	BreakerState        string             `json:"breakerState"`
	ConsecutiveFailures int                `json:"consecutiveFailures"`
	Capabilities        model.Capabilities `json:"capabilities"`
}

// ProviderInfo lists the installed adapters for the management surface.
func (o *Orchestrator) ProviderInfo() []ProviderInfo {
	all := o.registry.All()
	out := make([]ProviderInfo, 0, len(all))
	for _, a := range all {
		out = append(out, ProviderInfo{
			Name:                a.Name(),
			Priority:            a.Priority(),
			Local:               a.IsLocal(),
			Enabled:             a.Enabled(),
			BreakerState:        a.BreakerState().String(),
			ConsecutiveFailures: monitor.ConsecutiveFailures(a.Name()),
			Capabilities:        a.Capabilities(),
		})
	}
	return out
}

// HealthStatus is the secondary health report.
type HealthStatus struct {
	Healthy            bool                      `json:"healthy"`
	HealthyProviders   int                       `json:"healthyProviders"`
	TotalProviders     int                       `json:"totalProviders"`
	RecentFailures5min int                       `json:"recentFailures5min"`
	ProviderQuotas     map[string][]quota.Status `json:"providerQuotas,omitempty"`
}

// HealthCheck reports true when at least one enabled adapter can handle a
// minimal text request and its circuit breaker is not open.
func (o *Orchestrator) HealthCheck(ctx context.Context) *HealthStatus {
	probe := &model.Request{
		Kind:      model.TextCompletion,
		Prompt:    "ping",
		MaxTokens: 1,
	}

	all := o.registry.All()
	status := &HealthStatus{
		TotalProviders:     len(all),
		RecentFailures5min: monitor.RecentFailures(5 * time.Minute),
		ProviderQuotas:     make(map[string][]quota.Status),
	}

	for _, a := range all {
		healthy := a.Enabled() && a.BreakerState() != pipeline.StateOpen
		if healthy {
			status.HealthyProviders++
		}
		if healthy && a.CanHandle(probe) {
			status.Healthy = true
		}
		if quotas, err := o.quota.Status(ctx, a.Name()); err == nil && len(quotas) > 0 {
			status.ProviderQuotas[a.Name()] = quotas
		}
	}
	return status
}
