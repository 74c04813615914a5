package controller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelmux/modelmux/relay/model"
	"github.com/modelmux/modelmux/relay/pipeline"
	"github.com/modelmux/modelmux/relay/quota"
	"github.com/modelmux/modelmux/relay/registry"
)

// scripted is a stub adapter returning canned outcomes in order.
type scripted struct {
	name     string
	priority int
	local    bool
	caps     model.Capabilities
	breaker  pipeline.BreakerState

	outcomes []outcome
	calls    int

	fallbackOverride func(*model.Error) bool
}

type outcome struct {
	resp *model.Response
	err  *model.Error
}

func succeedWith(content string) outcome {
	return outcome{resp: &model.Response{Content: content, IsSuccess: true}}
}

func failWith(err *model.Error) outcome {
	return outcome{err: err}
}

func (s *scripted) Name() string                        { return s.name }
func (s *scripted) Priority() int                       { return s.priority }
func (s *scripted) IsLocal() bool                       { return s.local }
func (s *scripted) Enabled() bool                       { return true }
func (s *scripted) Capabilities() model.Capabilities    { return s.caps }
func (s *scripted) EstimateCost(in, out int) float64    { return 0 }
func (s *scripted) BreakerState() pipeline.BreakerState { return s.breaker }

func (s *scripted) CanHandle(req *model.Request) bool {
	return s.caps.Supports(req.Kind)
}

func (s *scripted) ShouldFallback(err *model.Error) bool {
	if s.fallbackOverride != nil {
		return s.fallbackOverride(err)
	}
	return err.Code.FallbackEligible()
}

func (s *scripted) Execute(ctx context.Context, req *model.Request) (*model.Response, *model.Error) {
	idx := s.calls
	if idx >= len(s.outcomes) {
		idx = len(s.outcomes) - 1
	}
	s.calls++
	o := s.outcomes[idx]
	if o.resp != nil {
		o.resp.Provider = s.name
		return o.resp, nil
	}
	return nil, o.err
}

func textAdapter(name string, priority int, outcomes ...outcome) *scripted {
	return &scripted{
		name:     name,
		priority: priority,
		caps:     model.Capabilities{TextCompletion: true, ChatCompletion: true},
		outcomes: outcomes,
	}
}

func buildOrchestrator(adapters ...*scripted) *Orchestrator {
	reg := registry.New()
	for _, a := range adapters {
		reg.Register(a)
	}
	return New(reg, quota.NullManager{})
}

func chatRequest() *model.Request {
	return &model.Request{
		Kind:    model.ChatCompletion,
		Prompt:  "hello",
		Context: model.RequestContext{RequestId: "r1"},
	}
}

func TestGetCompletionFirstProviderSucceeds(t *testing.T) {
	t.Parallel()

	primary := textAdapter("OpenAI", 1, succeedWith("hi"))
	secondary := textAdapter("Groq", 2, succeedWith("unused"))
	orch := buildOrchestrator(primary, secondary)

	resp := orch.GetCompletion(context.Background(), chatRequest())
	require.True(t, resp.Succeeded())
	assert.Equal(t, "OpenAI", resp.Provider)
	assert.Equal(t, 0, secondary.calls, "secondary must not be invoked on primary success")
	assert.NotContains(t, resp.Metadata, "fallback_count")
}

func TestGetCompletionFallsBackOnServerError(t *testing.T) {
	t.Parallel()

	primary := textAdapter("OpenAI", 1, failWith(model.NewHTTPError(503, "down")))
	secondary := textAdapter("Groq", 2, succeedWith("rescued"))
	orch := buildOrchestrator(primary, secondary)

	resp := orch.GetCompletion(context.Background(), chatRequest())
	require.True(t, resp.Succeeded())
	assert.Equal(t, "Groq", resp.Provider)
	assert.Equal(t, "rescued", resp.Content)
	assert.Equal(t, 1, resp.Metadata["fallback_count"])

	failed, ok := resp.Metadata["failed_providers"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, failed, 1)
	assert.Equal(t, "OpenAI", failed[0]["provider"])
}

func TestGetCompletionFallsBackOnQuotaAndRateLimit(t *testing.T) {
	t.Parallel()

	first := textAdapter("OpenAI", 1, failWith(model.NewError(model.ErrQuotaExceeded, "quota exhausted")))
	second := textAdapter("Groq", 2, failWith(model.NewError(model.ErrRateLimitExceeded, "rate limited")))
	third := textAdapter("DeepSeek", 3, succeedWith("third time lucky"))
	orch := buildOrchestrator(first, second, third)

	resp := orch.GetCompletion(context.Background(), chatRequest())
	require.True(t, resp.Succeeded())
	assert.Equal(t, "DeepSeek", resp.Provider)
	assert.Equal(t, 2, resp.Metadata["fallback_count"])
}

func TestGetCompletionFallsBackOnOpenBreaker(t *testing.T) {
	t.Parallel()

	tripped := textAdapter("OpenAI", 1,
		failWith(model.NewError(model.ErrCircuitOpen, "circuit breaker open for provider OpenAI")))
	tripped.breaker = pipeline.StateOpen
	backup := textAdapter("Groq", 2, succeedWith("still here"))
	orch := buildOrchestrator(tripped, backup)

	resp := orch.GetCompletion(context.Background(), chatRequest())
	require.True(t, resp.Succeeded())
	assert.Equal(t, "Groq", resp.Provider)

	failed := resp.Metadata["failed_providers"].([]map[string]any)
	require.Len(t, failed, 1)
	assert.Equal(t, string(model.ErrCircuitOpen), failed[0]["code"])
}

func TestGetCompletionAllProvidersFail(t *testing.T) {
	t.Parallel()

	first := textAdapter("OpenAI", 1, failWith(model.NewHTTPError(500, "a")))
	second := textAdapter("Groq", 2, failWith(model.NewError(model.ErrTimeout, "too slow")))
	orch := buildOrchestrator(first, second)

	resp := orch.GetCompletion(context.Background(), chatRequest())
	require.False(t, resp.Succeeded())
	assert.Equal(t, model.ErrTimeout, resp.ErrorCode, "the last error surfaces")
	assert.Contains(t, resp.ErrorMessage, "all providers failed")
	assert.Contains(t, resp.ErrorMessage, "Groq")

	failed, ok := resp.Metadata["failed_providers"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, failed, 2)
}

func TestGetCompletionTerminalErrorStopsWalk(t *testing.T) {
	t.Parallel()

	first := textAdapter("OpenAI", 1, failWith(model.NewError(model.ErrInvalidResponse, "garbled")))
	first.fallbackOverride = func(*model.Error) bool { return false }
	second := textAdapter("Groq", 2, succeedWith("never"))
	orch := buildOrchestrator(first, second)

	resp := orch.GetCompletion(context.Background(), chatRequest())
	require.False(t, resp.Succeeded())
	assert.Equal(t, model.ErrInvalidResponse, resp.ErrorCode)
	assert.Equal(t, 0, second.calls, "terminal failures must not advance the walk")
}

func TestGetCompletionInvalidRequestSkipsAdapters(t *testing.T) {
	t.Parallel()

	adapter := textAdapter("OpenAI", 1, succeedWith("never"))
	orch := buildOrchestrator(adapter)

	resp := orch.GetCompletion(context.Background(), &model.Request{Kind: model.ChatCompletion})
	require.False(t, resp.Succeeded())
	assert.Equal(t, model.ErrInvalidRequest, resp.ErrorCode)
	assert.Equal(t, 0, adapter.calls)

	resp = orch.GetCompletion(context.Background(), &model.Request{Kind: "teleport"})
	assert.Equal(t, model.ErrInvalidRequest, resp.ErrorCode)

	resp = orch.GetCompletion(context.Background(), nil)
	assert.Equal(t, model.ErrInvalidRequest, resp.ErrorCode)
}

func TestGetCompletionNoEligibleProvider(t *testing.T) {
	t.Parallel()

	adapter := textAdapter("OpenAI", 1, succeedWith("never"))
	orch := buildOrchestrator(adapter)

	resp := orch.GetCompletion(context.Background(), &model.Request{
		Kind:   model.TextToSpeech,
		Prompt: "say this",
	})
	require.False(t, resp.Succeeded())
	assert.Equal(t, model.ErrUnknown, resp.ErrorCode)
	assert.Contains(t, resp.ErrorMessage, "no eligible provider")
}

func TestGetCompletionCancellationStopsWalk(t *testing.T) {
	t.Parallel()

	first := textAdapter("OpenAI", 1, failWith(model.NewError(model.ErrCancelled, "request cancelled")))
	second := textAdapter("Groq", 2, succeedWith("never"))
	orch := buildOrchestrator(first, second)

	resp := orch.GetCompletion(context.Background(), chatRequest())
	require.False(t, resp.Succeeded())
	assert.Equal(t, model.ErrCancelled, resp.ErrorCode)
	assert.Equal(t, 0, second.calls, "cancellation must not try further providers")
}

func TestGetCompletionPreCancelledContext(t *testing.T) {
	t.Parallel()

	adapter := textAdapter("OpenAI", 1, succeedWith("never"))
	orch := buildOrchestrator(adapter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := orch.GetCompletion(ctx, chatRequest())
	require.False(t, resp.Succeeded())
	assert.Equal(t, model.ErrCancelled, resp.ErrorCode)
	assert.Equal(t, 0, adapter.calls)
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	healthy := textAdapter("OpenAI", 1, succeedWith("ok"))
	broken := textAdapter("Groq", 2, succeedWith("ok"))
	broken.breaker = pipeline.StateOpen
	orch := buildOrchestrator(healthy, broken)

	status := orch.HealthCheck(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, 2, status.TotalProviders)
	assert.Equal(t, 1, status.HealthyProviders)
}

func TestHealthCheckAllBreakersOpen(t *testing.T) {
	t.Parallel()

	a := textAdapter("OpenAI", 1, succeedWith("ok"))
	a.breaker = pipeline.StateOpen
	orch := buildOrchestrator(a)

	status := orch.HealthCheck(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, 0, status.HealthyProviders)
}

func TestProviderInfo(t *testing.T) {
	t.Parallel()

	a := textAdapter("Ollama", 3, succeedWith("ok"))
	a.local = true
	orch := buildOrchestrator(a)

	info := orch.ProviderInfo()
	require.Len(t, info, 1)
	assert.Equal(t, "Ollama", info[0].Name)
	assert.True(t, info[0].Local)
	assert.True(t, info[0].Enabled)
	assert.Equal(t, "closed", info[0].BreakerState)
}
