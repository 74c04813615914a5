package adaptor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelmux/modelmux/common/config"
	"github.com/modelmux/modelmux/relay/cache"
	"github.com/modelmux/modelmux/relay/keymgr"
	"github.com/modelmux/modelmux/relay/model"
	"github.com/modelmux/modelmux/relay/pipeline"
	"github.com/modelmux/modelmux/relay/quota"
)

// stubCodec is a minimal text provider for exercising the runner.
type stubCodec struct {
	name          string
	caps          model.Capabilities
	deterministic bool

	lastMaxTokens atomic.Int64
	lastAPIKey    string
}

func (s *stubCodec) Name() string                     { return s.name }
func (s *stubCodec) DefaultModel() string             { return "stub-1" }
func (s *stubCodec) IsLocal() bool                    { return false }
func (s *stubCodec) Capabilities() model.Capabilities { return s.caps }
func (s *stubCodec) EstimateCost(in, out int) float64 {
	return float64(in+out) * 0.001
}
func (s *stubCodec) CacheDeterministicOnly() bool { return s.deterministic }

func (s *stubCodec) BuildRequest(ctx context.Context, req *model.Request, cfg *config.ProviderConfig, apiKey, modelName string, maxTokens int) (*http.Request, error) {
	s.lastMaxTokens.Store(int64(maxTokens))
	s.lastAPIKey = apiKey
	body, _ := json.Marshal(map[string]any{"prompt": req.Prompt, "max_tokens": maxTokens})
	return http.NewRequestWithContext(ctx, http.MethodPost, "http://stub.test/v1/complete", bytes.NewReader(body))
}

func (s *stubCodec) ParseResponse(resp *http.Response, _ *model.Request) (*Upstream, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Content      string `json:"content"`
		FinishReason string `json:"finish_reason"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrap(err, "decode stub response")
	}
	up := &Upstream{Content: parsed.Content}
	if parsed.FinishReason != "" {
		up.Metadata = map[string]any{"finish_reason": parsed.FinishReason}
	}
	return up, nil
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func textCaps() model.Capabilities {
	return model.Capabilities{TextCompletion: true, ChatCompletion: true, MaxTokensLimit: 4096}
}

func newStubBase(codec Codec, cfg *config.ProviderConfig, deps Dependencies, rt roundTripFunc) *Base {
	if cfg == nil {
		cfg = &config.ProviderConfig{Name: codec.Name(), IsEnabled: true}
	}
	deps.HTTPClient = &http.Client{Transport: rt}
	deps.PipelineOptions = []pipeline.Option{pipeline.WithBackoffBase(time.Millisecond)}
	return NewBase(codec, cfg, deps)
}

func chatRequest(prompt string) *model.Request {
	return &model.Request{
		Kind:      model.ChatCompletion,
		Prompt:    prompt,
		MaxTokens: 100,
		Context:   model.RequestContext{RequestId: "r1", UserId: "u1"},
	}
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()

	codec := &stubCodec{name: "Stub", caps: textCaps()}
	var calls atomic.Int64
	b := newStubBase(codec, nil, Dependencies{}, func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(200, `{"content":"the answer"}`), nil
	})

	resp, aerr := b.Execute(context.Background(), chatRequest("question"))
	require.Nil(t, aerr)
	require.True(t, resp.Succeeded())
	assert.Equal(t, "the answer", resp.Content)
	assert.Equal(t, "Stub", resp.Provider)
	assert.Equal(t, "stub-1", resp.Model)
	assert.Greater(t, resp.TokensUsed, 0)
	assert.Greater(t, resp.EstimatedCost, 0.0)
	assert.Equal(t, false, resp.Metadata["cached"])
	assert.Equal(t, int64(1), calls.Load())
}

func TestExecuteClampsMaxTokens(t *testing.T) {
	t.Parallel()

	codec := &stubCodec{name: "Stub", caps: textCaps()}
	b := newStubBase(codec, nil, Dependencies{}, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"content":"ok"}`), nil
	})

	req := chatRequest("q")
	req.MaxTokens = 10_000_000
	resp, aerr := b.Execute(context.Background(), req)
	require.Nil(t, aerr)
	require.True(t, resp.Succeeded())
	assert.Equal(t, int64(4096), codec.lastMaxTokens.Load(),
		"oversized maxTokens clamps to the capability limit instead of failing")
}

func TestExecuteMissingMediaRejected(t *testing.T) {
	t.Parallel()

	codec := &stubCodec{name: "Stub", caps: model.Capabilities{VisionAnalysis: true, AudioTranscription: true}}
	b := newStubBase(codec, nil, Dependencies{}, func(r *http.Request) (*http.Response, error) {
		t.Fatal("invalid requests must not reach the network")
		return nil, nil
	})

	_, aerr := b.Execute(context.Background(), &model.Request{Kind: model.VisionAnalysis})
	require.NotNil(t, aerr)
	assert.Equal(t, model.ErrInvalidRequest, aerr.Code)

	_, aerr = b.Execute(context.Background(), &model.Request{Kind: model.AudioTranscription})
	require.NotNil(t, aerr)
	assert.Equal(t, model.ErrInvalidRequest, aerr.Code)
}

func TestExecuteCacheHitSkipsNetwork(t *testing.T) {
	t.Parallel()

	codec := &stubCodec{name: "Stub", caps: textCaps()}
	cfg := &config.ProviderConfig{Name: "Stub", IsEnabled: true, EnableCaching: true}
	var calls atomic.Int64
	b := newStubBase(codec, cfg, Dependencies{Cache: cache.NewMemoryCache()}, func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(200, `{"content":"cached answer"}`), nil
	})

	first, aerr := b.Execute(context.Background(), chatRequest("q"))
	require.Nil(t, aerr)
	require.True(t, first.Succeeded())
	assert.Equal(t, false, first.Metadata["cached"])

	second, aerr := b.Execute(context.Background(), chatRequest("q"))
	require.Nil(t, aerr)
	require.True(t, second.Succeeded())
	assert.Equal(t, true, second.Metadata["cached"])
	assert.Equal(t, "cached answer", second.Content)
	assert.Equal(t, int64(1), second.Metadata["cache_hit_count"])
	assert.Equal(t, int64(1), calls.Load(), "the cache hit must not touch the network")

	// A different prompt misses.
	third, aerr := b.Execute(context.Background(), chatRequest("other"))
	require.Nil(t, aerr)
	assert.Equal(t, false, third.Metadata["cached"])
	assert.Equal(t, int64(2), calls.Load())
}

func TestExecuteCacheHitKeepsUpstreamMetadata(t *testing.T) {
	t.Parallel()

	codec := &stubCodec{name: "Stub", caps: textCaps()}
	cfg := &config.ProviderConfig{Name: "Stub", IsEnabled: true, EnableCaching: true}
	b := newStubBase(codec, cfg, Dependencies{Cache: cache.NewMemoryCache()}, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"content":"done","finish_reason":"stop"}`), nil
	})

	first, aerr := b.Execute(context.Background(), chatRequest("q"))
	require.Nil(t, aerr)
	assert.Equal(t, "stop", first.Metadata["finish_reason"])

	second, aerr := b.Execute(context.Background(), chatRequest("q"))
	require.Nil(t, aerr)
	require.Equal(t, true, second.Metadata["cached"])
	assert.Equal(t, "stop", second.Metadata["finish_reason"],
		"upstream metadata survives the cache round trip")
	assert.Equal(t, first.Metadata["input_tokens"], second.Metadata["input_tokens"])
	assert.Equal(t, first.Metadata["output_tokens"], second.Metadata["output_tokens"])
}

func TestExecuteDeterministicOnlyCachePolicy(t *testing.T) {
	t.Parallel()

	codec := &stubCodec{name: "Stub", caps: textCaps(), deterministic: true}
	cfg := &config.ProviderConfig{Name: "Stub", IsEnabled: true, EnableCaching: true}
	var calls atomic.Int64
	b := newStubBase(codec, cfg, Dependencies{Cache: cache.NewMemoryCache()}, func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(200, `{"content":"ok"}`), nil
	})

	sampled := chatRequest("q")
	sampled.Temperature = 0.8
	for i := 0; i < 2; i++ {
		resp, aerr := b.Execute(context.Background(), sampled)
		require.Nil(t, aerr)
		require.True(t, resp.Succeeded())
	}
	assert.Equal(t, int64(2), calls.Load(), "sampled requests bypass the cache under the deterministic-only policy")

	deterministic := chatRequest("q")
	for i := 0; i < 2; i++ {
		resp, aerr := b.Execute(context.Background(), deterministic)
		require.Nil(t, aerr)
		require.True(t, resp.Succeeded())
	}
	assert.Equal(t, int64(3), calls.Load(), "temperature-zero requests are cached")
}

type denyingQuota struct {
	quota.NullManager
	recorded []bool
}

func (d *denyingQuota) CheckQuota(ctx context.Context, provider, userId string, estTokens int64, estCost float64) (*quota.CheckResult, error) {
	return &quota.CheckResult{CanProceed: false, TimeUntilReset: time.Hour}, nil
}

func (d *denyingQuota) RecordUsage(ctx context.Context, provider, userId string, tokens int64, cost float64, success bool) error {
	d.recorded = append(d.recorded, success)
	return nil
}

func TestExecuteQuotaDenied(t *testing.T) {
	t.Parallel()

	codec := &stubCodec{name: "Stub", caps: textCaps()}
	b := newStubBase(codec, nil, Dependencies{Quota: &denyingQuota{}}, func(r *http.Request) (*http.Response, error) {
		t.Fatal("denied requests must not reach the network")
		return nil, nil
	})

	_, aerr := b.Execute(context.Background(), chatRequest("q"))
	require.NotNil(t, aerr)
	assert.Equal(t, model.ErrQuotaExceeded, aerr.Code)
	assert.Contains(t, aerr.Message, "resets in")
}

type brokenQuota struct{ quota.NullManager }

func (brokenQuota) CheckQuota(ctx context.Context, provider, userId string, estTokens int64, estCost float64) (*quota.CheckResult, error) {
	return nil, errors.New("store down")
}

func TestExecuteQuotaStoreFailureFailsOpen(t *testing.T) {
	t.Parallel()

	codec := &stubCodec{name: "Stub", caps: textCaps()}
	b := newStubBase(codec, nil, Dependencies{Quota: brokenQuota{}}, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"content":"served"}`), nil
	})

	resp, aerr := b.Execute(context.Background(), chatRequest("q"))
	require.Nil(t, aerr)
	assert.True(t, resp.Succeeded(), "a broken quota store must not block traffic")
}

func TestExecuteRateLimited(t *testing.T) {
	t.Parallel()

	codec := &stubCodec{name: "Stub", caps: textCaps()}
	cfg := &config.ProviderConfig{Name: "Stub", IsEnabled: true, EnableRateLimiting: true, RequestsPerMinute: 1}
	b := newStubBase(codec, cfg, Dependencies{}, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"content":"ok"}`), nil
	})

	resp, aerr := b.Execute(context.Background(), chatRequest("q"))
	require.Nil(t, aerr)
	require.True(t, resp.Succeeded())

	_, aerr = b.Execute(context.Background(), chatRequest("q"))
	require.NotNil(t, aerr)
	assert.Equal(t, model.ErrRateLimitExceeded, aerr.Code)
	assert.Contains(t, aerr.Message, "retry after")
	assert.True(t, b.ShouldFallback(aerr))
}

func TestExecuteUpstreamServerError(t *testing.T) {
	t.Parallel()

	codec := &stubCodec{name: "Stub", caps: textCaps()}
	cfg := &config.ProviderConfig{Name: "Stub", IsEnabled: true, MaxRetries: 1}
	var calls atomic.Int64
	b := newStubBase(codec, cfg, Dependencies{}, func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(502, `{"error":"bad gateway"}`), nil
	})

	_, aerr := b.Execute(context.Background(), chatRequest("q"))
	require.NotNil(t, aerr)
	status, ok := aerr.Code.HTTPStatus()
	require.True(t, ok)
	assert.Equal(t, 502, status)
	assert.Equal(t, int64(2), calls.Load(), "5xx is retried once under MaxRetries=1")
	assert.True(t, b.ShouldFallback(aerr))
}

func TestExecuteUpstreamClientErrorNoRetryNoFallback(t *testing.T) {
	t.Parallel()

	codec := &stubCodec{name: "Stub", caps: textCaps()}
	cfg := &config.ProviderConfig{Name: "Stub", IsEnabled: true, MaxRetries: 3}
	var calls atomic.Int64
	b := newStubBase(codec, cfg, Dependencies{}, func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(422, `{"error":"unprocessable"}`), nil
	})

	_, aerr := b.Execute(context.Background(), chatRequest("q"))
	require.NotNil(t, aerr)
	status, ok := aerr.Code.HTTPStatus()
	require.True(t, ok)
	assert.Equal(t, 422, status)
	assert.Equal(t, int64(1), calls.Load())
	assert.False(t, b.ShouldFallback(aerr))
}

func TestExecuteEmptyContentIsInvalidResponse(t *testing.T) {
	t.Parallel()

	codec := &stubCodec{name: "Stub", caps: textCaps()}
	b := newStubBase(codec, nil, Dependencies{}, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"content":""}`), nil
	})

	_, aerr := b.Execute(context.Background(), chatRequest("q"))
	require.NotNil(t, aerr)
	assert.Equal(t, model.ErrInvalidResponse, aerr.Code)
	assert.False(t, b.ShouldFallback(aerr))
}

func TestExecuteAuthFailureQuarantinesKey(t *testing.T) {
	t.Parallel()

	codec := &stubCodec{name: "Stub", caps: textCaps()}
	cfg := &config.ProviderConfig{Name: "Stub", IsEnabled: true, APIKey: "fallback"}
	keys := keymgr.New()
	keys.Register("Stub", "bad-key-000000,good-key-11111")

	var calls atomic.Int64
	b := newStubBase(codec, cfg, Dependencies{Keys: keys}, func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(401, `{"error":"invalid key"}`), nil
	})

	_, aerr := b.Execute(context.Background(), chatRequest("q"))
	require.NotNil(t, aerr)
	assert.Equal(t, "bad-key-000000", codec.lastAPIKey)
	assert.True(t, b.ShouldFallback(aerr), "auth failures may succeed on another provider")

	// The failed key sits out; the next attempt uses the other one.
	assert.Equal(t, "good-key-11111", keys.CurrentKey("Stub"))
}

func TestExecuteFailedUsageRecordedWithoutTokens(t *testing.T) {
	t.Parallel()

	codec := &stubCodec{name: "Stub", caps: textCaps()}
	q := &denyingQuota{}
	// Admit everything; only observe RecordUsage.
	allow := &allowingQuota{inner: q}
	b := newStubBase(codec, nil, Dependencies{Quota: allow}, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(500, `{"error":"boom"}`), nil
	})

	_, aerr := b.Execute(context.Background(), chatRequest("q"))
	require.NotNil(t, aerr)
	require.Len(t, q.recorded, 1)
	assert.False(t, q.recorded[0], "failed attempts are recorded as unsuccessful")
}

type allowingQuota struct {
	inner *denyingQuota
}

func (a *allowingQuota) CheckQuota(ctx context.Context, provider, userId string, estTokens int64, estCost float64) (*quota.CheckResult, error) {
	return &quota.CheckResult{CanProceed: true, RemainingRequests: -1, RemainingTokens: -1}, nil
}

func (a *allowingQuota) RecordUsage(ctx context.Context, provider, userId string, tokens int64, cost float64, success bool) error {
	return a.inner.RecordUsage(ctx, provider, userId, tokens, cost, success)
}

func (a *allowingQuota) Status(ctx context.Context, provider string) ([]quota.Status, error) {
	return nil, nil
}

func TestCanHandle(t *testing.T) {
	t.Parallel()

	codec := &stubCodec{name: "Stub", caps: model.Capabilities{
		ChatCompletion: true,
		VisionAnalysis: true,
		Languages:      []string{"en", "fr"},
		ImageFormats:   []string{"png"},
	}}
	b := newStubBase(codec, nil, Dependencies{}, nil)

	assert.True(t, b.CanHandle(&model.Request{Kind: model.ChatCompletion}))
	assert.False(t, b.CanHandle(&model.Request{Kind: model.TextToSpeech}))
	assert.False(t, b.CanHandle(&model.Request{
		Kind:    model.ChatCompletion,
		Context: model.RequestContext{Language: "de"},
	}))
	assert.True(t, b.CanHandle(&model.Request{
		Kind:        model.VisionAnalysis,
		ImageBytes:  []byte{1},
		ImageFormat: "png",
	}))
	assert.False(t, b.CanHandle(&model.Request{
		Kind:        model.VisionAnalysis,
		ImageBytes:  []byte{1},
		ImageFormat: "tiff",
	}))

	disabled := newStubBase(codec, &config.ProviderConfig{Name: "Stub", IsEnabled: false}, Dependencies{}, nil)
	assert.False(t, disabled.CanHandle(&model.Request{Kind: model.ChatCompletion}))
}

func TestExecuteRetriesTransportError(t *testing.T) {
	t.Parallel()

	codec := &stubCodec{name: "Stub", caps: textCaps()}
	cfg := &config.ProviderConfig{Name: "Stub", IsEnabled: true, MaxRetries: 2}
	var calls atomic.Int64
	b := newStubBase(codec, cfg, Dependencies{}, func(r *http.Request) (*http.Response, error) {
		if calls.Add(1) < 2 {
			return nil, io.ErrUnexpectedEOF
		}
		return jsonResponse(200, `{"content":"recovered"}`), nil
	})

	resp, aerr := b.Execute(context.Background(), chatRequest("q"))
	require.Nil(t, aerr)
	assert.True(t, resp.Succeeded())
	assert.Equal(t, int64(2), calls.Load())
}
