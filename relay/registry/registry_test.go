package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelmux/modelmux/relay/adaptor"
	"github.com/modelmux/modelmux/relay/model"
	"github.com/modelmux/modelmux/relay/pipeline"
)

type stubAdapter struct {
	name     string
	priority int
	local    bool
	enabled  bool
	caps     model.Capabilities
}

func (s *stubAdapter) Name() string                      { return s.name }
func (s *stubAdapter) Priority() int                     { return s.priority }
func (s *stubAdapter) IsLocal() bool                     { return s.local }
func (s *stubAdapter) Enabled() bool                     { return s.enabled }
func (s *stubAdapter) Capabilities() model.Capabilities  { return s.caps }
func (s *stubAdapter) ShouldFallback(*model.Error) bool  { return true }
func (s *stubAdapter) EstimateCost(in, out int) float64  { return 0 }
func (s *stubAdapter) BreakerState() pipeline.BreakerState {
	return pipeline.StateClosed
}

func (s *stubAdapter) CanHandle(req *model.Request) bool {
	return s.enabled && s.caps.Supports(req.Kind)
}

func (s *stubAdapter) Execute(ctx context.Context, req *model.Request) (*model.Response, *model.Error) {
	return &model.Response{Content: "ok", Provider: s.name, IsSuccess: true}, nil
}

func textCaps() model.Capabilities {
	return model.Capabilities{TextCompletion: true, ChatCompletion: true}
}

func names(list []adaptor.Adapter) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.Name()
	}
	return out
}

func TestCandidatesPriorityOrder(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(&stubAdapter{name: "Groq", priority: 2, enabled: true, caps: textCaps()})
	r.Register(&stubAdapter{name: "OpenAI", priority: 1, enabled: true, caps: textCaps()})
	r.Register(&stubAdapter{name: "DeepSeek", priority: 3, enabled: true, caps: textCaps()})

	got := r.Candidates(&model.Request{Kind: model.ChatCompletion})
	assert.Equal(t, []string{"OpenAI", "Groq", "DeepSeek"}, names(got))
}

func TestCandidatesFiltersIncapableAndDisabled(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(&stubAdapter{name: "OpenAI", priority: 1, enabled: true, caps: textCaps()})
	r.Register(&stubAdapter{name: "Disabled", priority: 0, enabled: false, caps: textCaps()})
	r.Register(&stubAdapter{name: "TTSOnly", priority: 0, enabled: true, caps: model.Capabilities{TextToSpeech: true}})

	got := r.Candidates(&model.Request{Kind: model.ChatCompletion})
	assert.Equal(t, []string{"OpenAI"}, names(got))

	got = r.Candidates(&model.Request{Kind: model.TextToSpeech})
	assert.Equal(t, []string{"TTSOnly"}, names(got))
}

func TestCandidatesLocalSortsLast(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(&stubAdapter{name: "Ollama", priority: 0, local: true, enabled: true, caps: textCaps()})
	r.Register(&stubAdapter{name: "OpenAI", priority: 5, enabled: true, caps: textCaps()})

	got := r.Candidates(&model.Request{Kind: model.TextCompletion})
	require.Equal(t, []string{"OpenAI", "Ollama"}, names(got),
		"local adapters fall back behind remote ones despite better priority")

	got = r.Candidates(&model.Request{
		Kind:                 model.TextCompletion,
		AdditionalParameters: map[string]any{"preferLocal": true},
	})
	assert.Equal(t, []string{"Ollama", "OpenAI"}, names(got))
}

func TestCandidatesFallbackOrderOverride(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(&stubAdapter{name: "OpenAI", priority: 1, enabled: true, caps: textCaps()})
	r.Register(&stubAdapter{name: "Groq", priority: 2, enabled: true, caps: textCaps()})
	r.Register(&stubAdapter{name: "DeepSeek", priority: 3, enabled: true, caps: textCaps()})
	r.SetFallbackOrder([]string{"DeepSeek", "Groq"})

	got := r.Candidates(&model.Request{Kind: model.ChatCompletion})
	assert.Equal(t, []string{"DeepSeek", "Groq", "OpenAI"}, names(got))
}

func TestCandidatesRegistrationOrderBreaksTies(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(&stubAdapter{name: "First", priority: 1, enabled: true, caps: textCaps()})
	r.Register(&stubAdapter{name: "Second", priority: 1, enabled: true, caps: textCaps()})

	got := r.Candidates(&model.Request{Kind: model.TextCompletion})
	assert.Equal(t, []string{"First", "Second"}, names(got))
}

func TestGet(t *testing.T) {
	t.Parallel()

	r := New()
	a := &stubAdapter{name: "OpenAI", enabled: true, caps: textCaps()}
	r.Register(a)

	assert.Equal(t, adaptor.Adapter(a), r.Get("OpenAI"))
	assert.Nil(t, r.Get("missing"))
	assert.Len(t, r.All(), 1)
}
