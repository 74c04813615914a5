package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/modelmux/modelmux/relay/model"
)

func TestFingerprintDeterministic(t *testing.T) {
	t.Parallel()

	req := &model.Request{
		Kind:        model.ChatCompletion,
		Prompt:      "what is the capital of France?",
		MaxTokens:   100,
		Temperature: 0.7,
		AdditionalParameters: map[string]any{
			"topP": 0.9,
			"stop": []any{"\n"},
		},
	}

	first := Fingerprint("OpenAI", "gpt-4o", req)
	second := Fingerprint("OpenAI", "gpt-4o", req)
	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first, "openai_"))
}

func TestFingerprintIgnoresCallerContext(t *testing.T) {
	t.Parallel()

	a := &model.Request{Prompt: "hello", MaxTokens: 50, Context: model.RequestContext{UserId: "alice", RequestId: "r1"}}
	b := &model.Request{Prompt: "hello", MaxTokens: 50, Context: model.RequestContext{UserId: "bob", RequestId: "r2"}}
	assert.Equal(t, Fingerprint("OpenAI", "gpt-4o", a), Fingerprint("OpenAI", "gpt-4o", b))
}

func TestFingerprintDistinguishesInputs(t *testing.T) {
	t.Parallel()

	base := &model.Request{Prompt: "hello", MaxTokens: 50, Temperature: 0.5}
	baseKey := Fingerprint("OpenAI", "gpt-4o", base)

	altered := []*model.Request{
		{Prompt: "goodbye", MaxTokens: 50, Temperature: 0.5},
		{Prompt: "hello", MaxTokens: 51, Temperature: 0.5},
		{Prompt: "hello", MaxTokens: 50, Temperature: 0.6},
		{Prompt: "hello", MaxTokens: 50, Temperature: 0.5, AdditionalParameters: map[string]any{"topP": 1.0}},
	}
	for i, req := range altered {
		assert.NotEqual(t, baseKey, Fingerprint("OpenAI", "gpt-4o", req), "variant %d must fingerprint differently", i)
	}

	assert.NotEqual(t, baseKey, Fingerprint("Anthropic", "gpt-4o", base))
	assert.NotEqual(t, baseKey, Fingerprint("OpenAI", "gpt-4o-mini", base))
}

func TestFingerprintRoundsTemperature(t *testing.T) {
	t.Parallel()

	a := &model.Request{Prompt: "hello", Temperature: 0.701}
	b := &model.Request{Prompt: "hello", Temperature: 0.699}
	c := &model.Request{Prompt: "hello", Temperature: 0.70}
	assert.Equal(t, Fingerprint("OpenAI", "m", c), Fingerprint("OpenAI", "m", a))
	assert.Equal(t, Fingerprint("OpenAI", "m", c), Fingerprint("OpenAI", "m", b))
}
