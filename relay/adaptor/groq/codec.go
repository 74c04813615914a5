// Package groq adapts the Groq chat-completions API. Groq serves open
// models with aggressive sampling defaults, so only deterministic requests
// are cached.
package groq

import (
	"github.com/modelmux/modelmux/relay/adaptor/openai_compatible"
	"github.com/modelmux/modelmux/relay/model"
)

const (
	inputCostPer1K  = 0.00059
	outputCostPer1K = 0.00079
)

// Codec implements the Groq provider.
type Codec struct {
	openai_compatible.Codec
}

// NewCodec builds the Groq codec.
func NewCodec() *Codec {
	return &Codec{
		Codec: openai_compatible.Codec{
			ProviderName:   "Groq",
			DefaultBaseURL: "https://api.groq.com/openai/v1",
		},
	}
}

func (c *Codec) Name() string { return c.ProviderName }

func (c *Codec) DefaultModel() string { return "llama-3.3-70b-versatile" }

func (c *Codec) IsLocal() bool { return false }

func (c *Codec) Capabilities() model.Capabilities {
	return model.Capabilities{
		TextCompletion: true,
		ChatCompletion: true,
		MaxTokensLimit: 8192,
	}
}

func (c *Codec) EstimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*inputCostPer1K + float64(outputTokens)/1000*outputCostPer1K
}

// CacheDeterministicOnly restricts caching to temperature-zero requests.
func (c *Codec) CacheDeterministicOnly() bool { return true }
