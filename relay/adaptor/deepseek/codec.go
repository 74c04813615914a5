// Package deepseek adapts the DeepSeek chat-completions API.
package deepseek

import (
	"github.com/modelmux/modelmux/relay/adaptor/openai_compatible"
	"github.com/modelmux/modelmux/relay/model"
)

const (
	inputCostPer1K  = 0.00027
	outputCostPer1K = 0.0011
)

// Codec implements the DeepSeek provider.
type Codec struct {
	openai_compatible.Codec
}

// NewCodec builds the DeepSeek codec.
func NewCodec() *Codec {
	return &Codec{
		Codec: openai_compatible.Codec{
			ProviderName:   "DeepSeek",
			DefaultBaseURL: "https://api.deepseek.com",
		},
	}
}

func (c *Codec) Name() string { return c.ProviderName }

func (c *Codec) DefaultModel() string { return "deepseek-chat" }

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
