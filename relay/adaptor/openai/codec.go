// Package openai adapts the OpenAI chat-completions API. It counts tokens
// with tiktoken where the encoding is known, falling back to the shared
// heuristic otherwise.
package openai

import (
	"context"
	"net/http"
	"sync"

	"github.com/Laisky/zap"
	"github.com/pkoukk/tiktoken-go"

	"github.com/modelmux/modelmux/common/config"
	"github.com/modelmux/modelmux/common/logger"
	"github.com/modelmux/modelmux/relay/adaptor"
	"github.com/modelmux/modelmux/relay/adaptor/openai_compatible"
	"github.com/modelmux/modelmux/relay/model"
)

// Pricing per 1K tokens in USD, gpt-4o rates.
const (
	inputCostPer1K  = 0.0025
	outputCostPer1K = 0.01
)

// Codec implements the OpenAI provider.
type Codec struct {
	openai_compatible.Codec

	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
}

// NewCodec builds the OpenAI codec.
func NewCodec() *Codec {
	return &Codec{
		Codec: openai_compatible.Codec{
			ProviderName:   "OpenAI",
			DefaultBaseURL: "https://api.openai.com/v1",
		},
	}
}

func (c *Codec) Name() string { return c.ProviderName }

func (c *Codec) DefaultModel() string { return "gpt-4o" }

func (c *Codec) IsLocal() bool { return false }

func (c *Codec) Capabilities() model.Capabilities {
	return model.Capabilities{
		TextCompletion:     true,
		ChatCompletion:     true,
		VisionAnalysis:     true,
		ImageGeneration:    true,
		AudioTranscription: true,
		MaxTokensLimit:     4096,
		ImageFormats:       []string{"png", "jpeg", "jpg", "gif", "webp"},
		AudioFormats:       []string{"mp3", "mp4", "wav", "webm", "m4a", "flac", "ogg"},
	}
}

// BuildRequest routes image generation and transcription to their own
// endpoints; everything else uses the shared chat-completions path.
func (c *Codec) BuildRequest(ctx context.Context, req *model.Request, cfg *config.ProviderConfig, apiKey, modelName string, maxTokens int) (*http.Request, error) {
	switch req.Kind {
	case model.ImageGeneration:
		return buildImageRequest(ctx, req, cfg, apiKey)
	case model.AudioTranscription:
		return buildTranscriptionRequest(ctx, req, cfg, apiKey)
	}
	return c.Codec.BuildRequest(ctx, req, cfg, apiKey, modelName, maxTokens)
}

// ParseResponse mirrors the BuildRequest routing.
func (c *Codec) ParseResponse(resp *http.Response, req *model.Request) (*adaptor.Upstream, error) {
	switch req.Kind {
	case model.ImageGeneration:
		return parseImageResponse(resp)
	case model.AudioTranscription:
		return parseTranscriptionResponse(resp)
	}
	return c.Codec.ParseResponse(resp, req)
}

func (c *Codec) EstimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*inputCostPer1K + float64(outputTokens)/1000*outputCostPer1K
}

// CountTokens counts with the o200k_base encoding. Returns 0 when the
// encoding cannot be loaded, letting the caller fall back to estimation.
func (c *Codec) CountTokens(text string) int {
	c.encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("o200k_base")
		if err != nil {
			logger.Logger.Warn("tiktoken encoding unavailable, falling back to estimation",
				zap.Error(err))
			return
		}
		c.encoding = enc
	})
	if c.encoding == nil {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}
