// Package anthropic adapts the Anthropic messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/modelmux/modelmux/common/config"
	"github.com/modelmux/modelmux/relay/adaptor"
	"github.com/modelmux/modelmux/relay/model"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"

	// Pricing per 1K tokens in USD, claude-sonnet rates.
	inputCostPer1K  = 0.003
	outputCostPer1K = 0.015
)

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Codec implements the Anthropic provider.
type Codec struct{}

// NewCodec builds the Anthropic codec.
func NewCodec() *Codec { return &Codec{} }

func (c *Codec) Name() string { return "Anthropic" }

func (c *Codec) DefaultModel() string { return "claude-sonnet-4-20250514" }

func (c *Codec) IsLocal() bool { return false }

func (c *Codec) Capabilities() model.Capabilities {
	return model.Capabilities{
		TextCompletion: true,
		ChatCompletion: true,
		VisionAnalysis: true,
		MaxTokensLimit: 8192,
		ImageFormats:   []string{"png", "jpeg", "jpg", "gif", "webp"},
	}
}

func (c *Codec) EstimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*inputCostPer1K + float64(outputTokens)/1000*outputCostPer1K
}

// BuildRequest assembles the POST /messages call. The messages API has no
// image URL support, so only inline image bytes reach the wire.
func (c *Codec) BuildRequest(ctx context.Context, req *model.Request, cfg *config.ProviderConfig, apiKey, modelName string, maxTokens int) (*http.Request, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	body := messagesRequest{
		Model:     modelName,
		MaxTokens: maxTokens,
		System:    req.SystemPrompt,
		Messages:  []message{userMessage(req)},
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal messages request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "create messages request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", apiKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)
	return httpReq, nil
}

func userMessage(req *model.Request) message {
	if req.Kind != model.VisionAnalysis || len(req.ImageBytes) == 0 {
		return message{Role: "user", Content: req.Prompt}
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = "Describe this image."
	}
	format := strings.ToLower(req.ImageFormat)
	if format == "" || format == "jpg" {
		format = "jpeg"
	}
	return message{Role: "user", Content: []contentBlock{
		{Type: "image", Source: &imageSource{
			Type:      "base64",
			MediaType: "image/" + format,
			Data:      base64.StdEncoding.EncodeToString(req.ImageBytes),
		}},
		{Type: "text", Text: prompt},
	}}
}

// ParseResponse decodes a messages response, concatenating text blocks.
func (c *Codec) ParseResponse(resp *http.Response, _ *model.Request) (*adaptor.Upstream, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read messages response")
	}

	var parsed messagesResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrap(err, "decode messages response")
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, errors.Errorf("anthropic returned no text content")
	}

	up := &adaptor.Upstream{
		Content:      sb.String(),
		Model:        parsed.Model,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}
	if parsed.StopReason != "" {
		up.Metadata = map[string]any{"stop_reason": parsed.StopReason}
	}
	return up, nil
}
