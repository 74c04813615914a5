// Package openai_compatible implements the chat-completions wire format
// shared by OpenAI and the providers that clone its API (Groq, DeepSeek and
// others). Vendor packages embed Codec and override name, defaults and
// pricing.
package openai_compatible

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

// Message is one chat turn. Content is a string for plain text or a slice
// of content parts for vision requests.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ImageURL wraps a vision content part's image reference.
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ChatRequest is the chat-completions request body.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

// ChatResponse is the chat-completions response body.
type ChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Codec implements the shared half of every chat-completions provider.
// Vendor packages wrap it and supply name, base URL, default model, pricing
// and capabilities.
type Codec struct {
	ProviderName   string
	DefaultBaseURL string
	ChatPath       string
}

// Messages derives the chat turns from a request. Vision requests become a
// single multimodal user message.
func Messages(req *model.Request) []Message {
	var msgs []Message
	if req.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.SystemPrompt})
	}

	if req.Kind == model.VisionAnalysis {
		parts := []ContentPart{{Type: "text", Text: visionPrompt(req)}}
		for _, url := range req.ImageUrls {
			parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}})
		}
		if len(req.ImageBytes) > 0 {
			parts = append(parts, ContentPart{
				Type:     "image_url",
				ImageURL: &ImageURL{URL: DataURL(req.ImageBytes, req.ImageFormat)},
			})
		}
		return append(msgs, Message{Role: "user", Content: parts})
	}

	return append(msgs, Message{Role: "user", Content: req.Prompt})
}

func visionPrompt(req *model.Request) string {
	if req.Prompt != "" {
		return req.Prompt
	}
	return "Describe this image."
}

// DataURL encodes raw image bytes as an inline data URL.
func DataURL(data []byte, format string) string {
	if format == "" {
		format = "png"
	}
	return "data:image/" + strings.ToLower(format) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// BuildRequest assembles the POST /chat/completions call.
func (c Codec) BuildRequest(ctx context.Context, req *model.Request, cfg *config.ProviderConfig, apiKey, modelName string, maxTokens int) (*http.Request, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = c.DefaultBaseURL
	}

	body := ChatRequest{
		Model:     modelName,
		Messages:  Messages(req),
		MaxTokens: maxTokens,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal chat request")
	}

	path := c.ChatPath
	if path == "" {
		path = "/chat/completions"
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "create chat request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return httpReq, nil
}

// ParseResponse decodes a chat-completions response into the neutral form.
func (c Codec) ParseResponse(resp *http.Response, _ *model.Request) (*adaptor.Upstream, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read chat response")
	}

	var parsed ChatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrap(err, "decode chat response")
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.Errorf("%s returned no choices", c.ProviderName)
	}

	up := &adaptor.Upstream{
		Content:      parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}
	if fr := parsed.Choices[0].FinishReason; fr != "" {
		up.Metadata = map[string]any{"finish_reason": fr}
	}
	return up, nil
}
