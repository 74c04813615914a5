// Package ollama adapts a local Ollama daemon via its native chat API.
// Local inference is free and sorts after remote providers unless the
// request asks for local-first routing.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/modelmux/modelmux/common/config"
	"github.com/modelmux/modelmux/relay/adaptor"
	"github.com/modelmux/modelmux/relay/model"
)

const defaultBaseURL = "http://localhost:11434"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`

	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// Codec implements the Ollama provider.
type Codec struct{}

// NewCodec builds the Ollama codec.
func NewCodec() *Codec { return &Codec{} }

func (c *Codec) Name() string { return "Ollama" }

func (c *Codec) DefaultModel() string { return "llama3.2" }

func (c *Codec) IsLocal() bool { return true }

func (c *Codec) Capabilities() model.Capabilities {
	return model.Capabilities{
		TextCompletion: true,
		ChatCompletion: true,
		MaxTokensLimit: 4096,
	}
}

// EstimateCost is zero: local inference has no per-token charge.
func (c *Codec) EstimateCost(_, _ int) float64 { return 0 }

// BuildRequest assembles the non-streaming POST /api/chat call.
func (c *Codec) BuildRequest(ctx context.Context, req *model.Request, cfg *config.ProviderConfig, _ string, modelName string, maxTokens int) (*http.Request, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	var msgs []chatMessage
	if req.SystemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})

	body := chatRequest{
		Model:    modelName,
		Messages: msgs,
		Stream:   false,
	}
	options := map[string]any{}
	if maxTokens > 0 {
		options["num_predict"] = maxTokens
	}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if len(options) > 0 {
		body.Options = options
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal ollama request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "create ollama request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// ParseResponse decodes the non-streaming chat response.
func (c *Codec) ParseResponse(resp *http.Response, _ *model.Request) (*adaptor.Upstream, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read ollama response")
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrap(err, "decode ollama response")
	}

	return &adaptor.Upstream{
		Content:      parsed.Message.Content,
		Model:        parsed.Model,
		InputTokens:  parsed.PromptEvalCount,
		OutputTokens: parsed.EvalCount,
	}, nil
}
