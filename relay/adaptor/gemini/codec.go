// Package gemini adapts the Google Gemini generateContent API.
package gemini

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
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// Pricing per 1K tokens in USD, gemini-2.0-flash rates.
	inputCostPer1K  = 0.0001
	outputCostPer1K = 0.0004
)

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"system_instruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// Codec implements the Gemini provider.
type Codec struct{}

// NewCodec builds the Gemini codec.
func NewCodec() *Codec { return &Codec{} }

func (c *Codec) Name() string { return "Gemini" }

func (c *Codec) DefaultModel() string { return "gemini-2.0-flash" }

func (c *Codec) IsLocal() bool { return false }

func (c *Codec) Capabilities() model.Capabilities {
	return model.Capabilities{
		TextCompletion: true,
		ChatCompletion: true,
		VisionAnalysis: true,
		MaxTokensLimit: 8192,
		ImageFormats:   []string{"png", "jpeg", "jpg", "webp", "heic", "heif"},
	}
}

func (c *Codec) EstimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*inputCostPer1K + float64(outputTokens)/1000*outputCostPer1K
}

// BuildRequest assembles POST /models/{model}:generateContent. Gemini takes
// the API key as a query parameter rather than a header.
func (c *Codec) BuildRequest(ctx context.Context, req *model.Request, cfg *config.ProviderConfig, apiKey, modelName string, maxTokens int) (*http.Request, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	body := generateRequest{
		Contents: []content{{Role: "user", Parts: userParts(req)}},
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.SystemPrompt}}}
	}
	if maxTokens > 0 || req.Temperature > 0 {
		gc := &generationConfig{MaxOutputTokens: maxTokens}
		if req.Temperature > 0 {
			t := req.Temperature
			gc.Temperature = &t
		}
		body.GenerationConfig = gc
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal generate request")
	}

	url := strings.TrimRight(baseURL, "/") + "/models/" + modelName + ":generateContent?key=" + apiKey
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "create generate request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

func userParts(req *model.Request) []part {
	prompt := req.Prompt
	if req.Kind == model.VisionAnalysis && prompt == "" {
		prompt = "Describe this image."
	}
	parts := []part{{Text: prompt}}
	if req.Kind == model.VisionAnalysis && len(req.ImageBytes) > 0 {
		format := strings.ToLower(req.ImageFormat)
		if format == "" || format == "jpg" {
			format = "jpeg"
		}
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: "image/" + format,
			Data:     base64.StdEncoding.EncodeToString(req.ImageBytes),
		}})
	}
	return parts
}

// ParseResponse decodes a generateContent response, concatenating the first
// candidate's text parts.
func (c *Codec) ParseResponse(resp *http.Response, _ *model.Request) (*adaptor.Upstream, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read generate response")
	}

	var parsed generateResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrap(err, "decode generate response")
	}
	if len(parsed.Candidates) == 0 {
		return nil, errors.Errorf("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}

	up := &adaptor.Upstream{
		Content:      sb.String(),
		Model:        parsed.ModelVersion,
		InputTokens:  parsed.UsageMetadata.PromptTokenCount,
		OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
	}
	if fr := parsed.Candidates[0].FinishReason; fr != "" {
		up.Metadata = map[string]any{"finish_reason": fr}
	}
	return up, nil
}
