package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/modelmux/modelmux/common/config"
	"github.com/modelmux/modelmux/relay/adaptor"
	"github.com/modelmux/modelmux/relay/model"
)

const (
	imageModel         = "dall-e-3"
	transcriptionModel = "whisper-1"
	defaultBaseURL     = "https://api.openai.com/v1"
)

func resolveBaseURL(cfg *config.ProviderConfig) string {
	if cfg.BaseURL != "" {
		return strings.TrimRight(cfg.BaseURL, "/")
	}
	return defaultBaseURL
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		URL           string `json:"url"`
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

func buildImageRequest(ctx context.Context, req *model.Request, cfg *config.ProviderConfig, apiKey string) (*http.Request, error) {
	size := "1024x1024"
	if v, ok := req.AdditionalParameters["imageSize"].(string); ok && v != "" {
		size = v
	}

	payload, err := json.Marshal(imageRequest{
		Model:  imageModel,
		Prompt: req.Prompt,
		N:      1,
		Size:   size,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal image request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		resolveBaseURL(cfg)+"/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "create image request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	return httpReq, nil
}

func parseImageResponse(resp *http.Response) (*adaptor.Upstream, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read image response")
	}

	var parsed imageResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrap(err, "decode image response")
	}
	if len(parsed.Data) == 0 {
		return nil, errors.Errorf("openai returned no image data")
	}

	item := parsed.Data[0]
	content := item.URL
	if content == "" {
		content = item.B64JSON
	}
	up := &adaptor.Upstream{Content: content, Model: imageModel}
	if item.RevisedPrompt != "" {
		up.Metadata = map[string]any{"revised_prompt": item.RevisedPrompt}
	}
	return up, nil
}

func buildTranscriptionRequest(ctx context.Context, req *model.Request, cfg *config.ProviderConfig, apiKey string) (*http.Request, error) {
	format := strings.ToLower(req.AudioFormat)
	if format == "" {
		format = "mp3"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "audio."+format)
	if err != nil {
		return nil, errors.Wrap(err, "create multipart file field")
	}
	if _, err = part.Write(req.AudioBytes); err != nil {
		return nil, errors.Wrap(err, "write audio payload")
	}
	if err = writer.WriteField("model", transcriptionModel); err != nil {
		return nil, errors.Wrap(err, "write model field")
	}
	if lang := req.Context.Language; lang != "" {
		if err = writer.WriteField("language", lang); err != nil {
			return nil, errors.Wrap(err, "write language field")
		}
	}
	if err = writer.Close(); err != nil {
		return nil, errors.Wrap(err, "finalize multipart body")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		resolveBaseURL(cfg)+"/audio/transcriptions", &buf)
	if err != nil {
		return nil, errors.Wrap(err, "create transcription request")
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	return httpReq, nil
}

func parseTranscriptionResponse(resp *http.Response) (*adaptor.Upstream, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read transcription response")
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrap(err, "decode transcription response")
	}
	if parsed.Text == "" {
		return nil, errors.Errorf("openai returned empty transcription")
	}
	return &adaptor.Upstream{Content: parsed.Text, Model: transcriptionModel}, nil
}
