// Package elevenlabs adapts the ElevenLabs text-to-speech API. The synthesized
// audio comes back as raw bytes; the codec carries it base64-encoded in the
// response content with the format noted in metadata.
package elevenlabs

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
	defaultBaseURL = "https://api.elevenlabs.io/v1"
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

	// Flat per-character rate in USD; ElevenLabs bills characters, not tokens.
	costPerCharacter = 0.00003
)

type speechRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings map[string]any `json:"voice_settings,omitempty"`
}

// Codec implements the ElevenLabs provider.
type Codec struct{}

// NewCodec builds the ElevenLabs codec.
func NewCodec() *Codec { return &Codec{} }

func (c *Codec) Name() string { return "ElevenLabs" }

func (c *Codec) DefaultModel() string { return "eleven_multilingual_v2" }

func (c *Codec) IsLocal() bool { return false }

func (c *Codec) Capabilities() model.Capabilities {
	return model.Capabilities{
		TextToSpeech:   true,
		MaxTokensLimit: 5000,
		AudioFormats:   []string{"mp3"},
	}
}

// EstimateCost prices by input size; TTS output tokens are meaningless.
func (c *Codec) EstimateCost(inputTokens, _ int) float64 {
	// Roughly four characters per estimated token.
	return float64(inputTokens) * 4 * costPerCharacter
}

// BuildRequest assembles POST /text-to-speech/{voice}. The voice comes from
// the additionalParameters voiceId knob, falling back to a stock voice.
func (c *Codec) BuildRequest(ctx context.Context, req *model.Request, cfg *config.ProviderConfig, apiKey, modelName string, _ int) (*http.Request, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	voiceID := defaultVoiceID
	if v, ok := req.AdditionalParameters["voiceId"].(string); ok && v != "" {
		voiceID = v
	}

	body := speechRequest{
		Text:    req.Prompt,
		ModelID: modelName,
	}
	if settings, ok := req.AdditionalParameters["voiceSettings"].(map[string]any); ok {
		body.VoiceSettings = settings
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal speech request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/text-to-speech/"+voiceID, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "create speech request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Xi-Api-Key", apiKey)
	httpReq.Header.Set("Accept", "audio/mpeg")
	return httpReq, nil
}

// ParseResponse reads the audio stream and base64-encodes it.
func (c *Codec) ParseResponse(resp *http.Response, _ *model.Request) (*adaptor.Upstream, error) {
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read speech response")
	}
	if len(audio) == 0 {
		return nil, errors.Errorf("elevenlabs returned empty audio")
	}

	return &adaptor.Upstream{
		Content: base64.StdEncoding.EncodeToString(audio),
		Metadata: map[string]any{
			"audio_format": "mp3",
			"audio_bytes":  len(audio),
		},
	}, nil
}
