package model

// RequestKind enumerates the abstract request types the orchestrator routes.
type RequestKind string

const (
	TextCompletion     RequestKind = "text_completion"
	ChatCompletion     RequestKind = "chat_completion"
	VisionAnalysis     RequestKind = "vision_analysis"
	ImageGeneration    RequestKind = "image_generation"
	TextToSpeech       RequestKind = "text_to_speech"
	AudioTranscription RequestKind = "audio_transcription"
)

// IsTextual reports whether the kind carries its payload in the prompt.
func (k RequestKind) IsTextual() bool {
	switch k {
	case TextCompletion, ChatCompletion, ImageGeneration, TextToSpeech:
		return true
	}
	return false
}

// IsMedia reports whether the kind requires binary media input.
func (k RequestKind) IsMedia() bool {
	return k == VisionAnalysis || k == AudioTranscription
}

// RequestContext identifies the caller of a request.
type RequestContext struct {
	RequestId string `json:"requestId"`
	UserId    string `json:"userId,omitempty"`
	SessionId string `json:"sessionId,omitempty"`
	Language  string `json:"language,omitempty"`
}

// Request is the uniform AI request accepted by the orchestrator. It is
// immutable once dispatched; adapters derive per-provider payloads from it
// and never mutate it.
type Request struct {
	Kind         RequestKind `json:"kind"`
	Prompt       string      `json:"prompt"`
	SystemPrompt string      `json:"systemPrompt,omitempty"`

	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`

	ImageBytes  []byte   `json:"imageBytes,omitempty"`
	ImageFormat string   `json:"imageFormat,omitempty"`
	ImageUrls   []string `json:"imageUrls,omitempty"`
	AudioBytes  []byte   `json:"audioBytes,omitempty"`
	AudioFormat string   `json:"audioFormat,omitempty"`

	// AdditionalParameters carries provider-specific tuning knobs verbatim.
	AdditionalParameters map[string]any `json:"additionalParameters,omitempty"`

	Context RequestContext `json:"context"`
}

// Language returns the request language, defaulting to English.
func (r *Request) Language() string {
	if r.Context.Language == "" {
		return "en"
	}
	return r.Context.Language
}
