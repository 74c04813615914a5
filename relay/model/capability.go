package model

import "strings"

// Capabilities declares what a provider adapter can serve. The booleans are
// authoritative; any coarser adapter "type" is derived for reporting only.
type Capabilities struct {
	TextCompletion     bool `json:"textCompletion"`
	ChatCompletion     bool `json:"chatCompletion"`
	VisionAnalysis     bool `json:"visionAnalysis"`
	ImageGeneration    bool `json:"imageGeneration"`
	TextToSpeech       bool `json:"textToSpeech"`
	AudioTranscription bool `json:"audioTranscription"`

	MaxTokensLimit int `json:"maxTokensLimit"`

	// Languages lists supported ISO codes; empty means unrestricted.
	Languages []string `json:"languages,omitempty"`
	// ImageFormats / AudioFormats list supported media formats; empty means
	// the adapter accepts whatever the upstream accepts.
	ImageFormats []string `json:"imageFormats,omitempty"`
	AudioFormats []string `json:"audioFormats,omitempty"`
}

// Supports reports whether the capability set covers a request kind.
func (c Capabilities) Supports(kind RequestKind) bool {
	switch kind {
	case TextCompletion:
		return c.TextCompletion
	case ChatCompletion:
		return c.ChatCompletion
	case VisionAnalysis:
		return c.VisionAnalysis
	case ImageGeneration:
		return c.ImageGeneration
	case TextToSpeech:
		return c.TextToSpeech
	case AudioTranscription:
		return c.AudioTranscription
	}
	return false
}

// SupportsLanguage reports whether the adapter accepts the given ISO code.
func (c Capabilities) SupportsLanguage(lang string) bool {
	if len(c.Languages) == 0 || lang == "" {
		return true
	}
	for _, l := range c.Languages {
		if strings.EqualFold(l, lang) {
			return true
		}
	}
	return false
}

// SupportsImageFormat reports whether the adapter accepts the image format.
func (c Capabilities) SupportsImageFormat(format string) bool {
	return supportsFormat(c.ImageFormats, format)
}

// SupportsAudioFormat reports whether the adapter accepts the audio format.
func (c Capabilities) SupportsAudioFormat(format string) bool {
	return supportsFormat(c.AudioFormats, format)
}

func supportsFormat(formats []string, format string) bool {
	if len(formats) == 0 || format == "" {
		return true
	}
	for _, f := range formats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}
