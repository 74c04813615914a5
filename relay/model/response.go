package model

import "time"

// Response is the uniform result of a completion attempt. Error responses
// always carry an ErrorCode; successful responses never do.
type Response struct {
	Content  string `json:"content"`
	Provider string `json:"provider"`
	Model    string `json:"model"`

	TokensUsed     int           `json:"tokensUsed"`
	ProcessingTime time.Duration `json:"processingTime"`
	IsSuccess      bool          `json:"isSuccess"`
	EstimatedCost  float64       `json:"estimatedCost"`

	ErrorCode    ErrorCode `json:"errorCode,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Succeeded reports whether the response satisfies the success contract:
// success flag set, no error code, and content present.
func (r *Response) Succeeded() bool {
	return r != nil && r.IsSuccess && r.ErrorCode == "" && r.Content != ""
}

// WithMetadata sets a metadata entry, allocating the map on first use.
func (r *Response) WithMetadata(key string, value any) *Response {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
	return r
}
