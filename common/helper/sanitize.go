package helper

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

const (
	truncationSuffix = "...[truncated]"

	// Strings at or past this length are checked for base64 content so audio
	// and image blobs never land in logs verbatim.
	base64RedactionThreshold = 256
)

// SanitizeLogPayload returns a preview of an upstream payload safe for
// logging: JSON documents get their long string leaves truncated and base64
// blobs redacted, everything else is cut at limit.
func SanitizeLogPayload(body []byte, limit int) []byte {
	if limit <= 0 {
		return body
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var payload any
		if err := json.Unmarshal(body, &payload); err == nil {
			if out, err := json.Marshal(sanitizeValue(payload, limit)); err == nil {
				return truncateBytes(out, limit)
			}
		}
	}
	return truncateBytes(body, limit)
}

func sanitizeValue(value any, limit int) any {
	switch v := value.(type) {
	case map[string]any:
		for key, item := range v {
			v[key] = sanitizeValue(item, limit)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = sanitizeValue(item, limit)
		}
		return v
	case string:
		if len(v) >= base64RedactionThreshold && looksLikeBase64(v) {
			return "[redacted base64, " + strconv.Itoa(len(v)) + " chars]"
		}
		if len(v) > limit {
			return v[:limit] + truncationSuffix
		}
		return v
	}
	return value
}

func looksLikeBase64(s string) bool {
	sample := s
	if len(sample) > base64RedactionThreshold {
		sample = sample[:base64RedactionThreshold]
	}
	for _, r := range sample {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == '+', r == '/', r == '=', r == '-', r == '_':
		default:
			return false
		}
	}
	return !strings.ContainsAny(sample, " \t\n")
}

func truncateBytes(body []byte, limit int) []byte {
	if len(body) <= limit {
		return body
	}
	return append(append([]byte{}, body[:limit]...), truncationSuffix...)
}
