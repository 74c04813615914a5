package helper

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// RequestIdKey stores the gin context key used to persist the current request identifier.
	RequestIdKey = "X-Modelmux-Request-Id"
)

// GenRequestId returns a new unique request identifier.
func GenRequestId() string {
	return uuid.NewString()
}

// MaskAPIKey returns a masked version of an API key for safe logging.
// It shows the first 6 characters and last 4 characters, with "..." in between.
// For short keys (less than 12 chars), it returns "***" to avoid exposing too much.
func MaskAPIKey(key string) string {
	if len(key) < 12 {
		return "***"
	}
	return key[:6] + "..." + key[len(key)-4:]
}

// Sha256Hex returns the lowercase hex SHA-256 digest of s.
func Sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// EstimateTextTokens approximates the token count of a text when the upstream
// does not report usage: max(ceil(words*1.3), chars/4).
func EstimateTextTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	byWords := int(math.Ceil(float64(words) * 1.3))
	byChars := utf8.RuneCountInString(text) / 4
	if byWords > byChars {
		return byWords
	}
	return byChars
}

// MessageWithRequestId appends the request id to a user-facing message.
func MessageWithRequestId(message string, id string) string {
	if id == "" {
		return message
	}
	return message + " (request id: " + id + ")"
}
