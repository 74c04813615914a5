package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelmux/modelmux/common/helper"
	"github.com/modelmux/modelmux/relay/model"
)

// Fingerprint derives the deterministic cache key for a request dispatched
// to a given provider and model:
//
//	hash(provider | model | sha256(prompt) | maxTokens | temperature(2dp) | sha256(params))
//
// prefixed with the lowercased provider name. Two requests that differ only
// in caller context fingerprint identically.
func Fingerprint(providerName, modelName string, req *model.Request) string {
	parts := []string{
		providerName,
		modelName,
		helper.Sha256Hex(req.Prompt),
		fmt.Sprintf("%d", req.MaxTokens),
		fmt.Sprintf("%.2f", req.Temperature),
		helper.Sha256Hex(serializeParams(req.AdditionalParameters)),
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return strings.ToLower(providerName) + "_" + hex.EncodeToString(sum[:])
}

// serializeParams produces a stable byte form of the additional parameters.
// encoding/json sorts map keys, which makes the output deterministic.
func serializeParams(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	data, err := json.Marshal(params)
	if err != nil {
		// Unmarshalable values cannot be keyed deterministically; fall back
		// to a length marker so such requests still get distinct buckets.
		return fmt.Sprintf("unserializable:%d", len(params))
	}
	return string(data)
}
