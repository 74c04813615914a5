package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/Laisky/errors/v2"
	"github.com/go-playground/validator/v10"
)

// ProviderConfig carries the per-adapter settings recognised by the
// orchestrator. Unknown keys in the source JSON are rejected at load time.
type ProviderConfig struct {
	Name     string `json:"name" validate:"required"`
	Model    string `json:"model"`
	BaseURL  string `json:"baseUrl" validate:"omitempty,url"`
	APIKey   string `json:"apiKey"`
	Priority int    `json:"priority"`

	IsEnabled bool `json:"isEnabled"`

	TimeoutSeconds int `json:"timeoutSeconds" validate:"gte=0"`
	MaxRetries     int `json:"maxRetries" validate:"gte=0,lte=10"`

	CircuitBreakerFailuresBeforeBreaking int `json:"circuitBreakerFailuresBeforeBreaking" validate:"gte=0"`
	CircuitBreakerDurationSeconds        int `json:"circuitBreakerDurationSeconds" validate:"gte=0"`

	EnableCaching        bool `json:"enableCaching"`
	CacheDurationMinutes int  `json:"cacheDurationMinutes" validate:"gte=0"`

	EnableRateLimiting bool `json:"enableRateLimiting"`
	RequestsPerMinute  int  `json:"requestsPerMinute" validate:"gte=0"`

	AdditionalSettings map[string]any `json:"additionalSettings"`
}

var providerValidator = validator.New()

// ApplyDefaults fills unset resilience knobs with the documented defaults.
func (c *ProviderConfig) ApplyDefaults() {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.CircuitBreakerFailuresBeforeBreaking == 0 {
		c.CircuitBreakerFailuresBeforeBreaking = 5
	}
	if c.CircuitBreakerDurationSeconds == 0 {
		c.CircuitBreakerDurationSeconds = 30
	}
	if c.EnableCaching && c.CacheDurationMinutes == 0 {
		c.CacheDurationMinutes = 5
	}
	if c.EnableRateLimiting && c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = 60
	}
}

// LoadProviders parses the PROVIDERS_CONFIG JSON document (a list of
// ProviderConfig records) from the environment, or from the file named by
// PROVIDERS_CONFIG_FILE when the inline variable is empty.
func LoadProviders() ([]*ProviderConfig, error) {
	raw := os.Getenv("PROVIDERS_CONFIG")
	if raw == "" {
		if path := os.Getenv("PROVIDERS_CONFIG_FILE"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, errors.Wrapf(err, "read providers config file %s", path)
			}
			raw = string(data)
		}
	}
	if raw == "" {
		return nil, nil
	}
	return ParseProviders([]byte(raw))
}

// ParseProviders decodes and validates a providers JSON document.
func ParseProviders(data []byte) ([]*ProviderConfig, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	var providers []*ProviderConfig
	if err := decoder.Decode(&providers); err != nil {
		return nil, errors.Wrap(err, "decode providers config")
	}

	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if p == nil {
			return nil, errors.New("null provider entry in providers config")
		}
		if seen[p.Name] {
			return nil, errors.Errorf("duplicate provider %q in providers config", p.Name)
		}
		seen[p.Name] = true
		p.ApplyDefaults()
		if err := providerValidator.Struct(p); err != nil {
			return nil, errors.Wrapf(err, "validate provider %q", p.Name)
		}
	}
	return providers, nil
}
