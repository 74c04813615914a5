// Package keymgr resolves the API key an adapter should use for its next
// call. A provider's configured key may hold several keys separated by
// commas; the manager rotates through them and can quarantine keys that
// stop validating.
package keymgr

import (
	"strings"
	"sync"
	"time"

	"github.com/Laisky/zap"

	"github.com/modelmux/modelmux/common/helper"
	"github.com/modelmux/modelmux/common/logger"
)

// quarantineDuration is how long a failed key sits out of rotation.
const quarantineDuration = 10 * time.Minute

type providerKeys struct {
	keys        []string
	next        int
	quarantined map[string]time.Time
}

// Manager tracks per-provider key rings.
type Manager struct {
	mu        sync.Mutex
	providers map[string]*providerKeys
}

// New builds an empty manager.
func New() *Manager {
	return &Manager{providers: make(map[string]*providerKeys)}
}

// Register installs a provider's configured key string.
func (m *Manager) Register(provider, configuredKey string) {
	keys := splitKeys(configuredKey)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[provider] = &providerKeys{
		keys:        keys,
		quarantined: make(map[string]time.Time),
	}
}

// CurrentKey returns the key calls should use right now. The ring position
// is stable across calls; it moves only via Rotate or when the current key
// is quarantined. When every key is quarantined it falls back to the first
// configured key.
func (m *Manager) CurrentKey(provider string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk, ok := m.providers[provider]
	if !ok || len(pk.keys) == 0 {
		return ""
	}

	now := time.Now()
	for i := 0; i < len(pk.keys); i++ {
		idx := (pk.next + i) % len(pk.keys)
		key := pk.keys[idx]
		if until, bad := pk.quarantined[key]; bad && now.Before(until) {
			continue
		}
		delete(pk.quarantined, key)
		pk.next = idx
		return key
	}
	return pk.keys[0]
}

// Rotate advances the ring so the next CurrentKey returns a different key
// where one exists.
func (m *Manager) Rotate(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk, ok := m.providers[provider]
	if !ok || len(pk.keys) < 2 {
		return
	}
	pk.next = (pk.next + 1) % len(pk.keys)
	logger.Logger.Info("rotated api key",
		zap.String("provider", provider),
		zap.String("key", helper.MaskAPIKey(pk.keys[pk.next])))
}

// Validate checks whether a key is registered and not quarantined.
func (m *Manager) Validate(provider, key string) bool {
	if key == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pk, ok := m.providers[provider]
	if !ok {
		return false
	}
	for _, k := range pk.keys {
		if k == key {
			until, bad := pk.quarantined[key]
			return !bad || time.Now().After(until)
		}
	}
	return false
}

// Quarantine takes a key out of rotation after an auth failure.
func (m *Manager) Quarantine(provider, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk, ok := m.providers[provider]
	if !ok {
		return
	}
	pk.quarantined[key] = time.Now().Add(quarantineDuration)
	logger.Logger.Warn("quarantined api key",
		zap.String("provider", provider),
		zap.String("key", helper.MaskAPIKey(key)))
}

func splitKeys(configured string) []string {
	parts := strings.Split(configured, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}
