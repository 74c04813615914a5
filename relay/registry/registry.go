// Package registry holds the installed provider adapters and computes the
// ordered candidate list for each request.
package registry

import (
	"sort"
	"sync"

	"github.com/modelmux/modelmux/relay/adaptor"
	"github.com/modelmux/modelmux/relay/model"
)

// Registry is populated once at startup by the composition root. Reads are
// concurrent; registration is not expected after startup but is guarded
// anyway.
type Registry struct {
	mu       sync.RWMutex
	adapters []adaptor.Adapter

	// fallbackOrder, when non-empty, overrides priority ordering for the
	// providers it names; unnamed providers keep their relative order after
	// the named ones.
	fallbackOrder []string
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{}
}

// Register installs an adapter. Registration order breaks priority ties.
func (r *Registry) Register(a adaptor.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = append(r.adapters, a)
}

// SetFallbackOrder installs the configured ordering override.
func (r *Registry) SetFallbackOrder(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbackOrder = names
}

// All returns the installed adapters in registration order.
func (r *Registry) All() []adaptor.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]adaptor.Adapter, len(r.adapters))
	copy(out, r.adapters)
	return out
}

// Get returns the adapter with the given name, or nil.
func (r *Registry) Get(name string) adaptor.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.adapters {
		if a.Name() == name {
			return a
		}
	}
	return nil
}

// Candidates returns the adapters able to serve the request, ordered by
// priority ascending with registration order breaking ties. Local adapters
// sort after remote ones unless the request asks for local inference via
// the preferLocal additional parameter; either way they stay in the list as
// deeper fallbacks.
func (r *Registry) Candidates(req *model.Request) []adaptor.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type ranked struct {
		a     adaptor.Adapter
		order int
	}

	var list []ranked
	for i, a := range r.adapters {
		if a.CanHandle(req) {
			list = append(list, ranked{a: a, order: i})
		}
	}

	preferLocal := false
	if v, ok := req.AdditionalParameters["preferLocal"].(bool); ok {
		preferLocal = v
	}

	override := make(map[string]int, len(r.fallbackOrder))
	for i, name := range r.fallbackOrder {
		override[name] = i
	}

	sort.SliceStable(list, func(i, j int) bool {
		ai, aj := list[i].a, list[j].a

		if len(override) > 0 {
			oi, iok := override[ai.Name()]
			oj, jok := override[aj.Name()]
			if iok && jok {
				return oi < oj
			}
			if iok != jok {
				return iok
			}
		}

		if !preferLocal && ai.IsLocal() != aj.IsLocal() {
			return !ai.IsLocal()
		}
		if preferLocal && ai.IsLocal() != aj.IsLocal() {
			return ai.IsLocal()
		}
		if ai.Priority() != aj.Priority() {
			return ai.Priority() < aj.Priority()
		}
		return list[i].order < list[j].order
	})

	out := make([]adaptor.Adapter, len(list))
	for i, entry := range list {
		out[i] = entry.a
	}
	return out
}
