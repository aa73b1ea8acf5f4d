package tools

import (
	"sort"
	"strings"
	"sync"

	"github.com/agext/levenshtein"

	"github.com/copilotz/copilotz/pkg/models"
)

// suggestionDistance is the maximum edit distance for near-miss tool
// name suggestions.
const suggestionDistance = 2

// Registry resolves tool keys across the four sources in priority
// order: native, user-provided, OpenAPI-derived, remote.
type Registry struct {
	mu      sync.RWMutex
	native  map[string]*Tool
	user    map[string]*Tool
	openapi map[string]*Tool
	remote  map[string]*Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		native:  make(map[string]*Tool),
		user:    make(map[string]*Tool),
		openapi: make(map[string]*Tool),
		remote:  make(map[string]*Tool),
	}
}

// RegisterNative adds tools to the native set.
func (r *Registry) RegisterNative(tools ...*Tool) {
	r.register(r.native, tools)
}

// RegisterUser adds user-provided tools.
func (r *Registry) RegisterUser(tools ...*Tool) {
	r.register(r.user, tools)
}

// RegisterOpenAPI adds OpenAPI-derived tools (keyed by operationId).
func (r *Registry) RegisterOpenAPI(tools ...*Tool) {
	r.register(r.openapi, tools)
}

// RegisterRemote adds remote tool-protocol tools (keyed
// <server>_<tool>).
func (r *Registry) RegisterRemote(tools ...*Tool) {
	r.register(r.remote, tools)
}

func (r *Registry) register(dst map[string]*Tool, tools []*Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if t != nil && t.Key != "" {
			dst[t.Key] = t
		}
	}
}

// Resolve finds a tool by name, trying native, then user, then OpenAPI,
// then remote tools.
func (r *Registry) Resolve(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, set := range []map[string]*Tool{r.native, r.user, r.openapi, r.remote} {
		if t, ok := set[name]; ok {
			return t, true
		}
	}
	return nil, false
}

// Keys returns every registered tool key in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var keys []string
	for _, set := range []map[string]*Tool{r.native, r.user, r.openapi, r.remote} {
		for key := range set {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// Suggest returns the nearest registered keys for an unresolved name:
// edit distance at most 2, or substring containment either way.
func (r *Registry) Suggest(name string) []string {
	var matches []string
	lower := strings.ToLower(name)
	for _, key := range r.Keys() {
		keyLower := strings.ToLower(key)
		switch {
		case strings.Contains(keyLower, lower) || strings.Contains(lower, keyLower):
			matches = append(matches, key)
		case levenshtein.Distance(lower, keyLower, nil) <= suggestionDistance:
			matches = append(matches, key)
		}
	}
	return matches
}

// Definitions resolves an allowlist of tool keys into provider-facing
// definitions, silently skipping keys that resolve to nothing.
func (r *Registry) Definitions(keys []string) []models.ToolDefinition {
	var defs []models.ToolDefinition
	for _, key := range keys {
		if tool, ok := r.Resolve(key); ok {
			defs = append(defs, tool.Definition())
		}
	}
	return defs
}
