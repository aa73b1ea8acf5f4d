package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/copilotz/copilotz/pkg/models"
)

// AgentConfig describes one agent: identity, persona, allowlists and
// provider settings. Agents are configuration, not stored state; the
// engine treats them as an in-memory catalog per run.
type AgentConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Role        string `yaml:"role"`
	Personality string `yaml:"personality"`
	// Instructions are prepended to the system turn verbatim.
	Instructions string `yaml:"instructions"`
	Description  string `yaml:"description"`
	// AllowedTools is the allowlist of tool keys the agent may call.
	AllowedTools []string `yaml:"allowedTools"`
	// AllowedAgents restricts which peers the agent may address. Empty
	// means any participant.
	AllowedAgents []string `yaml:"allowedAgents"`
	LLM           models.LLMConfig `yaml:"llm"`
}

// Validate checks required fields and the provider enum.
func (a *AgentConfig) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	switch a.LLM.Provider {
	case models.ProviderOpenAI, models.ProviderAnthropic, models.ProviderGemini:
	case "":
		return fmt.Errorf("agent %q: llm.provider is required", a.Name)
	default:
		return fmt.Errorf("agent %q: unknown llm.provider %q", a.Name, a.LLM.Provider)
	}
	if a.LLM.Model == "" {
		return fmt.Errorf("agent %q: llm.model is required", a.Name)
	}
	return nil
}

// AllowsTool reports whether the agent may call the given tool key.
func (a *AgentConfig) AllowsTool(key string) bool {
	for _, t := range a.AllowedTools {
		if t == key {
			return true
		}
	}
	return false
}

// AllowsAgent reports whether the agent may address the named peer.
// An empty allowlist allows everyone.
func (a *AgentConfig) AllowsAgent(name string) bool {
	if len(a.AllowedAgents) == 0 {
		return true
	}
	for _, n := range a.AllowedAgents {
		if n == name {
			return true
		}
	}
	return false
}

func (a *AgentConfig) clone() *AgentConfig {
	c := *a
	c.AllowedTools = append([]string(nil), a.AllowedTools...)
	c.AllowedAgents = append([]string(nil), a.AllowedAgents...)
	c.LLM.StopSequences = append([]string(nil), a.LLM.StopSequences...)
	return &c
}

// AgentRegistry is the read-only agent catalog for one run. Lookups
// return defensive copies so callers cannot mutate shared state.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]*AgentConfig
}

// NewAgentRegistry builds a registry from the given agents. Later
// duplicates replace earlier ones.
func NewAgentRegistry(agents []AgentConfig) *AgentRegistry {
	r := &AgentRegistry{agents: make(map[string]*AgentConfig, len(agents))}
	for i := range agents {
		a := agents[i]
		r.agents[a.Name] = &a
	}
	return r
}

// Get returns a copy of the named agent's config.
func (r *AgentRegistry) Get(name string) (*AgentConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, false
	}
	return a.clone(), true
}

// Names returns all agent names in sorted order.
func (r *AgentRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports how many agents are registered.
func (r *AgentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
