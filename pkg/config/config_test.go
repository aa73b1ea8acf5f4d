package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults apply when fields are omitted", func(t *testing.T) {
		path := writeConfig(t, `
agents:
  - name: Helper
    role: assistant
    llm:
      provider: openai
      model: gpt-4o
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, "memory", cfg.Assets.Backend)
		assert.Equal(t, "sqlite", cfg.Database.Driver)
		assert.Equal(t, DefaultQueueConfig().SweepBatch, cfg.Queue.SweepBatch)
		require.Len(t, cfg.Agents, 1)
		assert.Equal(t, "Helper", cfg.Agents[0].Name)
	})

	t.Run("env expansion fills provider keys", func(t *testing.T) {
		t.Setenv("TEST_OPENAI_KEY", "sk-test-123")
		path := writeConfig(t, `
providers:
  openai:
    apiKey: "{{.TEST_OPENAI_KEY}}"
agents:
  - name: Helper
    llm:
      provider: openai
      model: gpt-4o
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "sk-test-123", cfg.Providers["openai"].APIKey)
	})

	t.Run("duplicate agent names rejected", func(t *testing.T) {
		path := writeConfig(t, `
agents:
  - name: A
    llm: {provider: openai, model: gpt-4o}
  - name: A
    llm: {provider: openai, model: gpt-4o}
`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate agent name")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown asset backend",
			mutate:  func(c *Config) { c.Assets.Backend = "ftp" },
			wantErr: "assets.backend",
		},
		{
			name:    "local backend needs dir",
			mutate:  func(c *Config) { c.Assets.Backend = "local" },
			wantErr: "assets.dir",
		},
		{
			name:    "s3 backend needs bucket",
			mutate:  func(c *Config) { c.Assets.Backend = "s3" },
			wantErr: "assets.s3.bucket",
		},
		{
			name: "agent without provider",
			mutate: func(c *Config) {
				c.Agents = []AgentConfig{{Name: "A"}}
			},
			wantErr: "llm.provider",
		},
		{
			name: "stdio server needs command",
			mutate: func(c *Config) {
				c.MCPServers = []MCPServerConfig{{Name: "fs", Transport: "stdio"}}
			},
			wantErr: "command is required",
		},
		{
			name: "http server needs url",
			mutate: func(c *Config) {
				c.MCPServers = []MCPServerConfig{{Name: "api", Transport: "http"}}
			},
			wantErr: "url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("default config is valid", func(t *testing.T) {
		require.NoError(t, DefaultConfig().Validate())
	})
}

func TestAgentAllowlists(t *testing.T) {
	agent := &AgentConfig{
		Name:          "A",
		AllowedTools:  []string{"get_current_time"},
		AllowedAgents: []string{"B"},
	}

	assert.True(t, agent.AllowsTool("get_current_time"))
	assert.False(t, agent.AllowsTool("run_command"))
	assert.True(t, agent.AllowsAgent("B"))
	assert.False(t, agent.AllowsAgent("C"))

	// Empty agent allowlist allows everyone.
	open := &AgentConfig{Name: "O"}
	assert.True(t, open.AllowsAgent("anyone"))
}

func TestAgentRegistry(t *testing.T) {
	reg := NewAgentRegistry([]AgentConfig{
		{Name: "B"},
		{Name: "A", AllowedTools: []string{"wait"}},
	})

	assert.Equal(t, []string{"A", "B"}, reg.Names())
	assert.Equal(t, 2, reg.Len())

	a, ok := reg.Get("A")
	require.True(t, ok)
	// Mutating the copy must not leak into the registry.
	a.AllowedTools[0] = "mutated"
	again, _ := reg.Get("A")
	assert.Equal(t, []string{"wait"}, again.AllowedTools)

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}
