// Package config loads and validates the YAML configuration: server
// address, database, queue tuning, LLM providers, agents, tool sources
// and asset store selection.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/copilotz/copilotz/pkg/database"
)

// Config is the root configuration document.
type Config struct {
	Server     ServerConfig              `yaml:"server"`
	Logging    LoggingConfig             `yaml:"logging"`
	Database   database.Config           `yaml:"database"`
	Queue      QueueConfig               `yaml:"queue"`
	Assets     AssetsConfig              `yaml:"assets"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Agents     []AgentConfig             `yaml:"agents"`
	OpenAPIs   []OpenAPIConfig           `yaml:"openapis"`
	MCPServers []MCPServerConfig         `yaml:"mcpServers"`
}

// ServerConfig tunes the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// LoggingConfig selects handler format and level for slog.
type LoggingConfig struct {
	// Format is "text" or "json".
	Format string `yaml:"format"`
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`
}

// AssetsConfig selects and tunes the asset store backend.
type AssetsConfig struct {
	// Backend is "memory", "local" or "s3".
	Backend string `yaml:"backend"`
	// Dir is the root directory for the local backend.
	Dir string `yaml:"dir"`
	// S3 configures the s3 backend.
	S3 S3Config `yaml:"s3"`
}

// S3Config holds S3 asset store settings.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Prefix       string `yaml:"prefix"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"usePathStyle"`
	AccessKeyID  string `yaml:"accessKeyId"`
	SecretKey    string `yaml:"secretKey"`
}

// OpenAPIConfig points at one OpenAPI document to lower into tools.
type OpenAPIConfig struct {
	// Name scopes log lines; not part of tool keys.
	Name string `yaml:"name"`
	// Path is a local file path to the OpenAPI 3 document.
	Path string `yaml:"path"`
	// BaseURL overrides the document's server URL.
	BaseURL string `yaml:"baseUrl"`
	// Headers are injected into every call (auth headers usually).
	Headers map[string]string `yaml:"headers"`
}

// MCPServerConfig configures one remote tool-protocol server. Its tools
// are published as <name>_<tool>.
type MCPServerConfig struct {
	Name string `yaml:"name"`
	// Transport is "stdio", "http" or "sse".
	Transport string `yaml:"transport"`
	// Command and Args launch a stdio server.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
	// URL is the endpoint for http/sse transports.
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// DefaultConfig returns the standard configuration: in-memory sqlite,
// memory asset store, text logging on :8080.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging:  LoggingConfig{Format: "text", Level: "info"},
		Database: database.DefaultConfig(),
		Queue:    DefaultQueueConfig(),
		Assets:   AssetsConfig{Backend: "memory"},
	}
}

// Load reads, env-expands, parses and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(ExpandEnv(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency for the whole document.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	switch c.Assets.Backend {
	case "", "memory":
	case "local":
		if c.Assets.Dir == "" {
			return fmt.Errorf("assets.dir is required for the local backend")
		}
	case "s3":
		if c.Assets.S3.Bucket == "" {
			return fmt.Errorf("assets.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("assets.backend must be memory, local or s3, got %q", c.Assets.Backend)
	}
	if err := c.Queue.Validate(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Agents))
	for i := range c.Agents {
		agent := &c.Agents[i]
		if err := agent.Validate(); err != nil {
			return fmt.Errorf("agents[%d]: %w", i, err)
		}
		if seen[agent.Name] {
			return fmt.Errorf("agents[%d]: duplicate agent name %q", i, agent.Name)
		}
		seen[agent.Name] = true
	}

	for i, api := range c.OpenAPIs {
		if api.Path == "" {
			return fmt.Errorf("openapis[%d]: path is required", i)
		}
	}
	for i, srv := range c.MCPServers {
		if srv.Name == "" {
			return fmt.Errorf("mcpServers[%d]: name is required", i)
		}
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				return fmt.Errorf("mcpServers[%d]: command is required for stdio transport", i)
			}
		case "http", "sse":
			if srv.URL == "" {
				return fmt.Errorf("mcpServers[%d]: url is required for %s transport", i, srv.Transport)
			}
		default:
			return fmt.Errorf("mcpServers[%d]: transport must be stdio, http or sse, got %q", i, srv.Transport)
		}
	}
	return nil
}
