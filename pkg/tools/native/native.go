// Package native implements the built-in tools every deployment gets:
// time and pacing helpers, HTTP access, sandboxed filesystem access,
// command execution and the thread-management tools backed by the
// engine runtime.
package native

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/copilotz/copilotz/pkg/tools"
)

// Config bounds the side effects of the built-in tools.
type Config struct {
	// WorkingDir roots all filesystem tools; paths may not escape it.
	WorkingDir string
	// HTTPTimeout caps a single http_request or fetch_text call.
	HTTPTimeout time.Duration
	// CommandTimeout caps a run_command invocation.
	CommandTimeout time.Duration
	// MaxFileBytes caps read_file and fetch_text payloads.
	MaxFileBytes int64
	// MaxResponseBytes caps http_request response bodies.
	MaxResponseBytes int64
	// EnableCommands gates run_command; off unless explicitly enabled.
	EnableCommands bool
}

// DefaultConfig returns the bounds used when no overrides are given.
func DefaultConfig() Config {
	return Config{
		WorkingDir:       ".",
		HTTPTimeout:      30 * time.Second,
		CommandTimeout:   60 * time.Second,
		MaxFileBytes:     4 << 20,
		MaxResponseBytes: 4 << 20,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.WorkingDir == "" {
		c.WorkingDir = def.WorkingDir
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = def.HTTPTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = def.CommandTimeout
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = def.MaxFileBytes
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = def.MaxResponseBytes
	}
}

// All returns every built-in tool under the given bounds.
func All(cfg Config) []*tools.Tool {
	cfg.applyDefaults()
	all := []*tools.Tool{
		newGetCurrentTime(),
		newWait(),
		newVerbalPause(),
		newHTTPRequest(cfg),
		newFetchText(cfg),
		newReadFile(cfg),
		newWriteFile(cfg),
		newListDirectory(cfg),
		newSearchFiles(cfg),
		newAskQuestion(),
		newCreateThread(),
		newEndThread(),
		newCreateTask(),
	}
	if cfg.EnableCommands {
		all = append(all, newRunCommand(cfg))
	}
	return all
}

// mustSchema reflects a JSON schema from an argument struct's tags.
// The argument types are fixed at compile time, so reflection failures
// are programming errors.
func mustSchema[T any]() json.RawMessage {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("native: reflect schema: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic(fmt.Sprintf("native: reflect schema: %v", err))
	}
	delete(m, "$schema")
	delete(m, "$id")
	out, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("native: reflect schema: %v", err))
	}
	return out
}

// decodeArgs maps the decoded call arguments onto a typed struct.
func decodeArgs[T any](args map[string]any) (T, error) {
	var out T
	data, err := json.Marshal(args)
	if err != nil {
		return out, fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode arguments: %w", err)
	}
	return out, nil
}
