package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Compiled schemas are cached by their source text; tool schemas are
// static for the life of the process.
var schemaCache sync.Map

// ValidateInput checks decoded arguments against a tool's input schema.
// An empty schema accepts everything.
func ValidateInput(schema json.RawMessage, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("invalid tool input schema: %w", err)
	}

	// jsonschema validates generic decoded values; args is already one,
	// but nil maps must validate as empty objects.
	var decoded any = map[string]any{}
	if args != nil {
		decoded = args
	}
	if err := compiled.Validate(decoded); err != nil {
		return err
	}
	return nil
}

func compileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// DecodeArguments parses a tool call's JSON argument string. Empty
// strings decode to an empty object.
func DecodeArguments(arguments string) (map[string]any, error) {
	if arguments == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
