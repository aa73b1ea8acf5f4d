package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var citySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"city": {"type": "string"},
		"days": {"type": "integer", "minimum": 1}
	},
	"required": ["city"],
	"additionalProperties": false
}`)

func TestValidateInput(t *testing.T) {
	t.Run("valid arguments pass", func(t *testing.T) {
		err := ValidateInput(citySchema, map[string]any{"city": "Lisbon", "days": float64(3)})
		assert.NoError(t, err)
	})

	t.Run("missing required property fails", func(t *testing.T) {
		err := ValidateInput(citySchema, map[string]any{"days": float64(3)})
		assert.Error(t, err)
	})

	t.Run("wrong type fails", func(t *testing.T) {
		err := ValidateInput(citySchema, map[string]any{"city": float64(7)})
		assert.Error(t, err)
	})

	t.Run("empty schema accepts anything", func(t *testing.T) {
		assert.NoError(t, ValidateInput(nil, map[string]any{"whatever": true}))
	})

	t.Run("nil arguments validate as empty object", func(t *testing.T) {
		schema := json.RawMessage(`{"type": "object"}`)
		assert.NoError(t, ValidateInput(schema, nil))
	})

	t.Run("malformed schema is reported", func(t *testing.T) {
		err := ValidateInput(json.RawMessage(`{"type": 12}`), map[string]any{})
		assert.ErrorContains(t, err, "invalid tool input schema")
	})
}

func TestDecodeArguments(t *testing.T) {
	t.Run("object string decodes", func(t *testing.T) {
		args, err := DecodeArguments(`{"city": "Paris"}`)
		require.NoError(t, err)
		assert.Equal(t, "Paris", args["city"])
	})

	t.Run("empty string decodes to empty object", func(t *testing.T) {
		args, err := DecodeArguments("")
		require.NoError(t, err)
		assert.NotNil(t, args)
		assert.Empty(t, args)
	})

	t.Run("null decodes to empty object", func(t *testing.T) {
		args, err := DecodeArguments("null")
		require.NoError(t, err)
		assert.NotNil(t, args)
	})

	t.Run("non-object is rejected", func(t *testing.T) {
		_, err := DecodeArguments(`[1,2]`)
		assert.Error(t, err)
	})
}
