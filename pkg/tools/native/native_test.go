package native

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copilotz/copilotz/pkg/tools"
)

func findTool(t *testing.T, cfg Config, key string) *tools.Tool {
	t.Helper()
	for _, tool := range All(cfg) {
		if tool.Key == key {
			return tool
		}
	}
	t.Fatalf("tool %s not registered", key)
	return nil
}

func TestAll(t *testing.T) {
	t.Run("full builtin set is present", func(t *testing.T) {
		keys := map[string]bool{}
		for _, tool := range All(Config{EnableCommands: true}) {
			keys[tool.Key] = true
		}
		for _, want := range []string{
			"get_current_time", "wait", "verbal_pause",
			"http_request", "fetch_text",
			"read_file", "write_file", "list_directory", "search_files",
			"run_command",
			"ask_question", "create_thread", "end_thread", "create_task",
		} {
			assert.True(t, keys[want], "missing %s", want)
		}
	})

	t.Run("run_command is off by default", func(t *testing.T) {
		for _, tool := range All(Config{}) {
			assert.NotEqual(t, "run_command", tool.Key)
		}
	})

	t.Run("schemas are valid object schemas", func(t *testing.T) {
		for _, tool := range All(Config{EnableCommands: true}) {
			if len(tool.InputSchema) == 0 {
				continue
			}
			var schema map[string]any
			require.NoError(t, json.Unmarshal(tool.InputSchema, &schema), tool.Key)
			assert.Equal(t, "object", schema["type"], tool.Key)
		}
	})
}

func TestGetCurrentTime(t *testing.T) {
	tool := findTool(t, Config{}, "get_current_time")

	t.Run("defaults to UTC", func(t *testing.T) {
		out, err := tool.Execute(context.Background(), nil, nil)
		require.NoError(t, err)
		result := out.(map[string]any)
		assert.Equal(t, "UTC", result["timezone"])
		assert.NotEmpty(t, result["iso"])
	})

	t.Run("honors a named timezone", func(t *testing.T) {
		out, err := tool.Execute(context.Background(), map[string]any{"timezone": "Europe/Lisbon"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "Europe/Lisbon", out.(map[string]any)["timezone"])
	})

	t.Run("rejects an unknown timezone", func(t *testing.T) {
		_, err := tool.Execute(context.Background(), map[string]any{"timezone": "Mars/Olympus"}, nil)
		assert.Error(t, err)
	})
}

func TestWait(t *testing.T) {
	tool := findTool(t, Config{}, "wait")

	t.Run("waits and reports the duration", func(t *testing.T) {
		out, err := tool.Execute(context.Background(), map[string]any{"durationMs": float64(5)}, nil)
		require.NoError(t, err)
		assert.Equal(t, 5, out.(map[string]any)["waitedMs"])
	})

	t.Run("cancellation interrupts the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := tool.Execute(ctx, map[string]any{"durationMs": float64(60000)}, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("negative duration is rejected", func(t *testing.T) {
		_, err := tool.Execute(context.Background(), map[string]any{"durationMs": float64(-1)}, nil)
		assert.Error(t, err)
	})
}

func TestVerbalPause(t *testing.T) {
	tool := findTool(t, Config{}, "verbal_pause")
	assert.True(t, tool.SuppressFollowUp)

	out, err := tool.Execute(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "paused", out.(map[string]any)["status"])
}
