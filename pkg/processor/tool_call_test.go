package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copilotz/copilotz/pkg/models"
	"github.com/copilotz/copilotz/pkg/tools"
)

func toolCallEvent(t *testing.T, threadID, agent, name, id, arguments string) *models.Event {
	t.Helper()
	return makeEvent(t, threadID, models.EventToolCall, models.ToolCallPayload{
		AgentName:  agent,
		SenderType: models.SenderAgent,
		Call: models.ToolCall{
			ID:       id,
			Function: models.FunctionCall{Name: name, Arguments: arguments},
		},
	})
}

// resultRecord unwraps the single tool-call record off a produced
// tool-result message.
func resultRecord(t *testing.T, produced []models.ProducedEvent) (models.NewMessagePayload, models.ToolCallRecord) {
	t.Helper()
	require.Len(t, produced, 1)
	require.Equal(t, models.EventNewMessage, produced[0].Spec.Type)
	msg := produced[0].Spec.Payload.(models.NewMessagePayload)
	records, ok := msg.Metadata["toolCalls"].([]models.ToolCallRecord)
	require.True(t, ok)
	require.Len(t, records, 1)
	return msg, records[0]
}

func TestToolCall_ExecutesAndProducesResultMessage(t *testing.T) {
	f := newFixture(t, testAgent("alice"))
	thread := f.thread(t, "user", "alice")
	p := &ToolCallProcessor{}

	f.deps.Tools.RegisterUser(&tools.Tool{
		Key: "get_weather",
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) {
			assert.Equal(t, thread.ID, ec.ThreadID)
			assert.Equal(t, "alice", ec.AgentName)
			return map[string]any{"city": args["city"], "tempC": float64(21)}, nil
		},
	})

	produced, err := p.Process(context.Background(),
		toolCallEvent(t, thread.ID, "alice", "get_weather", "call_1", `{"city":"Lisbon"}`), f.deps)
	require.NoError(t, err)

	msg, record := resultRecord(t, produced)
	assert.Equal(t, models.SenderTool, msg.Sender.Type)
	assert.Equal(t, "get_weather", msg.Sender.Name)
	assert.Equal(t, "alice", msg.Metadata["agentName"])
	assert.Equal(t, "call_1", msg.Metadata["toolCallId"])
	assert.NotContains(t, msg.Metadata, "suppressFollowUp")

	assert.Equal(t, "completed", record.Status)
	assert.Equal(t, "call_1", record.ID)
	assert.JSONEq(t, `{"city":"Lisbon"}`, string(record.Args))

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.Content.Flatten()), &body))
	assert.Equal(t, "Lisbon", body["city"])
}

func TestToolCall_UnknownToolReturnsDiagnostic(t *testing.T) {
	f := newFixture(t, testAgent("alice"))
	thread := f.thread(t, "user", "alice")
	p := &ToolCallProcessor{}

	f.deps.Tools.RegisterUser(&tools.Tool{
		Key:     "get_weather",
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) { return nil, nil },
	})

	produced, err := p.Process(context.Background(),
		toolCallEvent(t, thread.ID, "alice", "get_wether", "call_1", "{}"), f.deps)
	require.NoError(t, err)

	_, record := resultRecord(t, produced)
	assert.Equal(t, "failed", record.Status)
	output := record.Output.(map[string]any)
	assert.Equal(t, "TOOL_NOT_FOUND", output["error"])
	assert.Contains(t, output["availableTools"], "get_weather")
	assert.Contains(t, output["didYouMean"], "get_weather")
}

func TestToolCall_InvalidArgumentsAreADiagnostic(t *testing.T) {
	f := newFixture(t, testAgent("alice"))
	thread := f.thread(t, "user", "alice")
	p := &ToolCallProcessor{}

	f.deps.Tools.RegisterUser(&tools.Tool{
		Key:         "get_weather",
		InputSchema: json.RawMessage(`{"type":"object","required":["city"],"properties":{"city":{"type":"string"}}}`),
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) {
			return nil, errors.New("tool must not run on invalid arguments")
		},
	})

	t.Run("malformed JSON", func(t *testing.T) {
		produced, err := p.Process(context.Background(),
			toolCallEvent(t, thread.ID, "alice", "get_weather", "call_1", "{not json"), f.deps)
		require.NoError(t, err)
		_, record := resultRecord(t, produced)
		assert.Equal(t, "failed", record.Status)
		assert.Equal(t, "VALIDATION_ERROR", record.Output.(map[string]any)["error"])
	})

	t.Run("schema violation", func(t *testing.T) {
		produced, err := p.Process(context.Background(),
			toolCallEvent(t, thread.ID, "alice", "get_weather", "call_2", "{}"), f.deps)
		require.NoError(t, err)
		_, record := resultRecord(t, produced)
		assert.Equal(t, "failed", record.Status)
		assert.Equal(t, "VALIDATION_ERROR", record.Output.(map[string]any)["error"])
	})
}

func TestToolCall_ExecutionFailureIsADiagnostic(t *testing.T) {
	f := newFixture(t, testAgent("alice"))
	thread := f.thread(t, "user", "alice")
	p := &ToolCallProcessor{}

	f.deps.Tools.RegisterUser(&tools.Tool{
		Key: "flaky",
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) {
			return nil, errors.New("upstream timed out")
		},
	})

	produced, err := p.Process(context.Background(),
		toolCallEvent(t, thread.ID, "alice", "flaky", "call_1", "{}"), f.deps)
	require.NoError(t, err)

	_, record := resultRecord(t, produced)
	assert.Equal(t, "failed", record.Status)
	output := record.Output.(map[string]any)
	assert.Equal(t, "EXECUTION_ERROR", output["error"])
	assert.Contains(t, output["message"], "upstream timed out")
}

func TestToolCall_SuppressFollowUpPropagates(t *testing.T) {
	f := newFixture(t, testAgent("alice"))
	thread := f.thread(t, "user", "alice")
	p := &ToolCallProcessor{}

	f.deps.Tools.RegisterUser(&tools.Tool{
		Key:              "verbal_pause",
		SuppressFollowUp: true,
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) {
			return map[string]any{"paused": true}, nil
		},
	})

	produced, err := p.Process(context.Background(),
		toolCallEvent(t, thread.ID, "alice", "verbal_pause", "call_1", "{}"), f.deps)
	require.NoError(t, err)

	msg, record := resultRecord(t, produced)
	assert.Equal(t, "completed", record.Status)
	suppressed, _ := msg.Metadata["suppressFollowUp"].(bool)
	assert.True(t, suppressed)
}

func TestToolCall_BinaryOutputBecomesAsset(t *testing.T) {
	f := newFixture(t, testAgent("alice"))
	thread := f.thread(t, "user", "alice")
	p := &ToolCallProcessor{}

	f.deps.Tools.RegisterUser(&tools.Tool{
		Key: "render_chart",
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) {
			return map[string]any{"mimeType": "image/png", "dataBase64": tinyChartPNG}, nil
		},
	})

	produced, err := p.Process(context.Background(),
		toolCallEvent(t, thread.ID, "alice", "render_chart", "call_1", "{}"), f.deps)
	require.NoError(t, err)

	_, record := resultRecord(t, produced)
	output := record.Output.(map[string]any)
	assert.Contains(t, output["assetRef"], models.AssetURIScheme)
	assert.NotContains(t, output, "dataBase64")

	// The stored asset is announced on the stream.
	var announced int
	for _, e := range f.emitted {
		if e.Type == models.EventAssetCreated {
			announced++
			var p models.AssetCreatedPayload
			require.NoError(t, e.DecodePayload(&p))
			assert.Equal(t, "render_chart", p.Tool)
			assert.Equal(t, "call_1", p.ToolCallID)
		}
	}
	assert.Equal(t, 1, announced)
}
