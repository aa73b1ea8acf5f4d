package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copilotz/copilotz/pkg/models"
)

func userMessage(text string) models.NewMessagePayload {
	return models.NewMessagePayload{
		Content: models.TextContent(text),
		Sender:  models.Sender{Type: models.SenderUser, Name: "user"},
	}
}

func TestNewMessage_TwoParticipantFallbackSchedulesTurn(t *testing.T) {
	f := newFixture(t, testAgent("alice"))
	thread := f.thread(t, "user", "alice")
	p := &NewMessageProcessor{}

	event := makeEvent(t, thread.ID, models.EventNewMessage, userMessage("hello there"))
	produced, err := p.Process(context.Background(), event, f.deps)
	require.NoError(t, err)

	require.Len(t, produced, 1)
	assert.Equal(t, models.EventLLMCall, produced[0].Spec.Type)
	assert.Equal(t, event.ID, produced[0].Spec.ParentEventID)
	assert.Equal(t, event.TraceID, produced[0].Spec.TraceID)

	llmPayload, ok := produced[0].Spec.Payload.(*models.LLMCallPayload)
	require.True(t, ok)
	assert.Equal(t, "alice", llmPayload.AgentName)

	// The message was persisted before the turn was scheduled.
	msgs, err := f.deps.Messages.GetThreadMessages(context.Background(), thread.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello there", msgs[0].Content.Flatten())
}

func TestNewMessage_ResponderSelection(t *testing.T) {
	t.Run("three participants without mention pauses", func(t *testing.T) {
		f := newFixture(t, testAgent("alice"), testAgent("bob"))
		thread := f.thread(t, "user", "alice", "bob")
		p := &NewMessageProcessor{}

		produced, err := p.Process(context.Background(),
			makeEvent(t, thread.ID, models.EventNewMessage, userMessage("anyone around?")), f.deps)
		require.NoError(t, err)
		assert.Empty(t, produced)
	})

	t.Run("mention picks the named agent", func(t *testing.T) {
		f := newFixture(t, testAgent("alice"), testAgent("bob"))
		thread := f.thread(t, "user", "alice", "bob")
		p := &NewMessageProcessor{}

		produced, err := p.Process(context.Background(),
			makeEvent(t, thread.ID, models.EventNewMessage, userMessage("@bob take this one")), f.deps)
		require.NoError(t, err)
		require.Len(t, produced, 1)
		payload := produced[0].Spec.Payload.(*models.LLMCallPayload)
		assert.Equal(t, "bob", payload.AgentName)
	})

	t.Run("mention is matched case-insensitively", func(t *testing.T) {
		f := newFixture(t, testAgent("alice"), testAgent("bob"))
		thread := f.thread(t, "user", "alice", "bob")
		p := &NewMessageProcessor{}

		produced, err := p.Process(context.Background(),
			makeEvent(t, thread.ID, models.EventNewMessage, userMessage("@Bob hello")), f.deps)
		require.NoError(t, err)
		require.Len(t, produced, 1)
		assert.Equal(t, "bob", produced[0].Spec.Payload.(*models.LLMCallPayload).AgentName)
	})

	t.Run("agent mention outside its allowlist pauses", func(t *testing.T) {
		f := newFixture(t, testAgent("alice", "carol"), testAgent("bob"))
		thread := f.thread(t, "user", "alice", "bob")
		p := &NewMessageProcessor{}

		payload := models.NewMessagePayload{
			Content: models.TextContent("@bob can you check?"),
			Sender:  models.Sender{Type: models.SenderAgent, Name: "alice"},
		}
		produced, err := p.Process(context.Background(),
			makeEvent(t, thread.ID, models.EventNewMessage, payload), f.deps)
		require.NoError(t, err)
		assert.Empty(t, produced)
	})

	t.Run("agent mention inside its allowlist responds", func(t *testing.T) {
		f := newFixture(t, testAgent("alice", "bob"), testAgent("bob"))
		thread := f.thread(t, "user", "alice", "bob")
		p := &NewMessageProcessor{}

		payload := models.NewMessagePayload{
			Content: models.TextContent("@bob can you check?"),
			Sender:  models.Sender{Type: models.SenderAgent, Name: "alice"},
		}
		produced, err := p.Process(context.Background(),
			makeEvent(t, thread.ID, models.EventNewMessage, payload), f.deps)
		require.NoError(t, err)
		require.Len(t, produced, 1)
		assert.Equal(t, "bob", produced[0].Spec.Payload.(*models.LLMCallPayload).AgentName)
	})

	t.Run("mentioning a human participant pauses", func(t *testing.T) {
		f := newFixture(t, testAgent("alice"))
		thread := f.thread(t, "user", "dave", "alice")
		p := &NewMessageProcessor{}

		produced, err := p.Process(context.Background(),
			makeEvent(t, thread.ID, models.EventNewMessage, userMessage("@dave what do you think?")), f.deps)
		require.NoError(t, err)
		assert.Empty(t, produced)
	})
}

func TestNewMessage_ToolResultRouting(t *testing.T) {
	toolResult := func(metadata map[string]any) models.NewMessagePayload {
		return models.NewMessagePayload{
			Content:  models.TextContent(`{"ok":true}`),
			Sender:   models.Sender{Type: models.SenderTool, Name: "get_current_time"},
			Metadata: metadata,
		}
	}

	t.Run("routes back to the calling agent", func(t *testing.T) {
		f := newFixture(t, testAgent("alice"))
		thread := f.thread(t, "user", "alice")
		p := &NewMessageProcessor{}

		produced, err := p.Process(context.Background(),
			makeEvent(t, thread.ID, models.EventNewMessage,
				toolResult(map[string]any{"agentName": "alice", "toolCallId": "call_1"})), f.deps)
		require.NoError(t, err)
		require.Len(t, produced, 1)
		assert.Equal(t, models.EventLLMCall, produced[0].Spec.Type)
		assert.Equal(t, "alice", produced[0].Spec.Payload.(*models.LLMCallPayload).AgentName)
	})

	t.Run("suppressed follow-up pauses", func(t *testing.T) {
		f := newFixture(t, testAgent("alice"))
		thread := f.thread(t, "user", "alice")
		p := &NewMessageProcessor{}

		produced, err := p.Process(context.Background(),
			makeEvent(t, thread.ID, models.EventNewMessage,
				toolResult(map[string]any{"agentName": "alice", "suppressFollowUp": true})), f.deps)
		require.NoError(t, err)
		assert.Empty(t, produced)
	})

	t.Run("missing agent metadata pauses", func(t *testing.T) {
		f := newFixture(t, testAgent("alice"))
		thread := f.thread(t, "user", "alice")
		p := &NewMessageProcessor{}

		produced, err := p.Process(context.Background(),
			makeEvent(t, thread.ID, models.EventNewMessage, toolResult(nil)), f.deps)
		require.NoError(t, err)
		assert.Empty(t, produced)
	})
}

func TestNewMessage_FanOutToolCalls(t *testing.T) {
	f := newFixture(t, testAgent("alice"))
	thread := f.thread(t, "user", "alice")
	p := &NewMessageProcessor{}

	payload := models.NewMessagePayload{
		Content: models.TextContent("let me check"),
		Sender:  models.Sender{Type: models.SenderAgent, Name: "alice"},
		ToolCalls: []models.ToolCall{
			{Function: models.FunctionCall{Name: "get_current_time", Arguments: "{}"}},
			{ID: "call_weather", Function: models.FunctionCall{Name: "get_weather", Arguments: `{"city":"Lisbon"}`}},
		},
	}
	produced, err := p.Process(context.Background(),
		makeEvent(t, thread.ID, models.EventNewMessage, payload), f.deps)
	require.NoError(t, err)
	require.Len(t, produced, 2)

	first := produced[0].Spec.Payload.(models.ToolCallPayload)
	assert.Equal(t, models.EventToolCall, produced[0].Spec.Type)
	assert.Equal(t, "get_current_time_0", first.Call.ID)
	assert.Equal(t, "alice", first.AgentName)
	assert.Equal(t, models.SenderAgent, first.SenderType)

	second := produced[1].Spec.Payload.(models.ToolCallPayload)
	assert.Equal(t, "call_weather", second.Call.ID)
	assert.Equal(t, "get_weather", second.Call.Function.Name)
}

func TestNewMessage_SenderJoinsParticipants(t *testing.T) {
	f := newFixture(t, testAgent("alice"))
	thread := f.thread(t, "user", "alice")
	p := &NewMessageProcessor{}

	payload := models.NewMessagePayload{
		Content: models.TextContent("hi all"),
		Sender:  models.Sender{Type: models.SenderUser, Name: "newcomer"},
	}
	_, err := p.Process(context.Background(),
		makeEvent(t, thread.ID, models.EventNewMessage, payload), f.deps)
	require.NoError(t, err)

	updated, err := f.deps.Threads.GetThread(context.Background(), thread.ID)
	require.NoError(t, err)
	assert.True(t, updated.HasParticipant("newcomer"))
}

func TestNewMessage_EmptyMessageIsInvalid(t *testing.T) {
	f := newFixture(t, testAgent("alice"))
	thread := f.thread(t, "user", "alice")
	p := &NewMessageProcessor{}

	payload := models.NewMessagePayload{
		Sender: models.Sender{Type: models.SenderUser, Name: "user"},
	}
	_, err := p.Process(context.Background(),
		makeEvent(t, thread.ID, models.EventNewMessage, payload), f.deps)
	require.Error(t, err)
	assert.Equal(t, models.KindInvalidInput, models.KindOf(err))
}

func TestNewMessage_ArchivedThreadIsSkipped(t *testing.T) {
	f := newFixture(t, testAgent("alice"))
	thread := f.thread(t, "user", "alice")
	p := &NewMessageProcessor{}

	require.NoError(t, f.deps.Threads.ArchiveThread(context.Background(), thread.ID, ""))
	archived, err := f.deps.Threads.GetThread(context.Background(), thread.ID)
	require.NoError(t, err)
	f.deps.Thread = archived

	event := makeEvent(t, thread.ID, models.EventNewMessage, userMessage("too late"))
	assert.False(t, p.ShouldProcess(context.Background(), event, f.deps))
}
