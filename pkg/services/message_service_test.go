package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copilotz/copilotz/pkg/models"
)

func TestMessageService_CreateAndGet(t *testing.T) {
	svc := NewMessageService(newTestClient(t))
	ctx := context.Background()

	created, err := svc.CreateMessage(ctx, CreateMessageRequest{
		ThreadID:   "thread-1",
		SenderID:   "helper",
		SenderType: models.SenderAgent,
		Content:    models.TextContent("hello"),
		Metadata:   map[string]any{"agentName": "helper"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := svc.GetMessage(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content.Text)
	assert.Equal(t, models.SenderAgent, got.SenderType)
	assert.Equal(t, "helper", got.Metadata["agentName"])
}

func TestMessageService_CreateValidation(t *testing.T) {
	svc := NewMessageService(newTestClient(t))
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateMessageRequest
	}{
		{"missing thread", CreateMessageRequest{
			SenderType: models.SenderUser, Content: models.TextContent("x"),
		}},
		{"unknown sender type", CreateMessageRequest{
			ThreadID: "t", SenderType: "robot", Content: models.TextContent("x"),
		}},
		{"no content or tool calls", CreateMessageRequest{
			ThreadID: "t", SenderType: models.SenderUser,
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateMessage(ctx, tc.req)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestMessageService_ToolCallMessage(t *testing.T) {
	svc := NewMessageService(newTestClient(t))
	ctx := context.Background()

	created, err := svc.CreateMessage(ctx, CreateMessageRequest{
		ThreadID:   "thread-1",
		SenderID:   "get_current_time",
		SenderType: models.SenderTool,
		ToolCallID: "get_current_time_0",
		Content:    models.TextContent(`{"iso":"2026-08-26T12:00:00Z"}`),
		ToolCalls: []models.ToolCall{{
			ID:       "get_current_time_0",
			Function: models.FunctionCall{Name: "get_current_time", Arguments: "{}"},
		}},
	})
	require.NoError(t, err)

	got, err := svc.GetMessage(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, got.ToolCalls, 1)
	assert.Equal(t, "get_current_time", got.ToolCalls[0].Function.Name)
	assert.Equal(t, "get_current_time_0", got.ToolCallID)
}

func TestMessageService_ThreadHistoryOrderAndWindow(t *testing.T) {
	svc := NewMessageService(newTestClient(t))
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three", "four"} {
		_, err := svc.CreateMessage(ctx, CreateMessageRequest{
			ThreadID:   "thread-1",
			SenderID:   "user",
			SenderType: models.SenderUser,
			Content:    models.TextContent(text),
		})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	all, err := svc.GetThreadMessages(ctx, "thread-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "one", all[0].Content.Text)
	assert.Equal(t, "four", all[3].Content.Text)

	recent, err := svc.GetRecentMessages(ctx, "thread-1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	// Newest window, oldest of the window first.
	assert.Equal(t, "three", recent[0].Content.Text)
	assert.Equal(t, "four", recent[1].Content.Text)
}
