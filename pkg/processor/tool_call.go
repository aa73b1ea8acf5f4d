package processor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/copilotz/copilotz/pkg/models"
	"github.com/copilotz/copilotz/pkg/tools"
)

// ToolCallProcessor executes one tool call and produces the tool-result
// NEW_MESSAGE. Tool failures are diagnostics the agent sees, not event
// failures; only storage problems fail the event.
type ToolCallProcessor struct{}

func (p *ToolCallProcessor) Type() models.EventType { return models.EventToolCall }

func (p *ToolCallProcessor) ShouldProcess(ctx context.Context, event *models.Event, deps *Deps) bool {
	return deps.Thread == nil || deps.Thread.Status != models.ThreadStatusArchived
}

func (p *ToolCallProcessor) Process(ctx context.Context, event *models.Event, deps *Deps) ([]models.ProducedEvent, error) {
	var payload models.ToolCallPayload
	if err := event.DecodePayload(&payload); err != nil {
		return nil, models.WrapRunError(models.KindInvalidInput, err, "malformed TOOL_CALL payload")
	}
	call := payload.Call
	log := slog.With("component", "tool_call",
		"thread_id", event.ThreadID, "agent", payload.AgentName, "tool", call.Function.Name)

	tool, ok := deps.Tools.Resolve(call.Function.Name)
	if !ok {
		log.Warn("Tool not found", "suggestions", deps.Tools.Suggest(call.Function.Name))
		output := map[string]any{
			"error":          "TOOL_NOT_FOUND",
			"message":        "no tool named " + call.Function.Name + " is registered",
			"availableTools": deps.Tools.Keys(),
		}
		if suggestions := deps.Tools.Suggest(call.Function.Name); len(suggestions) > 0 {
			output["didYouMean"] = suggestions
		}
		return p.resultMessage(event, &payload, output, "failed", false), nil
	}

	args, err := tools.DecodeArguments(call.Function.Arguments)
	if err != nil {
		return p.resultMessage(event, &payload, diagnostic("VALIDATION_ERROR", err), "failed", false), nil
	}
	if err := tools.ValidateInput(tool.InputSchema, args); err != nil {
		log.Debug("Tool arguments failed validation", "error", err)
		return p.resultMessage(event, &payload, diagnostic("VALIDATION_ERROR", err), "failed", false), nil
	}

	output, execErr := tool.Execute(ctx, args, &tools.ExecContext{
		ThreadID:   event.ThreadID,
		AgentName:  payload.AgentName,
		TraceID:    event.TraceID,
		ToolCallID: call.ID,
		Assets:     deps.Assets,
		DB:         deps.DB,
		Runtime:    deps.Runtime,
	})
	if execErr != nil {
		if ctx.Err() != nil {
			return nil, models.WrapRunError(models.KindCancelled, ctx.Err(), "tool call aborted")
		}
		log.Warn("Tool execution failed", "error", execErr)
		return p.resultMessage(event, &payload, diagnostic("EXECUTION_ERROR", execErr), "failed", tool.SuppressFollowUp), nil
	}

	normalized, created, err := deps.Assets.NormalizeValue(ctx, output)
	if err != nil {
		return nil, models.WrapRunError(models.KindStorageError, err, "failed to normalize tool output")
	}
	deps.EmitAssetCreated(event.ThreadID, string(models.SenderTool), call.Function.Name, call.ID, created)

	log.Debug("Tool executed", "suppress_follow_up", tool.SuppressFollowUp)
	return p.resultMessage(event, &payload, normalized, "completed", tool.SuppressFollowUp), nil
}

// resultMessage produces the tool-result NEW_MESSAGE for one executed
// (or failed) call.
func (p *ToolCallProcessor) resultMessage(event *models.Event, payload *models.ToolCallPayload, output any, status string, suppressFollowUp bool) []models.ProducedEvent {
	call := payload.Call
	record := models.ToolCallRecord{
		ID:     call.ID,
		Name:   call.Function.Name,
		Output: output,
		Status: status,
	}
	if strings.TrimSpace(call.Function.Arguments) != "" {
		record.Args = json.RawMessage(call.Function.Arguments)
	}

	content := encodeOutput(output)
	metadata := map[string]any{
		metaToolCalls: []models.ToolCallRecord{record},
		metaAgentName: payload.AgentName,
		"toolCallId":  call.ID,
	}
	if suppressFollowUp {
		metadata[metaSuppressFollowUp] = true
	}

	return []models.ProducedEvent{{
		Spec: models.EventSpec{
			Type: models.EventNewMessage,
			Payload: models.NewMessagePayload{
				Content:  models.TextContent(content),
				Sender:   models.Sender{Type: models.SenderTool, Name: call.Function.Name},
				Metadata: metadata,
			},
			ParentEventID: event.ID,
			TraceID:       event.TraceID,
		},
	}}
}

// diagnostic wraps a tool-side failure as the structured output the
// agent reads on its next turn.
func diagnostic(kind string, err error) map[string]any {
	return map[string]any{"error": kind, "message": err.Error()}
}

// encodeOutput renders the normalized output as the message text.
func encodeOutput(output any) string {
	if output == nil {
		return "null"
	}
	data, err := json.Marshal(output)
	if err != nil {
		return `{"error":"ENCODING_ERROR"}`
	}
	return string(data)
}
