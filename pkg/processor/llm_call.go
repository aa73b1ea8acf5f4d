package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/copilotz/copilotz/pkg/llm"
	"github.com/copilotz/copilotz/pkg/models"
)

// LLMCallProcessor runs one provider streaming request, relays visible
// tokens to the run handle, and turns the full response into exactly one
// agent NEW_MESSAGE.
type LLMCallProcessor struct{}

func (p *LLMCallProcessor) Type() models.EventType { return models.EventLLMCall }

// ShouldProcess skips turns for archived threads; a concurrent
// end_thread may archive between enqueue and dequeue.
func (p *LLMCallProcessor) ShouldProcess(ctx context.Context, event *models.Event, deps *Deps) bool {
	return deps.Thread == nil || deps.Thread.Status != models.ThreadStatusArchived
}

func (p *LLMCallProcessor) Process(ctx context.Context, event *models.Event, deps *Deps) ([]models.ProducedEvent, error) {
	var payload models.LLMCallPayload
	if err := event.DecodePayload(&payload); err != nil {
		return nil, models.WrapRunError(models.KindInvalidInput, err, "malformed LLM_CALL payload")
	}
	log := slog.With("component", "llm_call",
		"thread_id", event.ThreadID, "agent", payload.AgentName,
		"provider", payload.Config.Provider, "model", payload.Config.Model)

	client, ok := deps.LLM.Get(payload.Config.Provider)
	if !ok {
		return nil, models.NewRunError(models.KindProviderError, "no client for provider %q", payload.Config.Provider).
			WithMeta("provider", string(payload.Config.Provider)).
			WithMeta("model", payload.Config.Model)
	}

	messages := payload.Messages
	if budget := payload.Config.MaxHistoryTokens; budget > 0 {
		counter, err := llm.NewTokenCounter(payload.Config.Model)
		if err == nil {
			messages = counter.TruncateHistory(messages, budget)
		} else {
			log.Warn("Token counter unavailable, history not truncated", "error", err)
		}
	}

	stream, err := client.Stream(ctx, &llm.Request{
		Model:    payload.Config.Model,
		Messages: messages,
		Tools:    payload.Tools,
		Config:   payload.Config,
	})
	if err != nil {
		return nil, p.providerFailure(ctx, &payload, err)
	}

	filter := llm.NewStreamFilter()
	resp, err := llm.Collect(stream, filter, func(delta string) {
		deps.EmitToken(event.ThreadID, payload.AgentName, delta, false)
	})
	if err != nil {
		return nil, p.providerFailure(ctx, &payload, err)
	}
	deps.EmitToken(event.ThreadID, payload.AgentName, "", true)

	parsed := llm.ParseResponse(resp.Raw)
	toolCalls := mergeToolCalls(resp.ToolCalls, parsed.ToolCalls)

	metadata := map[string]any{}
	if parsed.ParseError != "" {
		// The malformed block already vanished from the visible text;
		// record it so the agent sees the feedback on its next turn.
		metadata["parseError"] = parsed.ParseError
		toolCalls = nil
		log.Warn("Tool call block failed to parse", "error", parsed.ParseError)
	}
	if resp.Usage != nil {
		metadata["usage"] = resp.Usage
	}

	msgPayload := models.NewMessagePayload{
		Content:   models.TextContent(parsed.Visible),
		Sender:    models.Sender{Type: models.SenderAgent, ID: payload.AgentID, Name: payload.AgentName},
		ToolCalls: toolCalls,
	}
	if len(metadata) > 0 {
		msgPayload.Metadata = metadata
	}

	log.Debug("LLM call completed", "visible_chars", len(parsed.Visible), "tool_calls", len(toolCalls))
	return []models.ProducedEvent{{
		Spec: models.EventSpec{
			Type:          models.EventNewMessage,
			Payload:       msgPayload,
			ParentEventID: event.ID,
			TraceID:       event.TraceID,
		},
	}}, nil
}

// providerFailure classifies a failed call as cancellation or provider
// error, tagging provider and model for the run handle.
func (p *LLMCallProcessor) providerFailure(ctx context.Context, payload *models.LLMCallPayload, err error) error {
	if ctx.Err() != nil {
		return models.WrapRunError(models.KindCancelled, ctx.Err(), "LLM call aborted")
	}
	if models.KindOf(err) != "" {
		return err
	}
	return models.WrapRunError(models.KindProviderError, err, "provider call failed").
		WithMeta("provider", string(payload.Config.Provider)).
		WithMeta("model", payload.Config.Model)
}

// mergeToolCalls combines native structured calls with calls parsed from
// the inline text protocol, assigning synthetic ids where the provider
// omitted them.
func mergeToolCalls(native, parsed []models.ToolCall) []models.ToolCall {
	merged := make([]models.ToolCall, 0, len(native)+len(parsed))
	merged = append(merged, native...)
	merged = append(merged, parsed...)
	for i := range merged {
		if merged[i].ID == "" {
			merged[i].ID = fmt.Sprintf("%s_%d", merged[i].Function.Name, i)
		}
	}
	return merged
}
